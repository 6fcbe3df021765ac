// Package regalloc assigns the vregs of a recorded trace to a small bank
// of physical integer registers using linear scan over each vreg's
// [def, last-use] live interval, spilling the interval with the furthest
// next use when the bank is exhausted (Chaitin-Briggs' "furthest use"
// heuristic, the standard choice for linear-scan allocators working over
// a single basic block the way a trace always is).
package regalloc

import (
	"sort"

	"gvmjit/internal/jit/ir"
)

// PhysReg is an index into the architecture's usable integer register
// bank, resolved to a concrete machine register name by codegen.
type PhysReg int8

// NoReg marks a vreg that never made it into a physical register.
const NoReg PhysReg = -1

// Assignment is the allocator's output: a physical register (or a spill
// slot) per vreg.
type Assignment struct {
	Reg       PhysReg // NoReg if spilled
	SpillSlot int     // valid only if Reg == NoReg
}

type interval struct {
	vreg        ir.VReg
	start, end  int
}

// Allocate computes a register assignment for every vreg referenced by
// buf, given the number of physical registers the target backend makes
// available (spec §5: "the register allocator does not need to handle
// an unbounded register file; amd64 and arm64 each expose a small fixed
// integer bank after reserving registers for the VM's own locals-base,
// globals-base, and stack pointers").
func Allocate(buf *ir.Buffer, numPhysRegs int) []Assignment {
	n := buf.Len()
	intervals := computeLiveIntervals(buf)

	assignments := make([]Assignment, n)
	for i := range assignments {
		assignments[i].Reg = NoReg
	}

	sort.Slice(intervals, func(i, j int) bool { return intervals[i].start < intervals[j].start })

	active := make([]interval, 0, numPhysRegs)
	freeRegs := make([]PhysReg, numPhysRegs)
	for i := range freeRegs {
		freeRegs[i] = PhysReg(i)
	}
	nextSpillSlot := 0

	for _, cur := range intervals {
		// Expire intervals that ended before cur starts, returning their
		// register to the free pool.
		stillActive := active[:0]
		for _, a := range active {
			if a.end < cur.start {
				freeRegs = append(freeRegs, assignments[a.vreg].Reg)
			} else {
				stillActive = append(stillActive, a)
			}
		}
		active = stillActive

		if len(freeRegs) > 0 {
			reg := freeRegs[len(freeRegs)-1]
			freeRegs = freeRegs[:len(freeRegs)-1]
			assignments[cur.vreg] = Assignment{Reg: reg}
			active = append(active, cur)
			continue
		}

		// Spill the active interval with the furthest end point if it
		// extends later than cur - this frees a register for cur, which
		// is the textbook linear-scan spill choice (Poletto & Sarkar).
		furthestIdx := -1
		for i, a := range active {
			if furthestIdx == -1 || a.end > active[furthestIdx].end {
				furthestIdx = i
			}
		}
		if furthestIdx >= 0 && active[furthestIdx].end > cur.end {
			spilled := active[furthestIdx]
			assignments[cur.vreg] = assignments[spilled.vreg]
			assignments[spilled.vreg] = Assignment{Reg: NoReg, SpillSlot: nextSpillSlot}
			nextSpillSlot++
			active[furthestIdx] = cur
		} else {
			assignments[cur.vreg] = Assignment{Reg: NoReg, SpillSlot: nextSpillSlot}
			nextSpillSlot++
		}
	}

	return assignments
}

// computeLiveIntervals derives [def, last-use] ranges directly from
// instruction position, since a trace is one straight-line block: no
// control-flow merges mean no need for a full dataflow liveness pass.
func computeLiveIntervals(buf *ir.Buffer) []interval {
	starts := make([]int, buf.Len())
	ends := make([]int, buf.Len())
	for i := range starts {
		starts[i] = i
		ends[i] = i
	}

	for i, inst := range buf.Insts {
		if inst.A >= 0 && int(inst.A) < len(ends) && i > ends[inst.A] {
			ends[inst.A] = i
		}
		if inst.B >= 0 && int(inst.B) < len(ends) && i > ends[inst.B] {
			ends[inst.B] = i
		}
	}

	out := make([]interval, buf.Len())
	for i := range out {
		out[i] = interval{vreg: ir.VReg(i), start: starts[i], end: ends[i]}
	}
	return out
}
