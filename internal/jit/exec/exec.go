// Package exec runs a compiled trace and handles deoptimization back to
// the interpreter when a guard fails. Calling into the generated machine
// code is done the same way the reference scm-jit-style hand-rolled Go
// JITs in the wild do it: the entry byte is reinterpreted as a Go
// function value of a fixed signature via unsafe.Pointer, since Go has
// no supported way to call a raw code pointer directly.
package exec

import (
	"unsafe"

	"gvmjit/internal/jit/codegen"
	"gvmjit/internal/jit/ir"
)

// compiledTrace is the calling convention every backend's generated code
// must honor: it receives the locals-base and globals-base pointers (int64
// copies of the slices VM.LocalsBase/GlobalsBase expose, made by the jit
// package's Engine before each call) and returns the
// index of the snapshot it exited through.
type compiledTrace func(localsBase, globalsBase unsafe.Pointer) int64

// Trace is a compiled, installed hot loop: its native entry point plus
// enough bookkeeping to decide whether it's still worth invoking.
type Trace struct {
	buf   *ir.Buffer
	entry compiledTrace
	code  *codegen.CodeBuffer

	invocations int64
	bailouts    int64
}

// maxBailoutRatio is the fraction of invocations allowed to immediately
// hit a guard and bail before Invalidated reports the trace isn't
// earning its keep anymore (spec's "a trace that degrades into
// constantly deoptimizing should stop being used" requirement).
const maxBailoutRatio = 0.5

// minSamplesBeforeEviction avoids evicting a trace after one or two
// unlucky early exits before it has a representative sample.
const minSamplesBeforeEviction = 8

// New wraps a finalized CodeBuffer entry point as a callable Trace for
// buf.
func New(buf *ir.Buffer, code *codegen.CodeBuffer, entryOffset int) *Trace {
	entryPtr := code.EntryPoint(entryOffset)
	fn := *(*compiledTrace)(unsafe.Pointer(&entryPtr))
	return &Trace{buf: buf, entry: fn, code: code}
}

// Result describes how a trace invocation ended: which snapshot it exited
// through (to resume the interpreter from the right bytecode offset), and
// which local/global slots the trace actually bound at that point. Only
// those slots are safe to copy back into the VM's frame - anything else
// in LiveLocals/LiveGlobals is -1 and must be left alone by the caller.
type Result struct {
	SnapshotIndex int32
	ResumeOffset  int
	LiveLocals    []ir.VReg
	LiveGlobals   []ir.VReg
}

// Invoke runs the compiled trace once (it loops internally on the native
// side until a guard fails or the loop's own exit condition is hit), then
// reconstructs which snapshot it left through.
func (t *Trace) Invoke(localsBase, globalsBase []int64) Result {
	t.invocations++

	var lp, gp unsafe.Pointer
	if len(localsBase) > 0 {
		lp = unsafe.Pointer(&localsBase[0])
	}
	if len(globalsBase) > 0 {
		gp = unsafe.Pointer(&globalsBase[0])
	}

	snapIdx := t.entry(lp, gp)

	snap := t.buf.Snapshots[snapIdx]
	if int(snapIdx) != len(t.buf.Snapshots)-1 {
		// Anything but the trace's own tail side-exit is a guard bailout.
		t.bailouts++
	}

	return Result{
		SnapshotIndex: int32(snapIdx),
		ResumeOffset:  snap.ResumeOffset,
		LiveLocals:    snap.LocalVRegs,
		LiveGlobals:   snap.GlobalVRegs,
	}
}

// Invalidated reports whether this trace has bailed out often enough,
// relative to how many times it's been invoked, that the caller should
// stop using it and fall back to pure interpretation for this loop.
func (t *Trace) Invalidated() bool {
	if t.invocations < minSamplesBeforeEviction {
		return false
	}
	return float64(t.bailouts)/float64(t.invocations) > maxBailoutRatio
}

// Close releases the trace's executable memory.
func (t *Trace) Close() error {
	return t.code.Close()
}

// TailSnapshot is the index of the snapshot that represents falling
// through the trace's own loop-back edge, as opposed to bailing out
// through one of the guards recorded earlier in the trace.
func (t *Trace) TailSnapshot() int32 {
	return int32(len(t.buf.Snapshots) - 1)
}
