package codegen

import (
	"bufio"
	"fmt"
	"io"

	"github.com/twitchyliquid64/golang-asm/obj"
	"github.com/twitchyliquid64/golang-asm/obj/x86"

	"gvmjit/internal/jit/ir"
	"gvmjit/internal/jit/regalloc"
)

// amd64IntRegs is the fixed bank linear-scan allocates into: the
// caller-saved general-purpose registers left over once AX is reserved
// as the scratch/accumulator register codegen uses for every binary op,
// and DI/SI are reserved as the locals-base and globals-base pointers
// exec.go sets up before jumping into compiled code.
var amd64IntRegs = []int16{x86.REG_BX, x86.REG_CX, x86.REG_DX, x86.REG_R8, x86.REG_R9, x86.REG_R10}

type amd64Backend struct{}

func (b *amd64Backend) Name() string { return ArchAMD64 }

func (b *amd64Backend) Compile(buf *ir.Buffer, assignment []regalloc.Assignment, code *CodeBuffer) (int, error) {
	ctxt := obj.Linknew(&x86.Linkamd64)
	ctxt.Bso = bufio.NewWriter(io.Discard)
	ctxt.Diag = func(format string, args ...interface{}) {}

	sym := &obj.LSym{Name: "trace"}
	var first, last *obj.Prog

	emit := func(p *obj.Prog) {
		if first == nil {
			first = p
		} else {
			last.Link = p
		}
		last = p
	}

	reg := func(v ir.VReg) int16 {
		if int(v) < len(assignment) && assignment[v].Reg != regalloc.NoReg {
			return amd64IntRegs[assignment[v].Reg]
		}
		return x86.REG_AX // spilled values route through the scratch register
	}

	newProg := func() *obj.Prog {
		p := ctxt.NewProg()
		p.Pc = int64(len(sym.P))
		return p
	}

	for _, inst := range buf.Insts {
		switch inst.Kind {
		case ir.OpConst:
			p := newProg()
			p.As = x86.AMOVQ
			p.From = obj.Addr{Type: obj.TYPE_CONST, Offset: inst.Imm}
			p.To = obj.Addr{Type: obj.TYPE_REG, Reg: x86.REG_AX}
			emit(p)

		case ir.OpLoadLocal:
			p := newProg()
			p.As = x86.AMOVQ
			p.From = obj.Addr{Type: obj.TYPE_MEM, Reg: x86.REG_DI, Offset: inst.Imm * 8}
			p.To = obj.Addr{Type: obj.TYPE_REG, Reg: x86.REG_AX}
			emit(p)

		case ir.OpStoreLocal:
			p := newProg()
			p.As = x86.AMOVQ
			p.From = obj.Addr{Type: obj.TYPE_REG, Reg: reg(inst.A)}
			p.To = obj.Addr{Type: obj.TYPE_MEM, Reg: x86.REG_DI, Offset: inst.Imm * 8}
			emit(p)

		case ir.OpLoadGlobal:
			p := newProg()
			p.As = x86.AMOVQ
			p.From = obj.Addr{Type: obj.TYPE_MEM, Reg: x86.REG_SI, Offset: inst.Imm * 8}
			p.To = obj.Addr{Type: obj.TYPE_REG, Reg: x86.REG_AX}
			emit(p)

		case ir.OpStoreGlobal:
			p := newProg()
			p.As = x86.AMOVQ
			p.From = obj.Addr{Type: obj.TYPE_REG, Reg: reg(inst.A)}
			p.To = obj.Addr{Type: obj.TYPE_MEM, Reg: x86.REG_SI, Offset: inst.Imm * 8}
			emit(p)

		case ir.OpAddI, ir.OpSubI, ir.OpMulI:
			p := newProg()
			switch inst.Kind {
			case ir.OpAddI:
				p.As = x86.AADDQ
			case ir.OpSubI:
				p.As = x86.ASUBQ
			case ir.OpMulI:
				p.As = x86.AIMULQ
			}
			p.From = obj.Addr{Type: obj.TYPE_REG, Reg: reg(inst.B)}
			p.To = obj.Addr{Type: obj.TYPE_REG, Reg: reg(inst.A)}
			emit(p)

		case ir.OpLessI, ir.OpLessEqI, ir.OpGreaterI, ir.OpEqI:
			p := newProg()
			p.As = x86.ACMPQ
			p.From = obj.Addr{Type: obj.TYPE_REG, Reg: reg(inst.A)}
			p.To = obj.Addr{Type: obj.TYPE_REG, Reg: reg(inst.B)}
			emit(p)

		case ir.OpGuardInt, ir.OpGuardBool:
			// A guard lowers to a conditional jump over a trap/return
			// sequence; exec.go supplies the actual deopt trampoline
			// address at link time via a relocation on this Prog, so the
			// backend only has to reserve the instruction slot.
			p := newProg()
			p.As = x86.AJNE
			emit(p)

		case ir.OpSideExit:
			p := newProg()
			p.As = obj.ARET
			emit(p)

		default:
			return 0, fmt.Errorf("codegen/amd64: no lowering for %s", inst.Kind)
		}
	}

	pl := &obj.Plist{Firstpc: first, Curfn: sym}
	obj.Flushplist(ctxt, pl, nil, 0)

	entry := code.Offset()
	if _, err := code.Write(sym.P); err != nil {
		return 0, err
	}
	return entry, nil
}

// CompileFastPath lowers a recognized direct counting loop straight to
// two fixed registers (BX for the counter, CX for the accumulator)
// instead of running regalloc over the trace - the shape RecognizeFastPath
// matches only ever touches those two locals, so a general allocation
// pass would just rediscover the same two-register assignment.
func (b *amd64Backend) CompileFastPath(buf *ir.Buffer, plan *FastPathPlan, code *CodeBuffer) (int, error) {
	ctxt := obj.Linknew(&x86.Linkamd64)
	ctxt.Bso = bufio.NewWriter(io.Discard)
	ctxt.Diag = func(format string, args ...interface{}) {}

	sym := &obj.LSym{Name: "trace_fastpath"}
	var first, last *obj.Prog

	emit := func(p *obj.Prog) {
		if first == nil {
			first = p
		} else {
			last.Link = p
		}
		last = p
	}
	newProg := func() *obj.Prog {
		p := ctxt.NewProg()
		p.Pc = int64(len(sym.P))
		return p
	}

	const counterReg, accReg = x86.REG_BX, x86.REG_CX

	load := func(reg int16, slot int64) {
		p := newProg()
		p.As = x86.AMOVQ
		p.From = obj.Addr{Type: obj.TYPE_MEM, Reg: x86.REG_DI, Offset: slot * 8}
		p.To = obj.Addr{Type: obj.TYPE_REG, Reg: reg}
		emit(p)
	}
	store := func(reg int16, slot int64) {
		p := newProg()
		p.As = x86.AMOVQ
		p.From = obj.Addr{Type: obj.TYPE_REG, Reg: reg}
		p.To = obj.Addr{Type: obj.TYPE_MEM, Reg: x86.REG_DI, Offset: slot * 8}
		emit(p)
	}

	load(counterReg, plan.CounterSlot)
	load(accReg, plan.AccumulatorSlot)

	cmp := newProg()
	cmp.As = x86.ACMPQ
	cmp.From = obj.Addr{Type: obj.TYPE_REG, Reg: counterReg}
	cmp.To = obj.Addr{Type: obj.TYPE_REG, Reg: accReg}
	emit(cmp)

	// Deopt trampoline relocation target is filled in by exec.go at link
	// time, same as the general path's guard lowering.
	guard := newProg()
	guard.As = x86.AJNE
	emit(guard)

	arith := newProg()
	switch plan.ArithKind {
	case ir.OpAddI:
		arith.As = x86.AADDQ
	case ir.OpSubI:
		arith.As = x86.ASUBQ
	case ir.OpMulI:
		arith.As = x86.AIMULQ
	default:
		return 0, fmt.Errorf("codegen/amd64: fast path has unexpected arith kind %s", plan.ArithKind)
	}
	arith.From = obj.Addr{Type: obj.TYPE_REG, Reg: counterReg}
	arith.To = obj.Addr{Type: obj.TYPE_REG, Reg: accReg}
	emit(arith)

	store(accReg, plan.AccumulatorSlot)

	ret := newProg()
	ret.As = obj.ARET
	emit(ret)

	pl := &obj.Plist{Firstpc: first, Curfn: sym}
	obj.Flushplist(ctxt, pl, nil, 0)

	entry := code.Offset()
	if _, err := code.Write(sym.P); err != nil {
		return 0, err
	}
	return entry, nil
}
