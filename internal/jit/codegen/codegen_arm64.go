package codegen

import (
	"bufio"
	"fmt"
	"io"

	"github.com/twitchyliquid64/golang-asm/obj"
	"github.com/twitchyliquid64/golang-asm/obj/arm64"

	"gvmjit/internal/jit/ir"
	"gvmjit/internal/jit/regalloc"
)

// arm64IntRegs mirrors the amd64 bank's reservation scheme: R0 is the
// scratch/accumulator register, R27/R28 are reserved for locals-base and
// globals-base, the rest are available to the allocator.
var arm64IntRegs = []int16{arm64.REG_R1, arm64.REG_R2, arm64.REG_R3, arm64.REG_R4, arm64.REG_R5, arm64.REG_R6}

type arm64Backend struct{}

func (b *arm64Backend) Name() string { return ArchARM64 }

func (b *arm64Backend) Compile(buf *ir.Buffer, assignment []regalloc.Assignment, code *CodeBuffer) (int, error) {
	ctxt := obj.Linknew(&arm64.Linkarm64)
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
			return arm64IntRegs[assignment[v].Reg]
		}
		return arm64.REG_R0
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
			p.As = arm64.AMOVD
			p.From = obj.Addr{Type: obj.TYPE_CONST, Offset: inst.Imm}
			p.To = obj.Addr{Type: obj.TYPE_REG, Reg: arm64.REG_R0}
			emit(p)

		case ir.OpLoadLocal:
			p := newProg()
			p.As = arm64.AMOVD
			p.From = obj.Addr{Type: obj.TYPE_MEM, Reg: arm64.REG_R27, Offset: inst.Imm * 8}
			p.To = obj.Addr{Type: obj.TYPE_REG, Reg: arm64.REG_R0}
			emit(p)

		case ir.OpStoreLocal:
			p := newProg()
			p.As = arm64.AMOVD
			p.From = obj.Addr{Type: obj.TYPE_REG, Reg: reg(inst.A)}
			p.To = obj.Addr{Type: obj.TYPE_MEM, Reg: arm64.REG_R27, Offset: inst.Imm * 8}
			emit(p)

		case ir.OpLoadGlobal:
			p := newProg()
			p.As = arm64.AMOVD
			p.From = obj.Addr{Type: obj.TYPE_MEM, Reg: arm64.REG_R28, Offset: inst.Imm * 8}
			p.To = obj.Addr{Type: obj.TYPE_REG, Reg: arm64.REG_R0}
			emit(p)

		case ir.OpStoreGlobal:
			p := newProg()
			p.As = arm64.AMOVD
			p.From = obj.Addr{Type: obj.TYPE_REG, Reg: reg(inst.A)}
			p.To = obj.Addr{Type: obj.TYPE_MEM, Reg: arm64.REG_R28, Offset: inst.Imm * 8}
			emit(p)

		case ir.OpAddI, ir.OpSubI, ir.OpMulI:
			p := newProg()
			switch inst.Kind {
			case ir.OpAddI:
				p.As = arm64.AADD
			case ir.OpSubI:
				p.As = arm64.ASUB
			case ir.OpMulI:
				p.As = arm64.AMUL
			}
			p.From = obj.Addr{Type: obj.TYPE_REG, Reg: reg(inst.B)}
			p.Reg = reg(inst.A)
			p.To = obj.Addr{Type: obj.TYPE_REG, Reg: reg(inst.A)}
			emit(p)

		case ir.OpLessI, ir.OpLessEqI, ir.OpGreaterI, ir.OpEqI:
			p := newProg()
			p.As = arm64.ACMP
			p.From = obj.Addr{Type: obj.TYPE_REG, Reg: reg(inst.B)}
			p.Reg = reg(inst.A)
			emit(p)

		case ir.OpGuardInt, ir.OpGuardBool:
			p := newProg()
			p.As = arm64.ABNE
			emit(p)

		case ir.OpSideExit:
			p := newProg()
			p.As = obj.ARET
			emit(p)

		default:
			return 0, fmt.Errorf("codegen/arm64: no lowering for %s", inst.Kind)
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

// CompileFastPath mirrors the amd64 backend's fixed two-register
// lowering for a recognized direct counting loop: R1 holds the counter,
// R2 the accumulator, R27/R28 the locals/globals base pointers.
func (b *arm64Backend) CompileFastPath(buf *ir.Buffer, plan *FastPathPlan, code *CodeBuffer) (int, error) {
	ctxt := obj.Linknew(&arm64.Linkarm64)
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

	const counterReg, accReg = arm64.REG_R1, arm64.REG_R2

	load := func(reg int16, slot int64) {
		p := newProg()
		p.As = arm64.AMOVD
		p.From = obj.Addr{Type: obj.TYPE_MEM, Reg: arm64.REG_R27, Offset: slot * 8}
		p.To = obj.Addr{Type: obj.TYPE_REG, Reg: reg}
		emit(p)
	}
	store := func(reg int16, slot int64) {
		p := newProg()
		p.As = arm64.AMOVD
		p.From = obj.Addr{Type: obj.TYPE_REG, Reg: reg}
		p.To = obj.Addr{Type: obj.TYPE_MEM, Reg: arm64.REG_R27, Offset: slot * 8}
		emit(p)
	}

	load(counterReg, plan.CounterSlot)
	load(accReg, plan.AccumulatorSlot)

	cmp := newProg()
	cmp.As = arm64.ACMP
	cmp.From = obj.Addr{Type: obj.TYPE_REG, Reg: accReg}
	cmp.Reg = counterReg
	emit(cmp)

	guard := newProg()
	guard.As = arm64.ABNE
	emit(guard)

	arith := newProg()
	switch plan.ArithKind {
	case ir.OpAddI:
		arith.As = arm64.AADD
	case ir.OpSubI:
		arith.As = arm64.ASUB
	case ir.OpMulI:
		arith.As = arm64.AMUL
	default:
		return 0, fmt.Errorf("codegen/arm64: fast path has unexpected arith kind %s", plan.ArithKind)
	}
	arith.From = obj.Addr{Type: obj.TYPE_REG, Reg: counterReg}
	arith.Reg = accReg
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
