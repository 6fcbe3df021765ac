package recorder

import (
	"testing"

	"github.com/stretchr/testify/require"

	"gvmjit/internal/jit/ir"
	gvm "gvmjit/vm"
)

// findLoopHeader locates the back-edge target of a chunk's sole OpLoop
// instruction the same way the interpreter's dispatcher computes it
// (vm.go's OpLoop case), so tests don't have to hand-compute byte
// offsets across every preceding instruction's operand width.
func findLoopHeader(t *testing.T, chunk *gvm.Chunk) int32 {
	t.Helper()
	code := chunk.Code
	for i := 0; i < len(code); {
		op := gvm.Op(code[i])
		if op == gvm.OpLoop {
			back := int(code[i+1])<<8 | int(code[i+2])
			return int32(i + 3 - back)
		}
		i += 1 + op.OperandBytes()
	}
	t.Fatal("no OpLoop instruction found in compiled chunk")
	return 0
}

func mustCompile(t *testing.T, source string) *gvm.Chunk {
	t.Helper()
	chunk, err := gvm.Compile(source)
	require.NoError(t, err)
	return chunk
}

const sumLoopSource = `
	const 0
	store_local 0
	const 0
	store_local 1
	const 10
	store_local 2
top:
	load_local 1
	load_local 2
	lt
	jmp_false done
	load_local 0
	load_local 1
	add
	store_local 0
	load_local 1
	const 1
	add
	store_local 1
	loop top
done:
	load_local 0
	halt
`

func TestRecordCountingLoopProducesOperandAccurateIR(t *testing.T) {
	chunk := mustCompile(t, sumLoopSource)
	header := findLoopHeader(t, chunk)

	buf, err := Record(nil, chunk, header)
	require.NoError(t, err)
	require.NotNil(t, buf)

	require.Equal(t, ir.OpSideExit, buf.Insts[len(buf.Insts)-1].Kind)

	var storeLocalSlots []int64
	var addCount, guardBoolCount, guardIntCount int
	for _, inst := range buf.Insts {
		switch inst.Kind {
		case ir.OpStoreLocal:
			storeLocalSlots = append(storeLocalSlots, inst.Imm)
		case ir.OpAddI:
			addCount++
		case ir.OpGuardBool:
			guardBoolCount++
		case ir.OpGuardInt:
			guardIntCount++
		}
	}

	require.Contains(t, storeLocalSlots, int64(0), "the accumulator store must survive translation")
	require.Contains(t, storeLocalSlots, int64(1), "the counter store must survive translation")
	require.Equal(t, 2, addCount, "x = x + i and i = i + 1 are two distinct adds, not the same operand reused twice")
	require.Equal(t, 1, guardBoolCount, "exactly one loop-exit guard")
	require.Greater(t, guardIntCount, 0, "every local read from outside the trace needs a type guard")
}

func TestRecordAddUsesDistinctOperandsNotTheSameVRegTwice(t *testing.T) {
	chunk := mustCompile(t, sumLoopSource)
	header := findLoopHeader(t, chunk)

	buf, err := Record(nil, chunk, header)
	require.NoError(t, err)

	for _, inst := range buf.Insts {
		if inst.Kind == ir.OpAddI {
			require.NotEqual(t, inst.A, inst.B, "a binary op must consume two distinct operand vregs, not the same vreg twice")
		}
	}
}

func TestRecordRejectsMultipleExitGuards(t *testing.T) {
	chunk := mustCompile(t, `
		const 0
		store_local 0
		const 1
		store_local 1
	top:
		load_local 1
		jmp_false done
		load_local 1
		jmp_false done
		loop top
	done:
		halt
	`)
	header := findLoopHeader(t, chunk)
	_, err := Record(nil, chunk, header)
	require.ErrorIs(t, err, ErrMultiExitLoop)
}

func TestRecordRejectsCallsInsideLoop(t *testing.T) {
	chunk := mustCompile(t, `
		const 1
		store_local 0
	top:
		load_local 0
		jmp_false done
		call 0
		loop top
	done:
		halt
	`)
	header := findLoopHeader(t, chunk)
	_, err := Record(nil, chunk, header)
	require.ErrorIs(t, err, ErrNestedCall)
}

func TestRecordRejectsObjectOps(t *testing.T) {
	chunk := mustCompile(t, `
		const 1
		store_local 0
	top:
		load_local 0
		jmp_false done
		new_array 0
		loop top
	done:
		halt
	`)
	header := findLoopHeader(t, chunk)
	_, err := Record(nil, chunk, header)
	require.ErrorIs(t, err, ErrObjectOp)
}

func TestRecordRejectsNonIntConstants(t *testing.T) {
	chunk := mustCompile(t, `
		const 1
		store_local 0
	top:
		load_local 0
		jmp_false done
		const 1.5
		pop
		loop top
	done:
		halt
	`)
	header := findLoopHeader(t, chunk)
	_, err := Record(nil, chunk, header)
	require.ErrorIs(t, err, ErrUnsupportedOp)
}
