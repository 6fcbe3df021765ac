package gvm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func compileAndRun(t *testing.T, source string) *VM {
	t.Helper()
	chunk, err := Compile(source)
	require.NoError(t, err)

	vm := NewVM(nil, false)
	vm.Load(chunk)
	vm.Run()
	return vm
}

func TestArithmetic(t *testing.T) {
	vm := compileAndRun(t, `
		const 2
		const 3
		add
		const 4
		mul
		halt
	`)
	require.ErrorIs(t, vm.errcode, errProgramFinished)
	require.True(t, vm.peek().IsInt())
	require.EqualValues(t, 20, vm.peek().AsInt())
}

func TestDivisionByZero(t *testing.T) {
	vm := compileAndRun(t, `
		const 1
		const 0
		div
	`)
	require.ErrorIs(t, vm.errcode, errDivisionByZero)
}

func TestUnknownInstructionNeverReached(t *testing.T) {
	// const/halt is enough to prove a clean program runs out of
	// instructions rather than ever hitting step()'s default case.
	vm := compileAndRun(t, `
		const 7
		halt
	`)
	require.ErrorIs(t, vm.errcode, errProgramFinished)
}

func TestLocalsRoundTrip(t *testing.T) {
	vm := compileAndRun(t, `
		const 41
		store_local 0
		load_local 0
		const 1
		add
		store_local 0
		load_local 0
		halt
	`)
	require.ErrorIs(t, vm.errcode, errProgramFinished)
	require.EqualValues(t, 42, vm.peek().AsInt())
}

func TestForwardJump(t *testing.T) {
	vm := compileAndRun(t, `
		const 1
		jmp_false else
		const 100
		jmp done
	else:
		const 200
	done:
		halt
	`)
	require.ErrorIs(t, vm.errcode, errProgramFinished)
	require.EqualValues(t, 100, vm.peek().AsInt())
}

func TestForCountLoop(t *testing.T) {
	vm := compileAndRun(t, `
		const 0
		store_local 0
		const 0
		store_local 1
		const 5
		store_local 2
	top:
		for_count 1 2 3 end
		load_local 0
		load_local 3
		add
		store_local 0
		loop top
	end:
		load_local 0
		halt
	`)
	require.ErrorIs(t, vm.errcode, errProgramFinished)
	require.EqualValues(t, 0+1+2+3+4, vm.peek().AsInt())
}

func TestStackSegfaultRecovered(t *testing.T) {
	vm := compileAndRun(t, `
		pop
	`)
	require.ErrorIs(t, vm.errcode, errSegmentationFault)
}

func TestPowerOffShutsDownVM(t *testing.T) {
	vm := compileAndRun(t, `
		const 0
		write 2 3
	`)
	require.ErrorIs(t, vm.errcode, errSystemShutdown)
}

// TestBoundaryScenarios covers the seeds from spec.md's TESTABLE PROPERTIES
// section (boundary scenarios A-D and F; scenario E, trace invalidation, has
// no subtest). Iteration counts are scaled down from the spec's literal
// values (10_000_000 etc.) since these exercise pure interpretation here;
// no test runs these seeds through compiled native code, so JIT/interpreter
// agreement on them is not checked.
func TestBoundaryScenarios(t *testing.T) {
	t.Run("A_countingLoopSumsOnes", func(t *testing.T) {
		vm := compileAndRun(t, `
			const 0
			store_local 0
			const 0
			store_local 1
			const 200
			store_local 2
		top:
			for_count 1 2 3 end
			load_local 0
			const 1
			add
			store_local 0
			loop top
		end:
			load_local 0
			halt
		`)
		require.ErrorIs(t, vm.errcode, errProgramFinished)
		require.EqualValues(t, 200, vm.peek().AsInt())
	})

	t.Run("B_wrappingMultiplyAddAgreesWithTwosComplement", func(t *testing.T) {
		vm := compileAndRun(t, `
			const 0
			store_local 0
			const 0
			store_local 1
			const 20
			store_local 2
		top:
			for_count 1 2 3 end
			load_local 0
			const 3
			mul
			const 7
			add
			store_local 0
			loop top
		end:
			load_local 0
			halt
		`)
		require.ErrorIs(t, vm.errcode, errProgramFinished)

		var want int32
		for i := 0; i < 20; i++ {
			want = want*3 + 7
		}
		require.EqualValues(t, want, vm.peek().AsInt())
	})

	t.Run("C_alternatingIncDecCancelsOut", func(t *testing.T) {
		vm := compileAndRun(t, `
			const 0
			store_local 0
			const 0
			store_local 1
			const 100
			store_local 2
		top:
			for_count 1 2 3 end
			load_local 3
			const 2
			mod
			const 0
			eq
			jmp_false odd
			load_local 0
			const 1
			add
			store_local 0
			jmp continue
		odd:
			load_local 0
			const 1
			sub
			store_local 0
		continue:
			loop top
		end:
			load_local 0
			halt
		`)
		require.ErrorIs(t, vm.errcode, errProgramFinished)
		require.EqualValues(t, 0, vm.peek().AsInt())
	})

	t.Run("D_nonIntegerStoreInLoopBodyStillInterpretsCorrectly", func(t *testing.T) {
		// The recorder would abort speculative recording on this body (a
		// non-integer store breaks the all-int-locals assumption); the
		// interpreter alone must still produce the right answer.
		vm := compileAndRun(t, `
			const 0
			store_local 0
			const 0
			store_local 1
			const 3
			store_local 2
		top:
			for_count 1 2 3 end
			const 1.5
			store_local 4
			load_local 0
			const 1
			add
			store_local 0
			loop top
		end:
			load_local 0
			halt
		`)
		require.ErrorIs(t, vm.errcode, errProgramFinished)
		require.EqualValues(t, 3, vm.peek().AsInt())
	})

	t.Run("F_repeatedDoublingWrapsLikeTwosComplementInt32", func(t *testing.T) {
		// Doubling past int32's range 32 times must wrap the same way the
		// JIT's native int32 arithmetic would (silent two's-complement
		// wraparound), not overflow into a wider representation.
		vm := compileAndRun(t, `
			const 1
			store_local 0
			const 0
			store_local 1
			const 32
			store_local 2
		top:
			for_count 1 2 3 end
			load_local 0
			load_local 0
			add
			store_local 0
			loop top
		end:
			load_local 0
			halt
		`)
		require.ErrorIs(t, vm.errcode, errProgramFinished)

		var want int32 = 1
		for i := 0; i < 32; i++ {
			want = want + want
		}
		require.EqualValues(t, want, vm.peek().AsInt())
	})
}

func TestDisassembleDoesNotPanic(t *testing.T) {
	chunk, err := Compile(`
		const 1
		const 2
		add
		halt
	`)
	require.NoError(t, err)
	out := chunk.Disassemble("main")
	require.Contains(t, out, "const")
	require.Contains(t, out, "halt")
}
