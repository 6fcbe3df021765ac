// Package codegen turns an allocated trace into native machine code and
// owns the executable-memory buffer that code lives in. Two backends
// exist, amd64 and arm64, both built on the same third-party assembler
// (github.com/twitchyliquid64/golang-asm's obj/obj.Link IR, the engine
// tetratelabs/wazero's historical amd64 JIT used before it migrated to a
// hand-rolled encoder) so the instruction-selection code in each
// architecture file only ever constructs obj.Prog nodes, never raw
// opcode bytes.
package codegen

import (
	"fmt"

	"gvmjit/internal/jit/ir"
	"gvmjit/internal/jit/regalloc"
)

// Backend lowers one allocated trace to native code written into a
// CodeBuffer, returning the entry point offset within that buffer.
type Backend interface {
	// Name reports the target architecture, used in compiler stats/logs.
	Name() string
	// Compile emits native code for buf using the given register
	// assignment, appending it to code. It returns the byte offset of
	// the trace's entry point within code's underlying buffer.
	Compile(buf *ir.Buffer, assignment []regalloc.Assignment, code *CodeBuffer) (entryOffset int, err error)
	// CompileFastPath emits native code for a trace RecognizeFastPath has
	// matched, using plan's fixed counter/accumulator registers instead
	// of a general linear-scan assignment.
	CompileFastPath(buf *ir.Buffer, plan *FastPathPlan, code *CodeBuffer) (entryOffset int, err error)
}

// Recognized architecture names, matched against runtime.GOARCH (or an
// explicit --jit-arch override) to select a Backend.
const (
	ArchAMD64 = "amd64"
	ArchARM64 = "arm64"
)

// ErrUnsupportedArch is returned by Select for any architecture besides
// amd64/arm64 - the JIT facade treats this identically to --jit=false.
var ErrUnsupportedArch = fmt.Errorf("codegen: unsupported architecture")

// Select returns the Backend for the named architecture.
func Select(arch string) (Backend, error) {
	switch arch {
	case ArchAMD64:
		return &amd64Backend{}, nil
	case ArchARM64:
		return &arm64Backend{}, nil
	default:
		return nil, ErrUnsupportedArch
	}
}
