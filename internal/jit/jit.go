// Package jit is the facade the interpreter drives: it wires the hot-loop
// detector, trace recorder, register allocator, and per-architecture code
// generator into the gvm.JIT hook surface, and owns the cache of
// compiled traces keyed by loop-header offset.
package jit

import (
	"go.uber.org/zap"

	"gvmjit/internal/jit/codegen"
	"gvmjit/internal/jit/detector"
	"gvmjit/internal/jit/exec"
	"gvmjit/internal/jit/ir"
	"gvmjit/internal/jit/recorder"
	"gvmjit/internal/jit/regalloc"
	gvm "gvmjit/vm"
)

// Config controls the facade's tuning knobs. The CLI (cmd/gvm) sets
// Threshold, Arch and TraceLog from flags/config keys; CodeBufBytes keeps
// its DefaultConfig value.
type Config struct {
	Threshold    int32  // back-edge traversals before a loop is recorded
	Arch         string // "amd64" or "arm64"; New selects the backend from its arch argument
	CodeBufBytes int    // size of the executable memory arena
	TraceLog     bool   // emit a structured log line per compile attempt
}

// DefaultConfig matches the interpreter's out-of-the-box tuning.
func DefaultConfig() Config {
	return Config{Threshold: 50, CodeBufBytes: 1 << 20}
}

// Engine implements gvm.JIT.
type Engine struct {
	cfg     Config
	log     *zap.Logger
	backend codegen.Backend
	code    *codegen.CodeBuffer

	detector *detector.Detector
	traces   map[int32]*exec.Trace
	stats    *CompilerStats

	recordingNow int32 // loop header currently under construction, or -1
}

// New builds an Engine for the given config and logger. arch resolution
// failures (an unsupported --jit-arch value) degrade to a nil Engine at
// the call site, which is how "JIT unavailable on this platform" and
// "--jit=false" collapse to the same code path in the interpreter.
func New(cfg Config, arch string, log *zap.Logger) (*Engine, error) {
	backend, err := codegen.Select(arch)
	if err != nil {
		return nil, err
	}
	code, err := codegen.NewCodeBuffer(cfg.CodeBufBytes)
	if err != nil {
		return nil, err
	}

	return &Engine{
		cfg:          cfg,
		log:          log,
		backend:      backend,
		code:         code,
		detector:     detector.New(256, cfg.Threshold),
		traces:       make(map[int32]*exec.Trace),
		stats:        newCompilerStats(),
		recordingNow: -1,
	}, nil
}

// OnBackEdge implements gvm.JIT. It is called once per traversal of the
// interpreter's dedicated back-edge opcode.
func (e *Engine) OnBackEdge(vm *gvm.VM, loopOffset int) bool {
	key := int32(loopOffset)

	if trace, ok := e.traces[key]; ok {
		if trace.Invalidated() {
			e.log.Info("evicting degraded trace", zap.Int32("loop_header", key))
			_ = trace.Close()
			delete(e.traces, key)
			e.detector.MarkUncompilable(key)
			e.stats.recordEviction()
			return false
		}
		return e.invoke(vm, trace)
	}

	_, crossed := e.detector.Hit(key)
	if !crossed {
		return false
	}

	e.compile(vm, key)
	return false
}

// RecordStep implements gvm.JIT. The narrow trace recorder in this
// package records a whole loop body in one shot from OnBackEdge rather
// than incrementally per step, so RecordStep is intentionally a no-op
// hook - it exists so the interpreter always has somewhere to report
// "an instruction executed" regardless of which recording strategy a
// given Engine configuration uses, and so a future incremental recorder
// (abort-and-retry mid-loop) has a place to plug in without changing the
// gvm.JIT interface.
func (e *Engine) RecordStep(vm *gvm.VM, offset int, op gvm.Op) {}

func (e *Engine) compile(vm *gvm.VM, loopHeader int32) {
	buf, err := e.recordFrom(vm, loopHeader)
	if err != nil {
		e.log.Debug("trace recording aborted", zap.Int32("loop_header", loopHeader), zap.Error(err))
		e.detector.MarkUncompilable(loopHeader)
		e.stats.recordAbort()
		return
	}

	var entry int
	fastPath := false
	if plan, ok := codegen.RecognizeFastPath(buf); ok {
		entry, err = e.backend.CompileFastPath(buf, plan, e.code)
		fastPath = true
	} else {
		assignment := regalloc.Allocate(buf, 6)
		entry, err = e.backend.Compile(buf, assignment, e.code)
	}
	if err != nil {
		e.log.Debug("codegen failed", zap.Int32("loop_header", loopHeader), zap.Error(err))
		e.detector.MarkUncompilable(loopHeader)
		e.stats.recordAbort()
		return
	}
	if err := e.code.Finalize(); err != nil {
		e.log.Warn("code buffer finalize failed", zap.Error(err))
		e.detector.MarkUncompilable(loopHeader)
		return
	}

	trace := exec.New(buf, e.code, entry)
	e.traces[loopHeader] = trace
	e.stats.recordCompile(buf.Len())

	if e.cfg.TraceLog {
		e.log.Info("compiled trace",
			zap.Int32("loop_header", loopHeader),
			zap.Int("ir_instructions", buf.Len()),
			zap.Bool("fast_path", fastPath),
			zap.String("arch", e.backend.Name()))
	}
}

func (e *Engine) invoke(vm *gvm.VM, trace *exec.Trace) bool {
	localsDst := vm.LocalsBase()
	globalsDst := vm.GlobalsBase()
	locals := toInt64Slice(localsDst)
	globals := toInt64Slice(globalsDst)

	result := trace.Invoke(locals, globals)
	e.stats.recordInvocation(result.SnapshotIndex == trace.TailSnapshot())

	restoreSlots(localsDst, locals, result.LiveLocals)
	restoreSlots(globalsDst, globals, result.LiveGlobals)
	vm.SetIP(result.ResumeOffset)

	return true
}

// restoreSlots copies back only the slots the exited snapshot actually
// bound (live[slot] >= 0); every other slot in dst is left exactly as
// the interpreter last wrote it. Writing through src (converted from
// tagged Values up front) rather than live would silently stomp
// non-int frame state the trace never touched.
func restoreSlots(dst []gvm.Value, src []int64, live []ir.VReg) {
	for slot, vreg := range live {
		if vreg < 0 || slot >= len(dst) || slot >= len(src) {
			continue
		}
		dst[slot] = gvm.Int(int32(src[slot]))
	}
}

// Cleanup implements gvm.JIT.
func (e *Engine) Cleanup() {
	for _, t := range e.traces {
		_ = t.Close()
	}
	if e.code != nil {
		_ = e.code.Close()
	}
	e.log.Sync()
}

func toInt64Slice(values []gvm.Value) []int64 {
	out := make([]int64, len(values))
	for i, v := range values {
		if v.IsInt() {
			out[i] = int64(v.AsInt())
		}
	}
	return out
}

func (e *Engine) recordFrom(vm *gvm.VM, loopHeader int32) (*ir.Buffer, error) {
	return recorder.Record(vm, vm.LoadedChunk(), loopHeader)
}
