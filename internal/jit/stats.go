package jit

import "sync/atomic"

// CompilerStats is a lock-free running tally of what the engine has done,
// read through Engine.Stats. Counters rather than a mutex-guarded struct, since every
// field is written from the single VM dispatch goroutine but read from
// whatever reports stats (a debugger command, a signal handler) without
// wanting to contend with the hot path.
type CompilerStats struct {
	compiles    atomic.Int64
	aborts      atomic.Int64
	evictions   atomic.Int64
	invocations atomic.Int64
	tailExits   atomic.Int64
	irInstTotal atomic.Int64
}

func newCompilerStats() *CompilerStats { return &CompilerStats{} }

func (s *CompilerStats) recordCompile(irInsts int) {
	s.compiles.Add(1)
	s.irInstTotal.Add(int64(irInsts))
}

func (s *CompilerStats) recordAbort()    { s.aborts.Add(1) }
func (s *CompilerStats) recordEviction() { s.evictions.Add(1) }

func (s *CompilerStats) recordInvocation(tailExit bool) {
	s.invocations.Add(1)
	if tailExit {
		s.tailExits.Add(1)
	}
}

// Snapshot is a point-in-time, race-free copy of the counters for
// printing.
type Snapshot struct {
	Compiles       int64
	Aborts         int64
	Evictions      int64
	Invocations    int64
	TailExits      int64
	AvgIRInstCount float64
}

func (s *CompilerStats) Snapshot() Snapshot {
	compiles := s.compiles.Load()
	avg := 0.0
	if compiles > 0 {
		avg = float64(s.irInstTotal.Load()) / float64(compiles)
	}
	return Snapshot{
		Compiles:       compiles,
		Aborts:         s.aborts.Load(),
		Evictions:      s.evictions.Load(),
		Invocations:    s.invocations.Load(),
		TailExits:      s.tailExits.Load(),
		AvgIRInstCount: avg,
	}
}

// Stats exposes the engine's running counters.
func (e *Engine) Stats() Snapshot { return e.stats.Snapshot() }
