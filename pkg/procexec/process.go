package procexec

import (
	"context"
	"syscall"
	"time"

	"github.com/lattice-svc/lattice/pkg/graph"
)

// ProcessConfig describes a long-running, supervised process.
type ProcessConfig struct {
	Spec Spec

	StartTimeout time.Duration // zero means no readiness protocol: started() fires immediately
	StopSignal   syscall.Signal
	StopTimeout  time.Duration

	RestartLimit  int           // max restarts allowed within RestartWindow; 0 disables the limiter
	RestartWindow time.Duration

	// Dispatch marshals a call back onto the single engine goroutine (see
	// pkg/loopdrv). Every call into r from a monitor goroutine below is
	// wrapped in it, because the engine's methods are never safe to call
	// concurrently with the reactor. A nil Dispatch calls fn directly,
	// which is only correct in single-goroutine tests.
	Dispatch func(fn func())
}

func (c ProcessConfig) dispatch(fn func()) {
	if c.Dispatch != nil {
		c.Dispatch(fn)
		return
	}
	fn()
}

// processState is the mutable, per-record state a Process kind needs; it
// is never touched by pkg/graph.
type processState struct {
	sup *Supervisor
	cfg ProcessConfig

	handle *Handle
	cancel context.CancelFunc

	restartTimes []time.Time
}

// NewProcessHooks builds the capability object for a Process service.
func NewProcessHooks(sup *Supervisor, cfg ProcessConfig) graph.Hooks {
	st := &processState{sup: sup, cfg: cfg}

	h := graph.DefaultHooks()
	h.BringUp = func(r *graph.Record) bool {
		return st.bringUp(r)
	}
	h.BringDown = func(r *graph.Record) {
		st.bringDown(r)
	}
	h.CheckRestart = func(r *graph.Record) bool {
		return st.withinRestartLimit()
	}
	h.PID = func(r *graph.Record) int {
		if st.handle == nil {
			return -1
		}
		return st.handle.PID()
	}
	return h
}

func (st *processState) bringUp(r *graph.Record) bool {
	h, err := st.sup.Spawn(st.cfg.Spec)
	if err != nil {
		return false
	}
	st.handle = h

	ctx, cancel := context.WithCancel(context.Background())
	st.cancel = cancel

	go st.monitor(r, ctx, h)

	if st.cfg.StartTimeout == 0 {
		// bring_up itself runs on the engine goroutine, so this call needs
		// no dispatch.
		r.Started()
	}
	return true
}

// monitor runs for the lifetime of one spawned process; it is the only
// goroutine that observes h.Done(), and it reports back to the engine by
// calling Started/Stopped/failure paths — all of which are safe only
// because the event loop serializes them onto the single engine goroutine
// via whatever channel wiring owns this Supervisor (see pkg/loopdrv).
func (st *processState) monitor(r *graph.Record, ctx context.Context, h *Handle) {
	if st.cfg.StartTimeout > 0 {
		select {
		case <-time.After(st.cfg.StartTimeout):
			st.cfg.dispatch(func() { r.Started() })
		case <-ctx.Done():
			return
		}
	}

	term := <-h.Done()
	_ = term

	st.cfg.dispatch(func() {
		st.handle = nil

		if r.State() == graph.Stopped {
			return
		}

		wasWanted := r.Desired() == graph.Started
		if wasWanted && st.withinRestartLimit() {
			st.recordRestart()
			r.Restart()
			return
		}

		r.Stopped()
	})
}

func (st *processState) bringDown(r *graph.Record) {
	if st.cancel != nil {
		st.cancel()
	}
	if st.handle == nil {
		r.Stopped()
		return
	}
	h := st.handle
	sig := st.cfg.StopSignal
	if sig == 0 {
		sig = syscall.SIGTERM
	}
	_ = st.sup.Signal(h, sig)

	go func() {
		ctx := context.Background()
		if st.cfg.StopTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, st.cfg.StopTimeout)
			defer cancel()
		}
		if _, ok := WaitWithTimeout(ctx, h); !ok {
			_ = st.sup.Signal(h, syscall.SIGKILL)
			<-h.Done()
		}
		st.cfg.dispatch(func() { r.Stopped() })
	}()
}

func (st *processState) withinRestartLimit() bool {
	if st.cfg.RestartLimit == 0 {
		return true
	}
	cutoff := time.Now().Add(-st.cfg.RestartWindow)
	count := 0
	for _, t := range st.restartTimes {
		if t.After(cutoff) {
			count++
		}
	}
	return count < st.cfg.RestartLimit
}

func (st *processState) recordRestart() {
	cutoff := time.Now().Add(-st.cfg.RestartWindow)
	kept := st.restartTimes[:0]
	for _, t := range st.restartTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	st.restartTimes = append(kept, time.Now())
}
