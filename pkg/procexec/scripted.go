package procexec

import (
	"context"
	"syscall"
	"time"

	"github.com/lattice-svc/lattice/pkg/graph"
)

// ScriptedConfig describes a service whose start and stop are each a
// one-shot external command run to completion.
type ScriptedConfig struct {
	StartSpec Spec
	StopSpec  Spec // zero Command means "nothing to run on stop"

	StartTimeout time.Duration
	StopTimeout  time.Duration

	Dispatch func(fn func())
}

func (c ScriptedConfig) dispatch(fn func()) {
	if c.Dispatch != nil {
		c.Dispatch(fn)
		return
	}
	fn()
}

// NewScriptedHooks builds the capability object for a Scripted service.
func NewScriptedHooks(sup *Supervisor, cfg ScriptedConfig) graph.Hooks {
	h := graph.DefaultHooks()
	h.BringUp = func(r *graph.Record) bool {
		runScript(sup, cfg.StartSpec, cfg.StartTimeout, func(ok bool) {
			cfg.dispatch(func() {
				if ok {
					r.Started()
				} else {
					r.Stopped() // allDepsStarted already moved r to Stopping on refusal
				}
			})
		})
		return true // outcome reported asynchronously once the command finishes
	}
	h.BringDown = func(r *graph.Record) {
		if len(cfg.StopSpec.Command) == 0 {
			r.Stopped()
			return
		}
		runScript(sup, cfg.StopSpec, cfg.StopTimeout, func(ok bool) {
			cfg.dispatch(func() { r.Stopped() })
		})
	}
	return h
}

func runScript(sup *Supervisor, spec Spec, timeout time.Duration, done func(ok bool)) {
	h, err := sup.Spawn(spec)
	if err != nil {
		done(false)
		return
	}
	go func() {
		ctx := context.Background()
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		term, ok := WaitWithTimeout(ctx, h)
		if !ok {
			_ = sup.Signal(h, syscall.SIGKILL)
			<-h.Done()
			done(false)
			return
		}
		done(term.Err == nil && term.Status.Clean())
	}()
}
