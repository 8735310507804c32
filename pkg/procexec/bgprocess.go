package procexec

import (
	"context"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/lattice-svc/lattice/pkg/graph"
)

// BGProcessConfig describes a service whose command daemonizes itself: the
// launcher process is expected to exit quickly, after which the real
// supervised PID is read from PIDFile.
type BGProcessConfig struct {
	LaunchSpec Spec
	PIDFile    string
	PIDTimeout time.Duration

	StopSignal  syscall.Signal
	StopTimeout time.Duration

	Dispatch func(fn func())
}

func (c BGProcessConfig) dispatch(fn func()) {
	if c.Dispatch != nil {
		c.Dispatch(fn)
		return
	}
	fn()
}

type bgState struct {
	sup *Supervisor
	cfg BGProcessConfig

	pid int
}

// NewBGProcessHooks builds the capability object for a Background-process
// service.
func NewBGProcessHooks(sup *Supervisor, cfg BGProcessConfig) graph.Hooks {
	st := &bgState{sup: sup, cfg: cfg, pid: -1}

	h := graph.DefaultHooks()
	h.BringUp = func(r *graph.Record) bool {
		launcher, err := sup.Spawn(cfg.LaunchSpec)
		if err != nil {
			return false
		}
		go st.awaitDaemonize(r, launcher)
		return true
	}
	h.BringDown = func(r *graph.Record) {
		st.bringDown(r)
	}
	h.PID = func(r *graph.Record) int { return st.pid }
	return h
}

func (st *bgState) awaitDaemonize(r *graph.Record, launcher *Handle) {
	<-launcher.Done()

	ctx, cancel := context.WithTimeout(context.Background(), st.cfg.PIDTimeout)
	defer cancel()
	pid, err := ReadPIDFile(ctx, st.cfg.PIDFile, st.cfg.PIDTimeout)

	st.cfg.dispatch(func() {
		if err != nil {
			r.Stopped()
			return
		}
		st.pid = pid
		r.Started()
	})
}

func (st *bgState) bringDown(r *graph.Record) {
	if st.pid <= 0 {
		r.Stopped()
		return
	}
	pid := st.pid
	sig := st.cfg.StopSignal
	if sig == 0 {
		sig = syscall.SIGTERM
	}
	_ = unix.Kill(-pid, sig)

	go func() {
		deadline := time.Now().Add(st.cfg.StopTimeout)
		for unix.Kill(pid, 0) == nil {
			if st.cfg.StopTimeout > 0 && time.Now().After(deadline) {
				_ = unix.Kill(-pid, syscall.SIGKILL)
				break
			}
			time.Sleep(50 * time.Millisecond)
		}
		st.cfg.dispatch(func() {
			st.pid = -1
			r.Stopped()
		})
	}()
}
