// Package loopdrv is the single top-level goroutine that turns OS signals,
// control-socket commands, and process-supervisor callbacks into calls on
// the engine's public contract, draining the reactor once after each batch
// — the only caller of graph.Set.ProcessQueues once the daemon has booted.
package loopdrv

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/lattice-svc/lattice/pkg/ctlproto"
	"github.com/lattice-svc/lattice/pkg/graph"
)

// Handler answers one decoded control-protocol request. Implemented by
// pkg/ctlproto command dispatch glue that the daemon wires up at startup
// (see cmd/latticed).
type Handler func(req *ctlproto.Request)

// Loop owns the reactor's single goroutine.
type Loop struct {
	set      *graph.Set
	handler  Handler
	requests chan *ctlproto.Request

	dispatch  chan func()
	sigCh     chan os.Signal
	quitCh    chan struct{}

	onIdle func() // called once per drain, after the queues are empty
}

// New creates a Loop bound to set. reqCh is typically a ctlproto.Server's
// Requests channel; it may be nil if the control socket is disabled.
func New(set *graph.Set, handler Handler, reqCh chan *ctlproto.Request) *Loop {
	l := &Loop{
		set:      set,
		handler:  handler,
		requests: reqCh,
		dispatch: make(chan func(), 64),
		sigCh:    make(chan os.Signal, 4),
		quitCh:   make(chan struct{}),
	}
	signal.Notify(l.sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP, syscall.SIGCHLD)
	return l
}

// Dispatch posts fn to run on the loop's goroutine, followed by one
// reactor drain. This is the channel procexec's monitor goroutines and any
// other ambient goroutine use to call back into the engine; it is never
// safe to call graph methods from any other goroutine.
func (l *Loop) Dispatch(fn func()) {
	select {
	case l.dispatch <- fn:
	case <-l.quitCh:
	}
}

// OnIdle installs a callback invoked once per drain cycle after the queues
// are empty, for periodic housekeeping (metrics refresh, shutdown-sequencer
// polling of active-service count).
func (l *Loop) OnIdle(fn func()) { l.onIdle = fn }

// SignalHandler handles SIGTERM/SIGINT/SIGHUP. With none installed (nil),
// those signals are not acted on: the loop only drains the reactor, and no
// shutdown is requested. SIGCHLD is always drained silently since procexec
// reaps via cmd.Wait, not via a SIGCHLD handler.
type SignalHandler func(sig os.Signal)

var defaultSignalHandler SignalHandler

// SetSignalHandler installs fn to be called for every received signal
// other than SIGCHLD.
func (l *Loop) SetSignalHandler(fn SignalHandler) { defaultSignalHandler = fn }

// Run blocks, servicing the dispatch channel, control-protocol requests,
// and OS signals, draining the reactor after each batch, until Stop is
// called.
func (l *Loop) Run() {
	l.set.ProcessQueues() // settle whatever boot-time Start() calls queued
	if l.onIdle != nil {
		l.onIdle()
	}

	for {
		select {
		case <-l.quitCh:
			return

		case fn := <-l.dispatch:
			fn()
			l.drainDispatchBurst()
			l.set.ProcessQueues()
			if l.onIdle != nil {
				l.onIdle()
			}

		case req := <-l.requestsOrNil():
			if l.handler != nil {
				l.handler(req)
			}
			l.set.ProcessQueues()
			if l.onIdle != nil {
				l.onIdle()
			}

		case sig := <-l.sigCh:
			if sig == syscall.SIGCHLD {
				continue
			}
			if defaultSignalHandler != nil {
				defaultSignalHandler(sig)
			}
			l.set.ProcessQueues()
			if l.onIdle != nil {
				l.onIdle()
			}
		}
	}
}

// drainDispatchBurst opportunistically runs any further dispatch calls
// already queued, so a burst of process-exit callbacks settles in one
// reactor drain instead of one per callback.
func (l *Loop) drainDispatchBurst() {
	for {
		select {
		case fn := <-l.dispatch:
			fn()
		default:
			return
		}
	}
}

func (l *Loop) requestsOrNil() chan *ctlproto.Request {
	if l.requests == nil {
		return nil
	}
	return l.requests
}

// Stop unblocks Run.
func (l *Loop) Stop() { close(l.quitCh) }
