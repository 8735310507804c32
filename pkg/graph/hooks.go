package graph

// Hooks is the capability object a service kind attaches to a Record to
// implement the engine's extension points. This is deliberately a
// struct of function fields rather than a Go interface the record embeds:
// per-kind policy is data, not a type hierarchy, and a Record never needs
// to know which kind it is wrapping.
//
// Every field has a safe default (see DefaultHooks) so a kind only needs to
// override what it actually cares about.
type Hooks struct {
	// BringUp attempts to start the payload. It returns false to report
	// an immediate failure; on success it may call Started() synchronously
	// or arrange to call it later from another goroutine via the event
	// loop's dispatch channel (see pkg/loopdrv).
	BringUp func(r *Record) bool

	// BringDown is called once a Stopping record has no hard dependents
	// left holding it up. The default transitions straight to Stopped.
	BringDown func(r *Record)

	// CanInterruptStart/InterruptStart govern cancelling an in-flight
	// start. CanInterruptStart is consulted only once the record is no
	// longer waiting on dependencies or the console.
	CanInterruptStart func(r *Record) bool
	InterruptStart    func(r *Record) bool

	// CanInterruptStop governs a start() arriving while Stopping.
	CanInterruptStop func(r *Record) bool

	// CanProceedToStart vetoes a bring-up after dependencies are
	// satisfied but before BringUp is invoked.
	CanProceedToStart func(r *Record) bool

	// CheckRestart reports whether a kind's restart policy currently
	// allows a restart. The engine itself never calls it.
	CheckRestart func(r *Record) bool

	// BecomingInactive is an optional notification fired when a stopped
	// record is about to be marked inactive in its Set.
	BecomingInactive func(r *Record)

	// PID and ExitStatus report process identity for kinds backed by an
	// OS process; both default to "no process".
	PID        func(r *Record) int
	ExitStatus func(r *Record) ExitStatus
}

// DefaultHooks returns the behavior of a process-less ("internal") service:
// bring-up and bring-down complete synchronously and unconditionally, start
// can always be interrupted trivially, and there is no process to report.
func DefaultHooks() Hooks {
	return Hooks{
		BringUp:           func(r *Record) bool { r.Started(); return true },
		BringDown:         func(r *Record) { r.Stopped() },
		CanInterruptStart: func(r *Record) bool { return true },
		InterruptStart:    func(r *Record) bool { return true },
		CanInterruptStop:  func(r *Record) bool { return r.waitingForDeps && !r.forceStop },
		CanProceedToStart: func(r *Record) bool { return true },
		CheckRestart:      func(r *Record) bool { return true },
		BecomingInactive:  func(r *Record) {},
		PID:               func(r *Record) int { return -1 },
		ExitStatus:        func(r *Record) ExitStatus { return ExitStatus{} },
	}
}

// fillDefaults copies in DefaultHooks for any nil field, so callers only
// need to set the hooks their kind actually overrides.
func (h Hooks) fillDefaults() Hooks {
	d := DefaultHooks()
	if h.BringUp == nil {
		h.BringUp = d.BringUp
	}
	if h.BringDown == nil {
		h.BringDown = d.BringDown
	}
	if h.CanInterruptStart == nil {
		h.CanInterruptStart = d.CanInterruptStart
	}
	if h.InterruptStart == nil {
		h.InterruptStart = d.InterruptStart
	}
	if h.CanInterruptStop == nil {
		h.CanInterruptStop = d.CanInterruptStop
	}
	if h.CanProceedToStart == nil {
		h.CanProceedToStart = d.CanProceedToStart
	}
	if h.CheckRestart == nil {
		h.CheckRestart = d.CheckRestart
	}
	if h.BecomingInactive == nil {
		h.BecomingInactive = d.BecomingInactive
	}
	if h.PID == nil {
		h.PID = d.PID
	}
	if h.ExitStatus == nil {
		h.ExitStatus = d.ExitStatus
	}
	return h
}

// ExitStatus wraps the outcome of a terminated child process. Kinds that
// have no process leave it zero-valued.
type ExitStatus struct {
	exited   bool
	signaled bool
	code     int
	signal   int
}

// NewExitStatusExited builds an ExitStatus for a process that ran to
// completion with the given exit code.
func NewExitStatusExited(code int) ExitStatus { return ExitStatus{exited: true, code: code} }

// NewExitStatusSignaled builds an ExitStatus for a process killed by a signal.
func NewExitStatusSignaled(sig int) ExitStatus { return ExitStatus{signaled: true, signal: sig} }

func (e ExitStatus) Exited() bool    { return e.exited }
func (e ExitStatus) ExitCode() int   { return e.code }
func (e ExitStatus) Signaled() bool  { return e.signaled }
func (e ExitStatus) Signal() int     { return e.signal }

// Clean reports whether the process exited with status zero.
func (e ExitStatus) Clean() bool { return e.exited && e.code == 0 }
