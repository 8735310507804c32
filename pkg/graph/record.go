package graph

// Record is one node of the dependency graph: a service's state machine,
// its activation counter, its dependency lists, and the one-shot
// propagation flags the reactor drains. It carries no process-specific
// state at all — that lives behind the Hooks capability object supplied at
// construction (see NewRecord and §4.5 of SPEC_FULL.md).
type Record struct {
	name string
	kind Kind
	set  *Set

	state   State
	desired State

	dependsOn  []*Link
	dependents []*Link

	requiredBy    int
	startExplicit bool

	pinnedStarted bool
	pinnedStopped bool

	autoRestart RestartMode
	restarting  bool // smooth-recovery: mid intentional stop-to-start cycle
	forceStop   bool

	waitingForDeps    bool
	waitingForConsole bool
	haveConsole       bool

	startFailed  bool
	startSkipped bool

	stopReason        StopReason
	startOnCompletion string

	onStart OnStartFlags

	// One-shot propagation flags, consumed in fixed order by DoPropagation.
	propRequire bool
	propRelease bool
	propFailure bool
	propStart   bool
	propStop    bool

	hooks     Hooks
	listeners []Listener

	inPropQueue bool
	inTransQueue bool
}

// NewRecord creates a STOPPED, inactive record with the given hooks. A zero
// Hooks behaves like an internal (process-less) service.
func NewRecord(set *Set, name string, kind Kind, hooks Hooks) *Record {
	return &Record{
		name:  name,
		kind:  kind,
		set:   set,
		state: Stopped,
		hooks: hooks.fillDefaults(),
	}
}

// --- identity & read-only accessors ---

func (r *Record) Name() string            { return r.name }
func (r *Record) Kind() Kind              { return r.kind }
func (r *Record) State() State            { return r.state }
func (r *Record) Desired() State          { return r.desired }
func (r *Record) StopReason() StopReason  { return r.stopReason }
func (r *Record) RequiredBy() int         { return r.requiredBy }
func (r *Record) Dependencies() []*Link   { return r.dependsOn }
func (r *Record) Dependents() []*Link     { return r.dependents }
func (r *Record) IsMarkedActive() bool    { return r.startExplicit }
func (r *Record) IsPinnedStarted() bool   { return r.pinnedStarted }
func (r *Record) IsPinnedStopped() bool   { return r.pinnedStopped }
func (r *Record) DidStartFail() bool      { return r.startFailed }
func (r *Record) WasStartSkipped() bool   { return r.startSkipped }
func (r *Record) HasConsole() bool        { return r.haveConsole }
func (r *Record) PID() int                { return r.hooks.PID(r) }
func (r *Record) ExitStatus() ExitStatus  { return r.hooks.ExitStatus(r) }
func (r *Record) AutoRestart() RestartMode { return r.autoRestart }

func (r *Record) SetAutoRestart(m RestartMode)   { r.autoRestart = m }
func (r *Record) SetOnStartFlags(f OnStartFlags) { r.onStart = f }
func (r *Record) SetStartOnCompletion(name string) { r.startOnCompletion = name }

func (r *Record) AddListener(l Listener) { r.listeners = append(r.listeners, l) }
func (r *Record) RemoveListener(l Listener) {
	for i, existing := range r.listeners {
		if existing == l {
			r.listeners = append(r.listeners[:i], r.listeners[i+1:]...)
			return
		}
	}
}

func (r *Record) notify(ev Event) {
	for _, l := range r.listeners {
		l.ServiceEvent(r.name, ev)
	}
}

// fundamentallyStopped reports whether a record is effectively inert: either
// resting at STOPPED, or STARTING but still blocked on its own dependencies
// (so it has not actually brought anything up yet).
func (r *Record) fundamentallyStopped() bool {
	return r.state == Stopped || (r.state == Starting && r.waitingForDeps)
}

// --- dependency graph edits (used by the config loader) ---

// AddDep creates a link from r to to. If r is already active and the link
// is not ordering-only, it immediately acquires an activation on to — a
// Regular link always, any other link only if to is itself active —
// mirroring what DoPropagation would do on the next reactor pass.
func (r *Record) AddDep(to *Record, t LinkType) *Link {
	link := newLink(r, to, t)
	r.dependsOn = append(r.dependsOn, link)
	to.dependents = append(to.dependents, link)

	if !t.orderingOnly() {
		toActive := to.state == Starting || to.state == Started
		if (t == Regular || toActive) && (r.state == Starting || r.state == Started) {
			to.Require()
			link.HoldingAcq = true
		}
	}
	return link
}

// RmDep removes the first link of type t from r to to, releasing any
// activation it was holding.
func (r *Record) RmDep(to *Record, t LinkType) bool {
	for i, link := range r.dependsOn {
		if link.To == to && link.Type == t {
			r.removeDepAt(i)
			return true
		}
	}
	return false
}

func (r *Record) removeDepAt(i int) {
	link := r.dependsOn[i]
	to := link.To
	for j, d := range to.dependents {
		if d == link {
			to.dependents = append(to.dependents[:j], to.dependents[j+1:]...)
			break
		}
	}
	if link.HoldingAcq {
		to.Release(true)
	}
	r.dependsOn = append(r.dependsOn[:i], r.dependsOn[i+1:]...)
}

// --- public contract: §4.1 ---

// Start records explicit user intent to run r and drives the start path.
func (r *Record) Start() {
	if r.pinnedStopped && r.state == Stopped {
		return
	}
	if !r.startExplicit {
		r.startExplicit = true
		r.requiredBy++
	}
	r.doStart()
}

// Stop clears explicit activation and, once nothing else needs r, drives
// the stop path. The decrement of requiredBy happens unconditionally,
// before the pin check — see the Open Question note in SPEC_FULL.md §9.
func (r *Record) Stop(bringDown bool) {
	if r.startExplicit {
		r.startExplicit = false
		r.requiredBy--
	}
	if bringDown || r.requiredBy == 0 {
		r.desired = Stopped
	}
	if r.pinnedStarted {
		return
	}
	if r.requiredBy == 0 {
		bringDown = true
		r.propRelease = !r.propRequire
		if r.propRelease {
			r.set.enqueueProp(r)
		}
	}
	if bringDown && r.state != Stopped {
		r.stopReason = ReasonNormal
		r.doStop()
	}
}

// Restart bounces a STARTED service through a stop/start cycle, preserving
// its activation links. It returns false (a no-op) if r is not STARTED.
func (r *Record) Restart() bool {
	if r.state != Started {
		return false
	}
	r.stopReason = ReasonNormal
	r.restarting = true
	// Force hard dependents down too: they will come back up on their own
	// once r restarts, because their own desired state is untouched.
	r.forceStop = true
	r.doStop()
	return true
}

// ForcedStop marks r (and, transitively through stop_dependents, its hard
// dependents) for an unconditional stop regardless of desired state.
func (r *Record) ForcedStop() {
	if r.state == Stopped {
		return
	}
	r.forceStop = true
	if r.pinnedStarted {
		return
	}
	r.propStop = true
	r.set.enqueueProp(r)
}

// Require increments the activation count. A 0→1 transition on a record
// that is not already starting/started schedules a start via the
// propagation queue — dependencies are only required lazily, from
// DoPropagation's prop_require step.
func (r *Record) Require() {
	r.requiredBy++
	if r.requiredBy == 1 && r.state != Starting && r.state != Started {
		r.propStart = true
		r.set.enqueueProp(r)
	}
}

// Release decrements the activation count and, if it reaches zero, arranges
// for r to stop (unless pinned started).
func (r *Record) Release(issueStop bool) {
	r.requiredBy--
	if r.requiredBy != 0 {
		return
	}
	if r.state == Stopping && r.desired == Started && !r.pinnedStarted {
		r.notify(EvStartCancelled)
	}
	r.desired = Stopped
	if r.pinnedStarted {
		return
	}
	r.propRelease = !r.propRequire
	r.propRequire = false
	if r.propRelease {
		r.set.enqueueProp(r)
	}
	if issueStop && r.state != Stopped && r.state != Stopping {
		r.stopReason = ReasonNormal
		r.doStop()
	}
}

// releaseDependencies drops every activation r currently holds on its
// dependencies. HoldingAcq is cleared before calling Release so a
// re-entrant call during the target's own propagation cannot double-release.
func (r *Record) releaseDependencies() {
	for _, link := range r.dependsOn {
		if link.HoldingAcq {
			link.HoldingAcq = false
			link.To.Release(true)
		}
	}
}

// Unpin lifts whichever pin is set and, if the pin had suppressed a
// transition the user already asked for, issues it immediately.
func (r *Record) Unpin() {
	if r.pinnedStarted {
		r.pinnedStarted = false
		if r.state == Started {
			if r.requiredBy == 0 {
				r.propRelease = true
				r.set.enqueueProp(r)
			}
			if r.desired == Stopped || r.forceStop {
				r.doStop()
				r.set.ProcessQueues()
			}
		}
	}
	r.pinnedStopped = false
}

// PinStart pins r in STARTED, overriding future stop requests until Unpin.
func (r *Record) PinStart() { r.pinnedStarted = true }

// PinStop pins r in STOPPED, overriding future start requests until Unpin.
func (r *Record) PinStop() { r.pinnedStopped = true }

// --- §4.1.4 propagation pass ---

// DoPropagation drains every pending one-shot flag on r, in fixed order:
// require/release settle activation counts before start/stop act on them.
func (r *Record) DoPropagation() {
	if r.propRequire {
		r.propRequire = false
		for _, link := range r.dependsOn {
			if !link.Type.orderingOnly() {
				link.To.Require()
				link.HoldingAcq = true
			}
		}
	}
	if r.propRelease {
		r.propRelease = false
		r.releaseDependencies()
	}
	if r.propFailure {
		r.propFailure = false
		r.stopReason = ReasonDepFailed
		r.failedToStart(true)
	}
	if r.propStart {
		r.propStart = false
		r.doStart()
	}
	if r.propStop {
		r.propStop = false
		r.doStop()
	}
}

// --- §4.1.1 start path ---

func (r *Record) doStart() {
	wasActive := r.state != Stopped
	r.desired = Started

	if r.pinnedStopped {
		if !wasActive {
			r.failedToStartPinned()
		}
		return
	}

	if wasActive {
		if r.state != Stopping {
			return
		}
		if !r.hooks.CanInterruptStop(r) {
			return
		}
		r.notify(EvStopCancelled)
	} else {
		r.set.serviceActive(r)
		r.propRequire = !r.propRelease
		r.propRelease = false
		if r.propRequire {
			r.set.enqueueProp(r)
		}
	}

	r.initiateStart()
}

// failedToStartPinned reports the non-error "can't start, pinned stopped"
// outcome without ever marking r active.
func (r *Record) failedToStartPinned() {
	r.startFailed = true
	r.notify(EvFailedStart)
}

func (r *Record) initiateStart() {
	r.startFailed = false
	r.startSkipped = false
	r.state = Starting
	r.waitingForDeps = true

	if r.startCheckDependencies() {
		r.set.enqueueTransition(r)
	}
}

// startCheckDependencies flags waiting_on on every unstarted dependency that
// is not ordering-only (hard and soft alike) and returns true iff all of
// them were already STARTED.
func (r *Record) startCheckDependencies() bool {
	allStarted := true
	for _, link := range r.dependsOn {
		if link.Type.orderingOnly() {
			continue
		}
		if link.To.state != Started {
			link.WaitingOn = true
			allStarted = false
		}
	}
	return allStarted
}

// checkDepsStarted reports whether every outgoing link has cleared
// waiting_on (the gate execute_transition polls for a STARTING record).
func (r *Record) checkDepsStarted() bool {
	for _, link := range r.dependsOn {
		if link.WaitingOn {
			return false
		}
	}
	return true
}

// allDepsStarted is invoked once checkDepsStarted has become true; it
// arbitrates the console, then hands off to the payload's BringUp hook.
func (r *Record) allDepsStarted() {
	if r.onStart.StartsOnConsole && !r.haveConsole {
		r.queueForConsole()
		return
	}

	r.waitingForDeps = false
	if !r.hooks.CanProceedToStart(r) {
		r.waitingForDeps = true
		return
	}

	r.restarting = false

	if r.hooks.BringUp(r) {
		r.reattachSoftDependents()
	} else {
		// BringUp refused synchronously: nothing was actually started, so
		// there is no bring-down to wait for. Go straight to STOPPED.
		r.state = Stopped
		r.failedToStart(false)
	}
}

// reattachSoftDependents re-establishes activations from dependents whose
// own start is still in flight or complete, once r has itself come up.
func (r *Record) reattachSoftDependents() {
	for _, dept := range r.dependents {
		if dept.Type.orderingOnly() || dept.hard() || dept.HoldingAcq {
			continue
		}
		if dept.From.state == Starting || dept.From.state == Started {
			dept.HoldingAcq = true
			r.requiredBy++
		}
	}
}

// Started is called by a kind's BringUp hook once the payload is actually
// up. It clears waiting_on on every dependent that was blocked on r in the
// same call that marks r STARTED, so no dependent can observe r as STARTED
// while still marked waiting_on.
func (r *Record) Started() {
	if r.haveConsole && !r.onStart.RunsOnConsole {
		r.releaseConsole()
	}

	if r.set.logger != nil {
		r.set.logger.ServiceStarted(r.name)
	}
	r.state = Started
	r.notify(EvStarted)

	if r.forceStop || r.desired == Stopped {
		r.doStop()
		return
	}

	for _, dept := range r.dependents {
		if dept.WaitingOn {
			dept.WaitingOn = false
			dept.From.dependencyStarted()
		}
	}
}

// --- §4.1.2 stop path ---

func (r *Record) doStop() {
	if r.pinnedStarted {
		return
	}

	allDepsStopped := r.stopDependents()

	if r.state == Starting {
		if !r.waitingForDeps && !r.waitingForConsole {
			if !r.hooks.CanInterruptStart(r) {
				return
			}
			if !r.hooks.InterruptStart(r) {
				r.notify(EvStartCancelled)
				return
			}
		} else if r.waitingForConsole {
			r.set.unqueueConsole(r)
			r.waitingForConsole = false
		}
		r.notify(EvStartCancelled)
	} else if r.state != Started {
		return
	}

	r.state = Stopping
	r.waitingForDeps = !allDepsStopped
	if allDepsStopped {
		r.set.enqueueTransition(r)
	}
}

// stopDependents propagates the stop to hard dependents that are actually
// holding an activation on r (force-stopping them too if r itself is
// force-stopping), fails forward a hard dependent that is still mid-start
// and has not acquired that activation yet, and severs soft dependent
// links that should not survive a non-restart stop. It returns true iff no
// hard-and-holding dependent is still blocking r from reaching STOPPED.
func (r *Record) stopDependents() bool {
	allStopped := true
	for _, dept := range r.dependents {
		if dept.hard() && dept.HoldingAcq {
			if !dept.From.fundamentallyStopped() {
				allStopped = false
			}
			if r.forceStop {
				dept.From.ForcedStop()
			}
			if dept.From.state != Stopped && r.desired == Stopped && dept.From.desired != Stopped {
				dept.From.desired = Stopped
				if dept.From.startExplicit {
					dept.From.startExplicit = false
					dept.From.Release(true)
				}
				dept.From.propStop = true
				r.set.enqueueProp(dept.From)
			}
		} else if dept.hard() {
			// Hard but not yet holding: dept.From is mid-start and has
			// flagged WaitingOn on this link, but its own propagation
			// pass has not yet run Require() against r. r disappearing
			// now means that wait can never be satisfied — fail it
			// forward the same way a hard dependency's outright start
			// failure is routed in failedToStart, rather than leaving
			// dept.From stuck waiting on a dependency that will never
			// start.
			if dept.From.state == Starting {
				dept.From.propFailure = true
				r.set.enqueueProp(dept.From)
			}
		} else if !r.restarting {
			if dept.WaitingOn {
				dept.WaitingOn = false
				dept.From.dependencyStarted()
			}
			if dept.HoldingAcq {
				dept.HoldingAcq = false
				r.Release(false)
			}
		}
	}
	return allStopped
}

// stopCheckDependents reports whether every hard dependent still holding an
// activation on r has itself become fundamentally stopped — the gate
// execute_transition polls for a STOPPING record.
func (r *Record) stopCheckDependents() bool {
	for _, dept := range r.dependents {
		if dept.hard() && dept.HoldingAcq && !dept.From.fundamentallyStopped() {
			return false
		}
	}
	return true
}

// bringDown is invoked by execute_transition once stopCheckDependents is
// satisfied; it hands off to the payload's BringDown hook, which is
// expected to eventually call Stopped.
func (r *Record) bringDown() {
	r.hooks.BringDown(r)
}

// Stopped is called by a kind's BringDown hook once the payload has
// actually stopped. It runs the full terminal protocol: console release,
// soft-dependency teardown, dependent notification, smooth-recovery
// restart, inactivity bookkeeping, and chain-to-completion.
func (r *Record) Stopped() {
	if r.haveConsole {
		r.releaseConsole()
	}
	r.forceStop = false

	willRestart := r.desired == Started && !r.pinnedStopped

	if !willRestart {
		r.restarting = false
		for _, dept := range r.dependents {
			if dept.hard() {
				continue
			}
			if dept.WaitingOn {
				dept.WaitingOn = false
				dept.From.dependencyStarted()
			}
			if dept.HoldingAcq {
				dept.HoldingAcq = false
				r.Release(false)
			}
		}
	}

	for _, link := range r.dependsOn {
		link.To.dependentStopped()
	}

	r.state = Stopped
	r.waitingForDeps = false

	if willRestart {
		r.initiateStart()
	} else {
		r.hooks.BecomingInactive(r)
		if r.startExplicit {
			r.startExplicit = false
			r.Release(false)
		} else if r.requiredBy == 0 {
			r.set.serviceInactive(r)
		}
	}

	if !r.startFailed {
		if r.set.logger != nil {
			r.set.logger.ServiceStopped(r.name)
		}
		if r.startOnCompletion != "" && !r.set.IsShuttingDown() {
			shouldChain := r.onStart.AlwaysChain ||
				(r.stopReason.FinishedCleanly() && r.ExitStatus().Exited() &&
					r.ExitStatus().ExitCode() == 0 && !willRestart)
			if shouldChain {
				r.set.chainTo(r.startOnCompletion)
			}
		}
	}
	r.notify(EvStopped)
}

// --- §4.1.3 failure path ---

// failedToStart handles a payload that refused to come up (own failure) or
// a hard dependency that failed first (depFailed, routed here through
// prop_failure).
func (r *Record) failedToStart(immediateStop bool) {
	r.desired = Stopped

	if r.waitingForConsole {
		r.set.unqueueConsole(r)
		r.waitingForConsole = false
	}

	if r.startExplicit {
		r.startExplicit = false
		r.Release(false)
	}

	for _, dept := range r.dependents {
		switch {
		case dept.Type == Regular || dept.Type == Milestone:
			if dept.From.state == Starting {
				dept.From.propFailure = true
				r.set.enqueueProp(dept.From)
			}
		default:
			if dept.WaitingOn {
				dept.WaitingOn = false
				dept.From.dependencyStarted()
			}
		}
		if dept.HoldingAcq {
			dept.HoldingAcq = false
			r.Release(false)
		}
	}

	r.startFailed = true
	if r.set.logger != nil {
		r.set.logger.ServiceFailed(r.name, r.stopReason == ReasonDepFailed)
	}
	r.notify(EvFailedStart)

	if immediateStop {
		r.Stopped()
	}
}

// --- cross-record notifications ---

// dependencyStarted is invoked on a record when one of its dependencies has
// just reached STARTED (or failed/stopped while this record was waiting on
// it); it re-enqueues r on the transition queue so the next reactor pass
// re-polls checkDepsStarted.
func (r *Record) dependencyStarted() {
	if (r.state == Starting || r.state == Started) && r.waitingForDeps {
		r.set.enqueueTransition(r)
	}
}

// dependentStopped is invoked on a dependency when one of its dependents
// has just stopped; it re-enqueues r so the next reactor pass re-polls
// stopCheckDependents.
func (r *Record) dependentStopped() {
	if r.state == Stopping && r.waitingForDeps {
		r.set.enqueueTransition(r)
	}
}

// --- §4.3 reactor hook ---

// ExecuteTransition advances r one step once whatever it was blocked on has
// cleared: checkDepsStarted for a STARTING record, stopCheckDependents for
// a STOPPING one.
func (r *Record) ExecuteTransition() {
	switch r.state {
	case Starting:
		if r.checkDepsStarted() {
			r.allDepsStarted()
		}
	case Stopping:
		if r.stopCheckDependents() {
			r.waitingForDeps = false
			r.bringDown()
		}
	}
}

// --- §4.4 console arbiter callbacks ---

func (r *Record) queueForConsole() {
	r.waitingForConsole = true
	r.set.appendConsoleQueue(r)
}

func (r *Record) releaseConsole() {
	r.haveConsole = false
	r.set.pullConsoleQueue()
}

// AcquiredConsole is called by the console arbiter when r reaches the head
// of the queue. If r no longer needs the console (its start was cancelled)
// or cannot yet use it (dependencies regressed), it is released immediately.
func (r *Record) AcquiredConsole() {
	r.waitingForConsole = false
	r.haveConsole = true

	if r.state != Starting {
		r.releaseConsole()
		return
	}
	if r.checkDepsStarted() {
		r.allDepsStarted()
	} else {
		r.releaseConsole()
	}
}
