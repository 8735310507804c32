package graph

// Set owns every Record in a dependency graph plus the two FIFO work
// queues the reactor drains to a fixed point after each externally
// triggered event: start(), stop(), a hook calling Started/Stopped, or a
// console grant. Because everything here runs on a single goroutine (the
// owning event loop serializes calls into the Set), no locking is needed.
type Set struct {
	records map[string]*Record

	propQueue  []*Record
	transQueue []*Record

	consoleQueue []*Record
	consoleOwner *Record

	active map[*Record]struct{}

	shuttingDown bool

	logger Logger

	draining bool

	chainFn func(name string)
}

// NewSet creates an empty graph. logger may be nil (NopLogger is then
// used implicitly — callers that want fully-silent operation should pass
// graph.NopLogger{}).
func NewSet(logger Logger) *Set {
	if logger == nil {
		logger = NopLogger{}
	}
	return &Set{
		records: make(map[string]*Record),
		active:  make(map[*Record]struct{}),
		logger:  logger,
	}
}

// AddRecord registers r under its name. Names must be unique within a Set.
func (s *Set) AddRecord(r *Record) { s.records[r.name] = r }

// RemoveRecord drops name from the set. Used only to roll back a load
// attempt that failed partway through (e.g. on a dependency cycle); it is
// not a general-purpose teardown and does not touch any links.
func (s *Set) RemoveRecord(name string) { delete(s.records, name) }

// Find looks up a record by name.
func (s *Set) Find(name string) (*Record, bool) {
	r, ok := s.records[name]
	return r, ok
}

// All returns every record currently registered, in no particular order.
func (s *Set) All() []*Record {
	out := make([]*Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	return out
}

// ActiveCount reports how many records are currently marked active,
// for invariant checking (P5) and status reporting.
func (s *Set) ActiveCount() int { return len(s.active) }

func (s *Set) serviceActive(r *Record)   { s.active[r] = struct{}{} }
func (s *Set) serviceInactive(r *Record) { delete(s.active, r) }

// IsShuttingDown reports whether the Set is in the middle of an orderly
// shutdown sequence (see pkg/sysdown), which suppresses start-on-completion
// chaining.
func (s *Set) IsShuttingDown() bool { return s.shuttingDown }

// SetShuttingDown flips the shutdown flag. Once set it is never cleared;
// a Set does not resurrect after shutdown begins.
func (s *Set) SetShuttingDown() { s.shuttingDown = true }

// SetChainFunc installs the callback start-on-completion chaining invokes.
// The daemon wires this to resolve the named record and Start() it; tests
// may leave it nil.
func (s *Set) SetChainFunc(fn func(name string)) { s.chainFn = fn }

func (s *Set) chainTo(name string) {
	if s.chainFn != nil {
		s.chainFn(name)
	}
}

// --- queue management ---

func (s *Set) enqueueProp(r *Record) {
	if !r.inPropQueue {
		r.inPropQueue = true
		s.propQueue = append(s.propQueue, r)
	}
}

func (s *Set) enqueueTransition(r *Record) {
	if !r.inTransQueue {
		r.inTransQueue = true
		s.transQueue = append(s.transQueue, r)
	}
}

// ProcessQueues drains the propagation queue and the transition queue to a
// fixed point. Propagation can feed the transition queue and vice versa
// (a started dependency re-triggers a dependent's transition, which can in
// turn propagate a release), so the two are drained in round-robin until
// both are empty. Recursion is deliberately avoided: a long dependency
// chain must not grow the call stack.
func (s *Set) ProcessQueues() {
	if s.draining {
		return
	}
	s.draining = true
	defer func() { s.draining = false }()

	for len(s.propQueue) > 0 || len(s.transQueue) > 0 {
		for len(s.propQueue) > 0 {
			r := s.propQueue[0]
			s.propQueue = s.propQueue[1:]
			r.inPropQueue = false
			r.DoPropagation()
		}
		for len(s.transQueue) > 0 {
			r := s.transQueue[0]
			s.transQueue = s.transQueue[1:]
			r.inTransQueue = false
			r.ExecuteTransition()
		}
	}
}

// --- console arbitration (§4.4) ---

// appendConsoleQueue enqueues r for console access, granting it
// immediately if the console is currently free.
func (s *Set) appendConsoleQueue(r *Record) {
	if s.consoleOwner == nil && len(s.consoleQueue) == 0 {
		s.consoleOwner = r
		r.AcquiredConsole()
		return
	}
	s.consoleQueue = append(s.consoleQueue, r)
}

// unqueueConsole removes r from the wait queue if it is still waiting
// (used when a queued start is interrupted before it reaches the front).
func (s *Set) unqueueConsole(r *Record) {
	for i, q := range s.consoleQueue {
		if q == r {
			s.consoleQueue = append(s.consoleQueue[:i], s.consoleQueue[i+1:]...)
			return
		}
	}
}

// pullConsoleQueue is called when the current owner releases the console;
// it grants the console to the next queued record, if any.
func (s *Set) pullConsoleQueue() {
	s.consoleOwner = nil
	if len(s.consoleQueue) == 0 {
		return
	}
	next := s.consoleQueue[0]
	s.consoleQueue = s.consoleQueue[1:]
	s.consoleOwner = next
	next.AcquiredConsole()
}

// ConsoleOwner reports which record currently holds the shared console, if
// any.
func (s *Set) ConsoleOwner() (*Record, bool) {
	if s.consoleOwner == nil {
		return nil, false
	}
	return s.consoleOwner, true
}
