package graph

import "testing"

// newConsoleClaimant returns a record that is STARTING with its payload
// still coming up (BringUp succeeds without calling Started), so it keeps
// the console once granted instead of releasing it on the spot.
func newConsoleClaimant(set *Set, name string) *Record {
	r := newInternal(set, name)
	r.state = Starting
	r.hooks.BringUp = func(*Record) bool { return true }
	return r
}

// A console request arriving while the console is free is granted
// immediately; a second request queues behind the first and is granted
// only once the owner releases it.
func TestConsoleArbiterQueuesBehindOwner(t *testing.T) {
	set := NewSet(nil)
	a := newConsoleClaimant(set, "a")
	b := newConsoleClaimant(set, "b")

	set.appendConsoleQueue(a)
	if owner, ok := set.ConsoleOwner(); !ok || owner != a {
		t.Fatalf("console should have been granted to a immediately")
	}

	set.appendConsoleQueue(b)
	if owner, _ := set.ConsoleOwner(); owner != a {
		t.Fatalf("console owner changed while a still holds it")
	}

	set.pullConsoleQueue()
	owner, ok := set.ConsoleOwner()
	if !ok || owner != b {
		t.Fatalf("console should have passed to b, got %v", owner)
	}
}

// unqueueConsole removes a still-waiting record without disturbing the
// current owner or the rest of the queue's order.
func TestConsoleArbiterUnqueueMidQueue(t *testing.T) {
	set := NewSet(nil)
	a := newInternal(set, "a")
	b := newInternal(set, "b")
	c := newInternal(set, "c")

	set.appendConsoleQueue(a)
	set.appendConsoleQueue(b)
	set.appendConsoleQueue(c)

	set.unqueueConsole(b)
	set.pullConsoleQueue()

	owner, ok := set.ConsoleOwner()
	if !ok || owner != c {
		t.Fatalf("expected c to be granted the console after b was dequeued, got %v", owner)
	}
}

// ProcessQueues is re-entrant-safe: a hook that calls back into the Set
// while already draining (e.g. a synchronous BringUp enqueuing further
// work) must not recurse into a second drain.
func TestProcessQueuesGuardsReentrancy(t *testing.T) {
	set := NewSet(nil)
	var drains int

	a := newInternal(set, "a")
	a.hooks.BringUp = func(r *Record) bool {
		drains++
		set.ProcessQueues() // must be a no-op: draining is already true
		r.Started()
		return true
	}

	a.Start()
	set.ProcessQueues()

	mustState(t, a, Started)
	if drains != 1 {
		t.Fatalf("BringUp invoked %d times, want 1", drains)
	}
}

// RemoveRecord drops a name from the Set without otherwise touching the
// remaining graph (used only for load-cycle rollback).
func TestRemoveRecord(t *testing.T) {
	set := NewSet(nil)
	a := newInternal(set, "a")
	_ = a

	if _, ok := set.Find("a"); !ok {
		t.Fatalf("a should be registered")
	}
	set.RemoveRecord("a")
	if _, ok := set.Find("a"); ok {
		t.Fatalf("a should have been removed")
	}
}
