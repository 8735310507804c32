package graph

import "testing"

func mustState(t *testing.T, r *Record, want State) {
	t.Helper()
	if got := r.State(); got != want {
		t.Fatalf("%s: state = %s, want %s", r.Name(), got, want)
	}
}

func newInternal(set *Set, name string) *Record {
	r := NewRecord(set, name, KindInternal, DefaultHooks())
	set.AddRecord(r)
	return r
}

// A lone internal service starts and stops synchronously: DefaultHooks'
// bring-up/bring-down call Started/Stopped immediately.
func TestStartStopInternal(t *testing.T) {
	set := NewSet(nil)
	a := newInternal(set, "a")

	a.Start()
	set.ProcessQueues()
	mustState(t, a, Started)

	a.Stop(true)
	set.ProcessQueues()
	mustState(t, a, Stopped)
}

// A hard (Regular) dependency must reach STARTED before its dependent can
// leave STARTING — invariant P2.
func TestHardDependencyOrdering(t *testing.T) {
	set := NewSet(nil)
	dep := newInternal(set, "dep")
	svc := newInternal(set, "svc")
	svc.AddDep(dep, Regular)

	svc.Start()
	set.ProcessQueues()

	mustState(t, dep, Started)
	mustState(t, svc, Started)
	if dep.RequiredBy() != 1 {
		t.Fatalf("dep.RequiredBy() = %d, want 1", dep.RequiredBy())
	}
}

// Stopping a dependency with a hard dependent forces the dependent down
// too (P2 must also hold on the way down).
func TestStoppingDependencyStopsHardDependent(t *testing.T) {
	set := NewSet(nil)
	dep := newInternal(set, "dep")
	svc := newInternal(set, "svc")
	svc.AddDep(dep, Regular)

	svc.Start()
	set.ProcessQueues()
	mustState(t, svc, Started)

	dep.Stop(true)
	set.ProcessQueues()

	mustState(t, dep, Stopped)
	mustState(t, svc, Stopped)
}

// A Soft dependency does not block the dependent's start, and the
// dependent survives the dependency failing to start.
func TestSoftDependencySurvivesFailure(t *testing.T) {
	set := NewSet(nil)
	dep := newInternal(set, "dep")
	dep.hooks.BringUp = func(r *Record) bool { return false }

	svc := newInternal(set, "svc")
	svc.AddDep(dep, Soft)

	svc.Start()
	set.ProcessQueues()

	mustState(t, svc, Started)
	if !dep.DidStartFail() {
		t.Fatalf("dep should have failed to start")
	}
}

// Milestone is hard until satisfied once; once the milestone dependency
// has started, it degrades to soft and no longer holds the dependent down
// when it later stops.
func TestMilestoneDegradesToSoft(t *testing.T) {
	set := NewSet(nil)
	dep := newInternal(set, "dep")
	svc := newInternal(set, "svc")
	link := svc.AddDep(dep, Milestone)

	svc.Start()
	set.ProcessQueues()
	mustState(t, svc, Started)
	if link.hard() {
		t.Fatalf("milestone link should have degraded to soft after satisfaction")
	}

	dep.Stop(true)
	set.ProcessQueues()
	mustState(t, dep, Stopped)
	mustState(t, svc, Started)
}

// Require/Release drive activation without any explicit Start/Stop call —
// the 0->1 transition starts the record, the ->0 transition stops it.
func TestRequireReleaseActivation(t *testing.T) {
	set := NewSet(nil)
	a := newInternal(set, "a")

	a.Require()
	set.ProcessQueues()
	mustState(t, a, Started)

	a.Release(true)
	set.ProcessQueues()
	mustState(t, a, Stopped)
}

// A pinned-started service ignores stop() until explicitly unpinned.
func TestPinStartedBlocksStop(t *testing.T) {
	set := NewSet(nil)
	a := newInternal(set, "a")

	a.Start()
	set.ProcessQueues()
	a.PinStart()

	a.Stop(true)
	set.ProcessQueues()
	mustState(t, a, Started)

	a.Unpin()
	set.ProcessQueues()
	mustState(t, a, Stopped)
}

// restart() bounces a started service through stop/start while preserving
// its own activation; it is a no-op on anything not already STARTED.
func TestRestart(t *testing.T) {
	set := NewSet(nil)
	a := newInternal(set, "a")

	if a.Restart() {
		t.Fatalf("restart() on a stopped service should be a no-op")
	}

	a.Start()
	set.ProcessQueues()
	mustState(t, a, Started)

	if !a.Restart() {
		t.Fatalf("restart() on a started service should report true")
	}
	set.ProcessQueues()
	mustState(t, a, Started)
	if a.RequiredBy() != 1 {
		t.Fatalf("restart should preserve activation, got RequiredBy()=%d", a.RequiredBy())
	}
}

// The console arbiter grants exclusive access one record at a time, in
// FIFO order.
func TestConsoleArbiterFIFO(t *testing.T) {
	set := NewSet(nil)
	var order []string

	mk := func(name string) *Record {
		r := newInternal(set, name)
		r.onStart.StartsOnConsole = true
		r.hooks.BringUp = func(r *Record) bool {
			order = append(order, r.Name())
			r.Started()
			return true
		}
		return r
	}

	a := mk("a")
	b := mk("b")

	a.Start()
	set.ProcessQueues()
	b.Start()
	set.ProcessQueues()

	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Fatalf("console grants out of order: %v", order)
	}
	mustState(t, a, Started)
	mustState(t, b, Started)
}

// WaitsFor starts its dependency alongside the dependent and, like Soft,
// blocks the dependent in STARTING until the dependency reaches STARTED or
// fails — without ever being a hard link itself.
func TestWaitsForOrdering(t *testing.T) {
	set := NewSet(nil)
	dep := newInternal(set, "dep")
	svc := newInternal(set, "svc")
	link := svc.AddDep(dep, WaitsFor)

	svc.Start()
	set.ProcessQueues()

	mustState(t, dep, Started)
	mustState(t, svc, Started)
	if link.hard() {
		t.Fatalf("waits-for should never be hard")
	}
}

// A hard link added while the dependent was never started at all never
// acquires an activation (HoldingAcq stays false), so it must never block
// the dependency's stop even though the link itself is hard.
func TestInactiveHardDependentNeverBlocksStop(t *testing.T) {
	set := NewSet(nil)
	dep := newInternal(set, "dep")
	svc := newInternal(set, "svc")
	svc.AddDep(dep, Regular)

	dep.Start()
	set.ProcessQueues()
	mustState(t, dep, Started)

	dep.Stop(true)
	set.ProcessQueues()
	mustState(t, dep, Stopped)
	mustState(t, svc, Stopped)
}

// A hard dependent that starts while its dependency is itself still
// starting flags WaitingOn before its own propagation pass has run
// Require() against it, so HoldingAcq is briefly false while it is
// already live. If the dependency is torn down in that exact window, the
// dependent must fail forward instead of being left stuck waiting on a
// dependency that will never start. dep itself is still explicitly started
// (desired state Started), so the forced stop takes it down and Stopped
// brings it straight back up, the same way Restart's force-stopped hard
// dependents come back.
func TestHardDependentMidStartFailsForwardOnTeardown(t *testing.T) {
	set := NewSet(nil)
	dep := newInternal(set, "dep")
	svc := newInternal(set, "svc")
	svc.AddDep(dep, Regular)

	dep.Start()
	svc.Start()
	dep.ForcedStop()

	set.ProcessQueues()

	mustState(t, dep, Started)
	mustState(t, svc, Stopped)
	if !svc.DidStartFail() {
		t.Fatalf("svc should have failed to start once its hard dependency was torn down mid-wait")
	}
}
