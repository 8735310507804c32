// Package svcstat builds the point-in-time status snapshot the control
// protocol's list/status commands serialize to a client: engine-visible
// state plus, for services backed by a real process, resource usage.
package svcstat

import (
	"github.com/lattice-svc/lattice/pkg/graph"
	"github.com/lattice-svc/lattice/pkg/procexec"
)

// Entry is one service's status snapshot.
type Entry struct {
	Name        string
	Kind        string
	State       string
	Desired     string
	RequiredBy  int
	PinnedStart bool
	PinnedStop  bool
	PID         int
	RSSBytes    uint64
	CPUPct      float64
}

// Snapshot returns one Entry per record currently in set, in no particular
// order; callers that want a stable order (e.g. latticectl's table) should
// sort by Name.
func Snapshot(set *graph.Set) []Entry {
	records := set.All()
	out := make([]Entry, 0, len(records))
	for _, r := range records {
		e := Entry{
			Name:        r.Name(),
			Kind:        r.Kind().String(),
			State:       r.State().String(),
			Desired:     r.Desired().String(),
			RequiredBy:  r.RequiredBy(),
			PinnedStart: r.IsPinnedStarted(),
			PinnedStop:  r.IsPinnedStopped(),
			PID:         r.PID(),
		}
		if e.PID > 0 {
			if stats, err := procexec.ReadStats(e.PID); err == nil {
				e.RSSBytes = stats.RSSBytes
				e.CPUPct = stats.CPUPct
			}
		}
		out = append(out, e)
	}
	return out
}
