package svcconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/lattice-svc/lattice/pkg/graph"
	"github.com/lattice-svc/lattice/pkg/obslog"
	"github.com/lattice-svc/lattice/pkg/procexec"
)

// Loader resolves service names to on-disk description files across one or
// more directories, and builds the matching graph.Record (plus its
// dependency links) the first time each name is requested.
type Loader struct {
	dirs []string
	set  *graph.Set
	sup  *procexec.Supervisor

	logBufCap int
	mirror    *obslog.Logger
	dispatch  func(fn func())

	loading map[string]bool // names currently mid-resolution, for cycle detection

	LogBuffers map[string]*obslog.LogBuffer
	Triggers   map[string]*graph.TriggerController
}

// NewLoader creates a Loader that searches dirs in order.
func NewLoader(dirs []string, set *graph.Set, sup *procexec.Supervisor, mirror *obslog.Logger, dispatch func(fn func())) *Loader {
	return &Loader{
		dirs:      dirs,
		set:       set,
		sup:       sup,
		mirror:    mirror,
		dispatch:  dispatch,
		logBufCap:  200,
		loading:    make(map[string]bool),
		LogBuffers: make(map[string]*obslog.LogBuffer),
		Triggers:   make(map[string]*graph.TriggerController),
	}
}

// Resolve returns the record for name, loading it (and, recursively, every
// dependency it names) if it is not already in the set. A cycle anywhere
// in that recursive load aborts the whole attempt and rolls back every
// record the attempt itself added.
func (l *Loader) Resolve(name string) (*graph.Record, error) {
	if r, ok := l.set.Find(name); ok {
		return r, nil
	}

	added := map[string]bool{}
	r, err := l.resolve(name, added)
	if err != nil {
		// Best-effort rollback: none of these records have been referenced
		// outside this load attempt yet, so dropping them is safe.
		for n := range added {
			l.set.RemoveRecord(n)
		}
		return nil, err
	}
	return r, nil
}

func (l *Loader) resolve(name string, added map[string]bool) (*graph.Record, error) {
	if r, ok := l.set.Find(name); ok {
		return r, nil
	}
	if l.loading[name] {
		return nil, fmt.Errorf("svcconfig: load cycle detected at %q", name)
	}
	l.loading[name] = true
	defer delete(l.loading, name)

	desc, err := l.find(name)
	if err != nil {
		return nil, err
	}

	hooks := l.buildHooks(desc)
	r := graph.NewRecord(l.set, desc.Name, desc.Kind, hooks)
	r.SetAutoRestart(desc.Restart)
	r.SetOnStartFlags(desc.OnStart)
	r.SetStartOnCompletion(desc.ChainTo)

	for _, dep := range desc.Depends {
		to, err := l.resolve(dep.Name, added)
		if err != nil {
			return nil, fmt.Errorf("%s: dependency %q: %w", name, dep.Name, err)
		}
		r.AddDep(to, dep.Type)
	}

	// Registered only once its dependencies resolved, so a dependency path
	// leading back to name hits the loading check instead of set.Find.
	l.set.AddRecord(r)
	added[name] = true
	return r, nil
}

// find locates and parses name's description file, including any *.d
// directory dependency fragments sitting alongside it.
func (l *Loader) find(name string) (*ServiceDescription, error) {
	for _, dir := range l.dirs {
		path := filepath.Join(dir, name)
		f, err := os.Open(path)
		if err != nil {
			continue
		}
		desc, err := Parse(f, name, path)
		f.Close()
		if err != nil {
			return nil, err
		}
		if extra, err := l.loadDropIns(filepath.Join(dir, name+".d")); err == nil {
			desc.Depends = append(desc.Depends, extra...)
		}
		return desc, nil
	}
	return nil, fmt.Errorf("svcconfig: service %q not found in %v", name, l.dirs)
}

// loadDropIns reads every non-directory entry in a name.d directory, in
// name order and whatever its file name, as a fragment, each
// contributing additional depends-on style lines merged into the parent
// description's dependency list.
func (l *Loader) loadDropIns(dir string) ([]DepEntry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var deps []DepEntry
	for _, n := range names {
		f, err := os.Open(filepath.Join(dir, n))
		if err != nil {
			continue
		}
		frag, err := Parse(f, n, filepath.Join(dir, n))
		f.Close()
		if err != nil {
			return nil, err
		}
		deps = append(deps, frag.Depends...)
	}
	return deps, nil
}
