// Package svcconfig loads on-disk service description files (a small,
// dinit-style key/value DSL) and daemon-wide settings, and resolves a
// ServiceDescription's named dependencies into live graph.Link edges.
package svcconfig

import (
	"time"

	"github.com/lattice-svc/lattice/pkg/graph"
)

// DepEntry names one dependency by service name and link type.
type DepEntry struct {
	Name string
	Type graph.LinkType
}

// ServiceDescription is the parsed form of one on-disk service file.
type ServiceDescription struct {
	Name string
	Kind graph.Kind

	Command     []string
	StopCommand []string
	PIDFile     string
	WorkingDir  string
	Env         []string

	Depends []DepEntry

	Restart       graph.RestartMode
	RestartLimit  int
	RestartWindow time.Duration

	StartTimeout time.Duration
	StopTimeout  time.Duration
	PIDTimeout   time.Duration

	OnStart      graph.OnStartFlags
	ChainTo      string
	LogCapacity  int

	SourceFile string
}
