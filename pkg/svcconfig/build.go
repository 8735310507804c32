package svcconfig

import (
	"syscall"
	"time"

	"github.com/lattice-svc/lattice/pkg/graph"
	"github.com/lattice-svc/lattice/pkg/obslog"
	"github.com/lattice-svc/lattice/pkg/procexec"
)

const defaultPIDTimeout = 5 * time.Second

// buildHooks constructs the capability object for desc's kind, wiring its
// captured stdout/stderr into a fresh LogBuffer and, for process kinds,
// the shared Supervisor.
func (l *Loader) buildHooks(desc *ServiceDescription) graph.Hooks {
	buf := obslog.NewLogBuffer(orCap(desc.LogCapacity, l.logBufCap), l.mirror, desc.Name)
	l.LogBuffers[desc.Name] = buf

	switch desc.Kind {
	case graph.KindProcess:
		return procexec.NewProcessHooks(l.sup, procexec.ProcessConfig{
			Spec: procexec.Spec{
				Command:    desc.Command,
				WorkingDir: desc.WorkingDir,
				Env:        desc.Env,
				Stdout:     buf,
				Stderr:     buf,
			},
			StartTimeout:  desc.StartTimeout,
			StopSignal:    syscall.SIGTERM,
			StopTimeout:   desc.StopTimeout,
			RestartLimit:  desc.RestartLimit,
			RestartWindow: desc.RestartWindow,
			Dispatch:      l.dispatch,
		})

	case graph.KindBGProcess:
		return procexec.NewBGProcessHooks(l.sup, procexec.BGProcessConfig{
			LaunchSpec: procexec.Spec{
				Command:    desc.Command,
				WorkingDir: desc.WorkingDir,
				Env:        desc.Env,
				Stdout:     buf,
				Stderr:     buf,
			},
			PIDFile:     desc.PIDFile,
			PIDTimeout:  orDuration(desc.PIDTimeout, defaultPIDTimeout),
			StopSignal:  syscall.SIGTERM,
			StopTimeout: desc.StopTimeout,
			Dispatch:    l.dispatch,
		})

	case graph.KindScripted:
		return procexec.NewScriptedHooks(l.sup, procexec.ScriptedConfig{
			StartSpec: procexec.Spec{
				Command:    desc.Command,
				WorkingDir: desc.WorkingDir,
				Env:        desc.Env,
				Stdout:     buf,
				Stderr:     buf,
			},
			StopSpec: procexec.Spec{
				Command:    desc.StopCommand,
				WorkingDir: desc.WorkingDir,
				Env:        desc.Env,
				Stdout:     buf,
				Stderr:     buf,
			},
			StartTimeout: desc.StartTimeout,
			StopTimeout:  desc.StopTimeout,
			Dispatch:     l.dispatch,
		})

	case graph.KindTriggered:
		hooks, tc := graph.NewTriggeredHooks()
		l.Triggers[desc.Name] = tc
		return hooks

	default:
		return graph.NewInternalHooks()
	}
}

func orCap(v, d int) int {
	if v == 0 {
		return d
	}
	return v
}

func orDuration(v, d time.Duration) time.Duration {
	if v == 0 {
		return d
	}
	return v
}
