// Package sysdown sequences an orderly machine shutdown once the engine
// reports zero active services, and, when running as PID 1, sets up the
// subreaper/console/Ctrl-Alt-Del state an init process needs from the
// moment it starts.
package sysdown

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/lattice-svc/lattice/internal/util"
	"github.com/lattice-svc/lattice/pkg/graph"
)

// Kind is the requested shutdown action.
type Kind int

const (
	Halt Kind = iota
	Poweroff
	Reboot
	SoftReboot
)

func ParseKind(s string) (Kind, error) {
	switch s {
	case "halt":
		return Halt, nil
	case "poweroff":
		return Poweroff, nil
	case "reboot":
		return Reboot, nil
	case "soft-reboot":
		return SoftReboot, nil
	default:
		return 0, fmt.Errorf("sysdown: unknown shutdown kind %q", s)
	}
}

// InitPID1 performs the one-time setup an init process needs: become the
// child subreaper so orphaned grandchildren are reaped by us rather than
// PID 1's own parent (there is none), disable the kernel's Ctrl-Alt-Del
// reboot shortcut, and ignore the terminal job-control signals a
// controlling shell would otherwise send us.
func InitPID1(logger graph.Logger) {
	if os.Getpid() != 1 {
		return
	}
	if err := unix.Prctl(unix.PR_SET_CHILD_SUBREAPER, 1, 0, 0, 0); err != nil {
		logger.Errorf("sysdown: set child subreaper: %v", err)
	}
	if err := util.RedirectConsole("/dev/console"); err != nil {
		logger.Errorf("sysdown: redirect console: %v", err)
	}
	if err := unix.Reboot(unix.LINUX_REBOOT_CMD_CAD_OFF); err != nil {
		logger.Errorf("sysdown: disable ctrl-alt-del: %v", err)
	}
	signal.Ignore(syscall.SIGTSTP, syscall.SIGTTIN, syscall.SIGTTOU)
}

// Sequencer runs the terminal shutdown sequence once the event loop tells
// it the graph has quiesced.
type Sequencer struct {
	logger graph.Logger
	reexec func() error // used by SoftReboot; normally defaultReexec
}

// New creates a Sequencer. reexec is called for SoftReboot; pass nil to
// use the default (re-exec the current binary with os.Args).
func New(logger graph.Logger, reexec func() error) *Sequencer {
	if logger == nil {
		logger = graph.NopLogger{}
	}
	if reexec == nil {
		reexec = defaultReexec
	}
	return &Sequencer{logger: logger, reexec: reexec}
}

// Run executes kind. On success it never returns for Halt/Poweroff/Reboot
// (the syscall itself stops the machine); on syscall failure it logs and
// blocks forever rather than let the daemon exit, because PID 1 exiting
// panics the kernel.
func (s *Sequencer) Run(kind Kind) {
	s.killStragglers()
	unix.Sync()

	var err error
	switch kind {
	case Halt:
		err = unix.Reboot(unix.LINUX_REBOOT_CMD_HALT)
	case Poweroff:
		err = unix.Reboot(unix.LINUX_REBOOT_CMD_POWER_OFF)
	case Reboot:
		err = unix.Reboot(unix.LINUX_REBOOT_CMD_RESTART)
	case SoftReboot:
		err = s.reexec()
	}

	if err != nil {
		s.logger.Errorf("sysdown: shutdown syscall failed, holding: %v", err)
	}
	select {} // PID 1 must never return from here
}

// killStragglers sends SIGTERM to every process it is allowed to signal
// (kill(-1)), and only when running as PID 1. It sends no SIGKILL
// follow-up and does not wait for the processes to exit.
func (s *Sequencer) killStragglers() {
	if os.Getpid() != 1 {
		return
	}
	_ = unix.Kill(-1, syscall.SIGTERM)
}

func defaultReexec() error {
	argv0, err := os.Executable()
	if err != nil {
		return err
	}
	return syscall.Exec(argv0, os.Args, os.Environ())
}
