// Package procexec spawns, signals, and reaps the child processes behind
// process, scripted, and background-process services, and exposes their
// point-in-time resource usage. None of this is visible to pkg/graph: a
// Supervisor only ever talks to the engine through the Hooks it builds.
package procexec

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sys/unix"

	"github.com/lattice-svc/lattice/pkg/graph"
)

// Termination describes how a supervised process ended.
type Termination struct {
	Status graph.ExitStatus
	Err    error // non-nil only for spawn/wait failures, not for the exit itself
}

// Handle tracks one running child process.
type Handle struct {
	cmd    *exec.Cmd
	pid    int
	doneCh chan Termination

	mu   sync.Mutex
	done bool
}

// PID returns the handle's process ID, or -1 once it has exited.
func (h *Handle) PID() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.done {
		return -1
	}
	return h.pid
}

// Done returns the channel that receives exactly one Termination once the
// process exits (or fails to spawn).
func (h *Handle) Done() <-chan Termination { return h.doneCh }

// Spec describes how to launch a child process.
type Spec struct {
	Command    []string
	WorkingDir string
	Env        []string // appended to os.Environ(); empty means inherit only
	Uid, Gid   uint32
	SetCreds   bool
	Stdout     LogSink
	Stderr     LogSink
}

// LogSink is anything that wants a copy of a child's output; pkg/obslog's
// LogBuffer implements it.
type LogSink interface {
	Write(p []byte) (int, error)
}

// Supervisor is the single owner of every child process spawned on behalf
// of the graph. It is safe for concurrent use: Spawn may be called from
// the event loop goroutine while previously spawned processes are being
// waited on from their own per-process goroutines; every result is
// delivered back through a channel rather than a shared mutable field.
type Supervisor struct {
	logger graph.Logger

	mu       sync.Mutex
	handles  map[int]*Handle
}

// New creates a Supervisor. logger may be nil.
func New(logger graph.Logger) *Supervisor {
	if logger == nil {
		logger = graph.NopLogger{}
	}
	return &Supervisor{logger: logger, handles: make(map[int]*Handle)}
}

// Spawn starts spec's command in its own process group (so a later signal
// to -pid reaches every descendant it forked) and returns a Handle whose
// Done channel fires once, when the process exits.
func (s *Supervisor) Spawn(spec Spec) (*Handle, error) {
	if len(spec.Command) == 0 {
		return nil, fmt.Errorf("procexec: empty command")
	}
	cmd := exec.Command(spec.Command[0], spec.Command[1:]...)
	cmd.Dir = spec.WorkingDir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	if spec.Stdout != nil {
		cmd.Stdout = spec.Stdout
	}
	if spec.Stderr != nil {
		cmd.Stderr = spec.Stderr
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if spec.SetCreds {
		cmd.SysProcAttr.Credential = &syscall.Credential{Uid: spec.Uid, Gid: spec.Gid}
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("procexec: spawn %s: %w", spec.Command[0], err)
	}

	h := &Handle{cmd: cmd, pid: cmd.Process.Pid, doneCh: make(chan Termination, 1)}
	s.mu.Lock()
	s.handles[h.pid] = h
	s.mu.Unlock()

	go s.wait(h)
	return h, nil
}

func (s *Supervisor) wait(h *Handle) {
	err := h.cmd.Wait()

	h.mu.Lock()
	h.done = true
	h.mu.Unlock()

	s.mu.Lock()
	delete(s.handles, h.pid)
	s.mu.Unlock()

	if err == nil {
		h.doneCh <- Termination{Status: graph.NewExitStatusExited(0)}
		return
	}
	var exitErr *exec.ExitError
	if ok := asExitError(err, &exitErr); ok {
		ws := exitErr.Sys().(syscall.WaitStatus)
		if ws.Signaled() {
			h.doneCh <- Termination{Status: graph.NewExitStatusSignaled(int(ws.Signal()))}
			return
		}
		h.doneCh <- Termination{Status: graph.NewExitStatusExited(ws.ExitStatus())}
		return
	}
	h.doneCh <- Termination{Err: err}
}

func asExitError(err error, target **exec.ExitError) bool {
	if ee, ok := err.(*exec.ExitError); ok {
		*target = ee
		return true
	}
	return false
}

// Signal delivers sig to the process group rooted at h, so forked
// grandchildren are reached too.
func (s *Supervisor) Signal(h *Handle, sig syscall.Signal) error {
	pid := h.PID()
	if pid <= 0 {
		return nil
	}
	return unix.Kill(-pid, sig)
}

// WaitWithTimeout blocks on h.Done() until ctx is cancelled, returning
// (Termination, true) once the process exits, whatever its status, or
// (zero, false) on timeout.
func WaitWithTimeout(ctx context.Context, h *Handle) (Termination, bool) {
	select {
	case t := <-h.Done():
		return t, true
	case <-ctx.Done():
		return Termination{}, false
	}
}

// Stats reports point-in-time resource usage for pid, for the control
// status command.
type Stats struct {
	RSSBytes  uint64
	CPUPct    float64
	NumThread int32
}

// ReadStats samples pid's resource usage via /proc (through gopsutil).
// Absence of the process is not an error: it reports zero stats.
func ReadStats(pid int) (Stats, error) {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return Stats{}, nil
	}
	mem, err := proc.MemoryInfo()
	if err != nil || mem == nil {
		return Stats{}, nil
	}
	cpuPct, _ := proc.CPUPercent()
	threads, _ := proc.NumThreads()
	return Stats{RSSBytes: mem.RSS, CPUPct: cpuPct, NumThread: threads}, nil
}

// ReadPIDFile reads and validates a background-process PID file, polling
// up to timeout for it to appear (the daemonizing command may still be
// forking when its launcher exits).
func ReadPIDFile(ctx context.Context, path string, timeout time.Duration) (int, error) {
	deadline := time.Now().Add(timeout)
	for {
		pid, err := readPIDFileOnce(path)
		if err == nil {
			return pid, nil
		}
		if time.Now().After(deadline) {
			return 0, fmt.Errorf("procexec: pidfile %s: %w", path, err)
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func readPIDFileOnce(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	var pid int
	if _, err := fmt.Sscanf(string(data), "%d", &pid); err != nil {
		return 0, fmt.Errorf("malformed pidfile contents: %w", err)
	}
	if pid <= 0 {
		return 0, fmt.Errorf("malformed pidfile contents")
	}
	if err := unix.Kill(pid, 0); err != nil {
		return 0, fmt.Errorf("pid %d not running: %w", pid, err)
	}
	return pid, nil
}
