package procexec

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// A process that exits zero is classified as a clean exit, not a signal.
func TestSpawnExitStatusClean(t *testing.T) {
	s := New(nil)
	h, err := s.Spawn(Spec{Command: []string{"/bin/sh", "-c", "exit 0"}})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	term := <-h.Done()
	if term.Err != nil {
		t.Fatalf("unexpected error: %v", term.Err)
	}
	if !term.Status.Exited() || term.Status.ExitCode() != 0 {
		t.Fatalf("got %+v, want clean exit 0", term.Status)
	}
	if !term.Status.Clean() {
		t.Fatalf("status should report Clean()")
	}
}

// A nonzero exit code is preserved, and distinguished from a signal.
func TestSpawnExitStatusNonzero(t *testing.T) {
	s := New(nil)
	h, err := s.Spawn(Spec{Command: []string{"/bin/sh", "-c", "exit 7"}})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	term := <-h.Done()
	if term.Status.Signaled() {
		t.Fatalf("exit 7 should not be classified as signaled")
	}
	if !term.Status.Exited() || term.Status.ExitCode() != 7 {
		t.Fatalf("got %+v, want exit code 7", term.Status)
	}
	if term.Status.Clean() {
		t.Fatalf("exit code 7 should not be Clean()")
	}
}

// A process killed by a signal is classified as signaled, with the signal
// number preserved and Exited() false.
func TestSpawnExitStatusSignaled(t *testing.T) {
	s := New(nil)
	h, err := s.Spawn(Spec{Command: []string{"/bin/sh", "-c", "kill -TERM $$; sleep 5"}})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	term := <-h.Done()
	if !term.Status.Signaled() {
		t.Fatalf("expected signaled, got %+v", term.Status)
	}
	if term.Status.Exited() {
		t.Fatalf("a signaled process should not report Exited()")
	}
}

// PID() reports -1 once the handle's process has exited, never a stale
// value.
func TestHandlePIDClearsOnExit(t *testing.T) {
	s := New(nil)
	h, err := s.Spawn(Spec{Command: []string{"/bin/sh", "-c", "sleep 0.2"}})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if h.PID() <= 0 {
		t.Fatalf("expected a positive PID while running")
	}

	<-h.Done()
	if got := h.PID(); got != -1 {
		t.Fatalf("PID() after exit = %d, want -1", got)
	}
}

// WaitWithTimeout returns false once the context is cancelled before the
// process exits.
func TestWaitWithTimeoutExpires(t *testing.T) {
	s := New(nil)
	h, err := s.Spawn(Spec{Command: []string{"/bin/sh", "-c", "sleep 5"}})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer s.Signal(h, 9)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, ok := WaitWithTimeout(ctx, h)
	if ok {
		t.Fatalf("expected WaitWithTimeout to time out")
	}
}

// ReadPIDFile polls until the file appears and contains a running PID,
// using the test binary's own PID so the liveness check (unix.Kill(pid,
// 0)) succeeds without spawning anything.
func TestReadPIDFilePollsUntilPresent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "svc.pid")

	go func() {
		time.Sleep(20 * time.Millisecond)
		os.WriteFile(path, []byte(itoa(os.Getpid())), 0o644)
	}()

	pid, err := ReadPIDFile(context.Background(), path, time.Second)
	if err != nil {
		t.Fatalf("ReadPIDFile: %v", err)
	}
	if pid != os.Getpid() {
		t.Fatalf("got pid %d, want %d", pid, os.Getpid())
	}
}

// ReadPIDFile gives up once its timeout elapses with no valid pidfile.
func TestReadPIDFileTimesOut(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "never.pid")

	_, err := ReadPIDFile(context.Background(), path, 30*time.Millisecond)
	if err == nil {
		t.Fatalf("expected a timeout error")
	}
}

// ReadStats on a pid that does not exist reports zero stats rather than
// an error — absence is not a failure for status reporting.
func TestReadStatsAbsentPID(t *testing.T) {
	stats, err := ReadStats(1 << 30)
	if err != nil {
		t.Fatalf("ReadStats: %v", err)
	}
	if stats != (Stats{}) {
		t.Fatalf("expected zero Stats for an absent pid, got %+v", stats)
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	neg := n < 0
	if neg {
		n = -n
	}
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
