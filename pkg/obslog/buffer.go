package obslog

import "sync"

// LogBuffer is a bounded ring buffer of a service's captured stdout/stderr,
// line-oriented, optionally mirrored to a rotating file via an embedded
// *Logger. It implements io.Writer (through Write) so a procexec.Spec can
// point a child's stdout/stderr straight at one.
type LogBuffer struct {
	mu    sync.Mutex
	lines []string
	cap   int
	cur   []byte

	mirror *Logger
	source string
}

// NewLogBuffer creates a buffer holding at most capacity lines. A capacity
// of zero discards everything (useful for services that opt out of log
// capture).
func NewLogBuffer(capacity int, mirror *Logger, source string) *LogBuffer {
	return &LogBuffer{cap: capacity, mirror: mirror, source: source}
}

// Write implements io.Writer, splitting on newlines and appending each
// completed line to the ring. A partial trailing line is held until the
// next Write completes it.
func (b *LogBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.cur = append(b.cur, p...)
	for {
		idx := indexByte(b.cur, '\n')
		if idx < 0 {
			break
		}
		b.appendLine(string(b.cur[:idx]))
		b.cur = b.cur[idx+1:]
	}
	return len(p), nil
}

func (b *LogBuffer) appendLine(line string) {
	if b.cap == 0 {
		return
	}
	b.lines = append(b.lines, line)
	if len(b.lines) > b.cap {
		b.lines = b.lines[len(b.lines)-b.cap:]
	}
	if b.mirror != nil {
		b.mirror.z.Sugar().Infow(line, "service", b.source)
	}
}

// Lines returns a snapshot of the currently buffered lines, oldest first.
func (b *LogBuffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.lines))
	copy(out, b.lines)
	return out
}

func indexByte(b []byte, c byte) int {
	for i, x := range b {
		if x == c {
			return i
		}
	}
	return -1
}
