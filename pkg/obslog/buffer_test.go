package obslog

import "testing"

// Write splits on newlines, appending only completed lines; a partial
// trailing line is held until a later Write completes it.
func TestLogBufferSplitsOnNewline(t *testing.T) {
	b := NewLogBuffer(10, nil, "svc")

	b.Write([]byte("hello "))
	if got := b.Lines(); len(got) != 0 {
		t.Fatalf("partial line should not yet be buffered, got %v", got)
	}

	b.Write([]byte("world\nsecond line\nthird"))
	got := b.Lines()
	want := []string{"hello world", "second line"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("got %v, want %v", got, want)
	}

	b.Write([]byte(" line\n"))
	got = b.Lines()
	if len(got) != 3 || got[2] != "third line" {
		t.Fatalf("got %v", got)
	}
}

// Once the ring is full, the oldest line is evicted to make room for the
// newest — capacity is a hard cap, not a soft hint.
func TestLogBufferBoundedCapacity(t *testing.T) {
	b := NewLogBuffer(3, nil, "svc")
	for _, line := range []string{"a", "b", "c", "d", "e"} {
		b.Write([]byte(line + "\n"))
	}

	got := b.Lines()
	want := []string{"c", "d", "e"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

// A zero-capacity buffer discards every line: Lines() is always empty.
func TestLogBufferZeroCapacityDiscards(t *testing.T) {
	b := NewLogBuffer(0, nil, "svc")
	b.Write([]byte("one\ntwo\n"))
	if got := b.Lines(); len(got) != 0 {
		t.Fatalf("zero-capacity buffer should discard everything, got %v", got)
	}
}

// Lines returns a snapshot: mutating the returned slice must not corrupt
// the buffer's own backing storage.
func TestLogBufferLinesIsASnapshot(t *testing.T) {
	b := NewLogBuffer(2, nil, "svc")
	b.Write([]byte("one\n"))

	snap := b.Lines()
	snap[0] = "clobbered"

	if got := b.Lines(); got[0] != "one" {
		t.Fatalf("mutating a snapshot affected the buffer: got %v", got)
	}
}
