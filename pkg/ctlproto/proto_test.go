package ctlproto

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
)

// A frame written with WriteFrame round-trips byte-for-byte through
// ReadFrame: kind, command, correlation token, and payload all survive.
func TestFrameRoundTrip(t *testing.T) {
	tok := uuid.New()
	want := Frame{
		Kind:    FrameRequest,
		Command: CmdStart,
		Token:   tok,
		Payload: mustJSON(t, NamedRequest{Name: "webd"}),
	}

	var buf bytes.Buffer
	if err := WriteFrame(&buf, want); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	got, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if got.Kind != want.Kind || got.Command != want.Command || got.Token != want.Token {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, want)
	}
	if !bytes.Equal(got.Payload, want.Payload) {
		t.Fatalf("payload mismatch: got %s, want %s", got.Payload, want.Payload)
	}
}

// An event frame with an empty payload still round-trips (CmdVersion's
// zero value and no JSON body).
func TestFrameRoundTripEmptyPayload(t *testing.T) {
	var buf bytes.Buffer
	tok := uuid.New()
	if err := WriteFrame(&buf, Frame{Kind: FrameEvent, Token: tok}); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	got, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if got.Kind != FrameEvent || got.Token != tok {
		t.Fatalf("got %+v", got)
	}
	if len(got.Payload) != 0 {
		t.Fatalf("expected empty payload, got %q", got.Payload)
	}
}

// A length prefix claiming more than MaxPayloadBytes plus the header is a
// framing error, reported as ErrFrameTooLarge without attempting to read
// the (possibly nonexistent) body.
func TestReadFrameRejectsOversizedLength(t *testing.T) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], MaxPayloadBytes+19)
	buf := bytes.NewBuffer(lenBuf[:])

	_, err := ReadFrame(buf)
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}

// WriteFrame itself refuses to emit a frame whose body would exceed the
// limit, rather than silently truncating it.
func TestWriteFrameRejectsOversizedPayload(t *testing.T) {
	big := make(json.RawMessage, MaxPayloadBytes+1)
	var buf bytes.Buffer
	err := WriteFrame(&buf, Frame{Payload: big})
	if err == nil {
		t.Fatalf("expected an error for an oversized payload")
	}
}

// A length prefix shorter than the fixed header is a framing error
// distinct from ErrFrameTooLarge.
func TestReadFrameRejectsShortHeader(t *testing.T) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], 4)
	buf := bytes.NewBuffer(lenBuf[:])
	buf.Write([]byte{0, 0, 0, 0})

	_, err := ReadFrame(buf)
	if err == nil {
		t.Fatalf("expected a framing error")
	}
	if errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("a too-short header is not the too-large case")
	}
}

func mustJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("json.Marshal: %v", err)
	}
	return b
}
