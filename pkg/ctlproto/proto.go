// Package ctlproto implements the binary, length-prefixed control protocol
// between latticed and latticectl: a Unix-socket request/reply exchange
// plus an unsolicited event-notification stream multiplexed on the same
// connection. Every frame carries a client-chosen correlation token
// (google/uuid) so one connection can pipeline several in-flight requests.
package ctlproto

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"
)

// MaxPayloadBytes bounds a single frame's JSON payload; a larger length
// prefix is a framing error and closes the connection.
const MaxPayloadBytes = 1 << 20

// FrameKind distinguishes a request, its reply, and an unsolicited event.
type FrameKind uint8

const (
	FrameRequest FrameKind = iota
	FrameReply
	FrameEvent
)

// Command identifies a control-protocol operation.
type Command uint8

const (
	CmdVersion Command = iota
	CmdFind
	CmdStart
	CmdStop
	CmdRestart
	CmdPin
	CmdUnpin
	CmdRelease
	CmdTrigger
	CmdList
	CmdLog
	CmdShutdown
)

// ProtocolVersion is bumped whenever the wire payload shapes below change
// incompatibly.
const ProtocolVersion = 1

// Frame is one length-prefixed unit on the wire: a 1-byte kind, a 1-byte
// command (meaningful for Request/Reply; ignored for Event), a 16-byte
// correlation token, and a JSON payload.
type Frame struct {
	Kind    FrameKind
	Command Command
	Token   uuid.UUID
	Payload json.RawMessage
}

// WriteFrame serializes f to w as [u32 length][u8 kind][u8 command][16 byte
// token][payload].
func WriteFrame(w io.Writer, f Frame) error {
	header := make([]byte, 18)
	header[0] = byte(f.Kind)
	header[1] = byte(f.Command)
	copy(header[2:], f.Token[:])

	if len(f.Payload) > MaxPayloadBytes {
		return fmt.Errorf("ctlproto: frame payload too large: %d bytes", len(f.Payload))
	}
	body := append(header, f.Payload...)

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

// ReadFrame reads and decodes one frame from r. A length prefix larger than
// MaxPayloadBytes plus the header is reported as ErrFrameTooLarge (check
// with errors.Is); one shorter than the header is reported as a different
// error.
func ReadFrame(r io.Reader) (Frame, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Frame{}, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > MaxPayloadBytes+18 {
		return Frame{}, ErrFrameTooLarge
	}
	if n < 18 {
		return Frame{}, fmt.Errorf("ctlproto: frame shorter than header: %d bytes", n)
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return Frame{}, err
	}

	var tok uuid.UUID
	copy(tok[:], body[2:18])
	return Frame{
		Kind:    FrameKind(body[0]),
		Command: Command(body[1]),
		Token:   tok,
		Payload: json.RawMessage(body[18:]),
	}, nil
}

// ErrFrameTooLarge is a framing error: the connection must be closed.
var ErrFrameTooLarge = fmt.Errorf("ctlproto: frame exceeds maximum payload size")

// --- request/reply payload shapes ---

// NamedRequest is the payload for every command that targets one service
// by name (start, stop, restart, pin, unpin, release, trigger, log).
type NamedRequest struct {
	Name string `json:"name"`
}

// ShutdownRequest selects how the machine should come down.
type ShutdownRequest struct {
	Type string `json:"type"` // halt, poweroff, reboot, soft-reboot
}

// StatusReply is one entry of a List reply.
type StatusReply struct {
	Name        string  `json:"name"`
	Kind        string  `json:"kind"`
	State       string  `json:"state"`
	Desired     string  `json:"desired"`
	RequiredBy  int     `json:"required_by"`
	PinnedStart bool    `json:"pinned_start"`
	PinnedStop  bool    `json:"pinned_stop"`
	PID         int     `json:"pid"`
	RSSBytes    uint64  `json:"rss_bytes"`
	CPUPct      float64 `json:"cpu_pct"`
}

// ListReply wraps every service's StatusReply.
type ListReply struct {
	Services []StatusReply `json:"services"`
}

// LogReply carries a service's captured log lines, oldest first.
type LogReply struct {
	Lines []string `json:"lines"`
}

// VersionReply answers CmdVersion.
type VersionReply struct {
	Version int `json:"version"`
}

// ErrorReply is returned instead of a command-specific payload whenever a
// request could not be satisfied; Code distinguishes a few cases clients
// may want to handle specially (e.g. "not-found").
type ErrorReply struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// EventPayload is carried by FrameEvent frames: the same lifecycle events
// pkg/graph.Listener observes, reported as strings so the wire shape does
// not depend on the engine's internal types.
type EventPayload struct {
	Service string `json:"service"`
	Event   string `json:"event"`
}
