package ctlproto

import (
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
)

// Client is a synchronous control-protocol client for latticectl: one
// request in flight at a time, matched to its reply by correlation token.
type Client struct {
	nc      net.Conn
	timeout time.Duration
}

// Dial connects to the daemon's control socket at path.
func Dial(path string, timeout time.Duration) (*Client, error) {
	nc, err := net.Dial("unix", path)
	if err != nil {
		return nil, err
	}
	return &Client{nc: nc, timeout: timeout}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error { return c.nc.Close() }

// Call sends cmd with the given payload and blocks for the matching reply
// or an unsolicited event frame, which it skips. Events should be used
// instead of Call for watching the event stream.
func (c *Client) Call(cmd Command, payload any, out any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	tok := uuid.New()

	if c.timeout > 0 {
		c.nc.SetDeadline(time.Now().Add(c.timeout))
		defer c.nc.SetDeadline(time.Time{})
	}

	if err := WriteFrame(c.nc, Frame{Kind: FrameRequest, Command: cmd, Token: tok, Payload: raw}); err != nil {
		return err
	}

	for {
		f, err := ReadFrame(c.nc)
		if err != nil {
			return err
		}
		if f.Kind == FrameEvent {
			continue
		}
		if f.Token != tok {
			continue // reply to an earlier pipelined request on a shared connection
		}
		var errReply ErrorReply
		if json.Unmarshal(f.Payload, &errReply) == nil && errReply.Code != "" {
			return fmt.Errorf("ctlproto: %s: %s", errReply.Code, errReply.Message)
		}
		if out == nil {
			return nil
		}
		return json.Unmarshal(f.Payload, out)
	}
}

// Events returns a channel of unsolicited event frames received on this
// connection. The caller must not also call Call concurrently on the same
// Client, since both read from the same connection.
func (c *Client) Events() <-chan EventPayload {
	ch := make(chan EventPayload)
	go func() {
		defer close(ch)
		for {
			f, err := ReadFrame(c.nc)
			if err != nil {
				return
			}
			if f.Kind != FrameEvent {
				continue
			}
			var ev EventPayload
			if json.Unmarshal(f.Payload, &ev) == nil {
				ch <- ev
			}
		}
	}()
	return ch
}
