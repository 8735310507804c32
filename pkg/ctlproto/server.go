package ctlproto

import (
	"encoding/json"
	"net"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/lattice-svc/lattice/pkg/graph"
)

// Request is one decoded client command handed to the event loop. Reply
// must be called exactly once, from the engine goroutine, to send the
// response back on the same connection.
type Request struct {
	Command Command
	Token   uuid.UUID
	Payload json.RawMessage

	reply func(kind FrameKind, payload any)
}

// Reply sends payload back to the requesting client, marshaled as JSON. It
// is safe to call from the event loop goroutine only — the per-connection
// goroutine never touches engine state directly.
func (req *Request) Reply(payload any) {
	req.reply(FrameReply, payload)
}

// Fail sends an ErrorReply back to the client.
func (req *Request) Fail(code, message string) {
	req.reply(FrameReply, ErrorReply{Code: code, Message: message})
}

// Server accepts connections on a Unix socket and forwards every decoded
// request onto Requests for the event loop to consume; it is also the
// fan-out point for unsolicited events via ServiceEvent, making it a
// graph.Listener in its own right.
type Server struct {
	ln       net.Listener
	Requests chan *Request

	mu    sync.Mutex
	conns map[*conn]struct{}

	logger graph.Logger
}

type conn struct {
	nc net.Conn
	mu sync.Mutex // serializes writes (replies vs. event broadcasts)
}

// Listen creates the control socket at path, removing a stale socket file
// left behind by a previous crashed instance first.
func Listen(path string, logger graph.Logger) (*Server, error) {
	_ = os.Remove(path)
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = graph.NopLogger{}
	}
	s := &Server{
		ln:       ln,
		Requests: make(chan *Request, 64),
		conns:    make(map[*conn]struct{}),
		logger:   logger,
	}
	go s.acceptLoop()
	return s, nil
}

func (s *Server) acceptLoop() {
	for {
		nc, err := s.ln.Accept()
		if err != nil {
			return // listener closed
		}
		c := &conn{nc: nc}
		s.mu.Lock()
		s.conns[c] = struct{}{}
		s.mu.Unlock()
		go s.serve(c)
	}
}

func (s *Server) serve(c *conn) {
	defer func() {
		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
		c.nc.Close()
	}()

	for {
		f, err := ReadFrame(c.nc)
		if err != nil {
			return
		}
		if f.Kind != FrameRequest {
			continue // a conforming client never sends Reply/Event inbound
		}

		req := &Request{
			Command: f.Command,
			Token:   f.Token,
			Payload: f.Payload,
			reply: func(kind FrameKind, payload any) {
				c.send(kind, f.Command, f.Token, payload, s.logger)
			},
		}
		s.Requests <- req
	}
}

func (c *conn) send(kind FrameKind, cmd Command, tok uuid.UUID, payload any, logger graph.Logger) {
	raw, err := json.Marshal(payload)
	if err != nil {
		logger.Errorf("ctlproto: marshal reply: %v", err)
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := WriteFrame(c.nc, Frame{Kind: kind, Command: cmd, Token: tok, Payload: raw}); err != nil {
		logger.Errorf("ctlproto: write frame: %v", err)
	}
}

// ServiceEvent sends an unsolicited event frame to every connected client.
// It implements graph.Listener so a Server can be attached directly to every
// record as-is.
func (s *Server) ServiceEvent(name string, ev graph.Event) {
	payload := EventPayload{Service: name, Event: ev.String()}
	raw, err := json.Marshal(payload)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		go func(c *conn) {
			c.mu.Lock()
			defer c.mu.Unlock()
			_ = WriteFrame(c.nc, Frame{Kind: FrameEvent, Token: uuid.New(), Payload: raw})
		}(c)
	}
}

// Close stops accepting connections and drops every live one.
func (s *Server) Close() error {
	err := s.ln.Close()
	s.mu.Lock()
	for c := range s.conns {
		c.nc.Close()
	}
	s.mu.Unlock()
	return err
}
