// Package session owns the lifecycle of one client connection: it validates
// each inbound frame, routes it to a backend adapter, and produces exactly one
// outbound frame per inbound frame over the session's response stream.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/parley/pkg/provider"
	"github.com/go-go-golems/parley/pkg/stream"
	"github.com/go-go-golems/parley/pkg/wire"
)

// State is the session lifecycle phase.
type State int32

const (
	// StateUpgrading: connection accepted, handshake not yet complete.
	StateUpgrading State = iota
	// StateOpen: attached to a connection, accepting inbound frames.
	StateOpen
	// StateClosed: terminal; late writes are dropped, never errors.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUpgrading:
		return "upgrading"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Conn is the slice of a websocket connection the session needs. Satisfied by
// *websocket.Conn.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Session handles one connection end to end. Multiple inbound frames may be
// in flight concurrently; responses are unordered between them.
type Session struct {
	Key string

	providers *provider.Registry
	backend   stream.Backend
	newID     func() string
	baseCtx   context.Context
	logger    zerolog.Logger

	mu           sync.Mutex
	state        State
	conn         Conn
	stopForward  context.CancelFunc
	inflight     int
	lastActivity time.Time
}

func newSession(key string, opts Options) *Session {
	return &Session{
		Key:          key,
		providers:    opts.Providers,
		backend:      opts.Backend,
		newID:        opts.NewID,
		baseCtx:      opts.BaseCtx,
		logger:       log.With().Str("component", "session").Str("session_key", key).Logger(),
		state:        StateUpgrading,
		lastActivity: time.Now(),
	}
}

// State returns the current lifecycle phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// InFlight reports how many inbound frames are still being processed.
func (s *Session) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflight
}

// Attach completes the handshake: it binds the connection handle, subscribes
// the forwarder to the session topic and moves to Open. A session owns exactly
// one connection for its lifetime; a second Attach fails. If the handshake
// cannot complete the session terminates without ever entering Open.
func (s *Session) Attach(conn Conn) error {
	if conn == nil {
		return errors.New("conn is nil")
	}
	s.mu.Lock()
	switch s.state {
	case StateClosed:
		s.mu.Unlock()
		return errors.New("session is closed")
	case StateOpen:
		s.mu.Unlock()
		return errors.New("session already has a connection")
	case StateUpgrading:
	}
	if s.conn != nil {
		s.mu.Unlock()
		return errors.New("session already has a connection")
	}
	s.conn = conn
	s.mu.Unlock()

	fwdCtx, cancel := context.WithCancel(s.baseCtx)
	sub, owned, err := s.backend.BuildSubscriber(fwdCtx, s.Key)
	if err != nil {
		cancel()
		s.terminate()
		return errors.Wrap(err, "build session subscriber")
	}
	ch, err := sub.Subscribe(fwdCtx, stream.TopicForSession(s.Key))
	if err != nil {
		cancel()
		if owned {
			_ = sub.Close()
		}
		s.terminate()
		return errors.Wrap(err, "subscribe session topic")
	}

	s.mu.Lock()
	s.stopForward = cancel
	s.state = StateOpen
	s.lastActivity = time.Now()
	s.mu.Unlock()

	go s.runForwarder(ch, sub, owned)
	s.logger.Info().Msg("session open")
	return nil
}

// HandleMessage processes one inbound frame. It never blocks on the backend
// call: each frame gets its own goroutine, so a slow provider does not stall
// later frames on the same connection. Frames arriving outside Open are
// dropped.
func (s *Session) HandleMessage(raw []byte) {
	s.mu.Lock()
	if s.state != StateOpen {
		state := s.state
		s.mu.Unlock()
		s.logger.Debug().Stringer("state", state).Msg("dropping inbound frame outside open state")
		return
	}
	s.inflight++
	s.lastActivity = time.Now()
	s.mu.Unlock()

	go s.process(raw)
}

func (s *Session) process(raw []byte) {
	defer func() {
		s.mu.Lock()
		s.inflight--
		s.lastActivity = time.Now()
		s.mu.Unlock()
	}()

	resp := wire.Response{ID: s.newID(), Role: wire.RoleAssistant}

	req, err := wire.DecodeRequest(raw)
	if err != nil {
		resp.Role = wire.RoleError
		resp.Content = err.Error()
		s.publish(resp)
		return
	}
	resp.Corr = req.Corr

	gen, err := s.providers.Route(req.Agent)
	if err != nil {
		resp.Role = wire.RoleError
		resp.Content = err.Error()
		s.publish(resp)
		return
	}

	// Not tied to the connection: a call in flight when the client disconnects
	// runs to completion and its response is dropped by the forwarder.
	text, err := gen.Generate(s.baseCtx, req.Prompt)
	if err != nil {
		s.logGenerateFailure(req.Agent, err)
		resp.Role = wire.RoleError
		resp.Content = err.Error()
		s.publish(resp)
		return
	}
	resp.Content = text
	s.publish(resp)
}

// publish emits the single response frame for one inbound frame onto the
// session topic. Delivery failures are logged and swallowed; by the time a
// publish can fail the socket is gone and the frame has nowhere to go.
func (s *Session) publish(resp wire.Response) {
	b, err := wire.EncodeResponse(resp)
	if err != nil {
		s.logger.Error().Err(err).Msg("encode response failed")
		return
	}
	msg := message.NewMessage(watermill.NewUUID(), b)
	if err := s.backend.Publisher().Publish(stream.TopicForSession(s.Key), msg); err != nil {
		s.logger.Warn().Err(err).Msg("response dropped, stream unavailable")
	}
}

func (s *Session) logGenerateFailure(agent string, err error) {
	ev := s.logger.Warn().Str("agent", agent).Err(err)
	var serr *provider.StatusError
	if errors.As(err, &serr) {
		// Raw provider body goes to the log only, never to the client.
		ev = ev.Int("status", serr.Code).Str("body", serr.Body)
	}
	ev.Msg("backend generate failed")
}

// Close transitions to Closed: the forwarder subscription is cancelled, the
// connection handle is closed, and any still-running processing units publish
// into the void. Safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	stop := s.stopForward
	conn := s.conn
	s.stopForward = nil
	s.mu.Unlock()

	if stop != nil {
		stop()
	}
	if conn != nil {
		_ = conn.Close()
	}
	s.logger.Info().Msg("session closed")
}

// CloseWithError is the transport-failure transition into Closed.
func (s *Session) CloseWithError(err error) {
	s.logger.Warn().Err(err).Msg("session transport error")
	s.Close()
}

// terminate is the failed-handshake exit: Upgrading straight to Closed.
func (s *Session) terminate() {
	s.mu.Lock()
	s.state = StateClosed
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}
