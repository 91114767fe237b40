package session

import (
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/gorilla/websocket"
)

// runForwarder pumps published response frames to the websocket until the
// subscription channel closes (forwarder context cancelled on Close). With the
// Redis transport the subscriber is per-session and owned here; the in-memory
// transport hands out the shared pub/sub, which must stay open.
func (s *Session) runForwarder(ch <-chan *message.Message, sub message.Subscriber, owned bool) {
	for msg := range ch {
		s.writeFrame(msg.Payload)
		msg.Ack()
	}
	if owned {
		_ = sub.Close()
	}
	s.logger.Debug().Msg("session forwarder stopped")
}

// writeFrame writes one complete text frame. Once the session is closed the
// frame is dropped silently; the socket is gone and that is not an error. A
// write failure on an open session is a transport failure and closes it.
func (s *Session) writeFrame(b []byte) {
	s.mu.Lock()
	conn := s.conn
	open := s.state == StateOpen
	s.mu.Unlock()
	if !open || conn == nil {
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		s.CloseWithError(err)
	}
}
