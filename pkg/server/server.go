// Package server exposes the HTTP surface: the websocket upgrade route that
// feeds sessions, a one-shot SSE tap of a session's response stream, and a
// liveness root. Route handlers stay thin; all protocol behavior lives in
// pkg/session.
package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/parley/pkg/session"
	"github.com/go-go-golems/parley/pkg/stream"
)

type Server struct {
	registry *session.Registry
	backend  stream.Backend
	upgrader websocket.Upgrader
}

func New(registry *session.Registry, backend stream.Backend) *Server {
	return &Server{
		registry: registry,
		backend:  backend,
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/stream", s.handleStream)
	return mux
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("parley: ok"))
}

// sessionKey resolves the session key from the query. No key means a brand-new
// session: a fresh key is generated, and with no persistence that always
// starts from scratch.
func sessionKey(r *http.Request) string {
	if key := strings.TrimSpace(r.URL.Query().Get("session")); key != "" {
		return key
	}
	return uuid.NewString()
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	key := sessionKey(r)
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	sess := s.registry.GetOrCreate(key)
	if err := sess.Attach(conn); err != nil {
		log.Warn().Err(err).Str("session_key", key).Msg("could not attach connection")
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"role":"error","content":"could not join session"}`))
		_ = conn.Close()
		return
	}

	go func() {
		defer s.registry.Remove(key)
		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				log.Debug().Err(err).Str("session_key", key).Msg("websocket read ended")
				return
			}
			if msgType != websocket.TextMessage {
				continue
			}
			sess.HandleMessage(data)
		}
	}()
}

// handleStream is a one-shot server-push tap: it subscribes to the session's
// response topic and relays frames as SSE until the client goes away.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSpace(r.URL.Query().Get("session"))
	if key == "" {
		http.Error(w, "missing session", http.StatusBadRequest)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	sub, owned, err := s.backend.BuildSubscriber(r.Context(), key)
	if err != nil {
		log.Warn().Err(err).Str("session_key", key).Msg("stream subscriber failed")
		http.Error(w, "stream unavailable", http.StatusInternalServerError)
		return
	}
	if owned {
		defer func() { _ = sub.Close() }()
	}
	ch, err := sub.Subscribe(r.Context(), stream.TopicForSession(key))
	if err != nil {
		log.Warn().Err(err).Str("session_key", key).Msg("stream subscribe failed")
		http.Error(w, "stream unavailable", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, open := <-ch:
			if !open {
				return
			}
			_, _ = fmt.Fprintf(w, "data: %s\n\n", msg.Payload)
			flusher.Flush()
			msg.Ack()
		}
	}
}

// BuildHTTPServer wraps the handler in an http.Server with sane timeouts.
// Websocket connections are hijacked at upgrade time and outlive these.
func BuildHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}
