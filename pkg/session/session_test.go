package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/parley/pkg/provider"
	"github.com/go-go-golems/parley/pkg/stream"
	"github.com/go-go-golems/parley/pkg/wire"
)

type recordConn struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func (c *recordConn) WriteMessage(_ int, b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	buf := make([]byte, len(b))
	copy(buf, b)
	c.frames = append(c.frames, buf)
	return nil
}

func (c *recordConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *recordConn) Frames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.frames))
	copy(out, c.frames)
	return out
}

func (c *recordConn) Responses(t *testing.T) []wire.Response {
	t.Helper()
	var out []wire.Response
	for _, f := range c.Frames() {
		resp, err := wire.DecodeResponse(f)
		require.NoError(t, err)
		out = append(out, resp)
	}
	return out
}

type fixedGenerator struct {
	text string
	err  error
}

func (g *fixedGenerator) Generate(_ context.Context, _ string) (string, error) {
	return g.text, g.err
}

// gatedGenerator blocks each call until its gate is closed, to exercise
// concurrent in-flight requests.
type gatedGenerator struct {
	gate chan struct{}
	text string
}

func (g *gatedGenerator) Generate(_ context.Context, _ string) (string, error) {
	<-g.gate
	return g.text, nil
}

func newTestRegistry(t *testing.T, gens map[string]provider.Generator) *Registry {
	t.Helper()
	backend, err := stream.NewBackend(stream.Settings{}, stream.NewWatermillLogger(zerolog.Nop()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })

	var n int
	var mu sync.Mutex
	reg, err := NewRegistry(Options{
		Providers: provider.NewRegistry(gens),
		Backend:   backend,
		NewID: func() string {
			mu.Lock()
			defer mu.Unlock()
			n++
			return fmt.Sprintf("id-%d", n)
		},
	})
	require.NoError(t, err)
	return reg
}

func openSession(t *testing.T, reg *Registry, key string) (*Session, *recordConn) {
	t.Helper()
	sess := reg.GetOrCreate(key)
	require.Equal(t, StateUpgrading, sess.State())
	conn := &recordConn{}
	require.NoError(t, sess.Attach(conn))
	require.Equal(t, StateOpen, sess.State())
	return sess, conn
}

func waitForFrames(t *testing.T, conn *recordConn, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(conn.Frames()) == n
	}, 2*time.Second, 10*time.Millisecond)
}

func TestValidRequestYieldsOneAssistantResponse(t *testing.T) {
	reg := newTestRegistry(t, map[string]provider.Generator{
		provider.AgentCloudflare: &fixedGenerator{text: "hello"},
	})
	sess, conn := openSession(t, reg, "s1")

	sess.HandleMessage([]byte(`{"agent":"cloudflare","prompt":"hi"}`))

	waitForFrames(t, conn, 1)
	resp := conn.Responses(t)[0]
	require.Equal(t, wire.RoleAssistant, resp.Role)
	require.Equal(t, "hello", resp.Content)
	require.Equal(t, "id-1", resp.ID)
	require.Equal(t, StateOpen, sess.State())

	// Exactly one frame per inbound frame.
	time.Sleep(50 * time.Millisecond)
	require.Len(t, conn.Frames(), 1)
}

func TestMalformedFramesYieldErrorAndStayOpen(t *testing.T) {
	cases := map[string]string{
		"missing agent": `{"prompt":"hi"}`,
		"empty prompt":  `{"agent":"cloudflare","prompt":""}`,
		"not json":      `garbage`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			reg := newTestRegistry(t, map[string]provider.Generator{
				provider.AgentCloudflare: &fixedGenerator{text: "hello"},
			})
			sess, conn := openSession(t, reg, "s1")

			sess.HandleMessage([]byte(raw))

			waitForFrames(t, conn, 1)
			resp := conn.Responses(t)[0]
			require.Equal(t, wire.RoleError, resp.Role)
			require.NotEmpty(t, resp.Content)
			require.Equal(t, StateOpen, sess.State())
		})
	}
}

func TestUnsupportedAgentErrorNamesAgent(t *testing.T) {
	reg := newTestRegistry(t, map[string]provider.Generator{
		provider.AgentCloudflare: &fixedGenerator{text: "hello"},
	})
	sess, conn := openSession(t, reg, "s1")

	sess.HandleMessage([]byte(`{"agent":"bogus","prompt":"hi"}`))

	waitForFrames(t, conn, 1)
	resp := conn.Responses(t)[0]
	require.Equal(t, wire.RoleError, resp.Role)
	require.Contains(t, resp.Content, "bogus")
	require.Equal(t, StateOpen, sess.State())
}

func TestBackendFailuresDoNotCloseTheSession(t *testing.T) {
	failures := map[string]error{
		"network":   &provider.NetworkError{Provider: "openai"},
		"status":    &provider.StatusError{Provider: "openai", Code: 500, Body: "boom"},
		"malformed": &provider.MalformedResponseError{Provider: "openai", Reason: "missing choices"},
	}
	for name, ferr := range failures {
		t.Run(name, func(t *testing.T) {
			reg := newTestRegistry(t, map[string]provider.Generator{
				provider.AgentOpenAI:     &fixedGenerator{err: ferr},
				provider.AgentCloudflare: &fixedGenerator{text: "still here"},
			})
			sess, conn := openSession(t, reg, "s1")

			sess.HandleMessage([]byte(`{"agent":"openai","prompt":"hi"}`))
			waitForFrames(t, conn, 1)
			require.Equal(t, wire.RoleError, conn.Responses(t)[0].Role)
			require.Equal(t, StateOpen, sess.State())

			// The connection still accepts a subsequent valid message.
			sess.HandleMessage([]byte(`{"agent":"cloudflare","prompt":"hi"}`))
			waitForFrames(t, conn, 2)
			require.Equal(t, wire.RoleAssistant, conn.Responses(t)[1].Role)
			require.Equal(t, "still here", conn.Responses(t)[1].Content)
		})
	}
}

func TestStatusErrorBodyStaysOutOfClientFrame(t *testing.T) {
	reg := newTestRegistry(t, map[string]provider.Generator{
		provider.AgentOpenAI: &fixedGenerator{err: &provider.StatusError{Provider: "openai", Code: 500, Body: "secret internals"}},
	})
	sess, conn := openSession(t, reg, "s1")

	sess.HandleMessage([]byte(`{"agent":"openai","prompt":"hi"}`))
	waitForFrames(t, conn, 1)
	require.NotContains(t, conn.Responses(t)[0].Content, "secret internals")
}

func TestCorrelationTokenIsEchoed(t *testing.T) {
	reg := newTestRegistry(t, map[string]provider.Generator{
		provider.AgentGemini: &fixedGenerator{text: "pong"},
	})
	sess, conn := openSession(t, reg, "s1")

	sess.HandleMessage([]byte(`{"agent":"gemini","prompt":"ping","corr":"c-42"}`))

	waitForFrames(t, conn, 1)
	require.Equal(t, "c-42", conn.Responses(t)[0].Corr)
}

func TestConcurrentRequestsCompleteIndependently(t *testing.T) {
	slow := &gatedGenerator{gate: make(chan struct{}), text: "slow"}
	fast := &gatedGenerator{gate: make(chan struct{}), text: "fast"}
	reg := newTestRegistry(t, map[string]provider.Generator{
		provider.AgentOpenAI: slow,
		provider.AgentGemini: fast,
	})
	sess, conn := openSession(t, reg, "s1")

	sess.HandleMessage([]byte(`{"agent":"openai","prompt":"a","corr":"first"}`))
	sess.HandleMessage([]byte(`{"agent":"gemini","prompt":"b","corr":"second"}`))
	require.Eventually(t, func() bool { return sess.InFlight() == 2 }, time.Second, 5*time.Millisecond)

	// The later request finishes first; the session must not serialize them.
	close(fast.gate)
	waitForFrames(t, conn, 1)
	require.Equal(t, "second", conn.Responses(t)[0].Corr)

	close(slow.gate)
	waitForFrames(t, conn, 2)
	require.Equal(t, "first", conn.Responses(t)[1].Corr)
}

func TestLateWritesAfterCloseAreDropped(t *testing.T) {
	gated := &gatedGenerator{gate: make(chan struct{}), text: "late"}
	reg := newTestRegistry(t, map[string]provider.Generator{
		provider.AgentOpenAI: gated,
	})
	sess, conn := openSession(t, reg, "s1")

	sess.HandleMessage([]byte(`{"agent":"openai","prompt":"hi"}`))
	require.Eventually(t, func() bool { return sess.InFlight() == 1 }, time.Second, 5*time.Millisecond)

	sess.Close()
	require.Equal(t, StateClosed, sess.State())

	// The in-flight call completes after close; its response goes nowhere.
	close(gated.gate)
	require.Eventually(t, func() bool { return sess.InFlight() == 0 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	require.Empty(t, conn.Frames())
}

func TestHandleMessageOutsideOpenIsDropped(t *testing.T) {
	reg := newTestRegistry(t, map[string]provider.Generator{
		provider.AgentOpenAI: &fixedGenerator{text: "x"},
	})
	sess := reg.GetOrCreate("s1")

	// Still upgrading: no processing unit is spawned.
	sess.HandleMessage([]byte(`{"agent":"openai","prompt":"hi"}`))
	require.Zero(t, sess.InFlight())
}

func TestAttachTwiceFails(t *testing.T) {
	reg := newTestRegistry(t, map[string]provider.Generator{
		provider.AgentOpenAI: &fixedGenerator{text: "x"},
	})
	sess, _ := openSession(t, reg, "s1")
	require.Error(t, sess.Attach(&recordConn{}))
	require.Error(t, sess.Attach(nil))
}

func TestAttachAfterCloseFails(t *testing.T) {
	reg := newTestRegistry(t, map[string]provider.Generator{
		provider.AgentOpenAI: &fixedGenerator{text: "x"},
	})
	sess := reg.GetOrCreate("s1")
	sess.Close()
	require.Error(t, sess.Attach(&recordConn{}))
}
