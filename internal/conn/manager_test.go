package conn

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"webpilot/internal/domain"
)

var testUpgrader = websocket.Upgrader{}

// wsServer is a test backend that hands accepted connections to the test.
type wsServer struct {
	*httptest.Server
	conns chan *websocket.Conn
	dials atomic.Int32
}

func newWSServer(t *testing.T) *wsServer {
	t.Helper()
	s := &wsServer{conns: make(chan *websocket.Conn, 8)}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.dials.Add(1)
		s.conns <- c
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *wsServer) url() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func (s *wsServer) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-s.conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a connection")
		return nil
	}
}

func newTestManager(url string, backoff time.Duration) *Manager {
	return New(Config{
		URL:            url,
		InitialBackoff: backoff,
		MaxBackoff:     4 * backoff,
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

// nextEvent pulls events until pred matches or the deadline passes.
func nextEvent(t *testing.T, m *Manager, pred func(domain.Event) bool) domain.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-m.Events():
			if pred(ev) {
				return ev
			}
		case <-deadline:
			t.Fatal("timed out waiting for event")
		}
	}
}

func stateEvent(want domain.ConnState) func(domain.Event) bool {
	return func(ev domain.Event) bool {
		return ev.Kind == domain.EventStateChanged && ev.State == want
	}
}

func messageEvent(ev domain.Event) bool { return ev.Kind == domain.EventMessage }

func TestOpen_DeliversInboundMessages(t *testing.T) {
	srv := newWSServer(t)
	m := newTestManager(srv.url(), time.Second)
	defer m.Close()

	if err := m.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	nextEvent(t, m, stateEvent(domain.StateConnecting))
	nextEvent(t, m, stateEvent(domain.StateOpen))

	backend := srv.accept(t)
	if err := backend.WriteMessage(websocket.TextMessage,
		[]byte(`{"kind":"agent","content":"hi!"}`)); err != nil {
		t.Fatal(err)
	}

	ev := nextEvent(t, m, messageEvent)
	if ev.Message.Kind != domain.KindAgent || ev.Message.Content != "hi!" {
		t.Fatalf("unexpected message: %+v", ev.Message)
	}
	if m.State() != domain.StateOpen {
		t.Fatalf("state = %q, want open", m.State())
	}
}

func TestOpen_NoOpWhileOpen(t *testing.T) {
	srv := newWSServer(t)
	m := newTestManager(srv.url(), time.Second)
	defer m.Close()

	if err := m.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	nextEvent(t, m, stateEvent(domain.StateOpen))
	srv.accept(t)

	if err := m.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)
	if n := srv.dials.Load(); n != 1 {
		t.Fatalf("second Open should be a no-op, saw %d dials", n)
	}
}

func TestSend_RequiresOpen(t *testing.T) {
	srv := newWSServer(t)
	m := newTestManager(srv.url(), time.Second)
	defer m.Close()

	err := m.Send(domain.Outbound{Intent: domain.IntentUserMessage, Content: "hello"})
	if !errors.Is(err, domain.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestSend_WritesEnvelope(t *testing.T) {
	srv := newWSServer(t)
	m := newTestManager(srv.url(), time.Second)
	defer m.Close()

	if err := m.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	nextEvent(t, m, stateEvent(domain.StateOpen))
	backend := srv.accept(t)

	if err := m.Send(domain.Outbound{Intent: domain.IntentUserMessage, Content: "hello"}); err != nil {
		t.Fatal(err)
	}

	var out domain.Outbound
	backend.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := backend.ReadJSON(&out); err != nil {
		t.Fatal(err)
	}
	if out.Intent != domain.IntentUserMessage || out.Content != "hello" {
		t.Fatalf("unexpected envelope: %+v", out)
	}
}

func TestReadLoop_DropsMalformedFrames(t *testing.T) {
	srv := newWSServer(t)
	m := newTestManager(srv.url(), time.Second)
	defer m.Close()

	if err := m.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	nextEvent(t, m, stateEvent(domain.StateOpen))
	backend := srv.accept(t)

	for _, raw := range []string{`not json at all`, `{"kind":"pong"}`, `{"kind":"system","content":"ok"}`} {
		if err := backend.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
			t.Fatal(err)
		}
	}

	// Only the valid frame comes through, in order.
	ev := nextEvent(t, m, messageEvent)
	if ev.Message.Kind != domain.KindSystem || ev.Message.Content != "ok" {
		t.Fatalf("expected the valid frame, got %+v", ev.Message)
	}
}

func TestUnexpectedClose_ReconnectsOnce(t *testing.T) {
	srv := newWSServer(t)
	m := newTestManager(srv.url(), 10*time.Millisecond)
	defer m.Close()

	if err := m.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	nextEvent(t, m, stateEvent(domain.StateOpen))
	backend := srv.accept(t)

	backend.Close() // network drop

	nextEvent(t, m, stateEvent(domain.StateClosedUnexpected))
	nextEvent(t, m, stateEvent(domain.StateConnecting))
	nextEvent(t, m, stateEvent(domain.StateOpen))

	srv.accept(t)
	if n := srv.dials.Load(); n != 2 {
		t.Fatalf("expected exactly one reconnect dial, saw %d total", n)
	}
}

func TestClose_SuppressesScheduledReconnect(t *testing.T) {
	srv := newWSServer(t)
	m := newTestManager(srv.url(), 100*time.Millisecond)

	if err := m.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	nextEvent(t, m, stateEvent(domain.StateOpen))
	backend := srv.accept(t)

	backend.Close()
	nextEvent(t, m, stateEvent(domain.StateClosedUnexpected))

	// Close before the backoff elapses: the scheduled attempt must not fire.
	if err := m.Close(); err != nil {
		t.Fatal(err)
	}
	time.Sleep(400 * time.Millisecond)

	if n := srv.dials.Load(); n != 1 {
		t.Fatalf("reconnect fired after Close: %d dials", n)
	}
	if m.State() != domain.StateClosedByUser {
		t.Fatalf("state = %q, want closed-by-user", m.State())
	}
}

func TestClose_Idempotent(t *testing.T) {
	srv := newWSServer(t)
	m := newTestManager(srv.url(), time.Second)

	if err := m.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	nextEvent(t, m, stateEvent(domain.StateOpen))
	srv.accept(t)

	if err := m.Close(); err != nil {
		t.Fatal(err)
	}
	if err := m.Close(); err != nil {
		t.Fatal(err)
	}
	if err := m.Open(context.Background()); err == nil {
		t.Fatal("Open after Close should fail")
	}
}

func TestNew_NilLoggerIsSafe(t *testing.T) {
	// No Logger configured; a failed dial must log, not panic.
	m := New(Config{URL: "ws://127.0.0.1:1/ws/chat", InitialBackoff: time.Hour})
	defer m.Close()

	if err := m.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	nextEvent(t, m, stateEvent(domain.StateConnecting))
	nextEvent(t, m, stateEvent(domain.StateClosedUnexpected))
}
