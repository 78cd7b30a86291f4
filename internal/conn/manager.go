// Package conn owns the persistent websocket connection to the agent
// backend: dialing, sending, the read loop, and automatic reconnection.
package conn

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"webpilot/internal/domain"
	"webpilot/internal/metrics"
)

// Config configures the connection manager.
type Config struct {
	URL              string        // ws:// or wss:// chat endpoint
	Header           http.Header   // optional extra handshake headers
	InitialBackoff   time.Duration // delay before the first reconnect attempt (default 3s)
	MaxBackoff       time.Duration // backoff cap (default 30s)
	HandshakeTimeout time.Duration // default 10s
	PingInterval     time.Duration // websocket-level liveness pings (default 30s)
	EventBuffer      int           // event channel capacity (default 64)
	Logger           *slog.Logger
}

// Manager is the single logical connection of a session. After an
// unexpected close it schedules exactly one reconnection attempt, backing
// off exponentially with jitter up to MaxBackoff; every successful reopen
// resets the delay. Reconnection repeats until Close.
type Manager struct {
	cfg    Config
	logger *slog.Logger
	dialer *websocket.Dialer

	events chan domain.Event
	done   chan struct{}

	mu        sync.Mutex
	state     domain.ConnState
	ws        *websocket.Conn
	backoff   time.Duration
	reconnect *time.Timer
	ctx       context.Context
	closed    bool

	// Serializes data and close frames; the ping loop uses control frames
	// which gorilla allows concurrently with one writer.
	writeMu sync.Mutex
}

var _ domain.Transport = (*Manager)(nil)

func New(cfg Config) *Manager {
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 3 * time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 64
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{
		cfg:     cfg,
		logger:  cfg.Logger,
		dialer:  &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
		events:  make(chan domain.Event, cfg.EventBuffer),
		done:    make(chan struct{}),
		state:   domain.StateDisconnected,
		backoff: cfg.InitialBackoff,
	}
}

// Open starts connecting. It returns immediately; the open (or lost) state
// arrives on Events. Calling Open while connecting or open is a no-op.
func (m *Manager) Open(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return fmt.Errorf("open: connection closed by user")
	}
	switch m.state {
	case domain.StateConnecting, domain.StateOpen:
		m.mu.Unlock()
		return nil
	}
	m.ctx = ctx
	m.state = domain.StateConnecting
	m.mu.Unlock()

	m.emit(domain.Event{Kind: domain.EventStateChanged, State: domain.StateConnecting})
	go m.dial(ctx)
	return nil
}

func (m *Manager) dial(ctx context.Context) {
	ws, resp, err := m.dialer.DialContext(ctx, m.cfg.URL, m.cfg.Header)
	if err != nil {
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		m.logger.Warn("dial failed", "url", m.cfg.URL, "err", err)
		m.connectionLost()
		return
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		ws.Close()
		return
	}
	m.ws = ws
	m.state = domain.StateOpen
	m.backoff = m.cfg.InitialBackoff
	connDone := make(chan struct{})
	m.mu.Unlock()

	m.logger.Info("connection open", "url", m.cfg.URL)
	m.emit(domain.Event{Kind: domain.EventStateChanged, State: domain.StateOpen})

	go m.pingLoop(ws, connDone)
	go m.readLoop(ws, connDone)
}

// readLoop receives frames until the physical connection dies. Inbound
// payloads that do not parse as messages are dropped and counted.
func (m *Manager) readLoop(ws *websocket.Conn, connDone chan struct{}) {
	defer m.teardown(ws, connDone)

	pongWait := m.cfg.PingInterval * 2
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				m.logger.Warn("read error", "err", err)
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))

		msg, err := domain.ParseInbound(data)
		if err != nil {
			m.logger.Warn("dropping malformed frame", "err", err)
			metrics.FramesDropped.Inc()
			continue
		}
		metrics.MessagesReceived.Inc()
		m.emit(domain.Event{Kind: domain.EventMessage, Message: msg})
	}
}

func (m *Manager) pingLoop(ws *websocket.Conn, connDone chan struct{}) {
	ticker := time.NewTicker(m.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-connDone:
			return
		case <-m.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(5 * time.Second)
			if err := ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				// The read loop notices the dead connection via its deadline.
				return
			}
		}
	}
}

// teardown runs whenever a physical connection dies.
func (m *Manager) teardown(ws *websocket.Conn, connDone chan struct{}) {
	close(connDone)
	ws.Close()

	m.mu.Lock()
	if m.ws != ws {
		// Already detached by Close or replaced by a newer dial.
		m.mu.Unlock()
		return
	}
	m.ws = nil
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.state = domain.StateClosedUnexpected
	m.scheduleReconnect()
	m.mu.Unlock()

	m.logger.Warn("connection lost")
	m.emit(domain.Event{Kind: domain.EventStateChanged, State: domain.StateClosedUnexpected})
}

// connectionLost handles a failed dial the same way as a dropped connection.
func (m *Manager) connectionLost() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.state = domain.StateClosedUnexpected
	m.scheduleReconnect()
	m.mu.Unlock()

	m.emit(domain.Event{Kind: domain.EventStateChanged, State: domain.StateClosedUnexpected})
}

// scheduleReconnect arms exactly one reconnect timer. Caller holds mu.
func (m *Manager) scheduleReconnect() {
	delay := m.backoff
	if delay > 0 {
		delay += time.Duration(rand.Int64N(int64(delay/2) + 1))
	}
	m.backoff = min(m.backoff*2, m.cfg.MaxBackoff)

	m.logger.Info("scheduling reconnect", "delay", delay)
	m.reconnect = time.AfterFunc(delay, m.tryReconnect)
}

func (m *Manager) tryReconnect() {
	m.mu.Lock()
	if m.closed || m.state != domain.StateClosedUnexpected {
		m.mu.Unlock()
		return
	}
	ctx := m.ctx
	m.state = domain.StateConnecting
	m.mu.Unlock()

	metrics.Reconnects.Inc()
	m.emit(domain.Event{Kind: domain.EventStateChanged, State: domain.StateConnecting})
	m.dial(ctx)
}

// Send serializes out and hands it to the transport. It either succeeds
// synchronously or fails immediately; there is no pending state.
func (m *Manager) Send(out domain.Outbound) error {
	m.mu.Lock()
	ws, state := m.ws, m.state
	m.mu.Unlock()

	if state != domain.StateOpen || ws == nil {
		return domain.ErrNotConnected
	}

	m.writeMu.Lock()
	err := ws.WriteJSON(out)
	m.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("write payload: %w", err)
	}
	metrics.MessagesSent.Inc()
	return nil
}

// Events returns the ordered stream of state changes and inbound messages.
func (m *Manager) Events() <-chan domain.Event {
	return m.events
}

// State returns the current connection state.
func (m *Manager) State() domain.ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Close is the user-initiated shutdown: it stops any scheduled reconnect,
// sends a close frame, and silences the event stream. Idempotent.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.state = domain.StateClosedByUser
	if m.reconnect != nil {
		m.reconnect.Stop()
		m.reconnect = nil
	}
	ws := m.ws
	m.ws = nil
	m.mu.Unlock()

	// Best effort: the consumer may already be gone.
	select {
	case m.events <- domain.Event{Kind: domain.EventStateChanged, State: domain.StateClosedByUser}:
	default:
	}
	close(m.done)

	if ws != nil {
		frame := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		m.writeMu.Lock()
		_ = ws.WriteControl(websocket.CloseMessage, frame, time.Now().Add(time.Second))
		m.writeMu.Unlock()
		ws.Close()
	}
	m.logger.Info("connection closed by user")
	return nil
}

func (m *Manager) emit(ev domain.Event) {
	select {
	case m.events <- ev:
	case <-m.done:
	}
}
