// Package session composes the transport, the conversation log, and the
// thinking indicator into the chat session a presentation layer drives.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"webpilot/internal/chatlog"
	"webpilot/internal/domain"
)

const defaultMaxInputChars = 1000

// Config configures a session controller.
type Config struct {
	Transport     domain.Transport
	Log           *chatlog.Log // optional; a fresh log is created when nil
	MaxInputChars int          // outbound cap, runes (default 1000)
	Logger        *slog.Logger
}

// Controller routes user text (typed or voice-transcribed) into outbound
// envelopes, applies inbound traffic to the log, and tracks whether the
// agent is thinking. All transport events are applied by one goroutine, so
// an inbound message is fully appended and the thinking flag cleared before
// the next event is taken.
type Controller struct {
	transport domain.Transport
	log       *chatlog.Log
	logger    *slog.Logger
	maxInput  int

	mu       sync.Mutex
	thinking bool
	draft    string
	closed   bool

	updates chan struct{}
	done    chan struct{}
}

func New(cfg Config) *Controller {
	if cfg.Log == nil {
		cfg.Log = chatlog.New()
	}
	if cfg.MaxInputChars <= 0 {
		cfg.MaxInputChars = defaultMaxInputChars
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Controller{
		transport: cfg.Transport,
		log:       cfg.Log,
		logger:    cfg.Logger,
		maxInput:  cfg.MaxInputChars,
		updates:   make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

// Start opens the transport and begins consuming its events.
func (c *Controller) Start(ctx context.Context) error {
	if err := c.transport.Open(ctx); err != nil {
		return fmt.Errorf("open transport: %w", err)
	}
	go c.run()
	return nil
}

func (c *Controller) run() {
	for {
		select {
		case <-c.done:
			return
		case ev := <-c.transport.Events():
			c.apply(ev)
		}
	}
}

func (c *Controller) apply(ev domain.Event) {
	switch ev.Kind {
	case domain.EventMessage:
		c.mu.Lock()
		if err := c.log.Append(ev.Message); err != nil {
			c.logger.Warn("discarding inbound message", "err", err)
		}
		// Any inbound traffic ends the thinking period.
		c.thinking = false
		c.mu.Unlock()
	case domain.EventStateChanged:
		c.logger.Debug("connection state changed", "state", ev.State)
	}
	c.notify()
}

// Submit validates text and dispatches it as a user message. It fails with
// ErrEmptyInput for blank text, ErrNotConnected while the connection is not
// open, and ErrBusy while a thinking period is outstanding. The UI is
// expected to prevent the latter two; the controller still enforces them.
func (c *Controller) Submit(text string) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return domain.ErrEmptyInput
	}
	// The cap applies to the wire payload only; the log keeps the full text.
	outbound := trimmed
	if runes := []rune(outbound); len(runes) > c.maxInput {
		outbound = string(runes[:c.maxInput])
	}

	c.mu.Lock()
	if c.closed || c.transport.State() != domain.StateOpen {
		c.mu.Unlock()
		return domain.ErrNotConnected
	}
	if c.thinking {
		c.mu.Unlock()
		return domain.ErrBusy
	}

	// No side effects unless the payload was handed to the transport.
	err := c.transport.Send(domain.Outbound{Intent: domain.IntentUserMessage, Content: outbound})
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("submit: %w", err)
	}

	msg := domain.NewMessage(domain.KindUser, trimmed)
	if err := c.log.Append(msg); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("submit: %w", err)
	}
	c.thinking = true
	c.mu.Unlock()

	c.notify()
	return nil
}

// AcceptVoiceTranscript stages a transcript as the pending input draft, as
// if the user had typed it. It never submits; the user confirms explicitly,
// keeping typed and spoken input symmetric.
func (c *Controller) AcceptVoiceTranscript(text string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.draft = text
	c.mu.Unlock()
	c.notify()
}

// ConsumeDraft hands the pending draft to the presentation layer and clears
// it. Returns "" when nothing is staged.
func (c *Controller) ConsumeDraft() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	d := c.draft
	c.draft = ""
	return d
}

// Messages returns a read-only snapshot of the conversation in order.
func (c *Controller) Messages() []domain.Message {
	return c.log.Snapshot()
}

// Thinking reports whether a dispatched user message is still unanswered.
func (c *Controller) Thinking() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.thinking
}

// ConnState exposes the transport state for rendering; the controller only
// observes it.
func (c *Controller) ConnState() domain.ConnState {
	return c.transport.State()
}

// Updates is a coalescing signal that some observable state changed.
func (c *Controller) Updates() <-chan struct{} {
	return c.updates
}

// Close shuts the session down. Idempotent.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	c.mu.Unlock()
	return c.transport.Close()
}

func (c *Controller) notify() {
	select {
	case c.updates <- struct{}{}:
	default:
	}
}
