// Package voice bridges spoken input into the chat pipeline. The adapter
// wraps a speech recognizer behind a small state machine; a finished
// transcript is handed to the session as if it had been typed.
package voice

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"webpilot/internal/metrics"
)

// State is the capture state. At most one listening session is active.
type State string

const (
	StateIdle      State = "idle"
	StateListening State = "listening"
	StateCooldown  State = "error-cooldown"
)

// Recognizer produces at most one final transcript per listening session.
// Interim results are never surfaced.
type Recognizer interface {
	Recognize(ctx context.Context) (string, error)
}

// Config configures the capture adapter.
type Config struct {
	Recognizer   Recognizer
	OnTranscript func(text string) // called with the final transcript
	OnState      func(State)       // optional, for presentation
	Cooldown     time.Duration     // error cooldown before idle (default 2s)
	Logger       *slog.Logger
}

// Adapter is the single voice-capture instance of a session. It is not
// re-entrant: Start while listening is ignored, never queued.
type Adapter struct {
	rec          Recognizer
	onTranscript func(string)
	onState      func(State)
	cooldown     time.Duration
	logger       *slog.Logger

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	gen    int // listening generation; results from stopped sessions are stale
}

func NewAdapter(cfg Config) *Adapter {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 2 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Adapter{
		rec:          cfg.Recognizer,
		onTranscript: cfg.OnTranscript,
		onState:      cfg.OnState,
		cooldown:     cfg.Cooldown,
		logger:       cfg.Logger,
		state:        StateIdle,
	}
}

// SetOnState installs the state-change callback. Used when the observer is
// built after the adapter (the UI program holds the adapter and vice versa).
func (a *Adapter) SetOnState(fn func(State)) {
	a.mu.Lock()
	a.onState = fn
	a.mu.Unlock()
}

// State returns the current capture state.
func (a *Adapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Start begins one listening session. A no-op unless the adapter is idle.
func (a *Adapter) Start(ctx context.Context) {
	a.mu.Lock()
	if a.state != StateIdle {
		a.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.state = StateListening
	a.gen++
	gen := a.gen
	a.mu.Unlock()

	a.logger.Info("voice capture started")
	a.changed(StateListening)
	go a.listen(runCtx, gen)
}

// Stop forces listening back to idle without emitting a transcript.
// Idempotent; an in-flight recognition result is discarded.
func (a *Adapter) Stop() {
	a.mu.Lock()
	if a.state != StateListening {
		a.mu.Unlock()
		return
	}
	a.cancel()
	a.cancel = nil
	a.state = StateIdle
	a.gen++
	a.mu.Unlock()

	a.logger.Info("voice capture stopped")
	a.changed(StateIdle)
}

func (a *Adapter) listen(ctx context.Context, gen int) {
	text, err := a.rec.Recognize(ctx)

	a.mu.Lock()
	if gen != a.gen {
		// Stopped while recognizing; nothing observable happens.
		a.mu.Unlock()
		return
	}
	a.cancel = nil

	if err != nil {
		a.state = StateCooldown
		a.mu.Unlock()
		a.logger.Warn("voice recognition failed", "err", err)
		metrics.VoiceErrors.Inc()
		a.changed(StateCooldown)
		time.AfterFunc(a.cooldown, a.endCooldown)
		return
	}

	a.state = StateIdle
	a.mu.Unlock()

	a.changed(StateIdle)
	if text == "" {
		// Ended with no result.
		return
	}
	metrics.Transcriptions.Inc()
	a.logger.Info("transcript ready", "chars", len(text))
	if a.onTranscript != nil {
		a.onTranscript(text)
	}
}

func (a *Adapter) endCooldown() {
	a.mu.Lock()
	if a.state != StateCooldown {
		a.mu.Unlock()
		return
	}
	a.state = StateIdle
	a.mu.Unlock()
	a.changed(StateIdle)
}

func (a *Adapter) changed(s State) {
	a.mu.Lock()
	fn := a.onState
	a.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}
