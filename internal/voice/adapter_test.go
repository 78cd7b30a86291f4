package voice

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

// fakeRecognizer blocks until the test scripts a result.
type fakeRecognizer struct {
	results chan result
}

type result struct {
	text string
	err  error
}

func newFakeRecognizer() *fakeRecognizer {
	return &fakeRecognizer{results: make(chan result)}
}

func (f *fakeRecognizer) Recognize(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-f.results:
		return r.text, r.err
	}
}

type transcriptSink struct {
	mu   sync.Mutex
	got  []string
}

func (s *transcriptSink) accept(text string) {
	s.mu.Lock()
	s.got = append(s.got, text)
	s.mu.Unlock()
}

func (s *transcriptSink) all() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.got...)
}

func newTestAdapter(rec Recognizer, sink *transcriptSink, cooldown time.Duration) *Adapter {
	return NewAdapter(Config{
		Recognizer:   rec,
		OnTranscript: sink.accept,
		Cooldown:     cooldown,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func waitState(t *testing.T, a *Adapter, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if a.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("state = %q, want %q", a.State(), want)
}

func TestStart_EmitsFinalTranscript(t *testing.T) {
	rec := newFakeRecognizer()
	sink := &transcriptSink{}
	a := newTestAdapter(rec, sink, time.Second)

	a.Start(context.Background())
	if a.State() != StateListening {
		t.Fatalf("state = %q, want listening", a.State())
	}

	rec.results <- result{text: "check the weather"}
	waitState(t, a, StateIdle)

	got := sink.all()
	if len(got) != 1 || got[0] != "check the weather" {
		t.Fatalf("transcripts = %v", got)
	}
}

func TestStart_TwiceIsIgnored(t *testing.T) {
	rec := newFakeRecognizer()
	sink := &transcriptSink{}
	a := newTestAdapter(rec, sink, time.Second)

	a.Start(context.Background())
	a.Start(context.Background()) // must be ignored, not queued
	if a.State() != StateListening {
		t.Fatalf("state = %q, want listening", a.State())
	}

	rec.results <- result{text: "once"}
	waitState(t, a, StateIdle)

	// A queued second session would block here waiting for another result.
	time.Sleep(20 * time.Millisecond)
	if a.State() != StateIdle {
		t.Fatalf("state = %q after result, want idle", a.State())
	}
	if got := sink.all(); len(got) != 1 {
		t.Fatalf("transcripts = %v, want exactly one", got)
	}
}

func TestStop_DiscardsInFlightResult(t *testing.T) {
	rec := newFakeRecognizer()
	sink := &transcriptSink{}
	a := newTestAdapter(rec, sink, time.Second)

	a.Start(context.Background())
	a.Stop()
	if a.State() != StateIdle {
		t.Fatalf("state = %q, want idle", a.State())
	}

	a.Stop() // idempotent

	time.Sleep(20 * time.Millisecond)
	if got := sink.all(); len(got) != 0 {
		t.Fatalf("stopped capture must not emit, got %v", got)
	}
}

func TestRecognizerError_CooldownThenIdle(t *testing.T) {
	rec := newFakeRecognizer()
	sink := &transcriptSink{}
	a := newTestAdapter(rec, sink, 30*time.Millisecond)

	a.Start(context.Background())
	rec.results <- result{err: errors.New("microphone unavailable")}

	waitState(t, a, StateCooldown)
	waitState(t, a, StateIdle)

	if got := sink.all(); len(got) != 0 {
		t.Fatalf("an error must not emit a transcript, got %v", got)
	}
}

func TestEmptyResult_NoEmit(t *testing.T) {
	rec := newFakeRecognizer()
	sink := &transcriptSink{}
	a := newTestAdapter(rec, sink, time.Second)

	a.Start(context.Background())
	rec.results <- result{text: ""}

	waitState(t, a, StateIdle)
	if got := sink.all(); len(got) != 0 {
		t.Fatalf("end with no result must not emit, got %v", got)
	}
}

func TestStartAfterError_WaitsForCooldown(t *testing.T) {
	rec := newFakeRecognizer()
	sink := &transcriptSink{}
	a := newTestAdapter(rec, sink, 50*time.Millisecond)

	a.Start(context.Background())
	rec.results <- result{err: errors.New("boom")}
	waitState(t, a, StateCooldown)

	a.Start(context.Background()) // ignored during cooldown
	if a.State() != StateCooldown {
		t.Fatalf("state = %q, want cooldown", a.State())
	}

	waitState(t, a, StateIdle)
	a.Start(context.Background())
	if a.State() != StateListening {
		t.Fatalf("state = %q, want listening after cooldown", a.State())
	}
	a.Stop()
}

func TestNewAdapter_NilLoggerIsSafe(t *testing.T) {
	rec := newFakeRecognizer()
	sink := &transcriptSink{}
	a := NewAdapter(Config{Recognizer: rec, OnTranscript: sink.accept})

	a.Start(context.Background())
	rec.results <- result{text: "hello"}
	waitState(t, a, StateIdle)

	if got := sink.all(); len(got) != 1 {
		t.Fatalf("transcripts = %v", got)
	}
}
