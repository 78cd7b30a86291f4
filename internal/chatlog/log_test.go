package chatlog

import (
	"fmt"
	"testing"

	"webpilot/internal/domain"
)

func TestAppend_KeepsInsertionOrder(t *testing.T) {
	log := New()
	for i := 0; i < 5; i++ {
		msg := domain.NewMessage(domain.KindUser, fmt.Sprintf("msg-%d", i))
		if err := log.Append(msg); err != nil {
			t.Fatal(err)
		}
	}

	snap := log.Snapshot()
	if len(snap) != 5 {
		t.Fatalf("len = %d, want 5", len(snap))
	}
	for i, msg := range snap {
		if want := fmt.Sprintf("msg-%d", i); msg.Content != want {
			t.Fatalf("entry %d = %q, want %q", i, msg.Content, want)
		}
	}
}

func TestAppend_RejectsUnknownKind(t *testing.T) {
	log := New()
	err := log.Append(domain.Message{Kind: "pong", Content: "x"})
	if err == nil {
		t.Fatal("expected an error for unknown kind")
	}
	if log.Len() != 0 {
		t.Fatalf("log should stay empty, has %d entries", log.Len())
	}
}

func TestSnapshot_IsACopy(t *testing.T) {
	log := New()
	if err := log.Append(domain.NewMessage(domain.KindAgent, "original")); err != nil {
		t.Fatal(err)
	}

	snap := log.Snapshot()
	snap[0].Content = "mutated"

	if got := log.Snapshot()[0].Content; got != "original" {
		t.Fatalf("mutating a snapshot leaked into the log: %q", got)
	}
}
