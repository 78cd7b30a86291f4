package voice

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type staticSource struct {
	data []byte
	name string
}

func (s *staticSource) Record(ctx context.Context) (io.Reader, string, error) {
	return bytes.NewReader(s.data), s.name, nil
}

func TestWhisper_Recognize(t *testing.T) {
	var gotModel, gotLanguage, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatal(err)
		}
		gotModel = r.FormValue("model")
		gotLanguage = r.FormValue("language")

		file, header, err := r.FormFile("file")
		if err != nil {
			t.Fatal(err)
		}
		defer file.Close()
		if header.Filename != "audio.wav" {
			t.Errorf("filename = %q", header.Filename)
		}

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"text":" check the weather in Sudbury ","language":"en","duration":2.4}`)
	}))
	defer srv.Close()

	w := NewWhisper(WhisperConfig{
		APIBase:  srv.URL,
		APIKey:   "test-key",
		Model:    "whisper-1",
		Language: "en",
		Source:   &staticSource{data: []byte("RIFFfake"), name: "audio.wav"},
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	text, err := w.Recognize(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if text != "check the weather in Sudbury" {
		t.Fatalf("text = %q", text)
	}
	if gotModel != "whisper-1" || gotLanguage != "en" {
		t.Fatalf("model = %q, language = %q", gotModel, gotLanguage)
	}
	if gotAuth != "Bearer test-key" {
		t.Fatalf("auth header = %q", gotAuth)
	}
}

func TestWhisper_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid audio", http.StatusBadRequest)
	}))
	defer srv.Close()

	w := NewWhisper(WhisperConfig{
		APIBase: srv.URL,
		Source:  &staticSource{data: []byte("junk"), name: "audio.wav"},
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	_, err := w.Recognize(context.Background())
	if err == nil || !strings.Contains(err.Error(), "status 400") {
		t.Fatalf("expected an API error, got %v", err)
	}
}

func TestNewWhisper_NilLoggerIsSafe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"text":"ok"}`)
	}))
	defer srv.Close()

	w := NewWhisper(WhisperConfig{
		APIBase: srv.URL,
		Source:  &staticSource{data: []byte("RIFF"), name: "audio.wav"},
	})

	got, err := w.Recognize(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got != "ok" {
		t.Fatalf("transcript = %q", got)
	}
}
