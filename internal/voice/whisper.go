package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os/exec"
	"strings"
	"time"
)

// Source captures one utterance of audio.
type Source interface {
	// Record returns the audio bytes and a filename whose extension tells
	// the transcription API the container format.
	Record(ctx context.Context) (io.Reader, string, error)
}

// CommandSource records by running an external command (sox, arecord, rec)
// that writes audio to stdout. Recording is cut at MaxDuration.
type CommandSource struct {
	Args        []string // e.g. ["sox", "-d", "-t", "wav", "-"]
	MaxDuration time.Duration
	Filename    string // default "audio.wav"
}

func (s *CommandSource) Record(ctx context.Context) (io.Reader, string, error) {
	if len(s.Args) == 0 {
		return nil, "", errors.New("record audio: no capture command configured")
	}
	maxDur := s.MaxDuration
	if maxDur <= 0 {
		maxDur = 10 * time.Second
	}
	name := s.Filename
	if name == "" {
		name = "audio.wav"
	}

	runCtx, cancel := context.WithTimeout(ctx, maxDur)
	defer cancel()

	var out bytes.Buffer
	cmd := exec.CommandContext(runCtx, s.Args[0], s.Args[1:]...)
	cmd.Stdout = &out

	err := cmd.Run()
	if runCtx.Err() == context.DeadlineExceeded {
		// Expected: the recording is cut at the maximum duration.
		err = nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("record audio: %w", err)
	}
	if out.Len() == 0 {
		return nil, "", errors.New("record audio: no data captured")
	}
	return &out, name, nil
}

// WhisperConfig configures the speech-to-text recognizer.
type WhisperConfig struct {
	APIBase  string // OpenAI-compatible base, e.g. "https://api.groq.com/openai/v1"
	APIKey   string
	Model    string // e.g. "whisper-large-v3" or "whisper-1"
	Language string // fixed ISO-639-1 spoken-language tag
	Source   Source
	Logger   *slog.Logger
}

// Whisper transcribes captured audio through an OpenAI-compatible
// /audio/transcriptions endpoint.
type Whisper struct {
	apiBase  string
	apiKey   string
	model    string
	language string
	source   Source
	client   *http.Client
	logger   *slog.Logger
}

var _ Recognizer = (*Whisper)(nil)

func NewWhisper(cfg WhisperConfig) *Whisper {
	if cfg.APIBase == "" {
		cfg.APIBase = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "whisper-1"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Whisper{
		apiBase:  strings.TrimSuffix(cfg.APIBase, "/"),
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		language: cfg.Language,
		source:   cfg.Source,
		client:   &http.Client{Timeout: 120 * time.Second},
		logger:   cfg.Logger,
	}
}

type transcriptionResult struct {
	Text     string  `json:"text"`
	Language string  `json:"language,omitempty"`
	Duration float64 `json:"duration,omitempty"`
}

// Recognize records one utterance and returns the final transcript.
func (w *Whisper) Recognize(ctx context.Context) (string, error) {
	audio, filename, err := w.source.Record(ctx)
	if err != nil {
		return "", err
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, audio); err != nil {
		return "", fmt.Errorf("copy audio data: %w", err)
	}

	writer.WriteField("model", w.model)
	writer.WriteField("response_format", "json")
	if w.language != "" {
		writer.WriteField("language", w.language)
	}
	writer.Close()

	url := w.apiBase + "/audio/transcriptions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+w.apiKey)

	resp, err := w.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcription request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("transcription API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var result transcriptionResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode transcription response: %w", err)
	}

	text := strings.TrimSpace(result.Text)
	w.logger.Info("transcription complete",
		"chars", len(text),
		"language", result.Language,
		"duration", result.Duration,
	)
	return text, nil
}
