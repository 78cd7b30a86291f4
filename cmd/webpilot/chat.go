package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"webpilot/internal/config"
	"webpilot/internal/conn"
	"webpilot/internal/session"
	"webpilot/internal/tui"
	"webpilot/internal/voice"
)

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start the interactive chat client",
		RunE:  runChat,
	}
}

// chatLogger keeps log output away from the terminal the UI owns: it goes to
// the configured log file, or nowhere.
func chatLogger(cfg *config.Config) (*slog.Logger, error) {
	if cfg.General.LogFile == "" {
		return slog.New(slog.NewTextHandler(io.Discard, nil)), nil
	}
	return buildLogger(cfg)
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()

	log, err := chatLogger(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	transport := conn.New(conn.Config{
		URL:              cfg.Server.URL,
		InitialBackoff:   time.Duration(cfg.Server.ReconnectDelaySeconds) * time.Second,
		MaxBackoff:       time.Duration(cfg.Server.ReconnectMaxSeconds) * time.Second,
		HandshakeTimeout: time.Duration(cfg.Server.HandshakeTimeoutSeconds) * time.Second,
		PingInterval:     time.Duration(cfg.Server.PingIntervalSeconds) * time.Second,
		Logger:           log,
	})

	sess := session.New(session.Config{
		Transport:     transport,
		MaxInputChars: cfg.Chat.MaxInputChars,
		Logger:        log,
	})
	if err := sess.Start(ctx); err != nil {
		return fmt.Errorf("connect to %s: %w", cfg.Server.URL, err)
	}
	defer sess.Close()

	var adapter *voice.Adapter
	if cfg.Voice.Enabled {
		recognizer := voice.NewWhisper(voice.WhisperConfig{
			APIBase:  cfg.Voice.APIBase,
			APIKey:   cfg.Voice.APIKey,
			Model:    cfg.Voice.Model,
			Language: cfg.Voice.Language,
			Source: &voice.CommandSource{
				Args:        cfg.Voice.CaptureCommand,
				MaxDuration: time.Duration(cfg.Voice.MaxRecordSeconds) * time.Second,
			},
			Logger: log,
		})
		adapter = voice.NewAdapter(voice.Config{
			Recognizer:   recognizer,
			OnTranscript: sess.AcceptVoiceTranscript,
			Cooldown:     time.Duration(cfg.Voice.CooldownSeconds) * time.Second,
			Logger:       log,
		})
	}

	examples, err := config.LoadExamples(cfg.Chat.ExamplesPath, log)
	if err != nil {
		log.Warn("task examples unavailable", "err", err)
	}

	model := tui.NewModel(ctx, sess, adapter, cfg.Chat.MaxInputChars, examples)
	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))

	// Voice state changes happen off the UI loop; route them in as messages.
	if adapter != nil {
		adapter.SetOnState(func(s voice.State) {
			program.Send(tui.VoiceStateMsg{State: s})
		})
	}

	if _, err := program.Run(); err != nil {
		return fmt.Errorf("run chat ui: %w", err)
	}
	return nil
}
