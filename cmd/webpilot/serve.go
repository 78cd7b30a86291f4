package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"webpilot/internal/browser"
	"webpilot/internal/gateway"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the agent gateway (websocket + REST API)",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()

	log, err := buildLogger(cfg)
	if err != nil {
		return err
	}

	var runner gateway.Runner
	switch cfg.Gateway.Agent.Mode {
	case "browser":
		bridge := browser.NewBridge(browser.BridgeConfig{
			ProfileDir: cfg.Gateway.Agent.ProfileDir,
			Headless:   cfg.Gateway.Agent.Headless,
			Logger:     log,
		})
		runner = &gateway.BrowserRunner{
			Bridge:  bridge,
			Timeout: time.Duration(cfg.Gateway.Agent.TaskTimeoutSeconds) * time.Second,
			Logger:  log,
		}
	case "simulate", "":
		runner = &gateway.SimulatedRunner{}
	default:
		return fmt.Errorf("unknown agent mode %q (use \"simulate\" or \"browser\")", cfg.Gateway.Agent.Mode)
	}

	srv := gateway.New(gateway.Config{
		Host:        cfg.Gateway.Host,
		Port:        cfg.Gateway.Port,
		CORSOrigins: cfg.Gateway.CORSOrigins,
		Runner:      runner,
		AccessLog:   os.Stdout,
		Logger:      log,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return srv.Start(ctx)
}
