package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Query the gateway's agent status",
		RunE:  runStatus,
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()

	host := cfg.Gateway.Host
	if host == "0.0.0.0" || host == "" {
		host = "localhost"
	}
	url := fmt.Sprintf("http://%s:%d/api/status", host, cfg.Gateway.Port)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("query %s: %w", url, err)
	}
	defer resp.Body.Close()

	var body struct {
		Status      string `json:"status"`
		CurrentTask string `json:"current_task"`
		Uptime      string `json:"uptime"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decode status: %w", err)
	}

	fmt.Printf("gateway:  %s\n", url)
	fmt.Printf("agent:    %s\n", body.Status)
	if strings.TrimSpace(body.CurrentTask) != "" {
		fmt.Printf("task:     %s\n", body.CurrentTask)
	}
	fmt.Printf("uptime:   %s\n", body.Uptime)
	return nil
}
