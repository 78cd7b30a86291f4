// Package config loads and validates the webpilot configuration file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Config is the root configuration.
type Config struct {
	General GeneralConfig `json:"general"`
	Server  ServerConfig  `json:"server"`
	Chat    ChatConfig    `json:"chat"`
	Voice   VoiceConfig   `json:"voice"`
	Gateway GatewayConfig `json:"gateway"`
}

type GeneralConfig struct {
	LogLevel string `json:"logLevel"`           // debug | info | warn | error
	LogFile  string `json:"logFile,omitempty"`  // optional log file path
}

// ServerConfig describes the agent backend the client connects to.
type ServerConfig struct {
	URL                     string `json:"url"` // ws:// chat endpoint
	ReconnectDelaySeconds   int    `json:"reconnectDelaySeconds"`
	ReconnectMaxSeconds     int    `json:"reconnectMaxSeconds"`
	PingIntervalSeconds     int    `json:"pingIntervalSeconds"`
	HandshakeTimeoutSeconds int    `json:"handshakeTimeoutSeconds"`
}

type ChatConfig struct {
	MaxInputChars int    `json:"maxInputChars"`          // outbound input cap
	ExamplesPath  string `json:"examplesPath,omitempty"` // YAML task suggestions
}

// VoiceConfig configures speech-to-text input.
type VoiceConfig struct {
	Enabled          bool     `json:"enabled"`
	APIBase          string   `json:"apiBase,omitempty"`
	APIKey           string   `json:"apiKey,omitempty"`
	Model            string   `json:"model,omitempty"`
	Language         string   `json:"language,omitempty"` // fixed spoken language (ISO-639-1)
	CaptureCommand   []string `json:"captureCommand,omitempty"`
	MaxRecordSeconds int      `json:"maxRecordSeconds"`
	CooldownSeconds  int      `json:"cooldownSeconds"`
}

// GatewayConfig configures the companion agent gateway (webpilot serve).
type GatewayConfig struct {
	Host        string      `json:"host"`
	Port        int         `json:"port"`
	CORSOrigins []string    `json:"corsOrigins,omitempty"`
	Agent       AgentConfig `json:"agent"`
}

type AgentConfig struct {
	Mode               string `json:"mode"` // "simulate" | "browser"
	ProfileDir         string `json:"profileDir,omitempty"`
	Headless           bool   `json:"headless"`
	TaskTimeoutSeconds int    `json:"taskTimeoutSeconds"`
}

func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".webpilot"
	}
	return filepath.Join(home, ".webpilot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	path = expandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.General.LogFile = expandPath(cfg.General.LogFile)
	cfg.Chat.ExamplesPath = expandPath(cfg.Chat.ExamplesPath)
	cfg.Gateway.Agent.ProfileDir = expandPath(cfg.Gateway.Agent.ProfileDir)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} in config strings. The
// ":-" marker is captured so an empty default still counts as a default.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty; the default may
// itself be empty, as in ${OPENAI_API_KEY:-}.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 4 {
			return match
		}
		varName := groups[1]
		hasDefault := groups[2] != ""
		defaultVal := groups[3]

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has usable values.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.Server.URL == "" {
		errs = append(errs, "server.url is required")
	} else if !strings.HasPrefix(cfg.Server.URL, "ws://") && !strings.HasPrefix(cfg.Server.URL, "wss://") {
		errs = append(errs, "server.url must start with ws:// or wss://")
	}
	if cfg.Server.ReconnectDelaySeconds < 1 {
		errs = append(errs, "server.reconnectDelaySeconds must be at least 1")
	}
	if cfg.Server.ReconnectMaxSeconds < cfg.Server.ReconnectDelaySeconds {
		errs = append(errs, "server.reconnectMaxSeconds must be >= server.reconnectDelaySeconds")
	}
	if cfg.Chat.MaxInputChars < 1 {
		errs = append(errs, "chat.maxInputChars must be positive")
	}
	switch cfg.General.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	switch cfg.Gateway.Agent.Mode {
	case "", "simulate", "browser":
	default:
		errs = append(errs, "gateway.agent.mode must be \"simulate\" or \"browser\"")
	}
	if cfg.Gateway.Port < 0 || cfg.Gateway.Port > 65535 {
		errs = append(errs, "gateway.port must be a valid port number")
	}
	if cfg.Voice.Enabled && cfg.Voice.APIKey == "" {
		errs = append(errs, "voice.apiKey is required when voice is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
