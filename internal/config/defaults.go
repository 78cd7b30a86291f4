package config

import "path/filepath"

// Defaults returns a config usable against a local gateway out of the box.
func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
		},
		Server: ServerConfig{
			URL:                     "ws://localhost:8000/ws/chat",
			ReconnectDelaySeconds:   3,
			ReconnectMaxSeconds:     30,
			PingIntervalSeconds:     30,
			HandshakeTimeoutSeconds: 10,
		},
		Chat: ChatConfig{
			MaxInputChars: 1000,
			ExamplesPath:  filepath.Join(DefaultConfigDir(), "examples.yaml"),
		},
		Voice: VoiceConfig{
			Enabled:          false,
			APIBase:          "https://api.openai.com/v1",
			APIKey:           "${OPENAI_API_KEY:-}",
			Model:            "whisper-1",
			Language:         "en",
			CaptureCommand:   []string{"sox", "-d", "-t", "wav", "-"},
			MaxRecordSeconds: 10,
			CooldownSeconds:  2,
		},
		Gateway: GatewayConfig{
			Host:        "0.0.0.0",
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:3001"},
			Agent: AgentConfig{
				Mode:               "simulate",
				ProfileDir:         filepath.Join(DefaultConfigDir(), "chrome-profile"),
				Headless:           true,
				TaskTimeoutSeconds: 120,
			},
		},
	}
}
