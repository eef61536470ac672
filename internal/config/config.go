package config

import "fmt"

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s", e.Message)
}

// Defaults returns a Config with sensible defaults applied.
func Defaults() Config {
	return Config{
		Gateway: GatewayConfig{
			Port:            8080,
			Bind:            "loopback",
			TokenTTLMinutes: 60,
			DatabasePath:    "finchat.db",
		},
		API: APIConfig{
			BaseURL:        "http://127.0.0.1:8080",
			WSURL:          "ws://127.0.0.1:8080/ws",
			TimeoutSeconds: 15,
		},
		Chat: ChatConfig{
			TypingTimeoutMs: 3000,
		},
		Logging: LoggingConfig{
			Level: "info",
			Style: "pretty",
		},
	}
}
