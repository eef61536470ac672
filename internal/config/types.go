package config

// Config is the root configuration for finchat.
type Config struct {
	Gateway GatewayConfig `yaml:"gateway,omitempty"`
	API     APIConfig     `yaml:"api,omitempty"`
	Chat    ChatConfig    `yaml:"chat,omitempty"`
	Logging LoggingConfig `yaml:"logging,omitempty"`
}

// GatewayConfig controls the reference gateway HTTP/WebSocket server.
type GatewayConfig struct {
	Port            int      `yaml:"port,omitempty"`
	Bind            string   `yaml:"bind,omitempty"` // "loopback" | "lan" | "custom"
	CustomBindHost  string   `yaml:"customBindHost,omitempty"`
	AllowedOrigins  []string `yaml:"allowedOrigins,omitempty"`
	JWTSecret       string   `yaml:"jwtSecret,omitempty"` // supports ${ENV_VAR} references
	TokenTTLMinutes int      `yaml:"tokenTtlMinutes,omitempty"`
	DatabasePath    string   `yaml:"databasePath,omitempty"` // ":memory:" for ephemeral
}

// APIConfig points the client engine at the HTTP collaborator.
type APIConfig struct {
	BaseURL        string `yaml:"baseUrl,omitempty"`
	WSURL          string `yaml:"wsUrl,omitempty"`
	TimeoutSeconds int    `yaml:"timeoutSeconds,omitempty"`
}

// ChatConfig tunes the synchronization core.
type ChatConfig struct {
	// TypingTimeoutMs is the inactivity window after which a typing
	// indicator expires, for both self debounce and peer auto-expiry.
	TypingTimeoutMs int `yaml:"typingTimeoutMs,omitempty"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level string `yaml:"level,omitempty"`
	Style string `yaml:"style,omitempty"` // "pretty" | "json"
}
