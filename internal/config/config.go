// Package config loads and validates the gateway's YAML configuration,
// matching the teacher's env-override-then-defaults shape but sourced from
// a single YAML document rather than a 3-tier env/DB/defaults stack.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ConfigPathEnvVars are checked in order for an override of the config file
// path, per spec.md §6.
var ConfigPathEnvVars = []string{"TUNNEL_CONFIG", "AI_TUNNEL_CONFIG"}

// DefaultConfigPath is used when no env override and no --config flag are
// given.
const DefaultConfigPath = "$HOME/.ai-tunnel/config.yaml"

// Config is the root of the YAML document.
type Config struct {
	Server       ServerConfig    `yaml:"server"`
	SSH          *SSHConfig      `yaml:"ssh,omitempty"`
	Channels     []ChannelConfig `yaml:"channels"`
	Routes       []RouteConfig   `yaml:"routes,omitempty"`
	Settings     SettingsConfig  `yaml:"settings"`
	UIAuthToken  string          `yaml:"uiAuthToken,omitempty"`

	// Sites is the legacy shim input; it is converted into Channels during
	// Load and is never read again afterward.
	Sites []LegacySite `yaml:"sites,omitempty"`
}

// ServerConfig configures the proxy ingress and the management UI.
type ServerConfig struct {
	Host string     `yaml:"host"`
	Port int        `yaml:"port"`
	UI   UIConfig   `yaml:"ui"`
}

// UIConfig configures the separate management-API listener.
type UIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// SSHConfig configures the reverse-tunnel manager's upstream SSH server.
// Exactly one of PrivateKeyPath or Password is expected to be set.
type SSHConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	Username       string `yaml:"username"`
	PrivateKeyPath string `yaml:"privateKeyPath,omitempty"`
	Password       string `yaml:"password,omitempty"`
}

// ChannelConfig is one upstream backend as declared in YAML.
type ChannelConfig struct {
	Name        string             `yaml:"name"`
	Target      string             `yaml:"target"`
	Keys        []string           `yaml:"keys"`
	KeyStrategy string             `yaml:"keyStrategy,omitempty"`
	Weight      int                `yaml:"weight"`
	Fallback    bool               `yaml:"fallback"`
	Tunnel      *TunnelConfig      `yaml:"tunnel,omitempty"`
	HealthCheck *HealthCheckConfig `yaml:"healthCheck,omitempty"`
}

// TunnelConfig advertises an SSH reverse-tunnel forward for this channel.
type TunnelConfig struct {
	Enabled    bool `yaml:"enabled"`
	LocalPort  int  `yaml:"localPort"`
	RemotePort int  `yaml:"remotePort"`
}

// HealthCheckConfig configures the periodic prober for a channel.
type HealthCheckConfig struct {
	Path       string `yaml:"path"`
	IntervalMs int    `yaml:"intervalMs"`
	TimeoutMs  int    `yaml:"timeoutMs"`
}

// RouteConfig maps a path pattern to a channel list and strategy.
type RouteConfig struct {
	Path     string   `yaml:"path"`
	Channels []string `yaml:"channels"`
	Strategy string   `yaml:"strategy"`
}

// SettingsConfig holds process-wide knobs.
type SettingsConfig struct {
	ReconnectInterval int         `yaml:"reconnectInterval"`
	LogLevel          string      `yaml:"logLevel"`
	HotReload         bool        `yaml:"hotReload"`
	Retry             RetryConfig `yaml:"retry"`
}

// RetryConfig is the YAML form of the retry-policy record (spec.md §3).
type RetryConfig struct {
	MaxRetries  int    `yaml:"maxRetries"`
	RetryOn     []int  `yaml:"retryOn,omitempty"`
	Backoff     string `yaml:"backoff"`
	BaseDelayMs int    `yaml:"baseDelayMs"`
	MaxDelayMs  int    `yaml:"maxDelayMs"`
}

// LegacySite is the pre-gateway single-target tunnel shim entry.
type LegacySite struct {
	Name          string            `yaml:"name"`
	Target        string            `yaml:"target"`
	RemotePort    int               `yaml:"remotePort"`
	LocalPort     int               `yaml:"localPort"`
	Headers       map[string]string `yaml:"headers,omitempty"`
}

// ValidationError reports a single config field failure, grounded on the
// teacher's ConfigError (internal/config/config.go).
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config error: %s: %s", e.Field, e.Message)
}

// ResolvePath returns the effective config file path: the first set env
// override, else the explicit flag value (if non-empty), else the default.
func ResolvePath(flagValue string) string {
	for _, name := range ConfigPathEnvVars {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	if flagValue != "" {
		return flagValue
	}
	return os.ExpandEnv(DefaultConfigPath)
}

// Load reads, parses, applies the legacy sites shim, and validates the
// config at path.
func Load(path string) (*Config, error) {
	return LoadWithWarn(path, nil)
}

// LoadWithWarn is Load with a callback invoked for each non-fatal migration
// warning raised while converting the legacy sites shim (spec.md §9, Open
// Question 1). Pass nil to discard warnings.
func LoadWithWarn(path string, warn func(format string, args ...any)) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	applyDefaults(&cfg)
	convertLegacySites(&cfg, warn)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.UI.Host == "" {
		cfg.Server.UI.Host = "127.0.0.1"
	}
	if cfg.Server.UI.Port == 0 {
		cfg.Server.UI.Port = 3000
	}
	if cfg.Settings.LogLevel == "" {
		cfg.Settings.LogLevel = "info"
	}
	if cfg.Settings.Retry.Backoff == "" {
		cfg.Settings.Retry.Backoff = "exponential"
	}
	if cfg.Settings.Retry.BaseDelayMs == 0 {
		cfg.Settings.Retry.BaseDelayMs = 200
	}
	if cfg.Settings.Retry.MaxDelayMs == 0 {
		cfg.Settings.Retry.MaxDelayMs = 5000
	}
	if len(cfg.Settings.Retry.RetryOn) == 0 {
		cfg.Settings.Retry.RetryOn = []int{429, 502, 503, 504}
	}
	for i := range cfg.Channels {
		if cfg.Channels[i].KeyStrategy == "" {
			cfg.Channels[i].KeyStrategy = "round-robin"
		}
		if cfg.Channels[i].Weight == 0 {
			cfg.Channels[i].Weight = 10
		}
	}
}

// Validate checks required fields and cross-field constraints, failing
// startup on a Config-invalid error per spec.md §7.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return &ValidationError{Field: "server.port", Message: "must be between 1 and 65535"}
	}
	if len(c.Channels) == 0 {
		return &ValidationError{Field: "channels", Message: "at least one channel is required"}
	}
	seen := make(map[string]bool, len(c.Channels))
	for i, ch := range c.Channels {
		if ch.Name == "" {
			return &ValidationError{Field: fmt.Sprintf("channels[%d].name", i), Message: "required"}
		}
		if seen[ch.Name] {
			return &ValidationError{Field: fmt.Sprintf("channels[%d].name", i), Message: "duplicate channel name " + ch.Name}
		}
		seen[ch.Name] = true
		if ch.Target == "" {
			return &ValidationError{Field: fmt.Sprintf("channels[%d].target", i), Message: "required"}
		}
		if len(ch.Keys) == 0 {
			return &ValidationError{Field: fmt.Sprintf("channels[%d].keys", i), Message: "at least one credential is required"}
		}
	}
	for i, rt := range c.Routes {
		for _, name := range rt.Channels {
			if !seen[name] {
				return &ValidationError{Field: fmt.Sprintf("routes[%d].channels", i), Message: "unknown channel " + name}
			}
		}
	}
	return nil
}
