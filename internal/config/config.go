package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

type Config struct {
	API     APIConfig
	Inbox   InboxConfig
	Scan    ScanConfig
	Storage StorageConfig
	Log     LogConfig
	Output  OutputConfig
	Sandbox SandboxConfig
	Auth    AuthConfig
}

type APIConfig struct {
	BaseURL string
	// Timeout is a Go duration string applied to every request.
	Timeout string
}

type InboxConfig struct {
	PollInterval string
}

type ScanConfig struct {
	PurchaseLimit int
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

type OutputConfig struct {
	Format string
	Color  bool
}

type SandboxConfig struct {
	Port      int
	AutoReply bool
}

// AuthConfig carries an access token supplied from the environment. It
// takes precedence over the token saved by `leadctl auth login`.
type AuthConfig struct {
	Token string
}

func defaults() Config {
	return Config{
		API: APIConfig{
			BaseURL: "http://localhost:9999/api",
			Timeout: "30s",
		},
		Inbox: InboxConfig{
			PollInterval: "5s",
		},
		Scan: ScanConfig{
			PurchaseLimit: 10,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
		Output: OutputConfig{
			Format: "text",
			Color:  true,
		},
		Sandbox: SandboxConfig{
			Port:      9999,
			AutoReply: true,
		},
	}
}

// RequestTimeout parses API.Timeout.
func (c Config) RequestTimeout() time.Duration {
	d, _ := time.ParseDuration(c.API.Timeout)
	return d
}

// PollInterval parses Inbox.PollInterval.
func (c Config) PollInterval() time.Duration {
	d, _ := time.ParseDuration(c.Inbox.PollInterval)
	return d
}

// Load reads configuration from the JSON config file and applies
// LEADCTL_* environment overrides on top.
func Load() (Config, error) {
	return loadWith(newFileBackend(FilePath()))
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid config: api.base_url %q is not an absolute URL", c.API.BaseURL)
	}
	if d, err := time.ParseDuration(c.API.Timeout); err != nil || d <= 0 {
		return fmt.Errorf("invalid config: api.timeout %q is not a positive duration", c.API.Timeout)
	}
	if d, err := time.ParseDuration(c.Inbox.PollInterval); err != nil || d <= 0 {
		return fmt.Errorf("invalid config: inbox.poll_interval %q is not a positive duration", c.Inbox.PollInterval)
	}
	if c.Scan.PurchaseLimit < 1 {
		return fmt.Errorf("invalid config: scan.purchase_limit must be at least 1, got %d", c.Scan.PurchaseLimit)
	}
	switch strings.ToLower(c.Output.Format) {
	case "text", "json", "yaml":
	default:
		return fmt.Errorf("invalid config: output.format must be text, json or yaml, got %q", c.Output.Format)
	}
	return nil
}
