package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "api.base_url", typ: kString, env: "LEADCTL_API_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.API.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.API.BaseURL },
	},
	{
		key: "api.timeout", typ: kString, env: "LEADCTL_API_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.API.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.API.Timeout },
	},
	{
		key: "inbox.poll_interval", typ: kString, env: "LEADCTL_INBOX_POLL_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Inbox.PollInterval = v.(string) },
		extract: func(cfg Config) any { return cfg.Inbox.PollInterval },
	},
	{
		key: "scan.purchase_limit", typ: kInt, env: "LEADCTL_SCAN_PURCHASE_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.Scan.PurchaseLimit = v.(int) },
		extract: func(cfg Config) any { return cfg.Scan.PurchaseLimit },
	},
	{
		key: "storage.data_dir", typ: kString, env: "LEADCTL_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "LEADCTL_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "output.format", typ: kString, env: "LEADCTL_OUTPUT_FORMAT",
		apply:   func(cfg *Config, v any) { cfg.Output.Format = v.(string) },
		extract: func(cfg Config) any { return cfg.Output.Format },
	},
	{
		key: "output.color", typ: kBool, env: "LEADCTL_OUTPUT_COLOR",
		apply:   func(cfg *Config, v any) { cfg.Output.Color = v.(bool) },
		extract: func(cfg Config) any { return cfg.Output.Color },
	},
	{
		key: "sandbox.port", typ: kInt, env: "LEADCTL_SANDBOX_PORT",
		apply:   func(cfg *Config, v any) { cfg.Sandbox.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Sandbox.Port },
	},
	{
		key: "sandbox.auto_reply", typ: kBool, env: "LEADCTL_SANDBOX_AUTO_REPLY",
		apply:   func(cfg *Config, v any) { cfg.Sandbox.AutoReply = v.(bool) },
		extract: func(cfg Config) any { return cfg.Sandbox.AutoReply },
	},
	{
		key: "auth.token", typ: kString, env: "LEADCTL_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Auth.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Auth.Token },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
