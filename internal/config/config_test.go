package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// memBackend is an in-memory ConfigBackend.
type memBackend struct {
	strings map[string]string
	ints    map[string]int
}

func newMemBackend() *memBackend {
	return &memBackend{strings: map[string]string{}, ints: map[string]int{}}
}

func (m *memBackend) GetString(key string) (string, bool, error) {
	v, ok := m.strings[key]
	return v, ok, nil
}

func (m *memBackend) GetInt(key string) (int, bool, error) {
	v, ok := m.ints[key]
	return v, ok, nil
}

func (m *memBackend) SetString(key, val string) error { m.strings[key] = val; return nil }
func (m *memBackend) SetInt(key string, val int) error { m.ints[key] = val; return nil }
func (m *memBackend) Delete(key string) error {
	delete(m.strings, key)
	delete(m.ints, key)
	return nil
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		t.Setenv(s.env, "")
	}
}

// TestDefaults verifies all default values are applied when the backend is empty.
func TestDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := loadWith(newMemBackend())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.API.BaseURL != "http://localhost:9999/api" {
		t.Errorf("API.BaseURL = %q", cfg.API.BaseURL)
	}
	if cfg.RequestTimeout() != 30*time.Second {
		t.Errorf("RequestTimeout() = %v, want 30s", cfg.RequestTimeout())
	}
	if cfg.PollInterval() != 5*time.Second {
		t.Errorf("PollInterval() = %v, want 5s", cfg.PollInterval())
	}
	if cfg.Scan.PurchaseLimit != 10 {
		t.Errorf("Scan.PurchaseLimit = %d, want 10", cfg.Scan.PurchaseLimit)
	}
	if cfg.Output.Format != "text" || !cfg.Output.Color {
		t.Errorf("Output = %+v, want text with color", cfg.Output)
	}
	if cfg.Sandbox.Port != 9999 {
		t.Errorf("Sandbox.Port = %d, want 9999", cfg.Sandbox.Port)
	}
	if cfg.Auth.Token != "" {
		t.Errorf("Auth.Token = %q, want empty", cfg.Auth.Token)
	}
}

// TestBackendValues verifies that stored values replace defaults.
func TestBackendValues(t *testing.T) {
	clearEnv(t)

	b := newMemBackend()
	b.strings["api.base_url"] = "https://leads.example.com/api"
	b.strings["inbox.poll_interval"] = "2s"
	b.strings["output.color"] = "false"
	b.ints["scan.purchase_limit"] = 25
	b.ints["sandbox.port"] = 8081

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.API.BaseURL != "https://leads.example.com/api" {
		t.Errorf("API.BaseURL = %q", cfg.API.BaseURL)
	}
	if cfg.PollInterval() != 2*time.Second {
		t.Errorf("PollInterval() = %v", cfg.PollInterval())
	}
	if cfg.Output.Color {
		t.Error("Output.Color = true, want false")
	}
	if cfg.Scan.PurchaseLimit != 25 || cfg.Sandbox.Port != 8081 {
		t.Errorf("ints = (%d, %d)", cfg.Scan.PurchaseLimit, cfg.Sandbox.Port)
	}
}

// TestEnvOverride verifies that environment variables override backend values.
func TestEnvOverride(t *testing.T) {
	clearEnv(t)
	t.Setenv("LEADCTL_API_BASE_URL", "http://env:1234/api")
	t.Setenv("LEADCTL_SCAN_PURCHASE_LIMIT", "3")
	t.Setenv("LEADCTL_TOKEN", "env-token")

	b := newMemBackend()
	b.strings["api.base_url"] = "http://file:1/api"

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.API.BaseURL != "http://env:1234/api" {
		t.Errorf("API.BaseURL = %q", cfg.API.BaseURL)
	}
	if cfg.Scan.PurchaseLimit != 3 {
		t.Errorf("Scan.PurchaseLimit = %d", cfg.Scan.PurchaseLimit)
	}
	if cfg.Auth.Token != "env-token" {
		t.Errorf("Auth.Token = %q", cfg.Auth.Token)
	}
}

// TestSecretNotReadFromBackend verifies the token is only taken from the environment.
func TestSecretNotReadFromBackend(t *testing.T) {
	clearEnv(t)
	b := newMemBackend()
	b.strings["auth.token"] = "leaked"

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Auth.Token != "" {
		t.Errorf("Auth.Token = %q, want empty", cfg.Auth.Token)
	}
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
		want string
	}{
		{"relative url", "api.base_url", "localhost/api", "api.base_url"},
		{"bad timeout", "api.timeout", "soon", "api.timeout"},
		{"zero interval", "inbox.poll_interval", "0s", "inbox.poll_interval"},
		{"bad format", "output.format", "xml", "output.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			b := newMemBackend()
			b.strings[tt.key] = tt.val
			_, err := loadWith(b)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestSetKey(t *testing.T) {
	b := newMemBackend()

	if err := setKeyWith(b, "scan.purchase_limit", "7"); err != nil {
		t.Fatalf("set int: %v", err)
	}
	if b.ints["scan.purchase_limit"] != 7 {
		t.Errorf("stored %d, want 7", b.ints["scan.purchase_limit"])
	}
	if err := setKeyWith(b, "output.color", "0"); err != nil {
		t.Fatalf("set bool: %v", err)
	}
	if b.strings["output.color"] != "false" {
		t.Errorf("stored %q, want false", b.strings["output.color"])
	}

	if err := setKeyWith(b, "scan.purchase_limit", "many"); err == nil {
		t.Error("expected error for non-integer value")
	}
	if err := setKeyWith(b, "inbox.poll_interval", "fast"); err == nil {
		t.Error("expected error for invalid duration")
	}
	if err := setKeyWith(b, "auth.token", "x"); err == nil {
		t.Error("expected error for secret key")
	}
	if err := setKeyWith(b, "nope", "x"); err == nil {
		t.Error("expected error for unknown key")
	}
}

func TestFileBackendRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "leadctl", "config.json")

	b := newFileBackend(path)
	if err := b.SetString("api.base_url", "http://x:1/api"); err != nil {
		t.Fatal(err)
	}
	if err := b.SetInt("sandbox.port", 7000); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("config file not written: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("file mode = %o, want 600", perm)
	}

	reloaded := newFileBackend(path)
	if v, ok, _ := reloaded.GetString("api.base_url"); !ok || v != "http://x:1/api" {
		t.Errorf("api.base_url = %q, %v", v, ok)
	}
	if v, ok, err := reloaded.GetInt("sandbox.port"); err != nil || !ok || v != 7000 {
		t.Errorf("sandbox.port = %d, %v, %v", v, ok, err)
	}
}

func TestShowAllHidesSecrets(t *testing.T) {
	cfg := defaults()
	cfg.Auth.Token = "secret"
	for _, ki := range ShowAll(cfg) {
		if ki.Key == "auth.token" || ki.Value == "secret" {
			t.Errorf("secret exposed: %+v", ki)
		}
	}
	if len(ShowAll(cfg)) != len(ValidKeys()) {
		t.Errorf("ShowAll and ValidKeys disagree")
	}
}
