package config

import (
	"os"
	"testing"
)

func TestDefaults(t *testing.T) {
	c := defaults()
	if c.AppPort != 8080 {
		t.Errorf("expected default port 8080, got %d", c.AppPort)
	}
	if c.Relay.MaxFrameBytes != 4096 {
		t.Errorf("expected default frame limit 4096, got %d", c.Relay.MaxFrameBytes)
	}
	if c.Backoff.MaxAttempts != 3 {
		t.Errorf("expected default max attempts 3, got %d", c.Backoff.MaxAttempts)
	}
}

func TestEnvOverride(t *testing.T) {
	dir := t.TempDir()
	wd, _ := os.Getwd()
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.Chdir(wd) }()

	if err := os.WriteFile("config.json", []byte(`{"app_port": 9000}`), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("AUTH_SERVICE_URL", "http://auth.internal")

	c, err := ReadConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.AppPort != 9000 {
		t.Errorf("expected port 9000 from file, got %d", c.AppPort)
	}
	if c.Auth.BaseURL != "http://auth.internal" {
		t.Errorf("expected env override for auth url, got %q", c.Auth.BaseURL)
	}
	if c.Relay.TypingTimeout != "3s" {
		t.Errorf("expected default typing timeout, got %q", c.Relay.TypingTimeout)
	}
}
