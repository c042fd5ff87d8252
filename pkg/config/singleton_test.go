package config

import (
	"testing"
)

func TestInitialize(t *testing.T) {
	reset()
	t.Cleanup(reset)

	path := writeConfig(t, `
server:
  listen_address: "127.0.0.1:8080"
`)

	if err := Initialize(path); err != nil {
		t.Fatalf("failed to initialize config: %v", err)
	}

	cfg := GetConfig()
	if cfg == nil {
		t.Fatal("expected non-nil config after initialization")
	}
	if cfg.Server.ListenAddress != "127.0.0.1:8080" {
		t.Errorf("expected listen address %q, got %q", "127.0.0.1:8080", cfg.Server.ListenAddress)
	}
}

func TestInitialize_MultipleCallsIgnored(t *testing.T) {
	reset()
	t.Cleanup(reset)

	first := writeConfig(t, "server:\n  listen_address: \"127.0.0.1:1111\"\n")
	second := writeConfig(t, "server:\n  listen_address: \"127.0.0.1:2222\"\n")

	if err := Initialize(first); err != nil {
		t.Fatalf("first Initialize failed: %v", err)
	}
	if err := Initialize(second); err != nil {
		t.Fatalf("second Initialize failed: %v", err)
	}

	if got := GetConfig().Server.ListenAddress; got != "127.0.0.1:1111" {
		t.Errorf("second Initialize should be ignored, got %q", got)
	}
}

func TestReloadConfig(t *testing.T) {
	reset()
	t.Cleanup(reset)

	path := writeConfig(t, "schedule:\n  max_attempts: 2\n")
	if err := Initialize(path); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	before := GetConfig()

	updated := writeConfig(t, "schedule:\n  max_attempts: 6\n")
	previous, err := ReloadConfig(updated)
	if err != nil {
		t.Fatalf("ReloadConfig failed: %v", err)
	}
	if previous != before {
		t.Error("ReloadConfig should return the replaced configuration")
	}
	if got := GetConfig().Schedule.MaxAttempts; got != 6 {
		t.Errorf("expected max attempts 6 after reload, got %d", got)
	}

	broken := writeConfig(t, "schedule:\n  max_attempts: -1\n")
	if _, err := ReloadConfig(broken); err == nil {
		t.Fatal("expected reload of invalid config to fail")
	}
	if got := GetConfig().Schedule.MaxAttempts; got != 6 {
		t.Errorf("failed reload should keep config, got max attempts %d", got)
	}
}

func TestMustGetConfig_Panics(t *testing.T) {
	reset()
	t.Cleanup(reset)

	defer func() {
		if recover() == nil {
			t.Error("expected MustGetConfig to panic before initialization")
		}
	}()
	MustGetConfig()
}

func TestSetConfig(t *testing.T) {
	reset()
	t.Cleanup(reset)

	cfg := NewDefaultConfig()
	SetConfig(cfg)
	if MustGetConfig() != cfg {
		t.Error("MustGetConfig should return the config passed to SetConfig")
	}
}
