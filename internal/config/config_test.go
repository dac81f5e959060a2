package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Devices.TapeDrive != "/dev/nst0" {
		t.Errorf("expected device /dev/nst0, got %s", cfg.Devices.TapeDrive)
	}

	if cfg.Threads.Get != 4 {
		t.Errorf("expected threads.get 4, got %d", cfg.Threads.Get)
	}

	if cfg.TapeKeepFree != "10G" {
		t.Errorf("expected tape-keep-free 10G, got %s", cfg.TapeKeepFree)
	}
}

func TestLoadNonExistentFile(t *testing.T) {
	cfg, err := Load("/non/existent/path.yaml")
	if err != nil {
		t.Fatalf("expected no error for non-existent file, got %v", err)
	}

	if cfg.Threads.Get != 4 {
		t.Errorf("expected default threads.get 4, got %d", cfg.Threads.Get)
	}
}

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	cfg := DefaultConfig()
	cfg.Threads.Get = 16
	cfg.EncKey = "test-secret"

	if err := cfg.Save(configPath); err != nil {
		t.Fatalf("failed to save config: %v", err)
	}

	if _, err := os.Stat(configPath); err != nil {
		t.Fatalf("config file not created: %v", err)
	}

	loaded, err := Load(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if loaded.Threads.Get != 16 {
		t.Errorf("expected threads.get 16, got %d", loaded.Threads.Get)
	}

	if loaded.EncKey != "test-secret" {
		t.Errorf("expected enc-key 'test-secret', got %s", loaded.EncKey)
	}
}

func TestWhitelistBlacklistRoundtrip(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	cfg := DefaultConfig()
	cfg.LTOWhitelist = []string{"TAPE001", "TAPE002"}

	if err := cfg.Save(configPath); err != nil {
		t.Fatalf("failed to save config: %v", err)
	}

	loaded, err := Load(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if len(loaded.LTOWhitelist) != 2 || loaded.LTOWhitelist[0] != "TAPE001" {
		t.Errorf("expected whitelist to round-trip, got %v", loaded.LTOWhitelist)
	}
	if len(loaded.LTOBlacklist) != 0 {
		t.Errorf("expected empty blacklist, got %v", loaded.LTOBlacklist)
	}
}
