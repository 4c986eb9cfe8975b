package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("LOTTERY_POLL_INTERVAL", "")
	t.Setenv("LOTTERY_POLL_INTERVAL_SEC", "")
	t.Setenv("DB_DSN", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.DefaultPollInterval != 5*time.Second {
		t.Errorf("DefaultPollInterval = %v, want 5s", cfg.DefaultPollInterval)
	}
	if cfg.DBDsn == "" {
		t.Errorf("expected default dsn, got empty")
	}
	if cfg.RelayReconnectDelay != 3*time.Second {
		t.Errorf("RelayReconnectDelay = %v, want 3s", cfg.RelayReconnectDelay)
	}
}

func TestLoadPollInterval(t *testing.T) {
	t.Setenv("LOTTERY_POLL_INTERVAL", "12s")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.DefaultPollInterval != 12*time.Second {
		t.Errorf("DefaultPollInterval = %v, want 12s", cfg.DefaultPollInterval)
	}

	t.Setenv("LOTTERY_POLL_INTERVAL", "")
	t.Setenv("LOTTERY_POLL_INTERVAL_SEC", "7")
	cfg, err = Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.DefaultPollInterval != 7*time.Second {
		t.Errorf("DefaultPollInterval = %v, want 7s", cfg.DefaultPollInterval)
	}
}

func TestLoadPollIntervalInvalid(t *testing.T) {
	t.Setenv("LOTTERY_POLL_INTERVAL", "not-a-duration")
	if _, err := Load(); err == nil {
		t.Errorf("expected error for invalid LOTTERY_POLL_INTERVAL")
	}
	t.Setenv("LOTTERY_POLL_INTERVAL", "")
	t.Setenv("LOTTERY_POLL_INTERVAL_SEC", "-3")
	if _, err := Load(); err == nil {
		t.Errorf("expected error for negative LOTTERY_POLL_INTERVAL_SEC")
	}
}

func TestValidateMonitorReady(t *testing.T) {
	t.Setenv("YT_API_KEY", "key123")
	cfg, _ := Load()
	if err := cfg.ValidateMonitorReady(); err != nil {
		t.Errorf("expected valid monitor config, got %v", err)
	}
	t.Setenv("YT_API_KEY", "")
	cfg, _ = Load()
	if err := cfg.ValidateMonitorReady(); err == nil {
		t.Errorf("expected error when YT_API_KEY missing")
	}
}
