package config

import (
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("ENABLE_DUST_MONITOR", "false")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}

	if cfg.APIBaseURL != "https://fastapi.mm-air.online" {
		t.Errorf("APIBaseURL = %q", cfg.APIBaseURL)
	}
	if cfg.SweepInterval != 30*time.Minute {
		t.Errorf("SweepInterval = %v, want 30m", cfg.SweepInterval)
	}
	if cfg.DedupWindow != time.Hour {
		t.Errorf("DedupWindow = %v, want 1h", cfg.DedupWindow)
	}
	if cfg.DefaultDustThreshold != 25 {
		t.Errorf("DefaultDustThreshold = %v, want 25", cfg.DefaultDustThreshold)
	}
	if cfg.APITimeout != 10*time.Second {
		t.Errorf("APITimeout = %v, want 10s", cfg.APITimeout)
	}
	if cfg.MonitorEnabled() {
		t.Error("monitor should be disabled outside production")
	}
	if cfg.AdminAddr != "127.0.0.1:8080" {
		t.Errorf("AdminAddr = %q, want loopback default", cfg.AdminAddr)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("API_BASE_URL", "http://localhost:9000/")
	t.Setenv("SWEEP_INTERVAL", "90")
	t.Setenv("DEDUP_WINDOW", "2h")
	t.Setenv("SWEEP_CONCURRENCY", "4")
	t.Setenv("SKIP_INACTIVE_DEVICES", "true")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}

	if cfg.APIBaseURL != "http://localhost:9000" {
		t.Errorf("trailing slash not trimmed: %q", cfg.APIBaseURL)
	}
	if cfg.SweepInterval != 90*time.Second {
		t.Errorf("SweepInterval = %v, want 90s", cfg.SweepInterval)
	}
	if cfg.DedupWindow != 2*time.Hour {
		t.Errorf("DedupWindow = %v, want 2h", cfg.DedupWindow)
	}
	if cfg.SweepConcurrency != 4 {
		t.Errorf("SweepConcurrency = %d, want 4", cfg.SweepConcurrency)
	}
	if !cfg.SkipInactiveDevices {
		t.Error("SkipInactiveDevices not applied")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			AppEnv:               "production",
			APIBaseURL:           "http://api",
			APITimeout:           time.Second,
			SweepInterval:        time.Minute,
			SweepConcurrency:     1,
			DedupWindow:          time.Hour,
			DefaultDustThreshold: 25,
			SMTPHost:             "smtp.example.com",
			SMTPFrom:             "alerts@example.com",
			AdminAddr:            "127.0.0.1:8080",
		}
	}

	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"zero interval", func(c *Config) { c.SweepInterval = 0 }, true},
		{"zero dedup window", func(c *Config) { c.DedupWindow = 0 }, true},
		{"zero concurrency", func(c *Config) { c.SweepConcurrency = 0 }, true},
		{"negative threshold", func(c *Config) { c.DefaultDustThreshold = -1 }, true},
		{"missing smtp in production", func(c *Config) { c.SMTPHost = "" }, true},
		{"missing smtp in development", func(c *Config) { c.AppEnv = "development"; c.SMTPHost = "" }, false},
		{"telegram token without chat", func(c *Config) { c.TelegramBotToken = "tok" }, true},
		{"public admin without key", func(c *Config) { c.AdminAddr = ":8080" }, true},
		{"public admin with key", func(c *Config) { c.AdminAddr = "0.0.0.0:8080"; c.AdminAPIKey = "k" }, false},
		{"localhost admin without key", func(c *Config) { c.AdminAddr = "localhost:8080" }, false},
		{"ipv6 loopback admin without key", func(c *Config) { c.AdminAddr = "[::1]:8080" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.modify(c)
			err := c.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
