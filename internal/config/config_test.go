package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	apperrors "github.com/gridscout/platform/internal/errors"
)

func TestLoad(t *testing.T) {
	for _, v := range []string{
		"HTTP_ADDR", "REPORT_URL", "PREPROCESS_SCALE", "SAUVOLA_WINDOW", "SAUVOLA_K",
		"KEEP_ALIVE", "IDLE_BACKOFF", "POLL_INTERVAL", "WINDOW_TITLE_PREFIX", "OCR_BLACKLIST",
		"OCR_LISTEN_ADDR",
	} {
		t.Setenv(v, "")
	}

	cfg := Load()

	if cfg.HTTPAddr != ":8085" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":8085")
	}
	if cfg.ReportURL != "http://localhost:3000/" {
		t.Errorf("ReportURL = %q, want %q", cfg.ReportURL, "http://localhost:3000/")
	}
	if cfg.Scale != 5.0 {
		t.Errorf("Scale = %f, want %f", cfg.Scale, 5.0)
	}
	if cfg.SauvolaWindow != 10 {
		t.Errorf("SauvolaWindow = %d, want %d", cfg.SauvolaWindow, 10)
	}
	if cfg.SauvolaK != 0.1 {
		t.Errorf("SauvolaK = %f, want %f", cfg.SauvolaK, 0.1)
	}
	if cfg.KeepAlive != 5*time.Minute {
		t.Errorf("KeepAlive = %v, want %v", cfg.KeepAlive, 5*time.Minute)
	}
	if cfg.IdleBackoff != 200*time.Millisecond {
		t.Errorf("IdleBackoff = %v, want %v", cfg.IdleBackoff, 200*time.Millisecond)
	}
	if cfg.PollInterval != 5*time.Second {
		t.Errorf("PollInterval = %v, want %v", cfg.PollInterval, 5*time.Second)
	}
	if cfg.WindowTitlePrefix != "EVE - " {
		t.Errorf("WindowTitlePrefix = %q, want %q", cfg.WindowTitlePrefix, "EVE - ")
	}
	if cfg.OCRListenAddr != ":50051" {
		t.Errorf("OCRListenAddr = %q, want %q", cfg.OCRListenAddr, ":50051")
	}
	if cfg.OCRBlacklist != "@" {
		t.Errorf("OCRBlacklist = %q, want %q", cfg.OCRBlacklist, "@")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() on defaults = %v, want nil", err)
	}
}

func TestLoadWithEnv(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9000")
	t.Setenv("PREPROCESS_SCALE", "3")
	t.Setenv("SAUVOLA_WINDOW", "7")
	t.Setenv("KEEP_ALIVE", "90s")
	t.Setenv("DISCONNECT_PHRASES", "lost link, , gone ")
	t.Setenv("OCR_DPI", "not-a-number")

	cfg := Load()

	if cfg.HTTPAddr != ":9000" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":9000")
	}
	if cfg.Scale != 3 {
		t.Errorf("Scale = %f, want 3", cfg.Scale)
	}
	if cfg.SauvolaWindow != 7 {
		t.Errorf("SauvolaWindow = %d, want 7", cfg.SauvolaWindow)
	}
	if cfg.KeepAlive != 90*time.Second {
		t.Errorf("KeepAlive = %v, want 90s", cfg.KeepAlive)
	}
	if len(cfg.DisconnectPhrases) != 2 || cfg.DisconnectPhrases[1] != "gone" {
		t.Errorf("DisconnectPhrases = %v, want [lost link gone]", cfg.DisconnectPhrases)
	}
	if cfg.OCRDPI != 300 {
		t.Errorf("OCRDPI = %d, want fallback 300", cfg.OCRDPI)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero scale", func(c *Config) { c.Scale = 0 }},
		{"zero window", func(c *Config) { c.SauvolaWindow = 0 }},
		{"k too large", func(c *Config) { c.SauvolaK = 1 }},
		{"zero backoff", func(c *Config) { c.IdleBackoff = 0 }},
		{"negative distance", func(c *Config) { c.ChangeMaxDistance = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Load()
			tt.mutate(cfg)
			err := cfg.Validate()
			if !apperrors.IsCode(err, apperrors.ConfigInvalid) {
				t.Errorf("Validate() = %v, want CONFIG_INVALID", err)
			}
		})
	}
}

func TestSlogLevel(t *testing.T) {
	cfg := &Config{LogLevel: "debug"}
	if got := cfg.SlogLevel().String(); got != "DEBUG" {
		t.Errorf("SlogLevel() = %s, want DEBUG", got)
	}
	cfg.LogLevel = "nonsense"
	if got := cfg.SlogLevel().String(); got != "INFO" {
		t.Errorf("SlogLevel() = %s, want INFO", got)
	}
}

func TestLoadScouts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scouts.yaml")
	doc := `scouts:
  - title: "EVE - Alpha"
    margins: {left: 10, top: 20, right: 5, bottom: 40}
  - title: "EVE - Bravo"
    system: J123456
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}

	scouts, err := LoadScouts(path)
	if err != nil {
		t.Fatalf("LoadScouts() error = %v", err)
	}
	if len(scouts) != 2 {
		t.Fatalf("len = %d, want 2", len(scouts))
	}
	if scouts[0].Margins.Bottom != 40 || scouts[0].Margins.Left != 10 {
		t.Errorf("margins = %+v, want left 10 bottom 40", scouts[0].Margins)
	}
	if scouts[1].Title != "EVE - Bravo" || scouts[1].System != "J123456" {
		t.Errorf("scout = %+v, want EVE - Bravo in J123456", scouts[1])
	}
}

func TestLoadScoutsRejectsEmptyTitle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scouts.yaml")
	if err := os.WriteFile(path, []byte("scouts:\n  - title: \"\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadScouts(path); !apperrors.IsCode(err, apperrors.ConfigInvalid) {
		t.Errorf("LoadScouts() error = %v, want CONFIG_INVALID", err)
	}
}

func TestLoadScoutsEmptyPath(t *testing.T) {
	scouts, err := LoadScouts("")
	if err != nil || scouts != nil {
		t.Errorf("LoadScouts(\"\") = (%v, %v), want (nil, nil)", scouts, err)
	}
}
