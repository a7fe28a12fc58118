package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPPort != "8080" || cfg.Timezone != "Asia/Manila" {
		t.Fatalf("defaults wrong: %+v", cfg)
	}
	if cfg.HistoryDays != 14 || cfg.EnsembleDays != 30 || cfg.EnsembleMin != 7 {
		t.Fatalf("window defaults wrong: %+v", cfg)
	}
	if cfg.Location().String() != "Asia/Manila" {
		t.Fatalf("location = %s", cfg.Location())
	}
}

func TestLoadYAMLOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	doc := "http_port: \"9090\"\nhistory_days: 21\ntimezone: UTC\n"
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_PATH", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPPort != "9090" || cfg.HistoryDays != 21 || cfg.Timezone != "UTC" {
		t.Fatalf("overlay not applied: %+v", cfg)
	}
	// Unset keys keep their defaults.
	if cfg.EnsembleDays != 30 {
		t.Fatalf("EnsembleDays = %d, want default 30", cfg.EnsembleDays)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("http_port: \"9090\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("PORT", "7070")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPPort != "7070" {
		t.Fatalf("HTTPPort = %s, env must win over file", cfg.HTTPPort)
	}
}

func TestLoadClampsRanges(t *testing.T) {
	t.Setenv("HISTORY_DAYS", "500")
	t.Setenv("WORKER_COUNT", "-3")
	t.Setenv("QUEUE_SIZE", "1")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HistoryDays != 90 {
		t.Fatalf("HistoryDays = %d, want clamped 90", cfg.HistoryDays)
	}
	if cfg.WorkerCount != 0 {
		t.Fatalf("WorkerCount = %d, want clamped 0", cfg.WorkerCount)
	}
	if cfg.QueueSize != 8 {
		t.Fatalf("QueueSize = %d, want clamped 8", cfg.QueueSize)
	}
}

func TestLoadBadTimezone(t *testing.T) {
	t.Setenv("TIMEZONE", "Mars/Olympus")
	if _, err := Load(); err == nil {
		t.Fatal("invalid timezone must fail load")
	}
}

func TestLoadDebugLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Fatalf("LogLevel = %v, want debug", cfg.LogLevel)
	}
}
