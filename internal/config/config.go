package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all environment-driven settings for the engine.
type Config struct {
	HTTPPort      string
	DBPath        string
	ModelPath     string
	Timezone      string
	HistoryDays   int
	EnsembleDays  int
	EnsembleMin   int
	WorkerCount   int
	QueueSize     int
	EnableWatcher bool
	Environment   string
	LogLevel      slog.Level

	loc *time.Location
}

type fileConfig struct {
	HTTPPort     *string `yaml:"http_port"`
	DBPath       *string `yaml:"db_path"`
	ModelPath    *string `yaml:"model_path"`
	Timezone     *string `yaml:"timezone"`
	HistoryDays  *int    `yaml:"history_days"`
	EnsembleDays *int    `yaml:"ensemble_days"`
	EnsembleMin  *int    `yaml:"ensemble_min_days"`
	WorkerCount  *int    `yaml:"worker_count"`
	QueueSize    *int    `yaml:"queue_size"`
}

const (
	defaultHistoryDays  = 14
	defaultEnsembleDays = 30
	defaultEnsembleMin  = 7
)

// Load reads configuration from environment, an optional .env file, and an
// optional YAML file named by CONFIG_PATH. File values override defaults;
// environment values override the file.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		HTTPPort:      "8080",
		DBPath:        "./churnwatch.db",
		ModelPath:     "./models/churn_model.json",
		Timezone:      "Asia/Manila",
		HistoryDays:   defaultHistoryDays,
		EnsembleDays:  defaultEnsembleDays,
		EnsembleMin:   defaultEnsembleMin,
		WorkerCount:   4,
		QueueSize:     64,
		EnableWatcher: true,
		Environment:   "local",
		LogLevel:      slog.LevelInfo,
	}

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return cfg, err
		}
	}

	cfg.HTTPPort = getenv("PORT", cfg.HTTPPort)
	cfg.DBPath = getenv("DB_PATH", cfg.DBPath)
	cfg.ModelPath = getenv("MODEL_PATH", cfg.ModelPath)
	cfg.Timezone = getenv("TIMEZONE", cfg.Timezone)
	cfg.HistoryDays = clampInt(getenvInt("HISTORY_DAYS", cfg.HistoryDays), 1, 90)
	cfg.EnsembleDays = clampInt(getenvInt("ENSEMBLE_DAYS", cfg.EnsembleDays), 7, 365)
	cfg.EnsembleMin = clampInt(getenvInt("ENSEMBLE_MIN_DAYS", cfg.EnsembleMin), 1, cfg.EnsembleDays)
	cfg.WorkerCount = clampInt(getenvInt("WORKER_COUNT", cfg.WorkerCount), 0, 64)
	cfg.QueueSize = clampInt(getenvInt("QUEUE_SIZE", cfg.QueueSize), 8, 1024)
	cfg.EnableWatcher = getenvBool("ENABLE_WATCHER", cfg.EnableWatcher)
	cfg.Environment = getenv("ENVIRONMENT", cfg.Environment)
	if os.Getenv("LOG_LEVEL") == "debug" {
		cfg.LogLevel = slog.LevelDebug
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return cfg, fmt.Errorf("config: timezone %q: %w", cfg.Timezone, err)
	}
	cfg.loc = loc
	return cfg, nil
}

func applyFile(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	if fc.HTTPPort != nil {
		cfg.HTTPPort = *fc.HTTPPort
	}
	if fc.DBPath != nil {
		cfg.DBPath = *fc.DBPath
	}
	if fc.ModelPath != nil {
		cfg.ModelPath = *fc.ModelPath
	}
	if fc.Timezone != nil {
		cfg.Timezone = *fc.Timezone
	}
	if fc.HistoryDays != nil {
		cfg.HistoryDays = *fc.HistoryDays
	}
	if fc.EnsembleDays != nil {
		cfg.EnsembleDays = *fc.EnsembleDays
	}
	if fc.EnsembleMin != nil {
		cfg.EnsembleMin = *fc.EnsembleMin
	}
	if fc.WorkerCount != nil {
		cfg.WorkerCount = *fc.WorkerCount
	}
	if fc.QueueSize != nil {
		cfg.QueueSize = *fc.QueueSize
	}
	return nil
}

// Location returns the tenant calendar's timezone. Falls back to UTC when the
// config was built by hand, as tests do.
func (c Config) Location() *time.Location {
	if c.loc == nil {
		return time.UTC
	}
	return c.loc
}

// SetLocation overrides the calendar timezone.
func (c *Config) SetLocation(loc *time.Location) { c.loc = loc }

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getenvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// Now returns a second-truncated UTC timestamp for persistence columns.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}
