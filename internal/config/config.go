package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

// Config keeps runtime settings for the bot, the API and the scheduler.
type Config struct {
	TelegramToken  string         `yaml:"telegram_token"`
	DatabaseURL    string         `yaml:"database_url"`
	HTTPAddr       string         `yaml:"http_addr"`
	Timezone       string         `yaml:"timezone"`
	HorizonDays    int            `yaml:"horizon_days"`
	Workspace      string         `yaml:"workspace"`
	ReconcileAt    string         `yaml:"reconcile_at"`
	ReportHours    int            `yaml:"report_interval_hours"`
	ReportInterval time.Duration  `yaml:"-"`
	Location       *time.Location `yaml:"-"`
}

// Load reads an optional YAML file named by CONFIG_FILE, then lets
// environment variables override it, then fills defaults.
func Load() (Config, error) {
	var cfg Config
	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	overrideString(&cfg.TelegramToken, "TELEGRAM_TOKEN")
	overrideString(&cfg.DatabaseURL, "DATABASE_URL")
	overrideString(&cfg.HTTPAddr, "HTTP_ADDR")
	overrideString(&cfg.Timezone, "TIMEZONE")
	overrideString(&cfg.Workspace, "WORKSPACE")
	overrideString(&cfg.ReconcileAt, "RECONCILE_AT")
	if err := overrideInt(&cfg.HorizonDays, "HORIZON_DAYS"); err != nil {
		return cfg, err
	}
	cfg.ReportInterval = parseInterval(strings.TrimSpace(os.Getenv("REPORT_INTERVAL_HOURS")))
	if cfg.ReportInterval == 0 && cfg.ReportHours > 0 {
		cfg.ReportInterval = time.Duration(cfg.ReportHours) * time.Hour
	}

	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = "taskplanner.db"
	}
	if cfg.HorizonDays <= 0 {
		cfg.HorizonDays = 90
	}
	if cfg.Workspace == "" {
		cfg.Workspace = "life"
	}
	if cfg.ReconcileAt == "" {
		cfg.ReconcileAt = "00:05"
	}
	if cfg.ReportInterval == 0 {
		cfg.ReportInterval = 5 * time.Hour
	}

	cfg.Location = time.Local
	if cfg.Timezone != "" {
		loc, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return cfg, fmt.Errorf("TIMEZONE: %w", err)
		}
		cfg.Location = loc
	}

	if cfg.TelegramToken == "" && cfg.HTTPAddr == "" {
		return cfg, fmt.Errorf("either TELEGRAM_TOKEN or HTTP_ADDR is required")
	}

	return cfg, nil
}

func overrideString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func overrideInt(dst *int, key string) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func parseInterval(raw string) time.Duration {
	if raw == "" {
		return 0
	}
	hours, err := time.ParseDuration(raw + "h")
	if err != nil || hours <= 0 {
		return 0
	}
	return hours
}
