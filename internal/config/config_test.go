package config

import (
	"net/url"
	"testing"
	"time"

	"github.com/aqi-agent/internal/types"
)

func TestLoadConfig(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("POSTGRES_HOST", "testhost")
	t.Setenv("AGENT_MIN_INTERVAL", "30m")
	t.Setenv("LEDGER_DRIVER", "memory")
	t.Setenv("REDIS_ENABLED", "true")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("Server.Port = %v, want %v", cfg.Server.Port, "9090")
	}
	if cfg.Database.Postgres.Host != "testhost" {
		t.Errorf("Database.Postgres.Host = %v, want %v", cfg.Database.Postgres.Host, "testhost")
	}
	if cfg.Agent.MinInterval != 30*time.Minute {
		t.Errorf("Agent.MinInterval = %v, want %v", cfg.Agent.MinInterval, 30*time.Minute)
	}
	if cfg.Database.Driver != DriverMemory {
		t.Errorf("Database.Driver = %v, want %v", cfg.Database.Driver, DriverMemory)
	}
	if !cfg.Database.Redis.Enabled {
		t.Errorf("Database.Redis.Enabled = false, want true")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Agent.MinInterval != time.Hour {
		t.Errorf("Agent.MinInterval = %v, want 1h", cfg.Agent.MinInterval)
	}
	if cfg.Agent.DefaultSource != types.SourceSelfReported {
		t.Errorf("Agent.DefaultSource = %v, want %v", cfg.Agent.DefaultSource, types.SourceSelfReported)
	}
	if cfg.Sweep.Schedule != "@every 5m" {
		t.Errorf("Sweep.Schedule = %v, want @every 5m", cfg.Sweep.Schedule)
	}
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"unknown driver", "LEDGER_DRIVER", "mongo"},
		{"untrusted default source", "AGENT_DEFAULT_SOURCE", "random_blog"},
		{"zero interval", "AGENT_MIN_INTERVAL", "0s"},
		{"negative batch", "SWEEP_BATCH_SIZE", "-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := LoadConfig(); err == nil {
				t.Errorf("LoadConfig() with %s=%s expected error", tt.key, tt.value)
			}
		})
	}
}

func TestPostgresURL(t *testing.T) {
	cfg := PostgresConfig{Host: "db", Port: "5433", Database: "aqi", User: "u", Password: "p"}
	want := "postgres://u:p@db:5433/aqi?sslmode=disable"
	if got := cfg.URL(); got != want {
		t.Errorf("URL() = %v, want %v", got, want)
	}
}

func TestPostgresURLEscapesCredentials(t *testing.T) {
	cfg := PostgresConfig{Host: "db", Port: "5432", Database: "aqi", User: "agent", Password: "p@ss:w/rd?#"}

	u, err := url.Parse(cfg.URL())
	if err != nil {
		t.Fatalf("URL() is not parseable: %v", err)
	}
	password, _ := u.User.Password()
	if u.User.Username() != "agent" || password != "p@ss:w/rd?#" {
		t.Errorf("credentials = %q/%q, want agent/p@ss:w/rd?#", u.User.Username(), password)
	}
	if u.Host != "db:5432" || u.Path != "/aqi" || u.Query().Get("sslmode") != "disable" {
		t.Errorf("URL() = %v, unexpected host, path or query", cfg.URL())
	}
}

func TestGetEnv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		want         string
	}{
		{
			name:         "returns environment variable when set",
			key:          "TEST_KEY",
			defaultValue: "default",
			envValue:     "custom",
			want:         "custom",
		},
		{
			name:         "returns default when environment variable not set",
			key:          "NONEXISTENT_KEY",
			defaultValue: "default",
			want:         "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv(tt.key, tt.envValue)
			}

			if got := getEnv(tt.key, tt.defaultValue); got != tt.want {
				t.Errorf("getEnv() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetEnvAsInt(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue int
		envValue     string
		want         int
	}{
		{"returns integer when valid", "TEST_INT", 100, "200", 200},
		{"returns default when invalid", "TEST_INT_INVALID", 100, "invalid", 100},
		{"returns default when not set", "TEST_INT_NOTSET", 100, "", 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv(tt.key, tt.envValue)
			}

			if got := getEnvAsInt(tt.key, tt.defaultValue); got != tt.want {
				t.Errorf("getEnvAsInt() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetEnvAsBool(t *testing.T) {
	t.Setenv("TEST_BOOL", "yes")
	if got := getEnvAsBool("TEST_BOOL", true); got != true {
		t.Errorf("getEnvAsBool() with unparsable value = %v, want default true", got)
	}

	t.Setenv("TEST_BOOL", "false")
	if got := getEnvAsBool("TEST_BOOL", true); got != false {
		t.Errorf("getEnvAsBool() = %v, want false", got)
	}
}

func TestGetEnvAsDuration(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue time.Duration
		envValue     string
		want         time.Duration
	}{
		{"returns duration when valid", "TEST_DURATION", 10 * time.Second, "30s", 30 * time.Second},
		{"returns default when invalid", "TEST_DURATION_INVALID", 10 * time.Second, "invalid", 10 * time.Second},
		{"returns default when not set", "TEST_DURATION_NOTSET", 10 * time.Second, "", 10 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv(tt.key, tt.envValue)
			}

			if got := getEnvAsDuration(tt.key, tt.defaultValue); got != tt.want {
				t.Errorf("getEnvAsDuration() = %v, want %v", got, tt.want)
			}
		})
	}
}
