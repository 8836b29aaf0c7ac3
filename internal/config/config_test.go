package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func unsetEnv(keys ...string) func() {
	prev := make(map[string]string)
	for _, k := range keys {
		prev[k] = os.Getenv(k)
		os.Unsetenv(k)
	}
	return func() {
		for k, v := range prev {
			if v == "" {
				os.Unsetenv(k)
			} else {
				os.Setenv(k, v)
			}
		}
	}
}

var envKeys = []string{"LOG_LEVEL", "PORT", "DATABASE_URL", "OTEL_EXPORTER_OTLP_ENDPOINT", "NATS_URL", "KAFKA_BROKERS", "S3_BUCKET", "AUTH_MODE"}

func TestLoadDefaults(t *testing.T) {
	restore := unsetEnv(envKeys...)
	defer restore()
	os.Setenv("AUTH_MODE", "header")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Address != ":8080" {
		t.Fatalf("unexpected address: %s", cfg.Server.Address)
	}
	if cfg.Store.Driver != "memory" || cfg.Storage.Driver != "memory" {
		t.Fatalf("unexpected drivers: %s %s", cfg.Store.Driver, cfg.Storage.Driver)
	}
	if cfg.Storage.SignedURLTTL != time.Hour {
		t.Fatalf("unexpected signed url ttl: %s", cfg.Storage.SignedURLTTL)
	}
	if cfg.Auth.Mode != "header" || cfg.Auth.Header != "X-User-ID" {
		t.Fatalf("unexpected auth defaults: %+v", cfg.Auth)
	}
}

func TestHeaderAuthMustBeChosen(t *testing.T) {
	restore := unsetEnv(envKeys...)
	defer restore()

	if mode := defaultConfig().Auth.Mode; mode != "jwks" {
		t.Fatalf("default auth mode %q", mode)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil || !strings.Contains(err.Error(), "jwks_url required") {
		t.Fatalf("expected unconfigured auth to be rejected, got %v", err)
	}
}

func TestLoadFileWithEnvExpansion(t *testing.T) {
	restore := unsetEnv(envKeys...)
	defer restore()
	restoreSecret := unsetEnv("CONSULT_TEST_SECRET")
	defer restoreSecret()
	os.Setenv("CONSULT_TEST_SECRET", "s3cret")

	path := filepath.Join(t.TempDir(), "consultd.yaml")
	body := `
log_level: debug
store:
  driver: postgres
  profiles:
    - id: 0d4f8c1e-5a51-4b8e-9f57-3c1c2a6b7e10
      role: specialist
      specialty: cardiology
database:
  dsn: postgres://u:p@db:5432/consult
auth:
  mode: hmac
  hmac_secret: ${CONSULT_TEST_SECRET}
storage:
  driver: s3
  bucket: case-files
  signed_url_ttl: 30m
notify:
  kafka:
    enabled: true
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Auth.HMACSecret != "s3cret" {
		t.Fatalf("env not expanded: %q", cfg.Auth.HMACSecret)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("unexpected log level: %q", cfg.LogLevel)
	}
	if len(cfg.Store.Profiles) != 1 || cfg.Store.Profiles[0].Specialty != "cardiology" {
		t.Fatalf("profile seeds not decoded: %+v", cfg.Store.Profiles)
	}
	if cfg.Storage.SignedURLTTL != 30*time.Minute {
		t.Fatalf("unexpected ttl: %s", cfg.Storage.SignedURLTTL)
	}
	if !cfg.Notify.Kafka.Enabled || cfg.Notify.Kafka.Topic != "consult.case.events" {
		t.Fatalf("kafka defaults lost: %+v", cfg.Notify.Kafka)
	}
}

func TestLoadOverrides(t *testing.T) {
	restore := unsetEnv(envKeys...)
	defer restore()

	os.Setenv("PORT", "9090")
	os.Setenv("DATABASE_URL", "postgres://user:pass@db:5432/app")
	os.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "otel:55680")
	os.Setenv("NATS_URL", "nats://nats:4222")
	os.Setenv("KAFKA_BROKERS", "k1:9092,k2:9093")
	os.Setenv("S3_BUCKET", "bucket-a")
	os.Setenv("LOG_LEVEL", "warn")
	os.Setenv("AUTH_MODE", "header")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Address != ":9090" {
		t.Fatalf("expected :9090, got %s", cfg.Server.Address)
	}
	if cfg.Database.DSN != "postgres://user:pass@db:5432/app" {
		t.Fatalf("unexpected database url: %s", cfg.Database.DSN)
	}
	if cfg.Telemetry.OtlpEndpoint != "otel:55680" {
		t.Fatalf("unexpected OTLP endpoint: %s", cfg.Telemetry.OtlpEndpoint)
	}
	if cfg.Notify.NATS.URL != "nats://nats:4222" {
		t.Fatalf("unexpected nats url: %s", cfg.Notify.NATS.URL)
	}
	if !reflect.DeepEqual(cfg.Notify.Kafka.Brokers, []string{"k1:9092", "k2:9093"}) {
		t.Fatalf("unexpected brokers: %#v", cfg.Notify.Kafka.Brokers)
	}
	if cfg.Storage.Bucket != "bucket-a" {
		t.Fatalf("unexpected bucket: %s", cfg.Storage.Bucket)
	}
	if cfg.LogLevel != "warn" {
		t.Fatalf("unexpected log level: %s", cfg.LogLevel)
	}
	if cfg.Auth.Mode != "header" {
		t.Fatalf("unexpected auth mode: %s", cfg.Auth.Mode)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown store", func(c *Config) { c.Store.Driver = "mongo" }, "unknown store driver"},
		{"postgres without dsn", func(c *Config) { c.Store.Driver = "postgres"; c.Database.DSN = " " }, "dsn required"},
		{"s3 without bucket", func(c *Config) { c.Storage.Driver = "s3" }, "bucket required"},
		{"jwks without url", func(c *Config) { c.Auth.Mode = "jwks" }, "jwks_url required"},
		{"hmac without secret", func(c *Config) { c.Auth.Mode = "hmac" }, "hmac_secret required"},
		{"zero ttl", func(c *Config) { c.Storage.SignedURLTTL = 0 }, "signed_url_ttl"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
	cfg := defaultConfig()
	cfg.Auth.Mode = "header"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults with header auth should validate: %v", err)
	}
}
