package config

import (
	"testing"
	"time"
)

func validLocal() Config {
	return Config{
		App:   AppConfig{Env: "local", Port: 8080},
		DB:    DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "lbs"},
		Redis: RedisConfig{Host: "localhost", Port: 6379},
		Auth:  AuthConfig{JWTSecret: "secret"},
	}
}

func TestLoad_ReportsMissingRequired(t *testing.T) {
	c := Config{}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestValidate_ProductionRequiresSSLMode(t *testing.T) {
	c := validLocal()
	c.App.Env = "production"
	c.Auth.JWTIssuer = "lbs"
	c.Auth.JWTAudience = "internal"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for production without DB_SSLMODE")
	}
}

func TestValidate_LocalDefaults(t *testing.T) {
	c := validLocal()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode disable default, got %q", c.DB.SSLMode)
	}
	if c.Coordination.IdempotencyTTL != 24*time.Hour {
		t.Fatalf("expected 24h idempotency ttl, got %s", c.Coordination.IdempotencyTTL)
	}
	if c.Coordination.LoadBalanceWindow != 24*time.Hour {
		t.Fatalf("expected 24h load window, got %s", c.Coordination.LoadBalanceWindow)
	}
	if c.Coordination.KeyPrefix != "lbs" {
		t.Fatalf("expected lbs key prefix, got %q", c.Coordination.KeyPrefix)
	}
	if c.Events.Buffer != 1024 {
		t.Fatalf("expected default event buffer, got %d", c.Events.Buffer)
	}
}

func TestValidate_CatalogFileSkipsDB(t *testing.T) {
	c := validLocal()
	c.DB = DBConfig{}
	c.Catalog.File = "snapshot.yaml"
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error with catalog file, got %v", err)
	}
	if c.UsesPostgres() {
		t.Fatalf("expected file catalog")
	}
}

func TestValidate_TimeoutMustBeShorterThanLock(t *testing.T) {
	c := validLocal()
	c.Coordination.LockTTL = time.Second
	c.Coordination.Timeout = 2 * time.Second
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for timeout >= lock ttl")
	}
}
