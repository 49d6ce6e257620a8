package config

import (
	"strings"
	"testing"
)

func TestEnvIntValid(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	v, err := envInt("TEST_INT", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 42 {
		t.Fatalf("expected 42, got %d", v)
	}
}

func TestEnvIntFallback(t *testing.T) {
	// TEST_INT_MISSING is not set.
	v, err := envInt("TEST_INT_MISSING", 99)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 99 {
		t.Fatalf("expected fallback 99, got %d", v)
	}
}

func TestEnvIntInvalid(t *testing.T) {
	t.Setenv("TEST_INT_BAD", "abc")
	_, err := envInt("TEST_INT_BAD", 0)
	if err == nil {
		t.Fatal("expected error for non-integer value, got nil")
	}
	if got := err.Error(); got != `TEST_INT_BAD="abc" is not a valid integer` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestEnvBoolValid(t *testing.T) {
	t.Setenv("TEST_BOOL", "true")
	v, err := envBool("TEST_BOOL", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !v {
		t.Fatal("expected true")
	}
}

func TestEnvBoolInvalid(t *testing.T) {
	t.Setenv("TEST_BOOL_BAD", "maybe")
	_, err := envBool("TEST_BOOL_BAD", false)
	if err == nil {
		t.Fatal("expected error for non-boolean value, got nil")
	}
	if got := err.Error(); got != `TEST_BOOL_BAD="maybe" is not a valid boolean` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestEnvDurationValid(t *testing.T) {
	t.Setenv("TEST_DUR", "5s")
	v, err := envDuration("TEST_DUR", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Seconds() != 5 {
		t.Fatalf("expected 5s, got %s", v)
	}
}

func TestEnvDurationInvalid(t *testing.T) {
	t.Setenv("TEST_DUR_BAD", "five-seconds")
	_, err := envDuration("TEST_DUR_BAD", 0)
	if err == nil {
		t.Fatal("expected error for invalid duration, got nil")
	}
	if got := err.Error(); got != `TEST_DUR_BAD="five-seconds" is not a valid duration` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestLoadFailsOnInvalidPort(t *testing.T) {
	t.Setenv("HIRAMEKI_PORT", "abc")
	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to fail with invalid HIRAMEKI_PORT")
	}
	// Error should mention the variable name and value.
	if got := err.Error(); !strings.Contains(got, "HIRAMEKI_PORT") || !strings.Contains(got, "abc") {
		t.Fatalf("error should mention HIRAMEKI_PORT and value 'abc', got: %s", got)
	}
}

func TestLoadFailsOnMultipleInvalid(t *testing.T) {
	t.Setenv("HIRAMEKI_PORT", "abc")
	t.Setenv("HIRAMEKI_MAX_WORKERS", "lots")
	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to fail with multiple invalid vars")
	}
	got := err.Error()
	if !strings.Contains(got, "HIRAMEKI_PORT") {
		t.Fatalf("error should mention HIRAMEKI_PORT, got: %s", got)
	}
	if !strings.Contains(got, "HIRAMEKI_MAX_WORKERS") {
		t.Fatalf("error should mention HIRAMEKI_MAX_WORKERS, got: %s", got)
	}
}

func TestLoadSucceedsWithDefaults(t *testing.T) {
	// With no env vars set, Load should succeed using all defaults.
	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected Load() to succeed with defaults, got: %v", err)
	}
	if cfg.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Port)
	}
	if cfg.MaxWorkers != 4 {
		t.Fatalf("expected default worker count 4, got %d", cfg.MaxWorkers)
	}
	if cfg.DatabaseURL != "" {
		t.Fatalf("expected empty DATABASE_URL default, got %q", cfg.DatabaseURL)
	}
}

func TestValidateRejectsHalfConfiguredSandbox(t *testing.T) {
	t.Setenv("HIRAMEKI_CODEGEN_URL", "http://localhost:9000")
	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to fail when only HIRAMEKI_CODEGEN_URL is set")
	}
	if !strings.Contains(err.Error(), "must be set together") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateRejectsBadLogLevel(t *testing.T) {
	t.Setenv("HIRAMEKI_LOG_LEVEL", "loud")
	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to fail with invalid HIRAMEKI_LOG_LEVEL")
	}
}

func TestValidateRejectsZeroWorkers(t *testing.T) {
	t.Setenv("HIRAMEKI_MAX_WORKERS", "0")
	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to fail with zero workers")
	}
}
