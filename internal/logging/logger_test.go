// Package logging includes tests for the zap logger helpers.
package logging

import "testing"

// TestNewDevelopmentLogger confirms the development logger builds and logs.
func TestNewDevelopmentLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(true)
	if err != nil {
		t.Fatalf("New(true) error = %v", err)
	}
	if logger == nil {
		t.Fatal("expected logger to be non-nil")
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush
	logger.Named("engine").Info("development logger ready")
}

// TestNewProductionLogger ensures the production logger configuration succeeds.
func TestNewProductionLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(false)
	if err != nil {
		t.Fatalf("New(false) error = %v", err)
	}
	if logger == nil {
		t.Fatal("expected logger to be non-nil")
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush
	logger.Named("scheduler").Info("production logger ready")
}

// TestBuildConfigProfiles checks the per-mode encoder choices.
func TestBuildConfigProfiles(t *testing.T) {
	t.Parallel()

	dev := buildConfig(true)
	if !dev.Development {
		t.Fatal("expected development mode config")
	}
	if dev.EncoderConfig.TimeKey != "ts" {
		t.Fatalf("dev TimeKey = %q, want ts", dev.EncoderConfig.TimeKey)
	}

	prod := buildConfig(false)
	if prod.Development {
		t.Fatal("expected production mode config")
	}
	if prod.EncoderConfig.TimeKey != "ts" {
		t.Fatalf("prod TimeKey = %q, want ts", prod.EncoderConfig.TimeKey)
	}
	if prod.DisableStacktrace {
		t.Fatal("production logger should keep stacktraces")
	}
	if prod.EncoderConfig.EncodeTime == nil {
		t.Fatal("production logger needs a time encoder")
	}
}
