// Package integration holds end-to-end tests that wire the hub to real
// backends. They run with -tags integration.
package integration

import (
	"context"
	"os"
	"testing"
	"time"
)

// Config holds integration test settings from the environment.
type Config struct {
	RedisAddr   string
	TestTimeout time.Duration
	SkipSlow    bool
}

// LoadConfig reads integration settings from the environment.
func LoadConfig() *Config {
	return &Config{
		RedisAddr:   os.Getenv("AGENTHUB_TEST_REDIS_ADDR"),
		TestTimeout: 30 * time.Second,
		SkipSlow:    os.Getenv("SKIP_SLOW_TESTS") == "1",
	}
}

// SkipIfNoRedis skips the test when no Redis address is configured.
func SkipIfNoRedis(t *testing.T, cfg *Config) {
	t.Helper()
	if cfg.RedisAddr == "" {
		t.Skip("Skipping redis integration test: AGENTHUB_TEST_REDIS_ADDR not set")
	}
}

// SkipIfShort skips integration tests in short mode.
func SkipIfShort(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
}

// NewTestContext creates a context with timeout for integration tests.
func NewTestContext(t *testing.T, timeout time.Duration) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}
