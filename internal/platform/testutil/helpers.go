package testutil

import (
	"context"
	"strings"
	"testing"

	"gorm.io/gorm"

	"tuya-ble-cloud/internal/platform/config"
	"tuya-ble-cloud/internal/platform/logging"
	"tuya-ble-cloud/internal/platform/storage"
)

// SetupTestConfig returns defaults bound to loopback with an in-memory registry.
func SetupTestConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Server.IP = "127.0.0.1"
	cfg.Server.Port = 18123
	cfg.Log.Level = "DEBUG"
	cfg.Log.Dir = t.TempDir()
	cfg.Entries.Driver = "memory"
	cfg.Auth.Secret = "test-secret"
	return cfg
}

// SetupTestLogger returns a logger that writes into the test log.
func SetupTestLogger(t *testing.T) *logging.Logger {
	t.Helper()
	return logging.NewWithWriter(testWriter{t}, "DEBUG")
}

// OpenTestDB opens a private in-memory SQLite database with all migrations applied.
func OpenTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := "file:" + strings.NewReplacer("/", "_", " ", "_").Replace(t.Name()) + "?mode=memory&cache=shared"
	db, err := storage.Open(context.Background(), storage.Config{DSN: dsn})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { _ = storage.Close(db) })
	return db
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}
