package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/franz/media-organizer/internal/config"
	"github.com/franz/media-organizer/internal/score"
	"github.com/franz/media-organizer/internal/store"
	"github.com/spf13/viper"
)

func TestCheckConfig(t *testing.T) {
	v := viper.New()
	config.SetDefaults(v)

	cfg, result := checkConfig(v)
	if result.error || cfg == nil {
		t.Fatalf("default configuration rejected: %s", result.message)
	}
	if !strings.Contains(result.message, "built-in defaults") {
		t.Errorf("expected defaults to be reported, got %q", result.message)
	}

	v.Set("router.accept_threshold", 0.2)
	v.Set("router.reject_threshold", 0.4)
	cfg, result = checkConfig(v)
	if !result.error || cfg != nil {
		t.Errorf("expected inverted thresholds to fail, got %+v", result)
	}
}

func TestCheckTool_Missing(t *testing.T) {
	result := checkTool("ffmpeg", filepath.Join(t.TempDir(), "no-such-ffmpeg"))

	// decoders are optional for WAV-only libraries
	if result.error {
		t.Errorf("missing tool should warn, not fail: %s", result.message)
	}
	if !result.warning {
		t.Error("expected warning for missing tool")
	}
}

func TestCheckSQLite(t *testing.T) {
	result := checkSQLite()

	if result.error {
		t.Errorf("SQLite check failed: %s", result.message)
	}
	if result.message == "" {
		t.Error("expected version information in message")
	}
}

func TestCheckDatabase_Created(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "new.db")

	results := checkDatabase(context.Background(), dbPath)

	if results[0].error {
		t.Fatalf("new database check failed: %s", results[0].message)
	}
	if !strings.Contains(results[0].message, "created") {
		t.Errorf("expected database to be reported as created, got %q", results[0].message)
	}
	if _, err := os.Stat(dbPath); err != nil {
		t.Errorf("expected database file to exist: %v", err)
	}

	// an empty database has neither a model nor a catalog
	warnings := 0
	for _, r := range results[1:] {
		if r.error {
			t.Errorf("%s: unexpected error %s", r.name, r.message)
		}
		if r.warning {
			warnings++
		}
	}
	if warnings != 2 {
		t.Errorf("expected model and catalog warnings, got %d", warnings)
	}
}

func TestCheckDatabase_Existing(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	db, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	if _, _, err := db.RegisterFile(ctx, "/music/a.wav", "hash-a", 1024, store.KindAudio); err != nil {
		t.Fatalf("failed to register file: %v", err)
	}
	if err := db.InsertWork(ctx, &store.Work{Title: "Azzurro", Artist: "Adriano Celentano"}); err != nil {
		t.Fatalf("failed to insert work: %v", err)
	}
	if _, _, err := score.NewRegistry(db).Bootstrap(ctx); err != nil {
		t.Fatalf("failed to bootstrap model: %v", err)
	}
	db.Close()

	results := checkDatabase(ctx, dbPath)

	for _, r := range results {
		if r.error || r.warning {
			t.Errorf("%s: expected success, got %q", r.name, r.message)
		}
	}
	if !strings.Contains(results[0].message, "1 files") {
		t.Errorf("expected file count in message, got %q", results[0].message)
	}
}

func TestCheckDatabase_Empty(t *testing.T) {
	results := checkDatabase(context.Background(), "")

	if len(results) != 1 || !results[0].error {
		t.Errorf("expected a single error for empty database path, got %+v", results)
	}
}

func TestCheckSourceDirectory(t *testing.T) {
	dir := t.TempDir()
	filePath := filepath.Join(dir, "file.txt")
	if err := os.WriteFile(filePath, []byte("test"), 0644); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"directory", dir, false},
		{"missing", "/nonexistent/path/that/does/not/exist", true},
		{"regular file", filePath, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := checkSourceDirectory(tt.path)
			if result.error != tt.wantErr {
				t.Errorf("error = %v, want %v (%s)", result.error, tt.wantErr, result.message)
			}
		})
	}
}

func TestCheckDiskSpace(t *testing.T) {
	result := checkDiskSpace(t.TempDir(), "test")

	if result.error {
		t.Errorf("disk space check failed: %s", result.message)
	}
	if result.message == "" {
		t.Error("expected message with disk space info")
	}
}

func TestCheckDiskSpace_NonExistent(t *testing.T) {
	result := checkDiskSpace("/nonexistent/path", "test")

	if !result.warning {
		t.Error("expected warning for non-existent path")
	}
}
