package testutil

import (
	"bufio"
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/TheMichaelB/strongroom/internal/config"
	"github.com/TheMichaelB/strongroom/internal/events"
)

// LogBuffer is a goroutine-safe sink for JSON test logs.
type LogBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

// Write implements io.Writer.
func (b *LogBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// String returns everything logged.
func (b *LogBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// Entries decodes each JSON log line.
func (b *LogBuffer) Entries() []map[string]interface{} {
	var entries []map[string]interface{}
	scanner := bufio.NewScanner(strings.NewReader(b.String()))
	for scanner.Scan() {
		var entry map[string]interface{}
		if err := json.Unmarshal(scanner.Bytes(), &entry); err == nil {
			entries = append(entries, entry)
		}
	}
	return entries
}

// NewTestLogger creates a debug JSON logger writing into a LogBuffer.
func NewTestLogger() (*events.Logger, *LogBuffer) {
	buf := &LogBuffer{}
	return events.NewTestLogger(events.DebugLevel, "json", buf), buf
}

// TestConfig returns a valid config rooted in a temp dir.
func TestConfig(t testing.TB) *config.Config {
	t.Helper()
	dir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.Storage.DataDir = dir
	cfg.Storage.VaultsDir = filepath.Join(dir, "vaults")
	cfg.Storage.DatabasePath = filepath.Join(dir, "strongroom.db")
	cfg.Storage.TempDir = filepath.Join(dir, "tmp")
	cfg.Device.ID = TestDeviceID
	cfg.Device.IDFile = filepath.Join(dir, "device-id")
	cfg.Cache.MaxCached = 3
	cfg.Import.ThumbnailSize = 16
	cfg.Log.Level = "debug"
	cfg.Log.Format = "json"

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("create test directories: %v", err)
	}
	return cfg
}
