package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
)

// Config holds all application configuration.
type Config struct {
	// Object storage backend and paths
	Storage StorageConfig `json:"storage" mapstructure:"storage" yaml:"storage"`

	// Device identity used as the key derivation salt
	Device DeviceConfig `json:"device" mapstructure:"device" yaml:"device"`

	// Decrypted payload cache
	Cache CacheConfig `json:"cache" mapstructure:"cache" yaml:"cache"`

	// Import pipeline behavior
	Import ImportConfig `json:"import" mapstructure:"import" yaml:"import"`

	// Local presentation bridge
	Bridge BridgeConfig `json:"bridge" mapstructure:"bridge" yaml:"bridge"`

	// Logging
	Log LogConfig `json:"log" mapstructure:"log" yaml:"log"`
}

// StorageConfig for the encrypted object store.
type StorageConfig struct {
	Backend      string `json:"backend" mapstructure:"backend" yaml:"backend"`                   // fs, sqlite
	DataDir      string `json:"data_dir" mapstructure:"data_dir" yaml:"data_dir"`                // Base directory for all data
	VaultsDir    string `json:"vaults_dir" mapstructure:"vaults_dir" yaml:"vaults_dir"`          // Root of the fs backend
	DatabasePath string `json:"database_path" mapstructure:"database_path" yaml:"database_path"` // SQLite backend file
	TempDir      string `json:"temp_dir" mapstructure:"temp_dir" yaml:"temp_dir"`                // Thumbnail scratch files
	MaxFileSize  int64  `json:"max_file_size" mapstructure:"max_file_size" yaml:"max_file_size"` // Max object size in bytes
}

// DeviceConfig for the device-unique identifier.
type DeviceConfig struct {
	// ID overrides the generated identifier. Vaults are only re-openable
	// with the identifier that created them.
	ID     string `json:"id,omitempty" mapstructure:"id" yaml:"id,omitempty"`
	IDFile string `json:"id_file" mapstructure:"id_file" yaml:"id_file"`
}

// CacheConfig for the session decrypt cache.
type CacheConfig struct {
	MaxCached int `json:"max_cached" mapstructure:"max_cached" yaml:"max_cached"`
}

// ImportConfig for the import pipeline.
type ImportConfig struct {
	ThumbnailSize    int  `json:"thumbnail_size" mapstructure:"thumbnail_size" yaml:"thumbnail_size"`          // Square edge in pixels
	ThumbnailQuality int  `json:"thumbnail_quality" mapstructure:"thumbnail_quality" yaml:"thumbnail_quality"` // JPEG quality 1-100
	DeleteOriginals  bool `json:"delete_originals" mapstructure:"delete_originals" yaml:"delete_originals"`
}

// BridgeConfig for the WebSocket gallery bridge.
type BridgeConfig struct {
	Addr string `json:"addr" mapstructure:"addr" yaml:"addr"`
}

// LogConfig for logging behavior.
type LogConfig struct {
	Level  string `json:"level" mapstructure:"level" yaml:"level"`    // debug, info, warn, error
	Format string `json:"format" mapstructure:"format" yaml:"format"` // text, json
	File   string `json:"file" mapstructure:"file" yaml:"file"`       // Log file path (empty = stderr)
	Color  bool   `json:"color" mapstructure:"color" yaml:"color"`    // Enable colored output
}

// DefaultConfig returns config with sensible defaults.
func DefaultConfig() *Config {
	dataDir := defaultDataDir()

	return &Config{
		Storage: StorageConfig{
			Backend:      "fs",
			DataDir:      dataDir,
			VaultsDir:    filepath.Join(dataDir, "vaults"),
			DatabasePath: filepath.Join(dataDir, "strongroom.db"),
			TempDir:      filepath.Join(dataDir, "tmp"),
			MaxFileSize:  256 * 1024 * 1024, // 256MB
		},
		Device: DeviceConfig{
			IDFile: filepath.Join(dataDir, "device-id"),
		},
		Cache: CacheConfig{
			MaxCached: 20,
		},
		Import: ImportConfig{
			ThumbnailSize:    200,
			ThumbnailQuality: 100,
			DeleteOriginals:  true,
		},
		Bridge: BridgeConfig{
			Addr: "127.0.0.1:7457",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			Color:  true,
		},
	}
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "fs":
		if c.Storage.VaultsDir == "" {
			return errors.New("storage.vaults_dir is required")
		}
	case "sqlite":
		if c.Storage.DatabasePath == "" {
			return errors.New("storage.database_path is required")
		}
	default:
		return fmt.Errorf("invalid storage backend: %s", c.Storage.Backend)
	}

	if c.Storage.MaxFileSize <= 0 {
		return errors.New("storage.max_file_size must be positive")
	}

	if c.Device.ID == "" && c.Device.IDFile == "" {
		return errors.New("device.id or device.id_file is required")
	}

	if c.Cache.MaxCached <= 0 {
		return errors.New("cache.max_cached must be positive")
	}

	if c.Import.ThumbnailSize <= 0 {
		return errors.New("import.thumbnail_size must be positive")
	}

	if c.Import.ThumbnailQuality < 1 || c.Import.ThumbnailQuality > 100 {
		return errors.New("import.thumbnail_quality must be between 1 and 100")
	}

	if err := ValidateLoopback(c.Bridge.Addr); err != nil {
		return err
	}

	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("invalid log format: %s", c.Log.Format)
	}

	return nil
}

// EnsureDirectories creates required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Storage.DataDir,
		c.Storage.TempDir,
	}

	switch c.Storage.Backend {
	case "fs":
		dirs = append(dirs, c.Storage.VaultsDir)
	case "sqlite":
		dirs = append(dirs, filepath.Dir(c.Storage.DatabasePath))
	}

	if c.Device.IDFile != "" {
		dirs = append(dirs, filepath.Dir(c.Device.IDFile))
	}

	if c.Log.File != "" {
		dirs = append(dirs, filepath.Dir(c.Log.File))
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return nil
}

// ValidateLoopback rejects addresses reachable from other hosts.
func ValidateLoopback(addr string) error {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid bridge.addr: %w", err)
	}
	if port == "" {
		return errors.New("bridge.addr must include a port")
	}
	if host == "localhost" {
		return nil
	}
	ip := net.ParseIP(host)
	if ip == nil || !ip.IsLoopback() {
		return fmt.Errorf("bridge.addr must be a loopback address: %s", addr)
	}
	return nil
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "strongroom")
	}
	return ".strongroom"
}
