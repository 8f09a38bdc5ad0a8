package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. STRONGROOM_LOG_LEVEL.
const EnvPrefix = "STRONGROOM"

// Loader handles configuration loading from multiple sources.
type Loader struct {
	configPath string
	envPrefix  string
	searchDirs []string
}

// NewLoader creates a config loader. An empty path searches the default
// locations and falls back to defaults when nothing is found.
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
		envPrefix:  EnvPrefix,
		searchDirs: defaultSearchDirs(),
	}
}

// WithSearchDirs replaces the default config search locations.
func (l *Loader) WithSearchDirs(dirs ...string) *Loader {
	l.searchDirs = dirs
	return l
}

// Load reads configuration from file and environment.
func (l *Loader) Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(l.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if l.configPath != "" {
		v.SetConfigFile(l.configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	} else {
		v.SetConfigName("strongroom")
		for _, dir := range l.searchDirs {
			v.AddConfigPath(dir)
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("load config file %s: %w", v.ConfigFileUsed(), err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.fillDerivedPaths()
	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	cfg.Log.Format = strings.ToLower(cfg.Log.Format)

	// Validate final config
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// setDefaults registers every key so environment overrides are picked up
// by Unmarshal. Paths derived from data_dir stay empty here and are
// filled after decoding, so overriding data_dir moves them too.
func setDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("storage.backend", d.Storage.Backend)
	v.SetDefault("storage.data_dir", d.Storage.DataDir)
	v.SetDefault("storage.vaults_dir", "")
	v.SetDefault("storage.database_path", "")
	v.SetDefault("storage.temp_dir", "")
	v.SetDefault("storage.max_file_size", d.Storage.MaxFileSize)

	v.SetDefault("device.id", "")
	v.SetDefault("device.id_file", "")

	v.SetDefault("cache.max_cached", d.Cache.MaxCached)

	v.SetDefault("import.thumbnail_size", d.Import.ThumbnailSize)
	v.SetDefault("import.thumbnail_quality", d.Import.ThumbnailQuality)
	v.SetDefault("import.delete_originals", d.Import.DeleteOriginals)

	v.SetDefault("bridge.addr", d.Bridge.Addr)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.color", d.Log.Color)
}

func (c *Config) fillDerivedPaths() {
	if c.Storage.VaultsDir == "" {
		c.Storage.VaultsDir = filepath.Join(c.Storage.DataDir, "vaults")
	}
	if c.Storage.DatabasePath == "" {
		c.Storage.DatabasePath = filepath.Join(c.Storage.DataDir, "strongroom.db")
	}
	if c.Storage.TempDir == "" {
		c.Storage.TempDir = filepath.Join(c.Storage.DataDir, "tmp")
	}
	if c.Device.IDFile == "" {
		c.Device.IDFile = filepath.Join(c.Storage.DataDir, "device-id")
	}
}

// defaultSearchDirs returns default config file locations.
func defaultSearchDirs() []string {
	dirs := []string{"."}

	if homeDir, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs,
			filepath.Join(homeDir, ".config", "strongroom"),
			filepath.Join(homeDir, ".strongroom"),
		)
	}

	return dirs
}

// SaveExample writes an example config file.
func SaveExample(path string) error {
	cfg := DefaultConfig()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	example := "# strongroom configuration file\n" +
		"# Environment variables override these settings using the " + EnvPrefix + "_ prefix,\n" +
		"# for example: " + EnvPrefix + "_LOG_LEVEL=debug " + EnvPrefix + "_CACHE_MAX_CACHED=40\n" +
		"# Changing device settings makes existing vaults unreadable.\n\n" +
		string(data)

	if err := os.WriteFile(path, []byte(example), 0600); err != nil {
		return fmt.Errorf("write file: %w", err)
	}

	return nil
}
