package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// FileName is the profile configuration file inside a profile directory.
const FileName = "config.toml"

// EnvDevURL overrides the initial navigation target with a development server.
const EnvDevURL = "WEBSHELL_DEV_URL"

// AppConfig describes the application reported by app.getInfo.
type AppConfig struct {
	Name         string `toml:"name"`
	Version      string `toml:"version"`
	ManifestPath string `toml:"manifestPath"`
}

// BridgeConfig defines socket and call settings.
type BridgeConfig struct {
	SocketPath       string `toml:"socketPath"`
	DefaultTimeoutMs int    `toml:"defaultTimeoutMs"`
}

// WebConfig defines where web content is served from.
type WebConfig struct {
	ContentDir string `toml:"contentDir"`
	ListenAddr string `toml:"listenAddr"`
	DevURL     string `toml:"devURL"`
}

// StorageConfig defines SQLite tuning options.
type StorageConfig struct {
	DBPath      string `toml:"dbPath"`
	JournalMode string `toml:"journalMode"`
	Synchronous string `toml:"synchronous"`
}

// LoggingConfig defines basic logging knobs.
type LoggingConfig struct {
	Level       string `toml:"level"`
	FilePath    string `toml:"filePath"`
	FileMaxSize int    `toml:"fileMaxSizeMB"`
	FileBackups int    `toml:"fileMaxBackups"`
	FileMaxAge  int    `toml:"fileMaxAgeDays"`
}

// ClipboardConfig selects the clipboard backend.
type ClipboardConfig struct {
	Backend string `toml:"backend"`
}

// ImagingConfig tunes background extraction.
type ImagingConfig struct {
	MaxImageBytes int     `toml:"maxImageBytes"`
	MaxPixels     int     `toml:"maxPixels"`
	Threshold     float64 `toml:"threshold"`
}

// TracingConfig toggles span export.
type TracingConfig struct {
	Enabled bool `toml:"enabled"`
	Pretty  bool `toml:"pretty"`
}

// ProfileConfig aggregates shell configuration for a profile.
type ProfileConfig struct {
	ProfileName string          `toml:"profileName"`
	App         AppConfig       `toml:"app"`
	Bridge      BridgeConfig    `toml:"bridge"`
	Web         WebConfig       `toml:"web"`
	Storage     StorageConfig   `toml:"storage"`
	Logging     LoggingConfig   `toml:"logging"`
	Clipboard   ClipboardConfig `toml:"clipboard"`
	Imaging     ImagingConfig   `toml:"imaging"`
	Tracing     TracingConfig   `toml:"tracing"`
}

// DefaultProfile returns a profile with every default filled in.
func DefaultProfile(name string) *ProfileConfig {
	cfg := &ProfileConfig{
		ProfileName: name,
		App:         AppConfig{Name: "webshell"},
		Bridge:      BridgeConfig{SocketPath: "bridge.sock", DefaultTimeoutMs: 30000},
		Web:         WebConfig{ContentDir: "web", ListenAddr: "127.0.0.1:5178"},
		Storage:     StorageConfig{DBPath: "state.db", JournalMode: "WAL", Synchronous: "NORMAL"},
		Logging: LoggingConfig{
			Level:       "info",
			FilePath:    "logs/webshell.log",
			FileMaxSize: 10,
			FileBackups: 7,
			FileMaxAge:  7,
		},
		Clipboard: ClipboardConfig{Backend: "system"},
		Imaging:   ImagingConfig{MaxImageBytes: 16 << 20, MaxPixels: 24_000_000, Threshold: 0.12},
	}
	return cfg
}

// Load reads config.toml from the provided path.
func Load(path string) (*ProfileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultProfile("")
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadProfile reads the config file inside profileDir.
func LoadProfile(profileDir string) (*ProfileConfig, error) {
	return Load(filepath.Join(profileDir, FileName))
}

// Save writes cfg as TOML to path.
func Save(path string, cfg *ProfileConfig) error {
	if err := cfg.validate(); err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o600)
}

// ResolvePath interprets relative paths against the profile directory.
func ResolvePath(profileDir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(profileDir, path)
}

// DevURL returns the development navigation override, if any. The
// environment wins over the profile.
func (cfg *ProfileConfig) DevURL() string {
	if env := strings.TrimSpace(os.Getenv(EnvDevURL)); env != "" {
		return env
	}
	return strings.TrimSpace(cfg.Web.DevURL)
}

func (cfg *ProfileConfig) validate() error {
	if cfg.ProfileName == "" {
		return fmt.Errorf("profileName required")
	}
	if cfg.Storage.DBPath == "" {
		return fmt.Errorf("storage.dbPath required")
	}
	if cfg.Bridge.SocketPath == "" {
		return fmt.Errorf("bridge.socketPath required")
	}
	if cfg.Bridge.DefaultTimeoutMs < 0 {
		return fmt.Errorf("bridge.defaultTimeoutMs must not be negative")
	}
	switch cfg.Clipboard.Backend {
	case "":
		cfg.Clipboard.Backend = "system"
	case "system", "memory":
	default:
		return fmt.Errorf("clipboard.backend %q not supported", cfg.Clipboard.Backend)
	}
	if cfg.Imaging.MaxImageBytes < 0 || cfg.Imaging.MaxPixels < 0 {
		return fmt.Errorf("imaging limits must not be negative")
	}
	if cfg.Imaging.Threshold < 0 || cfg.Imaging.Threshold > 1 {
		return fmt.Errorf("imaging.threshold must be within [0,1]")
	}
	if cfg.App.Name == "" {
		cfg.App.Name = "webshell"
	}
	return nil
}

// LoadOrDefault reads the profile config, falling back to defaults named
// after the directory when no config file exists yet.
func LoadOrDefault(profileDir string) (*ProfileConfig, error) {
	cfg, err := LoadProfile(profileDir)
	if errors.Is(err, fs.ErrNotExist) {
		cfg = DefaultProfile(filepath.Base(filepath.Clean(profileDir)))
		return cfg, cfg.validate()
	}
	return cfg, err
}
