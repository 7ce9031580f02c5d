package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"

	"github.com/google/uuid"
)

const (
	// AppDirectoryName is the per-user application data directory name.
	AppDirectoryName = "sealchat"
	// DefaultServerURL is the chat server websocket endpoint used when no override exists.
	DefaultServerURL = "wss://localhost:8443/ws"
	// DefaultHistoryURL is the history API endpoint used when no override exists.
	DefaultHistoryURL = "https://localhost:8443/api"
	// configFileName is the persisted configuration file.
	configFileName = "config.json"
)

// UserConfig contains persistent local-user settings.
type UserConfig struct {
	UserID               string `json:"user_id"`
	DisplayName          string `json:"display_name"`
	ServerURL            string `json:"server_url"`
	HistoryURL           string `json:"history_url"`
	X25519PrivateKeyPath string `json:"x25519_private_key_path"`
	KeyFingerprint       string `json:"key_fingerprint"`
}

// ResolveDataDir returns the OS-aware app data directory.
//
// If SEALCHAT_DATA_DIR is set, its value is used as an explicit override.
func ResolveDataDir() (string, error) {
	if override := os.Getenv("SEALCHAT_DATA_DIR"); override != "" {
		return override, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}

	switch runtime.GOOS {
	case "windows":
		base := os.Getenv("APPDATA")
		if base == "" {
			base = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(base, AppDirectoryName), nil
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", AppDirectoryName), nil
	default:
		base := os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			base = filepath.Join(home, ".config")
		}
		return filepath.Join(base, AppDirectoryName), nil
	}
}

// ConfigPath returns the full path to config.json for a data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, configFileName)
}

// EnsureDataDirectories creates the app data directory layout if needed.
func EnsureDataDirectories(dataDir string) error {
	dirs := []string{
		dataDir,
		filepath.Join(dataDir, "keys"),
		filepath.Join(dataDir, "cache"),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}

	return nil
}

// Load reads and unmarshals config.json from disk.
func Load(path string) (*UserConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg UserConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

// Save marshals and writes config.json to disk.
func Save(path string, cfg *UserConfig) error {
	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	raw = append(raw, '\n')
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

// LoadOrCreate ensures directories and config exist, then returns both.
func LoadOrCreate() (*UserConfig, string, error) {
	dataDir, err := ResolveDataDir()
	if err != nil {
		return nil, "", err
	}
	if err := EnsureDataDirectories(dataDir); err != nil {
		return nil, "", err
	}

	cfgPath := ConfigPath(dataDir)
	cfg, err := Load(cfgPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, "", err
		}

		cfg = defaultConfig(dataDir)
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}

		return cfg, cfgPath, nil
	}

	if normalizeDefaults(cfg, dataDir) {
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}
	}

	return cfg, cfgPath, nil
}

func defaultConfig(dataDir string) *UserConfig {
	cfg := &UserConfig{
		UserID:               uuid.NewString(),
		DisplayName:          defaultDisplayName(),
		ServerURL:            serverURLFromEnv(),
		HistoryURL:           historyURLFromEnv(),
		X25519PrivateKeyPath: filepath.Join(dataDir, "keys", "x25519_private.pem"),
		KeyFingerprint:       "",
	}
	return cfg
}

func normalizeDefaults(cfg *UserConfig, dataDir string) bool {
	updated := false

	if cfg.UserID == "" {
		cfg.UserID = uuid.NewString()
		updated = true
	}

	if cfg.DisplayName == "" {
		cfg.DisplayName = defaultDisplayName()
		updated = true
	}

	if cfg.ServerURL == "" {
		cfg.ServerURL = serverURLFromEnv()
		updated = true
	}

	if cfg.HistoryURL == "" {
		cfg.HistoryURL = historyURLFromEnv()
		updated = true
	}

	if cfg.X25519PrivateKeyPath == "" {
		cfg.X25519PrivateKeyPath = filepath.Join(dataDir, "keys", "x25519_private.pem")
		updated = true
	}

	return updated
}

func defaultDisplayName() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "Sealchat User"
}

func serverURLFromEnv() string {
	if value := os.Getenv("SEALCHAT_SERVER_URL"); value != "" {
		return value
	}
	return DefaultServerURL
}

func historyURLFromEnv() string {
	if value := os.Getenv("SEALCHAT_HISTORY_URL"); value != "" {
		return value
	}
	return DefaultHistoryURL
}
