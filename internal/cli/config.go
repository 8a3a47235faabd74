package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/yosuke-furukawa/json5/encoding/json5"
)

const (
	DirName        = "jobsync"
	ConfigFileName = "config.json"
)

// Config holds the CLI's connection settings. The file is JSON5, so comments and
// trailing commas are fine.
type Config struct {
	APIURL         string `json:"api_url"`
	APIKey         string `json:"api_key"`
	DefaultSource  string `json:"default_source"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

func DefaultConfig() Config {
	return Config{
		APIURL:         "http://localhost:3001",
		TimeoutSeconds: 30,
	}
}

func ConfigDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, DirName), nil
}

func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, ConfigFileName), nil
}

// LoadConfig reads the config file, if any, then applies JOBSYNC_* overrides.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	path, err := ConfigPath()
	if err != nil {
		return applyEnv(cfg), err
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return applyEnv(cfg), nil
	case err != nil:
		return cfg, err
	}
	if strings.TrimSpace(string(data)) != "" {
		if err := json5.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	return applyEnv(cfg), nil
}

func applyEnv(cfg Config) Config {
	if v := envString("JOBSYNC_API_URL"); v != "" {
		cfg.APIURL = v
	}
	if v := envString("JOBSYNC_API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if v := envString("JOBSYNC_DEFAULT_SOURCE"); v != "" {
		cfg.DefaultSource = v
	}
	if v, err := strconv.Atoi(envString("JOBSYNC_TIMEOUT_SECONDS")); err == nil && v > 0 {
		cfg.TimeoutSeconds = v
	}
	return cfg
}

// InitConfig writes a default config.json unless one exists; it returns the path
// written, or "" when nothing changed.
func InitConfig() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	path := filepath.Join(dir, ConfigFileName)
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		return "", err
	}
	data, err := json.MarshalIndent(DefaultConfig(), "", "  ")
	if err != nil {
		return "", err
	}
	// The file may hold an API key.
	if err := os.WriteFile(path, append(data, '\n'), 0o600); err != nil {
		return "", err
	}
	return path, nil
}

func envString(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}
