// Package config provides XDG path helpers.
package config

import (
	"os"
	"path/filepath"
)

const appName = "sotaque"

// XDGConfigHome returns the XDG config home or a default fallback.
func XDGConfigHome() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "."
	}
	return filepath.Join(home, ".config")
}

// XDGDataHome returns the XDG data home or a default fallback.
func XDGDataHome() string {
	if v := os.Getenv("XDG_DATA_HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "."
	}
	return filepath.Join(home, ".local", "share")
}

// XDGCacheHome returns the XDG cache home or a default fallback.
func XDGCacheHome() string {
	if v := os.Getenv("XDG_CACHE_HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "."
	}
	return filepath.Join(home, ".cache")
}

// DefaultPhrasesDir returns where user phrase modules are looked up.
func DefaultPhrasesDir() string {
	return filepath.Join(XDGConfigHome(), appName, "phrases")
}

// DefaultDBPath returns the default path for the SQLite database.
func DefaultDBPath() string {
	return filepath.Join(XDGDataHome(), appName, appName+".db")
}

// DefaultTTSCacheDir returns the directory for synthesized audio.
func DefaultTTSCacheDir() string {
	return filepath.Join(XDGCacheHome(), appName, "tts")
}

// DefaultConfigPath returns the default TOML config path.
func DefaultConfigPath() string {
	return filepath.Join(XDGConfigHome(), appName, "config.toml")
}

// DefaultEnvPath returns the .env file read next to the config.
func DefaultEnvPath() string {
	return filepath.Join(XDGConfigHome(), appName, ".env")
}

// DefaultLogPath returns the log file used while a TUI owns the terminal.
func DefaultLogPath() string {
	return filepath.Join(XDGDataHome(), appName, appName+".log")
}
