// Package appdir provides platform-native directory management for Agentdesk.
// It handles locating and creating the Agentdesk data directory, which stores
// configuration (settings.yaml), credentials (credentials.json) and the
// persisted support-session snapshot (state/ subdirectory).
package appdir

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
)

const (
	// EnvDir is the environment variable to override the Agentdesk directory.
	EnvDir = "AGENTDESK_DIR"

	// SettingsFileName is the name of the YAML settings file.
	SettingsFileName = "settings.yaml"

	// SettingsJSONFileName is the legacy JSON settings file name.
	SettingsJSONFileName = "settings.json"

	// CredentialsFileName is the name of the credentials file written by the
	// platform login flow.
	CredentialsFileName = "credentials.json"

	// StateDirName is the name of the session-state subdirectory.
	StateDirName = "state"
)

var (
	// cachedDir stores the resolved Agentdesk directory to avoid repeated lookups.
	cachedDir string
	// mu protects cachedDir.
	mu sync.RWMutex
)

// Dir returns the Agentdesk data directory path.
// The directory is determined in the following order:
//  1. AGENTDESK_DIR environment variable (if set)
//  2. Platform-specific default:
//     - macOS: ~/Library/Application Support/Agentdesk
//     - Linux: $XDG_DATA_HOME/agentdesk or ~/.local/share/agentdesk
//     - Windows: %APPDATA%\Agentdesk
//
// This function only returns the path; it does not create the directory.
// Use EnsureDir() to create the directory if needed.
func Dir() (string, error) {
	mu.RLock()
	if cachedDir != "" {
		dir := cachedDir
		mu.RUnlock()
		return dir, nil
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()

	// Double-check after acquiring write lock
	if cachedDir != "" {
		return cachedDir, nil
	}

	dir, err := resolveDir()
	if err != nil {
		return "", err
	}

	cachedDir = dir
	return dir, nil
}

// resolveDir calculates the Agentdesk directory path.
func resolveDir() (string, error) {
	if envDir := os.Getenv(EnvDir); envDir != "" {
		return envDir, nil
	}

	switch runtime.GOOS {
	case "darwin":
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		return filepath.Join(homeDir, "Library", "Application Support", "Agentdesk"), nil

	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			appData = filepath.Join(homeDir, "AppData", "Roaming")
		}
		return filepath.Join(appData, "Agentdesk"), nil

	default:
		// Linux and other Unix-like systems
		dataDir := os.Getenv("XDG_DATA_HOME")
		if dataDir == "" {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			dataDir = filepath.Join(homeDir, ".local", "share")
		}
		return filepath.Join(dataDir, "agentdesk"), nil
	}
}

// EnsureDir creates the Agentdesk data directory if it doesn't exist.
// It also creates the state subdirectory.
func EnsureDir() error {
	dir, err := Dir()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create Agentdesk directory %s: %w", dir, err)
	}

	stateDir := filepath.Join(dir, StateDirName)
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory %s: %w", stateDir, err)
	}

	return nil
}

// SettingsPath returns the full path to the settings.yaml file.
func SettingsPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, SettingsFileName), nil
}

// SettingsJSONPath returns the full path to the legacy settings.json file.
func SettingsJSONPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, SettingsJSONFileName), nil
}

// CredentialsPath returns the full path to the credentials.json file.
func CredentialsPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, CredentialsFileName), nil
}

// StateDir returns the full path to the session-state directory.
func StateDir() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, StateDirName), nil
}

// ResetCache clears the cached directory path.
// This is primarily useful for testing.
func ResetCache() {
	mu.Lock()
	defer mu.Unlock()
	cachedDir = ""
}
