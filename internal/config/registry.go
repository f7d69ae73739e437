package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

const (
	appName    = "embrun"
	configFile = "chips.yaml"
)

var (
	// Global registry instance (loaded lazily)
	globalRegistry     *Registry
	globalRegistryOnce sync.Once
	globalRegistryErr  error
)

// GetConfigDir returns the OS-appropriate configuration directory for the
// application. This follows platform conventions:
//   - Linux: $XDG_CONFIG_HOME/embrun or $HOME/.config/embrun
//   - macOS: $HOME/.config/embrun (following XDG convention on macOS)
//   - Windows: %LOCALAPPDATA%\embrun
func GetConfigDir() (string, error) {
	var baseDir string

	switch runtime.GOOS {
	case "windows":
		// Windows: Use LOCALAPPDATA
		localAppData := os.Getenv("LOCALAPPDATA")
		if localAppData == "" {
			// Fallback to USERPROFILE\AppData\Local if LOCALAPPDATA not set
			userProfile := os.Getenv("USERPROFILE")
			if userProfile == "" {
				return "", fmt.Errorf("cannot determine user profile directory (LOCALAPPDATA and USERPROFILE not set)")
			}
			baseDir = filepath.Join(userProfile, "AppData", "Local", appName)
		} else {
			baseDir = filepath.Join(localAppData, appName)
		}

	case "darwin":
		// macOS: Use $HOME/.config/embrun (following modern XDG convention)
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory: %w", err)
		}
		baseDir = filepath.Join(homeDir, ".config", appName)

	default:
		// Linux and other Unix-like systems: Use XDG_CONFIG_HOME or $HOME/.config
		xdgConfigHome := os.Getenv("XDG_CONFIG_HOME")
		if xdgConfigHome != "" {
			baseDir = filepath.Join(xdgConfigHome, appName)
		} else {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("cannot determine home directory: %w", err)
			}
			baseDir = filepath.Join(homeDir, ".config", appName)
		}
	}

	return baseDir, nil
}

// GetConfigPath returns the full path to the chip configuration file.
func GetConfigPath() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, configFile), nil
}

// LoadRegistry returns the global chip registry: the built-in catalog merged
// with the user's chips.yaml, if one exists. User entries override built-in
// entries of the same name. The registry is read-only after load.
func LoadRegistry() (*Registry, error) {
	globalRegistryOnce.Do(func() {
		globalRegistry, globalRegistryErr = loadRegistry()
	})
	return globalRegistry, globalRegistryErr
}

func loadRegistry() (*Registry, error) {
	reg := &Registry{Chips: builtinChips()}

	path, err := GetConfigPath()
	if err != nil {
		// No config dir available: built-ins only
		return reg, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return reg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read chip config %s: %w", path, err)
	}

	var user Registry
	if err := yaml.Unmarshal(data, &user); err != nil {
		return nil, fmt.Errorf("failed to parse chip config %s: %w", path, err)
	}

	for name, chip := range user.Chips {
		if chip == nil {
			continue
		}
		if chip.Name == "" {
			chip.Name = name
		}
		reg.Chips[name] = chip
	}

	return reg, nil
}

// Lookup finds a chip by name.
func (r *Registry) Lookup(name string) (*Chip, error) {
	chip, ok := r.Chips[name]
	if !ok {
		return nil, fmt.Errorf("unknown chip %q (known: %s)", name, joinNames(r.Chips))
	}
	return chip, nil
}

// Names returns the chip names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.Chips))
	for name := range r.Chips {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func joinNames(chips map[string]*Chip) string {
	names := make([]string, 0, len(chips))
	for name := range chips {
		names = append(names, name)
	}
	sort.Strings(names)

	out := ""
	for i, n := range names {
		if i > 0 {
			out += ", "
		}
		out += n
	}
	return out
}
