package configs

import (
	"os"
	"path/filepath"

	"github.com/PolarWolf314/cage/internal/utils"
)

const (
	// EnvConfigPath names an explicit configuration file and wins over discovery.
	EnvConfigPath = "CAGE_CONFIG"

	// EnvPrefix is the prefix for environment overrides (CAGE_SECURITY_LEVEL, ...).
	EnvPrefix = "CAGE_"

	configFileName = "config.toml"
)

// DefaultDataDir returns $XDG_DATA_HOME/cage, falling back to ~/.local/share/cage.
func DefaultDataDir() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(os.TempDir(), "cage")
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}
	return filepath.Join(dataDir, "cage")
}

// DefaultUserConfigPath returns <UserConfigDir>/cage/config.toml.
func DefaultUserConfigPath() string {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(configDir, "cage", configFileName)
}

// DefaultSearchPaths lists candidate configuration files in discovery order.
// The first existing file wins.
func DefaultSearchPaths() []string {
	var paths []string

	if explicit := os.Getenv(EnvConfigPath); explicit != "" {
		paths = append(paths, explicit)
	}

	if wd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(wd, "cage.toml"))
		if root, err := utils.FindProjectCageRoot(wd); err == nil && root != "" {
			paths = append(paths, ProjectConfigPath(root))
		}
	}

	if userPath := DefaultUserConfigPath(); userPath != "" {
		paths = append(paths, userPath)
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(homeDir, ".cage.toml"))
	}

	return paths
}

// ProjectConfigPath returns the project-level config file under root.
func ProjectConfigPath(root string) string {
	return filepath.Join(root, utils.ProjectDirName, configFileName)
}

func shapeForPath(path string) Shape {
	if filepath.Base(filepath.Dir(path)) == utils.ProjectDirName {
		return ShapeProject
	}
	return ShapeUser
}
