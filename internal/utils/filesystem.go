package utils

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
)

// ProjectDirName is the per-project directory that holds cage state.
const ProjectDirName = ".cage"

// FindProjectCageRoot traverses up from startDir to find the nearest directory
// containing a .cage directory. Returns an empty string if none is found.
// Stops searching when it reaches one level above the user's home directory.
func FindProjectCageRoot(startDir string) (string, error) {
	currentDir := startDir
	if currentDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("failed to get working directory: %w", err)
		}
		currentDir = wd
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	for {
		if currentDir == path.Join(homeDir, "..") {
			return "", nil
		}

		cageDir := filepath.Join(currentDir, ProjectDirName)
		fileInfo, err := os.Stat(cageDir)
		if err == nil {
			if fileInfo.IsDir() {
				return currentDir, nil
			}
		} else if !os.IsNotExist(err) {
			return "", fmt.Errorf("error checking for %s directory at %s: %w", ProjectDirName, currentDir, err)
		}

		parentDir := filepath.Dir(currentDir)
		if parentDir == currentDir {
			return "", nil
		}
		currentDir = parentDir
	}
}

// FileExists reports whether path exists and is a regular file.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// EnsureDir creates dir (and parents) with owner-only permissions if missing.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return nil
}
