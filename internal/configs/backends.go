package configs

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	kerrors "github.com/PolarWolf314/cage/internal/errors"
)

// lookPath is swapped in tests.
var lookPath = exec.LookPath

// ResolvedBackend is a backend name paired with the executable that serves it.
type ResolvedBackend struct {
	Name string
	Path string
}

// ResolveBackends returns every reachable backend in preference order. The
// explicit Paths.BackendBinary, when set, is always first and must exist.
func (c *Config) ResolveBackends() ([]ResolvedBackend, error) {
	var resolved []ResolvedBackend
	seen := make(map[string]bool)

	if c.Paths.BackendBinary != "" {
		if err := checkExecutable(c.Paths.BackendBinary); err != nil {
			return nil, err
		}
		resolved = append(resolved, ResolvedBackend{
			Name: filepath.Base(c.Paths.BackendBinary),
			Path: c.Paths.BackendBinary,
		})
		seen[c.Paths.BackendBinary] = true
	}

	if len(c.Behavior.Backends) == 0 && len(resolved) == 0 {
		return nil, fmt.Errorf("%w: backend preference list is empty", kerrors.ErrBackendNotFound)
	}

	for _, name := range c.Behavior.Backends {
		if name == "" {
			return nil, fmt.Errorf("%w: empty backend name in preference list", kerrors.ErrBackendNotFound)
		}
		path, err := lookPath(name)
		if err != nil || seen[path] {
			continue
		}
		seen[path] = true
		resolved = append(resolved, ResolvedBackend{Name: name, Path: path})
	}

	if len(resolved) == 0 {
		return nil, fmt.Errorf("%w: tried %v", kerrors.ErrBackendNotFound, c.Behavior.Backends)
	}
	return resolved, nil
}

func checkExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %v", kerrors.ErrBackendNotFound, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", kerrors.ErrBackendNotFound, path)
	}
	if info.Mode().Perm()&0111 == 0 {
		return fmt.Errorf("%w: %s is not executable", kerrors.ErrBackendNotFound, path)
	}
	return nil
}
