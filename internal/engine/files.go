package engine

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	kerrors "github.com/PolarWolf314/cage/internal/errors"
	"github.com/PolarWolf314/cage/internal/requests"

	"github.com/bmatcuk/doublestar/v4"
)

const (
	binaryHeader = "age-encryption.org/v1"
	armorHeader  = "-----BEGIN AGE ENCRYPTED FILE-----"

	// projectDir holds project configuration and is never scanned.
	projectDir = ".cage"
)

// fileFilter decides which files a directory scan keeps.
type fileFilter func(path string) bool

func isEncryptedName(path string) bool {
	ext := filepath.Ext(path)
	return ext == requests.EncryptedExt || ext == ".asc"
}

func notEncryptedName(path string) bool { return !isEncryptedName(path) }

func anyFile(string) bool { return true }

// resolveTargets expands paths into files. Directories are scanned only
// when scope is recursive; the scope's pattern is matched against the path
// relative to the scanned directory. Explicit file paths are kept even
// when the filter would reject them.
func resolveTargets(op string, paths []string, scope requests.Scope, keep fileFilter) ([]string, error) {
	var files []string
	seen := make(map[string]bool)

	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			// Missing files surface from the safety check with full context.
			if !seen[p] {
				seen[p] = true
				files = append(files, p)
			}
			continue
		}

		var found []string
		if info.IsDir() {
			if !scope.Recursive {
				return nil, kerrors.Validationf(op, "input", "%s is a directory; set recursive to process it", p)
			}
			found, err = findFilesInDir(p, scope.Pattern, keep)
			if err != nil {
				return nil, kerrors.New(kerrors.KindSafetyViolation, op, p, kerrors.StageValidate, fmt.Errorf("scanning directory: %w", err))
			}
		} else {
			found = []string{p}
		}

		for _, f := range found {
			if !seen[f] {
				seen[f] = true
				files = append(files, f)
			}
		}
	}

	if len(files) == 0 {
		return nil, kerrors.Validation(op, "input", fmt.Errorf("%w under %s", kerrors.ErrNoFilesFound, strings.Join(paths, ", ")))
	}
	return files, nil
}

func findFilesInDir(dir, pattern string, keep fileFilter) ([]string, error) {
	var files []string

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == projectDir && path != dir {
				return filepath.SkipDir
			}
			return nil
		}

		// Skip irregular files and temporaries of in-flight operations.
		if !d.Type().IsRegular() || isTemporary(d.Name()) {
			return nil
		}
		if !keep(path) {
			return nil
		}

		if pattern != "" {
			rel, err := filepath.Rel(dir, path)
			if err != nil {
				return err
			}
			ok, err := doublestar.Match(pattern, filepath.ToSlash(rel))
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
		}

		files = append(files, path)
		return nil
	})

	return files, err
}

// isTemporary matches the hidden siblings written by in-flight operations.
func isTemporary(name string) bool {
	return strings.HasPrefix(name, ".") && (strings.Contains(name, ".cage-") || strings.Contains(name, ".tmp-"))
}

// listDir returns the regular files directly inside dir.
func listDir(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, entry := range entries {
		if entry.Type().IsRegular() {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	return files, nil
}

// sniff reports whether path starts with an age header and whether it is
// armored. Only the first line is read.
func sniff(path string) (encrypted, armored bool, err error) {
	f, err := os.Open(path)
	if err != nil {
		return false, false, err
	}
	defer f.Close()

	line, err := bufio.NewReader(io.LimitReader(f, 256)).ReadBytes('\n')
	if err != nil && err != io.EOF {
		return false, false, err
	}
	line = bytes.TrimRight(line, "\r\n")

	switch string(line) {
	case binaryHeader:
		return true, false, nil
	case armorHeader:
		return true, true, nil
	default:
		return false, false, nil
	}
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
