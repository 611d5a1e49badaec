package recovery

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	kerrors "github.com/PolarWolf314/cage/internal/errors"
	logger "github.com/PolarWolf314/cage/internal/logging"
	"github.com/PolarWolf314/cage/internal/utils"

	"github.com/google/uuid"
)

const backupExt = ".bak"

// RetentionPolicy decides which backups survive after a successful operation.
type RetentionPolicy string

const (
	KeepAll  RetentionPolicy = "keep_all"
	KeepLast RetentionPolicy = "keep_last"
	KeepDays RetentionPolicy = "keep_days"
	// RetainNone removes a target's backups once its operation commits.
	RetainNone RetentionPolicy = "disabled"
)

type Retention struct {
	Policy RetentionPolicy
	Count  int
	MaxAge time.Duration
}

// Backup is a full copy of a target taken before it was mutated. The copy
// keeps the original's mode and modification time.
type Backup struct {
	Path     string
	Original string
	Created  time.Time
	Size     int64
	Checksum string
}

// Manager owns the backup directory. Backups of the same target share a
// name prefix; uniqueness comes from a timestamp and random suffix, so
// concurrent operations never need a lock.
type Manager struct {
	dir       string
	retention Retention
	log       logger.Logger
	now       func() time.Time
}

func NewManager(dir string, retention Retention, log logger.Logger) *Manager {
	return &Manager{dir: dir, retention: retention, log: log, now: time.Now}
}

func (m *Manager) Dir() string { return m.dir }

func (m *Manager) Retention() Retention { return m.retention }

// backupPrefix groups backups by the absolute target path.
func backupPrefix(target string) string {
	abs, err := filepath.Abs(target)
	if err != nil {
		abs = target
	}
	sum := sha256.Sum256([]byte(abs))
	return hex.EncodeToString(sum[:4]) + "-" + utils.SanitizeName(filepath.Base(abs)) + "."
}

// CreateBackup copies target into the backup directory.
func (m *Manager) CreateBackup(target string) (Backup, error) {
	info, err := os.Stat(target)
	if err != nil {
		return Backup{}, fmt.Errorf("stat %s: %w", target, err)
	}
	if err := utils.EnsureDir(m.dir); err != nil {
		return Backup{}, err
	}

	created := m.now()
	name := fmt.Sprintf("%s%d.%s%s", backupPrefix(target), created.UnixNano(), uuid.NewString()[:8], backupExt)
	path := filepath.Join(m.dir, name)

	checksum, size, err := copyFile(target, path, info)
	if err != nil {
		_ = os.Remove(path)
		return Backup{}, err
	}

	abs, _ := filepath.Abs(target)
	m.log.Debugf("Backed up %s to %s (%d bytes)", target, path, size)
	return Backup{Path: path, Original: abs, Created: created, Size: size, Checksum: checksum}, nil
}

// copyFile writes an exclusive new file at dst with src's contents, mode
// and modification time, and returns the sha256 of the contents.
func copyFile(src, dst string, info os.FileInfo) (string, int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", 0, fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return "", 0, fmt.Errorf("create %s: %w", dst, err)
	}

	hash := sha256.New()
	size, err := io.Copy(io.MultiWriter(out, hash), in)
	if err != nil {
		_ = out.Close()
		return "", 0, fmt.Errorf("copy %s: %w", src, err)
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		return "", 0, fmt.Errorf("sync %s: %w", dst, err)
	}
	if err := out.Close(); err != nil {
		return "", 0, fmt.Errorf("close %s: %w", dst, err)
	}
	if err := os.Chmod(dst, info.Mode().Perm()); err != nil {
		return "", 0, fmt.Errorf("chmod %s: %w", dst, err)
	}
	if err := os.Chtimes(dst, info.ModTime(), info.ModTime()); err != nil {
		return "", 0, fmt.Errorf("chtimes %s: %w", dst, err)
	}
	return hex.EncodeToString(hash.Sum(nil)), size, nil
}

// Restore atomically puts the backup's contents, mode and modification
// time back at its original path. The backup itself is kept.
func (m *Manager) Restore(b Backup) error {
	info, err := os.Stat(b.Path)
	if err != nil {
		return fmt.Errorf("stat backup: %w", err)
	}

	dir := filepath.Dir(b.Original)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(b.Original)+".restore-*")
	if err != nil {
		return fmt.Errorf("create restore file: %w", err)
	}
	tmpPath := tmp.Name()
	_ = tmp.Close()
	_ = os.Remove(tmpPath)

	checksum, _, err := copyFile(b.Path, tmpPath, info)
	if err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if b.Checksum != "" && checksum != b.Checksum {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("backup %s is corrupt: checksum mismatch", b.Path)
	}
	if err := replace(tmpPath, b.Original); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("restore %s: %w", b.Original, err)
	}
	syncDir(dir)
	m.log.Infof("Restored %s from %s", b.Original, b.Path)
	return nil
}

// Discard deletes a backup.
func (m *Manager) Discard(b Backup) error {
	if err := os.Remove(b.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove backup %s: %w", b.Path, err)
	}
	return nil
}

// ListBackups returns the backups of target, oldest first. An empty target
// lists every backup in the directory.
func (m *Manager) ListBackups(target string) ([]Backup, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read backup directory: %w", err)
	}

	prefix := ""
	original := ""
	if target != "" {
		prefix = backupPrefix(target)
		original, _ = filepath.Abs(target)
	}

	var backups []Backup
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, backupExt) || !strings.HasPrefix(name, prefix) {
			continue
		}
		created, ok := parseBackupTime(name)
		if !ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		backups = append(backups, Backup{
			Path:     filepath.Join(m.dir, name),
			Original: original,
			Created:  created,
			Size:     info.Size(),
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].Created.Before(backups[j].Created)
	})
	return backups, nil
}

// parseBackupTime reads the timestamp from <hash>-<base>.<nanos>.<id>.bak.
func parseBackupTime(name string) (time.Time, bool) {
	parts := strings.Split(strings.TrimSuffix(name, backupExt), ".")
	if len(parts) < 3 {
		return time.Time{}, false
	}
	nanos, err := strconv.ParseInt(parts[len(parts)-2], 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(0, nanos), true
}

// ApplyRetention prunes target's backups according to the retention policy
// and returns what it removed.
func (m *Manager) ApplyRetention(target string) ([]Backup, error) {
	backups, err := m.ListBackups(target)
	if err != nil {
		return nil, err
	}

	var doomed []Backup
	switch m.retention.Policy {
	case KeepAll, "":
		return nil, nil
	case RetainNone:
		doomed = backups
	case KeepLast:
		if excess := len(backups) - m.retention.Count; excess > 0 {
			doomed = backups[:excess]
		}
	case KeepDays:
		cutoff := m.now().Add(-m.retention.MaxAge)
		for _, b := range backups {
			if b.Created.Before(cutoff) {
				doomed = append(doomed, b)
			}
		}
	default:
		return nil, fmt.Errorf("unknown retention policy %q", m.retention.Policy)
	}

	var errs []error
	removed := make([]Backup, 0, len(doomed))
	for _, b := range doomed {
		if err := m.Discard(b); err != nil {
			errs = append(errs, err)
			continue
		}
		removed = append(removed, b)
	}
	if len(removed) > 0 {
		m.log.Debugf("Retention removed %d backup(s) of %s", len(removed), target)
	}
	if len(errs) > 0 {
		return removed, kerrors.New(kerrors.KindRecoveryFailure, "retention", target, kerrors.StageCleanup, errors.Join(errs...))
	}
	return removed, nil
}
