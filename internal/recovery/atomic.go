package recovery

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	kerrors "github.com/PolarWolf314/cage/internal/errors"
)

// WriteFunc produces output at dst.
type WriteFunc func(ctx context.Context, dst string) error

// tempPath reserves a hidden temporary path next to path. The file is
// removed again so the writer can create it.
func tempPath(path, tag string) (string, error) {
	dir := filepath.Dir(path)
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+"."+tag+"-*")
	if err != nil {
		return "", err
	}
	name := f.Name()
	_ = f.Close()
	if err := os.Remove(name); err != nil {
		return "", err
	}
	return name, nil
}

// replace moves src over dst. On Windows the destination has to go first.
func replace(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil || runtime.GOOS != "windows" {
		return err
	}
	if removeErr := os.Remove(dst); removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
		return fmt.Errorf("remove destination before rename: %w", removeErr)
	}
	return os.Rename(src, dst)
}

func syncDir(dir string) {
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
}

// WriteAtomic creates or replaces path with the output of write. Output is
// produced at a temporary sibling and renamed into place only when write
// succeeds, so readers of path never see a partial file. An existing path
// is replaced only when overwrite is set.
func WriteAtomic(ctx context.Context, op, path string, mode os.FileMode, overwrite bool, write WriteFunc) error {
	if !overwrite {
		if _, err := os.Lstat(path); err == nil {
			return kerrors.New(kerrors.KindSafetyViolation, op, path, kerrors.StageValidate, kerrors.ErrOutputExists)
		}
	}

	tmp, err := tempPath(path, "tmp")
	if err != nil {
		return kerrors.New(kerrors.KindRecoveryFailure, op, path, kerrors.StageMutate, err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmp)
		}
	}()

	if err := runWrite(ctx, op, path, tmp, write); err != nil {
		return err
	}

	if err := os.Chmod(tmp, mode); err != nil {
		return kerrors.New(kerrors.KindRecoveryFailure, op, path, kerrors.StageCommit, err)
	}
	if err := replace(tmp, path); err != nil {
		return kerrors.New(kerrors.KindRecoveryFailure, op, path, kerrors.StageCommit, err)
	}
	committed = true
	syncDir(filepath.Dir(path))
	return nil
}

// runWrite treats a write that finishes after the deadline as timed out.
func runWrite(ctx context.Context, op, path, tmp string, write WriteFunc) error {
	err := write(ctx, tmp)
	if ctxErr := ctx.Err(); ctxErr != nil {
		cause := ctxErr
		if err != nil {
			cause = errors.Join(ctxErr, err)
		}
		return kerrors.New(kerrors.KindTimeout, op, path, kerrors.StageMutate, cause)
	}
	if err != nil {
		return kerrors.WithContext(err, kerrors.KindBackend, op, path, kerrors.StageMutate)
	}
	if _, statErr := os.Stat(tmp); statErr != nil {
		return kerrors.New(kerrors.KindBackend, op, path, kerrors.StageMutate, fmt.Errorf("no output produced: %w", statErr))
	}
	if err := syncOutput(tmp); err != nil {
		return kerrors.New(kerrors.KindRecoveryFailure, op, path, kerrors.StageMutate, fmt.Errorf("flush output: %w", err))
	}
	return nil
}

// syncOutput is swapped in tests to observe when output is flushed.
var syncOutput = syncFile

// syncFile flushes path's contents to disk so a rename never commits an
// empty file after a crash.
func syncFile(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
