package recovery

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	kerrors "github.com/PolarWolf314/cage/internal/errors"
)

// PermissionCheck controls how thoroughly a target's permissions are checked.
type PermissionCheck int

const (
	// PermissionsExist only requires the target to exist.
	PermissionsExist PermissionCheck = iota

	// PermissionsAccess requires the target to be readable and, for
	// destructive operations, its directory to be writable.
	PermissionsAccess

	// PermissionsStrict adds to PermissionsAccess: the target must be a
	// regular file, not a symlink, and not world-writable.
	PermissionsStrict
)

// SafetyPolicy holds the pre-flight rules derived from a security level.
type SafetyPolicy struct {
	Permissions PermissionCheck

	// Threshold is the highest risk allowed to proceed.
	Threshold RiskLevel

	// Timeout bounds the whole validation. Zero means no bound.
	Timeout time.Duration

	// BackupDir receives backup copies and is checked for free space.
	BackupDir string

	// FreeSpace reports available bytes for a directory. Nil uses the
	// filesystem's statistics.
	FreeSpace func(dir string) (uint64, error)
}

// SafetyValidator approves or rejects an operation before anything on
// disk is touched.
type SafetyValidator struct {
	policy SafetyPolicy
}

func NewSafetyValidator(policy SafetyPolicy) *SafetyValidator {
	if policy.FreeSpace == nil {
		policy.FreeSpace = diskFree
	}
	return &SafetyValidator{policy: policy}
}

func (v *SafetyValidator) Policy() SafetyPolicy { return v.policy }

// Validate checks target existence, permissions, free space for a full
// copy, and the risk threshold. Every failure is a safety violation and
// nothing is modified.
func (v *SafetyValidator) Validate(ctx context.Context, op, target string, profile OperationProfile) error {
	if v.policy.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.policy.Timeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		done <- v.check(target, profile)
	}()

	select {
	case err := <-done:
		return kerrors.New(kerrors.KindSafetyViolation, op, target, kerrors.StageValidate, err)
	case <-ctx.Done():
		return kerrors.New(kerrors.KindTimeout, op, target, kerrors.StageValidate, fmt.Errorf("safety validation: %w", ctx.Err()))
	}
}

func (v *SafetyValidator) check(target string, profile OperationProfile) error {
	if risk := profile.Assess(); risk > v.policy.Threshold {
		return fmt.Errorf("%w: %s risk exceeds %s threshold", kerrors.ErrRiskThresholdExceeded, risk, v.policy.Threshold)
	}

	info, err := os.Lstat(target)
	if err != nil {
		return err
	}
	if err := v.checkPermissions(target, info, profile.Destructive); err != nil {
		return err
	}
	if info.IsDir() {
		return nil
	}
	return v.checkSpace(target, info.Size(), profile)
}

func (v *SafetyValidator) checkPermissions(target string, info os.FileInfo, destructive bool) error {
	if v.policy.Permissions == PermissionsExist {
		return nil
	}

	if v.policy.Permissions == PermissionsStrict {
		if info.Mode()&os.ModeSymlink != 0 {
			return fmt.Errorf("%w: %s is a symlink", kerrors.ErrPermissionDenied, target)
		}
		if !info.Mode().IsRegular() && !info.IsDir() {
			return fmt.Errorf("%w: %s is not a regular file", kerrors.ErrPermissionDenied, target)
		}
		if info.Mode().Perm()&0o002 != 0 {
			return fmt.Errorf("%w: %s is world-writable", kerrors.ErrPermissionDenied, target)
		}
	}

	if err := canRead(target); err != nil {
		return fmt.Errorf("%w: cannot read %s: %v", kerrors.ErrPermissionDenied, target, err)
	}
	if destructive {
		dir := filepath.Dir(target)
		if err := canWrite(dir); err != nil {
			return fmt.Errorf("%w: cannot write %s: %v", kerrors.ErrPermissionDenied, dir, err)
		}
	}
	return nil
}

// checkSpace requires room for one full copy of the target in every
// directory that will receive one.
func (v *SafetyValidator) checkSpace(target string, size int64, profile OperationProfile) error {
	need := make(map[string]uint64)
	workDir := profile.OutputDir
	if workDir == "" {
		workDir = filepath.Dir(target)
	}
	need[workDir] += uint64(size)
	if profile.Destructive && profile.Backup && v.policy.BackupDir != "" {
		need[v.policy.BackupDir] += uint64(size)
	}

	for dir, bytes := range need {
		free, err := v.policy.FreeSpace(existingAncestor(dir))
		if err != nil {
			return fmt.Errorf("checking free space in %s: %w", dir, err)
		}
		if free < bytes || free == 0 {
			return fmt.Errorf("%w: %s needs %d bytes, %d available", kerrors.ErrInsufficientSpace, dir, bytes, free)
		}
	}
	return nil
}

// existingAncestor returns dir or its nearest parent that exists, so free
// space can be measured for a directory that will be created later.
func existingAncestor(dir string) string {
	dir = filepath.Clean(dir)
	for {
		if _, err := os.Stat(dir); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return dir
		}
		dir = parent
	}
}
