package engine

import (
	"context"
	"fmt"
	"os"

	kerrors "github.com/PolarWolf314/cage/internal/errors"
	"github.com/PolarWolf314/cage/internal/recovery"
	"github.com/PolarWolf314/cage/internal/requests"
)

// mutation is one file transformed by the backend.
type mutation struct {
	op     string
	src    string
	dst    string
	status string
	common requests.CommonOptions

	inBatch bool

	// removeSource deletes src once dst is committed.
	removeSource bool

	// mode is the permission of a new output file; zero copies src.
	mode os.FileMode

	transform recovery.Transform
}

func (m mutation) inPlace() bool { return m.src == m.dst }

// apply runs one mutation. In-place mutations go through an
// InPlaceOperation; everything else writes a new file atomically.
func (e *Engine) apply(ctx context.Context, m mutation) (FileResult, error) {
	fr := FileResult{Path: m.src, Output: m.dst, Bytes: fileSize(m.src)}

	if m.common.DryRun {
		err := e.validator.Validate(ctx, m.op, m.src, e.profile(m))
		if err == nil && !m.inPlace() && !m.common.Force {
			if _, statErr := os.Lstat(m.dst); statErr == nil {
				err = kerrors.New(kerrors.KindSafetyViolation, m.op, m.dst, kerrors.StageValidate, kerrors.ErrOutputExists)
			}
		}
		if err != nil {
			fr.Status = StatusFailed
			fr.Error = err.Error()
			return fr, err
		}
		fr.Status = StatusPlanned
		return fr, nil
	}

	var err error
	if m.inPlace() {
		err = e.applyInPlace(ctx, m, &fr)
	} else {
		err = e.applyToNewFile(ctx, m, &fr)
	}
	if err != nil {
		fr.Status = StatusFailed
		fr.Error = err.Error()
		return fr, err
	}
	fr.Status = m.status
	return fr, nil
}

func (e *Engine) profile(m mutation) recovery.OperationProfile {
	destructive := m.inPlace() || m.removeSource
	return recovery.OperationProfile{
		Destructive: destructive,
		Backup:      destructive && m.common.Backup,
		InBatch:     m.inBatch,
	}
}

// inPlaceOptions keeps committed backups for the retention policy unless
// retention is disabled, in which case the backup only lives as long as
// the operation.
func (e *Engine) inPlaceOptions(m mutation) recovery.InPlaceOptions {
	opts := recovery.InPlaceOptions{
		Backup:  recovery.BackupOnFailureOnly,
		InBatch: m.inBatch,
	}
	switch {
	case !m.common.Backup:
		opts.Backup = recovery.BackupNever
	case e.manager.Retention().Policy == recovery.RetainNone:
		opts.Backup = recovery.BackupAlways
	}
	return opts
}

func (e *Engine) applyInPlace(ctx context.Context, m mutation, fr *FileResult) error {
	op := recovery.NewInPlaceOperation(m.op, m.src, e.validator, e.manager, e.inPlaceOptions(m))
	err := op.Execute(ctx, m.transform)
	if b, ok := op.Backup(); ok {
		fr.Backup = b.Path
	}
	if err != nil {
		e.log.Debugf("%s %s ended in state %s", m.op, m.src, op.State())
		return err
	}
	for _, w := range op.Warnings() {
		e.log.WarnfAlways("%s %s: %v", m.op, m.src, w)
	}
	e.retain(m.src, fr)
	return nil
}

func (e *Engine) applyToNewFile(ctx context.Context, m mutation, fr *FileResult) error {
	if err := e.validator.Validate(ctx, m.op, m.src, e.profile(m)); err != nil {
		return err
	}

	mode := m.mode
	if mode == 0 {
		info, err := os.Stat(m.src)
		if err != nil {
			return kerrors.New(kerrors.KindSafetyViolation, m.op, m.src, kerrors.StageValidate, err)
		}
		mode = info.Mode().Perm()
	}

	err := recovery.WriteAtomic(ctx, m.op, m.dst, mode, m.common.Force, func(ctx context.Context, dst string) error {
		return m.transform(ctx, m.src, dst)
	})
	if err != nil {
		return err
	}
	fr.Bytes = fileSize(m.src)

	if !m.removeSource {
		return nil
	}
	return e.removeSource(m, fr)
}

// removeSource deletes the input of a committed mutation, backing it up
// first when requested. The output already exists, so a failure here is
// reported without undoing it.
func (e *Engine) removeSource(m mutation, fr *FileResult) error {
	if m.common.Backup {
		b, err := e.manager.CreateBackup(m.src)
		if err != nil {
			return kerrors.New(kerrors.KindRecoveryFailure, m.op, m.src, kerrors.StageBackup,
				fmt.Errorf("output %s was written but the source was kept: %w", m.dst, err))
		}
		fr.Backup = b.Path
	}
	if err := os.Remove(m.src); err != nil {
		return kerrors.New(kerrors.KindRecoveryFailure, m.op, m.src, kerrors.StageCleanup,
			fmt.Errorf("output %s was written but the source could not be removed: %w", m.dst, err))
	}
	e.retain(m.src, fr)
	return nil
}

// retain applies the retention policy to target's backups.
func (e *Engine) retain(target string, fr *FileResult) {
	removed, err := e.manager.ApplyRetention(target)
	if err != nil {
		e.log.WarnfAlways("Backup retention for %s: %v", target, err)
	}
	for _, b := range removed {
		if b.Path == fr.Backup {
			fr.Backup = ""
		}
	}
}
