package recovery

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	kerrors "github.com/PolarWolf314/cage/internal/errors"
)

// State is a step in an in-place operation's life. Committed and
// RolledBack are terminal.
type State int

const (
	StateCreated State = iota
	StateValidated
	StateBackedUp
	StateMutating
	StateCommitted
	StateRolledBack
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateValidated:
		return "validated"
	case StateBackedUp:
		return "backed_up"
	case StateMutating:
		return "mutating"
	case StateCommitted:
		return "committed"
	case StateRolledBack:
		return "rolled_back"
	default:
		return "unknown"
	}
}

// BackupPolicy decides whether a backup is taken and what happens to it.
type BackupPolicy int

const (
	// BackupAlways takes a backup for the duration of the operation and
	// deletes it once the replacement commits.
	BackupAlways BackupPolicy = iota

	// BackupNever skips the backup. A failed commit cannot be repaired.
	BackupNever

	// BackupOnFailureOnly takes a backup and leaves it in place after
	// commit, for the retention policy to prune.
	BackupOnFailureOnly
)

type InPlaceOptions struct {
	Backup BackupPolicy

	// CleanupOnSuccess deletes the backup after commit whatever the policy.
	CleanupOnSuccess bool

	// InBatch raises the operation's risk rating.
	InBatch bool
}

// commitReplace is swapped in tests to simulate a failed commit.
var commitReplace = replace

// Transform reads src and writes the replacement to dst. It must not
// modify src.
type Transform func(ctx context.Context, src, dst string) error

// InPlaceOperation replaces one file atomically and recoverably. It runs
// at most once.
type InPlaceOperation struct {
	op        string
	target    string
	validator *SafetyValidator
	manager   *Manager
	opts      InPlaceOptions

	mu       sync.Mutex
	started  bool
	state    State
	backup   *Backup
	warnings []error
}

func NewInPlaceOperation(op, target string, validator *SafetyValidator, manager *Manager, opts InPlaceOptions) *InPlaceOperation {
	return &InPlaceOperation{
		op:        op,
		target:    target,
		validator: validator,
		manager:   manager,
		opts:      opts,
	}
}

func (o *InPlaceOperation) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Backup returns the backup this operation still owns, if any.
func (o *InPlaceOperation) Backup() (Backup, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.backup == nil {
		return Backup{}, false
	}
	return *o.backup, true
}

// Warnings returns cleanup failures from a successful commit.
func (o *InPlaceOperation) Warnings() []error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]error(nil), o.warnings...)
}

func (o *InPlaceOperation) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

// Execute validates, backs up, runs transform against a temporary sibling
// of the target and commits the result with a rename. On any failure the
// original is left as it was and the error of the failing step is returned.
func (o *InPlaceOperation) Execute(ctx context.Context, transform Transform) error {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return kerrors.New(kerrors.KindRecoveryFailure, o.op, o.target, kerrors.StageValidate, kerrors.ErrOperationConsumed)
	}
	o.started = true
	o.mu.Unlock()

	profile := OperationProfile{
		Destructive: true,
		Backup:      o.opts.Backup != BackupNever,
		InBatch:     o.opts.InBatch,
	}
	if err := o.validator.Validate(ctx, o.op, o.target, profile); err != nil {
		return err
	}
	o.setState(StateValidated)

	info, err := os.Stat(o.target)
	if err != nil {
		return kerrors.New(kerrors.KindRecoveryFailure, o.op, o.target, kerrors.StageBackup, err)
	}

	if o.opts.Backup != BackupNever {
		b, err := o.manager.CreateBackup(o.target)
		if err != nil {
			o.setState(StateRolledBack)
			return kerrors.New(kerrors.KindRecoveryFailure, o.op, o.target, kerrors.StageBackup, err)
		}
		o.mu.Lock()
		o.backup = &b
		o.mu.Unlock()
		o.setState(StateBackedUp)
	}

	tmp, err := tempPath(o.target, "cage")
	if err != nil {
		return o.rollback(kerrors.New(kerrors.KindRecoveryFailure, o.op, o.target, kerrors.StageMutate, err), "")
	}

	o.setState(StateMutating)
	if err := runWrite(ctx, o.op, o.target, tmp, func(ctx context.Context, dst string) error {
		return transform(ctx, o.target, dst)
	}); err != nil {
		return o.rollback(err, tmp)
	}

	if err := o.commit(tmp, info); err != nil {
		return err
	}

	o.setState(StateCommitted)
	o.cleanupAfterCommit()
	return nil
}

// rollback discards the temporary output and the backup. The original was
// never touched, so cause is returned as is with any cleanup failure
// attached as a warning.
func (o *InPlaceOperation) rollback(cause error, tmp string) error {
	var warnings []error
	if tmp != "" {
		if err := os.Remove(tmp); err != nil && !os.IsNotExist(err) {
			warnings = append(warnings, fmt.Errorf("remove temporary output: %w", err))
		}
	}

	o.mu.Lock()
	b := o.backup
	o.mu.Unlock()
	if b != nil {
		if err := o.manager.Discard(*b); err != nil {
			warnings = append(warnings, err)
		} else {
			o.mu.Lock()
			o.backup = nil
			o.mu.Unlock()
		}
	}

	o.setState(StateRolledBack)
	for _, w := range warnings {
		cause = kerrors.WithWarning(cause, w)
	}
	return cause
}

// commit moves tmp over the target. If that fails and the target no longer
// matches its backup, the backup is restored; a failed restore is reported
// alongside the commit failure and the backup is kept.
func (o *InPlaceOperation) commit(tmp string, original os.FileInfo) error {
	err := os.Chmod(tmp, original.Mode().Perm())
	if err == nil {
		err = commitReplace(tmp, o.target)
	}
	if err == nil {
		syncDir(filepath.Dir(o.target))
		return nil
	}

	failure := &kerrors.Error{
		Kind:  kerrors.KindRecoveryFailure,
		Op:    o.op,
		Path:  o.target,
		Stage: kerrors.StageCommit,
		Err:   err,
	}
	_ = os.Remove(tmp)

	o.mu.Lock()
	b := o.backup
	o.mu.Unlock()

	if b != nil && !matchesChecksum(o.target, b.Checksum) {
		if restoreErr := o.manager.Restore(*b); restoreErr != nil {
			failure.Secondary = kerrors.New(kerrors.KindRecoveryFailure, o.op, o.target, kerrors.StageRollback,
				fmt.Errorf("%w; backup kept at %s", restoreErr, b.Path))
			o.setState(StateRolledBack)
			return failure
		}
	}
	if b == nil && !sameFile(o.target, original) {
		failure.Secondary = kerrors.New(kerrors.KindRecoveryFailure, o.op, o.target, kerrors.StageRollback,
			fmt.Errorf("target changed and no backup was taken"))
		o.setState(StateRolledBack)
		return failure
	}

	if b != nil {
		if discardErr := o.manager.Discard(*b); discardErr == nil {
			o.mu.Lock()
			o.backup = nil
			o.mu.Unlock()
		} else {
			failure.Warning = discardErr
		}
	}
	o.setState(StateRolledBack)
	return failure
}

func (o *InPlaceOperation) cleanupAfterCommit() {
	o.mu.Lock()
	b := o.backup
	o.mu.Unlock()
	if b == nil {
		return
	}
	if !o.opts.CleanupOnSuccess && o.opts.Backup == BackupOnFailureOnly {
		return
	}
	if err := o.manager.Discard(*b); err != nil {
		o.mu.Lock()
		o.warnings = append(o.warnings, err)
		o.mu.Unlock()
		return
	}
	o.mu.Lock()
	o.backup = nil
	o.mu.Unlock()
}

func matchesChecksum(path, want string) bool {
	got, err := fileChecksum(path)
	return err == nil && got == want
}

func fileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func sameFile(path string, original os.FileInfo) bool {
	info, err := os.Stat(path)
	return err == nil && os.SameFile(info, original) && info.Size() == original.Size() && info.ModTime().Equal(original.ModTime())
}
