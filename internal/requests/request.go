package requests

import (
	"fmt"
	"sync/atomic"
	"time"

	kerrors "github.com/PolarWolf314/cage/internal/errors"
)

// OperationKind names the operation a request performs.
type OperationKind string

const (
	OpLock   OperationKind = "lock"
	OpUnlock OperationKind = "unlock"
	OpRotate OperationKind = "rotate"
	OpVerify OperationKind = "verify"
	OpStatus OperationKind = "status"
	OpBatch  OperationKind = "batch"
)

// ParseOperationKind accepts the lowercase operation names.
func ParseOperationKind(s string) (OperationKind, error) {
	switch kind := OperationKind(s); kind {
	case OpLock, OpUnlock, OpRotate, OpVerify, OpStatus, OpBatch:
		return kind, nil
	default:
		return "", fmt.Errorf("unknown operation %q", s)
	}
}

// ReportFormat selects how verify and status results are rendered.
type ReportFormat string

const (
	ReportText ReportFormat = "text"
	ReportJSON ReportFormat = "json"
)

func (f ReportFormat) valid() bool {
	return f == ReportText || f == ReportJSON
}

// CommonOptions apply to every operation.
type CommonOptions struct {
	// Force allows overwriting an existing output file.
	Force bool

	// Backup copies a target before it is replaced or removed.
	Backup bool

	// Audit records the operation in the audit log.
	Audit bool

	// DryRun resolves targets and runs pre-flight checks without mutating anything.
	DryRun bool

	// Timeout overrides the configured per-operation timeout when non-zero.
	Timeout time.Duration
}

// DefaultOptions returns options with backups and auditing enabled.
func DefaultOptions() CommonOptions {
	return CommonOptions{Backup: true, Audit: true}
}

// inherit layers batch-wide options over a sub-operation's own. Force and
// DryRun from either side win; a disabled backup or audit on either side
// disables it. The sub-operation's timeout wins when set.
func (o CommonOptions) inherit(batch CommonOptions) CommonOptions {
	o.Force = o.Force || batch.Force
	o.DryRun = o.DryRun || batch.DryRun
	o.Backup = o.Backup && batch.Backup
	o.Audit = o.Audit && batch.Audit
	if o.Timeout == 0 {
		o.Timeout = batch.Timeout
	}
	return o
}

func (o CommonOptions) validate(op OperationKind) error {
	if o.Timeout < 0 {
		return kerrors.Validationf(string(op), "timeout", "timeout must not be negative, got %s", o.Timeout)
	}
	return nil
}

// Scope selects files under a directory. Pattern is a doublestar glob
// relative to the scanned directory and requires Recursive.
type Scope struct {
	Recursive bool
	Pattern   string
}

// Request is a validated, single-use operation description. Requests are
// produced by builders and are never mutated afterwards; a retry builds a
// new Request.
type Request interface {
	Kind() OperationKind
	Common() CommonOptions
	Targets() []string

	// Built reports whether the request came from a builder.
	Built() bool

	// Claim marks the request as consumed. A second call fails with
	// ErrOperationConsumed.
	Claim() error
}

type base struct {
	kind     OperationKind
	common   CommonOptions
	built    bool
	consumed atomic.Bool
}

func newBase(kind OperationKind, common CommonOptions) base {
	return base{kind: kind, common: common, built: true}
}

func (b *base) Kind() OperationKind { return b.kind }

func (b *base) Common() CommonOptions { return b.common }

func (b *base) Built() bool { return b.built }

func (b *base) Claim() error {
	if !b.built {
		return kerrors.Validationf(string(b.kind), "", "request was not produced by a builder")
	}
	if !b.consumed.CompareAndSwap(false, true) {
		return kerrors.New(kerrors.KindRequestValidation, string(b.kind), "", kerrors.StageValidate, kerrors.ErrOperationConsumed)
	}
	return nil
}
