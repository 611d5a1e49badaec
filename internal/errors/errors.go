package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure by the layer that rejected the operation.
type Kind string

const (
	KindConfiguration     Kind = "configuration"
	KindRequestValidation Kind = "request_validation"
	KindSafetyViolation   Kind = "safety_violation"
	KindRecoveryFailure   Kind = "recovery_failure"
	KindBackend           Kind = "backend"
	KindTimeout           Kind = "timeout"
)

// Stage names the point in an operation's lifecycle where a failure happened.
type Stage string

const (
	StageConfig   Stage = "config"
	StageBuild    Stage = "build"
	StageValidate Stage = "validate"
	StageBackup   Stage = "backup"
	StageMutate   Stage = "mutate"
	StageCommit   Stage = "commit"
	StageRollback Stage = "rollback"
	StageCleanup  Stage = "cleanup"
	StageBackend  Stage = "backend"
)

// Kind sentinels. Any *Error of the matching kind satisfies errors.Is.
var (
	// ErrConfiguration matches invalid fields, unreadable paths and unresolvable backends.
	ErrConfiguration = errors.New("configuration error")

	// ErrRequestValidation matches conflicting or missing request fields.
	ErrRequestValidation = errors.New("request validation error")

	// ErrSafetyViolation matches pre-flight rejections that happen before any mutation.
	ErrSafetyViolation = errors.New("safety violation")

	// ErrRecoveryFailure matches backup, atomic replace and rollback failures.
	ErrRecoveryFailure = errors.New("recovery failure")

	// ErrBackend matches failures reported by the external encryption toolchain.
	ErrBackend = errors.New("backend error")

	// ErrTimeout matches operations that exceeded their deadline.
	ErrTimeout = errors.New("operation timed out")
)

// Configuration errors.
var (
	// ErrBackendNotFound indicates no configured backend binary could be resolved.
	ErrBackendNotFound = errors.New("no encryption backend found")

	// ErrConfigNotValidated indicates a configuration was used before Validate succeeded.
	ErrConfigNotValidated = errors.New("configuration has not been validated")

	// ErrGroupNotFound indicates a recipient group name is not defined.
	ErrGroupNotFound = errors.New("recipient group not found")

	// ErrGroupExists indicates a recipient group with the same name is already defined.
	ErrGroupExists = errors.New("recipient group already exists")
)

// Request errors.
var (
	// ErrDuplicateRecipient indicates a recipient was added to a group twice.
	ErrDuplicateRecipient = errors.New("duplicate recipient")

	// ErrInvalidRecipient indicates a recipient string could not be parsed.
	ErrInvalidRecipient = errors.New("invalid recipient")

	// ErrInvalidIdentity indicates an identity is empty or unreadable.
	ErrInvalidIdentity = errors.New("invalid identity")

	// ErrOperationConsumed indicates a request or in-place operation was executed twice.
	ErrOperationConsumed = errors.New("operation already executed")
)

// Safety and file errors.
var (
	// ErrInsufficientSpace indicates there is not enough free disk space for a backup copy.
	ErrInsufficientSpace = errors.New("insufficient free disk space")

	// ErrRiskThresholdExceeded indicates the operation is riskier than the security level allows.
	ErrRiskThresholdExceeded = errors.New("risk threshold exceeded")

	// ErrPermissionDenied indicates the target cannot be read or written.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrNoFilesFound indicates no files matched the provided scope.
	ErrNoFilesFound = errors.New("no matching files found")

	// ErrOutputExists indicates the output path exists and force was not requested.
	ErrOutputExists = errors.New("output file already exists")
)

// Error carries enough context to diagnose a failure without re-running the
// operation: which operation, which path, which stage, and which field.
type Error struct {
	Kind      Kind
	Op        string
	Path      string
	Stage     Stage
	Field     string
	Retryable bool
	Err       error

	// Secondary is a rollback failure that occurred while handling Err.
	// When set, the original file may be in an inconsistent state.
	Secondary error

	// Warning is a cleanup failure reported alongside Err.
	Warning error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Op != "" {
		b.WriteString(": ")
		b.WriteString(e.Op)
	}
	if e.Path != "" {
		fmt.Fprintf(&b, " %s", e.Path)
	}
	if e.Stage != "" {
		fmt.Fprintf(&b, " [%s]", e.Stage)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, " field %q", e.Field)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if e.Secondary != nil {
		fmt.Fprintf(&b, " (rollback failed: %v)", e.Secondary)
	}
	if e.Warning != nil {
		fmt.Fprintf(&b, " (warning: %v)", e.Warning)
	}
	return b.String()
}

// Unwrap exposes both the cause and any rollback failure to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	var errs []error
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	if e.Secondary != nil {
		errs = append(errs, e.Secondary)
	}
	return errs
}

// Is reports whether target is the sentinel for this error's kind.
func (e *Error) Is(target error) bool {
	return target == sentinelFor(e.Kind)
}

func sentinelFor(kind Kind) error {
	switch kind {
	case KindConfiguration:
		return ErrConfiguration
	case KindRequestValidation:
		return ErrRequestValidation
	case KindSafetyViolation:
		return ErrSafetyViolation
	case KindRecoveryFailure:
		return ErrRecoveryFailure
	case KindBackend:
		return ErrBackend
	case KindTimeout:
		return ErrTimeout
	default:
		return nil
	}
}

// New builds an *Error. A nil cause yields a nil error.
func New(kind Kind, op, path string, stage Stage, cause error) error {
	if cause == nil {
		return nil
	}
	return &Error{
		Kind:      kind,
		Op:        op,
		Path:      path,
		Stage:     stage,
		Err:       cause,
		Retryable: kind == KindBackend || kind == KindTimeout,
	}
}

// Configuration reports an invalid configuration field.
func Configuration(field string, cause error) error {
	return &Error{Kind: KindConfiguration, Stage: StageConfig, Field: field, Err: cause}
}

// Validation reports the first violated request invariant.
func Validation(op, field string, cause error) error {
	return &Error{Kind: KindRequestValidation, Op: op, Stage: StageBuild, Field: field, Err: cause}
}

// Validationf is Validation with a formatted cause.
func Validationf(op, field, format string, args ...any) error {
	return Validation(op, field, fmt.Errorf(format, args...))
}

// KindOf returns the kind of the outermost *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// StageOf returns the stage of the outermost *Error in err's chain, or "".
func StageOf(err error) Stage {
	var e *Error
	if errors.As(err, &e) {
		return e.Stage
	}
	return ""
}

// IsRetryable reports whether err is a backend or timeout failure.
// Only batch execution consults this.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// WithWarning attaches a cleanup failure to err without replacing it.
func WithWarning(err, warning error) error {
	if err == nil || warning == nil {
		return err
	}
	var e *Error
	if errors.As(err, &e) {
		clone := *e
		if clone.Warning != nil {
			clone.Warning = errors.Join(clone.Warning, warning)
		} else {
			clone.Warning = warning
		}
		return &clone
	}
	return &Error{Kind: KindRecoveryFailure, Stage: StageCleanup, Err: err, Warning: warning}
}

// WithContext fills in Op and Path on an *Error that lacks them.
// Errors of other types are wrapped as the given kind.
func WithContext(err error, kind Kind, op, path string, stage Stage) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		clone := *e
		if clone.Op == "" {
			clone.Op = op
		}
		if clone.Path == "" {
			clone.Path = path
		}
		if clone.Stage == "" {
			clone.Stage = stage
		}
		return &clone
	}
	return New(kind, op, path, stage, err)
}
