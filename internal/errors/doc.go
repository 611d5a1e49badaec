// Package errors provides the error taxonomy for cage.
//
// Every failure surfaced by the core is an *Error carrying a Kind, the
// operation and path involved, and the Stage at which it happened. Callers
// match kinds with errors.Is against the kind sentinels rather than by string:
//
//	result, err := eng.Encrypt(ctx, cfg, req)
//	if errors.Is(err, kerrors.ErrSafetyViolation) {
//	    // nothing was touched on disk
//	}
//
// # Error Kinds
//
//   - ErrConfiguration: invalid field, unreadable path, unresolvable backend
//   - ErrRequestValidation: conflicting or missing request fields
//   - ErrSafetyViolation: disk space, permissions, risk threshold
//   - ErrRecoveryFailure: backup, atomic replace or rollback failed
//   - ErrBackend: the external toolchain failed
//   - ErrTimeout: the operation exceeded its deadline
//
// Configuration and request validation errors are always returned before
// any side effect. Safety violations abort before a backup is taken.
//
// # Rollback Failures
//
// When a rollback itself fails, the original error stays in Err and the
// rollback error is placed in Secondary. Both are reachable through
// errors.Is. A cleanup failure that did not endanger the original file is
// reported in Warning instead.
package errors
