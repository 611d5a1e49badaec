// Package audit records one line per cage operation.
//
// Every lock, unlock, rotate, verify, status and batch run appends an
// entry, on success and on failure, to the log configured at
// paths.audit_log (by default in the user data directory).
//
// # Log Format
//
// behavior.telemetry_format selects the line format. "json" writes one
// canonical JSON object per line (RFC 8785 key order); "text" writes
//
//	2025-01-02T03:04:05.000000Z op=lock target=app.env outcome=ok backend=age
//
// Each entry contains:
//   - Timestamp (RFC3339 with microseconds, UTC)
//   - Operation, target and outcome
//   - Backend used, byte and file counts, duration
//   - Failure stage and message, when the operation failed
//
// # Failure Handling
//
// Audit logging is best-effort. Log returns its error so the caller can
// warn, but an operation never fails because its audit line could not be
// written.
//
// # Reading Logs
//
// ReadEntries parses either format. Malformed lines are skipped to
// tolerate partial writes.
package audit
