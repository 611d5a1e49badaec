// Package configs manages cage configuration.
//
// Configuration is stored in TOML with five sections:
//
//   - [paths]: explicit backend binary, backup directory, audit log
//   - [behavior]: backend preference list, output format, TTY automation
//     method, telemetry format, and [behavior.retention] backup retention
//   - [security]: security level and optional risk threshold override
//   - [performance]: parallel batch size, per-operation timeout, batch retries
//   - [recipient_groups.<name>]: authority tier, ordered recipients, metadata
//
// # Loading
//
// LoadDefault merges, in increasing precedence, built-in defaults, the first
// file found in DefaultSearchPaths, and CAGE_* environment overrides.
// LoadFromPath loads exactly one file over the defaults. A Loader makes the
// override source explicit through the Store interface, so tests and
// alternative backends use a MemoryStore or FileStore instead of the
// process environment.
//
// # Validation
//
// A Config is usable only after Validate succeeds. Validate reports the
// first invalid field as a configuration error naming the TOML key.
// The With* methods return validated copies; the receiver is not changed.
//
// Recipient group methods operate on the in-memory value only. Call Save or
// SaveToPath to persist them.
package configs
