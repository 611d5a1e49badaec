// Package recovery makes file replacement safe.
//
// A SafetyValidator approves an operation before anything is written: the
// target must exist with usable permissions, there must be room for a full
// copy, and the operation's risk must not exceed the configured threshold.
//
// An InPlaceOperation then moves through
//
//	created -> validated -> backed_up -> mutating -> committed | rolled_back
//
// The transform writes to a temporary sibling, never to the target, and
// the result replaces the target with a single rename. A failed transform
// leaves the target untouched and discards the temporary file and backup.
// A failed commit restores from the backup if the target was disturbed.
//
// Manager owns the backup directory and applies retention. WriteAtomic
// covers operations that write a new file instead of replacing one.
package recovery
