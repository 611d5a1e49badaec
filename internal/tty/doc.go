// Package tty supplies a passphrase to programs that insist on reading it
// from a terminal.
//
// Three methods are available: an embedded pseudo-terminal (creack/pty),
// the external expect utility, and the external script utility. Detect
// resolves a configured method, with auto picking the first one usable on
// the current machine. Callers only depend on the Automator interface.
package tty
