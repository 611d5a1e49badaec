package engine

import (
	"time"

	"github.com/PolarWolf314/cage/internal/audit"
	"github.com/PolarWolf314/cage/internal/requests"
)

// File states reported in FileResult.Status.
const (
	StatusLocked    = "locked"
	StatusUnlocked  = "unlocked"
	StatusRotated   = "rotated"
	StatusPlanned   = "planned"
	StatusVerified  = "verified"
	StatusInvalid   = "invalid"
	StatusEncrypted = "encrypted"
	StatusPlaintext = "plaintext"
	StatusFailed    = "failed"
)

// FileResult is the outcome for one file.
type FileResult struct {
	Path   string `json:"path"`
	Output string `json:"output,omitempty"`
	Status string `json:"status"`
	Bytes  int64  `json:"bytes"`

	// Armored is set for text-safe ciphertext.
	Armored bool `json:"armored,omitempty"`

	// Backup is a backup left behind by the operation, if any.
	Backup string `json:"backup,omitempty"`

	Error string `json:"error,omitempty"`
}

// BatchOutcome reports one batch entry.
type BatchOutcome struct {
	Index     int                    `json:"index"`
	Operation requests.OperationKind `json:"operation"`
	Targets   []string               `json:"targets"`
	Status    string                 `json:"status"` // ok, failed or skipped.
	Attempts  int                    `json:"attempts"`
	Error     string                 `json:"error,omitempty"`
	Result    *Result                `json:"result,omitempty"`

	err error
}

// Result describes a finished operation. A failed multi-file operation
// still returns the files it processed.
type Result struct {
	Operation      requests.OperationKind `json:"operation"`
	Backend        string                 `json:"backend,omitempty"`
	Files          []FileResult           `json:"files"`
	BytesProcessed int64                  `json:"bytes_processed"`
	Elapsed        time.Duration          `json:"elapsed"`
	DryRun         bool                   `json:"dry_run,omitempty"`
	Warnings       []string               `json:"warnings,omitempty"`

	Batch []BatchOutcome `json:"batch,omitempty"`

	// LastOperation is the most recent audit entry, reported by status.
	LastOperation *audit.Entry `json:"last_operation,omitempty"`
}

func (r *Result) add(f FileResult) {
	r.Files = append(r.Files, f)
	r.BytesProcessed += f.Bytes
}

// Count returns how many files ended in status.
func (r *Result) Count(status string) int {
	n := 0
	for _, f := range r.Files {
		if f.Status == status {
			n++
		}
	}
	return n
}

// Outputs lists produced or planned output paths.
func (r *Result) Outputs() []string {
	var out []string
	for _, f := range r.Files {
		if f.Output != "" {
			out = append(out, f.Output)
		}
	}
	return out
}
