package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/PolarWolf314/cage/internal/tty"
	"github.com/PolarWolf314/cage/internal/utils"
)

// CheckStatus represents the result status of a health check.
type CheckStatus int

const (
	// CheckPass means the check passed.
	CheckPass CheckStatus = iota
	// CheckWarning means the check found a non-critical issue.
	CheckWarning
	// CheckError means the check found a critical issue.
	CheckError
)

// String returns a string representation of CheckStatus.
func (s CheckStatus) String() string {
	switch s {
	case CheckPass:
		return "pass"
	case CheckWarning:
		return "warning"
	case CheckError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalJSON implements json.Marshaler for CheckStatus.
func (s CheckStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// CheckResult holds the result of a single health check.
type CheckResult struct {
	Name       string      `json:"name"`
	Status     CheckStatus `json:"status"`
	Message    string      `json:"message"`
	Suggestion string      `json:"suggestion,omitempty"`
}

// HealthStatus summarizes a health report.
type HealthStatus string

const (
	Healthy   HealthStatus = "healthy"
	Degraded  HealthStatus = "degraded"
	Unhealthy HealthStatus = "unhealthy"
)

// HealthSummary holds counts of checks by status.
type HealthSummary struct {
	Passed   int `json:"passed"`
	Warnings int `json:"warnings"`
	Errors   int `json:"errors"`
}

type HealthReport struct {
	Status      HealthStatus  `json:"status"`
	Checks      []CheckResult `json:"checks"`
	Summary     HealthSummary `json:"summary"`
	Suggestions []string      `json:"suggestions,omitempty"`
}

// HealthCheck runs every check. A report with only warnings is degraded:
// operations still work, for example through a fallback backend.
func (e *Engine) HealthCheck(ctx context.Context) *HealthReport {
	checks := []func(context.Context) CheckResult{
		e.checkBackend,
		e.checkTTY,
		e.checkBackupDir,
		e.checkAuditLog,
	}

	report := &HealthReport{Status: Healthy}
	seen := make(map[string]bool)
	for _, check := range checks {
		result := check(ctx)
		report.Checks = append(report.Checks, result)

		switch result.Status {
		case CheckPass:
			report.Summary.Passed++
		case CheckWarning:
			report.Summary.Warnings++
		case CheckError:
			report.Summary.Errors++
		}

		if result.Suggestion != "" && result.Status != CheckPass && !seen[result.Suggestion] {
			report.Suggestions = append(report.Suggestions, result.Suggestion)
			seen[result.Suggestion] = true
		}
	}

	switch {
	case report.Summary.Errors > 0:
		report.Status = Unhealthy
	case report.Summary.Warnings > 0:
		report.Status = Degraded
	}
	return report
}

// checkBackend asks each backend for its version in preference order.
func (e *Engine) checkBackend(ctx context.Context) CheckResult {
	const name = "Encryption backend"

	if len(e.backends) == 0 {
		msg := "No backend could be resolved"
		if e.backendErr != nil {
			msg = e.backendErr.Error()
		}
		return CheckResult{
			Name:       name,
			Status:     CheckError,
			Message:    msg,
			Suggestion: "Install age or set paths.backend_binary",
		}
	}

	var failures []string
	for i, b := range e.backends {
		version, err := b.Version(ctx)
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", b.Name(), err))
			continue
		}

		unavailable := e.primaryMissing()
		if i > 0 {
			unavailable = e.backends[0].Name()
		}
		if unavailable == "" {
			return CheckResult{Name: name, Status: CheckPass, Message: fmt.Sprintf("%s %s at %s", b.Name(), version, b.Path())}
		}
		return CheckResult{
			Name:       name,
			Status:     CheckWarning,
			Message:    fmt.Sprintf("Primary backend %s is unavailable; %s %s still works", unavailable, b.Name(), version),
			Suggestion: fmt.Sprintf("Install %s or reorder behavior.backends", unavailable),
		}
	}

	return CheckResult{
		Name:       name,
		Status:     CheckError,
		Message:    "No backend responded: " + strings.Join(failures, "; "),
		Suggestion: "Check the backend installation with '<backend> --version'",
	}
}

// primaryMissing names the first configured backend when resolution had
// to skip it, or returns "".
func (e *Engine) primaryMissing() string {
	if e.cfg.Paths.BackendBinary != "" || len(e.cfg.Behavior.Backends) == 0 || len(e.backends) == 0 {
		return ""
	}
	if _, resolved := e.backends[0].(*AgeBackend); !resolved {
		return ""
	}
	if primary := e.cfg.Behavior.Backends[0]; e.backends[0].Name() != primary {
		return primary
	}
	return ""
}

func (e *Engine) checkTTY(context.Context) CheckResult {
	const name = "Terminal automation"

	if e.ttyErr != nil {
		return CheckResult{
			Name:       name,
			Status:     CheckWarning,
			Message:    fmt.Sprintf("Passphrase mode unavailable: %v", e.ttyErr),
			Suggestion: "Install expect or script, or set behavior.tty_method = \"auto\"",
		}
	}
	return CheckResult{Name: name, Status: CheckPass, Message: fmt.Sprintf("Using %s", e.tty.Method())}
}

func (e *Engine) checkBackupDir(context.Context) CheckResult {
	const name = "Backup directory"
	dir := e.cfg.Paths.BackupDir

	if err := writable(dir); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return CheckResult{
				Name:       name,
				Status:     CheckWarning,
				Message:    fmt.Sprintf("%s does not exist", dir),
				Suggestion: "It is created by the first backup",
			}
		}
		return CheckResult{
			Name:       name,
			Status:     CheckError,
			Message:    fmt.Sprintf("%s is not writable: %v", dir, err),
			Suggestion: "Fix permissions or set paths.backup_dir",
		}
	}

	free, err := e.validator.Policy().FreeSpace(dir)
	if err != nil || free == 0 {
		return CheckResult{
			Name:       name,
			Status:     CheckWarning,
			Message:    fmt.Sprintf("Could not confirm free space in %s", dir),
			Suggestion: "Free up disk space before in-place operations",
		}
	}
	return CheckResult{Name: name, Status: CheckPass, Message: fmt.Sprintf("%s (%s free)", dir, utils.HumanBytes(int64(free)))}
}

func (e *Engine) checkAuditLog(context.Context) CheckResult {
	const name = "Audit log"

	if !e.audit.Enabled() {
		return CheckResult{
			Name:       name,
			Status:     CheckWarning,
			Message:    "Auditing is disabled",
			Suggestion: "Set paths.audit_log to record operations",
		}
	}
	if e.audit.Path == "" {
		return CheckResult{Name: name, Status: CheckPass, Message: "Writing to a custom sink"}
	}
	if err := writable(filepath.Dir(e.audit.Path)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return CheckResult{
				Name:       name,
				Status:     CheckWarning,
				Message:    fmt.Sprintf("%s does not exist yet", filepath.Dir(e.audit.Path)),
				Suggestion: "It is created on the first audited operation",
			}
		}
		return CheckResult{
			Name:       name,
			Status:     CheckWarning,
			Message:    fmt.Sprintf("%s cannot be written: %v", e.audit.Path, err),
			Suggestion: "Fix permissions on the audit log directory",
		}
	}
	return CheckResult{Name: name, Status: CheckPass, Message: fmt.Sprintf("%s (%s)", e.audit.Path, e.audit.Format)}
}

// writable proves a file can be created in dir. A missing dir is reported
// as os.ErrNotExist, not created.
func writable(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	f, err := os.CreateTemp(dir, ".cage-probe-*")
	if err != nil {
		return err
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}

// AdapterInfo reports which concrete adapters are active.
type AdapterInfo struct {
	Backend       string   `json:"backend"`
	BackendPath   string   `json:"backend_path,omitempty"`
	Fallbacks     []string `json:"fallbacks,omitempty"`
	TTYConfigured string   `json:"tty_configured"`
	TTYActive     string   `json:"tty_active"`
	TTYAvailable  []string `json:"tty_available,omitempty"`
	OutputFormat  string   `json:"output_format"`
	SecurityLevel string   `json:"security_level"`
	RiskThreshold string   `json:"risk_threshold"`
	AuditFormat   string   `json:"audit_format"`
	ConfigSource  string   `json:"config_source,omitempty"`
}

func (e *Engine) AdapterInfo() AdapterInfo {
	info := AdapterInfo{
		Backend:       e.backendName(),
		TTYConfigured: string(e.cfg.Behavior.TTYMethod),
		TTYActive:     e.ttyMethod(),
		OutputFormat:  string(e.cfg.Behavior.OutputFormat),
		SecurityLevel: string(e.cfg.Security.Level),
		RiskThreshold: e.validator.Policy().Threshold.String(),
		AuditFormat:   string(e.cfg.Behavior.TelemetryFormat),
		ConfigSource:  e.cfg.Source(),
	}
	if len(e.backends) > 0 {
		info.BackendPath = e.backends[0].Path()
		for _, b := range e.backends[1:] {
			info.Fallbacks = append(info.Fallbacks, b.Name())
		}
	}
	for _, m := range tty.Available() {
		info.TTYAvailable = append(info.TTYAvailable, string(m))
	}
	return info
}
