package engine

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/PolarWolf314/cage/internal/audit"
	"github.com/PolarWolf314/cage/internal/configs"
	kerrors "github.com/PolarWolf314/cage/internal/errors"
	logger "github.com/PolarWolf314/cage/internal/logging"
	"github.com/PolarWolf314/cage/internal/recovery"
	"github.com/PolarWolf314/cage/internal/requests"
	"github.com/PolarWolf314/cage/internal/tty"
	"github.com/PolarWolf314/cage/internal/utils"
)

// Engine runs validated requests against the configured backend. It is
// safe for concurrent use; the configuration is only read.
type Engine struct {
	cfg   *configs.Config
	log   logger.Logger
	audit *audit.Logger

	backends   []Backend
	backendErr error

	selectMu sync.Mutex
	selected Backend
	tty        tty.Automator
	ttyErr     error

	freeSpace func(dir string) (uint64, error)
	validator *recovery.SafetyValidator
	manager   *recovery.Manager
}

type Option func(*Engine)

// WithBackend replaces backend resolution with a fixed backend.
func WithBackend(b Backend) Option {
	return func(e *Engine) { e.backends = append(e.backends, b) }
}

func WithLogger(log logger.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithFreeSpace overrides how free disk space is measured.
func WithFreeSpace(fn func(dir string) (uint64, error)) Option {
	return func(e *Engine) { e.freeSpace = fn }
}

// WithAuditLogger replaces the audit sink derived from paths.audit_log.
func WithAuditLogger(l *audit.Logger) Option {
	return func(e *Engine) { e.audit = l }
}

// New builds an engine. cfg must have been validated.
func New(cfg *configs.Config, opts ...Option) (*Engine, error) {
	if cfg == nil || !cfg.Validated() {
		return nil, kerrors.Configuration("", kerrors.ErrConfigNotValidated)
	}

	e := &Engine{cfg: cfg}
	for _, opt := range opts {
		opt(e)
	}

	if e.audit == nil {
		e.audit = audit.NewLogger(cfg.Paths.AuditLog, audit.Format(cfg.Behavior.TelemetryFormat))
	}

	threshold, err := recovery.ParseRiskLevel(cfg.EffectiveRiskThreshold())
	if err != nil {
		return nil, kerrors.Configuration("security.risk_threshold", err)
	}
	e.validator = recovery.NewSafetyValidator(recovery.SafetyPolicy{
		Permissions: permissionsFor(cfg.Security.Level),
		Threshold:   threshold,
		Timeout:     cfg.Security.Level.ValidationTimeout(),
		BackupDir:   cfg.Paths.BackupDir,
		FreeSpace:   e.freeSpace,
	})
	e.manager = recovery.NewManager(cfg.Paths.BackupDir, retentionFor(cfg.Behavior.Retention), e.log)

	e.tty, e.ttyErr = tty.Detect(tty.Method(cfg.Behavior.TTYMethod))

	if len(e.backends) == 0 {
		resolved, err := cfg.ResolveBackends()
		if err != nil {
			e.backendErr = kerrors.Configuration("behavior.backends", err)
		}
		for _, r := range resolved {
			e.backends = append(e.backends, NewAgeBackend(r, e.tty))
		}
	}

	e.log.Debugf("Engine ready: backend=%s tty=%s security=%s threshold=%s",
		e.backendName(), e.ttyMethod(), cfg.Security.Level, threshold)
	return e, nil
}

func permissionsFor(level configs.SecurityLevel) recovery.PermissionCheck {
	switch level {
	case configs.SecurityStrict:
		return recovery.PermissionsStrict
	case configs.SecurityPermissive:
		return recovery.PermissionsExist
	default:
		return recovery.PermissionsAccess
	}
}

func retentionFor(r configs.RetentionConfig) recovery.Retention {
	return recovery.Retention{
		Policy: recovery.RetentionPolicy(r.Policy),
		Count:  r.Count,
		MaxAge: time.Duration(r.Days) * 24 * time.Hour,
	}
}

// Config returns the configuration the engine was built with.
func (e *Engine) Config() *configs.Config { return e.cfg }

// Backups exposes the backup catalogue.
func (e *Engine) Backups() *recovery.Manager { return e.manager }

// backend returns the first backend, in preference order, that answers a
// version probe. The choice is remembered for the engine's lifetime. When
// none answers, the primary is returned so the operation reports its error.
func (e *Engine) backend(ctx context.Context) (Backend, error) {
	if len(e.backends) == 0 {
		if e.backendErr != nil {
			return nil, e.backendErr
		}
		return nil, kerrors.Configuration("behavior.backends", kerrors.ErrBackendNotFound)
	}
	if len(e.backends) == 1 {
		return e.backends[0], nil
	}

	e.selectMu.Lock()
	defer e.selectMu.Unlock()
	if e.selected != nil {
		return e.selected, nil
	}
	for i, b := range e.backends {
		if _, err := b.Version(ctx); err != nil {
			e.log.Debugf("Backend %s did not respond: %v", b.Name(), err)
			continue
		}
		if i > 0 {
			e.log.Warnf("Primary backend %s is unavailable; using %s", e.backends[0].Name(), b.Name())
		}
		e.selected = b
		return b, nil
	}
	return e.backends[0], nil
}

func (e *Engine) backendName() string {
	if len(e.backends) == 0 {
		return "none"
	}
	return e.backends[0].Name()
}

func (e *Engine) ttyMethod() string {
	if e.tty == nil {
		return "unavailable"
	}
	return string(e.tty.Method())
}

func (e *Engine) withTimeout(ctx context.Context, common requests.CommonOptions) (context.Context, context.CancelFunc) {
	timeout := common.Timeout
	if timeout == 0 {
		timeout = e.cfg.Performance.OperationTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

// Encrypt runs a lock request.
func (e *Engine) Encrypt(ctx context.Context, req *requests.LockRequest) (*Result, error) {
	return e.dispatch(ctx, req, false)
}

// Decrypt runs an unlock request.
func (e *Engine) Decrypt(ctx context.Context, req *requests.UnlockRequest) (*Result, error) {
	return e.dispatch(ctx, req, false)
}

func (e *Engine) Rotate(ctx context.Context, req *requests.RotateRequest) (*Result, error) {
	return e.dispatch(ctx, req, false)
}

func (e *Engine) Verify(ctx context.Context, req *requests.VerifyRequest) (*Result, error) {
	return e.dispatch(ctx, req, false)
}

func (e *Engine) Status(ctx context.Context, req *requests.StatusRequest) (*Result, error) {
	return e.dispatch(ctx, req, false)
}

func (e *Engine) Batch(ctx context.Context, req *requests.BatchRequest) (*Result, error) {
	return e.dispatch(ctx, req, false)
}

// Execute runs any request kind.
func (e *Engine) Execute(ctx context.Context, req requests.Request) (*Result, error) {
	return e.dispatch(ctx, req, false)
}

func (e *Engine) dispatch(ctx context.Context, req requests.Request, inBatch bool) (res *Result, err error) {
	started := time.Now()
	defer func() {
		if res != nil {
			res.Elapsed = time.Since(started)
		}
		e.record(req, res, err, started)
	}()

	switch r := req.(type) {
	case *requests.LockRequest:
		if r != nil {
			return e.lock(ctx, r, inBatch)
		}
	case *requests.UnlockRequest:
		if r != nil {
			return e.unlock(ctx, r, inBatch)
		}
	case *requests.RotateRequest:
		if r != nil {
			return e.rotate(ctx, r, inBatch)
		}
	case *requests.VerifyRequest:
		if r != nil {
			return e.verify(ctx, r)
		}
	case *requests.StatusRequest:
		if r != nil {
			return e.status(ctx, r)
		}
	case *requests.BatchRequest:
		if r != nil && inBatch {
			return nil, kerrors.Validationf(string(requests.OpBatch), "operations", "batches cannot be nested")
		}
		if r != nil {
			return e.batch(ctx, r)
		}
	}
	return nil, kerrors.Validationf("execute", "", "missing or unsupported request %T", req)
}

// record writes one audit entry. Failing to write it never fails the operation.
func (e *Engine) record(req requests.Request, res *Result, opErr error, started time.Time) {
	if isNilRequest(req) || !req.Common().Audit || !e.audit.Enabled() {
		return
	}

	user, _ := utils.GetUsername()
	entry := audit.Entry{
		User:       user,
		Operation:  string(req.Kind()),
		Target:     strings.Join(req.Targets(), ","),
		Outcome:    "ok",
		DurationMs: time.Since(started).Milliseconds(),
	}
	if res != nil {
		entry.Backend = res.Backend
		entry.Files = len(res.Files)
		entry.Bytes = res.BytesProcessed
		if res.DryRun {
			entry.Outcome = "dry-run"
		}
	}
	if opErr != nil {
		entry.Outcome = "failed"
		if res != nil && len(res.Files) > 0 {
			entry.Outcome = "partial"
		}
		entry.Stage = string(kerrors.StageOf(opErr))
		entry.Error = opErr.Error()
	}

	if err := e.audit.Log(entry); err != nil {
		e.log.WarnfAlways("Failed to write audit log: %v", err)
	}
}

func isNilRequest(req requests.Request) bool {
	if req == nil {
		return true
	}
	switch r := req.(type) {
	case *requests.LockRequest:
		return r == nil
	case *requests.UnlockRequest:
		return r == nil
	case *requests.RotateRequest:
		return r == nil
	case *requests.VerifyRequest:
		return r == nil
	case *requests.StatusRequest:
		return r == nil
	case *requests.BatchRequest:
		return r == nil
	}
	return false
}
