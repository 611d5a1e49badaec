package engine

import (
	"context"
	"fmt"

	kerrors "github.com/PolarWolf314/cage/internal/errors"
	"github.com/PolarWolf314/cage/internal/requests"

	"golang.org/x/sync/errgroup"
)

// batch runs sub-operations on a pool of parallel_batch_size workers. Each
// sub-operation runs its own state machine. Retryable entries are rebuilt
// and retried on backend and timeout failures up to batch_retries times.
// With StopOnError, entries not yet started are skipped after the first
// failure; running ones finish.
func (e *Engine) batch(ctx context.Context, req *requests.BatchRequest) (*Result, error) {
	if err := req.Claim(); err != nil {
		return nil, err
	}

	outcomes := make([]BatchOutcome, len(req.Entries))
	for i, entry := range req.Entries {
		outcomes[i] = BatchOutcome{
			Index:     i,
			Operation: entry.Request.Kind(),
			Targets:   entry.Request.Targets(),
			Status:    "skipped",
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Performance.ParallelBatchSize)

	for i, entry := range req.Entries {
		g.Go(func() error {
			if req.StopOnError && gctx.Err() != nil {
				return nil
			}
			res, attempts, err := e.runEntry(ctx, entry)
			outcomes[i].Attempts = attempts
			outcomes[i].Result = res
			if err != nil {
				outcomes[i].Status = "failed"
				outcomes[i].Error = err.Error()
				outcomes[i].err = err
				if req.StopOnError {
					return err
				}
				return nil
			}
			outcomes[i].Status = "ok"
			return nil
		})
	}
	_ = g.Wait()

	res := &Result{Operation: requests.OpBatch, Batch: outcomes, DryRun: req.Common().DryRun}
	var firstErr error
	failed := 0
	for _, o := range outcomes {
		if o.Result != nil {
			if res.Backend == "" {
				res.Backend = o.Result.Backend
			}
			for _, f := range o.Result.Files {
				res.add(f)
			}
			res.Warnings = append(res.Warnings, o.Result.Warnings...)
		}
		if o.err != nil {
			failed++
			if firstErr == nil {
				firstErr = o.err
			}
		}
	}

	if firstErr != nil {
		return res, fmt.Errorf("batch: %d of %d operation(s) failed: %w", failed, len(outcomes), firstErr)
	}
	return res, nil
}

// runEntry executes one entry, retrying only when the entry allows it and
// the failure is retryable. Every attempt uses a freshly built request.
func (e *Engine) runEntry(ctx context.Context, entry requests.BatchEntry) (*Result, int, error) {
	attempts := 1
	if entry.Retryable {
		attempts += e.cfg.Performance.BatchRetries
	}

	req := entry.Request
	for attempt := 1; ; attempt++ {
		res, err := e.dispatch(ctx, req, true)
		if err == nil || !entry.Retryable || !kerrors.IsRetryable(err) || attempt >= attempts || ctx.Err() != nil {
			return res, attempt, err
		}
		e.log.Warnf("Retrying %s (attempt %d of %d): %v", req.Kind(), attempt+1, attempts, err)

		next, buildErr := entry.Rebuild()
		if buildErr != nil {
			return res, attempt, buildErr
		}
		req = next
	}
}
