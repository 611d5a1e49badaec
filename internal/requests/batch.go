package requests

import (
	"errors"
	"fmt"

	kerrors "github.com/PolarWolf314/cage/internal/errors"
)

// SubOperation is a builder that may appear inside a batch. Only lock,
// unlock and rotate builders satisfy it.
type SubOperation interface {
	buildRequest() (Request, error)
	inheritOptions(batch CommonOptions)
}

// BatchEntry is one built sub-operation.
type BatchEntry struct {
	Request   Request
	Retryable bool

	source SubOperation
}

// Rebuild produces a fresh request from the same builder for a retry.
func (e BatchEntry) Rebuild() (Request, error) {
	return e.source.buildRequest()
}

// BatchRequest runs heterogeneous sub-operations. Entries on the same path
// must not be scheduled concurrently by the caller.
type BatchRequest struct {
	base

	Entries []BatchEntry

	// StopOnError cancels entries that have not started after the first failure.
	StopOnError bool
}

func (r *BatchRequest) Targets() []string {
	var targets []string
	for _, e := range r.Entries {
		targets = append(targets, e.Request.Targets()...)
	}
	return targets
}

type batchItem struct {
	op        SubOperation
	retryable bool
}

type BatchBuilder struct {
	items       []batchItem
	stopOnError bool
	opts        CommonOptions
}

func NewBatchBuilder() *BatchBuilder {
	return &BatchBuilder{opts: DefaultOptions()}
}

// Add appends a sub-operation. Retryable marks it for retry on backend
// and timeout failures.
func (b *BatchBuilder) Add(op SubOperation, retryable bool) *BatchBuilder {
	b.items = append(b.items, batchItem{op: op, retryable: retryable})
	return b
}

func (b *BatchBuilder) StopOnError(stop bool) *BatchBuilder {
	b.stopOnError = stop
	return b
}

func (b *BatchBuilder) Options(opts CommonOptions) *BatchBuilder {
	b.opts = opts
	return b
}

// Build validates every sub-operation with its own rules after layering
// the batch options over each one. Nothing is returned unless all of them
// are valid.
func (b *BatchBuilder) Build() (*BatchRequest, error) {
	const op = string(OpBatch)

	if len(b.items) == 0 {
		return nil, kerrors.Validationf(op, "operations", "a batch needs at least one operation")
	}

	if err := b.opts.validate(OpBatch); err != nil {
		return nil, err
	}

	entries := make([]BatchEntry, 0, len(b.items))
	for i, item := range b.items {
		if item.op == nil {
			return nil, kerrors.Validationf(op, fmt.Sprintf("operations[%d]", i), "nil operation")
		}
		item.op.inheritOptions(b.opts)
		req, err := item.op.buildRequest()
		if err != nil {
			return nil, nestedValidation(op, i, err)
		}
		entries = append(entries, BatchEntry{Request: req, Retryable: item.retryable, source: item.op})
	}
	return &BatchRequest{
		base:        newBase(OpBatch, b.opts),
		Entries:     entries,
		StopOnError: b.stopOnError,
	}, nil
}

func nestedValidation(op string, index int, err error) error {
	field := fmt.Sprintf("operations[%d]", index)
	var inner *kerrors.Error
	if errors.As(err, &inner) {
		if inner.Field != "" {
			field += "." + inner.Field
		}
		return kerrors.Validation(op, field, fmt.Errorf("%s: %w", inner.Op, inner.Err))
	}
	return kerrors.Validation(op, field, err)
}
