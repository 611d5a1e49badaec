// Package engine turns validated requests into backend invocations.
//
// An Engine is built once from a validated configuration and may be shared
// by concurrent callers. Each operation consumes its request, checks the
// target with the recovery package's SafetyValidator, and hands the actual
// cryptographic transform to a Backend:
//
//	cfg, _ := configs.LoadDefault()
//	eng, _ := engine.New(cfg)
//	req, _ := requests.NewLockBuilder(".env").RecipientStrings(key).Build()
//	res, err := eng.Encrypt(ctx, req)
//
// In-place operations run through recovery.InPlaceOperation, so a failed
// transform leaves the original untouched. Operations that write a new
// file use recovery.WriteAtomic.
//
// Every operation appends one audit entry, whether it succeeded or not.
//
// Batches fan out over a bounded worker pool. Only entries marked
// retryable are retried, and only for backend and timeout failures.
package engine
