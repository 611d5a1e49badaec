package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	kerrors "github.com/PolarWolf314/cage/internal/errors"
	"github.com/PolarWolf314/cage/internal/recovery"
	"github.com/PolarWolf314/cage/internal/requests"
)

// rotatedSuffix marks the sibling written by a non-atomic rotation.
const rotatedSuffix = ".rotated"

func (e *Engine) rotate(ctx context.Context, req *requests.RotateRequest, inBatch bool) (*Result, error) {
	const op = string(requests.OpRotate)

	if err := req.Claim(); err != nil {
		return nil, err
	}
	backend, err := e.backend(ctx)
	if err != nil {
		return nil, err
	}

	next := Invocation{Passphrase: req.NewPassphrase.Passphrase()}
	if len(req.NewRecipients) > 0 {
		next.Recipients, err = e.expandRecipients(op, req.NewRecipients)
		if err != nil {
			return nil, err
		}
	}
	current := identityInvocation(req.Old)

	files, err := resolveTargets(op, req.Paths, req.Scope, isEncryptedName)
	if err != nil {
		return nil, err
	}

	ctx, cancel := e.withTimeout(ctx, req.Common())
	defer cancel()

	res := &Result{Operation: requests.OpRotate, Backend: backend.Name(), DryRun: req.Common().DryRun}
	for _, src := range files {
		_, armored, _ := sniff(src)
		transform := reencrypt(backend, current, next, armored)

		var fr FileResult
		if req.Atomic || req.Common().DryRun {
			fr, err = e.apply(ctx, mutation{
				op:        op,
				src:       src,
				dst:       src,
				status:    StatusRotated,
				common:    req.Common(),
				inBatch:   inBatch,
				transform: transform,
			})
		} else {
			fr, err = e.rotateNonAtomic(ctx, src, req.Common(), inBatch, transform)
		}
		fr.Armored = armored
		res.add(fr)
		if err != nil {
			return res, err
		}
		e.log.Infof("Rotated %s", src)
	}
	return res, nil
}

// reencrypt decrypts src with the current credential into a private
// scratch directory and encrypts the plaintext to dst with the new one.
func reencrypt(backend Backend, current, next Invocation, armored bool) recovery.Transform {
	return func(ctx context.Context, src, dst string) error {
		scratch, err := os.MkdirTemp("", "cage-rotate-")
		if err != nil {
			return kerrors.New(kerrors.KindRecoveryFailure, string(requests.OpRotate), src, kerrors.StageMutate, err)
		}
		defer os.RemoveAll(scratch)
		plain := filepath.Join(scratch, "plaintext")

		dec := current
		dec.Input, dec.Output = src, plain
		if err := backend.Decrypt(ctx, dec); err != nil {
			return err
		}

		enc := next
		enc.Input, enc.Output, enc.Armor = plain, dst, armored
		return backend.Encrypt(ctx, enc)
	}
}

// rotateNonAtomic writes the new ciphertext next to src, removes src and
// moves the new file into its place. A crash between the last two steps
// leaves only the sibling.
func (e *Engine) rotateNonAtomic(ctx context.Context, src string, common requests.CommonOptions, inBatch bool, transform recovery.Transform) (FileResult, error) {
	const op = string(requests.OpRotate)
	sibling := src + rotatedSuffix

	fr, err := e.apply(ctx, mutation{
		op:           op,
		src:          src,
		dst:          sibling,
		status:       StatusRotated,
		common:       common,
		inBatch:      inBatch,
		removeSource: true,
		transform:    transform,
	})
	if err != nil {
		return fr, err
	}

	if err := os.Rename(sibling, src); err != nil {
		fr.Status = StatusFailed
		fr.Error = err.Error()
		return fr, kerrors.New(kerrors.KindRecoveryFailure, op, src, kerrors.StageCommit,
			fmt.Errorf("rotated file left at %s: %w", sibling, err))
	}
	fr.Output = src
	return fr, nil
}
