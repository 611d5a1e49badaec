package engine

import (
	"context"

	"github.com/PolarWolf314/cage/internal/requests"
)

// decryptedMode keeps recovered plaintext private to its owner.
const decryptedMode = 0o600

func (e *Engine) unlock(ctx context.Context, req *requests.UnlockRequest, inBatch bool) (*Result, error) {
	const op = string(requests.OpUnlock)

	if err := req.Claim(); err != nil {
		return nil, err
	}
	backend, err := e.backend(ctx)
	if err != nil {
		return nil, err
	}

	files, err := resolveTargets(op, []string{req.Input}, req.Scope, isEncryptedName)
	if err != nil {
		return nil, err
	}

	ctx, cancel := e.withTimeout(ctx, req.Common())
	defer cancel()

	inv := identityInvocation(req.Identity)
	res := &Result{Operation: requests.OpUnlock, Backend: backend.Name(), DryRun: req.Common().DryRun}
	for _, src := range files {
		dst := req.Output
		switch {
		case req.InPlace:
			dst = src
		case req.Scope.Recursive:
			dst = requests.DecryptedPath(src)
		}

		fr, err := e.apply(ctx, mutation{
			op:           op,
			src:          src,
			dst:          dst,
			status:       StatusUnlocked,
			common:       req.Common(),
			inBatch:      inBatch,
			removeSource: !req.InPlace && !req.PreserveEncrypted,
			mode:         decryptedMode,
			transform: func(ctx context.Context, in, out string) error {
				inv := inv
				inv.Input, inv.Output = in, out
				return backend.Decrypt(ctx, inv)
			},
		})
		res.add(fr)
		if err != nil {
			return res, err
		}
		e.log.Infof("Unlocked %s -> %s", src, dst)
	}
	return res, nil
}

// identityInvocation carries a decrypting identity to the backend.
func identityInvocation(id requests.Identity) Invocation {
	if id.IsPassphrase() {
		return Invocation{Passphrase: id.Passphrase()}
	}
	return Invocation{IdentityFile: id.Path()}
}
