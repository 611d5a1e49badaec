package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/PolarWolf314/cage/internal/audit"
	kerrors "github.com/PolarWolf314/cage/internal/errors"
	"github.com/PolarWolf314/cage/internal/requests"
)

// verify checks every file and reports each one. The operation fails
// when any file does not verify, after all of them were checked.
func (e *Engine) verify(ctx context.Context, req *requests.VerifyRequest) (*Result, error) {
	const op = string(requests.OpVerify)

	if err := req.Claim(); err != nil {
		return nil, err
	}
	var backend Backend
	if req.DeepVerify {
		b, err := e.backend(ctx)
		if err != nil {
			return nil, err
		}
		backend = b
	}

	files, err := resolveTargets(op, req.Paths, req.Scope, isEncryptedName)
	if err != nil {
		return nil, err
	}

	ctx, cancel := e.withTimeout(ctx, req.Common())
	defer cancel()

	res := &Result{Operation: requests.OpVerify}
	if backend != nil {
		res.Backend = backend.Name()
	}

	failed := 0
	for _, path := range files {
		fr := e.verifyFile(ctx, path, backend, req.Identity)
		if fr.Status != StatusVerified {
			failed++
		}
		res.add(fr)
		if ctx.Err() != nil {
			return res, kerrors.New(kerrors.KindTimeout, op, path, kerrors.StageBackend, ctx.Err())
		}
	}

	if failed > 0 {
		return res, &kerrors.Error{
			Kind:  kerrors.KindBackend,
			Op:    op,
			Stage: kerrors.StageValidate,
			Err:   fmt.Errorf("%d of %d file(s) failed verification", failed, len(files)),
		}
	}
	return res, nil
}

// verifyFile checks the header and, with a backend, that the identity
// can decrypt the file. Plaintext goes to a private scratch directory and
// is removed immediately.
func (e *Engine) verifyFile(ctx context.Context, path string, backend Backend, id requests.Identity) FileResult {
	fr := FileResult{Path: path, Bytes: fileSize(path)}

	encrypted, armored, err := sniff(path)
	if err != nil {
		fr.Status = StatusFailed
		fr.Error = err.Error()
		return fr
	}
	fr.Armored = armored
	if !encrypted {
		fr.Status = StatusInvalid
		fr.Error = "missing age header"
		return fr
	}
	if backend == nil {
		fr.Status = StatusVerified
		return fr
	}

	scratch, err := os.MkdirTemp("", "cage-verify-")
	if err != nil {
		fr.Status = StatusFailed
		fr.Error = err.Error()
		return fr
	}
	defer os.RemoveAll(scratch)

	inv := identityInvocation(id)
	inv.Input, inv.Output = path, filepath.Join(scratch, "plaintext")
	if err := backend.Decrypt(ctx, inv); err != nil {
		fr.Status = StatusFailed
		fr.Error = err.Error()
		return fr
	}
	fr.Status = StatusVerified
	return fr
}

// status classifies files under the request's path as encrypted or
// plaintext by their header, and attaches the last audited operation.
func (e *Engine) status(ctx context.Context, req *requests.StatusRequest) (*Result, error) {
	const op = string(requests.OpStatus)

	if err := req.Claim(); err != nil {
		return nil, err
	}

	info, err := os.Stat(req.Path)
	if err != nil {
		return nil, kerrors.New(kerrors.KindSafetyViolation, op, req.Path, kerrors.StageValidate, err)
	}

	var files []string
	switch {
	case !info.IsDir():
		files = []string{req.Path}
	case req.Scope.Recursive:
		files, err = findFilesInDir(req.Path, req.Scope.Pattern, anyFile)
	default:
		files, err = listDir(req.Path)
	}
	if err != nil {
		return nil, kerrors.New(kerrors.KindSafetyViolation, op, req.Path, kerrors.StageValidate, err)
	}

	res := &Result{Operation: requests.OpStatus}
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return res, kerrors.New(kerrors.KindTimeout, op, req.Path, kerrors.StageValidate, err)
		}
		if isTemporary(filepath.Base(path)) {
			continue
		}
		fr := FileResult{Path: path, Bytes: fileSize(path), Status: StatusPlaintext}
		encrypted, armored, err := sniff(path)
		switch {
		case err != nil:
			fr.Status = StatusFailed
			fr.Error = err.Error()
		case encrypted:
			fr.Status = StatusEncrypted
			fr.Armored = armored
		}
		res.add(fr)
	}

	if e.audit.Enabled() && e.audit.Path != "" {
		entries, err := audit.ReadEntries(e.audit.Path)
		if err != nil {
			e.log.Warnf("Reading audit log: %v", err)
		} else if len(entries) > 0 {
			last := entries[len(entries)-1]
			res.LastOperation = &last
		}
	}
	return res, nil
}
