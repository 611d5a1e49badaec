package requests

import (
	"os"
	"slices"
	"strings"

	kerrors "github.com/PolarWolf314/cage/internal/errors"

	"golang.org/x/crypto/ssh"
)

// RotateRequest re-encrypts files from an old credential to a new one.
type RotateRequest struct {
	base

	Paths []string
	Scope Scope
	Old   Identity

	// Exactly one of NewPassphrase and NewRecipients is set.
	NewPassphrase Identity
	NewRecipients []Recipient

	// Atomic replaces each file through a backed-up in-place operation
	// instead of writing a sibling file and deleting the original.
	Atomic bool
}

func (r *RotateRequest) Targets() []string { return slices.Clone(r.Paths) }

type RotateBuilder struct {
	paths         []string
	scope         Scope
	old           []Identity
	newPassphrase *Identity
	newRecipients []Recipient
	parseErr      error
	atomic        bool
	opts          CommonOptions
}

func NewRotateBuilder(paths ...string) *RotateBuilder {
	return &RotateBuilder{paths: paths, atomic: true, opts: DefaultOptions()}
}

func (b *RotateBuilder) Recursive(recursive bool) *RotateBuilder {
	b.scope.Recursive = recursive
	return b
}

func (b *RotateBuilder) Pattern(pattern string) *RotateBuilder {
	b.scope.Pattern = pattern
	return b
}

func (b *RotateBuilder) OldPassphrase(passphrase string) *RotateBuilder {
	b.old = append(b.old, PassphraseIdentity(passphrase))
	return b
}

func (b *RotateBuilder) OldIdentity(id Identity) *RotateBuilder {
	b.old = append(b.old, id)
	return b
}

func (b *RotateBuilder) NewPassphrase(passphrase string) *RotateBuilder {
	id := PassphraseIdentity(passphrase)
	b.newPassphrase = &id
	return b
}

func (b *RotateBuilder) NewRecipients(recipients ...Recipient) *RotateBuilder {
	b.newRecipients = append(b.newRecipients, recipients...)
	return b
}

func (b *RotateBuilder) NewRecipientStrings(values ...string) *RotateBuilder {
	parsed, err := ParseRecipients(values)
	if err != nil {
		if b.parseErr == nil {
			b.parseErr = err
		}
		return b
	}
	return b.NewRecipients(parsed...)
}

func (b *RotateBuilder) Atomic(atomic bool) *RotateBuilder {
	b.atomic = atomic
	return b
}

func (b *RotateBuilder) Options(opts CommonOptions) *RotateBuilder {
	b.opts = opts
	return b
}

func (b *RotateBuilder) Build() (*RotateRequest, error) {
	const op = string(OpRotate)

	if len(b.paths) == 0 {
		return nil, kerrors.Validationf(op, "paths", "at least one path is required")
	}
	for _, p := range b.paths {
		if p == "" {
			return nil, kerrors.Validationf(op, "paths", "empty path")
		}
	}
	if b.parseErr != nil {
		return nil, kerrors.Validation(op, "new_recipients", b.parseErr)
	}

	switch len(b.old) {
	case 0:
		return nil, kerrors.Validationf(op, "old", "the current identity is required")
	case 1:
	default:
		return nil, kerrors.Validationf(op, "old", "only one current identity may be given")
	}
	old := b.old[0]
	if err := old.validate(); err != nil {
		return nil, kerrors.Validation(op, "old", err)
	}

	hasRecipients := len(b.newRecipients) > 0
	switch {
	case b.newPassphrase != nil && hasRecipients:
		return nil, kerrors.Validationf(op, "new", "a new passphrase and new recipients are mutually exclusive")
	case b.newPassphrase == nil && !hasRecipients:
		return nil, kerrors.Validationf(op, "new", "a new passphrase or new recipients are required")
	}
	if b.newPassphrase != nil {
		if err := b.newPassphrase.validate(); err != nil {
			return nil, kerrors.Validation(op, "new", err)
		}
		if b.newPassphrase.Equal(old) {
			return nil, kerrors.Validationf(op, "new", "new credential is identical to the current one")
		}
	}
	if hasRecipients && recipientsMatchIdentity(b.newRecipients, old) {
		return nil, kerrors.Validationf(op, "new", "new recipient is the public half of the current identity")
	}

	if err := validateScope(op, b.scope); err != nil {
		return nil, err
	}
	if err := b.opts.validate(OpRotate); err != nil {
		return nil, err
	}

	req := &RotateRequest{
		base:          newBase(OpRotate, b.opts),
		Paths:         slices.Clone(b.paths),
		Scope:         b.scope,
		Old:           old,
		NewRecipients: slices.Clone(b.newRecipients),
		Atomic:        b.atomic,
	}
	if b.newPassphrase != nil {
		req.NewPassphrase = *b.newPassphrase
	}
	return req, nil
}

func (b *RotateBuilder) inheritOptions(batch CommonOptions) {
	b.opts = b.opts.inherit(batch)
}

func (b *RotateBuilder) buildRequest() (Request, error) {
	req, err := b.Build()
	if err != nil {
		return nil, err
	}
	return req, nil
}

// recipientsMatchIdentity reports whether recipients is exactly the public
// key of an unencrypted SSH identity. Other identity kinds cannot be
// compared without the backend and are left to it.
func recipientsMatchIdentity(recipients []Recipient, id Identity) bool {
	if len(recipients) != 1 {
		return false
	}
	if id.kind != IdentitySSHEd25519 && id.kind != IdentitySSHRSA {
		return false
	}
	data, err := os.ReadFile(id.value)
	if err != nil {
		return false
	}
	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		return false
	}
	public := strings.TrimSpace(string(ssh.MarshalAuthorizedKey(signer.PublicKey())))
	return recipients[0].value == public
}
