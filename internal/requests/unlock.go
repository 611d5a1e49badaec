package requests

import (
	"strings"

	kerrors "github.com/PolarWolf314/cage/internal/errors"
)

// DecryptedExt is appended when an encrypted path has no recognised suffix.
const DecryptedExt = ".dec"

var encryptedSuffixes = []string{EncryptedExt, ".asc"}

// DecryptedPath strips a known encrypted suffix from path.
func DecryptedPath(path string) string {
	for _, suffix := range encryptedSuffixes {
		if trimmed, ok := strings.CutSuffix(path, suffix); ok && trimmed != "" {
			return trimmed
		}
	}
	return path + DecryptedExt
}

// UnlockRequest decrypts one file, or every matching file under a directory.
type UnlockRequest struct {
	base

	Input    string
	Output   string
	InPlace  bool
	Scope    Scope
	Identity Identity

	// Selective restricts a recursive unlock to files matching Scope.Pattern.
	Selective bool

	// PreserveEncrypted keeps the ciphertext after a successful unlock.
	PreserveEncrypted bool
}

func (r *UnlockRequest) Targets() []string { return []string{r.Input} }

type UnlockBuilder struct {
	input             string
	output            string
	inPlace           bool
	scope             Scope
	identities        []Identity
	selective         bool
	preserveEncrypted bool
	opts              CommonOptions
}

func NewUnlockBuilder(input string) *UnlockBuilder {
	return &UnlockBuilder{input: input, opts: DefaultOptions()}
}

func (b *UnlockBuilder) Output(path string) *UnlockBuilder {
	b.output = path
	return b
}

func (b *UnlockBuilder) InPlace(inPlace bool) *UnlockBuilder {
	b.inPlace = inPlace
	return b
}

func (b *UnlockBuilder) Recursive(recursive bool) *UnlockBuilder {
	b.scope.Recursive = recursive
	return b
}

func (b *UnlockBuilder) Pattern(pattern string) *UnlockBuilder {
	b.scope.Pattern = pattern
	return b
}

func (b *UnlockBuilder) Passphrase(passphrase string) *UnlockBuilder {
	b.identities = append(b.identities, PassphraseIdentity(passphrase))
	return b
}

func (b *UnlockBuilder) Identity(id Identity) *UnlockBuilder {
	b.identities = append(b.identities, id)
	return b
}

func (b *UnlockBuilder) Selective(selective bool) *UnlockBuilder {
	b.selective = selective
	return b
}

func (b *UnlockBuilder) PreserveEncrypted(preserve bool) *UnlockBuilder {
	b.preserveEncrypted = preserve
	return b
}

func (b *UnlockBuilder) Options(opts CommonOptions) *UnlockBuilder {
	b.opts = opts
	return b
}

func (b *UnlockBuilder) Build() (*UnlockRequest, error) {
	const op = string(OpUnlock)

	if b.input == "" {
		return nil, kerrors.Validationf(op, "input", "input path is required")
	}
	switch len(b.identities) {
	case 0:
		return nil, kerrors.Validationf(op, "identity", "a passphrase or key file identity is required")
	case 1:
	default:
		return nil, kerrors.Validationf(op, "identity", "passphrase and key file identities are mutually exclusive")
	}
	id := b.identities[0]
	if err := id.validate(); err != nil {
		return nil, kerrors.Validation(op, "identity", err)
	}

	if err := validateScope(op, b.scope); err != nil {
		return nil, err
	}
	if b.selective && b.scope.Pattern == "" {
		return nil, kerrors.Validationf(op, "selective", "selective unlock requires a pattern")
	}
	if b.preserveEncrypted && b.inPlace {
		return nil, kerrors.Validationf(op, "preserve_encrypted", "an in-place unlock replaces the ciphertext and cannot preserve it")
	}

	output, err := resolveOutput(op, b.input, b.output, b.inPlace, b.scope.Recursive, DecryptedPath)
	if err != nil {
		return nil, err
	}
	if err := b.opts.validate(OpUnlock); err != nil {
		return nil, err
	}

	return &UnlockRequest{
		base:              newBase(OpUnlock, b.opts),
		Input:             b.input,
		Output:            output,
		InPlace:           b.inPlace,
		Scope:             b.scope,
		Identity:          id,
		Selective:         b.selective,
		PreserveEncrypted: b.preserveEncrypted,
	}, nil
}

func (b *UnlockBuilder) inheritOptions(batch CommonOptions) {
	b.opts = b.opts.inherit(batch)
}

func (b *UnlockBuilder) buildRequest() (Request, error) {
	req, err := b.Build()
	if err != nil {
		return nil, err
	}
	return req, nil
}
