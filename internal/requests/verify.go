package requests

import (
	"slices"

	kerrors "github.com/PolarWolf314/cage/internal/errors"
)

// VerifyRequest checks that files are well-formed ciphertext. DeepVerify
// additionally decrypts each file to prove the identity can open it.
type VerifyRequest struct {
	base

	Paths      []string
	Scope      Scope
	DeepVerify bool
	Identity   Identity
	Format     ReportFormat
}

func (r *VerifyRequest) Targets() []string { return slices.Clone(r.Paths) }

type VerifyBuilder struct {
	paths    []string
	scope    Scope
	deep     bool
	identity *Identity
	format   ReportFormat
	opts     CommonOptions
}

func NewVerifyBuilder(paths ...string) *VerifyBuilder {
	return &VerifyBuilder{paths: paths, format: ReportText, opts: DefaultOptions()}
}

func (b *VerifyBuilder) Recursive(recursive bool) *VerifyBuilder {
	b.scope.Recursive = recursive
	return b
}

func (b *VerifyBuilder) Pattern(pattern string) *VerifyBuilder {
	b.scope.Pattern = pattern
	return b
}

func (b *VerifyBuilder) Deep(deep bool) *VerifyBuilder {
	b.deep = deep
	return b
}

func (b *VerifyBuilder) Identity(id Identity) *VerifyBuilder {
	b.identity = &id
	return b
}

func (b *VerifyBuilder) Format(format ReportFormat) *VerifyBuilder {
	b.format = format
	return b
}

func (b *VerifyBuilder) Options(opts CommonOptions) *VerifyBuilder {
	b.opts = opts
	return b
}

func (b *VerifyBuilder) Build() (*VerifyRequest, error) {
	const op = string(OpVerify)

	if len(b.paths) == 0 {
		return nil, kerrors.Validationf(op, "paths", "at least one path is required")
	}
	if slices.Contains(b.paths, "") {
		return nil, kerrors.Validationf(op, "paths", "empty path")
	}
	if b.deep && b.identity == nil {
		return nil, kerrors.Validationf(op, "identity", "deep verification requires an identity")
	}
	if b.identity != nil {
		if err := b.identity.validate(); err != nil {
			return nil, kerrors.Validation(op, "identity", err)
		}
	}
	if err := validateScope(op, b.scope); err != nil {
		return nil, err
	}
	if !b.format.valid() {
		return nil, kerrors.Validationf(op, "format", "unknown report format %q", b.format)
	}
	if err := b.opts.validate(OpVerify); err != nil {
		return nil, err
	}

	req := &VerifyRequest{
		base:       newBase(OpVerify, b.opts),
		Paths:      slices.Clone(b.paths),
		Scope:      b.scope,
		DeepVerify: b.deep,
		Format:     b.format,
	}
	if b.identity != nil {
		req.Identity = *b.identity
	}
	return req, nil
}

// StatusRequest reports which files under a path are encrypted.
type StatusRequest struct {
	base

	Path   string
	Scope  Scope
	Format ReportFormat
}

func (r *StatusRequest) Targets() []string { return []string{r.Path} }

type StatusBuilder struct {
	path   string
	scope  Scope
	format ReportFormat
	opts   CommonOptions
}

// NewStatusBuilder reports on path, or the working directory when empty.
func NewStatusBuilder(path string) *StatusBuilder {
	if path == "" {
		path = "."
	}
	return &StatusBuilder{path: path, format: ReportText, opts: DefaultOptions()}
}

func (b *StatusBuilder) Recursive(recursive bool) *StatusBuilder {
	b.scope.Recursive = recursive
	return b
}

func (b *StatusBuilder) Pattern(pattern string) *StatusBuilder {
	b.scope.Pattern = pattern
	return b
}

func (b *StatusBuilder) Format(format ReportFormat) *StatusBuilder {
	b.format = format
	return b
}

func (b *StatusBuilder) Options(opts CommonOptions) *StatusBuilder {
	b.opts = opts
	return b
}

func (b *StatusBuilder) Build() (*StatusRequest, error) {
	const op = string(OpStatus)

	if err := validateScope(op, b.scope); err != nil {
		return nil, err
	}
	if !b.format.valid() {
		return nil, kerrors.Validationf(op, "format", "unknown report format %q", b.format)
	}
	if err := b.opts.validate(OpStatus); err != nil {
		return nil, err
	}
	return &StatusRequest{
		base:   newBase(OpStatus, b.opts),
		Path:   b.path,
		Scope:  b.scope,
		Format: b.format,
	}, nil
}
