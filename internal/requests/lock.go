package requests

import (
	"fmt"
	"path/filepath"
	"slices"

	"github.com/PolarWolf314/cage/internal/configs"
	kerrors "github.com/PolarWolf314/cage/internal/errors"

	"github.com/bmatcuk/doublestar/v4"
)

// EncryptedExt is appended to plaintext paths when no output is given.
const EncryptedExt = ".age"

// LockRequest encrypts one file, or every matching file under a directory.
type LockRequest struct {
	base

	Input   string
	Output  string
	InPlace bool
	Scope   Scope

	// Exactly one credential source is set.
	Passphrase Identity
	Recipients []Recipient
	Multi      *MultiRecipientConfig

	// Tier is the authority tier of this encryption. With hierarchy
	// enforcement only recipients at or below it are included.
	Tier   AuthorityTier
	Format configs.OutputFormat
}

func (r *LockRequest) Targets() []string { return []string{r.Input} }

// LockBuilder accumulates lock settings. Violations are reported by Build.
type LockBuilder struct {
	input      string
	output     string
	inPlace    bool
	scope      Scope
	passphrase *Identity
	recipients []Recipient
	parseErr   error
	multi      *MultiRecipientConfig
	tier       AuthorityTier
	format     configs.OutputFormat
	opts       CommonOptions
}

func NewLockBuilder(input string) *LockBuilder {
	return &LockBuilder{input: input, tier: TierStandard, opts: DefaultOptions()}
}

func (b *LockBuilder) Output(path string) *LockBuilder {
	b.output = path
	return b
}

func (b *LockBuilder) InPlace(inPlace bool) *LockBuilder {
	b.inPlace = inPlace
	return b
}

func (b *LockBuilder) Recursive(recursive bool) *LockBuilder {
	b.scope.Recursive = recursive
	return b
}

func (b *LockBuilder) Pattern(pattern string) *LockBuilder {
	b.scope.Pattern = pattern
	return b
}

func (b *LockBuilder) Passphrase(passphrase string) *LockBuilder {
	id := PassphraseIdentity(passphrase)
	b.passphrase = &id
	return b
}

func (b *LockBuilder) Recipients(recipients ...Recipient) *LockBuilder {
	b.recipients = append(b.recipients, recipients...)
	return b
}

// RecipientStrings parses and adds recipients. A parse failure is reported by Build.
func (b *LockBuilder) RecipientStrings(values ...string) *LockBuilder {
	parsed, err := ParseRecipients(values)
	if err != nil {
		if b.parseErr == nil {
			b.parseErr = err
		}
		return b
	}
	return b.Recipients(parsed...)
}

func (b *LockBuilder) Multi(multi *MultiRecipientConfig) *LockBuilder {
	b.multi = multi
	return b
}

func (b *LockBuilder) Tier(tier AuthorityTier) *LockBuilder {
	b.tier = tier
	return b
}

func (b *LockBuilder) Format(format configs.OutputFormat) *LockBuilder {
	b.format = format
	return b
}

func (b *LockBuilder) Options(opts CommonOptions) *LockBuilder {
	b.opts = opts
	return b
}

// Build validates the accumulated settings and returns the first violation.
func (b *LockBuilder) Build() (*LockRequest, error) {
	const op = string(OpLock)

	if b.input == "" {
		return nil, kerrors.Validationf(op, "input", "input path is required")
	}
	if b.parseErr != nil {
		return nil, kerrors.Validation(op, "recipients", b.parseErr)
	}

	hasRecipients := len(b.recipients) > 0
	hasMulti := b.multi != nil
	switch {
	case b.passphrase != nil && (hasRecipients || hasMulti):
		return nil, kerrors.Validationf(op, "passphrase", "a passphrase identity and recipients are mutually exclusive")
	case hasRecipients && hasMulti:
		return nil, kerrors.Validationf(op, "recipients", "recipients and a multi-recipient config are mutually exclusive")
	case b.passphrase == nil && !hasRecipients && !hasMulti:
		return nil, kerrors.Validationf(op, "recipients", "one of passphrase, recipients or multi-recipient config is required")
	}
	if b.passphrase != nil {
		if err := b.passphrase.validate(); err != nil {
			return nil, kerrors.Validation(op, "passphrase", err)
		}
	}
	if hasMulti {
		if err := b.multi.Validate(); err != nil {
			return nil, kerrors.Validation(op, "multi", err)
		}
	}
	for i, r := range b.recipients {
		if slices.ContainsFunc(b.recipients[:i], r.Equal) {
			return nil, kerrors.Validation(op, "recipients", fmt.Errorf("%w: %s", kerrors.ErrDuplicateRecipient, r))
		}
	}

	if err := validateScope(op, b.scope); err != nil {
		return nil, err
	}

	output, err := resolveOutput(op, b.input, b.output, b.inPlace, b.scope.Recursive, func(in string) string {
		return in + EncryptedExt
	})
	if err != nil {
		return nil, err
	}

	if !b.tier.valid() {
		return nil, kerrors.Validationf(op, "tier", "invalid authority tier %d", b.tier)
	}
	if err := validateFormat(op, b.format); err != nil {
		return nil, err
	}
	if err := b.opts.validate(OpLock); err != nil {
		return nil, err
	}

	req := &LockRequest{
		base:       newBase(OpLock, b.opts),
		Input:      b.input,
		Output:     output,
		InPlace:    b.inPlace,
		Scope:      b.scope,
		Recipients: slices.Clone(b.recipients),
		Multi:      b.multi,
		Tier:       b.tier,
		Format:     b.format,
	}
	if b.passphrase != nil {
		req.Passphrase = *b.passphrase
	}
	return req, nil
}

func (b *LockBuilder) inheritOptions(batch CommonOptions) {
	b.opts = b.opts.inherit(batch)
}

func (b *LockBuilder) buildRequest() (Request, error) {
	req, err := b.Build()
	if err != nil {
		return nil, err
	}
	return req, nil
}

func validateScope(op string, scope Scope) error {
	if scope.Pattern == "" {
		return nil
	}
	if !scope.Recursive {
		return kerrors.Validationf(op, "pattern", "pattern %q requires recursive", scope.Pattern)
	}
	if !doublestar.ValidatePattern(scope.Pattern) {
		return kerrors.Validationf(op, "pattern", "malformed pattern %q", scope.Pattern)
	}
	return nil
}

func validateFormat(op string, format configs.OutputFormat) error {
	switch format {
	case "", configs.FormatBinary, configs.FormatArmor, configs.FormatAuto:
		return nil
	default:
		return kerrors.Validationf(op, "format", "unknown output format %q", format)
	}
}

// resolveOutput applies the output path rules shared by lock and unlock.
// Recursive requests derive outputs per file and so take none.
func resolveOutput(op, input, output string, inPlace, recursive bool, derive func(string) string) (string, error) {
	if recursive {
		if output != "" {
			return "", kerrors.Validationf(op, "output", "output cannot be set for a recursive request")
		}
		return "", nil
	}

	same := output != "" && filepath.Clean(output) == filepath.Clean(input)
	switch {
	case inPlace && output != "" && !same:
		return "", kerrors.Validationf(op, "output", "in-place request cannot name a different output %s", output)
	case inPlace:
		return input, nil
	case same:
		return "", kerrors.Validationf(op, "output", "output equals input; set in-place to replace %s", input)
	case output == "":
		return derive(input), nil
	default:
		return output, nil
	}
}
