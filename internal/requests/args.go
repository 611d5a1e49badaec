package requests

import (
	"fmt"
	"os"
	"time"

	"github.com/PolarWolf314/cage/internal/configs"
	kerrors "github.com/PolarWolf314/cage/internal/errors"

	"github.com/BurntSushi/toml"
)

// Args is the parsed, untyped form of an operation as it arrives from the
// command line or a batch manifest.
type Args struct {
	Kind      string `toml:"kind"`
	Retryable bool   `toml:"retryable"`

	Input  string   `toml:"input"`
	Output string   `toml:"output"`
	Paths  []string `toml:"paths"`

	Recipients    []string `toml:"recipients"`
	Groups        []string `toml:"groups"`
	Tier          string   `toml:"tier"`
	Passphrase    string   `toml:"-"`
	PassphraseEnv string   `toml:"passphrase_env"`
	Identity      string   `toml:"identity"`

	NewPassphrase    string   `toml:"-"`
	NewPassphraseEnv string   `toml:"new_passphrase_env"`
	NewRecipients    []string `toml:"new_recipients"`

	InPlace           bool   `toml:"in_place"`
	Recursive         bool   `toml:"recursive"`
	Pattern           string `toml:"pattern"`
	Selective         bool   `toml:"selective"`
	PreserveEncrypted bool   `toml:"preserve_encrypted"`
	NonAtomic         bool   `toml:"non_atomic"`
	Deep              bool   `toml:"deep"`
	Format            string `toml:"format"`
	Report            string `toml:"report"`

	Force    bool          `toml:"force"`
	NoBackup bool          `toml:"no_backup"`
	NoAudit  bool          `toml:"no_audit"`
	DryRun   bool          `toml:"dry_run"`
	Timeout  time.Duration `toml:"timeout"`
}

func (a Args) options() CommonOptions {
	return CommonOptions{
		Force:   a.Force,
		Backup:  !a.NoBackup,
		Audit:   !a.NoAudit,
		DryRun:  a.DryRun,
		Timeout: a.Timeout,
	}
}

// FromArgs builds a typed request. Group names are resolved against cfg,
// which may be nil when no groups are referenced.
func FromArgs(kind OperationKind, args Args, cfg *configs.Config) (Request, error) {
	switch kind {
	case OpLock, OpUnlock, OpRotate:
		b, err := subBuilder(kind, args, cfg)
		if err != nil {
			return nil, err
		}
		return b.buildRequest()
	case OpVerify:
		b, err := verifyBuilder(args)
		if err != nil {
			return nil, err
		}
		req, err := b.Build()
		if err != nil {
			return nil, err
		}
		return req, nil
	case OpStatus:
		req, err := NewStatusBuilder(args.Input).
			Recursive(args.Recursive).
			Pattern(args.Pattern).
			Format(reportFormat(args.Report)).
			Options(args.options()).
			Build()
		if err != nil {
			return nil, err
		}
		return req, nil
	default:
		return nil, kerrors.Validationf(string(kind), "kind", "operation %q cannot be built from arguments", kind)
	}
}

func subBuilder(kind OperationKind, args Args, cfg *configs.Config) (SubOperation, error) {
	op := string(kind)
	switch kind {
	case OpLock:
		b := NewLockBuilder(args.Input).
			Output(args.Output).
			InPlace(args.InPlace).
			Recursive(args.Recursive).
			Pattern(args.Pattern).
			Format(configs.OutputFormat(args.Format)).
			Options(args.options())
		if args.Passphrase != "" {
			b.Passphrase(args.Passphrase)
		}
		if len(args.Recipients) > 0 {
			b.RecipientStrings(args.Recipients...)
		}
		if len(args.Groups) > 0 {
			multi, err := multiFromConfig(op, args.Groups, cfg)
			if err != nil {
				return nil, err
			}
			b.Multi(multi)
		}
		if args.Tier != "" {
			tier, err := ParseAuthorityTier(args.Tier)
			if err != nil {
				return nil, kerrors.Validation(op, "tier", err)
			}
			b.Tier(tier)
		}
		return b, nil

	case OpUnlock:
		b := NewUnlockBuilder(args.Input).
			Output(args.Output).
			InPlace(args.InPlace).
			Recursive(args.Recursive).
			Pattern(args.Pattern).
			Selective(args.Selective).
			PreserveEncrypted(args.PreserveEncrypted).
			Options(args.options())
		if args.Passphrase != "" {
			b.Passphrase(args.Passphrase)
		}
		if args.Identity != "" {
			id, err := DetectIdentity(args.Identity)
			if err != nil {
				return nil, kerrors.Validation(op, "identity", err)
			}
			b.Identity(id)
		}
		return b, nil

	case OpRotate:
		paths := args.Paths
		if len(paths) == 0 && args.Input != "" {
			paths = []string{args.Input}
		}
		b := NewRotateBuilder(paths...).
			Recursive(args.Recursive).
			Pattern(args.Pattern).
			Atomic(!args.NonAtomic).
			Options(args.options())
		if args.Passphrase != "" {
			b.OldPassphrase(args.Passphrase)
		}
		if args.Identity != "" {
			id, err := DetectIdentity(args.Identity)
			if err != nil {
				return nil, kerrors.Validation(op, "old", err)
			}
			b.OldIdentity(id)
		}
		if args.NewPassphrase != "" {
			b.NewPassphrase(args.NewPassphrase)
		}
		if len(args.NewRecipients) > 0 {
			b.NewRecipientStrings(args.NewRecipients...)
		}
		return b, nil
	}
	return nil, kerrors.Validationf(op, "kind", "operation %q cannot appear in a batch", kind)
}

func verifyBuilder(args Args) (*VerifyBuilder, error) {
	paths := args.Paths
	if len(paths) == 0 && args.Input != "" {
		paths = []string{args.Input}
	}
	b := NewVerifyBuilder(paths...).
		Recursive(args.Recursive).
		Pattern(args.Pattern).
		Deep(args.Deep).
		Format(reportFormat(args.Report)).
		Options(args.options())
	switch {
	case args.Identity != "":
		id, err := DetectIdentity(args.Identity)
		if err != nil {
			return nil, kerrors.Validation(string(OpVerify), "identity", err)
		}
		b.Identity(id)
	case args.Passphrase != "":
		b.Identity(PassphraseIdentity(args.Passphrase))
	}
	return b, nil
}

func reportFormat(s string) ReportFormat {
	if s == "" {
		return ReportText
	}
	return ReportFormat(s)
}

func multiFromConfig(op string, names []string, cfg *configs.Config) (*MultiRecipientConfig, error) {
	if cfg == nil {
		return nil, kerrors.Validationf(op, "groups", "recipient groups need a configuration")
	}
	multi := &MultiRecipientConfig{ValidateAuthority: true, EnforceHierarchy: true}
	for _, name := range names {
		group, ok := cfg.RecipientGroup(name)
		if !ok {
			return nil, kerrors.Validation(op, "groups", fmt.Errorf("%w: %s", kerrors.ErrGroupNotFound, name))
		}
		g, err := GroupFromConfig(name, group)
		if err != nil {
			return nil, kerrors.Validation(op, "groups", err)
		}
		multi.Groups = append(multi.Groups, g)
	}
	return multi, nil
}

// Manifest is a batch file: a list of [[operation]] tables plus batch-wide settings.
type Manifest struct {
	StopOnError bool   `toml:"stop_on_error"`
	Operations  []Args `toml:"operation"`
}

// LoadManifest reads a batch manifest and builds the batch request.
// Passphrases are read from the environment variables the manifest names.
func LoadManifest(path string, cfg *configs.Config, opts CommonOptions) (*BatchRequest, error) {
	var manifest Manifest
	meta, err := toml.DecodeFile(path, &manifest)
	if err != nil {
		return nil, kerrors.Validation(string(OpBatch), "manifest", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, kerrors.Validationf(string(OpBatch), "manifest", "unknown key %q", undecoded[0].String())
	}
	return manifest.Build(cfg, opts, os.LookupEnv)
}

// Build converts the manifest into a batch request.
func (m Manifest) Build(cfg *configs.Config, opts CommonOptions, lookupEnv func(string) (string, bool)) (*BatchRequest, error) {
	batch := NewBatchBuilder().StopOnError(m.StopOnError).Options(opts)
	for i, args := range m.Operations {
		field := fmt.Sprintf("operations[%d]", i)
		kind, err := ParseOperationKind(args.Kind)
		if err != nil {
			return nil, kerrors.Validation(string(OpBatch), field+".kind", err)
		}
		if args.PassphraseEnv != "" {
			value, ok := lookupEnv(args.PassphraseEnv)
			if !ok {
				return nil, kerrors.Validationf(string(OpBatch), field+".passphrase_env", "environment variable %s is not set", args.PassphraseEnv)
			}
			args.Passphrase = value
		}
		if args.NewPassphraseEnv != "" {
			value, ok := lookupEnv(args.NewPassphraseEnv)
			if !ok {
				return nil, kerrors.Validationf(string(OpBatch), field+".new_passphrase_env", "environment variable %s is not set", args.NewPassphraseEnv)
			}
			args.NewPassphrase = value
		}
		sub, err := subBuilder(kind, args, cfg)
		if err != nil {
			return nil, nestedValidation(string(OpBatch), i, err)
		}
		batch.Add(sub, args.Retryable)
	}
	return batch.Build()
}
