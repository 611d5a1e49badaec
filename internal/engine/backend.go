package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/PolarWolf314/cage/internal/configs"
	kerrors "github.com/PolarWolf314/cage/internal/errors"
	"github.com/PolarWolf314/cage/internal/tty"
)

// Invocation is one call to the external toolchain. Exactly one of
// Recipients, IdentityFile and Passphrase is set.
type Invocation struct {
	Input  string
	Output string

	Recipients   []string
	IdentityFile string
	Passphrase   string

	// Armor asks for text-safe output when encrypting.
	Armor bool
}

// Backend produces ciphertext or plaintext at Invocation.Output.
type Backend interface {
	Name() string
	Path() string
	Version(ctx context.Context) (string, error)
	Encrypt(ctx context.Context, inv Invocation) error
	Decrypt(ctx context.Context, inv Invocation) error
}

// AgeBackend drives an age-compatible binary (age, rage). Passphrase mode
// needs a terminal, which TTY supplies.
type AgeBackend struct {
	name string
	path string
	tty  tty.Automator
}

func NewAgeBackend(resolved configs.ResolvedBackend, automator tty.Automator) *AgeBackend {
	return &AgeBackend{name: resolved.Name, path: resolved.Path, tty: automator}
}

func (b *AgeBackend) Name() string { return b.name }

func (b *AgeBackend) Path() string { return b.path }

func (b *AgeBackend) Version(ctx context.Context) (string, error) {
	cmd := exec.CommandContext(ctx, b.path, "--version")
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", b.failure(ctx, "version", b.path, err, out)
	}
	return strings.TrimSpace(string(out)), nil
}

// EncryptArgs returns the command line for inv, without the binary.
func EncryptArgs(inv Invocation) []string {
	args := []string{"--encrypt"}
	if inv.Armor {
		args = append(args, "--armor")
	}
	if inv.Passphrase != "" {
		args = append(args, "--passphrase")
	}
	for _, r := range inv.Recipients {
		args = append(args, "--recipient", r)
	}
	return append(args, "--output", inv.Output, inv.Input)
}

// DecryptArgs returns the command line for inv, without the binary.
func DecryptArgs(inv Invocation) []string {
	args := []string{"--decrypt"}
	if inv.IdentityFile != "" {
		args = append(args, "--identity", inv.IdentityFile)
	}
	return append(args, "--output", inv.Output, inv.Input)
}

func (b *AgeBackend) Encrypt(ctx context.Context, inv Invocation) error {
	return b.run(ctx, "encrypt", inv, EncryptArgs(inv))
}

func (b *AgeBackend) Decrypt(ctx context.Context, inv Invocation) error {
	return b.run(ctx, "decrypt", inv, DecryptArgs(inv))
}

func (b *AgeBackend) run(ctx context.Context, op string, inv Invocation, args []string) error {
	cmd := exec.CommandContext(ctx, b.path, args...)

	if inv.Passphrase != "" {
		if b.tty == nil {
			return &kerrors.Error{
				Kind:  kerrors.KindConfiguration,
				Op:    op,
				Path:  inv.Input,
				Stage: kerrors.StageBackend,
				Field: "behavior.tty_method",
				Err:   fmt.Errorf("%w: passphrase mode needs terminal automation", tty.ErrUnavailable),
			}
		}
		transcript, err := b.tty.Run(ctx, cmd, inv.Passphrase)
		if err != nil {
			return b.failure(ctx, op, inv.Input, err, transcript)
		}
		return nil
	}

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return b.failure(ctx, op, inv.Input, err, stderr.Bytes())
	}
	return nil
}

// failure classifies a failed run. A passed deadline is a timeout; anything
// else is the backend's fault and carries its diagnostic output.
func (b *AgeBackend) failure(ctx context.Context, op, path string, err error, output []byte) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return kerrors.New(kerrors.KindTimeout, op, path, kerrors.StageBackend, fmt.Errorf("%s: %w", b.name, ctxErr))
	}
	if errors.Is(err, tty.ErrUnavailable) {
		return kerrors.WithContext(kerrors.Configuration("behavior.tty_method", err), kerrors.KindConfiguration, op, path, kerrors.StageBackend)
	}
	msg := strings.TrimSpace(string(output))
	if msg == "" {
		return kerrors.New(kerrors.KindBackend, op, path, kerrors.StageBackend, fmt.Errorf("%s: %w", b.name, err))
	}
	return kerrors.New(kerrors.KindBackend, op, path, kerrors.StageBackend, fmt.Errorf("%s: %w: %s", b.name, err, msg))
}
