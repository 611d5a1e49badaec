package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PolarWolf314/cage/internal/audit"
	"github.com/PolarWolf314/cage/internal/configs"
	kerrors "github.com/PolarWolf314/cage/internal/errors"
)

// fakeBackend stands in for age. Ciphertext is the age header, one line
// naming the credential, then the plaintext. Decryption succeeds when the
// passphrase, or the contents of the identity file, names that credential.
type fakeBackend struct {
	mu sync.Mutex

	encryptErr error
	decryptErr error
	versionErr error

	// transient failures returned as retryable backend errors before
	// calls start succeeding.
	transient int

	// delay makes each call wait, honouring cancellation.
	delay time.Duration

	encrypts []Invocation
	decrypts []Invocation
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) Path() string { return "/usr/bin/fake" }

func (f *fakeBackend) Version(context.Context) (string, error) {
	if f.versionErr != nil {
		return "", f.versionErr
	}
	return "v1.0.0", nil
}

func (f *fakeBackend) Encrypt(ctx context.Context, inv Invocation) error {
	f.mu.Lock()
	f.encrypts = append(f.encrypts, inv)
	f.mu.Unlock()

	if err := f.before(ctx, "encrypt", inv); err != nil {
		return err
	}
	if f.encryptErr != nil {
		return kerrors.New(kerrors.KindBackend, "encrypt", inv.Input, kerrors.StageBackend, f.encryptErr)
	}

	data, err := os.ReadFile(inv.Input)
	if err != nil {
		return err
	}
	header := binaryHeader
	if inv.Armor {
		header = armorHeader
	}
	credential := inv.Passphrase
	if credential == "" {
		credential = strings.Join(inv.Recipients, ",")
	}
	out := fmt.Sprintf("%s\n-> %s\n%s", header, credential, data)
	return os.WriteFile(inv.Output, []byte(out), 0o600)
}

func (f *fakeBackend) Decrypt(ctx context.Context, inv Invocation) error {
	f.mu.Lock()
	f.decrypts = append(f.decrypts, inv)
	f.mu.Unlock()

	if err := f.before(ctx, "decrypt", inv); err != nil {
		return err
	}
	if f.decryptErr != nil {
		return kerrors.New(kerrors.KindBackend, "decrypt", inv.Input, kerrors.StageBackend, f.decryptErr)
	}

	data, err := os.ReadFile(inv.Input)
	if err != nil {
		return err
	}
	parts := strings.SplitN(string(data), "\n", 3)
	if len(parts) < 3 || (parts[0] != binaryHeader && parts[0] != armorHeader) {
		return kerrors.New(kerrors.KindBackend, "decrypt", inv.Input, kerrors.StageBackend, errors.New("not an age file"))
	}

	key := inv.Passphrase
	if inv.IdentityFile != "" {
		raw, err := os.ReadFile(inv.IdentityFile)
		if err != nil {
			return err
		}
		key = strings.TrimSpace(string(raw))
	}
	credentials := strings.Split(strings.TrimPrefix(parts[1], "-> "), ",")
	for _, c := range credentials {
		if c == key {
			return os.WriteFile(inv.Output, []byte(parts[2]), 0o600)
		}
	}
	return kerrors.New(kerrors.KindBackend, "decrypt", inv.Input, kerrors.StageBackend, errors.New("no identity matched any of the recipients"))
}

func (f *fakeBackend) before(ctx context.Context, op string, inv Invocation) error {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return kerrors.New(kerrors.KindTimeout, op, inv.Input, kerrors.StageBackend, ctx.Err())
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.transient > 0 {
		f.transient--
		return kerrors.New(kerrors.KindBackend, op, inv.Input, kerrors.StageBackend, errors.New("resource temporarily unavailable"))
	}
	return nil
}

func (f *fakeBackend) encryptCalls() []Invocation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Invocation(nil), f.encrypts...)
}

func (f *fakeBackend) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.encrypts) + len(f.decrypts)
}

// fakeCiphertext is what fakeBackend produces for plaintext and credential.
func fakeCiphertext(credential, plaintext string) string {
	return binaryHeader + "\n-> " + credential + "\n" + plaintext
}

// testRecipient returns a well-formed age X25519 recipient.
func testRecipient(fill byte) string {
	return "age1" + strings.Repeat(string(fill), 58)
}

// newTestConfig returns a validated configuration rooted in a temp dir,
// with an executable file standing in for the backend binary.
func newTestConfig(t *testing.T, mutate ...func(*configs.Config)) *configs.Config {
	t.Helper()

	dir := t.TempDir()
	bin := filepath.Join(dir, "age")
	if err := os.WriteFile(bin, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatalf("Failed to write fake backend binary: %v", err)
	}

	cfg := configs.Default()
	cfg.Paths.BackendBinary = bin
	cfg.Paths.BackupDir = filepath.Join(dir, "backups")
	cfg.Paths.AuditLog = filepath.Join(dir, "audit.log")
	for _, m := range mutate {
		m(cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Test config does not validate: %v", err)
	}
	return cfg
}

// newTestEngine builds an engine on fake with plenty of free space.
func newTestEngine(t *testing.T, cfg *configs.Config, fake *fakeBackend) *Engine {
	t.Helper()

	e, err := New(cfg,
		WithBackend(fake),
		WithFreeSpace(func(string) (uint64, error) { return 1 << 30, nil }),
	)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return e
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		t.Fatalf("Failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write %s: %v", path, err)
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read %s: %v", path, err)
	}
	return string(data)
}

func auditEntries(t *testing.T, cfg *configs.Config) []audit.Entry {
	t.Helper()
	entries, err := audit.ReadEntries(cfg.Paths.AuditLog)
	if err != nil {
		t.Fatalf("Failed to read audit log: %v", err)
	}
	return entries
}

func backupCount(t *testing.T, e *Engine, target string) int {
	t.Helper()
	backups, err := e.Backups().ListBackups(target)
	if err != nil {
		t.Fatalf("ListBackups failed: %v", err)
	}
	return len(backups)
}

func hasPrefixLine(s, prefix string) bool {
	return bytes.HasPrefix([]byte(s), []byte(prefix))
}
