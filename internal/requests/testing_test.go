package requests

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	kerrors "github.com/PolarWolf314/cage/internal/errors"

	"golang.org/x/crypto/ssh"
)

// testAgeRecipient returns a well-formed X25519 recipient string.
func testAgeRecipient(fill byte) string {
	return "age1" + strings.Repeat(string(fill), 58)
}

// writeSSHKey writes an unencrypted ed25519 private key and returns its
// path and authorized-key line.
func writeSSHKey(t *testing.T) (string, string) {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}
	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		t.Fatalf("Failed to convert public key: %v", err)
	}
	block, err := ssh.MarshalPrivateKey(priv, "")
	if err != nil {
		t.Fatalf("Failed to marshal private key: %v", err)
	}

	path := filepath.Join(t.TempDir(), "id_ed25519")
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0600); err != nil {
		t.Fatalf("Failed to write private key: %v", err)
	}
	return path, strings.TrimSpace(string(ssh.MarshalAuthorizedKey(sshPub)))
}

func fieldOf(t *testing.T, err error) string {
	t.Helper()

	var e *kerrors.Error
	if !errors.As(err, &e) {
		t.Fatalf("Expected *errors.Error, got %T: %v", err, err)
	}
	return e.Field
}

func expectValidation(t *testing.T, err error, field string) {
	t.Helper()

	if err == nil {
		t.Fatalf("Expected validation error on %s, got nil", field)
	}
	if !errors.Is(err, kerrors.ErrRequestValidation) {
		t.Fatalf("Expected ErrRequestValidation, got %v", err)
	}
	if got := fieldOf(t, err); got != field {
		t.Errorf("Expected field %q, got %q (%v)", field, got, err)
	}
}
