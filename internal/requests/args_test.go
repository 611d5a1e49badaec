package requests

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/PolarWolf314/cage/internal/configs"
	kerrors "github.com/PolarWolf314/cage/internal/errors"
)

func TestFromArgsLockResolvesGroups(t *testing.T) {
	cfg := configs.Default()
	if err := cfg.AddRecipientGroup("devs", configs.RecipientGroupConfig{
		Tier:       "standard",
		Recipients: []string{testAgeRecipient('q')},
	}); err != nil {
		t.Fatalf("AddRecipientGroup failed: %v", err)
	}

	req, err := FromArgs(OpLock, Args{Input: "app.env", Groups: []string{"devs"}, Tier: "elevated"}, cfg)
	if err != nil {
		t.Fatalf("FromArgs failed: %v", err)
	}
	lock := req.(*LockRequest)
	if lock.Multi == nil || len(lock.Multi.Groups) != 1 {
		t.Fatalf("Expected one resolved group, got %+v", lock.Multi)
	}
	if lock.Tier != TierElevated {
		t.Errorf("Expected elevated tier, got %s", lock.Tier)
	}
	if !lock.Common().Backup || !lock.Common().Audit {
		t.Error("Expected backup and audit on by default")
	}

	_, err = FromArgs(OpLock, Args{Input: "app.env", Groups: []string{"missing"}}, cfg)
	if !errors.Is(err, kerrors.ErrGroupNotFound) {
		t.Errorf("Expected ErrGroupNotFound, got %v", err)
	}
}

func TestFromArgsRejectsBatchKind(t *testing.T) {
	req, err := FromArgs(OpBatch, Args{}, nil)
	if req != nil {
		t.Errorf("Expected nil request, got %v", req)
	}
	expectValidation(t, err, "kind")
}

func TestFromArgsInvalidReturnsNilInterface(t *testing.T) {
	req, err := FromArgs(OpUnlock, Args{Input: "x.age"}, nil)
	if err == nil {
		t.Fatal("Expected error")
	}
	if req != nil {
		t.Errorf("Expected untyped nil request, got %#v", req)
	}
}

func TestLoadManifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "batch.toml")
	manifest := `
stop_on_error = true

[[operation]]
kind = "lock"
input = "a.env"
recipients = ["` + testAgeRecipient('q') + `"]

[[operation]]
kind = "unlock"
input = "b.env.age"
passphrase_env = "CAGE_TEST_BATCH_PASS"
preserve_encrypted = true
retryable = true
timeout = "45s"
`
	if err := os.WriteFile(path, []byte(manifest), 0600); err != nil {
		t.Fatalf("Failed to write manifest: %v", err)
	}
	t.Setenv("CAGE_TEST_BATCH_PASS", "from-env")

	batch, err := LoadManifest(path, configs.Default(), DefaultOptions())
	if err != nil {
		t.Fatalf("LoadManifest failed: %v", err)
	}
	if !batch.StopOnError || len(batch.Entries) != 2 {
		t.Fatalf("Unexpected batch: %+v", batch)
	}

	unlock, ok := batch.Entries[1].Request.(*UnlockRequest)
	if !ok {
		t.Fatalf("Expected unlock request, got %T", batch.Entries[1].Request)
	}
	if unlock.Identity.Passphrase() != "from-env" {
		t.Error("Expected passphrase from environment")
	}
	if !batch.Entries[1].Retryable || batch.Entries[0].Retryable {
		t.Error("Retryable flags not carried")
	}
	if unlock.Common().Timeout != 45*time.Second {
		t.Errorf("Expected 45s timeout, got %s", unlock.Common().Timeout)
	}
}

func TestManifestMissingPassphraseEnv(t *testing.T) {
	m := Manifest{Operations: []Args{{Kind: "unlock", Input: "x.age", PassphraseEnv: "NOPE"}}}
	_, err := m.Build(nil, DefaultOptions(), func(string) (string, bool) { return "", false })
	expectValidation(t, err, "operations[0].passphrase_env")
}

func TestManifestRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "batch.toml")
	if err := os.WriteFile(path, []byte("[[operation]]\nkind = \"lock\"\nturbo = true\n"), 0600); err != nil {
		t.Fatalf("Failed to write manifest: %v", err)
	}
	_, err := LoadManifest(path, nil, DefaultOptions())
	expectValidation(t, err, "manifest")
}
