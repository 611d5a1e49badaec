package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/PolarWolf314/cage/internal/configs"
	kerrors "github.com/PolarWolf314/cage/internal/errors"
	"github.com/PolarWolf314/cage/internal/requests"
)

func TestNew_RequiresValidatedConfig(t *testing.T) {
	_, err := New(configs.Default())
	if err == nil {
		t.Fatal("Expected an error for an unvalidated config")
	}
	if !errors.Is(err, kerrors.ErrConfigNotValidated) {
		t.Errorf("Expected ErrConfigNotValidated, got: %v", err)
	}
	if kerrors.KindOf(err) != kerrors.KindConfiguration {
		t.Errorf("Expected configuration kind, got %s", kerrors.KindOf(err))
	}

	if _, err := New(nil); !errors.Is(err, kerrors.ErrConfigNotValidated) {
		t.Errorf("Expected ErrConfigNotValidated for nil config, got: %v", err)
	}
}

func TestEncrypt_ToNewFile(t *testing.T) {
	cfg := newTestConfig(t)
	fake := &fakeBackend{}
	e := newTestEngine(t, cfg, fake)

	src := filepath.Join(t.TempDir(), ".env")
	writeFile(t, src, "API_KEY=secret\n")
	recipient := testRecipient('q')

	req, err := requests.NewLockBuilder(src).RecipientStrings(recipient).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	res, err := e.Encrypt(context.Background(), req)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	if got := readFile(t, src+".age"); got != fakeCiphertext(recipient, "API_KEY=secret\n") {
		t.Errorf("Unexpected ciphertext: %q", got)
	}
	if got := readFile(t, src); got != "API_KEY=secret\n" {
		t.Errorf("Plaintext should be kept, got %q", got)
	}
	if res.Count(StatusLocked) != 1 || res.Backend != "fake" {
		t.Errorf("Unexpected result: %+v", res)
	}
	if res.Files[0].Armored {
		t.Error("A .age output should be binary under the auto format")
	}
	if outputs := res.Outputs(); len(outputs) != 1 || outputs[0] != src+".age" {
		t.Errorf("Unexpected outputs: %v", outputs)
	}

	entries := auditEntries(t, cfg)
	if len(entries) != 1 {
		t.Fatalf("Expected 1 audit entry, got %d", len(entries))
	}
	if entries[0].Operation != "lock" || entries[0].Outcome != "ok" || entries[0].Files != 1 || entries[0].Backend != "fake" {
		t.Errorf("Unexpected audit entry: %+v", entries[0])
	}
}

func TestEncrypt_ArmorFormat(t *testing.T) {
	e := newTestEngine(t, newTestConfig(t), &fakeBackend{})

	src := filepath.Join(t.TempDir(), "notes.txt")
	writeFile(t, src, "hello")

	req, err := requests.NewLockBuilder(src).
		Output(src + ".asc").
		Passphrase("correct horse").
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	res, err := e.Encrypt(context.Background(), req)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if !res.Files[0].Armored {
		t.Error("An .asc output should be armored under the auto format")
	}
	if !hasPrefixLine(readFile(t, src+".asc"), armorHeader) {
		t.Error("Expected an armored header")
	}
}

func TestEncrypt_ExistingOutputNeedsForce(t *testing.T) {
	e := newTestEngine(t, newTestConfig(t), &fakeBackend{})

	dir := t.TempDir()
	src := filepath.Join(dir, "secrets.env")
	writeFile(t, src, "new")
	writeFile(t, src+".age", "existing")

	req, _ := requests.NewLockBuilder(src).Passphrase("pw").Build()
	_, err := e.Encrypt(context.Background(), req)
	if !errors.Is(err, kerrors.ErrOutputExists) || !errors.Is(err, kerrors.ErrSafetyViolation) {
		t.Fatalf("Expected an output-exists safety violation, got: %v", err)
	}
	if got := readFile(t, src+".age"); got != "existing" {
		t.Errorf("Existing output was modified: %q", got)
	}

	opts := requests.DefaultOptions()
	opts.Force = true
	req, _ = requests.NewLockBuilder(src).Passphrase("pw").Options(opts).Build()
	if _, err := e.Encrypt(context.Background(), req); err != nil {
		t.Fatalf("Forced encrypt failed: %v", err)
	}
	if got := readFile(t, src+".age"); got != fakeCiphertext("pw", "new") {
		t.Errorf("Forced encrypt did not replace output: %q", got)
	}
}

func TestEncrypt_RequestIsSingleUse(t *testing.T) {
	e := newTestEngine(t, newTestConfig(t), &fakeBackend{})

	src := filepath.Join(t.TempDir(), "a.env")
	writeFile(t, src, "x")
	req, _ := requests.NewLockBuilder(src).Passphrase("pw").Build()

	if _, err := e.Encrypt(context.Background(), req); err != nil {
		t.Fatalf("First Encrypt failed: %v", err)
	}
	_, err := e.Encrypt(context.Background(), req)
	if !errors.Is(err, kerrors.ErrOperationConsumed) {
		t.Errorf("Expected ErrOperationConsumed, got: %v", err)
	}
}

func TestEncrypt_InPlaceKeepsBackup(t *testing.T) {
	cfg := newTestConfig(t)
	e := newTestEngine(t, cfg, &fakeBackend{})

	src := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, src, "password: hunter2\n")

	req, _ := requests.NewLockBuilder(src).InPlace(true).Passphrase("pw").Build()
	res, err := e.Encrypt(context.Background(), req)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	if got := readFile(t, src); got != fakeCiphertext("pw", "password: hunter2\n") {
		t.Errorf("File was not encrypted in place: %q", got)
	}
	if res.Files[0].Backup == "" {
		t.Fatal("Expected the backup path in the result")
	}
	if got := readFile(t, res.Files[0].Backup); got != "password: hunter2\n" {
		t.Errorf("Backup does not hold the original: %q", got)
	}

	info, err := os.Stat(src)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("Expected mode 0600 to be kept, got %o", info.Mode().Perm())
	}
}

func TestEncrypt_RetentionKeepLast(t *testing.T) {
	cfg := newTestConfig(t, func(c *configs.Config) {
		c.Behavior.Retention = configs.RetentionConfig{Policy: configs.RetentionKeepLast, Count: 2}
	})
	e := newTestEngine(t, cfg, &fakeBackend{})

	src := filepath.Join(t.TempDir(), "data.json")
	writeFile(t, src, "{}")

	for i := 0; i < 3; i++ {
		req, _ := requests.NewLockBuilder(src).InPlace(true).Passphrase("pw").Build()
		if _, err := e.Encrypt(context.Background(), req); err != nil {
			t.Fatalf("Encrypt %d failed: %v", i, err)
		}
	}

	if n := backupCount(t, e, src); n != 2 {
		t.Errorf("Expected 2 backups to survive, got %d", n)
	}
}

func TestEncrypt_RetentionDisabled(t *testing.T) {
	cfg := newTestConfig(t, func(c *configs.Config) {
		c.Behavior.Retention = configs.RetentionConfig{Policy: configs.RetentionDisabled}
	})
	e := newTestEngine(t, cfg, &fakeBackend{})

	src := filepath.Join(t.TempDir(), "data.json")
	writeFile(t, src, "{}")

	req, _ := requests.NewLockBuilder(src).InPlace(true).Passphrase("pw").Build()
	res, err := e.Encrypt(context.Background(), req)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if res.Files[0].Backup != "" {
		t.Errorf("Expected no surviving backup, got %s", res.Files[0].Backup)
	}
	if n := backupCount(t, e, src); n != 0 {
		t.Errorf("Expected backups to be removed, got %d", n)
	}
}

func TestEncrypt_DryRunTouchesNothing(t *testing.T) {
	cfg := newTestConfig(t)
	fake := &fakeBackend{}
	e := newTestEngine(t, cfg, fake)

	src := filepath.Join(t.TempDir(), "a.env")
	writeFile(t, src, "plain")

	opts := requests.DefaultOptions()
	opts.DryRun = true
	req, _ := requests.NewLockBuilder(src).InPlace(true).Passphrase("pw").Options(opts).Build()
	res, err := e.Encrypt(context.Background(), req)
	if err != nil {
		t.Fatalf("Dry run failed: %v", err)
	}

	if !res.DryRun || res.Count(StatusPlanned) != 1 {
		t.Errorf("Expected one planned file, got %+v", res)
	}
	if got := readFile(t, src); got != "plain" {
		t.Errorf("Dry run modified the file: %q", got)
	}
	if fake.calls() != 0 {
		t.Errorf("Dry run invoked the backend %d time(s)", fake.calls())
	}
	if n := backupCount(t, e, src); n != 0 {
		t.Errorf("Dry run created %d backup(s)", n)
	}
	if entries := auditEntries(t, cfg); len(entries) != 1 || entries[0].Outcome != "dry-run" {
		t.Errorf("Expected a dry-run audit entry, got %+v", entries)
	}
}

func TestEncrypt_DryRunReportsExistingOutput(t *testing.T) {
	e := newTestEngine(t, newTestConfig(t), &fakeBackend{})

	src := filepath.Join(t.TempDir(), "a.env")
	writeFile(t, src, "plain")
	writeFile(t, src+".age", "old")

	opts := requests.DefaultOptions()
	opts.DryRun = true
	req, _ := requests.NewLockBuilder(src).Passphrase("pw").Options(opts).Build()
	res, err := e.Encrypt(context.Background(), req)
	if !errors.Is(err, kerrors.ErrOutputExists) {
		t.Fatalf("Expected ErrOutputExists, got: %v", err)
	}
	if res.Count(StatusFailed) != 1 {
		t.Errorf("Expected the file to be reported as failed, got %+v", res.Files)
	}
}

func TestEncrypt_TimeoutRollsBack(t *testing.T) {
	e := newTestEngine(t, newTestConfig(t), &fakeBackend{delay: 5 * time.Second})

	src := filepath.Join(t.TempDir(), "slow.env")
	writeFile(t, src, "original")

	opts := requests.DefaultOptions()
	opts.Timeout = 50 * time.Millisecond
	req, _ := requests.NewLockBuilder(src).InPlace(true).Passphrase("pw").Options(opts).Build()

	_, err := e.Encrypt(context.Background(), req)
	if !errors.Is(err, kerrors.ErrTimeout) {
		t.Fatalf("Expected a timeout, got: %v", err)
	}
	if got := readFile(t, src); got != "original" {
		t.Errorf("Original changed after timeout: %q", got)
	}
	if n := backupCount(t, e, src); n != 0 {
		t.Errorf("Expected the backup to be discarded on rollback, got %d", n)
	}
	assertNoTemporaries(t, filepath.Dir(src))
}

func TestEncrypt_MissingInput(t *testing.T) {
	e := newTestEngine(t, newTestConfig(t), &fakeBackend{})

	req, _ := requests.NewLockBuilder(filepath.Join(t.TempDir(), "missing")).Passphrase("pw").Build()
	_, err := e.Encrypt(context.Background(), req)
	if !errors.Is(err, kerrors.ErrSafetyViolation) {
		t.Errorf("Expected a safety violation, got: %v", err)
	}
}

func TestEncrypt_Recursive(t *testing.T) {
	e := newTestEngine(t, newTestConfig(t), &fakeBackend{})

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.env"), "a")
	writeFile(t, filepath.Join(dir, "sub", "b.env"), "b")
	writeFile(t, filepath.Join(dir, "sub", "c.txt"), "c")
	writeFile(t, filepath.Join(dir, "done.age"), fakeCiphertext("pw", "d"))
	writeFile(t, filepath.Join(dir, ".cage", "config.toml"), "")

	req, err := requests.NewLockBuilder(dir).Recursive(true).Pattern("**/*.env").Passphrase("pw").Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	res, err := e.Encrypt(context.Background(), req)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	if res.Count(StatusLocked) != 2 {
		t.Fatalf("Expected 2 locked files, got %+v", res.Files)
	}
	for _, name := range []string{"a.env.age", filepath.Join("sub", "b.env.age")} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("Expected %s: %v", name, err)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "sub", "c.txt.age")); !os.IsNotExist(err) {
		t.Error("Pattern should have excluded c.txt")
	}
}

func TestEncrypt_DirectoryNeedsRecursive(t *testing.T) {
	e := newTestEngine(t, newTestConfig(t), &fakeBackend{})

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.env"), "a")

	req, err := requests.NewLockBuilder(dir).InPlace(true).Passphrase("pw").Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	_, err = e.Encrypt(context.Background(), req)
	if !errors.Is(err, kerrors.ErrRequestValidation) {
		t.Errorf("Expected a validation error, got: %v", err)
	}
}

func TestEncrypt_TierFiltering(t *testing.T) {
	fake := &fakeBackend{}
	e := newTestEngine(t, newTestConfig(t), fake)

	standard, _ := requests.ParseRecipient(testRecipient('q'))
	elevated, _ := requests.ParseRecipient(testRecipient('p'))
	emergency, _ := requests.ParseRecipient(testRecipient('z'))

	dev, _ := requests.NewRecipientGroup("dev", requests.TierStandard, standard)
	ops, _ := requests.NewRecipientGroup("ops", requests.TierElevated, elevated)
	breakGlass, _ := requests.NewRecipientGroup("break-glass", requests.TierEmergency, emergency)

	tests := []struct {
		name    string
		enforce bool
		tier    requests.AuthorityTier
		want    []string
	}{
		{"standard with hierarchy", true, requests.TierStandard, []string{standard.String()}},
		{"elevated with hierarchy", true, requests.TierElevated, []string{standard.String(), elevated.String()}},
		{"without hierarchy", false, requests.TierStandard, []string{standard.String(), elevated.String(), emergency.String()}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := filepath.Join(t.TempDir(), "a.env")
			writeFile(t, src, "x")

			multi := &requests.MultiRecipientConfig{
				Groups:           []*requests.RecipientGroup{breakGlass, ops, dev},
				EnforceHierarchy: tt.enforce,
			}
			req, err := requests.NewLockBuilder(src).Multi(multi).Tier(tt.tier).Build()
			if err != nil {
				t.Fatalf("Build failed: %v", err)
			}
			if _, err := e.Encrypt(context.Background(), req); err != nil {
				t.Fatalf("Encrypt failed: %v", err)
			}

			calls := fake.encryptCalls()
			got := calls[len(calls)-1].Recipients
			if tt.enforce {
				if !slices.Equal(got, tt.want) {
					t.Errorf("Expected recipients %v, got %v", tt.want, got)
				}
				return
			}
			slices.Sort(got)
			want := slices.Clone(tt.want)
			slices.Sort(want)
			if !slices.Equal(got, want) {
				t.Errorf("Expected recipients %v, got %v", want, got)
			}
		})
	}
}

func TestEncrypt_GroupReference(t *testing.T) {
	cfg := newTestConfig(t)
	team := []string{testRecipient('q'), testRecipient('p')}
	if err := cfg.AddRecipientGroup("team", configs.RecipientGroupConfig{Tier: "standard", Recipients: team}); err != nil {
		t.Fatalf("AddRecipientGroup failed: %v", err)
	}
	fake := &fakeBackend{}
	e := newTestEngine(t, cfg, fake)

	src := filepath.Join(t.TempDir(), "a.env")
	writeFile(t, src, "x")

	// The direct recipient also appears in the group and is passed once.
	req, err := requests.NewLockBuilder(src).RecipientStrings("@team", testRecipient('q')).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if _, err := e.Encrypt(context.Background(), req); err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	calls := fake.encryptCalls()
	if got := calls[0].Recipients; !slices.Equal(got, team) {
		t.Errorf("Expected %v, got %v", team, got)
	}
}

func TestEncrypt_UnknownGroup(t *testing.T) {
	fake := &fakeBackend{}
	e := newTestEngine(t, newTestConfig(t), fake)

	src := filepath.Join(t.TempDir(), "a.env")
	writeFile(t, src, "x")

	req, _ := requests.NewLockBuilder(src).RecipientStrings("@nobody").Build()
	_, err := e.Encrypt(context.Background(), req)
	if !errors.Is(err, kerrors.ErrGroupNotFound) || kerrors.KindOf(err) != kerrors.KindConfiguration {
		t.Errorf("Expected a group-not-found configuration error, got: %v", err)
	}
	if fake.calls() != 0 {
		t.Error("Backend should not run when recipients cannot be resolved")
	}
}

func TestRiskThresholdBySecurityLevel(t *testing.T) {
	levels := []configs.SecurityLevel{configs.SecurityStrict, configs.SecurityStandard, configs.SecurityPermissive}
	cases := []struct {
		name    string
		backup  bool
		inBatch bool
		allowed map[configs.SecurityLevel]bool
	}{
		{"backup", true, false, map[configs.SecurityLevel]bool{
			configs.SecurityStrict: true, configs.SecurityStandard: true, configs.SecurityPermissive: true,
		}},
		{"backup in batch", true, true, map[configs.SecurityLevel]bool{
			configs.SecurityStrict: false, configs.SecurityStandard: true, configs.SecurityPermissive: true,
		}},
		{"no backup", false, false, map[configs.SecurityLevel]bool{
			configs.SecurityStrict: false, configs.SecurityStandard: false, configs.SecurityPermissive: true,
		}},
		{"no backup in batch", false, true, map[configs.SecurityLevel]bool{
			configs.SecurityStrict: false, configs.SecurityStandard: false, configs.SecurityPermissive: false,
		}},
	}

	for _, level := range levels {
		for _, tc := range cases {
			t.Run(string(level)+"/"+tc.name, func(t *testing.T) {
				cfg := newTestConfig(t, func(c *configs.Config) { c.Security.Level = level })
				e := newTestEngine(t, cfg, &fakeBackend{})

				src := filepath.Join(t.TempDir(), "a.env")
				writeFile(t, src, "plain")

				opts := requests.DefaultOptions()
				opts.Backup = tc.backup
				req, _ := requests.NewLockBuilder(src).InPlace(true).Passphrase("pw").Options(opts).Build()
				_, err := e.dispatch(context.Background(), req, tc.inBatch)

				if tc.allowed[level] {
					if err != nil {
						t.Errorf("Expected the operation to proceed, got: %v", err)
					}
					return
				}
				if !errors.Is(err, kerrors.ErrRiskThresholdExceeded) {
					t.Errorf("Expected ErrRiskThresholdExceeded, got: %v", err)
				}
				if got := readFile(t, src); got != "plain" {
					t.Errorf("Denied operation modified the file: %q", got)
				}
			})
		}
	}
}

func TestRiskThresholdOverride(t *testing.T) {
	cfg := newTestConfig(t, func(c *configs.Config) {
		c.Security.Level = configs.SecurityPermissive
		c.Security.RiskThreshold = "none"
	})
	e := newTestEngine(t, cfg, &fakeBackend{})

	src := filepath.Join(t.TempDir(), "a.env")
	writeFile(t, src, "plain")

	// Writing a new file carries no risk and is still allowed.
	req, _ := requests.NewLockBuilder(src).Passphrase("pw").Build()
	if _, err := e.Encrypt(context.Background(), req); err != nil {
		t.Fatalf("Expected a riskless lock to proceed, got: %v", err)
	}

	req, _ = requests.NewLockBuilder(src).InPlace(true).Passphrase("pw").Build()
	if _, err := e.Encrypt(context.Background(), req); !errors.Is(err, kerrors.ErrRiskThresholdExceeded) {
		t.Errorf("Expected ErrRiskThresholdExceeded, got: %v", err)
	}
}

func TestDecrypt_RemovesCiphertext(t *testing.T) {
	e := newTestEngine(t, newTestConfig(t), &fakeBackend{})

	dir := t.TempDir()
	src := filepath.Join(dir, "app.env.age")
	writeFile(t, src, fakeCiphertext("pw", "TOKEN=1\n"))

	req, err := requests.NewUnlockBuilder(src).Passphrase("pw").Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	res, err := e.Decrypt(context.Background(), req)
	if err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}

	out := filepath.Join(dir, "app.env")
	if got := readFile(t, out); got != "TOKEN=1\n" {
		t.Errorf("Unexpected plaintext: %q", got)
	}
	info, _ := os.Stat(out)
	if info.Mode().Perm() != decryptedMode {
		t.Errorf("Expected plaintext mode %o, got %o", decryptedMode, info.Mode().Perm())
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Error("Ciphertext should be removed")
	}
	if res.Files[0].Backup == "" || backupCount(t, e, src) != 1 {
		t.Error("Expected the removed ciphertext to be backed up")
	}
}

func TestDecrypt_PreserveEncrypted(t *testing.T) {
	e := newTestEngine(t, newTestConfig(t), &fakeBackend{})

	dir := t.TempDir()
	src := filepath.Join(dir, "app.env.age")
	writeFile(t, src, fakeCiphertext("pw", "TOKEN=1\n"))

	req, _ := requests.NewUnlockBuilder(src).Passphrase("pw").PreserveEncrypted(true).Build()
	if _, err := e.Decrypt(context.Background(), req); err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}
	if _, err := os.Stat(src); err != nil {
		t.Errorf("Ciphertext should be preserved: %v", err)
	}
	if n := backupCount(t, e, src); n != 0 {
		t.Errorf("Nothing was removed, so no backup was needed; got %d", n)
	}
}

func TestDecrypt_KeyFileIdentity(t *testing.T) {
	e := newTestEngine(t, newTestConfig(t), &fakeBackend{})

	dir := t.TempDir()
	recipient := testRecipient('q')
	identity := filepath.Join(dir, "key.txt")
	writeFile(t, identity, recipient+"\n")
	src := filepath.Join(dir, "db.yaml.age")
	writeFile(t, src, fakeCiphertext(recipient, "dsn: x"))

	req, _ := requests.NewUnlockBuilder(src).Identity(requests.KeyFileIdentity(identity)).InPlace(true).Build()
	if _, err := e.Decrypt(context.Background(), req); err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}
	if got := readFile(t, src); got != "dsn: x" {
		t.Errorf("Expected in-place plaintext, got %q", got)
	}
}

func TestDecrypt_WrongKey(t *testing.T) {
	e := newTestEngine(t, newTestConfig(t), &fakeBackend{})

	dir := t.TempDir()
	src := filepath.Join(dir, "app.env.age")
	ciphertext := fakeCiphertext("pw", "TOKEN=1\n")
	writeFile(t, src, ciphertext)

	req, _ := requests.NewUnlockBuilder(src).Passphrase("wrong").Build()
	_, err := e.Decrypt(context.Background(), req)
	if !errors.Is(err, kerrors.ErrBackend) {
		t.Fatalf("Expected a backend error, got: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "app.env")); !os.IsNotExist(err) {
		t.Error("No plaintext should be written on failure")
	}
	if got := readFile(t, src); got != ciphertext {
		t.Error("Ciphertext should be untouched on failure")
	}
	assertNoTemporaries(t, dir)
}

func TestRotate_Atomic(t *testing.T) {
	e := newTestEngine(t, newTestConfig(t), &fakeBackend{})

	src := filepath.Join(t.TempDir(), "a.env.age")
	writeFile(t, src, fakeCiphertext("old", "payload"))

	req, err := requests.NewRotateBuilder(src).OldPassphrase("old").NewPassphrase("new").Atomic(true).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	res, err := e.Rotate(context.Background(), req)
	if err != nil {
		t.Fatalf("Rotate failed: %v", err)
	}

	if got := readFile(t, src); got != fakeCiphertext("new", "payload") {
		t.Errorf("Unexpected rotated file: %q", got)
	}
	if res.Count(StatusRotated) != 1 {
		t.Errorf("Expected one rotated file, got %+v", res.Files)
	}
	if n := backupCount(t, e, src); n != 1 {
		t.Errorf("Expected one backup of the old ciphertext, got %d", n)
	}
}

func TestRotate_AtomicFailureLeavesOriginal(t *testing.T) {
	e := newTestEngine(t, newTestConfig(t), &fakeBackend{encryptErr: errors.New("recipient rejected")})

	dir := t.TempDir()
	src := filepath.Join(dir, "a.env.age")
	original := fakeCiphertext("old", "payload")
	writeFile(t, src, original)

	req, _ := requests.NewRotateBuilder(src).OldPassphrase("old").NewRecipientStrings(testRecipient('q')).Atomic(true).Build()
	_, err := e.Rotate(context.Background(), req)
	if !errors.Is(err, kerrors.ErrBackend) {
		t.Fatalf("Expected a backend error, got: %v", err)
	}
	if errors.Is(err, kerrors.ErrRecoveryFailure) {
		t.Errorf("A clean rollback should not report a recovery failure: %v", err)
	}
	if got := readFile(t, src); got != original {
		t.Errorf("Original changed: %q", got)
	}
	if n := backupCount(t, e, src); n != 0 {
		t.Errorf("Expected the backup to be discarded, got %d", n)
	}
	assertNoTemporaries(t, dir)
}

func TestRotate_NonAtomic(t *testing.T) {
	e := newTestEngine(t, newTestConfig(t), &fakeBackend{})

	dir := t.TempDir()
	src := filepath.Join(dir, "a.env.asc")
	writeFile(t, src, armorHeader+"\n-> old\npayload")

	req, _ := requests.NewRotateBuilder(src).OldPassphrase("old").NewPassphrase("new").Build()
	res, err := e.Rotate(context.Background(), req)
	if err != nil {
		t.Fatalf("Rotate failed: %v", err)
	}

	if got := readFile(t, src); got != armorHeader+"\n-> new\npayload" {
		t.Errorf("Armor should be preserved, got %q", got)
	}
	if _, err := os.Stat(src + rotatedSuffix); !os.IsNotExist(err) {
		t.Error("Rotated sibling should be gone")
	}
	if res.Files[0].Output != src || !res.Files[0].Armored {
		t.Errorf("Unexpected file result: %+v", res.Files[0])
	}
}

func TestVerify_ReportsEveryFile(t *testing.T) {
	e := newTestEngine(t, newTestConfig(t), &fakeBackend{})

	dir := t.TempDir()
	good := filepath.Join(dir, "good.age")
	bad := filepath.Join(dir, "bad.age")
	writeFile(t, good, fakeCiphertext("pw", "x"))
	writeFile(t, bad, "not encrypted at all")

	req, _ := requests.NewVerifyBuilder(good, bad).Build()
	res, err := e.Verify(context.Background(), req)
	if !errors.Is(err, kerrors.ErrBackend) {
		t.Fatalf("Expected a verification failure, got: %v", err)
	}
	if kerrors.IsRetryable(err) {
		t.Error("A verification failure should not be retryable")
	}
	if len(res.Files) != 2 || res.Count(StatusVerified) != 1 || res.Count(StatusInvalid) != 1 {
		t.Errorf("Expected one verified and one invalid file, got %+v", res.Files)
	}
}

func TestVerify_Deep(t *testing.T) {
	fake := &fakeBackend{}
	e := newTestEngine(t, newTestConfig(t), fake)

	dir := t.TempDir()
	mine := filepath.Join(dir, "mine.age")
	theirs := filepath.Join(dir, "theirs.age")
	writeFile(t, mine, fakeCiphertext("pw", "x"))
	writeFile(t, theirs, fakeCiphertext("other", "y"))

	req, _ := requests.NewVerifyBuilder(dir).Recursive(true).Deep(true).Identity(requests.PassphraseIdentity("pw")).Build()
	res, err := e.Verify(context.Background(), req)
	if err == nil {
		t.Fatal("Expected deep verification to fail for a file the identity cannot open")
	}
	if res.Count(StatusVerified) != 1 || res.Count(StatusFailed) != 1 {
		t.Errorf("Unexpected results: %+v", res.Files)
	}
	if fake.calls() != 2 {
		t.Errorf("Expected one decrypt per file, got %d", fake.calls())
	}
}

func TestStatus_ClassifiesFiles(t *testing.T) {
	cfg := newTestConfig(t)
	e := newTestEngine(t, cfg, &fakeBackend{})

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "plain.env"), "A=1")
	writeFile(t, filepath.Join(dir, "locked.env.age"), fakeCiphertext("pw", "B=2"))
	writeFile(t, filepath.Join(dir, "armored.asc"), armorHeader+"\n-> pw\nC=3")
	writeFile(t, filepath.Join(dir, ".plain.env.cage-123"), "partial")

	req, _ := requests.NewStatusBuilder(dir).Build()
	res, err := e.Status(context.Background(), req)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if res.Count(StatusEncrypted) != 2 || res.Count(StatusPlaintext) != 1 || len(res.Files) != 3 {
		t.Errorf("Unexpected classification: %+v", res.Files)
	}
	if res.LastOperation != nil {
		t.Errorf("Expected no last operation before anything ran, got %+v", res.LastOperation)
	}

	lock, _ := requests.NewLockBuilder(filepath.Join(dir, "plain.env")).Passphrase("pw").Build()
	if _, err := e.Encrypt(context.Background(), lock); err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	req, _ = requests.NewStatusBuilder(dir).Build()
	res, err = e.Status(context.Background(), req)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if res.LastOperation == nil || res.LastOperation.Operation != "lock" {
		t.Errorf("Expected the lock as last operation, got %+v", res.LastOperation)
	}
}

func TestBatch_RetriesRetryableEntries(t *testing.T) {
	tests := []struct {
		name         string
		retryable    bool
		wantErr      bool
		wantAttempts int
	}{
		{"retryable", true, false, 2},
		{"not retryable", false, true, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(t, newTestConfig(t), &fakeBackend{transient: 1})

			src := filepath.Join(t.TempDir(), "a.env")
			writeFile(t, src, "x")

			req, err := requests.NewBatchBuilder().
				Add(requests.NewLockBuilder(src).Passphrase("pw"), tt.retryable).
				Build()
			if err != nil {
				t.Fatalf("Build failed: %v", err)
			}
			res, err := e.Batch(context.Background(), req)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Batch error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, kerrors.ErrBackend) {
				t.Errorf("Expected the backend failure to be wrapped, got: %v", err)
			}
			if got := res.Batch[0].Attempts; got != tt.wantAttempts {
				t.Errorf("Expected %d attempt(s), got %d", tt.wantAttempts, got)
			}
		})
	}
}

func TestBatch_StopOnError(t *testing.T) {
	cfg := newTestConfig(t, func(c *configs.Config) { c.Performance.ParallelBatchSize = 1 })
	e := newTestEngine(t, cfg, &fakeBackend{})

	dir := t.TempDir()
	later := filepath.Join(dir, "later.env")
	writeFile(t, later, "x")

	req, _ := requests.NewBatchBuilder().
		Add(requests.NewLockBuilder(filepath.Join(dir, "missing.env")).Passphrase("pw"), false).
		Add(requests.NewLockBuilder(later).Passphrase("pw"), false).
		StopOnError(true).
		Build()

	res, err := e.Batch(context.Background(), req)
	if err == nil {
		t.Fatal("Expected the batch to fail")
	}
	if res.Batch[0].Status != "failed" || res.Batch[1].Status != "skipped" {
		t.Errorf("Unexpected outcomes: %+v", res.Batch)
	}
	if _, err := os.Stat(later + ".age"); !os.IsNotExist(err) {
		t.Error("Skipped entry should not have run")
	}
}

func TestBatch_ContinuesWithoutStopOnError(t *testing.T) {
	cfg := newTestConfig(t)
	e := newTestEngine(t, cfg, &fakeBackend{})

	dir := t.TempDir()
	a := filepath.Join(dir, "a.env")
	b := filepath.Join(dir, "b.env.age")
	writeFile(t, a, "a")
	writeFile(t, b, fakeCiphertext("pw", "b"))

	req, _ := requests.NewBatchBuilder().
		Add(requests.NewLockBuilder(a).Passphrase("pw"), false).
		Add(requests.NewLockBuilder(filepath.Join(dir, "missing.env")).Passphrase("pw"), false).
		Add(requests.NewUnlockBuilder(b).Passphrase("pw").PreserveEncrypted(true), false).
		Build()

	res, err := e.Batch(context.Background(), req)
	if err == nil {
		t.Fatal("Expected the batch to report the failed entry")
	}
	if res.Batch[0].Status != "ok" || res.Batch[1].Status != "failed" || res.Batch[2].Status != "ok" {
		t.Errorf("Unexpected outcomes: %+v", res.Batch)
	}
	if res.Count(StatusLocked) != 1 || res.Count(StatusUnlocked) != 1 {
		t.Errorf("Expected aggregated file results, got %+v", res.Files)
	}

	// One entry per sub-operation plus the batch itself.
	if entries := auditEntries(t, cfg); len(entries) != 4 || entries[3].Operation != "batch" || entries[3].Outcome != "partial" {
		t.Errorf("Unexpected audit trail: %+v", entries)
	}
}

func TestBatch_InvalidEntryFailsBuild(t *testing.T) {
	fake := &fakeBackend{}
	newTestEngine(t, newTestConfig(t), fake)

	_, err := requests.NewBatchBuilder().
		Add(requests.NewLockBuilder("a.env").Passphrase("pw"), false).
		Add(requests.NewUnlockBuilder("b.env.age"), false).
		Build()
	if !errors.Is(err, kerrors.ErrRequestValidation) {
		t.Fatalf("Expected a validation error, got: %v", err)
	}
	if fake.calls() != 0 {
		t.Error("Nothing should run when a batch fails to build")
	}
}

func TestExecute_RejectsNilRequest(t *testing.T) {
	e := newTestEngine(t, newTestConfig(t), &fakeBackend{})

	var req *requests.LockRequest
	if _, err := e.Execute(context.Background(), req); !errors.Is(err, kerrors.ErrRequestValidation) {
		t.Errorf("Expected a validation error for a nil request, got: %v", err)
	}
	if _, err := e.Execute(context.Background(), nil); !errors.Is(err, kerrors.ErrRequestValidation) {
		t.Errorf("Expected a validation error for a nil interface, got: %v", err)
	}
}

func TestAuditDisabledByOption(t *testing.T) {
	cfg := newTestConfig(t)
	e := newTestEngine(t, cfg, &fakeBackend{})

	src := filepath.Join(t.TempDir(), "a.env")
	writeFile(t, src, "x")

	opts := requests.DefaultOptions()
	opts.Audit = false
	req, _ := requests.NewLockBuilder(src).Passphrase("pw").Options(opts).Build()
	if _, err := e.Encrypt(context.Background(), req); err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if entries := auditEntries(t, cfg); len(entries) != 0 {
		t.Errorf("Expected no audit entries, got %d", len(entries))
	}
}

func assertNoTemporaries(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	for _, entry := range entries {
		if isTemporary(entry.Name()) {
			t.Errorf("Temporary file left behind: %s", entry.Name())
		}
	}
}

func TestBatch_DryRunMakesNoBackendCalls(t *testing.T) {
	cfg := newTestConfig(t)
	fake := &fakeBackend{}
	e := newTestEngine(t, cfg, fake)

	dir := t.TempDir()
	a := filepath.Join(dir, "a.env")
	b := filepath.Join(dir, "b.env.age")
	writeFile(t, a, "SECRET=1")
	writeFile(t, b, fakeCiphertext("pw", "b"))

	opts := requests.DefaultOptions()
	opts.DryRun = true
	req, err := requests.NewBatchBuilder().
		Add(requests.NewLockBuilder(a).InPlace(true).RecipientStrings(testRecipient('q')), false).
		Add(requests.NewUnlockBuilder(b).Passphrase("pw"), false).
		Options(opts).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	res, err := e.Batch(context.Background(), req)
	if err != nil {
		t.Fatalf("Batch failed: %v", err)
	}
	if fake.calls() != 0 {
		t.Errorf("Expected no backend calls in a dry run, got %d", fake.calls())
	}
	for _, o := range res.Batch {
		if o.Result == nil || !o.Result.DryRun {
			t.Errorf("Entry %d did not run as a dry run: %+v", o.Index, o)
		}
	}
	if got := readFile(t, a); got != "SECRET=1" {
		t.Errorf("Dry run changed %s: %q", a, got)
	}
	if _, err := os.Stat(filepath.Join(dir, "b.env")); !os.IsNotExist(err) {
		t.Error("Dry run should not write the decrypted output")
	}
	if backupCount(t, e, a) != 0 {
		t.Error("Dry run should not take backups")
	}
}
