package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	kerrors "github.com/PolarWolf314/cage/internal/errors"
)

// scriptBackend mimics age's command line. Encryption prepends the age
// header and decryption strips it.
const scriptBackend = `#!/bin/sh
if [ "$1" = "--version" ]; then
  echo "v1.2.1"
  exit 0
fi
mode=""
out=""
in=""
while [ $# -gt 0 ]; do
  case "$1" in
    --encrypt) mode=enc; shift ;;
    --decrypt) mode=dec; shift ;;
    --armor|--passphrase) shift ;;
    --output) out="$2"; shift 2 ;;
    --recipient|--identity) shift 2 ;;
    *) in="$1"; shift ;;
  esac
done
if [ "$mode" = "enc" ]; then
  { echo "age-encryption.org/v1"; cat "$in"; } > "$out"
else
  tail -n +2 "$in" > "$out"
fi
`

var testRecipient = "age1" + strings.Repeat("q", 58)

// setupCLITest writes a script backend and a config file pointing every
// path into a temp dir. It returns the work dir and the config path.
func setupCLITest(t *testing.T) (string, string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("Shell script backends are not supported on Windows")
	}

	dir := t.TempDir()
	bin := filepath.Join(dir, "fake-age")
	if err := os.WriteFile(bin, []byte(scriptBackend), 0o755); err != nil {
		t.Fatalf("Failed to write backend script: %v", err)
	}

	cfgPath := filepath.Join(dir, "cage.toml")
	content := fmt.Sprintf("[paths]\nbackend_binary = %q\nbackup_dir = %q\naudit_log = %q\n",
		bin, filepath.Join(dir, "backups"), filepath.Join(dir, "audit.log"))
	if err := os.WriteFile(cfgPath, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	work := filepath.Join(dir, "work")
	if err := os.MkdirAll(work, 0o700); err != nil {
		t.Fatalf("Failed to create work dir: %v", err)
	}
	t.Cleanup(ResetGlobalState)
	return work, cfgPath
}

func writeTestFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write %s: %v", path, err)
	}
}

func TestLockStatusUnlock(t *testing.T) {
	work, cfgPath := setupCLITest(t)
	plain := filepath.Join(work, "secret.env")
	writeTestFile(t, plain, "TOKEN=abc\n")

	output, err := runCLI("--config", cfgPath, "lock", plain, "--recipient", testRecipient)
	if err != nil {
		t.Fatalf("lock failed: %v\nOutput: %s", err, output)
	}
	if !strings.Contains(output, "Locked 1 file(s)") {
		t.Errorf("Expected a lock summary, got: %s", output)
	}
	data, err := os.ReadFile(plain + ".age")
	if err != nil {
		t.Fatalf("Expected ciphertext next to the input: %v", err)
	}
	if !strings.HasPrefix(string(data), "age-encryption.org/v1\n") {
		t.Errorf("Ciphertext lacks the age header: %q", data)
	}

	output, err = runCLI("--config", cfgPath, "status", work, "--json")
	if err != nil {
		t.Fatalf("status failed: %v\nOutput: %s", err, output)
	}
	if !strings.Contains(output, `"status": "encrypted"`) || !strings.Contains(output, `"status": "plaintext"`) {
		t.Errorf("Expected both classifications, got: %s", output)
	}
	if !strings.Contains(output, `"op": "lock"`) {
		t.Errorf("Expected the lock as last operation, got: %s", output)
	}

	if err := os.Remove(plain); err != nil {
		t.Fatalf("Failed to remove plaintext: %v", err)
	}
	key := filepath.Join(work, "..", "key.txt")
	writeTestFile(t, key, "AGE-SECRET-KEY-1"+strings.Repeat("Q", 58)+"\n")

	output, err = runCLI("--config", cfgPath, "unlock", plain+".age", "--identity", key)
	if err != nil {
		t.Fatalf("unlock failed: %v\nOutput: %s", err, output)
	}
	data, err = os.ReadFile(plain)
	if err != nil || string(data) != "TOKEN=abc\n" {
		t.Errorf("Expected the original plaintext back, got %q (%v)", data, err)
	}
	if _, err := os.Stat(plain + ".age"); !os.IsNotExist(err) {
		t.Errorf("Expected the ciphertext to be removed, got: %v", err)
	}

	output, err = runCLI("--config", cfgPath, "backup", "list", "--json")
	if err != nil {
		t.Fatalf("backup list failed: %v\nOutput: %s", err, output)
	}
	if !strings.Contains(output, "secret.env.age") {
		t.Errorf("Expected a backup of the removed ciphertext, got: %s", output)
	}
}

func TestLock_ExistingOutputSuggestsForce(t *testing.T) {
	work, cfgPath := setupCLITest(t)
	plain := filepath.Join(work, "secret.env")
	writeTestFile(t, plain, "A=1")
	writeTestFile(t, plain+".age", "already here")

	output, err := runCLI("--config", cfgPath, "lock", plain, "--recipient", testRecipient)
	if !errors.Is(err, kerrors.ErrOutputExists) {
		t.Fatalf("Expected ErrOutputExists, got: %v", err)
	}
	if !strings.Contains(output, "--force") {
		t.Errorf("Expected a --force hint, got: %s", output)
	}
	if ExitCode(err) != 1 {
		t.Errorf("Expected exit code 1, got %d", ExitCode(err))
	}
}

func TestLock_DryRun(t *testing.T) {
	work, cfgPath := setupCLITest(t)
	plain := filepath.Join(work, "secret.env")
	writeTestFile(t, plain, "A=1")

	output, err := runCLI("--config", cfgPath, "lock", plain, "--recipient", testRecipient, "--dry-run")
	if err != nil {
		t.Fatalf("lock --dry-run failed: %v\nOutput: %s", err, output)
	}
	if !strings.Contains(output, "Dry run") {
		t.Errorf("Expected a dry run summary, got: %s", output)
	}
	if _, err := os.Stat(plain + ".age"); !os.IsNotExist(err) {
		t.Errorf("Dry run must not write ciphertext, got: %v", err)
	}
}

func TestLock_InvalidRequestIsExitCodeTwo(t *testing.T) {
	work, cfgPath := setupCLITest(t)
	plain := filepath.Join(work, "secret.env")
	writeTestFile(t, plain, "A=1")

	// Neither recipients nor a passphrase.
	_, err := runCLI("--config", cfgPath, "lock", plain)
	if err == nil {
		t.Fatal("Expected lock without credentials to fail")
	}
	if ExitCode(err) != 2 {
		t.Errorf("Expected exit code 2 for an invalid request, got %d (%v)", ExitCode(err), err)
	}
}

func TestLog_ShowsOperations(t *testing.T) {
	work, cfgPath := setupCLITest(t)
	plain := filepath.Join(work, "secret.env")
	writeTestFile(t, plain, "A=1")

	if output, err := runCLI("--config", cfgPath, "lock", plain, "--recipient", testRecipient); err != nil {
		t.Fatalf("lock failed: %v\nOutput: %s", err, output)
	}

	output, err := runCLI("--config", cfgPath, "log", "--json", "--operation", "lock")
	if err != nil {
		t.Fatalf("log failed: %v\nOutput: %s", err, output)
	}
	if !strings.Contains(output, `"op": "lock"`) || !strings.Contains(output, `"outcome": "ok"`) {
		t.Errorf("Expected the lock entry, got: %s", output)
	}

	output, err = runCLI("--config", cfgPath, "log", "--operation", "rotate")
	if err != nil {
		t.Fatalf("log failed: %v", err)
	}
	if !strings.Contains(output, "matching the filters") {
		t.Errorf("Expected no matching entries, got: %s", output)
	}
}

func TestBatch_RunsManifest(t *testing.T) {
	work, cfgPath := setupCLITest(t)
	a := filepath.Join(work, "a.env")
	b := filepath.Join(work, "b.env")
	writeTestFile(t, a, "A=1")
	writeTestFile(t, b, "B=2")

	manifest := filepath.Join(work, "..", "batch.toml")
	writeTestFile(t, manifest, fmt.Sprintf(`stop_on_error = false

[[operation]]
kind = "lock"
input = %q
recipients = [%q]

[[operation]]
kind = "lock"
input = %q
recipients = [%q]
`, a, testRecipient, b, testRecipient))

	output, err := runCLI("--config", cfgPath, "batch", manifest)
	if err != nil {
		t.Fatalf("batch failed: %v\nOutput: %s", err, output)
	}
	for _, path := range []string{a, b} {
		if _, err := os.Stat(path + ".age"); err != nil {
			t.Errorf("Expected %s.age: %v", path, err)
		}
	}
}

func TestDoctor_JSON(t *testing.T) {
	_, cfgPath := setupCLITest(t)

	cli := createTestCLI("--config", cfgPath, "doctor", "--json")
	exitCode := 0
	SetDoctorExitFunc(func(code int) { exitCode = code })

	output, err := captureOutput(cli.Execute)
	if err != nil {
		t.Fatalf("doctor failed: %v", err)
	}
	if exitCode == 2 {
		t.Errorf("Expected no errors with a working backend, got: %s", output)
	}
	if !strings.Contains(output, `"checks"`) || !strings.Contains(output, `"adapter"`) {
		t.Errorf("Expected checks and adapter info, got: %s", output)
	}
	if !strings.Contains(output, "v1.2.1") {
		t.Errorf("Expected the backend version, got: %s", output)
	}
}

func TestDoctor_InvalidConfig(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "cage.toml")
	writeTestFile(t, cfgPath, "[paths]\nbackend_binary = \"/nonexistent/age\"\n")
	t.Cleanup(ResetGlobalState)

	cli := createTestCLI("--config", cfgPath, "doctor")
	exitCode := 0
	SetDoctorExitFunc(func(code int) { exitCode = code })

	output, _ := captureOutput(cli.Execute)
	if exitCode != 2 {
		t.Errorf("Expected exit code 2, got %d: %s", exitCode, output)
	}
	if !strings.Contains(output, "Configuration is invalid") {
		t.Errorf("Expected a configuration failure, got: %s", output)
	}
}

func TestConfigGroup_AddListRemove(t *testing.T) {
	_, cfgPath := setupCLITest(t)

	output, err := runCLI("--config", cfgPath, "config", "group", "add", "ops", "--tier", "elevated", "--recipient", testRecipient)
	if err != nil {
		t.Fatalf("group add failed: %v\nOutput: %s", err, output)
	}

	output, err = runCLI("--config", cfgPath, "config", "group", "list", "--json")
	if err != nil {
		t.Fatalf("group list failed: %v\nOutput: %s", err, output)
	}
	if !strings.Contains(output, `"name": "ops"`) || !strings.Contains(output, `"tier": "elevated"`) {
		t.Errorf("Expected the ops group, got: %s", output)
	}

	_, err = runCLI("--config", cfgPath, "config", "group", "add", "ops", "--recipient", testRecipient)
	if !errors.Is(err, kerrors.ErrGroupExists) {
		t.Errorf("Expected ErrGroupExists on a duplicate, got: %v", err)
	}

	if output, err := runCLI("--config", cfgPath, "config", "group", "remove", "ops"); err != nil {
		t.Fatalf("group remove failed: %v\nOutput: %s", err, output)
	}
	output, _ = runCLI("--config", cfgPath, "config", "group", "list")
	if !strings.Contains(output, "No recipient groups configured.") {
		t.Errorf("Expected no groups after removal, got: %s", output)
	}
}

func TestConfigGroup_LockWithGroup(t *testing.T) {
	work, cfgPath := setupCLITest(t)
	if output, err := runCLI("--config", cfgPath, "config", "group", "add", "ops", "--recipient", testRecipient); err != nil {
		t.Fatalf("group add failed: %v\nOutput: %s", err, output)
	}

	plain := filepath.Join(work, "secret.env")
	writeTestFile(t, plain, "A=1")
	output, err := runCLI("--config", cfgPath, "lock", plain, "--group", "ops")
	if err != nil {
		t.Fatalf("lock --group failed: %v\nOutput: %s", err, output)
	}
	if _, err := os.Stat(plain + ".age"); err != nil {
		t.Errorf("Expected ciphertext: %v", err)
	}
}

func TestConfigInit(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("Shell script backends are not supported on Windows")
	}
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "data"))
	t.Cleanup(ResetGlobalState)

	bin := filepath.Join(dir, "fake-age")
	writeTestFile(t, bin, scriptBackend)
	if err := os.Chmod(bin, 0o755); err != nil {
		t.Fatalf("Chmod failed: %v", err)
	}

	output, err := runCLI("config", "init", "--backend-binary", bin)
	if err != nil {
		t.Fatalf("config init failed: %v\nOutput: %s", err, output)
	}
	path := filepath.Join(dir, "config", "cage", "config.toml")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Expected %s: %v", path, err)
	}
	if !strings.Contains(string(data), bin) {
		t.Errorf("Expected the pinned backend in the file, got: %s", data)
	}

	output, err = runCLI("config", "init")
	if err != nil {
		t.Fatalf("Second config init failed: %v", err)
	}
	if !strings.Contains(output, "already exists") {
		t.Errorf("Expected an existing file warning, got: %s", output)
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"configuration", kerrors.Configuration("paths.backup_dir", errors.New("bad")), 2},
		{"validation", kerrors.Validationf("lock", "input", "missing"), 2},
		{"backend", kerrors.New(kerrors.KindBackend, "lock", "x", kerrors.StageBackend, errors.New("boom")), 1},
		{"plain", errors.New("boom"), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("ExitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestSecretFlags_Resolve(t *testing.T) {
	t.Setenv("CAGE_TEST_PASSPHRASE", "hunter2")

	got, err := secretFlags{env: "CAGE_TEST_PASSPHRASE"}.resolve("Passphrase", true)
	if err != nil || got != "hunter2" {
		t.Errorf("resolve() = %q, %v", got, err)
	}

	if _, err := (secretFlags{env: "CAGE_TEST_UNSET_PASSPHRASE"}).resolve("Passphrase", false); err == nil {
		t.Error("Expected an error for an unset variable")
	}

	got, err = secretFlags{}.resolve("Passphrase", false)
	if err != nil || got != "" {
		t.Errorf("Expected no passphrase without flags, got %q, %v", got, err)
	}
}
