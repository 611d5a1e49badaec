package errors

import (
	stderrors "errors"
	"strings"
	"testing"
)

func TestKindSentinelsMatch(t *testing.T) {
	cases := []struct {
		kind     Kind
		sentinel error
	}{
		{KindConfiguration, ErrConfiguration},
		{KindRequestValidation, ErrRequestValidation},
		{KindSafetyViolation, ErrSafetyViolation},
		{KindRecoveryFailure, ErrRecoveryFailure},
		{KindBackend, ErrBackend},
		{KindTimeout, ErrTimeout},
	}

	for _, tc := range cases {
		err := New(tc.kind, "lock", "/tmp/a", StageMutate, stderrors.New("boom"))
		if !stderrors.Is(err, tc.sentinel) {
			t.Errorf("Expected %s error to match its sentinel", tc.kind)
		}
		if tc.kind != KindBackend && stderrors.Is(err, ErrBackend) {
			t.Errorf("Expected %s error not to match ErrBackend", tc.kind)
		}
	}
}

func TestNewNilCause(t *testing.T) {
	if err := New(KindBackend, "lock", "", StageBackend, nil); err != nil {
		t.Fatalf("Expected nil error for nil cause, got %v", err)
	}
}

func TestErrorMessageCarriesContext(t *testing.T) {
	err := New(KindSafetyViolation, "lock", "/data/secret.txt", StageValidate, ErrInsufficientSpace)
	msg := err.Error()
	for _, want := range []string{"safety_violation", "lock", "/data/secret.txt", "validate", "insufficient free disk space"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Expected message %q to contain %q", msg, want)
		}
	}
	if !stderrors.Is(err, ErrInsufficientSpace) {
		t.Error("Expected cause to be reachable through errors.Is")
	}
}

func TestSecondaryIsReachable(t *testing.T) {
	rollback := stderrors.New("restore failed")
	err := &Error{Kind: KindRecoveryFailure, Stage: StageCommit, Err: stderrors.New("rename failed"), Secondary: rollback}

	if !stderrors.Is(err, rollback) {
		t.Error("Expected rollback error to be reachable")
	}
	if !strings.Contains(err.Error(), "rollback failed") {
		t.Errorf("Expected message to mention rollback, got %q", err.Error())
	}
}

func TestWithWarningKeepsPrimary(t *testing.T) {
	primary := New(KindBackend, "rotate", "/a.age", StageBackend, stderrors.New("exit status 1"))
	warned := WithWarning(primary, stderrors.New("remove temp: busy"))

	if KindOf(warned) != KindBackend {
		t.Fatalf("Expected backend kind, got %q", KindOf(warned))
	}
	var e *Error
	if !stderrors.As(warned, &e) {
		t.Fatal("Expected *Error")
	}
	if e.Warning == nil {
		t.Fatal("Expected warning to be attached")
	}

	var original *Error
	_ = stderrors.As(primary, &original)
	if original.Warning != nil {
		t.Error("Expected original error to be left unmodified")
	}
}

func TestWithContextFillsMissingFields(t *testing.T) {
	base := Validation("", "recipients", stderrors.New("missing"))
	err := WithContext(base, KindBackend, "lock", "/a", StageBuild)

	var e *Error
	if !stderrors.As(err, &e) {
		t.Fatal("Expected *Error")
	}
	if e.Kind != KindRequestValidation {
		t.Errorf("Expected kind to be preserved, got %q", e.Kind)
	}
	if e.Op != "lock" || e.Path != "/a" {
		t.Errorf("Expected op and path to be filled, got %q %q", e.Op, e.Path)
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(New(KindTimeout, "lock", "", StageBackend, stderrors.New("deadline"))) {
		t.Error("Expected timeout to be retryable")
	}
	if IsRetryable(New(KindSafetyViolation, "lock", "", StageValidate, stderrors.New("space"))) {
		t.Error("Expected safety violation not to be retryable")
	}
	if IsRetryable(stderrors.New("plain")) {
		t.Error("Expected plain error not to be retryable")
	}
}
