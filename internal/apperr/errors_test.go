package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsKindThroughWrapping(t *testing.T) {
	base := errors.New("disk full")
	err := fmt.Errorf("store chunk: %w", Cache(base, "write payload %s", "abc"))

	if !IsKind(err, KindCache) {
		t.Fatalf("expected CACHE kind, got %q", KindOf(err))
	}
	if IsKind(err, KindEngine) {
		t.Error("CACHE error reported as ENGINE")
	}
	if !errors.Is(err, base) {
		t.Error("cause not reachable through Unwrap")
	}
}

func TestErrorMessage(t *testing.T) {
	err := Validation("unsupported output format: %s", "flac")
	if got, want := err.Error(), "VALIDATION: unsupported output format: flac"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	err = Engine(errors.New("401"), "initialize %s", "openai").WithContext("engine", "openai")
	if got, want := err.Error(), "ENGINE: initialize openai: 401"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if err.Context["engine"] != "openai" {
		t.Error("context not recorded")
	}
}

func TestKindOfPlainError(t *testing.T) {
	if k := KindOf(errors.New("x")); k != "" {
		t.Errorf("expected empty kind, got %q", k)
	}
}
