package services_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/CLIAI/speaker-diarization-toolkit/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrExternalTool, "pyannote", "embed", "failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"pyannote", "embed", "failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected fallback detail, got %q", err.Error())
	}
}

func TestErrorClassification(t *testing.T) {
	validationErr := services.Wrap(services.ErrValidation, "assign", "prepare", "invalid", nil)
	if !services.IsSetupError(validationErr) {
		t.Fatal("expected validation error to be a setup error")
	}
	if services.IsRetryable(validationErr) {
		t.Fatal("expected validation error to be terminal")
	}

	timeoutErr := services.Wrap(services.ErrTimeout, "signals", "embedding", "deadline", errors.New("ctx"))
	if !services.IsRetryable(timeoutErr) {
		t.Fatal("expected timeout to be retryable")
	}

	corrupt := services.Wrap(services.ErrCorruptRecord, "store", "decode", "bad json", nil)
	if services.IsRetryable(corrupt) || services.IsSetupError(corrupt) {
		t.Fatal("expected corrupt record to be neither retryable nor setup")
	}

	if services.IsRetryable(nil) {
		t.Fatal("expected nil error to be non-retryable")
	}
}
