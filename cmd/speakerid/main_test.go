package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/CLIAI/speaker-diarization-toolkit/internal/services"
)

func TestExitCode(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"success", nil, 0},
		{"validation", fmt.Errorf("%w: bad flag", services.ErrValidation), 2},
		{"not found", services.Wrap(services.ErrNotFound, "cli", "show", "speaker missing", nil), 2},
		{"transient", fmt.Errorf("%w: locked", services.ErrTransient), 1},
		{"silent", errSilentFailure, 1},
		{"plain", errors.New("boom"), 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := exitCode(tc.err); got != tc.want {
				t.Fatalf("exitCode(%v) = %d, want %d", tc.err, got, tc.want)
			}
		})
	}
}

func TestUnknownFormatRejected(t *testing.T) {
	env := setupCLITestEnv(t)
	if _, _, err := env.run(t, "--format", "xml", "speakers", "list"); err == nil {
		t.Fatal("expected unsupported format error")
	}
}
