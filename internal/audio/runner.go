package audio

import (
	"bytes"
	"context"
	"os/exec"
)

// Runner executes an external command and returns its stdout and stderr.
type Runner func(ctx context.Context, binary string, args []string) (stdout, stderr []byte, err error)

func execRunner(ctx context.Context, binary string, args []string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}
