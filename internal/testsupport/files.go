package testsupport

import (
	"os"
	"path/filepath"
	"testing"
)

// WriteRecording writes a stand-in audio file whose bytes derive from label,
// so distinct labels catalogue under distinct digests. Parent directories
// are created as needed.
func WriteRecording(t testing.TB, path, label string) string {
	t.Helper()

	return writeFile(t, path, []byte("RIFF-"+label))
}

// WriteTranscript writes a transcript fixture to path.
func WriteTranscript(t testing.TB, path, content string) string {
	t.Helper()

	return writeFile(t, path, []byte(content))
}

func writeFile(t testing.TB, path string, data []byte) string {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}
