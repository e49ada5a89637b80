package contenthash_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/CLIAI/speaker-diarization-toolkit/internal/contenthash"
)

func TestSumIsDeterministic(t *testing.T) {
	payload := []byte("RIFF....WAVEfmt sample clip")
	first := contenthash.Sum(payload)
	second := contenthash.Sum(append([]byte(nil), payload...))
	if first != second {
		t.Fatalf("expected identical digests, got %s and %s", first, second)
	}
	if len(first) != contenthash.HexLen {
		t.Fatalf("expected %d hex chars, got %d", contenthash.HexLen, len(first))
	}
	if !contenthash.Valid(first) {
		t.Fatalf("expected digest %q to be valid", first)
	}
}

func TestSumDistinguishesContent(t *testing.T) {
	payloads := [][]byte{
		[]byte("clip one"),
		[]byte("clip two"),
		[]byte("clip onf"),
		{},
	}
	seen := map[string]int{}
	for i, p := range payloads {
		digest := contenthash.Sum(p)
		if j, ok := seen[digest]; ok {
			t.Fatalf("payloads %d and %d collided on %s", j, i, digest)
		}
		seen[digest] = i
	}
}

func TestSumFileMatchesSum(t *testing.T) {
	payload := bytes.Repeat([]byte{0x01, 0x02, 0x03}, 50000)
	path := filepath.Join(t.TempDir(), "clip.wav")
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		t.Fatalf("write clip: %v", err)
	}
	fromFile, err := contenthash.BLAKE3{}.SumFile(path)
	if err != nil {
		t.Fatalf("SumFile: %v", err)
	}
	if fromFile != contenthash.Sum(payload) {
		t.Fatalf("file digest %s differs from in-memory digest %s", fromFile, contenthash.Sum(payload))
	}
}

func TestSumFileMissing(t *testing.T) {
	if _, err := contenthash.SumFile(filepath.Join(t.TempDir(), "missing.wav")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestShortAndValid(t *testing.T) {
	if got := contenthash.Short("0123456789abcdef"); got != "01234567" {
		t.Fatalf("unexpected short form %q", got)
	}
	if contenthash.Valid("xyz") {
		t.Fatal("expected short string to be invalid")
	}
	if contenthash.Valid("zz" + contenthash.Sum(nil)[2:]) {
		t.Fatal("expected non-hex string to be invalid")
	}
}
