// Package contenthash computes the content digests that identify audio clips
// and recordings independent of their file paths.
package contenthash

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/zeebo/blake3"
)

// Size is the digest length in bytes. Digests are 128-bit BLAKE3 prefixes.
const Size = 16

// HexLen is the length of a hex-encoded digest.
const HexLen = Size * 2

// Hasher is the capability the ledger and catalog use to address content.
type Hasher interface {
	Sum(data []byte) string
	SumFile(path string) (string, error)
}

// BLAKE3 implements Hasher.
type BLAKE3 struct{}

// Sum returns the hex digest of data.
func (BLAKE3) Sum(data []byte) string {
	return Sum(data)
}

// SumFile streams path through the hasher.
func (BLAKE3) SumFile(path string) (string, error) {
	return SumFile(path)
}

// Sum returns the hex digest of data.
func Sum(data []byte) string {
	full := blake3.Sum256(data)
	return hex.EncodeToString(full[:Size])
}

// SumReader hashes everything readable from r.
func SumReader(r io.Reader) (string, error) {
	h := blake3.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("hash content: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)[:Size]), nil
}

// SumFile hashes the file at path.
func SumFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return SumReader(f)
}

// Valid reports whether s looks like a full hex digest.
func Valid(s string) bool {
	if len(s) != HexLen {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// Short returns the first 8 characters of a digest for display.
func Short(digest string) string {
	digest = strings.TrimSpace(digest)
	if len(digest) <= 8 {
		return digest
	}
	return digest[:8]
}
