package testsupport

import (
	"sync/atomic"

	"github.com/CLIAI/speaker-diarization-toolkit/internal/contenthash"
)

// CountingHasher hashes with BLAKE3 and counts its calls, so tests can
// check that an injected hasher is the one in use.
type CountingHasher struct {
	contenthash.BLAKE3
	sums  atomic.Int64
	files atomic.Int64
}

func (h *CountingHasher) Sum(data []byte) string {
	h.sums.Add(1)
	return h.BLAKE3.Sum(data)
}

func (h *CountingHasher) SumFile(path string) (string, error) {
	h.files.Add(1)
	return h.BLAKE3.SumFile(path)
}

// Sums reports how many byte slices were hashed.
func (h *CountingHasher) Sums() int { return int(h.sums.Load()) }

// Files reports how many files were hashed.
func (h *CountingHasher) Files() int { return int(h.files.Load()) }
