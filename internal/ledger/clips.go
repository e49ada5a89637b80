package ledger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/CLIAI/speaker-diarization-toolkit/internal/fileutil"
)

const clipLockRetry = 25 * time.Millisecond

// ClipStore keeps clip audio on disk at <root>/<speaker>/<digest>.wav.
type ClipStore struct {
	root string
}

// NewClipStore returns a clip store rooted at dir.
func NewClipStore(dir string) *ClipStore {
	return &ClipStore{root: dir}
}

// Path returns the file location for a clip.
func (c *ClipStore) Path(speakerID, digest string) string {
	return filepath.Join(c.root, speakerID, digest+".wav")
}

// Write stores data under its digest. Writers of the same digest are
// serialized by a per-digest file lock, and the file is replaced atomically.
func (c *ClipStore) Write(ctx context.Context, speakerID, digest string, data []byte) (string, error) {
	target := c.Path(speakerID, digest)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("create clip directory: %w", err)
	}

	lock := flock.New(target + ".lock")
	locked, err := lock.TryLockContext(ctx, clipLockRetry)
	if err != nil {
		return "", fmt.Errorf("lock clip %s: %w", digest, err)
	}
	if !locked {
		return "", fmt.Errorf("lock clip %s: not acquired", digest)
	}
	defer func() { _ = lock.Unlock() }()

	if existing, err := os.ReadFile(target); err == nil && bytes.Equal(existing, data) {
		return target, nil
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("read existing clip: %w", err)
	}
	if err := fileutil.WriteAtomic(target, data, 0o644); err != nil {
		return "", fmt.Errorf("write clip %s: %w", digest, err)
	}
	return target, nil
}

// Read returns the stored clip bytes.
func (c *ClipStore) Read(speakerID, digest string) ([]byte, error) {
	return os.ReadFile(c.Path(speakerID, digest))
}

// RemoveSpeaker deletes every clip stored for a speaker.
func (c *ClipStore) RemoveSpeaker(speakerID string) error {
	if speakerID == "" {
		return errors.New("speaker id required")
	}
	return os.RemoveAll(filepath.Join(c.root, speakerID))
}
