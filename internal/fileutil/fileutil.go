package fileutil

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/CLIAI/speaker-diarization-toolkit/internal/contenthash"
)

// WriteAtomic writes data to a temp file beside path and renames it into
// place, so readers observe either the old content or the new content.
func WriteAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpPath) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, mode); err != nil {
		cleanup()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		cleanup()
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

// CopyFile streams src to dst with default permissions (0o644).
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}

// CopyFileVerified copies src to dst and compares content digests of both
// sides. dst is removed on mismatch. The verified digest is returned.
func CopyFileVerified(src, dst string) (string, error) {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return "", fmt.Errorf("stat source: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("create destination directory: %w", err)
	}
	if err := CopyFile(src, dst); err != nil {
		_ = os.Remove(dst)
		return "", err
	}

	dstInfo, err := os.Stat(dst)
	if err != nil {
		return "", fmt.Errorf("stat destination: %w", err)
	}
	if dstInfo.Size() != srcInfo.Size() {
		_ = os.Remove(dst)
		return "", fmt.Errorf("copy size mismatch: source %d bytes, copied %d bytes", srcInfo.Size(), dstInfo.Size())
	}

	srcDigest, err := contenthash.SumFile(src)
	if err != nil {
		return "", fmt.Errorf("hash source: %w", err)
	}
	dstDigest, err := contenthash.SumFile(dst)
	if err != nil {
		return "", fmt.Errorf("hash destination: %w", err)
	}
	if srcDigest != dstDigest {
		_ = os.Remove(dst)
		return "", fmt.Errorf("copy hash mismatch: file corrupted during copy")
	}
	return dstDigest, nil
}
