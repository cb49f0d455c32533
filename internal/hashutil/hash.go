package hashutil

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// HashRange computes the SHA256 digest of bytes [start, end) of the file at
// path, hex-encoded. It never reads past end, which keeps prefix hashing
// O(prefix) regardless of how large the file has grown.
func HashRange(path string, start, end int64) (string, error) {
	if start < 0 || end < start {
		return "", fmt.Errorf("invalid hash range [%d, %d)", start, end)
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file for hashing: %w", err)
	}
	defer f.Close()

	if start > 0 {
		if _, err := f.Seek(start, io.SeekStart); err != nil {
			return "", fmt.Errorf("failed to seek to %d: %w", start, err)
		}
	}

	h := sha256.New()
	n, err := io.Copy(h, io.LimitReader(f, end-start))
	if err != nil {
		return "", fmt.Errorf("failed to read hash range: %w", err)
	}
	if n < end-start {
		return "", fmt.Errorf("short read hashing [%d, %d): got %d bytes", start, end, n)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashFile computes the digest of the whole file.
func HashFile(path string) (string, int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", 0, fmt.Errorf("failed to stat file: %w", err)
	}
	digest, err := HashRange(path, 0, info.Size())
	if err != nil {
		return "", 0, err
	}
	return digest, info.Size(), nil
}
