// Package detect classifies how a tracked file changed since its last
// successful ingestion, by comparing sizes and rehashing only the
// previously-consumed prefix. The hot paths (unchanged, pure append) cost
// O(previously-seen-bytes), never O(current-file-size).
package detect

import (
	"fmt"

	"github.com/convolog/ingestd/internal/domain"
)

// Snapshot is the recorded state a file is compared against.
type Snapshot struct {
	StoredSize        int64
	StoredOffset      int64
	StoredPartialHash string
}

// RehashFunc recomputes the content hash over bytes [0, n) of the file as it
// exists right now.
type RehashFunc func(n int64) (string, error)

// Classify determines the change type for a file of currentSize bytes given
// its recorded snapshot.
//
// Returns domain.ErrInvalidState when the stored offset exceeds the current
// size (corrupt or crash-torn state); callers must treat that like a
// truncation and fall back to a full reparse.
func Classify(currentSize int64, snap Snapshot, rehash RehashFunc) (domain.ChangeType, error) {
	if snap.StoredOffset > currentSize {
		return domain.ChangeTruncate, domain.ErrInvalidState
	}

	if currentSize < snap.StoredSize {
		return domain.ChangeTruncate, nil
	}

	if currentSize == snap.StoredSize && snap.StoredOffset == snap.StoredSize {
		// Fully-consumed file of identical size: same prefix hash means
		// identical content.
		digest, err := rehash(currentSize)
		if err != nil {
			return domain.ChangeRewrite, fmt.Errorf("failed to rehash file: %w", err)
		}
		if digest == snap.StoredPartialHash {
			return domain.ChangeUnchanged, nil
		}
		return domain.ChangeRewrite, nil
	}

	// The file grew, or a previous run committed an offset short of the
	// stored size. Only the consumed prefix's immutability matters for safe
	// resumption, so hash exactly [0, StoredOffset).
	digest, err := rehash(snap.StoredOffset)
	if err != nil {
		return domain.ChangeRewrite, fmt.Errorf("failed to rehash consumed prefix: %w", err)
	}
	if digest == snap.StoredPartialHash {
		return domain.ChangeAppend, nil
	}
	return domain.ChangeRewrite, nil
}
