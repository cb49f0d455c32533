// Package state persists RawLogState records in BoltDB: one record per
// tracked file keyed by path, with a secondary unique index from content
// hash to path for cross-source deduplication.
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.etcd.io/bbolt"

	"github.com/convolog/ingestd/internal/domain"
)

// Store is the single writer of RawLogState. Only the orchestrator's
// finalize step may call Save.
type Store struct {
	db *bbolt.DB
}

// NewStore wraps an opened bolt database.
func NewStore(db *bbolt.DB) *Store {
	return &Store{db: db}
}

// Get retrieves the state for a file path. Returns (nil, nil) when the file
// has never been successfully ingested.
func (s *Store) Get(ctx context.Context, filePath string) (*domain.RawLogState, error) {
	var st *domain.RawLogState

	err := s.db.View(func(tx *bbolt.Tx) error {
		val := tx.Bucket(bucketStates).Get([]byte(filePath))
		if val == nil {
			return nil
		}
		var decoded domain.RawLogState
		if err := json.Unmarshal(val, &decoded); err != nil {
			return fmt.Errorf("corrupt state record for %s: %w", filePath, err)
		}
		st = &decoded
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get raw log state: %w", err)
	}
	return st, nil
}

// GetByContentHash resolves a whole-file content hash to its state record.
// Returns (nil, nil) when the hash has never been seen.
func (s *Store) GetByContentHash(ctx context.Context, contentHash string) (*domain.RawLogState, error) {
	var path string

	err := s.db.View(func(tx *bbolt.Tx) error {
		val := tx.Bucket(bucketHashIdx).Get([]byte(contentHash))
		if val != nil {
			path = string(val)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to look up content hash: %w", err)
	}
	if path == "" {
		return nil, nil
	}

	st, err := s.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	if st == nil || st.ContentHash != contentHash {
		// Stale index entry (the file was rewritten under the same path).
		return nil, nil
	}
	return st, nil
}

// Save writes a state record and its hash index entry in one transaction,
// removing the index entry of the hash it replaces.
func (s *Store) Save(ctx context.Context, st *domain.RawLogState) error {
	if st.LastProcessedOffset > st.FileSizeBytes {
		return fmt.Errorf("%w: offset %d, size %d", domain.ErrInvalidState,
			st.LastProcessedOffset, st.FileSizeBytes)
	}
	st.UpdatedAt = time.Now().UTC()

	val, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		states := tx.Bucket(bucketStates)
		hashIdx := tx.Bucket(bucketHashIdx)

		if prev := states.Get([]byte(st.FilePath)); prev != nil {
			var old domain.RawLogState
			if err := json.Unmarshal(prev, &old); err == nil &&
				old.ContentHash != "" && old.ContentHash != st.ContentHash {
				if err := hashIdx.Delete([]byte(old.ContentHash)); err != nil {
					return err
				}
			}
		}

		if err := states.Put([]byte(st.FilePath), val); err != nil {
			return err
		}
		return hashIdx.Put([]byte(st.ContentHash), []byte(st.FilePath))
	})
	if err != nil {
		return fmt.Errorf("failed to save raw log state: %w", err)
	}

	log.Debug().
		Str("file_path", st.FilePath).
		Int64("offset", st.LastProcessedOffset).
		Int64("line", st.LastProcessedLine).
		Int64("size", st.FileSizeBytes).
		Msg("Raw log state saved")

	return nil
}

// Delete removes a state record and its hash index entry. Used only by the
// forced re-ingestion path.
func (s *Store) Delete(ctx context.Context, filePath string) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		states := tx.Bucket(bucketStates)
		hashIdx := tx.Bucket(bucketHashIdx)

		if prev := states.Get([]byte(filePath)); prev != nil {
			var old domain.RawLogState
			if err := json.Unmarshal(prev, &old); err == nil && old.ContentHash != "" {
				if err := hashIdx.Delete([]byte(old.ContentHash)); err != nil {
					return err
				}
			}
		}
		return states.Delete([]byte(filePath))
	})
	if err != nil {
		return fmt.Errorf("failed to delete raw log state: %w", err)
	}
	return nil
}

// List returns all tracked states.
func (s *Store) List(ctx context.Context) ([]*domain.RawLogState, error) {
	var result []*domain.RawLogState

	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketStates).ForEach(func(k, v []byte) error {
			var st domain.RawLogState
			if err := json.Unmarshal(v, &st); err != nil {
				log.Warn().Str("file_path", string(k)).Msg("Skipping corrupt state record")
				return nil
			}
			result = append(result, &st)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list raw log states: %w", err)
	}
	return result, nil
}
