package state

import (
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

// Bucket layout shared by the state store and the job ledger. Keeping both
// in one database file lets a single recovery sweep reason about crash
// consistency between them.
var (
	bucketStates  = []byte("raw_log_states")
	bucketHashIdx = []byte("content_hash_index")
	bucketJobs    = []byte("ingestion_jobs")
)

// Open opens (or creates) the bolt database and ensures all buckets exist.
func Open(dbPath string) (*bbolt.DB, error) {
	// Short timeout: if the file is locked another process holds it, and
	// waiting will not help.
	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open boltdb (file may be locked by another process): %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketStates, bucketHashIdx, bucketJobs} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return db, nil
}

// JobsBucket exposes the ledger bucket name for the ledger package.
func JobsBucket() []byte { return bucketJobs }
