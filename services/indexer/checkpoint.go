package indexer

import (
	"encoding/binary"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketCheckpoint = []byte("checkpoint")
	keyLastRound     = []byte("last-round")
)

// Checkpoint persists the highest round the sink has indexed.
type Checkpoint struct {
	db *bolt.DB
}

// OpenCheckpoint opens (and initialises) the BoltDB checkpoint file.
func OpenCheckpoint(path string) (*Checkpoint, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketCheckpoint)
		return err
	}); err != nil {
		db.Close()
		return nil, err
	}
	return &Checkpoint{db: db}, nil
}

// LastRound returns the stored round, zero when nothing was indexed.
func (c *Checkpoint) LastRound() (uint64, error) {
	var round uint64
	err := c.db.View(func(tx *bolt.Tx) error {
		value := tx.Bucket(bucketCheckpoint).Get(keyLastRound)
		if len(value) == 8 {
			round = binary.BigEndian.Uint64(value)
		}
		return nil
	})
	return round, err
}

// Advance stores round when it is higher than the current checkpoint.
func (c *Checkpoint) Advance(round uint64) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketCheckpoint)
		if value := bucket.Get(keyLastRound); len(value) == 8 && binary.BigEndian.Uint64(value) >= round {
			return nil
		}
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], round)
		return bucket.Put(keyLastRound, buf[:])
	})
}

func (c *Checkpoint) Close() error {
	return c.db.Close()
}
