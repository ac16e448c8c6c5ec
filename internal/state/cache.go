package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketCursors = []byte("rotation_cursors")
	bucketSamples = []byte("response_samples")
	bucketErrors  = []byte("server_errors")
)

const (
	maxSamples = 100
	maxErrors  = 50
)

// Cache is the shared fast store behind rotation: the per-(owner, kind)
// round-robin cursor plus bounded per-server diagnostics. All workers
// of one deployment point at the same file.
type Cache struct {
	db *bolt.DB
}

// New opens the cache file and creates the buckets
func New(path string) (*Cache, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketCursors, bucketSamples, bucketErrors} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Cache{db: db}, nil
}

// Close closes the cache
func (c *Cache) Close() error {
	return c.db.Close()
}

// cursor is the stored round-robin position for one (owner, kind)
type cursor struct {
	Index     uint64    `json:"index"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Sample is one observed response time
type Sample struct {
	ResponseMs float64   `json:"response_ms"`
	At         time.Time `json:"at"`
}

// ErrorEntry is one recorded failure message
type ErrorEntry struct {
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

func cursorKey(ownerID string, kind string) []byte {
	return []byte(ownerID + "|" + kind)
}

// NextIndex returns the current cursor position for (owner, kind) and
// advances it by one in the same transaction. A cursor older than ttl
// restarts at 0; ttl 0 means no expiry. Callers take the returned value
// modulo their candidate count, so a stale position is never invalid.
func (c *Cache) NextIndex(ownerID string, kind string, ttl time.Duration) (uint64, error) {
	var index uint64

	err := c.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketCursors)
		key := cursorKey(ownerID, kind)
		now := time.Now()

		var cur cursor
		if data := bucket.Get(key); data != nil {
			if err := json.Unmarshal(data, &cur); err == nil {
				if ttl <= 0 || now.Sub(cur.UpdatedAt) <= ttl {
					index = cur.Index
				}
			}
		}

		next := cursor{Index: index + 1, UpdatedAt: now}
		data, err := json.Marshal(&next)
		if err != nil {
			return fmt.Errorf("failed to marshal cursor: %w", err)
		}
		return bucket.Put(key, data)
	})
	if err != nil {
		return 0, err
	}

	return index, nil
}

// ResetCursor drops the cursor for (owner, kind)
func (c *Cache) ResetCursor(ownerID string, kind string) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCursors).Delete(cursorKey(ownerID, kind))
	})
}

// AddSample appends one response-time observation for a server,
// keeping the most recent maxSamples
func (c *Cache) AddSample(serverID string, responseMs float64) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketSamples)
		key := []byte(serverID)

		var samples []Sample
		if data := bucket.Get(key); data != nil {
			if err := json.Unmarshal(data, &samples); err != nil {
				samples = nil
			}
		}

		samples = append(samples, Sample{ResponseMs: responseMs, At: time.Now()})
		if len(samples) > maxSamples {
			samples = samples[len(samples)-maxSamples:]
		}

		data, err := json.Marshal(samples)
		if err != nil {
			return fmt.Errorf("failed to marshal samples: %w", err)
		}
		return bucket.Put(key, data)
	})
}

// Samples returns the stored response-time observations for a server,
// oldest first
func (c *Cache) Samples(serverID string) ([]Sample, error) {
	var samples []Sample
	err := c.db.View(func(tx *bolt.Tx) error {
		if data := tx.Bucket(bucketSamples).Get([]byte(serverID)); data != nil {
			return json.Unmarshal(data, &samples)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return samples, nil
}

// AddError records one failure message for a server, keeping the most
// recent maxErrors newest first
func (c *Cache) AddError(serverID string, msg string) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketErrors)
		key := []byte(serverID)

		var entries []ErrorEntry
		if data := bucket.Get(key); data != nil {
			if err := json.Unmarshal(data, &entries); err != nil {
				entries = nil
			}
		}

		entries = append([]ErrorEntry{{Message: msg, At: time.Now()}}, entries...)
		if len(entries) > maxErrors {
			entries = entries[:maxErrors]
		}

		data, err := json.Marshal(entries)
		if err != nil {
			return fmt.Errorf("failed to marshal errors: %w", err)
		}
		return bucket.Put(key, data)
	})
}

// Errors returns the recorded failure messages for a server, newest
// first
func (c *Cache) Errors(serverID string) ([]ErrorEntry, error) {
	var entries []ErrorEntry
	err := c.db.View(func(tx *bolt.Tx) error {
		if data := tx.Bucket(bucketErrors).Get([]byte(serverID)); data != nil {
			return json.Unmarshal(data, &entries)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}
