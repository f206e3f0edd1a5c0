package kv

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var boltBucket = []byte("kv")

// boltRecord wraps a value with its absolute expiry in unix nanoseconds.
type boltRecord struct {
	Value     string `json:"v"`
	ExpiresAt int64  `json:"exp,omitempty"`
}

func (r boltRecord) expired(now time.Time) bool {
	return r.ExpiresAt != 0 && now.UnixNano() >= r.ExpiresAt
}

// Bolt is a Store persisted to a single local BoltDB file.
// Expired keys are hidden on read and removed by DeleteExpired.
type Bolt struct {
	db  *bolt.DB
	now func() time.Time
}

// NewBolt opens (or creates) the database file at path.
func NewBolt(path string) (*Bolt, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("kv: create bolt dir: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("kv: open bolt %q: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("kv: create bolt bucket: %w", err)
	}
	return &Bolt{db: db, now: time.Now}, nil
}

func (b *Bolt) Get(_ context.Context, key string) (string, error) {
	var (
		rec   boltRecord
		found bool
	)
	err := b.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(boltBucket).Get([]byte(key))
		if raw == nil {
			return nil
		}
		found = true
		return json.Unmarshal(raw, &rec)
	})
	if err != nil {
		return "", fmt.Errorf("kv: bolt get %q: %w", key, err)
	}
	if !found || rec.expired(b.now()) {
		return "", ErrNotFound
	}
	return rec.Value, nil
}

func (b *Bolt) Put(_ context.Context, key, value string, ttl time.Duration) error {
	rec := boltRecord{Value: value}
	if ttl > 0 {
		rec.ExpiresAt = b.now().Add(ttl).UnixNano()
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("kv: bolt encode %q: %w", key, err)
	}
	err = b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boltBucket).Put([]byte(key), raw)
	})
	if err != nil {
		return fmt.Errorf("kv: bolt put %q: %w", key, err)
	}
	return nil
}

func (b *Bolt) Delete(_ context.Context, key string) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boltBucket).Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("kv: bolt delete %q: %w", key, err)
	}
	return nil
}

func (b *Bolt) List(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	now := b.now()
	p := []byte(prefix)
	err := b.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(boltBucket).Cursor()
		for k, v := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, v = c.Next() {
			var rec boltRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				// Skip malformed entries instead of failing the whole scan
				continue
			}
			if !rec.expired(now) {
				keys = append(keys, string(k))
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("kv: bolt list %q: %w", prefix, err)
	}
	return keys, nil
}

// DeleteExpired removes every expired record and returns how many were removed.
func (b *Bolt) DeleteExpired(_ context.Context) (int, error) {
	now := b.now()
	removed := 0
	err := b.db.Update(func(tx *bolt.Tx) error {
		bk := tx.Bucket(boltBucket)
		var stale [][]byte
		err := bk.ForEach(func(k, v []byte) error {
			var rec boltRecord
			if err := json.Unmarshal(v, &rec); err != nil || rec.expired(now) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := bk.Delete(k); err != nil {
				return err
			}
		}
		removed = len(stale)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("kv: bolt sweep: %w", err)
	}
	return removed, nil
}

func (b *Bolt) Close() error {
	return b.db.Close()
}
