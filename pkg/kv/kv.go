// Package kv provides typed wrappers over an embedded ordered key-value
// store (bbolt), the primitive every higher layer (object store, commit
// store, reference store, staging area, cache) builds on.
package kv

import (
	"bytes"
	"errors"

	"go.etcd.io/bbolt"
)

// ErrNotFound is returned when a key is not present in a bucket.
var ErrNotFound = errors.New("kv: key not found")

// DB wraps a single bbolt file. Each embedded store in the repository
// layout (objects.db, commits.db, staged.db, cache.db, timestamps.db) is
// one DB value.
type DB struct {
	bolt *bbolt.DB
}

// Open opens or creates a bbolt file at path, creating any named buckets
// that do not yet exist.
func Open(path string, buckets ...string) (*DB, error) {
	b, err := bbolt.Open(path, 0644, nil)
	if err != nil {
		return nil, err
	}
	db := &DB{bolt: b}
	if len(buckets) > 0 {
		if err := db.bolt.Update(func(tx *bbolt.Tx) error {
			for _, name := range buckets {
				if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
					return err
				}
			}
			return nil
		}); err != nil {
			b.Close()
			return nil, err
		}
	}
	return db, nil
}

// Close releases the underlying file handle.
func (db *DB) Close() error {
	return db.bolt.Close()
}

// Bucket returns a typed handle onto one named bucket. The bucket must
// already exist (created via Open's buckets argument or EnsureBucket).
func (db *DB) Bucket(name string) *Bucket {
	return &Bucket{db: db, name: []byte(name)}
}

// EnsureBucket creates a bucket if it does not already exist and returns a
// handle to it.
func (db *DB) EnsureBucket(name string) (*Bucket, error) {
	err := db.bolt.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(name))
		return err
	})
	if err != nil {
		return nil, err
	}
	return db.Bucket(name), nil
}

// Bucket is a typed []byte->[]byte map backed by one bbolt bucket. The
// single-writer/many-readers discipline is bbolt's own: Update takes the
// one writer transaction for the whole DB, View takes a read-only
// snapshot that never blocks on, or is blocked by, writers.
type Bucket struct {
	db   *DB
	name []byte
}

// Put stores value under key.
func (b *Bucket) Put(key, value []byte) error {
	return b.db.bolt.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(b.name).Put(key, value)
	})
}

// Get retrieves the value stored under key, returning ErrNotFound if
// absent. The returned slice is a copy, safe to retain past the
// transaction.
func (b *Bucket) Get(key []byte) ([]byte, error) {
	var out []byte
	err := b.db.bolt.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(b.name).Get(key)
		if v == nil {
			return ErrNotFound
		}
		out = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Exists reports whether key is present.
func (b *Bucket) Exists(key []byte) bool {
	exists := false
	_ = b.db.bolt.View(func(tx *bbolt.Tx) error {
		exists = tx.Bucket(b.name).Get(key) != nil
		return nil
	})
	return exists
}

// Delete removes key, a no-op if it is not present.
func (b *Bucket) Delete(key []byte) error {
	return b.db.bolt.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(b.name).Delete(key)
	})
}

// ForEach iterates all key-value pairs in unspecified-but-stable (bbolt's
// byte-sorted) key order. The function must not retain the slices it is
// given past the call.
func (b *Bucket) ForEach(fn func(key, value []byte) error) error {
	return b.db.bolt.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(b.name).ForEach(fn)
	})
}

// Truncate removes every key from the bucket, used by the staging area's
// clear() after a successful commit.
func (b *Bucket) Truncate() error {
	return b.db.bolt.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(b.name); err != nil && err != bbolt.ErrBucketNotFound {
			return err
		}
		_, err := tx.CreateBucket(b.name)
		return err
	})
}

// BatchPut writes many key-value pairs in a single transaction.
func (b *Bucket) BatchPut(pairs map[string][]byte) error {
	return b.db.bolt.Update(func(tx *bbolt.Tx) error {
		bk := tx.Bucket(b.name)
		for k, v := range pairs {
			if err := bk.Put([]byte(k), v); err != nil {
				return err
			}
		}
		return nil
	})
}

// PrefixScan iterates every key-value pair whose key starts with prefix,
// in sorted key order, via a bbolt cursor seek rather than a full-bucket
// ForEach. fn returning false stops the scan early without an error.
// Used for range queries keyed by a composite prefix: staged row mods
// scoped to one (branch, user, path).
func (b *Bucket) PrefixScan(prefix []byte, fn func(key, value []byte) (cont bool, err error)) error {
	return b.db.bolt.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(b.name).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			cont, err := fn(k, v)
			if err != nil {
				return err
			}
			if !cont {
				break
			}
		}
		return nil
	})
}

// DeletePrefix removes every key starting with prefix.
func (b *Bucket) DeletePrefix(prefix []byte) error {
	return b.db.bolt.Update(func(tx *bbolt.Tx) error {
		bk := tx.Bucket(b.name)
		c := bk.Cursor()
		var keys [][]byte
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			keys = append(keys, append([]byte(nil), k...))
		}
		for _, k := range keys {
			if err := bk.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// Count returns the number of keys in the bucket.
func (b *Bucket) Count() int {
	n := 0
	_ = b.db.bolt.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(b.name).Stats().KeyN
		return nil
	})
	return n
}
