package local

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/nemanja-m/pulsar/pkg/core"
)

var groupsBucket = []byte("groups")

// BoltGroupStore spills groups to a bbolt database. Each key maps to the
// JSON encoding of its value list. Keys are stored with a one byte prefix
// because bbolt rejects empty keys.
type BoltGroupStore struct {
	db            *bolt.DB
	path          string
	removeOnClose bool
}

// NewBoltGroupStore opens (or creates) the database at path.
func NewBoltGroupStore(path string) (*BoltGroupStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second, NoSync: true})
	if err != nil {
		return nil, fmt.Errorf("failed to open spill database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(groupsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create spill bucket: %w", err)
	}

	return &BoltGroupStore{db: db, path: path}, nil
}

// NewTempBoltGroupStore creates a spill database in dir (or the system temp
// directory) that is removed on Close.
func NewTempBoltGroupStore(dir string, runID uuid.UUID) (*BoltGroupStore, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	store, err := NewBoltGroupStore(filepath.Join(dir, "pulsar-spill-"+runID.String()+".db"))
	if err != nil {
		return nil, err
	}
	store.removeOnClose = true
	return store, nil
}

func (b *BoltGroupStore) Path() string {
	return b.path
}

// Merge reads the stored values of each key, appends the new ones and
// rewrites the merged list in a single transaction.
func (b *BoltGroupStore) Merge(groups map[string][]core.Value) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(groupsBucket)
		for key, values := range groups {
			var merged []core.Value
			if existing := bkt.Get(storeKey(key)); existing != nil {
				if err := json.Unmarshal(existing, &merged); err != nil {
					return fmt.Errorf("failed to decode spilled group %q: %w", key, err)
				}
			}
			merged = append(merged, values...)

			encoded, err := json.Marshal(merged)
			if err != nil {
				return fmt.Errorf("failed to encode group %q: %w", key, err)
			}
			if err := bkt.Put(storeKey(key), encoded); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *BoltGroupStore) ForEach(fn func(core.Group) error) error {
	return b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(groupsBucket).ForEach(func(k, v []byte) error {
			var values []core.Value
			if err := json.Unmarshal(v, &values); err != nil {
				return fmt.Errorf("failed to decode spilled group %q: %w", k, err)
			}
			// k is only valid inside the transaction.
			return fn(core.Group{Key: string(k[1:]), Values: values})
		})
	})
}

func (b *BoltGroupStore) Len() (int, error) {
	var n int
	err := b.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(groupsBucket).Stats().KeyN
		return nil
	})
	return n, err
}

func (b *BoltGroupStore) Close() error {
	err := b.db.Close()
	if b.removeOnClose {
		if rmErr := os.Remove(b.path); rmErr != nil && err == nil {
			err = rmErr
		}
	}
	return err
}

func storeKey(key string) []byte {
	return append([]byte{'g'}, key...)
}
