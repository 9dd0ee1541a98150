package services

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/MegaGrindStone/local-chat/internal/models"
	bolt "go.etcd.io/bbolt"
)

// BoltDB is a key-value store backed by a BoltDB file. The background process keeps the retained
// conversation and its settings in it; a UI surface keeps its selected model in its own file.
type BoltDB struct {
	db *bolt.DB
}

var (
	historyBucket  = []byte("history")
	settingsBucket = []byte("settings")
)

// NewBoltDB creates a new BoltDB instance with the specified file path. It initializes the database
// with required buckets and returns an error if the database cannot be opened or initialized. The
// database file is created with 0600 permissions if it doesn't exist.
func NewBoltDB(path string) (BoltDB, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return BoltDB{}, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{historyBucket, settingsBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return BoltDB{}, err
	}

	return BoltDB{db: db}, nil
}

// Close releases the database file.
func (b BoltDB) Close() error {
	return b.db.Close()
}

// History returns the retained conversation in the order it was stored.
func (b BoltDB) History(context.Context) ([]models.Message, error) {
	var messages []models.Message
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(historyBucket).ForEach(func(_, v []byte) error {
			var message models.Message
			if err := json.Unmarshal(v, &message); err != nil {
				return fmt.Errorf("failed to unmarshal message: %w", err)
			}
			messages = append(messages, message)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// SetHistory replaces the retained conversation with messages.
func (b BoltDB) SetHistory(_ context.Context, messages []models.Message) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(historyBucket); err != nil {
			return fmt.Errorf("failed to drop history: %w", err)
		}
		bkt, err := tx.CreateBucket(historyBucket)
		if err != nil {
			return fmt.Errorf("failed to create history: %w", err)
		}
		return putMessages(bkt, messages)
	})
}

// AppendHistory appends messages to the retained conversation.
func (b BoltDB) AppendHistory(_ context.Context, messages ...models.Message) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return putMessages(tx.Bucket(historyBucket), messages)
	})
}

// ClearHistory forgets the retained conversation.
func (b BoltDB) ClearHistory(ctx context.Context) error {
	return b.SetHistory(ctx, nil)
}

// Setting returns the value stored under key and whether it exists.
func (b BoltDB) Setting(_ context.Context, key string) (string, bool, error) {
	var (
		value string
		ok    bool
	)
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(settingsBucket).Get([]byte(key))
		if v != nil {
			value, ok = string(v), true
		}
		return nil
	})
	return value, ok, err
}

// SetSetting stores value under key.
func (b BoltDB) SetSetting(_ context.Context, key, value string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(settingsBucket).Put([]byte(key), []byte(value))
	})
}

// putMessages keys each message by the bucket sequence in big-endian so that ForEach returns them
// in insertion order.
func putMessages(bkt *bolt.Bucket, messages []models.Message) error {
	for _, message := range messages {
		seq, err := bkt.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to get next sequence: %w", err)
		}

		v, err := json.Marshal(message)
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}

		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		if err := bkt.Put(key, v); err != nil {
			return fmt.Errorf("failed to put message: %w", err)
		}
	}
	return nil
}
