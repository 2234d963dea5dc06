// Package store is the local bbolt-backed cache: credentials that
// survive restarts and per-conversation message history for offline
// preload.
package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang/glog"
	bolt "go.etcd.io/bbolt"

	"github.com/winfeed/winchat/api"
	"github.com/winfeed/winchat/auth"
	"github.com/winfeed/winchat/chat"
)

var (
	credentialsBucket = []byte("credentials")
	historyBucket     = []byte("history")

	credentialKey = []byte("current")
)

// Bolt is the local store. It implements auth.CredentialStore and
// chat.History.
type Bolt struct {
	db *bolt.DB
}

var (
	_ auth.CredentialStore = (*Bolt)(nil)
	_ chat.History         = (*Bolt)(nil)
)

// Open opens (creating if needed) the store at path.
func Open(path string) (*Bolt, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(credentialsBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(historyBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: init buckets: %w", err)
	}
	return &Bolt{db: db}, nil
}

func (s *Bolt) Close() error {
	return s.db.Close()
}

// Get implements auth.CredentialStore. Decode failures count as "no
// credential": forcing a fresh login beats crashing on a corrupt file.
func (s *Bolt) Get() (api.TokenPair, bool) {
	var pair api.TokenPair
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(credentialsBucket).Get(credentialKey)
		if raw == nil {
			return nil
		}
		if err := json.Unmarshal(raw, &pair); err != nil {
			glog.Errorf("store: corrupt credential record: %v", err)
			return nil
		}
		found = pair.Valid()
		return nil
	})
	if err != nil {
		glog.Errorf("store: read credentials: %v", err)
		return api.TokenPair{}, false
	}
	return pair, found
}

// Set implements auth.CredentialStore.
func (s *Bolt) Set(pair api.TokenPair) error {
	raw, err := json.Marshal(pair)
	if err != nil {
		return fmt.Errorf("store: encode credentials: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(credentialsBucket).Put(credentialKey, raw)
	})
}

// Clear implements auth.CredentialStore.
func (s *Bolt) Clear() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(credentialsBucket).Delete(credentialKey)
	})
}

// Append implements chat.History. Messages are keyed by timestamp then
// server id, so a bucket scan yields them in send order. Re-appending
// the same id overwrites in place.
func (s *Bolt) Append(connectionID string, msg chat.Message) error {
	if msg.ID == "" {
		return fmt.Errorf("store: refusing to cache message without server id")
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("store: encode message: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.Bucket(historyBucket).CreateBucketIfNotExists([]byte(connectionID))
		if err != nil {
			return err
		}
		return b.Put(historyKey(msg), raw)
	})
}

// Load implements chat.History, returning cached messages in send order.
func (s *Bolt) Load(connectionID string) ([]chat.Message, error) {
	var out []chat.Message
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(historyBucket).Bucket([]byte(connectionID))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var msg chat.Message
			if err := json.Unmarshal(v, &msg); err != nil {
				glog.Errorf("store: corrupt cached message %q: %v", string(k), err)
				return nil
			}
			out = append(out, msg)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("store: load history for %s: %w", connectionID, err)
	}
	return out, nil
}

// DropHistory removes the cached history of one conversation.
func (s *Bolt) DropHistory(connectionID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		err := tx.Bucket(historyBucket).DeleteBucket([]byte(connectionID))
		if err == bolt.ErrBucketNotFound {
			return nil
		}
		return err
	})
}

func historyKey(msg chat.Message) []byte {
	return []byte(fmt.Sprintf("%020d-%s", msg.SentAt.UnixNano(), msg.ID))
}
