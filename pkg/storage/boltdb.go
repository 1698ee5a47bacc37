package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/playhtml/playroom/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketDocuments         = []byte("documents")
	bucketRoomRedirects     = []byte("room_redirects")
	bucketSubscribers       = []byte("subscribers")
	bucketSharedRefs        = []byte("shared_refs")
	bucketSharedPermissions = []byte("shared_permissions")
	bucketRoomMeta          = []byte("room_meta")
)

const keySep = "\x00"

// BoltStore implements Store using a single bbolt file, one bucket per
// entity, mirroring the bucket-per-entity layout of the teacher's
// orchestrator store.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if necessary) a bbolt-backed store under dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "playroom.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketDocuments,
			bucketRoomRedirects,
			bucketSubscribers,
			bucketSharedRefs,
			bucketSharedPermissions,
			bucketRoomMeta,
		}
		for _, bucket := range buckets {
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

	return &BoltStore{db: db}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// --- Persistence Store ---

func (s *BoltStore) Load(roomID string) (string, bool, error) {
	var blob string
	var ok bool
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDocuments)
		data := b.Get([]byte(roomID))
		if data == nil {
			return nil
		}
		ok = true
		blob = string(data)
		return nil
	})
	return blob, ok, err
}

func (s *BoltStore) Upsert(roomID string, blob string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDocuments)
		return b.Put([]byte(roomID), []byte(blob))
	})
}

// ListDocumentKeys returns every room ID with a stored document, used by
// the migrate command to find legacy keys needing a redirect.
func (s *BoltStore) ListDocumentKeys() ([]string, error) {
	var keys []string
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDocuments)
		return b.ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	return keys, err
}

func (s *BoltStore) InsertRedirect(oldName, newName string) error {
	redirect := types.RoomRedirect{
		OldName:   oldName,
		NewName:   newName,
		CreatedAt: time.Now(),
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRoomRedirects)
		data, err := json.Marshal(redirect)
		if err != nil {
			return err
		}
		return b.Put([]byte(oldName), data)
	})
}

func (s *BoltStore) GetRedirect(oldName string) (*types.RoomRedirect, error) {
	var redirect *types.RoomRedirect
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRoomRedirects)
		data := b.Get([]byte(oldName))
		if data == nil {
			return nil
		}
		var r types.RoomRedirect
		if err := json.Unmarshal(data, &r); err != nil {
			return err
		}
		redirect = &r
		return nil
	})
	return redirect, err
}

// DeleteRedirectsByNewName removes every redirect row pointing at newName,
// mirroring the ON DELETE CASCADE semantics documented for the schema.
func (s *BoltStore) DeleteRedirectsByNewName(newName string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRoomRedirects)
		c := b.Cursor()
		var stale [][]byte
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var r types.RoomRedirect
			if err := json.Unmarshal(v, &r); err != nil {
				continue
			}
			if r.NewName == newName {
				stale = append(stale, append([]byte(nil), k...))
			}
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// --- Room Storage ---

func subscriberKey(roomID, consumerRoomID string) []byte {
	return []byte(roomID + keySep + consumerRoomID)
}

func (s *BoltStore) ListSubscribers(roomID string) ([]*types.Subscriber, error) {
	var subs []*types.Subscriber
	prefix := []byte(roomID + keySep)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSubscribers)
		c := b.Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var sub types.Subscriber
			if err := json.Unmarshal(v, &sub); err != nil {
				return err
			}
			subs = append(subs, &sub)
		}
		return nil
	})
	return subs, err
}

func (s *BoltStore) PutSubscriber(roomID string, sub *types.Subscriber) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSubscribers)
		data, err := json.Marshal(sub)
		if err != nil {
			return err
		}
		return b.Put(subscriberKey(roomID, sub.ConsumerRoomID), data)
	})
}

func (s *BoltStore) RemoveSubscriber(roomID, consumerRoomID string) (bool, error) {
	var removed bool
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSubscribers)
		key := subscriberKey(roomID, consumerRoomID)
		if b.Get(key) != nil {
			removed = true
		}
		return b.Delete(key)
	})
	return removed, err
}

func sharedRefKey(roomID, sourceRoomID string) []byte {
	return []byte(roomID + keySep + sourceRoomID)
}

func (s *BoltStore) ListSharedRefs(roomID string) ([]*types.SharedRefEntry, error) {
	var refs []*types.SharedRefEntry
	prefix := []byte(roomID + keySep)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSharedRefs)
		c := b.Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var ref types.SharedRefEntry
			if err := json.Unmarshal(v, &ref); err != nil {
				return err
			}
			refs = append(refs, &ref)
		}
		return nil
	})
	return refs, err
}

func (s *BoltStore) PutSharedRef(roomID string, ref *types.SharedRefEntry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSharedRefs)
		data, err := json.Marshal(ref)
		if err != nil {
			return err
		}
		return b.Put(sharedRefKey(roomID, ref.SourceRoomID), data)
	})
}

func (s *BoltStore) RemoveSharedRef(roomID, sourceRoomID string) (bool, error) {
	var removed bool
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSharedRefs)
		key := sharedRefKey(roomID, sourceRoomID)
		if b.Get(key) != nil {
			removed = true
		}
		return b.Delete(key)
	})
	return removed, err
}

func (s *BoltStore) GetSharedPermissions(roomID string) (types.SharedPermissions, error) {
	perms := types.SharedPermissions{}
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSharedPermissions)
		data := b.Get([]byte(roomID))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &perms)
	})
	return perms, err
}

func (s *BoltStore) PutSharedPermission(roomID, elementID string, perm types.Permission) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSharedPermissions)
		perms := types.SharedPermissions{}
		if data := b.Get([]byte(roomID)); data != nil {
			if err := json.Unmarshal(data, &perms); err != nil {
				return err
			}
		}
		perms[elementID] = perm
		data, err := json.Marshal(perms)
		if err != nil {
			return err
		}
		return b.Put([]byte(roomID), data)
	})
}

func (s *BoltStore) ReplaceSharedPermissions(roomID string, perms types.SharedPermissions) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSharedPermissions)
		if perms == nil {
			perms = types.SharedPermissions{}
		}
		data, err := json.Marshal(perms)
		if err != nil {
			return err
		}
		return b.Put([]byte(roomID), data)
	})
}

func (s *BoltStore) GetRoomMeta(roomID string) (*types.RoomMeta, error) {
	meta := &types.RoomMeta{}
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRoomMeta)
		data := b.Get([]byte(roomID))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, meta)
	})
	return meta, err
}

func (s *BoltStore) putRoomMeta(roomID string, mutate func(meta *types.RoomMeta)) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRoomMeta)
		meta := &types.RoomMeta{}
		if data := b.Get([]byte(roomID)); data != nil {
			if err := json.Unmarshal(data, meta); err != nil {
				return err
			}
		}
		mutate(meta)
		data, err := json.Marshal(meta)
		if err != nil {
			return err
		}
		return b.Put([]byte(roomID), data)
	})
}

func (s *BoltStore) SetResetEpoch(roomID string, epoch int64) error {
	return s.putRoomMeta(roomID, func(meta *types.RoomMeta) {
		meta.ResetEpoch = epoch
	})
}

func (s *BoltStore) SetAlarmAt(roomID string, at *time.Time) error {
	return s.putRoomMeta(roomID, func(meta *types.RoomMeta) {
		meta.AlarmAt = at
	})
}
