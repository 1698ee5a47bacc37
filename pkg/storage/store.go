package storage

import (
	"time"

	"github.com/playhtml/playroom/pkg/types"
)

// DocumentStore is the key-value interface keyed by canonical room ID,
// storing a binary CRDT snapshot (base64 blob) plus a redirect table
// mapping legacy room IDs to canonical ones. Concurrent upsert from
// multiple coordinator generations may race; resolution is via ResetEpoch
// gating at the CRDT Host layer, not here.
type DocumentStore interface {
	// Load returns the stored blob for roomID, or ("", false, nil) if none exists.
	Load(roomID string) (blob string, ok bool, err error)
	// Upsert writes blob as the current snapshot for roomID. At-least-once;
	// last writer wins.
	Upsert(roomID string, blob string) error

	InsertRedirect(oldName, newName string) error
	GetRedirect(oldName string) (*types.RoomRedirect, error)
	DeleteRedirectsByNewName(newName string) error

	Close() error
}

// RoomStore is the per-room durable KV for subscribers, outgoing
// shared-references, shared-element permissions, reset epoch, and alarm
// timestamps.
type RoomStore interface {
	ListSubscribers(roomID string) ([]*types.Subscriber, error)
	PutSubscriber(roomID string, sub *types.Subscriber) error
	RemoveSubscriber(roomID, consumerRoomID string) (bool, error)

	ListSharedRefs(roomID string) ([]*types.SharedRefEntry, error)
	PutSharedRef(roomID string, ref *types.SharedRefEntry) error
	RemoveSharedRef(roomID, sourceRoomID string) (bool, error)

	GetSharedPermissions(roomID string) (types.SharedPermissions, error)
	PutSharedPermission(roomID, elementID string, perm types.Permission) error
	// ReplaceSharedPermissions overwrites the room's entire sharedPermissions
	// map, per the §4.4 step-5 "overwrite" behavior for a reconnecting source
	// client's sharedElements declaration.
	ReplaceSharedPermissions(roomID string, perms types.SharedPermissions) error

	GetRoomMeta(roomID string) (*types.RoomMeta, error)
	SetResetEpoch(roomID string, epoch int64) error
	SetAlarmAt(roomID string, at *time.Time) error

	Close() error
}

// Store aggregates both interfaces; BoltStore implements both against a
// single bbolt file, matching the teacher's pattern of one database file
// shared by every entity bucket.
type Store interface {
	DocumentStore
	RoomStore
}
