package storage

import (
	"testing"
	"time"

	"github.com/playhtml/playroom/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	store, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestDocumentLoadUpsert(t *testing.T) {
	store := newTestStore(t)

	_, ok, err := store.Load("room-a")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Upsert("room-a", "c25hcHNob3Q="))

	blob, ok, err := store.Load("room-a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "c25hcHNob3Q=", blob)

	require.NoError(t, store.Upsert("room-a", "dXBkYXRlZA=="))
	blob, ok, err = store.Load("room-a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "dXBkYXRlZA==", blob)
}

func TestRedirects(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.InsertRedirect("legacy-room", "canonical-room"))

	redirect, err := store.GetRedirect("legacy-room")
	require.NoError(t, err)
	require.NotNil(t, redirect)
	assert.Equal(t, "canonical-room", redirect.NewName)

	missing, err := store.GetRedirect("never-existed")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, store.DeleteRedirectsByNewName("canonical-room"))
	redirect, err = store.GetRedirect("legacy-room")
	require.NoError(t, err)
	assert.Nil(t, redirect)
}

func TestSubscribersScopedPerRoom(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()

	require.NoError(t, store.PutSubscriber("room-a", &types.Subscriber{
		ConsumerRoomID: "room-b",
		ElementIDs:     []string{"sticky-note-1"},
		CreatedAt:      now,
		LastSeen:       now,
	}))
	require.NoError(t, store.PutSubscriber("room-a", &types.Subscriber{
		ConsumerRoomID: "room-c",
		ElementIDs:     []string{"sticky-note-2"},
		CreatedAt:      now,
		LastSeen:       now,
	}))
	require.NoError(t, store.PutSubscriber("room-z", &types.Subscriber{
		ConsumerRoomID: "room-b",
		ElementIDs:     []string{"unrelated"},
		CreatedAt:      now,
		LastSeen:       now,
	}))

	subs, err := store.ListSubscribers("room-a")
	require.NoError(t, err)
	assert.Len(t, subs, 2)

	removed, err := store.RemoveSubscriber("room-a", "room-b")
	require.NoError(t, err)
	assert.True(t, removed)

	subs, err = store.ListSubscribers("room-a")
	require.NoError(t, err)
	assert.Len(t, subs, 1)
	assert.Equal(t, "room-c", subs[0].ConsumerRoomID)

	// room-z's entry must be unaffected by room-a's removal.
	subs, err = store.ListSubscribers("room-z")
	require.NoError(t, err)
	assert.Len(t, subs, 1)
}

func TestSharedPermissions(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.PutSharedPermission("room-a", "sticky-note-1", types.PermissionReadWrite))
	require.NoError(t, store.PutSharedPermission("room-a", "sticky-note-2", types.PermissionReadOnly))

	perms, err := store.GetSharedPermissions("room-a")
	require.NoError(t, err)
	assert.Equal(t, types.PermissionReadWrite, perms["sticky-note-1"])
	assert.Equal(t, types.PermissionReadOnly, perms["sticky-note-2"])
	assert.Len(t, perms, 2)
}

func TestRoomMetaResetEpochAndAlarm(t *testing.T) {
	store := newTestStore(t)

	meta, err := store.GetRoomMeta("room-a")
	require.NoError(t, err)
	assert.Equal(t, int64(0), meta.ResetEpoch)
	assert.Nil(t, meta.AlarmAt)

	require.NoError(t, store.SetResetEpoch("room-a", 42))
	at := time.Now().Add(4 * time.Hour)
	require.NoError(t, store.SetAlarmAt("room-a", &at))

	meta, err = store.GetRoomMeta("room-a")
	require.NoError(t, err)
	assert.Equal(t, int64(42), meta.ResetEpoch)
	require.NotNil(t, meta.AlarmAt)
	assert.WithinDuration(t, at, *meta.AlarmAt, time.Second)
}
