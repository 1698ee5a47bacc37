package room

import (
	"context"
	"testing"
	"time"

	"github.com/playhtml/playroom/pkg/crdtdoc"
	"github.com/playhtml/playroom/pkg/lease"
	"github.com/playhtml/playroom/pkg/storage"
	"github.com/playhtml/playroom/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	leaseM := lease.NewManager(store, time.Hour, types.DefaultLeaseMs, nil)
	return NewRegistry(store, leaseM, nil, nil)
}

func TestRoomTransactAndView(t *testing.T) {
	reg := newTestRegistry(t)
	r, err := reg.GetOrCreate("room-a")
	require.NoError(t, err)

	r.Transact("client-1", func(t *crdtdoc.Txn) {
		t.Set("can-move", "sticky-1", map[string]any{"x": 10})
	})

	view := r.Doc().View()
	assert.Equal(t, map[string]any{"x": 10}, anyToMap(view["can-move"]["sticky-1"]))
}

func anyToMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func TestRoomAutosavePersistsAndReloads(t *testing.T) {
	reg := newTestRegistry(t)
	r, err := reg.GetOrCreate("room-a")
	require.NoError(t, err)

	r.Transact("client-1", func(t *crdtdoc.Txn) {
		t.Set("can-toggle", "lamp-1", true)
	})
	require.True(t, r.Doc().Dirty())
	require.NoError(t, r.ForceSave())
	assert.False(t, r.Doc().Dirty())

	blob, ok, err := r.Store().Load("room-a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEmpty(t, blob)

	// A fresh Room loading the same store must see the persisted state.
	reloaded, err := New("room-a", r.Store(), reg, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { reloaded.Close(context.Background()) })

	view := reloaded.Doc().View()
	assert.Equal(t, true, view["can-toggle"]["lamp-1"])
}

func TestHardResetBumpsEpochAndClearsHistory(t *testing.T) {
	reg := newTestRegistry(t)
	r, err := reg.GetOrCreate("room-a")
	require.NoError(t, err)

	r.Transact("client-1", func(t *crdtdoc.Txn) {
		t.Set("can-move", "sticky-1", map[string]any{"x": 1})
	})
	require.NoError(t, r.ForceSave())

	epoch, err := r.HardReset(time.Now())
	require.NoError(t, err)
	assert.Greater(t, epoch, int64(0))
	assert.Equal(t, epoch, r.Doc().ResetEpoch())

	meta, err := r.Store().GetRoomMeta("room-a")
	require.NoError(t, err)
	assert.Equal(t, epoch, meta.ResetEpoch)

	// The logical value must survive the reset even though history doesn't.
	view := r.Doc().View()
	assert.Equal(t, map[string]any{"x": 1}, anyToMap(view["can-move"]["sticky-1"]))
}

func TestRestoreRawAdoptsSnapshotEpoch(t *testing.T) {
	reg := newTestRegistry(t)
	r, err := reg.GetOrCreate("room-a")
	require.NoError(t, err)

	other := crdtdoc.New()
	other.SetResetEpoch(999)
	other.Transact("seed", func(t *crdtdoc.Txn) {
		t.Set("can-move", "sticky-9", map[string]any{"x": 2})
	})
	snapshotBytes, err := other.Snapshot()
	require.NoError(t, err)

	epoch, err := r.RestoreRaw(encodeBlob(snapshotBytes), false, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(999), epoch)

	view := r.Doc().View()
	assert.Equal(t, map[string]any{"x": float64(2)}, anyToMap(view["can-move"]["sticky-9"]))
}

func TestFindConnByID(t *testing.T) {
	reg := newTestRegistry(t)
	r, err := reg.GetOrCreate("room-a")
	require.NoError(t, err)

	c := &fakeConn{id: "conn-1"}
	r.Register(c)
	t.Cleanup(func() { r.Unregister(c) })

	found := r.FindConn("conn-1")
	assert.Equal(t, c, found)
	assert.Nil(t, r.FindConn("does-not-exist"))
}

type fakeConn struct {
	id   string
	sent [][]byte
}

func (c *fakeConn) ID() string { return c.id }
func (c *fakeConn) SendText(data []byte) error {
	c.sent = append(c.sent, data)
	return nil
}
func (c *fakeConn) SendBinary(data []byte) error {
	c.sent = append(c.sent, data)
	return nil
}
func (c *fakeConn) Close(code int, reason string) error { return nil }
