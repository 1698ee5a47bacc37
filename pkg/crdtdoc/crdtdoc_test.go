package crdtdoc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransactSetAndView(t *testing.T) {
	d := New()

	d.Transact("client-1", func(t *Txn) {
		t.Set("can-move", "sticky-note-1", map[string]any{"x": 10, "y": 20})
	})

	view := d.View()
	require.Contains(t, view, "can-move")
	assert.Equal(t, map[string]any{"x": 10, "y": 20}, view["can-move"]["sticky-note-1"])
	assert.True(t, d.Dirty())
}

func TestSubscribeReceivesOriginTaggedUpdate(t *testing.T) {
	d := New()
	ch := d.Subscribe()
	defer d.Unsubscribe(ch)

	d.Transact("bridge:room-a", func(t *Txn) {
		t.Set("can-toggle", "lamp-1", true)
	})

	select {
	case update := <-ch:
		assert.Equal(t, "bridge:room-a", update.Origin)
		assert.ElementsMatch(t, []string{"can-toggle"}, update.Tags)
		assert.Equal(t, []string{"lamp-1"}, update.ElementIDs["can-toggle"])
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for update")
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	d := New()
	d.Transact("client-1", func(t *Txn) {
		t.Set("can-move", "sticky-note-1", float64(1))
	})
	d.SetResetEpoch(7)

	data, err := d.Snapshot()
	require.NoError(t, err)

	restored := New()
	require.NoError(t, restored.Load(data))

	assert.Equal(t, d.View(), restored.View())
	assert.Equal(t, int64(7), restored.ResetEpoch())
}

func TestMergeKeepsHigherVersion(t *testing.T) {
	d := New()
	d.Transact("client-1", func(t *Txn) {
		t.Set("can-move", "sticky-note-1", "old")
	})
	older, err := d.Snapshot()
	require.NoError(t, err)

	d.Transact("client-1", func(t *Txn) {
		t.Set("can-move", "sticky-note-1", "new")
	})

	// Merging the older snapshot back in must not clobber the newer value.
	require.NoError(t, d.Merge(older))
	assert.Equal(t, "new", d.View()["can-move"]["sticky-note-1"])
}

func TestReplaceDropsHistoryAndBumpsEpoch(t *testing.T) {
	d := New()
	d.Transact("client-1", func(t *Txn) {
		t.Set("can-move", "sticky-note-1", "before")
	})

	d.Replace(map[string]map[string]any{
		"can-move": {"sticky-note-1": "after"},
	}, 42)

	assert.Equal(t, "after", d.View()["can-move"]["sticky-note-1"])
	assert.Equal(t, int64(42), d.ResetEpoch())
	assert.True(t, d.Dirty())
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	d := New()
	ch := d.Subscribe()
	d.Unsubscribe(ch)

	_, open := <-ch
	assert.False(t, open)
}
