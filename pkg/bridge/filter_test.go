package bridge

import (
	"testing"

	"github.com/playhtml/playroom/pkg/types"
	"github.com/stretchr/testify/assert"
)

func TestFilterForSourceFromConsumerDropsNonExistingAndReadOnly(t *testing.T) {
	existing := map[string]map[string]any{
		"can-move": {"sticky-note-1": map[string]any{"x": 0}},
	}
	perms := types.SharedPermissions{
		"sticky-note-1": types.PermissionReadWrite,
		"sticky-note-2": types.PermissionReadOnly,
	}
	subtrees := map[string]map[string]any{
		"can-move": {
			"sticky-note-1": map[string]any{"x": 5},  // allowed: exists + read-write
			"sticky-note-2": map[string]any{"x": 5},  // dropped: read-only
			"sticky-note-3": map[string]any{"x": 5},  // dropped: doesn't exist locally
		},
	}

	out := FilterForSourceFromConsumer(existing, perms, subtrees)

	assert.Contains(t, out["can-move"], "sticky-note-1")
	assert.NotContains(t, out["can-move"], "sticky-note-2")
	assert.NotContains(t, out["can-move"], "sticky-note-3")
}

func TestFilterForConsumerFromSourceRestrictsToRefElementIDs(t *testing.T) {
	ref := &types.SharedRefEntry{SourceRoomID: "room-a", ElementIDs: []string{"sticky-note-1"}}
	subtrees := map[string]map[string]any{
		"can-move": {
			"sticky-note-1": map[string]any{"x": 1},
			"sticky-note-2": map[string]any{"x": 2},
		},
	}

	out := FilterForConsumerFromSource(ref, subtrees)

	assert.Contains(t, out["can-move"], "sticky-note-1")
	assert.NotContains(t, out["can-move"], "sticky-note-2")
}

func TestFilterSharedForSubscriberRequiresBothWantedAndShared(t *testing.T) {
	sub := &types.Subscriber{ConsumerRoomID: "room-b", ElementIDs: []string{"sticky-note-1", "sticky-note-2"}}
	perms := types.SharedPermissions{"sticky-note-1": types.PermissionReadOnly}
	subtrees := map[string]map[string]any{
		"can-move": {
			"sticky-note-1": map[string]any{"x": 1}, // wanted and shared
			"sticky-note-2": map[string]any{"x": 2}, // wanted but not shared
			"sticky-note-3": map[string]any{"x": 3}, // shared-irrelevant, not wanted
		},
	}

	out := FilterSharedForSubscriber(subtrees, sub, perms)

	assert.Contains(t, out["can-move"], "sticky-note-1")
	assert.NotContains(t, out["can-move"], "sticky-note-2")
	assert.NotContains(t, out["can-move"], "sticky-note-3")
}
