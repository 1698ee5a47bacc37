package bridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractCopiesOnlyRequestedIDsAcrossTags(t *testing.T) {
	view := map[string]map[string]any{
		"can-move": {
			"sticky-note-1": map[string]any{"x": 1},
			"sticky-note-2": map[string]any{"x": 2},
		},
		"can-toggle": {
			"lamp-1": true,
		},
	}

	out := Extract(view, []string{"sticky-note-1", "lamp-1"})

	assert.Equal(t, map[string]any{"x": 1}, out["can-move"]["sticky-note-1"])
	assert.NotContains(t, out["can-move"], "sticky-note-2")
	assert.Equal(t, true, out["can-toggle"]["lamp-1"])
}

func TestAssignCreatesAbsentElement(t *testing.T) {
	store := map[string]map[string]any{}
	get := func(tag, id string) (any, bool) {
		v, ok := store[tag][id]
		return v, ok
	}
	set := func(tag, id string, v any) {
		if store[tag] == nil {
			store[tag] = make(map[string]any)
		}
		store[tag][id] = v
	}

	Assign(get, set, map[string]map[string]any{
		"can-move": {"sticky-note-1": map[string]any{"x": float64(1)}},
	})

	assert.Equal(t, map[string]any{"x": float64(1)}, store["can-move"]["sticky-note-1"])
}

func TestAssignDeepReplaceDropsAbsentKeys(t *testing.T) {
	store := map[string]map[string]any{
		"can-move": {
			"sticky-note-1": map[string]any{"x": float64(1), "y": float64(2), "color": "red"},
		},
	}
	get := func(tag, id string) (any, bool) {
		v, ok := store[tag][id]
		return v, ok
	}
	set := func(tag, id string, v any) {
		store[tag][id] = v
	}

	Assign(get, set, map[string]map[string]any{
		"can-move": {"sticky-note-1": map[string]any{"x": float64(9), "y": float64(2)}},
	})

	got := store["can-move"]["sticky-note-1"].(map[string]any)
	assert.Equal(t, float64(9), got["x"])
	assert.Equal(t, float64(2), got["y"])
	assert.NotContains(t, got, "color")
}

func TestAssignSkipsJSONEqualWrites(t *testing.T) {
	store := map[string]map[string]any{
		"can-move": {"sticky-note-1": map[string]any{"x": float64(1)}},
	}
	calls := 0
	get := func(tag, id string) (any, bool) {
		v, ok := store[tag][id]
		return v, ok
	}
	set := func(tag, id string, v any) {
		calls++
		store[tag][id] = v
	}

	Assign(get, set, map[string]map[string]any{
		"can-move": {"sticky-note-1": map[string]any{"x": float64(1)}},
	})

	assert.Equal(t, 0, calls)
}
