package syncserver

import (
	"testing"
	"time"

	"github.com/playhtml/playroom/pkg/crdtdoc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeOpsRoundTrip(t *testing.T) {
	ops := []Op{
		{Tag: "can-move", ElementID: "sticky-1", Value: map[string]any{"x": float64(5)}},
		{Tag: "can-toggle", ElementID: "lamp-1", Delete: true},
	}

	data, err := encodeOps(ops)
	require.NoError(t, err)

	decoded, err := decodeOps(data)
	require.NoError(t, err)
	require.Len(t, decoded, 2)

	assert.Equal(t, "can-move", decoded[0].Tag)
	assert.Equal(t, "sticky-1", decoded[0].ElementID)
	assert.False(t, decoded[0].Delete)

	assert.Equal(t, "can-toggle", decoded[1].Tag)
	assert.True(t, decoded[1].Delete)
}

func TestDecodeOpsRejectsMalformedFrame(t *testing.T) {
	_, err := decodeOps([]byte("not json"))
	assert.Error(t, err)
}

func TestTouchedIDsDeduplicates(t *testing.T) {
	update := crdtdoc.Update{
		Origin: "client-1",
		Tags:   []string{"can-move", "can-toggle"},
		ElementIDs: map[string][]string{
			"can-move":   {"sticky-1"},
			"can-toggle": {"lamp-1", "sticky-1"},
		},
		At: time.Now(),
	}
	ids := touchedIDs(update)
	assert.ElementsMatch(t, []string{"sticky-1", "lamp-1"}, ids)
}

func TestContainsID(t *testing.T) {
	ids := []string{"a", "b", "c"}
	assert.True(t, containsID(ids, "b"))
	assert.False(t, containsID(ids, "z"))
}
