package syncserver

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/playhtml/playroom/pkg/lease"
	"github.com/playhtml/playroom/pkg/room"
	"github.com/playhtml/playroom/pkg/storage"
	"github.com/playhtml/playroom/pkg/types"
	"github.com/stretchr/testify/require"
)

func newTestHarness(t *testing.T) (*httptest.Server, *room.Registry) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	leaseM := lease.NewManager(store, time.Hour, types.DefaultLeaseMs, nil)
	registry := room.NewRegistry(store, leaseM, nil, nil)

	r := chi.NewRouter()
	NewServer(registry).Routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, registry
}

func dial(t *testing.T, srv *httptest.Server, roomID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/room/" + roomID
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

// TestSyncServerRelaysBinaryOpsBetweenConnections exercises the live relay
// loop end to end: one client's binary op frame reaches a second client on
// the same room.
func TestSyncServerRelaysBinaryOpsBetweenConnections(t *testing.T) {
	srv, _ := newTestHarness(t)

	a := dial(t, srv, "room-a")
	b := dial(t, srv, "room-a")

	// Give the registry a moment to register both connections and start
	// the relay loop before sending the edit.
	time.Sleep(20 * time.Millisecond)

	frame, err := encodeOps([]Op{{Tag: "can-move", ElementID: "sticky-1", Value: map[string]any{"x": float64(3)}}})
	require.NoError(t, err)
	require.NoError(t, a.WriteMessage(websocket.BinaryMessage, frame))

	b.SetReadDeadline(time.Now().Add(2 * time.Second))
	messageType, data, err := b.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.BinaryMessage, messageType)

	ops, err := decodeOps(data)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	require.Equal(t, "sticky-1", ops[0].ElementID)
}

// TestSyncServerBroadcastsUnrecognizedTextVerbatim confirms a text frame
// that isn't a known control message is relayed to other connections as-is
// rather than dropped.
func TestSyncServerBroadcastsUnrecognizedTextVerbatim(t *testing.T) {
	srv, _ := newTestHarness(t)

	a := dial(t, srv, "room-b")
	b := dial(t, srv, "room-b")
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte("hello")))

	b.SetReadDeadline(time.Now().Add(2 * time.Second))
	messageType, data, err := b.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, messageType)
	require.Equal(t, "hello", string(data))
}

// TestSyncServerRejectsInvalidRoomID confirms a malformed room id is
// rejected at the HTTP layer, before any WebSocket upgrade is attempted.
func TestSyncServerRejectsInvalidRoomID(t *testing.T) {
	srv, _ := newTestHarness(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/room/undefined"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, 400, resp.StatusCode)
}
