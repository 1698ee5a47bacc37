package admin

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/playhtml/playroom/pkg/crdtdoc"
	"github.com/playhtml/playroom/pkg/lease"
	"github.com/playhtml/playroom/pkg/room"
	"github.com/playhtml/playroom/pkg/storage"
	"github.com/playhtml/playroom/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, token string) (*Server, chi.Router) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	leaseM := lease.NewManager(store, time.Hour, types.DefaultLeaseMs, nil)
	registry := room.NewRegistry(store, leaseM, nil, nil)

	s := NewServer(registry, token)
	r := chi.NewRouter()
	s.Routes(r)
	return s, r
}

func TestInspectRequiresToken(t *testing.T) {
	_, r := newTestServer(t, "secret")

	req := httptest.NewRequest(http.MethodGet, "/room/room-a/admin/inspect", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestInspectAcceptsQueryToken(t *testing.T) {
	_, r := newTestServer(t, "secret")

	req := httptest.NewRequest(http.MethodGet, "/room/room-a/admin/inspect?token=secret", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var result room.InspectResult
	require.NoError(t, json.NewDecoder(w.Body).Decode(&result))
	assert.False(t, result.Found)
	assert.Equal(t, 0, result.Connections)
}

func TestInspectAcceptsBearerHeader(t *testing.T) {
	_, r := newTestServer(t, "secret")

	req := httptest.NewRequest(http.MethodGet, "/room/room-a/admin/inspect", nil)
	req.Header.Set("Authorization", "Bearer secret")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestEmptyTokenDisablesAuth(t *testing.T) {
	_, r := newTestServer(t, "")

	req := httptest.NewRequest(http.MethodGet, "/room/room-a/admin/inspect", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHardResetViaAdmin(t *testing.T) {
	s, r := newTestServer(t, "")

	rm, err := s.registry.GetOrCreate("room-a")
	require.NoError(t, err)
	rm.Transact("client-1", func(tx *crdtdoc.Txn) {
		tx.Set("can-move", "sticky-1", map[string]any{"x": float64(1)})
	})

	req := httptest.NewRequest(http.MethodPost, "/room/room-a/admin/hard-reset", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]int64
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Greater(t, body["resetEpoch"], int64(0))
}

func TestRemoveSubscriberRequiresBody(t *testing.T) {
	_, r := newTestServer(t, "")

	req := httptest.NewRequest(http.MethodPost, "/room/room-a/admin/remove-subscriber", bytes.NewBufferString("{}"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRawDataRoundTrip(t *testing.T) {
	s, r := newTestServer(t, "")

	rm, err := s.registry.GetOrCreate("room-a")
	require.NoError(t, err)
	rm.Transact("client-1", func(tx *crdtdoc.Txn) {
		tx.Set("can-toggle", "lamp-1", true)
	})
	require.NoError(t, rm.ForceSave())

	req := httptest.NewRequest(http.MethodGet, "/room/room-a/admin/raw-data", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var result room.RawDataResult
	require.NoError(t, json.NewDecoder(w.Body).Decode(&result))
	assert.True(t, result.Found)
	assert.NotEmpty(t, result.Blob)
}

func TestLiveCompareAgreesAfterSave(t *testing.T) {
	s, r := newTestServer(t, "")

	rm, err := s.registry.GetOrCreate("room-a")
	require.NoError(t, err)
	rm.Transact("client-1", func(tx *crdtdoc.Txn) {
		tx.Set("can-toggle", "lamp-1", true)
	})
	require.NoError(t, rm.ForceSave())

	req := httptest.NewRequest(http.MethodGet, "/room/room-a/admin/live-compare", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var result room.LiveCompareResult
	require.NoError(t, json.NewDecoder(w.Body).Decode(&result))
	assert.True(t, result.Equal)
}
