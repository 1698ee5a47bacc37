package normalize

import (
	"testing"

	"github.com/playhtml/playroom/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeHost(t *testing.T) {
	cases := []struct {
		name    string
		host    string
		want    string
		wantErr bool
	}{
		{"lowercases", "Example.COM", "example.com", false},
		{"strips www", "www.example.com", "example.com", false},
		{"rejects empty", "", "", true},
		{"rejects path separator", "example.com/room", "", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NormalizeHost(tc.host)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestNormalizePath(t *testing.T) {
	cases := []struct {
		name string
		path string
		want string
	}{
		{"empty becomes root", "", "/"},
		{"strips trailing slash", "/rooms/abc/", "/rooms/abc"},
		{"keeps root slash", "/", "/"},
		{"strips extension", "/rooms/abc.html", "/rooms/abc"},
		{"decodes once", "/rooms/a%20b", "/rooms/a b"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NormalizePath(tc.path)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestCanonicalRoomIDIdempotent(t *testing.T) {
	id1, err := CanonicalRoomID("WWW.Example.com", "/rooms/abc.html")
	require.NoError(t, err)

	id2, err := CanonicalRoomID("example.com", "/rooms/abc")
	require.NoError(t, err)

	assert.Equal(t, id1, id2)
}

func TestIsInvalidID(t *testing.T) {
	assert.True(t, IsInvalidID("undefined"))
	assert.True(t, IsInvalidID("%"))

	valid, err := CanonicalRoomID("example.com", "/room")
	require.NoError(t, err)
	assert.False(t, IsInvalidID(valid))
}

func TestResolveRedirectFollowsChain(t *testing.T) {
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.InsertRedirect("legacy-a", "legacy-b"))
	require.NoError(t, store.InsertRedirect("legacy-b", "canonical"))
	require.NoError(t, store.Upsert("canonical", "snapshot"))

	resolved, err := ResolveRedirect(store, "legacy-a")
	require.NoError(t, err)
	assert.Equal(t, "canonical", resolved)

	resolved, err = ResolveRedirect(store, "canonical")
	require.NoError(t, err)
	assert.Equal(t, "canonical", resolved)
}
