package api

import (
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carebell/carebell-go/internal/registry"
)

func newTestRegistry(t *testing.T, content string) *registry.Registry {
	t.Helper()
	path := filepath.Join(t.TempDir(), "master.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	reg := registry.New(path)
	require.NoError(t, reg.Load())
	return reg
}

const registrySeed = `{
  "masterData": [
    {"charCode": "101", "roomName": "Room 1", "bedName": "Bed 1", "v1": "ding.mp3", "v2": "room1.mp3"},
    {"charCode": "102", "roomName": "Room 1", "bedName": "Bed 2", "v1": "ding.mp3", "v2": "-"}
  ]
}`

func TestGetRegistry(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t, registrySeed)
	s := newTestServer(t, nil, WithDirectory(reg))

	rec := perform(s, http.MethodGet, "/api/v1/registry", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.InDelta(t, 2, body["codes"], 0)
	assert.NotEmpty(t, body["loaded_at"])
	assert.NotEmpty(t, body["path"])
}

func TestReloadRegistryPicksUpChanges(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t, registrySeed)
	s := newTestServer(t, nil, WithDirectory(reg))

	extended := `{
  "masterData": [
    {"charCode": "101", "roomName": "Room 1", "bedName": "Bed 1", "v1": "ding.mp3"},
    {"charCode": "102", "roomName": "Room 1", "bedName": "Bed 2", "v1": "ding.mp3"},
    {"charCode": "103", "roomName": "Room 2", "bedName": "Bed 1", "v1": "ding.mp3"}
  ]
}`
	require.NoError(t, os.WriteFile(reg.Path(), []byte(extended), 0o644))

	rec := perform(s, http.MethodPost, "/api/v1/registry/reload", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.InDelta(t, 3, decodeBody(t, rec)["codes"], 0)
	assert.Equal(t, 3, reg.Len())
}

func TestReloadRegistryPreloadsNewCatalog(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t, registrySeed)
	audio := &fakeAudio{}
	s := newTestServer(t, nil, WithDirectory(reg), WithAudio(audio))

	rec := perform(s, http.MethodPost, "/api/v1/registry/reload", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"ding.mp3", "room1.mp3"}, audio.preloadedNames(),
		"a successful reload pushes the catalog into the playback cache")
}

func TestReloadRegistryKeepsSnapshotOnFailure(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t, registrySeed)
	s := newTestServer(t, nil, WithDirectory(reg))

	require.NoError(t, os.WriteFile(reg.Path(), []byte("{not json"), 0o644))

	rec := perform(s, http.MethodPost, "/api/v1/registry/reload", "", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, 2, reg.Len(), "previous snapshot survives a bad reload")
}

func TestRegistryEndpointsWithoutDirectory(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil)
	rec := perform(s, http.MethodGet, "/api/v1/registry", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = perform(s, http.MethodPost, "/api/v1/registry/reload", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
