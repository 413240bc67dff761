package telemetry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carebell/carebell-go/internal/conf"
	"github.com/carebell/carebell-go/internal/privacy"
)

func TestInitDisabledByDefault(t *testing.T) {
	settings := &conf.Settings{}
	require.NoError(t, Init(settings))
	assert.False(t, Enabled())

	// No SDK behind them, both must be safe no-ops.
	CaptureMessage("nothing to report", "tracker")
	Flush(0)
}

func TestInitNilSettings(t *testing.T) {
	require.NoError(t, Init(nil))
	assert.False(t, Enabled())
}

func TestLoadOrCreateSystemID(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	id, err := LoadOrCreateSystemID(dir)
	require.NoError(t, err)
	assert.True(t, privacy.IsValidSystemID(id))

	again, err := LoadOrCreateSystemID(dir)
	require.NoError(t, err)
	assert.Equal(t, id, again, "the id must be stable across loads")
}

func TestLoadOrCreateSystemIDReplacesCorruptFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, systemIDFile), []byte("not-an-id"), 0o644))

	id, err := LoadOrCreateSystemID(dir)
	require.NoError(t, err)
	assert.True(t, privacy.IsValidSystemID(id))
	assert.NotEqual(t, "not-an-id", id)
}

func TestLoadOrCreateSystemIDKeepsExisting(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	const seeded = "A1B2-C3D4-E5F6"
	require.NoError(t, os.WriteFile(filepath.Join(dir, systemIDFile), []byte(seeded+"\n"), 0o644))

	id, err := LoadOrCreateSystemID(dir)
	require.NoError(t, err)
	assert.Equal(t, seeded, id)
}
