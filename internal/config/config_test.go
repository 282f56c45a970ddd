package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	ws := t.TempDir()

	cfg, err := Load(ws)
	require.NoError(t, err)

	assert.Equal(t, filepath.Base(ws), cfg.ProjectName)
	assert.Equal(t, filepath.Join(ws, ".orchestro", "orchestro.db"), cfg.Database.Path)
	assert.Equal(t, 0.80, cfg.Story.DoneThreshold)
	assert.Equal(t, "gemini-2.0-flash", cfg.Decomposer.Model)
	assert.Equal(t, "GEMINI_API_KEY", cfg.Decomposer.APIKeyEnv)
	assert.Equal(t, 30, cfg.Decomposer.TimeoutSeconds)
	assert.False(t, cfg.Logging.DebugMode)
}

func TestLoadPartialFileFillsGaps(t *testing.T) {
	ws := t.TempDir()
	dir := filepath.Join(ws, ".orchestro")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"),
		[]byte(`{"project_name": "shop", "story": {"done_threshold": 0.9}}`), 0644))

	cfg, err := Load(ws)
	require.NoError(t, err)

	assert.Equal(t, "shop", cfg.ProjectName)
	assert.Equal(t, 0.9, cfg.Story.DoneThreshold)
	assert.Equal(t, "gemini-2.0-flash", cfg.Decomposer.Model)
	assert.NotEmpty(t, cfg.Database.Path)
}

func TestLoadRejectsMalformedJSON(t *testing.T) {
	ws := t.TempDir()
	dir := filepath.Join(ws, ".orchestro")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte("{nope"), 0644))

	_, err := Load(ws)
	assert.Error(t, err)
}

func TestInvalidThresholdFallsBack(t *testing.T) {
	ws := t.TempDir()
	dir := filepath.Join(ws, ".orchestro")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"),
		[]byte(`{"story": {"done_threshold": 1.5}}`), 0644))

	cfg, err := Load(ws)
	require.NoError(t, err)
	assert.Equal(t, 0.80, cfg.Story.DoneThreshold)
}

func TestWriteLoadRoundTrip(t *testing.T) {
	ws := t.TempDir()
	dir := filepath.Join(ws, ".orchestro")
	require.NoError(t, os.MkdirAll(dir, 0755))

	want := Default(ws)
	want.ProjectName = "roundtrip"
	require.NoError(t, Write(want, filepath.Join(dir, "config.json")))

	got, err := Load(ws)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
