package local_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seoscope/internal/archive/local"
	"seoscope/internal/audit"
)

func TestNew(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		store, err := local.New(local.Config{BaseDir: t.TempDir()})
		require.NoError(t, err)
		assert.NotNil(t, store)
	})

	t.Run("MissingBaseDir", func(t *testing.T) {
		_, err := local.New(local.Config{})
		assert.Error(t, err)
	})

	t.Run("CreatesMissingDirectory", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "reports")
		_, err := local.New(local.Config{BaseDir: dir})
		require.NoError(t, err)
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("BaseDirIsNotADirectory", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := local.New(local.Config{BaseDir: file})
		assert.Error(t, err)
	})
}

func TestStoreReport(t *testing.T) {
	dir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)

	report := &audit.ScoreReport{Site: "example.com", OverallScore: 88}
	uri, err := store.StoreReport(context.Background(), "job-42", report)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(uri, "file://"))

	raw, err := os.ReadFile(filepath.Join(dir, "job-42.json"))
	require.NoError(t, err)
	var got audit.ScoreReport
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, 88, got.OverallScore)
}

func TestStoreReportStripsPathComponents(t *testing.T) {
	dir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)

	_, err = store.StoreReport(context.Background(), "../escape", &audit.ScoreReport{})
	require.NoError(t, err)
	_, statErr := os.Stat(filepath.Join(dir, "escape.json"))
	assert.NoError(t, statErr, "job id is reduced to its base name")
}
