package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/strongroom/internal/manifest"
	"github.com/TheMichaelB/strongroom/test/testutil"
)

// setupEnv points the CLI at a fresh data dir with a fixed device id.
func setupEnv(t *testing.T) string {
	t.Helper()
	dataDir := t.TempDir()
	t.Setenv("STRONGROOM_STORAGE_DATA_DIR", dataDir)
	t.Setenv("STRONGROOM_DEVICE_ID", testutil.TestDeviceID)
	t.Setenv("STRONGROOM_LOG_LEVEL", "error")
	t.Setenv(PasswordEnv, testutil.TestPassword)

	t.Cleanup(func() {
		configPath, password = "", ""
		jsonOutput, verbose = false, false
		importMime, importKeepOriginals = "", false
		exportOut, thumbnailOut = "", ""
		orphansPrune, configForce = false, false
		rootCmd.SetArgs(nil)
	})
	return dataDir
}

func execute(t *testing.T, args ...string) error {
	t.Helper()
	rootCmd.SetArgs(append(args, "--config", "", "--json"))
	return rootCmd.Execute()
}

func TestResolvePassword(t *testing.T) {
	setupEnv(t)

	pw, err := resolvePassword("holiday")
	require.NoError(t, err)
	assert.Equal(t, testutil.TestPassword, pw)

	password = "from-flag"
	pw, err = resolvePassword("holiday")
	require.NoError(t, err)
	assert.Equal(t, "from-flag", pw, "flag wins over environment")
}

func TestImportExportRoundTrip(t *testing.T) {
	dataDir := setupEnv(t)
	src := t.TempDir()
	original := testutil.PNG(t, 40, 30)
	path := testutil.WriteFile(t, src, "beach.png", original)

	require.NoError(t, execute(t, "import", "holiday", path, "--keep-originals"))
	assert.FileExists(t, path, "--keep-originals leaves the source")

	vaultDir := filepath.Join(dataDir, "vaults", "holiday")
	entries, err := os.ReadDir(vaultDir)
	require.NoError(t, err)

	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	require.Len(t, ids, 1)
	assert.FileExists(t, filepath.Join(vaultDir, manifest.Name))

	out := filepath.Join(t.TempDir(), "beach.png")
	require.NoError(t, execute(t, "export", "holiday", ids[0], "--out", out))

	exported, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, original, exported)

	thumb := filepath.Join(t.TempDir(), "thumb.jpg")
	require.NoError(t, execute(t, "thumbnail", "holiday", ids[0], "--out", thumb))
	assert.FileExists(t, thumb)
}

func TestOpenWrongPassword(t *testing.T) {
	setupEnv(t)
	require.NoError(t, execute(t, "open", "holiday"))

	err := execute(t, "open", "holiday", "--password", testutil.WrongPassword)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot be opened")
}

func TestConfigInit(t *testing.T) {
	setupEnv(t)
	path := filepath.Join(t.TempDir(), "strongroom.yaml")

	require.NoError(t, execute(t, "config", "init", path))
	assert.FileExists(t, path)

	err := execute(t, "config", "init", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}
