package profile

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dronedb/ddb-core/internal/index"
)

func TestCredentialStoreLoginCredentialsLogout(t *testing.T) {
	dir := t.TempDir()
	store := NewCredentialStore(dir)

	_, _, err := store.Credentials("https://hub.dronedb.app")
	require.Error(t, err)

	require.NoError(t, store.Login("https://hub.dronedb.app", "alice", "s3cr3t"))

	user, pass, err := store.Credentials("https://hub.dronedb.app")
	require.NoError(t, err)
	require.Equal(t, "alice", user)
	require.Equal(t, "s3cr3t", pass)

	info, err := os.Stat(filepath.Join(dir, "auth.json"))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	require.NoError(t, store.Logout("https://hub.dronedb.app"))

	_, _, err = store.Credentials("https://hub.dronedb.app")
	require.Error(t, err)
}

func TestCredentialStorePersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, NewCredentialStore(dir).Login("https://hub.dronedb.app", "bob", "pw"))

	user, pass, err := NewCredentialStore(dir).Credentials("https://hub.dronedb.app")
	require.NoError(t, err)
	require.Equal(t, "bob", user)
	require.Equal(t, "pw", pass)
}

func TestWriteTagThenReadTag(t *testing.T) {
	ddbDir := t.TempDir()

	require.NoError(t, WriteTag(ddbDir, "https://hub.dronedb.app", "acme", "survey"))

	registryURL, org, dataset, ok, err := ReadTag(ddbDir)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "https://hub.dronedb.app", registryURL)
	require.Equal(t, "acme", org)
	require.Equal(t, "survey", dataset)
}

func TestReadTagMissingReturnsNotOK(t *testing.T) {
	_, _, _, ok, err := ReadTag(t.TempDir())
	require.NoError(t, err)
	require.False(t, ok)
}

func TestParseTagRejectsMalformed(t *testing.T) {
	_, _, _, err := ParseTag("not-a-tag")
	require.Error(t, err)
}

func TestSyncBookmarksRoundTrip(t *testing.T) {
	ddbDir := t.TempDir()
	sb := NewSyncBookmarks(ddbDir)

	_, found, err := sb.LastKnownStamp("https://hub.dronedb.app")
	require.NoError(t, err)
	require.False(t, found)

	stamp := &index.Stamp{Checksum: "abc123"}
	require.NoError(t, sb.SaveStamp("https://hub.dronedb.app", stamp))

	got, found, err := sb.LastKnownStamp("https://hub.dronedb.app")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "abc123", got.Checksum)

	// A second instance against the same directory sees the persisted value.
	got2, found, err := NewSyncBookmarks(ddbDir).LastKnownStamp("https://hub.dronedb.app")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "abc123", got2.Checksum)
}

func TestUserDirHonorsEnvOverride(t *testing.T) {
	t.Setenv(EnvHome, "/tmp/ddb-test-home")

	dir, err := UserDir()
	require.NoError(t, err)
	require.Equal(t, "/tmp/ddb-test-home", dir)
}

func touchOld(t *testing.T, path string, age time.Duration) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	old := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(path, old, old))
}

func TestSweepRemovesStaleThumbsTilesAndTmp(t *testing.T) {
	userDir := t.TempDir()
	ddbDir := t.TempDir()

	staleThumb := filepath.Join(userDir, "thumbs", "512", "aaa.jpg")
	freshThumb := filepath.Join(userDir, "thumbs", "512", "bbb.jpg")
	touchOld(t, staleThumb, 10*24*time.Hour)
	touchOld(t, freshThumb, time.Hour)
	require.NoError(t, os.Chtimes(freshThumb, time.Now(), time.Now()))

	staleRemoteTif := filepath.Join(userDir, "tiles", "ccc.tif")
	touchOld(t, staleRemoteTif, 10*24*time.Hour)

	tmpDir := filepath.Join(ddbDir, "tmp")
	staleTmp := filepath.Join(tmpDir, "scratch.bin")
	touchOld(t, staleTmp, 10*24*time.Hour)

	freed, err := Sweep(context.Background(), userDir, []string{tmpDir}, 5*24*time.Hour)
	require.NoError(t, err)
	require.Greater(t, freed, int64(0))

	require.NoFileExists(t, staleThumb)
	require.FileExists(t, freshThumb)
	require.NoFileExists(t, staleRemoteTif)
	require.NoFileExists(t, staleTmp)
}
