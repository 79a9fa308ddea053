package hashutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFileSHA256(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello world"), 0o600))

	got, err := FileSHA256(path)
	require.NoError(t, err)
	require.Equal(t, "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9", got)
}

func TestFileSHA256Deterministic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.bin")
	require.NoError(t, os.WriteFile(path, []byte("some content"), 0o600))

	a, err := FileSHA256(path)
	require.NoError(t, err)
	b, err := FileSHA256(path)
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestReaderSHA256MatchesFile(t *testing.T) {
	content := "streamed content for hashing"

	got, err := ReaderSHA256(strings.NewReader(content))
	require.NoError(t, err)

	want := BytesSHA256([]byte(content))
	require.Equal(t, want, got)
}

func TestCRC64StringDeterministic(t *testing.T) {
	a := CRC64String("/data/photo.tif*1700000000*256")
	b := CRC64String("/data/photo.tif*1700000000*256")
	require.Equal(t, a, b)
	require.Len(t, a, 16)
}

func TestCRC64StringDiffersOnMtime(t *testing.T) {
	a := CRC64String("/data/photo.tif*1700000000*256")
	b := CRC64String("/data/photo.tif*1700000001*256")
	require.NotEqual(t, a, b)
}
