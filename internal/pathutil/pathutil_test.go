package pathutil

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDepth(t *testing.T) {
	require.Equal(t, 0, Depth(""))
	require.Equal(t, 0, Depth("photo.jpg"))
	require.Equal(t, 1, Depth("a/photo.jpg"))
	require.Equal(t, 2, Depth("a/b/photo.jpg"))
}

func TestRelRejectsOutsideRoot(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()

	_, err := Rel(root, filepath.Join(outside, "x.txt"))
	require.Error(t, err)
}

func TestRelComputesForwardSlash(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "a", "b", "c.jpg")

	rel, err := Rel(root, target)
	require.NoError(t, err)
	require.Equal(t, "a/b/c.jpg", rel)
}

func TestHasDottedComponent(t *testing.T) {
	require.True(t, HasDottedComponent("a/../b"))
	require.True(t, HasDottedComponent("./a"))
	require.False(t, HasDottedComponent("a/b/c"))
}

func TestToSlashNormalizesToNFC(t *testing.T) {
	// "e" followed by a combining acute accent (\u0301) is the NFD form
	// macOS reports for a file named with the precomposed "\u00e9" (NFC) --
	// same glyph, two different byte sequences.
	decomposed := "caf" + "e\u0301" + ".jpg"
	composed := "caf\u00e9.jpg"

	require.NotEqual(t, decomposed, composed)
	require.Equal(t, composed, ToSlash(decomposed))
	require.Equal(t, composed, ToSlash(composed))
}

func TestContainsDdbComponent(t *testing.T) {
	require.True(t, ContainsDdbComponent(".ddb/dbase.sqlite"))
	require.True(t, ContainsDdbComponent("a/.ddb/b"))
	require.False(t, ContainsDdbComponent("a/ddb/b"))
}

func TestIsHidden(t *testing.T) {
	require.True(t, IsHidden("/a/.git"))
	require.False(t, IsHidden("/a/photo.jpg"))
}

func TestParents(t *testing.T) {
	require.Equal(t, []string{"a", "a/b"}, Parents("a/b/c.jpg"))
	require.Nil(t, Parents("c.jpg"))
}

func TestSafeCopyAndHardlink(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.bin")
	require.NoError(t, os.WriteFile(src, []byte("content"), 0o600))

	dst := filepath.Join(dir, "nested", "dst.bin")
	require.NoError(t, SafeCopy(src, dst))

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, "content", string(got))

	linked := filepath.Join(dir, "nested2", "linked.bin")
	require.NoError(t, SafeHardlink(src, linked))

	got2, err := os.ReadFile(linked)
	require.NoError(t, err)
	require.Equal(t, "content", string(got2))
}

func TestScopedLockSingleFlight(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "tile.png")

	var builds int32

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan struct{})

	for i := 0; i < 8; i++ {
		go func() {
			defer func() { done <- struct{}{} }()

			_ = WithLock(ctx, target, func() error {
				if _, err := os.Stat(target); err == nil {
					return nil // someone else already built it
				}

				atomic.AddInt32(&builds, 1)

				return os.WriteFile(target, []byte("built"), 0o600)
			})
		}()
	}

	for i := 0; i < 8; i++ {
		<-done
	}

	require.Equal(t, int32(1), atomic.LoadInt32(&builds))
}
