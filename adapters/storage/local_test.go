package storage_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skryldev/webpbridge/adapters/storage"
	"github.com/Skryldev/webpbridge/core"
	apperrors "github.com/Skryldev/webpbridge/errors"
)

func TestLocal_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	l, err := storage.NewLocal(t.TempDir(), 0)
	require.NoError(t, err)

	key := core.StorageKey{Bucket: "thumbs", Path: "a/b/cat.webp"}
	meta := map[string]string{"width": "16", "content-type": "image/webp"}
	require.NoError(t, l.Put(ctx, key, strings.NewReader("RIFFxxxxWEBP"), meta))

	ok, err := l.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)

	rc, err := l.Get(ctx, key)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	assert.Equal(t, "RIFFxxxxWEBP", string(data))

	got, err := l.Meta(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, meta, got)

	require.NoError(t, l.Delete(ctx, key))
	ok, err = l.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = os.Stat(filepath.Join(l.Root(), "thumbs", "a", "b", "cat.webp.meta.json"))
	assert.True(t, os.IsNotExist(err))
}

func TestLocal_OverwriteLeavesNoTempFiles(t *testing.T) {
	ctx := context.Background()
	l, err := storage.NewLocal(t.TempDir(), 0o600)
	require.NoError(t, err)

	key := core.StorageKey{Path: "img.webp"}
	require.NoError(t, l.Put(ctx, key, strings.NewReader("first"), nil))
	require.NoError(t, l.Put(ctx, key, strings.NewReader("second"), nil))

	entries, err := os.ReadDir(l.Root())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "img.webp", entries[0].Name())

	info, err := entries[0].Info()
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	meta, err := l.Meta(ctx, key)
	require.NoError(t, err)
	assert.Empty(t, meta)
}

func TestLocal_GetMissing(t *testing.T) {
	l, err := storage.NewLocal(t.TempDir(), 0)
	require.NoError(t, err)

	_, err = l.Get(context.Background(), core.StorageKey{Path: "nope.webp"})
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.True(t, apperrors.IsCategory(err, apperrors.CategoryStorage))
}

func TestLocal_KeysStayUnderRoot(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	l, err := storage.NewLocal(filepath.Join(root, "store"), 0)
	require.NoError(t, err)

	key := core.StorageKey{Bucket: "../..", Path: "../escape.webp"}
	require.NoError(t, l.Put(ctx, key, strings.NewReader("x"), nil))

	_, err = os.Stat(filepath.Join(l.Root(), "escape.webp"))
	assert.NoError(t, err, "cleaned key lands inside the root")
	_, err = os.Stat(filepath.Join(root, "escape.webp"))
	assert.True(t, os.IsNotExist(err))

	err = l.Put(ctx, core.StorageKey{}, strings.NewReader("x"), nil)
	assert.ErrorIs(t, err, apperrors.ErrInvalidArguments)
}

func TestLocal_CanceledContext(t *testing.T) {
	l, err := storage.NewLocal(t.TempDir(), 0)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = l.Put(ctx, core.StorageKey{Path: "x"}, strings.NewReader("x"), nil)
	assert.ErrorIs(t, err, context.Canceled)
}
