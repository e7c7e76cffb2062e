package doccache

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFSStoreCreatesRootAndRoundTrips(t *testing.T) {
	t.Parallel()

	root := filepath.Join(t.TempDir(), "nested", "cache")
	store, err := NewFSStore(root)
	require.NoError(t, err)

	_, found, err := store.Get(context.Background(), "missing.txt")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, store.Put(context.Background(), "a.txt", "hola"))
	text, found, err := store.Get(context.Background(), "a.txt")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "hola", text)
}

func TestFSStoreConcurrentPutsSameKey(t *testing.T) {
	t.Parallel()

	root := filepath.Join(t.TempDir(), "late")
	store := &FSStore{root: root}
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, store.Put(context.Background(), "same.txt", "same text"))
		}()
	}
	wg.Wait()

	text, found, err := store.Get(context.Background(), "same.txt")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "same text", text)

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestFSStoreRejectsTraversalAndFiles(t *testing.T) {
	t.Parallel()

	store, err := NewFSStore(t.TempDir())
	require.NoError(t, err)
	require.Error(t, store.Put(context.Background(), "../escape.txt", "x"))
	require.Error(t, store.Put(context.Background(), " ", "x"))

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
	_, err = NewFSStore(file)
	require.Error(t, err)
	_, err = NewFSStore("")
	require.Error(t, err)
}
