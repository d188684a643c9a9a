package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStorePutGet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.Put(ctx, "c", "a/b.json", []byte(`{"x":1}`), PutOptions{ContentType: "application/json"}))

	data, err := s.Get(ctx, "c", "a/b.json")
	require.NoError(t, err)
	assert.Equal(t, `{"x":1}`, string(data))

	_, err = s.Get(ctx, "c", "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Get(ctx, "nope", "a/b.json")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreCreateIfAbsent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	opts := PutOptions{IfNoneMatch: "*"}
	require.NoError(t, s.Put(ctx, "c", "lease", []byte("one"), opts))

	err := s.Put(ctx, "c", "lease", []byte("two"), opts)
	assert.ErrorIs(t, err, ErrPreconditionFailed)

	// The original content survives the failed conditional put.
	data, err := s.Get(ctx, "c", "lease")
	require.NoError(t, err)
	assert.Equal(t, "one", string(data))

	// Unconditional put still overwrites.
	require.NoError(t, s.Put(ctx, "c", "lease", []byte("three"), PutOptions{}))
}

func TestMemoryStoreList(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.Put(ctx, "c", "articles/2026/03/a.json", nil, PutOptions{}))
	require.NoError(t, s.Put(ctx, "c", "articles/2026/03/b.json", nil, PutOptions{}))
	require.NoError(t, s.Put(ctx, "c", "leases/t1", nil, PutOptions{}))

	names, err := s.List(ctx, "c", "articles/")
	require.NoError(t, err)
	assert.Equal(t, []string{"articles/2026/03/a.json", "articles/2026/03/b.json"}, names)

	all, err := s.List(ctx, "c", "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestMemoryStoreCopyAcrossContainers(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.Put(ctx, ContainerWeb, "index.html", []byte("<html>"), PutOptions{}))
	require.NoError(t, s.Copy(ctx, ContainerWeb, "index.html", ContainerWebBackup, "index.html"))

	data, err := s.Get(ctx, ContainerWebBackup, "index.html")
	require.NoError(t, err)
	assert.Equal(t, "<html>", string(data))

	assert.ErrorIs(t, s.Copy(ctx, ContainerWeb, "missing", ContainerWebBackup, "missing"), ErrNotFound)
}

func TestMemoryStoreDeleteAndExists(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.Put(ctx, "c", "x", []byte("1"), PutOptions{}))

	ok, err := s.Exists(ctx, "c", "x")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.Delete(ctx, "c", "x"))
	require.NoError(t, s.Delete(ctx, "c", "x"), "deleting a missing blob is not an error")

	ok, err = s.Exists(ctx, "c", "x")
	require.NoError(t, err)
	assert.False(t, ok)
}
