package blobstore

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreDedupesIdenticalContent(t *testing.T) {
	s := New()
	ctx := context.Background()

	t1, err := s.Store(ctx, []byte("hello"), nil)
	require.NoError(t, err)
	t2, err := s.Store(ctx, []byte("hello"), nil)
	require.NoError(t, err)

	assert.Equal(t, t1.ContentRef, t2.ContentRef)
	assert.NotEqual(t, t1.ID, t2.ID)
	assert.Equal(t, 1, s.EntryCount())
	assert.EqualValues(t, 2, t2.Refcount)
}

func TestRecoverTicketAndContent(t *testing.T) {
	s := New()
	ctx := context.Background()

	tk, err := s.Store(ctx, []byte("payload"), map[string]string{"k": "v"})
	require.NoError(t, err)

	got, ok := s.RecoverTicket(ctx, tk.ID)
	require.True(t, ok)
	assert.Equal(t, tk.ContentRef, got.ContentRef)
	assert.Equal(t, "v", got.Metadata["k"])

	b, err := s.Content(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(b))

	_, ok = s.RecoverTicket(ctx, uuid.UUID{})
	assert.False(t, ok)
}

func TestUpdateMetadataMergesIdempotently(t *testing.T) {
	s := New()
	ctx := context.Background()
	tk, err := s.Store(ctx, []byte("x"), map[string]string{"a": "1"})
	require.NoError(t, err)

	require.NoError(t, s.UpdateMetadata(ctx, tk.ID, map[string]string{"b": "2"}))
	require.NoError(t, s.UpdateMetadata(ctx, tk.ID, map[string]string{"b": "2"}))

	got, _ := s.RecoverTicket(ctx, tk.ID)
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, got.Metadata)
}

func TestIncrefDecrefAndGC(t *testing.T) {
	s := New(WithGCGrace(0))
	ctx := context.Background()

	tk, err := s.Store(ctx, []byte("ephemeral"), nil)
	require.NoError(t, err)
	require.NoError(t, s.Decref(ctx, tk.ID))

	time.Sleep(time.Millisecond)
	removed := s.RunGarbageCollection(ctx)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 0, s.EntryCount())
}

func TestPinExemptsFromGC(t *testing.T) {
	s := New(WithGCGrace(0))
	ctx := context.Background()

	tk, err := s.Store(ctx, []byte("keepme"), nil)
	require.NoError(t, err)
	require.NoError(t, s.Pin(ctx, tk.ID))
	require.NoError(t, s.Decref(ctx, tk.ID))

	time.Sleep(time.Millisecond)
	removed := s.RunGarbageCollection(ctx)
	assert.Equal(t, 0, removed)
	assert.Equal(t, 1, s.EntryCount())

	got, _ := s.RecoverTicket(ctx, tk.ID)
	assert.Equal(t, "true", got.Metadata["pinned"])
}

func TestGCRespectsGracePeriod(t *testing.T) {
	s := New(WithGCGrace(time.Hour))
	ctx := context.Background()

	tk, err := s.Store(ctx, []byte("fresh"), nil)
	require.NoError(t, err)
	require.NoError(t, s.Decref(ctx, tk.ID))

	removed := s.RunGarbageCollection(ctx)
	assert.Equal(t, 0, removed)
	assert.Equal(t, 1, s.EntryCount())
}

func TestRefcountSumTracksLiveReferences(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, err := s.Store(ctx, []byte("a"), nil)
	require.NoError(t, err)
	_, err = s.Store(ctx, []byte("a"), nil)
	require.NoError(t, err)
	_, err = s.Store(ctx, []byte("b"), nil)
	require.NoError(t, err)

	assert.EqualValues(t, 3, s.RefcountSum())
}
