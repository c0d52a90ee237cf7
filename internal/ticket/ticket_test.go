package ticket

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ferroflux/ferroflux/internal/blobstore"
	"github.com/ferroflux/ferroflux/internal/ecs"
)

func TestQueueFIFOOrder(t *testing.T) {
	q := NewQueue()
	ctx := context.Background()
	store := blobstore.New()

	a, _ := store.Store(ctx, []byte("a"), nil)
	b, _ := store.Store(ctx, []byte("b"), nil)
	c, _ := store.Store(ctx, []byte("c"), nil)

	q.Push(a)
	q.Push(b)
	q.Push(c)

	got, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, a.ID, got.ID)

	got, ok = q.Pop()
	require.True(t, ok)
	assert.Equal(t, b.ID, got.ID)

	assert.Equal(t, 1, q.Len())
}

func TestQueueDrainEmptiesInOrder(t *testing.T) {
	q := NewQueue()
	ctx := context.Background()
	store := blobstore.New()

	a, _ := store.Store(ctx, []byte("a"), nil)
	b, _ := store.Store(ctx, []byte("b"), nil)
	q.Push(a)
	q.Push(b)

	drained := q.Drain()
	require.Len(t, drained, 2)
	assert.Equal(t, a.ID, drained[0].ID)
	assert.Equal(t, b.ID, drained[1].ID)
	assert.True(t, q.Empty())
}

func TestQueuesRegisterIsIdempotent(t *testing.T) {
	qs := NewQueues()
	e := ecs.NewEntity()
	qs.Register(e)

	ctx := context.Background()
	store := blobstore.New()
	tk, _ := store.Store(ctx, []byte("x"), nil)
	qs.PushInbox(ctx, store, e, tk)

	qs.Register(e) // must not reset the existing queue
	assert.Equal(t, 1, qs.Inbox(e).Len())
}

func TestPushInboxIncrementsRefcount(t *testing.T) {
	qs := NewQueues()
	ctx := context.Background()
	store := blobstore.New()
	e := ecs.NewEntity()
	qs.Register(e)

	tk, _ := store.Store(ctx, []byte("payload"), nil)
	before := tk.Refcount
	qs.PushInbox(ctx, store, e, tk)

	got, ok := store.RecoverTicket(ctx, tk.ID)
	require.True(t, ok)
	assert.Equal(t, before+1, got.Refcount)
}

func TestPinnedOutputsExemptFromGC(t *testing.T) {
	store := blobstore.New(blobstore.WithGCGrace(0))
	ctx := context.Background()
	e := ecs.NewEntity()
	pinned := NewPinnedOutputs()

	tk, _ := store.Store(ctx, []byte("important"), nil)
	require.NoError(t, pinned.Pin(ctx, store, e, tk))
	require.NoError(t, store.Decref(ctx, tk.ID))

	removed := store.RunGarbageCollection(ctx)
	assert.Equal(t, 0, removed)

	got := pinned.For(e)
	require.Len(t, got, 1)
	assert.Equal(t, tk.ID, got[0].ID)
}
