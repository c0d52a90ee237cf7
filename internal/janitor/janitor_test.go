package janitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ferroflux/ferroflux/internal/blobstore"
)

func TestJanitorSweepsExpiredUnreferencedEntries(t *testing.T) {
	store := blobstore.New(blobstore.WithGCGrace(0))
	ctx := context.Background()

	tic, err := store.Store(ctx, []byte("payload"), nil)
	require.NoError(t, err)
	require.NoError(t, store.Decref(ctx, tic.ID))
	assert.Equal(t, 1, store.EntryCount())

	j := New(store, 5*time.Millisecond, nil, nil)
	runCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	j.Run(runCtx)

	assert.Equal(t, 0, store.EntryCount())
}
