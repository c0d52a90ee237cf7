package gateway

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ferroflux/ferroflux/internal/blobstore"
	"github.com/ferroflux/ferroflux/internal/ecs"
	"github.com/ferroflux/ferroflux/internal/ticket"
	"github.com/ferroflux/ferroflux/internal/topology"
)

func TestGatewayDeliversToResolvedNodeOutbox(t *testing.T) {
	ctx := context.Background()
	router := topology.NewRouter()
	queues := ticket.NewQueues()
	store := blobstore.New()

	node := ecs.NewEntity()
	queues.Register(node)
	nodeID := uuid.New()
	router.Register(nodeID, node)

	gw := New(4, router, queues, store, nil)

	_, ok, err := gw.Push(ctx, nodeID, []byte(`{"hello":"world"}`), nil)
	require.NoError(t, err)
	assert.True(t, ok)

	processed := gw.Tick(ctx)
	assert.True(t, processed)
	assert.Equal(t, 1, queues.Outbox(node).Len())
}

func TestGatewayDropsUnknownNodeWithDecref(t *testing.T) {
	ctx := context.Background()
	router := topology.NewRouter()
	queues := ticket.NewQueues()
	store := blobstore.New()

	gw := New(4, router, queues, store, nil)
	unknown := uuid.New()
	_, ok, err := gw.Push(ctx, unknown, []byte(`{}`), nil)
	require.NoError(t, err)
	assert.True(t, ok)

	gw.Tick(ctx)
	assert.Equal(t, uint64(0), store.RefcountSum())
}

func TestGatewayBackpressureReleasesTicketOnFullQueue(t *testing.T) {
	ctx := context.Background()
	router := topology.NewRouter()
	queues := ticket.NewQueues()
	store := blobstore.New()
	node := ecs.NewEntity()
	queues.Register(node)
	nodeID := uuid.New()
	router.Register(nodeID, node)

	gw := New(1, router, queues, store, nil)
	_, ok, err := gw.Push(ctx, nodeID, []byte(`{}`), nil)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = gw.Push(ctx, nodeID, []byte(`{}`), nil)
	require.NoError(t, err)
	assert.False(t, ok)
}
