package topology

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ferroflux/ferroflux/internal/ecs"
)

func TestRouterResolve(t *testing.T) {
	r := NewRouter()
	n := uuid.New()
	e := ecs.NewEntity()
	r.Register(n, e)

	got, ok := r.Resolve(n)
	require.True(t, ok)
	assert.Equal(t, e, got)

	r.Unregister(n)
	_, ok = r.Resolve(n)
	assert.False(t, ok)
}

func TestTopologyStableTieBreakByInsertionOrder(t *testing.T) {
	r := NewRouter()
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	eb, ec := ecs.NewEntity(), ecs.NewEntity()
	r.Register(b, eb)
	r.Register(c, ec)

	topo := NewTopology(r)
	topo.AddEdge(Edge{FromNode: a, FromPort: "out", ToNode: c, ToPort: "in"})
	topo.AddEdge(Edge{FromNode: a, FromPort: "out", ToNode: b, ToPort: "in"})
	topo.Rebuild()

	targets := topo.Targets(a, "out")
	require.Len(t, targets, 2)
	assert.Equal(t, c, targets[0].Node)
	assert.Equal(t, b, targets[1].Node)
}

func TestTopologyLabelRouting(t *testing.T) {
	r := NewRouter()
	a, hi, lo := uuid.New(), uuid.New(), uuid.New()
	ehi, elo := ecs.NewEntity(), ecs.NewEntity()
	r.Register(hi, ehi)
	r.Register(lo, elo)

	topo := NewTopology(r)
	topo.AddEdge(Edge{FromNode: a, FromPort: "out", ToNode: hi, ToPort: "in", Label: "high"})
	topo.AddEdge(Edge{FromNode: a, FromPort: "out", ToNode: lo, ToPort: "in", Label: "low"})
	topo.Rebuild()

	low := topo.TargetsForLabel(a, "out", "low")
	require.Len(t, low, 1)
	assert.Equal(t, lo, low[0].Node)

	high := topo.TargetsForLabel(a, "out", "high")
	require.Len(t, high, 1)
	assert.Equal(t, hi, high[0].Node)
}

func TestTopologyDropsStaleTargetMissingFromRouter(t *testing.T) {
	r := NewRouter()
	a, ghost := uuid.New(), uuid.New()

	topo := NewTopology(r)
	topo.AddEdge(Edge{FromNode: a, FromPort: "out", ToNode: ghost, ToPort: "in"})
	topo.Rebuild()

	assert.Empty(t, topo.Targets(a, "out"))
}

func TestTopologyRemoveEdgeInvalidatesCache(t *testing.T) {
	r := NewRouter()
	a, b := uuid.New(), uuid.New()
	r.Register(b, ecs.NewEntity())

	topo := NewTopology(r)
	topo.AddEdge(Edge{FromNode: a, FromPort: "out", ToNode: b, ToPort: "in"})
	topo.Rebuild()
	require.Len(t, topo.Targets(a, "out"), 1)

	removed := topo.RemoveEdge(a, "out", b, "in")
	assert.Equal(t, 1, removed)
	topo.Rebuild()
	assert.Empty(t, topo.Targets(a, "out"))
	assert.Equal(t, 0, topo.EdgeCount())
}
