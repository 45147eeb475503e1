package proximity

import (
	"math"
	"math/rand"
	"testing"

	"curio/api/internal/canvas"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func item(id string, x, y float64) canvas.Node {
	return canvas.Node{ID: id, Type: canvas.NodeItem, Position: &canvas.Position{X: x, Y: y}}
}

func segment(id string, x, y float64) canvas.Node {
	return canvas.Node{ID: id, Type: canvas.NodeSegment, Position: &canvas.Position{X: x, Y: y}}
}

func keys(edges []canvas.Edge) map[canvas.PairKey]canvas.EdgeKind {
	out := make(map[canvas.PairKey]canvas.EdgeKind, len(edges))
	for _, e := range edges {
		out[e.Key()] = e.Kind
	}
	return out
}

func TestDistanceIsSymmetric(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		a := item("a", rng.Float64()*2000-1000, rng.Float64()*2000-1000)
		b := segment("b", rng.Float64()*2000-1000, rng.Float64()*2000-1000)
		if i%3 == 0 {
			b.Size = &canvas.Size{Width: rng.Float64() * 400, Height: rng.Float64() * 200}
		}
		require.Equal(t, Distance(a, b), Distance(b, a))
	}
}

func TestDistanceAdjustsForSize(t *testing.T) {
	a := canvas.Node{ID: "a", Type: canvas.NodeItem, Position: &canvas.Position{X: 0, Y: 0}, Size: &canvas.Size{Width: 100, Height: 100}}
	b := canvas.Node{ID: "b", Type: canvas.NodeItem, Position: &canvas.Position{X: 100, Y: 0}, Size: &canvas.Size{Width: 300, Height: 100}}
	// centres at (50,50) and (250,50)
	assert.Equal(t, 200.0, Distance(a, b))
}

func TestDistanceMalformedIsInfinite(t *testing.T) {
	a := item("a", 0, 0)
	b := canvas.Node{ID: "b", Type: canvas.NodeItem}
	assert.True(t, math.IsInf(Distance(a, b), 1))
	assert.True(t, math.IsInf(Distance(b, a), 1))
}

func TestCandidatesDirectEdge(t *testing.T) {
	engine := NewEngine(DefaultConfig())
	result := engine.Candidates([]canvas.Node{item("a", 0, 0), item("b", 100, 0)}, nil)

	require.Len(t, result.Edges, 1)
	edge := result.Edges[0]
	assert.Equal(t, "a", edge.Source)
	assert.Equal(t, "b", edge.Target)
	assert.Equal(t, canvas.EdgeDirect, edge.Kind)
	assert.Equal(t, "e-a-b", edge.ID)
}

func TestCandidatesSourceIsLeftNode(t *testing.T) {
	engine := NewEngine(DefaultConfig())
	result := engine.Candidates([]canvas.Node{item("right", 100, 0), item("left", 0, 0)}, nil)
	require.Len(t, result.Edges, 1)
	assert.Equal(t, "left", result.Edges[0].Source)
}

func TestCandidatesBridgeReplacesDirect(t *testing.T) {
	engine := NewEngine(DefaultConfig())
	nodes := []canvas.Node{item("a", 0, 0), item("b", 100, 0)}
	before := engine.Candidates(nodes, nil)
	require.Len(t, before.Edges, 1)

	nodes = append(nodes, item("c", 50, 30))
	after := engine.Candidates(nodes, before.Edges)

	got := keys(after.Edges)
	assert.Len(t, got, 2)
	assert.Equal(t, canvas.EdgeBridge, got[canvas.MakePairKey("a", "c")])
	assert.Equal(t, canvas.EdgeBridge, got[canvas.MakePairKey("c", "b")])
	_, direct := got[canvas.MakePairKey("a", "b")]
	assert.False(t, direct)
}

func TestCandidatesBridgeOutsideToleranceStaysDirect(t *testing.T) {
	engine := NewEngine(DefaultConfig())
	nodes := []canvas.Node{item("a", 0, 0), item("b", 100, 0), item("c", 50, 120)}
	got := keys(engine.Candidates(nodes, nil).Edges)
	assert.Equal(t, canvas.EdgeDirect, got[canvas.MakePairKey("a", "b")])
}

func TestCandidatesThresholdIsStrict(t *testing.T) {
	engine := NewEngine(DefaultConfig())
	result := engine.Candidates([]canvas.Node{item("a", 0, 0), item("b", 150, 0)}, nil)
	assert.Empty(t, result.Edges)

	result = engine.Candidates([]canvas.Node{item("a", 0, 0), item("b", 149.999, 0)}, nil)
	assert.Len(t, result.Edges, 1)
}

func TestCandidatesHysteresis(t *testing.T) {
	engine := NewEngine(DefaultConfig())
	existing := []canvas.Edge{canvas.NewEdge("a", "b", canvas.EdgeDirect)}

	held := engine.Candidates([]canvas.Node{item("a", 0, 0), item("b", 170, 0)}, existing)
	assert.Len(t, held.Edges, 1, "existing edge is kept inside threshold x 1.2")

	fresh := engine.Candidates([]canvas.Node{item("a", 0, 0), item("b", 170, 0)}, nil)
	assert.Empty(t, fresh.Edges, "new pairs still need the plain threshold")

	dropped := engine.Candidates([]canvas.Node{item("a", 0, 0), item("b", 180, 0)}, existing)
	assert.Empty(t, dropped.Edges, "exactly threshold x 1.2 is removed")
}

func TestCandidatesNeverDuplicatePairs(t *testing.T) {
	engine := NewEngine(DefaultConfig())
	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 50; round++ {
		nodes := make([]canvas.Node, 0, 25)
		for i := 0; i < 25; i++ {
			id := string(rune('a' + i))
			if i%5 == 0 {
				nodes = append(nodes, segment(id, rng.Float64()*600, rng.Float64()*600))
				continue
			}
			nodes = append(nodes, item(id, rng.Float64()*600, rng.Float64()*600))
		}
		result := engine.Candidates(nodes, nil)
		seen := map[canvas.PairKey]bool{}
		for _, edge := range result.Edges {
			require.False(t, seen[edge.Key()], "duplicate pair %v", edge.Key())
			require.NotEqual(t, edge.Source, edge.Target)
			seen[edge.Key()] = true
		}
		again := engine.Candidates(nodes, nil)
		require.Equal(t, result.Edges, again.Edges)
	}
}

func TestCandidatesSkipsMalformedNodes(t *testing.T) {
	engine := NewEngine(DefaultConfig())
	nodes := []canvas.Node{item("a", 0, 0), {ID: "ghost", Type: canvas.NodeItem}, item("b", 100, 0)}
	result := engine.Candidates(nodes, nil)

	require.Len(t, result.Edges, 1)
	require.Len(t, result.Diagnostics, 1)
	assert.Equal(t, "ghost", result.Diagnostics[0].NodeID)
	assert.ErrorIs(t, result.Diagnostics[0].Err, canvas.ErrMalformedNode)
}

func TestSegmentPairsAreNotLinked(t *testing.T) {
	engine := NewEngine(DefaultConfig())
	result := engine.Candidates([]canvas.Node{segment("s1", 0, 0), segment("s2", 10, 0)}, nil)
	assert.Empty(t, result.Edges)
}

func TestPreviewMarksNewCandidatesTemporary(t *testing.T) {
	engine := NewEngine(DefaultConfig())
	nodes := []canvas.Node{item("a", 0, 0), item("b", 100, 0), item("c", 400, 0), item("d", 500, 0)}
	permanent := []canvas.Edge{canvas.NewEdge("a", "b", canvas.EdgeDirect)}

	preview := engine.Preview(nodes, permanent)
	require.Len(t, preview, 1)
	assert.Equal(t, canvas.EdgeTemporary, preview[0].Kind)
	assert.Equal(t, canvas.MakePairKey("c", "d"), preview[0].Key())
	assert.True(t, preview[0].Style.Dashed)
}

func TestNewEngineFillsDefaults(t *testing.T) {
	engine := NewEngine(Config{})
	cfg := engine.Config()
	assert.Equal(t, DefaultConfig(), cfg)
	assert.Equal(t, 250.0, cfg.ThresholdFor(canvas.NodeItem, canvas.NodeSegment))
	assert.Equal(t, 150.0, cfg.ThresholdFor(canvas.NodeItem, canvas.NodeItem))
}

func TestSettleDiscardsEdgesOutOfRange(t *testing.T) {
	engine := NewEngine(DefaultConfig())
	permanent := []canvas.Edge{
		canvas.NewEdge("a", "b", canvas.EdgeDirect),
		canvas.NewEdge("a", "c", canvas.EdgeTemporary),
	}
	nodes := []canvas.Node{item("a", 0, 0), item("b", 600, 0), item("c", 120, 0)}

	result := engine.Settle(nodes, permanent)
	require.Len(t, result.Edges, 1)
	assert.Equal(t, canvas.MakePairKey("a", "c"), result.Edges[0].Key())
	assert.Equal(t, canvas.EdgeDirect, result.Edges[0].Kind)
}
