// Package proximity decides which nodes on a board are linked, from where
// they sit on the canvas.
package proximity

import (
	"math"

	"curio/api/internal/canvas"
)

// Result is a candidate edge set plus the inputs that were skipped.
type Result struct {
	Edges       []canvas.Edge
	Diagnostics []canvas.Diagnostic
}

// Engine computes candidate edges for a node list.
type Engine struct {
	cfg Config
}

// NewEngine creates an engine, filling zero fields from DefaultConfig.
func NewEngine(cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = def.Tolerance
	}
	if cfg.Hysteresis < 1 {
		cfg.Hysteresis = def.Hysteresis
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = def.Debounce
	}
	if cfg.ItemItem == 0 && cfg.SegmentItem == 0 && cfg.SegmentSegment == 0 {
		cfg.ItemItem = def.ItemItem
		cfg.SegmentItem = def.SegmentItem
		cfg.SegmentSegment = def.SegmentSegment
	}
	return &Engine{cfg: cfg}
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Candidates returns the edges the current geometry calls for. existing is
// the permanent edge set before this recompute and only matters for
// hysteresis. Output order follows input order and holds each unordered
// pair at most once.
func (e *Engine) Candidates(nodes []canvas.Node, existing []canvas.Edge) Result {
	var result Result

	valid := make([]int, 0, len(nodes))
	for i, node := range nodes {
		if node.Malformed() {
			result.Diagnostics = append(result.Diagnostics,
				canvas.NewDiagnostic(canvas.ErrMalformedNode, node.ID, "missing or non-finite position"))
			continue
		}
		valid = append(valid, i)
	}

	linked := make(map[canvas.PairKey]struct{}, len(existing))
	for _, edge := range canvas.Permanent(existing) {
		linked[edge.Key()] = struct{}{}
	}

	dist := newDistances(nodes)
	out := newEdgeSet(nodes)

	for x, i := range valid {
		for _, j := range valid[x+1:] {
			a, b := nodes[i], nodes[j]
			if a.ID == b.ID {
				continue
			}
			threshold := e.cfg.ThresholdFor(a.Type, b.Type)
			if threshold <= 0 {
				continue
			}
			d := dist.get(i, j)
			_, wasLinked := linked[canvas.MakePairKey(a.ID, b.ID)]
			if !(d < threshold || (wasLinked && d < threshold*e.cfg.Hysteresis)) {
				continue
			}

			if c := e.bridge(nodes, valid, dist, i, j); c >= 0 {
				out.add(i, c, canvas.EdgeBridge)
				out.add(c, j, canvas.EdgeBridge)
				continue
			}
			out.add(i, j, canvas.EdgeDirect)
		}
	}

	result.Edges = out.edges()
	return result
}

// Preview returns the candidates that are not yet permanent, marked temporary.
func (e *Engine) Preview(nodes []canvas.Node, permanent []canvas.Edge) []canvas.Edge {
	current := make(map[canvas.PairKey]struct{}, len(permanent))
	for _, edge := range permanent {
		current[edge.Key()] = struct{}{}
	}
	candidates := e.Candidates(nodes, permanent)
	preview := make([]canvas.Edge, 0, len(candidates.Edges))
	for _, edge := range candidates.Edges {
		if _, ok := current[edge.Key()]; ok {
			continue
		}
		preview = append(preview, canvas.NewEdge(edge.Source, edge.Target, canvas.EdgeTemporary))
	}
	return preview
}

// Settle is the recompute run when a drag ends: candidates at the final
// positions become the permanent set and everything else is discarded.
func (e *Engine) Settle(nodes []canvas.Node, permanent []canvas.Edge) Result {
	return e.Candidates(nodes, canvas.Permanent(permanent))
}

// bridge returns the index of the node lying between i and j, or -1. The
// smallest deviation wins; ties go to the earlier node.
func (e *Engine) bridge(nodes []canvas.Node, valid []int, dist *distances, i, j int) int {
	direct := dist.get(i, j)
	best := -1
	bestDev := e.cfg.Tolerance
	for _, c := range valid {
		if c == i || c == j || nodes[c].ID == nodes[i].ID || nodes[c].ID == nodes[j].ID {
			continue
		}
		if e.cfg.ThresholdFor(nodes[i].Type, nodes[c].Type) <= 0 || e.cfg.ThresholdFor(nodes[c].Type, nodes[j].Type) <= 0 {
			continue
		}
		dev := math.Abs(dist.get(i, c) + dist.get(c, j) - direct)
		if dev < bestDev {
			best = c
			bestDev = dev
		}
	}
	return best
}

// distances memoises pairwise distances by input index.
type distances struct {
	nodes []canvas.Node
	memo  map[[2]int]float64
}

func newDistances(nodes []canvas.Node) *distances {
	return &distances{nodes: nodes, memo: make(map[[2]int]float64)}
}

func (d *distances) get(i, j int) float64 {
	if j < i {
		i, j = j, i
	}
	key := [2]int{i, j}
	if v, ok := d.memo[key]; ok {
		return v
	}
	v := Distance(d.nodes[i], d.nodes[j])
	d.memo[key] = v
	return v
}

// edgeSet collects edges in insertion order, one per unordered pair.
type edgeSet struct {
	nodes []canvas.Node
	order []canvas.PairKey
	byKey map[canvas.PairKey]canvas.Edge
}

func newEdgeSet(nodes []canvas.Node) *edgeSet {
	return &edgeSet{nodes: nodes, byKey: make(map[canvas.PairKey]canvas.Edge)}
}

// add records i–j, pointing from the left node to the right one. A pair
// seen first as direct and later as a bridge half becomes a bridge.
func (s *edgeSet) add(i, j int, kind canvas.EdgeKind) {
	a, b := s.nodes[i], s.nodes[j]
	if b.X() < a.X() || (b.X() == a.X() && j < i) {
		a, b = b, a
	}
	key := canvas.MakePairKey(a.ID, b.ID)
	if existing, ok := s.byKey[key]; ok {
		if kind == canvas.EdgeBridge && existing.Kind == canvas.EdgeDirect {
			s.byKey[key] = canvas.NewEdge(existing.Source, existing.Target, canvas.EdgeBridge)
		}
		return
	}
	s.order = append(s.order, key)
	s.byKey[key] = canvas.NewEdge(a.ID, b.ID, kind)
}

func (s *edgeSet) edges() []canvas.Edge {
	out := make([]canvas.Edge, 0, len(s.order))
	for _, key := range s.order {
		out = append(out, s.byKey[key])
	}
	return out
}
