package canvas

// EdgeKind tells how an edge came to exist.
type EdgeKind string

const (
	// EdgeDirect links two nodes that are close enough on their own.
	EdgeDirect EdgeKind = "direct"
	// EdgeBridge is one half of a pair routed through a node lying between them.
	EdgeBridge EdgeKind = "bridge"
	// EdgeTemporary is a drag preview and is never persisted.
	EdgeTemporary EdgeKind = "temporary"
)

// IsValid checks if the edge kind is known
func (k EdgeKind) IsValid() bool {
	switch k {
	case EdgeDirect, EdgeBridge, EdgeTemporary:
		return true
	default:
		return false
	}
}

// EdgeStyle carries rendering hints for the canvas client.
type EdgeStyle struct {
	Animated bool   `json:"animated,omitempty"`
	Dashed   bool   `json:"dashed,omitempty"`
	Stroke   string `json:"stroke,omitempty"`
}

// StyleFor returns the rendering hints for a kind.
func StyleFor(kind EdgeKind) EdgeStyle {
	switch kind {
	case EdgeTemporary:
		return EdgeStyle{Animated: true, Dashed: true, Stroke: "#9ca3af"}
	case EdgeBridge:
		return EdgeStyle{Stroke: "#6366f1"}
	default:
		return EdgeStyle{Stroke: "#111827"}
	}
}

// Edge links two nodes.
type Edge struct {
	ID     string    `json:"id"`
	Source string    `json:"source"`
	Target string    `json:"target"`
	Kind   EdgeKind  `json:"kind"`
	Style  EdgeStyle `json:"style"`
}

// NewEdge builds an edge with a deterministic id and the kind's style.
func NewEdge(source, target string, kind EdgeKind) Edge {
	return Edge{
		ID:     "e-" + source + "-" + target,
		Source: source,
		Target: target,
		Kind:   kind,
		Style:  StyleFor(kind),
	}
}

// Key returns the unordered pair identity of the edge.
func (e Edge) Key() PairKey {
	return MakePairKey(e.Source, e.Target)
}

// PairKey identifies an unordered pair of node ids.
type PairKey struct {
	A, B string
}

// MakePairKey orders the ids so (a,b) and (b,a) collide.
func MakePairKey(a, b string) PairKey {
	if b < a {
		a, b = b, a
	}
	return PairKey{A: a, B: b}
}

// Touches reports whether the pair includes id.
func (k PairKey) Touches(id string) bool {
	return k.A == id || k.B == id
}

// Permanent filters out temporary edges, keeping order.
func Permanent(edges []Edge) []Edge {
	out := make([]Edge, 0, len(edges))
	for _, edge := range edges {
		if edge.Kind == EdgeTemporary {
			continue
		}
		out = append(out, edge)
	}
	return out
}
