// Package sequence linearises a board's link graph into one ordered list of
// nodes per segment.
package sequence

import (
	"sort"

	"curio/api/internal/canvas"
)

// Sequence is the ordered walk from one anchor. Nodes[0] is the anchor.
type Sequence struct {
	Anchor canvas.Node   `json:"anchor"`
	Nodes  []canvas.Node `json:"nodes"`
}

// Items returns the nodes after the anchor.
func (s Sequence) Items() []canvas.Node {
	if len(s.Nodes) <= 1 {
		return nil
	}
	return s.Nodes[1:]
}

// IDs returns the node ids in order.
func (s Sequence) IDs() []string {
	ids := make([]string, len(s.Nodes))
	for i, node := range s.Nodes {
		ids[i] = node.ID
	}
	return ids
}

// Result holds every sequence, in anchor order, and what was left out.
type Result struct {
	Sequences   []Sequence          `json:"sequences"`
	Unreached   []string            `json:"unreached"`
	Diagnostics []canvas.Diagnostic `json:"diagnostics"`
}

// Build walks the permanent edges from each anchor. Anchors are the
// well-formed segment nodes ordered by x, ties kept in input order; without
// segments the leftmost well-formed node is the only anchor. Traversal is
// breadth-first over undirected adjacency, neighbours in edge insertion
// order. Anchors bound each other's walks, and a node reached by an earlier
// anchor is not claimed again. Temporary edges are ignored.
func Build(nodes []canvas.Node, edges []canvas.Edge) Result {
	var result Result

	byID := make(map[string]canvas.Node, len(nodes))
	wellFormed := make([]canvas.Node, 0, len(nodes))
	for _, node := range nodes {
		if _, dup := byID[node.ID]; dup {
			continue
		}
		if node.Malformed() {
			result.Diagnostics = append(result.Diagnostics,
				canvas.NewDiagnostic(canvas.ErrMalformedNode, node.ID, "excluded from traversal"))
			continue
		}
		byID[node.ID] = node
		wellFormed = append(wellFormed, node)
	}

	anchors := pickAnchors(wellFormed)
	if len(anchors) == 0 {
		result.Diagnostics = append(result.Diagnostics,
			canvas.NewDiagnostic(canvas.ErrEmptySequence, "", "no anchor node"))
		result.Unreached = []string{}
		result.Sequences = []Sequence{}
		return result
	}

	adjacency := adjacencyOf(canvas.Permanent(edges), byID)
	isAnchor := make(map[string]bool, len(anchors))
	for _, anchor := range anchors {
		isAnchor[anchor.ID] = true
	}

	claimed := make(map[string]bool, len(wellFormed))
	result.Sequences = make([]Sequence, 0, len(anchors))
	for _, anchor := range anchors {
		seq, diags := walk(anchor, adjacency, byID, isAnchor, claimed)
		result.Diagnostics = append(result.Diagnostics, diags...)
		if len(seq.Nodes) == 1 {
			result.Diagnostics = append(result.Diagnostics,
				canvas.NewDiagnostic(canvas.ErrEmptySequence, anchor.ID, "anchor has no connected items"))
		}
		result.Sequences = append(result.Sequences, seq)
	}

	result.Unreached = make([]string, 0)
	for _, node := range wellFormed {
		if !claimed[node.ID] {
			result.Unreached = append(result.Unreached, node.ID)
		}
	}
	return result
}

func pickAnchors(nodes []canvas.Node) []canvas.Node {
	anchors := make([]canvas.Node, 0)
	for _, node := range nodes {
		if node.Type == canvas.NodeSegment {
			anchors = append(anchors, node)
		}
	}
	if len(anchors) == 0 {
		if len(nodes) == 0 {
			return nil
		}
		leftmost := nodes[0]
		for _, node := range nodes[1:] {
			if node.X() < leftmost.X() {
				leftmost = node
			}
		}
		return []canvas.Node{leftmost}
	}
	sort.SliceStable(anchors, func(i, j int) bool {
		return anchors[i].X() < anchors[j].X()
	})
	return anchors
}

func adjacencyOf(edges []canvas.Edge, byID map[string]canvas.Node) map[string][]string {
	adjacency := make(map[string][]string)
	seen := make(map[canvas.PairKey]bool, len(edges))
	for _, edge := range edges {
		if edge.Source == edge.Target {
			continue
		}
		if _, ok := byID[edge.Source]; !ok {
			continue
		}
		if _, ok := byID[edge.Target]; !ok {
			continue
		}
		key := edge.Key()
		if seen[key] {
			continue
		}
		seen[key] = true
		adjacency[edge.Source] = append(adjacency[edge.Source], edge.Target)
		adjacency[edge.Target] = append(adjacency[edge.Target], edge.Source)
	}
	return adjacency
}

func walk(anchor canvas.Node, adjacency map[string][]string, byID map[string]canvas.Node, isAnchor, claimed map[string]bool) (Sequence, []canvas.Diagnostic) {
	var diags []canvas.Diagnostic
	seq := Sequence{Anchor: anchor, Nodes: []canvas.Node{anchor}}
	claimed[anchor.ID] = true

	visited := map[string]bool{anchor.ID: true}
	parent := map[string]string{}
	guarded := map[canvas.PairKey]bool{}
	queue := []string{anchor.ID}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, next := range adjacency[current] {
			if isAnchor[next] && next != anchor.ID {
				continue
			}
			if visited[next] {
				key := canvas.MakePairKey(current, next)
				if parent[current] != next && parent[next] != current && !guarded[key] {
					guarded[key] = true
					diags = append(diags, canvas.NewDiagnostic(canvas.ErrCyclicTraversalGuard, next,
						"revisit from "+current+" skipped"))
				}
				continue
			}
			if claimed[next] {
				continue
			}
			visited[next] = true
			claimed[next] = true
			parent[next] = current
			seq.Nodes = append(seq.Nodes, byID[next])
			queue = append(queue, next)
		}
	}
	return seq, diags
}
