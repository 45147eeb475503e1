package canvas

import (
	"fmt"
	"sync"
)

// Snapshot is a copy of a store's contents at one version.
type Snapshot struct {
	Nodes     []Node `json:"nodes"`
	Edges     []Edge `json:"edges"`
	Temporary []Edge `json:"temporary"`
	Version   uint64 `json:"version"`
}

// Store is the node and edge state of one board. Reads hand out copies; the
// owner serialises recompute cycles so there is one writer per cycle.
type Store struct {
	mu        sync.RWMutex
	nodes     []Node
	index     map[string]int
	edges     []Edge
	temporary []Edge
	version   uint64
}

// NewStore creates a store seeded with nodes and permanent edges.
func NewStore(nodes []Node, edges []Edge) *Store {
	s := &Store{}
	s.Replace(nodes, edges)
	return s
}

// Replace swaps the whole contents, dropping temporaries and edges that
// reference unknown nodes.
func (s *Store) Replace(nodes []Node, edges []Edge) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nodes = make([]Node, 0, len(nodes))
	s.index = make(map[string]int, len(nodes))
	for _, node := range nodes {
		if node.ID == "" {
			continue
		}
		if i, ok := s.index[node.ID]; ok {
			s.nodes[i] = node.Clone()
			continue
		}
		s.index[node.ID] = len(s.nodes)
		s.nodes = append(s.nodes, node.Clone())
	}
	s.edges = s.knownEdges(Permanent(edges))
	s.temporary = nil
	s.version++
}

// Snapshot returns copies of nodes and edges.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Nodes:     cloneNodes(s.nodes),
		Edges:     append([]Edge(nil), s.edges...),
		Temporary: append([]Edge(nil), s.temporary...),
		Version:   s.version,
	}
}

// Nodes returns a copy of the nodes in insertion order.
func (s *Store) Nodes() []Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneNodes(s.nodes)
}

// Edges returns a copy of the permanent edges.
func (s *Store) Edges() []Edge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Edge(nil), s.edges...)
}

// Node looks up one node by id.
func (s *Store) Node(id string) (Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[id]
	if !ok {
		return Node{}, false
	}
	return s.nodes[i].Clone(), true
}

// Upsert inserts a node or replaces the node with the same id in place.
func (s *Store) Upsert(node Node) error {
	if node.ID == "" {
		return fmt.Errorf("upsert node: %w: empty id", ErrMalformedNode)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if i, ok := s.index[node.ID]; ok {
		s.nodes[i] = node.Clone()
	} else {
		s.index[node.ID] = len(s.nodes)
		s.nodes = append(s.nodes, node.Clone())
	}
	s.version++
	return nil
}

// Remove deletes a node and every edge touching it.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[id]
	if !ok {
		return fmt.Errorf("remove %s: %w", id, ErrNodeNotFound)
	}
	s.nodes = append(s.nodes[:i], s.nodes[i+1:]...)
	s.index = make(map[string]int, len(s.nodes))
	for j, node := range s.nodes {
		s.index[node.ID] = j
	}
	s.edges = dropTouching(s.edges, id)
	s.temporary = dropTouching(s.temporary, id)
	s.version++
	return nil
}

// Move sets a node's position.
func (s *Store) Move(id string, pos Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[id]
	if !ok {
		return fmt.Errorf("move %s: %w", id, ErrNodeNotFound)
	}
	s.nodes[i].Position = &pos
	s.version++
	return nil
}

// SetData replaces a node's payload. Geometry is left untouched.
func (s *Store) SetData(id string, data NodeData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[id]
	if !ok {
		return fmt.Errorf("set data %s: %w", id, ErrNodeNotFound)
	}
	s.nodes[i].Data = data
	s.version++
	return nil
}

// SetEdges replaces the permanent edge set and clears temporaries.
func (s *Store) SetEdges(edges []Edge) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.edges = s.knownEdges(Permanent(edges))
	s.temporary = nil
	s.version++
}

// SetTemporary replaces the drag preview edges.
func (s *Store) SetTemporary(edges []Edge) {
	s.mu.Lock()
	defer s.mu.Unlock()
	temporary := make([]Edge, 0, len(edges))
	for _, edge := range s.knownEdges(edges) {
		edge.Kind = EdgeTemporary
		edge.Style = StyleFor(EdgeTemporary)
		temporary = append(temporary, edge)
	}
	s.temporary = temporary
}

// ClearTemporary drops the drag preview edges.
func (s *Store) ClearTemporary() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.temporary = nil
}

// Version increments on every change to nodes or permanent edges.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// knownEdges keeps edges whose endpoints exist, dropping repeated pairs.
// Caller holds the lock.
func (s *Store) knownEdges(edges []Edge) []Edge {
	out := make([]Edge, 0, len(edges))
	seen := make(map[PairKey]struct{}, len(edges))
	for _, edge := range edges {
		if _, ok := s.index[edge.Source]; !ok {
			continue
		}
		if _, ok := s.index[edge.Target]; !ok {
			continue
		}
		if edge.Source == edge.Target {
			continue
		}
		key := edge.Key()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, edge)
	}
	return out
}

func dropTouching(edges []Edge, id string) []Edge {
	out := edges[:0]
	for _, edge := range edges {
		if edge.Source == id || edge.Target == id {
			continue
		}
		out = append(out, edge)
	}
	return out
}

func cloneNodes(nodes []Node) []Node {
	out := make([]Node, len(nodes))
	for i, node := range nodes {
		out[i] = node.Clone()
	}
	return out
}
