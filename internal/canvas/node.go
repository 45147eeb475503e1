// Package canvas holds the board model: positioned nodes, the edges between
// them and the store both the proximity engine and the sequence builder work on.
package canvas

import (
	"encoding/json"
	"math"

	"curio/api/internal/payload"
)

// NodeType distinguishes segment headers from content items.
type NodeType string

const (
	NodeSegment NodeType = "segment"
	NodeItem    NodeType = "item"
)

// IsValid checks if the node type is known
func (t NodeType) IsValid() bool {
	switch t {
	case NodeSegment, NodeItem:
		return true
	default:
		return false
	}
}

// Position is the top-left corner of a node on the canvas.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Valid reports whether both coordinates are finite.
func (p Position) Valid() bool {
	return !math.IsNaN(p.X) && !math.IsInf(p.X, 0) && !math.IsNaN(p.Y) && !math.IsInf(p.Y, 0)
}

// Size is the rendered footprint of a node.
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

var defaultSizes = map[NodeType]Size{
	NodeSegment: {Width: 320, Height: 64},
	NodeItem:    {Width: 240, Height: 120},
}

// DefaultSize returns the footprint used when a node carries none.
func DefaultSize(t NodeType) Size {
	if size, ok := defaultSizes[t]; ok {
		return size
	}
	return defaultSizes[NodeItem]
}

// NodeData is the editable payload of a node.
type NodeData struct {
	Title     string `json:"title,omitempty" mapstructure:"title"`
	Body      string `json:"body,omitempty" mapstructure:"body"`
	Order     int    `json:"order,omitempty" mapstructure:"order"`
	ArticleID string `json:"articleId,omitempty" mapstructure:"articleId"`

	// Malformed is set when the incoming payload could not be normalised.
	Malformed payload.Reason `json:"-" mapstructure:"-"`
}

// UnmarshalJSON accepts an object or a (possibly repeatedly) string-encoded
// object. Anything else leaves the data empty with Malformed set.
func (d *NodeData) UnmarshalJSON(raw []byte) error {
	type plain NodeData
	var decoded plain
	result, err := payload.Decode(raw, &decoded)
	if err != nil {
		return err
	}
	if !result.Parsed() {
		if result.Reason == payload.ReasonEmpty {
			*d = NodeData{}
			return nil
		}
		*d = NodeData{Malformed: result.Reason}
		return nil
	}
	*d = NodeData(decoded)
	return nil
}

// Node is a positioned element on a board.
type Node struct {
	ID       string    `json:"id"`
	Type     NodeType  `json:"type"`
	Position *Position `json:"position,omitempty"`
	Size     *Size     `json:"size,omitempty"`
	Data     NodeData  `json:"data"`
}

// Malformed reports whether the node lacks usable geometry.
func (n Node) Malformed() bool {
	return n.Position == nil || !n.Position.Valid()
}

// Dimensions returns the node size, falling back to the type default.
func (n Node) Dimensions() Size {
	if n.Size != nil && n.Size.Width > 0 && n.Size.Height > 0 {
		return *n.Size
	}
	return DefaultSize(n.Type)
}

// Center returns the centre point and false for a malformed node.
func (n Node) Center() (Position, bool) {
	if n.Malformed() {
		return Position{}, false
	}
	size := n.Dimensions()
	return Position{X: n.Position.X + size.Width/2, Y: n.Position.Y + size.Height/2}, true
}

// X returns the left coordinate, +Inf for a malformed node so it sorts last.
func (n Node) X() float64 {
	if n.Malformed() {
		return math.Inf(1)
	}
	return n.Position.X
}

// Clone returns a deep copy.
func (n Node) Clone() Node {
	out := n
	if n.Position != nil {
		pos := *n.Position
		out.Position = &pos
	}
	if n.Size != nil {
		size := *n.Size
		out.Size = &size
	}
	return out
}

// MarshalJSON writes data as a plain object regardless of how it arrived.
func (d NodeData) MarshalJSON() ([]byte, error) {
	type plain NodeData
	return json.Marshal(plain(d))
}
