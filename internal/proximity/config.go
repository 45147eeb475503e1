package proximity

import (
	"time"

	"curio/api/internal/canvas"
)

// Config tunes when two nodes are linked.
type Config struct {
	// Thresholds by type pairing. A non-positive threshold disables the pairing.
	ItemItem       float64 `yaml:"item_item"`
	SegmentItem    float64 `yaml:"segment_item"`
	SegmentSegment float64 `yaml:"segment_segment"`

	// Tolerance is the slack allowed when deciding a node lies between two others.
	Tolerance float64 `yaml:"tolerance"`
	// Hysteresis multiplies the threshold for pairs that are already linked.
	Hysteresis float64 `yaml:"hysteresis"`
	// Debounce coalesces drag moves into one preview recompute.
	Debounce time.Duration `yaml:"debounce"`
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		ItemItem:       150,
		SegmentItem:    250,
		SegmentSegment: 0,
		Tolerance:      50,
		Hysteresis:     1.2,
		Debounce:       300 * time.Millisecond,
	}
}

// ThresholdFor picks the threshold for a pair of node types.
func (c Config) ThresholdFor(a, b canvas.NodeType) float64 {
	segments := 0
	if a == canvas.NodeSegment {
		segments++
	}
	if b == canvas.NodeSegment {
		segments++
	}
	switch segments {
	case 2:
		return c.SegmentSegment
	case 1:
		return c.SegmentItem
	default:
		return c.ItemItem
	}
}
