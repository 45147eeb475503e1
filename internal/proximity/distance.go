package proximity

import (
	"math"

	"curio/api/internal/canvas"
)

// Distance is the Euclidean distance between node centres. Each node's
// top-left corner is shifted by half its own size, so the relative offset
// moves by half the width and height difference of the pair. Nodes without
// usable geometry are infinitely far from everything.
func Distance(a, b canvas.Node) float64 {
	ca, ok := a.Center()
	if !ok {
		return math.Inf(1)
	}
	cb, ok := b.Center()
	if !ok {
		return math.Inf(1)
	}
	dx := cb.X - ca.X
	dy := cb.Y - ca.Y
	return math.Sqrt(dx*dx + dy*dy)
}
