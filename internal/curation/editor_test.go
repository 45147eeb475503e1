package curation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"curio/api/internal/canvas"
	"curio/api/internal/metrics"
	"curio/api/internal/proximity"
	"curio/api/internal/reconstruct"
	"curio/api/internal/schedule"
	"curio/api/internal/sequence"
)

type fakeTimer struct {
	clock   *fakeClock
	fn      func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	was := !t.stopped
	t.stopped = true
	return was
}

type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (c *fakeClock) afterFunc(_ time.Duration, fn func()) schedule.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	timer := &fakeTimer{clock: c, fn: fn}
	c.timers = append(c.timers, timer)
	return timer
}

// advance fires every live timer.
func (c *fakeClock) advance() int {
	c.mu.Lock()
	timers := c.timers
	c.timers = nil
	c.mu.Unlock()
	fired := 0
	for _, timer := range timers {
		c.mu.Lock()
		live := !timer.stopped
		timer.stopped = true
		c.mu.Unlock()
		if live {
			timer.fn()
			fired++
		}
	}
	return fired
}

type recorder struct {
	mu       sync.Mutex
	mainLine [][]sequence.Sequence
	content  []reconstruct.Document
	previews [][]canvas.Edge
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnMainLineUpdate: func(_ uint64, seqs []sequence.Sequence) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.mainLine = append(r.mainLine, seqs)
		},
		OnContent: func(_ uint64, doc reconstruct.Document) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.content = append(r.content, doc)
		},
		OnPreview: func(edges []canvas.Edge) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.previews = append(r.previews, edges)
		},
	}
}

func (r *recorder) lastText() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.content) == 0 {
		return ""
	}
	return r.content[len(r.content)-1].Text
}

func at(id string, kind canvas.NodeType, x, y float64, title, body string) canvas.Node {
	return canvas.Node{
		ID:       id,
		Type:     kind,
		Position: &canvas.Position{X: x, Y: y},
		Size:     &canvas.Size{Width: 100, Height: 50},
		Data:     canvas.NodeData{Title: title, Body: body},
	}
}

func board() []canvas.Node {
	return []canvas.Node{
		at("intro", canvas.NodeSegment, 0, 0, "Intro", ""),
		at("a", canvas.NodeItem, 100, 0, "Title A", "Body A"),
		at("b", canvas.NodeItem, 200, 0, "Title B", "Body B"),
		at("far", canvas.NodeItem, 1000, 0, "Far", "Far body"),
	}
}

func newTestEditor(t *testing.T) (*Editor, *fakeClock, *recorder) {
	t.Helper()
	clock := &fakeClock{}
	rec := &recorder{}
	editor := NewEditor("brd_1", proximity.DefaultConfig(),
		WithCallbacks(rec.callbacks()),
		WithAfterFunc(clock.afterFunc),
		WithMetrics(metrics.New("curio")),
	)
	t.Cleanup(editor.Close)
	return editor, clock, rec
}

func TestLoadBuildsSequenceAndContent(t *testing.T) {
	editor, _, rec := newTestEditor(t)
	state := editor.Load(board(), nil)

	require.Len(t, state.Sequences.Sequences, 1)
	assert.Equal(t, []string{"intro", "a", "b"}, state.Sequences.Sequences[0].IDs())
	assert.Equal(t, []string{"far"}, state.Sequences.Unreached)
	assert.Equal(t, "## Intro\nBody A [1]\nBody B [2]", state.Document.Text)
	assert.Equal(t, state.Document.Text, rec.lastText())
	assert.Len(t, rec.mainLine, 1)
}

func TestDragMoveIsDebouncedAndPreviewOnly(t *testing.T) {
	editor, clock, rec := newTestEditor(t)
	editor.Load(board(), nil)

	require.NoError(t, editor.DragStart("far"))
	require.NoError(t, editor.DragMove("far", canvas.Position{X: 600, Y: 0}))
	require.NoError(t, editor.DragMove("far", canvas.Position{X: 300, Y: 0}))
	assert.Empty(t, rec.previews, "no preview before the delay")

	assert.Equal(t, 1, clock.advance(), "moves coalesce into one preview")
	require.Len(t, rec.previews, 1)
	require.Len(t, rec.previews[0], 1)
	assert.Equal(t, canvas.EdgeTemporary, rec.previews[0][0].Kind)
	assert.Equal(t, canvas.MakePairKey("b", "far"), rec.previews[0][0].Key())

	snap := editor.Snapshot()
	assert.Len(t, snap.Temporary, 1)
	assert.Len(t, rec.content, 1, "previews never rebuild content")
}

func TestDragStopSettlesImmediately(t *testing.T) {
	editor, clock, rec := newTestEditor(t)
	editor.Load(board(), nil)

	require.NoError(t, editor.DragStart("far"))
	require.NoError(t, editor.DragMove("far", canvas.Position{X: 300, Y: 0}))
	state, err := editor.DragStop("far", canvas.Position{X: 300, Y: 0})
	require.NoError(t, err)

	assert.Equal(t, 0, clock.advance(), "pending preview was cancelled")
	assert.Empty(t, rec.previews)
	assert.Empty(t, state.Snapshot.Temporary)
	assert.Equal(t, []string{"intro", "a", "b", "far"}, state.Sequences.Sequences[0].IDs())
	assert.Equal(t, "## Intro\nBody A [1]\nBody B [2]\nFar body [3]", rec.lastText())
	assert.Empty(t, editor.Dragging())
}

func TestDragRequiresMatchingNode(t *testing.T) {
	editor, _, _ := newTestEditor(t)
	editor.Load(board(), nil)

	assert.ErrorIs(t, editor.DragStart("ghost"), canvas.ErrNodeNotFound)
	assert.ErrorIs(t, editor.DragMove("a", canvas.Position{}), ErrNotDragging)
	_, err := editor.DragStop("a", canvas.Position{})
	assert.ErrorIs(t, err, ErrNotDragging)
}

func TestUpsertAndRemoveSettle(t *testing.T) {
	editor, _, _ := newTestEditor(t)
	editor.Load(board(), nil)

	state, err := editor.Upsert(at("c", canvas.NodeItem, 300, 0, "Title C", "Body C"))
	require.NoError(t, err)
	assert.Equal(t, []string{"intro", "a", "b", "c"}, state.Sequences.Sequences[0].IDs())

	state, err = editor.Remove("b")
	require.NoError(t, err)
	assert.Equal(t, []string{"intro", "a"}, state.Sequences.Sequences[0].IDs())
	assert.ElementsMatch(t, []string{"c", "far"}, state.Sequences.Unreached)

	_, err = editor.Remove("b")
	assert.True(t, errors.Is(err, canvas.ErrNodeNotFound))
	_, err = editor.Upsert(canvas.Node{})
	assert.ErrorIs(t, err, canvas.ErrMalformedNode)
}

func TestUpdateDataRebuildsAfterDelay(t *testing.T) {
	editor, clock, rec := newTestEditor(t)
	editor.Load(board(), nil)

	require.NoError(t, editor.UpdateData("a", canvas.NodeData{Title: "Title A", Body: "Edited"}))
	require.NoError(t, editor.UpdateData("a", canvas.NodeData{Title: "Title A", Body: "Edited twice"}))
	assert.Equal(t, "## Intro\nBody A [1]\nBody B [2]", rec.lastText())

	assert.Equal(t, 1, clock.advance())
	assert.Equal(t, "## Intro\nEdited twice [1]\nBody B [2]", rec.lastText())
	assert.ErrorIs(t, editor.UpdateData("ghost", canvas.NodeData{}), canvas.ErrNodeNotFound)
}

func TestUpdateDataNeverRevertsADragMove(t *testing.T) {
	editor, _, _ := newTestEditor(t)
	editor.Load(board(), nil)
	require.NoError(t, editor.DragStart("far"))

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
			}
			_ = editor.UpdateData("far", canvas.NodeData{Title: "Far", Body: "Edit"})
		}
	}()

	positionOf := func(id string) canvas.Position {
		for _, node := range editor.Snapshot().Nodes {
			if node.ID == id {
				return *node.Position
			}
		}
		t.Fatalf("node %s missing", id)
		return canvas.Position{}
	}
	for i := 0; i < 2000; i++ {
		x := float64(1000 + i)
		require.NoError(t, editor.DragMove("far", canvas.Position{X: x, Y: 0}))
		if got := positionOf("far").X; got != x {
			close(done)
			wg.Wait()
			t.Fatalf("move %d reverted: x = %v, want %v", i, got, x)
		}
	}
	close(done)
	wg.Wait()
}

func TestRebuildIsIdempotent(t *testing.T) {
	editor, _, _ := newTestEditor(t)
	first := editor.Load(board(), nil)
	second := editor.Rebuild()
	assert.Equal(t, first.Document.Text, second.Document.Text)
	assert.Equal(t, first.Document.Markers, second.Document.Markers)
	assert.Equal(t, first.Snapshot.Edges, second.Snapshot.Edges)
}

func TestMalformedNodesDegradeQuietly(t *testing.T) {
	editor, _, _ := newTestEditor(t)
	nodes := append(board(), canvas.Node{ID: "broken", Type: canvas.NodeItem})
	state := editor.Load(nodes, nil)
	assert.Equal(t, 1, canvas.CountCode(state.Sequences.Diagnostics, canvas.ErrMalformedNode))
	assert.NotContains(t, state.Document.Text, "broken")
}

func TestRegistryLoadsOnce(t *testing.T) {
	loads := 0
	loader := func(_ context.Context, boardID string) ([]canvas.Node, []canvas.Edge, error) {
		loads++
		if boardID == "missing" {
			return nil, nil, errors.New("not found")
		}
		return board(), nil, nil
	}
	var seen []string
	registry := NewRegistry(proximity.DefaultConfig(), loader, func(boardID string) []Option {
		return []Option{WithCallbacks(Callbacks{OnContent: func(uint64, reconstruct.Document) {
			seen = append(seen, boardID)
		}})}
	}, metrics.New("curio"))
	defer registry.Close()

	first, err := registry.Get(context.Background(), "brd_1")
	require.NoError(t, err)
	second, err := registry.Get(context.Background(), "brd_1")
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, loads)
	assert.Equal(t, []string{"brd_1"}, seen)
	assert.Equal(t, 1, registry.Len())

	_, err = registry.Get(context.Background(), "missing")
	assert.Error(t, err)

	registry.Close()
	assert.Equal(t, 0, registry.Len())
}
