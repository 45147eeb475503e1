// Package curation runs the proximity, sequence and reconstruction pipeline
// for one board at a time.
package curation

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"curio/api/internal/canvas"
	"curio/api/internal/metrics"
	"curio/api/internal/proximity"
	"curio/api/internal/reconstruct"
	"curio/api/internal/schedule"
	"curio/api/internal/sequence"
)

// ErrNotDragging is returned when a move or stop names a node other than
// the one being dragged.
var ErrNotDragging = errors.New("node is not being dragged")

// Callbacks receive pipeline output. They run outside the editor lock and
// may read editor state; each carries the store version it was built from.
type Callbacks struct {
	OnMainLineUpdate func(version uint64, seqs []sequence.Sequence)
	OnContent        func(version uint64, doc reconstruct.Document)
	OnPreview        func(edges []canvas.Edge)

	// OnState receives the whole output after the two callbacks above.
	OnState func(state State)
}

// State is the last full pipeline output.
type State struct {
	Snapshot  canvas.Snapshot      `json:"snapshot"`
	Sequences sequence.Result      `json:"sequences"`
	Document  reconstruct.Document `json:"document"`
}

// Option configures an Editor.
type Option func(*Editor)

// WithCallbacks sets the output callbacks.
func WithCallbacks(cb Callbacks) Option {
	return func(e *Editor) { e.cb = cb }
}

// WithMetrics records recomputes on c.
func WithMetrics(c *metrics.Collector) Option {
	return func(e *Editor) { e.metrics = c }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Editor) { e.logger = logger }
}

// WithAfterFunc swaps the timer source of both debouncers, for tests.
func WithAfterFunc(fn schedule.AfterFunc) Option {
	return func(e *Editor) { e.afterFunc = fn }
}

// Editor owns one board's store and serialises its recompute cycles.
type Editor struct {
	boardID   string
	engine    *proximity.Engine
	store     *canvas.Store
	cb        Callbacks
	metrics   *metrics.Collector
	logger    *zap.Logger
	afterFunc schedule.AfterFunc

	preview *schedule.Debouncer
	rebuild *schedule.Debouncer

	mu       sync.Mutex
	dragging string
	state    State
}

// NewEditor creates an editor for boardID with an empty store.
func NewEditor(boardID string, cfg proximity.Config, opts ...Option) *Editor {
	e := &Editor{
		boardID: boardID,
		engine:  proximity.NewEngine(cfg),
		store:   canvas.NewStore(nil, nil),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	var debounceOpts []schedule.Option
	if e.afterFunc != nil {
		debounceOpts = append(debounceOpts, schedule.WithAfterFunc(e.afterFunc))
	}
	delay := e.engine.Config().Debounce
	e.preview = schedule.NewDebouncer(delay, debounceOpts...)
	e.rebuild = schedule.NewDebouncer(delay, debounceOpts...)
	e.state = State{
		Snapshot:  e.store.Snapshot(),
		Sequences: sequence.Build(nil, nil),
		Document:  reconstruct.Empty(),
	}
	return e
}

// BoardID returns the board this editor serves.
func (e *Editor) BoardID() string {
	return e.boardID
}

// Config returns the effective proximity configuration.
func (e *Editor) Config() proximity.Config {
	return e.engine.Config()
}

// State returns the last pipeline output.
func (e *Editor) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Snapshot returns the current store contents, temporaries included.
func (e *Editor) Snapshot() canvas.Snapshot {
	return e.store.Snapshot()
}

// Dragging returns the id of the node being dragged, if any.
func (e *Editor) Dragging() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dragging
}

// Load replaces the board contents and settles immediately. edges are the
// previously persisted permanent edges and only feed hysteresis.
func (e *Editor) Load(nodes []canvas.Node, edges []canvas.Edge) State {
	e.preview.Cancel()
	e.rebuild.Cancel()

	e.mu.Lock()
	e.dragging = ""
	e.store.Replace(nodes, edges)
	state := e.settleLocked()
	e.mu.Unlock()

	e.emit(state)
	return state
}

// Upsert adds or replaces a node and settles immediately.
func (e *Editor) Upsert(node canvas.Node) (State, error) {
	e.mu.Lock()
	if err := e.store.Upsert(node); err != nil {
		e.mu.Unlock()
		return State{}, err
	}
	state := e.settleLocked()
	e.mu.Unlock()

	e.emit(state)
	return state, nil
}

// Remove deletes a node with its edges and settles immediately.
func (e *Editor) Remove(id string) (State, error) {
	e.mu.Lock()
	if err := e.store.Remove(id); err != nil {
		e.mu.Unlock()
		return State{}, err
	}
	if e.dragging == id {
		e.dragging = ""
		e.preview.Cancel()
		e.store.ClearTemporary()
	}
	state := e.settleLocked()
	e.mu.Unlock()

	e.emit(state)
	return state, nil
}

// Rebuild settles the current geometry and reruns the pipeline now,
// dropping any pending debounced work.
func (e *Editor) Rebuild() State {
	e.rebuild.Cancel()

	e.mu.Lock()
	state := e.settleLocked()
	e.mu.Unlock()

	e.emit(state)
	return state
}

// UpdateData replaces a node's payload and schedules a debounced rebuild.
// Geometry is unchanged so the edge set stays as it is.
func (e *Editor) UpdateData(id string, data canvas.NodeData) error {
	if err := e.store.SetData(id, data); err != nil {
		return fmt.Errorf("update %s: %w", id, err)
	}
	e.Touch()
	return nil
}

// Touch schedules a debounced rebuild of sequences and text.
func (e *Editor) Touch() {
	e.rebuild.Schedule(e.runRebuild)
}

// DragStart marks id as the node being dragged.
func (e *Editor) DragStart(id string) error {
	if _, ok := e.store.Node(id); !ok {
		return fmt.Errorf("drag %s: %w", id, canvas.ErrNodeNotFound)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dragging = id
	return nil
}

// DragMove moves the dragged node and schedules a debounced preview.
func (e *Editor) DragMove(id string, pos canvas.Position) error {
	e.mu.Lock()
	if e.dragging != id {
		e.mu.Unlock()
		return fmt.Errorf("move %s: %w", id, ErrNotDragging)
	}
	err := e.store.Move(id, pos)
	e.mu.Unlock()
	if err != nil {
		return err
	}
	e.preview.Schedule(e.runPreview)
	return nil
}

// DragStop ends the drag at pos. A pending preview is cancelled and the
// final recompute runs immediately.
func (e *Editor) DragStop(id string, pos canvas.Position) (State, error) {
	e.preview.Cancel()
	e.rebuild.Cancel()

	e.mu.Lock()
	if e.dragging != id {
		e.mu.Unlock()
		return State{}, fmt.Errorf("stop %s: %w", id, ErrNotDragging)
	}
	e.dragging = ""
	if err := e.store.Move(id, pos); err != nil {
		e.mu.Unlock()
		return State{}, err
	}
	state := e.settleLocked()
	e.mu.Unlock()

	e.emit(state)
	return state, nil
}

// Close drops pending work. The editor must not be used afterwards.
func (e *Editor) Close() {
	e.preview.Stop()
	e.rebuild.Stop()
}

func (e *Editor) runPreview() {
	start := time.Now()
	e.mu.Lock()
	if e.dragging == "" {
		e.mu.Unlock()
		return
	}
	snap := e.store.Snapshot()
	edges := e.engine.Preview(snap.Nodes, snap.Edges)
	e.store.SetTemporary(edges)
	e.mu.Unlock()

	e.metrics.ObserveRecompute(metrics.KindPreview, start)
	if e.cb.OnPreview != nil {
		e.cb.OnPreview(edges)
	}
}

func (e *Editor) runRebuild() {
	start := time.Now()
	e.mu.Lock()
	state := e.rebuildLocked(e.store.Snapshot())
	e.mu.Unlock()

	e.metrics.ObserveRecompute(metrics.KindRebuild, start)
	e.emit(state)
}

// settleLocked replaces the permanent edges with the candidates for the
// current geometry, then rebuilds. Caller holds e.mu.
func (e *Editor) settleLocked() State {
	start := time.Now()
	snap := e.store.Snapshot()
	settled := e.engine.Settle(snap.Nodes, snap.Edges)
	e.store.SetEdges(settled.Edges)
	for _, d := range settled.Diagnostics {
		e.metrics.ObserveDiagnostic(d.Code)
	}
	e.metrics.SetEdges(len(settled.Edges))
	e.metrics.ObserveRecompute(metrics.KindSettle, start)
	return e.rebuildLocked(e.store.Snapshot())
}

func (e *Editor) rebuildLocked(snap canvas.Snapshot) State {
	seqs := sequence.Build(snap.Nodes, snap.Edges)
	doc := reconstruct.FromResult(seqs)
	for _, d := range seqs.Diagnostics {
		e.metrics.ObserveDiagnostic(d.Code)
		e.logger.Debug("curation diagnostic",
			zap.String("board", e.boardID),
			zap.String("code", d.Code),
			zap.String("node", d.NodeID),
			zap.String("detail", d.Detail))
	}
	e.state = State{Snapshot: snap, Sequences: seqs, Document: doc}
	return e.state
}

func (e *Editor) emit(state State) {
	version := state.Snapshot.Version
	if e.cb.OnMainLineUpdate != nil {
		e.cb.OnMainLineUpdate(version, state.Sequences.Sequences)
	}
	if e.cb.OnContent != nil {
		e.cb.OnContent(version, state.Document)
	}
	if e.cb.OnState != nil {
		e.cb.OnState(state)
	}
}
