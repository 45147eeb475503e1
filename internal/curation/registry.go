package curation

import (
	"context"
	"fmt"
	"sync"

	"curio/api/internal/canvas"
	"curio/api/internal/metrics"
	"curio/api/internal/proximity"
)

// Loader fetches a board's persisted nodes and permanent edges.
type Loader func(ctx context.Context, boardID string) ([]canvas.Node, []canvas.Edge, error)

// OptionsFor returns the editor options for one board, so callbacks can
// close over the board id.
type OptionsFor func(boardID string) []Option

// Registry keeps one live editor per board.
type Registry struct {
	cfg     proximity.Config
	load    Loader
	options OptionsFor
	metrics *metrics.Collector

	mu      sync.Mutex
	editors map[string]*Editor
}

// NewRegistry creates a registry. options and m may be nil.
func NewRegistry(cfg proximity.Config, load Loader, options OptionsFor, m *metrics.Collector) *Registry {
	return &Registry{
		cfg:     cfg,
		load:    load,
		options: options,
		metrics: m,
		editors: map[string]*Editor{},
	}
}

// Get returns the editor for boardID, loading it on first use.
func (r *Registry) Get(ctx context.Context, boardID string) (*Editor, error) {
	r.mu.Lock()
	if editor, ok := r.editors[boardID]; ok {
		r.mu.Unlock()
		return editor, nil
	}
	r.mu.Unlock()

	nodes, edges, err := r.load(ctx, boardID)
	if err != nil {
		return nil, fmt.Errorf("load board %s: %w", boardID, err)
	}

	var opts []Option
	if r.options != nil {
		opts = r.options(boardID)
	}
	if r.metrics != nil {
		opts = append(opts, WithMetrics(r.metrics))
	}
	editor := NewEditor(boardID, r.cfg, opts...)
	editor.Load(nodes, edges)

	r.mu.Lock()
	if existing, ok := r.editors[boardID]; ok {
		r.mu.Unlock()
		editor.Close()
		return existing, nil
	}
	r.editors[boardID] = editor
	r.metrics.SetOpenBoards(len(r.editors))
	r.mu.Unlock()
	return editor, nil
}

// Len returns the number of live editors.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.editors)
}

// Close closes every editor.
func (r *Registry) Close() {
	r.mu.Lock()
	editors := r.editors
	r.editors = map[string]*Editor{}
	r.metrics.SetOpenBoards(0)
	r.mu.Unlock()
	for _, editor := range editors {
		editor.Close()
	}
}
