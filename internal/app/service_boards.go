package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"curio/api/internal/artifacts"
	"curio/api/internal/canvas"
	"curio/api/internal/curation"
	"curio/api/internal/export"
	"curio/api/internal/gitrepo"
	"curio/api/internal/reconstruct"
	"curio/api/internal/search"
	"curio/api/internal/store"
	"curio/api/internal/util"
)

const persistTimeout = 10 * time.Second

type CreateBoardInput struct {
	Title     string        `json:"title" validate:"required,max=200"`
	ArticleID string        `json:"articleId" validate:"omitempty,max=64"`
	Nodes     []canvas.Node `json:"nodes"`
}

type ReplaceNodesInput struct {
	Nodes []canvas.Node `json:"nodes"`
}

type NodeInput struct {
	ID       string           `json:"id" validate:"required,nodeid"`
	Type     canvas.NodeType  `json:"type" validate:"required,oneof=segment item"`
	Position *canvas.Position `json:"position"`
	Size     *canvas.Size     `json:"size"`
	Data     canvas.NodeData  `json:"data"`
}

type DragInput struct {
	Phase    string           `json:"phase" validate:"required,oneof=start move stop"`
	NodeID   string           `json:"nodeId" validate:"required,nodeid"`
	Position *canvas.Position `json:"position"`
}

type PublishInput struct {
	Message string `json:"message" validate:"max=500"`
}

type ExportInput struct {
	Version string
	Format  export.Format
	Upload  bool
}

// loadBoard feeds the editor registry from Postgres.
func (s *Service) loadBoard(ctx context.Context, boardID string) ([]canvas.Node, []canvas.Edge, error) {
	board, err := s.store.GetBoard(ctx, boardID)
	if err != nil {
		return nil, nil, err
	}
	s.syncMu.Lock()
	s.syncs[boardID] = &boardSync{articleID: board.ArticleID}
	s.syncMu.Unlock()
	return board.Nodes, board.Edges, nil
}

func (s *Service) boardOptions(boardID string) []curation.Option {
	opts := []curation.Option{
		curation.WithLogger(s.logger.With(zap.String("board", boardID))),
		curation.WithCallbacks(curation.Callbacks{
			OnState: func(state curation.State) { s.persist(boardID, state) },
		}),
	}
	return append(opts, s.editorOptions...)
}

func (s *Service) editor(ctx context.Context, boardID string) (*curation.Editor, error) {
	editor, err := s.editors.Get(ctx, boardID)
	if err != nil {
		return nil, notFoundAs(err, errBoardNotFound)
	}
	return editor, nil
}

// touch records actor as the author of the next persisted state. Output
// emitted before the first touch, such as the initial load, is not written.
func (s *Service) touch(boardID, actor string) {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()
	rec, ok := s.syncs[boardID]
	if !ok {
		rec = &boardSync{}
		s.syncs[boardID] = rec
	}
	rec.touched = true
	rec.actor = actor
}

// persist writes a pipeline output to Postgres. Outputs at or below the last
// written store version are skipped.
func (s *Service) persist(boardID string, state curation.State) {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.syncMu.Lock()
	rec, ok := s.syncs[boardID]
	if !ok || !rec.touched || state.Snapshot.Version <= rec.persisted {
		s.syncMu.Unlock()
		return
	}
	actor, articleID := rec.actor, rec.articleID
	s.syncMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := s.saveState(ctx, boardID, articleID, actor, state); err != nil {
		s.logger.Error("persist board failed", zap.String("board", boardID), zap.Error(err))
		return
	}

	s.syncMu.Lock()
	if rec.persisted < state.Snapshot.Version {
		rec.persisted = state.Snapshot.Version
	}
	s.syncMu.Unlock()
}

func (s *Service) saveState(ctx context.Context, boardID, articleID, actor string, state curation.State) error {
	if err := s.store.SaveBoardGraph(ctx, boardID, state.Snapshot.Nodes, state.Snapshot.Edges, actor); err != nil {
		return err
	}
	markers, blocks, err := encodeDocument(state.Document)
	if err != nil {
		return err
	}
	if err := s.store.SaveBoardContent(ctx, boardID, state.Document.Text, markers, blocks); err != nil {
		return err
	}
	if articleID != "" {
		if err := s.store.SetArticleBody(ctx, articleID, state.Document.Text, store.ArticleCurating); err != nil {
			return fmt.Errorf("article %s: %w", articleID, err)
		}
	}
	return nil
}

func encodeDocument(doc reconstruct.Document) (json.RawMessage, json.RawMessage, error) {
	markers, err := json.Marshal(doc.Markers)
	if err != nil {
		return nil, nil, fmt.Errorf("encode markers: %w", err)
	}
	blocks, err := json.Marshal(export.Blocks(doc))
	if err != nil {
		return nil, nil, fmt.Errorf("encode blocks: %w", err)
	}
	return markers, blocks, nil
}

func (s *Service) CreateBoard(ctx context.Context, session Session, input CreateBoardInput) (map[string]any, error) {
	articleID := strings.TrimSpace(input.ArticleID)
	if articleID != "" {
		if _, err := s.store.GetArticle(ctx, articleID); err != nil {
			return nil, notFoundAs(err, errArticleNotFound)
		}
		_, err := s.store.GetBoardByArticle(ctx, articleID)
		if err == nil {
			return nil, domainError(http.StatusConflict, "BOARD_EXISTS", "Article already has a board", nil)
		}
		if !store.IsNotFound(err) {
			return nil, err
		}
	}

	board := store.Board{
		ID:        util.NewID("board"),
		ArticleID: articleID,
		Title:     strings.TrimSpace(input.Title),
		Nodes:     orEmpty(input.Nodes),
		Edges:     []canvas.Edge{},
		UpdatedBy: session.UserName,
	}
	if err := s.store.InsertBoard(ctx, board); err != nil {
		return nil, err
	}

	editor, err := s.editor(ctx, board.ID)
	if err != nil {
		return nil, err
	}
	s.touch(board.ID, session.UserName)
	state := editor.Rebuild()
	return map[string]any{"board": boardView(board, state)}, nil
}

func (s *Service) ListBoards(ctx context.Context, limit int) ([]map[string]any, error) {
	boards, err := s.store.ListBoards(ctx, limit)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(boards))
	for _, board := range boards {
		items = append(items, map[string]any{
			"id":            board.ID,
			"articleId":     board.ArticleID,
			"title":         board.Title,
			"publishedHash": board.PublishedHash,
			"updatedAt":     board.UpdatedAt,
		})
	}
	return items, nil
}

func (s *Service) GetBoard(ctx context.Context, boardID string) (map[string]any, error) {
	board, err := s.store.GetBoard(ctx, boardID)
	if err != nil {
		return nil, notFoundAs(err, errBoardNotFound)
	}
	editor, err := s.editor(ctx, boardID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"board": boardView(board, editor.State())}, nil
}

// ReplaceNodes swaps the whole node set. The current permanent edges are
// kept for hysteresis.
func (s *Service) ReplaceNodes(ctx context.Context, session Session, boardID string, input ReplaceNodesInput) (map[string]any, error) {
	editor, err := s.editor(ctx, boardID)
	if err != nil {
		return nil, err
	}
	if err := s.checkLease(ctx, boardID, session.UserID); err != nil {
		return nil, err
	}
	s.touch(boardID, session.UserName)
	state := editor.Load(input.Nodes, editor.Snapshot().Edges)
	return stateView(boardID, state), nil
}

func (s *Service) UpsertNode(ctx context.Context, session Session, boardID string, input NodeInput) (map[string]any, error) {
	editor, err := s.editor(ctx, boardID)
	if err != nil {
		return nil, err
	}
	if err := s.checkLease(ctx, boardID, session.UserID); err != nil {
		return nil, err
	}
	s.touch(boardID, session.UserName)
	state, err := editor.Upsert(canvas.Node{
		ID:       input.ID,
		Type:     input.Type,
		Position: input.Position,
		Size:     input.Size,
		Data:     input.Data,
	})
	if err != nil {
		return nil, err
	}
	return stateView(boardID, state), nil
}

// UpdateNodeData replaces a node's payload. Text and sequences follow after
// the debounce delay.
func (s *Service) UpdateNodeData(ctx context.Context, session Session, boardID, nodeID string, data canvas.NodeData) (map[string]any, error) {
	editor, err := s.editor(ctx, boardID)
	if err != nil {
		return nil, err
	}
	s.touch(boardID, session.UserName)
	if err := editor.UpdateData(nodeID, data); err != nil {
		return nil, err
	}
	return map[string]any{"boardId": boardID, "nodeId": nodeID, "pending": true}, nil
}

func (s *Service) RemoveNode(ctx context.Context, session Session, boardID, nodeID string) (map[string]any, error) {
	editor, err := s.editor(ctx, boardID)
	if err != nil {
		return nil, err
	}
	if err := s.checkLease(ctx, boardID, session.UserID); err != nil {
		return nil, err
	}
	s.touch(boardID, session.UserName)
	state, err := editor.Remove(nodeID)
	if err != nil {
		return nil, err
	}
	return stateView(boardID, state), nil
}

// Drag runs one phase of a node drag. With a lease store configured only
// one curator may drag on a board at a time.
func (s *Service) Drag(ctx context.Context, session Session, boardID string, input DragInput) (map[string]any, error) {
	if input.Phase != "start" && input.Position == nil {
		return nil, invalidField("position", "position is required")
	}
	editor, err := s.editor(ctx, boardID)
	if err != nil {
		return nil, err
	}

	switch input.Phase {
	case "start":
		if err := s.acquireLease(ctx, boardID, session.UserID); err != nil {
			return nil, err
		}
		if err := editor.DragStart(input.NodeID); err != nil {
			s.releaseLease(ctx, boardID, session.UserID)
			return nil, err
		}
		return map[string]any{"boardId": boardID, "dragging": input.NodeID}, nil
	case "move":
		if err := s.acquireLease(ctx, boardID, session.UserID); err != nil {
			return nil, err
		}
		if err := editor.DragMove(input.NodeID, *input.Position); err != nil {
			return nil, err
		}
		return map[string]any{
			"boardId":   boardID,
			"dragging":  input.NodeID,
			"temporary": orEmpty(editor.Snapshot().Temporary),
		}, nil
	default:
		if err := s.acquireLease(ctx, boardID, session.UserID); err != nil {
			return nil, err
		}
		s.touch(boardID, session.UserName)
		state, err := editor.DragStop(input.NodeID, *input.Position)
		s.releaseLease(ctx, boardID, session.UserID)
		if err != nil {
			return nil, err
		}
		return stateView(boardID, state), nil
	}
}

func (s *Service) acquireLease(ctx context.Context, boardID, userID string) error {
	if s.leases == nil {
		return nil
	}
	ok, err := s.leases.AcquireDragLease(ctx, boardID, userID, s.dragLeaseTTL)
	if err != nil {
		return err
	}
	if !ok {
		return errDragLocked()
	}
	return nil
}

// checkLease rejects edits to a board while another user drags on it. It
// does not take the lease.
func (s *Service) checkLease(ctx context.Context, boardID, userID string) error {
	if s.leases == nil {
		return nil
	}
	holder, err := s.leases.DragLeaseHolder(ctx, boardID)
	if err != nil {
		return err
	}
	if holder != "" && holder != userID {
		return errDragLocked()
	}
	return nil
}

func (s *Service) releaseLease(ctx context.Context, boardID, userID string) {
	if s.leases == nil {
		return
	}
	if err := s.leases.ReleaseDragLease(ctx, boardID, userID); err != nil {
		s.logger.Warn("release drag lease failed", zap.String("board", boardID), zap.Error(err))
	}
}

func (s *Service) Sequence(ctx context.Context, boardID string) (map[string]any, error) {
	editor, err := s.editor(ctx, boardID)
	if err != nil {
		return nil, err
	}
	state := editor.State()
	return map[string]any{
		"boardId":     boardID,
		"version":     state.Snapshot.Version,
		"sequences":   sequenceView(state),
		"unreached":   orEmpty(state.Sequences.Unreached),
		"diagnostics": orEmpty(state.Sequences.Diagnostics),
	}, nil
}

func (s *Service) Content(ctx context.Context, boardID string) (map[string]any, error) {
	editor, err := s.editor(ctx, boardID)
	if err != nil {
		return nil, err
	}
	state := editor.State()
	doc := state.Document
	return map[string]any{
		"boardId":     boardID,
		"version":     state.Snapshot.Version,
		"text":        doc.Text,
		"markers":     doc.Markers,
		"sections":    orEmpty(doc.Sections),
		"skipped":     orEmpty(doc.Skipped),
		"diagnostics": orEmpty(doc.Diagnostics),
	}, nil
}

// Publish rebuilds the board now, commits the text to the board history,
// tags it v<n> and pushes it to the article and the search index.
func (s *Service) Publish(ctx context.Context, session Session, boardID string, input PublishInput) (map[string]any, error) {
	editor, err := s.editor(ctx, boardID)
	if err != nil {
		return nil, err
	}
	s.touch(boardID, session.UserName)
	state := editor.Rebuild()
	doc := state.Document
	if strings.TrimSpace(doc.Text) == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "EMPTY_CONTENT", "Nothing to publish: no item is linked to a segment", nil)
	}

	board, err := s.store.GetBoard(ctx, boardID)
	if err != nil {
		return nil, err
	}
	markers, blocks, err := encodeDocument(doc)
	if err != nil {
		return nil, err
	}
	message := strings.TrimSpace(input.Message)
	if message == "" {
		message = "Publish " + board.Title
	}
	info, changed, err := s.git.Commit(boardID, gitrepo.Content{
		Title:        board.Title,
		Text:         doc.Text,
		Markers:      markers,
		Blocks:       blocks,
		GraphVersion: board.GraphVersion,
	}, session.UserName, message)
	if err != nil {
		return nil, err
	}

	tag := ""
	if changed {
		history, err := s.git.History(boardID, 0)
		if err != nil {
			return nil, err
		}
		tag = fmt.Sprintf("v%d", len(history))
		if err := s.git.Tag(boardID, info.FullHash, tag); err != nil {
			s.logger.Warn("tag publish failed", zap.String("board", boardID), zap.String("tag", tag), zap.Error(err))
			tag = ""
		}
	}
	if err := s.store.MarkBoardPublished(ctx, boardID, info.FullHash); err != nil {
		return nil, err
	}

	if board.ArticleID != "" {
		if err := s.store.SetArticleBody(ctx, board.ArticleID, doc.Text, store.ArticlePublished); err != nil {
			return nil, err
		}
		if article, err := s.store.GetArticle(ctx, board.ArticleID); err == nil {
			s.indexArticle(article)
		}
	}
	if s.search != nil {
		s.search.IndexBoard(search.BoardRecord{
			ID:        boardID,
			ArticleID: board.ArticleID,
			Title:     board.Title,
			Content:   doc.Text,
		})
	}
	s.notifyPublished(ctx, session, board, doc.Text)

	s.logger.Info("board published",
		zap.String("board", boardID),
		zap.String("commit", info.Hash),
		zap.Bool("changed", changed),
		zap.String("by", session.UserID))
	return map[string]any{
		"boardId": boardID,
		"commit":  info,
		"changed": changed,
		"tag":     tag,
		"text":    doc.Text,
		"markers": doc.Markers,
	}, nil
}

func (s *Service) notifyPublished(ctx context.Context, session Session, board store.Board, text string) {
	if !s.SMTPConfigured() {
		return
	}
	user, err := s.store.GetUserByID(ctx, session.UserID)
	if err != nil || user.Email == "" {
		return
	}
	if err := s.mailer.SendPublishedEmail(user.Email, user.DisplayName, board.ID, board.Title, excerpt(text, 280)); err != nil {
		s.logger.Warn("send published email failed", zap.String("board", board.ID), zap.Error(err))
	}
}

func excerpt(text string, limit int) string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) <= limit {
		return string(runes)
	}
	return strings.TrimSpace(string(runes[:limit])) + "…"
}

func (s *Service) History(ctx context.Context, boardID string, limit int) (map[string]any, error) {
	board, err := s.store.GetBoard(ctx, boardID)
	if err != nil {
		return nil, notFoundAs(err, errBoardNotFound)
	}
	commits, err := s.git.History(boardID, limit)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"boardId":       boardID,
		"publishedHash": board.PublishedHash,
		"commits":       orEmpty(commits),
	}, nil
}

// Export renders a board, optionally uploading the file to artifact storage.
func (s *Service) Export(ctx context.Context, boardID string, input ExportInput) (*export.Result, *artifacts.Artifact, error) {
	version := strings.TrimSpace(input.Version)
	if version == "" {
		version = "latest"
	}
	if input.Upload && s.artifacts == nil {
		return nil, nil, domainError(http.StatusServiceUnavailable, "ARTIFACTS_UNAVAILABLE", "Artifact storage is not configured", nil)
	}
	result, err := s.exporter.Export(ctx, export.Request{BoardID: boardID, Version: version, Format: input.Format})
	if err != nil {
		return nil, nil, err
	}
	if !input.Upload {
		return result, nil, nil
	}
	artifact, err := s.artifacts.Upload(ctx, artifacts.ObjectKey(boardID, version, result.Filename), result.MimeType, result.Data)
	if err != nil {
		return nil, nil, err
	}
	return result, &artifact, nil
}

// ExportDocument loads board content for export. "latest" is the live
// reconstruction, anything else a history commit.
func (s *Service) ExportDocument(ctx context.Context, boardID, version string) (export.Document, error) {
	board, err := s.store.GetBoard(ctx, boardID)
	if err != nil {
		return export.Document{}, err
	}
	if version == "latest" {
		editor, err := s.editor(ctx, boardID)
		if err != nil {
			return export.Document{}, err
		}
		doc := editor.State().Document
		return export.Document{
			ID:        boardID,
			Title:     board.Title,
			Text:      doc.Text,
			Blocks:    export.Blocks(doc),
			Markers:   doc.Markers.Entries,
			Author:    board.UpdatedBy,
			UpdatedAt: board.UpdatedAt,
		}, nil
	}

	content, err := s.git.GetContentByHash(boardID, version)
	if err != nil {
		return export.Document{}, err
	}
	blocks, err := export.ParseBlocks(content.Blocks)
	if err != nil {
		return export.Document{}, err
	}
	var markers reconstruct.MarkerMap
	if len(content.Markers) > 0 {
		if err := json.Unmarshal(content.Markers, &markers); err != nil {
			return export.Document{}, fmt.Errorf("decode markers: %w", err)
		}
	}
	title := content.Title
	if title == "" {
		title = board.Title
	}
	return export.Document{
		ID:        boardID,
		Title:     title,
		Text:      content.Text,
		Blocks:    blocks,
		Markers:   markers.Entries,
		Author:    board.UpdatedBy,
		UpdatedAt: board.UpdatedAt,
	}, nil
}

func boardView(board store.Board, state curation.State) map[string]any {
	view := stateView(board.ID, state)
	view["id"] = board.ID
	view["articleId"] = board.ArticleID
	view["title"] = board.Title
	view["graphVersion"] = board.GraphVersion
	view["publishedHash"] = board.PublishedHash
	view["publishedAt"] = board.PublishedAt
	view["updatedBy"] = board.UpdatedBy
	view["updatedAt"] = board.UpdatedAt
	return view
}

func stateView(boardID string, state curation.State) map[string]any {
	return map[string]any{
		"boardId":     boardID,
		"version":     state.Snapshot.Version,
		"nodes":       orEmpty(state.Snapshot.Nodes),
		"edges":       orEmpty(state.Snapshot.Edges),
		"temporary":   orEmpty(state.Snapshot.Temporary),
		"sequences":   sequenceView(state),
		"content":     state.Document.Text,
		"markers":     state.Document.Markers,
		"diagnostics": orEmpty(state.Document.Diagnostics),
	}
}

func sequenceView(state curation.State) []map[string]any {
	items := make([]map[string]any, 0, len(state.Sequences.Sequences))
	for _, seq := range state.Sequences.Sequences {
		items = append(items, map[string]any{
			"anchorId": seq.Anchor.ID,
			"nodeIds":  seq.IDs(),
		})
	}
	return items
}
