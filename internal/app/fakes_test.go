package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"curio/api/internal/artifacts"
	"curio/api/internal/canvas"
	"curio/api/internal/gitrepo"
	"curio/api/internal/schedule"
	"curio/api/internal/search"
	"curio/api/internal/store"
)

type fakeStore struct {
	mu sync.Mutex

	users     map[string]store.User
	resets    map[string]string
	refresh   map[string]store.User
	revoked   map[string]bool
	articles  map[string]store.Article
	boards    map[string]store.Board
	graphSave int
	pingErr   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:    map[string]store.User{},
		resets:   map[string]string{},
		refresh:  map[string]store.User{},
		revoked:  map[string]bool{},
		articles: map[string]store.Article{},
		boards:   map[string]store.Board{},
	}
}

func (f *fakeStore) Ping(context.Context) error { return f.pingErr }

func (f *fakeStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, user := range f.users {
		if user.Email == email {
			return user, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeStore) GetUserByID(_ context.Context, id string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (f *fakeStore) CreateUser(_ context.Context, user store.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[user.ID] = user
	return nil
}

func (f *fakeStore) UpdateUserVerificationToken(_ context.Context, userID, token string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user := f.users[userID]
	user.VerificationToken = token
	user.VerificationExpiresAt = &expiresAt
	f.users[userID] = user
	return nil
}

func (f *fakeStore) VerifyUserEmail(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, user := range f.users {
		if user.VerificationToken == token && token != "" {
			user.IsEmailVerified = true
			user.VerificationToken = ""
			f.users[id] = user
			return nil
		}
	}
	return sql.ErrNoRows
}

func (f *fakeStore) UpdateUserPassword(_ context.Context, userID, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok {
		return sql.ErrNoRows
	}
	user.PasswordHash = hash
	f.users[userID] = user
	return nil
}

func (f *fakeStore) SetUserRole(_ context.Context, userID, role string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok {
		return sql.ErrNoRows
	}
	user.Role = role
	f.users[userID] = user
	return nil
}

func (f *fakeStore) CreatePasswordReset(_ context.Context, userID, token string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets[token] = userID
	return nil
}

func (f *fakeStore) GetPasswordReset(_ context.Context, token string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	userID, ok := f.resets[token]
	if !ok {
		return "", sql.ErrNoRows
	}
	return userID, nil
}

func (f *fakeStore) MarkPasswordResetUsed(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.resets, token)
	return nil
}

func (f *fakeStore) SaveRefreshSession(_ context.Context, hash string, user store.User, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refresh[hash] = user
	return nil
}

func (f *fakeStore) LookupRefreshSession(_ context.Context, hash string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.refresh[hash]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (f *fakeStore) RevokeRefreshSession(_ context.Context, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.refresh, hash)
	return nil
}

func (f *fakeStore) RevokeUserSessions(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for hash, user := range f.refresh {
		if user.ID == userID {
			delete(f.refresh, hash)
		}
	}
	return nil
}

func (f *fakeStore) RevokeAccessToken(_ context.Context, jti string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked[jti] = true
	return nil
}

func (f *fakeStore) IsAccessTokenRevoked(_ context.Context, jti string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.revoked[jti], nil
}

func (f *fakeStore) ListFeed(_ context.Context, q store.FeedQuery) ([]store.Article, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.Article, 0, len(f.articles))
	for _, article := range f.articles {
		if q.Status != "" && article.Status != q.Status {
			continue
		}
		items = append(items, article)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (f *fakeStore) GetArticle(_ context.Context, id string) (store.Article, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	article, ok := f.articles[id]
	if !ok {
		return store.Article{}, sql.ErrNoRows
	}
	return article, nil
}

func (f *fakeStore) InsertArticle(_ context.Context, article store.Article) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.articles[article.ID] = article
	return nil
}

func (f *fakeStore) UpdateArticle(_ context.Context, article store.Article) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.articles[article.ID]; !ok {
		return sql.ErrNoRows
	}
	f.articles[article.ID] = article
	return nil
}

func (f *fakeStore) SetArticleBody(_ context.Context, id, body, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	article, ok := f.articles[id]
	if !ok {
		return sql.ErrNoRows
	}
	article.Body = body
	if article.Status != store.ArticlePublished {
		article.Status = status
	}
	f.articles[id] = article
	return nil
}

func (f *fakeStore) InsertBoard(_ context.Context, board store.Board) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.boards[board.ID] = board
	return nil
}

func (f *fakeStore) GetBoard(_ context.Context, id string) (store.Board, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	board, ok := f.boards[id]
	if !ok {
		return store.Board{}, sql.ErrNoRows
	}
	return board, nil
}

func (f *fakeStore) GetBoardByArticle(_ context.Context, articleID string) (store.Board, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, board := range f.boards {
		if board.ArticleID == articleID {
			return board, nil
		}
	}
	return store.Board{}, sql.ErrNoRows
}

func (f *fakeStore) ListBoards(_ context.Context, _ int) ([]store.BoardSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.BoardSummary, 0, len(f.boards))
	for _, board := range f.boards {
		items = append(items, store.BoardSummary{ID: board.ID, ArticleID: board.ArticleID, Title: board.Title})
	}
	return items, nil
}

func (f *fakeStore) SaveBoardGraph(_ context.Context, id string, nodes []canvas.Node, edges []canvas.Edge, updatedBy string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	board, ok := f.boards[id]
	if !ok {
		return sql.ErrNoRows
	}
	board.Nodes = nodes
	board.Edges = edges
	board.GraphVersion++
	if updatedBy != "" {
		board.UpdatedBy = updatedBy
	}
	f.boards[id] = board
	f.graphSave++
	return nil
}

func (f *fakeStore) SaveBoardContent(_ context.Context, id, content string, markers, blocks json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	board, ok := f.boards[id]
	if !ok {
		return sql.ErrNoRows
	}
	board.Content = content
	board.Markers = markers
	board.Blocks = blocks
	f.boards[id] = board
	return nil
}

func (f *fakeStore) MarkBoardPublished(_ context.Context, id, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	board, ok := f.boards[id]
	if !ok {
		return sql.ErrNoRows
	}
	board.PublishedHash = hash
	now := time.Now()
	board.PublishedAt = &now
	f.boards[id] = board
	return nil
}

func (f *fakeStore) board(id string) store.Board {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.boards[id]
}

func (f *fakeStore) article(id string) store.Article {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.articles[id]
}

type fakeGit struct {
	mu       sync.Mutex
	commits  map[string][]gitrepo.CommitInfo
	contents map[string]gitrepo.Content
	tags     map[string]string
}

func newFakeGit() *fakeGit {
	return &fakeGit{
		commits:  map[string][]gitrepo.CommitInfo{},
		contents: map[string]gitrepo.Content{},
		tags:     map[string]string{},
	}
}

func (g *fakeGit) Commit(boardID string, content gitrepo.Content, author, message string) (gitrepo.CommitInfo, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	history := g.commits[boardID]
	if len(history) > 0 {
		head := history[0]
		if g.contents[head.FullHash].Text == content.Text {
			return head, false, nil
		}
	}
	full := fmt.Sprintf("%040d", len(g.contents)+1)
	info := gitrepo.CommitInfo{Hash: full[:7], FullHash: full, Message: message, Author: author, CreatedAt: time.Now()}
	g.contents[full] = content
	g.commits[boardID] = append([]gitrepo.CommitInfo{info}, history...)
	return info, true, nil
}

func (g *fakeGit) Head(boardID string) (gitrepo.Content, gitrepo.CommitInfo, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	history := g.commits[boardID]
	if len(history) == 0 {
		return gitrepo.Content{}, gitrepo.CommitInfo{}, gitrepo.ErrNoHistory
	}
	return g.contents[history[0].FullHash], history[0], nil
}

func (g *fakeGit) History(boardID string, limit int) ([]gitrepo.CommitInfo, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	history := append([]gitrepo.CommitInfo(nil), g.commits[boardID]...)
	if limit > 0 && len(history) > limit {
		history = history[:limit]
	}
	return history, nil
}

func (g *fakeGit) GetContentByHash(_ string, hash string) (gitrepo.Content, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	content, ok := g.contents[hash]
	if !ok {
		return gitrepo.Content{}, gitrepo.ErrNoHistory
	}
	return content, nil
}

func (g *fakeGit) Tag(boardID, hash, name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tags[boardID+"/"+name] = hash
	return nil
}

type fakeSearch struct {
	mu       sync.Mutex
	articles []search.ArticleRecord
	boards   []search.BoardRecord
	queries  []search.Query
}

func (f *fakeSearch) Search(q search.Query) search.Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	results := []search.Result{}
	for _, board := range f.boards {
		results = append(results, search.Result{Type: search.ResultBoard, ID: board.ID, Title: board.Title})
	}
	return search.Response{Results: results, Total: len(results), Query: q.Text, Backend: "fake"}
}

func (f *fakeSearch) IndexArticle(a search.ArticleRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.articles = append(f.articles, a)
}

func (f *fakeSearch) IndexBoard(b search.BoardRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.boards = append(f.boards, b)
}

type fakeLeases struct {
	mu     sync.Mutex
	holder map[string]string
}

func (f *fakeLeases) AcquireDragLease(_ context.Context, boardID, userID string, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.holder == nil {
		f.holder = map[string]string{}
	}
	if current, ok := f.holder[boardID]; ok && current != userID {
		return false, nil
	}
	f.holder[boardID] = userID
	return true, nil
}

func (f *fakeLeases) DragLeaseHolder(_ context.Context, boardID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.holder[boardID], nil
}

func (f *fakeLeases) ReleaseDragLease(_ context.Context, boardID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.holder[boardID] == userID {
		delete(f.holder, boardID)
	}
	return nil
}

type fakeArtifacts struct {
	keys []string
}

func (f *fakeArtifacts) Upload(_ context.Context, key, _ string, data []byte) (artifacts.Artifact, error) {
	f.keys = append(f.keys, key)
	return artifacts.Artifact{Key: key, URL: "https://files.test/" + key, Size: int64(len(data))}, nil
}

// manualClock holds debounced work until fire is called.
type manualClock struct {
	mu      sync.Mutex
	pending []*manualTimer
}

type manualTimer struct {
	fn      func()
	stopped bool
}

func (t *manualTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

func (c *manualClock) afterFunc(_ time.Duration, fn func()) schedule.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	timer := &manualTimer{fn: fn}
	c.pending = append(c.pending, timer)
	return timer
}

func (c *manualClock) fire() {
	c.mu.Lock()
	timers := c.pending
	c.pending = nil
	c.mu.Unlock()
	for _, timer := range timers {
		if !timer.stopped {
			timer.stopped = true
			timer.fn()
		}
	}
}
