package search

import (
	"context"

	"go.uber.org/zap"
)

// Backend names reported in Response.Backend.
const (
	BackendMeili    = "meilisearch"
	BackendPostgres = "postgres"
	BackendNone     = "none"
)

// RecordLoader reads every indexable record, used for reindexing.
type RecordLoader interface {
	LoadAllRecords(ctx context.Context) ([]ArticleRecord, []BoardRecord, error)
}

// Service is the facade that tries the primary index first and falls back
// to Postgres FTS.
type Service struct {
	primary  Index
	fallback Searcher
	loader   RecordLoader
	logger   *zap.Logger
	async    bool
}

// NewService creates a search service. primary may be nil when Meilisearch
// is not configured. A *PgFTS fallback doubles as the reindex loader.
func NewService(primary Index, fallback Searcher, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{primary: primary, fallback: fallback, logger: logger.Named("search"), async: true}
	if loader, ok := fallback.(RecordLoader); ok {
		s.loader = loader
	}
	return s
}

// Synchronous makes index writes block, mainly for tests.
func (s *Service) Synchronous() *Service {
	s.async = false
	return s
}

// Search tries the primary index if healthy, otherwise the fallback.
func (s *Service) Search(q Query) Response {
	q.Limit = defaultLimit(q.Limit)
	if s.primaryUp() {
		results, total, err := s.primary.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Backend: BackendMeili}
		}
		s.logger.Warn("primary search failed, falling back", zap.Error(err))
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text, Backend: BackendNone}
	}
	results, total, err := s.fallback.Search(q)
	if err != nil {
		s.logger.Error("fallback search failed", zap.Error(err))
		return Response{Results: []Result{}, Query: q.Text, Backend: BackendPostgres}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text, Backend: BackendPostgres}
}

// IndexArticle pushes one article to the primary index.
func (s *Service) IndexArticle(a ArticleRecord) {
	s.write("index article", a.ID, func(idx Index) error { return idx.IndexArticles([]ArticleRecord{a}) })
}

// IndexBoard pushes one published board to the primary index.
func (s *Service) IndexBoard(b BoardRecord) {
	s.write("index board", b.ID, func(idx Index) error { return idx.IndexBoards([]BoardRecord{b}) })
}

// ReindexAll reads every record from Postgres and pushes it to the primary
// index. Called at boot when the primary is up.
func (s *Service) ReindexAll(ctx context.Context) {
	if !s.primaryUp() || s.loader == nil {
		return
	}
	articles, boards, err := s.loader.LoadAllRecords(ctx)
	if err != nil {
		s.logger.Error("reindex load failed", zap.Error(err))
		return
	}
	if err := s.primary.IndexArticles(articles); err != nil {
		s.logger.Error("reindex articles", zap.Error(err))
	}
	if err := s.primary.IndexBoards(boards); err != nil {
		s.logger.Error("reindex boards", zap.Error(err))
	}
	s.logger.Info("reindexed", zap.Int("articles", len(articles)), zap.Int("boards", len(boards)))
}

func (s *Service) primaryUp() bool {
	return s.primary != nil && s.primary.Healthy()
}

// write runs fn against the primary index, fire-and-forget unless the
// service is synchronous.
func (s *Service) write(op, id string, fn func(Index) error) {
	if !s.primaryUp() {
		return
	}
	run := func() {
		if err := fn(s.primary); err != nil {
			s.logger.Warn(op, zap.String("id", id), zap.Error(err))
		}
	}
	if s.async {
		go run()
		return
	}
	run()
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
