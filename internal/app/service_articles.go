package app

import (
	"context"
	"strings"

	"curio/api/internal/search"
	"curio/api/internal/store"
	"curio/api/internal/util"
)

type ArticleInput struct {
	Title     string   `json:"title" validate:"required,max=300"`
	Summary   string   `json:"summary" validate:"max=2000"`
	Body      string   `json:"body"`
	Source    string   `json:"source" validate:"max=200"`
	SourceURL string   `json:"sourceUrl" validate:"omitempty,url"`
	Tags      []string `json:"tags" validate:"max=20,dive,required,max=40"`
}

func (s *Service) ListFeed(ctx context.Context, query store.FeedQuery) ([]map[string]any, error) {
	switch query.Status {
	case "", store.ArticleDraft, store.ArticleCurating, store.ArticlePublished:
	default:
		return nil, invalidField("status", "status must be one of [draft curating published]")
	}
	articles, err := s.store.ListFeed(ctx, query)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(articles))
	for _, article := range articles {
		items = append(items, articleView(article))
	}
	return items, nil
}

func (s *Service) GetArticle(ctx context.Context, articleID string) (map[string]any, error) {
	article, err := s.store.GetArticle(ctx, articleID)
	if err != nil {
		return nil, notFoundAs(err, errArticleNotFound)
	}
	view := articleView(article)
	if board, err := s.store.GetBoardByArticle(ctx, articleID); err == nil {
		view["boardId"] = board.ID
	}
	return map[string]any{"article": view}, nil
}

func (s *Service) CreateArticle(ctx context.Context, session Session, input ArticleInput) (map[string]any, error) {
	article := store.Article{
		ID:        util.NewID("art"),
		Title:     strings.TrimSpace(input.Title),
		Summary:   strings.TrimSpace(input.Summary),
		Body:      input.Body,
		Source:    strings.TrimSpace(input.Source),
		SourceURL: strings.TrimSpace(input.SourceURL),
		Tags:      normalizeTags(input.Tags),
		Status:    store.ArticleDraft,
		CreatedBy: session.UserID,
	}
	if err := s.store.InsertArticle(ctx, article); err != nil {
		return nil, err
	}
	s.indexArticle(article)
	return map[string]any{"article": articleView(article)}, nil
}

// UpdateArticle edits the article metadata. The body belongs to the board
// once one exists and is not touched here.
func (s *Service) UpdateArticle(ctx context.Context, articleID string, input ArticleInput) (map[string]any, error) {
	article, err := s.store.GetArticle(ctx, articleID)
	if err != nil {
		return nil, notFoundAs(err, errArticleNotFound)
	}
	article.Title = strings.TrimSpace(input.Title)
	article.Summary = strings.TrimSpace(input.Summary)
	article.Source = strings.TrimSpace(input.Source)
	article.SourceURL = strings.TrimSpace(input.SourceURL)
	article.Tags = normalizeTags(input.Tags)
	if err := s.store.UpdateArticle(ctx, article); err != nil {
		return nil, err
	}
	s.indexArticle(article)
	return map[string]any{"article": articleView(article)}, nil
}

func (s *Service) indexArticle(article store.Article) {
	if s.search == nil {
		return
	}
	s.search.IndexArticle(search.ArticleRecord{
		ID:      article.ID,
		Title:   article.Title,
		Summary: article.Summary,
		Tags:    article.Tags,
		Status:  article.Status,
	})
}

func normalizeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
	}
	return out
}

func articleView(article store.Article) map[string]any {
	return map[string]any{
		"id":          article.ID,
		"title":       article.Title,
		"summary":     article.Summary,
		"body":        article.Body,
		"source":      article.Source,
		"sourceUrl":   article.SourceURL,
		"tags":        orEmpty(article.Tags),
		"status":      article.Status,
		"createdBy":   article.CreatedBy,
		"publishedAt": article.PublishedAt,
		"createdAt":   article.CreatedAt,
		"updatedAt":   article.UpdatedAt,
	}
}
