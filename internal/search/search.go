// Package search finds articles and published boards, through Meilisearch
// when it is reachable and Postgres full-text search otherwise.
package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultArticle ResultType = "article"
	ResultBoard   ResultType = "board"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type      ResultType `json:"type"`
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Snippet   string     `json:"snippet"`
	ArticleID string     `json:"articleId,omitempty"`
	Status    string     `json:"status,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text       string
	FilterType ResultType // empty = all types
	Status     string     // article status filter
	Tag        string
	Limit      int
	Offset     int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Backend string   `json:"backend"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push entities into a search index.
type Indexer interface {
	IndexArticles(articles []ArticleRecord) error
	IndexBoards(boards []BoardRecord) error
}

// Index is a search backend that also accepts writes.
type Index interface {
	Searcher
	Indexer
}

// ArticleRecord is the data we index for a feed article.
type ArticleRecord struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	Summary string   `json:"summary"`
	Tags    []string `json:"tags"`
	Status  string   `json:"status"`
}

// BoardRecord is the data we index for a published board.
type BoardRecord struct {
	ID        string `json:"id"`
	ArticleID string `json:"articleId"`
	Title     string `json:"title"`
	Content   string `json:"content"`
}

func defaultLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	if limit > 100 {
		return 100
	}
	return limit
}
