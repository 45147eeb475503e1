package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; without Postgres nothing else works either.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search runs a UNION ALL over articles and published boards ranked with
// ts_rank, with ts_headline snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	union, args := buildUnion(q)
	if union == "" {
		return nil, 0, nil
	}

	offset := q.Offset
	if offset < 0 {
		offset = 0
	}
	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub", union)
	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, article_id, status
		FROM (%s) sub
		ORDER BY rank DESC, id
		LIMIT %d OFFSET %d`, union, defaultLimit(q.Limit), offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.ArticleID, &r.Status); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// buildUnion returns the ranked sub-queries for q and their arguments. $1 is
// always the search text.
func buildUnion(q Query) (string, []any) {
	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2

	var subQueries []string
	if q.FilterType == "" || q.FilterType == ResultArticle {
		where := "a.search_vector @@ " + tsQuery
		if q.Status != "" {
			where += fmt.Sprintf(" AND a.status = $%d", argN)
			args = append(args, q.Status)
			argN++
		}
		if q.Tag != "" {
			where += fmt.Sprintf(" AND $%d = ANY(a.tags)", argN)
			args = append(args, q.Tag)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'article'::text AS type, a.id, a.title,
				ts_headline('english', coalesce(a.summary, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				a.id AS article_id, a.status,
				ts_rank(a.search_vector, %s) AS rank
			FROM articles a
			WHERE %s`, tsQuery, tsQuery, where))
	}

	if q.FilterType == "" || q.FilterType == ResultBoard {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'board'::text AS type, b.id, b.title,
				ts_headline('english', coalesce(b.content, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				coalesce(b.article_id, '') AS article_id, 'published'::text AS status,
				ts_rank(b.search_vector, %s) AS rank
			FROM boards b
			WHERE b.published_at IS NOT NULL AND b.search_vector @@ %s`, tsQuery, tsQuery, tsQuery))
	}

	return strings.Join(subQueries, " UNION ALL "), args
}

// LoadAllRecords returns every article and published board for reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]ArticleRecord, []BoardRecord, error) {
	articleRows, err := p.db.QueryContext(ctx, `SELECT id, title, summary, array_to_string(tags, ','), status FROM articles`)
	if err != nil {
		return nil, nil, fmt.Errorf("load articles: %w", err)
	}
	defer articleRows.Close()

	articles := make([]ArticleRecord, 0)
	for articleRows.Next() {
		var a ArticleRecord
		var tags string
		if err := articleRows.Scan(&a.ID, &a.Title, &a.Summary, &tags, &a.Status); err != nil {
			return nil, nil, fmt.Errorf("scan article: %w", err)
		}
		a.Tags = splitTags(tags)
		articles = append(articles, a)
	}
	if err := articleRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate articles: %w", err)
	}

	boardRows, err := p.db.QueryContext(ctx, `
		SELECT id, coalesce(article_id, ''), title, content
		FROM boards
		WHERE published_at IS NOT NULL
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load boards: %w", err)
	}
	defer boardRows.Close()

	boards := make([]BoardRecord, 0)
	for boardRows.Next() {
		var b BoardRecord
		if err := boardRows.Scan(&b.ID, &b.ArticleID, &b.Title, &b.Content); err != nil {
			return nil, nil, fmt.Errorf("scan board: %w", err)
		}
		boards = append(boards, b)
	}
	if err := boardRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate boards: %w", err)
	}
	return articles, boards, nil
}

func splitTags(joined string) []string {
	if joined == "" {
		return []string{}
	}
	return strings.Split(joined, ",")
}
