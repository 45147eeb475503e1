package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"curio/api/internal/canvas"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("CURIO_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("CURIO_TEST_DATABASE_URL is not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, err := Open(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.ExecContext(ctx, `DROP SCHEMA IF EXISTS public CASCADE; CREATE SCHEMA public;`)
	require.NoError(t, err)
	require.NoError(t, ApplyMigrations(ctx, db, migrationsDir))
	return db
}

func TestMigrationsRoundTripPostgres(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, applyDownMigrations(ctx, db, migrationsDir))
	_, err := db.ExecContext(ctx, `DELETE FROM schema_migrations`)
	require.NoError(t, err)
	require.NoError(t, ApplyMigrations(ctx, db, migrationsDir))
	require.NoError(t, ApplyMigrations(ctx, db, migrationsDir), "second run is a no-op")
}

func TestUserAndSessionLifecyclePostgres(t *testing.T) {
	s := NewPostgresStore(openTestDB(t))
	ctx := context.Background()

	user := User{ID: "usr_1", DisplayName: "Ada", Email: "Ada@Example.com", PasswordHash: "x", Role: "curator"}
	require.NoError(t, s.CreateUser(ctx, user))

	got, err := s.GetUserByEmail(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, "usr_1", got.ID)
	assert.Equal(t, "curator", got.Role)

	require.NoError(t, s.UpdateUserVerificationToken(ctx, "usr_1", "verify-me", time.Now().Add(time.Hour)))
	require.NoError(t, s.VerifyUserEmail(ctx, "verify-me"))
	assert.ErrorIs(t, s.VerifyUserEmail(ctx, "verify-me"), sql.ErrNoRows)

	require.NoError(t, s.SaveRefreshSession(ctx, "hash", got, time.Now().Add(time.Hour)))
	session, err := s.LookupRefreshSession(ctx, "hash")
	require.NoError(t, err)
	assert.Equal(t, "Ada", session.DisplayName)
	require.NoError(t, s.RevokeRefreshSession(ctx, "hash"))
	_, err = s.LookupRefreshSession(ctx, "hash")
	assert.True(t, IsNotFound(err))

	require.NoError(t, s.RevokeAccessToken(ctx, "jti-1", time.Now().Add(time.Hour)))
	revoked, err := s.IsAccessTokenRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, revoked)
}

func TestBoardLifecyclePostgres(t *testing.T) {
	s := NewPostgresStore(openTestDB(t))
	ctx := context.Background()

	require.NoError(t, s.InsertArticle(ctx, Article{ID: "art_1", Title: "Weekly", Tags: []string{"ai", "policy"}}))
	feed, err := s.ListFeed(ctx, FeedQuery{Tag: "ai"})
	require.NoError(t, err)
	require.Len(t, feed, 1)
	assert.Equal(t, []string{"ai", "policy"}, feed[0].Tags)

	require.NoError(t, s.InsertBoard(ctx, Board{ID: "brd_1", ArticleID: "art_1", Title: "Weekly"}))
	nodes := []canvas.Node{
		{ID: "intro", Type: canvas.NodeSegment, Position: &canvas.Position{X: 0, Y: 0}, Data: canvas.NodeData{Title: "Intro"}},
		{ID: "a", Type: canvas.NodeItem, Position: &canvas.Position{X: 100, Y: 0}, Data: canvas.NodeData{Title: "A", Body: "alpha"}},
	}
	edges := []canvas.Edge{
		canvas.NewEdge("intro", "a", canvas.EdgeDirect),
		canvas.NewEdge("a", "intro", canvas.EdgeTemporary),
	}
	require.NoError(t, s.SaveBoardGraph(ctx, "brd_1", nodes, edges, ""))
	require.NoError(t, s.SaveBoardContent(ctx, "brd_1", "## Intro\nalpha [1]", json.RawMessage(`{"markerToTitle":{"[1]":"A"}}`), nil))

	board, err := s.GetBoardByArticle(ctx, "art_1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), board.GraphVersion)
	assert.Len(t, board.Nodes, 2)
	require.Len(t, board.Edges, 1, "temporary edges are never persisted")
	assert.Equal(t, "alpha", board.Nodes[1].Data.Body)
	assert.Equal(t, "## Intro\nalpha [1]", board.Content)

	require.NoError(t, s.SetArticleBody(ctx, "art_1", board.Content, ArticlePublished))
	article, err := s.GetArticle(ctx, "art_1")
	require.NoError(t, err)
	assert.Equal(t, ArticlePublished, article.Status)
	assert.NotNil(t, article.PublishedAt)

	require.NoError(t, s.MarkBoardPublished(ctx, "brd_1", "abc123"))
	list, err := s.ListBoards(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "abc123", list[0].PublishedHash)
}

func applyDownMigrations(ctx context.Context, db *sql.DB, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	pattern := regexp.MustCompile(`^(\d+)_.*\.down\.sql$`)
	var downs []string
	for _, entry := range entries {
		if !entry.IsDir() && pattern.MatchString(entry.Name()) {
			downs = append(downs, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(downs)))
	for _, path := range downs {
		sqlBytes, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if _, err := db.ExecContext(ctx, string(sqlBytes)); err != nil {
			return err
		}
	}
	return nil
}
