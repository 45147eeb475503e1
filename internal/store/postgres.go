package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"curio/api/internal/canvas"
)

type PostgresStore struct {
	db    *sql.DB
	types *pgtype.Map
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, types: pgtype.NewMap()}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const userColumns = `id, display_name, email, password_hash, role, is_email_verified,
	COALESCE(verification_token, ''), verification_expires_at, deactivated_at, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var user User
	err := row.Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.Role,
		&user.IsEmailVerified, &user.VerificationToken, &user.VerificationExpiresAt,
		&user.DeactivatedAt, &user.CreatedAt, &user.UpdatedAt)
	return user, err
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	if user.Role == "" {
		user.Role = "viewer"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash, role, is_email_verified, verification_token)
		VALUES ($1, $2, LOWER($3), $4, $5, $6, NULLIF($7, ''))
	`, user.ID, user.DisplayName, user.Email, user.PasswordHash, user.Role, user.IsEmailVerified, user.VerificationToken)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, userID))
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email=LOWER($1)`, strings.TrimSpace(email)))
}

func (s *PostgresStore) UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET verification_token=$2, verification_expires_at=$3, updated_at=NOW() WHERE id=$1
	`, userID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("update verification token: %w", err)
	}
	return nil
}

func (s *PostgresStore) VerifyUserEmail(ctx context.Context, token string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET is_email_verified=TRUE, verification_token=NULL, verification_expires_at=NULL, updated_at=NOW()
		WHERE verification_token=$1 AND (verification_expires_at IS NULL OR verification_expires_at > NOW())
	`, token)
	if err != nil {
		return fmt.Errorf("verify email: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash=$2, updated_at=NOW() WHERE id=$1`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresStore) SetUserRole(ctx context.Context, userID, role string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET role=$2, updated_at=NOW() WHERE id=$1`, userID, role)
	if err != nil {
		return fmt.Errorf("set role: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresStore) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_resets (token, user_id, expires_at) VALUES ($1, $2, $3)
	`, token, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("create password reset: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM password_resets WHERE token=$1 AND used_at IS NULL AND expires_at > NOW()
	`, token).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *PostgresStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE password_resets SET used_at=NOW() WHERE token=$1`, token)
	if err != nil {
		return fmt.Errorf("mark password reset used: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash string, user User, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, user.ID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

// RevokeUserSessions revokes every live refresh token of userID.
func (s *PostgresStore) RevokeUserSessions(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE user_id=$1 AND revoked_at IS NULL`, userID)
	if err != nil {
		return fmt.Errorf("revoke user sessions: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `
		SELECT u.id, u.display_name, u.email, u.password_hash, u.role, u.is_email_verified,
			COALESCE(u.verification_token, ''), u.verification_expires_at, u.deactivated_at, u.created_at, u.updated_at
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
			AND u.deactivated_at IS NULL
	`, tokenHash))
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

const articleColumns = `id, title, summary, body, source, source_url, tags, status,
	COALESCE(created_by, ''), published_at, created_at, updated_at`

func (s *PostgresStore) scanArticle(row interface{ Scan(...any) error }) (Article, error) {
	var item Article
	err := row.Scan(&item.ID, &item.Title, &item.Summary, &item.Body, &item.Source, &item.SourceURL,
		s.types.SQLScanner(&item.Tags), &item.Status, &item.CreatedBy, &item.PublishedAt,
		&item.CreatedAt, &item.UpdatedAt)
	if item.Tags == nil {
		item.Tags = []string{}
	}
	return item, err
}

func (s *PostgresStore) ListFeed(ctx context.Context, q FeedQuery) ([]Article, error) {
	limit := q.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+articleColumns+`
		FROM articles
		WHERE ($1 = '' OR status = $1)
			AND ($2 = '' OR $2 = ANY(tags))
		ORDER BY COALESCE(published_at, created_at) DESC, id
		LIMIT $3 OFFSET $4
	`, q.Status, q.Tag, limit, q.Offset)
	if err != nil {
		return nil, fmt.Errorf("list feed: %w", err)
	}
	defer rows.Close()

	items := make([]Article, 0)
	for rows.Next() {
		item, err := s.scanArticle(rows)
		if err != nil {
			return nil, fmt.Errorf("scan article: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *PostgresStore) GetArticle(ctx context.Context, articleID string) (Article, error) {
	return s.scanArticle(s.db.QueryRowContext(ctx, `SELECT `+articleColumns+` FROM articles WHERE id=$1`, articleID))
}

func (s *PostgresStore) InsertArticle(ctx context.Context, item Article) error {
	if item.Tags == nil {
		item.Tags = []string{}
	}
	if item.Status == "" {
		item.Status = ArticleDraft
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO articles (id, title, summary, body, source, source_url, tags, status, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''))
	`, item.ID, item.Title, item.Summary, item.Body, item.Source, item.SourceURL, item.Tags, item.Status, item.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert article: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateArticle(ctx context.Context, item Article) error {
	if item.Tags == nil {
		item.Tags = []string{}
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE articles
		SET title=$2, summary=$3, source=$4, source_url=$5, tags=$6, updated_at=NOW()
		WHERE id=$1
	`, item.ID, item.Title, item.Summary, item.Source, item.SourceURL, item.Tags)
	if err != nil {
		return fmt.Errorf("update article: %w", err)
	}
	return requireRow(res)
}

// SetArticleBody stores the reconstructed text on the article and moves
// its status forward. A published article stays published.
func (s *PostgresStore) SetArticleBody(ctx context.Context, articleID, body, status string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE articles
		SET body=$2,
			status=CASE WHEN status='published' THEN status ELSE $3 END,
			published_at=CASE WHEN $3='published' AND published_at IS NULL THEN NOW() ELSE published_at END,
			updated_at=NOW()
		WHERE id=$1
	`, articleID, body, status)
	if err != nil {
		return fmt.Errorf("set article body: %w", err)
	}
	return requireRow(res)
}

const boardColumns = `id, COALESCE(article_id, ''), title, nodes, edges, content, markers, blocks,
	graph_version, published_hash, published_at, COALESCE(updated_by, ''), created_at, updated_at`

func scanBoard(row interface{ Scan(...any) error }) (Board, error) {
	var (
		board        Board
		nodes, edges []byte
		markers      []byte
		blocks       []byte
	)
	err := row.Scan(&board.ID, &board.ArticleID, &board.Title, &nodes, &edges, &board.Content,
		&markers, &blocks, &board.GraphVersion, &board.PublishedHash, &board.PublishedAt,
		&board.UpdatedBy, &board.CreatedAt, &board.UpdatedAt)
	if err != nil {
		return Board{}, err
	}
	if err := json.Unmarshal(nodes, &board.Nodes); err != nil {
		return Board{}, fmt.Errorf("decode board nodes: %w", err)
	}
	if err := json.Unmarshal(edges, &board.Edges); err != nil {
		return Board{}, fmt.Errorf("decode board edges: %w", err)
	}
	board.Markers = json.RawMessage(markers)
	board.Blocks = json.RawMessage(blocks)
	return board, nil
}

func (s *PostgresStore) InsertBoard(ctx context.Context, board Board) error {
	nodes, edges, err := encodeGraph(board.Nodes, board.Edges)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO boards (id, article_id, title, nodes, edges, updated_by)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, NULLIF($6, ''))
	`, board.ID, board.ArticleID, board.Title, nodes, edges, board.UpdatedBy)
	if err != nil {
		return fmt.Errorf("insert board: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetBoard(ctx context.Context, boardID string) (Board, error) {
	return scanBoard(s.db.QueryRowContext(ctx, `SELECT `+boardColumns+` FROM boards WHERE id=$1`, boardID))
}

func (s *PostgresStore) GetBoardByArticle(ctx context.Context, articleID string) (Board, error) {
	return scanBoard(s.db.QueryRowContext(ctx, `SELECT `+boardColumns+` FROM boards WHERE article_id=$1`, articleID))
}

func (s *PostgresStore) ListBoards(ctx context.Context, limit int) ([]BoardSummary, error) {
	if limit <= 0 || limit > 200 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, COALESCE(article_id, ''), title, published_hash, updated_at
		FROM boards ORDER BY updated_at DESC, id LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list boards: %w", err)
	}
	defer rows.Close()

	items := make([]BoardSummary, 0)
	for rows.Next() {
		var item BoardSummary
		if err := rows.Scan(&item.ID, &item.ArticleID, &item.Title, &item.PublishedHash, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan board: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// SaveBoardGraph persists nodes and permanent edges and bumps the graph version.
func (s *PostgresStore) SaveBoardGraph(ctx context.Context, boardID string, nodes []canvas.Node, edges []canvas.Edge, updatedBy string) error {
	encodedNodes, encodedEdges, err := encodeGraph(nodes, edges)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE boards
		SET nodes=$2, edges=$3, graph_version=graph_version+1,
			updated_by=COALESCE(NULLIF($4, ''), updated_by), updated_at=NOW()
		WHERE id=$1
	`, boardID, encodedNodes, encodedEdges, updatedBy)
	if err != nil {
		return fmt.Errorf("save board graph: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresStore) SaveBoardContent(ctx context.Context, boardID, content string, markers, blocks json.RawMessage) error {
	if len(markers) == 0 {
		markers = json.RawMessage(`{}`)
	}
	if len(blocks) == 0 {
		blocks = json.RawMessage(`[]`)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE boards SET content=$2, markers=$3, blocks=$4, updated_at=NOW() WHERE id=$1
	`, boardID, content, []byte(markers), []byte(blocks))
	if err != nil {
		return fmt.Errorf("save board content: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresStore) MarkBoardPublished(ctx context.Context, boardID, hash string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE boards SET published_hash=$2, published_at=NOW(), updated_at=NOW() WHERE id=$1
	`, boardID, hash)
	if err != nil {
		return fmt.Errorf("mark board published: %w", err)
	}
	return requireRow(res)
}

func encodeGraph(nodes []canvas.Node, edges []canvas.Edge) ([]byte, []byte, error) {
	if nodes == nil {
		nodes = []canvas.Node{}
	}
	encodedNodes, err := json.Marshal(nodes)
	if err != nil {
		return nil, nil, fmt.Errorf("encode board nodes: %w", err)
	}
	permanent := canvas.Permanent(edges)
	if permanent == nil {
		permanent = []canvas.Edge{}
	}
	encodedEdges, err := json.Marshal(permanent)
	if err != nil {
		return nil, nil, fmt.Errorf("encode board edges: %w", err)
	}
	return encodedNodes, encodedEdges, nil
}

func requireRow(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// IsNotFound reports whether err means the row does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
