package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"curio/api/internal/artifacts"
	"curio/api/internal/auth"
	"curio/api/internal/authpw"
	"curio/api/internal/canvas"
	"curio/api/internal/config"
	"curio/api/internal/curation"
	"curio/api/internal/export"
	"curio/api/internal/gitrepo"
	"curio/api/internal/metrics"
	"curio/api/internal/rbac"
	"curio/api/internal/search"
	"curio/api/internal/store"
	"curio/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

// DataStore is the Postgres surface the API needs. *store.PostgresStore
// satisfies it.
type DataStore interface {
	authpw.UserStore
	RefreshStore
	SetUserRole(context.Context, string, string) error
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)
	ListFeed(context.Context, store.FeedQuery) ([]store.Article, error)
	GetArticle(context.Context, string) (store.Article, error)
	InsertArticle(context.Context, store.Article) error
	UpdateArticle(context.Context, store.Article) error
	SetArticleBody(context.Context, string, string, string) error
	InsertBoard(context.Context, store.Board) error
	GetBoard(context.Context, string) (store.Board, error)
	GetBoardByArticle(context.Context, string) (store.Board, error)
	ListBoards(context.Context, int) ([]store.BoardSummary, error)
	SaveBoardGraph(context.Context, string, []canvas.Node, []canvas.Edge, string) error
	SaveBoardContent(context.Context, string, string, json.RawMessage, json.RawMessage) error
	MarkBoardPublished(context.Context, string, string) error
	Ping(ctx context.Context) error
}

// RefreshStore keeps refresh tokens. Redis when configured, Postgres otherwise.
type RefreshStore interface {
	SaveRefreshSession(context.Context, string, store.User, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
	RevokeUserSessions(context.Context, string) error
}

// LeaseStore hands out the per-board drag lease.
type LeaseStore interface {
	AcquireDragLease(ctx context.Context, boardID, userID string, ttl time.Duration) (bool, error)
	ReleaseDragLease(ctx context.Context, boardID, userID string) error
	DragLeaseHolder(ctx context.Context, boardID string) (string, error)
}

type GitService interface {
	Commit(string, gitrepo.Content, string, string) (gitrepo.CommitInfo, bool, error)
	Head(string) (gitrepo.Content, gitrepo.CommitInfo, error)
	History(string, int) ([]gitrepo.CommitInfo, error)
	GetContentByHash(string, string) (gitrepo.Content, error)
	Tag(string, string, string) error
}

type SearchService interface {
	Search(search.Query) search.Response
	IndexArticle(search.ArticleRecord)
	IndexBoard(search.BoardRecord)
}

type ArtifactStore interface {
	Upload(ctx context.Context, key, contentType string, data []byte) (artifacts.Artifact, error)
}

// Mailer sends account and publish notifications. *email.Service satisfies it.
type Mailer interface {
	authpw.Mailer
	SendPublishedEmail(to, userName, boardID, title, excerpt string) error
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators of a Service. Store and Git are required.
type Deps struct {
	Store     DataStore
	Git       GitService
	Refresh   RefreshStore
	Leases    LeaseStore
	Search    SearchService
	Artifacts ArtifactStore
	Mailer    Mailer
	PDF       export.PDFRenderer
	Metrics   *metrics.Collector
	Logger    *zap.Logger
	// EditorOptions are appended to every board editor, tests swap timers here.
	EditorOptions []curation.Option
}

type boardSync struct {
	articleID string
	actor     string
	touched   bool
	persisted uint64
}

type Service struct {
	cfg       config.Config
	store     DataStore
	git       GitService
	refresh   RefreshStore
	leases    LeaseStore
	search    SearchService
	artifacts ArtifactStore
	mailer    Mailer
	authpw    *authpw.Service
	exporter  *export.Service
	metrics   *metrics.Collector
	logger    *zap.Logger

	editors       *curation.Registry
	editorOptions []curation.Option
	dragLeaseTTL  time.Duration
	ownRefresh    bool

	syncMu    sync.Mutex
	syncs     map[string]*boardSync
	persistMu sync.Mutex
}

func New(cfg config.Config, deps Deps) (*Service, error) {
	if deps.Store == nil || deps.Git == nil {
		return nil, errors.New("app: store and git are required")
	}
	tuning, err := cfg.Proximity()
	if err != nil {
		return nil, err
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	refresh := deps.Refresh
	if refresh == nil {
		refresh = deps.Store
	}

	s := &Service{
		cfg:           cfg,
		store:         deps.Store,
		git:           deps.Git,
		refresh:       refresh,
		leases:        deps.Leases,
		search:        deps.Search,
		artifacts:     deps.Artifacts,
		mailer:        deps.Mailer,
		metrics:       deps.Metrics,
		logger:        logger.Named("app"),
		editorOptions: deps.EditorOptions,
		dragLeaseTTL:  30 * time.Second,
		syncs:         make(map[string]*boardSync),
		ownRefresh:    deps.Refresh != nil,
	}
	s.authpw = authpw.NewService(deps.Store, deps.Mailer, logger)
	s.exporter = export.NewService(s, deps.PDF)
	s.editors = curation.NewRegistry(tuning, s.loadBoard, s.boardOptions, deps.Metrics)
	return s, nil
}

// Close stops every live editor.
func (s *Service) Close() {
	s.editors.Close()
}

func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authpw
}

func (s *Service) SMTPConfigured() bool {
	return s.mailer != nil && s.mailer.IsConfigured()
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Checks pings every backing service that can be pinged, keyed by name.
func (s *Service) Checks(ctx context.Context) map[string]error {
	checks := map[string]error{"database": s.store.Ping(ctx)}
	if p, ok := s.refresh.(pinger); ok && s.ownRefresh {
		checks["redis"] = p.Ping(ctx)
	}
	return checks
}

// OpenBoards is the number of boards with a live editor.
func (s *Service) OpenBoards() int {
	return s.editors.Len()
}

func (s *Service) CreateSession(ctx context.Context, userID string) (Session, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.refresh.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, auth.ErrInvalidToken
	}
	if err := s.refresh.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	// Pick up role changes made since the token was issued.
	if current, err := s.store.GetUserByID(ctx, user.ID); err == nil {
		user = current
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")
	role := string(rbac.Normalize(user.Role))

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		Role: role,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.refresh.SaveRefreshSession(ctx, auth.HashToken(refresh), user, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Role:         role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		if store.IsNotFound(err) {
			return Session{}, auth.ErrInvalidToken
		}
		return Session{}, err
	}
	if user.DeactivatedAt != nil {
		return Session{}, auth.ErrInvalidToken
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Role:      string(rbac.Normalize(user.Role)),
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		if err := s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt); err != nil {
			s.logger.Warn("revoke access token failed", zap.Error(err))
		}
	}
	if refreshToken != "" {
		if err := s.refresh.RevokeRefreshSession(ctx, auth.HashToken(refreshToken)); err != nil {
			s.logger.Warn("revoke refresh token failed", zap.Error(err))
		}
	}
	return nil
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

type SetRoleInput struct {
	Role string `json:"role" validate:"required,oneof=viewer curator admin"`
}

// SetRole changes a user's role. An admin cannot demote themselves.
func (s *Service) SetRole(ctx context.Context, session Session, userID string, input SetRoleInput) (map[string]any, error) {
	if userID == session.UserID && input.Role != string(rbac.RoleAdmin) {
		return nil, domainError(http.StatusConflict, "SELF_DEMOTION", "Admins cannot remove their own admin role", nil)
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	role := rbac.Normalize(input.Role)
	if err := s.store.SetUserRole(ctx, user.ID, string(role)); err != nil {
		return nil, err
	}
	// Sign the user out everywhere so no device keeps the old role.
	if err := s.refresh.RevokeUserSessions(ctx, user.ID); err != nil {
		return nil, err
	}
	s.logger.Info("role changed",
		zap.String("user", user.ID),
		zap.String("role", string(role)),
		zap.String("by", session.UserID))
	return map[string]any{"userId": user.ID, "role": role}, nil
}

type SearchInput struct {
	Text   string
	Type   string
	Status string
	Tag    string
	Limit  int
	Offset int
}

func (s *Service) Search(input SearchInput) (search.Response, error) {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: input.Text, Backend: search.BackendNone}, nil
	}
	filter := search.ResultType(strings.ToLower(strings.TrimSpace(input.Type)))
	switch filter {
	case "", search.ResultArticle, search.ResultBoard:
	default:
		return search.Response{}, invalidField("type", fmt.Sprintf("unknown result type %q", input.Type))
	}
	return s.search.Search(search.Query{
		Text:       strings.TrimSpace(input.Text),
		FilterType: filter,
		Status:     input.Status,
		Tag:        input.Tag,
		Limit:      input.Limit,
		Offset:     input.Offset,
	}), nil
}

func orEmpty[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
