package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"curio/api/internal/artifacts"
	"curio/api/internal/auth"
	"curio/api/internal/authpw"
	"curio/api/internal/canvas"
	"curio/api/internal/curation"
	"curio/api/internal/export"
	"curio/api/internal/gitrepo"
	"curio/api/internal/logging"
	"curio/api/internal/rbac"
	"curio/api/internal/store"
	"curio/api/internal/validation"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	logger     *zap.Logger
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin, logger: service.logger.Named("http")}
}

func (s *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.Middleware(s.logger))
	if s.service.metrics != nil {
		r.Use(s.service.metrics.Middleware)
	}
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   strings.Split(s.corsOrigin, ","),
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "Content-Disposition"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(responseHeaders)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	r.Get("/api/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	r.Get("/api/ready", s.handleReady)
	if s.service.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.service.metrics.Handler())
	}

	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/signup", s.handleAuthSignUp)
		r.Post("/signin", s.handleAuthSignIn)
		r.Post("/verify-email", s.handleAuthVerifyEmail)
		r.Post("/reset-password/request", s.handleAuthRequestReset)
		r.Post("/reset-password", s.handleAuthResetPassword)
	})
	r.Get("/api/session", s.handleSession)
	r.Post("/api/session/refresh", s.handleRefresh)

	r.Group(func(r chi.Router) {
		r.Use(s.requireSession)
		r.Post("/api/session/logout", s.handleLogout)

		r.With(s.requireAction(rbac.ActionRead)).Get("/api/feed", s.handleFeed)
		r.With(s.requireAction(rbac.ActionRead)).Get("/api/search", s.handleSearch)

		r.Route("/api/articles", func(r chi.Router) {
			r.With(s.requireAction(rbac.ActionCurate)).Post("/", s.handleCreateArticle)
			r.With(s.requireAction(rbac.ActionRead)).Get("/{articleID}", s.handleGetArticle)
			r.With(s.requireAction(rbac.ActionCurate)).Put("/{articleID}", s.handleUpdateArticle)
		})

		r.Route("/api/boards", func(r chi.Router) {
			r.With(s.requireAction(rbac.ActionRead)).Get("/", s.handleListBoards)
			r.With(s.requireAction(rbac.ActionCurate)).Post("/", s.handleCreateBoard)

			r.Route("/{boardID}", func(r chi.Router) {
				r.Group(func(r chi.Router) {
					r.Use(s.requireAction(rbac.ActionRead))
					r.Get("/", s.handleGetBoard)
					r.Get("/sequence", s.handleSequence)
					r.Get("/content", s.handleContent)
					r.Get("/history", s.handleHistory)
					r.Get("/export", s.handleExport)
				})
				r.Group(func(r chi.Router) {
					r.Use(s.requireAction(rbac.ActionCurate))
					r.Put("/nodes", s.handleReplaceNodes)
					r.Post("/nodes", s.handleUpsertNode)
					r.Patch("/nodes/{nodeID}/data", s.handleUpdateNodeData)
					r.Delete("/nodes/{nodeID}", s.handleRemoveNode)
					r.Post("/drag", s.handleDrag)
				})
				r.With(s.requireAction(rbac.ActionPublish)).Post("/publish", s.handlePublish)
			})
		})

		r.With(s.requireAction(rbac.ActionAdmin)).Post("/api/admin/users/{userID}/role", s.handleSetRole)
	})

	return r
}

func responseHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		if id := middleware.GetReqID(r.Context()); id != "" {
			w.Header().Set("X-Request-ID", id)
		}
		next.ServeHTTP(w, r)
	})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{}
	for name, err := range s.service.Checks(ctx) {
		if err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks[name] = map[string]any{"status": "error", "error": err.Error()}
			continue
		}
		checks[name] = map[string]any{"status": "ok"}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":         status == "ready",
		"status":     status,
		"checks":     checks,
		"openBoards": s.service.OpenBoards(),
	})
}

type sessionKey struct{}

func sessionFrom(ctx context.Context) Session {
	session, _ := ctx.Value(sessionKey{}).(Session)
	return session
}

func (s *HTTPServer) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return
		}
		session, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
				return
			}
			s.logger.Error("session lookup failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey{}, session)))
	})
}

func (s *HTTPServer) requireAction(action rbac.Action) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session := sessionFrom(r.Context())
			if !s.service.Can(session.Role, action) {
				s.forbid(w, r, session, action)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// forbid writes a 403 Forbidden response and logs the denial
func (s *HTTPServer) forbid(w http.ResponseWriter, r *http.Request, session Session, action rbac.Action) {
	s.logger.Info("permission denied",
		zap.String("user", session.UserID),
		zap.String("role", session.Role),
		zap.String("action", string(action)),
		zap.String("path", r.URL.Path))
	writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
}

func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("requestID", middleware.GetReqID(r.Context())),
			zap.Error(err))
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) respond(w http.ResponseWriter, r *http.Request, status int, payload any, err error) {
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, status, payload)
}

func (s *HTTPServer) handleSession(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
		return
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"authenticated": true, "userName": session.UserName, "userId": session.UserID, "role": session.Role})
}

func (s *HTTPServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refreshToken" validate:"required"`
	}
	if err := decodeAndValidate(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	session, err := s.service.Refresh(r.Context(), body.RefreshToken)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionPayload(session))
}

func (s *HTTPServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if err := s.service.Logout(r.Context(), sessionFrom(r.Context()), body.RefreshToken); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func sessionPayload(session Session) map[string]any {
	return map[string]any{
		"accessToken":  session.Token,
		"refreshToken": session.RefreshToken,
		"userId":       session.UserID,
		"userName":     session.UserName,
		"role":         session.Role,
		"expiresAt":    session.ExpiresAt.Unix(),
	}
}

func (s *HTTPServer) handleFeed(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := paging(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	items, err := s.service.ListFeed(r.Context(), store.FeedQuery{
		Status: r.URL.Query().Get("status"),
		Tag:    r.URL.Query().Get("tag"),
		Limit:  limit,
		Offset: offset,
	})
	s.respond(w, r, http.StatusOK, map[string]any{"items": items}, err)
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := paging(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	query := r.URL.Query()
	result, err := s.service.Search(SearchInput{
		Text:   query.Get("q"),
		Type:   query.Get("type"),
		Status: query.Get("status"),
		Tag:    query.Get("tag"),
		Limit:  limit,
		Offset: offset,
	})
	s.respond(w, r, http.StatusOK, result, err)
}

func (s *HTTPServer) handleCreateArticle(w http.ResponseWriter, r *http.Request) {
	var body ArticleInput
	if err := decodeAndValidate(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	result, err := s.service.CreateArticle(r.Context(), sessionFrom(r.Context()), body)
	s.respond(w, r, http.StatusCreated, result, err)
}

func (s *HTTPServer) handleGetArticle(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.GetArticle(r.Context(), chi.URLParam(r, "articleID"))
	s.respond(w, r, http.StatusOK, result, err)
}

func (s *HTTPServer) handleUpdateArticle(w http.ResponseWriter, r *http.Request) {
	var body ArticleInput
	if err := decodeAndValidate(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	result, err := s.service.UpdateArticle(r.Context(), chi.URLParam(r, "articleID"), body)
	s.respond(w, r, http.StatusOK, result, err)
}

func (s *HTTPServer) handleListBoards(w http.ResponseWriter, r *http.Request) {
	limit, _, err := paging(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	items, err := s.service.ListBoards(r.Context(), limit)
	s.respond(w, r, http.StatusOK, map[string]any{"items": items}, err)
}

func (s *HTTPServer) handleCreateBoard(w http.ResponseWriter, r *http.Request) {
	var body CreateBoardInput
	if err := decodeAndValidate(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	result, err := s.service.CreateBoard(r.Context(), sessionFrom(r.Context()), body)
	s.respond(w, r, http.StatusCreated, result, err)
}

func (s *HTTPServer) handleGetBoard(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.GetBoard(r.Context(), chi.URLParam(r, "boardID"))
	s.respond(w, r, http.StatusOK, result, err)
}

func (s *HTTPServer) handleReplaceNodes(w http.ResponseWriter, r *http.Request) {
	var body ReplaceNodesInput
	if err := decodeAndValidate(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	result, err := s.service.ReplaceNodes(r.Context(), sessionFrom(r.Context()), chi.URLParam(r, "boardID"), body)
	s.respond(w, r, http.StatusOK, result, err)
}

func (s *HTTPServer) handleUpsertNode(w http.ResponseWriter, r *http.Request) {
	var body NodeInput
	if err := decodeAndValidate(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	result, err := s.service.UpsertNode(r.Context(), sessionFrom(r.Context()), chi.URLParam(r, "boardID"), body)
	s.respond(w, r, http.StatusOK, result, err)
}

func (s *HTTPServer) handleUpdateNodeData(w http.ResponseWriter, r *http.Request) {
	var body canvas.NodeData
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if body.Malformed != "" {
		writeError(w, http.StatusUnprocessableEntity, "MALFORMED_DATA", "Node data must be an object", map[string]string{"reason": string(body.Malformed)})
		return
	}
	result, err := s.service.UpdateNodeData(r.Context(), sessionFrom(r.Context()), chi.URLParam(r, "boardID"), chi.URLParam(r, "nodeID"), body)
	s.respond(w, r, http.StatusAccepted, result, err)
}

func (s *HTTPServer) handleRemoveNode(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.RemoveNode(r.Context(), sessionFrom(r.Context()), chi.URLParam(r, "boardID"), chi.URLParam(r, "nodeID"))
	s.respond(w, r, http.StatusOK, result, err)
}

func (s *HTTPServer) handleDrag(w http.ResponseWriter, r *http.Request) {
	var body DragInput
	if err := decodeAndValidate(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	result, err := s.service.Drag(r.Context(), sessionFrom(r.Context()), chi.URLParam(r, "boardID"), body)
	s.respond(w, r, http.StatusOK, result, err)
}

func (s *HTTPServer) handleSequence(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.Sequence(r.Context(), chi.URLParam(r, "boardID"))
	s.respond(w, r, http.StatusOK, result, err)
}

func (s *HTTPServer) handleContent(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.Content(r.Context(), chi.URLParam(r, "boardID"))
	s.respond(w, r, http.StatusOK, result, err)
}

func (s *HTTPServer) handlePublish(w http.ResponseWriter, r *http.Request) {
	var body PublishInput
	if err := decodeAndValidate(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	result, err := s.service.Publish(r.Context(), sessionFrom(r.Context()), chi.URLParam(r, "boardID"), body)
	s.respond(w, r, http.StatusOK, result, err)
}

func (s *HTTPServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit, _, err := paging(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	result, err := s.service.History(r.Context(), chi.URLParam(r, "boardID"), limit)
	s.respond(w, r, http.StatusOK, result, err)
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	format, err := export.ParseFormat(query.Get("format"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	upload := false
	if raw := query.Get("upload"); raw != "" {
		upload, err = strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_QUERY", "upload must be a boolean", nil)
			return
		}
	}
	session := sessionFrom(r.Context())
	if upload && !s.service.Can(session.Role, rbac.ActionPublish) {
		s.forbid(w, r, session, rbac.ActionPublish)
		return
	}

	result, artifact, err := s.service.Export(r.Context(), chi.URLParam(r, "boardID"), ExportInput{
		Version: query.Get("version"),
		Format:  format,
		Upload:  upload,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if artifact != nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"artifact": artifact,
			"filename": result.Filename,
			"mimeType": result.MimeType,
		})
		return
	}
	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(result.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func (s *HTTPServer) handleSetRole(w http.ResponseWriter, r *http.Request) {
	var body SetRoleInput
	if err := decodeAndValidate(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	result, err := s.service.SetRole(r.Context(), sessionFrom(r.Context()), chi.URLParam(r, "userID"), body)
	s.respond(w, r, http.StatusOK, result, err)
}

func paging(r *http.Request) (limit, offset int, err error) {
	query := r.URL.Query()
	if raw := query.Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return 0, 0, domainError(http.StatusBadRequest, "INVALID_QUERY", "limit must be a non-negative integer", nil)
		}
	}
	if raw := query.Get("offset"); raw != "" {
		offset, err = strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return 0, 0, domainError(http.StatusBadRequest, "INVALID_QUERY", "offset must be a non-negative integer", nil)
		}
	}
	return limit, offset, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

// decodeBody reads a JSON body. An empty body leaves target untouched.
func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func decodeAndValidate(r *http.Request, target any) error {
	if err := decodeBody(r, target); err != nil {
		return domainError(http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
	}
	return validation.Struct(target)
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var validationErr *validation.Error
	if errors.As(err, &validationErr) {
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Validation failed", validationErr.Fields
	}
	switch {
	case errors.Is(err, authpw.ErrMissingFields), errors.Is(err, authpw.ErrWeakPassword):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil
	case errors.Is(err, authpw.ErrEmailTaken):
		return http.StatusConflict, "EMAIL_EXISTS", "Email already registered", nil
	case errors.Is(err, authpw.ErrInvalidCredentials):
		return http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil
	case errors.Is(err, authpw.ErrInvalidToken):
		return http.StatusBadRequest, "INVALID_TOKEN", err.Error(), nil
	case errors.Is(err, canvas.ErrNodeNotFound):
		return http.StatusNotFound, "NODE_NOT_FOUND", "Node not found", nil
	case errors.Is(err, canvas.ErrMalformedNode):
		return http.StatusUnprocessableEntity, "MALFORMED_NODE", err.Error(), nil
	case errors.Is(err, curation.ErrNotDragging):
		return http.StatusConflict, "NOT_DRAGGING", "Node is not being dragged", nil
	case errors.Is(err, export.ErrUnsupportedFormat):
		return http.StatusBadRequest, "UNSUPPORTED_FORMAT", "Unsupported export format", nil
	case errors.Is(err, export.ErrPDFDependencyMissing):
		return http.StatusServiceUnavailable, "PDF_UNAVAILABLE", "PDF export is not available", nil
	case errors.Is(err, export.ErrContentUnavailable):
		return http.StatusNotFound, "CONTENT_UNAVAILABLE", "Export content unavailable", nil
	case errors.Is(err, gitrepo.ErrNoHistory):
		return http.StatusNotFound, "NO_HISTORY", "Board has no published history", nil
	case errors.Is(err, artifacts.ErrNotConfigured):
		return http.StatusServiceUnavailable, "ARTIFACTS_UNAVAILABLE", "Artifact storage is not configured", nil
	case errors.Is(err, sql.ErrNoRows):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

// Auth handlers for email/password authentication

func (s *HTTPServer) handleAuthSignUp(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email       string `json:"email" validate:"required,email"`
		Password    string `json:"password" validate:"required,min=8"`
		DisplayName string `json:"displayName" validate:"required,max=120"`
	}
	if err := decodeAndValidate(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}

	resp, err := s.service.AuthPasswordService().SignUp(r.Context(), authpw.SignUpRequest{
		Email:       body.Email,
		Password:    body.Password,
		DisplayName: body.DisplayName,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}

	response := map[string]any{
		"userId":  resp.UserID,
		"message": "Please check your email to verify your account",
	}
	// Dev bypass: include verification token in response when email not configured
	if resp.VerificationToken != "" {
		response["devVerificationToken"] = resp.VerificationToken
		response["message"] = "Account created. Verify your email to continue."
	}

	writeJSON(w, http.StatusCreated, response)
}

func (s *HTTPServer) handleAuthSignIn(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	resp, err := s.service.AuthPasswordService().SignIn(r.Context(), authpw.SignInRequest{
		Email:    body.Email,
		Password: body.Password,
	})
	if err != nil {
		if errors.Is(err, authpw.ErrInvalidCredentials) || errors.Is(err, authpw.ErrMissingFields) {
			writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
			return
		}
		s.fail(w, r, err)
		return
	}

	if resp.RequiresVerify {
		writeError(w, http.StatusForbidden, "EMAIL_NOT_VERIFIED", "Please verify your email before signing in", nil)
		return
	}

	session, err := s.service.CreateSession(r.Context(), resp.User.ID)
	if err != nil {
		s.logger.Error("create session failed", zap.String("user", resp.User.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "SESSION_FAILED", "Failed to create session", nil)
		return
	}

	writeJSON(w, http.StatusOK, sessionPayload(session))
}

func (s *HTTPServer) handleAuthVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token string `json:"token" validate:"required"`
	}
	if err := decodeAndValidate(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}

	if err := s.service.AuthPasswordService().VerifyEmail(r.Context(), body.Token); err != nil {
		writeError(w, http.StatusBadRequest, "VERIFICATION_FAILED", err.Error(), nil)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Email verified successfully",
	})
}

func (s *HTTPServer) handleAuthRequestReset(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email" validate:"required,email"`
	}
	if err := decodeAndValidate(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}

	token, err := s.service.AuthPasswordService().RequestPasswordReset(r.Context(), body.Email)
	if err != nil {
		s.logger.Warn("password reset request failed", zap.Error(err))
	}

	response := map[string]any{
		"message": "If an account exists, a reset email has been sent",
	}
	// Dev bypass: include reset token in response when email not configured and token was created
	if token != "" {
		response["devResetToken"] = token
	}

	writeJSON(w, http.StatusOK, response)
}

func (s *HTTPServer) handleAuthResetPassword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token       string `json:"token" validate:"required"`
		NewPassword string `json:"newPassword" validate:"required"`
	}
	if err := decodeAndValidate(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}

	if err := s.service.AuthPasswordService().ResetPassword(r.Context(), authpw.ResetPasswordRequest{
		Token:       body.Token,
		NewPassword: body.NewPassword,
	}); err != nil {
		if errors.Is(err, authpw.ErrWeakPassword) {
			s.fail(w, r, err)
			return
		}
		writeError(w, http.StatusBadRequest, "RESET_FAILED", err.Error(), nil)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Password reset successfully",
	})
}
