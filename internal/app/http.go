package app

import (
	"context"
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
	"go.uber.org/zap"
	"gorm.io/gorm"

	"flux/api/internal/auth"
	"flux/api/internal/blob"
	"flux/api/internal/export"
	"flux/api/internal/store"
)

const maxJSONBody = 1 << 20

type HTTPServer struct {
	service     *Service
	corsOrigins []string
	log         *zap.Logger
}

func NewHTTPServer(service *Service, corsOrigins []string) *HTTPServer {
	return &HTTPServer{
		service:     service,
		corsOrigins: corsOrigins,
		log:         zap.L().With(zap.String("component", "http")),
	}
}

func (s *HTTPServer) Handler() http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(requestLogger(s.log))
	router.Use(middleware.Recoverer)
	router.Use(corsHandler(s.corsOrigins))

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, codeNotFound, "Not found", nil)
	})
	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, codeValidation, "Method not allowed", nil)
	})

	router.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Head("/health", s.handleHealth)
		r.Get("/ready", s.handleReady)
		r.Head("/ready", s.handleReady)
		r.Get("/session", s.handleSession)

		r.Group(func(r chi.Router) {
			r.Use(s.requireSession)

			r.Post("/session/logout", s.handleLogout)

			r.Get("/workspaces", s.handleListWorkspaces)
			r.Post("/workspaces", s.handleCreateWorkspace)
			r.Delete("/workspaces", s.handleDeleteWorkspace)

			r.Get("/pages", s.handleListPages)
			r.Post("/pages", s.handleCreatePage)
			r.Patch("/pages", s.handleUpdatePage)
			r.Delete("/pages", s.handleArchivePage)
			r.Get("/pages/search", s.handleSearchPages)
			r.Get("/pages/export", s.handleExportPage)
			r.Get("/pages/history", s.handlePageHistory)
			r.Get("/pages/templates", s.handlePageTemplates)

			r.Get("/items", s.handleListItems)
			r.Post("/items", s.handleCreateItem)
			r.Patch("/items", s.handleUpdateItem)
			r.Delete("/items", s.handleDeleteItem)

			r.Get("/invites", s.handleListMembers)
			r.Post("/invites", s.handleInvite)
			r.Patch("/invites", s.handleChangeRole)
			r.Delete("/invites", s.handleRemoveMember)

			r.Get("/comments", s.handleListComments)
			r.Post("/comments", s.handleCreateComment)
			r.Patch("/comments", s.handleUpdateComment)
			r.Delete("/comments", s.handleDeleteComment)

			r.Post("/uploads", s.handleUpload)
		})
	})

	return router
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleReady requires the database. Search is reported but never fails
// readiness since queries fall back to the database.
func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
	}

	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}

	if s.service.SearchHealthy() {
		checks["search"] = map[string]any{"status": "ok"}
	} else {
		checks["search"] = map[string]any{"status": "fallback"}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleSession(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
		return
	}
	session, err := s.service.Authenticate(r.Context(), token)
	if err != nil {
		if !errors.Is(err, auth.ErrInvalidToken) && !errors.Is(err, auth.ErrExpiredToken) {
			s.log.Warn("session lookup failed", zap.String("request_id", middleware.GetReqID(r.Context())), zap.Error(err))
		}
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"authenticated": true,
		"user": map[string]any{
			"id":    session.UserID,
			"name":  session.Name,
			"email": session.Email,
			"image": session.Image,
		},
		"expiresAt": session.ExpiresAt,
	})
}

func (s *HTTPServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	session, _ := sessionFrom(r.Context())
	if err := s.service.Logout(r.Context(), session); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleListWorkspaces(w http.ResponseWriter, r *http.Request) {
	session, _ := sessionFrom(r.Context())
	workspaces, err := s.service.ListWorkspaces(r.Context(), session, r.URL.Query().Get("userId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"workspaces": workspaces})
}

func (s *HTTPServer) handleCreateWorkspace(w http.ResponseWriter, r *http.Request) {
	session, _ := sessionFrom(r.Context())
	var req createWorkspaceRequest
	if !s.decode(w, r, &req) {
		return
	}
	workspace, err := s.service.CreateWorkspace(r.Context(), session, req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"workspace": workspace})
}

func (s *HTTPServer) handleDeleteWorkspace(w http.ResponseWriter, r *http.Request) {
	session, _ := sessionFrom(r.Context())
	if err := s.service.DeleteWorkspace(r.Context(), session, r.URL.Query().Get("id")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *HTTPServer) handleListPages(w http.ResponseWriter, r *http.Request) {
	session, _ := sessionFrom(r.Context())
	query := r.URL.Query()
	pages, err := s.service.ListPages(r.Context(), session, query.Get("workspaceId"), query.Get("includeArchived") == "true")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pages": pages})
}

func (s *HTTPServer) handleCreatePage(w http.ResponseWriter, r *http.Request) {
	session, _ := sessionFrom(r.Context())
	var req createPageRequest
	if !s.decode(w, r, &req) {
		return
	}
	page, err := s.service.CreatePage(r.Context(), session, req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"page": page})
}

func (s *HTTPServer) handleUpdatePage(w http.ResponseWriter, r *http.Request) {
	session, _ := sessionFrom(r.Context())
	var req updatePageRequest
	if !s.decode(w, r, &req) {
		return
	}
	page, err := s.service.UpdatePage(r.Context(), session, req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"page": page})
}

func (s *HTTPServer) handleArchivePage(w http.ResponseWriter, r *http.Request) {
	session, _ := sessionFrom(r.Context())
	if err := s.service.ArchivePage(r.Context(), session, r.URL.Query().Get("id")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *HTTPServer) handleSearchPages(w http.ResponseWriter, r *http.Request) {
	session, _ := sessionFrom(r.Context())
	query := r.URL.Query()
	response, err := s.service.SearchPages(r.Context(), session, query.Get("workspaceId"), query.Get("query"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *HTTPServer) handleExportPage(w http.ResponseWriter, r *http.Request) {
	session, _ := sessionFrom(r.Context())
	query := r.URL.Query()
	format := query.Get("format")
	if format == "" {
		format = string(export.FormatMarkdown)
	}
	result, err := s.service.ExportPage(r.Context(), session, query.Get("id"), format)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	w.Header().Set("Content-Disposition", "attachment; filename=\""+result.Filename+"\"")
	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Length", strconv.Itoa(len(result.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func (s *HTTPServer) handlePageHistory(w http.ResponseWriter, r *http.Request) {
	session, _ := sessionFrom(r.Context())
	query := r.URL.Query()
	pageID := query.Get("id")

	if hash := query.Get("hash"); hash != "" {
		snapshot, err := s.service.PageSnapshot(r.Context(), session, pageID, hash)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"snapshot": snapshot})
		return
	}

	limit := 50
	if raw := query.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeDomainError(w, errValidation("limit must be a positive integer", nil))
			return
		}
		limit = min(parsed, 200)
	}
	revisions, err := s.service.PageHistory(r.Context(), session, pageID, limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"revisions": revisions})
}

func (s *HTTPServer) handlePageTemplates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"templates": PageTemplates()})
}

func (s *HTTPServer) handleListItems(w http.ResponseWriter, r *http.Request) {
	session, _ := sessionFrom(r.Context())
	query := r.URL.Query()
	filter := store.ItemFilter{
		WorkspaceID: query.Get("workspaceId"),
		Type:        query.Get("type"),
		Priority:    query.Get("priority"),
		SortBy:      query.Get("sortBy"),
	}
	if raw := query.Get("completed"); raw != "" {
		completed, err := strconv.ParseBool(raw)
		if err != nil {
			writeDomainError(w, errValidation("completed must be true or false", nil))
			return
		}
		filter.Completed = &completed
	}
	switch filter.SortBy {
	case "", "priority", "dueDate":
	default:
		writeDomainError(w, errValidation("sortBy must be one of: priority dueDate", nil))
		return
	}

	items, err := s.service.ListItems(r.Context(), session, filter)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *HTTPServer) handleCreateItem(w http.ResponseWriter, r *http.Request) {
	session, _ := sessionFrom(r.Context())
	var req createItemRequest
	if !s.decode(w, r, &req) {
		return
	}
	item, err := s.service.CreateItem(r.Context(), session, req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"item": item})
}

func (s *HTTPServer) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	session, _ := sessionFrom(r.Context())
	var req updateItemRequest
	if !s.decode(w, r, &req) {
		return
	}
	item, err := s.service.UpdateItem(r.Context(), session, req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"item": item})
}

func (s *HTTPServer) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	session, _ := sessionFrom(r.Context())
	if err := s.service.DeleteItem(r.Context(), session, r.URL.Query().Get("id")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *HTTPServer) handleListMembers(w http.ResponseWriter, r *http.Request) {
	session, _ := sessionFrom(r.Context())
	members, err := s.service.ListMembers(r.Context(), session, r.URL.Query().Get("workspaceId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"members": members})
}

func (s *HTTPServer) handleInvite(w http.ResponseWriter, r *http.Request) {
	session, _ := sessionFrom(r.Context())
	var req inviteRequest
	if !s.decode(w, r, &req) {
		return
	}
	member, err := s.service.InviteMember(r.Context(), session, req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"member": member})
}

func (s *HTTPServer) handleChangeRole(w http.ResponseWriter, r *http.Request) {
	session, _ := sessionFrom(r.Context())
	var req changeRoleRequest
	if !s.decode(w, r, &req) {
		return
	}
	member, err := s.service.ChangeMemberRole(r.Context(), session, req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"member": member})
}

func (s *HTTPServer) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	session, _ := sessionFrom(r.Context())
	query := r.URL.Query()
	if err := s.service.RemoveMember(r.Context(), session, query.Get("workspaceId"), query.Get("userId")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *HTTPServer) handleListComments(w http.ResponseWriter, r *http.Request) {
	session, _ := sessionFrom(r.Context())
	comments, err := s.service.ListComments(r.Context(), session, r.URL.Query().Get("pageId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"comments": comments})
}

func (s *HTTPServer) handleCreateComment(w http.ResponseWriter, r *http.Request) {
	session, _ := sessionFrom(r.Context())
	var req createCommentRequest
	if !s.decode(w, r, &req) {
		return
	}
	comment, err := s.service.CreateComment(r.Context(), session, req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"comment": comment})
}

func (s *HTTPServer) handleUpdateComment(w http.ResponseWriter, r *http.Request) {
	session, _ := sessionFrom(r.Context())
	var req updateCommentRequest
	if !s.decode(w, r, &req) {
		return
	}
	comment, err := s.service.UpdateComment(r.Context(), session, req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"comment": comment})
}

func (s *HTTPServer) handleDeleteComment(w http.ResponseWriter, r *http.Request) {
	session, _ := sessionFrom(r.Context())
	if err := s.service.DeleteComment(r.Context(), session, r.URL.Query().Get("id")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handleUpload accepts a multipart form with a "file" part and a
// "workspaceId" field.
func (s *HTTPServer) handleUpload(w http.ResponseWriter, r *http.Request) {
	session, _ := sessionFrom(r.Context())
	if !s.service.UploadsEnabled() {
		writeError(w, http.StatusServiceUnavailable, codeUnavailable, "Uploads are not configured", nil)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, blob.MaxUploadBytes+maxJSONBody)
	if err := r.ParseMultipartForm(blob.MaxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, codeValidation, "File is too large", nil)
			return
		}
		writeDomainError(w, errValidation("Invalid multipart body", nil))
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeDomainError(w, errValidation("File required", nil))
		return
	}
	defer file.Close()

	object, err := s.service.UploadImage(r.Context(), session, r.FormValue("workspaceId"), header.Header.Get("Content-Type"), file, header.Size)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"upload": object})
}

// decode reads a JSON body into target, writing a 400 on failure.
func (s *HTTPServer) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := decodeBody(r, target); err != nil {
		writeDomainError(w, errValidation(err.Error(), nil))
		return false
	}
	return true
}

// fail maps err to a response. Unexpected errors are logged with the request
// id and hidden from the caller.
func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		s.log.Error("request failed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeError(w, status, code, message, details)
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

func writeDomainError(w http.ResponseWriter, err *DomainError) {
	writeError(w, err.Status, err.Code, err.Message, err.Details)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return fmt.Errorf("request body required")
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("request body required")
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
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
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return http.StatusNotFound, codeNotFound, "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, codeUnauthorized, "Unauthorized", nil
	}
	if errors.Is(err, export.ErrPDFDependencyMissing) {
		return http.StatusServiceUnavailable, codeUnavailable, "PDF export is not available on this server", nil
	}
	return http.StatusInternalServerError, codeServerError, "Internal server error", nil
}
