// Package httpapi provides the HTTP server and handlers.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/ylsdamxssjxxdd/wunder-sub001/internal/logging"
	"github.com/ylsdamxssjxxdd/wunder-sub001/internal/metrics"
	"github.com/ylsdamxssjxxdd/wunder-sub001/internal/storage"
	"github.com/ylsdamxssjxxdd/wunder-sub001/internal/workspace"
)

// errorResponse is the JSON error envelope.
type errorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

// Server is the HTTP server over the workspace manager.
type Server struct {
	manager       *workspace.Manager
	store         storage.Store
	auth          *Auth
	retention     *workspace.RetentionScheduler
	tempCleanup   *workspace.TempCleanupScheduler
	maxUploadSize int64
}

// NewServer creates a new server. The schedulers may be nil; they are kicked
// opportunistically from request paths when present.
func NewServer(
	manager *workspace.Manager,
	store storage.Store,
	authHandler *Auth,
	retention *workspace.RetentionScheduler,
	tempCleanup *workspace.TempCleanupScheduler,
	maxUploadSize int64,
) *Server {
	return &Server{
		manager:       manager,
		store:         store,
		auth:          authHandler,
		retention:     retention,
		tempCleanup:   tempCleanup,
		maxUploadSize: maxUploadSize,
	}
}

// Handler returns the HTTP handler with auth, logging and metrics middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Public endpoints (no auth required)
	mux.HandleFunc("GET /health", s.handleHealth)

	// Protected endpoints
	protected := http.NewServeMux()

	// Read endpoints
	protected.HandleFunc("GET /api/v1/workspace/tree", s.handleTree)
	protected.HandleFunc("GET /api/v1/workspace/entries", s.handleEntries)
	protected.HandleFunc("GET /api/v1/workspace/file", s.handleReadFile)
	protected.HandleFunc("GET /api/v1/workspace/search", s.handleSearch)
	protected.HandleFunc("GET /api/v1/workspace/version", s.handleVersion)
	protected.HandleFunc("GET /api/v1/workspace/archive", s.handleArchive)

	// Write endpoints
	protected.HandleFunc("PUT /api/v1/workspace/file", s.handleWriteFile)
	protected.HandleFunc("POST /api/v1/workspace/upload", s.handleUpload)
	protected.HandleFunc("POST /api/v1/workspace/mkdir", s.handleMkdir)
	protected.HandleFunc("POST /api/v1/workspace/move", s.handleMove)
	protected.HandleFunc("POST /api/v1/workspace/copy", s.handleCopy)
	protected.HandleFunc("DELETE /api/v1/workspace/file", s.handleDelete)

	// Activity records
	protected.HandleFunc("POST /api/v1/workspace/activity", s.handleActivity)

	// Account purge
	protected.HandleFunc("DELETE /api/v1/workspace", s.handlePurge)

	authed := s.auth.Middleware(s.touchActivity(protected))
	mux.Handle("/api/v1/", authed)

	return metrics.Middleware(logging.Middleware(mux))
}

// touchActivity stamps the scope's session-activity time and gives the
// maintenance schedulers a chance to run. All request paths pass through
// here, so idle scopes are exactly the ones with stale stamps.
func (s *Server) touchActivity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if claims := GetClaims(r.Context()); claims != nil {
			s.manager.TouchActivity(r.Context(), claims.Scope())
		}
		if s.retention != nil {
			s.retention.MaybeRun(r.Context())
		}
		if s.tempCleanup != nil {
			s.tempCleanup.MaybeRun(r.Context())
		}
		next.ServeHTTP(w, r)
	})
}

// ─── Health ─────────────────────────────────────────────────────────────────

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// ─── Tree and listing ───────────────────────────────────────────────────────

func (s *Server) handleTree(w http.ResponseWriter, r *http.Request) {
	scope := GetClaims(r.Context()).Scope()
	tree, version, err := s.manager.TreeSnapshot(scope)
	if err != nil {
		s.sendOpError(w, r.Context(), "tree snapshot", err)
		return
	}
	s.sendJSON(w, map[string]any{
		"tree":    tree,
		"version": version,
	})
}

func (s *Server) handleEntries(w http.ResponseWriter, r *http.Request) {
	scope := GetClaims(r.Context()).Scope()
	q := r.URL.Query()
	offset := queryInt(q.Get("offset"), 0)
	limit := queryInt(q.Get("limit"), 0)

	entries, total, err := s.manager.ListEntries(scope,
		q.Get("path"), q.Get("keyword"), offset, limit, q.Get("sort_by"), q.Get("order"))
	if err != nil {
		s.sendOpError(w, r.Context(), "list entries", err)
		return
	}
	s.sendJSON(w, map[string]any{
		"entries": entries,
		"total":   total,
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	scope := GetClaims(r.Context()).Scope()
	q := r.URL.Query()
	includeFiles := q.Get("files") != "false"
	includeDirs := q.Get("dirs") != "false"

	entries, total, err := s.manager.SearchEntries(scope,
		q.Get("keyword"), queryInt(q.Get("offset"), 0), queryInt(q.Get("limit"), 0),
		includeFiles, includeDirs)
	if err != nil {
		s.sendOpError(w, r.Context(), "search", err)
		return
	}
	s.sendJSON(w, map[string]any{
		"entries": entries,
		"total":   total,
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	scope := GetClaims(r.Context()).Scope()
	s.sendJSON(w, map[string]any{"version": s.manager.Version(scope)})
}

// ─── File content ───────────────────────────────────────────────────────────

func (s *Server) handleReadFile(w http.ResponseWriter, r *http.Request) {
	scope := GetClaims(r.Context()).Scope()
	data, err := s.manager.ReadFile(scope, r.URL.Query().Get("path"))
	if err != nil {
		s.sendOpError(w, r.Context(), "read file", err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Write(data)
}

func (s *Server) handleWriteFile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path    string `json:"path"`
		Content string `json:"content"`
		Create  *bool  `json:"create"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	create := req.Create == nil || *req.Create

	scope := GetClaims(r.Context()).Scope()
	if _, err := s.manager.EnsureRoot(scope); err != nil {
		s.sendOpError(w, r.Context(), "ensure root", err)
		return
	}
	if err := s.manager.WriteFile(scope, req.Path, []byte(req.Content), create); err != nil {
		s.sendOpError(w, r.Context(), "write file", err)
		return
	}
	s.sendJSON(w, map[string]any{
		"path":    req.Path,
		"version": s.manager.Version(scope),
	})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	// Declared length is checked before any body bytes are read; the actual
	// count is enforced again while staging.
	if r.ContentLength > s.maxUploadSize {
		s.sendError(w, http.StatusRequestEntityTooLarge, "upload exceeds size limit")
		return
	}

	mr, err := r.MultipartReader()
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "multipart body required")
		return
	}

	scope := GetClaims(r.Context()).Scope()
	if _, err := s.manager.EnsureRoot(scope); err != nil {
		s.sendOpError(w, r.Context(), "ensure root", err)
		return
	}

	var path string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			s.sendError(w, http.StatusBadRequest, "missing file part")
			return
		}
		if err != nil {
			s.sendError(w, http.StatusBadRequest, "read multipart: "+err.Error())
			return
		}
		switch part.FormName() {
		case "path":
			buf, err := io.ReadAll(io.LimitReader(part, 4096))
			if err != nil {
				s.sendError(w, http.StatusBadRequest, "read path field")
				return
			}
			path = string(buf)
		case "file":
			if path == "" {
				path = part.FileName()
			}
			written, err := s.manager.SaveUpload(scope, path, part, r.ContentLength)
			if err != nil {
				s.sendOpError(w, r.Context(), "save upload", err)
				return
			}
			s.sendJSON(w, map[string]any{
				"path":    path,
				"size":    written,
				"version": s.manager.Version(scope),
			})
			return
		}
	}
}

// ─── Mutations ──────────────────────────────────────────────────────────────

func (s *Server) handleMkdir(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path string `json:"path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	scope := GetClaims(r.Context()).Scope()
	if _, err := s.manager.EnsureRoot(scope); err != nil {
		s.sendOpError(w, r.Context(), "ensure root", err)
		return
	}
	if err := s.manager.Mkdir(scope, req.Path); err != nil {
		s.sendOpError(w, r.Context(), "mkdir", err)
		return
	}
	s.sendJSON(w, map[string]any{"path": req.Path})
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	s.handleSrcDst(w, r, "move", s.manager.Move)
}

func (s *Server) handleCopy(w http.ResponseWriter, r *http.Request) {
	s.handleSrcDst(w, r, "copy", s.manager.Copy)
}

func (s *Server) handleSrcDst(w http.ResponseWriter, r *http.Request, op string, fn func(scope, src, dst string) error) {
	var req struct {
		Src string `json:"src"`
		Dst string `json:"dst"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	scope := GetClaims(r.Context()).Scope()
	if err := fn(scope, req.Src, req.Dst); err != nil {
		s.sendOpError(w, r.Context(), op, err)
		return
	}
	s.sendJSON(w, map[string]any{"src": req.Src, "dst": req.Dst})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	scope := GetClaims(r.Context()).Scope()
	path := r.URL.Query().Get("path")
	if err := s.manager.Delete(scope, path); err != nil {
		s.sendOpError(w, r.Context(), "delete", err)
		return
	}
	s.sendJSON(w, map[string]any{"path": path})
}

// ─── Archive ────────────────────────────────────────────────────────────────

func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	scope := GetClaims(r.Context()).Scope()
	archive, err := s.manager.BuildArchive(scope, r.URL.Query().Get("path"))
	if err != nil {
		s.sendOpError(w, r.Context(), "build archive", err)
		return
	}
	defer archive.Close()

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", archive.Name))
	w.Header().Set("Content-Length", strconv.FormatInt(archive.Size, 10))

	n, err := io.Copy(w, archive)
	metrics.RecordArchiveBytes(n)
	if err != nil {
		// Headers are gone; all we can do is log the aborted download.
		logging.WithContext(r.Context()).Warn("archive download aborted",
			zap.String("scope", scope), zap.Error(err))
	}
}

// ─── Activity records ───────────────────────────────────────────────────────

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Kind    string `json:"kind"`
		Payload string `json:"payload"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	scope := GetClaims(r.Context()).Scope()
	ctx := r.Context()
	switch req.Kind {
	case "chat":
		s.manager.RecordChat(ctx, scope, req.Payload)
	case "tool":
		s.manager.RecordToolLog(ctx, scope, req.Payload)
	case "artifact":
		s.manager.RecordArtifact(ctx, scope, req.Payload)
	default:
		s.sendError(w, http.StatusBadRequest, "unknown activity kind: "+req.Kind)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// ─── Purge ──────────────────────────────────────────────────────────────────

func (s *Server) handlePurge(w http.ResponseWriter, r *http.Request) {
	scope := GetClaims(r.Context()).Scope()
	result, err := s.manager.PurgeScope(r.Context(), scope)
	if err != nil {
		s.sendOpError(w, r.Context(), "purge", err)
		return
	}
	logging.WithContext(r.Context()).Info("workspace purged",
		zap.String("scope", scope),
		zap.Bool("workspace_removed", result.WorkspaceRemoved))
	s.sendJSON(w, map[string]any{
		"chat_deleted":      result.Counts.ChatDeleted,
		"tool_deleted":      result.Counts.ToolDeleted,
		"artifact_deleted":  result.Counts.ArtifactDeleted,
		"memory_deleted":    result.Counts.MemoryDeleted,
		"meta_deleted":      result.Counts.MetaDeleted,
		"workspace_removed": result.WorkspaceRemoved,
	})
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func (s *Server) sendJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (s *Server) sendError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(errorResponse{Error: message, Code: code})
}

// sendOpError maps workspace errors to HTTP status codes.
func (s *Server) sendOpError(w http.ResponseWriter, ctx context.Context, op string, err error) {
	switch {
	case errors.Is(err, workspace.ErrPathSecurity):
		s.sendError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, workspace.ErrNotFound):
		s.sendError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, workspace.ErrConflict):
		s.sendError(w, http.StatusConflict, err.Error())
	case errors.Is(err, workspace.ErrTooLarge):
		s.sendError(w, http.StatusRequestEntityTooLarge, err.Error())
	default:
		logging.WithContext(ctx).Error(op+" failed", zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, op+" failed")
	}
}

func queryInt(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
