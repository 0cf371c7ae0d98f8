package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"

	"github.com/hyperjump/tsearch/internal/config"
	"github.com/hyperjump/tsearch/internal/engine"
	"github.com/hyperjump/tsearch/internal/models"
	"github.com/hyperjump/tsearch/internal/query"
	"go.uber.org/zap"
)

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, query.ErrSyntax), errors.Is(err, models.ErrInvalidCommand):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrSearchUnavailable),
		errors.Is(err, engine.ErrCommitFailed),
		errors.Is(err, engine.ErrClosed),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(op+" failed", zap.Error(err))
	} else {
		s.logger.Debug(op+" rejected", zap.Error(err))
	}
	s.respondError(w, status, err.Error())
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var q models.SearchQuery
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("search request", zap.String("query", q.Query), zap.Int("top_k", q.TopK))
	resp, err := s.search.Search(r.Context(), q)
	if err != nil {
		s.fail(w, "search", err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

type legacySearchRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"topk"`
}

// handleLegacySearch answers with [[score, {"field": [value]}], ...].
func (s *Server) handleLegacySearch(w http.ResponseWriter, r *http.Request) {
	var req legacySearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	resp, err := s.search.Search(r.Context(), models.SearchQuery{Query: req.Query, TopK: req.TopK})
	if err != nil {
		s.fail(w, "search", err)
		return
	}
	out := make([][2]interface{}, len(resp.Hits))
	for i, h := range resp.Hits {
		out[i] = [2]interface{}{h.Score, map[string][]interface{}{
			"thread_id": {h.Fields.ThreadID},
			"title":     {h.Fields.Title},
		}}
	}
	s.respondJSON(w, http.StatusOK, out)
}

func (s *Server) decodeModify(w http.ResponseWriter, r *http.Request) ([]models.Command, bool) {
	var req models.ModifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return nil, false
	}
	cmds, err := req.ToCommands()
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	return cmds, true
}

type modifyResponse struct {
	Success bool `json:"success"`
	*models.BatchResult
}

func (s *Server) handleModify(w http.ResponseWriter, r *http.Request) {
	cmds, ok := s.decodeModify(w, r)
	if !ok {
		return
	}
	s.logger.Debug("modify request", zap.Int("commands", len(cmds)))
	res, err := s.mutator.Apply(r.Context(), cmds)
	if err != nil {
		s.fail(w, "modify", err)
		return
	}
	s.respondJSON(w, http.StatusOK, modifyResponse{Success: true, BatchResult: res})
}

func (s *Server) handleLegacyModify(w http.ResponseWriter, r *http.Request) {
	cmds, ok := s.decodeModify(w, r)
	if !ok {
		return
	}
	if _, err := s.mutator.Apply(r.Context(), cmds); err != nil {
		s.fail(w, "modify", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleDrop(w http.ResponseWriter, r *http.Request) {
	s.logger.Info("drop request")
	progress, err := s.mutator.ClearAll(r.Context())
	if err != nil {
		s.fail(w, "drop", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"deleted": progress.Deleted,
		"chunks":  progress.Chunks,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.stats.Stats()
	if err != nil {
		s.fail(w, "status", err)
		return
	}
	resp := map[string]interface{}{
		"documents":        st.Documents,
		"generation":       st.Generation,
		"disk_usage_bytes": st.DiskBytes,
		"index_path":       st.Path,
	}
	if s.watch != nil {
		resp["watch_directories"] = s.watch.Directories()
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleWatchDirectoriesList(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"directories": s.watch.Directories()})
}

type watchAddRequest struct {
	Path string `json:"path"`
	Sync *bool  `json:"sync,omitempty"`
}

func (s *Server) handleWatchDirectoriesAdd(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	var req watchAddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required")
		return
	}
	abs, err := filepath.Abs(req.Path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			s.respondError(w, http.StatusNotFound, "directory not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !info.IsDir() {
		s.respondError(w, http.StatusBadRequest, "path is not a directory")
		return
	}
	syncExisting := true
	if req.Sync != nil {
		syncExisting = *req.Sync
	}
	s.logger.Debug("watch add directory request", zap.String("path", abs), zap.Bool("sync_existing", syncExisting))
	if err := s.watch.AddDirectory(abs, syncExisting); err != nil {
		s.logger.Error("watch add directory failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.persistWatch()
	s.respondJSON(w, http.StatusCreated, map[string]string{"path": abs, "status": "added"})
}

func (s *Server) handleWatchDirectoriesRemove(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required")
		return
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	if err := s.watch.RemoveDirectory(abs); err != nil {
		s.logger.Error("watch remove directory failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.persistWatch()
	s.respondJSON(w, http.StatusOK, map[string]string{"path": abs, "status": "removed"})
}

func (s *Server) persistWatch() {
	if s.configPath == "" || s.watchConfig == nil {
		return
	}
	s.watchConfigMu.Lock()
	defer s.watchConfigMu.Unlock()
	s.watchConfig.Watch.Directories = s.watch.Directories()
	if err := config.Save(s.configPath, s.watchConfig); err != nil {
		s.logger.Warn("failed to persist watch config", zap.Error(err))
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
