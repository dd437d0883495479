package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hyperjump/kensaku/internal/config"
	"github.com/hyperjump/kensaku/internal/embedding"
	"github.com/hyperjump/kensaku/internal/indexer"
	"github.com/hyperjump/kensaku/internal/llm"
	"github.com/hyperjump/kensaku/internal/models"
	"github.com/hyperjump/kensaku/internal/search"
	"github.com/hyperjump/kensaku/internal/storage"
	"github.com/hyperjump/kensaku/internal/vector"
	"go.uber.org/zap"
)

// multipartOverhead allows for boundaries and headers around the uploaded file.
const multipartOverhead = 1 << 20

type documentResponse struct {
	Success  bool             `json:"success"`
	Message  string           `json:"message,omitempty"`
	Document *models.Document `json:"document"`
}

type documentListResponse struct {
	Success   bool               `json:"success"`
	Documents []*models.Document `json:"documents"`
}

type messageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	limit := s.config.Server.MaxUploadBytes
	r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)
	if err := r.ParseMultipartForm(limit); err != nil {
		s.respondServiceError(w, fmt.Errorf("%w: %w", indexer.ErrInvalidDocument, err))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "no file uploaded")
		return
	}
	defer file.Close()
	if header.Size > limit {
		s.respondError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("file exceeds %d bytes", limit))
		return
	}
	data, err := io.ReadAll(file)
	if err != nil {
		s.respondServiceError(w, fmt.Errorf("%w: read upload: %w", indexer.ErrInvalidDocument, err))
		return
	}
	name := filepath.Base(header.Filename)
	text, err := s.extractor.ExtractBytes(data, filepath.Ext(name))
	if err != nil {
		s.respondServiceError(w, fmt.Errorf("%w: %w", indexer.ErrInvalidDocument, err))
		return
	}
	s.logger.Debug("upload request", zap.String("name", name), zap.Int("bytes", len(data)))
	doc, created, err := s.indexer.Ingest(r.Context(), &models.DocumentInput{Name: name, Content: text})
	if err != nil {
		s.logger.Error("ingestion failed", zap.String("name", name), zap.Error(err))
		s.respondServiceError(w, err)
		return
	}
	status, message := http.StatusCreated, "File uploaded and processed successfully"
	if !created {
		status, message = http.StatusOK, "Document already exists"
	}
	s.respondJSON(w, status, documentResponse{Success: true, Message: message, Document: doc.Summary()})
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.storage.ListDocuments(r.Context())
	if err != nil {
		s.logger.Error("list documents failed", zap.Error(err))
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, documentListResponse{Success: true, Documents: docs})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.storage.GetDocument(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, documentResponse{Success: true, Document: doc})
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.logger.Debug("delete document request", zap.String("id", id))
	if err := s.indexer.Delete(r.Context(), id); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Error("deletion failed", zap.String("id", id), zap.Error(err))
		}
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, messageResponse{Success: true, Message: "Document deleted successfully"})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req models.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("query request", zap.String("query", req.Query), zap.Int("top_k", req.TopK))
	resp, err := s.answerer.Answer(r.Context(), &req)
	if err != nil {
		if !errors.Is(err, search.ErrInvalidQuery) {
			s.logger.Error("query failed", zap.Error(err))
		}
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]string{"status": "ok"}
	if state := s.modelServerState(r.Context()); state != "" {
		resp["model_server"] = state
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// modelServerState returns "ok", "unreachable", or "" when no checker is configured.
func (s *Server) modelServerState(ctx context.Context) string {
	if s.health == nil {
		return ""
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if _, err := s.health.Ping(ctx); err != nil {
		s.logger.Debug("model server ping failed", zap.Error(err))
		return "unreachable"
	}
	return "ok"
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	docCount, err := s.storage.CountDocuments(ctx)
	if err != nil {
		s.logger.Error("status: count documents failed", zap.Error(err))
		s.respondServiceError(w, err)
		return
	}
	chunkCount, err := s.index.Count(ctx)
	if err != nil {
		s.logger.Error("status: count chunks failed", zap.Error(err))
		s.respondServiceError(w, err)
		return
	}
	status := models.Status{
		Documents:     int(docCount),
		Chunks:        chunkCount,
		VectorBackend: s.config.Vector.Backend,
		ModelServer:   s.modelServerState(ctx),
	}
	paths := storage.DatabaseFiles(s.config.Storage.DatabasePath)
	if s.config.Vector.Backend == string(vector.BackendMemory) {
		paths = append(paths, s.config.Storage.VectorIndexPath)
	}
	if diskBytes, err := storage.DiskUsageBytes(paths...); err == nil {
		status.DiskUsageBytes = diskBytes
	}
	s.respondJSON(w, http.StatusOK, status)
}

type watchDirectoryRequest struct {
	Path string `json:"path"`
	Sync *bool  `json:"sync,omitempty"`
}

type watchDirectoryResponse struct {
	Path   string `json:"path"`
	Status string `json:"status"`
}

// watchEnabled reports whether a watch service is configured, writing 501 otherwise.
func (s *Server) watchEnabled(w http.ResponseWriter) bool {
	if s.watch != nil {
		return true
	}
	s.respondError(w, http.StatusNotImplemented, "directory watching is not enabled")
	return false
}

// resolveWatchRoot returns the absolute form of raw. With mustExist set it also
// requires an existing directory. A non-zero status accompanies every error.
func resolveWatchRoot(raw string, mustExist bool) (string, int, error) {
	if raw == "" {
		return "", http.StatusBadRequest, errors.New("path is required")
	}
	abs, err := filepath.Abs(raw)
	if err != nil {
		return "", http.StatusBadRequest, fmt.Errorf("invalid path %q", raw)
	}
	if !mustExist {
		return abs, 0, nil
	}
	info, err := os.Stat(abs)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return "", http.StatusNotFound, fmt.Errorf("directory %s does not exist", abs)
	case err != nil:
		return "", http.StatusInternalServerError, err
	case !info.IsDir():
		return "", http.StatusBadRequest, fmt.Errorf("%s is not a directory", abs)
	}
	return abs, 0, nil
}

func (s *Server) handleWatchDirectoriesList(w http.ResponseWriter, r *http.Request) {
	if !s.watchEnabled(w) {
		return
	}
	s.respondJSON(w, http.StatusOK, map[string][]string{"directories": s.watch.Directories()})
}

func (s *Server) handleWatchDirectoriesAdd(w http.ResponseWriter, r *http.Request) {
	if !s.watchEnabled(w) {
		return
	}
	var req watchDirectoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "malformed watch request")
		return
	}
	root, status, err := resolveWatchRoot(req.Path, true)
	if err != nil {
		s.respondError(w, status, err.Error())
		return
	}
	syncExisting := req.Sync == nil || *req.Sync
	if err := s.watch.AddDirectory(root, syncExisting); err != nil {
		s.logger.Error("add watch root", zap.String("path", root), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Info("watching directory", zap.String("path", root), zap.Bool("sync", syncExisting))
	s.persistWatchDirectories()
	s.respondJSON(w, http.StatusCreated, watchDirectoryResponse{Path: root, Status: "added"})
}

func (s *Server) handleWatchDirectoriesRemove(w http.ResponseWriter, r *http.Request) {
	if !s.watchEnabled(w) {
		return
	}
	root, status, err := resolveWatchRoot(r.URL.Query().Get("path"), false)
	if err != nil {
		s.respondError(w, status, err.Error())
		return
	}
	if err := s.watch.RemoveDirectory(root); err != nil {
		s.logger.Error("remove watch root", zap.String("path", root), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Info("stopped watching directory", zap.String("path", root))
	s.persistWatchDirectories()
	s.respondJSON(w, http.StatusOK, watchDirectoryResponse{Path: root, Status: "removed"})
}

// persistWatchDirectories writes the current watch roots back to the config file.
func (s *Server) persistWatchDirectories() {
	if s.configPath == "" {
		return
	}
	s.configMu.Lock()
	defer s.configMu.Unlock()
	s.config.Watch.Directories = s.watch.Directories()
	if err := config.Save(s.configPath, s.config); err != nil {
		s.logger.Warn("failed to persist watch config", zap.Error(err))
	}
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, indexer.ErrInvalidDocument),
		errors.Is(err, search.ErrInvalidQuery),
		errors.Is(err, vector.ErrChunkTooLarge):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, embedding.ErrEmbeddingUnavailable),
		errors.Is(err, vector.ErrIndexUnavailable),
		errors.Is(err, llm.ErrGenerationUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondServiceError(w http.ResponseWriter, err error) {
	s.respondError(w, statusFor(err), err.Error())
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
