// Package api exposes the HTTP surface: uploads, file and material
// visibility, signed download URLs, and the health probe.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"takeoff-backend/internal/config"
	"takeoff-backend/internal/ingest"
	"takeoff-backend/internal/model"
	"takeoff-backend/internal/repository"
	"takeoff-backend/internal/storage"
)

// Server hosts the HTTP handlers. All business decisions live in the ingest
// orchestrator; handlers only translate HTTP to and from it.
type Server struct {
	cfg    *config.Config
	orch   *ingest.Orchestrator
	store  storage.Backend
	logger *slog.Logger
	server *http.Server
	once   sync.Once
}

// New constructs a Server.
func New(cfg *config.Config, orch *ingest.Orchestrator, store storage.Backend, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{cfg: cfg, orch: orch, store: store, logger: logger}
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.once.Do(func() {
		s.server = &http.Server{
			Addr:    s.cfg.Address,
			Handler: corsMiddleware(s.loggingMiddleware(s.routes())),
		}
	})
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()
	s.logger.Info("api listening", "address", s.cfg.Address)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler {
	return s.routes()
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/projects/", s.handleProjectRoute)
	mux.HandleFunc("/ifc-files/", s.handleFileRoute)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{"status": "ok"}
	code := http.StatusOK
	if checker, ok := s.store.(storage.HealthChecker); ok {
		if err := checker.HealthCheck(r.Context()); err != nil {
			status["status"] = "degraded"
			status["storage"] = err.Error()
			code = http.StatusServiceUnavailable
		}
	}
	respondJSON(w, code, status)
}

// handleProjectRoute serves /projects/{id}/ifc-files.
func (s *Server) handleProjectRoute(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/projects/"), "/")
	if len(parts) != 2 || parts[1] != "ifc-files" {
		http.NotFound(w, r)
		return
	}
	projectID, err := uuid.Parse(parts[0])
	if err != nil {
		http.Error(w, "invalid project id", http.StatusBadRequest)
		return
	}
	switch r.Method {
	case http.MethodPost:
		s.handleUpload(w, r, projectID)
	case http.MethodGet:
		s.handleListFiles(w, r, projectID)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleFileRoute serves /ifc-files/{id} and its sub-resources.
func (s *Server) handleFileRoute(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/ifc-files/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	fileID, err := uuid.Parse(parts[0])
	if err != nil {
		http.Error(w, "invalid file id", http.StatusBadRequest)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if len(parts) == 1 {
		s.handleFileInfo(w, r, fileID)
		return
	}
	switch parts[1] {
	case "materials":
		s.handleMaterials(w, r, fileID)
	case "download-url":
		s.handleDownloadURL(w, r, fileID)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, projectID uuid.UUID) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxFileSize+1024)
	mr, err := r.MultipartReader()
	if err != nil {
		http.Error(w, "expecting multipart form", http.StatusBadRequest)
		return
	}
	part, err := nextFilePart(mr)
	if err != nil {
		http.Error(w, "missing file part", http.StatusBadRequest)
		return
	}
	defer part.Close()

	content, err := io.ReadAll(io.LimitReader(part, s.cfg.MaxFileSize+1))
	if err != nil {
		http.Error(w, "failed to read upload", http.StatusBadRequest)
		return
	}
	if int64(len(content)) > s.cfg.MaxFileSize {
		http.Error(w, "file exceeds size limit", http.StatusRequestEntityTooLarge)
		return
	}
	if len(content) == 0 {
		http.Error(w, "empty file", http.StatusBadRequest)
		return
	}
	filename := part.FileName()
	if filename == "" {
		filename = "upload.ifc"
	}

	file, err := s.orch.Upload(r.Context(), projectID, filename, content)
	if err != nil {
		switch {
		case errors.Is(err, ingest.ErrInvalidFileType):
			http.Error(w, "only .ifc files are accepted", http.StatusBadRequest)
		default:
			s.logger.Error("upload failed", "project_id", projectID, "error", err)
			http.Error(w, "failed to store file", http.StatusInternalServerError)
		}
		return
	}
	respondJSON(w, http.StatusAccepted, file)
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request, projectID uuid.UUID) {
	files, err := s.orch.ListFiles(r.Context(), projectID)
	if err != nil {
		s.logger.Error("list files failed", "project_id", projectID, "error", err)
		http.Error(w, "failed to list files", http.StatusInternalServerError)
		return
	}
	if files == nil {
		files = []model.ModelFile{}
	}
	respondJSON(w, http.StatusOK, files)
}

func (s *Server) handleFileInfo(w http.ResponseWriter, r *http.Request, fileID uuid.UUID) {
	file, err := s.orch.GetFile(r.Context(), fileID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			http.Error(w, "file not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load file", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, file)
}

func (s *Server) handleMaterials(w http.ResponseWriter, r *http.Request, fileID uuid.UUID) {
	materials, err := s.orch.ListMaterials(r.Context(), fileID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			http.Error(w, "file not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to list materials", http.StatusInternalServerError)
		return
	}
	if materials == nil {
		materials = []model.MaterialRecord{}
	}
	respondJSON(w, http.StatusOK, materials)
}

func (s *Server) handleDownloadURL(w http.ResponseWriter, r *http.Request, fileID uuid.UUID) {
	url, err := s.orch.DownloadURL(r.Context(), fileID, s.cfg.SignedURLTTL)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound), errors.Is(err, storage.ErrNotFound):
			http.Error(w, "file not found", http.StatusNotFound)
		default:
			s.logger.Error("signed url failed", "file_id", fileID, "error", err)
			http.Error(w, "failed to generate url", http.StatusInternalServerError)
		}
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"url":        url,
		"expires_in": s.cfg.SignedURLTTL.String(),
	})
}

func nextFilePart(mr *multipart.Reader) (*multipart.Part, error) {
	for {
		part, err := mr.NextPart()
		if err != nil {
			return nil, err
		}
		if part.FormName() == "file" {
			return part, nil
		}
		part.Close()
	}
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("http request", "method", r.Method, "path", r.URL.Path, "elapsed", time.Since(start))
	})
}
