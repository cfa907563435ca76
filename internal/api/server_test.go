package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"takeoff-backend/internal/config"
	"takeoff-backend/internal/ingest"
	"takeoff-backend/internal/model"
	"takeoff-backend/internal/repository"
	"takeoff-backend/internal/storage"
)

type noopEnqueuer struct{}

func (noopEnqueuer) EnqueueProcess(context.Context, uuid.UUID) error { return nil }

func newTestServer(t *testing.T) (*Server, *repository.MemoryStore) {
	t.Helper()
	store, err := storage.NewLocal(t.TempDir(), "http://localhost:8080/files")
	require.NoError(t, err)
	repo := repository.NewMemoryStore()
	orch := ingest.New(store, repo, repo, noopEnqueuer{}, nil, nil)
	cfg := &config.Config{
		MaxFileSize:  1 << 20,
		SignedURLTTL: time.Hour,
	}
	return New(cfg, orch, store, nil), repo
}

func multipartBody(t *testing.T, field, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestUploadEndpoint(t *testing.T) {
	srv, repo := newTestServer(t)
	projectID := uuid.New()

	body, contentType := multipartBody(t, "file", "warehouse.ifc", []byte("ISO-10303-21;"))
	req := httptest.NewRequest(http.MethodPost, "/projects/"+projectID.String()+"/ifc-files", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var file model.ModelFile
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &file))
	require.Equal(t, model.StatusPending, file.Status)
	require.Equal(t, projectID, file.ProjectID)

	stored, err := repo.Get(context.Background(), file.ID)
	require.NoError(t, err)
	require.Equal(t, "warehouse.ifc", stored.OriginalFilename)
}

func TestUploadRejectsWrongExtension(t *testing.T) {
	srv, _ := newTestServer(t)

	body, contentType := multipartBody(t, "file", "report.pdf", []byte("%PDF-1.4"))
	req := httptest.NewRequest(http.MethodPost, "/projects/"+uuid.NewString()+"/ifc-files", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadMissingFilePart(t *testing.T) {
	srv, _ := newTestServer(t)

	body, contentType := multipartBody(t, "attachment", "warehouse.ifc", []byte("ISO-10303-21;"))
	req := httptest.NewRequest(http.MethodPost, "/projects/"+uuid.NewString()+"/ifc-files", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFileRoutes(t *testing.T) {
	srv, repo := newTestServer(t)
	key := "ifc-files/known.ifc"
	file := &model.ModelFile{
		ID:               uuid.New(),
		OriginalFilename: "known.ifc",
		ObjectKey:        &key,
		ProjectID:        uuid.New(),
	}
	require.NoError(t, repo.Create(context.Background(), file))

	req := httptest.NewRequest(http.MethodGet, "/ifc-files/"+file.ID.String(), nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/ifc-files/"+uuid.NewString(), nil)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/ifc-files/not-a-uuid", nil)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMaterialsEmptyListIsJSONArray(t *testing.T) {
	srv, repo := newTestServer(t)
	file := &model.ModelFile{ID: uuid.New(), OriginalFilename: "m.ifc", ProjectID: uuid.New()}
	require.NoError(t, repo.Create(context.Background(), file))

	req := httptest.NewRequest(http.MethodGet, "/ifc-files/"+file.ID.String()+"/materials", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "[]\n", rec.Body.String())
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"ok"`)
}
