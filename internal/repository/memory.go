package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"takeoff-backend/internal/model"
)

// MemoryStore implements ModelFiles and Materials in memory behind one
// mutex, mirroring the transactional guarantees of the Postgres
// implementations closely enough for tests and storage-free dev runs.
type MemoryStore struct {
	mu        sync.RWMutex
	files     map[uuid.UUID]*model.ModelFile
	materials map[uuid.UUID][]model.MaterialRecord
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		files:     make(map[uuid.UUID]*model.ModelFile),
		materials: make(map[uuid.UUID][]model.MaterialRecord),
	}
}

func (s *MemoryStore) Create(ctx context.Context, file *model.ModelFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	file.Status = model.StatusPending
	file.CreatedAt = now
	file.UpdatedAt = now
	copied := *file
	s.files[file.ID] = &copied
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id uuid.UUID) (*model.ModelFile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	file, ok := s.files[id]
	if !ok {
		return nil, fmt.Errorf("ifc file %s: %w", id, ErrNotFound)
	}
	copied := *file
	return &copied, nil
}

func (s *MemoryStore) ListByProject(ctx context.Context, projectID uuid.UUID) ([]model.ModelFile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var files []model.ModelFile
	for _, file := range s.files {
		if file.ProjectID == projectID {
			files = append(files, *file)
		}
	}
	sort.Slice(files, func(i, j int) bool { return files[i].CreatedAt.After(files[j].CreatedAt) })
	return files, nil
}

func (s *MemoryStore) ClaimProcessing(ctx context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	file, ok := s.files[id]
	if !ok {
		return false, fmt.Errorf("ifc file %s: %w", id, ErrNotFound)
	}
	if file.Status != model.StatusPending {
		return false, nil
	}
	file.Status = model.StatusProcessing
	file.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *MemoryStore) CompleteWithMaterials(ctx context.Context, id uuid.UUID, materials []model.MaterialRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	file, ok := s.files[id]
	if !ok {
		return fmt.Errorf("ifc file %s: %w", id, ErrNotFound)
	}
	now := time.Now().UTC()
	stored := make([]model.MaterialRecord, len(materials))
	for i, m := range materials {
		if m.ID == uuid.Nil {
			m.ID = uuid.New()
		}
		m.ModelFileID = id
		m.CreatedAt = now
		stored[i] = m
	}
	s.materials[id] = stored
	file.Status = model.StatusCompleted
	file.ErrorMessage = nil
	file.UpdatedAt = now
	return nil
}

func (s *MemoryStore) MarkError(ctx context.Context, id uuid.UUID, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	file, ok := s.files[id]
	if !ok {
		return fmt.Errorf("ifc file %s: %w", id, ErrNotFound)
	}
	file.Status = model.StatusError
	file.ErrorMessage = &msg
	file.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.files, id)
	delete(s.materials, id)
	return nil
}

func (s *MemoryStore) ResetStale(ctx context.Context, staleAfter time.Duration) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().UTC().Add(-staleAfter)
	var ids []uuid.UUID
	for id, file := range s.files {
		if file.Status == model.StatusProcessing && file.UpdatedAt.Before(cutoff) {
			file.Status = model.StatusPending
			file.UpdatedAt = time.Now().UTC()
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *MemoryStore) ListByFile(ctx context.Context, fileID uuid.UUID) ([]model.MaterialRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	materials := s.materials[fileID]
	out := make([]model.MaterialRecord, len(materials))
	copy(out, materials)
	return out, nil
}
