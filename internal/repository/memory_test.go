package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"takeoff-backend/internal/model"
)

func newPendingFile(t *testing.T, s *MemoryStore) *model.ModelFile {
	t.Helper()
	key := "ifc-files/" + uuid.NewString() + ".ifc"
	file := &model.ModelFile{
		ID:               uuid.New(),
		OriginalFilename: "warehouse.ifc",
		ObjectKey:        &key,
		ProjectID:        uuid.New(),
		FileSize:         128,
	}
	require.NoError(t, s.Create(context.Background(), file))
	return file
}

func TestMemoryCreateAndGet(t *testing.T) {
	s := NewMemoryStore()
	file := newPendingFile(t, s)

	got, err := s.Get(context.Background(), file.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusPending, got.Status)
	require.Equal(t, file.OriginalFilename, got.OriginalFilename)

	_, err = s.Get(context.Background(), uuid.New())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryClaimIsExclusive(t *testing.T) {
	s := NewMemoryStore()
	file := newPendingFile(t, s)
	ctx := context.Background()

	won, err := s.ClaimProcessing(ctx, file.ID)
	require.NoError(t, err)
	require.True(t, won)

	// A second claim simulates a concurrent worker on a redelivery; it
	// must lose without error.
	won, err = s.ClaimProcessing(ctx, file.ID)
	require.NoError(t, err)
	require.False(t, won)

	got, err := s.Get(ctx, file.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusProcessing, got.Status)
}

func TestMemoryCompleteWithMaterials(t *testing.T) {
	s := NewMemoryStore()
	file := newPendingFile(t, s)
	ctx := context.Background()

	_, err := s.ClaimProcessing(ctx, file.ID)
	require.NoError(t, err)

	materials := []model.MaterialRecord{
		{Description: "B-101 - Steel Beam", Quantity: decimal.NewFromInt(450), Unit: "kg"},
		{Description: "W-301 - Precast Concrete Panel", Quantity: decimal.RequireFromString("2.5"), Unit: "m³"},
	}
	require.NoError(t, s.CompleteWithMaterials(ctx, file.ID, materials))

	got, err := s.Get(ctx, file.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusCompleted, got.Status)

	stored, err := s.ListByFile(ctx, file.ID)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	require.Equal(t, file.ID, stored[0].ModelFileID)
	require.NotEqual(t, uuid.Nil, stored[0].ID)
}

func TestMemoryMarkError(t *testing.T) {
	s := NewMemoryStore()
	file := newPendingFile(t, s)
	ctx := context.Background()

	require.NoError(t, s.MarkError(ctx, file.ID, "unsupported schema"))
	got, err := s.Get(ctx, file.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusError, got.Status)
	require.NotNil(t, got.ErrorMessage)
	require.Equal(t, "unsupported schema", *got.ErrorMessage)

	materials, err := s.ListByFile(ctx, file.ID)
	require.NoError(t, err)
	require.Empty(t, materials)
}

func TestMemoryResetStale(t *testing.T) {
	s := NewMemoryStore()
	stale := newPendingFile(t, s)
	fresh := newPendingFile(t, s)
	ctx := context.Background()

	for _, f := range []*model.ModelFile{stale, fresh} {
		won, err := s.ClaimProcessing(ctx, f.ID)
		require.NoError(t, err)
		require.True(t, won)
	}
	// Age the stale row past the cutoff.
	s.mu.Lock()
	s.files[stale.ID].UpdatedAt = time.Now().UTC().Add(-time.Hour)
	s.mu.Unlock()

	ids, err := s.ResetStale(ctx, 30*time.Minute)
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{stale.ID}, ids)

	got, err := s.Get(ctx, stale.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusPending, got.Status)

	got, err = s.Get(ctx, fresh.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusProcessing, got.Status)
}

func TestMemoryListByProject(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	projectID := uuid.New()
	for i := 0; i < 3; i++ {
		file := &model.ModelFile{ID: uuid.New(), OriginalFilename: "m.ifc", ProjectID: projectID}
		require.NoError(t, s.Create(ctx, file))
	}
	newPendingFile(t, s) // different project

	files, err := s.ListByProject(ctx, projectID)
	require.NoError(t, err)
	require.Len(t, files, 3)
}
