package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"takeoff-backend/internal/model"
)

// PGMaterials is the Postgres-backed Materials implementation.
type PGMaterials struct {
	pool *pgxpool.Pool
}

// NewPGMaterials constructs the repository.
func NewPGMaterials(pool *pgxpool.Pool) *PGMaterials {
	return &PGMaterials{pool: pool}
}

// ListByFile returns the materials extracted from one model file, in
// insertion order.
func (r *PGMaterials) ListByFile(ctx context.Context, fileID uuid.UUID) ([]model.MaterialRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, ifc_file_id, description, quantity, unit, created_at
		FROM materials WHERE ifc_file_id=$1 ORDER BY created_at, id
	`, fileID)
	if err != nil {
		return nil, fmt.Errorf("select materials: %w", err)
	}
	defer rows.Close()
	var materials []model.MaterialRecord
	for rows.Next() {
		var m model.MaterialRecord
		if err := rows.Scan(&m.ID, &m.ModelFileID, &m.Description, &m.Quantity, &m.Unit, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan material: %w", err)
		}
		materials = append(materials, m)
	}
	return materials, rows.Err()
}
