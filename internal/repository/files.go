package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"takeoff-backend/internal/model"
)

const fileColumns = `id, original_filename, object_key, status, error_message, project_id, file_size, created_at, updated_at`

// PGModelFiles is the Postgres-backed ModelFiles implementation.
type PGModelFiles struct {
	pool *pgxpool.Pool
}

// NewPGModelFiles constructs the repository.
func NewPGModelFiles(pool *pgxpool.Pool) *PGModelFiles {
	return &PGModelFiles{pool: pool}
}

// Create inserts a new PENDING row. This is the upload's durability
// checkpoint: once committed the file is discoverable even if everything
// after it fails.
func (r *PGModelFiles) Create(ctx context.Context, file *model.ModelFile) error {
	now := time.Now().UTC()
	file.Status = model.StatusPending
	file.CreatedAt = now
	file.UpdatedAt = now
	_, err := r.pool.Exec(ctx, `
		INSERT INTO ifc_files (id, original_filename, object_key, status, error_message, project_id, file_size, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, file.ID, file.OriginalFilename, file.ObjectKey, file.Status, nil, file.ProjectID, file.FileSize, file.CreatedAt, file.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert ifc file: %w", err)
	}
	return nil
}

// Get returns a file by id.
func (r *PGModelFiles) Get(ctx context.Context, id uuid.UUID) (*model.ModelFile, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+fileColumns+` FROM ifc_files WHERE id=$1`, id)
	file, err := scanFile(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("ifc file %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("select ifc file: %w", err)
	}
	return file, nil
}

// ListByProject returns a project's files, newest first.
func (r *PGModelFiles) ListByProject(ctx context.Context, projectID uuid.UUID) ([]model.ModelFile, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+fileColumns+` FROM ifc_files WHERE project_id=$1 ORDER BY created_at DESC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("select project files: %w", err)
	}
	defer rows.Close()
	var files []model.ModelFile
	for rows.Next() {
		file, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project file: %w", err)
		}
		files = append(files, *file)
	}
	return files, rows.Err()
}

// ClaimProcessing performs the conditional PENDING -> PROCESSING update.
// RowsAffected tells us whether this caller won; losers see the row already
// advanced by a concurrent worker and must skip it.
func (r *PGModelFiles) ClaimProcessing(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE ifc_files SET status=$1, updated_at=$2
		WHERE id=$3 AND status=$4
	`, model.StatusProcessing, time.Now().UTC(), id, model.StatusPending)
	if err != nil {
		return false, fmt.Errorf("claim ifc file: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// CompleteWithMaterials bulk-inserts the materials and flips the status to
// COMPLETED in one transaction.
func (r *PGModelFiles) CompleteWithMaterials(ctx context.Context, id uuid.UUID, materials []model.MaterialRecord) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin complete tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if len(materials) > 0 {
		rows := make([][]any, len(materials))
		now := time.Now().UTC()
		for i, m := range materials {
			if m.ID == uuid.Nil {
				m.ID = uuid.New()
			}
			rows[i] = []any{m.ID, id, m.Description, m.Quantity, m.Unit, now}
		}
		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"materials"},
			[]string{"id", "ifc_file_id", "description", "quantity", "unit", "created_at"},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			return fmt.Errorf("bulk insert materials: %w", err)
		}
	}

	tag, err := tx.Exec(ctx, `
		UPDATE ifc_files SET status=$1, error_message=NULL, updated_at=$2 WHERE id=$3
	`, model.StatusCompleted, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("ifc file %s: %w", id, ErrNotFound)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit complete tx: %w", err)
	}
	return nil
}

// MarkError records the terminal failure with its message.
func (r *PGModelFiles) MarkError(ctx context.Context, id uuid.UUID, msg string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE ifc_files SET status=$1, error_message=$2, updated_at=$3 WHERE id=$4
	`, model.StatusError, msg, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("mark error: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("ifc file %s: %w", id, ErrNotFound)
	}
	return nil
}

// Delete removes the row. The pipeline only uses this for upload
// compensation, before any materials exist.
func (r *PGModelFiles) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM ifc_files WHERE id=$1`, id); err != nil {
		return fmt.Errorf("delete ifc file: %w", err)
	}
	return nil
}

// ResetStale requeues PROCESSING rows a crashed worker left behind.
func (r *PGModelFiles) ResetStale(ctx context.Context, staleAfter time.Duration) ([]uuid.UUID, error) {
	cutoff := time.Now().UTC().Add(-staleAfter)
	rows, err := r.pool.Query(ctx, `
		UPDATE ifc_files SET status=$1, updated_at=$2
		WHERE status=$3 AND updated_at < $4
		RETURNING id
	`, model.StatusPending, time.Now().UTC(), model.StatusProcessing, cutoff)
	if err != nil {
		return nil, fmt.Errorf("reset stale files: %w", err)
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan stale id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanFile(row pgx.Row) (*model.ModelFile, error) {
	var file model.ModelFile
	err := row.Scan(
		&file.ID,
		&file.OriginalFilename,
		&file.ObjectKey,
		&file.Status,
		&file.ErrorMessage,
		&file.ProjectID,
		&file.FileSize,
		&file.CreatedAt,
		&file.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &file, nil
}
