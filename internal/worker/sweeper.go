package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"takeoff-backend/internal/repository"
)

// Enqueuer schedules processing for a requeued file.
type Enqueuer interface {
	EnqueueProcess(ctx context.Context, fileID uuid.UUID) error
}

// Sweeper periodically resets PROCESSING rows that stopped moving back to
// PENDING and re-enqueues them. This closes the crash gap: a worker that died
// mid-run left a claimed row behind, and nothing else will touch it.
type Sweeper struct {
	files      repository.ModelFiles
	enqueuer   Enqueuer
	interval   time.Duration
	staleAfter time.Duration
	logger     *slog.Logger
}

// NewSweeper constructs the sweeper.
func NewSweeper(files repository.ModelFiles, enqueuer Enqueuer, interval, staleAfter time.Duration, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		files:      files,
		enqueuer:   enqueuer,
		interval:   interval,
		staleAfter: staleAfter,
		logger:     logger,
	}
}

// Run sweeps on the configured interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one pass. Requeue failures are logged, not fatal: the row is
// back at PENDING, so the next pass picks it up again.
func (s *Sweeper) Sweep(ctx context.Context) {
	ids, err := s.files.ResetStale(ctx, s.staleAfter)
	if err != nil {
		s.logger.Error("stale sweep failed", "error", err)
		return
	}
	for _, id := range ids {
		if err := s.enqueuer.EnqueueProcess(ctx, id); err != nil {
			s.logger.Error("requeue after sweep failed", "file_id", id, "error", err)
			continue
		}
		s.logger.Info("requeued stale file", "file_id", id)
	}
}
