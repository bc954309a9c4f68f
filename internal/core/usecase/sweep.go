package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/signflow/internal/core/domain"
	"github.com/kirillkom/signflow/internal/core/ports"
)

// SweepJob reports one finalize attempt made by a sweep.
type SweepJob struct {
	Request  domain.SigningRequest
	Duration time.Duration
	Err      error
}

// FinalizeSweeper retries finalize for completed requests whose document
// never reached the completed state, e.g. after a renderer outage or a lost
// finalize event.
type FinalizeSweeper struct {
	store     ports.SigningStore
	finalizer ports.Finalizer
	batch     int
	actorID   string
	now       func() time.Time
}

func NewFinalizeSweeper(store ports.SigningStore, finalizer ports.Finalizer, batch int) *FinalizeSweeper {
	if batch <= 0 {
		batch = 50
	}
	return &FinalizeSweeper{
		store:     store,
		finalizer: finalizer,
		batch:     batch,
		actorID:   "finalize-sweeper",
		now:       defaultNow,
	}
}

// Sweep runs one pass and calls onJob after every attempt. A failed request
// does not stop the pass; it stays listed until a later sweep succeeds.
func (s *FinalizeSweeper) Sweep(ctx context.Context, onJob func(SweepJob)) (int, error) {
	pending, err := s.store.ListAwaitingFinalize(ctx, s.batch)
	if err != nil {
		return 0, storageError("list awaiting finalize", err)
	}
	for _, req := range pending {
		if ctx.Err() != nil {
			return len(pending), ctx.Err()
		}
		started := s.now()
		_, err := s.finalizer.FinalizeRetry(ctx, req.ID, s.actorID)
		if err != nil {
			slog.Warn("finalize_sweep_failed",
				"request_id", req.ID,
				"error", err.Error(),
			)
		}
		if onJob != nil {
			onJob(SweepJob{Request: req, Duration: s.now().Sub(started), Err: err})
		}
	}
	return len(pending), nil
}

// Run sweeps every interval until ctx is done.
func (s *FinalizeSweeper) Run(ctx context.Context, interval time.Duration, onSweep func(found int), onJob func(SweepJob)) error {
	if interval <= 0 {
		return fmt.Errorf("sweep interval must be positive, got %s", interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		found, err := s.Sweep(ctx, onJob)
		if err != nil && ctx.Err() == nil {
			slog.Error("finalize_sweep_error", "error", err.Error())
		}
		if onSweep != nil {
			onSweep(found)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
