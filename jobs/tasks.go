// Package jobs hosts the asynq worker, its task definitions and the
// queue observability endpoint.
package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskBatchExpirySweep flips overdue active batches to expired.
	TaskBatchExpirySweep = "batches:expiry-sweep"
	// TaskIdempotencyCleanup prunes old idempotency keys.
	TaskIdempotencyCleanup = "shared:idempotency-cleanup"
)

// ExpirySweepPayload parameterises one sweep run. AsOf zero means "now".
type ExpirySweepPayload struct {
	AsOf time.Time `json:"as_of,omitempty"`
}

// NewExpirySweepTask constructs the sweep task.
func NewExpirySweepTask(payload ExpirySweepPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskBatchExpirySweep, data), nil
}

// ExpirySweeper is what the sweep task needs from the batch service.
type ExpirySweeper interface {
	SweepExpired(ctx context.Context, asOf time.Time) (int64, error)
}

// NewExpirySweepHandler returns the handler processing sweep tasks.
func NewExpirySweepHandler(sweeper ExpirySweeper, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload ExpirySweepPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		asOf := payload.AsOf
		if asOf.IsZero() {
			asOf = time.Now()
		}
		expired, err := sweeper.SweepExpired(ctx, asOf)
		if err != nil {
			logger.Error("expiry sweep failed", slog.Any("error", err))
			return err
		}
		logger.Info("expiry sweep done", slog.Int64("batches_expired", expired),
			slog.Time("as_of", asOf))
		return nil
	}
}

// IdempotencyCleaner is what the cleanup task needs from the key store.
type IdempotencyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) error
}

const idempotencyRetention = 7 * 24 * time.Hour

// NewIdempotencyCleanupHandler returns the handler pruning old keys.
func NewIdempotencyCleanupHandler(cleaner IdempotencyCleaner, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, _ *asynq.Task) error {
		if err := cleaner.Cleanup(ctx, idempotencyRetention); err != nil {
			logger.Error("idempotency cleanup failed", slog.Any("error", err))
			return err
		}
		logger.Info("idempotency cleanup done")
		return nil
	}
}
