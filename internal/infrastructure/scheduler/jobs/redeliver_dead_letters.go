// Package jobs contains the scheduled jobs of the matching engine.
package jobs

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/dentameet/matching-engine/internal/infrastructure/messaging"
)

// ══════════════════════════════════════════════════════════════════════════════
// REDELIVER DEAD LETTERS JOB
// ══════════════════════════════════════════════════════════════════════════════

// Redeliverer is the part of the notification dispatcher the job drives.
type Redeliverer interface {
	Redeliver() int
	DeadLetterQueue() *messaging.DeadLetterQueue
}

// RedeliverDeadLettersJob retries notifications whose sinks failed every
// attempt. Entries that fail again go back to the queue.
type RedeliverDeadLettersJob struct {
	dispatcher Redeliverer
	logger     *slog.Logger

	lastRunStats atomic.Value // RedeliverStats
}

// RedeliverStats describes one run.
type RedeliverStats struct {
	Pending   int
	Delivered int
	Remaining int
	RanAt     time.Time
}

// NewRedeliverDeadLettersJob creates the job.
func NewRedeliverDeadLettersJob(dispatcher Redeliverer, logger *slog.Logger) *RedeliverDeadLettersJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedeliverDeadLettersJob{
		dispatcher: dispatcher,
		logger:     logger.With("job", "redeliver_dead_letters"),
	}
}

func (j *RedeliverDeadLettersJob) Name() string { return "redeliver_dead_letters" }

func (j *RedeliverDeadLettersJob) Description() string {
	return "Retries match notifications left in the dead letter queue"
}

// Run drains the queue once.
func (j *RedeliverDeadLettersJob) Run(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	stats := RedeliverStats{
		Pending: j.dispatcher.DeadLetterQueue().Size(),
		RanAt:   time.Now(),
	}
	if stats.Pending == 0 {
		j.lastRunStats.Store(stats)
		return nil
	}

	stats.Delivered = j.dispatcher.Redeliver()
	stats.Remaining = j.dispatcher.DeadLetterQueue().Size()
	j.lastRunStats.Store(stats)

	if stats.Delivered == 0 {
		j.logger.Warn("dead letters still undeliverable", "pending", stats.Pending)
		return nil
	}
	j.logger.Info("dead letters redelivered",
		"pending", stats.Pending,
		"delivered", stats.Delivered,
		"remaining", stats.Remaining,
	)
	return nil
}

// LastRunStats returns the stats of the latest run, if any.
func (j *RedeliverDeadLettersJob) LastRunStats() (RedeliverStats, bool) {
	s, ok := j.lastRunStats.Load().(RedeliverStats)
	return s, ok
}
