package jobs

import (
	"context"
	"log/slog"

	"github.com/dentameet/matching-engine/internal/infrastructure/messaging"
)

// StatsSource exposes dispatcher counters.
type StatsSource interface {
	Metrics() *messaging.DispatcherMetrics
	DeadLetterQueue() *messaging.DeadLetterQueue
}

// ReportDeliveryStatsJob logs notification delivery counters.
type ReportDeliveryStatsJob struct {
	source StatsSource
	logger *slog.Logger
}

func NewReportDeliveryStatsJob(source StatsSource, logger *slog.Logger) *ReportDeliveryStatsJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReportDeliveryStatsJob{
		source: source,
		logger: logger.With("job", "report_delivery_stats"),
	}
}

func (j *ReportDeliveryStatsJob) Name() string { return "report_delivery_stats" }

func (j *ReportDeliveryStatsJob) Description() string {
	return "Logs match notification delivery counters"
}

func (j *ReportDeliveryStatsJob) Run(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	snap := j.source.Metrics().Snapshot()
	j.logger.Info("delivery stats",
		"dispatched", snap.Dispatched,
		"deliveries", snap.Deliveries,
		"failures", snap.Failures,
		"retries", snap.Retries,
		"success_rate", snap.SuccessRate,
		"avg_duration", snap.AverageDuration.String(),
		"dead_letters", j.source.DeadLetterQueue().Size(),
	)
	return nil
}
