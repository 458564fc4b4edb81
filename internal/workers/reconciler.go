package workers

import (
	"context"
	"log/slog"
	"time"

	"github.com/sand/netdisk-market-ledger/backend/internal/core/ports"
	"github.com/sand/netdisk-market-ledger/backend/internal/entities"
)

// AnomalyBroadcaster receives each reconciliation report, typically pushing
// it to connected admin clients.
type AnomalyBroadcaster interface {
	Broadcast(report *entities.ReconciliationReport)
}

// Reconciler runs the reconciliation engine over the most recent window and
// publishes the findings. It only reads, so overlapping runs are harmless.
type Reconciler struct {
	logger      *slog.Logger
	service     ports.ReconciliationService
	broadcaster AnomalyBroadcaster

	// Window length and run cadence. The window always ends at run time.
	runInterval time.Duration
}

func NewReconciler(
	logger *slog.Logger,
	service ports.ReconciliationService,
	broadcaster AnomalyBroadcaster,
	runInterval time.Duration,
) *Reconciler {
	return &Reconciler{
		logger:      logger,
		service:     service,
		broadcaster: broadcaster,
		runInterval: runInterval,
	}
}

// Start begins the periodic reconciliation runs.
func (r *Reconciler) Start(ctx context.Context) {
	r.logger.Info("Starting reconciliation worker", "run_interval", r.runInterval.String())

	if err := r.run(ctx); err != nil {
		r.logger.Error("Initial reconciliation run failed", "error", err)
	}

	ticker := time.NewTicker(r.runInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Reconciliation worker stopped")
			return
		case <-ticker.C:
			if err := r.run(ctx); err != nil {
				r.logger.Error("Reconciliation run failed", "error", err)
			}
		}
	}
}

func (r *Reconciler) run(ctx context.Context) error {
	end := time.Now()
	start := end.Add(-r.runInterval)

	report, err := r.service.Reconcile(ctx, start, end)
	if err != nil {
		return err
	}

	if len(report.Anomalies) > 0 {
		r.logger.Warn("Reconciliation found anomalies", "count", len(report.Anomalies))
	}

	if r.broadcaster != nil {
		r.broadcaster.Broadcast(report)
	}

	return nil
}
