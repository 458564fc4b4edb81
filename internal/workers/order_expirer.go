package workers

import (
	"context"
	"log/slog"
	"time"
)

type OrderExpirationService interface {
	ExpireStaleOrders(ctx context.Context, olderThan time.Duration) (int64, error)
}

// OrderExpirer cancels orders that were created but never paid.
type OrderExpirer struct {
	logger *slog.Logger
	orders OrderExpirationService

	// Age after which an unpaid order is cancelled.
	expirationDuration time.Duration

	// How often to run the expiry pass.
	checkInterval time.Duration
}

func NewOrderExpirer(
	logger *slog.Logger,
	orders OrderExpirationService,
	expirationDuration time.Duration,
	checkInterval time.Duration,
) *OrderExpirer {
	return &OrderExpirer{
		logger:             logger,
		orders:             orders,
		expirationDuration: expirationDuration,
		checkInterval:      checkInterval,
	}
}

// Start begins the periodic expiry of stale orders.
func (oe *OrderExpirer) Start(ctx context.Context) {
	oe.logger.Info("Starting order expirer worker",
		"expiration_time", oe.expirationDuration.String(),
		"check_interval", oe.checkInterval.String())

	// Run an initial pass immediately
	if err := oe.expireStaleOrders(ctx); err != nil {
		oe.logger.Error("Initial order expiry failed", "error", err)
	}

	ticker := time.NewTicker(oe.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			oe.logger.Info("Order expirer worker stopped")
			return
		case <-ticker.C:
			if err := oe.expireStaleOrders(ctx); err != nil {
				oe.logger.Error("Order expiry failed", "error", err)
			}
		}
	}
}

func (oe *OrderExpirer) expireStaleOrders(ctx context.Context) error {
	oe.logger.Debug("Starting expiry of stale orders", "older_than", oe.expirationDuration.String())

	count, err := oe.orders.ExpireStaleOrders(ctx, oe.expirationDuration)
	if err != nil {
		return err
	}

	if count > 0 {
		oe.logger.Info("Expired stale orders", "count", count, "older_than", oe.expirationDuration.String())
	} else {
		oe.logger.Debug("No stale orders to expire")
	}

	return nil
}
