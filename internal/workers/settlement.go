package workers

import (
	"context"
	"log/slog"
	"time"
)

type SettlementService interface {
	SettleEligibleOrders(ctx context.Context, holdPeriod time.Duration) (int, error)
}

// Settler periodically releases seller earnings whose settlement hold has
// elapsed from pending settlement into the withdrawable balance.
type Settler struct {
	logger  *slog.Logger
	wallets SettlementService

	// How long sale proceeds stay in pending settlement.
	holdPeriod time.Duration

	// How often to look for orders past the hold.
	settleInterval time.Duration
}

func NewSettler(
	logger *slog.Logger,
	wallets SettlementService,
	holdPeriod time.Duration,
	settleInterval time.Duration,
) *Settler {
	return &Settler{
		logger:         logger,
		wallets:        wallets,
		holdPeriod:     holdPeriod,
		settleInterval: settleInterval,
	}
}

// Start begins the periodic settlement pass.
func (s *Settler) Start(ctx context.Context) {
	s.logger.Info("Starting settlement worker",
		"hold_period", s.holdPeriod.String(),
		"settle_interval", s.settleInterval.String())

	if err := s.settle(ctx); err != nil {
		s.logger.Error("Initial settlement pass failed", "error", err)
	}

	ticker := time.NewTicker(s.settleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Settlement worker stopped")
			return
		case <-ticker.C:
			if err := s.settle(ctx); err != nil {
				s.logger.Error("Settlement pass failed", "error", err)
			}
		}
	}
}

func (s *Settler) settle(ctx context.Context) error {
	count, err := s.wallets.SettleEligibleOrders(ctx, s.holdPeriod)
	if err != nil {
		return err
	}

	if count > 0 {
		s.logger.Info("Settled orders", "count", count)
	} else {
		s.logger.Debug("No orders ready for settlement")
	}

	return nil
}
