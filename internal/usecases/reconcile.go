package usecases

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/sand/netdisk-market-ledger/backend/internal/entities"
)

type ReconciliationRepository interface {
	OrderTotals(ctx context.Context, start, end time.Time) (entities.OrderTotals, error)
	LogSums(ctx context.Context, start, end time.Time) (map[entities.WalletLogType]int64, error)
	StaleRefunds(ctx context.Context, cutoff time.Time) ([]entities.RefundRequest, error)
	StalePayouts(ctx context.Context, cutoff time.Time) ([]entities.PayoutRequest, error)
	NegativeWallets(ctx context.Context) ([]entities.Wallet, error)
}

// ReconciliationService cross-checks orders against wallet logs for a time
// window and flags requests stuck past the review SLA. It only reads;
// anomalies are findings in the report, never errors.
type ReconciliationService struct {
	logger    *slog.Logger
	repo      ReconciliationRepository
	reviewSLA time.Duration
}

func NewReconciliationService(logger *slog.Logger, repo ReconciliationRepository, reviewSLA time.Duration) *ReconciliationService {
	return &ReconciliationService{
		logger:    logger,
		repo:      repo,
		reviewSLA: reviewSLA,
	}
}

func (rs *ReconciliationService) Reconcile(ctx context.Context, start, end time.Time) (*entities.ReconciliationReport, error) {
	if !end.After(start) {
		return nil, entities.NewFault(entities.KindValidation, "window end must be after start")
	}

	totals, err := rs.repo.OrderTotals(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to sum orders: %w", err)
	}

	sums, err := rs.repo.LogSums(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to sum wallet logs: %w", err)
	}

	report := &entities.ReconciliationReport{
		Start:      start,
		End:        end,
		Orders:     totals,
		WalletLogs: sums,
	}

	if sums[entities.LogSale] != totals.SellerAmountCents {
		report.Anomalies = append(report.Anomalies, entities.Anomaly{
			Type:      entities.AnomalyMismatch,
			Reference: "sale",
			Expected:  totals.SellerAmountCents,
			Actual:    sums[entities.LogSale],
			Reason:    "sale log sum disagrees with seller amount sum of orders in window",
		})
	}

	if out := sums[entities.LogRefundOut]; out > 0 {
		report.Anomalies = append(report.Anomalies, entities.Anomaly{
			Type:        entities.AnomalySign,
			Reference:   "refund_out",
			AmountCents: out,
			Reason:      "refund_out entries must be negative",
		})
	}
	if in := sums[entities.LogRefundIn]; in < 0 {
		report.Anomalies = append(report.Anomalies, entities.Anomaly{
			Type:        entities.AnomalySign,
			Reference:   "refund_in",
			AmountCents: in,
			Reason:      "refund_in entries must be positive",
		})
	}

	cutoff := time.Now().Add(-rs.reviewSLA)

	refunds, err := rs.repo.StaleRefunds(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to find stale refunds: %w", err)
	}
	for _, refund := range refunds {
		report.Anomalies = append(report.Anomalies, entities.Anomaly{
			Type:        entities.AnomalySLA,
			Reference:   "refund:" + strconv.FormatInt(refund.ID, 10),
			AmountCents: refund.AmountCents,
			Reason:      fmt.Sprintf("refund pending since %s", refund.CreatedAt.Format(time.RFC3339)),
		})
	}

	payouts, err := rs.repo.StalePayouts(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to find stale payouts: %w", err)
	}
	for _, payout := range payouts {
		report.Anomalies = append(report.Anomalies, entities.Anomaly{
			Type:        entities.AnomalySLA,
			Reference:   "payout:" + strconv.FormatInt(payout.ID, 10),
			AmountCents: payout.AmountCents,
			Reason:      fmt.Sprintf("payout pending since %s", payout.CreatedAt.Format(time.RFC3339)),
		})
	}

	wallets, err := rs.repo.NegativeWallets(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to find negative wallets: %w", err)
	}
	for _, wallet := range wallets {
		report.Anomalies = append(report.Anomalies, entities.Anomaly{
			Type:      entities.AnomalyWallet,
			Reference: "wallet:" + wallet.UserID,
			Actual:    wallet.BalanceCents,
			Reason: fmt.Sprintf("wallet holds negative funds: balance=%d pending=%d",
				wallet.BalanceCents, wallet.PendingSettlementCents),
		})
	}

	rs.logger.Info("Reconciliation finished",
		"start", start, "end", end, "anomalies", len(report.Anomalies))

	return report, nil
}
