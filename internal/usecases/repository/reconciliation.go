package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Masterminds/squirrel"
	tx "github.com/Thiht/transactor/pgx"
	"github.com/jackc/pgx/v5"

	"github.com/sand/netdisk-market-ledger/backend/internal/entities"
	"github.com/sand/netdisk-market-ledger/backend/pkg/database"
)

// ReconciliationRepository holds the read-only aggregate queries the
// reconciliation engine runs. It never writes.
type ReconciliationRepository struct {
	logger *slog.Logger

	db      tx.DBGetter
	builder squirrel.StatementBuilderType
}

func NewReconciliationRepository(logger *slog.Logger, pg *database.Postgres) *ReconciliationRepository {
	return &ReconciliationRepository{logger: logger, db: pg.DBGetter, builder: pg.Builder}
}

// OrderTotals sums the money columns of orders created inside the window.
func (r *ReconciliationRepository) OrderTotals(ctx context.Context, start, end time.Time) (entities.OrderTotals, error) {
	query, args, err := r.builder.
		Select(
			"COALESCE(SUM(total_amount_cents), 0) AS total_amount_cents",
			"COALESCE(SUM(platform_fee_cents), 0) AS platform_fee_cents",
			"COALESCE(SUM(seller_amount_cents), 0) AS seller_amount_cents",
		).
		From("orders").
		Where(squirrel.GtOrEq{"created_at": start}).
		Where(squirrel.LtOrEq{"created_at": end}).
		ToSql()
	if err != nil {
		return entities.OrderTotals{}, fmt.Errorf("failed to build order totals query: %w", err)
	}

	var totals entities.OrderTotals
	err = r.db(ctx).QueryRow(ctx, query, args...).Scan(
		&totals.TotalAmountCents, &totals.PlatformFeeCents, &totals.SellerAmountCents)
	if err != nil {
		return entities.OrderTotals{}, fmt.Errorf("failed to sum orders: %w", err)
	}

	return totals, nil
}

// LogSums groups wallet log changes by type inside the window.
func (r *ReconciliationRepository) LogSums(ctx context.Context, start, end time.Time) (map[entities.WalletLogType]int64, error) {
	query, args, err := r.builder.
		Select("type", "COALESCE(SUM(change_cents), 0)").
		From("wallet_logs").
		Where(squirrel.GtOrEq{"created_at": start}).
		Where(squirrel.LtOrEq{"created_at": end}).
		GroupBy("type").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build log sums query: %w", err)
	}

	rows, err := r.db(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to sum wallet logs: %w", err)
	}
	defer rows.Close()

	sums := make(map[entities.WalletLogType]int64)
	for rows.Next() {
		var logType entities.WalletLogType
		var sum int64
		if err = rows.Scan(&logType, &sum); err != nil {
			return nil, fmt.Errorf("failed to scan log sum: %w", err)
		}
		sums[logType] = sum
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate log sums: %w", err)
	}

	return sums, nil
}

// StaleRefunds returns refund requests still pending at the cutoff age.
func (r *ReconciliationRepository) StaleRefunds(ctx context.Context, cutoff time.Time) ([]entities.RefundRequest, error) {
	rows, err := r.db(ctx).Query(ctx,
		fmt.Sprintf("SELECT %s FROM refund_requests WHERE status = 'pending' AND created_at < $1 ORDER BY created_at", refundColumns),
		cutoff)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query stale refunds: %w", err)
	}

	refunds, err := pgx.CollectRows(rows, pgx.RowToStructByName[entities.RefundRequest])
	if err != nil {
		r.logger.Error("failed to collect stale refunds rows", "error", err)
		return nil, err
	}

	return refunds, nil
}

// StalePayouts returns payout requests still pending at the cutoff age.
func (r *ReconciliationRepository) StalePayouts(ctx context.Context, cutoff time.Time) ([]entities.PayoutRequest, error) {
	rows, err := r.db(ctx).Query(ctx,
		fmt.Sprintf("SELECT %s FROM payout_requests WHERE status = 'pending' AND created_at < $1 ORDER BY created_at", payoutColumns),
		cutoff)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query stale payouts: %w", err)
	}

	payouts, err := pgx.CollectRows(rows, pgx.RowToStructByName[entities.PayoutRequest])
	if err != nil {
		r.logger.Error("failed to collect stale payouts rows", "error", err)
		return nil, err
	}

	return payouts, nil
}

// NegativeWallets returns wallets violating the non-negative invariant. The
// schema CHECK should make this impossible; the audit still looks.
func (r *ReconciliationRepository) NegativeWallets(ctx context.Context) ([]entities.Wallet, error) {
	rows, err := r.db(ctx).Query(ctx,
		fmt.Sprintf("SELECT %s FROM user_wallets WHERE balance_cents < 0 OR pending_settlement_cents < 0", walletColumns))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query negative wallets: %w", err)
	}

	wallets, err := pgx.CollectRows(rows, pgx.RowToStructByName[entities.Wallet])
	if err != nil {
		r.logger.Error("failed to collect negative wallets rows", "error", err)
		return nil, err
	}

	return wallets, nil
}
