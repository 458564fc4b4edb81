package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	tx "github.com/Thiht/transactor/pgx"
	"github.com/jackc/pgx/v5"

	"github.com/sand/netdisk-market-ledger/backend/internal/entities"
	"github.com/sand/netdisk-market-ledger/backend/pkg/database"
)

// PaymentsRepository persists payment attempts against orders.
type PaymentsRepository struct {
	logger *slog.Logger
	db     tx.DBGetter
}

func NewPaymentsRepository(logger *slog.Logger, pg *database.Postgres) *PaymentsRepository {
	return &PaymentsRepository{logger: logger, db: pg.DBGetter}
}

const paymentColumns = "id, order_id, provider, transaction_id, amount_cents, status, created_at, paid_at"

func (r *PaymentsRepository) Insert(ctx context.Context, payment *entities.Payment) error {
	err := r.db(ctx).QueryRow(ctx,
		`INSERT INTO order_payments (order_id, provider, transaction_id, amount_cents, status)
         VALUES ($1, $2, $3, $4, $5)
         RETURNING id, created_at`,
		payment.OrderID, payment.Provider, payment.TransactionID, payment.AmountCents, payment.Status,
	).Scan(&payment.ID, &payment.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert payment: %w", err)
	}

	r.logger.Info("Payment attempt recorded",
		"transaction_id", payment.TransactionID, "order_id", payment.OrderID, "amount_cents", payment.AmountCents)

	return nil
}

func (r *PaymentsRepository) FindByTransactionID(ctx context.Context, transactionID string) (*entities.Payment, error) {
	rows, err := r.db(ctx).Query(ctx,
		fmt.Sprintf("SELECT %s FROM order_payments WHERE transaction_id = $1", paymentColumns), transactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query payment %s: %w", transactionID, err)
	}

	payment, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[entities.Payment])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to collect payment row: %w", err)
	}

	return &payment, nil
}

// FindByTransactionIDForUpdate locks the payment row so concurrent callbacks
// for the same transaction serialize on it.
func (r *PaymentsRepository) FindByTransactionIDForUpdate(ctx context.Context, transactionID string) (*entities.Payment, error) {
	rows, err := r.db(ctx).Query(ctx,
		fmt.Sprintf("SELECT %s FROM order_payments WHERE transaction_id = $1 FOR UPDATE", paymentColumns), transactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock payment %s: %w", transactionID, err)
	}

	payment, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[entities.Payment])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to collect payment row: %w", err)
	}

	return &payment, nil
}

func (r *PaymentsRepository) FindPendingByOrder(ctx context.Context, orderID int64) (*entities.Payment, error) {
	rows, err := r.db(ctx).Query(ctx,
		fmt.Sprintf("SELECT %s FROM order_payments WHERE order_id = $1 AND status = 'pending'", paymentColumns), orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending payment for order %d: %w", orderID, err)
	}

	payment, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[entities.Payment])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to collect payment row: %w", err)
	}

	return &payment, nil
}

func (r *PaymentsRepository) MarkSuccess(ctx context.Context, paymentID int64, at time.Time) error {
	_, err := r.db(ctx).Exec(ctx,
		"UPDATE order_payments SET status = 'success', paid_at = $2 WHERE id = $1", paymentID, at)
	if err != nil {
		return fmt.Errorf("failed to mark payment %d success: %w", paymentID, err)
	}
	return nil
}

func (r *PaymentsRepository) MarkFailed(ctx context.Context, paymentID int64) error {
	_, err := r.db(ctx).Exec(ctx,
		"UPDATE order_payments SET status = 'failed' WHERE id = $1", paymentID)
	if err != nil {
		return fmt.Errorf("failed to mark payment %d failed: %w", paymentID, err)
	}
	return nil
}
