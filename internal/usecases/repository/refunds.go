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

// RefundsRepository persists refund requests.
type RefundsRepository struct {
	logger *slog.Logger

	db      tx.DBGetter
	builder squirrel.StatementBuilderType
}

func NewRefundsRepository(logger *slog.Logger, pg *database.Postgres) *RefundsRepository {
	return &RefundsRepository{logger: logger, db: pg.DBGetter, builder: pg.Builder}
}

const refundColumns = "id, order_id, buyer_id, seller_id, amount_cents, reason, status, reviewer_id, remark, created_at, processed_at"

func (r *RefundsRepository) Insert(ctx context.Context, refund *entities.RefundRequest) error {
	err := r.db(ctx).QueryRow(ctx,
		`INSERT INTO refund_requests (order_id, buyer_id, seller_id, amount_cents, reason, status)
         VALUES ($1, $2, $3, $4, $5, $6)
         RETURNING id, created_at`,
		refund.OrderID, refund.BuyerID, refund.SellerID, refund.AmountCents, refund.Reason, refund.Status,
	).Scan(&refund.ID, &refund.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert refund request: %w", err)
	}

	r.logger.Info("Refund request created",
		"refund_id", refund.ID, "order_id", refund.OrderID, "amount_cents", refund.AmountCents)

	return nil
}

func (r *RefundsRepository) FindByID(ctx context.Context, refundID int64) (*entities.RefundRequest, error) {
	return r.findByID(ctx, refundID, false)
}

// FindByIDForUpdate locks the request row so review and process calls for
// the same refund serialize.
func (r *RefundsRepository) FindByIDForUpdate(ctx context.Context, refundID int64) (*entities.RefundRequest, error) {
	return r.findByID(ctx, refundID, true)
}

func (r *RefundsRepository) findByID(ctx context.Context, refundID int64, forUpdate bool) (*entities.RefundRequest, error) {
	query := fmt.Sprintf("SELECT %s FROM refund_requests WHERE id = $1", refundColumns)
	if forUpdate {
		query += " FOR UPDATE"
	}

	rows, err := r.db(ctx).Query(ctx, query, refundID)
	if err != nil {
		return nil, fmt.Errorf("failed to query refund request %d: %w", refundID, err)
	}

	refund, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[entities.RefundRequest])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to collect refund request row: %w", err)
	}

	return &refund, nil
}

// HasActive reports whether the order already has a pending or approved refund.
func (r *RefundsRepository) HasActive(ctx context.Context, orderID int64) (bool, error) {
	var exists bool
	err := r.db(ctx).QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM refund_requests WHERE order_id = $1 AND status IN ('pending', 'approved'))",
		orderID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check active refund for order %d: %w", orderID, err)
	}
	return exists, nil
}

func (r *RefundsRepository) UpdateReview(ctx context.Context, refundID int64, reviewerID string, status entities.RefundStatus, remark string) error {
	_, err := r.db(ctx).Exec(ctx,
		"UPDATE refund_requests SET status = $2, reviewer_id = $3, remark = $4 WHERE id = $1",
		refundID, status, reviewerID, remark)
	if err != nil {
		return fmt.Errorf("failed to review refund request %d: %w", refundID, err)
	}
	return nil
}

func (r *RefundsRepository) MarkProcessed(ctx context.Context, refundID int64, operatorID, remark string, at time.Time) error {
	_, err := r.db(ctx).Exec(ctx,
		"UPDATE refund_requests SET status = 'processed', reviewer_id = $2, remark = $3, processed_at = $4 WHERE id = $1",
		refundID, operatorID, remark, at)
	if err != nil {
		return fmt.Errorf("failed to mark refund request %d processed: %w", refundID, err)
	}
	return nil
}

func (r *RefundsRepository) ListByStatus(ctx context.Context, status entities.RefundStatus, limit, offset int) ([]entities.RefundRequest, error) {
	qb := r.builder.
		Select(refundColumns).
		From("refund_requests").
		OrderBy("created_at DESC").
		Limit(uint64(limit)).
		Offset(uint64(offset))
	if status != "" {
		qb = qb.Where(squirrel.Eq{"status": status})
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build refunds query: %w", err)
	}

	rows, err := r.db(ctx).Query(ctx, query, args...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query refund requests: %w", err)
	}

	refunds, err := pgx.CollectRows(rows, pgx.RowToStructByName[entities.RefundRequest])
	if err != nil {
		r.logger.Error("failed to collect refund requests rows", "error", err)
		return nil, err
	}

	return refunds, nil
}
