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

// PayoutsRepository persists withdrawal requests.
type PayoutsRepository struct {
	logger *slog.Logger

	db      tx.DBGetter
	builder squirrel.StatementBuilderType
}

func NewPayoutsRepository(logger *slog.Logger, pg *database.Postgres) *PayoutsRepository {
	return &PayoutsRepository{logger: logger, db: pg.DBGetter, builder: pg.Builder}
}

const payoutColumns = "id, user_id, amount_cents, status, method, account_info, remark, reviewer_id, created_at, processed_at"

func (r *PayoutsRepository) Insert(ctx context.Context, payout *entities.PayoutRequest) error {
	err := r.db(ctx).QueryRow(ctx,
		`INSERT INTO payout_requests (user_id, amount_cents, status, method, account_info, remark)
         VALUES ($1, $2, $3, $4, $5, $6)
         RETURNING id, created_at`,
		payout.UserID, payout.AmountCents, payout.Status, payout.Method, payout.AccountInfo, payout.Remark,
	).Scan(&payout.ID, &payout.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert payout request: %w", err)
	}

	r.logger.Info("Payout request created",
		"payout_id", payout.ID, "user_id", payout.UserID, "amount_cents", payout.AmountCents)

	return nil
}

// FindByIDForUpdate locks the request row for the review transaction.
func (r *PayoutsRepository) FindByIDForUpdate(ctx context.Context, payoutID int64) (*entities.PayoutRequest, error) {
	rows, err := r.db(ctx).Query(ctx,
		fmt.Sprintf("SELECT %s FROM payout_requests WHERE id = $1 FOR UPDATE", payoutColumns), payoutID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock payout request %d: %w", payoutID, err)
	}

	payout, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[entities.PayoutRequest])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to collect payout request row: %w", err)
	}

	return &payout, nil
}

// HasPending reports whether the user already has an unreviewed request.
func (r *PayoutsRepository) HasPending(ctx context.Context, userID string) (bool, error) {
	var exists bool
	err := r.db(ctx).QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM payout_requests WHERE user_id = $1 AND status = 'pending')",
		userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check pending payout for user %s: %w", userID, err)
	}
	return exists, nil
}

func (r *PayoutsRepository) UpdateReview(ctx context.Context, payoutID int64, reviewerID string, status entities.PayoutStatus, remark string, at time.Time) error {
	_, err := r.db(ctx).Exec(ctx,
		"UPDATE payout_requests SET status = $2, reviewer_id = $3, remark = $4, processed_at = $5 WHERE id = $1",
		payoutID, status, reviewerID, remark, at)
	if err != nil {
		return fmt.Errorf("failed to review payout request %d: %w", payoutID, err)
	}
	return nil
}

func (r *PayoutsRepository) ListByStatus(ctx context.Context, status entities.PayoutStatus, limit, offset int) ([]entities.PayoutRequest, error) {
	qb := r.builder.
		Select(payoutColumns).
		From("payout_requests").
		OrderBy("created_at DESC").
		Limit(uint64(limit)).
		Offset(uint64(offset))
	if status != "" {
		qb = qb.Where(squirrel.Eq{"status": status})
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build payouts query: %w", err)
	}

	rows, err := r.db(ctx).Query(ctx, query, args...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query payout requests: %w", err)
	}

	payouts, err := pgx.CollectRows(rows, pgx.RowToStructByName[entities.PayoutRequest])
	if err != nil {
		r.logger.Error("failed to collect payout requests rows", "error", err)
		return nil, err
	}

	return payouts, nil
}
