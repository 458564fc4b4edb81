package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	tx "github.com/Thiht/transactor/pgx"
	"github.com/jackc/pgx/v5"

	"github.com/sand/netdisk-market-ledger/backend/internal/entities"
	"github.com/sand/netdisk-market-ledger/backend/pkg/database"
)

// WalletsRepository persists wallet rows and their append-only logs. Only the
// wallet service calls the mutating methods, and only inside a transaction.
type WalletsRepository struct {
	logger *slog.Logger
	db     tx.DBGetter
}

func NewWalletsRepository(logger *slog.Logger, pg *database.Postgres) *WalletsRepository {
	return &WalletsRepository{logger: logger, db: pg.DBGetter}
}

const walletColumns = "user_id, balance_cents, pending_settlement_cents, updated_at"

func (r *WalletsRepository) Find(ctx context.Context, userID string) (*entities.Wallet, error) {
	rows, err := r.db(ctx).Query(ctx,
		fmt.Sprintf("SELECT %s FROM user_wallets WHERE user_id = $1", walletColumns), userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query wallet %s: %w", userID, err)
	}

	wallet, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[entities.Wallet])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to collect wallet row: %w", err)
	}

	return &wallet, nil
}

// FindForUpdate creates the wallet row when absent, then takes a row-level
// exclusive lock. Concurrent payout requests for the same user serialize here.
func (r *WalletsRepository) FindForUpdate(ctx context.Context, userID string) (*entities.Wallet, error) {
	_, err := r.db(ctx).Exec(ctx,
		"INSERT INTO user_wallets (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING", userID)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure wallet %s: %w", userID, err)
	}

	rows, err := r.db(ctx).Query(ctx,
		fmt.Sprintf("SELECT %s FROM user_wallets WHERE user_id = $1 FOR UPDATE", walletColumns), userID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock wallet %s: %w", userID, err)
	}

	wallet, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[entities.Wallet])
	if err != nil {
		return nil, fmt.Errorf("failed to collect wallet row: %w", err)
	}

	return &wallet, nil
}

func (r *WalletsRepository) CreateIfAbsent(ctx context.Context, userID string) error {
	_, err := r.db(ctx).Exec(ctx,
		"INSERT INTO user_wallets (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING", userID)
	if err != nil {
		return fmt.Errorf("failed to create wallet %s: %w", userID, err)
	}
	return nil
}

// UpdateBalances overwrites both money fields; callers compute them under the
// row lock taken by FindForUpdate.
func (r *WalletsRepository) UpdateBalances(ctx context.Context, userID string, balanceCents, pendingCents int64) error {
	_, err := r.db(ctx).Exec(ctx,
		"UPDATE user_wallets SET balance_cents = $2, pending_settlement_cents = $3, updated_at = NOW() WHERE user_id = $1",
		userID, balanceCents, pendingCents)
	if err != nil {
		return fmt.Errorf("failed to update wallet %s: %w", userID, err)
	}
	return nil
}

func (r *WalletsRepository) AppendLog(ctx context.Context, log *entities.WalletLog) error {
	err := r.db(ctx).QueryRow(ctx,
		`INSERT INTO wallet_logs (user_id, change_cents, balance_after, type, reference_id, remark)
         VALUES ($1, $2, $3, $4, $5, $6)
         RETURNING id, created_at`,
		log.UserID, log.ChangeCents, log.BalanceAfter, log.Type, log.ReferenceID, log.Remark,
	).Scan(&log.ID, &log.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append wallet log: %w", err)
	}
	return nil
}

// HasLog reports whether an entry with this (user, type, reference) already
// exists; sale and settlement idempotency checks go through here.
func (r *WalletsRepository) HasLog(ctx context.Context, userID string, logType entities.WalletLogType, referenceID string) (bool, error) {
	var exists bool
	err := r.db(ctx).QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM wallet_logs WHERE user_id = $1 AND type = $2 AND reference_id = $3)",
		userID, logType, referenceID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check wallet log existence: %w", err)
	}
	return exists, nil
}

func (r *WalletsRepository) FindLogs(ctx context.Context, userID string, limit int) ([]entities.WalletLog, error) {
	rows, err := r.db(ctx).Query(ctx,
		`SELECT id, user_id, change_cents, balance_after, type, reference_id, remark, created_at
           FROM wallet_logs
          WHERE user_id = $1
          ORDER BY id DESC
          LIMIT $2`, userID, limit)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query wallet logs: %w", err)
	}

	logs, err := pgx.CollectRows(rows, pgx.RowToStructByName[entities.WalletLog])
	if err != nil {
		r.logger.Error("failed to collect wallet logs rows", "error", err)
		return nil, err
	}

	return logs, nil
}
