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

// OrdersRepository persists orders and their items.
type OrdersRepository struct {
	logger *slog.Logger

	db      tx.DBGetter
	builder squirrel.StatementBuilderType
}

func NewOrdersRepository(logger *slog.Logger, pg *database.Postgres) *OrdersRepository {
	return &OrdersRepository{logger: logger, db: pg.DBGetter, builder: pg.Builder}
}

const orderColumns = `id, order_no, buyer_id, seller_id, total_amount_cents, platform_fee_cents,
       seller_amount_cents, currency, status, payment_status, created_at, updated_at,
       paid_at, delivered_at, completed_at, refunded_at`

// Create inserts the order and its items; must run inside the caller's
// transaction. Fills order.ID and item IDs.
func (r *OrdersRepository) Create(ctx context.Context, order *entities.Order, items []entities.OrderItem) error {
	query := `INSERT INTO orders (order_no, buyer_id, seller_id, total_amount_cents, platform_fee_cents,
                                  seller_amount_cents, currency, status, payment_status)
              VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
              RETURNING id, created_at, updated_at`

	err := r.db(ctx).QueryRow(ctx, query,
		order.OrderNo, order.BuyerID, order.SellerID,
		order.TotalAmountCents, order.PlatformFeeCents, order.SellerAmountCents,
		order.Currency, order.Status, order.PaymentStatus,
	).Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}

	for i := range items {
		items[i].OrderID = order.ID
		err = r.db(ctx).QueryRow(ctx,
			"INSERT INTO order_items (order_id, listing_id, price_cents, quantity) VALUES ($1, $2, $3, $4) RETURNING id",
			items[i].OrderID, items[i].ListingID, items[i].PriceCents, items[i].Quantity,
		).Scan(&items[i].ID)
		if err != nil {
			return fmt.Errorf("failed to insert order item: %w", err)
		}
	}

	return nil
}

func (r *OrdersRepository) FindByID(ctx context.Context, orderID int64) (*entities.Order, error) {
	rows, err := r.db(ctx).Query(ctx,
		fmt.Sprintf("SELECT %s FROM orders WHERE id = $1", orderColumns), orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query order %d: %w", orderID, err)
	}

	order, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[entities.Order])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to collect order row: %w", err)
	}

	return &order, nil
}

// FindByIDForUpdate locks the order row for the rest of the transaction.
func (r *OrdersRepository) FindByIDForUpdate(ctx context.Context, orderID int64) (*entities.Order, error) {
	rows, err := r.db(ctx).Query(ctx,
		fmt.Sprintf("SELECT %s FROM orders WHERE id = $1 FOR UPDATE", orderColumns), orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock order %d: %w", orderID, err)
	}

	order, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[entities.Order])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to collect order row: %w", err)
	}

	return &order, nil
}

func (r *OrdersRepository) MarkPaid(ctx context.Context, orderID int64, at time.Time) error {
	_, err := r.db(ctx).Exec(ctx,
		"UPDATE orders SET status = 'paid', payment_status = 'success', paid_at = $2, updated_at = NOW() WHERE id = $1",
		orderID, at)
	if err != nil {
		return fmt.Errorf("failed to mark order %d paid: %w", orderID, err)
	}
	return nil
}

func (r *OrdersRepository) MarkPaymentFailed(ctx context.Context, orderID int64) error {
	_, err := r.db(ctx).Exec(ctx,
		"UPDATE orders SET payment_status = 'failed', updated_at = NOW() WHERE id = $1", orderID)
	if err != nil {
		return fmt.Errorf("failed to mark order %d payment failed: %w", orderID, err)
	}
	return nil
}

func (r *OrdersRepository) MarkDelivered(ctx context.Context, orderID int64, at time.Time) error {
	_, err := r.db(ctx).Exec(ctx,
		"UPDATE orders SET status = 'delivered', delivered_at = $2, updated_at = NOW() WHERE id = $1",
		orderID, at)
	if err != nil {
		return fmt.Errorf("failed to mark order %d delivered: %w", orderID, err)
	}
	return nil
}

func (r *OrdersRepository) MarkCompleted(ctx context.Context, orderID int64, at time.Time) error {
	_, err := r.db(ctx).Exec(ctx,
		"UPDATE orders SET status = 'completed', completed_at = $2, updated_at = NOW() WHERE id = $1",
		orderID, at)
	if err != nil {
		return fmt.Errorf("failed to mark order %d completed: %w", orderID, err)
	}
	return nil
}

func (r *OrdersRepository) MarkCancelled(ctx context.Context, orderID int64) error {
	_, err := r.db(ctx).Exec(ctx,
		"UPDATE orders SET status = 'cancelled', updated_at = NOW() WHERE id = $1", orderID)
	if err != nil {
		return fmt.Errorf("failed to mark order %d cancelled: %w", orderID, err)
	}
	return nil
}

func (r *OrdersRepository) MarkRefunded(ctx context.Context, orderID int64, at time.Time) error {
	_, err := r.db(ctx).Exec(ctx,
		"UPDATE orders SET status = 'refunded', refunded_at = $2, updated_at = NOW() WHERE id = $1",
		orderID, at)
	if err != nil {
		return fmt.Errorf("failed to mark order %d refunded: %w", orderID, err)
	}
	return nil
}

// List returns a user's orders as buyer or seller, newest first.
func (r *OrdersRepository) List(ctx context.Context, userID, role string, status entities.OrderStatus, limit, offset int) ([]entities.Order, error) {
	qb := r.builder.
		Select(orderColumns).
		From("orders").
		OrderBy("created_at DESC").
		Limit(uint64(limit)).
		Offset(uint64(offset))

	switch role {
	case "seller":
		qb = qb.Where(squirrel.Eq{"seller_id": userID})
	default:
		qb = qb.Where(squirrel.Eq{"buyer_id": userID})
	}
	if status != "" {
		qb = qb.Where(squirrel.Eq{"status": status})
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build orders query: %w", err)
	}

	rows, err := r.db(ctx).Query(ctx, query, args...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}

	orders, err := pgx.CollectRows(rows, pgx.RowToStructByName[entities.Order])
	if err != nil {
		r.logger.Error("failed to collect orders rows", "error", err)
		return nil, err
	}

	return orders, nil
}

// ExpireCreatedBefore cancels unpaid orders created before the cutoff.
func (r *OrdersRepository) ExpireCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db(ctx).Exec(ctx,
		"UPDATE orders SET status = 'cancelled', updated_at = NOW() WHERE status = 'created' AND created_at < $1",
		cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to expire stale orders: %w", err)
	}
	return tag.RowsAffected(), nil
}

// FindUnsettled returns paid orders whose hold period has elapsed and whose
// seller has not yet received a settlement log entry for them.
func (r *OrdersRepository) FindUnsettled(ctx context.Context, paidBefore time.Time, limit int) ([]entities.Order, error) {
	query := fmt.Sprintf(`SELECT %s FROM orders o
             WHERE o.status IN ('paid', 'delivered', 'completed')
               AND o.paid_at IS NOT NULL AND o.paid_at < $1
               AND NOT EXISTS (
                   SELECT 1 FROM wallet_logs wl
                    WHERE wl.user_id = o.seller_id AND wl.type = 'settlement' AND wl.reference_id = 'order:' || o.id
               )
             ORDER BY o.paid_at
             LIMIT $2`, orderColumns)

	rows, err := r.db(ctx).Query(ctx, query, paidBefore, limit)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query unsettled orders: %w", err)
	}

	orders, err := pgx.CollectRows(rows, pgx.RowToStructByName[entities.Order])
	if err != nil {
		r.logger.Error("failed to collect unsettled orders rows", "error", err)
		return nil, err
	}

	return orders, nil
}
