package ports

import (
	"context"
	"time"

	"github.com/sand/netdisk-market-ledger/backend/internal/entities"
)

// Transactor runs fn inside a database transaction. Satisfied by
// *transactor/pgx.Transactor; tests substitute a pass-through.
type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// NotificationDispatcher is the external notification system. Delivery is
// best-effort: callers log errors and move on, and never call it while
// holding a transaction.
type NotificationDispatcher interface {
	Notify(ctx context.Context, userID, title, content, ntype, channel string) error
}

// OrderService owns the order lifecycle and payment application.
type OrderService interface {
	CreateOrder(ctx context.Context, buyerID string, items []OrderItemInput) (*entities.Order, error)
	InitiatePayment(ctx context.Context, orderID int64, provider string) (*entities.Payment, error)
	ApplyPaymentCallback(ctx context.Context, transactionID, status string, amountCents int64) (*entities.Order, error)
	MarkDelivered(ctx context.Context, orderID int64) error
	CompleteOrder(ctx context.Context, orderID int64) error
	CancelOrder(ctx context.Context, orderID int64) error
	GetOrder(ctx context.Context, orderID int64) (*entities.Order, error)
	ListUserOrders(ctx context.Context, userID, role string, status entities.OrderStatus, limit, offset int) ([]entities.Order, error)
	ExpireStaleOrders(ctx context.Context, olderThan time.Duration) (int64, error)
}

// OrderItemInput is one listing line requested by the buyer.
type OrderItemInput struct {
	ListingID int64 `json:"listing_id"`
	Quantity  int   `json:"quantity"`
}

// RefundService runs the refund request/review/process cycle.
type RefundService interface {
	ApplyRefund(ctx context.Context, orderID int64, buyerID, reason string) (*entities.RefundRequest, error)
	ReviewRefund(ctx context.Context, refundID int64, reviewerID string, status entities.RefundStatus, remark string) error
	ProcessRefund(ctx context.Context, refundID int64, operatorID, remark string) error
	GetRefund(ctx context.Context, refundID int64) (*entities.RefundRequest, error)
	ListRefunds(ctx context.Context, status entities.RefundStatus, limit, offset int) ([]entities.RefundRequest, error)
}

// PayoutService runs the withdrawal request/review cycle.
type PayoutService interface {
	CreatePayoutRequest(ctx context.Context, userID string, amountCents int64, method, accountInfo, remark string) (*entities.PayoutRequest, error)
	ReviewPayoutRequest(ctx context.Context, payoutID int64, reviewerID string, status entities.PayoutStatus, remark string) error
	ListPayouts(ctx context.Context, status entities.PayoutStatus, limit, offset int) ([]entities.PayoutRequest, error)
}

// WalletService is the sole writer of wallet balances and wallet logs.
type WalletService interface {
	GetWallet(ctx context.Context, userID string) (*entities.Wallet, error)
	GetWalletLogs(ctx context.Context, userID string, limit int) ([]entities.WalletLog, error)
	CreditSale(ctx context.Context, sellerID string, orderID int64, amountCents int64) error
	SettleOrder(ctx context.Context, orderID int64) error
	SettleEligibleOrders(ctx context.Context, holdPeriod time.Duration) (int, error)
	RefundOut(ctx context.Context, sellerID string, refundID int64, amountCents int64, remark string) error
	RefundIn(ctx context.Context, buyerID string, refundID int64, amountCents int64, remark string) error
	FreezePayout(ctx context.Context, userID string, payoutID int64, amountCents int64) error
	ReleasePayout(ctx context.Context, userID string, payoutID int64, amountCents int64) error
	MarkPayoutPaid(ctx context.Context, userID string, payoutID int64, amountCents int64) error
}

// ReconciliationService audits persisted state for a time window. Read-only.
type ReconciliationService interface {
	Reconcile(ctx context.Context, start, end time.Time) (*entities.ReconciliationReport, error)
}
