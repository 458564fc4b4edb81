package usecases

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sand/netdisk-market-ledger/backend/internal/core/ports"
	"github.com/sand/netdisk-market-ledger/backend/internal/entities"
)

type OrdersRepository interface {
	Create(ctx context.Context, order *entities.Order, items []entities.OrderItem) error
	FindByID(ctx context.Context, orderID int64) (*entities.Order, error)
	FindByIDForUpdate(ctx context.Context, orderID int64) (*entities.Order, error)
	MarkPaid(ctx context.Context, orderID int64, at time.Time) error
	MarkPaymentFailed(ctx context.Context, orderID int64) error
	MarkDelivered(ctx context.Context, orderID int64, at time.Time) error
	MarkCompleted(ctx context.Context, orderID int64, at time.Time) error
	MarkCancelled(ctx context.Context, orderID int64) error
	List(ctx context.Context, userID, role string, status entities.OrderStatus, limit, offset int) ([]entities.Order, error)
	ExpireCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type ListingsRepository interface {
	FindLive(ctx context.Context, listingID int64) (*entities.Listing, error)
}

type PaymentsRepository interface {
	Insert(ctx context.Context, payment *entities.Payment) error
	FindByTransactionIDForUpdate(ctx context.Context, transactionID string) (*entities.Payment, error)
	FindPendingByOrder(ctx context.Context, orderID int64) (*entities.Payment, error)
	MarkSuccess(ctx context.Context, paymentID int64, at time.Time) error
	MarkFailed(ctx context.Context, paymentID int64) error
}

// SaleCrediter is the one wallet operation the payment path needs.
type SaleCrediter interface {
	CreditSale(ctx context.Context, sellerID string, orderID int64, amountCents int64) error
}

// OrderService drives the order lifecycle from creation through payment to
// completion. Money only moves when a payment callback is applied.
type OrderService struct {
	logger     *slog.Logger
	orders     OrdersRepository
	listings   ListingsRepository
	payments   PaymentsRepository
	wallets    SaleCrediter
	transactor ports.Transactor
	notifier   ports.NotificationDispatcher
	currency   string
}

func NewOrderService(
	logger *slog.Logger,
	orders OrdersRepository,
	listings ListingsRepository,
	payments PaymentsRepository,
	wallets SaleCrediter,
	transactor ports.Transactor,
	notifier ports.NotificationDispatcher,
	currency string,
) *OrderService {
	return &OrderService{
		logger:     logger,
		orders:     orders,
		listings:   listings,
		payments:   payments,
		wallets:    wallets,
		transactor: transactor,
		notifier:   notifier,
		currency:   currency,
	}
}

// CreateOrder builds an order from live listings. All items must belong to the
// same seller; the platform fee is rounded down and the seller share is the
// remainder, so the three totals always add up exactly.
func (os *OrderService) CreateOrder(ctx context.Context, buyerID string, items []ports.OrderItemInput) (*entities.Order, error) {
	if buyerID == "" {
		return nil, entities.NewFault(entities.KindValidation, "buyer id is required")
	}
	if len(items) == 0 {
		return nil, entities.NewFault(entities.KindValidation, "order needs at least one item")
	}

	var (
		sellerID   string
		totalCents int64
		feeCents   int64
		orderItems = make([]entities.OrderItem, 0, len(items))
	)

	for _, item := range items {
		listing, err := os.listings.FindLive(ctx, item.ListingID)
		if err != nil {
			return nil, fmt.Errorf("failed to find listing: %w", err)
		}
		if listing == nil {
			return nil, entities.NewFault(entities.KindValidation, "listing %d is not available", item.ListingID)
		}

		if sellerID == "" {
			sellerID = listing.SellerID
		} else if sellerID != listing.SellerID {
			return nil, entities.NewFault(entities.KindValidation, "all items must belong to one seller")
		}

		quantity := item.Quantity
		if quantity <= 0 {
			quantity = 1
		}

		lineTotal := listing.PriceCents * int64(quantity)
		totalCents += lineTotal
		feeCents += int64(math.Floor(float64(lineTotal) * listing.PlatformSplit))

		orderItems = append(orderItems, entities.OrderItem{
			ListingID:  listing.ID,
			PriceCents: listing.PriceCents,
			Quantity:   quantity,
		})
	}

	if buyerID == sellerID {
		return nil, entities.NewFault(entities.KindValidation, "buyer cannot purchase own listings")
	}

	order := &entities.Order{
		OrderNo:           newOrderNo(),
		BuyerID:           buyerID,
		SellerID:          sellerID,
		TotalAmountCents:  totalCents,
		PlatformFeeCents:  feeCents,
		SellerAmountCents: totalCents - feeCents,
		Currency:          os.currency,
		Status:            entities.OrderCreated,
		PaymentStatus:     entities.PaymentStatusPending,
	}

	err := os.transactor.WithinTransaction(ctx, func(ctx context.Context) error {
		return os.orders.Create(ctx, order, orderItems)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	os.logger.Info("Order created",
		"order_no", order.OrderNo, "buyer_id", buyerID, "seller_id", sellerID, "total_cents", totalCents)

	os.notify(ctx, sellerID, "New order", fmt.Sprintf("Order %s awaits payment", order.OrderNo), ports.NotifyInfo)

	return order, nil
}

// InitiatePayment opens a pending payment attempt for an unpaid order.
// Calling it again before the attempt resolves returns the same attempt.
func (os *OrderService) InitiatePayment(ctx context.Context, orderID int64, provider string) (*entities.Payment, error) {
	if provider == "" {
		return nil, entities.NewFault(entities.KindValidation, "payment provider is required")
	}

	var payment *entities.Payment

	err := os.transactor.WithinTransaction(ctx, func(ctx context.Context) error {
		order, err := os.orders.FindByIDForUpdate(ctx, orderID)
		if err != nil {
			return fmt.Errorf("failed to find order: %w", err)
		}
		if order == nil {
			return entities.NewFault(entities.KindNotFound, "order %d not found", orderID)
		}
		if order.Status != entities.OrderCreated {
			return entities.NewFault(entities.KindInvalidState, "order %d is %s, cannot pay", orderID, order.Status)
		}

		payment, err = os.payments.FindPendingByOrder(ctx, orderID)
		if err != nil {
			return fmt.Errorf("failed to find pending payment: %w", err)
		}
		if payment != nil {
			return nil
		}

		payment = &entities.Payment{
			OrderID:       orderID,
			Provider:      provider,
			TransactionID: newTransactionID(),
			AmountCents:   order.TotalAmountCents,
			Status:        entities.PaymentStatusPending,
		}
		if err = os.payments.Insert(ctx, payment); err != nil {
			return fmt.Errorf("failed to insert payment: %w", err)
		}

		os.logger.Info("Payment initiated",
			"order_id", orderID, "transaction_id", payment.TransactionID, "provider", provider)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return payment, nil
}

// ApplyPaymentCallback applies a provider callback to the payment attempt and
// its order. A repeated success callback is acknowledged without side effects;
// an amount that disagrees with the attempt is rejected before anything moves.
func (os *OrderService) ApplyPaymentCallback(ctx context.Context, transactionID, status string, amountCents int64) (*entities.Order, error) {
	if status != string(entities.PaymentStatusSuccess) && status != string(entities.PaymentStatusFailed) {
		return nil, entities.NewFault(entities.KindValidation, "unknown callback status %q", status)
	}

	var (
		order    *entities.Order
		notified bool
	)

	err := os.transactor.WithinTransaction(ctx, func(ctx context.Context) error {
		payment, err := os.payments.FindByTransactionIDForUpdate(ctx, transactionID)
		if err != nil {
			return fmt.Errorf("failed to find payment: %w", err)
		}
		if payment == nil {
			return entities.NewFault(entities.KindNotFound, "transaction %s not found", transactionID)
		}

		if amountCents != payment.AmountCents {
			return entities.NewFault(entities.KindAmountMismatch,
				"callback amount %d does not match transaction amount %d", amountCents, payment.AmountCents)
		}

		if payment.Status == entities.PaymentStatusSuccess {
			// Already applied, acknowledge and do nothing.
			order, err = os.orders.FindByID(ctx, payment.OrderID)
			if err != nil {
				return fmt.Errorf("failed to find order: %w", err)
			}
			os.logger.Info("Callback replay ignored", "transaction_id", transactionID)
			return nil
		}
		if payment.Status == entities.PaymentStatusFailed {
			return entities.NewFault(entities.KindInvalidState, "transaction %s already resolved as failed", transactionID)
		}

		order, err = os.orders.FindByIDForUpdate(ctx, payment.OrderID)
		if err != nil {
			return fmt.Errorf("failed to find order: %w", err)
		}
		if order == nil {
			return fmt.Errorf("payment %d references missing order %d", payment.ID, payment.OrderID)
		}

		now := time.Now()

		if status == string(entities.PaymentStatusFailed) {
			if err = os.payments.MarkFailed(ctx, payment.ID); err != nil {
				return fmt.Errorf("failed to mark payment failed: %w", err)
			}
			if err = os.orders.MarkPaymentFailed(ctx, order.ID); err != nil {
				return fmt.Errorf("failed to mark order payment failed: %w", err)
			}
			order.PaymentStatus = entities.PaymentStatusFailed
			os.logger.Info("Payment failed", "transaction_id", transactionID, "order_id", order.ID)
			return nil
		}

		if order.Status != entities.OrderCreated {
			return entities.NewFault(entities.KindInvalidState, "order %d is %s, cannot apply payment", order.ID, order.Status)
		}

		if err = os.payments.MarkSuccess(ctx, payment.ID, now); err != nil {
			return fmt.Errorf("failed to mark payment success: %w", err)
		}
		if err = os.orders.MarkPaid(ctx, order.ID, now); err != nil {
			return fmt.Errorf("failed to mark order paid: %w", err)
		}
		if err = os.wallets.CreditSale(ctx, order.SellerID, order.ID, order.SellerAmountCents); err != nil {
			return fmt.Errorf("failed to credit sale: %w", err)
		}

		order.Status = entities.OrderPaid
		order.PaymentStatus = entities.PaymentStatusSuccess
		order.PaidAt = &now
		notified = true

		os.logger.Info("Payment applied",
			"transaction_id", transactionID, "order_id", order.ID, "amount_cents", amountCents)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if notified {
		os.notify(ctx, order.BuyerID, "Payment received", fmt.Sprintf("Order %s is paid", order.OrderNo), ports.NotifySuccess)
		os.notify(ctx, order.SellerID, "Order paid", fmt.Sprintf("Order %s was paid by the buyer", order.OrderNo), ports.NotifySuccess)
	}

	return order, nil
}

func (os *OrderService) MarkDelivered(ctx context.Context, orderID int64) error {
	order, err := os.orders.FindByID(ctx, orderID)
	if err != nil {
		return fmt.Errorf("failed to find order: %w", err)
	}
	if order == nil {
		return entities.NewFault(entities.KindNotFound, "order %d not found", orderID)
	}
	if order.Status != entities.OrderPaid {
		return entities.NewFault(entities.KindInvalidState, "order %d is %s, cannot deliver", orderID, order.Status)
	}

	if err = os.orders.MarkDelivered(ctx, orderID, time.Now()); err != nil {
		return fmt.Errorf("failed to mark order delivered: %w", err)
	}

	os.notify(ctx, order.BuyerID, "Order delivered", fmt.Sprintf("Order %s was delivered", order.OrderNo), ports.NotifyInfo)
	return nil
}

func (os *OrderService) CompleteOrder(ctx context.Context, orderID int64) error {
	order, err := os.orders.FindByID(ctx, orderID)
	if err != nil {
		return fmt.Errorf("failed to find order: %w", err)
	}
	if order == nil {
		return entities.NewFault(entities.KindNotFound, "order %d not found", orderID)
	}
	if order.Status != entities.OrderDelivered {
		return entities.NewFault(entities.KindInvalidState, "order %d is %s, cannot complete", orderID, order.Status)
	}

	if err = os.orders.MarkCompleted(ctx, orderID, time.Now()); err != nil {
		return fmt.Errorf("failed to mark order completed: %w", err)
	}

	os.notify(ctx, order.SellerID, "Order completed", fmt.Sprintf("Order %s was completed by the buyer", order.OrderNo), ports.NotifySuccess)
	return nil
}

// CancelOrder cancels an order that holds no applied money. Paid orders must
// go through the refund flow instead.
func (os *OrderService) CancelOrder(ctx context.Context, orderID int64) error {
	return os.transactor.WithinTransaction(ctx, func(ctx context.Context) error {
		order, err := os.orders.FindByIDForUpdate(ctx, orderID)
		if err != nil {
			return fmt.Errorf("failed to find order: %w", err)
		}
		if order == nil {
			return entities.NewFault(entities.KindNotFound, "order %d not found", orderID)
		}

		// A failed payment leaves the order in created, so created is the
		// only cancellable state; paid money goes through the refund cycle.
		if order.Status != entities.OrderCreated {
			return entities.NewFault(entities.KindInvalidState, "order %d is %s, cannot cancel", orderID, order.Status)
		}

		if err = os.orders.MarkCancelled(ctx, orderID); err != nil {
			return fmt.Errorf("failed to mark order cancelled: %w", err)
		}

		os.logger.Info("Order cancelled", "order_id", orderID)
		return nil
	})
}

func (os *OrderService) GetOrder(ctx context.Context, orderID int64) (*entities.Order, error) {
	order, err := os.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to find order: %w", err)
	}
	if order == nil {
		return nil, entities.NewFault(entities.KindNotFound, "order %d not found", orderID)
	}
	return order, nil
}

func (os *OrderService) ListUserOrders(ctx context.Context, userID, role string, status entities.OrderStatus, limit, offset int) ([]entities.Order, error) {
	if role != "buyer" && role != "seller" {
		return nil, entities.NewFault(entities.KindValidation, "role must be buyer or seller, got %q", role)
	}
	return os.orders.List(ctx, userID, role, status, limit, offset)
}

// ExpireStaleOrders cancels unpaid orders older than the given age.
func (os *OrderService) ExpireStaleOrders(ctx context.Context, olderThan time.Duration) (int64, error) {
	return os.orders.ExpireCreatedBefore(ctx, time.Now().Add(-olderThan))
}

func (os *OrderService) notify(ctx context.Context, userID, title, content, ntype string) {
	if err := os.notifier.Notify(ctx, userID, title, content, ntype, ports.ChannelInbox); err != nil {
		os.logger.Warn("Failed to send notification", "error", err, "user_id", userID, "title", title)
	}
}

func newOrderNo() string {
	return "ORD" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:19]
}

func newTransactionID() string {
	return "TXN" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:19]
}
