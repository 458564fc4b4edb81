package usecases

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sand/netdisk-market-ledger/backend/internal/core/ports"
	"github.com/sand/netdisk-market-ledger/backend/internal/entities"
)

type RefundsRepository interface {
	Insert(ctx context.Context, refund *entities.RefundRequest) error
	FindByID(ctx context.Context, refundID int64) (*entities.RefundRequest, error)
	FindByIDForUpdate(ctx context.Context, refundID int64) (*entities.RefundRequest, error)
	HasActive(ctx context.Context, orderID int64) (bool, error)
	UpdateReview(ctx context.Context, refundID int64, reviewerID string, status entities.RefundStatus, remark string) error
	MarkProcessed(ctx context.Context, refundID int64, operatorID, remark string, at time.Time) error
	ListByStatus(ctx context.Context, status entities.RefundStatus, limit, offset int) ([]entities.RefundRequest, error)
}

// RefundOrdersRepository is the slice of order storage the refund flow uses.
type RefundOrdersRepository interface {
	FindByID(ctx context.Context, orderID int64) (*entities.Order, error)
	FindByIDForUpdate(ctx context.Context, orderID int64) (*entities.Order, error)
	MarkRefunded(ctx context.Context, orderID int64, at time.Time) error
}

// RefundWalletMover moves refund money between the two wallets.
type RefundWalletMover interface {
	RefundOut(ctx context.Context, sellerID string, refundID int64, amountCents int64, remark string) error
	RefundIn(ctx context.Context, buyerID string, refundID int64, amountCents int64, remark string) error
}

// RefundService runs the request → review → process cycle. Money moves only
// at processing time, atomically with the order flip to refunded.
type RefundService struct {
	logger     *slog.Logger
	refunds    RefundsRepository
	orders     RefundOrdersRepository
	wallets    RefundWalletMover
	transactor ports.Transactor
	notifier   ports.NotificationDispatcher
}

func NewRefundService(
	logger *slog.Logger,
	refunds RefundsRepository,
	orders RefundOrdersRepository,
	wallets RefundWalletMover,
	transactor ports.Transactor,
	notifier ports.NotificationDispatcher,
) *RefundService {
	return &RefundService{
		logger:     logger,
		refunds:    refunds,
		orders:     orders,
		wallets:    wallets,
		transactor: transactor,
		notifier:   notifier,
	}
}

// ApplyRefund opens a refund request for the full order amount. Only the
// buyer may apply, only for an order whose money has moved, and only while no
// other pending or approved request exists for it.
func (rs *RefundService) ApplyRefund(ctx context.Context, orderID int64, buyerID, reason string) (*entities.RefundRequest, error) {
	if reason == "" {
		return nil, entities.NewFault(entities.KindValidation, "refund reason is required")
	}

	var refund *entities.RefundRequest

	err := rs.transactor.WithinTransaction(ctx, func(ctx context.Context) error {
		order, err := rs.orders.FindByIDForUpdate(ctx, orderID)
		if err != nil {
			return fmt.Errorf("failed to find order: %w", err)
		}
		if order == nil {
			return entities.NewFault(entities.KindNotFound, "order %d not found", orderID)
		}
		if order.BuyerID != buyerID {
			return entities.NewFault(entities.KindForbidden, "order %d does not belong to user %s", orderID, buyerID)
		}

		switch order.Status {
		case entities.OrderPaid, entities.OrderDelivered, entities.OrderCompleted:
		default:
			return entities.NewFault(entities.KindInvalidState, "order %d is %s, cannot refund", orderID, order.Status)
		}

		active, err := rs.refunds.HasActive(ctx, orderID)
		if err != nil {
			return fmt.Errorf("failed to check active refunds: %w", err)
		}
		if active {
			return entities.NewFault(entities.KindConflict, "order %d already has an open refund request", orderID)
		}

		refund = &entities.RefundRequest{
			OrderID:     orderID,
			BuyerID:     order.BuyerID,
			SellerID:    order.SellerID,
			AmountCents: order.TotalAmountCents,
			Reason:      reason,
			Status:      entities.RefundPending,
		}
		if err = rs.refunds.Insert(ctx, refund); err != nil {
			return fmt.Errorf("failed to insert refund: %w", err)
		}

		rs.logger.Info("Refund requested", "refund_id", refund.ID, "order_id", orderID, "buyer_id", buyerID)
		return nil
	})
	if err != nil {
		return nil, err
	}

	rs.notify(ctx, refund.SellerID, "Refund requested",
		fmt.Sprintf("A refund was requested for order %d", orderID), ports.NotifyWarning)

	return refund, nil
}

// ReviewRefund moves a pending request to approved or rejected.
func (rs *RefundService) ReviewRefund(ctx context.Context, refundID int64, reviewerID string, status entities.RefundStatus, remark string) error {
	if reviewerID == "" {
		return entities.NewFault(entities.KindForbidden, "reviewer identity is required")
	}
	if status != entities.RefundApproved && status != entities.RefundRejected {
		return entities.NewFault(entities.KindValidation, "review status must be approved or rejected, got %q", status)
	}

	var refund *entities.RefundRequest

	err := rs.transactor.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		refund, err = rs.refunds.FindByIDForUpdate(ctx, refundID)
		if err != nil {
			return fmt.Errorf("failed to find refund: %w", err)
		}
		if refund == nil {
			return entities.NewFault(entities.KindNotFound, "refund %d not found", refundID)
		}
		if refund.Status != entities.RefundPending {
			return entities.NewFault(entities.KindInvalidState, "refund %d is %s, cannot review", refundID, refund.Status)
		}

		if err = rs.refunds.UpdateReview(ctx, refundID, reviewerID, status, remark); err != nil {
			return fmt.Errorf("failed to update refund review: %w", err)
		}

		rs.logger.Info("Refund reviewed", "refund_id", refundID, "status", status, "reviewer_id", reviewerID)
		return nil
	})
	if err != nil {
		return err
	}

	ntype := ports.NotifySuccess
	if status == entities.RefundRejected {
		ntype = ports.NotifyWarning
	}
	rs.notify(ctx, refund.BuyerID, "Refund "+string(status),
		fmt.Sprintf("Your refund request for order %d was %s", refund.OrderID, status), ntype)
	rs.notify(ctx, refund.SellerID, "Refund "+string(status),
		fmt.Sprintf("The refund request for order %d was %s", refund.OrderID, status), ports.NotifyInfo)

	return nil
}

// ProcessRefund executes an approved refund: the seller is debited their
// share, the buyer is credited the full amount, and the order flips to
// refunded. All of it commits or none of it does.
func (rs *RefundService) ProcessRefund(ctx context.Context, refundID int64, operatorID, remark string) error {
	if operatorID == "" {
		return entities.NewFault(entities.KindForbidden, "operator identity is required")
	}

	var refund *entities.RefundRequest

	err := rs.transactor.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		refund, err = rs.refunds.FindByIDForUpdate(ctx, refundID)
		if err != nil {
			return fmt.Errorf("failed to find refund: %w", err)
		}
		if refund == nil {
			return entities.NewFault(entities.KindNotFound, "refund %d not found", refundID)
		}
		if refund.Status != entities.RefundApproved {
			return entities.NewFault(entities.KindInvalidState, "refund %d is %s, cannot process", refundID, refund.Status)
		}

		order, err := rs.orders.FindByIDForUpdate(ctx, refund.OrderID)
		if err != nil {
			return fmt.Errorf("failed to find order: %w", err)
		}
		if order == nil {
			return fmt.Errorf("refund %d references missing order %d", refundID, refund.OrderID)
		}

		logRemark := "refund of order " + order.OrderNo
		if err = rs.wallets.RefundOut(ctx, refund.SellerID, refundID, order.SellerAmountCents, logRemark); err != nil {
			return err
		}
		if err = rs.wallets.RefundIn(ctx, refund.BuyerID, refundID, refund.AmountCents, logRemark); err != nil {
			return err
		}

		now := time.Now()
		if err = rs.orders.MarkRefunded(ctx, order.ID, now); err != nil {
			return fmt.Errorf("failed to mark order refunded: %w", err)
		}
		if err = rs.refunds.MarkProcessed(ctx, refundID, operatorID, remark, now); err != nil {
			return fmt.Errorf("failed to mark refund processed: %w", err)
		}

		rs.logger.Info("Refund processed",
			"refund_id", refundID, "order_id", order.ID, "amount_cents", refund.AmountCents, "operator_id", operatorID)
		return nil
	})
	if err != nil {
		return err
	}

	rs.notify(ctx, refund.BuyerID, "Refund processed",
		fmt.Sprintf("Your refund for order %d was paid back to your wallet", refund.OrderID), ports.NotifySuccess)
	rs.notify(ctx, refund.SellerID, "Refund processed",
		fmt.Sprintf("Order %d was refunded to the buyer", refund.OrderID), ports.NotifyInfo)

	return nil
}

func (rs *RefundService) GetRefund(ctx context.Context, refundID int64) (*entities.RefundRequest, error) {
	refund, err := rs.refunds.FindByID(ctx, refundID)
	if err != nil {
		return nil, fmt.Errorf("failed to find refund: %w", err)
	}
	if refund == nil {
		return nil, entities.NewFault(entities.KindNotFound, "refund %d not found", refundID)
	}
	return refund, nil
}

func (rs *RefundService) ListRefunds(ctx context.Context, status entities.RefundStatus, limit, offset int) ([]entities.RefundRequest, error) {
	return rs.refunds.ListByStatus(ctx, status, limit, offset)
}

func (rs *RefundService) notify(ctx context.Context, userID, title, content, ntype string) {
	if err := rs.notifier.Notify(ctx, userID, title, content, ntype, ports.ChannelInbox); err != nil {
		rs.logger.Warn("Failed to send notification", "error", err, "user_id", userID, "title", title)
	}
}
