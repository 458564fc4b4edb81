package usecases

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/sand/netdisk-market-ledger/backend/internal/core/ports"
	"github.com/sand/netdisk-market-ledger/backend/internal/entities"
)

type WalletsRepository interface {
	Find(ctx context.Context, userID string) (*entities.Wallet, error)
	FindForUpdate(ctx context.Context, userID string) (*entities.Wallet, error)
	CreateIfAbsent(ctx context.Context, userID string) error
	UpdateBalances(ctx context.Context, userID string, balanceCents, pendingCents int64) error
	AppendLog(ctx context.Context, log *entities.WalletLog) error
	HasLog(ctx context.Context, userID string, logType entities.WalletLogType, referenceID string) (bool, error)
	FindLogs(ctx context.Context, userID string, limit int) ([]entities.WalletLog, error)
}

// SettlementOrdersRepository is the read side the settlement pass needs.
type SettlementOrdersRepository interface {
	FindByID(ctx context.Context, orderID int64) (*entities.Order, error)
	FindUnsettled(ctx context.Context, paidBefore time.Time, limit int) ([]entities.Order, error)
}

const settlementBatchSize = 100

// WalletService is the only code path that mutates wallet balances. Every
// mutation runs inside a transaction, takes a row lock on the wallet, and
// appends exactly one wallet log entry alongside the balance update.
type WalletService struct {
	logger     *slog.Logger
	wallets    WalletsRepository
	orders     SettlementOrdersRepository
	transactor ports.Transactor
}

func NewWalletService(logger *slog.Logger, wallets WalletsRepository, orders SettlementOrdersRepository, transactor ports.Transactor) *WalletService {
	return &WalletService{
		logger:     logger,
		wallets:    wallets,
		orders:     orders,
		transactor: transactor,
	}
}

func (ws *WalletService) GetWallet(ctx context.Context, userID string) (*entities.Wallet, error) {
	wallet, err := ws.wallets.Find(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find wallet: %w", err)
	}

	if wallet == nil {
		if err = ws.wallets.CreateIfAbsent(ctx, userID); err != nil {
			return nil, fmt.Errorf("failed to create wallet: %w", err)
		}
		return &entities.Wallet{UserID: userID}, nil
	}

	return wallet, nil
}

func (ws *WalletService) GetWalletLogs(ctx context.Context, userID string, limit int) ([]entities.WalletLog, error) {
	return ws.wallets.FindLogs(ctx, userID, limit)
}

// CreditSale accrues a seller's share of a paid order into pending
// settlement. Idempotent on (seller, order): a repeated call for the same
// order is a no-op.
func (ws *WalletService) CreditSale(ctx context.Context, sellerID string, orderID int64, amountCents int64) error {
	if amountCents <= 0 {
		return entities.NewFault(entities.KindValidation, "sale amount must be positive, got %d", amountCents)
	}

	reference := orderReference(orderID)

	return ws.transactor.WithinTransaction(ctx, func(ctx context.Context) error {
		wallet, err := ws.wallets.FindForUpdate(ctx, sellerID)
		if err != nil {
			return fmt.Errorf("failed to lock wallet: %w", err)
		}

		applied, err := ws.wallets.HasLog(ctx, sellerID, entities.LogSale, reference)
		if err != nil {
			return fmt.Errorf("failed to check sale log: %w", err)
		}
		if applied {
			ws.logger.Info("Sale already credited", "seller_id", sellerID, "order_id", orderID)
			return nil
		}

		pending := wallet.PendingSettlementCents + amountCents
		if err = ws.wallets.UpdateBalances(ctx, sellerID, wallet.BalanceCents, pending); err != nil {
			return fmt.Errorf("failed to update wallet: %w", err)
		}

		err = ws.wallets.AppendLog(ctx, &entities.WalletLog{
			UserID:       sellerID,
			ChangeCents:  amountCents,
			BalanceAfter: pending,
			Type:         entities.LogSale,
			ReferenceID:  reference,
			Remark:       "sale proceeds pending settlement",
		})
		if err != nil {
			return fmt.Errorf("failed to append sale log: %w", err)
		}

		ws.logger.Info("Sale credited", "seller_id", sellerID, "order_id", orderID, "amount_cents", amountCents)
		return nil
	})
}

// SettleOrder moves one order's seller share from pending settlement into the
// withdrawable balance. Idempotent on (seller, order).
func (ws *WalletService) SettleOrder(ctx context.Context, orderID int64) error {
	return ws.transactor.WithinTransaction(ctx, func(ctx context.Context) error {
		order, err := ws.orders.FindByID(ctx, orderID)
		if err != nil {
			return fmt.Errorf("failed to find order: %w", err)
		}
		if order == nil {
			return entities.NewFault(entities.KindNotFound, "order %d not found", orderID)
		}

		switch order.Status {
		case entities.OrderPaid, entities.OrderDelivered, entities.OrderCompleted:
		default:
			return entities.NewFault(entities.KindInvalidState, "order %d is %s, nothing to settle", orderID, order.Status)
		}

		wallet, err := ws.wallets.FindForUpdate(ctx, order.SellerID)
		if err != nil {
			return fmt.Errorf("failed to lock wallet: %w", err)
		}

		reference := orderReference(orderID)

		settled, err := ws.wallets.HasLog(ctx, order.SellerID, entities.LogSettlement, reference)
		if err != nil {
			return fmt.Errorf("failed to check settlement log: %w", err)
		}
		if settled {
			return nil
		}

		amount := order.SellerAmountCents
		if wallet.PendingSettlementCents < amount {
			return entities.NewFault(entities.KindInvalidState,
				"pending settlement %d below order share %d for seller %s",
				wallet.PendingSettlementCents, amount, order.SellerID)
		}

		balance := wallet.BalanceCents + amount
		pending := wallet.PendingSettlementCents - amount
		if err = ws.wallets.UpdateBalances(ctx, order.SellerID, balance, pending); err != nil {
			return fmt.Errorf("failed to update wallet: %w", err)
		}

		err = ws.wallets.AppendLog(ctx, &entities.WalletLog{
			UserID:       order.SellerID,
			ChangeCents:  amount,
			BalanceAfter: balance,
			Type:         entities.LogSettlement,
			ReferenceID:  reference,
			Remark:       "settlement of order " + order.OrderNo,
		})
		if err != nil {
			return fmt.Errorf("failed to append settlement log: %w", err)
		}

		ws.logger.Info("Order settled", "order_id", orderID, "seller_id", order.SellerID, "amount_cents", amount)
		return nil
	})
}

// SettleEligibleOrders settles every paid order whose payment is older than
// the hold period. Failures on individual orders are logged and skipped so one
// bad order cannot stall the rest of the batch.
func (ws *WalletService) SettleEligibleOrders(ctx context.Context, holdPeriod time.Duration) (int, error) {
	cutoff := time.Now().Add(-holdPeriod)

	orders, err := ws.orders.FindUnsettled(ctx, cutoff, settlementBatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to find unsettled orders: %w", err)
	}

	var settled int
	for _, order := range orders {
		if err := ws.SettleOrder(ctx, order.ID); err != nil {
			ws.logger.Error("Failed to settle order", "error", err, "order_id", order.ID)
			continue
		}
		settled++
	}

	return settled, nil
}

// RefundOut debits the seller for a processed refund. The debit drains
// pending settlement first and only then touches the withdrawable balance.
func (ws *WalletService) RefundOut(ctx context.Context, sellerID string, refundID int64, amountCents int64, remark string) error {
	if amountCents <= 0 {
		return entities.NewFault(entities.KindValidation, "refund debit must be positive, got %d", amountCents)
	}

	return ws.transactor.WithinTransaction(ctx, func(ctx context.Context) error {
		wallet, err := ws.wallets.FindForUpdate(ctx, sellerID)
		if err != nil {
			return fmt.Errorf("failed to lock wallet: %w", err)
		}

		if wallet.PendingSettlementCents+wallet.BalanceCents < amountCents {
			return entities.NewFault(entities.KindInsufficientFunds,
				"seller %s holds %d, refund needs %d",
				sellerID, wallet.PendingSettlementCents+wallet.BalanceCents, amountCents)
		}

		fromPending := min(wallet.PendingSettlementCents, amountCents)
		pending := wallet.PendingSettlementCents - fromPending
		balance := wallet.BalanceCents - (amountCents - fromPending)

		if err = ws.wallets.UpdateBalances(ctx, sellerID, balance, pending); err != nil {
			return fmt.Errorf("failed to update wallet: %w", err)
		}

		err = ws.wallets.AppendLog(ctx, &entities.WalletLog{
			UserID:       sellerID,
			ChangeCents:  -amountCents,
			BalanceAfter: balance,
			Type:         entities.LogRefundOut,
			ReferenceID:  refundReference(refundID),
			Remark:       remark,
		})
		if err != nil {
			return fmt.Errorf("failed to append refund_out log: %w", err)
		}

		ws.logger.Info("Refund debited from seller", "seller_id", sellerID, "refund_id", refundID, "amount_cents", amountCents)
		return nil
	})
}

// RefundIn credits the buyer with the refunded money.
func (ws *WalletService) RefundIn(ctx context.Context, buyerID string, refundID int64, amountCents int64, remark string) error {
	if amountCents <= 0 {
		return entities.NewFault(entities.KindValidation, "refund credit must be positive, got %d", amountCents)
	}

	return ws.transactor.WithinTransaction(ctx, func(ctx context.Context) error {
		wallet, err := ws.wallets.FindForUpdate(ctx, buyerID)
		if err != nil {
			return fmt.Errorf("failed to lock wallet: %w", err)
		}

		balance := wallet.BalanceCents + amountCents
		if err = ws.wallets.UpdateBalances(ctx, buyerID, balance, wallet.PendingSettlementCents); err != nil {
			return fmt.Errorf("failed to update wallet: %w", err)
		}

		err = ws.wallets.AppendLog(ctx, &entities.WalletLog{
			UserID:       buyerID,
			ChangeCents:  amountCents,
			BalanceAfter: balance,
			Type:         entities.LogRefundIn,
			ReferenceID:  refundReference(refundID),
			Remark:       remark,
		})
		if err != nil {
			return fmt.Errorf("failed to append refund_in log: %w", err)
		}

		ws.logger.Info("Refund credited to buyer", "buyer_id", buyerID, "refund_id", refundID, "amount_cents", amountCents)
		return nil
	})
}

// FreezePayout removes the requested amount from the withdrawable balance
// while the payout awaits review.
func (ws *WalletService) FreezePayout(ctx context.Context, userID string, payoutID int64, amountCents int64) error {
	if amountCents <= 0 {
		return entities.NewFault(entities.KindValidation, "payout amount must be positive, got %d", amountCents)
	}

	return ws.transactor.WithinTransaction(ctx, func(ctx context.Context) error {
		wallet, err := ws.wallets.FindForUpdate(ctx, userID)
		if err != nil {
			return fmt.Errorf("failed to lock wallet: %w", err)
		}

		if wallet.BalanceCents < amountCents {
			return entities.NewFault(entities.KindInsufficientFunds,
				"balance %d below payout amount %d for user %s", wallet.BalanceCents, amountCents, userID)
		}

		balance := wallet.BalanceCents - amountCents
		if err = ws.wallets.UpdateBalances(ctx, userID, balance, wallet.PendingSettlementCents); err != nil {
			return fmt.Errorf("failed to update wallet: %w", err)
		}

		err = ws.wallets.AppendLog(ctx, &entities.WalletLog{
			UserID:       userID,
			ChangeCents:  -amountCents,
			BalanceAfter: balance,
			Type:         entities.LogPayoutFreeze,
			ReferenceID:  payoutReference(payoutID),
			Remark:       "payout requested, funds frozen",
		})
		if err != nil {
			return fmt.Errorf("failed to append payout_freeze log: %w", err)
		}

		ws.logger.Info("Payout frozen", "user_id", userID, "payout_id", payoutID, "amount_cents", amountCents)
		return nil
	})
}

// ReleasePayout reverses a freeze after a payout is rejected.
func (ws *WalletService) ReleasePayout(ctx context.Context, userID string, payoutID int64, amountCents int64) error {
	if amountCents <= 0 {
		return entities.NewFault(entities.KindValidation, "payout amount must be positive, got %d", amountCents)
	}

	return ws.transactor.WithinTransaction(ctx, func(ctx context.Context) error {
		wallet, err := ws.wallets.FindForUpdate(ctx, userID)
		if err != nil {
			return fmt.Errorf("failed to lock wallet: %w", err)
		}

		balance := wallet.BalanceCents + amountCents
		if err = ws.wallets.UpdateBalances(ctx, userID, balance, wallet.PendingSettlementCents); err != nil {
			return fmt.Errorf("failed to update wallet: %w", err)
		}

		err = ws.wallets.AppendLog(ctx, &entities.WalletLog{
			UserID:       userID,
			ChangeCents:  amountCents,
			BalanceAfter: balance,
			Type:         entities.LogPayoutReject,
			ReferenceID:  payoutReference(payoutID),
			Remark:       "payout rejected, freeze released",
		})
		if err != nil {
			return fmt.Errorf("failed to append payout_reject log: %w", err)
		}

		ws.logger.Info("Payout released", "user_id", userID, "payout_id", payoutID, "amount_cents", amountCents)
		return nil
	})
}

// MarkPayoutPaid records that frozen funds left the platform. The balance was
// already debited at freeze time, so the entry carries a zero change.
func (ws *WalletService) MarkPayoutPaid(ctx context.Context, userID string, payoutID int64, amountCents int64) error {
	return ws.transactor.WithinTransaction(ctx, func(ctx context.Context) error {
		wallet, err := ws.wallets.FindForUpdate(ctx, userID)
		if err != nil {
			return fmt.Errorf("failed to lock wallet: %w", err)
		}

		err = ws.wallets.AppendLog(ctx, &entities.WalletLog{
			UserID:       userID,
			ChangeCents:  0,
			BalanceAfter: wallet.BalanceCents,
			Type:         entities.LogPayoutPaid,
			ReferenceID:  payoutReference(payoutID),
			Remark:       fmt.Sprintf("payout of %d cents paid out", amountCents),
		})
		if err != nil {
			return fmt.Errorf("failed to append payout_paid log: %w", err)
		}

		ws.logger.Info("Payout paid", "user_id", userID, "payout_id", payoutID, "amount_cents", amountCents)
		return nil
	})
}

func orderReference(orderID int64) string {
	return "order:" + strconv.FormatInt(orderID, 10)
}

func refundReference(refundID int64) string {
	return "refund:" + strconv.FormatInt(refundID, 10)
}

func payoutReference(payoutID int64) string {
	return "payout:" + strconv.FormatInt(payoutID, 10)
}
