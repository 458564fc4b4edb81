package usecases

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.openly.dev/pointy"

	"github.com/sand/netdisk-market-ledger/backend/internal/core/ports"
	"github.com/sand/netdisk-market-ledger/backend/internal/entities"
)

type PayoutsRepository interface {
	Insert(ctx context.Context, payout *entities.PayoutRequest) error
	FindByIDForUpdate(ctx context.Context, payoutID int64) (*entities.PayoutRequest, error)
	HasPending(ctx context.Context, userID string) (bool, error)
	UpdateReview(ctx context.Context, payoutID int64, reviewerID string, status entities.PayoutStatus, remark string, at time.Time) error
	ListByStatus(ctx context.Context, status entities.PayoutStatus, limit, offset int) ([]entities.PayoutRequest, error)
}

// PayoutWalletMover covers the wallet side of the payout lifecycle.
type PayoutWalletMover interface {
	FreezePayout(ctx context.Context, userID string, payoutID int64, amountCents int64) error
	ReleasePayout(ctx context.Context, userID string, payoutID int64, amountCents int64) error
	MarkPayoutPaid(ctx context.Context, userID string, payoutID int64, amountCents int64) error
}

// PayoutService handles withdrawal requests. Funds are frozen in the same
// transaction that records the request, so an insufficient balance leaves no
// request row behind.
type PayoutService struct {
	logger     *slog.Logger
	payouts    PayoutsRepository
	wallets    PayoutWalletMover
	transactor ports.Transactor
	notifier   ports.NotificationDispatcher
}

func NewPayoutService(
	logger *slog.Logger,
	payouts PayoutsRepository,
	wallets PayoutWalletMover,
	transactor ports.Transactor,
	notifier ports.NotificationDispatcher,
) *PayoutService {
	return &PayoutService{
		logger:     logger,
		payouts:    payouts,
		wallets:    wallets,
		transactor: transactor,
		notifier:   notifier,
	}
}

func (ps *PayoutService) CreatePayoutRequest(ctx context.Context, userID string, amountCents int64, method, accountInfo, remark string) (*entities.PayoutRequest, error) {
	if userID == "" {
		return nil, entities.NewFault(entities.KindValidation, "user id is required")
	}
	if amountCents <= 0 {
		return nil, entities.NewFault(entities.KindValidation, "payout amount must be positive, got %d", amountCents)
	}
	if method == "" || accountInfo == "" {
		return nil, entities.NewFault(entities.KindValidation, "payout method and account info are required")
	}

	var payout *entities.PayoutRequest

	err := ps.transactor.WithinTransaction(ctx, func(ctx context.Context) error {
		pending, err := ps.payouts.HasPending(ctx, userID)
		if err != nil {
			return fmt.Errorf("failed to check pending payouts: %w", err)
		}
		if pending {
			return entities.NewFault(entities.KindConflict, "user %s already has a pending payout", userID)
		}

		payout = &entities.PayoutRequest{
			UserID:      userID,
			AmountCents: amountCents,
			Status:      entities.PayoutPending,
			Method:      method,
			AccountInfo: accountInfo,
		}
		if remark != "" {
			payout.Remark = pointy.String(remark)
		}
		if err = ps.payouts.Insert(ctx, payout); err != nil {
			return fmt.Errorf("failed to insert payout: %w", err)
		}

		// Rolls the insert back too when the balance cannot cover it.
		if err = ps.wallets.FreezePayout(ctx, userID, payout.ID, amountCents); err != nil {
			return err
		}

		ps.logger.Info("Payout requested", "payout_id", payout.ID, "user_id", userID, "amount_cents", amountCents)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return payout, nil
}

// ReviewPayoutRequest resolves a pending payout. Paying it finalizes the
// frozen funds; rejecting it releases them back to the balance.
func (ps *PayoutService) ReviewPayoutRequest(ctx context.Context, payoutID int64, reviewerID string, status entities.PayoutStatus, remark string) error {
	if reviewerID == "" {
		return entities.NewFault(entities.KindForbidden, "reviewer identity is required")
	}
	if status != entities.PayoutPaid && status != entities.PayoutRejected {
		return entities.NewFault(entities.KindValidation, "review status must be paid or rejected, got %q", status)
	}

	var payout *entities.PayoutRequest

	err := ps.transactor.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		payout, err = ps.payouts.FindByIDForUpdate(ctx, payoutID)
		if err != nil {
			return fmt.Errorf("failed to find payout: %w", err)
		}
		if payout == nil {
			return entities.NewFault(entities.KindNotFound, "payout %d not found", payoutID)
		}
		if payout.Status != entities.PayoutPending {
			return entities.NewFault(entities.KindInvalidState, "payout %d is %s, cannot review", payoutID, payout.Status)
		}

		if err = ps.payouts.UpdateReview(ctx, payoutID, reviewerID, status, remark, time.Now()); err != nil {
			return fmt.Errorf("failed to update payout review: %w", err)
		}

		if status == entities.PayoutPaid {
			err = ps.wallets.MarkPayoutPaid(ctx, payout.UserID, payoutID, payout.AmountCents)
		} else {
			err = ps.wallets.ReleasePayout(ctx, payout.UserID, payoutID, payout.AmountCents)
		}
		if err != nil {
			return err
		}

		ps.logger.Info("Payout reviewed", "payout_id", payoutID, "status", status, "reviewer_id", reviewerID)
		return nil
	})
	if err != nil {
		return err
	}

	title := "Payout paid"
	content := fmt.Sprintf("Your payout of %d cents was paid out", payout.AmountCents)
	ntype := ports.NotifySuccess
	if status == entities.PayoutRejected {
		title = "Payout rejected"
		content = fmt.Sprintf("Your payout of %d cents was rejected and the funds were returned", payout.AmountCents)
		ntype = ports.NotifyWarning
	}
	if err := ps.notifier.Notify(ctx, payout.UserID, title, content, ntype, ports.ChannelInbox); err != nil {
		ps.logger.Warn("Failed to send notification", "error", err, "user_id", payout.UserID, "title", title)
	}

	return nil
}

func (ps *PayoutService) ListPayouts(ctx context.Context, status entities.PayoutStatus, limit, offset int) ([]entities.PayoutRequest, error) {
	return ps.payouts.ListByStatus(ctx, status, limit, offset)
}
