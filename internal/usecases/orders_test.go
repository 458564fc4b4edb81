package usecases

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sand/netdisk-market-ledger/backend/internal/core/ports"
	"github.com/sand/netdisk-market-ledger/backend/internal/entities"
)

func TestCreateOrderComputesSplits(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	env.addListing(1, "seller-1", 500, 0.1)
	env.addListing(2, "seller-1", 300, 0.1)

	order, err := env.orderSvc.CreateOrder(ctx, "buyer-1", []ports.OrderItemInput{
		{ListingID: 1, Quantity: 1},
		{ListingID: 2, Quantity: 2},
	})
	require.NoError(t, err)

	require.Equal(t, int64(1100), order.TotalAmountCents)
	require.Equal(t, order.TotalAmountCents, order.PlatformFeeCents+order.SellerAmountCents)
	require.Equal(t, entities.OrderCreated, order.Status)
	require.Equal(t, "seller-1", order.SellerID)
	require.NotEmpty(t, order.OrderNo)
	require.Equal(t, "CNY", order.Currency)
}

func TestCreateOrderValidation(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	env.addListing(1, "seller-1", 500, 0.1)
	env.addListing(2, "seller-2", 300, 0.1)

	tests := []struct {
		name    string
		buyerID string
		items   []ports.OrderItemInput
	}{
		{"empty items", "buyer-1", nil},
		{"unknown listing", "buyer-1", orderItems(99)},
		{"mixed sellers", "buyer-1", orderItems(1, 2)},
		{"self purchase", "seller-1", orderItems(1)},
		{"missing buyer", "", orderItems(1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.orderSvc.CreateOrder(ctx, tt.buyerID, tt.items)
			require.True(t, entities.IsFault(err, entities.KindValidation), "got %v", err)
		})
	}
}

func TestInitiatePaymentReturnsSamePendingTransaction(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	env.addListing(1, "seller-1", 500, 0.1)
	order, err := env.orderSvc.CreateOrder(ctx, "buyer-1", orderItems(1))
	require.NoError(t, err)

	first, err := env.orderSvc.InitiatePayment(ctx, order.ID, "alipay")
	require.NoError(t, err)
	require.Equal(t, order.TotalAmountCents, first.AmountCents)

	second, err := env.orderSvc.InitiatePayment(ctx, order.ID, "alipay")
	require.NoError(t, err)
	require.Equal(t, first.TransactionID, second.TransactionID)
}

func TestInitiatePaymentWrongState(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	env.addListing(1, "seller-1", 500, 0.1)
	order, err := env.orderSvc.CreateOrder(ctx, "buyer-1", orderItems(1))
	require.NoError(t, err)
	payOrder(t, env, order.ID)

	_, err = env.orderSvc.InitiatePayment(ctx, order.ID, "alipay")
	require.True(t, entities.IsFault(err, entities.KindInvalidState))
}

func TestApplyPaymentCallbackCreditsSellerOnce(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	env.addListing(1, "seller-1", 500, 0.1)
	order, err := env.orderSvc.CreateOrder(ctx, "buyer-1", orderItems(1))
	require.NoError(t, err)
	require.Equal(t, int64(450), order.SellerAmountCents)

	payment, err := env.orderSvc.InitiatePayment(ctx, order.ID, "alipay")
	require.NoError(t, err)

	// Flaky provider delivers the callback twice.
	for range 2 {
		got, cbErr := env.orderSvc.ApplyPaymentCallback(ctx, payment.TransactionID,
			string(entities.PaymentStatusSuccess), 500)
		require.NoError(t, cbErr)
		require.Equal(t, order.ID, got.ID)
	}

	wallet, err := env.walletSvc.GetWallet(ctx, "seller-1")
	require.NoError(t, err)
	require.Equal(t, int64(450), wallet.PendingSettlementCents)
	require.Len(t, env.wallets.userLogs("seller-1", entities.LogSale), 1)

	stored, err := env.orderSvc.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, entities.OrderPaid, stored.Status)
	require.NotNil(t, stored.PaidAt)
}

func TestApplyPaymentCallbackAmountMismatch(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	env.addListing(1, "seller-1", 500, 0.1)
	order, err := env.orderSvc.CreateOrder(ctx, "buyer-1", orderItems(1))
	require.NoError(t, err)

	payment, err := env.orderSvc.InitiatePayment(ctx, order.ID, "alipay")
	require.NoError(t, err)

	_, err = env.orderSvc.ApplyPaymentCallback(ctx, payment.TransactionID,
		string(entities.PaymentStatusSuccess), 499)
	require.True(t, entities.IsFault(err, entities.KindAmountMismatch))

	// Order untouched, no wallet movement.
	stored, err := env.orderSvc.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, entities.OrderCreated, stored.Status)
	require.Empty(t, env.wallets.userLogs("seller-1", entities.LogSale))
}

func TestApplyPaymentCallbackUnknownTransaction(t *testing.T) {
	env := newTestEnv()

	_, err := env.orderSvc.ApplyPaymentCallback(context.Background(), "TXNMISSING",
		string(entities.PaymentStatusSuccess), 500)
	require.True(t, entities.IsFault(err, entities.KindNotFound))
}

func TestApplyPaymentCallbackFailure(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	env.addListing(1, "seller-1", 500, 0.1)
	order, err := env.orderSvc.CreateOrder(ctx, "buyer-1", orderItems(1))
	require.NoError(t, err)

	payment, err := env.orderSvc.InitiatePayment(ctx, order.ID, "alipay")
	require.NoError(t, err)

	got, err := env.orderSvc.ApplyPaymentCallback(ctx, payment.TransactionID,
		string(entities.PaymentStatusFailed), 500)
	require.NoError(t, err)
	require.Equal(t, entities.PaymentStatusFailed, got.PaymentStatus)
	require.Equal(t, entities.OrderCreated, got.Status)
	require.Empty(t, env.wallets.userLogs("seller-1", entities.LogSale))

	// A failed transaction stays failed.
	_, err = env.orderSvc.ApplyPaymentCallback(ctx, payment.TransactionID,
		string(entities.PaymentStatusSuccess), 500)
	require.True(t, entities.IsFault(err, entities.KindInvalidState))
}

func TestOrderLifecycleTransitions(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	env.addListing(1, "seller-1", 500, 0.1)
	order, err := env.orderSvc.CreateOrder(ctx, "buyer-1", orderItems(1))
	require.NoError(t, err)

	// Cannot deliver or complete an unpaid order.
	require.True(t, entities.IsFault(env.orderSvc.MarkDelivered(ctx, order.ID), entities.KindInvalidState))
	require.True(t, entities.IsFault(env.orderSvc.CompleteOrder(ctx, order.ID), entities.KindInvalidState))

	payOrder(t, env, order.ID)

	require.NoError(t, env.orderSvc.MarkDelivered(ctx, order.ID))
	require.NoError(t, env.orderSvc.CompleteOrder(ctx, order.ID))

	stored, err := env.orderSvc.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, entities.OrderCompleted, stored.Status)
	require.NotNil(t, stored.DeliveredAt)
	require.NotNil(t, stored.CompletedAt)
}

func TestCancelOrder(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	env.addListing(1, "seller-1", 500, 0.1)

	order, err := env.orderSvc.CreateOrder(ctx, "buyer-1", orderItems(1))
	require.NoError(t, err)
	require.NoError(t, env.orderSvc.CancelOrder(ctx, order.ID))

	stored, err := env.orderSvc.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, entities.OrderCancelled, stored.Status)

	// A paid order cannot be cancelled, money must travel the refund path.
	paid, err := env.orderSvc.CreateOrder(ctx, "buyer-1", orderItems(1))
	require.NoError(t, err)
	payOrder(t, env, paid.ID)

	err = env.orderSvc.CancelOrder(ctx, paid.ID)
	require.True(t, entities.IsFault(err, entities.KindInvalidState))
}

func TestTransactionRollbackDiscardsOrderItems(t *testing.T) {
	wallets := newFakeWalletStore()
	orders := newFakeOrderStore(wallets)
	transactor := &fakeTransactor{stores: []snapshotter{orders}}

	err := transactor.WithinTransaction(context.Background(), func(ctx context.Context) error {
		order := &entities.Order{BuyerID: "buyer-1", SellerID: "seller-1", Status: entities.OrderCreated}
		items := []entities.OrderItem{{ListingID: 1, PriceCents: 500, Quantity: 1}}
		if err := orders.Create(ctx, order, items); err != nil {
			return err
		}
		return errors.New("forced failure")
	})
	require.Error(t, err)
	require.Empty(t, orders.orders)
	require.Empty(t, orders.items)
}

func TestCancelOrderAfterFailedPayment(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	env.addListing(1, "seller-1", 500, 0.1)
	order, err := env.orderSvc.CreateOrder(ctx, "buyer-1", orderItems(1))
	require.NoError(t, err)

	payment, err := env.orderSvc.InitiatePayment(ctx, order.ID, "test-provider")
	require.NoError(t, err)
	_, err = env.orderSvc.ApplyPaymentCallback(ctx, payment.TransactionID, "failed", payment.AmountCents)
	require.NoError(t, err)

	// The failed payment leaves the order in created, so it stays cancellable.
	stored, err := env.orderSvc.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, entities.OrderCreated, stored.Status)
	require.Equal(t, entities.PaymentStatusFailed, stored.PaymentStatus)

	require.NoError(t, env.orderSvc.CancelOrder(ctx, order.ID))
}

func TestListUserOrders(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	env.addListing(1, "seller-1", 500, 0.1)

	for range 3 {
		_, err := env.orderSvc.CreateOrder(ctx, "buyer-1", orderItems(1))
		require.NoError(t, err)
	}

	asBuyer, err := env.orderSvc.ListUserOrders(ctx, "buyer-1", "buyer", "", 10, 0)
	require.NoError(t, err)
	require.Len(t, asBuyer, 3)

	asSeller, err := env.orderSvc.ListUserOrders(ctx, "seller-1", "seller", "", 10, 0)
	require.NoError(t, err)
	require.Len(t, asSeller, 3)

	_, err = env.orderSvc.ListUserOrders(ctx, "buyer-1", "admin", "", 10, 0)
	require.True(t, entities.IsFault(err, entities.KindValidation))
}
