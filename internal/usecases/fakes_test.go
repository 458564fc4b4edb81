package usecases

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sand/netdisk-market-ledger/backend/internal/core/ports"
	"github.com/sand/netdisk-market-ledger/backend/internal/entities"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// snapshotter lets the fake transactor roll stores back when a transaction
// function fails, mimicking the savepoint behavior of the real transactor.
type snapshotter interface {
	snapshot() any
	restore(any)
}

type fakeTransactor struct {
	stores []snapshotter
}

func (t *fakeTransactor) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	snaps := make([]any, len(t.stores))
	for i, s := range t.stores {
		snaps[i] = s.snapshot()
	}
	if err := fn(ctx); err != nil {
		for i, s := range t.stores {
			s.restore(snaps[i])
		}
		return err
	}
	return nil
}

type fakeNotifier struct {
	mu    sync.Mutex
	sent  []string
	fail  bool
	calls int
}

func (n *fakeNotifier) Notify(_ context.Context, userID, title, _, _, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls++
	if n.fail {
		return io.ErrUnexpectedEOF
	}
	n.sent = append(n.sent, userID+":"+title)
	return nil
}

// fakeWalletStore is an in-memory WalletsRepository.
type fakeWalletStore struct {
	wallets map[string]entities.Wallet
	logs    []entities.WalletLog
	nextLog int64
}

func newFakeWalletStore() *fakeWalletStore {
	return &fakeWalletStore{wallets: make(map[string]entities.Wallet), nextLog: 1}
}

type walletSnapshot struct {
	wallets map[string]entities.Wallet
	logs    []entities.WalletLog
	nextLog int64
}

func (s *fakeWalletStore) snapshot() any {
	wallets := make(map[string]entities.Wallet, len(s.wallets))
	for k, v := range s.wallets {
		wallets[k] = v
	}
	logs := make([]entities.WalletLog, len(s.logs))
	copy(logs, s.logs)
	return walletSnapshot{wallets: wallets, logs: logs, nextLog: s.nextLog}
}

func (s *fakeWalletStore) restore(snap any) {
	ws := snap.(walletSnapshot)
	s.wallets = ws.wallets
	s.logs = ws.logs
	s.nextLog = ws.nextLog
}

func (s *fakeWalletStore) Find(_ context.Context, userID string) (*entities.Wallet, error) {
	w, ok := s.wallets[userID]
	if !ok {
		return nil, nil
	}
	return &w, nil
}

func (s *fakeWalletStore) FindForUpdate(_ context.Context, userID string) (*entities.Wallet, error) {
	w, ok := s.wallets[userID]
	if !ok {
		w = entities.Wallet{UserID: userID}
		s.wallets[userID] = w
	}
	return &w, nil
}

func (s *fakeWalletStore) CreateIfAbsent(_ context.Context, userID string) error {
	if _, ok := s.wallets[userID]; !ok {
		s.wallets[userID] = entities.Wallet{UserID: userID}
	}
	return nil
}

func (s *fakeWalletStore) UpdateBalances(_ context.Context, userID string, balanceCents, pendingCents int64) error {
	w := s.wallets[userID]
	w.UserID = userID
	w.BalanceCents = balanceCents
	w.PendingSettlementCents = pendingCents
	w.UpdatedAt = time.Now()
	s.wallets[userID] = w
	return nil
}

func (s *fakeWalletStore) AppendLog(_ context.Context, log *entities.WalletLog) error {
	log.ID = s.nextLog
	s.nextLog++
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now()
	}
	s.logs = append(s.logs, *log)
	return nil
}

func (s *fakeWalletStore) HasLog(_ context.Context, userID string, logType entities.WalletLogType, referenceID string) (bool, error) {
	for _, l := range s.logs {
		if l.UserID == userID && l.Type == logType && l.ReferenceID == referenceID {
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeWalletStore) FindLogs(_ context.Context, userID string, limit int) ([]entities.WalletLog, error) {
	var out []entities.WalletLog
	for _, l := range s.logs {
		if l.UserID == userID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeWalletStore) userLogs(userID string, logType entities.WalletLogType) []entities.WalletLog {
	var out []entities.WalletLog
	for _, l := range s.logs {
		if l.UserID == userID && (logType == "" || l.Type == logType) {
			out = append(out, l)
		}
	}
	return out
}

// replayWallet rebuilds wallet fields from the append-only log. refund_out
// drains pending settlement before balance, matching the service's debit
// order.
func replayWallet(logs []entities.WalletLog) (balance, pending int64) {
	sort.Slice(logs, func(i, j int) bool { return logs[i].ID < logs[j].ID })
	for _, l := range logs {
		switch l.Type {
		case entities.LogSale:
			pending += l.ChangeCents
		case entities.LogSettlement:
			pending -= l.ChangeCents
			balance += l.ChangeCents
		case entities.LogRefundIn, entities.LogPayoutReject:
			balance += l.ChangeCents
		case entities.LogRefundOut:
			debit := -l.ChangeCents
			fromPending := min(pending, debit)
			pending -= fromPending
			balance -= debit - fromPending
		case entities.LogPayoutFreeze:
			balance += l.ChangeCents
		case entities.LogPayoutPaid:
		}
	}
	return balance, pending
}

// fakeOrderStore is an in-memory OrdersRepository. It borrows the wallet
// store to answer FindUnsettled the way the SQL NOT EXISTS clause does.
type fakeOrderStore struct {
	orders  map[int64]entities.Order
	items   map[int64][]entities.OrderItem
	wallets *fakeWalletStore
	nextID  int64
}

func newFakeOrderStore(wallets *fakeWalletStore) *fakeOrderStore {
	return &fakeOrderStore{
		orders:  make(map[int64]entities.Order),
		items:   make(map[int64][]entities.OrderItem),
		wallets: wallets,
		nextID:  1,
	}
}

type orderSnapshot struct {
	orders map[int64]entities.Order
	items  map[int64][]entities.OrderItem
	nextID int64
}

func (s *fakeOrderStore) snapshot() any {
	orders := make(map[int64]entities.Order, len(s.orders))
	for k, v := range s.orders {
		orders[k] = v
	}
	items := make(map[int64][]entities.OrderItem, len(s.items))
	for k, v := range s.items {
		items[k] = append([]entities.OrderItem(nil), v...)
	}
	return orderSnapshot{orders: orders, items: items, nextID: s.nextID}
}

func (s *fakeOrderStore) restore(snap any) {
	os := snap.(orderSnapshot)
	s.orders = os.orders
	s.items = os.items
	s.nextID = os.nextID
}

func (s *fakeOrderStore) Create(_ context.Context, order *entities.Order, items []entities.OrderItem) error {
	order.ID = s.nextID
	s.nextID++
	order.CreatedAt = time.Now()
	order.UpdatedAt = order.CreatedAt
	s.orders[order.ID] = *order
	s.items[order.ID] = items
	return nil
}

func (s *fakeOrderStore) FindByID(_ context.Context, orderID int64) (*entities.Order, error) {
	o, ok := s.orders[orderID]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (s *fakeOrderStore) FindByIDForUpdate(ctx context.Context, orderID int64) (*entities.Order, error) {
	return s.FindByID(ctx, orderID)
}

func (s *fakeOrderStore) mutate(orderID int64, fn func(*entities.Order)) {
	o := s.orders[orderID]
	fn(&o)
	o.UpdatedAt = time.Now()
	s.orders[orderID] = o
}

func (s *fakeOrderStore) MarkPaid(_ context.Context, orderID int64, at time.Time) error {
	s.mutate(orderID, func(o *entities.Order) {
		o.Status = entities.OrderPaid
		o.PaymentStatus = entities.PaymentStatusSuccess
		o.PaidAt = &at
	})
	return nil
}

func (s *fakeOrderStore) MarkPaymentFailed(_ context.Context, orderID int64) error {
	s.mutate(orderID, func(o *entities.Order) {
		o.PaymentStatus = entities.PaymentStatusFailed
	})
	return nil
}

func (s *fakeOrderStore) MarkDelivered(_ context.Context, orderID int64, at time.Time) error {
	s.mutate(orderID, func(o *entities.Order) {
		o.Status = entities.OrderDelivered
		o.DeliveredAt = &at
	})
	return nil
}

func (s *fakeOrderStore) MarkCompleted(_ context.Context, orderID int64, at time.Time) error {
	s.mutate(orderID, func(o *entities.Order) {
		o.Status = entities.OrderCompleted
		o.CompletedAt = &at
	})
	return nil
}

func (s *fakeOrderStore) MarkCancelled(_ context.Context, orderID int64) error {
	s.mutate(orderID, func(o *entities.Order) {
		o.Status = entities.OrderCancelled
	})
	return nil
}

func (s *fakeOrderStore) MarkRefunded(_ context.Context, orderID int64, at time.Time) error {
	s.mutate(orderID, func(o *entities.Order) {
		o.Status = entities.OrderRefunded
		o.RefundedAt = &at
	})
	return nil
}

func (s *fakeOrderStore) List(_ context.Context, userID, role string, status entities.OrderStatus, limit, offset int) ([]entities.Order, error) {
	var out []entities.Order
	for _, o := range s.orders {
		if role == "buyer" && o.BuyerID != userID {
			continue
		}
		if role == "seller" && o.SellerID != userID {
			continue
		}
		if status != "" && o.Status != status {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fakeOrderStore) ExpireCreatedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	var n int64
	for id, o := range s.orders {
		if o.Status == entities.OrderCreated && o.CreatedAt.Before(cutoff) {
			o.Status = entities.OrderCancelled
			s.orders[id] = o
			n++
		}
	}
	return n, nil
}

func (s *fakeOrderStore) FindUnsettled(ctx context.Context, paidBefore time.Time, limit int) ([]entities.Order, error) {
	var out []entities.Order
	for _, o := range s.orders {
		switch o.Status {
		case entities.OrderPaid, entities.OrderDelivered, entities.OrderCompleted:
		default:
			continue
		}
		if o.PaidAt == nil || !o.PaidAt.Before(paidBefore) {
			continue
		}
		settled, _ := s.wallets.HasLog(ctx, o.SellerID, entities.LogSettlement, orderReference(o.ID))
		if settled {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type fakeListingStore struct {
	listings map[int64]entities.Listing
}

func newFakeListingStore() *fakeListingStore {
	return &fakeListingStore{listings: make(map[int64]entities.Listing)}
}

func (s *fakeListingStore) FindLive(_ context.Context, listingID int64) (*entities.Listing, error) {
	l, ok := s.listings[listingID]
	if !ok || l.Status != entities.ListingLive {
		return nil, nil
	}
	return &l, nil
}

type fakePaymentStore struct {
	payments map[int64]entities.Payment
	nextID   int64
}

func newFakePaymentStore() *fakePaymentStore {
	return &fakePaymentStore{payments: make(map[int64]entities.Payment), nextID: 1}
}

type paymentSnapshot struct {
	payments map[int64]entities.Payment
	nextID   int64
}

func (s *fakePaymentStore) snapshot() any {
	payments := make(map[int64]entities.Payment, len(s.payments))
	for k, v := range s.payments {
		payments[k] = v
	}
	return paymentSnapshot{payments: payments, nextID: s.nextID}
}

func (s *fakePaymentStore) restore(snap any) {
	ps := snap.(paymentSnapshot)
	s.payments = ps.payments
	s.nextID = ps.nextID
}

func (s *fakePaymentStore) Insert(_ context.Context, payment *entities.Payment) error {
	payment.ID = s.nextID
	s.nextID++
	payment.CreatedAt = time.Now()
	s.payments[payment.ID] = *payment
	return nil
}

func (s *fakePaymentStore) FindByTransactionIDForUpdate(_ context.Context, transactionID string) (*entities.Payment, error) {
	for _, p := range s.payments {
		if p.TransactionID == transactionID {
			return &p, nil
		}
	}
	return nil, nil
}

func (s *fakePaymentStore) FindPendingByOrder(_ context.Context, orderID int64) (*entities.Payment, error) {
	for _, p := range s.payments {
		if p.OrderID == orderID && p.Status == entities.PaymentStatusPending {
			return &p, nil
		}
	}
	return nil, nil
}

func (s *fakePaymentStore) MarkSuccess(_ context.Context, paymentID int64, at time.Time) error {
	p := s.payments[paymentID]
	p.Status = entities.PaymentStatusSuccess
	p.PaidAt = &at
	s.payments[paymentID] = p
	return nil
}

func (s *fakePaymentStore) MarkFailed(_ context.Context, paymentID int64) error {
	p := s.payments[paymentID]
	p.Status = entities.PaymentStatusFailed
	s.payments[paymentID] = p
	return nil
}

type fakeRefundStore struct {
	refunds map[int64]entities.RefundRequest
	nextID  int64
}

func newFakeRefundStore() *fakeRefundStore {
	return &fakeRefundStore{refunds: make(map[int64]entities.RefundRequest), nextID: 1}
}

type refundSnapshot struct {
	refunds map[int64]entities.RefundRequest
	nextID  int64
}

func (s *fakeRefundStore) snapshot() any {
	refunds := make(map[int64]entities.RefundRequest, len(s.refunds))
	for k, v := range s.refunds {
		refunds[k] = v
	}
	return refundSnapshot{refunds: refunds, nextID: s.nextID}
}

func (s *fakeRefundStore) restore(snap any) {
	rs := snap.(refundSnapshot)
	s.refunds = rs.refunds
	s.nextID = rs.nextID
}

func (s *fakeRefundStore) Insert(_ context.Context, refund *entities.RefundRequest) error {
	refund.ID = s.nextID
	s.nextID++
	refund.CreatedAt = time.Now()
	s.refunds[refund.ID] = *refund
	return nil
}

func (s *fakeRefundStore) FindByID(_ context.Context, refundID int64) (*entities.RefundRequest, error) {
	r, ok := s.refunds[refundID]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (s *fakeRefundStore) FindByIDForUpdate(ctx context.Context, refundID int64) (*entities.RefundRequest, error) {
	return s.FindByID(ctx, refundID)
}

func (s *fakeRefundStore) HasActive(_ context.Context, orderID int64) (bool, error) {
	for _, r := range s.refunds {
		if r.OrderID == orderID && !r.Status.Terminal() {
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeRefundStore) UpdateReview(_ context.Context, refundID int64, reviewerID string, status entities.RefundStatus, remark string) error {
	r := s.refunds[refundID]
	r.Status = status
	r.ReviewerID = &reviewerID
	if remark != "" {
		r.Remark = &remark
	}
	s.refunds[refundID] = r
	return nil
}

func (s *fakeRefundStore) MarkProcessed(_ context.Context, refundID int64, operatorID, remark string, at time.Time) error {
	r := s.refunds[refundID]
	r.Status = entities.RefundProcessed
	r.ReviewerID = &operatorID
	if remark != "" {
		r.Remark = &remark
	}
	r.ProcessedAt = &at
	s.refunds[refundID] = r
	return nil
}

func (s *fakeRefundStore) ListByStatus(_ context.Context, status entities.RefundStatus, limit, offset int) ([]entities.RefundRequest, error) {
	var out []entities.RefundRequest
	for _, r := range s.refunds {
		if status == "" || r.Status == status {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type fakePayoutStore struct {
	payouts map[int64]entities.PayoutRequest
	nextID  int64
}

func newFakePayoutStore() *fakePayoutStore {
	return &fakePayoutStore{payouts: make(map[int64]entities.PayoutRequest), nextID: 1}
}

type payoutSnapshot struct {
	payouts map[int64]entities.PayoutRequest
	nextID  int64
}

func (s *fakePayoutStore) snapshot() any {
	payouts := make(map[int64]entities.PayoutRequest, len(s.payouts))
	for k, v := range s.payouts {
		payouts[k] = v
	}
	return payoutSnapshot{payouts: payouts, nextID: s.nextID}
}

func (s *fakePayoutStore) restore(snap any) {
	ps := snap.(payoutSnapshot)
	s.payouts = ps.payouts
	s.nextID = ps.nextID
}

func (s *fakePayoutStore) Insert(_ context.Context, payout *entities.PayoutRequest) error {
	payout.ID = s.nextID
	s.nextID++
	payout.CreatedAt = time.Now()
	s.payouts[payout.ID] = *payout
	return nil
}

func (s *fakePayoutStore) FindByIDForUpdate(_ context.Context, payoutID int64) (*entities.PayoutRequest, error) {
	p, ok := s.payouts[payoutID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *fakePayoutStore) HasPending(_ context.Context, userID string) (bool, error) {
	for _, p := range s.payouts {
		if p.UserID == userID && p.Status == entities.PayoutPending {
			return true, nil
		}
	}
	return false, nil
}

func (s *fakePayoutStore) UpdateReview(_ context.Context, payoutID int64, reviewerID string, status entities.PayoutStatus, remark string, at time.Time) error {
	p := s.payouts[payoutID]
	p.Status = status
	p.ReviewerID = &reviewerID
	if remark != "" {
		p.Remark = &remark
	}
	p.ProcessedAt = &at
	s.payouts[payoutID] = p
	return nil
}

func (s *fakePayoutStore) ListByStatus(_ context.Context, status entities.PayoutStatus, limit, offset int) ([]entities.PayoutRequest, error) {
	var out []entities.PayoutRequest
	for _, p := range s.payouts {
		if status == "" || p.Status == status {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// testEnv wires every service against the in-memory stores, mirroring the
// wiring in cmd/ledger/main.go.
type testEnv struct {
	wallets  *fakeWalletStore
	orders   *fakeOrderStore
	listings *fakeListingStore
	payments *fakePaymentStore
	refunds  *fakeRefundStore
	payouts  *fakePayoutStore
	notifier *fakeNotifier

	walletSvc *WalletService
	orderSvc  *OrderService
	refundSvc *RefundService
	payoutSvc *PayoutService
}

func newTestEnv() *testEnv {
	logger := testLogger()

	wallets := newFakeWalletStore()
	orders := newFakeOrderStore(wallets)
	listings := newFakeListingStore()
	payments := newFakePaymentStore()
	refunds := newFakeRefundStore()
	payouts := newFakePayoutStore()
	notifier := &fakeNotifier{}
	transactor := &fakeTransactor{stores: []snapshotter{wallets, orders, payments, refunds, payouts}}

	walletSvc := NewWalletService(logger, wallets, orders, transactor)

	return &testEnv{
		wallets:   wallets,
		orders:    orders,
		listings:  listings,
		payments:  payments,
		refunds:   refunds,
		payouts:   payouts,
		notifier:  notifier,
		walletSvc: walletSvc,
		orderSvc: NewOrderService(logger, orders, listings, payments, walletSvc,
			transactor, notifier, "CNY"),
		refundSvc: NewRefundService(logger, refunds, orders, walletSvc, transactor, notifier),
		payoutSvc: NewPayoutService(logger, payouts, walletSvc, transactor, notifier),
	}
}

func orderItems(listingIDs ...int64) []ports.OrderItemInput {
	items := make([]ports.OrderItemInput, 0, len(listingIDs))
	for _, id := range listingIDs {
		items = append(items, ports.OrderItemInput{ListingID: id, Quantity: 1})
	}
	return items
}

// payOrder runs the full happy payment path for an order.
func payOrder(t *testing.T, env *testEnv, orderID int64) {
	t.Helper()
	ctx := context.Background()

	payment, err := env.orderSvc.InitiatePayment(ctx, orderID, "alipay")
	require.NoError(t, err)

	_, err = env.orderSvc.ApplyPaymentCallback(ctx, payment.TransactionID,
		string(entities.PaymentStatusSuccess), payment.AmountCents)
	require.NoError(t, err)
}

func (e *testEnv) addListing(id int64, sellerID string, priceCents int64, platformSplit float64) {
	e.listings.listings[id] = entities.Listing{
		ID:            id,
		SellerID:      sellerID,
		Title:         "test listing",
		PriceCents:    priceCents,
		PlatformSplit: platformSplit,
		SellerSplit:   1 - platformSplit,
		Status:        entities.ListingLive,
	}
}
