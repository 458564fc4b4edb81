package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/sand/netdisk-market-ledger/backend/internal/core/ports"
	"github.com/sand/netdisk-market-ledger/backend/internal/entities"
)

// Identity headers filled in by the authentication layer in front of this
// service. Admin-only routes fail forbidden when the admin header is absent.
const (
	headerUserID  = "X-User-Id"
	headerAdminID = "X-Admin-Id"
)

type HTTPHandler struct {
	logger    *slog.Logger
	orders    ports.OrderService
	refunds   ports.RefundService
	payouts   ports.PayoutService
	wallets   ports.WalletService
	reconcile ports.ReconciliationService
}

func NewHTTPHandler(
	logger *slog.Logger,
	orders ports.OrderService,
	refunds ports.RefundService,
	payouts ports.PayoutService,
	wallets ports.WalletService,
	reconcile ports.ReconciliationService,
) *HTTPHandler {
	return &HTTPHandler{
		logger:    logger,
		orders:    orders,
		refunds:   refunds,
		payouts:   payouts,
		wallets:   wallets,
		reconcile: reconcile,
	}
}

func (h *HTTPHandler) RegisterRoutes(router *mux.Router) {
	// Orders
	router.HandleFunc("/orders", h.CreateOrder).Methods("POST")
	router.HandleFunc("/orders", h.ListOrders).Methods("GET")
	router.HandleFunc("/orders/{orderId:[0-9]+}", h.GetOrder).Methods("GET")
	router.HandleFunc("/orders/{orderId:[0-9]+}/payment", h.InitiatePayment).Methods("POST")
	router.HandleFunc("/orders/{orderId:[0-9]+}/deliver", h.MarkDelivered).Methods("POST")
	router.HandleFunc("/orders/{orderId:[0-9]+}/complete", h.CompleteOrder).Methods("POST")
	router.HandleFunc("/orders/{orderId:[0-9]+}/cancel", h.CancelOrder).Methods("POST")
	router.HandleFunc("/payments/callback", h.PaymentCallback).Methods("POST")

	// Refunds
	router.HandleFunc("/orders/{orderId:[0-9]+}/refund", h.ApplyRefund).Methods("POST")
	router.HandleFunc("/refunds", h.ListRefunds).Methods("GET")
	router.HandleFunc("/refunds/{refundId:[0-9]+}", h.GetRefund).Methods("GET")
	router.HandleFunc("/refunds/{refundId:[0-9]+}/review", h.ReviewRefund).Methods("POST")
	router.HandleFunc("/refunds/{refundId:[0-9]+}/process", h.ProcessRefund).Methods("POST")

	// Payouts
	router.HandleFunc("/payouts", h.CreatePayout).Methods("POST")
	router.HandleFunc("/payouts", h.ListPayouts).Methods("GET")
	router.HandleFunc("/payouts/{payoutId:[0-9]+}/review", h.ReviewPayout).Methods("POST")

	// Wallet
	router.HandleFunc("/wallet", h.GetWallet).Methods("GET")
	router.HandleFunc("/wallet/logs", h.GetWalletLogs).Methods("GET")

	// Reconciliation
	router.HandleFunc("/reconcile", h.Reconcile).Methods("GET")

	router.HandleFunc("/health", h.Health).Methods("GET")
}

func (h *HTTPHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	buyerID := r.Header.Get(headerUserID)

	var req struct {
		Items []ports.OrderItemInput `json:"items"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	order, err := h.orders.CreateOrder(r.Context(), buyerID, req.Items)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, order)
}

func (h *HTTPHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(headerUserID)
	role := r.URL.Query().Get("role")
	if role == "" {
		role = "buyer"
	}
	status := entities.OrderStatus(r.URL.Query().Get("status"))
	limit, offset := pagination(r)

	orders, err := h.orders.ListUserOrders(r.Context(), userID, role, status, limit, offset)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, orders)
}

func (h *HTTPHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := pathID(r, "orderId")

	order, err := h.orders.GetOrder(r.Context(), orderID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, order)
}

func (h *HTTPHandler) InitiatePayment(w http.ResponseWriter, r *http.Request) {
	orderID := pathID(r, "orderId")

	var req struct {
		Provider string `json:"provider"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	payment, err := h.orders.InitiatePayment(r.Context(), orderID, req.Provider)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"transaction_id": payment.TransactionID,
		"amount_cents":   payment.AmountCents,
		"provider":       payment.Provider,
	})
}

// PaymentCallback is the payment provider's confirmation webhook.
func (h *HTTPHandler) PaymentCallback(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TransactionID string `json:"transaction_id"`
		Status        string `json:"status"`
		AmountCents   int64  `json:"amount_cents"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	order, err := h.orders.ApplyPaymentCallback(r.Context(), req.TransactionID, req.Status, req.AmountCents)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":   "success",
		"order_id": order.ID,
	})
}

func (h *HTTPHandler) MarkDelivered(w http.ResponseWriter, r *http.Request) {
	h.orderTransition(w, r, h.orders.MarkDelivered)
}

func (h *HTTPHandler) CompleteOrder(w http.ResponseWriter, r *http.Request) {
	h.orderTransition(w, r, h.orders.CompleteOrder)
}

func (h *HTTPHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	h.orderTransition(w, r, h.orders.CancelOrder)
}

func (h *HTTPHandler) ApplyRefund(w http.ResponseWriter, r *http.Request) {
	orderID := pathID(r, "orderId")
	buyerID := r.Header.Get(headerUserID)

	var req struct {
		Reason string `json:"reason"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	refund, err := h.refunds.ApplyRefund(r.Context(), orderID, buyerID, req.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, refund)
}

func (h *HTTPHandler) ListRefunds(w http.ResponseWriter, r *http.Request) {
	status := entities.RefundStatus(r.URL.Query().Get("status"))
	limit, offset := pagination(r)

	refunds, err := h.refunds.ListRefunds(r.Context(), status, limit, offset)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, refunds)
}

func (h *HTTPHandler) GetRefund(w http.ResponseWriter, r *http.Request) {
	refund, err := h.refunds.GetRefund(r.Context(), pathID(r, "refundId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, refund)
}

func (h *HTTPHandler) ReviewRefund(w http.ResponseWriter, r *http.Request) {
	refundID := pathID(r, "refundId")
	reviewerID := r.Header.Get(headerAdminID)

	var req struct {
		Status string `json:"status"`
		Remark string `json:"remark"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	err := h.refunds.ReviewRefund(r.Context(), refundID, reviewerID, entities.RefundStatus(req.Status), req.Remark)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": req.Status})
}

func (h *HTTPHandler) ProcessRefund(w http.ResponseWriter, r *http.Request) {
	refundID := pathID(r, "refundId")
	operatorID := r.Header.Get(headerAdminID)

	var req struct {
		Remark string `json:"remark"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.refunds.ProcessRefund(r.Context(), refundID, operatorID, req.Remark); err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": string(entities.RefundProcessed)})
}

func (h *HTTPHandler) CreatePayout(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(headerUserID)

	var req struct {
		AmountCents int64  `json:"amount_cents"`
		Method      string `json:"method"`
		AccountInfo string `json:"account_info"`
		Remark      string `json:"remark"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	payout, err := h.payouts.CreatePayoutRequest(r.Context(), userID, req.AmountCents, req.Method, req.AccountInfo, req.Remark)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, payout)
}

func (h *HTTPHandler) ListPayouts(w http.ResponseWriter, r *http.Request) {
	status := entities.PayoutStatus(r.URL.Query().Get("status"))
	limit, offset := pagination(r)

	payouts, err := h.payouts.ListPayouts(r.Context(), status, limit, offset)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, payouts)
}

func (h *HTTPHandler) ReviewPayout(w http.ResponseWriter, r *http.Request) {
	payoutID := pathID(r, "payoutId")
	reviewerID := r.Header.Get(headerAdminID)

	var req struct {
		Status string `json:"status"`
		Remark string `json:"remark"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	// The review API accepts "approved" as a synonym for paying out.
	status := entities.PayoutStatus(req.Status)
	if req.Status == "approved" {
		status = entities.PayoutPaid
	}

	if err := h.payouts.ReviewPayoutRequest(r.Context(), payoutID, reviewerID, status, req.Remark); err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": string(status)})
}

func (h *HTTPHandler) GetWallet(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(headerUserID)
	if userID == "" {
		http.Error(w, "Missing user identity", http.StatusBadRequest)
		return
	}

	wallet, err := h.wallets.GetWallet(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, wallet)
}

func (h *HTTPHandler) GetWalletLogs(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(headerUserID)
	if userID == "" {
		http.Error(w, "Missing user identity", http.StatusBadRequest)
		return
	}
	limit, _ := pagination(r)

	logs, err := h.wallets.GetWalletLogs(r.Context(), userID, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, logs)
}

func (h *HTTPHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get(headerAdminID) == "" {
		http.Error(w, "Admin identity required", http.StatusForbidden)
		return
	}

	start, err := time.Parse(time.RFC3339, r.URL.Query().Get("start"))
	if err != nil {
		http.Error(w, "Invalid start timestamp, want RFC3339", http.StatusBadRequest)
		return
	}
	end, err := time.Parse(time.RFC3339, r.URL.Query().Get("end"))
	if err != nil {
		http.Error(w, "Invalid end timestamp, want RFC3339", http.StatusBadRequest)
		return
	}

	report, err := h.reconcile.Reconcile(r.Context(), start, end)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, report)
}

func (h *HTTPHandler) Health(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) orderTransition(w http.ResponseWriter, r *http.Request, fn func(context.Context, int64) error) {
	orderID := pathID(r, "orderId")

	if err := fn(r.Context(), orderID); err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return false
	}
	return true
}

func (h *HTTPHandler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("Failed to encode response", "error", err)
	}
}

// writeError maps business fault kinds to HTTP status codes; anything that is
// not a Fault is an infrastructure failure and hides behind a 500.
func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var status int

	switch entities.FaultKind(err) {
	case entities.KindValidation:
		status = http.StatusBadRequest
	case entities.KindForbidden:
		status = http.StatusForbidden
	case entities.KindNotFound:
		status = http.StatusNotFound
	case entities.KindInvalidState, entities.KindConflict:
		status = http.StatusConflict
	case entities.KindInsufficientFunds, entities.KindAmountMismatch:
		status = http.StatusUnprocessableEntity
	default:
		h.logger.Error("Request failed", "error", err, "path", r.URL.Path)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, status, map[string]string{
		"kind":    string(entities.FaultKind(err)),
		"message": err.Error(),
	})
}

func pathID(r *http.Request, name string) int64 {
	id, _ := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	return id
}

func pagination(r *http.Request) (limit, offset int) {
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
