package entities

import "time"

// OrderStatus is the order lifecycle state.
// created → paid → delivered → completed; created/paid → cancelled;
// paid/delivered/completed → refunded (only via a processed refund).
type OrderStatus string

const (
	OrderCreated   OrderStatus = "created"
	OrderPaid      OrderStatus = "paid"
	OrderDelivered OrderStatus = "delivered"
	OrderCompleted OrderStatus = "completed"
	OrderCancelled OrderStatus = "cancelled"
	OrderRefunded  OrderStatus = "refunded"
)

type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusSuccess PaymentStatus = "success"
	PaymentStatusFailed  PaymentStatus = "failed"
)

// Order is a purchase of one seller's listings by one buyer.
// Invariant: TotalAmountCents = PlatformFeeCents + SellerAmountCents.
type Order struct {
	ID                int64         `db:"id" json:"id"`
	OrderNo           string        `db:"order_no" json:"order_no"`
	BuyerID           string        `db:"buyer_id" json:"buyer_id"`
	SellerID          string        `db:"seller_id" json:"seller_id"`
	TotalAmountCents  int64         `db:"total_amount_cents" json:"total_amount_cents"`
	PlatformFeeCents  int64         `db:"platform_fee_cents" json:"platform_fee_cents"`
	SellerAmountCents int64         `db:"seller_amount_cents" json:"seller_amount_cents"`
	Currency          string        `db:"currency" json:"currency"`
	Status            OrderStatus   `db:"status" json:"status"`
	PaymentStatus     PaymentStatus `db:"payment_status" json:"payment_status"`
	CreatedAt         time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time     `db:"updated_at" json:"updated_at"`
	PaidAt            *time.Time    `db:"paid_at" json:"paid_at,omitempty"`
	DeliveredAt       *time.Time    `db:"delivered_at" json:"delivered_at,omitempty"`
	CompletedAt       *time.Time    `db:"completed_at" json:"completed_at,omitempty"`
	RefundedAt        *time.Time    `db:"refunded_at" json:"refunded_at,omitempty"`
}

// OrderItem is one listing line inside an order.
type OrderItem struct {
	ID         int64     `db:"id" json:"id"`
	OrderID    int64     `db:"order_id" json:"order_id"`
	ListingID  int64     `db:"listing_id" json:"listing_id"`
	PriceCents int64     `db:"price_cents" json:"price_cents"`
	Quantity   int       `db:"quantity" json:"quantity"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// Listing is the priced catalog entry orders are built from. Only "live"
// listings are purchasable.
type Listing struct {
	ID            int64   `db:"id" json:"id"`
	SellerID      string  `db:"seller_id" json:"seller_id"`
	Title         string  `db:"title" json:"title"`
	PriceCents    int64   `db:"price_cents" json:"price_cents"`
	PlatformSplit float64 `db:"platform_split" json:"platform_split"`
	SellerSplit   float64 `db:"seller_split" json:"seller_split"`
	Status        string  `db:"status" json:"status"`
}

const ListingLive = "live"
