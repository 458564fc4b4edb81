package entities

import "time"

// Payment is one payment attempt against an order. An order may accumulate
// several attempts but at most one reaches success, and only one may be
// pending at a time.
type Payment struct {
	ID            int64         `db:"id" json:"id"`
	OrderID       int64         `db:"order_id" json:"order_id"`
	Provider      string        `db:"provider" json:"provider"`
	TransactionID string        `db:"transaction_id" json:"transaction_id"`
	AmountCents   int64         `db:"amount_cents" json:"amount_cents"`
	Status        PaymentStatus `db:"status" json:"status"`
	CreatedAt     time.Time     `db:"created_at" json:"created_at"`
	PaidAt        *time.Time    `db:"paid_at" json:"paid_at,omitempty"`
}
