package entities

import "time"

type RefundStatus string

const (
	RefundPending   RefundStatus = "pending"
	RefundApproved  RefundStatus = "approved"
	RefundRejected  RefundStatus = "rejected"
	RefundProcessed RefundStatus = "processed"
)

// Terminal reports whether no further transition is possible from s.
func (s RefundStatus) Terminal() bool {
	return s == RefundRejected || s == RefundProcessed
}

// RefundRequest is a buyer-initiated refund for a paid order. At most one
// non-terminal (pending/approved) request may exist per order.
type RefundRequest struct {
	ID          int64        `db:"id" json:"id"`
	OrderID     int64        `db:"order_id" json:"order_id"`
	BuyerID     string       `db:"buyer_id" json:"buyer_id"`
	SellerID    string       `db:"seller_id" json:"seller_id"`
	AmountCents int64        `db:"amount_cents" json:"amount_cents"`
	Reason      string       `db:"reason" json:"reason"`
	Status      RefundStatus `db:"status" json:"status"`
	ReviewerID  *string      `db:"reviewer_id" json:"reviewer_id,omitempty"`
	Remark      *string      `db:"remark" json:"remark,omitempty"`
	CreatedAt   time.Time    `db:"created_at" json:"created_at"`
	ProcessedAt *time.Time   `db:"processed_at" json:"processed_at,omitempty"`
}
