package entities

import "time"

type PayoutStatus string

const (
	PayoutPending  PayoutStatus = "pending"
	PayoutPaid     PayoutStatus = "paid"
	PayoutRejected PayoutStatus = "rejected"
)

// PayoutRequest is a seller withdrawal. The requested amount is frozen out of
// the wallet balance at creation time; rejection releases the freeze, payment
// finalizes it.
type PayoutRequest struct {
	ID          int64        `db:"id" json:"id"`
	UserID      string       `db:"user_id" json:"user_id"`
	AmountCents int64        `db:"amount_cents" json:"amount_cents"`
	Status      PayoutStatus `db:"status" json:"status"`
	Method      string       `db:"method" json:"method"`
	AccountInfo string       `db:"account_info" json:"account_info"`
	Remark      *string      `db:"remark" json:"remark,omitempty"`
	ReviewerID  *string      `db:"reviewer_id" json:"reviewer_id,omitempty"`
	CreatedAt   time.Time    `db:"created_at" json:"created_at"`
	ProcessedAt *time.Time   `db:"processed_at" json:"processed_at,omitempty"`
}
