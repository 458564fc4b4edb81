package entities

import "time"

// Wallet holds a user's funds. BalanceCents is withdrawable;
// PendingSettlementCents is accrued from sales but still inside the
// settlement hold. Both are always >= 0.
type Wallet struct {
	UserID                 string    `db:"user_id" json:"user_id"`
	BalanceCents           int64     `db:"balance_cents" json:"balance_cents"`
	PendingSettlementCents int64     `db:"pending_settlement_cents" json:"pending_settlement_cents"`
	UpdatedAt              time.Time `db:"updated_at" json:"updated_at"`
}

// WalletLogType tags a wallet log entry with the operation that produced it.
type WalletLogType string

const (
	LogSale         WalletLogType = "sale"          // + pending_settlement
	LogSettlement   WalletLogType = "settlement"    // pending_settlement → balance
	LogRefundIn     WalletLogType = "refund_in"     // + balance (buyer side, positive)
	LogRefundOut    WalletLogType = "refund_out"    // - pending/balance (seller side, negative)
	LogPayoutFreeze WalletLogType = "payout_freeze" // - balance (negative)
	LogPayoutReject WalletLogType = "payout_reject" // + balance (freeze reversal)
	LogPayoutPaid   WalletLogType = "payout_paid"   // zero change, funds left the system
)

// WalletLog is the append-only ledger entry. Replaying a user's entries from
// zero reproduces the stored wallet fields exactly.
type WalletLog struct {
	ID           int64         `db:"id" json:"id"`
	UserID       string        `db:"user_id" json:"user_id"`
	ChangeCents  int64         `db:"change_cents" json:"change_cents"`
	BalanceAfter int64         `db:"balance_after" json:"balance_after"`
	Type         WalletLogType `db:"type" json:"type"`
	ReferenceID  string        `db:"reference_id" json:"reference_id"`
	Remark       string        `db:"remark" json:"remark"`
	CreatedAt    time.Time     `db:"created_at" json:"created_at"`
}
