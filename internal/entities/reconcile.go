package entities

import "time"

type AnomalyType string

const (
	AnomalyMismatch AnomalyType = "mismatch"
	AnomalySign     AnomalyType = "sign"
	AnomalySLA      AnomalyType = "sla"
	AnomalyWallet   AnomalyType = "wallet"
)

// Anomaly is a reconciliation finding. Findings are data, not errors.
type Anomaly struct {
	Type        AnomalyType `json:"type"`
	Reference   string      `json:"reference"`
	AmountCents int64       `json:"amount_cents,omitempty"`
	Expected    int64       `json:"expected,omitempty"`
	Actual      int64       `json:"actual,omitempty"`
	Reason      string      `json:"reason"`
}

// OrderTotals aggregates the orders created inside the window.
type OrderTotals struct {
	TotalAmountCents  int64 `db:"total_amount_cents" json:"total_amount_cents"`
	PlatformFeeCents  int64 `db:"platform_fee_cents" json:"platform_fee_cents"`
	SellerAmountCents int64 `db:"seller_amount_cents" json:"seller_amount_cents"`
}

// ReconciliationReport is the result of one read-only reconciliation pass
// over [Start, End].
type ReconciliationReport struct {
	Start      time.Time               `json:"start"`
	End        time.Time               `json:"end"`
	Orders     OrderTotals             `json:"orders"`
	WalletLogs map[WalletLogType]int64 `json:"wallet_logs"`
	Anomalies  []Anomaly               `json:"anomalies"`
}
