package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// SubmittedEvent 汇款已提交，消费者据此触发对账
type SubmittedEvent struct {
	RemittanceID string    `json:"remittance_id"`
	EmployerID   string    `json:"employer_id"`
	SubmittedAt  time.Time `json:"submitted_at"`
}

// ReconciledEvent 对账完成
type ReconciledEvent struct {
	RemittanceID     string               `json:"remittance_id"`
	EmployerID       string               `json:"employer_id"`
	OrganizationID   string               `json:"organization_id"`
	Status           ReconciliationStatus `json:"status"`
	Outcome          Outcome              `json:"outcome"`
	TotalVariance    decimal.Decimal      `json:"total_variance"`
	MatchedCount     int                  `json:"matched_count"`
	UnmatchedRecords int                  `json:"unmatched_records"`
	PaidTransactions []string             `json:"paid_transactions"`
	ReconciledAt     time.Time            `json:"reconciled_at"`
}
