package application

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/wyfcoding/unionfinance/internal/remittance/domain"
)

// SubmitRequest 提交汇款
type SubmitRequest struct {
	EmployerID     string              `json:"employer_id" form:"employer_id" binding:"required"`
	OrganizationID string              `json:"organization_id" form:"organization_id"`
	TotalAmount    decimal.Decimal     `json:"total_amount" form:"-"`
	MemberCount    int                 `json:"member_count" form:"member_count"`
	PeriodStart    time.Time           `json:"period_start" form:"period_start" time_format:"2006-01-02" time_utc:"1" binding:"required"`
	PeriodEnd      time.Time           `json:"period_end" form:"period_end" time_format:"2006-01-02" time_utc:"1" binding:"required"`
	RemittanceDate time.Time           `json:"remittance_date" form:"remittance_date" time_format:"2006-01-02" time_utc:"1"`
	Records        []domain.RecordLine `json:"records" form:"-"`
}

// RemittanceView 汇款详情及已支付账单
type RemittanceView struct {
	*domain.EmployerRemittance
	PaidTransactionIDs []string `json:"paid_transaction_ids"`
}
