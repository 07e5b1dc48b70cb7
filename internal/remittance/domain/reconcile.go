package domain

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	duesdomain "github.com/wyfcoding/unionfinance/internal/dues/domain"
)

// MatchMethod 匹配方式
type MatchMethod string

const (
	MatchByMember MatchMethod = "member"
	MatchByPeriod MatchMethod = "period_amount"
)

// UnmatchedReason 明细未匹配原因
type UnmatchedReason string

const (
	ReasonMissingMemberID  UnmatchedReason = "missing_member_id"
	ReasonNoCandidate      UnmatchedReason = "no_candidate"
	ReasonDuplicatePayment UnmatchedReason = "duplicate_payment"
)

// Outcome 对账结果类型
type Outcome string

const (
	OutcomeMatched Outcome = "matched"
	OutcomeNoMatch Outcome = "no_match"
)

// DefaultTolerance 金额舍入容差
var DefaultTolerance = decimal.New(1, -2)

// Options 对账参数
type Options struct {
	// AutoMatch 允许无会员号的明细按账期与最接近金额匹配
	AutoMatch bool
	Tolerance decimal.Decimal
	Now       time.Time
}

// LineMatch 明细与账单的匹配
type LineMatch struct {
	LineNumber     int             `json:"line_number"`
	MemberID       string          `json:"member_id"`
	TransactionID  string          `json:"transaction_id"`
	Method         MatchMethod     `json:"method"`
	RemittedAmount decimal.Decimal `json:"remitted_amount"`
	ExpectedAmount decimal.Decimal `json:"expected_amount"`
	LineVariance   decimal.Decimal `json:"line_variance"`
}

// UnmatchedRecord 未匹配的明细
type UnmatchedRecord struct {
	LineNumber int             `json:"line_number"`
	MemberID   string          `json:"member_id,omitempty"`
	Amount     decimal.Decimal `json:"amount"`
	Reason     UnmatchedReason `json:"reason"`
}

// UnmatchedTransaction 未被任何明细支付的账单
type UnmatchedTransaction struct {
	TransactionID string          `json:"transaction_id"`
	MemberID      string          `json:"member_id"`
	PeriodStart   time.Time       `json:"period_start"`
	PeriodEnd     time.Time       `json:"period_end"`
	Amount        decimal.Decimal `json:"amount"`
}

// Report 一次对账的完整报告
type Report struct {
	RemittanceID          string                 `json:"remittance_id"`
	Status                ReconciliationStatus   `json:"status"`
	Outcome               Outcome                `json:"outcome"`
	PaidDate              time.Time              `json:"paid_date"`
	Matches               []LineMatch            `json:"matches"`
	UnmatchedRecords      []UnmatchedRecord      `json:"unmatched_records"`
	UnmatchedTransactions []UnmatchedTransaction `json:"unmatched_transactions"`
	TotalVariance         decimal.Decimal        `json:"total_variance"`
	MatchedAmount         decimal.Decimal        `json:"matched_amount"`
	UnmatchedAmount       decimal.Decimal        `json:"unmatched_amount"`
	DeclaredTotal         decimal.Decimal        `json:"declared_total"`
	RecordsTotal          decimal.Decimal        `json:"records_total"`
	Warnings              []string               `json:"warnings"`
	// Applied 本次新标记为已付的账单，Reverted 本次撤销的账单
	Applied  []string `json:"applied"`
	Reverted []string `json:"reverted"`

	changed []*duesdomain.DuesTransaction
}

// Changed 需要持久化的账单
func (r *Report) Changed() []*duesdomain.DuesTransaction { return r.changed }

// Err 没有任何匹配时返回 *NoMatchError
func (r *Report) Err() error {
	if r.Outcome == OutcomeNoMatch {
		return &NoMatchError{RemittanceID: r.RemittanceID, RecordCount: len(r.UnmatchedRecords)}
	}
	return nil
}

// Reconcile 将汇款明细与账单匹配，标记已付并计算差异。
// 结果写回 rem、rem.Records 与 txns，调用方负责持久化 Report.Changed() 与 rem
func Reconcile(rem *EmployerRemittance, txns []*duesdomain.DuesTransaction, opts Options) (*Report, error) {
	if rem == nil {
		return nil, errors.New("remittance is nil")
	}
	if err := rem.CanReconcile(); err != nil {
		return nil, err
	}
	tolerance := opts.Tolerance
	if !tolerance.IsPositive() {
		tolerance = DefaultTolerance
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	rem.ResetResults()
	pool := uniqueTransactions(txns)
	m := &matcher{rem: rem, pool: pool, consumed: make(map[string]bool, len(pool))}

	report := &Report{
		RemittanceID:          rem.RemittanceID,
		PaidDate:              rem.RemittanceDate,
		Matches:               []LineMatch{},
		UnmatchedRecords:      []UnmatchedRecord{},
		UnmatchedTransactions: []UnmatchedTransaction{},
		TotalVariance:         decimal.Zero,
		MatchedAmount:         decimal.Zero,
		UnmatchedAmount:       decimal.Zero,
		DeclaredTotal:         rem.TotalAmount,
		RecordsTotal:          decimal.Zero,
		Warnings:              []string{},
		Applied:               []string{},
		Reverted:              []string{},
	}

	// 有会员号的明细优先匹配，同类按行号
	order := make([]int, len(rem.Records))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ra, rb := &rem.Records[order[a]], &rem.Records[order[b]]
		if (ra.MemberID == "") != (rb.MemberID == "") {
			return ra.MemberID != ""
		}
		return ra.LineNumber < rb.LineNumber
	})

	for _, idx := range order {
		rec := &rem.Records[idx]
		report.RecordsTotal = report.RecordsTotal.Add(rec.Amount)

		var (
			txn    *duesdomain.DuesTransaction
			method MatchMethod
			reason UnmatchedReason
		)
		switch {
		case rec.MemberID != "":
			txn, reason = m.byMember(rec)
			method = MatchByMember
		case opts.AutoMatch:
			txn, reason = m.byPeriod(rec)
			method = MatchByPeriod
		default:
			reason = ReasonMissingMemberID
		}

		if txn == nil {
			report.UnmatchedRecords = append(report.UnmatchedRecords, UnmatchedRecord{
				LineNumber: rec.LineNumber,
				MemberID:   rec.MemberID,
				Amount:     rec.Amount,
				Reason:     reason,
			})
			report.UnmatchedAmount = report.UnmatchedAmount.Add(rec.Amount)
			continue
		}

		m.consumed[txn.TransactionID] = true
		variance := rec.Amount.Sub(txn.Amount)
		rec.MatchedTransactionID = txn.TransactionID
		rec.LineVariance = decimal.NewNullDecimal(variance)
		rec.MatchMethod = method

		report.Matches = append(report.Matches, LineMatch{
			LineNumber:     rec.LineNumber,
			MemberID:       txn.MemberID,
			TransactionID:  txn.TransactionID,
			Method:         method,
			RemittedAmount: rec.Amount,
			ExpectedAmount: txn.Amount,
			LineVariance:   variance,
		})
		report.TotalVariance = report.TotalVariance.Add(variance)
		report.MatchedAmount = report.MatchedAmount.Add(rec.Amount)

		if txn.MarkPaid(rem.RemittanceID, rem.RemittanceDate, rec.Amount) {
			report.Applied = append(report.Applied, txn.TransactionID)
			report.changed = append(report.changed, txn)
		}
	}
	sort.Slice(report.Matches, func(a, b int) bool { return report.Matches[a].LineNumber < report.Matches[b].LineNumber })
	sort.Slice(report.UnmatchedRecords, func(a, b int) bool {
		return report.UnmatchedRecords[a].LineNumber < report.UnmatchedRecords[b].LineNumber
	})

	for _, t := range pool {
		if m.consumed[t.TransactionID] {
			continue
		}
		// 上次由本汇款支付、这次未匹配到的账单恢复为待付
		if t.Revert(rem.RemittanceID) {
			report.Reverted = append(report.Reverted, t.TransactionID)
			report.changed = append(report.changed, t)
		}
		if t.Status == duesdomain.TransactionPending {
			report.UnmatchedTransactions = append(report.UnmatchedTransactions, UnmatchedTransaction{
				TransactionID: t.TransactionID,
				MemberID:      t.MemberID,
				PeriodStart:   t.PeriodStart,
				PeriodEnd:     t.PeriodEnd,
				Amount:        t.Amount,
			})
		}
	}

	switch {
	case len(report.Matches) == 0:
		report.Status = StatusNeedsReview
		report.Outcome = OutcomeNoMatch
	case report.TotalVariance.Abs().LessThan(tolerance):
		report.Status = StatusReconciled
		report.Outcome = OutcomeMatched
	default:
		report.Status = StatusVarianceDetected
		report.Outcome = OutcomeMatched
	}
	report.Warnings = warnings(rem, report)

	rem.ReconciliationStatus = report.Status
	rem.VarianceAmount = report.TotalVariance
	rem.MatchedCount = len(report.Matches)
	rem.UnmatchedRecordCount = len(report.UnmatchedRecords)
	rem.UnmatchedTransactionCount = len(report.UnmatchedTransactions)
	rem.ReconciledAt = &now
	return report, nil
}

// Unreconcile 撤销汇款已支付的账单并恢复为待对账
func Unreconcile(rem *EmployerRemittance, txns []*duesdomain.DuesTransaction) ([]*duesdomain.DuesTransaction, error) {
	if rem.ReconciliationStatus == StatusCompleted {
		return nil, fmt.Errorf("%w: %s", ErrRemittanceClosed, rem.RemittanceID)
	}
	var reverted []*duesdomain.DuesTransaction
	for _, t := range uniqueTransactions(txns) {
		if t.Revert(rem.RemittanceID) {
			reverted = append(reverted, t)
		}
	}
	rem.ResetResults()
	return reverted, nil
}

type matcher struct {
	rem      *EmployerRemittance
	pool     []*duesdomain.DuesTransaction
	consumed map[string]bool
}

// available 待付或已由本汇款支付
func (m *matcher) available(t *duesdomain.DuesTransaction) bool {
	if m.consumed[t.TransactionID] {
		return false
	}
	return t.Status == duesdomain.TransactionPending || t.PaidBy(m.rem.RemittanceID)
}

func (m *matcher) byMember(rec *RemittanceRecord) (*duesdomain.DuesTransaction, UnmatchedReason) {
	start, end := rec.Period(m.rem)
	return m.pick(rec.Amount, func(t *duesdomain.DuesTransaction) bool {
		return t.MemberID == rec.MemberID && t.Overlaps(start, end)
	})
}

func (m *matcher) byPeriod(rec *RemittanceRecord) (*duesdomain.DuesTransaction, UnmatchedReason) {
	start, end := rec.Period(m.rem)
	return m.pick(rec.Amount, func(t *duesdomain.DuesTransaction) bool {
		return t.PeriodStart.Equal(start) && t.PeriodEnd.Equal(end)
	})
}

// pick 在候选中选金额最接近的账单，其次创建最早，再次账单号最小。
// 有相关账单但均已被支付或占用时原因为重复付款
func (m *matcher) pick(amount decimal.Decimal, related func(*duesdomain.DuesTransaction) bool) (*duesdomain.DuesTransaction, UnmatchedReason) {
	var best *duesdomain.DuesTransaction
	seen := false
	for _, t := range m.pool {
		if t.Status == duesdomain.TransactionCancelled || !related(t) {
			continue
		}
		seen = true
		if !m.available(t) {
			continue
		}
		if best == nil || closer(t, best, amount) {
			best = t
		}
	}
	if best != nil {
		return best, ""
	}
	if seen {
		return nil, ReasonDuplicatePayment
	}
	return nil, ReasonNoCandidate
}

func closer(a, b *duesdomain.DuesTransaction, amount decimal.Decimal) bool {
	da, db := a.Amount.Sub(amount).Abs(), b.Amount.Sub(amount).Abs()
	if c := da.Cmp(db); c != 0 {
		return c < 0
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.TransactionID < b.TransactionID
}

func uniqueTransactions(txns []*duesdomain.DuesTransaction) []*duesdomain.DuesTransaction {
	seen := make(map[string]bool, len(txns))
	out := make([]*duesdomain.DuesTransaction, 0, len(txns))
	for _, t := range txns {
		if t == nil || seen[t.TransactionID] {
			continue
		}
		seen[t.TransactionID] = true
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TransactionID < out[j].TransactionID })
	return out
}

func warnings(rem *EmployerRemittance, r *Report) []string {
	w := []string{}
	if !r.DeclaredTotal.Equal(r.RecordsTotal) {
		w = append(w, fmt.Sprintf("declared total %s differs from sum of records %s",
			r.DeclaredTotal.StringFixed(2), r.RecordsTotal.StringFixed(2)))
	}
	if n := len(r.UnmatchedRecords); n > 0 {
		w = append(w, fmt.Sprintf("%d records totalling %s were not matched", n, r.UnmatchedAmount.StringFixed(2)))
	}
	if rem.MemberCount > 0 && rem.MemberCount != len(rem.Records) {
		w = append(w, fmt.Sprintf("declared member count %d differs from %d records", rem.MemberCount, len(rem.Records)))
	}
	return w
}
