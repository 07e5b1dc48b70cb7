// Package application 汇款对账应用服务
package application

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	duesdomain "github.com/wyfcoding/unionfinance/internal/dues/domain"
	"github.com/wyfcoding/unionfinance/internal/remittance/domain"
	"github.com/wyfcoding/unionfinance/pkg/db"
	"github.com/wyfcoding/unionfinance/pkg/lock"
	"github.com/wyfcoding/unionfinance/pkg/metrics"
	"github.com/wyfcoding/unionfinance/pkg/mq"
	"github.com/wyfcoding/unionfinance/pkg/utils"
)

// Config 对账配置
type Config struct {
	AutoMatch       bool
	Tolerance       decimal.Decimal
	SubmittedTopic  string
	ReconciledTopic string
}

// RecordParser 解析上传文件
type RecordParser interface {
	Parse(filename string, r io.Reader) ([]domain.RecordLine, error)
}

// ReconciliationService 汇款提交与对账
type ReconciliationService struct {
	remittances  domain.RemittanceRepository
	transactions duesdomain.TransactionRepository
	tx           db.Transactor
	locker       lock.Locker
	publisher    mq.Publisher
	parser       RecordParser
	ids          *utils.IDGenerator
	cfg          Config
	now          func() time.Time
	logger       *slog.Logger
	metrics      *metrics.Metrics
}

// NewReconciliationService 创建对账服务，publisher 可为空
func NewReconciliationService(
	remittances domain.RemittanceRepository,
	transactions duesdomain.TransactionRepository,
	tx db.Transactor,
	locker lock.Locker,
	publisher mq.Publisher,
	parser RecordParser,
	ids *utils.IDGenerator,
	cfg Config,
	logger *slog.Logger,
	m *metrics.Metrics,
) *ReconciliationService {
	return &ReconciliationService{
		remittances:  remittances,
		transactions: transactions,
		tx:           tx,
		locker:       locker,
		publisher:    publisher,
		parser:       parser,
		ids:          ids,
		cfg:          cfg,
		now:          func() time.Time { return time.Now().UTC() },
		logger:       logger.With("module", "reconciliation"),
		metrics:      m,
	}
}

// SubmitRemittance 保存汇款并发布提交事件
func (s *ReconciliationService) SubmitRemittance(ctx context.Context, req SubmitRequest) (*domain.EmployerRemittance, error) {
	rem, err := domain.NewRemittance(s.ids.Next("REM"), req.EmployerID, req.OrganizationID, req.TotalAmount,
		req.MemberCount, req.PeriodStart, req.PeriodEnd, req.RemittanceDate, req.Records)
	if err != nil {
		return nil, err
	}
	if err := s.remittances.Save(ctx, rem); err != nil {
		return nil, fmt.Errorf("failed to save remittance: %w", err)
	}

	s.logger.InfoContext(ctx, "remittance submitted",
		"remittance_id", rem.RemittanceID,
		"employer_id", rem.EmployerID,
		"records", len(rem.Records),
		"declared_total", rem.TotalAmount.StringFixed(2),
	)
	s.publish(ctx, s.cfg.SubmittedTopic, rem.RemittanceID, domain.SubmittedEvent{
		RemittanceID: rem.RemittanceID,
		EmployerID:   rem.EmployerID,
		SubmittedAt:  s.now(),
	})
	return rem, nil
}

// ImportRemittance 解析上传文件后提交。未申报总额时取明细合计
func (s *ReconciliationService) ImportRemittance(ctx context.Context, req SubmitRequest, filename string, r io.Reader) (*domain.EmployerRemittance, error) {
	lines, err := s.parser.Parse(filename, r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidRemittance, err)
	}
	req.Records = lines
	if req.TotalAmount.IsZero() {
		for _, l := range lines {
			req.TotalAmount = req.TotalAmount.Add(l.Amount)
		}
	}
	if req.MemberCount == 0 {
		req.MemberCount = len(lines)
	}
	return s.SubmitRemittance(ctx, req)
}

// GetRemittance 汇款详情
func (s *ReconciliationService) GetRemittance(ctx context.Context, remittanceID string) (*RemittanceView, error) {
	rem, err := s.remittances.GetByRemittanceID(ctx, remittanceID)
	if err != nil {
		return nil, err
	}
	paid, err := s.transactions.ListByRemittance(ctx, remittanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list paid transactions: %w", err)
	}
	view := &RemittanceView{EmployerRemittance: rem, PaidTransactionIDs: make([]string, 0, len(paid))}
	for _, t := range paid {
		view.PaidTransactionIDs = append(view.PaidTransactionIDs, t.TransactionID)
	}
	return view, nil
}

// ListRemittances 雇主的汇款列表
func (s *ReconciliationService) ListRemittances(ctx context.Context, employerID string) ([]*domain.EmployerRemittance, error) {
	return s.remittances.ListByEmployer(ctx, employerID)
}

// Reconcile 对账。同一账单的写入按账单号加锁串行，并在数据库事务中行锁读取
func (s *ReconciliationService) Reconcile(ctx context.Context, remittanceID string) (*domain.Report, error) {
	start := time.Now()
	rem, err := s.remittances.GetByRemittanceID(ctx, remittanceID)
	if err != nil {
		return nil, err
	}
	if err := rem.CanReconcile(); err != nil {
		return nil, err
	}

	ids, release, err := s.lockCandidates(ctx, rem)
	if err != nil {
		return nil, err
	}
	defer release()

	var report *domain.Report
	err = s.tx.Transaction(ctx, func(ctx context.Context) error {
		current, err := s.remittances.GetByRemittanceID(ctx, remittanceID)
		if err != nil {
			return err
		}
		txns, err := s.transactions.GetForUpdate(ctx, ids)
		if err != nil {
			return fmt.Errorf("failed to lock transactions: %w", err)
		}
		report, err = domain.Reconcile(current, txns, domain.Options{
			AutoMatch: s.cfg.AutoMatch,
			Tolerance: s.cfg.Tolerance,
			Now:       s.now(),
		})
		if err != nil {
			return err
		}
		for _, t := range report.Changed() {
			if err := s.transactions.Update(ctx, t); err != nil {
				return fmt.Errorf("failed to update transaction %s: %w", t.TransactionID, err)
			}
		}
		rem = current
		return s.remittances.Save(ctx, current)
	})
	if err != nil {
		return nil, err
	}

	abs, _ := report.TotalVariance.Abs().Float64()
	s.metrics.RecordReconciliation(string(report.Status), abs)
	s.logger.InfoContext(ctx, "remittance reconciled",
		"remittance_id", remittanceID,
		"status", report.Status,
		"matched", len(report.Matches),
		"unmatched_records", len(report.UnmatchedRecords),
		"unmatched_transactions", len(report.UnmatchedTransactions),
		"total_variance", report.TotalVariance.StringFixed(2),
		"duration", time.Since(start),
	)
	if len(report.Warnings) > 0 {
		s.logger.WarnContext(ctx, "reconciliation warnings", "remittance_id", remittanceID, "warnings", report.Warnings)
	}

	s.publish(ctx, s.cfg.ReconciledTopic, remittanceID, domain.ReconciledEvent{
		RemittanceID:     remittanceID,
		EmployerID:       rem.EmployerID,
		OrganizationID:   rem.OrganizationID,
		Status:           report.Status,
		Outcome:          report.Outcome,
		TotalVariance:    report.TotalVariance,
		MatchedCount:     len(report.Matches),
		UnmatchedRecords: len(report.UnmatchedRecords),
		PaidTransactions: report.Applied,
		ReconciledAt:     s.now(),
	})
	return report, nil
}

// Unreconcile 撤销对账，恢复本汇款支付的账单
func (s *ReconciliationService) Unreconcile(ctx context.Context, remittanceID string) (*domain.EmployerRemittance, error) {
	paid, err := s.transactions.ListByRemittance(ctx, remittanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list paid transactions: %w", err)
	}
	ids := make([]string, 0, len(paid))
	for _, t := range paid {
		ids = append(ids, t.TransactionID)
	}
	release, err := s.locker.Acquire(ctx, lockKeys(remittanceID, ids))
	if err != nil {
		return nil, fmt.Errorf("failed to lock remittance %s: %w", remittanceID, err)
	}
	defer release()

	var rem *domain.EmployerRemittance
	err = s.tx.Transaction(ctx, func(ctx context.Context) error {
		var err error
		rem, err = s.remittances.GetByRemittanceID(ctx, remittanceID)
		if err != nil {
			return err
		}
		txns, err := s.transactions.GetForUpdate(ctx, ids)
		if err != nil {
			return fmt.Errorf("failed to lock transactions: %w", err)
		}
		reverted, err := domain.Unreconcile(rem, txns)
		if err != nil {
			return err
		}
		for _, t := range reverted {
			if err := s.transactions.Update(ctx, t); err != nil {
				return fmt.Errorf("failed to revert transaction %s: %w", t.TransactionID, err)
			}
		}
		return s.remittances.Save(ctx, rem)
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "remittance unreconciled", "remittance_id", remittanceID, "reverted", len(ids))
	return rem, nil
}

// Complete 确认已对平的汇款
func (s *ReconciliationService) Complete(ctx context.Context, remittanceID string) (*domain.EmployerRemittance, error) {
	release, err := s.locker.Acquire(ctx, lockKeys(remittanceID, nil))
	if err != nil {
		return nil, err
	}
	defer release()

	rem, err := s.remittances.GetByRemittanceID(ctx, remittanceID)
	if err != nil {
		return nil, err
	}
	if err := rem.Complete(); err != nil {
		return nil, err
	}
	if err := s.remittances.Save(ctx, rem); err != nil {
		return nil, fmt.Errorf("failed to save remittance: %w", err)
	}
	return rem, nil
}

// maxLockAttempts 候选账单集合在加锁期间变化时的最大重试次数
const maxLockAttempts = 3

// lockCandidates 锁定汇款与候选账单。加锁后重新列出候选，若出现未锁定的账单则扩大集合重试；
// 锁定后再生成的账单不参与本次对账
func (s *ReconciliationService) lockCandidates(ctx context.Context, rem *domain.EmployerRemittance) ([]string, func(), error) {
	ids, err := s.candidateIDs(ctx, rem)
	if err != nil {
		return nil, nil, err
	}
	for attempt := 1; ; attempt++ {
		release, err := s.locker.Acquire(ctx, lockKeys(rem.RemittanceID, ids))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to lock remittance %s: %w", rem.RemittanceID, err)
		}
		current, err := s.candidateIDs(ctx, rem)
		if err != nil {
			release()
			return nil, nil, err
		}
		extra := missing(ids, current)
		if len(extra) == 0 {
			return ids, release, nil
		}
		release()
		if attempt == maxLockAttempts {
			return nil, nil, fmt.Errorf("%w: remittance %s", domain.ErrCandidatesChanged, rem.RemittanceID)
		}
		s.logger.DebugContext(ctx, "candidate transactions changed while locking", "remittance_id", rem.RemittanceID, "added", len(extra))
		ids = append(ids, extra...)
	}
}

// missing current 中不属于 locked 的编号
func missing(locked, current []string) []string {
	set := make(map[string]bool, len(locked))
	for _, id := range locked {
		set[id] = true
	}
	var out []string
	for _, id := range current {
		if !set[id] {
			out = append(out, id)
		}
	}
	return out
}

// candidateIDs 雇主在汇款账期内的账单，以及已由本汇款支付的账单
func (s *ReconciliationService) candidateIDs(ctx context.Context, rem *domain.EmployerRemittance) ([]string, error) {
	start, end := rem.RemittancePeriodStart, rem.RemittancePeriodEnd
	for _, r := range rem.Records {
		if r.PeriodStart != nil && r.PeriodStart.Before(start) {
			start = *r.PeriodStart
		}
		if r.PeriodEnd != nil && r.PeriodEnd.After(end) {
			end = *r.PeriodEnd
		}
	}
	open, err := s.transactions.ListForEmployer(ctx, rem.EmployerID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to list employer transactions: %w", err)
	}
	paid, err := s.transactions.ListByRemittance(ctx, rem.RemittanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list paid transactions: %w", err)
	}
	seen := make(map[string]bool, len(open)+len(paid))
	ids := make([]string, 0, len(open)+len(paid))
	for _, t := range append(open, paid...) {
		if !seen[t.TransactionID] {
			seen[t.TransactionID] = true
			ids = append(ids, t.TransactionID)
		}
	}
	return ids, nil
}

func lockKeys(remittanceID string, transactionIDs []string) []string {
	keys := make([]string, 0, len(transactionIDs)+1)
	keys = append(keys, "remittance:"+remittanceID)
	for _, id := range transactionIDs {
		keys = append(keys, "txn:"+id)
	}
	return keys
}

func (s *ReconciliationService) publish(ctx context.Context, topic, key string, payload any) {
	if s.publisher == nil || topic == "" {
		return
	}
	err := s.publisher.Publish(ctx, topic, key, payload)
	s.metrics.RecordPublish(topic, err)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to publish event", "topic", topic, "key", key, "error", err)
	}
}
