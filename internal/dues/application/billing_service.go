package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/wyfcoding/unionfinance/internal/dues/domain"
	"github.com/wyfcoding/unionfinance/pkg/db"
	"github.com/wyfcoding/unionfinance/pkg/metrics"
	"github.com/wyfcoding/unionfinance/pkg/utils"
)

// ErrInvalidPeriod 账期结束不晚于开始
var ErrInvalidPeriod = errors.New("period_end must be after period_start")

// BillingService 出账服务：批量计算并为成功的会员生成待付账单
type BillingService struct {
	engine       *Engine
	assignments  domain.AssignmentRepository
	transactions domain.TransactionRepository
	tx           db.Transactor
	ids          *utils.IDGenerator
	logger       *slog.Logger
	metrics      *metrics.Metrics
}

// NewBillingService 创建出账服务
func NewBillingService(
	engine *Engine,
	assignments domain.AssignmentRepository,
	transactions domain.TransactionRepository,
	tx db.Transactor,
	ids *utils.IDGenerator,
	logger *slog.Logger,
	m *metrics.Metrics,
) *BillingService {
	return &BillingService{
		engine:       engine,
		assignments:  assignments,
		transactions: transactions,
		tx:           tx,
		ids:          ids,
		logger:       logger.With("module", "dues_billing"),
		metrics:      m,
	}
}

// RunBillingCycle 执行一个账期的出账，已出账的会员跳过
func (s *BillingService) RunBillingCycle(ctx context.Context, req BillingCycleRequest) (*BillingCycleResult, error) {
	if !req.PeriodEnd.After(req.PeriodStart) {
		return nil, ErrInvalidPeriod
	}
	start, end := req.PeriodStart.UTC(), req.PeriodEnd.UTC()

	inputs := make([]domain.CalculationInput, 0, len(req.Members))
	skipped := 0
	for _, m := range req.Members {
		billed, err := s.transactions.ExistsForPeriod(ctx, m.MemberID, start, end)
		if err != nil {
			return nil, fmt.Errorf("failed to check existing bill for %s: %w", m.MemberID, err)
		}
		if billed {
			skipped++
			continue
		}
		inputs = append(inputs, domain.CalculationInput{
			MemberID:           m.MemberID,
			OrganizationID:     req.OrganizationID,
			BillingPeriodStart: start,
			BillingPeriodEnd:   end,
			Facts:              m.Facts,
		})
	}

	batch, err := s.engine.BatchCalculateDuesSimple(ctx, inputs)
	if err != nil {
		return nil, err
	}

	created := make([]*domain.DuesTransaction, 0, len(batch.Successful))
	for _, res := range batch.Successful {
		employerID := ""
		a, err := s.assignments.GetActiveByMember(ctx, res.MemberID)
		switch {
		case err == nil:
			employerID = a.EmployerID
		case !errors.Is(err, domain.ErrAssignmentNotFound):
			return nil, fmt.Errorf("failed to load assignment for %s: %w", res.MemberID, err)
		}
		created = append(created, &domain.DuesTransaction{
			TransactionID:  s.ids.Next("TXN"),
			MemberID:       res.MemberID,
			OrganizationID: req.OrganizationID,
			EmployerID:     employerID,
			RuleID:         res.RuleID,
			PeriodStart:    start,
			PeriodEnd:      end,
			Amount:         res.TotalAmount,
			Status:         domain.TransactionPending,
		})
	}

	if err := s.tx.Transaction(ctx, func(ctx context.Context) error {
		return s.transactions.SaveBatch(ctx, created)
	}); err != nil {
		return nil, fmt.Errorf("failed to save dues transactions: %w", err)
	}
	s.metrics.AddBilled(len(created))

	s.logger.InfoContext(ctx, "billing cycle completed",
		"organization_id", req.OrganizationID,
		"period_start", start,
		"period_end", end,
		"billed", len(created),
		"failed", batch.Summary.FailureCount,
		"skipped", skipped,
	)
	return &BillingCycleResult{Batch: batch, Created: created, SkippedCount: skipped}, nil
}
