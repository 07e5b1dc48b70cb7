// Package application 会费计算应用层
package application

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/wyfcoding/unionfinance/internal/dues/domain"
	"github.com/wyfcoding/unionfinance/pkg/metrics"
)

// Engine 会费计算引擎，无状态，可并发调用
type Engine struct {
	rules   domain.RuleSource
	workers int
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewEngine 创建计算引擎，workers<=0 时使用 CPU 核数
func NewEngine(rules domain.RuleSource, workers int, logger *slog.Logger, m *metrics.Metrics) *Engine {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Engine{
		rules:   rules,
		workers: workers,
		logger:  logger.With("module", "dues_engine"),
		metrics: m,
	}
}

// CalculateMemberDues 计算单个会员的会费
func (e *Engine) CalculateMemberDues(ctx context.Context, input domain.CalculationInput) (domain.CalculationResult, error) {
	rules, err := e.rules.RulesForMember(ctx, input.MemberID)
	if err != nil {
		return domain.CalculationResult{}, err
	}
	rule := domain.SelectRule(rules, input.BillingPeriodEnd)
	if rule == nil {
		return domain.CalculationResult{}, &domain.NoActiveRuleError{MemberID: input.MemberID, PeriodEnd: input.BillingPeriodEnd}
	}
	return rule.Evaluate(input.MemberID, input.Facts)
}

// outcome 单个会员在批量中的结果槽
type outcome struct {
	index   int
	result  domain.CalculationResult
	failure *domain.FailedCalculation
}

// BatchCalculateDuesSimple 批量计算。单个会员的失败记入 Failed，不影响其它会员；
// 配置错误会中止整批。ctx 取消时返回已处理部分及 ctx.Err()
func (e *Engine) BatchCalculateDuesSimple(ctx context.Context, inputs []domain.CalculationInput) (*domain.BatchResult, error) {
	start := time.Now()
	defer func() { e.metrics.ObserveBatch(time.Since(start)) }()

	workers := e.workers
	if workers > len(inputs) {
		workers = len(inputs)
	}
	if workers < 1 {
		workers = 1
	}

	// 每个 worker 独占自己的结果切片，结束后合并
	partials := make([][]outcome, workers)
	jobs := make(chan int)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(jobs)
		for i := range inputs {
			select {
			case jobs <- i:
			case <-gctx.Done():
				return nil
			}
		}
		return nil
	})

	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for i := range jobs {
				if gctx.Err() != nil {
					return nil
				}
				res, err := e.CalculateMemberDues(gctx, inputs[i])
				if gctx.Err() != nil {
					return nil
				}
				if err != nil {
					if domain.IsConfigurationError(err) {
						return err
					}
					e.metrics.RecordCalculation(domain.CodeOf(err))
					e.logger.DebugContext(ctx, "member dues calculation failed", "member_id", inputs[i].MemberID, "error", err)
					partials[w] = append(partials[w], outcome{index: i, failure: &domain.FailedCalculation{
						MemberID: inputs[i].MemberID,
						Errors:   []domain.Message{domain.NewMessage(err)},
					}})
					continue
				}
				e.metrics.RecordCalculation("success")
				partials[w] = append(partials[w], outcome{index: i, result: res})
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		e.logger.ErrorContext(ctx, "batch aborted by configuration error", "error", err)
		return nil, fmt.Errorf("batch aborted: %w", err)
	}

	result := merge(partials)
	if err := ctx.Err(); err != nil {
		e.logger.WarnContext(ctx, "batch cancelled", "processed", result.TotalProcessed, "requested", len(inputs))
		return result, err
	}

	e.logger.InfoContext(ctx, "batch calculated",
		"total", result.TotalProcessed,
		"success", result.Summary.SuccessCount,
		"failed", result.Summary.FailureCount,
		"revenue", result.Summary.TotalRevenue.StringFixed(2),
		"duration", time.Since(start),
	)
	return result, nil
}

func merge(partials [][]outcome) *domain.BatchResult {
	var all []outcome
	for _, p := range partials {
		all = append(all, p...)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].index < all[j].index })

	result := &domain.BatchResult{
		TotalProcessed: len(all),
		Successful:     []domain.CalculationResult{},
		Failed:         []domain.FailedCalculation{},
	}
	revenue := decimal.Zero
	for _, o := range all {
		if o.failure != nil {
			result.Failed = append(result.Failed, *o.failure)
			continue
		}
		result.Successful = append(result.Successful, o.result)
		revenue = revenue.Add(o.result.TotalAmount)
	}
	result.Summary = domain.BatchSummary{
		SuccessCount: len(result.Successful),
		FailureCount: len(result.Failed),
		TotalRevenue: revenue,
	}
	return result
}
