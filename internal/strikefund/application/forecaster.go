// Package application 罢工基金预测与告警服务
package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/wyfcoding/unionfinance/internal/strikefund/domain"
	"github.com/wyfcoding/unionfinance/pkg/config"
	"github.com/wyfcoding/unionfinance/pkg/db"
	"github.com/wyfcoding/unionfinance/pkg/lock"
	"github.com/wyfcoding/unionfinance/pkg/metrics"
	"github.com/wyfcoding/unionfinance/pkg/mq"
	"github.com/wyfcoding/unionfinance/pkg/utils"
)

// MaxForecastDays 预测天数上限
const MaxForecastDays = 3650

// ErrInvalidHorizon 预测天数越界
var ErrInvalidHorizon = fmt.Errorf("forecast days must be between 1 and %d", MaxForecastDays)

// Config 预测服务配置
type Config struct {
	Params              domain.Params
	DefaultForecastDays int
	MaxConcurrent       int
	AlertTopic          string
}

// Forecaster 基金消耗预测、流量记录与自动告警
type Forecaster struct {
	funds     domain.FundRepository
	flows     domain.FlowRepository
	alerts    domain.AlertStore
	tx        db.Transactor
	locker    lock.Locker
	publisher mq.Publisher
	ids       *utils.IDGenerator
	cfg       Config
	now       func() time.Time
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// NewForecaster 创建预测服务，publisher 可为空
func NewForecaster(
	funds domain.FundRepository,
	flows domain.FlowRepository,
	alerts domain.AlertStore,
	tx db.Transactor,
	locker lock.Locker,
	publisher mq.Publisher,
	ids *utils.IDGenerator,
	cfg Config,
	logger *slog.Logger,
	m *metrics.Metrics,
) *Forecaster {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	if cfg.DefaultForecastDays <= 0 {
		cfg.DefaultForecastDays = 180
	}
	return &Forecaster{
		funds:     funds,
		flows:     flows,
		alerts:    alerts,
		tx:        tx,
		locker:    locker,
		publisher: publisher,
		ids:       ids,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger.With("module", "strikefund_forecaster"),
		metrics:   m,
	}
}

// CreateFund 创建基金
func (s *Forecaster) CreateFund(ctx context.Context, req CreateFundRequest) (*domain.StrikeFund, error) {
	if req.OpeningBalance.IsNegative() {
		return nil, fmt.Errorf("%w: opening balance must not be negative", domain.ErrInvalidFlow)
	}
	fund := &domain.StrikeFund{
		FundID:         s.ids.Next("FND"),
		OrganizationID: req.OrganizationID,
		Name:           req.Name,
		CurrentBalance: req.OpeningBalance,
		IsActive:       true,
	}
	if err := s.funds.Save(ctx, fund); err != nil {
		return nil, fmt.Errorf("failed to save fund: %w", err)
	}
	s.logger.InfoContext(ctx, "strike fund created", "fund_id", fund.FundID, "organization_id", fund.OrganizationID)
	return fund, nil
}

// RecordDailyFlow 写入一日流量并按净流量变化调整余额
func (s *Forecaster) RecordDailyFlow(ctx context.Context, fundID string, req FlowRequest) (*domain.DailyFlow, error) {
	flow, err := domain.NewDailyFlow(fundID, req.FlowDate, req.Donations, req.Disbursements)
	if err != nil {
		return nil, err
	}
	release, err := s.locker.Acquire(ctx, []string{"fund:" + fundID})
	if err != nil {
		return nil, fmt.Errorf("failed to lock fund: %w", err)
	}
	defer release()

	err = s.tx.Transaction(ctx, func(ctx context.Context) error {
		fund, err := s.funds.GetForUpdate(ctx, fundID)
		if err != nil {
			return err
		}
		delta := flow.NetFlow()
		prev, err := s.flows.Get(ctx, fundID, flow.FlowDate)
		switch {
		case err == nil:
			delta = delta.Sub(prev.NetFlow())
		case !errors.Is(err, domain.ErrFlowNotFound):
			return fmt.Errorf("failed to load flow: %w", err)
		}
		if err := s.flows.Upsert(ctx, flow); err != nil {
			return fmt.Errorf("failed to save flow: %w", err)
		}
		fund.ApplyFlowChange(delta)
		return s.funds.Save(ctx, fund)
	})
	if err != nil {
		return nil, err
	}
	return flow, nil
}

// GenerateBurnRateForecast 生成三种情景预测，days 为 0 时取默认值
func (s *Forecaster) GenerateBurnRateForecast(ctx context.Context, fundID string, days int) (*domain.BurnRateForecast, error) {
	if days == 0 {
		days = s.cfg.DefaultForecastDays
	}
	if days < 1 || days > MaxForecastDays {
		return nil, ErrInvalidHorizon
	}
	fund, err := s.funds.GetByFundID(ctx, fundID)
	if err != nil {
		return nil, err
	}
	return s.forecast(ctx, fund, days)
}

// DetectSeasonalPatterns 回溯窗口内的周期性偏离
func (s *Forecaster) DetectSeasonalPatterns(ctx context.Context, fundID string) ([]domain.SeasonalPattern, error) {
	if _, err := s.funds.GetByFundID(ctx, fundID); err != nil {
		return nil, err
	}
	h, err := s.history(ctx, fundID, s.now())
	if err != nil {
		return nil, err
	}
	return domain.DetectSeasonalPatterns(h.Days, h.Net, s.cfg.Params.SeasonalityThreshold, domain.MinSeasonalSamples), nil
}

// GetFundStatus 基金余额与现实情景摘要
func (s *Forecaster) GetFundStatus(ctx context.Context, fundID string) (*FundStatusView, error) {
	fund, err := s.funds.GetByFundID(ctx, fundID)
	if err != nil {
		return nil, err
	}
	f, err := s.forecast(ctx, fund, s.horizon())
	if err != nil {
		return nil, err
	}
	view := &FundStatusView{
		FundID:         fund.FundID,
		Name:           fund.Name,
		CurrentBalance: fund.CurrentBalance,
		Status:         f.Status,
		Confidence:     f.Confidence,
		DailyBurnRate:  f.DailyBurnRate,
		AsOf:           f.AsOf,
	}
	if sc, ok := f.Scenario(domain.ScenarioRealistic); ok {
		view.DaysRemaining = sc.DaysRemaining
		view.DepletionDate = sc.DepletionDate
	}
	return view, nil
}

// ProcessAutomatedAlerts 并行检查所有有效基金，返回新记录的告警数
func (s *Forecaster) ProcessAutomatedAlerts(ctx context.Context) (int, error) {
	res, err := s.RunAlerts(ctx)
	if res == nil {
		return 0, err
	}
	return res.AlertsRaised, err
}

// RunAlerts 单个基金失败不影响其他基金，错误合并返回
func (s *Forecaster) RunAlerts(ctx context.Context) (*AlertRunResult, error) {
	funds, err := s.funds.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list funds: %w", err)
	}

	var (
		raised atomic.Int64
		mu     sync.Mutex
		errs   []error
	)
	g := new(errgroup.Group)
	g.SetLimit(s.cfg.MaxConcurrent)
	for _, fund := range funds {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			created, err := s.alertFund(ctx, fund)
			if err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("fund %s: %w", fund.FundID, err))
				mu.Unlock()
				return nil
			}
			if created {
				raised.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		errs = append(errs, err)
	}

	res := &AlertRunResult{FundsChecked: len(funds), AlertsRaised: int(raised.Load())}
	s.logger.InfoContext(ctx, "automated alerts processed", "funds", res.FundsChecked, "alerts", res.AlertsRaised, "errors", len(errs))
	return res, errors.Join(errs...)
}

func (s *Forecaster) alertFund(ctx context.Context, fund *domain.StrikeFund) (bool, error) {
	f, err := s.forecast(ctx, fund, s.horizon())
	if err != nil {
		return false, err
	}
	var level domain.AlertLevel
	switch f.Status {
	case domain.StatusCritical:
		level = domain.AlertCritical
	case domain.StatusWarning:
		level = domain.AlertWarning
	default:
		return false, nil
	}
	sc, _ := f.Scenario(domain.ScenarioRealistic)

	alert := &domain.FundAlert{
		FundID:        fund.FundID,
		AlertDate:     f.AsOf,
		Level:         level,
		DaysRemaining: *sc.DaysRemaining,
		Message:       fmt.Sprintf("fund %s projected to deplete in %d days at %s per day", fund.FundID, *sc.DaysRemaining, f.DailyBurnRate.StringFixed(2)),
	}
	created, err := s.alerts.Record(ctx, alert)
	if err != nil || !created {
		return false, err
	}

	s.metrics.RecordAlert(string(level))
	s.logger.WarnContext(ctx, "strike fund alert raised",
		"fund_id", fund.FundID,
		"level", level,
		"days_remaining", alert.DaysRemaining,
		"daily_burn_rate", f.DailyBurnRate.String(),
	)
	if s.publisher != nil && s.cfg.AlertTopic != "" {
		err := s.publisher.Publish(ctx, s.cfg.AlertTopic, fund.FundID, domain.AlertRaisedEvent{
			FundID:         fund.FundID,
			OrganizationID: fund.OrganizationID,
			Level:          level,
			DaysRemaining:  alert.DaysRemaining,
			DepletionDate:  sc.DepletionDate,
			DailyBurnRate:  f.DailyBurnRate,
			CurrentBalance: fund.CurrentBalance,
			AlertDate:      alert.AlertDate,
		})
		s.metrics.RecordPublish(s.cfg.AlertTopic, err)
		if err != nil {
			s.logger.WarnContext(ctx, "failed to publish alert", "fund_id", fund.FundID, "error", err)
		}
	}
	return true, nil
}

// horizon 告警与状态使用的预测天数，不短于警告阈值
func (s *Forecaster) horizon() int {
	return max(s.cfg.DefaultForecastDays, s.cfg.Params.WarningDays)
}

func (s *Forecaster) forecast(ctx context.Context, fund *domain.StrikeFund, days int) (*domain.BurnRateForecast, error) {
	asOf := s.now()
	h, err := s.history(ctx, fund.FundID, asOf)
	if err != nil {
		return nil, err
	}
	f := domain.Forecast(fund, h, s.cfg.Params, asOf, days)
	s.metrics.RecordForecast(string(f.Status))
	return f, nil
}

func (s *Forecaster) history(ctx context.Context, fundID string, asOf time.Time) (domain.History, error) {
	first, err := s.flows.FirstDate(ctx, fundID)
	if err != nil {
		return domain.History{}, fmt.Errorf("failed to load first flow date: %w", err)
	}
	end := utils.StartOfDay(asOf).AddDate(0, 0, -1)
	start := end.AddDate(0, 0, -(s.cfg.Params.WindowDays - 1))
	flows, err := s.flows.ListRange(ctx, fundID, start, end)
	if err != nil {
		return domain.History{}, fmt.Errorf("failed to load flows: %w", err)
	}
	return domain.BuildHistory(flows, first, asOf, s.cfg.Params.WindowDays), nil
}

// ParamsFromConfig 由配置构造预测参数
func ParamsFromConfig(c config.ForecastConfig) domain.Params {
	return domain.Params{
		WindowDays:            c.WindowDays,
		MinHistoryDays:        c.MinHistoryDays,
		OptimisticMultiplier:  decimal.NewFromFloat(c.OptimisticMultiplier),
		PessimisticMultiplier: decimal.NewFromFloat(c.PessimisticMultiplier),
		SeasonalityThreshold:  c.SeasonalityThreshold,
		GapRatioThreshold:     c.GapRatioThreshold,
		CriticalDays:          c.CriticalDays,
		WarningDays:           c.WarningDays,
	}
}
