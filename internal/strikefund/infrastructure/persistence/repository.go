// Package persistence 罢工基金 gorm 仓储
package persistence

import (
	"context"
	"database/sql"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/wyfcoding/unionfinance/internal/strikefund/domain"
	"github.com/wyfcoding/unionfinance/pkg/db"
)

type fundRepository struct {
	db *gorm.DB
}

// NewFundRepository 创建基金仓储
func NewFundRepository(gdb *gorm.DB) domain.FundRepository {
	return &fundRepository{db: gdb}
}

func (r *fundRepository) Save(ctx context.Context, fund *domain.StrikeFund) error {
	return db.Conn(ctx, r.db).Save(fund).Error
}

func (r *fundRepository) GetByFundID(ctx context.Context, fundID string) (*domain.StrikeFund, error) {
	var fund domain.StrikeFund
	err := db.Conn(ctx, r.db).Where("fund_id = ?", fundID).First(&fund).Error
	if db.IsNotFound(err) {
		return nil, domain.ErrFundNotFound
	}
	if err != nil {
		return nil, err
	}
	return &fund, nil
}

func (r *fundRepository) GetForUpdate(ctx context.Context, fundID string) (*domain.StrikeFund, error) {
	var fund domain.StrikeFund
	err := db.Conn(ctx, r.db).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("fund_id = ?", fundID).
		First(&fund).Error
	if db.IsNotFound(err) {
		return nil, domain.ErrFundNotFound
	}
	if err != nil {
		return nil, err
	}
	return &fund, nil
}

func (r *fundRepository) ListActive(ctx context.Context) ([]*domain.StrikeFund, error) {
	var funds []*domain.StrikeFund
	err := db.Conn(ctx, r.db).Where("is_active = ?", true).Order("fund_id ASC").Find(&funds).Error
	return funds, err
}

type flowRepository struct {
	db *gorm.DB
}

// NewFlowRepository 创建日流量仓储
func NewFlowRepository(gdb *gorm.DB) domain.FlowRepository {
	return &flowRepository{db: gdb}
}

func (r *flowRepository) Upsert(ctx context.Context, flow *domain.DailyFlow) error {
	return db.Conn(ctx, r.db).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "fund_id"}, {Name: "flow_date"}},
		DoUpdates: clause.AssignmentColumns([]string{"donations", "disbursements", "updated_at"}),
	}).Create(flow).Error
}

func (r *flowRepository) Get(ctx context.Context, fundID string, day time.Time) (*domain.DailyFlow, error) {
	var flow domain.DailyFlow
	err := db.Conn(ctx, r.db).Where("fund_id = ? AND flow_date = ?", fundID, day).First(&flow).Error
	if db.IsNotFound(err) {
		return nil, domain.ErrFlowNotFound
	}
	if err != nil {
		return nil, err
	}
	return &flow, nil
}

func (r *flowRepository) ListRange(ctx context.Context, fundID string, start, end time.Time) ([]*domain.DailyFlow, error) {
	var flows []*domain.DailyFlow
	err := db.Conn(ctx, r.db).
		Where("fund_id = ? AND flow_date >= ? AND flow_date <= ?", fundID, start, end).
		Order("flow_date ASC").
		Find(&flows).Error
	return flows, err
}

func (r *flowRepository) FirstDate(ctx context.Context, fundID string) (*time.Time, error) {
	var first sql.NullTime
	err := db.Conn(ctx, r.db).Model(&domain.DailyFlow{}).
		Where("fund_id = ?", fundID).
		Select("MIN(flow_date)").
		Scan(&first).Error
	if err != nil || !first.Valid {
		return nil, err
	}
	return &first.Time, nil
}

type alertRepository struct {
	db *gorm.DB
}

// NewAlertRepository 依赖 (fund_id, alert_date) 唯一索引去重
func NewAlertRepository(gdb *gorm.DB) domain.AlertStore {
	return &alertRepository{db: gdb}
}

func (r *alertRepository) Record(ctx context.Context, alert *domain.FundAlert) (bool, error) {
	err := db.Conn(ctx, r.db).Create(alert).Error
	if db.IsDuplicate(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// AutoMigrate 迁移基金相关表
func AutoMigrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(&domain.StrikeFund{}, &domain.DailyFlow{}, &domain.FundAlert{})
}
