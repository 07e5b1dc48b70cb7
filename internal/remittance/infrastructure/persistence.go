// Package infrastructure 汇款仓储实现
package infrastructure

import (
	"context"
	"sort"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/wyfcoding/unionfinance/internal/remittance/domain"
	"github.com/wyfcoding/unionfinance/pkg/db"
)

// RemittanceRepository gorm 汇款仓储
type RemittanceRepository struct {
	db *gorm.DB
}

// NewRemittanceRepository 创建汇款仓储
func NewRemittanceRepository(gdb *gorm.DB) *RemittanceRepository {
	return &RemittanceRepository{db: gdb}
}

// Save 保存汇款及明细
func (r *RemittanceRepository) Save(ctx context.Context, rem *domain.EmployerRemittance) error {
	return db.Conn(ctx, r.db).Session(&gorm.Session{FullSaveAssociations: true}).Save(rem).Error
}

// GetByRemittanceID 按汇款号读取
func (r *RemittanceRepository) GetByRemittanceID(ctx context.Context, remittanceID string) (*domain.EmployerRemittance, error) {
	var rem domain.EmployerRemittance
	err := db.Conn(ctx, r.db).
		Preload("Records", func(tx *gorm.DB) *gorm.DB { return tx.Order("line_number ASC") }).
		Where("remittance_id = ?", remittanceID).
		First(&rem).Error
	if db.IsNotFound(err) {
		return nil, domain.ErrRemittanceNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rem, nil
}

// ListByEmployer 雇主的汇款，不含明细
func (r *RemittanceRepository) ListByEmployer(ctx context.Context, employerID string) ([]*domain.EmployerRemittance, error) {
	var rems []*domain.EmployerRemittance
	err := db.Conn(ctx, r.db).
		Where("employer_id = ?", employerID).
		Order("remittance_date DESC, id DESC").
		Find(&rems).Error
	return rems, err
}

// AutoMigrate 迁移汇款相关表
func AutoMigrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(&domain.EmployerRemittance{}, &domain.RemittanceRecord{})
}

// MemoryRemittanceRepository 内存汇款仓储
type MemoryRemittanceRepository struct {
	mu    sync.RWMutex
	items map[string]domain.EmployerRemittance
}

// NewMemoryRemittanceRepository 创建内存汇款仓储
func NewMemoryRemittanceRepository() *MemoryRemittanceRepository {
	return &MemoryRemittanceRepository{items: make(map[string]domain.EmployerRemittance)}
}

func (r *MemoryRemittanceRepository) Save(_ context.Context, rem *domain.EmployerRemittance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	if rem.CreatedAt.IsZero() {
		rem.CreatedAt = now
	}
	rem.UpdatedAt = now
	r.items[rem.RemittanceID] = clone(rem)
	return nil
}

func (r *MemoryRemittanceRepository) GetByRemittanceID(_ context.Context, remittanceID string) (*domain.EmployerRemittance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rem, ok := r.items[remittanceID]
	if !ok {
		return nil, domain.ErrRemittanceNotFound
	}
	out := clone(&rem)
	return &out, nil
}

func (r *MemoryRemittanceRepository) ListByEmployer(_ context.Context, employerID string) ([]*domain.EmployerRemittance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.EmployerRemittance, 0)
	for _, rem := range r.items {
		if rem.EmployerID != employerID {
			continue
		}
		c := clone(&rem)
		c.Records = nil
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].RemittanceDate.Equal(out[j].RemittanceDate) {
			return out[i].RemittanceDate.After(out[j].RemittanceDate)
		}
		return out[i].RemittanceID > out[j].RemittanceID
	})
	return out, nil
}

func clone(rem *domain.EmployerRemittance) domain.EmployerRemittance {
	c := *rem
	c.Records = append([]domain.RemittanceRecord(nil), rem.Records...)
	return c
}
