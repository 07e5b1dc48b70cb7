package domain

import (
	"context"
)

// RemittanceRepository 汇款仓储，读取时带出明细
type RemittanceRepository interface {
	Save(ctx context.Context, rem *EmployerRemittance) error
	GetByRemittanceID(ctx context.Context, remittanceID string) (*EmployerRemittance, error)
	ListByEmployer(ctx context.Context, employerID string) ([]*EmployerRemittance, error)
}
