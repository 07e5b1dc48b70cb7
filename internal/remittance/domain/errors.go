package domain

import (
	"errors"
	"fmt"
)

// 对账错误码
const (
	CodeAlreadyReconciled = "ALREADY_RECONCILED"
	CodeNoMatch           = "NO_MATCH"
)

var (
	ErrRemittanceNotFound = errors.New("remittance not found")
	ErrNotReconciled      = errors.New("remittance is not reconciled")
	ErrCandidatesChanged  = errors.New("candidate transactions changed during reconciliation")
	ErrRemittanceClosed   = errors.New("remittance is completed")
)

// AlreadyReconciledError 汇款已对平，需先撤销对账
type AlreadyReconciledError struct {
	RemittanceID string
	Status       ReconciliationStatus
}

func (e *AlreadyReconciledError) Error() string {
	return fmt.Sprintf("remittance %s is already %s", e.RemittanceID, e.Status)
}

// Code 错误码
func (e *AlreadyReconciledError) Code() string { return CodeAlreadyReconciled }

// NoMatchError 没有任何明细匹配到账单，作为报告的结果返回
type NoMatchError struct {
	RemittanceID string
	RecordCount  int
}

func (e *NoMatchError) Error() string {
	return fmt.Sprintf("remittance %s: none of %d records matched a transaction", e.RemittanceID, e.RecordCount)
}

// Code 错误码
func (e *NoMatchError) Code() string { return CodeNoMatch }
