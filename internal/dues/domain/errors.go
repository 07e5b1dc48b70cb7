package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// 错误码，写入批量结果与 HTTP 响应
const (
	CodeConfiguration     = "CONFIGURATION_ERROR"
	CodeMissingFact       = "MISSING_FACT"
	CodeInvalidFact       = "INVALID_FACT"
	CodeFormulaEvaluation = "FORMULA_EVALUATION_ERROR"
	CodeNoActiveRule      = "NO_ACTIVE_RULE"
	CodeInternal          = "INTERNAL_ERROR"
)

var (
	ErrRuleNotFound        = errors.New("dues rule not found")
	ErrAssignmentNotFound  = errors.New("dues assignment not found")
	ErrTransactionNotFound = errors.New("dues transaction not found")
)

// CodedError 带稳定错误码的错误
type CodedError interface {
	error
	Code() string
}

// CodeOf 提取错误码，未知错误归为 INTERNAL_ERROR
func CodeOf(err error) string {
	var coded CodedError
	if errors.As(err, &coded) {
		return coded.Code()
	}
	return CodeInternal
}

// ConfigurationError 规则配置错误，在规则加载时暴露，整批计算中止
type ConfigurationError struct {
	RuleID string
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid dues rule %q: %s", e.RuleID, e.Reason)
	}
	return fmt.Sprintf("invalid dues rule %q: %s: %s", e.RuleID, e.Field, e.Reason)
}

func (e *ConfigurationError) Code() string { return CodeConfiguration }

// IsConfigurationError 判断是否为配置错误
func IsConfigurationError(err error) bool {
	var cfg *ConfigurationError
	return errors.As(err, &cfg)
}

// MissingFactError 计算所需事实缺失
type MissingFactError struct {
	RuleID string
	Fact   FactName
}

func (e *MissingFactError) Error() string {
	return fmt.Sprintf("rule %q requires fact %q which is missing", e.RuleID, e.Fact)
}

func (e *MissingFactError) Code() string { return CodeMissingFact }

// InvalidFactError 事实取值非法（负数）
type InvalidFactError struct {
	Fact  FactName
	Value decimal.Decimal
}

func (e *InvalidFactError) Error() string {
	return fmt.Sprintf("fact %q must not be negative, got %s", e.Fact, e.Value.String())
}

func (e *InvalidFactError) Code() string { return CodeInvalidFact }

// FormulaEvaluationError 公式非法或求值失败
type FormulaEvaluationError struct {
	RuleID  string
	Formula string
	Reason  string
}

func (e *FormulaEvaluationError) Error() string {
	return fmt.Sprintf("formula %q of rule %q: %s", e.Formula, e.RuleID, e.Reason)
}

func (e *FormulaEvaluationError) Code() string { return CodeFormulaEvaluation }

// NoActiveRuleError 没有覆盖账期的有效规则
type NoActiveRuleError struct {
	MemberID  string
	PeriodEnd time.Time
}

func (e *NoActiveRuleError) Error() string {
	return fmt.Sprintf("no active dues rule for member %q covering %s", e.MemberID, e.PeriodEnd.Format(time.DateOnly))
}

func (e *NoActiveRuleError) Code() string { return CodeNoActiveRule }

// Message 单个成员的失败信息
type Message struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewMessage 由错误构造 Message
func NewMessage(err error) Message {
	return Message{Code: CodeOf(err), Message: err.Error()}
}
