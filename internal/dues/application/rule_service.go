package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	json "github.com/goccy/go-json"
	"gorm.io/datatypes"

	"github.com/wyfcoding/unionfinance/internal/dues/domain"
	"github.com/wyfcoding/unionfinance/pkg/db"
	"github.com/wyfcoding/unionfinance/pkg/utils"
)

// RuleInvalidator 规则变更后通知缓存失效
type RuleInvalidator interface {
	Invalidate(ruleCode string)
}

// RuleService 规则管理服务
type RuleService struct {
	rules       domain.RuleRepository
	assignments domain.AssignmentRepository
	tx          db.Transactor
	ids         *utils.IDGenerator
	invalidator RuleInvalidator
	logger      *slog.Logger
}

// NewRuleService 创建规则管理服务
func NewRuleService(
	rules domain.RuleRepository,
	assignments domain.AssignmentRepository,
	tx db.Transactor,
	ids *utils.IDGenerator,
	invalidator RuleInvalidator,
	logger *slog.Logger,
) *RuleService {
	return &RuleService{
		rules:       rules,
		assignments: assignments,
		tx:          tx,
		ids:         ids,
		invalidator: invalidator,
		logger:      logger.With("module", "dues_rule_service"),
	}
}

// CreateRule 编译通过后保存规则版本
func (s *RuleService) CreateRule(ctx context.Context, req RuleRequest) (*domain.DuesRule, error) {
	rule, err := toRule(req, s.ids.Next("RUL"))
	if err != nil {
		return nil, err
	}
	if _, err := domain.Compile(rule); err != nil {
		return nil, err
	}
	if err := s.rules.Save(ctx, rule); err != nil {
		return nil, fmt.Errorf("failed to save rule: %w", err)
	}
	s.invalidate(rule.RuleCode)

	s.logger.InfoContext(ctx, "dues rule created",
		"rule_id", rule.RuleID,
		"rule_code", rule.RuleCode,
		"type", rule.CalculationType,
		"effective_from", rule.EffectiveFrom,
	)
	return rule, nil
}

// ListRules 列出组织的所有规则版本
func (s *RuleService) ListRules(ctx context.Context, organizationID string) ([]*domain.DuesRule, error) {
	rules, err := s.rules.ListByOrganization(ctx, organizationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	return rules, nil
}

// PreviewRule 试算，不落库
func (s *RuleService) PreviewRule(_ context.Context, req PreviewRequest) (domain.CalculationResult, error) {
	rule, err := toRule(req.Rule, "preview")
	if err != nil {
		return domain.CalculationResult{}, err
	}
	compiled, err := domain.Compile(rule)
	if err != nil {
		return domain.CalculationResult{}, err
	}
	return compiled.Evaluate(req.MemberID, req.Facts)
}

// DeactivateRule 停用规则版本
func (s *RuleService) DeactivateRule(ctx context.Context, ruleID string) (*domain.DuesRule, error) {
	rule, err := s.rules.GetByRuleID(ctx, ruleID)
	if err != nil {
		return nil, err
	}
	if !rule.IsActive {
		return rule, nil
	}
	rule.IsActive = false
	if err := s.rules.Save(ctx, rule); err != nil {
		return nil, fmt.Errorf("failed to deactivate rule: %w", err)
	}
	s.invalidate(rule.RuleCode)
	s.logger.InfoContext(ctx, "dues rule deactivated", "rule_id", ruleID)
	return rule, nil
}

// AssignRule 绑定会员与规则编码，原有效绑定同时失效
func (s *RuleService) AssignRule(ctx context.Context, req AssignRequest) (*domain.MemberDuesAssignment, error) {
	versions, err := s.rules.ListByCode(ctx, req.RuleCode)
	if err != nil {
		return nil, fmt.Errorf("failed to load rule %s: %w", req.RuleCode, err)
	}
	if len(versions) == 0 {
		return nil, fmt.Errorf("rule code %s: %w", req.RuleCode, domain.ErrRuleNotFound)
	}

	assignment := &domain.MemberDuesAssignment{
		MemberID:       req.MemberID,
		OrganizationID: req.OrganizationID,
		EmployerID:     req.EmployerID,
		RuleCode:       req.RuleCode,
		IsActive:       true,
	}
	err = s.tx.Transaction(ctx, func(ctx context.Context) error {
		current, err := s.assignments.GetActiveByMember(ctx, req.MemberID)
		switch {
		case errors.Is(err, domain.ErrAssignmentNotFound):
		case err != nil:
			return err
		default:
			current.IsActive = false
			if err := s.assignments.Save(ctx, current); err != nil {
				return err
			}
		}
		return s.assignments.Save(ctx, assignment)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to assign rule: %w", err)
	}

	s.logger.InfoContext(ctx, "dues rule assigned", "member_id", req.MemberID, "rule_code", req.RuleCode)
	return assignment, nil
}

func (s *RuleService) invalidate(ruleCode string) {
	if s.invalidator != nil {
		s.invalidator.Invalidate(ruleCode)
	}
}

func toRule(req RuleRequest, ruleID string) (*domain.DuesRule, error) {
	rule := &domain.DuesRule{
		RuleID:           ruleID,
		RuleCode:         req.RuleCode,
		OrganizationID:   req.OrganizationID,
		Name:             req.Name,
		CalculationType:  req.CalculationType,
		PercentageRate:   req.PercentageRate,
		BaseField:        req.BaseField,
		FlatAmount:       req.FlatAmount,
		HourlyRate:       req.HourlyRate,
		HoursPerPeriod:   req.HoursPerPeriod,
		CustomFormula:    req.CustomFormula,
		BillingFrequency: req.BillingFrequency,
		EffectiveFrom:    req.EffectiveFrom.UTC(),
		IsActive:         true,
	}
	if req.EffectiveTo != nil {
		to := req.EffectiveTo.UTC()
		rule.EffectiveTo = &to
	}
	if len(req.Tiers) > 0 {
		raw, err := json.Marshal(req.Tiers)
		if err != nil {
			return nil, &domain.ConfigurationError{RuleID: ruleID, Field: "tier_structure", Reason: err.Error()}
		}
		rule.TierStructure = datatypes.JSON(raw)
	}
	return rule, nil
}
