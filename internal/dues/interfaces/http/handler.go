// Package http 会费 HTTP 接口
package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/wyfcoding/unionfinance/internal/dues/application"
	"github.com/wyfcoding/unionfinance/internal/dues/domain"
	"github.com/wyfcoding/unionfinance/pkg/logger"
	"github.com/wyfcoding/unionfinance/pkg/response"
)

// DuesHandler 会费 HTTP 处理器
type DuesHandler struct {
	engine  *application.Engine
	rules   *application.RuleService
	billing *application.BillingService
}

// NewDuesHandler 创建处理器
func NewDuesHandler(engine *application.Engine, rules *application.RuleService, billing *application.BillingService) *DuesHandler {
	return &DuesHandler{engine: engine, rules: rules, billing: billing}
}

// RegisterRoutes 注册路由
func (h *DuesHandler) RegisterRoutes(r *gin.RouterGroup) {
	api := r.Group("/dues")
	{
		api.POST("/rules", h.CreateRule)
		api.GET("/rules", h.ListRules)
		api.POST("/rules/preview", h.PreviewRule)
		api.POST("/rules/:id/deactivate", h.DeactivateRule)
		api.POST("/assignments", h.AssignRule)
		api.POST("/calculate", h.Calculate)
		api.POST("/batch", h.Batch)
		api.POST("/billing-cycles", h.RunBillingCycle)
	}
}

// CreateRule 创建规则版本
func (h *DuesHandler) CreateRule(c *gin.Context) {
	var req application.RuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid request", err.Error())
		return
	}
	rule, err := h.rules.CreateRule(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Created(c, rule)
}

// ListRules 列出组织的规则
func (h *DuesHandler) ListRules(c *gin.Context) {
	orgID := c.Query("organization_id")
	if orgID == "" {
		response.ErrorWithStatus(c, http.StatusBadRequest, "organization_id is required", "")
		return
	}
	rules, err := h.rules.ListRules(c.Request.Context(), orgID)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, rules)
}

// PreviewRule 试算
func (h *DuesHandler) PreviewRule(c *gin.Context) {
	var req application.PreviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid request", err.Error())
		return
	}
	res, err := h.rules.PreviewRule(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, res)
}

// DeactivateRule 停用规则版本
func (h *DuesHandler) DeactivateRule(c *gin.Context) {
	rule, err := h.rules.DeactivateRule(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, rule)
}

// AssignRule 绑定会员规则
func (h *DuesHandler) AssignRule(c *gin.Context) {
	var req application.AssignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid request", err.Error())
		return
	}
	a, err := h.rules.AssignRule(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Created(c, a)
}

// Calculate 单个会员计算
func (h *DuesHandler) Calculate(c *gin.Context) {
	var input domain.CalculationInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid request", err.Error())
		return
	}
	res, err := h.engine.CalculateMemberDues(c.Request.Context(), input)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, res)
}

// Batch 批量计算，单个会员失败体现在 failed 中
func (h *DuesHandler) Batch(c *gin.Context) {
	var req application.BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid request", err.Error())
		return
	}
	res, err := h.engine.BatchCalculateDuesSimple(c.Request.Context(), req.Inputs)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, res)
}

// RunBillingCycle 出账
func (h *DuesHandler) RunBillingCycle(c *gin.Context) {
	var req application.BillingCycleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid request", err.Error())
		return
	}
	res, err := h.billing.RunBillingCycle(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Created(c, res)
}

func writeError(c *gin.Context, err error) {
	var noRule *domain.NoActiveRuleError
	switch {
	case errors.Is(err, application.ErrInvalidPeriod):
		response.ErrorWithStatus(c, http.StatusBadRequest, err.Error(), "")
	case errors.Is(err, domain.ErrRuleNotFound), errors.Is(err, domain.ErrAssignmentNotFound), errors.As(err, &noRule):
		response.ErrorWithData(c, http.StatusNotFound, err.Error(), domain.NewMessage(err))
	case domain.CodeOf(err) != domain.CodeInternal:
		response.ErrorWithData(c, http.StatusUnprocessableEntity, err.Error(), domain.NewMessage(err))
	default:
		logger.Error(c.Request.Context(), "dues request failed", "path", c.FullPath(), "error", err)
		response.ErrorWithStatus(c, http.StatusInternalServerError, "internal error", "")
	}
}
