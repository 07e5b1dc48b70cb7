// Package http 罢工基金 HTTP 接口
package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/wyfcoding/unionfinance/internal/strikefund/application"
	"github.com/wyfcoding/unionfinance/internal/strikefund/domain"
	"github.com/wyfcoding/unionfinance/pkg/logger"
	"github.com/wyfcoding/unionfinance/pkg/response"
)

// FundHandler 罢工基金 HTTP 处理器
type FundHandler struct {
	svc *application.Forecaster
}

// NewFundHandler 创建处理器
func NewFundHandler(svc *application.Forecaster) *FundHandler {
	return &FundHandler{svc: svc}
}

// RegisterRoutes 注册路由
func (h *FundHandler) RegisterRoutes(r *gin.RouterGroup) {
	api := r.Group("/strike-funds")
	{
		api.POST("", h.CreateFund)
		api.POST("/alerts/run", h.RunAlerts)
		api.GET("/:id", h.GetStatus)
		api.GET("/:id/forecast", h.Forecast)
		api.GET("/:id/seasonality", h.Seasonality)
		api.POST("/:id/flows", h.RecordFlow)
	}
}

// CreateFund 创建基金
func (h *FundHandler) CreateFund(c *gin.Context) {
	var req application.CreateFundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid request", err.Error())
		return
	}
	fund, err := h.svc.CreateFund(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Created(c, fund)
}

// GetStatus 基金状态
func (h *FundHandler) GetStatus(c *gin.Context) {
	view, err := h.svc.GetFundStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, view)
}

// Forecast 消耗预测，days 可选
func (h *FundHandler) Forecast(c *gin.Context) {
	days := 0
	if v := c.Query("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			response.ErrorWithStatus(c, http.StatusBadRequest, "days must be an integer", err.Error())
			return
		}
		days = n
		if days == 0 {
			days = -1
		}
	}
	f, err := h.svc.GenerateBurnRateForecast(c.Request.Context(), c.Param("id"), days)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, f)
}

// Seasonality 周期性分析
func (h *FundHandler) Seasonality(c *gin.Context) {
	patterns, err := h.svc.DetectSeasonalPatterns(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, patterns)
}

// RecordFlow 记录一日流量
func (h *FundHandler) RecordFlow(c *gin.Context) {
	var req application.FlowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid request", err.Error())
		return
	}
	flow, err := h.svc.RecordDailyFlow(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, flow)
}

// RunAlerts 立即执行一轮自动告警
func (h *FundHandler) RunAlerts(c *gin.Context) {
	res, err := h.svc.RunAlerts(c.Request.Context())
	if err != nil && res == nil {
		writeError(c, err)
		return
	}
	if err != nil {
		logger.Warn(c.Request.Context(), "alert run finished with errors", "error", err)
	}
	response.Success(c, res)
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrFundNotFound):
		response.ErrorWithStatus(c, http.StatusNotFound, err.Error(), "")
	case errors.Is(err, domain.ErrInvalidFlow), errors.Is(err, application.ErrInvalidHorizon):
		response.ErrorWithStatus(c, http.StatusBadRequest, err.Error(), "")
	default:
		logger.Error(c.Request.Context(), "strike fund request failed", "path", c.FullPath(), "error", err)
		response.ErrorWithStatus(c, http.StatusInternalServerError, "internal error", "")
	}
}
