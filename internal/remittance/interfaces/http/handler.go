// Package http 汇款 HTTP 接口
package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/wyfcoding/unionfinance/internal/remittance/application"
	"github.com/wyfcoding/unionfinance/internal/remittance/domain"
	"github.com/wyfcoding/unionfinance/pkg/logger"
	"github.com/wyfcoding/unionfinance/pkg/response"
)

const maxUploadBytes = 10 << 20

// RemittanceHandler 汇款 HTTP 处理器
type RemittanceHandler struct {
	svc         *application.ReconciliationService
	uploadLimit gin.HandlerFunc
}

// NewRemittanceHandler 创建处理器，uploadLimit 为提交接口的限流中间件，可为空
func NewRemittanceHandler(svc *application.ReconciliationService, uploadLimit gin.HandlerFunc) *RemittanceHandler {
	return &RemittanceHandler{svc: svc, uploadLimit: uploadLimit}
}

// RegisterRoutes 注册路由
func (h *RemittanceHandler) RegisterRoutes(r *gin.RouterGroup) {
	api := r.Group("/remittances")
	submit := []gin.HandlerFunc{}
	if h.uploadLimit != nil {
		submit = append(submit, h.uploadLimit)
	}
	{
		api.POST("", append(submit, h.Submit)...)
		api.POST("/import", append(submit, h.Import)...)
		api.GET("", h.List)
		api.GET("/:id", h.Get)
		api.POST("/:id/reconcile", h.Reconcile)
		api.POST("/:id/unreconcile", h.Unreconcile)
		api.POST("/:id/complete", h.Complete)
	}
}

// Submit 以 JSON 提交汇款
func (h *RemittanceHandler) Submit(c *gin.Context) {
	var req application.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid request", err.Error())
		return
	}
	rem, err := h.svc.SubmitRemittance(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Created(c, rem)
}

// Import 上传 .csv / .xlsx 明细，字段 file，其余字段为表单参数
func (h *RemittanceHandler) Import(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes)
	var req application.SubmitRequest
	if err := c.ShouldBind(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid request", err.Error())
		return
	}
	if v := c.PostForm("total_amount"); v != "" {
		amount, err := decimal.NewFromString(v)
		if err != nil {
			response.ErrorWithStatus(c, http.StatusBadRequest, "invalid total_amount", err.Error())
			return
		}
		req.TotalAmount = amount
	}
	fh, err := c.FormFile("file")
	if err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "file is required", err.Error())
		return
	}
	f, err := fh.Open()
	if err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "cannot open upload", err.Error())
		return
	}
	defer f.Close()

	rem, err := h.svc.ImportRemittance(c.Request.Context(), req, fh.Filename, f)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Created(c, rem)
}

// List 雇主汇款列表
func (h *RemittanceHandler) List(c *gin.Context) {
	employerID := c.Query("employer_id")
	if employerID == "" {
		response.ErrorWithStatus(c, http.StatusBadRequest, "employer_id is required", "")
		return
	}
	rems, err := h.svc.ListRemittances(c.Request.Context(), employerID)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, rems)
}

// Get 汇款详情
func (h *RemittanceHandler) Get(c *gin.Context) {
	view, err := h.svc.GetRemittance(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, view)
}

// Reconcile 对账，零匹配也返回 200 与报告
func (h *RemittanceHandler) Reconcile(c *gin.Context) {
	report, err := h.svc.Reconcile(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, report)
}

// Unreconcile 撤销对账
func (h *RemittanceHandler) Unreconcile(c *gin.Context) {
	rem, err := h.svc.Unreconcile(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, rem)
}

// Complete 确认完结
func (h *RemittanceHandler) Complete(c *gin.Context) {
	rem, err := h.svc.Complete(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, rem)
}

func writeError(c *gin.Context, err error) {
	var already *domain.AlreadyReconciledError
	switch {
	case errors.Is(err, domain.ErrInvalidRemittance):
		response.ErrorWithStatus(c, http.StatusBadRequest, err.Error(), "")
	case errors.Is(err, domain.ErrRemittanceNotFound):
		response.ErrorWithStatus(c, http.StatusNotFound, err.Error(), "")
	case errors.As(err, &already):
		response.ErrorWithData(c, http.StatusConflict, err.Error(), gin.H{"code": already.Code(), "status": already.Status})
	case errors.Is(err, domain.ErrNotReconciled), errors.Is(err, domain.ErrRemittanceClosed), errors.Is(err, domain.ErrCandidatesChanged):
		response.ErrorWithStatus(c, http.StatusConflict, err.Error(), "")
	default:
		logger.Error(c.Request.Context(), "remittance request failed", "path", c.FullPath(), "error", err)
		response.ErrorWithStatus(c, http.StatusInternalServerError, "internal error", "")
	}
}
