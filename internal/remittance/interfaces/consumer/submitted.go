// Package consumer 汇款事件消费
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/wyfcoding/unionfinance/internal/remittance/domain"
	"github.com/wyfcoding/unionfinance/pkg/mq"
)

// Reconciler 对账入口
type Reconciler interface {
	Reconcile(ctx context.Context, remittanceID string) (*domain.Report, error)
}

// SubmittedHandler 收到 remittance.submitted 后自动对账
type SubmittedHandler struct {
	reconciler Reconciler
	logger     *slog.Logger
}

// NewSubmittedHandler 创建消费处理器
func NewSubmittedHandler(reconciler Reconciler, logger *slog.Logger) *SubmittedHandler {
	return &SubmittedHandler{reconciler: reconciler, logger: logger.With("module", "remittance_consumer")}
}

// Handle 实现 mq.Handler。已对平或不存在的汇款直接确认，其余错误交给死信队列
func (h *SubmittedHandler) Handle(ctx context.Context, msg *mq.Message) error {
	var ev domain.SubmittedEvent
	if err := msg.UnmarshalPayload(&ev); err != nil {
		return fmt.Errorf("decode submitted event at offset %d: %w", msg.Offset, err)
	}
	if ev.RemittanceID == "" {
		return fmt.Errorf("submitted event at offset %d has no remittance_id", msg.Offset)
	}

	report, err := h.reconciler.Reconcile(ctx, ev.RemittanceID)
	var already *domain.AlreadyReconciledError
	switch {
	case errors.As(err, &already):
		h.logger.InfoContext(ctx, "remittance already reconciled, skipping", "remittance_id", ev.RemittanceID, "status", already.Status)
		return nil
	case errors.Is(err, domain.ErrRemittanceNotFound):
		h.logger.WarnContext(ctx, "submitted remittance not found", "remittance_id", ev.RemittanceID)
		return nil
	case err != nil:
		return fmt.Errorf("reconcile %s: %w", ev.RemittanceID, err)
	}
	if nm := report.Err(); nm != nil {
		h.logger.WarnContext(ctx, "remittance needs review", "remittance_id", ev.RemittanceID, "error", nm)
	}
	return nil
}
