package worker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Gabriel171203/flowershop-project/internal/logging"
	"github.com/Gabriel171203/flowershop-project/internal/orders"
	"github.com/Gabriel171203/flowershop-project/internal/payment"
)

type NotificationProcessor interface {
	HandlePaymentNotification(ctx context.Context, raw []byte) (*orders.NotificationOutcome, error)
}

// NotificationHandler applies queued payment notifications. Notifications
// that can never succeed are dropped so they do not block the partition;
// transient failures are returned and the message is redelivered.
type NotificationHandler struct {
	processor NotificationProcessor
	logger    *zap.Logger
}

func NewNotificationHandler(processor NotificationProcessor, logger *zap.Logger) *NotificationHandler {
	return &NotificationHandler{
		processor: processor,
		logger:    logger,
	}
}

func (h *NotificationHandler) Handle(ctx context.Context, payload []byte) error {
	logger := logging.WithTrace(ctx, logging.FromContext(ctx, h.logger))

	outcome, err := h.processor.HandlePaymentNotification(ctx, payload)
	switch {
	case err == nil:
		logger.Info("payment notification processed",
			zap.String("order_number", outcome.OrderNumber),
			zap.String("reason", outcome.Reason),
			zap.String("from", string(outcome.Previous)),
			zap.String("to", string(outcome.Current)),
		)
		return nil
	case errors.Is(err, payment.ErrNotificationAuth):
		logger.Error("dropping unauthenticated payment notification", zap.Error(err))
		return nil
	case errors.Is(err, orders.ErrOrderNotFound):
		logger.Warn("dropping payment notification for unknown order", zap.Error(err))
		return nil
	default:
		logger.Error("failed to process payment notification", zap.Error(err))
		return fmt.Errorf("handle payment notification: %w", err)
	}
}
