package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/Gabriel171203/flowershop-project/internal/domain"
	"github.com/Gabriel171203/flowershop-project/internal/logging"
	"github.com/Gabriel171203/flowershop-project/internal/payment"
)

const maxTransitionAttempts = 3

// Reasons reported in NotificationOutcome.
const (
	ReasonApplied    = "applied"
	ReasonDuplicate  = "duplicate"
	ReasonTerminal   = "terminal"
	ReasonNotForward = "not_forward"
	ReasonUnmapped   = "unmapped_status"
)

type NotificationOutcome struct {
	OrderNumber string
	Previous    domain.PaymentStatus
	Current     domain.PaymentStatus
	Applied     bool
	Reason      string
}

// HandlePaymentNotification verifies a provider notification and advances the
// order's payment status. Redelivered or stale notifications are successful
// no-ops. Errors wrapping payment.ErrNotificationAuth or ErrOrderNotFound are
// final; anything else is transient and the notification should be retried.
func (s *Service) HandlePaymentNotification(ctx context.Context, raw []byte) (*NotificationOutcome, error) {
	ctx, span := tracer.Start(ctx, "orders.HandlePaymentNotification")
	defer span.End()
	logger := logging.FromContext(ctx, s.logger)

	verified, err := s.verifyNotification(ctx, raw)
	if err != nil {
		if errors.Is(err, payment.ErrNotificationAuth) {
			s.metrics.NotificationHandled(ctx, "rejected")
		} else {
			s.metrics.NotificationHandled(ctx, "error")
		}
		recordError(span, err)
		return nil, err
	}
	span.SetAttributes(
		attribute.String("order.number", verified.OrderNumber),
		attribute.String("payment.transaction_status", verified.TransactionStatus),
	)
	logger = logger.With(
		zap.String("order_number", verified.OrderNumber),
		zap.String("transaction_status", verified.TransactionStatus),
		zap.String("fraud_status", verified.FraudStatus),
	)

	view, err := s.store.GetStatus(ctx, verified.OrderNumber)
	if err != nil {
		s.metrics.NotificationHandled(ctx, "error")
		recordError(span, err)
		return nil, fmt.Errorf("get order %s: %w", verified.OrderNumber, err)
	}
	if view == nil {
		s.metrics.NotificationHandled(ctx, "order_not_found")
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, verified.OrderNumber)
	}

	if !verified.GrossAmount.Equal(view.TotalAmount.Round(0)) {
		s.metrics.NotificationHandled(ctx, "rejected")
		err := fmt.Errorf("%w: gross amount %s does not match order total %s",
			payment.ErrNotificationAuth, verified.GrossAmount, view.TotalAmount)
		recordError(span, err)
		return nil, err
	}

	outcome := &NotificationOutcome{
		OrderNumber: view.OrderNumber,
		Previous:    view.Status,
		Current:     view.Status,
	}

	target, known := payment.MapStatus(verified.TransactionStatus, verified.FraudStatus)
	if !known {
		logger.Info("ignoring payment notification with unhandled status")
		outcome.Reason = ReasonUnmapped
		s.metrics.NotificationHandled(ctx, outcome.Reason)
		return outcome, nil
	}

	for attempt := 1; ; attempt++ {
		current := view.Status
		outcome.Previous, outcome.Current = current, current

		switch {
		case current == target:
			outcome.Reason = ReasonDuplicate
		case current.Terminal():
			outcome.Reason = ReasonTerminal
			logger.Warn("ignoring payment notification for order in terminal state",
				zap.String("current_status", string(current)),
				zap.String("target_status", string(target)),
			)
		case !domain.CanTransition(current, target):
			outcome.Reason = ReasonNotForward
			logger.Warn("ignoring backward payment status transition",
				zap.String("current_status", string(current)),
				zap.String("target_status", string(target)),
			)
		}
		if outcome.Reason != "" {
			s.metrics.NotificationHandled(ctx, outcome.Reason)
			return outcome, nil
		}

		ok, err := s.store.CompareAndSetPaymentStatus(ctx, view.OrderNumber, current, target, verified.Raw)
		if err != nil {
			s.metrics.NotificationHandled(ctx, "error")
			recordError(span, err)
			return nil, fmt.Errorf("update payment status of %s: %w", view.OrderNumber, err)
		}
		if ok {
			break
		}

		if attempt == maxTransitionAttempts {
			s.metrics.NotificationHandled(ctx, "error")
			err := fmt.Errorf("update payment status of %s: status kept changing concurrently", view.OrderNumber)
			recordError(span, err)
			return nil, err
		}

		// Another delivery moved the order first; re-evaluate against the new state.
		view, err = s.store.GetStatus(ctx, view.OrderNumber)
		if err != nil {
			s.metrics.NotificationHandled(ctx, "error")
			recordError(span, err)
			return nil, fmt.Errorf("get order %s: %w", outcome.OrderNumber, err)
		}
		if view == nil {
			s.metrics.NotificationHandled(ctx, "order_not_found")
			return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, outcome.OrderNumber)
		}
	}

	outcome.Current = target
	outcome.Applied = true
	outcome.Reason = ReasonApplied
	s.metrics.NotificationHandled(ctx, outcome.Reason)

	logger.Info("payment status updated",
		zap.String("from", string(outcome.Previous)),
		zap.String("to", string(outcome.Current)),
	)

	s.cacheStatus(ctx, StatusView{
		OrderNumber: view.OrderNumber,
		Status:      target,
		TotalAmount: view.TotalAmount,
		CreatedAt:   view.CreatedAt,
	})

	s.publish(ctx, domain.EventOrderPaymentStatusChanged, outcome.OrderNumber, domain.PaymentStatusChangedEvent{
		OrderNumber: outcome.OrderNumber,
		From:        outcome.Previous,
		To:          outcome.Current,
		Provider:    verified.TransactionStatus,
	})

	return outcome, nil
}

func (s *Service) verifyNotification(ctx context.Context, raw []byte) (*payment.Notification, error) {
	ctx, cancel := context.WithTimeout(ctx, s.paymentTimeout)
	defer cancel()

	start := time.Now()
	n, err := s.gateway.VerifyNotification(ctx, raw)
	s.metrics.GatewayCall(ctx, "verify_notification", start, err)
	if err != nil {
		if errors.Is(err, payment.ErrNotificationAuth) {
			return nil, err
		}
		return nil, fmt.Errorf("verify notification: %w", err)
	}
	return n, nil
}
