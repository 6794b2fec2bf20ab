package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/Gabriel171203/flowershop-project/orders"

// WorkflowMetrics are the order workflow instruments. The zero value is not
// usable; build it with NewWorkflowMetrics.
type WorkflowMetrics struct {
	orders        metric.Int64Counter
	notifications metric.Int64Counter
	paymentCalls  metric.Float64Histogram
}

func NewWorkflowMetrics() (*WorkflowMetrics, error) {
	meter := otel.Meter(meterName)

	orders, err := meter.Int64Counter("shop_orders_total",
		metric.WithDescription("Order placement attempts by kind and outcome"))
	if err != nil {
		return nil, err
	}

	notifications, err := meter.Int64Counter("shop_payment_notifications_total",
		metric.WithDescription("Payment notifications by outcome"))
	if err != nil {
		return nil, err
	}

	paymentCalls, err := meter.Float64Histogram("shop_payment_gateway_duration_seconds",
		metric.WithDescription("Latency of payment gateway calls"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	return &WorkflowMetrics{orders: orders, notifications: notifications, paymentCalls: paymentCalls}, nil
}

func (m *WorkflowMetrics) OrderPlaced(ctx context.Context, kind, outcome string) {
	if m == nil {
		return
	}
	m.orders.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("outcome", outcome),
	))
}

func (m *WorkflowMetrics) NotificationHandled(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.notifications.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *WorkflowMetrics) GatewayCall(ctx context.Context, operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.paymentCalls.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	))
}
