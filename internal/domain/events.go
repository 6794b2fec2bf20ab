package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventOrderCreated              = "order.created"
	EventOrderPaymentStatusChanged = "order.payment_status_changed"
)

// Envelope wraps every event published on the order events topic.
type Envelope struct {
	EventID     string    `json:"event_id"`
	EventType   string    `json:"event_type"`
	OccurredAt  time.Time `json:"occurred_at"`
	OrderNumber string    `json:"order_number"`
	Payload     any       `json:"payload"`
}

type OrderCreatedEvent struct {
	OrderID       string          `json:"order_id"`
	OrderNumber   string          `json:"order_number"`
	CustomerEmail string          `json:"customer_email"`
	Items         []OrderItem     `json:"items"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	PaymentStatus PaymentStatus   `json:"payment_status"`
}

type PaymentStatusChangedEvent struct {
	OrderNumber string        `json:"order_number"`
	From        PaymentStatus `json:"from"`
	To          PaymentStatus `json:"to"`
	Provider    string        `json:"provider_status"`
}
