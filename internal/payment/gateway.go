package payment

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/Gabriel171203/flowershop-project/internal/domain"
)

var (
	// ErrNotificationAuth means a notification could not be proven to come
	// from the provider. It must never change order state.
	ErrNotificationAuth = errors.New("payment notification failed authentication")
	// ErrProvider wraps transport failures, timeouts and unexpected provider responses.
	ErrProvider = errors.New("payment provider error")
	// ErrTransactionNotFound is returned when the provider has no transaction
	// for the given order reference.
	ErrTransactionNotFound = errors.New("payment transaction not found")
)

type Item struct {
	ID       string
	Name     string
	Price    decimal.Decimal
	Quantity int
	Category string
}

type TokenRequest struct {
	OrderNumber string
	Amount      decimal.Decimal
	Customer    domain.Customer
	Items       []Item
}

type Token struct {
	Token       string `json:"token"`
	RedirectURL string `json:"redirect_url"`
}

// Notification is a provider transaction status that has been verified
// against the provider. Raw is the verified provider payload.
type Notification struct {
	OrderNumber       string
	TransactionID     string
	TransactionStatus string
	FraudStatus       string
	StatusCode        string
	GrossAmount       decimal.Decimal
	Raw               json.RawMessage
}

// Gateway is the payment provider boundary used by the order workflow.
type Gateway interface {
	RequestToken(ctx context.Context, req TokenRequest) (*Token, error)
	VerifyNotification(ctx context.Context, raw []byte) (*Notification, error)
	TransactionStatus(ctx context.Context, orderRef string) (*Notification, error)
}
