package orders

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderNotPending is returned when a payment token is requested for an
	// order that is no longer awaiting payment.
	ErrOrderNotPending = errors.New("order is not awaiting payment")
)

// ValidationError reports rejected input. Fields maps a request field to
// what is wrong with it.
type ValidationError struct {
	Message string
	Fields  map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}

	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+" "+e.Fields[k])
	}

	msg := e.Message
	if msg == "" {
		msg = "invalid request"
	}
	return msg + ": " + strings.Join(parts, "; ")
}

type ProductNotFoundError struct {
	ProductID int64
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %d not found", e.ProductID)
}

type InsufficientStockError struct {
	ProductID   int64
	ProductName string
	Available   int
	Requested   int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: %d available, %d requested",
		e.ProductName, e.Available, e.Requested)
}

// OrderPersistenceError means the order transaction did not commit. Nothing
// from the attempt is visible, so the whole request can be retried.
type OrderPersistenceError struct {
	Err error
}

func (e *OrderPersistenceError) Error() string {
	return "persist order: " + e.Err.Error()
}

func (e *OrderPersistenceError) Unwrap() error {
	return e.Err
}

// PaymentProviderError means the order was committed but no payment token
// could be obtained. The order stays pending and the token can be requested
// again for OrderNumber.
type PaymentProviderError struct {
	OrderID     string
	OrderNumber string
	Err         error
}

func (e *PaymentProviderError) Error() string {
	return fmt.Sprintf("request payment token for %s: %v", e.OrderNumber, e.Err)
}

func (e *PaymentProviderError) Unwrap() error {
	return e.Err
}
