package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusChallenge PaymentStatus = "challenge"
	PaymentStatusPaid      PaymentStatus = "paid"
	PaymentStatusFailed    PaymentStatus = "failed"
)

var validNext = map[PaymentStatus]map[PaymentStatus]bool{
	PaymentStatusPending:   {PaymentStatusChallenge: true, PaymentStatusPaid: true, PaymentStatusFailed: true},
	PaymentStatusChallenge: {PaymentStatusPaid: true, PaymentStatusFailed: true},
	PaymentStatusPaid:      {},
	PaymentStatusFailed:    {},
}

// CanTransition reports whether from -> to is a forward move of the payment
// state machine. Staying in the same state is not a transition.
func CanTransition(from, to PaymentStatus) bool {
	return validNext[from][to]
}

// Terminal reports whether no further transition can leave s.
func (s PaymentStatus) Terminal() bool {
	next, ok := validNext[s]
	return ok && len(next) == 0
}

func (s PaymentStatus) Valid() bool {
	_, ok := validNext[s]
	return ok
}

type Customer struct {
	Name    string
	Email   string
	Phone   string
	Address string
}

// OrderItem is a line item. Name, category and price are snapshots taken
// when the order was placed and never follow later product changes.
type OrderItem struct {
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name"`
	Category    string          `json:"category,omitempty"`
	Quantity    int             `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
}

func (i OrderItem) Subtotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// MarshalJSON adds the computed subtotal to the line item.
func (i OrderItem) MarshalJSON() ([]byte, error) {
	type item OrderItem
	return json.Marshal(struct {
		item
		Subtotal decimal.Decimal `json:"subtotal"`
	}{item(i), i.Subtotal()})
}

type Order struct {
	ID              string          `json:"id"`
	OrderNumber     string          `json:"order_number"`
	CustomerName    string          `json:"customer_name"`
	CustomerEmail   string          `json:"customer_email"`
	CustomerPhone   string          `json:"customer_phone"`
	ShippingAddress string          `json:"shipping_address"`
	Notes           string          `json:"notes,omitempty"`
	DeliveryDate    string          `json:"delivery_date,omitempty"`
	DeliveryTime    string          `json:"delivery_time,omitempty"`
	Items           []OrderItem     `json:"items"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	PaymentStatus   PaymentStatus   `json:"payment_status"`
	// PaymentData is the verified provider payload. It stays internal.
	PaymentData     json.RawMessage `json:"-"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func (o *Order) Customer() Customer {
	return Customer{
		Name:    o.CustomerName,
		Email:   o.CustomerEmail,
		Phone:   o.CustomerPhone,
		Address: o.ShippingAddress,
	}
}

// ItemsTotal sums price x quantity over the line items.
func (o *Order) ItemsTotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range o.Items {
		total = total.Add(item.Subtotal())
	}
	return total
}
