package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Gabriel171203/flowershop-project/internal/domain"
	"github.com/Gabriel171203/flowershop-project/internal/payment"
)

func TestService_CreateOrderRejectsInvalidInputBeforeTouchingStorage(t *testing.T) {
	gw := &fakeGateway{}
	// A nil database panics if the transaction were ever opened.
	svc := NewService(nil, nil, nil, newFakeStore(), gw, zap.NewNop())

	req := validRequest()
	req.Items = nil

	_, err := svc.CreateOrder(context.Background(), req)
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if gw.tokenCalls != 0 {
		t.Errorf("expected no payment call, got %d", gw.tokenCalls)
	}
}

func TestService_SaveCompletedOrderVerification(t *testing.T) {
	req := SaveOrderRequest{CreateOrderRequest: validRequest()}
	req.PaymentResult.OrderID = "ORD-CLIENT-1"

	tests := []struct {
		name       string
		gw         *fakeGateway
		validation bool
		provider   bool
	}{
		{
			name:       "unknown transaction",
			gw:         &fakeGateway{statusErr: payment.ErrTransactionNotFound},
			validation: true,
		},
		{
			name:       "expired transaction",
			gw:         &fakeGateway{status: verified("ORD-CLIENT-1", "expire", "")},
			validation: true,
		},
		{
			name:       "refunded transaction",
			gw:         &fakeGateway{status: verified("ORD-CLIENT-1", "refund", "")},
			validation: true,
		},
		{
			name:     "provider unavailable",
			gw:       &fakeGateway{statusErr: fmt.Errorf("%w: timeout", payment.ErrProvider)},
			provider: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			svc := NewService(nil, nil, nil, store, tt.gw, zap.NewNop())

			_, err := svc.SaveCompletedOrder(context.Background(), req)
			var ve *ValidationError
			if got := errors.As(err, &ve); got != tt.validation {
				t.Errorf("expected ValidationError=%v, got %v", tt.validation, err)
			}
			if got := errors.Is(err, payment.ErrProvider); got != tt.provider {
				t.Errorf("expected ErrProvider=%v, got %v", tt.provider, err)
			}
			if len(store.orders) != 0 {
				t.Error("expected nothing to be stored")
			}
		})
	}
}

func TestService_RetryPayment(t *testing.T) {
	order := pendingOrder("ORD-1", domain.PaymentStatusPending)
	order.CustomerName = "Siti Aisyah"
	order.Items = []domain.OrderItem{{ProductID: 7, ProductName: "Buket Mawar Merah", Quantity: 2, Price: decimal.NewFromInt(100000)}}

	t.Run("pending order gets a new token", func(t *testing.T) {
		gw := &fakeGateway{token: &payment.Token{Token: "tok-2", RedirectURL: "https://pay.example/tok-2"}}
		svc := NewService(nil, nil, nil, newFakeStore(order), gw, zap.NewNop())

		result, err := svc.RetryPayment(context.Background(), "ORD-1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.PaymentToken != "tok-2" || result.OrderNumber != "ORD-1" {
			t.Errorf("unexpected result: %+v", result)
		}
		if gw.lastToken.OrderNumber != "ORD-1" || !gw.lastToken.Amount.Equal(decimal.NewFromInt(200000)) {
			t.Errorf("unexpected token request: %+v", gw.lastToken)
		}
		if len(gw.lastToken.Items) != 1 || gw.lastToken.Items[0].ID != "7" || gw.lastToken.Customer.Name != "Siti Aisyah" {
			t.Errorf("unexpected token items or customer: %+v", gw.lastToken)
		}
	})

	t.Run("provider failure keeps order reference", func(t *testing.T) {
		gw := &fakeGateway{tokenErr: fmt.Errorf("%w: 503", payment.ErrProvider)}
		svc := NewService(nil, nil, nil, newFakeStore(order), gw, zap.NewNop())

		result, err := svc.RetryPayment(context.Background(), "ORD-1")
		var perr *PaymentProviderError
		if !errors.As(err, &perr) {
			t.Fatalf("expected PaymentProviderError, got %v", err)
		}
		if perr.OrderNumber != "ORD-1" || result == nil || result.PaymentStatus != domain.PaymentStatusPending {
			t.Errorf("unexpected result %+v / error %+v", result, perr)
		}
	})

	t.Run("paid order is not retried", func(t *testing.T) {
		paid := pendingOrder("ORD-2", domain.PaymentStatusPaid)
		gw := &fakeGateway{}
		svc := NewService(nil, nil, nil, newFakeStore(paid), gw, zap.NewNop())

		_, err := svc.RetryPayment(context.Background(), "ORD-2")
		if !errors.Is(err, ErrOrderNotPending) {
			t.Fatalf("expected ErrOrderNotPending, got %v", err)
		}
		if gw.tokenCalls != 0 {
			t.Errorf("expected no payment call, got %d", gw.tokenCalls)
		}
	})

	t.Run("unknown order", func(t *testing.T) {
		svc := NewService(nil, nil, nil, newFakeStore(), &fakeGateway{}, zap.NewNop())

		if _, err := svc.RetryPayment(context.Background(), "ORD-404"); !errors.Is(err, ErrOrderNotFound) {
			t.Fatalf("expected ErrOrderNotFound, got %v", err)
		}
	})
}

func TestService_OrderStatus(t *testing.T) {
	store := newFakeStore(
		pendingOrder("ORD-1", domain.PaymentStatusPending),
		pendingOrder("ORD-2", domain.PaymentStatusPaid),
	)
	cache := newFakeCache()
	svc := NewService(nil, nil, nil, store, &fakeGateway{}, zap.NewNop(), WithStatusCache(cache))
	ctx := context.Background()

	view, err := svc.OrderStatus(ctx, "ORD-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if view.Status != domain.PaymentStatusPending || !view.TotalAmount.Equal(decimal.NewFromInt(200000)) {
		t.Errorf("unexpected view: %+v", view)
	}
	if _, ok := cache.cached(statusCachePrefix + "ORD-1"); ok {
		t.Error("expected pending status not to be cached")
	}

	if _, err := svc.OrderStatus(ctx, "ORD-2"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cached, ok := cache.cached(statusCachePrefix + "ORD-2"); !ok || cached.Status != domain.PaymentStatusPaid {
		t.Fatalf("expected paid status to be cached, got %+v", cached)
	}

	store.err = errors.New("database is down")
	if _, err := svc.OrderStatus(ctx, "ORD-2"); err != nil {
		t.Errorf("expected cached status while storage fails, got %v", err)
	}
	if _, err := svc.OrderStatus(ctx, "ORD-1"); err == nil {
		t.Error("expected pending status to be read from storage")
	}

	store.err = nil
	if _, err := svc.OrderStatus(ctx, "ORD-404"); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestService_ListCustomerOrders(t *testing.T) {
	store := newFakeStore(pendingOrder("ORD-1", domain.PaymentStatusPending))
	svc := NewService(nil, nil, nil, store, &fakeGateway{}, zap.NewNop())

	got, err := svc.ListCustomerOrders(context.Background(), " siti@example.com ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("expected 1 order, got %d", len(got))
	}

	for _, email := range []string{"", "not-an-email"} {
		_, err := svc.ListCustomerOrders(context.Background(), email)
		var ve *ValidationError
		if !errors.As(err, &ve) {
			t.Errorf("email %q: expected ValidationError, got %v", email, err)
		}
	}
}

func TestService_RequestPaymentToken(t *testing.T) {
	newCatalog := func() *fakeCatalog {
		return &fakeCatalog{products: map[int64]*domain.Product{
			7: {ID: 7, Name: "Buket Mawar Merah", Category: "bouquet", Price: decimal.NewFromInt(100000), Stock: 5, Active: true},
		}}
	}

	t.Run("prices the cart and stores nothing", func(t *testing.T) {
		store := newFakeStore()
		gw := &fakeGateway{token: &payment.Token{Token: "tok-1", RedirectURL: "https://pay.example/tok-1"}}
		svc := NewService(nil, newCatalog(), nil, store, gw, zap.NewNop())

		result, err := svc.RequestPaymentToken(context.Background(), validRequest())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.HasPrefix(result.OrderNumber, "ORD-") || result.PaymentToken != "tok-1" {
			t.Errorf("unexpected result: %+v", result)
		}
		if !result.TotalAmount.Equal(decimal.NewFromInt(200000)) {
			t.Errorf("expected total 200000, got %s", result.TotalAmount)
		}
		if gw.lastToken.OrderNumber != result.OrderNumber || !gw.lastToken.Amount.Equal(decimal.NewFromInt(200000)) {
			t.Errorf("unexpected token request: %+v", gw.lastToken)
		}
		if len(gw.lastToken.Items) != 1 || gw.lastToken.Items[0].Category != "bouquet" || gw.lastToken.Items[0].ID != "7" {
			t.Errorf("unexpected token items: %+v", gw.lastToken.Items)
		}
		if len(store.orders) != 0 {
			t.Errorf("expected nothing to be stored, got %d orders", len(store.orders))
		}
	})

	t.Run("cart checks", func(t *testing.T) {
		tests := []struct {
			name  string
			items []ItemInput
			check func(t *testing.T, err error)
		}{
			{
				name:  "more than on hand",
				items: []ItemInput{{ProductID: 7, Quantity: 6}},
				check: func(t *testing.T, err error) {
					var stock *InsufficientStockError
					if !errors.As(err, &stock) || stock.Available != 5 {
						t.Errorf("expected InsufficientStockError with 5 available, got %v", err)
					}
				},
			},
			{
				name:  "repeated lines share stock",
				items: []ItemInput{{ProductID: 7, Quantity: 3}, {ProductID: 7, Quantity: 3}},
				check: func(t *testing.T, err error) {
					var stock *InsufficientStockError
					if !errors.As(err, &stock) || stock.Available != 2 {
						t.Errorf("expected InsufficientStockError with 2 available, got %v", err)
					}
				},
			},
			{
				name:  "unknown product",
				items: []ItemInput{{ProductID: 8, Quantity: 1}},
				check: func(t *testing.T, err error) {
					var pnf *ProductNotFoundError
					if !errors.As(err, &pnf) || pnf.ProductID != 8 {
						t.Errorf("expected ProductNotFoundError for 8, got %v", err)
					}
				},
			},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				gw := &fakeGateway{token: &payment.Token{Token: "tok-1"}}
				svc := NewService(nil, newCatalog(), nil, newFakeStore(), gw, zap.NewNop())

				req := validRequest()
				req.Items = tt.items
				_, err := svc.RequestPaymentToken(context.Background(), req)
				tt.check(t, err)
				if gw.tokenCalls != 0 {
					t.Errorf("expected no payment call, got %d", gw.tokenCalls)
				}
			})
		}
	})

	t.Run("provider failure", func(t *testing.T) {
		gw := &fakeGateway{tokenErr: fmt.Errorf("%w: timeout", payment.ErrProvider)}
		svc := NewService(nil, newCatalog(), nil, newFakeStore(), gw, zap.NewNop())

		_, err := svc.RequestPaymentToken(context.Background(), validRequest())
		if !errors.Is(err, payment.ErrProvider) {
			t.Errorf("expected ErrProvider, got %v", err)
		}
	})
}
