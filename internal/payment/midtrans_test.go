package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/Gabriel171203/flowershop-project/internal/domain"
)

const testServerKey = "SB-Mid-server-test"

type fakeMidtrans struct {
	t        *testing.T
	statuses map[string]string
	snapCode int

	mu       sync.Mutex
	lastSnap snapTransactionRequest
}

func (f *fakeMidtrans) snap() snapTransactionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastSnap
}

func (f *fakeMidtrans) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user, pass, ok := r.BasicAuth()
	if !ok || user != testServerKey || pass != "" {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"status_code":"401","status_message":"unauthorized"}`))
		return
	}

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/snap/v1/transactions":
		var req snapTransactionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			f.t.Errorf("failed to decode snap request: %v", err)
		}
		f.mu.Lock()
		f.lastSnap = req
		f.mu.Unlock()
		if len(req.ItemDetails) > 0 && itemsSum(req.ItemDetails) != req.TransactionDetails.GrossAmount {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error_messages":["transaction_details.gross_amount is not equal to the sum of item_details"]}`))
			return
		}
		if f.snapCode != 0 {
			w.WriteHeader(f.snapCode)
			_, _ = w.Write([]byte(`{"error_messages":["transaction_details.gross_amount is not equal to the sum of item_details"]}`))
			return
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"token":"snap-token-1","redirect_url":"https://app.sandbox.midtrans.com/snap/v2/vtweb/snap-token-1"}`))
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/v2/") && strings.HasSuffix(r.URL.Path, "/status"):
		ref := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/v2/"), "/status")
		body, ok := f.statuses[ref]
		if !ok {
			_, _ = w.Write([]byte(`{"status_code":"404","status_message":"Transaction doesn't exist."}`))
			return
		}
		_, _ = w.Write([]byte(body))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func itemsSum(items []itemDetail) int64 {
	var sum int64
	for _, item := range items {
		sum += item.Price * int64(item.Quantity)
	}
	return sum
}

func newTestClient(t *testing.T, fake *fakeMidtrans) *MidtransClient {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	return NewMidtransClient(MidtransConfig{
		ServerKey: testServerKey,
		FinishURL: "https://shop.example/order/success",
		SnapURL:   srv.URL,
		APIURL:    srv.URL,
	}, srv.Client())
}

func statusBody(orderID, transaction, fraud, gross string) string {
	return fmt.Sprintf(`{"status_code":"200","order_id":%q,"transaction_id":"tx-1","transaction_status":%q,"fraud_status":%q,"gross_amount":%q}`,
		orderID, transaction, fraud, gross)
}

func notificationBody(orderID, statusCode, gross, signature string) []byte {
	return []byte(fmt.Sprintf(`{"order_id":%q,"status_code":%q,"gross_amount":%q,"signature_key":%q,"transaction_status":"settlement"}`,
		orderID, statusCode, gross, signature))
}

func TestMidtransClient_RequestToken(t *testing.T) {
	t.Run("builds the snap transaction", func(t *testing.T) {
		fake := &fakeMidtrans{t: t}
		client := newTestClient(t, fake)

		token, err := client.RequestToken(context.Background(), TokenRequest{
			OrderNumber: "ORD-01J",
			Amount:      decimal.NewFromInt(250000),
			Customer: domain.Customer{
				Name:    "Siti Nur Aisyah",
				Email:   "siti@example.com",
				Phone:   "081234567890",
				Address: "Jl. Melati 5, Bandung",
			},
			Items: []Item{
				{ID: "1", Name: "Buket Mawar Merah", Price: decimal.NewFromInt(100000), Quantity: 2, Category: "bouquet"},
				{ID: "2", Name: strings.Repeat("Anggrek ", 10), Price: decimal.NewFromInt(50000), Quantity: 1},
			},
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if token.Token != "snap-token-1" || token.RedirectURL == "" {
			t.Errorf("unexpected token: %+v", token)
		}

		got := fake.snap()
		if got.TransactionDetails.OrderID != "ORD-01J" || got.TransactionDetails.GrossAmount != 250000 {
			t.Errorf("unexpected transaction details: %+v", got.TransactionDetails)
		}
		if got.CustomerDetails.FirstName != "Siti" || got.CustomerDetails.LastName != "Nur Aisyah" {
			t.Errorf("unexpected name split: %+v", got.CustomerDetails)
		}
		if got.CustomerDetails.ShippingAddress == nil || got.CustomerDetails.ShippingAddress.Address != "Jl. Melati 5, Bandung" {
			t.Errorf("expected shipping address, got %+v", got.CustomerDetails.ShippingAddress)
		}
		if len(got.ItemDetails) != 2 || got.ItemDetails[0].Price != 100000 || got.ItemDetails[0].Quantity != 2 {
			t.Errorf("unexpected item details: %+v", got.ItemDetails)
		}
		if n := len([]rune(got.ItemDetails[1].Name)); n != maxItemNameLength {
			t.Errorf("expected item name truncated to %d runes, got %d", maxItemNameLength, n)
		}
		if !got.CreditCard.Secure {
			t.Error("expected secure credit card transactions")
		}
		if got.Callbacks == nil || got.Callbacks.Finish != "https://shop.example/order/success" {
			t.Errorf("unexpected callbacks: %+v", got.Callbacks)
		}
	})

	t.Run("fractional prices add up to the gross amount", func(t *testing.T) {
		tests := []struct {
			name     string
			items    []Item
			gross    int64
			rounding int64
		}{
			{
				name:     "rounded up lines",
				items:    []Item{{ID: "1", Name: "Melati", Price: decimal.RequireFromString("1500.50"), Quantity: 2}},
				gross:    3001,
				rounding: -1,
			},
			{
				name: "rounded down lines",
				items: []Item{
					{ID: "1", Name: "Melati", Price: decimal.RequireFromString("1000.40"), Quantity: 3},
					{ID: "2", Name: "Kartu Ucapan", Price: decimal.RequireFromString("5000.00"), Quantity: 1},
				},
				gross:    8001,
				rounding: 1,
			},
			{
				name:  "whole prices need no adjustment",
				items: []Item{{ID: "1", Name: "Mawar", Price: decimal.NewFromInt(100000), Quantity: 2}},
				gross: 200000,
			},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				fake := &fakeMidtrans{t: t}
				client := newTestClient(t, fake)

				total := decimal.Zero
				for _, item := range tt.items {
					total = total.Add(item.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
				}

				if _, err := client.RequestToken(context.Background(), TokenRequest{OrderNumber: "ORD-1", Amount: total, Items: tt.items}); err != nil {
					t.Fatalf("unexpected error: %v", err)
				}

				got := fake.snap()
				if got.TransactionDetails.GrossAmount != tt.gross {
					t.Errorf("expected gross %d, got %d", tt.gross, got.TransactionDetails.GrossAmount)
				}
				if sum := itemsSum(got.ItemDetails); sum != got.TransactionDetails.GrossAmount {
					t.Errorf("expected items to sum to %d, got %d", got.TransactionDetails.GrossAmount, sum)
				}

				last := got.ItemDetails[len(got.ItemDetails)-1]
				if tt.rounding == 0 {
					if len(got.ItemDetails) != len(tt.items) {
						t.Errorf("expected no adjustment line, got %+v", got.ItemDetails)
					}
					return
				}
				if last.ID != roundingItemID || last.Price != tt.rounding || last.Quantity != 1 {
					t.Errorf("expected rounding line of %d, got %+v", tt.rounding, last)
				}
			})
		}
	})

	t.Run("provider rejection is a provider error", func(t *testing.T) {
		fake := &fakeMidtrans{t: t, snapCode: http.StatusBadRequest}
		client := newTestClient(t, fake)

		_, err := client.RequestToken(context.Background(), TokenRequest{OrderNumber: "ORD-1", Amount: decimal.NewFromInt(1000)})
		if !errors.Is(err, ErrProvider) {
			t.Fatalf("expected ErrProvider, got %v", err)
		}
		if !strings.Contains(err.Error(), "gross_amount") {
			t.Errorf("expected provider message in error, got %v", err)
		}
	})

	t.Run("unreachable provider is a provider error", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		srv.Close()
		client := NewMidtransClient(MidtransConfig{ServerKey: testServerKey, SnapURL: srv.URL, APIURL: srv.URL}, nil)

		_, err := client.RequestToken(context.Background(), TokenRequest{OrderNumber: "ORD-1", Amount: decimal.NewFromInt(1000)})
		if !errors.Is(err, ErrProvider) {
			t.Fatalf("expected ErrProvider, got %v", err)
		}
	})
}

func TestMidtransClient_TransactionStatus(t *testing.T) {
	fake := &fakeMidtrans{t: t, statuses: map[string]string{
		"ORD-1": statusBody("ORD-1", "capture", "challenge", "200000.00"),
		"ORD-2": `{"status_code":"200","order_id":"ORD-2","transaction_status":"settlement","gross_amount":"lots"}`,
	}}
	client := newTestClient(t, fake)

	got, err := client.TransactionStatus(context.Background(), "ORD-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.TransactionStatus != "capture" || got.FraudStatus != "challenge" || got.TransactionID != "tx-1" {
		t.Errorf("unexpected status: %+v", got)
	}
	if !got.GrossAmount.Equal(decimal.NewFromInt(200000)) {
		t.Errorf("expected gross amount 200000, got %s", got.GrossAmount)
	}
	if len(got.Raw) == 0 {
		t.Error("expected raw provider payload")
	}

	if _, err := client.TransactionStatus(context.Background(), "ORD-404"); !errors.Is(err, ErrTransactionNotFound) {
		t.Errorf("expected ErrTransactionNotFound, got %v", err)
	}
	if _, err := client.TransactionStatus(context.Background(), "ORD-2"); !errors.Is(err, ErrProvider) {
		t.Errorf("expected ErrProvider for invalid gross amount, got %v", err)
	}
}

func TestMidtransClient_VerifyNotification(t *testing.T) {
	fake := &fakeMidtrans{t: t, statuses: map[string]string{
		"ORD-1": statusBody("ORD-1", "settlement", "", "200000.00"),
	}}
	client := newTestClient(t, fake)
	ctx := context.Background()

	t.Run("valid signature returns the re-fetched status", func(t *testing.T) {
		sig := Signature("ORD-1", "200", "200000.00", testServerKey)
		got, err := client.VerifyNotification(ctx, notificationBody("ORD-1", "200", "200000.00", sig))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.OrderNumber != "ORD-1" || got.TransactionStatus != "settlement" {
			t.Errorf("unexpected notification: %+v", got)
		}
	})

	t.Run("signature is case insensitive", func(t *testing.T) {
		sig := strings.ToUpper(Signature("ORD-1", "200", "200000.00", testServerKey))
		if _, err := client.VerifyNotification(ctx, notificationBody("ORD-1", "200", "200000.00", sig)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	tests := []struct {
		name string
		body []byte
	}{
		{"wrong key", notificationBody("ORD-1", "200", "200000.00", Signature("ORD-1", "200", "200000.00", "other-key"))},
		{"tampered amount", notificationBody("ORD-1", "200", "1.00", Signature("ORD-1", "200", "200000.00", testServerKey))},
		{"missing signature", notificationBody("ORD-1", "200", "200000.00", "")},
		{"malformed body", []byte(`{"order_id":`)},
		{"unknown transaction", notificationBody("ORD-9", "200", "5.00", Signature("ORD-9", "200", "5.00", testServerKey))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := client.VerifyNotification(ctx, tt.body)
			if !errors.Is(err, ErrNotificationAuth) {
				t.Errorf("expected ErrNotificationAuth, got %v", err)
			}
		})
	}
}

func TestSplitName(t *testing.T) {
	tests := []struct {
		in, first, last string
	}{
		{"Budi", "Budi", ""},
		{"  Siti   Nur Aisyah ", "Siti", "Nur Aisyah"},
		{"", "", ""},
	}
	for _, tt := range tests {
		first, last := splitName(tt.in)
		if first != tt.first || last != tt.last {
			t.Errorf("splitName(%q) = (%q, %q), want (%q, %q)", tt.in, first, last, tt.first, tt.last)
		}
	}
}
