package payment

import (
	"bytes"
	"context"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	sandboxSnapURL    = "https://app.sandbox.midtrans.com"
	sandboxAPIURL     = "https://api.sandbox.midtrans.com"
	productionSnapURL = "https://app.midtrans.com"
	productionAPIURL  = "https://api.midtrans.com"

	maxItemNameLength = 50
	roundingItemID    = "ROUNDING"
	maxResponseBytes  = 1 << 20
)

type MidtransConfig struct {
	ServerKey  string
	Production bool
	// FinishURL is where Snap sends the customer after payment.
	FinishURL string
	// SnapURL and APIURL override the environment base URLs.
	SnapURL string
	APIURL  string
}

// MidtransClient talks to the Snap token API and the Core status API.
type MidtransClient struct {
	serverKey string
	snapURL   string
	apiURL    string
	finishURL string
	client    *http.Client
}

var _ Gateway = (*MidtransClient)(nil)

// NewMidtransClient builds a client. A nil http.Client gets a traced default;
// deadlines come from the caller's context.
func NewMidtransClient(cfg MidtransConfig, client *http.Client) *MidtransClient {
	if client == nil {
		client = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}

	snapURL, apiURL := sandboxSnapURL, sandboxAPIURL
	if cfg.Production {
		snapURL, apiURL = productionSnapURL, productionAPIURL
	}
	if cfg.SnapURL != "" {
		snapURL = cfg.SnapURL
	}
	if cfg.APIURL != "" {
		apiURL = cfg.APIURL
	}

	return &MidtransClient{
		serverKey: cfg.ServerKey,
		snapURL:   strings.TrimSuffix(snapURL, "/"),
		apiURL:    strings.TrimSuffix(apiURL, "/"),
		finishURL: cfg.FinishURL,
		client:    client,
	}
}

type snapTransactionRequest struct {
	TransactionDetails transactionDetails `json:"transaction_details"`
	CustomerDetails    customerDetails    `json:"customer_details"`
	ItemDetails        []itemDetail       `json:"item_details"`
	CreditCard         creditCard         `json:"credit_card"`
	Callbacks          *callbacks         `json:"callbacks,omitempty"`
}

type transactionDetails struct {
	OrderID     string `json:"order_id"`
	GrossAmount int64  `json:"gross_amount"`
}

type customerDetails struct {
	FirstName       string   `json:"first_name"`
	LastName        string   `json:"last_name,omitempty"`
	Email           string   `json:"email"`
	Phone           string   `json:"phone"`
	ShippingAddress *address `json:"shipping_address,omitempty"`
}

type address struct {
	FirstName string `json:"first_name"`
	Phone     string `json:"phone"`
	Address   string `json:"address"`
}

type itemDetail struct {
	ID       string `json:"id"`
	Price    int64  `json:"price"`
	Quantity int    `json:"quantity"`
	Name     string `json:"name"`
	Category string `json:"category,omitempty"`
}

type creditCard struct {
	Secure bool `json:"secure"`
}

type callbacks struct {
	Finish string `json:"finish"`
}

func (c *MidtransClient) RequestToken(ctx context.Context, req TokenRequest) (*Token, error) {
	body := snapTransactionRequest{
		TransactionDetails: transactionDetails{
			OrderID:     req.OrderNumber,
			GrossAmount: rupiah(req.Amount),
		},
		CustomerDetails: newCustomerDetails(req),
		ItemDetails:     make([]itemDetail, 0, len(req.Items)),
		CreditCard:      creditCard{Secure: true},
	}
	if c.finishURL != "" {
		body.Callbacks = &callbacks{Finish: c.finishURL}
	}
	var itemsTotal int64
	for _, item := range req.Items {
		price := rupiah(item.Price)
		itemsTotal += price * int64(item.Quantity)
		body.ItemDetails = append(body.ItemDetails, itemDetail{
			ID:       item.ID,
			Price:    price,
			Quantity: item.Quantity,
			Name:     truncate(item.Name, maxItemNameLength),
			Category: item.Category,
		})
	}
	// Snap requires the item lines to add up to gross_amount exactly.
	if diff := body.TransactionDetails.GrossAmount - itemsTotal; len(req.Items) > 0 && diff != 0 {
		body.ItemDetails = append(body.ItemDetails, itemDetail{
			ID:       roundingItemID,
			Price:    diff,
			Quantity: 1,
			Name:     "Pembulatan",
		})
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.snapURL+"/snap/v1/transactions", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	respBody, status, err := c.do(httpReq)
	if err != nil {
		return nil, err
	}
	if status != http.StatusCreated && status != http.StatusOK {
		return nil, fmt.Errorf("%w: snap returned %d: %s", ErrProvider, status, providerMessage(respBody))
	}

	var token Token
	if err := json.Unmarshal(respBody, &token); err != nil {
		return nil, fmt.Errorf("%w: decode snap response: %v", ErrProvider, err)
	}
	if token.Token == "" {
		return nil, fmt.Errorf("%w: snap response without token", ErrProvider)
	}

	return &token, nil
}

type notificationPayload struct {
	OrderID      string `json:"order_id"`
	StatusCode   string `json:"status_code"`
	GrossAmount  string `json:"gross_amount"`
	SignatureKey string `json:"signature_key"`
}

// VerifyNotification checks the notification signature and then re-fetches
// the transaction status. Only the re-fetched status is returned.
func (c *MidtransClient) VerifyNotification(ctx context.Context, raw []byte) (*Notification, error) {
	var payload notificationPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("%w: malformed payload", ErrNotificationAuth)
	}
	if payload.OrderID == "" || payload.SignatureKey == "" {
		return nil, fmt.Errorf("%w: missing order_id or signature_key", ErrNotificationAuth)
	}

	expected := Signature(payload.OrderID, payload.StatusCode, payload.GrossAmount, c.serverKey)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(strings.ToLower(payload.SignatureKey))) != 1 {
		return nil, fmt.Errorf("%w: signature mismatch", ErrNotificationAuth)
	}

	status, err := c.TransactionStatus(ctx, payload.OrderID)
	if err != nil {
		if errors.Is(err, ErrTransactionNotFound) {
			return nil, fmt.Errorf("%w: %v", ErrNotificationAuth, err)
		}
		return nil, err
	}
	if status.OrderNumber != payload.OrderID {
		return nil, fmt.Errorf("%w: status is for a different order", ErrNotificationAuth)
	}

	return status, nil
}

type statusPayload struct {
	StatusCode        string `json:"status_code"`
	StatusMessage     string `json:"status_message"`
	OrderID           string `json:"order_id"`
	TransactionID     string `json:"transaction_id"`
	TransactionStatus string `json:"transaction_status"`
	FraudStatus       string `json:"fraud_status"`
	GrossAmount       string `json:"gross_amount"`
}

func (c *MidtransClient) TransactionStatus(ctx context.Context, orderRef string) (*Notification, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.apiURL+"/v2/"+url.PathEscape(orderRef)+"/status", nil)
	if err != nil {
		return nil, err
	}

	respBody, status, err := c.do(httpReq)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, ErrTransactionNotFound
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("%w: status api returned %d: %s", ErrProvider, status, providerMessage(respBody))
	}

	var payload statusPayload
	if err := json.Unmarshal(respBody, &payload); err != nil {
		return nil, fmt.Errorf("%w: decode status response: %v", ErrProvider, err)
	}

	// The status API reports lookup failures in the body with HTTP 200.
	if payload.StatusCode == "404" {
		return nil, ErrTransactionNotFound
	}
	if code, err := strconv.Atoi(payload.StatusCode); err == nil && code >= 300 {
		return nil, fmt.Errorf("%w: status api returned code %d: %s", ErrProvider, code, payload.StatusMessage)
	}

	gross, err := decimal.NewFromString(payload.GrossAmount)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid gross_amount %q", ErrProvider, payload.GrossAmount)
	}

	return &Notification{
		OrderNumber:       payload.OrderID,
		TransactionID:     payload.TransactionID,
		TransactionStatus: payload.TransactionStatus,
		FraudStatus:       payload.FraudStatus,
		StatusCode:        payload.StatusCode,
		GrossAmount:       gross,
		Raw:               json.RawMessage(respBody),
	}, nil
}

func (c *MidtransClient) do(req *http.Request) ([]byte, int, error) {
	req.SetBasicAuth(c.serverKey, "")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrProvider, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, 0, fmt.Errorf("%w: read response: %v", ErrProvider, err)
	}

	return body, resp.StatusCode, nil
}

// Signature is the notification signature: hex SHA-512 of
// order_id + status_code + gross_amount + server key.
func Signature(orderID, statusCode, grossAmount, serverKey string) string {
	sum := sha512.Sum512([]byte(orderID + statusCode + grossAmount + serverKey))
	return hex.EncodeToString(sum[:])
}

func newCustomerDetails(req TokenRequest) customerDetails {
	first, last := splitName(req.Customer.Name)
	details := customerDetails{
		FirstName: first,
		LastName:  last,
		Email:     req.Customer.Email,
		Phone:     req.Customer.Phone,
	}
	if req.Customer.Address != "" {
		details.ShippingAddress = &address{
			FirstName: first,
			Phone:     req.Customer.Phone,
			Address:   req.Customer.Address,
		}
	}
	return details
}

func splitName(name string) (string, string) {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return "", ""
	}
	return fields[0], strings.Join(fields[1:], " ")
}

// rupiah converts to whole rupiah; the provider rejects fractional IDR.
func rupiah(amount decimal.Decimal) int64 {
	return amount.Round(0).IntPart()
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

func providerMessage(body []byte) string {
	var resp struct {
		StatusMessage string   `json:"status_message"`
		ErrorMessages []string `json:"error_messages"`
	}
	if err := json.Unmarshal(body, &resp); err == nil {
		if len(resp.ErrorMessages) > 0 {
			return strings.Join(resp.ErrorMessages, "; ")
		}
		if resp.StatusMessage != "" {
			return resp.StatusMessage
		}
	}
	return truncate(strings.TrimSpace(string(body)), 200)
}
