package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Gabriel171203/flowershop-project/internal/domain"
	"github.com/Gabriel171203/flowershop-project/internal/logging"
	"github.com/Gabriel171203/flowershop-project/internal/messaging"
	"github.com/Gabriel171203/flowershop-project/internal/payment"
)

const (
	maxOrderBodyBytes        = 1 << 20
	maxNotificationBodyBytes = 64 << 10
)

// Workflow is the order workflow as seen by the HTTP layer.
type Workflow interface {
	CreateOrder(ctx context.Context, req CreateOrderRequest) (*CreateOrderResult, error)
	RequestPaymentToken(ctx context.Context, req CreateOrderRequest) (*PaymentTokenResult, error)
	SaveCompletedOrder(ctx context.Context, req SaveOrderRequest) (*SaveOrderResult, error)
	RetryPayment(ctx context.Context, orderNumber string) (*CreateOrderResult, error)
	HandlePaymentNotification(ctx context.Context, raw []byte) (*NotificationOutcome, error)
	OrderStatus(ctx context.Context, orderNumber string) (*StatusView, error)
	GetOrder(ctx context.Context, orderNumber string) (*domain.Order, error)
	ListCustomerOrders(ctx context.Context, email string) ([]domain.Order, error)
}

// NotificationQueue durably accepts raw notifications for asynchronous processing.
type NotificationQueue interface {
	Send(ctx context.Context, key string, value []byte, headers map[string]string) error
}

type Handler struct {
	workflow Workflow
	queue    NotificationQueue
	logger   *zap.Logger
}

// NewHandler builds the order endpoints. With a nil queue, payment
// notifications are applied inline.
func NewHandler(workflow Workflow, queue NotificationQueue, logger *zap.Logger) *Handler {
	return &Handler{
		workflow: workflow,
		queue:    queue,
		logger:   logger,
	}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/orders", h.HandleCreate)
	r.Post("/orders/save", h.HandleSave)
	r.Get("/orders", h.HandleList)
	r.Get("/orders/{orderNumber}", h.HandleGet)
	r.Get("/orders/{orderNumber}/status", h.HandleStatus)
	r.Post("/orders/{orderNumber}/payment", h.HandleRetryPayment)
	r.Post("/payment/token", h.HandlePaymentToken)
	r.Post("/payment/notification", h.HandleNotification)
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	logger := logging.FromContext(r.Context(), h.logger)

	var req CreateOrderRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxOrderBodyBytes)).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.workflow.CreateOrder(r.Context(), req)
	if err != nil {
		var perr *PaymentProviderError
		if errors.As(err, &perr) {
			h.writeJSON(w, http.StatusBadGateway, paymentUnavailableResponse{
				Error:         "order created but payment could not be initiated; retry payment for this order",
				OrderID:       perr.OrderID,
				OrderNumber:   perr.OrderNumber,
				PaymentStatus: domain.PaymentStatusPending,
				RetryURL:      "/orders/" + perr.OrderNumber + "/payment",
			})
			return
		}
		h.writeWorkflowError(w, r, err, "failed to create order")
		return
	}

	logger.Info("order checkout completed", zap.String("order_number", result.OrderNumber))
	h.writeJSON(w, http.StatusOK, result)
}

type paymentUnavailableResponse struct {
	Error         string               `json:"error"`
	OrderID       string               `json:"order_id"`
	OrderNumber   string               `json:"order_number"`
	PaymentStatus domain.PaymentStatus `json:"payment_status"`
	RetryURL      string               `json:"retry_url"`
}

// HandlePaymentToken starts a client-side payment. Nothing is stored until
// the completed payment is posted to /orders/save.
func (h *Handler) HandlePaymentToken(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxOrderBodyBytes)).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.workflow.RequestPaymentToken(r.Context(), req)
	if err != nil {
		h.writeWorkflowError(w, r, err, "failed to request payment token")
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) HandleSave(w http.ResponseWriter, r *http.Request) {
	var req SaveOrderRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxOrderBodyBytes)).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.workflow.SaveCompletedOrder(r.Context(), req)
	if err != nil {
		h.writeWorkflowError(w, r, err, "failed to save order")
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) HandleRetryPayment(w http.ResponseWriter, r *http.Request) {
	orderNumber := chi.URLParam(r, "orderNumber")

	result, err := h.workflow.RetryPayment(r.Context(), orderNumber)
	if err != nil {
		var perr *PaymentProviderError
		if errors.As(err, &perr) {
			h.writeJSON(w, http.StatusBadGateway, paymentUnavailableResponse{
				Error:         "payment could not be initiated; try again later",
				OrderID:       perr.OrderID,
				OrderNumber:   perr.OrderNumber,
				PaymentStatus: domain.PaymentStatusPending,
				RetryURL:      "/orders/" + perr.OrderNumber + "/payment",
			})
			return
		}
		h.writeWorkflowError(w, r, err, "failed to retry payment")
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	view, err := h.workflow.OrderStatus(r.Context(), chi.URLParam(r, "orderNumber"))
	if err != nil {
		h.writeWorkflowError(w, r, err, "failed to get order status")
		return
	}

	h.writeJSON(w, http.StatusOK, view)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	order, err := h.workflow.GetOrder(r.Context(), chi.URLParam(r, "orderNumber"))
	if err != nil {
		h.writeWorkflowError(w, r, err, "failed to get order")
		return
	}

	h.writeJSON(w, http.StatusOK, order)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	orders, err := h.workflow.ListCustomerOrders(r.Context(), r.URL.Query().Get("email"))
	if err != nil {
		h.writeWorkflowError(w, r, err, "failed to list orders")
		return
	}

	logging.FromContext(r.Context(), h.logger).Debug("orders listed", zap.Int("count", len(orders)))
	h.writeJSON(w, http.StatusOK, orders)
}

// HandleNotification is the payment provider webhook. The provider retries
// anything but 200, so 200 is returned once the notification is applied or
// queued, and also for no-ops and unknown orders.
func (h *Handler) HandleNotification(w http.ResponseWriter, r *http.Request) {
	logger := logging.FromContext(r.Context(), h.logger)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxNotificationBodyBytes))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if h.queue != nil {
		h.enqueueNotification(w, r, body)
		return
	}

	outcome, err := h.workflow.HandlePaymentNotification(r.Context(), body)
	switch {
	case err == nil:
		logger.Info("payment notification processed",
			zap.String("order_number", outcome.OrderNumber),
			zap.String("reason", outcome.Reason),
			zap.String("payment_status", string(outcome.Current)),
		)
		h.writeOK(w)
	case errors.Is(err, payment.ErrNotificationAuth):
		logger.Error("rejected unauthenticated payment notification",
			zap.Error(err),
			zap.String("remote_addr", r.RemoteAddr),
		)
		h.writeError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, ErrOrderNotFound):
		logger.Warn("payment notification for unknown order", zap.Error(err))
		h.writeOK(w)
	default:
		logger.Error("failed to process payment notification", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (h *Handler) enqueueNotification(w http.ResponseWriter, r *http.Request, body []byte) {
	logger := logging.FromContext(r.Context(), h.logger)

	var envelope struct {
		OrderID string `json:"order_id"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.OrderID == "" {
		logger.Error("rejected malformed payment notification", zap.String("remote_addr", r.RemoteAddr))
		h.writeError(w, http.StatusBadRequest, "invalid notification")
		return
	}

	err := h.queue.Send(r.Context(), envelope.OrderID, body, map[string]string{
		messaging.HeaderContentType: "application/json",
	})
	if err != nil {
		logger.Error("failed to enqueue payment notification", zap.Error(err), zap.String("order_number", envelope.OrderID))
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	logger.Info("payment notification queued", zap.String("order_number", envelope.OrderID))
	h.writeOK(w)
}

func (h *Handler) writeWorkflowError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	var (
		verr  *ValidationError
		pnf   *ProductNotFoundError
		stock *InsufficientStockError
	)

	switch {
	case errors.As(err, &verr):
		message := verr.Message
		if message == "" {
			message = "invalid request"
		}
		h.writeJSON(w, http.StatusBadRequest, validationResponse{Error: message, Fields: verr.Fields})
	case errors.As(err, &pnf):
		h.writeJSON(w, http.StatusBadRequest, productResponse{Error: pnf.Error(), ProductID: pnf.ProductID})
	case errors.As(err, &stock):
		available := stock.Available
		h.writeJSON(w, http.StatusBadRequest, productResponse{
			Error:     fmt.Sprintf("insufficient stock for %s: %d available", stock.ProductName, available),
			ProductID: stock.ProductID,
			Available: &available,
		})
	case errors.Is(err, ErrOrderNotFound):
		h.writeError(w, http.StatusNotFound, "order not found")
	case errors.Is(err, ErrOrderNotPending):
		h.writeError(w, http.StatusConflict, "order is not awaiting payment")
	case errors.Is(err, payment.ErrProvider):
		logging.FromContext(r.Context(), h.logger).Error(msg, zap.Error(err))
		h.writeError(w, http.StatusBadGateway, "payment provider unavailable")
	default:
		logging.FromContext(r.Context(), h.logger).Error(msg, zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

type validationResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

type productResponse struct {
	Error     string `json:"error"`
	ProductID int64  `json:"product_id"`
	Available *int   `json:"available,omitempty"`
}

func (h *Handler) writeOK(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
