package orders

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Gabriel171203/flowershop-project/internal/domain"
	"github.com/Gabriel171203/flowershop-project/internal/inventory"
	"github.com/Gabriel171203/flowershop-project/internal/logging"
	"github.com/Gabriel171203/flowershop-project/internal/payment"
	"github.com/Gabriel171203/flowershop-project/internal/postgres"
	"github.com/Gabriel171203/flowershop-project/internal/telemetry"
)

var tracer = otel.Tracer("orders")

const (
	defaultDBTimeout      = 5 * time.Second
	defaultPaymentTimeout = 10 * time.Second
	publishTimeout        = 5 * time.Second
	statusCachePrefix     = "order-status:"
)

// ProductCatalog reads active products. LockForOrder holds the row lock for
// the rest of q's transaction.
type ProductCatalog interface {
	GetByID(ctx context.Context, id int64) (*domain.Product, error)
	LockForOrder(ctx context.Context, q postgres.Querier, id int64) (*domain.Product, error)
}

type StockReserver interface {
	Reserve(ctx context.Context, q postgres.Querier, productID int64, quantity int) (inventory.Result, error)
}

type Store interface {
	Insert(ctx context.Context, q postgres.Querier, order *domain.Order) error
	GetByNumber(ctx context.Context, orderNumber string) (*domain.Order, error)
	GetStatus(ctx context.Context, orderNumber string) (*StatusView, error)
	ListByEmail(ctx context.Context, email string) ([]domain.Order, error)
	CompareAndSetPaymentStatus(ctx context.Context, orderNumber string, from, to domain.PaymentStatus, paymentData []byte) (bool, error)
}

type StatusCache interface {
	Get(ctx context.Context, key string, dest any) error
	Set(ctx context.Context, key string, value any) error
}

type EventPublisher interface {
	Publish(ctx context.Context, key string, event any) error
}

// Service coordinates checkout and payment reconciliation.
type Service struct {
	db       *sql.DB
	products ProductCatalog
	stock    StockReserver
	store    Store
	gateway  payment.Gateway
	numbers  NumberGenerator
	cache    StatusCache
	events   EventPublisher
	metrics  *telemetry.WorkflowMetrics
	logger   *zap.Logger
	now      func() time.Time

	dbTimeout      time.Duration
	paymentTimeout time.Duration
}

type Option func(*Service)

func WithNumberGenerator(g NumberGenerator) Option {
	return func(s *Service) { s.numbers = g }
}

func WithStatusCache(c StatusCache) Option {
	return func(s *Service) { s.cache = c }
}

func WithEventPublisher(p EventPublisher) Option {
	return func(s *Service) { s.events = p }
}

func WithMetrics(m *telemetry.WorkflowMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithTimeouts bounds the order transaction and each payment provider call.
// Zero keeps the default.
func WithTimeouts(db, payment time.Duration) Option {
	return func(s *Service) {
		if db > 0 {
			s.dbTimeout = db
		}
		if payment > 0 {
			s.paymentTimeout = payment
		}
	}
}

func NewService(db *sql.DB, products ProductCatalog, stock StockReserver, store Store, gateway payment.Gateway, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		db:             db,
		products:       products,
		stock:          stock,
		store:          store,
		gateway:        gateway,
		numbers:        NewULIDGenerator(),
		logger:         logger,
		now:            func() time.Time { return time.Now().UTC() },
		dbTimeout:      defaultDBTimeout,
		paymentTimeout: defaultPaymentTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type CreateOrderResult struct {
	OrderID            string               `json:"order_id"`
	OrderNumber        string               `json:"order_number"`
	PaymentRedirectURL string               `json:"payment_redirect_url"`
	PaymentToken       string               `json:"payment_token"`
	TotalAmount        decimal.Decimal      `json:"total_amount"`
	PaymentStatus      domain.PaymentStatus `json:"payment_status"`
}

// CreateOrder validates the cart, reserves stock and persists a pending order
// in one transaction, then requests a payment token. When only the token
// request fails, the order stays committed: the result is returned together
// with a *PaymentProviderError.
func (s *Service) CreateOrder(ctx context.Context, req CreateOrderRequest) (*CreateOrderResult, error) {
	ctx, span := tracer.Start(ctx, "orders.CreateOrder")
	defer span.End()
	logger := logging.FromContext(ctx, s.logger)

	if err := req.Validate(); err != nil {
		s.metrics.OrderPlaced(ctx, "checkout", "invalid")
		return nil, err
	}

	now := s.now()
	order, err := s.placeOrder(ctx, &req, placement{
		number: s.numbers.Next(now),
		status: domain.PaymentStatusPending,
		now:    now,
	})
	if err != nil {
		s.metrics.OrderPlaced(ctx, "checkout", outcomeOf(err))
		recordError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.String("order.number", order.OrderNumber))

	logger.Info("order created",
		zap.String("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.String("total_amount", order.TotalAmount.String()),
		zap.Int("items", len(order.Items)),
	)
	s.orderCommitted(ctx, order)

	result := &CreateOrderResult{
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		TotalAmount:   order.TotalAmount,
		PaymentStatus: order.PaymentStatus,
	}

	token, err := s.requestToken(ctx, order)
	if err != nil {
		s.metrics.OrderPlaced(ctx, "checkout", "payment_error")
		logger.Error("failed to request payment token",
			zap.Error(err),
			zap.String("order_number", order.OrderNumber),
		)
		recordError(span, err)
		return result, &PaymentProviderError{OrderID: order.ID, OrderNumber: order.OrderNumber, Err: err}
	}

	s.metrics.OrderPlaced(ctx, "checkout", "created")
	result.PaymentToken = token.Token
	result.PaymentRedirectURL = token.RedirectURL
	return result, nil
}

type SaveOrderResult struct {
	OrderID       string               `json:"order_id"`
	OrderNumber   string               `json:"order_number"`
	TotalAmount   decimal.Decimal      `json:"total_amount"`
	PaymentStatus domain.PaymentStatus `json:"payment_status"`
}

// SaveCompletedOrder records an order whose payment the customer completed
// in the provider's client SDK. The reported result is never trusted: the
// transaction status and amount are re-fetched from the provider and the
// order is stored with the verified status under the provider reference,
// normally an order number issued by RequestPaymentToken.
func (s *Service) SaveCompletedOrder(ctx context.Context, req SaveOrderRequest) (*SaveOrderResult, error) {
	ctx, span := tracer.Start(ctx, "orders.SaveCompletedOrder")
	defer span.End()
	logger := logging.FromContext(ctx, s.logger)

	if err := req.Validate(); err != nil {
		s.metrics.OrderPlaced(ctx, "client_paid", "invalid")
		return nil, err
	}
	ref := req.PaymentResult.OrderID
	span.SetAttributes(attribute.String("order.number", ref))

	verified, err := s.transactionStatus(ctx, ref)
	if err != nil {
		s.metrics.OrderPlaced(ctx, "client_paid", "error")
		if errors.Is(err, payment.ErrTransactionNotFound) {
			return nil, &ValidationError{
				Message: "payment could not be verified",
				Fields:  map[string]string{"payment_result.order_id": "is not a known payment transaction"},
			}
		}
		recordError(span, err)
		return nil, fmt.Errorf("verify payment %s: %w", ref, err)
	}

	status, known := payment.MapStatus(verified.TransactionStatus, verified.FraudStatus)
	if !known || status == domain.PaymentStatusFailed {
		s.metrics.OrderPlaced(ctx, "client_paid", "invalid")
		logger.Warn("refusing to record order for unpaid transaction",
			zap.String("order_number", ref),
			zap.String("transaction_status", verified.TransactionStatus),
			zap.String("fraud_status", verified.FraudStatus),
		)
		return nil, &ValidationError{
			Message: "payment was not completed",
			Fields:  map[string]string{"payment_result.order_id": "has transaction status " + verified.TransactionStatus},
		}
	}

	order, err := s.placeOrder(ctx, &req.CreateOrderRequest, placement{
		number:      ref,
		status:      status,
		paymentData: verified.Raw,
		now:         s.now(),
		checkTotal: func(total decimal.Decimal) error {
			if !verified.GrossAmount.Equal(total.Round(0)) {
				return &ValidationError{
					Message: "payment amount does not match the order total",
					Fields: map[string]string{"payment_result.order_id": fmt.Sprintf(
						"paid %s but the order total is %s", verified.GrossAmount, total)},
				}
			}
			return nil
		},
	})
	if err != nil {
		var perr *OrderPersistenceError
		if errors.As(err, &perr) && postgres.IsUniqueViolation(err, orderNumberConstraint) {
			err = &ValidationError{
				Message: "payment has already been recorded",
				Fields:  map[string]string{"payment_result.order_id": "is already used by another order"},
			}
		}
		s.metrics.OrderPlaced(ctx, "client_paid", outcomeOf(err))
		recordError(span, err)
		return nil, err
	}

	logger.Info("client-paid order saved",
		zap.String("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.String("payment_status", string(order.PaymentStatus)),
	)
	s.metrics.OrderPlaced(ctx, "client_paid", "created")
	s.orderCommitted(ctx, order)

	return &SaveOrderResult{
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		TotalAmount:   order.TotalAmount,
		PaymentStatus: order.PaymentStatus,
	}, nil
}

type PaymentTokenResult struct {
	OrderNumber        string          `json:"order_number"`
	PaymentToken       string          `json:"payment_token"`
	PaymentRedirectURL string          `json:"payment_redirect_url"`
	TotalAmount        decimal.Decimal `json:"total_amount"`
}

// RequestPaymentToken starts a client-side payment for a cart without
// storing anything. The cart is priced from the catalog and checked against
// current stock; stock is reserved later by SaveCompletedOrder, which must
// be called with the returned order number.
func (s *Service) RequestPaymentToken(ctx context.Context, req CreateOrderRequest) (*PaymentTokenResult, error) {
	ctx, span := tracer.Start(ctx, "orders.RequestPaymentToken")
	defer span.End()
	logger := logging.FromContext(ctx, s.logger)

	if err := req.Validate(); err != nil {
		return nil, err
	}

	items, total, err := s.quote(ctx, req.Items)
	if err != nil {
		recordError(span, err)
		return nil, err
	}

	now := s.now()
	order := &domain.Order{
		OrderNumber:     s.numbers.Next(now),
		CustomerName:    req.CustomerName,
		CustomerEmail:   req.CustomerEmail,
		CustomerPhone:   req.CustomerPhone,
		ShippingAddress: req.ShippingAddress,
		Items:           items,
		TotalAmount:     total,
		PaymentStatus:   domain.PaymentStatusPending,
		CreatedAt:       now,
	}
	span.SetAttributes(attribute.String("order.number", order.OrderNumber))

	token, err := s.requestToken(ctx, order)
	if err != nil {
		logger.Error("failed to request payment token",
			zap.Error(err),
			zap.String("order_number", order.OrderNumber),
		)
		recordError(span, err)
		return nil, fmt.Errorf("request payment token: %w", err)
	}

	logger.Info("payment token issued",
		zap.String("order_number", order.OrderNumber),
		zap.String("total_amount", total.String()),
	)

	return &PaymentTokenResult{
		OrderNumber:        order.OrderNumber,
		PaymentToken:       token.Token,
		PaymentRedirectURL: token.RedirectURL,
		TotalAmount:        total,
	}, nil
}

// RetryPayment requests a new payment token for a pending order without
// touching stock.
func (s *Service) RetryPayment(ctx context.Context, orderNumber string) (*CreateOrderResult, error) {
	ctx, span := tracer.Start(ctx, "orders.RetryPayment", trace.WithAttributes(attribute.String("order.number", orderNumber)))
	defer span.End()

	order, err := s.store.GetByNumber(ctx, orderNumber)
	if err != nil {
		recordError(span, err)
		return nil, fmt.Errorf("get order %s: %w", orderNumber, err)
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	if order.PaymentStatus != domain.PaymentStatusPending {
		return nil, fmt.Errorf("%w: status is %s", ErrOrderNotPending, order.PaymentStatus)
	}

	result := &CreateOrderResult{
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		TotalAmount:   order.TotalAmount,
		PaymentStatus: order.PaymentStatus,
	}

	token, err := s.requestToken(ctx, order)
	if err != nil {
		logging.FromContext(ctx, s.logger).Error("failed to request payment token",
			zap.Error(err),
			zap.String("order_number", order.OrderNumber),
		)
		recordError(span, err)
		return result, &PaymentProviderError{OrderID: order.ID, OrderNumber: order.OrderNumber, Err: err}
	}

	result.PaymentToken = token.Token
	result.PaymentRedirectURL = token.RedirectURL
	return result, nil
}

// OrderStatus returns the payment status of an order. Terminal statuses are
// served from the status cache when one is configured; they never change, so
// a cached entry cannot go stale.
func (s *Service) OrderStatus(ctx context.Context, orderNumber string) (*StatusView, error) {
	key := statusCachePrefix + orderNumber

	if s.cache != nil {
		var cached StatusView
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			return &cached, nil
		}
	}

	view, err := s.store.GetStatus(ctx, orderNumber)
	if err != nil {
		return nil, fmt.Errorf("get order status %s: %w", orderNumber, err)
	}
	if view == nil {
		return nil, ErrOrderNotFound
	}

	s.cacheStatus(ctx, *view)

	return view, nil
}

func (s *Service) GetOrder(ctx context.Context, orderNumber string) (*domain.Order, error) {
	order, err := s.store.GetByNumber(ctx, orderNumber)
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", orderNumber, err)
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	return order, nil
}

func (s *Service) ListCustomerOrders(ctx context.Context, email string) ([]domain.Order, error) {
	email = strings.TrimSpace(email)
	if err := validate.Var(email, "required,email"); err != nil {
		return nil, &ValidationError{
			Message: "invalid query",
			Fields:  map[string]string{"email": "must be a valid email address"},
		}
	}

	orders, err := s.store.ListByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return orders, nil
}

type placement struct {
	number      string
	status      domain.PaymentStatus
	paymentData []byte
	now         time.Time
	// checkTotal, when set, can veto the order once the total is known.
	checkTotal func(total decimal.Decimal) error
}

// placeOrder reserves stock and inserts the order in a single transaction.
// On any error nothing is committed.
func (s *Service) placeOrder(ctx context.Context, req *CreateOrderRequest, p placement) (*domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, s.dbTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &OrderPersistenceError{Err: fmt.Errorf("begin transaction: %w", err)}
	}
	defer func() { _ = tx.Rollback() }()

	items, total, err := s.reserveItems(ctx, tx, req.Items)
	if err != nil {
		return nil, err
	}

	if p.checkTotal != nil {
		if err := p.checkTotal(total); err != nil {
			return nil, err
		}
	}

	order := &domain.Order{
		ID:              uuid.NewString(),
		OrderNumber:     p.number,
		CustomerName:    req.CustomerName,
		CustomerEmail:   req.CustomerEmail,
		CustomerPhone:   req.CustomerPhone,
		ShippingAddress: req.ShippingAddress,
		Notes:           req.Notes,
		DeliveryDate:    req.DeliveryDate,
		DeliveryTime:    req.DeliveryTime,
		Items:           items,
		TotalAmount:     total,
		PaymentStatus:   p.status,
		PaymentData:     p.paymentData,
		CreatedAt:       p.now,
		UpdatedAt:       p.now,
	}

	if err := s.store.Insert(ctx, tx, order); err != nil {
		if postgres.IsUniqueViolation(err, orderNumberConstraint) {
			err = fmt.Errorf("order number %s already exists: %w", order.OrderNumber, err)
		}
		return nil, &OrderPersistenceError{Err: err}
	}

	if err := tx.Commit(); err != nil {
		return nil, &OrderPersistenceError{Err: fmt.Errorf("commit: %w", err)}
	}

	return order, nil
}

// reserveItems locks every product in the cart, checks the lines in input
// order and decrements stock. Rows are locked in ascending id order so two
// carts naming the same products cannot deadlock each other.
func (s *Service) reserveItems(ctx context.Context, q postgres.Querier, inputs []ItemInput) ([]domain.OrderItem, decimal.Decimal, error) {
	ids := productIDs(inputs)
	locked := make(map[int64]*domain.Product, len(ids))
	for _, id := range ids {
		product, err := s.products.LockForOrder(ctx, q, id)
		if err != nil {
			return nil, decimal.Zero, &OrderPersistenceError{Err: fmt.Errorf("lock product %d: %w", id, err)}
		}
		if product != nil {
			locked[id] = product
		}
	}

	items, total, err := priceLines(inputs, locked)
	if err != nil {
		return nil, decimal.Zero, err
	}

	for _, item := range items {
		res, err := s.stock.Reserve(ctx, q, item.ProductID, item.Quantity)
		if err != nil {
			if errors.Is(err, inventory.ErrProductNotFound) {
				return nil, decimal.Zero, &ProductNotFoundError{ProductID: item.ProductID}
			}
			return nil, decimal.Zero, &OrderPersistenceError{Err: fmt.Errorf("reserve product %d: %w", item.ProductID, err)}
		}
		if !res.OK {
			return nil, decimal.Zero, &InsufficientStockError{
				ProductID:   item.ProductID,
				ProductName: item.ProductName,
				Available:   res.Available,
				Requested:   item.Quantity,
			}
		}
	}

	return items, total, nil
}

// quote prices a cart from the catalog without locking or reserving.
func (s *Service) quote(ctx context.Context, inputs []ItemInput) ([]domain.OrderItem, decimal.Decimal, error) {
	ctx, cancel := context.WithTimeout(ctx, s.dbTimeout)
	defer cancel()

	products := make(map[int64]*domain.Product)
	for _, id := range productIDs(inputs) {
		product, err := s.products.GetByID(ctx, id)
		if err != nil {
			return nil, decimal.Zero, fmt.Errorf("get product %d: %w", id, err)
		}
		if product != nil {
			products[id] = product
		}
	}

	return priceLines(inputs, products)
}

// productIDs returns the distinct product ids of a cart in ascending order.
func productIDs(inputs []ItemInput) []int64 {
	ids := make([]int64, 0, len(inputs))
	for _, in := range inputs {
		ids = append(ids, in.ProductID)
	}
	slices.Sort(ids)
	return slices.Compact(ids)
}

// priceLines snapshots each line in input order. Quantities of repeated
// products count against the same stock.
func priceLines(inputs []ItemInput, products map[int64]*domain.Product) ([]domain.OrderItem, decimal.Decimal, error) {
	items := make([]domain.OrderItem, 0, len(inputs))
	requested := make(map[int64]int, len(products))
	total := decimal.Zero

	for _, in := range inputs {
		product, ok := products[in.ProductID]
		if !ok {
			return nil, decimal.Zero, &ProductNotFoundError{ProductID: in.ProductID}
		}

		available := product.Stock - requested[in.ProductID]
		if in.Quantity > available {
			return nil, decimal.Zero, &InsufficientStockError{
				ProductID:   product.ID,
				ProductName: product.Name,
				Available:   max(available, 0),
				Requested:   in.Quantity,
			}
		}
		requested[in.ProductID] += in.Quantity

		item := domain.OrderItem{
			ProductID:   product.ID,
			ProductName: product.Name,
			Category:    product.Category,
			Quantity:    in.Quantity,
			Price:       product.Price,
		}
		total = total.Add(item.Subtotal())
		items = append(items, item)
	}

	return items, total, nil
}

func (s *Service) requestToken(ctx context.Context, order *domain.Order) (*payment.Token, error) {
	ctx, cancel := context.WithTimeout(ctx, s.paymentTimeout)
	defer cancel()

	items := make([]payment.Item, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, payment.Item{
			ID:       strconv.FormatInt(item.ProductID, 10),
			Name:     item.ProductName,
			Price:    item.Price,
			Quantity: item.Quantity,
			Category: item.Category,
		})
	}

	start := time.Now()
	token, err := s.gateway.RequestToken(ctx, payment.TokenRequest{
		OrderNumber: order.OrderNumber,
		Amount:      order.TotalAmount,
		Customer:    order.Customer(),
		Items:       items,
	})
	s.metrics.GatewayCall(ctx, "request_token", start, err)
	return token, err
}

func (s *Service) transactionStatus(ctx context.Context, ref string) (*payment.Notification, error) {
	ctx, cancel := context.WithTimeout(ctx, s.paymentTimeout)
	defer cancel()

	start := time.Now()
	n, err := s.gateway.TransactionStatus(ctx, ref)
	s.metrics.GatewayCall(ctx, "transaction_status", start, err)
	return n, err
}

// orderCommitted primes the status cache and announces the new order.
func (s *Service) orderCommitted(ctx context.Context, order *domain.Order) {
	s.cacheStatus(ctx, StatusView{
		OrderNumber: order.OrderNumber,
		Status:      order.PaymentStatus,
		TotalAmount: order.TotalAmount,
		CreatedAt:   order.CreatedAt,
	})

	s.publish(ctx, domain.EventOrderCreated, order.OrderNumber, domain.OrderCreatedEvent{
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		CustomerEmail: order.CustomerEmail,
		Items:         order.Items,
		TotalAmount:   order.TotalAmount,
		PaymentStatus: order.PaymentStatus,
	})
}

// cacheStatus stores terminal views only. A non-terminal view read before a
// concurrent transition commits could otherwise be written back after it.
func (s *Service) cacheStatus(ctx context.Context, view StatusView) {
	if s.cache == nil || !view.Status.Terminal() {
		return
	}
	if err := s.cache.Set(ctx, statusCachePrefix+view.OrderNumber, view); err != nil {
		logging.FromContext(ctx, s.logger).Warn("failed to cache order status",
			zap.Error(err),
			zap.String("order_number", view.OrderNumber),
		)
	}
}

// publish sends an event after the fact. Failures are logged only: the state
// change it describes is already committed.
func (s *Service) publish(ctx context.Context, eventType, orderNumber string, payload any) {
	if s.events == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	env := domain.Envelope{
		EventID:     uuid.NewString(),
		EventType:   eventType,
		OccurredAt:  s.now(),
		OrderNumber: orderNumber,
		Payload:     payload,
	}
	if err := s.events.Publish(ctx, orderNumber, env); err != nil {
		logging.FromContext(ctx, s.logger).Error("failed to publish order event",
			zap.Error(err),
			zap.String("event_type", eventType),
			zap.String("order_number", orderNumber),
		)
	}
}

func outcomeOf(err error) string {
	var (
		verr  *ValidationError
		pnf   *ProductNotFoundError
		stock *InsufficientStockError
	)
	switch {
	case errors.As(err, &verr):
		return "invalid"
	case errors.As(err, &pnf), errors.As(err, &stock):
		return "rejected"
	default:
		return "error"
	}
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
