package orders

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/Gabriel171203/flowershop-project/internal/cache"
	"github.com/Gabriel171203/flowershop-project/internal/domain"
	"github.com/Gabriel171203/flowershop-project/internal/payment"
	"github.com/Gabriel171203/flowershop-project/internal/postgres"
)

type fakeStore struct {
	mu       sync.Mutex
	orders   map[string]*domain.Order
	casCalls int
	// beforeCAS runs with the lock held, before the compare.
	beforeCAS func(o *domain.Order)
	err       error
}

func newFakeStore(orders ...*domain.Order) *fakeStore {
	s := &fakeStore{orders: make(map[string]*domain.Order)}
	for _, o := range orders {
		s.orders[o.OrderNumber] = o
	}
	return s
}

func (s *fakeStore) Insert(_ context.Context, _ postgres.Querier, order *domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[order.OrderNumber] = order
	return nil
}

func (s *fakeStore) GetByNumber(_ context.Context, orderNumber string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	o, ok := s.orders[orderNumber]
	if !ok {
		return nil, nil
	}
	cp := *o
	return &cp, nil
}

func (s *fakeStore) GetStatus(_ context.Context, orderNumber string) (*StatusView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	o, ok := s.orders[orderNumber]
	if !ok {
		return nil, nil
	}
	return &StatusView{
		OrderNumber: o.OrderNumber,
		Status:      o.PaymentStatus,
		TotalAmount: o.TotalAmount,
		CreatedAt:   o.CreatedAt,
	}, nil
}

func (s *fakeStore) ListByEmail(_ context.Context, email string) ([]domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []domain.Order{}
	for _, o := range s.orders {
		if o.CustomerEmail == email {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (s *fakeStore) CompareAndSetPaymentStatus(_ context.Context, orderNumber string, from, to domain.PaymentStatus, paymentData []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	s.casCalls++
	o, ok := s.orders[orderNumber]
	if !ok {
		return false, nil
	}
	if s.beforeCAS != nil {
		s.beforeCAS(o)
	}
	if o.PaymentStatus != from {
		return false, nil
	}
	o.PaymentStatus = to
	o.PaymentData = paymentData
	return true, nil
}

func (s *fakeStore) status(orderNumber string) domain.PaymentStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orders[orderNumber].PaymentStatus
}

type fakeCatalog struct {
	products map[int64]*domain.Product
	err      error
}

func (c *fakeCatalog) GetByID(_ context.Context, id int64) (*domain.Product, error) {
	if c.err != nil {
		return nil, c.err
	}
	p, ok := c.products[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (c *fakeCatalog) LockForOrder(ctx context.Context, _ postgres.Querier, id int64) (*domain.Product, error) {
	return c.GetByID(ctx, id)
}

type fakeGateway struct {
	mu           sync.Mutex
	token        *payment.Token
	tokenErr     error
	tokenCalls   int
	lastToken    payment.TokenRequest
	notification *payment.Notification
	verifyErr    error
	status       *payment.Notification
	statusErr    error
}

func (g *fakeGateway) RequestToken(_ context.Context, req payment.TokenRequest) (*payment.Token, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tokenCalls++
	g.lastToken = req
	if g.tokenErr != nil {
		return nil, g.tokenErr
	}
	return g.token, nil
}

func (g *fakeGateway) VerifyNotification(context.Context, []byte) (*payment.Notification, error) {
	if g.verifyErr != nil {
		return nil, g.verifyErr
	}
	n := *g.notification
	return &n, nil
}

func (g *fakeGateway) TransactionStatus(context.Context, string) (*payment.Notification, error) {
	if g.statusErr != nil {
		return nil, g.statusErr
	}
	n := *g.status
	return &n, nil
}

type fakeCache struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string][]byte)}
}

func (c *fakeCache) Get(_ context.Context, key string, dest any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.entries[key]
	if !ok {
		return cache.ErrMiss
	}
	return json.Unmarshal(data, dest)
}

func (c *fakeCache) Set(_ context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = data
	return nil
}

func (c *fakeCache) cached(key string) (StatusView, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var view StatusView
	data, ok := c.entries[key]
	if !ok {
		return view, false
	}
	_ = json.Unmarshal(data, &view)
	return view, true
}

type fakePublisher struct {
	mu     sync.Mutex
	events []domain.Envelope
}

func (p *fakePublisher) Publish(_ context.Context, _ string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event.(domain.Envelope))
	return nil
}
