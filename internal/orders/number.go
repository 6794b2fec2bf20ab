package orders

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

const orderNumberPrefix = "ORD-"

// NumberGenerator produces order numbers. Uniqueness is enforced by the
// orders_order_number_key constraint, not by the generator.
type NumberGenerator interface {
	Next(now time.Time) string
}

// ULIDGenerator issues ORD-<ULID> numbers: a millisecond timestamp followed by
// monotonic entropy, so numbers sort by creation time.
type ULIDGenerator struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

func NewULIDGenerator() *ULIDGenerator {
	return &ULIDGenerator{entropy: ulid.Monotonic(rand.Reader, 0)}
}

func (g *ULIDGenerator) Next(now time.Time) string {
	g.mu.Lock()
	id, err := ulid.New(ulid.Timestamp(now), g.entropy)
	g.mu.Unlock()
	if err != nil {
		id = ulid.Make()
	}
	return orderNumberPrefix + id.String()
}
