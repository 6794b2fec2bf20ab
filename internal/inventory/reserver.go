package inventory

import (
	"context"
	"database/sql"
	"errors"

	"github.com/Gabriel171203/flowershop-project/internal/postgres"
)

var ErrProductNotFound = errors.New("product not found")

// Result reports the outcome of a reservation attempt. Available is the stock
// left after a successful decrement, or the stock that was on hand when the
// request could not be satisfied.
type Result struct {
	OK        bool
	Available int
}

// Reserver decrements stock inside the caller's transaction. It never opens
// or commits a transaction itself; rolling the caller's transaction back
// restores every decrement it made.
type Reserver struct{}

func NewReserver() *Reserver {
	return &Reserver{}
}

func (r *Reserver) Reserve(ctx context.Context, q postgres.Querier, productID int64, quantity int) (Result, error) {
	if quantity <= 0 {
		return Result{}, errors.New("reserve quantity must be positive")
	}

	var remaining int
	err := q.QueryRowContext(ctx, `
		UPDATE products
		SET stock = stock - $2, updated_at = NOW()
		WHERE id = $1 AND is_active AND stock >= $2
		RETURNING stock
	`, productID, quantity).Scan(&remaining)
	if err == nil {
		return Result{OK: true, Available: remaining}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Result{}, err
	}

	var available int
	err = q.QueryRowContext(ctx, `
		SELECT stock
		FROM products
		WHERE id = $1 AND is_active
	`, productID).Scan(&available)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Result{}, ErrProductNotFound
		}
		return Result{}, err
	}

	return Result{OK: false, Available: available}, nil
}
