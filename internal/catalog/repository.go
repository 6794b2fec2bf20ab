package catalog

import (
	"context"
	"database/sql"
	"errors"

	"github.com/Gabriel171203/flowershop-project/internal/domain"
	"github.com/Gabriel171203/flowershop-project/internal/postgres"
)

const productColumns = `id, name, description, price, stock, category, image_url, is_active, created_at, updated_at`

type ProductRepository struct {
	db *sql.DB
}

func NewProductRepository(db *sql.DB) *ProductRepository {
	return &ProductRepository{db: db}
}

// List returns the active products, newest first.
func (r *ProductRepository) List(ctx context.Context) ([]domain.Product, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE is_active
		ORDER BY created_at DESC, id DESC
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	products := []domain.Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, *p)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return products, nil
}

// GetByID returns an active product, or nil when there is none.
func (r *ProductRepository) GetByID(ctx context.Context, id int64) (*domain.Product, error) {
	return r.get(ctx, r.db, `
		SELECT `+productColumns+`
		FROM products
		WHERE id = $1 AND is_active
	`, id)
}

// LockForOrder reads an active product inside q's transaction and holds its
// row lock until that transaction ends, serializing concurrent stock checks.
func (r *ProductRepository) LockForOrder(ctx context.Context, q postgres.Querier, id int64) (*domain.Product, error) {
	return r.get(ctx, q, `
		SELECT `+productColumns+`
		FROM products
		WHERE id = $1 AND is_active
		FOR UPDATE
	`, id)
}

func (r *ProductRepository) get(ctx context.Context, q postgres.Querier, query string, id int64) (*domain.Product, error) {
	p, err := scanProduct(q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return p, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProduct(s scanner) (*domain.Product, error) {
	var p domain.Product
	if err := s.Scan(&p.ID, &p.Name, &p.Description, &p.Price, &p.Stock, &p.Category,
		&p.ImageURL, &p.Active, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}
