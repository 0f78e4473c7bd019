package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/fjod/freshmilk/internal/domain"
)

// Querier is satisfied by both *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const selectProduct = `SELECT id, name, image_url, price, stock, variants, updated_at FROM products`

type scanner interface {
	Scan(dest ...any) error
}

func scanProduct(s scanner) (domain.Product, error) {
	var p domain.Product
	var variants []byte
	if err := s.Scan(&p.ID, &p.Name, &p.ImageURL, &p.Price, &p.Stock, &variants, &p.UpdatedAt); err != nil {
		return domain.Product{}, err
	}
	if len(variants) > 0 {
		if err := json.Unmarshal(variants, &p.Variants); err != nil {
			return domain.Product{}, fmt.Errorf("unmarshal variants of %s: %w", p.ID, err)
		}
	}
	return p, nil
}

func (r *Repository) Get(ctx context.Context, id string) (domain.Product, error) {
	p, err := scanProduct(r.db.QueryRowContext(ctx, selectProduct+` WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Product{}, &domain.ProductNotFoundError{ProductID: id}
	}
	if err != nil {
		return domain.Product{}, fmt.Errorf("query product %s: %w", id, err)
	}
	return p, nil
}

// LookupMany resolves all ids in one query. Unknown ids are absent from the result.
func (r *Repository) LookupMany(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := r.db.QueryContext(ctx, selectProduct+` WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		result[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return result, nil
}

func (r *Repository) List(ctx context.Context) ([]domain.Product, error) {
	rows, err := r.db.QueryContext(ctx, selectProduct+` ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	var products []domain.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return products, nil
}

// Upsert inserts or replaces a product, stock included.
func (r *Repository) Upsert(ctx context.Context, p domain.Product) error {
	if p.Variants == nil {
		p.Variants = []domain.Variant{}
	}
	variants, err := json.Marshal(p.Variants)
	if err != nil {
		return fmt.Errorf("marshal variants: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO products (id, name, image_url, price, stock, variants, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			image_url = EXCLUDED.image_url,
			price = EXCLUDED.price,
			stock = EXCLUDED.stock,
			variants = EXCLUDED.variants,
			updated_at = NOW()`,
		p.ID, p.Name, p.ImageURL, p.Price, p.Stock, variants)
	if err != nil {
		return fmt.Errorf("upsert product %s: %w", p.ID, err)
	}
	return nil
}

// DecrementStock takes quantity units of a product only if that many remain.
// Run it inside the transaction that records the order. A failed guard
// returns *domain.InsufficientStockError with the stock seen at that moment.
func DecrementStock(ctx context.Context, q Querier, productID string, quantity int) error {
	if quantity <= 0 {
		return domain.Invalid("decrement quantity must be positive, got %d", quantity)
	}

	res, err := q.ExecContext(ctx,
		`UPDATE products SET stock = stock - $2, updated_at = NOW() WHERE id = $1 AND stock >= $2`,
		productID, quantity)
	if err != nil {
		return fmt.Errorf("decrement stock of %s: %w", productID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("decrement stock of %s: %w", productID, err)
	}
	if n == 1 {
		return nil
	}

	var available int
	err = q.QueryRowContext(ctx, `SELECT stock FROM products WHERE id = $1`, productID).Scan(&available)
	if errors.Is(err, sql.ErrNoRows) {
		return &domain.ProductNotFoundError{ProductID: productID}
	}
	if err != nil {
		return fmt.Errorf("read stock of %s: %w", productID, err)
	}
	return &domain.InsufficientStockError{ProductID: productID, Requested: quantity, Available: available}
}
