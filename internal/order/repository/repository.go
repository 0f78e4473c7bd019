package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fjod/freshmilk/internal/domain"
)

var ErrOrderNotFound = fmt.Errorf("order %w", domain.ErrNotFound)

// Tx is the set of writes that must commit together with an order change.
type Tx interface {
	InsertOrder(ctx context.Context, order *domain.Order) error
	LockOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	LockOrderByIntent(ctx context.Context, intentID string) (*domain.Order, error)
	SaveOrder(ctx context.Context, order *domain.Order) error
	DecrementStock(ctx context.Context, productID string, quantity int) error
	AppendEvent(ctx context.Context, eventType string, event domain.OrderEvent) error
	Savepoint(ctx context.Context, name string) error
	RollbackToSavepoint(ctx context.Context, name string) error
}

// OrderRepository is what the order service needs from storage.
type OrderRepository interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
	GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	ListByUser(ctx context.Context, userID string) ([]*domain.Order, error)
	List(ctx context.Context, filter domain.OrderFilter) ([]*domain.Order, error)
	DeleteOrder(ctx context.Context, id uuid.UUID) error
	SetPaymentIntent(ctx context.Context, id uuid.UUID, intentID string) error
	ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]uuid.UUID, error)
}

// OutboxRepository feeds the event relay.
type OutboxRepository interface {
	GetUnpublishedEvents(ctx context.Context, limit int) ([]domain.OutboxEvent, error)
	MarkEventPublished(ctx context.Context, id uuid.UUID) error
}

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// InTx runs fn in a transaction. It commits when fn returns nil and rolls
// back on an error or a panic, so no partial write is ever visible.
func (r *Repository) InTx(ctx context.Context, fn func(tx Tx) error) error {
	sqlTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			return fmt.Errorf("tx err: %w; rollback err: %v", err, rbErr)
		}
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (r *Repository) GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	o, err := scanOrder(r.db.QueryRowContext(ctx, selectOrder+` WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query order by id: %w", err)
	}
	return o, nil
}

func (r *Repository) ListByUser(ctx context.Context, userID string) ([]*domain.Order, error) {
	return r.query(ctx, selectOrder+` WHERE user_id = $1 ORDER BY created_at DESC`, userID)
}

func (r *Repository) List(ctx context.Context, f domain.OrderFilter) ([]*domain.Order, error) {
	query, args := buildListQuery(f)
	return r.query(ctx, query, args...)
}

func buildListQuery(f domain.OrderFilter) (string, []any) {
	query := selectOrder + ` WHERE TRUE`
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		query += fmt.Sprintf(" AND %s = $%d", cond, len(args))
	}
	if f.UserID != "" {
		add("user_id", f.UserID)
	}
	if f.Status != "" {
		add("order_status", f.Status)
	}
	if f.PaymentStatus != "" {
		add("payment_status", f.PaymentStatus)
	}
	if f.PaymentMethod != "" {
		add("payment_method", f.PaymentMethod)
	}
	query += ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	return query, args
}

func (r *Repository) query(ctx context.Context, query string, args ...any) ([]*domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	orders := []*domain.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return orders, nil
}

// DeleteOrder removes the order row. Stock is not restored.
func (r *Repository) DeleteOrder(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM orders WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete order: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete order: %w", err)
	}
	if n == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// SetPaymentIntent records the gateway intent of an order still awaiting payment.
func (r *Repository) SetPaymentIntent(ctx context.Context, id uuid.UUID, intentID string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE orders SET payment_intent_id = $2, updated_at = NOW() WHERE id = $1 AND payment_status = $3`,
		id, intentID, domain.PaymentStatusPending)
	if err != nil {
		return fmt.Errorf("set payment intent: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set payment intent: %w", err)
	}
	if n == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// ListStalePending returns online orders created before the cutoff that never got paid.
func (r *Repository) ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id FROM orders
		WHERE payment_method = $1 AND payment_status = $2 AND created_at < $3
		ORDER BY created_at
		LIMIT $4`,
		domain.PaymentMethodOnline, domain.PaymentStatusPending, createdBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("query stale pending orders: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan order id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return ids, nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}
