// Package sandbox is a local stand-in for the payment gateway. It issues
// intents, settles them on request and reports the result to the shop by a
// signed webhook.
package sandbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

type IntentStatus string

const (
	IntentCreated IntentStatus = "created"
	IntentPaid    IntentStatus = "paid"
	IntentFailed  IntentStatus = "failed"
)

var (
	ErrIntentNotFound = errors.New("intent not found")
	ErrAlreadySettled = errors.New("intent already settled")
)

type Intent struct {
	ID        string       `json:"id"`
	Receipt   string       `json:"receipt"`
	Amount    int64        `json:"amount"`
	Currency  string       `json:"currency"`
	Status    IntentStatus `json:"status"`
	PaymentID string       `json:"payment_id,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

type Store struct {
	db *sql.DB
}

// OpenStore opens the SQLite file at path and applies the migrations in dir.
func OpenStore(ctx context.Context, path, dir string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// one writer keeps SQLite from returning SQLITE_BUSY under concurrent requests
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite: %w", err)
	}
	if err := runMigrations(db, dir); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func runMigrations(db *sql.DB, dir string) error {
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance(fmt.Sprintf("file://%s", dir), "sqlite", driver)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

const selectIntent = `SELECT id, receipt, amount, currency, status, payment_id, created_at, updated_at FROM intents`

// CreateIntent returns the intent already issued for receipt, or a new one.
func (s *Store) CreateIntent(ctx context.Context, receipt string, amount int64, currency string) (*Intent, error) {
	if existing, err := s.byReceipt(ctx, receipt); err == nil {
		return existing, nil
	} else if !errors.Is(err, ErrIntentNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	id := "order_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:14]
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO intents (id, receipt, amount, currency, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (receipt) DO NOTHING`,
		id, receipt, amount, currency, IntentCreated, now, now)
	if err != nil {
		return nil, fmt.Errorf("insert intent: %w", err)
	}
	return s.byReceipt(ctx, receipt)
}

func (s *Store) Get(ctx context.Context, id string) (*Intent, error) {
	return s.scanOne(s.db.QueryRowContext(ctx, selectIntent+` WHERE id = ?`, id))
}

func (s *Store) byReceipt(ctx context.Context, receipt string) (*Intent, error) {
	return s.scanOne(s.db.QueryRowContext(ctx, selectIntent+` WHERE receipt = ?`, receipt))
}

// Settle moves a created intent to paid or failed. Settling twice fails
// with ErrAlreadySettled.
func (s *Store) Settle(ctx context.Context, id string, status IntentStatus, paymentID string) (*Intent, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE intents SET status = ?, payment_id = ?, updated_at = ? WHERE id = ? AND status = ?`,
		status, paymentID, time.Now().UTC(), id, IntentCreated)
	if err != nil {
		return nil, fmt.Errorf("settle intent: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("settle intent: %w", err)
	}
	if n == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrAlreadySettled
	}
	return s.Get(ctx, id)
}

func (s *Store) scanOne(row *sql.Row) (*Intent, error) {
	var (
		in        Intent
		paymentID sql.NullString
	)
	err := row.Scan(&in.ID, &in.Receipt, &in.Amount, &in.Currency, &in.Status, &paymentID, &in.CreatedAt, &in.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrIntentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan intent: %w", err)
	}
	in.PaymentID = paymentID.String
	return &in, nil
}
