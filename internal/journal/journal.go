// Package journal keeps a copy of every printed receipt so it can be
// reprinted later. The café API stays the source of truth for sales; the
// journal only stores what the terminal rendered.
package journal

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cafe-pos/terminal/internal/receipt"
)

// ErrNotFound is returned when no receipt is journaled for a sale.
var ErrNotFound = errors.New("receipt not found")

//go:embed migrations/*.sql
var migrations embed.FS

// Entry is a journaled receipt.
type Entry struct {
	Receipt      receipt.Receipt `json:"receipt"`
	PrintedCount int             `json:"printed_count"`
}

// PgStore is a receipt journal on PostgreSQL.
type PgStore struct {
	DB  *pgxpool.Pool
	url string
}

// Open connects to databaseURL and verifies the connection.
func Open(ctx context.Context, databaseURL string) (*PgStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect journal db: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping journal db: %w", err)
	}
	return &PgStore{DB: pool, url: databaseURL}, nil
}

// Migrate brings the journal schema up to date.
func (s *PgStore) Migrate() error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, migrateURL(s.url))
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// migrateURL rewrites a postgres:// URL for golang-migrate's pgx v5 driver.
func migrateURL(databaseURL string) string {
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(databaseURL, scheme) {
			return "pgx5://" + strings.TrimPrefix(databaseURL, scheme)
		}
	}
	return databaseURL
}

// Save stores r, replacing any earlier receipt for the same sale.
func (s *PgStore) Save(ctx context.Context, r receipt.Receipt) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal receipt %d: %w", r.SaleID, err)
	}

	query := `
		INSERT INTO receipts (sale_id, payment_method, total, customer_name, payload, settled_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (sale_id) DO UPDATE SET
			payment_method = EXCLUDED.payment_method,
			total = EXCLUDED.total,
			customer_name = EXCLUDED.customer_name,
			payload = EXCLUDED.payload,
			settled_at = EXCLUDED.settled_at,
			updated_at = NOW()
	`
	_, err = s.DB.Exec(ctx, query,
		r.SaleID, r.PaymentMethod, r.Total.String(), r.CustomerName, payload, r.SettledAt,
	)
	if err != nil {
		return fmt.Errorf("save receipt %d: %w", r.SaleID, err)
	}
	return nil
}

// Get returns the journaled receipt for saleID.
func (s *PgStore) Get(ctx context.Context, saleID int64) (Entry, error) {
	var payload []byte
	var e Entry
	err := s.DB.QueryRow(ctx,
		`SELECT payload, printed_count FROM receipts WHERE sale_id = $1`, saleID,
	).Scan(&payload, &e.PrintedCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("get receipt %d: %w", saleID, err)
	}
	if err := json.Unmarshal(payload, &e.Receipt); err != nil {
		return Entry{}, fmt.Errorf("decode receipt %d: %w", saleID, err)
	}
	return e, nil
}

// MarkPrinted increments the print counter of a journaled receipt.
func (s *PgStore) MarkPrinted(ctx context.Context, saleID int64) error {
	tag, err := s.DB.Exec(ctx,
		`UPDATE receipts SET printed_count = printed_count + 1, updated_at = NOW() WHERE sale_id = $1`, saleID)
	if err != nil {
		return fmt.Errorf("mark receipt %d printed: %w", saleID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Recent lists the latest receipts, newest first.
func (s *PgStore) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := s.DB.Query(ctx,
		`SELECT payload, printed_count FROM receipts ORDER BY settled_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list receipts: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var payload []byte
		var e Entry
		if err := rows.Scan(&payload, &e.PrintedCount); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(payload, &e.Receipt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PgStore) Close() {
	s.DB.Close()
}
