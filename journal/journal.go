// Package journal persists fills to Postgres so the ledger survives restarts.
package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/evdnx/golog"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kylerberry/JACT/internal/logutil"
	"github.com/kylerberry/JACT/models"
)

const (
	journalComponent = "journal"
	writeTimeout     = 4 * time.Second
	readTimeout      = 10 * time.Second
	queueSize        = 256
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS jact_fills (
    id             BIGSERIAL PRIMARY KEY,
    product_id     TEXT             NOT NULL,
    order_id       TEXT             NOT NULL,
    side           TEXT             NOT NULL,
    size           DOUBLE PRECISION NOT NULL,
    price          DOUBLE PRECISION NOT NULL,
    remaining_size DOUBLE PRECISION NOT NULL,
    filled_at      TIMESTAMPTZ      NOT NULL,
    UNIQUE (product_id, order_id, filled_at, size, price)
)`

const insertFillSQL = `
INSERT INTO jact_fills (product_id, order_id, side, size, price, remaining_size, filled_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT DO NOTHING`

const loadFillsSQL = `
SELECT order_id, side, size, price, remaining_size, filled_at
FROM jact_fills
WHERE product_id = $1
ORDER BY filled_at, id`

// DB is the subset of *pgxpool.Pool the journal uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Journal appends fills for one product. Fills handed to Hook are written
// by Run on its own goroutine.
type Journal struct {
	db      DB
	pool    *pgxpool.Pool
	product string
	logger  *golog.Logger
	queue   chan models.Fill
}

// Open connects to dsn, verifies the connection and creates the table.
func Open(ctx context.Context, dsn, product string) (*Journal, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create journal pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach journal database: %w", err)
	}
	j := New(pool, product)
	j.pool = pool
	if err := j.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return j, nil
}

// New wraps an existing connection.
func New(db DB, product string) *Journal {
	return &Journal{
		db:      db,
		product: product,
		logger:  logutil.Default(),
		queue:   make(chan models.Fill, queueSize),
	}
}

// EnsureSchema creates the fills table when missing.
func (j *Journal) EnsureSchema(ctx context.Context) error {
	if _, err := j.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create journal schema: %w", err)
	}
	return nil
}

// Record stores f. Recording the same fill twice is a no-op.
func (j *Journal) Record(ctx context.Context, f models.Fill) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := j.db.Exec(ctx, insertFillSQL,
		j.product, f.OrderID, f.Side, f.Size, f.Price, f.RemainingSize, f.Time.UTC())
	if err != nil {
		return fmt.Errorf("failed to record fill for order %s: %w", f.OrderID, err)
	}
	return nil
}

// Load returns the product's fills in the order they happened.
func (j *Journal) Load(ctx context.Context) ([]models.Fill, error) {
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	rows, err := j.db.Query(ctx, loadFillsSQL, j.product)
	if err != nil {
		return nil, fmt.Errorf("failed to load fills: %w", err)
	}
	defer rows.Close()

	var fills []models.Fill
	for rows.Next() {
		var f models.Fill
		if err := rows.Scan(&f.OrderID, &f.Side, &f.Size, &f.Price, &f.RemainingSize, &f.Time); err != nil {
			return nil, fmt.Errorf("failed to scan fill: %w", err)
		}
		fills = append(fills, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read fills: %w", err)
	}
	return fills, nil
}

// Hook returns a ledger fill callback that queues each fill for Run. It
// never blocks; a fill arriving while the queue is full is logged and
// dropped.
func (j *Journal) Hook() func(models.Fill) {
	return func(f models.Fill) {
		select {
		case j.queue <- f:
		default:
			j.logger.Error("journal queue full, fill not recorded",
				golog.String("component", journalComponent),
				golog.String("order_id", f.OrderID),
			)
		}
	}
}

// Run records queued fills until ctx is done, then writes what is still
// queued before returning.
func (j *Journal) Run(ctx context.Context) error {
	for {
		select {
		case f := <-j.queue:
			j.write(ctx, f)
		case <-ctx.Done():
			j.flush()
			return nil
		}
	}
}

func (j *Journal) flush() {
	for {
		select {
		case f := <-j.queue:
			j.write(context.Background(), f)
		default:
			return
		}
	}
}

func (j *Journal) write(ctx context.Context, f models.Fill) {
	if err := j.Record(ctx, f); err != nil {
		j.logger.Error("journal write failed",
			golog.String("component", journalComponent),
			golog.String("order_id", f.OrderID),
			golog.String("error", err.Error()),
		)
	}
}

// Close releases the pool opened by Open.
func (j *Journal) Close() {
	if j.pool != nil {
		j.pool.Close()
	}
}
