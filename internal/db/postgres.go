package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/papersim/trading-engine/internal/journal"
	"github.com/papersim/trading-engine/internal/quote"
)

// Postgres implements Storage on top of lib/pq.
type Postgres struct {
	db *sql.DB
}

// NewPostgres opens a connection pool and ensures the schema exists.
func NewPostgres(connStr string, maxOpen, maxIdle int) (*Postgres, error) {
	conn, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	conn.SetMaxOpenConns(maxOpen)
	conn.SetMaxIdleConns(maxIdle)

	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	p := &Postgres{db: conn}
	if err := p.initSchema(); err != nil {
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	return p, nil
}

func (p *Postgres) initSchema() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS quotes (
			symbol TEXT PRIMARY KEY,
			data JSONB NOT NULL,
			cached_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS transactions (
			id TEXT PRIMARY KEY,
			symbol TEXT NOT NULL,
			type TEXT NOT NULL,
			quantity BIGINT NOT NULL,
			price DOUBLE PRECISION NOT NULL,
			total_amount DOUBLE PRECISION NOT NULL,
			fee DOUBLE PRECISION NOT NULL,
			status TEXT NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_timestamp ON transactions (timestamp DESC)`,
		`CREATE TABLE IF NOT EXISTS events (
			id SERIAL PRIMARY KEY,
			time TIMESTAMPTZ NOT NULL,
			type TEXT NOT NULL,
			description TEXT,
			data JSONB
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_type_time ON events (type, time)`,
	}
	for _, stmt := range schema {
		if _, err := p.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing %q: %w", stmt[:30], err)
		}
	}
	return nil
}

// -------- QuoteStore --------

func (p *Postgres) SaveQuote(ctx context.Context, q quote.Quote, cachedAt time.Time) error {
	data, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("marshaling quote: %w", err)
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO quotes (symbol, data, cached_at) VALUES ($1, $2, $3)
		 ON CONFLICT (symbol) DO UPDATE SET data = $2, cached_at = $3`,
		quote.NormalizeSymbol(q.Symbol), data, cachedAt.UTC())
	if err != nil {
		return fmt.Errorf("saving quote for %s: %w", q.Symbol, err)
	}
	return nil
}

func (p *Postgres) GetQuote(ctx context.Context, symbol string) (*quote.Quote, time.Time, error) {
	var data []byte
	var cachedAt time.Time
	err := p.db.QueryRowContext(ctx,
		`SELECT data, cached_at FROM quotes WHERE symbol = $1`,
		quote.NormalizeSymbol(symbol)).Scan(&data, &cachedAt)
	if err == sql.ErrNoRows {
		return nil, time.Time{}, nil
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("querying quote for %s: %w", symbol, err)
	}
	var q quote.Quote
	if err := json.Unmarshal(data, &q); err != nil {
		return nil, time.Time{}, fmt.Errorf("unmarshaling quote for %s: %w", symbol, err)
	}
	return &q, cachedAt, nil
}

func (p *Postgres) DeleteQuote(ctx context.Context, symbol string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM quotes WHERE symbol = $1`, quote.NormalizeSymbol(symbol))
	if err != nil {
		return fmt.Errorf("deleting quote for %s: %w", symbol, err)
	}
	return nil
}

// -------- TransactionStore --------

func (p *Postgres) SaveTransaction(ctx context.Context, tx Transaction) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO transactions (id, symbol, type, quantity, price, total_amount, fee, status, timestamp, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (id) DO UPDATE SET status = $8, updated_at = $10`,
		tx.ID, tx.Symbol, tx.Type, tx.Quantity, tx.Price, tx.TotalAmount, tx.Fee,
		tx.Status, tx.Timestamp.UTC(), tx.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("saving transaction %s: %w", tx.ID, err)
	}
	return nil
}

func (p *Postgres) UpdateTransactionStatus(ctx context.Context, id, status string) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE transactions SET status = $2, updated_at = $3 WHERE id = $1`,
		id, status, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("updating transaction %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("transaction %s not found", id)
	}
	return nil
}

func (p *Postgres) GetTransactions(ctx context.Context, limit int) ([]Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, symbol, type, quantity, price, total_amount, fee, status, timestamp, updated_at
		 FROM transactions ORDER BY timestamp DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying transactions: %w", err)
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		var tx Transaction
		if err := rows.Scan(&tx.ID, &tx.Symbol, &tx.Type, &tx.Quantity, &tx.Price,
			&tx.TotalAmount, &tx.Fee, &tx.Status, &tx.Timestamp, &tx.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning transaction: %w", err)
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

// -------- Journaler --------

func (p *Postgres) LogEvent(ctx context.Context, event journal.Event) error {
	data, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("marshaling event data: %w", err)
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO events (time, type, description, data) VALUES ($1, $2, $3, $4)`,
		event.Time.UTC(), event.Type, event.Description, data)
	if err != nil {
		return fmt.Errorf("logging event: %w", err)
	}
	return nil
}

func (p *Postgres) GetEvents(ctx context.Context, eventType string, start, end time.Time) ([]journal.Event, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT time, type, description, data FROM events
		 WHERE type = $1 AND time >= $2 AND time <= $3 ORDER BY time`,
		eventType, start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var out []journal.Event
	for rows.Next() {
		var e journal.Event
		var data []byte
		if err := rows.Scan(&e.Time, &e.Type, &e.Description, &data); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &e.Data); err != nil {
				return nil, fmt.Errorf("unmarshaling event data: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *Postgres) Close() error {
	return p.db.Close()
}
