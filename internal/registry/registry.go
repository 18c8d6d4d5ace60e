// Package registry is the instrument master: a local SQLite mirror of
// the upstream's instrument dump, used to resolve trading symbols to
// numeric instrument tokens.
package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.

	"tickvault/internal/domain"
)

// ErrNotFound marks a symbol absent from the registry.
var ErrNotFound = errors.New("instrument not found")

// DefaultTTL is how long an exchange's instrument dump stays fresh.
// The upstream republishes daily; a week of slack tolerates weekends
// and holidays.
const DefaultTTL = 7 * 24 * time.Hour

// Instrument is one row of the instrument master.
type Instrument struct {
	Token          int64
	Symbol         string // raw upstream tradingsymbol
	Exchange       domain.Exchange
	Name           string
	InstrumentType string // EQ, FUT, CE, PE
	Expiry         int64  // Unix seconds, 0 when not applicable
	Strike         float64
	LotSize        int64
	TickSize       float64
}

const schema = `
CREATE TABLE IF NOT EXISTS instruments (
	exchange         TEXT NOT NULL,
	tradingsymbol    TEXT NOT NULL,
	symbol           TEXT NOT NULL,
	instrument_token INTEGER NOT NULL,
	name             TEXT NOT NULL DEFAULT '',
	instrument_type  TEXT NOT NULL DEFAULT '',
	expiry           INTEGER NOT NULL DEFAULT 0,
	strike           REAL NOT NULL DEFAULT 0,
	lot_size         INTEGER NOT NULL DEFAULT 0,
	tick_size        REAL NOT NULL DEFAULT 0,
	PRIMARY KEY (exchange, tradingsymbol)
);
CREATE INDEX IF NOT EXISTS idx_instruments_symbol ON instruments (exchange, symbol);

CREATE TABLE IF NOT EXISTS instrument_refresh (
	exchange     TEXT PRIMARY KEY,
	refreshed_at INTEGER NOT NULL,
	row_count    INTEGER NOT NULL
);
`

// Registry wraps the SQLite instrument database.
type Registry struct {
	db  *sql.DB
	ttl time.Duration
}

// Open opens (or creates) the registry at dbPath. ttl <= 0 uses
// DefaultTTL.
func Open(dbPath string, ttl time.Duration) (*Registry, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("registry open: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("registry schema: %w", err)
	}
	return &Registry{db: db, ttl: ttl}, nil
}

// Close closes the underlying database.
func (r *Registry) Close() error { return r.db.Close() }

// ReplaceExchange swaps in a fresh instrument dump for one exchange and
// stamps the refresh time. The swap is transactional: a failed replace
// leaves the previous dump intact.
func (r *Registry) ReplaceExchange(ctx context.Context, ex domain.Exchange, instruments []Instrument) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("registry replace %s: %w", ex, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM instruments WHERE exchange = ?`, string(ex)); err != nil {
		return fmt.Errorf("registry replace %s: %w", ex, err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO instruments
			(exchange, tradingsymbol, symbol, instrument_token, name, instrument_type, expiry, strike, lot_size, tick_size)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("registry replace %s: %w", ex, err)
	}
	defer stmt.Close()

	for _, in := range instruments {
		_, err := stmt.ExecContext(ctx,
			string(ex), in.Symbol, domain.SanitizeSymbol(in.Symbol), in.Token,
			in.Name, in.InstrumentType, in.Expiry, in.Strike, in.LotSize, in.TickSize)
		if err != nil {
			return fmt.Errorf("registry replace %s %s: %w", ex, in.Symbol, err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO instrument_refresh (exchange, refreshed_at, row_count)
		VALUES (?, ?, ?)
		ON CONFLICT (exchange) DO UPDATE SET refreshed_at = excluded.refreshed_at, row_count = excluded.row_count`,
		string(ex), time.Now().Unix(), len(instruments))
	if err != nil {
		return fmt.Errorf("registry replace %s: %w", ex, err)
	}
	return tx.Commit()
}

// Lookup finds one instrument by its sanitized symbol.
func (r *Registry) Lookup(ctx context.Context, ex domain.Exchange, symbol string) (Instrument, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT instrument_token, tradingsymbol, name, instrument_type, expiry, strike, lot_size, tick_size
		FROM instruments WHERE exchange = ? AND symbol = ?`,
		string(ex), domain.SanitizeSymbol(symbol))

	in := Instrument{Exchange: ex}
	err := row.Scan(&in.Token, &in.Symbol, &in.Name, &in.InstrumentType, &in.Expiry, &in.Strike, &in.LotSize, &in.TickSize)
	if errors.Is(err, sql.ErrNoRows) {
		return Instrument{}, fmt.Errorf("%s:%s: %w", ex, symbol, ErrNotFound)
	}
	if err != nil {
		return Instrument{}, fmt.Errorf("registry lookup %s:%s: %w", ex, symbol, err)
	}
	return in, nil
}

// InstrumentToken resolves a symbol to its upstream numeric token. This
// is the resolver the fetch layer consumes.
func (r *Registry) InstrumentToken(ctx context.Context, ex domain.Exchange, symbol string) (int64, error) {
	in, err := r.Lookup(ctx, ex, symbol)
	if err != nil {
		return 0, err
	}
	return in.Token, nil
}

// Search returns instruments whose symbol contains the pattern.
func (r *Registry) Search(ctx context.Context, ex domain.Exchange, pattern string, limit int) ([]Instrument, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT instrument_token, tradingsymbol, name, instrument_type, expiry, strike, lot_size, tick_size
		FROM instruments
		WHERE exchange = ? AND symbol LIKE ?
		ORDER BY tradingsymbol LIMIT ?`,
		string(ex), "%"+domain.SanitizeSymbol(pattern)+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("registry search %s: %w", ex, err)
	}
	defer rows.Close()

	var out []Instrument
	for rows.Next() {
		in := Instrument{Exchange: ex}
		if err := rows.Scan(&in.Token, &in.Symbol, &in.Name, &in.InstrumentType, &in.Expiry, &in.Strike, &in.LotSize, &in.TickSize); err != nil {
			return nil, fmt.Errorf("registry search %s: %w", ex, err)
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

// Stale reports whether the exchange's dump is older than the TTL. An
// exchange never loaded is stale.
func (r *Registry) Stale(ctx context.Context, ex domain.Exchange) (bool, error) {
	var refreshed int64
	err := r.db.QueryRowContext(ctx,
		`SELECT refreshed_at FROM instrument_refresh WHERE exchange = ?`, string(ex)).Scan(&refreshed)
	if errors.Is(err, sql.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("registry staleness %s: %w", ex, err)
	}
	return time.Since(time.Unix(refreshed, 0)) > r.ttl, nil
}
