package resolver

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strconv"

	// Pure-Go SQLite driver, registers as "sqlite"
	_ "modernc.org/sqlite"

	"github.com/jousa-sbrt/remote-bridge/config"
	"github.com/jousa-sbrt/remote-bridge/errors"
)

// Queries per resource. Both read newest-first with a bound limit; column
// sets match the live writer's schema.
const (
	probabilitiesQuery = `
SELECT ts, prob_short, prob_neutral, prob_long, trend, raw_signal, final_signal, threshold
FROM probabilities
ORDER BY ts DESC
LIMIT ?`

	tradesQuery = `
SELECT ts, event, side, entry_price, close_price, size, pnl_pct, pnl_abs, symbol, note
FROM trades
ORDER BY ts DESC
LIMIT ?`
)

// SQLiteResolver resolves resource requests against a local SQLite database
// opened read-only, so it never blocks or corrupts the live writer.
type SQLiteResolver struct {
	db     *sql.DB
	limits config.LimitConfig
}

// NewSQLiteResolver opens the database at path in read-only mode and returns
// a resolver over it. The busy timeout keeps reads from failing while the
// writer holds the WAL lock.
func NewSQLiteResolver(path string, limits config.LimitConfig) (*SQLiteResolver, error) {
	if err := limits.Validate(); err != nil {
		return nil, err
	}

	dsn := fmt.Sprintf(
		"file:%s?mode=ro&_pragma=busy_timeout(2000)&_pragma=query_only(ON)",
		path,
	)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.WrapFatal(err, "SQLiteResolver", "NewSQLiteResolver", "open database")
	}

	return &SQLiteResolver{db: db, limits: limits}, nil
}

// NewFromDB wraps an existing database handle. Used by tests and by callers
// that manage the connection themselves.
func NewFromDB(db *sql.DB, limits config.LimitConfig) *SQLiteResolver {
	return &SQLiteResolver{db: db, limits: limits}
}

// Ping verifies the database is reachable.
func (r *SQLiteResolver) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return errors.WrapTransient(err, "SQLiteResolver", "Ping", "ping database")
	}
	return nil
}

// Close releases the database handle.
func (r *SQLiteResolver) Close() error {
	return r.db.Close()
}

// Resolve implements Resolver. Unknown resources yield a typed failure, not
// an error; the error return is reserved for storage-level problems.
func (r *SQLiteResolver) Resolve(ctx context.Context, resource string, params map[string]any) (Result, error) {
	var query string
	switch resource {
	case "probabilities":
		query = probabilitiesQuery
	case "trades":
		query = tradesQuery
	default:
		return UnknownResource(), nil
	}

	limit := r.clampLimit(params["limit"])

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return Result{}, errors.WrapTransient(err, "SQLiteResolver", "Resolve", "query "+resource)
	}
	defer rows.Close()

	data, err := scanRecords(rows)
	if err != nil {
		return Result{}, errors.WrapTransient(err, "SQLiteResolver", "Resolve", "scan "+resource)
	}

	return OK(data), nil
}

// clampLimit coerces the "limit" parameter to an int and clamps it into the
// configured bounds. Anything unparseable falls back to the default.
func (r *SQLiteResolver) clampLimit(raw any) int {
	limit := r.limits.Default

	switch v := raw.(type) {
	case int:
		limit = v
	case int64:
		limit = int(v)
	case float64:
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			limit = int(v)
		}
	case string:
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}

	if limit < r.limits.Min {
		return r.limits.Min
	}
	if limit > r.limits.Max {
		return r.limits.Max
	}
	return limit
}

// scanRecords converts rows into a slice of column-name keyed records.
func scanRecords(rows *sql.Rows) ([]map[string]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	records := make([]map[string]any, 0)
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		record := make(map[string]any, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				record[col] = string(b)
			} else {
				record[col] = values[i]
			}
		}
		records = append(records, record)
	}

	return records, rows.Err()
}
