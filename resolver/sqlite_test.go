package resolver

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/jousa-sbrt/remote-bridge/config"
	"github.com/jousa-sbrt/remote-bridge/errors"
)

// seedDatabase creates a throwaway database with both tables populated
// newest-last, so ORDER BY ts DESC is observable.
func seedDatabase(t *testing.T, rows int) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "signals.db")
	db, err := sql.Open("sqlite", "file:"+path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`
CREATE TABLE probabilities (
	ts INTEGER, prob_short REAL, prob_neutral REAL, prob_long REAL,
	trend TEXT, raw_signal TEXT, final_signal TEXT, threshold REAL
);
CREATE TABLE trades (
	ts INTEGER, event TEXT, side TEXT, entry_price REAL, close_price REAL,
	size REAL, pnl_pct REAL, pnl_abs REAL, symbol TEXT, note TEXT
);`)
	require.NoError(t, err)

	for i := 1; i <= rows; i++ {
		_, err = db.Exec(
			`INSERT INTO probabilities VALUES (?, 0.2, 0.3, 0.5, 'up', 'long', 'long', 0.6)`, i)
		require.NoError(t, err)
		_, err = db.Exec(
			`INSERT INTO trades VALUES (?, 'close', 'long', 100.0, 101.5, 0.1, 1.5, 15.0, 'BTCUSDT', '')`, i)
		require.NoError(t, err)
	}
	return path
}

func TestSQLiteResolver_Probabilities(t *testing.T) {
	path := seedDatabase(t, 3)
	r, err := NewSQLiteResolver(path, config.DefaultLimits())
	require.NoError(t, err)
	defer r.Close()

	result, err := r.Resolve(context.Background(), "probabilities", map[string]any{"limit": 2})
	require.NoError(t, err)
	assert.Equal(t, "ok", result.Status)
	require.Len(t, result.Data, 2)

	// Newest first.
	assert.EqualValues(t, 3, result.Data[0]["ts"])
	assert.EqualValues(t, 2, result.Data[1]["ts"])
	assert.Equal(t, "up", result.Data[0]["trend"])
	assert.InDelta(t, 0.5, result.Data[0]["prob_long"].(float64), 1e-9)
}

func TestSQLiteResolver_Trades(t *testing.T) {
	path := seedDatabase(t, 2)
	r, err := NewSQLiteResolver(path, config.DefaultLimits())
	require.NoError(t, err)
	defer r.Close()

	result, err := r.Resolve(context.Background(), "trades", nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", result.Status)
	require.Len(t, result.Data, 2)
	assert.Equal(t, "BTCUSDT", result.Data[0]["symbol"])
	assert.Equal(t, "close", result.Data[0]["event"])
}

func TestSQLiteResolver_EmptyTable(t *testing.T) {
	path := seedDatabase(t, 0)
	r, err := NewSQLiteResolver(path, config.DefaultLimits())
	require.NoError(t, err)
	defer r.Close()

	result, err := r.Resolve(context.Background(), "trades", nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", result.Status)
	assert.NotNil(t, result.Data, "empty result must marshal as [], not null")
	assert.Len(t, result.Data, 0)
}

func TestSQLiteResolver_UnknownResource(t *testing.T) {
	path := seedDatabase(t, 1)
	r, err := NewSQLiteResolver(path, config.DefaultLimits())
	require.NoError(t, err)
	defer r.Close()

	result, err := r.Resolve(context.Background(), "orders", nil)
	require.NoError(t, err)
	assert.Equal(t, "error", result.Status)
	assert.Equal(t, "unknown_resource", result.Error)
}

func TestSQLiteResolver_ReadOnly(t *testing.T) {
	path := seedDatabase(t, 1)
	r, err := NewSQLiteResolver(path, config.DefaultLimits())
	require.NoError(t, err)
	defer r.Close()

	_, err = r.db.Exec(`INSERT INTO trades (ts) VALUES (99)`)
	assert.Error(t, err, "resolver handle must reject writes")
}

func TestSQLiteResolver_InvalidLimits(t *testing.T) {
	_, err := NewSQLiteResolver("ignored.db", config.LimitConfig{Min: 0, Max: 10, Default: 5})
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestSQLiteResolver_Ping(t *testing.T) {
	path := seedDatabase(t, 0)
	r, err := NewSQLiteResolver(path, config.DefaultLimits())
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.Ping(context.Background()))
}

func TestSQLiteResolver_QueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT ts, prob_short").
		WillReturnError(fmt.Errorf("database is locked"))

	r := NewFromDB(db, config.DefaultLimits())
	_, err = r.Resolve(context.Background(), "probabilities", nil)
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteResolver_ScanError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"ts", "event"}).
		AddRow(1, "close").
		RowError(0, fmt.Errorf("disk I/O error"))
	mock.ExpectQuery("SELECT ts, event").WillReturnRows(rows)

	r := NewFromDB(db, config.DefaultLimits())
	_, err = r.Resolve(context.Background(), "trades", nil)
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
}

func TestClampLimit(t *testing.T) {
	r := NewFromDB(nil, config.LimitConfig{Min: 1, Max: 500, Default: 100})

	tests := []struct {
		name string
		raw  any
		want int
	}{
		{"missing", nil, 100},
		{"int in range", 42, 42},
		{"int64", int64(7), 7},
		{"json number", float64(250), 250},
		{"string number", "33", 33},
		{"string junk", "lots", 100},
		{"below min", 0, 1},
		{"negative", -5, 1},
		{"above max", 10000, 500},
		{"bool", true, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.clampLimit(tt.raw))
		})
	}
}
