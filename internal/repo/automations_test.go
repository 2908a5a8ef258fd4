package repo

import (
	"context"
	"reflect"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTx answers queries by matching a table name against canned rows.
type fakeTx struct {
	rows map[string][][]any
}

func (f *fakeTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}

func (f *fakeTx) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	return &fakeRows{rows: f.lookup(sql)}, nil
}

func (f *fakeTx) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	rows := f.lookup(sql)
	if len(rows) == 0 {
		return &fakeRow{err: pgx.ErrNoRows}
	}
	return &fakeRow{values: rows[0]}
}

func (f *fakeTx) lookup(sql string) [][]any {
	for needle, rows := range f.rows {
		if strings.Contains(sql, needle) {
			return rows
		}
	}
	return nil
}

type fakeRow struct {
	values []any
	err    error
}

func (r *fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return scanInto(r.values, dest)
}

type fakeRows struct {
	rows [][]any
	pos  int
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) Values() ([]any, error)                       { return r.rows[r.pos-1], nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func (r *fakeRows) Next() bool {
	r.pos++
	return r.pos <= len(r.rows)
}

func (r *fakeRows) Scan(dest ...any) error { return scanInto(r.rows[r.pos-1], dest) }

func scanInto(values []any, dest []any) error {
	for i, d := range dest {
		target := reflect.ValueOf(d).Elem()
		v := reflect.ValueOf(values[i])
		if !v.IsValid() {
			target.Set(reflect.Zero(target.Type()))
			continue
		}
		target.Set(v.Convert(target.Type()))
	}
	return nil
}

func TestGetHydratesActionTemplates(t *testing.T) {
	tx := &fakeTx{rows: map[string][][]any{
		"FROM automations": {
			{int64(5), int64(1), "dip buyer", "BTCUSD", "BTCUSD:BOOK", "true", "", true, false},
		},
		"FROM actions": {
			{int64(1), int64(5), "ORDER", int64(7), int64(0)},
			{int64(2), int64(5), "WITHDRAW", int64(0), int64(3)},
		},
		"FROM grids": {},
		"FROM order_templates": {
			{int64(7), int64(1), "dip buyer BUY", "BTCUSD", "MARKET", "BUY",
				"", float64(0), "", float64(0), "0.1", float64(1), int64(0), "", (*bool)(nil)},
		},
		"FROM withdraw_templates": {
			{int64(3), int64(1), "sweep", "BTC", "0.05", float64(1), "addr", "", ""},
		},
	}}

	auto, err := NewAutomations().Get(context.Background(), tx, 5)
	require.NoError(t, err)
	require.Len(t, auto.Actions, 2)

	require.NotNil(t, auto.Actions[0].OrderTemplate)
	assert.Equal(t, int64(7), auto.Actions[0].OrderTemplate.ID)
	assert.Equal(t, "0.1", auto.Actions[0].OrderTemplate.Quantity)

	require.NotNil(t, auto.Actions[1].WithdrawTemplate)
	assert.Equal(t, "BTC", auto.Actions[1].WithdrawTemplate.Coin)
}

func TestGetHydratesGridTemplates(t *testing.T) {
	tx := &fakeTx{rows: map[string][][]any{
		"FROM automations": {
			{int64(6), int64(1), "ladder", "BTCUSD", "BTCUSD:BOOK", "true", "", true, false},
		},
		"FROM actions": {
			{int64(1), int64(6), "GRID", int64(0), int64(0)},
		},
		"FROM grids": {
			{int64(11), int64(6), int64(7),
				"MEMORY['BTCUSD:BOOK'].current.bestAsk<125"},
		},
		"FROM order_templates": {
			{int64(7), int64(1), "ladder BUY", "BTCUSD", "MARKET", "BUY",
				"", float64(0), "", float64(0), "0.1", float64(1), int64(0), "", (*bool)(nil)},
		},
	}}

	auto, err := NewAutomations().Get(context.Background(), tx, 6)
	require.NoError(t, err)
	require.Len(t, auto.Grids, 1)
	require.NotNil(t, auto.Grids[0].OrderTemplate)
	assert.Equal(t, int64(7), auto.Grids[0].OrderTemplate.ID)
}
