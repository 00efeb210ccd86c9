package db

import (
	"context"
	"io"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/mock"
)

type mockDBTX struct {
	mock.Mock
}

func (m *mockDBTX) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgconn.CommandTag), args.Error(1)
}

func (m *mockDBTX) Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error) {
	args := m.Called(ctx, sql, arguments)
	if r := args.Get(0); r != nil {
		return r.(pgx.Rows), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDBTX) QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgx.Row)
}

// jsonRows yields one []byte column per row.
type jsonRows struct {
	data    [][]byte
	idx     int
	closed  bool
	scanErr error
	errVal  error
}

func newJSONRows(rows ...string) *jsonRows {
	r := &jsonRows{idx: -1}
	for _, row := range rows {
		r.data = append(r.data, []byte(row))
	}
	return r
}

func (r *jsonRows) Next() bool {
	if r.closed {
		return false
	}
	r.idx++
	return r.idx < len(r.data)
}

func (r *jsonRows) Scan(dest ...any) error {
	if r.scanErr != nil {
		return r.scanErr
	}
	*dest[0].(*[]byte) = r.data[r.idx]
	return nil
}

func (r *jsonRows) Close()                                       { r.closed = true }
func (r *jsonRows) Err() error                                   { return r.errVal }
func (r *jsonRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *jsonRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *jsonRows) RawValues() [][]byte                          { return nil }
func (r *jsonRows) Values() ([]any, error)                       { return nil, nil }
func (r *jsonRows) Conn() *pgx.Conn                              { return nil }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
