package cart

import (
	"context"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ─── Mock DB ─────────────────────────────────────────────────────────────────

// mockRow implements pgx.Row for testing.
type mockRow struct {
	scanFunc func(dest ...any) error
}

func (r *mockRow) Scan(dest ...any) error { return r.scanFunc(dest...) }

// mockRows implements pgx.Rows for testing.
type mockRows struct {
	data   [][]any
	idx    int
	err    error
	closed bool
}

func (r *mockRows) Close()                                       { r.closed = true }
func (r *mockRows) Err() error                                   { return r.err }
func (r *mockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *mockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *mockRows) RawValues() [][]byte                          { return nil }
func (r *mockRows) Conn() *pgx.Conn                              { return nil }
func (r *mockRows) Values() ([]any, error)                       { return nil, nil }

func (r *mockRows) Next() bool {
	if r.idx >= len(r.data) {
		return false
	}
	r.idx++
	return true
}

func (r *mockRows) Scan(dest ...any) error {
	row := r.data[r.idx-1]
	if len(dest) != len(row) {
		return fmt.Errorf("scan: expected %d columns, got %d destinations", len(row), len(dest))
	}
	for i, v := range row {
		switch d := dest[i].(type) {
		case *string:
			*d = v.(string)
		case *int:
			*d = v.(int)
		default:
			return fmt.Errorf("scan: unsupported type at index %d: %T", i, dest[i])
		}
	}
	return nil
}

type execCall struct {
	sql  string
	args []any
}

// mockDB implements the DB interface for testing.
type mockDB struct {
	queryRowFunc func(ctx context.Context, sql string, args ...any) pgx.Row
	queryFunc    func(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	execFunc     func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)

	execs []execCall
}

func (m *mockDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if m.queryRowFunc != nil {
		return m.queryRowFunc(ctx, sql, args...)
	}
	return &mockRow{scanFunc: func(dest ...any) error { return pgx.ErrNoRows }}
}

func (m *mockDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if m.queryFunc != nil {
		return m.queryFunc(ctx, sql, args...)
	}
	return &mockRows{}, nil
}

func (m *mockDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	m.execs = append(m.execs, execCall{sql: sql, args: args})
	if m.execFunc != nil {
		return m.execFunc(ctx, sql, args...)
	}
	return pgconn.CommandTag{}, nil
}

// ---------------------------------------------------------------------------
// PostgresStore tests
// ---------------------------------------------------------------------------

func TestPostgresStore_Migrate(t *testing.T) {
	t.Parallel()

	db := &mockDB{}
	if err := NewPostgresStore(db).Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if len(db.execs) != 1 || db.execs[0].sql != Schema {
		t.Errorf("Migrate executed %+v, want the schema DDL", db.execs)
	}
}

func TestPostgresStore_AddUpsertsThenReads(t *testing.T) {
	t.Parallel()

	rows := &mockRows{data: [][]any{{"Latte", 3}, {"Scone", 1}}}
	db := &mockDB{
		queryFunc: func(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
			if !strings.Contains(sql, "ORDER BY position") {
				t.Errorf("unexpected query %q", sql)
			}
			return rows, nil
		},
	}

	got, err := NewPostgresStore(db).Add(context.Background(), "u1", "Latte", 2)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	if len(db.execs) != 1 {
		t.Fatalf("exec calls = %d, want 1", len(db.execs))
	}
	if !strings.Contains(db.execs[0].sql, "ON CONFLICT (user_id, item)") {
		t.Errorf("Add SQL %q is not an upsert", db.execs[0].sql)
	}
	if !reflect.DeepEqual(db.execs[0].args, []any{"u1", "Latte", 2}) {
		t.Errorf("Add args = %v", db.execs[0].args)
	}
	want := []Item{{Name: "Latte", Quantity: 3}, {Name: "Scone", Quantity: 1}}
	if !reflect.DeepEqual(got.Items, want) {
		t.Errorf("Items = %+v, want %+v", got.Items, want)
	}
	if !rows.closed {
		t.Error("rows were not closed")
	}
}

func TestPostgresStore_RemoveDeletesExhaustedLine(t *testing.T) {
	t.Parallel()

	db := &mockDB{
		execFunc: func(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
			if strings.Contains(sql, "DELETE") {
				return pgconn.NewCommandTag("DELETE 1"), nil
			}
			return pgconn.CommandTag{}, nil
		},
		queryRowFunc: func(_ context.Context, sql string, _ ...any) pgx.Row {
			t.Errorf("unexpected QueryRow %q", sql)
			return &mockRow{scanFunc: func(...any) error { return nil }}
		},
	}

	if _, err := NewPostgresStore(db).Remove(context.Background(), "u1", "Latte", 5); err != nil {
		t.Fatalf("Remove: %v", err)
	}
}

func TestPostgresStore_RemoveDecrements(t *testing.T) {
	t.Parallel()

	var updated bool
	db := &mockDB{
		execFunc: func(context.Context, string, ...any) (pgconn.CommandTag, error) {
			return pgconn.NewCommandTag("DELETE 0"), nil
		},
		queryRowFunc: func(_ context.Context, sql string, args ...any) pgx.Row {
			if !strings.Contains(sql, "UPDATE cart_items") {
				t.Errorf("unexpected QueryRow %q", sql)
			}
			updated = true
			return &mockRow{scanFunc: func(dest ...any) error {
				*dest[0].(*int) = 2
				return nil
			}}
		},
	}

	if _, err := NewPostgresStore(db).Remove(context.Background(), "u1", "Latte", 1); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if !updated {
		t.Error("decrement UPDATE was not issued")
	}
}

func TestPostgresStore_RemoveMissing(t *testing.T) {
	t.Parallel()

	db := &mockDB{
		execFunc: func(context.Context, string, ...any) (pgconn.CommandTag, error) {
			return pgconn.NewCommandTag("DELETE 0"), nil
		},
	}

	_, err := NewPostgresStore(db).Remove(context.Background(), "u1", "Latte", 1)
	if !errors.Is(err, ErrItemNotFound) {
		t.Errorf("err = %v, want ErrItemNotFound", err)
	}
}

func TestPostgresStore_ErrorsAreWrapped(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection reset")
	db := &mockDB{
		execFunc: func(context.Context, string, ...any) (pgconn.CommandTag, error) {
			return pgconn.CommandTag{}, boom
		},
		queryFunc: func(context.Context, string, ...any) (pgx.Rows, error) {
			return nil, boom
		},
	}
	s := NewPostgresStore(db)
	ctx := context.Background()

	if _, err := s.Add(ctx, "u1", "Latte", 1); !errors.Is(err, boom) {
		t.Errorf("Add err = %v, want wrapped %v", err, boom)
	}
	if _, err := s.Empty(ctx, "u1"); !errors.Is(err, boom) {
		t.Errorf("Empty err = %v, want wrapped %v", err, boom)
	}
	if _, err := s.Get(ctx, "u1"); !errors.Is(err, boom) {
		t.Errorf("Get err = %v, want wrapped %v", err, boom)
	}
}

func TestPostgresStore_Ping(t *testing.T) {
	t.Parallel()

	ok := &mockDB{queryRowFunc: func(context.Context, string, ...any) pgx.Row {
		return &mockRow{scanFunc: func(dest ...any) error {
			*dest[0].(*int) = 1
			return nil
		}}
	}}
	if err := NewPostgresStore(ok).Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}

	if err := NewPostgresStore(&mockDB{}).Ping(context.Background()); err == nil {
		t.Error("Ping succeeded on failing database")
	}
}

// TestPostgresStore_Integration runs against a real database when
// CAFEVOX_TEST_POSTGRES_DSN is set.
func TestPostgresStore_Integration(t *testing.T) {
	dsn := os.Getenv("CAFEVOX_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("CAFEVOX_TEST_POSTGRES_DSN not set")
	}

	ctx := context.Background()
	s, err := OpenPostgres(ctx, dsn)
	if err != nil {
		t.Fatalf("OpenPostgres: %v", err)
	}
	defer s.Close()

	user := "integration-" + t.Name()
	t.Cleanup(func() { _, _ = s.Empty(context.Background(), user) })

	if _, err := s.Add(ctx, user, "Latte", 2); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := s.Add(ctx, user, "Latte", 1); err != nil {
		t.Fatalf("Add: %v", err)
	}
	got, err := s.Remove(ctx, user, "Latte", 1)
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if want := []Item{{Name: "Latte", Quantity: 2}}; !reflect.DeepEqual(got.Items, want) {
		t.Errorf("Items = %+v, want %+v", got.Items, want)
	}
	if _, err := s.Remove(ctx, user, "Tea", 1); !errors.Is(err, ErrItemNotFound) {
		t.Errorf("Remove missing err = %v, want ErrItemNotFound", err)
	}
}
