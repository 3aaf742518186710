package cart

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is the SQL DDL for the cart_items table. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
//
// position preserves insertion order so carts list lines in the order they
// were first added.
const Schema = `
CREATE TABLE IF NOT EXISTS cart_items (
    user_id    TEXT        NOT NULL,
    item       TEXT        NOT NULL,
    quantity   INTEGER     NOT NULL CHECK (quantity > 0),
    position   BIGSERIAL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (user_id, item)
);
CREATE INDEX IF NOT EXISTS idx_cart_items_user ON cart_items(user_id, position);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by a PostgreSQL table with one row per
// cart line.
type PostgresStore struct {
	db   DB
	pool *pgxpool.Pool // set by OpenPostgres; nil when db was injected
}

// Compile-time interface checks.
var (
	_ Store  = (*PostgresStore)(nil)
	_ Pinger = (*PostgresStore)(nil)
)

// NewPostgresStore creates a [PostgresStore] that uses the given database
// connection or pool. The caller is responsible for calling
// [PostgresStore.Migrate] before issuing queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPostgres connects a pool to dsn, verifies connectivity and applies
// [Schema]. Call [PostgresStore.Close] to release the pool.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("cart: parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("cart: create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("cart: ping postgres: %w", err)
	}

	s := &PostgresStore{db: pool, pool: pool}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Migrate executes the [Schema] DDL.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("cart: migrate: %w", err)
	}
	return nil
}

// Ping implements [Pinger].
func (s *PostgresStore) Ping(ctx context.Context) error {
	var one int
	if err := s.db.QueryRow(ctx, `SELECT 1`).Scan(&one); err != nil {
		return fmt.Errorf("cart: ping: %w", err)
	}
	return nil
}

// Close releases the pool opened by [OpenPostgres]. It is a no-op for stores
// built with [NewPostgresStore].
func (s *PostgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// Add implements [Store.Add].
func (s *PostgresStore) Add(ctx context.Context, userID, item string, quantity int) (Cart, error) {
	if err := validateLine(userID, item, quantity); err != nil {
		return Cart{}, err
	}

	const query = `
		INSERT INTO cart_items (user_id, item, quantity)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, item) DO UPDATE
		SET quantity = cart_items.quantity + EXCLUDED.quantity,
		    updated_at = now()`

	if _, err := s.db.Exec(ctx, query, userID, item, quantity); err != nil {
		return Cart{}, fmt.Errorf("cart: add: %w", err)
	}
	return s.Get(ctx, userID)
}

// Remove implements [Store.Remove]. Lines whose quantity would drop to zero
// or below are deleted; others are decremented.
func (s *PostgresStore) Remove(ctx context.Context, userID, item string, quantity int) (Cart, error) {
	if err := validateLine(userID, item, quantity); err != nil {
		return Cart{}, err
	}

	const deleteQuery = `
		DELETE FROM cart_items
		WHERE user_id = $1 AND item = $2 AND quantity <= $3`

	tag, err := s.db.Exec(ctx, deleteQuery, userID, item, quantity)
	if err != nil {
		return Cart{}, fmt.Errorf("cart: remove: %w", err)
	}
	if tag.RowsAffected() == 0 {
		const updateQuery = `
			UPDATE cart_items
			SET quantity = quantity - $3, updated_at = now()
			WHERE user_id = $1 AND item = $2 AND quantity > $3
			RETURNING quantity`

		var remaining int
		err := s.db.QueryRow(ctx, updateQuery, userID, item, quantity).Scan(&remaining)
		if errors.Is(err, pgx.ErrNoRows) {
			return Cart{}, ErrItemNotFound
		}
		if err != nil {
			return Cart{}, fmt.Errorf("cart: remove: %w", err)
		}
	}
	return s.Get(ctx, userID)
}

// Empty implements [Store.Empty].
func (s *PostgresStore) Empty(ctx context.Context, userID string) (Cart, error) {
	if err := validateUser(userID); err != nil {
		return Cart{}, err
	}
	if _, err := s.db.Exec(ctx, `DELETE FROM cart_items WHERE user_id = $1`, userID); err != nil {
		return Cart{}, fmt.Errorf("cart: empty: %w", err)
	}
	return emptyCart(userID), nil
}

// Get implements [Store.Get].
func (s *PostgresStore) Get(ctx context.Context, userID string) (Cart, error) {
	if err := validateUser(userID); err != nil {
		return Cart{}, err
	}

	const query = `
		SELECT item, quantity
		FROM cart_items
		WHERE user_id = $1
		ORDER BY position`

	rows, err := s.db.Query(ctx, query, userID)
	if err != nil {
		return Cart{}, fmt.Errorf("cart: get: %w", err)
	}
	defer rows.Close()

	c := emptyCart(userID)
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.Name, &it.Quantity); err != nil {
			return Cart{}, fmt.Errorf("cart: get scan: %w", err)
		}
		c.Items = append(c.Items, it)
	}
	if err := rows.Err(); err != nil {
		return Cart{}, fmt.Errorf("cart: get: %w", err)
	}
	return c, nil
}
