package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"restaurant-order-service/internal/model"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

const (
	pgOrderNumberConstraint = "orders_order_number_key"
	pgIdempotencyConstraint = "orders_idempotency_key"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS counters (
    id         TEXT PRIMARY KEY,
    seq        BIGINT NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ NOT NULL,
    expire_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS counters_expire_at_idx ON counters (expire_at);

CREATE TABLE IF NOT EXISTS orders (
    id              UUID PRIMARY KEY,
    customer        VARCHAR(100) NOT NULL,
    phone           VARCHAR(20) NOT NULL DEFAULT '',
    notes           VARCHAR(500) NOT NULL DEFAULT '',
    items           JSONB NOT NULL,
    total           DOUBLE PRECISION NOT NULL,
    created_time    TIMESTAMPTZ NOT NULL,
    order_date      CHAR(8) NOT NULL,
    order_number    TEXT NOT NULL,
    order_seq       BIGINT NOT NULL,
    status          TEXT NOT NULL,
    idempotency_key TEXT,
    updated_at      TIMESTAMPTZ NOT NULL,
    CONSTRAINT orders_order_number_key UNIQUE (order_number),
    CONSTRAINT orders_idempotency_key UNIQUE (order_date, idempotency_key)
);
CREATE INDEX IF NOT EXISTS orders_day_status_time_idx ON orders (order_date, status, created_time DESC);
CREATE INDEX IF NOT EXISTS orders_time_idx ON orders (created_time DESC);
`

const orderColumns = `id, customer, phone, notes, items, total, created_time, order_date,
    order_number, order_seq, status, idempotency_key, updated_at`

// OpenPostgres opens a pooled connection and verifies it.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, unavailable("ping postgres", err)
	}
	return db, nil
}

func EnsurePostgresSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		return pgErr("ensure schema", err)
	}
	return nil
}

type PostgresCounterStore struct {
	db        *sql.DB
	retention time.Duration
	log       *logrus.Logger
}

func NewPostgresCounterStore(db *sql.DB, retention time.Duration, logger *logrus.Logger) *PostgresCounterStore {
	return &PostgresCounterStore{db: db, retention: retention, log: logger}
}

// IncrementAndGet relies on INSERT .. ON CONFLICT taking a row lock, which
// makes create-or-increment a single atomic statement.
func (r *PostgresCounterStore) IncrementAndGet(ctx context.Context, key string) (int64, error) {
	now := time.Now().UTC()
	const q = `
        INSERT INTO counters (id, seq, created_at, expire_at)
        VALUES ($1, 1, $2, $3)
        ON CONFLICT (id) DO UPDATE SET seq = counters.seq + 1
        RETURNING seq`

	var seq int64
	if err := r.db.QueryRowContext(ctx, q, key, now, now.Add(r.retention)).Scan(&seq); err != nil {
		return 0, pgErr("increment counter "+key, err)
	}
	return seq, nil
}

func (r *PostgresCounterStore) Get(ctx context.Context, key string) (*model.Counter, error) {
	c := &model.Counter{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, seq, created_at, expire_at FROM counters WHERE id = $1`, key,
	).Scan(&c.Key, &c.Seq, &c.CreatedAt, &c.ExpireAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, pgErr("get counter "+key, err)
	}
	return c, nil
}

func (r *PostgresCounterStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM counters WHERE expire_at <= $1`, now)
	if err != nil {
		return 0, pgErr("delete expired counters", err)
	}
	n, _ := res.RowsAffected()
	r.log.Debugf("Deleted %d expired counters", n)
	return n, nil
}

type PostgresOrderStore struct {
	db  *sql.DB
	log *logrus.Logger
}

func NewPostgresOrderStore(db *sql.DB, logger *logrus.Logger) *PostgresOrderStore {
	return &PostgresOrderStore{db: db, log: logger}
}

func (r *PostgresOrderStore) Insert(ctx context.Context, o *model.Order) (*model.Order, error) {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return nil, fmt.Errorf("encode items: %w", err)
	}

	stored := cloneOrder(o)
	stored.ID = uuid.NewString()

	q := `INSERT INTO orders (` + orderColumns + `)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	_, err = r.db.ExecContext(ctx, q,
		stored.ID, stored.Customer, stored.Phone, stored.Notes, items, stored.Total,
		stored.CreatedTime, stored.OrderDate, stored.OrderNumber, stored.OrderSeq,
		string(stored.Status), nullString(stored.IdempotencyKey), stored.UpdatedAt,
	)
	if err != nil {
		return nil, pgErr("insert order "+o.OrderNumber, err)
	}
	return stored, nil
}

func (r *PostgresOrderStore) FindByID(ctx context.Context, id string) (*model.Order, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	row := r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	return scanOrder(row)
}

func (r *PostgresOrderStore) FindByIdempotencyKey(ctx context.Context, orderDate, key string) (*model.Order, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE order_date = $1 AND idempotency_key = $2`, orderDate, key)
	return scanOrder(row)
}

func (r *PostgresOrderStore) List(ctx context.Context, f model.OrderFilter, p model.Page) ([]model.Order, int64, error) {
	var (
		conds []string
		args  []any
	)
	if !f.IncludeAll && f.Date != "" {
		args = append(args, f.Date)
		conds = append(conds, fmt.Sprintf("order_date = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int64
	if err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM orders`+where, args...).Scan(&total); err != nil {
		return nil, 0, pgErr("count orders", err)
	}

	args = append(args, p.Size, p.Skip())
	q := fmt.Sprintf(`SELECT %s FROM orders%s ORDER BY created_time DESC, order_seq DESC LIMIT $%d OFFSET $%d`,
		orderColumns, where, len(args)-1, len(args))
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, pgErr("list orders", err)
	}
	defer rows.Close()

	out := make([]model.Order, 0, p.Size)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, pgErr("iterate orders", err)
	}
	return out, total, nil
}

func (r *PostgresOrderStore) UpdateStatus(ctx context.Context, id string, status model.Status) (*model.Order, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	row := r.db.QueryRowContext(ctx,
		`UPDATE orders SET status = $1, updated_at = $2 WHERE id = $3 RETURNING `+orderColumns,
		string(status), time.Now().UTC(), id)
	return scanOrder(row)
}

func (r *PostgresOrderStore) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return unavailable("ping postgres", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*model.Order, error) {
	var (
		o      model.Order
		items  []byte
		status string
		idem   sql.NullString
	)
	err := row.Scan(&o.ID, &o.Customer, &o.Phone, &o.Notes, &items, &o.Total, &o.CreatedTime,
		&o.OrderDate, &o.OrderNumber, &o.OrderSeq, &status, &idem, &o.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, pgErr("scan order", err)
	}
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return nil, fmt.Errorf("decode items of order %s: %w", o.ID, err)
	}
	o.Status = model.Status(status)
	o.IdempotencyKey = idem.String
	return &o, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// pgErr maps SQLSTATE classes onto the package taxonomy: 23505 is a unique
// violation, class 08 and 57P0x mean the server is gone.
func pgErr(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code == "23505":
			return &DuplicateKeyError{Index: pgDuplicateIndex(pqErr.Constraint), Err: err}
		case pqErr.Code.Class() == "08", strings.HasPrefix(string(pqErr.Code), "57P0"):
			return unavailable(op, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) || errors.As(err, &netErr) ||
		errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return unavailable(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func pgDuplicateIndex(constraint string) string {
	switch constraint {
	case pgOrderNumberConstraint:
		return IndexOrderNumber
	case pgIdempotencyConstraint:
		return IndexIdempotencyKey
	default:
		return ""
	}
}
