package repository

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"restaurant-order-service/internal/model"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	myOrderNumberIndex = "uniq_orders_order_number"
	myIdempotencyIndex = "uniq_orders_idempotency"
)

type counterRow struct {
	ID        string    `gorm:"primaryKey;size:64"`
	Seq       int64     `gorm:"not null;default:0"`
	CreatedAt time.Time `gorm:"not null"`
	ExpireAt  time.Time `gorm:"not null;index"`
}

func (counterRow) TableName() string { return "counters" }

type orderRow struct {
	ID             string         `gorm:"primaryKey;size:36"`
	Customer       string         `gorm:"size:100;not null"`
	Phone          string         `gorm:"size:20;not null;default:''"`
	Notes          string         `gorm:"size:500;not null;default:''"`
	Items          datatypes.JSON `gorm:"not null"`
	Total          float64        `gorm:"not null"`
	CreatedTime    time.Time      `gorm:"not null;index:idx_orders_day_status_time,priority:3,sort:desc;index:idx_orders_time,sort:desc"`
	OrderDate      string         `gorm:"size:8;not null;index:idx_orders_day_status_time,priority:1;uniqueIndex:uniq_orders_idempotency,priority:1"`
	OrderNumber    string         `gorm:"size:32;not null;uniqueIndex:uniq_orders_order_number"`
	OrderSeq       int64          `gorm:"not null"`
	Status         string         `gorm:"size:16;not null;index:idx_orders_day_status_time,priority:2"`
	IdempotencyKey *string        `gorm:"size:128;uniqueIndex:uniq_orders_idempotency,priority:2"`
	UpdatedAt      time.Time      `gorm:"not null"`
}

func (orderRow) TableName() string { return "orders" }

func newOrderRow(o *model.Order) (*orderRow, error) {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return nil, fmt.Errorf("encode items: %w", err)
	}
	row := &orderRow{
		ID:          o.ID,
		Customer:    o.Customer,
		Phone:       o.Phone,
		Notes:       o.Notes,
		Items:       datatypes.JSON(items),
		Total:       o.Total,
		CreatedTime: o.CreatedTime,
		OrderDate:   o.OrderDate,
		OrderNumber: o.OrderNumber,
		OrderSeq:    o.OrderSeq,
		Status:      string(o.Status),
		UpdatedAt:   o.UpdatedAt,
	}
	if o.IdempotencyKey != "" {
		k := o.IdempotencyKey
		row.IdempotencyKey = &k
	}
	return row, nil
}

func (r *orderRow) toModel() (*model.Order, error) {
	o := &model.Order{
		ID:          r.ID,
		Customer:    r.Customer,
		Phone:       r.Phone,
		Notes:       r.Notes,
		Total:       r.Total,
		CreatedTime: r.CreatedTime,
		OrderDate:   r.OrderDate,
		OrderNumber: r.OrderNumber,
		OrderSeq:    r.OrderSeq,
		Status:      model.Status(r.Status),
		UpdatedAt:   r.UpdatedAt,
	}
	if r.IdempotencyKey != nil {
		o.IdempotencyKey = *r.IdempotencyKey
	}
	if err := json.Unmarshal(r.Items, &o.Items); err != nil {
		return nil, fmt.Errorf("decode items of order %s: %w", r.ID, err)
	}
	return o, nil
}

// OpenMySQL returns a gorm DB with pool settings applied.
func OpenMySQL(dsn string) (*gorm.DB, error) {
	gdb, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, unavailable("open mysql", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetConnMaxLifetime(5 * time.Minute)
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)

	return gdb, nil
}

// EnsureMySQLSchema applies the counters and orders tables.
func EnsureMySQLSchema(db *gorm.DB) error {
	if err := db.AutoMigrate(&counterRow{}, &orderRow{}); err != nil {
		return myErr("migrate schema", err)
	}
	return nil
}

type MySQLCounterStore struct {
	db        *gorm.DB
	retention time.Duration
	log       *logrus.Logger
}

func NewMySQLCounterStore(db *gorm.DB, retention time.Duration, logger *logrus.Logger) *MySQLCounterStore {
	return &MySQLCounterStore{db: db, retention: retention, log: logger}
}

// IncrementAndGet stores the new value in LAST_INSERT_ID, which is scoped to
// the connection; the transaction pins both statements to one connection.
func (r *MySQLCounterStore) IncrementAndGet(ctx context.Context, key string) (int64, error) {
	now := time.Now().UTC()
	var seq int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Exec(`INSERT INTO counters (id, seq, created_at, expire_at)
            VALUES (?, LAST_INSERT_ID(1), ?, ?)
            ON DUPLICATE KEY UPDATE seq = LAST_INSERT_ID(seq + 1)`,
			key, now, now.Add(r.retention)).Error
		if err != nil {
			return err
		}
		return tx.Raw("SELECT LAST_INSERT_ID()").Scan(&seq).Error
	})
	if err != nil {
		return 0, myErr("increment counter "+key, err)
	}
	return seq, nil
}

func (r *MySQLCounterStore) Get(ctx context.Context, key string) (*model.Counter, error) {
	var row counterRow
	err := r.db.WithContext(ctx).First(&row, "id = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, myErr("get counter "+key, err)
	}
	return &model.Counter{Key: row.ID, Seq: row.Seq, CreatedAt: row.CreatedAt, ExpireAt: row.ExpireAt}, nil
}

func (r *MySQLCounterStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("expire_at <= ?", now).Delete(&counterRow{})
	if res.Error != nil {
		return 0, myErr("delete expired counters", res.Error)
	}
	r.log.Debugf("Deleted %d expired counters", res.RowsAffected)
	return res.RowsAffected, nil
}

type MySQLOrderStore struct {
	db  *gorm.DB
	log *logrus.Logger
}

func NewMySQLOrderStore(db *gorm.DB, logger *logrus.Logger) *MySQLOrderStore {
	return &MySQLOrderStore{db: db, log: logger}
}

func (r *MySQLOrderStore) Insert(ctx context.Context, o *model.Order) (*model.Order, error) {
	stored := cloneOrder(o)
	stored.ID = uuid.NewString()
	row, err := newOrderRow(stored)
	if err != nil {
		return nil, err
	}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return nil, myErr("insert order "+o.OrderNumber, err)
	}
	return stored, nil
}

func (r *MySQLOrderStore) FindByID(ctx context.Context, id string) (*model.Order, error) {
	return r.first(ctx, "id = ?", id)
}

func (r *MySQLOrderStore) FindByIdempotencyKey(ctx context.Context, orderDate, key string) (*model.Order, error) {
	return r.first(ctx, "order_date = ? AND idempotency_key = ?", orderDate, key)
}

func (r *MySQLOrderStore) first(ctx context.Context, query string, args ...any) (*model.Order, error) {
	var row orderRow
	err := r.db.WithContext(ctx).Where(query, args...).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, myErr("find order", err)
	}
	return row.toModel()
}

func orderFilterScope(f model.OrderFilter) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if !f.IncludeAll && f.Date != "" {
			db = db.Where("order_date = ?", f.Date)
		}
		if f.Status != "" {
			db = db.Where("status = ?", string(f.Status))
		}
		return db
	}
}

func (r *MySQLOrderStore) List(ctx context.Context, f model.OrderFilter, p model.Page) ([]model.Order, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&orderRow{}).Scopes(orderFilterScope(f)).Count(&total).Error; err != nil {
		return nil, 0, myErr("count orders", err)
	}

	var rows []orderRow
	err := r.db.WithContext(ctx).Scopes(orderFilterScope(f)).
		Order("created_time DESC").Order("order_seq DESC").
		Offset(int(p.Skip())).Limit(p.Size).
		Find(&rows).Error
	if err != nil {
		return nil, 0, myErr("list orders", err)
	}

	out := make([]model.Order, 0, len(rows))
	for i := range rows {
		o, err := rows[i].toModel()
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *o)
	}
	return out, total, nil
}

// UpdateStatus reads the row back instead of trusting RowsAffected, which
// MySQL reports as 0 when the status already had the requested value.
func (r *MySQLOrderStore) UpdateStatus(ctx context.Context, id string, status model.Status) (*model.Order, error) {
	db := r.db.WithContext(ctx)
	res := db.Model(&orderRow{}).Where("id = ?", id).
		Updates(map[string]any{"status": string(status), "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return nil, myErr("update order status", res.Error)
	}
	return r.FindByID(ctx, id)
}

func (r *MySQLOrderStore) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return unavailable("ping mysql", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return unavailable("ping mysql", err)
	}
	return nil
}

// myErr maps MySQL error 1062 to DuplicateKeyError and connection failures to
// ErrUnavailable.
func myErr(op string, err error) error {
	var me *mysqldriver.MySQLError
	if errors.As(err, &me) {
		if me.Number == 1062 {
			return &DuplicateKeyError{Index: myDuplicateIndex(me.Message), Err: err}
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysqldriver.ErrInvalidConn) ||
		errors.As(err, &netErr) ||
		errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return unavailable(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func myDuplicateIndex(msg string) string {
	switch {
	case strings.Contains(msg, myIdempotencyIndex):
		return IndexIdempotencyKey
	case strings.Contains(msg, myOrderNumberIndex):
		return IndexOrderNumber
	default:
		return ""
	}
}
