// models.go
package model

import (
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// ParseStatus matches s against the status enum ignoring case and surrounding spaces.
func ParseStatus(s string) (Status, bool) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusPending, StatusCompleted, StatusCancelled:
		return st, true
	default:
		return "", false
	}
}

type Item struct {
	ID       string  `bson:"id" json:"id"`
	NameEn   string  `bson:"name_en,omitempty" json:"name_en,omitempty"`
	NameAr   string  `bson:"name_ar,omitempty" json:"name_ar,omitempty"`
	Price    float64 `bson:"price" json:"price"`
	Quantity int     `bson:"quantity" json:"quantity"`
	Size     string  `bson:"size,omitempty" json:"size,omitempty"`
}

type Order struct {
	ID             string    `bson:"-" json:"id"`
	Customer       string    `bson:"customer" json:"customer"`
	Phone          string    `bson:"phone" json:"phone"`
	Notes          string    `bson:"notes" json:"notes"`
	Items          []Item    `bson:"items" json:"items"`
	Total          float64   `bson:"total" json:"total"`
	CreatedTime    time.Time `bson:"time" json:"time"`
	OrderDate      string    `bson:"orderDate" json:"orderDate"`
	OrderNumber    string    `bson:"orderNumber" json:"orderNumber"`
	OrderSeq       int64     `bson:"orderSeq" json:"orderSeq"`
	Status         Status    `bson:"status" json:"status"`
	IdempotencyKey string    `bson:"idempotencyKey,omitempty" json:"idempotencyKey,omitempty"`
	UpdatedAt      time.Time `bson:"updatedAt" json:"updatedAt"`
}

// Counter is the per-day sequence document. Key is "orders-YYYYMMDD".
type Counter struct {
	Key       string    `bson:"_id" json:"id"`
	Seq       int64     `bson:"seq" json:"seq"`
	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
	ExpireAt  time.Time `bson:"expireAt" json:"expireAt"`
}

// Allocation is one order number handed out by the allocator.
type Allocation struct {
	OrderSeq    int64
	OrderNumber string
	OrderDate   string
	At          time.Time
}

type OrderFilter struct {
	Date       string
	Status     Status
	IncludeAll bool
}

type Page struct {
	Number int
	Size   int
}

// Skip is the row offset of the page. It saturates at math.MaxInt64 instead
// of wrapping.
func (p Page) Skip() int64 {
	if p.Number < 1 || p.Size < 1 {
		return 0
	}
	n, size := int64(p.Number-1), int64(p.Size)
	if n > math.MaxInt64/size {
		return math.MaxInt64
	}
	return n * size
}

// ItemsTotal sums price*quantity without float drift.
func ItemsTotal(items []Item) decimal.Decimal {
	sum := decimal.Zero
	for _, it := range items {
		sum = sum.Add(decimal.NewFromFloat(it.Price).Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return sum
}
