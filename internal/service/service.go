package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"restaurant-order-service/internal/dto"
	"restaurant-order-service/internal/model"
	"restaurant-order-service/internal/repository"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// CounterStore is satisfied by the repository counter backends.
type CounterStore interface {
	IncrementAndGet(ctx context.Context, key string) (int64, error)
	Get(ctx context.Context, key string) (*model.Counter, error)
}

// OrderStore is satisfied by the repository order backends.
type OrderStore interface {
	Insert(ctx context.Context, o *model.Order) (*model.Order, error)
	FindByID(ctx context.Context, id string) (*model.Order, error)
	FindByIdempotencyKey(ctx context.Context, orderDate, key string) (*model.Order, error)
	List(ctx context.Context, f model.OrderFilter, p model.Page) ([]model.Order, int64, error)
	UpdateStatus(ctx context.Context, id string, status model.Status) (*model.Order, error)
	Ping(ctx context.Context) error
}

// EventPublisher announces order lifecycle changes. Delivery is best effort.
type EventPublisher interface {
	PublishOrderPlaced(ctx context.Context, o *model.Order) error
	PublishStatusChanged(ctx context.Context, o *model.Order, previous model.Status) error
}

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

type Options struct {
	MaxAttempts  int
	RetryBackoff time.Duration
	Timeout      time.Duration
}

type OrderService struct {
	orders    OrderStore
	counters  CounterStore
	allocator *Allocator
	events    EventPublisher
	opts      Options
	log       *logrus.Logger
}

func NewOrderService(orders OrderStore, counters CounterStore, allocator *Allocator, events EventPublisher, opts Options, logger *logrus.Logger) *OrderService {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	return &OrderService{
		orders:    orders,
		counters:  counters,
		allocator: allocator,
		events:    events,
		opts:      opts,
		log:       logger,
	}
}

type CreateOrderResult struct {
	Order    *model.Order
	Replayed bool
}

// CreateOrder validates the payload, allocates an order number and persists the
// order. A duplicate order number means the counter handed out a value that is
// already taken; the number is re-allocated and the insert retried, up to
// MaxAttempts inserts in total.
func (s *OrderService) CreateOrder(ctx context.Context, req dto.CreateOrderRequest) (*CreateOrderResult, error) {
	req = normalizeOrder(req)
	if err := validateOrder(req); err != nil {
		return nil, err
	}

	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	if req.IdempotencyKey != "" {
		existing, err := s.orders.FindByIdempotencyKey(ctx, s.allocator.Today(), req.IdempotencyKey)
		switch {
		case err == nil:
			s.log.Infof("Service: idempotency key %s replayed order %s", req.IdempotencyKey, existing.OrderNumber)
			return &CreateOrderResult{Order: existing, Replayed: true}, nil
		case !errors.Is(err, repository.ErrNotFound):
			return nil, persistenceFailed("lookup idempotency key", err)
		}
	}

	for attempt := 1; ; attempt++ {
		alloc, err := s.allocator.Allocate(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, persistenceFailed("allocate order number", err)
			}
			return nil, err
		}

		candidate := buildOrder(req, alloc)
		stored, err := s.orders.Insert(ctx, candidate)
		if err == nil {
			s.log.Infof("Service: order %s created for %q (attempt %d)", stored.OrderNumber, stored.Customer, attempt)
			s.checkTotal(stored)
			s.publishPlaced(ctx, stored)
			return &CreateOrderResult{Order: stored}, nil
		}

		index, dup := repository.DuplicateIndex(err)
		if !dup {
			return nil, persistenceFailed("insert order "+alloc.OrderNumber, err)
		}
		if index == repository.IndexIdempotencyKey {
			existing, ferr := s.orders.FindByIdempotencyKey(ctx, alloc.OrderDate, req.IdempotencyKey)
			if ferr != nil {
				return nil, persistenceFailed("lookup idempotency key", ferr)
			}
			return &CreateOrderResult{Order: existing, Replayed: true}, nil
		}

		if attempt >= s.opts.MaxAttempts {
			s.log.Errorf("Service: order number collision on %s, giving up after %d attempts", alloc.OrderNumber, attempt)
			return nil, fmt.Errorf("%w after %d attempts", ErrAllocationExhausted, attempt)
		}
		s.log.Warnf("Service: order number %s already taken (attempt %d/%d), re-allocating", alloc.OrderNumber, attempt, s.opts.MaxAttempts)
		if err := sleepCtx(ctx, s.opts.RetryBackoff*time.Duration(attempt+1)); err != nil {
			return nil, persistenceFailed("retry backoff", err)
		}
	}
}

func buildOrder(req dto.CreateOrderRequest, alloc model.Allocation) *model.Order {
	items := make([]model.Item, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, model.Item{
			ID:       it.ID,
			NameEn:   it.NameEn,
			NameAr:   it.NameAr,
			Price:    it.Price,
			Quantity: it.Quantity,
			Size:     it.Size,
		})
	}
	created := alloc.At.UTC()
	return &model.Order{
		Customer:       req.Customer,
		Phone:          req.Phone,
		Notes:          req.Notes,
		Items:          items,
		Total:          *req.Total,
		CreatedTime:    created,
		OrderDate:      alloc.OrderDate,
		OrderNumber:    alloc.OrderNumber,
		OrderSeq:       alloc.OrderSeq,
		Status:         model.StatusPending,
		IdempotencyKey: req.IdempotencyKey,
		UpdatedAt:      created,
	}
}

// checkTotal only logs: the client computes the total and the server keeps it.
func (s *OrderService) checkTotal(o *model.Order) {
	sum := model.ItemsTotal(o.Items)
	if !sum.Equal(decimal.NewFromFloat(o.Total)) {
		s.log.Warnf("Service: order %s total %.2f differs from item sum %s", o.OrderNumber, o.Total, sum.StringFixed(2))
	}
}

func (s *OrderService) publishPlaced(ctx context.Context, o *model.Order) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishOrderPlaced(ctx, o); err != nil {
		s.log.Warnf("Service: could not publish order_placed for %s: %v", o.OrderNumber, err)
	}
}

// persistenceFailed renders err as text so driver errors stay out of the chain.
func persistenceFailed(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrPersistenceFailed, err)
}

type ListQuery struct {
	Date       string
	Status     string
	IncludeAll bool
	Page       int
	Limit      int
}

type OrderPage struct {
	Orders     []model.Order
	TotalCount int64
	Page       int
	Limit      int
}

func (p *OrderPage) TotalPages() int {
	if p.Limit <= 0 {
		return 0
	}
	return int((p.TotalCount + int64(p.Limit) - 1) / int64(p.Limit))
}

// ListOrders returns newest-first orders of one day (today unless Date is set)
// or of all days when IncludeAll is set.
func (s *OrderService) ListOrders(ctx context.Context, q ListQuery) (*OrderPage, error) {
	page, limit := q.Page, q.Limit
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if page-1 > math.MaxInt/limit {
		return nil, invalidField("page", "page is out of range")
	}

	filter := model.OrderFilter{IncludeAll: q.IncludeAll}
	if !q.IncludeAll {
		filter.Date = q.Date
		if filter.Date == "" {
			filter.Date = s.allocator.Today()
		} else if _, err := time.Parse(orderDateLayout, filter.Date); err != nil {
			return nil, invalidField("date", "date must be formatted YYYYMMDD")
		}
	}
	if q.Status != "" && q.Status != "all" {
		st, ok := model.ParseStatus(q.Status)
		if !ok {
			return nil, invalidField("status", fmt.Sprintf("status must be one of pending, completed, cancelled or all, got %q", q.Status))
		}
		filter.Status = st
	}

	orders, total, err := s.orders.List(ctx, filter, model.Page{Number: page, Size: limit})
	if err != nil {
		return nil, storageErr("list orders", err)
	}
	return &OrderPage{Orders: orders, TotalCount: total, Page: page, Limit: limit}, nil
}

func (s *OrderService) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	o, err := s.orders.FindByID(ctx, id)
	if err != nil {
		return nil, storageErr("order "+id, err)
	}
	return o, nil
}

// UpdateStatus sets any valid status. Setting the current status again is a
// no-op that returns the order unchanged.
func (s *OrderService) UpdateStatus(ctx context.Context, id string, status string) (*model.Order, error) {
	st, ok := model.ParseStatus(status)
	if !ok {
		return nil, invalidField("status", fmt.Sprintf("status must be one of pending, completed, cancelled, got %q", status))
	}

	current, err := s.orders.FindByID(ctx, id)
	if err != nil {
		return nil, storageErr("order "+id, err)
	}
	if current.Status == st {
		return current, nil
	}

	updated, err := s.orders.UpdateStatus(ctx, id, st)
	if err != nil {
		return nil, storageErr("update order "+id, err)
	}
	s.log.Infof("Service: order %s status %s -> %s", updated.OrderNumber, current.Status, updated.Status)

	if s.events != nil {
		if err := s.events.PublishStatusChanged(ctx, updated, current.Status); err != nil {
			s.log.Warnf("Service: could not publish status change for %s: %v", updated.OrderNumber, err)
		}
	}
	return updated, nil
}

func (s *OrderService) MarkCompleted(ctx context.Context, id string) (*model.Order, error) {
	return s.UpdateStatus(ctx, id, string(model.StatusCompleted))
}

// CounterInfo returns the counter document of a YYYYMMDD day, today's business
// day when date is empty.
func (s *OrderService) CounterInfo(ctx context.Context, date string) (*model.Counter, error) {
	if date == "" {
		date = s.allocator.Today()
	} else if _, err := time.Parse(orderDateLayout, date); err != nil {
		return nil, invalidField("date", "date must be formatted YYYYMMDD")
	}
	c, err := s.counters.Get(ctx, CounterKey(date))
	if err != nil {
		return nil, storageErr("counter "+CounterKey(date), err)
	}
	return c, nil
}

func (s *OrderService) Health(ctx context.Context) error {
	if err := s.orders.Ping(ctx); err != nil {
		return storageErr("health", err)
	}
	return nil
}
