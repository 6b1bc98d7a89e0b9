package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"restaurant-order-service/internal/model"
	"restaurant-order-service/internal/repository"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

// countingCounters wraps the in-memory counter store and records calls.
type countingCounters struct {
	*repository.MemoryCounterStore
	calls     atomic.Int64
	failFirst atomic.Int64
}

func newCountingCounters() *countingCounters {
	return &countingCounters{MemoryCounterStore: repository.NewMemoryCounterStore(90 * 24 * time.Hour)}
}

func (c *countingCounters) IncrementAndGet(ctx context.Context, key string) (int64, error) {
	c.calls.Add(1)
	if c.failFirst.Add(-1) >= 0 {
		return 0, repository.ErrUnavailable
	}
	return c.MemoryCounterStore.IncrementAndGet(ctx, key)
}

// scriptedOrders wraps the in-memory order store; insertErr overrides Insert.
type scriptedOrders struct {
	*repository.MemoryOrderStore
	inserts   atomic.Int64
	insertErr func(o *model.Order) error
	block     bool
}

func newScriptedOrders() *scriptedOrders {
	return &scriptedOrders{MemoryOrderStore: repository.NewMemoryOrderStore()}
}

func (s *scriptedOrders) Insert(ctx context.Context, o *model.Order) (*model.Order, error) {
	s.inserts.Add(1)
	if s.block {
		<-ctx.Done()
		return nil, &wrappedUnavailable{ctx.Err()}
	}
	if s.insertErr != nil {
		if err := s.insertErr(o); err != nil {
			return nil, err
		}
	}
	return s.MemoryOrderStore.Insert(ctx, o)
}

type wrappedUnavailable struct{ err error }

func (w *wrappedUnavailable) Error() string { return "driver: " + w.err.Error() }
func (w *wrappedUnavailable) Unwrap() []error {
	return []error{repository.ErrUnavailable, w.err}
}

type recordedEvent struct {
	kind     string
	number   string
	status   model.Status
	previous model.Status
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (p *recordingPublisher) PublishOrderPlaced(_ context.Context, o *model.Order) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, recordedEvent{kind: "placed", number: o.OrderNumber, status: o.Status})
	return nil
}

func (p *recordingPublisher) PublishStatusChanged(_ context.Context, o *model.Order, previous model.Status) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, recordedEvent{kind: "status", number: o.OrderNumber, status: o.Status, previous: previous})
	return nil
}

// mutableClock lets a test move time across a day boundary.
type mutableClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *mutableClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *mutableClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func quietLogger() *logrus.Logger {
	logger, _ := test.NewNullLogger()
	return logger
}

type fixture struct {
	svc      *OrderService
	counters *countingCounters
	orders   *scriptedOrders
	events   *recordingPublisher
	clock    *mutableClock
}

func newFixture(opts Options) *fixture {
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = 3
	}
	f := &fixture{
		counters: newCountingCounters(),
		orders:   newScriptedOrders(),
		events:   &recordingPublisher{},
		clock:    &mutableClock{now: time.Date(2025, 9, 23, 12, 0, 0, 0, time.UTC)},
	}
	logger := quietLogger()
	alloc := NewAllocator(f.counters, f.clock, time.UTC, 2, time.Millisecond, logger)
	f.svc = NewOrderService(f.orders, f.counters, alloc, f.events, opts, logger)
	return f
}
