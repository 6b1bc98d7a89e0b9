package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"restaurant-order-service/internal/model"
	"restaurant-order-service/internal/repository"

	"github.com/sirupsen/logrus"
)

const (
	counterNamespace = "orders"
	orderDateLayout  = "20060102"
	displayLayout    = "02/01/2006"
)

type Clock interface {
	Now() time.Time
}

type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// CounterKey builds the counter id for a YYYYMMDD day.
func CounterKey(orderDate string) string {
	return counterNamespace + "-" + orderDate
}

// FormatOrderNumber renders seq as at least three digits followed by the
// DD/MM/YYYY date. Sequences past 999 keep growing instead of wrapping.
func FormatOrderNumber(seq int64, day time.Time) string {
	return fmt.Sprintf("%03d-%s", seq, day.Format(displayLayout))
}

// Allocator hands out per-day order numbers. Day boundaries follow loc.
type Allocator struct {
	counters CounterStore
	clock    Clock
	loc      *time.Location
	attempts int
	backoff  time.Duration
	log      *logrus.Logger
}

func NewAllocator(counters CounterStore, clock Clock, loc *time.Location, attempts int, backoff time.Duration, logger *logrus.Logger) *Allocator {
	if attempts < 1 {
		attempts = 1
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Allocator{counters: counters, clock: clock, loc: loc, attempts: attempts, backoff: backoff, log: logger}
}

// OrderDate is the business day of t as YYYYMMDD.
func (a *Allocator) OrderDate(t time.Time) string {
	return t.In(a.loc).Format(orderDateLayout)
}

// Today is the current business day as YYYYMMDD.
func (a *Allocator) Today() string {
	return a.OrderDate(a.clock.Now())
}

// Allocate takes the next sequence of the current day. Transient counter
// failures are retried up to the configured attempts.
func (a *Allocator) Allocate(ctx context.Context) (model.Allocation, error) {
	now := a.clock.Now().In(a.loc)
	orderDate := now.Format(orderDateLayout)
	key := CounterKey(orderDate)

	var (
		seq int64
		err error
	)
	for attempt := 1; attempt <= a.attempts; attempt++ {
		seq, err = a.counters.IncrementAndGet(ctx, key)
		if err == nil {
			break
		}
		if !errors.Is(err, repository.ErrUnavailable) || attempt == a.attempts {
			break
		}
		a.log.Warnf("Allocator: counter %s unavailable (attempt %d/%d): %v", key, attempt, a.attempts, err)
		if serr := sleepCtx(ctx, a.backoff*time.Duration(attempt)); serr != nil {
			err = fmt.Errorf("%w: %w", repository.ErrUnavailable, serr)
			break
		}
	}
	if err != nil {
		return model.Allocation{}, storageErr("allocate "+key, err)
	}

	return model.Allocation{
		OrderSeq:    seq,
		OrderNumber: FormatOrderNumber(seq, now),
		OrderDate:   orderDate,
		At:          now,
	}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
