package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"restaurant-order-service/internal/dto"
	"restaurant-order-service/internal/repository"
	"restaurant-order-service/internal/service"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newService(t *testing.T) *service.OrderService {
	return newServiceAt(t, time.UTC, time.Date(2025, 9, 23, 12, 0, 0, 0, time.UTC))
}

func newServiceAt(t *testing.T, loc *time.Location, now time.Time) *service.OrderService {
	t.Helper()
	logger, _ := test.NewNullLogger()
	counters := repository.NewMemoryCounterStore(time.Hour)
	clock := service.ClockFunc(func() time.Time { return now })
	alloc := service.NewAllocator(counters, clock, loc, 1, 0, logger)
	svc := service.NewOrderService(repository.NewMemoryOrderStore(), counters, alloc, nil, service.Options{MaxAttempts: 3}, logger)

	total := 10.0
	for _, name := range []string{"Ali", "Mona"} {
		_, err := svc.CreateOrder(context.Background(), dto.CreateOrderRequest{
			Customer: name,
			Items:    []dto.ItemDTO{{ID: "1", Price: 5, Quantity: 2}},
			Total:    &total,
		})
		require.NoError(t, err)
	}
	return svc
}

func TestOrdersCommand(t *testing.T) {
	svc := newService(t)
	var out bytes.Buffer

	require.NoError(t, run(context.Background(), []string{"orders", "-date", "20250923"}, svc, &out))
	assert.Contains(t, out.String(), "001-23/09/2025")
	assert.Contains(t, out.String(), "002-23/09/2025")
	assert.Contains(t, out.String(), "Mona")
	assert.Contains(t, out.String(), "page 1/1, 2 orders")
}

func TestCounterCommand(t *testing.T) {
	svc := newService(t)
	var out bytes.Buffer

	require.NoError(t, run(context.Background(), []string{"counter", "-date", "20250923"}, svc, &out))
	assert.Contains(t, out.String(), "orders-20250923")

	err := run(context.Background(), []string{"counter", "-date", "20250101"}, svc, &out)
	assert.ErrorIs(t, err, service.ErrNotFound)
}

func TestCounterCommandDefaultsToBusinessDay(t *testing.T) {
	// 22:30 UTC on the 23rd is already the 24th at UTC+3.
	riyadh := time.FixedZone("AST", 3*60*60)
	svc := newServiceAt(t, riyadh, time.Date(2025, 9, 23, 22, 30, 0, 0, time.UTC))
	var out bytes.Buffer

	require.NoError(t, run(context.Background(), []string{"counter"}, svc, &out))
	assert.Contains(t, out.String(), "orders-20250924")
	assert.NotContains(t, out.String(), "orders-20250923")
}

func TestUnknownCommand(t *testing.T) {
	assert.Error(t, run(context.Background(), nil, nil, &bytes.Buffer{}))
	assert.Error(t, run(context.Background(), []string{"purge"}, nil, &bytes.Buffer{}))
}
