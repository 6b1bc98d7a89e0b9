package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"restaurant-order-service/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type orderStore interface {
	Insert(ctx context.Context, o *model.Order) (*model.Order, error)
	FindByID(ctx context.Context, id string) (*model.Order, error)
	FindByIdempotencyKey(ctx context.Context, orderDate, key string) (*model.Order, error)
	List(ctx context.Context, f model.OrderFilter, p model.Page) ([]model.Order, int64, error)
	UpdateStatus(ctx context.Context, id string, status model.Status) (*model.Order, error)
	Ping(ctx context.Context) error
}

type counterStore interface {
	IncrementAndGet(ctx context.Context, key string) (int64, error)
	Get(ctx context.Context, key string) (*model.Counter, error)
}

// testCounterStore checks that concurrent increments of a fresh key hand out
// every value from 1 to workers exactly once.
func testCounterStore(t *testing.T, store counterStore, retention time.Duration) {
	t.Helper()
	ctx := context.Background()

	const workers = 32
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[int64]bool)
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seq, err := store.IncrementAndGet(ctx, "orders-20250923")
			assert.NoError(t, err)
			mu.Lock()
			seen[seq] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, workers)
	for i := int64(1); i <= workers; i++ {
		assert.True(t, seen[i], "missing seq %d", i)
	}

	c, err := store.Get(ctx, "orders-20250923")
	require.NoError(t, err)
	assert.Equal(t, int64(workers), c.Seq)
	assert.WithinDuration(t, c.CreatedAt.Add(retention), c.ExpireAt, time.Second)

	_, err = store.Get(ctx, "orders-19990101")
	assert.ErrorIs(t, err, ErrNotFound)
}

func testOrderStore(t *testing.T, store orderStore) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	in := &model.Order{
		Customer:       "Ali",
		Items:          []model.Item{{ID: "1", NameEn: "Coffee", Price: 5, Quantity: 2}},
		Total:          10,
		CreatedTime:    now,
		OrderDate:      "20250923",
		OrderNumber:    "001-23/09/2025",
		OrderSeq:       1,
		Status:         model.StatusPending,
		IdempotencyKey: "k1",
		UpdatedAt:      now,
	}
	stored, err := store.Insert(ctx, in)
	require.NoError(t, err)
	require.NotEmpty(t, stored.ID)

	dup := *in
	dup.IdempotencyKey = ""
	_, err = store.Insert(ctx, &dup)
	idx, ok := DuplicateIndex(err)
	require.True(t, ok, "expected duplicate key, got %v", err)
	assert.Equal(t, IndexOrderNumber, idx)

	dup.OrderNumber = "002-23/09/2025"
	dup.IdempotencyKey = "k1"
	_, err = store.Insert(ctx, &dup)
	idx, ok = DuplicateIndex(err)
	require.True(t, ok, "expected duplicate key, got %v", err)
	assert.Equal(t, IndexIdempotencyKey, idx)

	// Orders without a key never collide on the idempotency index.
	for i, number := range []string{"003-23/09/2025", "004-23/09/2025"} {
		o := *in
		o.IdempotencyKey = ""
		o.OrderNumber = number
		o.OrderSeq = int64(i + 3)
		o.CreatedTime = now.Add(time.Duration(i+1) * time.Minute)
		_, err := store.Insert(ctx, &o)
		require.NoError(t, err)
	}

	got, err := store.FindByID(ctx, stored.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ali", got.Customer)
	assert.Equal(t, in.Items, got.Items)
	assert.Equal(t, "001-23/09/2025", got.OrderNumber)
	assert.True(t, now.Equal(got.CreatedTime))

	byKey, err := store.FindByIdempotencyKey(ctx, "20250923", "k1")
	require.NoError(t, err)
	assert.Equal(t, stored.ID, byKey.ID)
	_, err = store.FindByIdempotencyKey(ctx, "20250924", "k1")
	assert.ErrorIs(t, err, ErrNotFound)

	orders, total, err := store.List(ctx, model.OrderFilter{Date: "20250923"}, model.Page{Number: 1, Size: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, orders, 2)
	assert.Equal(t, "004-23/09/2025", orders[0].OrderNumber)

	updated, err := store.UpdateStatus(ctx, stored.ID, model.StatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, updated.Status)

	_, total, err = store.List(ctx, model.OrderFilter{Date: "20250923", Status: model.StatusCompleted}, model.Page{Number: 1, Size: 50})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)

	_, total, err = store.List(ctx, model.OrderFilter{Date: "20250101"}, model.Page{Number: 1, Size: 50})
	require.NoError(t, err)
	assert.Zero(t, total)

	_, total, err = store.List(ctx, model.OrderFilter{Date: "20250101", IncludeAll: true}, model.Page{Number: 1, Size: 50})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)

	_, err = store.UpdateStatus(ctx, "00000000-0000-0000-0000-000000000000", model.StatusCompleted)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.NoError(t, store.Ping(ctx))
}

func TestMemoryStoresSuite(t *testing.T) {
	testCounterStore(t, NewMemoryCounterStore(90*24*time.Hour), 90*24*time.Hour)
	testOrderStore(t, NewMemoryOrderStore())
}
