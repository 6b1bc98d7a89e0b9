package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"restaurant-order-service/internal/model"

	"github.com/google/uuid"
)

// MemoryCounterStore keeps counters in process. Increments are serialized by
// a mutex, so it is only correct for a single instance.
type MemoryCounterStore struct {
	mu        sync.Mutex
	counters  map[string]*model.Counter
	retention time.Duration
	now       func() time.Time
}

func NewMemoryCounterStore(retention time.Duration) *MemoryCounterStore {
	return &MemoryCounterStore{
		counters:  make(map[string]*model.Counter),
		retention: retention,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryCounterStore) IncrementAndGet(ctx context.Context, key string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, unavailable("increment counter "+key, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.counters[key]
	if !ok {
		now := m.now()
		c = &model.Counter{Key: key, CreatedAt: now, ExpireAt: now.Add(m.retention)}
		m.counters[key] = c
	}
	c.Seq++
	return c.Seq, nil
}

func (m *MemoryCounterStore) Get(_ context.Context, key string) (*model.Counter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.counters[key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryCounterStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for k, c := range m.counters {
		if !c.ExpireAt.After(now) {
			delete(m.counters, k)
			n++
		}
	}
	return n, nil
}

type idemKey struct{ date, key string }

// MemoryOrderStore mirrors the unique indexes of the persistent backends.
type MemoryOrderStore struct {
	mu       sync.RWMutex
	orders   map[string]*model.Order
	byNumber map[string]string
	byIdem   map[idemKey]string
}

func NewMemoryOrderStore() *MemoryOrderStore {
	return &MemoryOrderStore{
		orders:   make(map[string]*model.Order),
		byNumber: make(map[string]string),
		byIdem:   make(map[idemKey]string),
	}
}

func (m *MemoryOrderStore) Insert(ctx context.Context, o *model.Order) (*model.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("insert order", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byNumber[o.OrderNumber]; ok {
		return nil, &DuplicateKeyError{Index: IndexOrderNumber, Err: ErrDuplicateKey}
	}
	ik := idemKey{o.OrderDate, o.IdempotencyKey}
	if o.IdempotencyKey != "" {
		if _, ok := m.byIdem[ik]; ok {
			return nil, &DuplicateKeyError{Index: IndexIdempotencyKey, Err: ErrDuplicateKey}
		}
	}

	stored := cloneOrder(o)
	stored.ID = uuid.NewString()
	m.orders[stored.ID] = stored
	m.byNumber[stored.OrderNumber] = stored.ID
	if o.IdempotencyKey != "" {
		m.byIdem[ik] = stored.ID
	}
	return cloneOrder(stored), nil
}

func (m *MemoryOrderStore) FindByID(_ context.Context, id string) (*model.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneOrder(o), nil
}

func (m *MemoryOrderStore) FindByIdempotencyKey(_ context.Context, orderDate, key string) (*model.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byIdem[idemKey{orderDate, key}]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneOrder(m.orders[id]), nil
}

func (m *MemoryOrderStore) List(_ context.Context, f model.OrderFilter, p model.Page) ([]model.Order, int64, error) {
	m.mu.RLock()
	var matched []*model.Order
	for _, o := range m.orders {
		if !f.IncludeAll && f.Date != "" && o.OrderDate != f.Date {
			continue
		}
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		matched = append(matched, cloneOrder(o))
	}
	m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedTime.Equal(matched[j].CreatedTime) {
			return matched[i].CreatedTime.After(matched[j].CreatedTime)
		}
		return matched[i].OrderSeq > matched[j].OrderSeq
	})

	total := int64(len(matched))
	start := min(max(p.Skip(), 0), total)
	end := min(start+max(int64(p.Size), 0), total)

	out := make([]model.Order, 0, end-start)
	for _, o := range matched[start:end] {
		out = append(out, *o)
	}
	return out, total, nil
}

func (m *MemoryOrderStore) UpdateStatus(_ context.Context, id string, status model.Status) (*model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	o.Status = status
	o.UpdatedAt = time.Now().UTC()
	return cloneOrder(o), nil
}

func (m *MemoryOrderStore) Ping(context.Context) error { return nil }

func cloneOrder(o *model.Order) *model.Order {
	cp := *o
	cp.Items = append([]model.Item(nil), o.Items...)
	return &cp
}
