package ordersync

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tableside/internal/domain"
)

type fakeBackend struct {
	mu        sync.Mutex
	orders    []domain.Order
	listCalls int
	listErr   error
	updateErr error
	updated   []domain.OrderStatus
}

func (f *fakeBackend) ListOrders(context.Context, int) ([]domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	return f.orders, f.listErr
}

func (f *fakeBackend) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls
}

func (f *fakeBackend) UpdateOrderStatus(_ context.Context, orderID string, status domain.OrderStatus) (*domain.Order, error) {
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	f.updated = append(f.updated, status)
	return &domain.Order{ID: orderID, Status: status}, nil
}

type fakeBus struct {
	handlers map[string][]func([]byte)
	emitted  []string
}

func newFakeBus() *fakeBus {
	return &fakeBus{handlers: make(map[string][]func([]byte))}
}

func (f *fakeBus) Subscribe(event string, h func([]byte)) {
	f.handlers[event] = append(f.handlers[event], h)
}

func (f *fakeBus) Emit(_ context.Context, event string, _ any) error {
	f.emitted = append(f.emitted, event)
	return nil
}

func (f *fakeBus) push(t *testing.T, event string, payload any) {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	for _, h := range f.handlers[event] {
		h(body)
	}
}

func newTestEngine(t *testing.T, backend *fakeBackend) (*Engine, *fakeBus) {
	t.Helper()
	bus := newFakeBus()
	eng := NewEngine(backend, bus, Params{TableNumber: 7, SessionID: "guest-7-1-abc"}, 0, zap.NewNop())
	return eng, bus
}

func TestRefreshOwnsMembership(t *testing.T) {
	backend := &fakeBackend{orders: []domain.Order{
		{ID: "o1", Status: domain.StatusPending},
		{ID: "o2", Status: domain.StatusPreparing},
	}}
	eng, _ := newTestEngine(t, backend)
	ctx := context.Background()

	require.NoError(t, eng.Refresh(ctx))
	assert.Len(t, eng.Active(), 2)

	// The next snapshot drops o1: membership follows the poll.
	backend.orders = []domain.Order{{ID: "o2", Status: domain.StatusPreparing}}
	require.NoError(t, eng.Refresh(ctx))
	active := eng.Active()
	require.Len(t, active, 1)
	assert.Equal(t, "o2", active[0].ID)
}

func TestPushNeverAddsMembership(t *testing.T) {
	eng, bus := newTestEngine(t, &fakeBackend{})
	bus.push(t, domain.EventOrderStatusChanged, domain.OrderStatusChangedEvent{
		OrderID: "ghost", Status: domain.StatusPreparing,
	})
	assert.Empty(t, eng.Active())
	assert.Empty(t, eng.History())
}

func TestMonotonicity(t *testing.T) {
	backend := &fakeBackend{orders: []domain.Order{{ID: "o1", Status: domain.StatusPreparing}}}
	eng, bus := newTestEngine(t, backend)
	require.NoError(t, eng.Refresh(context.Background()))

	// A stale event with a lower rank is dropped silently.
	bus.push(t, domain.EventOrderStatusChanged, domain.OrderStatusChangedEvent{
		OrderID: "o1", Status: domain.StatusConfirmed,
	})
	got, ok := eng.Get("o1")
	require.True(t, ok)
	assert.Equal(t, domain.StatusPreparing, got.Status)

	// A higher rank advances.
	bus.push(t, domain.EventOrderStatusChanged, domain.OrderStatusChangedEvent{
		OrderID: "o1", Status: domain.StatusReady,
	})
	got, _ = eng.Get("o1")
	assert.Equal(t, domain.StatusReady, got.Status)
	assert.Equal(t, 80, got.Progress)

	// Equal rank is also dropped: non-decreasing, not oscillating.
	bus.push(t, domain.EventOrderStatusChanged, domain.OrderStatusChangedEvent{
		OrderID: "o1", Status: domain.StatusReady,
	})
	got, _ = eng.Get("o1")
	assert.Equal(t, domain.StatusReady, got.Status)
}

func TestCancellationPrecedence(t *testing.T) {
	backend := &fakeBackend{orders: []domain.Order{{ID: "o1", Status: domain.StatusPreparing}}}
	eng, bus := newTestEngine(t, backend)
	require.NoError(t, eng.Refresh(context.Background()))

	// Cancelled wins regardless of rank.
	bus.push(t, domain.EventOrderStatusChanged, domain.OrderStatusChangedEvent{
		OrderID: "o1", Status: domain.StatusCancelled,
	})
	got, _ := eng.Get("o1")
	assert.Equal(t, domain.StatusCancelled, got.Status)
	assert.Equal(t, 0, got.Progress)

	// And is never un-applied by a stale reordered event.
	bus.push(t, domain.EventOrderStatusChanged, domain.OrderStatusChangedEvent{
		OrderID: "o1", Status: domain.StatusConfirmed,
	})
	got, _ = eng.Get("o1")
	assert.Equal(t, domain.StatusCancelled, got.Status)
}

func TestPartition(t *testing.T) {
	backend := &fakeBackend{orders: []domain.Order{
		{ID: "o1", Status: domain.StatusServed, PaymentStatus: domain.PaymentPending},
	}}
	eng, _ := newTestEngine(t, backend)
	require.NoError(t, eng.Refresh(context.Background()))

	// Served but unpaid: still active.
	require.Len(t, eng.Active(), 1)
	assert.Empty(t, eng.History())

	// Same order paid: history, never both.
	backend.orders = []domain.Order{
		{ID: "o1", Status: domain.StatusServed, PaymentStatus: domain.PaymentPaid},
	}
	require.NoError(t, eng.Refresh(context.Background()))
	assert.Empty(t, eng.Active())
	require.Len(t, eng.History(), 1)
}

func TestKitchenUpdateLeavesStatus(t *testing.T) {
	backend := &fakeBackend{orders: []domain.Order{{
		ID: "o1", Status: domain.StatusPreparing,
		Items: []domain.OrderItem{{MenuItemID: "m1", Name: "Pizza"}},
	}}}
	eng, bus := newTestEngine(t, backend)
	require.NoError(t, eng.Refresh(context.Background()))

	bus.push(t, domain.EventKitchenUpdate, domain.KitchenUpdateEvent{
		OrderID: "o1", MenuItemID: "m1", ItemStatus: "plating",
	})
	got, _ := eng.Get("o1")
	assert.Equal(t, domain.StatusPreparing, got.Status)
	assert.Equal(t, "plating", got.Items[0].Status)
}

func TestOrderReadyIsNotificationOnly(t *testing.T) {
	backend := &fakeBackend{orders: []domain.Order{{ID: "o1", Status: domain.StatusPreparing}}}
	eng, bus := newTestEngine(t, backend)
	require.NoError(t, eng.Refresh(context.Background()))

	var changes []Change
	eng.OnChange(func(c Change) { changes = append(changes, c) })

	bus.push(t, domain.EventOrderReady, domain.OrderReadyEvent{OrderID: "o1", OrderNumber: "ORD-001"})

	got, _ := eng.Get("o1")
	assert.Equal(t, domain.StatusPreparing, got.Status)
	require.Len(t, changes, 1)
	assert.Equal(t, ChangeReady, changes[0].Kind)
}

func TestCancelOrder(t *testing.T) {
	backend := &fakeBackend{orders: []domain.Order{{ID: "o1", Status: domain.StatusPending}}}
	eng, bus := newTestEngine(t, backend)
	ctx := context.Background()
	require.NoError(t, eng.Refresh(ctx))

	require.NoError(t, eng.CancelOrder(ctx, "o1"))
	assert.Equal(t, []domain.OrderStatus{domain.StatusCancelled}, backend.updated)

	// Optimistically out of active, cancellation pushed to other viewers.
	assert.Empty(t, eng.Active())
	assert.Equal(t, []string{domain.EventOrderCancelled}, bus.emitted)
}

func TestCancelOrderGuards(t *testing.T) {
	backend := &fakeBackend{orders: []domain.Order{{ID: "o1", Status: domain.StatusPreparing}}}
	eng, _ := newTestEngine(t, backend)
	ctx := context.Background()
	require.NoError(t, eng.Refresh(ctx))

	assert.ErrorIs(t, eng.CancelOrder(ctx, "o1"), ErrNotCancellable)
	assert.ErrorIs(t, eng.CancelOrder(ctx, "missing"), ErrUnknownOrder)
	assert.Empty(t, backend.updated)
}

func TestRegisterAppearsInstantly(t *testing.T) {
	eng, _ := newTestEngine(t, &fakeBackend{})
	eng.Register(domain.Order{ID: "o9", Status: domain.StatusPending})
	active := eng.Active()
	require.Len(t, active, 1)
	assert.Equal(t, 20, active[0].Progress)
}

func TestInterleavedPollAndPush(t *testing.T) {
	backend := &fakeBackend{orders: []domain.Order{{ID: "o1", Status: domain.StatusPending}}}
	eng, bus := newTestEngine(t, backend)
	ctx := context.Background()
	require.NoError(t, eng.Refresh(ctx))

	// Push advances ahead of the poll.
	bus.push(t, domain.EventOrderStatusChanged, domain.OrderStatusChangedEvent{
		OrderID: "o1", Status: domain.StatusPreparing,
	})

	// The next poll is authoritative even when it lags; observed rank
	// history across the sequence never decreases except via poll
	// authority, which resets the baseline.
	backend.orders = []domain.Order{{ID: "o1", Status: domain.StatusReady}}
	require.NoError(t, eng.Refresh(ctx))
	got, _ := eng.Get("o1")
	assert.Equal(t, domain.StatusReady, got.Status)

	// Stale push after the poll: dropped.
	bus.push(t, domain.EventOrderStatusChanged, domain.OrderStatusChangedEvent{
		OrderID: "o1", Status: domain.StatusPreparing,
	})
	got, _ = eng.Get("o1")
	assert.Equal(t, domain.StatusReady, got.Status)
}

func TestSuspendPausesPolling(t *testing.T) {
	backend := &fakeBackend{orders: []domain.Order{{ID: "o1", Status: domain.StatusPending}}}
	eng, bus := newTestEngine(t, backend)
	ctx := context.Background()

	require.NoError(t, eng.Refresh(ctx))
	before := backend.calls()

	eng.Suspend()
	eng.pollOnce(ctx)
	eng.pollOnce(ctx)
	assert.Equal(t, before, backend.calls())

	// Push patches keep applying while the poll is paused.
	bus.push(t, domain.EventOrderStatusChanged, domain.OrderStatusChangedEvent{
		OrderID: "o1", Status: domain.StatusPreparing,
	})
	got, ok := eng.Get("o1")
	require.True(t, ok)
	assert.Equal(t, domain.StatusPreparing, got.Status)

	eng.Resume()
	eng.pollOnce(ctx)
	assert.Equal(t, before+1, backend.calls())
}

func TestStartPollsOnInterval(t *testing.T) {
	backend := &fakeBackend{orders: []domain.Order{{ID: "o1", Status: domain.StatusPending}}}
	bus := newFakeBus()
	eng := NewEngine(backend, bus, Params{TableNumber: 7, SessionID: "guest-7-1-abc"}, 10*time.Millisecond, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eng.Start(ctx)
	// First refresh fires immediately, the ticker keeps it going.
	assert.Eventually(t, func() bool { return backend.calls() >= 3 }, 2*time.Second, 5*time.Millisecond)
	require.Len(t, eng.Active(), 1)

	cancel()
	settled := backend.calls()
	time.Sleep(50 * time.Millisecond)
	assert.LessOrEqual(t, backend.calls(), settled+1)
}
