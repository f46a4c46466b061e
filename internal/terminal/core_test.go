package terminal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tableside/internal/config"
	"tableside/internal/domain"
)

// fakeVenue is a minimal in-memory backend covering the HTTP contract.
type fakeVenue struct {
	mu       sync.Mutex
	orders   []domain.Order
	payments []domain.PaymentRequest
	nextID   int
}

func (v *fakeVenue) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /orders", func(w http.ResponseWriter, r *http.Request) {
		var req domain.CreateOrderRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		v.mu.Lock()
		v.nextID++
		order := domain.Order{
			ID:            fmt.Sprintf("o%d", v.nextID),
			OrderNumber:   fmt.Sprintf("ORD-%03d", v.nextID),
			TableNumber:   req.TableNumber,
			Status:        domain.StatusPending,
			PaymentStatus: domain.PaymentPending,
			CreatedAt:     time.Now().UTC(),
		}
		for _, it := range req.Items {
			order.Total += it.Price * float64(it.Quantity)
			order.Items = append(order.Items, domain.OrderItem{
				MenuItemID: it.MenuItemID, Name: it.Name, Price: it.Price, Quantity: it.Quantity,
			})
		}
		v.orders = append(v.orders, order)
		v.mu.Unlock()
		_ = json.NewEncoder(w).Encode(domain.CreateOrderResponse{Order: order})
	})
	mux.HandleFunc("GET /orders", func(w http.ResponseWriter, r *http.Request) {
		v.mu.Lock()
		defer v.mu.Unlock()
		_ = json.NewEncoder(w).Encode(v.orders)
	})
	mux.HandleFunc("PATCH /orders/{id}/status", func(w http.ResponseWriter, r *http.Request) {
		var req domain.UpdateStatusRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		v.mu.Lock()
		defer v.mu.Unlock()
		for i := range v.orders {
			if v.orders[i].ID == r.PathValue("id") {
				v.orders[i].Status = req.Status
				_ = json.NewEncoder(w).Encode(v.orders[i])
				return
			}
		}
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("POST /payments", func(w http.ResponseWriter, r *http.Request) {
		var req domain.PaymentRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		v.mu.Lock()
		v.payments = append(v.payments, req)
		v.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("GET /tables/{n}/session", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		mux.ServeHTTP(w, r)
	})
}

func openTestCore(t *testing.T) (*Core, *fakeVenue) {
	t.Helper()
	venue := &fakeVenue{}
	srv := httptest.NewServer(venue.handler())
	t.Cleanup(srv.Close)

	cfg := config.Default()
	cfg.Tenant.ID = "tenant-a"
	cfg.API.BaseURL = srv.URL
	cfg.Store.Medium = "memory"

	core, err := Open(context.Background(), cfg, Options{
		TableNumber:  7,
		CustomerName: "Alex",
		DisablePush:  true,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = core.Close() })
	return core, venue
}

func TestOrderLifecycle(t *testing.T) {
	core, venue := openTestCore(t)
	ctx := context.Background()

	require.NotNil(t, core.Session())
	assert.Equal(t, 7, core.Session().TableNumber)

	_, err := core.Cart().AddLine(ctx, "m1", "Pizza", 10, nil, "")
	require.NoError(t, err)
	_, err = core.Cart().AddLine(ctx, "m2", "Soda", 5, nil, "")
	require.NoError(t, err)
	assert.Equal(t, 16.5, core.Cart().Totals().Total)

	order, err := core.Submit(ctx)
	require.NoError(t, err)
	assert.Empty(t, core.Cart().Lines())

	// Registered before any poll ran.
	active := core.Orders().Active()
	require.Len(t, active, 1)
	assert.Equal(t, order.ID, active[0].ID)
	assert.Equal(t, 20, active[0].Progress)

	// Backend advances the order; the next poll picks it up.
	venue.mu.Lock()
	venue.orders[0].Status = domain.StatusPreparing
	venue.mu.Unlock()
	require.NoError(t, core.Orders().Refresh(ctx))
	got, ok := core.Orders().Get(order.ID)
	require.True(t, ok)
	assert.Equal(t, 60, got.Progress)

	// Too late to cancel now.
	assert.Error(t, core.CancelOrder(ctx, order.ID))

	require.NoError(t, core.Pay(ctx, order.ID, "card", 2))
	venue.mu.Lock()
	require.Len(t, venue.payments, 1)
	assert.Equal(t, 15.0, venue.payments[0].Amount)
	assert.Equal(t, 2.0, venue.payments[0].Tip)
	venue.mu.Unlock()

	require.NoError(t, core.EndSession(ctx))
	assert.Nil(t, core.Session())
}

func TestCancelWhilePending(t *testing.T) {
	core, venue := openTestCore(t)
	ctx := context.Background()

	_, err := core.Cart().AddLine(ctx, "m1", "Pizza", 10, nil, "")
	require.NoError(t, err)
	order, err := core.Submit(ctx)
	require.NoError(t, err)

	require.NoError(t, core.CancelOrder(ctx, order.ID))
	assert.Empty(t, core.Orders().Active())

	venue.mu.Lock()
	assert.Equal(t, domain.StatusCancelled, venue.orders[0].Status)
	venue.mu.Unlock()
}

func TestReopenStartsFreshSession(t *testing.T) {
	venue := &fakeVenue{}
	srv := httptest.NewServer(venue.handler())
	defer srv.Close()

	cfg := config.Default()
	cfg.Tenant.ID = "tenant-a"
	cfg.API.BaseURL = srv.URL
	cfg.Store.Medium = "badger"
	cfg.Store.BadgerPath = t.TempDir()

	ctx := context.Background()
	core, err := Open(ctx, cfg, Options{TableNumber: 4, DisablePush: true}, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, core.Close())

	// Same durable medium, but the per-process encryption secret is
	// new: the old session record is unreadable, so a fresh session
	// starts. Deliberate session-bound security trade-off.
	core2, err := Open(ctx, cfg, Options{TableNumber: 4, DisablePush: true}, zap.NewNop())
	require.NoError(t, err)
	defer core2.Close()
	require.NotNil(t, core2.Session())
	assert.Equal(t, 4, core2.Session().TableNumber)
}
