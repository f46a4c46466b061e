// Package ordersync merges the periodic poll snapshot with incremental
// push events into one canonical list of tracked orders. The poll owns
// membership and is authoritative whenever it runs; push events patch
// in between for responsiveness, under a monotonicity rule.
package ordersync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"tableside/internal/domain"
)

var (
	ErrUnknownOrder   = errors.New("unknown order")
	ErrNotCancellable = errors.New("order can no longer be cancelled")
)

// Backend is the polled HTTP side, satisfied by *api.Client.
type Backend interface {
	ListOrders(ctx context.Context, tableNumber int) ([]domain.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID string, status domain.OrderStatus) (*domain.Order, error)
}

// Bus is the push side, satisfied by *realtime.Transport.
type Bus interface {
	Subscribe(event string, h func(payload []byte))
	Emit(ctx context.Context, event string, payload any) error
}

// Tracked is one order with its progress derived from status at read
// time. Progress is never stored.
type Tracked struct {
	domain.Order
	Progress int
}

type ChangeKind string

const (
	ChangeStatus  ChangeKind = "status"
	ChangeKitchen ChangeKind = "kitchen"
	ChangeReady   ChangeKind = "ready"
	ChangeAdded   ChangeKind = "added"
	ChangeRemoved ChangeKind = "removed"
)

// Change feeds the notification layer: one reconciled difference.
type Change struct {
	Kind           ChangeKind
	Order          domain.Order
	PreviousStatus domain.OrderStatus
}

type Params struct {
	TableNumber int
	SessionID   string
}

type Engine struct {
	backend  Backend
	bus      Bus
	logger   *zap.Logger
	params   Params
	interval time.Duration

	mu        sync.Mutex
	orders    map[string]domain.Order
	suspended bool

	subMu sync.Mutex
	subs  []func(Change)
}

func NewEngine(backend Backend, bus Bus, params Params, interval time.Duration, logger *zap.Logger) *Engine {
	if interval == 0 {
		interval = 10 * time.Second
	}
	e := &Engine{
		backend:  backend,
		bus:      bus,
		logger:   logger,
		params:   params,
		interval: interval,
		orders:   make(map[string]domain.Order),
	}
	if bus != nil {
		bus.Subscribe(domain.EventOrderStatusChanged, e.onStatusChanged)
		bus.Subscribe(domain.EventKitchenUpdate, e.onKitchenUpdate)
		bus.Subscribe(domain.EventOrderReady, e.onOrderReady)
	}
	return e
}

// OnChange registers a consumer of reconciled state changes (the
// notification bridge). Callbacks run outside the engine lock.
func (e *Engine) OnChange(fn func(Change)) {
	e.subMu.Lock()
	e.subs = append(e.subs, fn)
	e.subMu.Unlock()
}

func (e *Engine) publish(changes ...Change) {
	if len(changes) == 0 {
		return
	}
	e.subMu.Lock()
	subs := make([]func(Change), len(e.subs))
	copy(subs, e.subs)
	e.subMu.Unlock()
	for _, fn := range subs {
		for _, c := range changes {
			fn(c)
		}
	}
}

// Start runs the poll loop until ctx is done. The first refresh fires
// immediately so the view is not blank for a full interval.
func (e *Engine) Start(ctx context.Context) {
	go func() {
		e.pollOnce(ctx)
		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.pollOnce(ctx)
			}
		}
	}()
}

func (e *Engine) pollOnce(ctx context.Context) {
	e.mu.Lock()
	suspended := e.suspended
	e.mu.Unlock()
	if suspended {
		return
	}
	if err := e.Refresh(ctx); err != nil {
		e.logger.Warn("poll failed, keeping cached state", zap.Error(err))
	}
}

// Suspend pauses polling without tearing the engine down; push patches
// still apply. Used while the consuming view is not mounted.
func (e *Engine) Suspend() {
	e.mu.Lock()
	e.suspended = true
	e.mu.Unlock()
}

func (e *Engine) Resume() {
	e.mu.Lock()
	e.suspended = false
	e.mu.Unlock()
}

// Refresh fetches the full snapshot and replaces the canonical state.
// The snapshot is the source of truth for membership and status alike.
func (e *Engine) Refresh(ctx context.Context) error {
	snapshot, err := e.backend.ListOrders(ctx, e.params.TableNumber)
	if err != nil {
		return fmt.Errorf("fetch orders: %w", err)
	}

	var changes []Change
	next := make(map[string]domain.Order, len(snapshot))
	e.mu.Lock()
	for _, o := range snapshot {
		next[o.ID] = o
		prev, existed := e.orders[o.ID]
		switch {
		case !existed:
			changes = append(changes, Change{Kind: ChangeAdded, Order: o})
		case prev.Status != o.Status:
			changes = append(changes, Change{Kind: ChangeStatus, Order: o, PreviousStatus: prev.Status})
		}
	}
	for id, prev := range e.orders {
		if _, ok := next[id]; !ok {
			changes = append(changes, Change{Kind: ChangeRemoved, Order: prev})
		}
	}
	e.orders = next
	e.mu.Unlock()

	e.publish(changes...)
	return nil
}

// Register adds a freshly submitted order so it appears before the next
// poll or push confirms it.
func (e *Engine) Register(order domain.Order) {
	e.mu.Lock()
	e.orders[order.ID] = order
	e.mu.Unlock()
	e.publish(Change{Kind: ChangeAdded, Order: order})
}

func (e *Engine) onStatusChanged(payload []byte) {
	var ev domain.OrderStatusChangedEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		e.logger.Warn("malformed status event", zap.Error(err))
		return
	}
	e.applyStatus(ev.OrderID, ev.Status)
}

// applyStatus applies one push transition under the monotonicity rule:
// a status whose rank is lower than what is cached gets dropped as
// expected stale traffic, except cancelled, which always wins.
func (e *Engine) applyStatus(orderID string, status domain.OrderStatus) {
	if !status.Valid() {
		e.logger.Warn("unknown status in push event", zap.String("status", string(status)))
		return
	}
	e.mu.Lock()
	cur, ok := e.orders[orderID]
	if !ok {
		// Push events refine, never add: membership belongs to the poll.
		e.mu.Unlock()
		return
	}
	if status != domain.StatusCancelled && status.Rank() <= cur.Status.Rank() {
		e.mu.Unlock()
		e.logger.Debug("dropping stale status event",
			zap.String("order_id", orderID),
			zap.String("cached", string(cur.Status)),
			zap.String("incoming", string(status)))
		return
	}
	prev := cur.Status
	cur.Status = status
	e.orders[orderID] = cur
	e.mu.Unlock()

	e.publish(Change{Kind: ChangeStatus, Order: cur, PreviousStatus: prev})
}

func (e *Engine) onKitchenUpdate(payload []byte) {
	var ev domain.KitchenUpdateEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		e.logger.Warn("malformed kitchen event", zap.Error(err))
		return
	}
	e.mu.Lock()
	cur, ok := e.orders[ev.OrderID]
	if !ok {
		e.mu.Unlock()
		return
	}
	// Sub-item status only; the order's own status is untouched.
	for i := range cur.Items {
		if cur.Items[i].MenuItemID == ev.MenuItemID {
			cur.Items[i].Status = ev.ItemStatus
		}
	}
	e.orders[ev.OrderID] = cur
	e.mu.Unlock()

	e.publish(Change{Kind: ChangeKitchen, Order: cur})
}

func (e *Engine) onOrderReady(payload []byte) {
	var ev domain.OrderReadyEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		e.logger.Warn("malformed ready event", zap.Error(err))
		return
	}
	// Notification-only: the transition itself arrives as a status
	// event. No state mutation here.
	e.mu.Lock()
	cur, ok := e.orders[ev.OrderID]
	e.mu.Unlock()
	if !ok {
		return
	}
	e.publish(Change{Kind: ChangeReady, Order: cur})
}

// CancelOrder is only meaningful while pending or confirmed. On success
// the local copy flips to cancelled immediately, and the cancellation
// is pushed so other viewers reconcile without waiting for their poll.
func (e *Engine) CancelOrder(ctx context.Context, orderID string) error {
	e.mu.Lock()
	cur, ok := e.orders[orderID]
	e.mu.Unlock()
	if !ok {
		return ErrUnknownOrder
	}
	if !cur.Status.Cancellable() {
		return fmt.Errorf("%w: status %s", ErrNotCancellable, cur.Status)
	}

	if _, err := e.backend.UpdateOrderStatus(ctx, orderID, domain.StatusCancelled); err != nil {
		return fmt.Errorf("cancel order: %w", err)
	}

	e.applyStatus(orderID, domain.StatusCancelled)

	if e.bus != nil {
		ev := domain.OrderCancelledEvent{
			OrderID:     orderID,
			TableNumber: e.params.TableNumber,
			SessionID:   e.params.SessionID,
		}
		if err := e.bus.Emit(ctx, domain.EventOrderCancelled, ev); err != nil {
			e.logger.Warn("cancel emit failed", zap.Error(err))
		}
	}
	return nil
}

// Get returns one tracked order with derived progress.
func (e *Engine) Get(orderID string) (Tracked, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.orders[orderID]
	if !ok {
		return Tracked{}, false
	}
	return Tracked{Order: o, Progress: o.Status.Progress()}, true
}

// Active returns the orders still in flight: status in the active
// ladder and not yet paid. Recomputed on every read; a view, not state.
func (e *Engine) Active() []Tracked {
	return e.partition(func(o domain.Order) bool {
		return o.Status != domain.StatusPaid &&
			o.Status != domain.StatusCancelled &&
			o.PaymentStatus != domain.PaymentPaid
	})
}

// History returns settled orders: paid or cancelled, by status or by
// payment status.
func (e *Engine) History() []Tracked {
	return e.partition(func(o domain.Order) bool {
		return o.Status == domain.StatusPaid ||
			o.Status == domain.StatusCancelled ||
			o.PaymentStatus == domain.PaymentPaid
	})
}

func (e *Engine) partition(keep func(domain.Order) bool) []Tracked {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []Tracked
	for _, o := range e.orders {
		if keep(o) {
			out = append(out, Tracked{Order: o, Progress: o.Status.Progress()})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
