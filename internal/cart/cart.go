// Package cart owns the guest's cart lines: optimistic mutations,
// per-line advisory soft locks, encrypted persistence on every change.
package cart

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"tableside/internal/domain"
	"tableside/internal/securestore"
)

var ErrLineNotFound = errors.New("cart line not found")

type Config struct {
	TaxRate      float64
	SettleWindow time.Duration
}

// Engine keeps the cart in memory and mirrors it into the secure store
// under cart_{tenantId} on every mutation.
type Engine struct {
	store    *securestore.Store
	logger   *zap.Logger
	tenantID string
	taxRate  float64
	settle   time.Duration

	mu        sync.Mutex
	lines     []domain.CartLine
	seq       int
	settleGen map[string]int
	settleSeq int

	subMu sync.Mutex
	subs  []func()
}

// NewEngine restores any persisted cart for the tenant. In-flight
// update flags do not survive a reload: whatever was settling when the
// process died has settled by now.
func NewEngine(ctx context.Context, store *securestore.Store, tenantID string, cfg Config, logger *zap.Logger) (*Engine, error) {
	if cfg.TaxRate == 0 {
		cfg.TaxRate = 0.10
	}
	if cfg.SettleWindow == 0 {
		cfg.SettleWindow = 500 * time.Millisecond
	}
	e := &Engine{
		store:     store,
		logger:    logger,
		tenantID:  tenantID,
		taxRate:   cfg.TaxRate,
		settle:    cfg.SettleWindow,
		settleGen: make(map[string]int),
	}

	var saved []domain.CartLine
	found, err := store.Get(ctx, e.storageKey(), &saved)
	if err != nil {
		return nil, fmt.Errorf("restore cart: %w", err)
	}
	if found {
		for i := range saved {
			saved[i].IsUpdating = false
		}
		e.lines = saved
	}
	return e, nil
}

func (e *Engine) storageKey() string { return "cart_" + e.tenantID }

// OnChange registers an explicit change listener. Listeners run after
// the mutation is persisted, outside the engine lock.
func (e *Engine) OnChange(fn func()) {
	e.subMu.Lock()
	e.subs = append(e.subs, fn)
	e.subMu.Unlock()
}

func (e *Engine) notify() {
	e.subMu.Lock()
	subs := make([]func(), len(e.subs))
	copy(subs, e.subs)
	e.subMu.Unlock()
	for _, fn := range subs {
		fn()
	}
}

func (e *Engine) persistLocked(ctx context.Context) error {
	return e.store.Set(ctx, e.storageKey(), e.lines)
}

// AddLine always appends: two lines for the same menu item with the
// same customizations are permitted and expected.
func (e *Engine) AddLine(ctx context.Context, menuItemID, name string, price float64, customizations map[string]string, specialRequests string) (string, error) {
	e.mu.Lock()
	e.seq++
	line := domain.CartLine{
		CartID:          fmt.Sprintf("cart-%d-%d", time.Now().UnixMilli(), e.seq),
		MenuItemID:      menuItemID,
		Name:            name,
		Price:           price,
		Quantity:        1,
		Customizations:  customizations,
		SpecialRequests: specialRequests,
	}
	e.lines = append(e.lines, line)
	err := e.persistLocked(ctx)
	e.mu.Unlock()
	if err != nil {
		return "", err
	}
	e.notify()
	return line.CartID, nil
}

// UpdateQuantity applies delta to the line's quantity. A result of zero
// or less removes the line. The IsUpdating flag flips on and clears one
// settle window after the most recent update; a second call on a
// still-updating line is accepted and restarts the window, the flag is
// a UI affordance, not a guard.
func (e *Engine) UpdateQuantity(ctx context.Context, cartID string, delta int) error {
	e.mu.Lock()
	idx := e.indexLocked(cartID)
	if idx < 0 {
		e.mu.Unlock()
		return ErrLineNotFound
	}
	next := e.lines[idx].Quantity + delta
	if next <= 0 {
		e.lines = append(e.lines[:idx], e.lines[idx+1:]...)
		delete(e.settleGen, cartID)
		err := e.persistLocked(ctx)
		e.mu.Unlock()
		if err != nil {
			return err
		}
		e.notify()
		return nil
	}
	e.lines[idx].Quantity = next
	e.lines[idx].IsUpdating = true
	e.settleSeq++
	gen := e.settleSeq
	e.settleGen[cartID] = gen
	err := e.persistLocked(ctx)
	e.mu.Unlock()
	if err != nil {
		return err
	}
	e.notify()

	time.AfterFunc(e.settle, func() { e.clearUpdating(cartID, gen) })
	return nil
}

// clearUpdating fires when one settle timer elapses. The generation
// check makes a superseded timer a no-op, so only the latest update's
// timer clears the flag.
func (e *Engine) clearUpdating(cartID string, gen int) {
	e.mu.Lock()
	if e.settleGen[cartID] != gen {
		e.mu.Unlock()
		return
	}
	delete(e.settleGen, cartID)
	idx := e.indexLocked(cartID)
	if idx < 0 || !e.lines[idx].IsUpdating {
		e.mu.Unlock()
		return
	}
	e.lines[idx].IsUpdating = false
	if err := e.persistLocked(context.Background()); err != nil {
		e.logger.Warn("persist after settle failed", zap.Error(err))
	}
	e.mu.Unlock()
	e.notify()
}

// RemoveLine removes unconditionally, soft lock or not. Removing an
// unknown id is a no-op.
func (e *Engine) RemoveLine(ctx context.Context, cartID string) error {
	e.mu.Lock()
	idx := e.indexLocked(cartID)
	if idx < 0 {
		e.mu.Unlock()
		return nil
	}
	e.lines = append(e.lines[:idx], e.lines[idx+1:]...)
	delete(e.settleGen, cartID)
	err := e.persistLocked(ctx)
	e.mu.Unlock()
	if err != nil {
		return err
	}
	e.notify()
	return nil
}

// Clear empties the cart. Called by the submission pipeline on success
// and by session-reset flows.
func (e *Engine) Clear(ctx context.Context) error {
	e.mu.Lock()
	e.lines = nil
	e.settleGen = make(map[string]int)
	err := e.persistLocked(ctx)
	e.mu.Unlock()
	if err != nil {
		return err
	}
	e.notify()
	return nil
}

func (e *Engine) indexLocked(cartID string) int {
	for i := range e.lines {
		if e.lines[i].CartID == cartID {
			return i
		}
	}
	return -1
}

// Lines returns a snapshot copy.
func (e *Engine) Lines() []domain.CartLine {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.CartLine, len(e.lines))
	copy(out, e.lines)
	return out
}

// Totals is recomputed from the lines on every call, never cached.
func (e *Engine) Totals() domain.Totals {
	e.mu.Lock()
	defer e.mu.Unlock()
	var subtotal float64
	for _, l := range e.lines {
		subtotal += l.Price * float64(l.Quantity)
	}
	tax := round2(subtotal * e.taxRate)
	return domain.Totals{Subtotal: round2(subtotal), Tax: tax, Total: round2(subtotal + tax)}
}

// ItemCount sums quantities, for badge display.
func (e *Engine) ItemCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, l := range e.lines {
		n += l.Quantity
	}
	return n
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
