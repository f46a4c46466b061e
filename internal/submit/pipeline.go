// Package submit turns a cart into a placed order: validate, build the
// wire payload, post it, then clear the cart and fan the new order out.
package submit

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"tableside/internal/cart"
	"tableside/internal/domain"
)

var (
	ErrEmptyCart = errors.New("cart is empty")
	ErrNoSession = errors.New("no active session")
)

// Backend is the order-creating side of the HTTP client.
type Backend interface {
	CreateOrder(ctx context.Context, req domain.CreateOrderRequest) (*domain.Order, error)
}

// Emitter pushes the new order to other connected parties (kitchen
// displays) without waiting for their poll cycle.
type Emitter interface {
	Emit(ctx context.Context, event string, payload any) error
}

// Registry receives the confirmed order for instant local tracking.
type Registry interface {
	Register(order domain.Order)
}

type Pipeline struct {
	cart     *cart.Engine
	backend  Backend
	emitter  Emitter
	registry Registry
	validate *validator.Validate
	logger   *zap.Logger
}

func NewPipeline(cartEngine *cart.Engine, backend Backend, emitter Emitter, registry Registry, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		cart:     cartEngine,
		backend:  backend,
		emitter:  emitter,
		registry: registry,
		validate: validator.New(),
		logger:   logger,
	}
}

// buildRequest pins each line's name and price into the payload so the
// order total stays what the guest saw, whatever the menu does between
// browse time and submit time.
func buildRequest(lines []domain.CartLine, sess *domain.GuestSession) domain.CreateOrderRequest {
	items := make([]domain.CreateOrderItem, 0, len(lines))
	for _, l := range lines {
		items = append(items, domain.CreateOrderItem{
			MenuItemID:      l.MenuItemID,
			Quantity:        l.Quantity,
			Customizations:  l.Customizations,
			SpecialRequests: l.SpecialRequests,
			Name:            l.Name,
			Price:           l.Price,
		})
	}
	return domain.CreateOrderRequest{
		TableNumber:       sess.TableNumber,
		Items:             items,
		CustomerSessionID: sess.SessionID,
		CustomerName:      sess.CustomerName,
		CustomerPhone:     sess.CustomerPhone,
	}
}

// Submit places the order for the given session. On any failure the
// cart is left untouched so the guest can resubmit without re-entering
// their selections.
func (p *Pipeline) Submit(ctx context.Context, sess *domain.GuestSession) (*domain.Order, error) {
	if sess == nil || !sess.IsActive {
		return nil, ErrNoSession
	}
	lines := p.cart.Lines()
	if len(lines) == 0 {
		return nil, ErrEmptyCart
	}

	req := buildRequest(lines, sess)
	if err := p.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("invalid order payload: %w", err)
	}

	order, err := p.backend.CreateOrder(ctx, req)
	if err != nil {
		return nil, err
	}

	// Success path: clear, track, fan out. The order is already placed
	// at this point, so a failed clear only logs.
	if err := p.cart.Clear(ctx); err != nil {
		p.logger.Warn("cart clear after submit failed", zap.Error(err))
	}
	p.registry.Register(*order)

	if p.emitter != nil {
		ev := domain.NewOrderEvent{Order: *order, TableNumber: sess.TableNumber, SessionID: sess.SessionID}
		if err := p.emitter.Emit(ctx, domain.EventNewOrder, ev); err != nil {
			p.logger.Warn("new-order emit failed", zap.Error(err))
		}
	}

	p.logger.Info("order submitted",
		zap.String("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.Int("table", sess.TableNumber))
	return order, nil
}
