// Package terminal wires the ordering core together and is the single
// surface the UI layer talks to.
package terminal

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"tableside/internal/api"
	"tableside/internal/cart"
	"tableside/internal/config"
	"tableside/internal/domain"
	"tableside/internal/ordersync"
	"tableside/internal/realtime"
	"tableside/internal/securestore"
	"tableside/internal/session"
	"tableside/internal/store"
	"tableside/internal/submit"
	"tableside/internal/tenant"
)

type Options struct {
	TableNumber   int
	CustomerName  string
	CustomerPhone string
	// DisablePush starts poll-only, for tests and broker-less venues.
	DisablePush bool
}

type Core struct {
	logger    *zap.Logger
	medium    store.KV
	sessions  *session.Manager
	cart      *cart.Engine
	transport *realtime.Transport
	sync      *ordersync.Engine
	pipeline  *submit.Pipeline
	apiClient *api.Client
	sess      *domain.GuestSession
}

func openMedium(cfg config.StoreConfig) (store.KV, error) {
	switch cfg.Medium {
	case "memory":
		return store.NewMemoryKV(), nil
	case "redis":
		return store.NewRedisKV(cfg.RedisAddr, "", cfg.RedisDB), nil
	case "badger", "":
		return store.OpenBadger(cfg.BadgerPath)
	default:
		return nil, fmt.Errorf("unknown store medium %q", cfg.Medium)
	}
}

// Open builds every engine, restoring the session for the table or
// starting a fresh one.
func Open(ctx context.Context, cfg *config.Config, opts Options, lg *zap.Logger) (*Core, error) {
	resolver := tenant.NewStaticResolver(cfg.Tenant.ID)
	scope, err := resolver.Resolve()
	if err != nil {
		return nil, err
	}

	medium, err := openMedium(cfg.Store)
	if err != nil {
		return nil, err
	}

	// The encryption secret always lives in the process-scoped medium,
	// even when records go to durable storage. Losing the process loses
	// the secret; orphaned ciphertexts self-heal away on read.
	sec, err := securestore.New(ctx, medium, store.NewMemoryKV(), lg)
	if err != nil {
		_ = medium.Close()
		return nil, err
	}

	apiClient := api.NewClient(api.Config{
		BaseURL:    cfg.API.BaseURL,
		TenantID:   scope.TenantID,
		Timeout:    cfg.API.Timeout,
		RetryCount: cfg.API.RetryCount,
	}, lg)

	sessions := session.NewManager(sec, resolver, apiClient, lg)
	sess, err := sessions.Restore(ctx)
	if err != nil {
		_ = medium.Close()
		return nil, err
	}
	if sess == nil || sess.TableNumber != opts.TableNumber {
		sess, err = sessions.Initialize(ctx, opts.TableNumber, opts.CustomerName, opts.CustomerPhone)
		if err != nil {
			_ = medium.Close()
			return nil, err
		}
	}

	cartEngine, err := cart.NewEngine(ctx, sec, scope.TenantID, cart.Config{
		TaxRate:      cfg.Cart.TaxRate,
		SettleWindow: cfg.Cart.SettleWindow,
	}, lg)
	if err != nil {
		_ = medium.Close()
		return nil, err
	}

	var transport *realtime.Transport
	var bus ordersync.Bus
	if !opts.DisablePush {
		transport = realtime.New(realtime.BrokerConfig{
			Host:     cfg.Broker.Host,
			Port:     cfg.Broker.Port,
			User:     cfg.Broker.User,
			Password: cfg.Broker.Password,
			VHost:    cfg.Broker.VHost,
		}, realtime.Params{
			TenantID:    scope.TenantID,
			TableNumber: opts.TableNumber,
			SessionID:   sess.SessionID,
			DeviceType:  sess.DeviceType,
		}, lg)
		bus = transport
	}

	syncEngine := ordersync.NewEngine(apiClient, bus, ordersync.Params{
		TableNumber: opts.TableNumber,
		SessionID:   sess.SessionID,
	}, cfg.Sync.PollInterval, lg)

	var emitter submit.Emitter
	if transport != nil {
		emitter = transport
	}
	pipeline := submit.NewPipeline(cartEngine, apiClient, emitter, syncEngine, lg)

	return &Core{
		logger:    lg,
		medium:    medium,
		sessions:  sessions,
		cart:      cartEngine,
		transport: transport,
		sync:      syncEngine,
		pipeline:  pipeline,
		apiClient: apiClient,
		sess:      sess,
	}, nil
}

// Start connects the push channel (non-fatal when the broker is down:
// polling covers everything, just slower) and runs the poll loop until
// ctx is cancelled.
func (c *Core) Start(ctx context.Context) {
	if c.transport != nil {
		if err := c.transport.Connect(ctx); err != nil {
			c.logger.Warn("push channel unavailable, starting poll-only", zap.Error(err))
		}
	}
	c.sync.Start(ctx)
}

func (c *Core) Session() *domain.GuestSession { return c.sessions.Current() }
func (c *Core) Cart() *cart.Engine            { return c.cart }
func (c *Core) Orders() *ordersync.Engine     { return c.sync }

// Submit places the current cart as an order for the active session.
func (c *Core) Submit(ctx context.Context) (*domain.Order, error) {
	return c.pipeline.Submit(ctx, c.sessions.Current())
}

func (c *Core) CancelOrder(ctx context.Context, orderID string) error {
	return c.sync.CancelOrder(ctx, orderID)
}

// RequestService pushes a guest service request (water, assistance,
// bill) to the staff-facing channel.
func (c *Core) RequestService(ctx context.Context, requestType, note string) error {
	if c.transport == nil {
		return errors.New("push channel disabled")
	}
	sess := c.sessions.Current()
	if sess == nil {
		return submit.ErrNoSession
	}
	return c.transport.Emit(ctx, domain.EventGuestServiceRequest, domain.ServiceRequestEvent{
		TableNumber: sess.TableNumber,
		SessionID:   sess.SessionID,
		RequestType: requestType,
		Note:        note,
	})
}

// Pay settles one tracked order. Amount is taken from the tracked
// total, tip on top.
func (c *Core) Pay(ctx context.Context, orderID, method string, tip float64) error {
	tracked, ok := c.sync.Get(orderID)
	if !ok {
		return ordersync.ErrUnknownOrder
	}
	return c.apiClient.CreatePayment(ctx, domain.PaymentRequest{
		OrderID: orderID,
		Method:  method,
		Amount:  tracked.Total,
		Tip:     tip,
	})
}

// EndSession tears the dining session down after checkout or feedback:
// cart emptied, session cleared.
func (c *Core) EndSession(ctx context.Context) error {
	if err := c.cart.Clear(ctx); err != nil {
		return err
	}
	return c.sessions.Close(ctx)
}

// Close releases the push channel and the storage medium.
func (c *Core) Close() error {
	if c.transport != nil {
		c.transport.Disconnect()
	}
	return c.medium.Close()
}
