// Package realtime maintains the push channel between the terminal and
// the venue broker. Two logical channels are multiplexed over one
// connection: order events and guest/table events.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"tableside/internal/domain"
)

const (
	ordersExchange = "orders.events"
	tablesExchange = "tables.events"

	maxReconnectAttempts = 5
	baseBackoff          = time.Second
	maxBackoff           = 5 * time.Second

	dialTimeout = 10 * time.Second
)

// Params scope the connection: they identify the binding in the queue
// name and ride along every emitted message as headers.
type Params struct {
	TenantID    string
	TableNumber int
	SessionID   string
	DeviceType  string
}

type BrokerConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	VHost    string
}

func (c BrokerConfig) url() string {
	vhost := c.VHost
	if vhost == "" {
		vhost = "/"
	}
	return fmt.Sprintf("amqp://%s:%s@%s:%d/%s", c.User, c.Password, c.Host, c.Port, strings.TrimPrefix(vhost, "/"))
}

// Handler receives the raw JSON payload of one event. Handlers run in
// arrival order on the consumer goroutine; the transport applies no
// backpressure, a slow handler delays everything behind it.
type Handler func(payload []byte)

// exchangeFor maps an event name onto its logical channel.
func exchangeFor(event string) string {
	switch event {
	case domain.EventGuestServiceRequest, domain.EventCustomerRequest,
		domain.EventTableStatusUpdate, domain.EventMenuUpdated:
		return tablesExchange
	default:
		return ordersExchange
	}
}

// routingKey is {event}.{tenantId}.{table}; event names carry no dots.
func routingKey(event string, p Params) string {
	return fmt.Sprintf("%s.%s.%d", event, p.TenantID, p.TableNumber)
}

func eventFromRoutingKey(key string) string {
	if i := strings.IndexByte(key, '.'); i > 0 {
		return key[:i]
	}
	return key
}

func backoffDelay(attempt int) time.Duration {
	d := baseBackoff * time.Duration(attempt)
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

var allEvents = []string{
	domain.EventNewOrder,
	domain.EventOrderStatusChanged,
	domain.EventKitchenUpdate,
	domain.EventOrderReady,
	domain.EventOrderCancelled,
	domain.EventGuestServiceRequest,
	domain.EventCustomerRequest,
	domain.EventTableStatusUpdate,
	domain.EventMenuUpdated,
}

// Transport is the AMQP-backed push channel. Reconnection after a drop
// is automatic and bounded; once attempts are exhausted the transport
// reports Offline and the sync engine falls back to poll-only.
type Transport struct {
	params Params
	cfg    BrokerConfig
	logger *zap.Logger

	// dial and backoff are swapped out in tests; everything else about
	// the reconnect loop runs the production path.
	dial    func() (*amqp.Connection, error)
	backoff func(attempt int) time.Duration

	mu        sync.Mutex
	conn      *amqp.Connection
	ch        *amqp.Channel
	subs      map[string][]Handler
	closed    bool
	offline   bool
	onOffline func()

	consumerTag string
}

func New(cfg BrokerConfig, params Params, logger *zap.Logger) *Transport {
	t := &Transport{
		params: params,
		cfg:    cfg,
		logger: logger,
		subs:   make(map[string][]Handler),
	}
	t.dial = func() (*amqp.Connection, error) {
		return amqp.DialConfig(cfg.url(), amqp.Config{
			Dial:      amqp.DefaultDial(dialTimeout),
			Heartbeat: 10 * time.Second,
		})
	}
	t.backoff = backoffDelay
	return t
}

// OnOffline registers the hook fired when reconnection is exhausted.
func (t *Transport) OnOffline(fn func()) {
	t.mu.Lock()
	t.onOffline = fn
	t.mu.Unlock()
}

// Subscribe registers a handler for one event name. Safe before or
// after Connect; the queue is bound for every known event up front.
func (t *Transport) Subscribe(event string, h func(payload []byte)) {
	t.mu.Lock()
	t.subs[event] = append(t.subs[event], h)
	t.mu.Unlock()
}

// Connect dials the broker and starts consuming. The queue is exclusive
// and auto-deleted, so a later Connect for a different table or session
// starts from a clean binding with no stale events.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil && !t.conn.IsClosed() {
		return nil
	}
	t.closed = false
	t.offline = false
	return t.setupLocked(ctx)
}

func (t *Transport) setupLocked(ctx context.Context) error {
	conn, err := t.dial()
	if err != nil {
		return fmt.Errorf("dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	for _, ex := range []string{ordersExchange, tablesExchange} {
		if err := ch.ExchangeDeclare(ex, "topic", true, false, false, false, nil); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return fmt.Errorf("declare exchange %s: %w", ex, err)
		}
	}

	queueName := fmt.Sprintf("terminal.%s.%d.%s", t.params.TenantID, t.params.TableNumber, t.params.SessionID)
	q, err := ch.QueueDeclare(queueName, false, true, true, false, nil)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("declare queue: %w", err)
	}
	for _, event := range allEvents {
		if err := ch.QueueBind(q.Name, routingKey(event, t.params), exchangeFor(event), false, nil); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return fmt.Errorf("bind %s: %w", event, err)
		}
	}

	t.consumerTag = "terminal-" + t.params.SessionID
	deliveries, err := ch.Consume(q.Name, t.consumerTag, true, true, false, false, nil)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("consume: %w", err)
	}

	t.conn = conn
	t.ch = ch

	closes := conn.NotifyClose(make(chan *amqp.Error, 1))
	go t.consume(deliveries)
	go t.watch(closes)

	t.logger.Info("push channel connected",
		zap.String("queue", q.Name),
		zap.String("tenant_id", t.params.TenantID),
		zap.Int("table", t.params.TableNumber))
	return nil
}

func (t *Transport) consume(deliveries <-chan amqp.Delivery) {
	for d := range deliveries {
		event := eventFromRoutingKey(d.RoutingKey)
		t.mu.Lock()
		handlers := make([]Handler, len(t.subs[event]))
		copy(handlers, t.subs[event])
		t.mu.Unlock()
		for _, h := range handlers {
			h(d.Body)
		}
	}
}

// watch waits for a connection drop and runs the bounded reconnect
// loop: 1s growing to a 5s cap, five attempts, then offline.
func (t *Transport) watch(closes <-chan *amqp.Error) {
	amqpErr, ok := <-closes
	if !ok || amqpErr == nil {
		return // clean shutdown via Disconnect
	}
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()
	t.logger.Warn("push channel dropped", zap.String("reason", amqpErr.Reason))

	for attempt := 1; attempt <= maxReconnectAttempts; attempt++ {
		time.Sleep(t.backoff(attempt))

		t.mu.Lock()
		if t.closed {
			t.mu.Unlock()
			return
		}
		err := t.setupLocked(context.Background())
		t.mu.Unlock()
		if err == nil {
			t.logger.Info("push channel reconnected", zap.Int("attempt", attempt))
			return
		}
		t.logger.Warn("reconnect failed", zap.Int("attempt", attempt), zap.Error(err))
	}

	t.mu.Lock()
	t.offline = true
	hook := t.onOffline
	t.mu.Unlock()
	t.logger.Error("push channel offline, falling back to polling")
	if hook != nil {
		hook()
	}
}

// Emit publishes one event on its logical channel. Connection params
// travel as headers so other consumers can attribute the event.
func (t *Transport) Emit(ctx context.Context, event string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", event, err)
	}

	t.mu.Lock()
	ch := t.ch
	t.mu.Unlock()
	if ch == nil {
		return fmt.Errorf("emit %s: transport not connected", event)
	}

	return ch.PublishWithContext(ctx, exchangeFor(event), routingKey(event, t.params), false, false, amqp.Publishing{
		ContentType: "application/json",
		Timestamp:   time.Now().UTC(),
		Body:        body,
		Headers: amqp.Table{
			"x-tenant-id":   t.params.TenantID,
			"x-table":       int32(t.params.TableNumber),
			"x-session-id":  t.params.SessionID,
			"x-device-type": t.params.DeviceType,
		},
	})
}

func (t *Transport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil && !t.conn.IsClosed()
}

func (t *Transport) Offline() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.offline
}

// Disconnect fully releases the channel and connection. The exclusive
// queue dies with the consumer, so nothing from this binding can leak
// into a later one.
func (t *Transport) Disconnect() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	if t.ch != nil {
		_ = t.ch.Cancel(t.consumerTag, false)
		_ = t.ch.Close()
		t.ch = nil
	}
	if t.conn != nil {
		_ = t.conn.Close()
		t.conn = nil
	}
}
