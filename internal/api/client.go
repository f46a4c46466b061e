// Package api is the typed client for the restaurant backend's HTTP
// contract. Failures are categorized so the UI can tell the guest what
// happened without parsing transport details.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"tableside/internal/domain"
)

// Error taxonomy surfaced to the decision/UI layer. The cart is never
// cleared on any of these, so resubmission needs no re-entry.
var (
	ErrNotFound    = errors.New("resource not found")
	ErrInvalidData = errors.New("invalid request data")
	ErrServer      = errors.New("server error")
	ErrOffline     = errors.New("backend unreachable")
)

type Config struct {
	BaseURL    string
	TenantID   string
	Timeout    time.Duration
	RetryCount int
}

type Client struct {
	http   *resty.Client
	logger *zap.Logger
}

func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(3 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetHeader("X-Tenant-ID", cfg.TenantID)
	return &Client{http: httpClient, logger: logger}
}

// categorize maps a resty outcome onto the error taxonomy.
func categorize(resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("%w: %v", ErrOffline, err)
	}
	switch {
	case resp.StatusCode() < 400:
		return nil
	case resp.StatusCode() == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode() < 500:
		return fmt.Errorf("%w: status %d", ErrInvalidData, resp.StatusCode())
	default:
		return fmt.Errorf("%w: status %d", ErrServer, resp.StatusCode())
	}
}

func (c *Client) CreateOrder(ctx context.Context, req domain.CreateOrderRequest) (*domain.Order, error) {
	var out domain.CreateOrderResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		Post("/orders")
	if err := categorize(resp, err); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	c.logger.Info("order created",
		zap.String("order_id", out.Order.ID),
		zap.String("order_number", out.Order.OrderNumber))
	return &out.Order, nil
}

func (c *Client) ListOrders(ctx context.Context, tableNumber int) ([]domain.Order, error) {
	var out []domain.Order
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("tableNumber", fmt.Sprintf("%d", tableNumber)).
		SetResult(&out).
		Get("/orders")
	if err := categorize(resp, err); err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return out, nil
}

func (c *Client) UpdateOrderStatus(ctx context.Context, orderID string, status domain.OrderStatus) (*domain.Order, error) {
	var out domain.Order
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(domain.UpdateStatusRequest{Status: status}).
		SetResult(&out).
		Patch("/orders/" + orderID + "/status")
	if err := categorize(resp, err); err != nil {
		return nil, fmt.Errorf("update order status: %w", err)
	}
	return &out, nil
}

func (c *Client) CreatePayment(ctx context.Context, req domain.PaymentRequest) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		Post("/payments")
	if err := categorize(resp, err); err != nil {
		return fmt.Errorf("create payment: %w", err)
	}
	return nil
}

// GetTableSession asks the backend which session currently holds the
// table. 404 means no remote session, which is not an error.
func (c *Client) GetTableSession(ctx context.Context, tableNumber int) (*domain.RemoteSession, error) {
	var out domain.RemoteSession
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get(fmt.Sprintf("/tables/%d/session", tableNumber))
	if err := categorize(resp, err); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get table session: %w", err)
	}
	return &out, nil
}
