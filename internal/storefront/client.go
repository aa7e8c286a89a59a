package storefront

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"finitefield.org/fashion-storefront/internal/platform/requestctx"
	"finitefield.org/fashion-storefront/internal/shape"
)

const (
	defaultTimeout    = 8 * time.Second
	idempotencyHeader = "Idempotency-Key"
	maxErrorBody      = 512
)

// Client talks to the storefront API. When constructed without a base URL it serves demo data
// from an in-process catalogue instead.
type Client struct {
	baseURL  string
	http     *http.Client
	logger   *zap.Logger
	products singleflight.Group
	fake     *fakeBackend
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client. The caller owns its transport and timeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTimeout overrides the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient constructs an API client. When baseURL is empty, the client serves mock data.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http: &http.Client{
			Timeout:   defaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.baseURL == "" {
		c.fake = newFakeBackend()
	}
	return c
}

// Demo reports whether the client serves the built-in demo catalogue.
func (c *Client) Demo() bool {
	return c.fake != nil
}

// FetchCart returns the raw cart response of the caller.
func (c *Client) FetchCart(ctx context.Context) (any, error) {
	if c.fake != nil {
		return c.fake.cart(), nil
	}
	return c.do(ctx, http.MethodGet, "/users/cart", nil, "")
}

// GetProduct fetches product detail. Concurrent lookups for the same id by the same caller share
// one request.
func (c *Client) GetProduct(ctx context.Context, id string) (Product, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Product{}, &APIError{Method: http.MethodGet, Path: "/products/", Status: http.StatusNotFound, Message: "product not found"}
	}
	if c.fake != nil {
		return c.fake.product(id)
	}

	// Shared per caller token and detached from the caller's cancellation; the client timeout
	// bounds the request.
	key := id
	if token := requestctx.BearerToken(ctx); token != "" {
		key = token + "\x00" + id
	}
	fetchCtx := context.WithoutCancel(ctx)
	ch := c.products.DoChan(key, func() (any, error) {
		raw, err := c.do(fetchCtx, http.MethodGet, "/products/"+url.PathEscape(id), nil, "")
		if err != nil {
			return Product{}, err
		}
		product, ok := ParseProduct(raw)
		if !ok {
			return Product{}, &APIError{Method: http.MethodGet, Path: "/products/" + id, Status: http.StatusNotFound, Message: "product not found"}
		}
		return product, nil
	})

	select {
	case <-ctx.Done():
		return Product{}, ctx.Err()
	case res := <-ch:
		if res.Shared {
			c.logger.Debug("product lookup shared", zap.String("product_id", id))
		}
		if res.Err != nil {
			return Product{}, res.Err
		}
		return res.Val.(Product), nil
	}
}

// CreateOrder submits an order payload and returns the raw creation response.
func (c *Client) CreateOrder(ctx context.Context, payload any, idempotencyKey string) (any, error) {
	if c.fake != nil {
		return c.fake.createOrder(payload)
	}
	return c.do(ctx, http.MethodPost, "/orders", payload, idempotencyKey)
}

// GetOrder fetches a single order by id.
func (c *Client) GetOrder(ctx context.Context, id string) (any, error) {
	id = strings.TrimSpace(id)
	if c.fake != nil {
		return c.fake.order(id)
	}
	return c.do(ctx, http.MethodGet, "/orders/"+url.PathEscape(id), nil, "")
}

// Delete issues a DELETE against path, used for cart clearing.
func (c *Client) Delete(ctx context.Context, path string) error {
	if c.fake != nil {
		return c.fake.delete(path)
	}
	_, err := c.do(ctx, http.MethodDelete, path, nil, "")
	return err
}

func (c *Client) do(ctx context.Context, method, path string, body any, idempotencyKey string) (any, error) {
	endpoint, err := url.JoinPath(c.baseURL, path)
	if err != nil {
		return nil, fmt.Errorf("storefront: build url for %s: %w", path, err)
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("storefront: encode %s body: %w", path, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := requestctx.BearerToken(ctx); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if key := strings.TrimSpace(idempotencyKey); key != "" {
		req.Header.Set(idempotencyHeader, key)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("storefront request failed",
			zap.String("method", method), zap.String("path", path), zap.Error(err))
		return nil, &APIError{Method: method, Path: path, Err: err}
	}
	defer resp.Body.Close()

	c.logger.Debug("storefront request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)),
	)

	if resp.StatusCode >= 400 {
		return nil, &APIError{
			Method:  method,
			Path:    path,
			Status:  resp.StatusCode,
			Message: drainError(resp.Body),
		}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, &APIError{Method: method, Path: path, Status: resp.StatusCode, Err: err}
	}
	doc, err := shape.Decode(data)
	if err != nil {
		return nil, &APIError{Method: method, Path: path, Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return doc, nil
}

// drainError extracts a short message from an error response body, preferring JSON message
// fields over the raw text.
func drainError(r io.Reader) string {
	if r == nil {
		return ""
	}
	b, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if doc, err := shape.Decode(b); err == nil {
		if rec, ok := shape.AsRecord(doc); ok {
			if msg := shape.FirstString(rec, shape.Field("message"), shape.Field("error", "message"), shape.Field("error")); msg != "" {
				return msg
			}
		}
	}
	return strings.TrimSpace(string(b))
}
