// Package catalog implements the Catalog Fetcher (C3): paginated reads
// from the upstream e-commerce storefront plus the two-factor order
// resolver. The storefront HTTP API itself is an external
// collaborator; this package owns pagination, rate-limit backoff and
// concurrency capping.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/kart-io/assist-x/internal/model"
	"github.com/kart-io/assist-x/pkg/errors"
	"github.com/kart-io/assist-x/pkg/klog"
	"github.com/kart-io/assist-x/pkg/resilience"
)

// Page is one page of upstream records.
type Page struct {
	Items      []UpstreamRecord
	NextCursor string
}

// UpstreamRecord is the raw payload shape returned by the storefront
// before normalization.
type UpstreamRecord struct {
	ID        string
	UpdatedAt time.Time
	Payload   map[string]any
}

// Order is a resolved customer order.
type Order struct {
	OrderNumber string
	Email       string
	Status      string
	Items       []map[string]any
}

// Client is the C3 contract.
type Client interface {
	ListSince(ctx context.Context, kind model.Kind, cursor string) (Page, error)
	Get(ctx context.Context, kind model.Kind, id string) (*UpstreamRecord, error)
	ResolveOrder(ctx context.Context, orderNumber, customerEmail string) (*Order, error)
}

// DefaultConcurrency is the default cap on concurrent outbound requests.
const DefaultConcurrency = 8

// DefaultDeadline is the per-call timeout.
const DefaultDeadline = 15 * time.Second

// HTTPClient calls the upstream storefront's REST API.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	pool       *ants.Pool
	breaker    *resilience.CircuitBreaker
}

// Config configures the HTTP catalog client.
type Config struct {
	BaseURL     string
	APIKey      string
	Concurrency int
	Timeout     time.Duration
}

// New creates an HTTPClient with a bounded worker pool limiting
// concurrent outbound requests.
func New(cfg Config) (*HTTPClient, error) {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultDeadline
	}
	pool, err := ants.NewPool(cfg.Concurrency)
	if err != nil {
		return nil, fmt.Errorf("catalog: create worker pool: %w", err)
	}
	return &HTTPClient{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		pool:       pool,
		breaker:    resilience.NewCircuitBreaker("catalog", nil),
	}, nil
}

// Close releases the worker pool.
func (c *HTTPClient) Close() { c.pool.Release() }

// submit runs fn on the bounded pool, blocking the caller until a slot
// is free; this is what enforces the concurrency cap across callers.
func (c *HTTPClient) submit(fn func()) error {
	done := make(chan struct{})
	err := c.pool.Submit(func() {
		defer close(done)
		fn()
	})
	if err != nil {
		return err
	}
	<-done
	return nil
}

// ListSince lists a page of upstream records newer than cursor.
func (c *HTTPClient) ListSince(ctx context.Context, kind model.Kind, cursor string) (Page, error) {
	var page Page
	var callErr error

	submitErr := c.submit(func() {
		callErr = resilience.RetryWithCircuitBreaker(ctx, resilience.DefaultRetryConfig(), c.breaker, func() error {
			p, err := c.listSinceOnce(ctx, kind, cursor)
			if err != nil {
				return err
			}
			page = p
			return nil
		})
	})
	if submitErr != nil {
		return Page{}, errors.ErrOverload.WithCause(submitErr)
	}
	if callErr != nil {
		return Page{}, errors.ErrCatalogUpstream.WithCause(callErr)
	}
	return page, nil
}

func (c *HTTPClient) listSinceOnce(ctx context.Context, kind model.Kind, cursor string) (Page, error) {
	url := fmt.Sprintf("%s/%ss?cursor=%s", c.baseURL, kind, cursor)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Page{}, err
	}
	c.setAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Page{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		wait := parseRetryAfter(resp.Header.Get("Retry-After"))
		klog.Debugw("catalog rate limited", "retry_after", wait)
		time.Sleep(wait)
		return Page{}, fmt.Errorf("catalog rate limited")
	}
	if resp.StatusCode >= 400 {
		return Page{}, fmt.Errorf("catalog upstream status %d", resp.StatusCode)
	}

	var out struct {
		Items []struct {
			ID        string         `json:"id"`
			UpdatedAt time.Time      `json:"updated_at"`
			Payload   map[string]any `json:"payload"`
		} `json:"items"`
		NextCursor string `json:"next_cursor"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Page{}, err
	}

	page := Page{NextCursor: out.NextCursor}
	for _, it := range out.Items {
		page.Items = append(page.Items, UpstreamRecord{ID: it.ID, UpdatedAt: it.UpdatedAt, Payload: it.Payload})
	}
	return page, nil
}

// Get fetches a single record by id.
func (c *HTTPClient) Get(ctx context.Context, kind model.Kind, id string) (*UpstreamRecord, error) {
	var rec *UpstreamRecord
	var callErr error

	submitErr := c.submit(func() {
		callErr = resilience.RetryWithCircuitBreaker(ctx, resilience.DefaultRetryConfig(), c.breaker, func() error {
			r, err := c.getOnce(ctx, kind, id)
			if err != nil {
				return err
			}
			rec = r
			return nil
		})
	})
	if submitErr != nil {
		return nil, errors.ErrOverload.WithCause(submitErr)
	}
	if callErr != nil {
		return nil, errors.ErrCatalogUpstream.WithCause(callErr)
	}
	return rec, nil
}

func (c *HTTPClient) getOnce(ctx context.Context, kind model.Kind, id string) (*UpstreamRecord, error) {
	url := fmt.Sprintf("%s/%ss/%s", c.baseURL, kind, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	c.setAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("catalog upstream status %d", resp.StatusCode)
	}

	var rec UpstreamRecord
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// ResolveOrder requires both identifiers to match; mismatch is
// NotFound, never an error surfaced to the user.
func (c *HTTPClient) ResolveOrder(ctx context.Context, orderNumber, customerEmail string) (*Order, error) {
	orderNumber = strings.TrimSpace(orderNumber)
	customerEmail = strings.ToLower(strings.TrimSpace(customerEmail))
	if orderNumber == "" || customerEmail == "" {
		return nil, errors.ErrOrderMismatch
	}

	var order *Order
	var callErr error
	submitErr := c.submit(func() {
		callErr = resilience.RetryWithCircuitBreaker(ctx, resilience.DefaultRetryConfig(), c.breaker, func() error {
			o, err := c.resolveOrderOnce(ctx, orderNumber, customerEmail)
			if err != nil {
				return err
			}
			order = o
			return nil
		})
	})
	if submitErr != nil {
		return nil, errors.ErrOverload.WithCause(submitErr)
	}
	if callErr != nil {
		return nil, errors.ErrCatalogUpstream.WithCause(callErr)
	}
	if order == nil {
		return nil, errors.ErrOrderMismatch
	}
	return order, nil
}

func (c *HTTPClient) resolveOrderOnce(ctx context.Context, orderNumber, customerEmail string) (*Order, error) {
	url := fmt.Sprintf("%s/orders/%s", c.baseURL, orderNumber)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	c.setAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("catalog upstream status %d", resp.StatusCode)
	}

	var out struct {
		OrderNumber string           `json:"order_number"`
		Email       string           `json:"email"`
		Status      string           `json:"status"`
		Items       []map[string]any `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}

	// Email matching is case-insensitive with surrounding whitespace
	// trimmed.
	if strings.ToLower(strings.TrimSpace(out.Email)) != customerEmail {
		return nil, nil
	}

	return &Order{OrderNumber: out.OrderNumber, Email: out.Email, Status: out.Status, Items: out.Items}, nil
}

func (c *HTTPClient) setAuth(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 2 * time.Second
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return 2 * time.Second
}
