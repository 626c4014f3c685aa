// Package lookup is the synchronous request/reply boundary to the product
// catalog and user services. Neither is part of the saga.
package lookup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

var ErrUnavailable = errors.New("lookup: upstream unavailable")

type Product struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Price  float64 `json:"price"`
	Exists bool    `json:"-"`
}

type Config struct {
	ProductURL string
	UserURL    string
	Timeout    time.Duration
	CacheSize  int
	CacheTTL   time.Duration
}

// Client looks products and users up by id. An empty base URL disables that
// lookup: every id is reported as existing.
type Client struct {
	http       *http.Client
	productURL string
	userURL    string
	products   *expirable.LRU[string, Product]
}

func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 512
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	return &Client{
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		productURL: strings.TrimRight(cfg.ProductURL, "/"),
		userURL:    strings.TrimRight(cfg.UserURL, "/"),
		products:   expirable.NewLRU[string, Product](cfg.CacheSize, nil, cfg.CacheTTL),
	}
}

// Enabled reports whether any lookup is configured.
func (c *Client) Enabled() bool { return c.productURL != "" || c.userURL != "" }

// ValidateProduct returns the product, with Exists false on a 404. Only
// existing products are cached.
func (c *Client) ValidateProduct(ctx context.Context, productID string) (Product, error) {
	if c.productURL == "" {
		return Product{ID: productID, Exists: true}, nil
	}
	if p, ok := c.products.Get(productID); ok {
		return p, nil
	}

	var p Product
	found, err := c.get(ctx, c.productURL, productID, &p)
	if err != nil || !found {
		return Product{ID: productID}, err
	}
	if p.ID == "" {
		p.ID = productID
	}
	p.Exists = true
	c.products.Add(productID, p)
	return p, nil
}

func (c *Client) ValidateUser(ctx context.Context, userID string) (bool, error) {
	if c.userURL == "" {
		return true, nil
	}
	return c.get(ctx, c.userURL, userID, nil)
}

func (c *Client) get(ctx context.Context, base, id string, into any) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/"+url.PathEscape(id), nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode >= 300:
		return false, fmt.Errorf("%w: %s returned %d", ErrUnavailable, req.URL, resp.StatusCode)
	}
	if into != nil {
		if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
			return false, fmt.Errorf("lookup: decode %s: %w", req.URL, err)
		}
	}
	return true, nil
}
