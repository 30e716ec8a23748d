package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
)

const (
	defaultHTTPTimeout   = 10 * time.Second
	defaultCacheTTL      = time.Hour
	defaultCacheSize     = 256
	maxResponseBodyBytes = 4 << 20
	userAgent            = "tileboard/1.0"
)

// HTTPConfig configures the shared HTTP client
type HTTPConfig struct {
	Timeout   time.Duration
	CacheTTL  time.Duration
	CacheSize int
}

// HTTPClient is the one network client of the process. It is created by the
// composition root and handed to every network provider.
type HTTPClient struct {
	logger *zap.Logger
	client *http.Client
	cache  *expirable.LRU[string, []byte]
}

// NewHTTPClient creates the shared client with its response cache
func NewHTTPClient(cfg HTTPConfig, logger *zap.Logger) *HTTPClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultHTTPTimeout
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultCacheTTL
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = defaultCacheSize
	}
	return &HTTPClient{
		logger: logger.Named("http"),
		client: &http.Client{Timeout: cfg.Timeout},
		cache:  expirable.NewLRU[string, []byte](cfg.CacheSize, nil, cfg.CacheTTL),
	}
}

// RequestOption customises a single request
type RequestOption func(*request)

type request struct {
	headers map[string]string
	cached  bool
}

// WithHeader sets a request header
func WithHeader(key, value string) RequestOption {
	return func(r *request) {
		r.headers[key] = value
	}
}

// Cached serves the response from the response cache while it is fresh
func Cached() RequestOption {
	return func(r *request) {
		r.cached = true
	}
}

// GetJSON performs a GET request and decodes the JSON response into out
func (c *HTTPClient) GetJSON(ctx context.Context, endpoint string, query url.Values, out any, opts ...RequestOption) error {
	req := &request{headers: map[string]string{"Accept": "application/json", "User-Agent": userAgent}}
	for _, opt := range opts {
		opt(req)
	}

	target := endpoint
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	if req.cached {
		if body, ok := c.cache.Get(target); ok {
			c.logger.Debug("Serving cached response", zap.String("url", endpoint))
			return decodeJSON(body, out)
		}
	}

	body, err := c.get(ctx, target, req.headers)
	if err != nil {
		return err
	}
	if err := decodeJSON(body, out); err != nil {
		return err
	}
	if req.cached {
		c.cache.Add(target, body)
	}
	return nil
}

func (c *HTTPClient) get(ctx context.Context, target string, headers map[string]string) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for key, value := range headers {
		httpReq.Header.Set(key, value)
	}

	c.logger.Debug("Executing HTTP request", zap.String("url", httpReq.URL.Host+httpReq.URL.Path))

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP request failed with status: %d", resp.StatusCode)
	}
	return body, nil
}

func decodeJSON(body []byte, out any) error {
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Close drops idle connections and the response cache
func (c *HTTPClient) Close() {
	c.client.CloseIdleConnections()
	c.cache.Purge()
}
