// Package priceoracle resolves the base-token USD price AnalyticsEngine
// needs for liquidity-in-USD and trade-value calculations (spec.md §4.11,
// Open Question §9(d)). The endpoint and fallback value are configuration
// inputs; concrete defaults are explicitly out of scope per spec.md §6.
package priceoracle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// PriceProvider resolves the current base-token USD price.
type PriceProvider interface {
	BaseTokenUSD(ctx context.Context) (float64, error)
}

// StaticPriceProvider always returns a fixed, configured value. Used both
// standalone (no oracle configured) and as the fallback wrapped provider
// beneath HTTPPriceProvider.
type StaticPriceProvider struct {
	Value float64
}

func (p StaticPriceProvider) BaseTokenUSD(ctx context.Context) (float64, error) {
	return p.Value, nil
}

// HTTPPriceProvider fetches the base-token USD price from a configured
// HTTP JSON endpoint with a 60s in-memory cache (spec.md §4.11/§6:
// "HTTP GET to a price API with 60s cache and a fixed fallback").
type HTTPPriceProvider struct {
	URL        string
	JSONPath   string // dot-path into the response, e.g. "price" or "data.usd"
	HTTPClient *http.Client

	mu        sync.Mutex
	cached    float64
	cachedAt  time.Time
	cacheTTL  time.Duration
}

// NewHTTPPriceProvider builds a provider polling url, extracting jsonPath
// from the decoded JSON response.
func NewHTTPPriceProvider(url, jsonPath string) *HTTPPriceProvider {
	return &HTTPPriceProvider{
		URL:        url,
		JSONPath:   jsonPath,
		HTTPClient: &http.Client{Timeout: 5 * time.Second},
		cacheTTL:   60 * time.Second,
	}
}

// BaseTokenUSD returns the cached price if fresh, otherwise fetches url
// and re-caches.
func (p *HTTPPriceProvider) BaseTokenUSD(ctx context.Context) (float64, error) {
	p.mu.Lock()
	if time.Since(p.cachedAt) < p.cacheTTL && p.cachedAt.After(time.Time{}) {
		v := p.cached
		p.mu.Unlock()
		return v, nil
	}
	p.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return 0, fmt.Errorf("priceoracle: build request: %w", err)
	}
	resp, err := p.HTTPClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("priceoracle: fetch %s: %w", p.URL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("priceoracle: %s returned status %d", p.URL, resp.StatusCode)
	}

	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("priceoracle: decode response: %w", err)
	}
	v, err := extractPath(body, p.JSONPath)
	if err != nil {
		return 0, err
	}

	p.mu.Lock()
	p.cached = v
	p.cachedAt = time.Now()
	p.mu.Unlock()
	return v, nil
}

func extractPath(body map[string]interface{}, path string) (float64, error) {
	cur := interface{}(body)
	for _, key := range splitPath(path) {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return 0, fmt.Errorf("priceoracle: path %q does not resolve against response", path)
		}
		cur, ok = m[key]
		if !ok {
			return 0, fmt.Errorf("priceoracle: key %q not found in response", key)
		}
	}
	switch v := cur.(type) {
	case float64:
		return v, nil
	default:
		return 0, fmt.Errorf("priceoracle: value at %q is not numeric", path)
	}
}

func splitPath(path string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(path); i++ {
		if path[i] == '.' {
			parts = append(parts, path[start:i])
			start = i + 1
		}
	}
	parts = append(parts, path[start:])
	return parts
}

// FallbackProvider wraps a primary provider with a static fallback used
// when the primary errors, matching spec.md §4.11's "if unavailable,
// fallback to a cached or configured value".
type FallbackProvider struct {
	Primary  PriceProvider
	Fallback PriceProvider
}

func (p FallbackProvider) BaseTokenUSD(ctx context.Context) (float64, error) {
	v, err := p.Primary.BaseTokenUSD(ctx)
	if err == nil {
		return v, nil
	}
	return p.Fallback.BaseTokenUSD(ctx)
}
