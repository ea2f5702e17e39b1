// Package upstream is the shared foundation of the engine's JSON HTTP
// adapters (broker bridge, advisor, calendar).
package upstream

import (
	"context"
	"fmt"
	"strings"

	"SweepTrader/internal/service/ratelimit"
	xhttp "SweepTrader/pkg/http"
)

// HTTPServiceBase centralizes base URL handling, outbound rate limiting and
// JSON request/response plumbing.
type HTTPServiceBase struct {
	name    string
	baseURL string
	client  *xhttp.Client
	limiter *ratelimit.Limiter
}

func NewHTTPServiceBase(name, baseURL string, client *xhttp.Client, limiter *ratelimit.Limiter) *HTTPServiceBase {
	return &HTTPServiceBase{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		limiter: limiter,
	}
}

func (b *HTTPServiceBase) Name() string { return b.name }

// URL resolves path against the base URL; absolute URLs pass through.
func (b *HTTPServiceBase) URL(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return b.baseURL + path
}

func (b *HTTPServiceBase) Do(ctx context.Context, method, path string, query map[string][]string, payload, dest interface{}) error {
	if b.client == nil || b.URL(path) == "" {
		return fmt.Errorf("%s http client not initialized", b.name)
	}
	if b.limiter != nil {
		if err := b.limiter.Wait(ctx, b.name); err != nil {
			return err
		}
	}
	err := b.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method:      method,
		URL:         b.URL(path),
		QueryParams: query,
		Body:        payload,
	}, dest)
	if err != nil {
		return fmt.Errorf("%s %s: %w", strings.ToLower(method), path, err)
	}
	return nil
}

// GetJSON issues a GET with query parameters and decodes the JSON reply.
func (b *HTTPServiceBase) GetJSON(ctx context.Context, path string, query map[string][]string, dest interface{}) error {
	return b.Do(ctx, xhttp.MethodGet, path, query, nil, dest)
}

// PostJSON posts payload as JSON and decodes the reply into dest.
func (b *HTTPServiceBase) PostJSON(ctx context.Context, path string, payload, dest interface{}) error {
	return b.Do(ctx, xhttp.MethodPost, path, nil, payload, dest)
}
