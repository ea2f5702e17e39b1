// Package bridge talks to the broker terminal bridge: REST for bars, account
// and orders, and an optional websocket stream for live quotes.
package bridge

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"SweepTrader/internal/domain/errs"
	"SweepTrader/internal/domain/models"
	drepo "SweepTrader/internal/domain/repository"
	"SweepTrader/internal/services/upstream"
	"SweepTrader/pkg/guard"
	xhttp "SweepTrader/pkg/http"
	"SweepTrader/pkg/logger"
)

const dependencyName = "broker"

// Client implements MarketDataGateway over the bridge REST API.
type Client struct {
	*upstream.HTTPServiceBase
	orders      *guard.Guard
	stream      *Stream
	quoteMaxAge time.Duration
	log         *logger.Logger
}

type Option func(*Client)

// WithStream serves quotes from the websocket cache while they are fresh.
func WithStream(s *Stream, maxAge time.Duration) Option {
	return func(c *Client) {
		c.stream = s
		c.quoteMaxAge = maxAge
	}
}

func WithLogger(l *logger.Logger) Option {
	return func(c *Client) { c.log = l }
}

func NewClient(base *upstream.HTTPServiceBase, orders *guard.Guard, opts ...Option) *Client {
	c := &Client{HTTPServiceBase: base, orders: orders, log: logger.Nop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type barsResponse struct {
	Bars models.Bars `json:"bars"`
}

func (c *Client) Bars(ctx context.Context, symbol string, tf drepo.Timeframe, from, to time.Time) (models.Bars, error) {
	if !drepo.IsValidTimeframe(tf) {
		return nil, errs.Validation("timeframe", "unsupported timeframe %q", tf)
	}
	var resp barsResponse
	err := c.GetJSON(ctx, "/bars", url.Values{
		"symbol":    {symbol},
		"timeframe": {string(tf)},
		"from":      {from.UTC().Format(time.RFC3339)},
		"to":        {to.UTC().Format(time.RFC3339)},
	}, &resp)
	if err != nil {
		return nil, errs.Dependency(dependencyName, err)
	}
	return resp.Bars, nil
}

func (c *Client) Quote(ctx context.Context, symbol string) (models.Quote, error) {
	if c.stream != nil {
		if q, ok := c.stream.Latest(symbol, c.quoteMaxAge); ok {
			return q, nil
		}
	}

	var q models.Quote
	if err := c.GetJSON(ctx, "/quote", url.Values{"symbol": {symbol}}, &q); err != nil {
		return models.Quote{}, errs.Dependency(dependencyName, err)
	}
	if q.Symbol == "" {
		q.Symbol = symbol
	}
	return q, nil
}

func (c *Client) Account(ctx context.Context) (models.Account, error) {
	var a models.Account
	if err := c.GetJSON(ctx, "/account", nil, &a); err != nil {
		return models.Account{}, errs.Dependency(dependencyName, err)
	}
	return a, nil
}

// PlaceOrder retries transport failures, 5xx replies and broker rejections
// under the order policy. 4xx replies are not retried.
func (c *Client) PlaceOrder(ctx context.Context, req models.OrderRequest) (models.OrderResult, error) {
	res, err := guard.Call(ctx, c.orders, func(ctx context.Context) (models.OrderResult, error) {
		var res models.OrderResult
		if err := c.PostJSON(ctx, "/orders", req, &res); err != nil {
			if xhttp.IsClientError(err) {
				return res, guard.Permanent(err)
			}
			return res, err
		}
		if !res.Success {
			return res, fmt.Errorf("order rejected: %s", res.Error)
		}
		return res, nil
	})
	if err != nil {
		return models.OrderResult{Success: false, Error: err.Error()}, errs.Dependency(dependencyName, err)
	}
	c.log.Info("order placed",
		logger.String("symbol", req.Symbol),
		logger.String("side", string(req.Side)),
		logger.Float64("volume", req.Volume),
		logger.String("order_id", res.BrokerOrderID),
	)
	return res, nil
}

func (c *Client) Position(ctx context.Context, brokerOrderID string) (models.Position, error) {
	var p models.Position
	if err := c.GetJSON(ctx, "/positions/"+url.PathEscape(brokerOrderID), nil, &p); err != nil {
		return models.Position{}, errs.Dependency(dependencyName, err)
	}
	if p.BrokerOrderID == "" {
		p.BrokerOrderID = brokerOrderID
	}
	return p, nil
}

func (c *Client) ModifyStop(ctx context.Context, brokerOrderID string, stop float64) error {
	body := map[string]float64{"sl": stop}
	if err := c.Do(ctx, xhttp.MethodPatch, "/positions/"+url.PathEscape(brokerOrderID), nil, body, nil); err != nil {
		return errs.Dependency(dependencyName, err)
	}
	return nil
}

func (c *Client) Health(ctx context.Context) error {
	if err := c.GetJSON(ctx, "/health", nil, nil); err != nil {
		return errs.Dependency(dependencyName, err)
	}
	if c.stream != nil && !c.stream.IsConnected() {
		c.log.Warn("quote stream disconnected, falling back to REST quotes")
	}
	return nil
}

// OrderBreakerState exposes the order circuit state for health reporting.
func (c *Client) OrderBreakerState() string { return c.orders.State() }
