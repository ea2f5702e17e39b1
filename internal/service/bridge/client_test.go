package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SweepTrader/internal/domain/errs"
	"SweepTrader/internal/domain/models"
	drepo "SweepTrader/internal/domain/repository"
	"SweepTrader/internal/services/upstream"
	"SweepTrader/pkg/guard"
	xhttp "SweepTrader/pkg/http"
)

func noSleep(context.Context, time.Duration) error { return nil }

func newClient(t *testing.T, mux *http.ServeMux, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	base := upstream.NewHTTPServiceBase("broker", srv.URL, xhttp.NewClient(xhttp.WithHeader("X-API-Key", "k")), nil)
	return NewClient(base, guard.New(guard.OrderPolicy(), guard.WithSleep(noSleep)), opts...)
}

func TestClient_Bars(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/bars", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "XAUUSD", r.URL.Query().Get("symbol"))
		assert.Equal(t, "M5", r.URL.Query().Get("timeframe"))
		assert.Equal(t, "k", r.Header.Get("X-API-Key"))
		_, _ = w.Write([]byte(`{"bars":[{"time":"2024-03-05T07:00:00Z","open":2100,"high":2105,"low":2098,"close":2103}]}`))
	})
	c := newClient(t, mux)

	now := time.Date(2024, 3, 5, 8, 0, 0, 0, time.UTC)
	bars, err := c.Bars(context.Background(), "XAUUSD", drepo.TFM5, now.Add(-time.Hour), now)
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, 2105.0, bars[0].High)

	_, err = c.Bars(context.Background(), "XAUUSD", drepo.Timeframe("W1"), now, now)
	assert.True(t, errs.IsValidation(err))
}

func TestClient_PlaceOrderRetries(t *testing.T) {
	var calls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/orders", func(w http.ResponseWriter, r *http.Request) {
		var req models.OrderRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, models.SideSell, req.Side)
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"success":true,"order_id":"77","price":2101.5}`))
	})
	c := newClient(t, mux)

	res, err := c.PlaceOrder(context.Background(), models.OrderRequest{Symbol: "XAUUSD", Side: models.SideSell, Volume: 0.1})
	require.NoError(t, err)
	assert.Equal(t, "77", res.BrokerOrderID)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestClient_PlaceOrderGivesUp(t *testing.T) {
	var calls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/orders", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = w.Write([]byte(`{"success":false,"error":"requote"}`))
	})
	c := newClient(t, mux)

	res, err := c.PlaceOrder(context.Background(), models.OrderRequest{Symbol: "XAUUSD", Side: models.SideBuy, Volume: 0.1})
	require.Error(t, err)
	assert.True(t, errs.IsDependency(err))
	assert.False(t, res.Success)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestClient_PlaceOrderClientErrorNotRetried(t *testing.T) {
	var calls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/orders", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	})
	c := newClient(t, mux)

	_, err := c.PlaceOrder(context.Background(), models.OrderRequest{Symbol: "XAUUSD"})
	require.Error(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestClient_PositionAndStop(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/positions/77", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPatch {
			var body map[string]float64
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, 2101.5, body["sl"])
			_, _ = w.Write([]byte(`{}`))
			return
		}
		_, _ = w.Write([]byte(`{"open":false,"exit_price":2090,"exit_time":"2024-03-05T10:00:00Z","profit":-50}`))
	})
	c := newClient(t, mux)

	p, err := c.Position(context.Background(), "77")
	require.NoError(t, err)
	assert.Equal(t, "77", p.BrokerOrderID)
	assert.False(t, p.Open)
	require.NotNil(t, p.Profit)
	assert.Equal(t, -50.0, *p.Profit)

	require.NoError(t, c.ModifyStop(context.Background(), "77", 2101.5))
}

func TestClient_QuotePrefersFreshStream(t *testing.T) {
	var restCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/quote", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&restCalls, 1)
		_, _ = w.Write([]byte(`{"bid":2000,"ask":2000.3,"time":"2024-03-05T08:00:00Z"}`))
	})

	now := time.Date(2024, 3, 5, 8, 0, 0, 0, time.UTC)
	s := NewStream("ws://unused", "", []string{"XAUUSD"}, time.Second, 0, nil)
	s.now = func() time.Time { return now }
	s.store(quoteMessage{Type: "quote", Symbol: "XAUUSD", Bid: 2001, Ask: 2001.2, T: now.Add(-2 * time.Second).UnixMilli()})

	c := newClient(t, mux, WithStream(s, 5*time.Second))

	q, err := c.Quote(context.Background(), "XAUUSD")
	require.NoError(t, err)
	assert.Equal(t, 2001.0, q.Bid)
	assert.EqualValues(t, 0, atomic.LoadInt32(&restCalls))

	now = now.Add(10 * time.Second)
	q, err = c.Quote(context.Background(), "XAUUSD")
	require.NoError(t, err)
	assert.Equal(t, 2000.0, q.Bid)
	assert.Equal(t, "XAUUSD", q.Symbol)
	assert.EqualValues(t, 1, atomic.LoadInt32(&restCalls))
}

func TestStream_ReceivesQuotes(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.URL.Query().Get("token"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if !assert.NoError(t, err) {
			return
		}
		defer conn.Close()

		var sub subscribeMessage
		assert.NoError(t, conn.ReadJSON(&sub))
		assert.Equal(t, []string{"XAUUSD"}, sub.Symbols)

		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"heartbeat"}`))
		_ = conn.WriteJSON(quoteMessage{Type: "quote", Symbol: "XAUUSD", Bid: 2300.1, Ask: 2300.4})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	s := NewStream(wsURL, "secret", []string{"XAUUSD"}, 10*time.Millisecond, time.Second, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = s.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		_, ok := s.Latest("XAUUSD", time.Minute)
		return ok
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, s.IsConnected())

	q, _ := s.Latest("xauusd", time.Minute)
	assert.Equal(t, 2300.1, q.Bid)

	cancel()
	<-done
}
