package advisor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SweepTrader/internal/domain/models"
	"SweepTrader/internal/services/upstream"
	"SweepTrader/pkg/guard"
	xhttp "SweepTrader/pkg/http"
)

func newAdvisor(t *testing.T, handler http.HandlerFunc) *HTTPAdvisor {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	base := upstream.NewHTTPServiceBase("advisor", srv.URL, xhttp.NewClient(xhttp.WithTimeout(2*time.Second)), nil)
	return NewHTTPAdvisor(base)
}

func snapshot() models.TradeSnapshot {
	return models.TradeSnapshot{Symbol: "XAUUSD", Time: time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC)}
}

func TestHTTPAdvisor_Proceed(t *testing.T) {
	a := newAdvisor(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/decide", r.URL.Path)
		var got models.TradeSnapshot
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		assert.Equal(t, "XAUUSD", got.Symbol)
		_, _ = w.Write([]byte(`{"proceed":true,"rationale":"clean sweep"}`))
	})

	advice, err := a.Decide(context.Background(), snapshot())
	require.NoError(t, err)
	assert.True(t, advice.Proceed)
	assert.Equal(t, models.AdviceModel, advice.Source)
	assert.Equal(t, "clean sweep", advice.Rationale)
}

func TestHTTPAdvisor_DeclineToken(t *testing.T) {
	a := newAdvisor(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"rationale":"NO-TRADE: CPI in 20 minutes"}`))
	})

	advice, err := a.Decide(context.Background(), snapshot())
	require.NoError(t, err)
	assert.False(t, advice.Proceed)
}

func TestHTTPAdvisor_ProceedFalse(t *testing.T) {
	a := newAdvisor(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"proceed":false,"rationale":"structure unclear"}`))
	})

	advice, err := a.Decide(context.Background(), snapshot())
	require.NoError(t, err)
	assert.False(t, advice.Proceed)
}

func TestHTTPAdvisor_NoDecision(t *testing.T) {
	a := newAdvisor(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"rationale":"hmm"}`))
	})

	_, err := a.Decide(context.Background(), snapshot())
	assert.Error(t, err)
}

func TestFailOpen_Timeout(t *testing.T) {
	a := newAdvisor(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
		_, _ = w.Write([]byte(`{"proceed":false}`))
	})
	f := NewFailOpen(a, guard.New(guard.AdvisorPolicy(50*time.Millisecond)), nil)

	advice, err := f.Decide(context.Background(), snapshot())
	require.NoError(t, err)
	assert.True(t, advice.Proceed)
	assert.Equal(t, models.AdviceFailOpen, advice.Source)
}

func TestFailOpen_ServerError(t *testing.T) {
	a := newAdvisor(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	f := NewFailOpen(a, guard.New(guard.AdvisorPolicy(time.Second)), nil)

	advice, err := f.Decide(context.Background(), snapshot())
	require.NoError(t, err)
	assert.True(t, advice.Proceed)
}

func TestFailOpen_PassesDecline(t *testing.T) {
	a := newAdvisor(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"proceed":false,"rationale":"NO-TRADE"}`))
	})
	f := NewFailOpen(a, guard.New(guard.AdvisorPolicy(time.Second)), nil)

	advice, err := f.Decide(context.Background(), snapshot())
	require.NoError(t, err)
	assert.False(t, advice.Proceed)
	assert.Equal(t, models.AdviceModel, advice.Source)
}

func TestNoop(t *testing.T) {
	advice, err := Noop{}.Decide(context.Background(), snapshot())
	require.NoError(t, err)
	assert.True(t, advice.Proceed)
	assert.Equal(t, models.AdviceNoop, advice.Source)
}
