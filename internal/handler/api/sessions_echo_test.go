package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SweepTrader/internal/domain/errs"
	"SweepTrader/internal/domain/models"
	"SweepTrader/internal/repository"
	"SweepTrader/internal/service/ratelimit"
)

var today = time.Date(2025, 3, 4, 0, 0, 0, 0, time.UTC)

type fakeEngine struct {
	evaluated []string
	resets    []models.ResetRequest
	res       models.StepResult
	err       error
}

func (f *fakeEngine) Evaluate(_ context.Context, symbol string) (models.StepResult, error) {
	f.evaluated = append(f.evaluated, symbol)
	return f.res, f.err
}

func (f *fakeEngine) ForceReset(_ context.Context, symbol string, target models.State, reason string) (models.StepResult, error) {
	f.resets = append(f.resets, models.ResetRequest{Symbol: symbol, Target: target, Reason: reason})
	return f.res, f.err
}

type healthFunc func(context.Context) error

func (f healthFunc) Health(ctx context.Context) error { return f(ctx) }

type envelope struct {
	Status int             `json:"status"`
	Data   json.RawMessage `json:"data"`
}

func setup(t *testing.T, engine *fakeEngine, health HealthChecker, limiter *ratelimit.Limiter) (*echo.Echo, *repository.MemorySessionRepository) {
	t.Helper()
	repo := repository.NewMemorySessionRepository()
	h := NewSessionsEchoHandler(nil, engine, repo, health, limiter)
	h.now = func() time.Time { return today.Add(9 * time.Hour) }
	e := echo.New()
	h.RegisterRoutes(e)
	return e, repo
}

func do(t *testing.T, e *echo.Echo, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec, env
}

func seed(t *testing.T, repo *repository.MemorySessionRepository) *models.Session {
	t.Helper()
	s := &models.Session{ID: "s-1", Symbol: "XAUUSD", Day: today, State: models.StateIdle, Version: 1}
	require.NoError(t, repo.Create(context.Background(), s, models.AuditRecord{
		ID: "a-1", SessionID: "s-1", Kind: models.AuditCreated, ToState: models.StateIdle, Reason: "session created", Timestamp: today.Add(6 * time.Hour),
	}))
	sweep := &models.Sweep{ID: "sw-1", SessionID: "s-1", Direction: models.DirectionUp, Price: 2011.5}
	next := s.Clone()
	next.State = models.StateSwept
	next.Version = 2
	require.NoError(t, repo.Commit(context.Background(), models.Transition{
		From: models.StateIdle, Version: 1, Session: next, Sweep: sweep,
		Audit: models.AuditRecord{ID: "a-2", SessionID: "s-1", Kind: models.AuditTransition, FromState: models.StateIdle, ToState: models.StateSwept, Timestamp: today.Add(9 * time.Hour)},
	}))
	return next
}

func TestSession(t *testing.T) {
	e, repo := setup(t, &fakeEngine{}, nil, nil)
	seed(t, repo)

	rec, env := do(t, e, http.MethodGet, "/api/sessions/xauusd", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var view models.SessionView
	require.NoError(t, json.Unmarshal(env.Data, &view))
	assert.Equal(t, models.StateSwept, view.Session.State)
	require.NotNil(t, view.Sweep)
	assert.Equal(t, "sw-1", view.Sweep.ID)
	assert.Nil(t, view.Signal)
	assert.Nil(t, view.Confluence)
}

func TestSession_NotFound(t *testing.T) {
	e, _ := setup(t, &fakeEngine{}, nil, nil)

	rec, _ := do(t, e, http.MethodGet, "/api/sessions/XAUUSD?day=2025-03-03", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "no session for XAUUSD on 2025-03-03")
}

func TestSession_InvalidInput(t *testing.T) {
	e, _ := setup(t, &fakeEngine{}, nil, nil)

	rec, _ := do(t, e, http.MethodGet, "/api/sessions/XAUUSD?day=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "ERR_DATETIME")

	rec, _ = do(t, e, http.MethodGet, "/api/sessions/XA", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "ERR_MIN")
}

func TestAudit(t *testing.T) {
	e, repo := setup(t, &fakeEngine{}, nil, nil)
	seed(t, repo)

	rec, env := do(t, e, http.MethodGet, "/api/sessions/XAUUSD/audit?limit=1", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Rows  []models.AuditRecord `json:"rows"`
		Total int64                `json:"total"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list.Rows, 1)
	assert.Equal(t, "a-2", list.Rows[0].ID)
	assert.Equal(t, int64(1), list.Total)

	rec, _ = do(t, e, http.MethodGet, "/api/sessions/XAUUSD/audit?limit=5000", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReset(t *testing.T) {
	engine := &fakeEngine{res: models.StepResult{Symbol: "XAUUSD", From: models.StateSwept, To: models.StateIdle, Transitioned: true}}
	e, _ := setup(t, engine, nil, nil)

	rec, env := do(t, e, http.MethodPost, "/api/sessions/xauusd/reset", `{"reason":"stale feed"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, engine.resets, 1)
	assert.Equal(t, models.ResetRequest{Symbol: "XAUUSD", Target: models.StateIdle, Reason: "stale feed"}, engine.resets[0])
	var res models.StepResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, models.StateIdle, res.To)
}

func TestReset_Validation(t *testing.T) {
	engine := &fakeEngine{}
	e, _ := setup(t, engine, nil, nil)

	rec, _ := do(t, e, http.MethodPost, "/api/sessions/XAUUSD/reset", `{"target":"ARMED","reason":"force it"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "ERR_ONEOF")

	rec, _ = do(t, e, http.MethodPost, "/api/sessions/XAUUSD/reset", `{"target":"COOLDOWN"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "reason is required")
	assert.Empty(t, engine.resets)
}

func TestReset_Busy(t *testing.T) {
	e, _ := setup(t, &fakeEngine{err: errs.ErrSessionBusy}, nil, nil)

	rec, _ := do(t, e, http.MethodPost, "/api/sessions/XAUUSD/reset", `{"reason":"manual"}`)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "ERR_SESSION_BUSY")
}

func TestEvaluate(t *testing.T) {
	engine := &fakeEngine{res: models.StepResult{Symbol: "XAUUSD", Stage: "detect", From: models.StateIdle, To: models.StateIdle, Reason: "no sweep"}}
	e, _ := setup(t, engine, nil, nil)

	rec, env := do(t, e, http.MethodPost, "/api/evaluate", `{"symbol":"XAUUSD"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"XAUUSD"}, engine.evaluated)
	var res models.StepResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, "no sweep", res.Reason)
}

func TestEvaluate_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"dependency", errs.Dependency("broker bridge", errors.New("connection refused")), http.StatusServiceUnavailable},
		{"validation", errs.Validation("quote", "bid=0 ask=0"), http.StatusBadRequest},
		{"state", &errs.StateConsistencyError{SessionID: "s-1", Expected: "SWEPT@v2", Actual: "IDLE@v3"}, http.StatusConflict},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _ := setup(t, &fakeEngine{err: tt.err}, nil, nil)
			rec, _ := do(t, e, http.MethodPost, "/api/evaluate", `{"symbol":"XAUUSD"}`)
			assert.Equal(t, tt.code, rec.Code)
		})
	}
}

func TestEvaluate_RateLimited(t *testing.T) {
	limiter := ratelimit.New()
	limiter.Configure(LimitEvaluate, 1, 1)
	engine := &fakeEngine{}
	e, _ := setup(t, engine, nil, limiter)

	rec, _ := do(t, e, http.MethodPost, "/api/evaluate", `{"symbol":"XAUUSD"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, _ = do(t, e, http.MethodPost, "/api/evaluate", `{"symbol":"XAUUSD"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Len(t, engine.evaluated, 1)
}

func TestHealth(t *testing.T) {
	e, _ := setup(t, &fakeEngine{}, healthFunc(func(context.Context) error { return nil }), nil)
	rec, _ := do(t, e, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	e, _ = setup(t, &fakeEngine{}, healthFunc(func(context.Context) error { return errors.New("bridge down") }), nil)
	rec, env := do(t, e, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, string(env.Data), "bridge down")
}
