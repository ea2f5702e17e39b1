package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"SweepTrader/internal/domain/errs"
	"SweepTrader/internal/domain/models"
	drepo "SweepTrader/internal/domain/repository"
	"SweepTrader/internal/service/ratelimit"
	xhttp "SweepTrader/pkg/http"
	xlogger "SweepTrader/pkg/logger"
	"SweepTrader/pkg/util"
)

// Rate-limit keys for the mutating endpoints.
const (
	LimitEvaluate = "api:evaluate"
	LimitReset    = "api:reset"
)

// SessionEngine is the part of the engine the ops API drives.
type SessionEngine interface {
	Evaluate(ctx context.Context, symbol string) (models.StepResult, error)
	ForceReset(ctx context.Context, symbol string, target models.State, reason string) (models.StepResult, error)
}

type HealthChecker interface {
	Health(ctx context.Context) error
}

// SessionsEchoHandler serves session status, audit history, operator resets
// and one-shot evaluations.
type SessionsEchoHandler struct {
	logger  *xlogger.Logger
	engine  SessionEngine
	repo    drepo.SessionRepository
	health  HealthChecker
	limiter *ratelimit.Limiter
	now     func() time.Time
}

func NewSessionsEchoHandler(
	logger *xlogger.Logger,
	engine SessionEngine,
	repo drepo.SessionRepository,
	health HealthChecker,
	limiter *ratelimit.Limiter,
) *SessionsEchoHandler {
	if logger == nil {
		logger = xlogger.Nop()
	}
	return &SessionsEchoHandler{
		logger:  logger,
		engine:  engine,
		repo:    repo,
		health:  health,
		limiter: limiter,
		now:     time.Now,
	}
}

func (h *SessionsEchoHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)

	g := e.Group("/api")
	g.GET("/sessions/:symbol", h.Session)
	g.GET("/sessions/:symbol/audit", h.Audit)
	g.POST("/sessions/:symbol/reset", h.Reset)
	g.POST("/evaluate", h.Evaluate)
}

func (h *SessionsEchoHandler) Health(c echo.Context) error {
	if h.health != nil {
		if err := h.health.Health(c.Request().Context()); err != nil {
			h.logger.Warn("health check failed", xlogger.Error(err))
			return xhttp.DataResponse(c, http.StatusServiceUnavailable, map[string]string{
				"status": "degraded",
				"bridge": err.Error(),
			})
		}
	}
	return xhttp.SuccessResponse(c, map[string]string{"status": "ok"})
}

// Session returns the session with its latest sweep, signal and confluence result.
func (h *SessionsEchoHandler) Session(c echo.Context) error {
	req := &models.SessionRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	ctx := c.Request().Context()

	s, err := h.findSession(ctx, req.Symbol, req.Day)
	if err != nil {
		return h.fail(c, "session", err)
	}
	view := models.SessionView{Session: s}
	if view.Sweep, err = optional(h.repo.LatestSweep(ctx, s.ID)); err != nil {
		return h.fail(c, "session", err)
	}
	if view.Signal, err = optional(h.repo.LatestSignal(ctx, s.ID)); err != nil {
		return h.fail(c, "session", err)
	}
	if view.Confluence, err = optional(h.repo.LatestConfluence(ctx, s.ID)); err != nil {
		return h.fail(c, "session", err)
	}
	return xhttp.SuccessResponse(c, view)
}

func (h *SessionsEchoHandler) Audit(c echo.Context) error {
	req := &models.AuditListRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	ctx := c.Request().Context()

	s, err := h.findSession(ctx, req.Symbol, req.Day)
	if err != nil {
		return h.fail(c, "audit", err)
	}
	rows, err := h.repo.AuditTrail(ctx, s.ID, req.Limit)
	if err != nil {
		return h.fail(c, "audit", errs.Dependency("session store", err))
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

// Reset forces today's session to IDLE or COOLDOWN. It is rejected with 409
// while a tick holds the session lock.
func (h *SessionsEchoHandler) Reset(c echo.Context) error {
	req := &models.ResetRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if !h.allow(LimitReset) {
		return xhttp.AppErrorResponse(c, xhttp.TooManyRequestsError("too many resets, slow down"))
	}

	res, err := h.engine.ForceReset(c.Request().Context(), util.NormalizeSymbol(req.Symbol), req.Target, req.Reason)
	if err != nil {
		return h.fail(c, "reset", err)
	}
	h.logger.Info("operator reset",
		xlogger.String("symbol", res.Symbol),
		xlogger.String("from", string(res.From)),
		xlogger.String("to", string(res.To)),
		xlogger.String("reason", req.Reason),
		xlogger.String("remote", c.RealIP()),
	)
	return xhttp.SuccessResponse(c, res)
}

// Evaluate runs a single tick for the symbol.
func (h *SessionsEchoHandler) Evaluate(c echo.Context) error {
	req := &models.EvaluateRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if !h.allow(LimitEvaluate) {
		return xhttp.AppErrorResponse(c, xhttp.TooManyRequestsError("too many evaluations, slow down"))
	}

	res, err := h.engine.Evaluate(c.Request().Context(), util.NormalizeSymbol(req.Symbol))
	if err != nil {
		return h.fail(c, "evaluate", err)
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *SessionsEchoHandler) findSession(ctx context.Context, symbol, day string) (*models.Session, error) {
	d := util.TradingDay(h.now())
	if day != "" {
		parsed, err := time.Parse(time.DateOnly, day)
		if err != nil {
			return nil, errs.Validation("day", "%v", err)
		}
		d = parsed
	}
	symbol = util.NormalizeSymbol(symbol)
	s, err := h.repo.FindBySymbolDay(ctx, symbol, d)
	if errors.Is(err, errs.ErrNotFound) {
		return nil, xhttp.NotFoundErrorf("no session for %s on %s", symbol, d.Format(time.DateOnly))
	}
	if err != nil {
		return nil, errs.Dependency("session store", err)
	}
	return s, nil
}

func (h *SessionsEchoHandler) allow(key string) bool {
	return h.limiter == nil || h.limiter.Allow(key)
}

func (h *SessionsEchoHandler) fail(c echo.Context, op string, err error) error {
	appErr := toAppError(err)
	if appErr.Status >= http.StatusInternalServerError {
		h.logger.Error(op+" failed", xlogger.String("route", c.Path()), xlogger.Error(err))
	} else {
		h.logger.Debug(op+" rejected", xlogger.String("route", c.Path()), xlogger.Error(err))
	}
	return xhttp.AppErrorResponse(c, appErr)
}

// toAppError maps the engine's error taxonomy onto HTTP statuses.
func toAppError(err error) *xhttp.AppError {
	var (
		appErr *xhttp.AppError
		verr   *errs.ValidationError
	)
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, errs.ErrSessionBusy):
		return xhttp.ConflictError("ERR_SESSION_BUSY", "session is being evaluated, retry shortly")
	case errors.Is(err, errs.ErrInvalidTransition):
		return xhttp.ConflictError("ERR_INVALID_TRANSITION", err.Error())
	case errs.IsStateConsistency(err):
		return xhttp.ConflictError("ERR_STATE_CONSISTENCY", err.Error())
	case errors.Is(err, errs.ErrNotFound):
		return xhttp.NotFoundError(err.Error())
	case errors.As(err, &verr):
		return xhttp.BadRequestError(verr.Field, verr.Error())
	case errs.IsDependency(err):
		return xhttp.UnavailableError(err.Error()).WithError(err)
	default:
		return xhttp.InternalError("internal error").WithError(err)
	}
}

// optional turns ErrNotFound into a nil value.
func optional[T any](v *T, err error) (*T, error) {
	if errors.Is(err, errs.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Dependency("session store", err)
	}
	return v, nil
}
