package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"NeuralRoulette/internal/domain/models"
	"NeuralRoulette/internal/service/ratelimit"
	"NeuralRoulette/internal/strategy"
	"NeuralRoulette/internal/usecase"
	"NeuralRoulette/pkg/cache"
	xhttp "NeuralRoulette/pkg/http"
	"NeuralRoulette/pkg/logger"

	"github.com/labstack/echo/v4"
)

// SessionView is the read side of a running session.
type SessionView interface {
	Snapshot() usecase.Snapshot
	PredictNext(k int, withDistribution bool) (*usecase.Prediction, error)
	History(n int) []models.SpinEvent
	Report() *models.SessionReport
}

type PredictionRequest struct {
	K    int  `query:"k" validate:"min=0,max=37"`
	Dist bool `query:"dist"`
}

// HistoryRequest.N is pre-filled before binding so an explicit n=0 is
// rejected rather than replaced.
type HistoryRequest struct {
	N int `query:"n" validate:"min=1,max=1000"`
}

const defaultHistoryRows = 50

// SessionHandler serves the live session over Echo.
type SessionHandler struct {
	log      *logger.Logger
	session  SessionView
	cache    cache.Service
	cacheTTL time.Duration
	limiter  *ratelimit.Limiter
}

type HandlerOption func(*SessionHandler)

// WithPredictionCache caches prediction responses until the history or the
// model changes, or ttl passes.
func WithPredictionCache(c cache.Service, ttl time.Duration) HandlerOption {
	return func(h *SessionHandler) {
		h.cache = c
		h.cacheTTL = ttl
	}
}

func WithRateLimiter(l *ratelimit.Limiter) HandlerOption {
	return func(h *SessionHandler) { h.limiter = l }
}

func NewSessionHandler(log *logger.Logger, session SessionView, opts ...HandlerOption) *SessionHandler {
	if log == nil {
		log = logger.Nop()
	}
	h := &SessionHandler{log: log.With(logger.String("component", "api")), session: session, cacheTTL: 30 * time.Second}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *SessionHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)

	g := e.Group("/api")
	g.GET("/session", h.Session)
	g.GET("/session/report", h.SessionReport)
	g.GET("/history", h.History)
	g.GET("/strategies", h.Strategies)

	var mw []echo.MiddlewareFunc
	if h.limiter != nil {
		mw = append(mw, h.limiter.Middleware())
	}
	g.GET("/predictions/next", h.PredictNext, mw...)
}

// Health reports 503 once the session has failed.
func (h *SessionHandler) Health(c echo.Context) error {
	snap := h.session.Snapshot()
	body := map[string]interface{}{
		"session_id": snap.SessionID,
		"status":     snap.Status,
		"spins":      snap.Spins,
	}
	switch snap.Status {
	case models.StatusFeedError, models.StatusModelError:
		return xhttp.DataResponse(c, http.StatusServiceUnavailable, body)
	}
	return xhttp.SuccessResponse(c, body)
}

func (h *SessionHandler) Session(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.session.Snapshot())
}

func (h *SessionHandler) SessionReport(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.session.Report())
}

func (h *SessionHandler) Strategies(c echo.Context) error {
	list := strategy.Catalog()
	return xhttp.ListResponse(c, list, int64(len(list)))
}

func (h *SessionHandler) History(c echo.Context) error {
	req := &HistoryRequest{N: defaultHistoryRows}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	rows := h.session.History(req.N)
	if rows == nil {
		rows = []models.SpinEvent{}
	}
	return xhttp.ListResponse(c, rows, int64(h.session.Snapshot().Spins))
}

func (h *SessionHandler) PredictNext(c echo.Context) error {
	req := &PredictionRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	ctx := c.Request().Context()

	snap := h.session.Snapshot()
	key := cache.Key("prediction", snap.Engine.Strategy, snap.Spins, snap.Model.Steps, req.K, req.Dist)
	if p, ok := h.cached(ctx, key); ok {
		c.Response().Header().Set("X-Cache", "hit")
		return xhttp.SuccessResponse(c, p)
	}

	p, err := h.session.PredictNext(req.K, req.Dist)
	if err != nil {
		return xhttp.AppErrorResponse(c, predictionError(err))
	}
	if h.cache != nil {
		if err := h.cache.Set(ctx, key, p, h.cacheTTL); err != nil {
			h.log.Warn("prediction cache set failed", logger.String("key", key), logger.Error(err))
		}
	}
	c.Response().Header().Set("X-Cache", "miss")
	return xhttp.SuccessResponse(c, p)
}

func (h *SessionHandler) cached(ctx context.Context, key string) (*usecase.Prediction, bool) {
	if h.cache == nil {
		return nil, false
	}
	var p usecase.Prediction
	if err := h.cache.Get(ctx, key, &p); err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			h.log.Warn("prediction cache get failed", logger.String("key", key), logger.Error(err))
		}
		return nil, false
	}
	return &p, true
}

func predictionError(err error) error {
	switch {
	case errors.Is(err, models.ErrInsufficientHistory):
		return xhttp.ConflictError("not enough history to predict").WithError(err)
	case errors.Is(err, models.ErrModelNotInitialized):
		return xhttp.UnavailableError("model not ready").WithError(err)
	default:
		return xhttp.InternalErrorf("prediction failed").WithError(err)
	}
}
