package api

import (
	"context"
	"errors"
	"strings"

	models "EventArb/internal/domain/models"
	domrepo "EventArb/internal/domain/repository"
	"EventArb/internal/usecase"
	xhttp "EventArb/pkg/http"
	xlogger "EventArb/pkg/logger"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
)

type RiskService interface {
	State(ctx context.Context) usecase.RiskView
	TripBreaker(ctx context.Context, reason string) (bool, error)
	ClearEmergencyStop(ctx context.Context) error
}

type TriggerLister interface {
	Triggers() []models.ScheduledTrigger
}

type TradeCloser interface {
	Close(ctx context.Context, tradeID string, exit decimal.Decimal) (*models.TradeClose, error)
}

// OpsEchoHandler serves the operator endpoints: daily state, the emergency
// stop, live triggers, execution stats and manual trade closes.
type OpsEchoHandler struct {
	logger    *xlogger.Logger
	risk      RiskService
	scheduler TriggerLister
	stats     *usecase.ExecutionStats
	trades    TradeCloser
}

func NewOpsEchoHandler(logger *xlogger.Logger, risk RiskService, scheduler TriggerLister, stats *usecase.ExecutionStats, trades TradeCloser) *OpsEchoHandler {
	if logger == nil {
		logger = xlogger.Nop()
	}
	return &OpsEchoHandler{logger: logger, risk: risk, scheduler: scheduler, stats: stats, trades: trades}
}

func (h *OpsEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.GET("/state", h.State)
	g.POST("/state/emergency-stop", h.TripEmergencyStop)
	g.DELETE("/state/emergency-stop", h.ClearEmergencyStop)
	g.GET("/triggers", h.Triggers)
	g.GET("/executions/stats", h.ExecutionStats)
	g.POST("/trades/:id/close", h.CloseTrade)
}

func (h *OpsEchoHandler) State(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.risk.State(c.Request().Context()))
}

func (h *OpsEchoHandler) TripEmergencyStop(c echo.Context) error {
	req := &models.EmergencyStopRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	changed, err := h.risk.TripBreaker(c.Request().Context(), req.Reason)
	if err != nil {
		h.logger.Error("emergency stop failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.UnavailableError("daily state unavailable").WithError(err))
	}
	return xhttp.SuccessResponse(c, map[string]bool{"changed": changed})
}

func (h *OpsEchoHandler) ClearEmergencyStop(c echo.Context) error {
	if err := h.risk.ClearEmergencyStop(c.Request().Context()); err != nil {
		h.logger.Error("emergency stop reset failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.UnavailableError("daily state unavailable").WithError(err))
	}
	return xhttp.SuccessResponse(c, h.risk.State(c.Request().Context()))
}

func (h *OpsEchoHandler) Triggers(c echo.Context) error {
	trs := h.scheduler.Triggers()
	return xhttp.ListResponse(c, trs, int64(len(trs)))
}

func (h *OpsEchoHandler) ExecutionStats(c echo.Context) error {
	req := &models.StatsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if req.Symbol == "" {
		all := h.stats.All()
		return xhttp.ListResponse(c, all, int64(len(all)))
	}
	st, ok := h.stats.For(strings.ToUpper(req.Symbol))
	if !ok {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("no executions for %s", strings.ToUpper(req.Symbol)))
	}
	return xhttp.SuccessResponse(c, st)
}

func (h *OpsEchoHandler) CloseTrade(c echo.Context) error {
	req := &models.CloseTradeRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	exit, err := decimal.NewFromString(req.ExitPrice)
	if err != nil {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError("exit_price", "exit_price must be a decimal"))
	}

	closed, err := h.trades.Close(c.Request().Context(), req.ID, exit)
	switch {
	case err == nil:
		return xhttp.SuccessResponse(c, closed)
	case errors.Is(err, domrepo.ErrTradeNotFound):
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("trade %s not found", req.ID))
	case errors.Is(err, usecase.ErrAlreadyClosed):
		return xhttp.AppErrorResponse(c, xhttp.ConflictErrorf("trade %s already closed", req.ID))
	case errors.Is(err, usecase.ErrInvalidPrice):
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError("exit_price", "exit_price must be positive"))
	case closed != nil:
		// close persisted, daily state update failed
		h.logger.Error("trade closed without daily state update", xlogger.String("trade_id", req.ID), xlogger.Error(err))
		return xhttp.SuccessResponse(c, closed)
	default:
		h.logger.Error("close trade failed", xlogger.String("trade_id", req.ID), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
}
