package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/geocoder89/barterhub/internal/config"
	"github.com/geocoder89/barterhub/internal/domain/trade"
	"github.com/geocoder89/barterhub/internal/http/middlewares"
	"github.com/gin-gonic/gin"
)

type TradeService interface {
	Propose(ctx context.Context, proposerID string, req trade.ProposeRequest) (trade.Trade, error)
	ListForUser(ctx context.Context, userID string) ([]trade.View, error)
	Accept(ctx context.Context, tradeID, actorID string) (trade.Trade, error)
	Reject(ctx context.Context, tradeID, actorID string) (trade.Trade, error)
}

type TradesHandler struct {
	trades TradeService
}

func NewTradesHandler(trades TradeService) *TradesHandler {
	return &TradesHandler{trades: trades}
}

// POST /trades/propose
func (h *TradesHandler) Propose(ctx *gin.Context) {
	var req trade.ProposeRequest
	if !BindJSON(ctx, &req) {
		return
	}

	proposerID, _ := middlewares.UserIDFromContext(ctx)

	cctx, cancel := config.WithTimeoutFrom(ctx.Request.Context(), 3*time.Second)
	defer cancel()

	t, err := h.trades.Propose(cctx, proposerID, req)
	if err != nil {
		RespondDomainError(ctx, err, "Failed to propose trade")
		return
	}

	ctx.JSON(http.StatusCreated, gin.H{
		"message": "Trade proposed successfully",
		"trade":   t,
	})
}

// GET /trades/my-trades
func (h *TradesHandler) MyTrades(ctx *gin.Context) {
	userID, _ := middlewares.UserIDFromContext(ctx)

	cctx, cancel := config.WithTimeoutFrom(ctx.Request.Context(), 3*time.Second)
	defer cancel()

	views, err := h.trades.ListForUser(cctx, userID)
	if err != nil {
		RespondDomainError(ctx, err, "Failed to fetch trades")
		return
	}

	ctx.JSON(http.StatusOK, views)
}

// PUT /trades/:id/accept
func (h *TradesHandler) Accept(ctx *gin.Context) {
	actorID, _ := middlewares.UserIDFromContext(ctx)

	cctx, cancel := config.WithTimeoutFrom(ctx.Request.Context(), 5*time.Second)
	defer cancel()

	t, err := h.trades.Accept(cctx, ctx.Param("id"), actorID)
	if err != nil {
		RespondDomainError(ctx, err, "Failed to accept trade")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"message": "Trade accepted successfully",
		"trade":   t,
	})
}

// PUT /trades/:id/reject
func (h *TradesHandler) Reject(ctx *gin.Context) {
	actorID, _ := middlewares.UserIDFromContext(ctx)

	cctx, cancel := config.WithTimeoutFrom(ctx.Request.Context(), 3*time.Second)
	defer cancel()

	t, err := h.trades.Reject(cctx, ctx.Param("id"), actorID)
	if err != nil {
		RespondDomainError(ctx, err, "Failed to reject trade")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"message": "Trade rejected successfully",
		"trade":   t,
	})
}
