package cycle

import (
	"context"
	"errors"

	"edgetrader/internal/cycle"
	"edgetrader/internal/dao"
	"edgetrader/internal/model"
	"edgetrader/pkg/logger"
	"edgetrader/pkg/response"

	"github.com/gin-gonic/gin"
)

// Operator 周期管理器对外暴露的运维操作
type Operator interface {
	State() model.CycleState
	LastReport() cycle.Report
	ResetBreaker(ctx context.Context) (model.CycleState, error)
	Reconcile(ctx context.Context) (cycle.Diff, error)
}

type Handler struct {
	ops    Operator
	trades dao.TradeDao // 未配置数据库时为 nil
}

func NewHandler(ops Operator, trades dao.TradeDao) *Handler {
	return &Handler{ops: ops, trades: trades}
}

func (h *Handler) StateGet() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		response.JSON(ctx, nil, h.ops.State())
	}
}

func (h *Handler) ReportGet() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		rep := h.ops.LastReport()
		if rep.CycleID == "" {
			response.JSON(ctx, response.WithCode(response.NotFoundErr, "no cycle has run yet"), nil)
			return
		}
		response.JSON(ctx, nil, rep)
	}
}

func (h *Handler) TradesGetList() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if h.trades == nil {
			response.JSON(ctx, response.WithCode(response.Unavailable, "trade journal is not configured"), nil)
			return
		}
		var req model.TradeListReq
		if err := ctx.ShouldBindQuery(&req); err != nil {
			response.JSON(ctx, response.WithCode(response.ValidateErr, err.Error()), nil)
			return
		}
		var (
			list []model.TradeRecord
			err  error
		)
		if req.Asset != "" {
			list, err = h.trades.TradeListByAsset(ctx, req.Asset, req.Limit)
		} else {
			cycleID := req.CycleID
			if cycleID == "" {
				cycleID = h.ops.State().CycleID
			}
			list, err = h.trades.TradeListByCycle(ctx, cycleID, req.Limit)
		}
		if err != nil {
			logger.Errorf("list trades: %v", err)
			response.JSON(ctx, response.Wrap(err, response.Unknown, "接口调用失败"), nil)
			return
		}
		response.JSON(ctx, nil, list)
	}
}

func (h *Handler) BreakerReset() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		st, err := h.ops.ResetBreaker(ctx)
		if err != nil {
			response.JSON(ctx, opsErr(err), nil)
			return
		}
		logger.Infof("breaker reset by %s", ctx.ClientIP())
		response.JSON(ctx, nil, st.Breaker)
	}
}

func (h *Handler) ReconcileTrigger() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		diff, err := h.ops.Reconcile(ctx)
		if err != nil {
			response.JSON(ctx, opsErr(err), nil)
			return
		}
		response.JSON(ctx, nil, diff)
	}
}

func opsErr(err error) error {
	switch {
	case errors.Is(err, cycle.ErrNotInitialized), errors.Is(err, cycle.ErrNoAccount):
		return response.Wrap(err, response.Unavailable, "")
	}
	logger.Errorf("ops request failed: %v", err)
	return response.Wrap(err, response.Unknown, "")
}
