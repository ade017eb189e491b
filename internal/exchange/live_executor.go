package exchange

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"edgetrader/conf"
	"edgetrader/internal/model"
	"edgetrader/pkg/logger"
	"edgetrader/pkg/retry"

	"github.com/google/uuid"
)

var errFillTimeout = errors.New("fill timeout")

// LiveExecutor 实盘下单：IOC限价单，未成交时撤单并逐步放大滑点
type LiveExecutor struct {
	venue  Venue
	cfg    conf.ExecutionConfig
	policy retry.Policy
}

func NewLiveExecutor(venue Venue, cfg conf.ExecutionConfig, policy retry.Policy) *LiveExecutor {
	return &LiveExecutor{venue: venue, cfg: cfg, policy: policy}
}

func (e *LiveExecutor) Mode() string { return conf.ModeLive }

// fills 多次尝试累计的成交
type fills struct {
	size     float64
	notional float64
}

func (f *fills) add(size, price float64) {
	if size <= 0 || price <= 0 {
		return
	}
	f.size += size
	f.notional += size * price
}

func (f *fills) avg() float64 {
	if f.size <= 0 {
		return 0
	}
	return f.notional / f.size
}

func (e *LiveExecutor) Execute(ctx context.Context, intent Intent) Result {
	if intent.Size <= 0 || intent.RefPrice <= 0 || math.IsNaN(intent.Size) || math.IsNaN(intent.RefPrice) {
		return Result{
			Status: model.ExecFailed,
			Err:    fmt.Errorf("%w: size %.6g price %.6g", ErrNonRetryable, intent.Size, intent.RefPrice),
		}
	}
	if intent.ClientID == "" {
		intent.ClientID = uuid.NewString()
	}

	var (
		got      fills
		res      Result
		slippage = e.cfg.SlippageStart
		maxTries = e.cfg.MaxRetries + 1
	)
	finish := func(status model.ExecutionStatus, err error) Result {
		res.FilledSize = got.size
		res.FillPrice = got.avg()
		res.Filled = got.size > 0
		res.Slippage = slippage
		res.Status = status
		res.Err = err
		return res
	}

	for {
		res.Attempts++
		remaining := intent.Size - got.size

		mid, err := retry.DoValue(ctx, e.policy, func(ctx context.Context) (float64, error) {
			return e.venue.Mid(ctx, intent.Asset)
		})
		if err != nil {
			return finish(partialStatus(got), fmt.Errorf("fetch mid for %s: %w", intent.Asset, err))
		}
		if dev := math.Abs(mid-intent.RefPrice) / intent.RefPrice; dev > e.cfg.MaxPriceDeviation {
			return finish(partialStatus(got), fmt.Errorf("%w: mid %.6g ref %.6g (%.2f%%)", ErrPriceMoved, mid, intent.RefPrice, dev*100))
		}

		req := model.OrderRequest{
			Asset:      intent.Asset,
			Side:       intent.Side,
			Size:       remaining,
			Price:      limitPrice(intent.Side, mid, slippage),
			OrderType:  model.Market,
			Tif:        model.Ioc,
			ReduceOnly: intent.ReduceOnly,
			ClientID:   intent.ClientID,
		}
		filled, err := e.attempt(ctx, req, &got, &res)
		switch {
		case filled:
			return finish(model.ExecFilled, nil)
		case errors.Is(err, ErrUnknownOutcome):
			return finish(model.ExecUnknownOutcome, err)
		case errors.Is(err, ErrNonRetryable):
			return finish(partialStatus(got), err)
		case errors.Is(err, errFillTimeout) && !e.cfg.RetryOnTimeout:
			return finish(partialStatus(got), fmt.Errorf("order %s: %w", res.OrderID, err))
		case err != nil && !errors.Is(err, ErrOrderRejected) && !errors.Is(err, errFillTimeout):
			return finish(partialStatus(got), err)
		}

		// 已经在上限上试过一次
		if slippage >= e.cfg.SlippageCap || res.Attempts >= maxTries {
			return finish(partialStatus(got), fmt.Errorf("%w: %d attempts, last slippage %.4f%%", ErrSlippageExhausted, res.Attempts, slippage*100))
		}
		prev := slippage
		slippage = e.escalate(slippage)
		logger.Warn("order not filled, escalating slippage",
			logger.Pair("asset", intent.Asset),
			logger.Pair("attempt", res.Attempts),
			logger.Pair("from", prev),
			logger.Pair("to", slippage),
			logger.Pair("err", err))
	}
}

// attempt 下单一次并等待结果，返回本次是否把剩余数量全部成交
func (e *LiveExecutor) attempt(ctx context.Context, req model.OrderRequest, got *fills, res *Result) (bool, error) {
	placePolicy := e.policy.WithRetryable(func(err error) bool {
		return !errors.Is(err, ErrNonRetryable)
	})
	ack, err := retry.DoValue(ctx, placePolicy, func(ctx context.Context) (model.OrderAck, error) {
		return e.venue.PlaceOrder(ctx, req)
	})
	if err != nil {
		if errors.Is(err, ErrNonRetryable) {
			return false, err
		}
		if ctx.Err() != nil {
			// 请求可能已经到达交易所
			return false, fmt.Errorf("%w: place %s canceled: %v", ErrUnknownOutcome, req.ClientID, err)
		}
		return false, fmt.Errorf("place order: %w", err)
	}
	if ack.OrderID != "" {
		res.OrderID = ack.OrderID
	}

	switch ack.State {
	case model.OrderFilled:
		size := nonZero(ack.FilledSz, req.Size)
		got.add(size, nonZero(ack.AvgPrice, req.Price))
		if size >= req.Size-epsilon(req.Size) {
			return true, nil
		}
		return false, fmt.Errorf("%w: partial fill %.6g of %.6g", ErrOrderRejected, size, req.Size)
	case model.OrderRejected:
		return false, fmt.Errorf("%w: %s", ErrOrderRejected, ack.RejectMsg)
	case model.OrderCanceled:
		// IOC 部分成交后剩余部分被撤
		got.add(ack.FilledSz, nonZero(ack.AvgPrice, req.Price))
		return false, fmt.Errorf("%w: ioc remainder canceled", ErrOrderRejected)
	}

	st, err := e.await(ctx, req.Asset, ack.OrderID)
	if errors.Is(err, ErrUnknownOutcome) {
		return false, err
	}
	if errors.Is(err, errFillTimeout) {
		if cerr := e.policy.Do(ctx, func(ctx context.Context) error {
			return e.venue.CancelOrder(ctx, req.Asset, ack.OrderID)
		}); cerr != nil {
			// 撤单失败时订单是否成交不可知
			return false, fmt.Errorf("%w: cancel order %s: %v", ErrUnknownOutcome, ack.OrderID, cerr)
		}
		if last, serr := e.venue.OrderStatus(ctx, req.Asset, ack.OrderID); serr == nil {
			st = last
		}
	}
	got.add(st.Filled, nonZero(st.AvgPrice, req.Price))
	if st.State == model.OrderFilled && st.Filled >= req.Size-epsilon(req.Size) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return false, fmt.Errorf("%w: order %s ended %s", ErrOrderRejected, ack.OrderID, st.State)
}

// await 轮询订单直到终态、超时或ctx结束
func (e *LiveExecutor) await(ctx context.Context, asset, orderID string) (model.OrderStatus, error) {
	deadline := time.NewTimer(e.cfg.FillTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	last := model.OrderStatus{OrderID: orderID, State: model.OrderOpen}
	for {
		select {
		case <-ctx.Done():
			return last, fmt.Errorf("%w: order %s: %v", ErrUnknownOutcome, orderID, ctx.Err())
		case <-deadline.C:
			return last, errFillTimeout
		case <-ticker.C:
			st, err := retry.DoValue(ctx, e.policy, func(ctx context.Context) (model.OrderStatus, error) {
				return e.venue.OrderStatus(ctx, asset, orderID)
			})
			if err != nil {
				if ctx.Err() != nil {
					return last, fmt.Errorf("%w: order %s: %v", ErrUnknownOutcome, orderID, ctx.Err())
				}
				logger.Warnf("poll order %s on %s: %v", orderID, asset, err)
				continue
			}
			last = st
			if st.State != model.OrderOpen && st.State != model.OrderUnknown {
				return st, nil
			}
		}
	}
}

func (e *LiveExecutor) escalate(cur float64) float64 {
	next := cur * e.cfg.SlippageFactor
	if e.cfg.Escalation == "linear" {
		next = cur + e.cfg.SlippageStep
	}
	if next <= cur {
		next = e.cfg.SlippageCap
	}
	return math.Min(next, e.cfg.SlippageCap)
}

// limitPrice 买入向上、卖出向下偏移
func limitPrice(side model.OrderSide, mid, slippage float64) float64 {
	if side == model.Buy {
		return mid * (1 + slippage)
	}
	return mid * (1 - slippage)
}

func partialStatus(f fills) model.ExecutionStatus {
	if f.size > 0 {
		return model.ExecFilled
	}
	return model.ExecFailed
}

func nonZero(v, fallback float64) float64 {
	if v > 0 {
		return v
	}
	return fallback
}

func epsilon(size float64) float64 {
	return size * 1e-9
}
