package exchange

import (
	"context"
	"errors"
	"fmt"
	"time"

	"edgetrader/internal/model"
	"edgetrader/internal/signal"
)

var (
	// ErrUnknownOutcome 等待成交期间被取消，订单可能已成交，需要对账
	ErrUnknownOutcome = errors.New("order outcome unknown")
	// ErrPriceMoved 中间价偏离参考价过大，继续下单已无意义
	ErrPriceMoved = errors.New("price moved beyond allowed deviation")
	// ErrSlippageExhausted 滑点升到上限仍未成交
	ErrSlippageExhausted = errors.New("slippage cap reached without fill")
	// ErrOrderRejected 交易所拒绝（通常是该价格无流动性），可以提高滑点重试
	ErrOrderRejected = errors.New("order rejected")
	// ErrNonRetryable 保证金不足、数量非法等，重试无意义
	ErrNonRetryable = errors.New("non-retryable order error")
)

// Venue 交易所：下单、查单、撤单、价格与账户
type Venue interface {
	Mid(ctx context.Context, asset string) (float64, error)
	PlaceOrder(ctx context.Context, req model.OrderRequest) (model.OrderAck, error)
	OrderStatus(ctx context.Context, asset, orderID string) (model.OrderStatus, error)
	CancelOrder(ctx context.Context, asset, orderID string) error
	Account(ctx context.Context) (Account, error)
}

// VenuePosition 交易所侧的持仓
type VenuePosition struct {
	Asset      string     `json:"asset"`
	Side       model.Side `json:"side"`
	Quantity   float64    `json:"quantity"`
	EntryPrice float64    `json:"entryPrice"`
	Leverage   float64    `json:"leverage"`
}

// Account 交易所账户快照
type Account struct {
	Equity       float64         `json:"equity"`
	Withdrawable float64         `json:"withdrawable"`
	Positions    []VenuePosition `json:"positions"`
	Time         time.Time       `json:"time"`
}

// Intent 一次下单意图
type Intent struct {
	Asset      string          `json:"asset"`
	Side       model.OrderSide `json:"side"`
	Size       float64         `json:"size"`
	RefPrice   float64         `json:"refPrice"`
	ReduceOnly bool            `json:"reduceOnly"`
	Reason     string          `json:"reason"`
	ClientID   string          `json:"clientId,omitempty"`
}

func (i Intent) String() string {
	return fmt.Sprintf("%s %s %.6g @ %.6g (%s)", i.Side, i.Asset, i.Size, i.RefPrice, i.Reason)
}

// IntentFromSignal 由信号生成下单意图，size 由调用方按资金计算
func IntentFromSignal(sig signal.Signal, size, refPrice float64) (Intent, error) {
	dir := sig.Direction()
	if dir == 0 {
		return Intent{}, fmt.Errorf("signal %s on %s has no direction", sig.Action, sig.Asset)
	}
	side := model.Buy
	if dir < 0 {
		side = model.Sell
	}
	if refPrice <= 0 {
		refPrice = sig.Entry
	}
	return Intent{
		Asset:      sig.Asset,
		Side:       side,
		Size:       size,
		RefPrice:   refPrice,
		ReduceOnly: sig.Action == model.ActReduce || sig.Action == model.ActCloseAll,
		Reason:     string(sig.Action),
	}, nil
}

// IntentFromExit 平仓意图，数量按退出比例计算
func IntentFromExit(pos model.Position, c model.ExitCondition, refPrice float64) Intent {
	pct := c.ExitSize
	if pct > 100 {
		pct = 100
	}
	size := pos.Quantity * pct / 100
	if c.Full() {
		size = pos.Quantity
	}
	if refPrice <= 0 {
		refPrice = c.ExitPrice
	}
	return Intent{
		Asset:      pos.Asset,
		Side:       pos.Side.CloseSide(),
		Size:       size,
		RefPrice:   refPrice,
		ReduceOnly: true,
		Reason:     string(c.Reason),
	}
}

// Result 执行结果
type Result struct {
	Filled     bool                  `json:"filled"`
	FillPrice  float64               `json:"fillPrice"`
	FilledSize float64               `json:"filledSize"`
	OrderID    string                `json:"orderId"`
	Status     model.ExecutionStatus `json:"status"`
	Attempts   int                   `json:"attempts"`
	Slippage   float64               `json:"slippage"`
	Err        error                 `json:"-"`
}

// Error 便于写入报告
func (r Result) Error() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// Executor PAPER 与 LIVE 两种实现
type Executor interface {
	Execute(ctx context.Context, intent Intent) Result
	Mode() string
}
