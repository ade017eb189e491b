package model

import (
	"math"
	"time"
)

type Side string

const (
	Long  Side = "LONG"
	Short Side = "SHORT"
)

// Sign LONG为1，SHORT为-1
func (s Side) Sign() float64 {
	if s == Short {
		return -1
	}
	return 1
}

func (s Side) Opposite() Side {
	if s == Short {
		return Long
	}
	return Short
}

// OpenSide 开仓方向对应的下单方向
func (s Side) OpenSide() OrderSide {
	if s == Short {
		return Sell
	}
	return Buy
}

// CloseSide 平仓方向对应的下单方向
func (s Side) CloseSide() OrderSide {
	return s.OpenSide().Opposite()
}

// Position 单个资产的持仓
type Position struct {
	Asset            string    `json:"asset"`
	Side             Side      `json:"side"`
	Quantity         float64   `json:"quantity"`
	EntryPrice       float64   `json:"entryPrice"`
	Leverage         float64   `json:"leverage"`
	HighestPrice     float64   `json:"highestPrice"`
	LowestPrice      float64   `json:"lowestPrice"`
	TrailingStop     *float64  `json:"trailingStop"`
	TrailingActive   bool      `json:"trailingActive"`
	StopLoss         float64   `json:"stopLoss"`
	TakeProfit       float64   `json:"takeProfit"`
	TakeProfitHits   []int     `json:"takeProfitHits"`
	RankingTrimmed   bool      `json:"rankingTrimmed"`
	IndicatorTrimmed bool      `json:"indicatorTrimmed"`
	Adds             int       `json:"adds"`
	OrderID          string    `json:"orderId"`
	EntryTime        time.Time `json:"entryTime"`
}

// NewPosition 新开仓位，最高/最低价从入场价开始
func NewPosition(asset string, side Side, qty, entry, leverage float64, at time.Time) Position {
	return Position{
		Asset:        asset,
		Side:         side,
		Quantity:     qty,
		EntryPrice:   entry,
		Leverage:     leverage,
		HighestPrice: entry,
		LowestPrice:  entry,
		EntryTime:    at,
	}
}

// Clone 深拷贝
func (p Position) Clone() Position {
	if p.TrailingStop != nil {
		v := *p.TrailingStop
		p.TrailingStop = &v
	}
	if p.TakeProfitHits != nil {
		p.TakeProfitHits = append([]int(nil), p.TakeProfitHits...)
	}
	return p
}

// Observe 按最新价格更新最高/最低价，只会单调变化
func (p *Position) Observe(price float64) {
	if !isFinite(price) || price <= 0 {
		return
	}
	if p.HighestPrice == 0 || price > p.HighestPrice {
		p.HighestPrice = price
	}
	if p.LowestPrice == 0 || price < p.LowestPrice {
		p.LowestPrice = price
	}
}

// PnL 按价格计算的盈亏（未计杠杆，数量已包含杠杆后的名义）
func (p Position) PnL(price, qty float64) float64 {
	return (price - p.EntryPrice) * qty * p.Side.Sign()
}

// GainPct 有利方向的涨跌幅（百分比）
func (p Position) GainPct(price float64) float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	return (price - p.EntryPrice) / p.EntryPrice * 100 * p.Side.Sign()
}

func (p Position) HasTakeProfitHit(idx int) bool {
	for _, i := range p.TakeProfitHits {
		if i == idx {
			return true
		}
	}
	return false
}

// Notional 名义价值
func (p Position) Notional(price float64) float64 {
	return math.Abs(p.Quantity * price)
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
