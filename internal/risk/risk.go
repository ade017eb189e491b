package risk

import (
	"errors"
	"fmt"
	"time"

	"edgetrader/conf"
	"edgetrader/internal/model"
	"edgetrader/pkg/logger"
)

// ErrBreakerOpen 熔断打开时拒绝开仓
var ErrBreakerOpen = errors.New("circuit breaker open")

// Breaker 交易熔断：连续亏损或回撤超限时停止开仓，平仓不受影响
type Breaker struct {
	maxLosses   int
	maxDrawdown float64
}

func NewBreaker(cfg conf.BreakerConfig) *Breaker {
	return &Breaker{
		maxLosses:   cfg.MaxConsecutiveLosses,
		maxDrawdown: cfg.MaxDrawdownPct,
	}
}

// RecordTrade 记录一笔已实现盈亏，返回本次是否触发熔断
func (b *Breaker) RecordTrade(st *model.BreakerState, pnl float64, now time.Time) bool {
	switch {
	case pnl < 0:
		st.ConsecutiveLosses++
	case pnl > 0:
		st.ConsecutiveLosses = 0
	}
	if st.Open() || b.maxLosses <= 0 || st.ConsecutiveLosses < b.maxLosses {
		return false
	}
	b.trip(st, fmt.Sprintf("%d consecutive losing trades", st.ConsecutiveLosses), now)
	return true
}

// Check 按当前回撤检查，返回本次是否触发熔断
func (b *Breaker) Check(st *model.BreakerState, perf model.Performance, now time.Time) bool {
	if st.Open() || b.maxDrawdown <= 0 || perf.CurrentDrawdownPct < b.maxDrawdown {
		return false
	}
	b.trip(st, fmt.Sprintf("drawdown %.2f%% exceeds limit %.2f%%", perf.CurrentDrawdownPct, b.maxDrawdown), now)
	return true
}

func (b *Breaker) trip(st *model.BreakerState, reason string, now time.Time) {
	st.Status = model.BreakerOpen
	st.Reason = reason
	st.TrippedAt = now
	logger.Warn("circuit breaker tripped", logger.Pair("reason", reason))
}

// Allow 是否允许开仓
func (b *Breaker) Allow(st model.BreakerState) error {
	if st.Open() {
		return fmt.Errorf("%w: %s", ErrBreakerOpen, st.Reason)
	}
	return nil
}

// Reset 人工复位，清零连续亏损计数。回撤按 Performance.PeakEquity 计算，
// 调用方需同时重置峰值，否则下一次 Check 会立即再次熔断
func (b *Breaker) Reset(st *model.BreakerState) {
	if st.Open() {
		logger.Infof("circuit breaker reset (was: %s)", st.Reason)
	}
	*st = model.BreakerState{Status: model.BreakerClosed}
}
