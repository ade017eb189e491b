package indicator

import (
	"context"
	"fmt"
	"math"
	"time"

	"edgetrader/internal/model"

	"github.com/markcheno/go-talib"
)

// CandleSource K线数据来源
type CandleSource interface {
	Candles(ctx context.Context, asset, interval string, limit int) ([]model.Kline, error)
}

// ExternalSource 资金费率、盘口等外部数据来源
type ExternalSource interface {
	External(ctx context.Context, asset string) (ExternalData, error)
}

// 多周期趋势使用的周期
var DefaultTimeframes = []string{"1h", "4h", "1d"}

type Builder struct {
	candles    CandleSource
	external   ExternalSource
	interval   string
	lookback   int
	timeframes []string
}

func NewBuilder(candles CandleSource, external ExternalSource, interval string, lookback int) *Builder {
	if lookback < 50 {
		lookback = 50
	}
	return &Builder{
		candles:    candles,
		external:   external,
		interval:   interval,
		lookback:   lookback,
		timeframes: DefaultTimeframes,
	}
}

// Build 拉取K线并计算一份完整快照
func (b *Builder) Build(ctx context.Context, asset string) (*Snapshot, error) {
	klines, err := b.candles.Candles(ctx, asset, b.interval, b.lookback)
	if err != nil {
		return nil, fmt.Errorf("candles %s %s: %w", asset, b.interval, err)
	}
	snap := FromKlines(asset, klines)

	snap.Timeframes = make(map[string]*Snapshot, len(b.timeframes))
	for _, tf := range b.timeframes {
		if tf == b.interval {
			snap.Timeframes[tf] = FromKlines(asset, klines)
			continue
		}
		tfKlines, err := b.candles.Candles(ctx, asset, tf, b.lookback)
		if err != nil {
			// 某个周期缺失只影响趋势一致性，不影响主快照
			continue
		}
		snap.Timeframes[tf] = FromKlines(asset, tfKlines)
	}

	if b.external != nil {
		if ext, err := b.external.External(ctx, asset); err == nil {
			snap.External = ext
		}
	}
	snap.CapturedAt = time.Now()
	return snap, nil
}

// FromKlines 用talib计算最新一根K线上的指标，数据不足的指标保持缺失
func FromKlines(asset string, klines []model.Kline) *Snapshot {
	s := Empty(asset)
	n := len(klines)
	if n == 0 {
		return s
	}

	highs := make([]float64, n)
	lows := make([]float64, n)
	closes := make([]float64, n)
	vols := make([]float64, n)
	for i, k := range klines {
		highs[i] = k.High
		lows[i] = k.Low
		closes[i] = k.Close
		vols[i] = k.Vol
	}

	s.Price = closes[n-1]
	if n >= 2 && closes[n-2] != 0 {
		s.PriceChangePct = (closes[n-1] - closes[n-2]) / closes[n-2] * 100
	}
	s.CapturedAt = klines[n-1].Timestamp

	if n > 14 {
		s.RSI = last(talib.Rsi(closes, 14))
		s.ATR = last(talib.Atr(highs, lows, closes, 14))
		s.WilliamsR = last(talib.WillR(highs, lows, closes, 14))
		s.MFI = last(talib.Mfi(highs, lows, closes, vols, 14))
	}
	if n >= 35 {
		line, signal, hist := talib.Macd(closes, 12, 26, 9)
		s.MACD = MACD{Line: last(line), Signal: last(signal), Histogram: last(hist)}
	}
	if n >= 20 {
		upper, middle, lower := talib.BBands(closes, 20, 2, 2, talib.SMA)
		s.Bollinger = Bands{Upper: last(upper), Middle: last(middle), Lower: last(lower)}
		s.EMA20 = last(talib.Ema(closes, 20))
		s.CCI = last(talib.Cci(highs, lows, closes, 20))
		k, d := talib.Stoch(highs, lows, closes, 14, 3, talib.SMA, 3, talib.SMA)
		s.Stoch = Stoch{K: last(k), D: last(d)}
	}
	if n >= 50 {
		s.EMA50 = last(talib.Ema(closes, 50))
	}
	if n >= 200 {
		s.EMA200 = last(talib.Ema(closes, 200))
	}
	if n >= 2*14+1 {
		s.ADX = last(talib.Adx(highs, lows, closes, 14))
		s.PlusDI = last(talib.PlusDI(highs, lows, closes, 14))
		s.MinusDI = last(talib.MinusDI(highs, lows, closes, 14))
	}
	if n > 10 {
		obv := talib.Obv(closes, vols)
		s.OBVSlope = slope(obv, 10)
	}
	if n > 20 {
		s.VolumeChangePct = volumeChange(vols, 20)
	}
	if n >= 40 {
		s.Structure = swingStructure(highs, lows, 20)
	}
	return s
}

func last(vals []float64) float64 {
	if len(vals) == 0 {
		return math.NaN()
	}
	v := vals[len(vals)-1]
	if !Has(v) {
		return math.NaN()
	}
	return v
}

// slope OBV最近window根的归一化斜率
func slope(vals []float64, window int) float64 {
	n := len(vals)
	if n <= window {
		return math.NaN()
	}
	prev := vals[n-1-window]
	diff := vals[n-1] - prev
	base := math.Abs(prev)
	if base == 0 {
		if diff == 0 {
			return 0
		}
		return math.Copysign(1, diff)
	}
	return diff / base
}

// volumeChange 最新成交量相对前window根均量的变化百分比
func volumeChange(vols []float64, window int) float64 {
	n := len(vols)
	if n <= window {
		return math.NaN()
	}
	sum := 0.0
	for _, v := range vols[n-1-window : n-1] {
		sum += v
	}
	avg := sum / float64(window)
	if avg == 0 {
		return math.NaN()
	}
	return (vols[n-1] - avg) / avg * 100
}

// swingStructure 比较最近两个窗口的高低点
func swingStructure(highs, lows []float64, window int) Structure {
	n := len(highs)
	if n < 2*window {
		return StructureUnknown
	}
	recentHigh, prevHigh := maxOf(highs[n-window:]), maxOf(highs[n-2*window:n-window])
	recentLow, prevLow := minOf(lows[n-window:]), minOf(lows[n-2*window:n-window])
	switch {
	case recentHigh > prevHigh && recentLow > prevLow:
		return StructureBullish
	case recentHigh < prevHigh && recentLow < prevLow:
		return StructureBearish
	}
	return StructureNeutral
}

func maxOf(vals []float64) float64 {
	m := math.Inf(-1)
	for _, v := range vals {
		if v > m {
			m = v
		}
	}
	return m
}

func minOf(vals []float64) float64 {
	m := math.Inf(1)
	for _, v := range vals {
		if v < m {
			m = v
		}
	}
	return m
}
