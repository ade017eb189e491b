package quality

import (
	"edgetrader/internal/indicator"
)

type Family string

const (
	FamilyMomentum   Family = "momentum"
	FamilyTrend      Family = "trend"
	FamilyVolume     Family = "volume"
	FamilyVolatility Family = "volatility"
	FamilyStructure  Family = "structure"
	FamilySentiment  Family = "sentiment"
)

// 冗余分组：同组内同方向只保留权重最高的一票
const (
	GroupOscillators = "oscillator_extremes"
	GroupMovingAvg   = "moving_average_trend"
	GroupFlow        = "flow"
)

// inputs 单次评估的全部输入
type inputs struct {
	snap  *indicator.Snapshot
	trend indicator.TrendAlignment
	ext   indicator.ExternalData
}

// Rule 一条投票规则。Vote 只返回看多(1)/看空(-1)，买卖两个方向共用同一条规则
type Rule struct {
	Name   string
	Family Family
	Group  string
	Weight float64
	// Vote 返回方向、用于描述的数值、是否有数据
	Vote func(in inputs) (dir int, value float64, ok bool)
	// 看多/看空时的描述模板，%.4g 为数值
	Bullish string
	Bearish string
}

func has(vals ...float64) bool {
	for _, v := range vals {
		if !indicator.Has(v) {
			return false
		}
	}
	return true
}

func sign(v float64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

// 资金费率阈值（每小时）
const fundingExtreme = 0.0001

// DefaultRules 规则表，权重体现各类指标的历史可靠性
func DefaultRules() []Rule {
	return []Rule{
		{
			Name: "trend_alignment", Family: FamilyTrend, Weight: 3.0,
			Vote: func(in inputs) (int, float64, bool) {
				if in.trend.Timeframes == 0 {
					return 0, 0, false
				}
				if !in.trend.Aligned {
					return 0, float64(in.trend.Timeframes), true
				}
				return in.trend.Direction, float64(in.trend.Timeframes), true
			},
			Bullish: "%.0f timeframes aligned bullish",
			Bearish: "%.0f timeframes aligned bearish",
		},
		{
			Name: "market_structure", Family: FamilyStructure, Weight: 2.5,
			Vote: func(in inputs) (int, float64, bool) {
				switch in.snap.Structure {
				case indicator.StructureBullish:
					return 1, 0, true
				case indicator.StructureBearish:
					return -1, 0, true
				case indicator.StructureNeutral:
					return 0, 0, true
				}
				return 0, 0, false
			},
			Bullish: "market structure making higher highs and higher lows",
			Bearish: "market structure making lower highs and lower lows",
		},
		{
			Name: "ema_stack", Family: FamilyTrend, Group: GroupMovingAvg, Weight: 2.0,
			Vote: func(in inputs) (int, float64, bool) {
				s := in.snap
				if !has(s.EMA20, s.EMA50) {
					return 0, 0, false
				}
				if has(s.EMA200) {
					if s.EMA20 > s.EMA50 && s.EMA50 > s.EMA200 {
						return 1, s.EMA20, true
					}
					if s.EMA20 < s.EMA50 && s.EMA50 < s.EMA200 {
						return -1, s.EMA20, true
					}
					return 0, s.EMA20, true
				}
				return sign(s.EMA20 - s.EMA50), s.EMA20, true
			},
			Bullish: "EMA stack bullish (EMA20 %.4g above slower averages)",
			Bearish: "EMA stack bearish (EMA20 %.4g below slower averages)",
		},
		{
			Name: "price_vs_ema200", Family: FamilyTrend, Group: GroupMovingAvg, Weight: 1.2,
			Vote: func(in inputs) (int, float64, bool) {
				s := in.snap
				if !has(s.Price, s.EMA200) {
					return 0, 0, false
				}
				return sign(s.Price - s.EMA200), s.EMA200, true
			},
			Bullish: "price above EMA200 %.4g",
			Bearish: "price below EMA200 %.4g",
		},
		{
			Name: "macd", Family: FamilyMomentum, Weight: 1.5,
			Vote: func(in inputs) (int, float64, bool) {
				m := in.snap.MACD
				if !has(m.Histogram) {
					if has(m.Line, m.Signal) {
						return sign(m.Line - m.Signal), m.Line - m.Signal, true
					}
					return 0, 0, false
				}
				if has(m.Line, m.Signal) && sign(m.Line-m.Signal) != sign(m.Histogram) {
					return 0, m.Histogram, true
				}
				return sign(m.Histogram), m.Histogram, true
			},
			Bullish: "MACD histogram positive (%.4g)",
			Bearish: "MACD histogram negative (%.4g)",
		},
		{
			Name: "adx_di", Family: FamilyTrend, Weight: 1.5,
			Vote: func(in inputs) (int, float64, bool) {
				s := in.snap
				if !has(s.ADX, s.PlusDI, s.MinusDI) {
					return 0, 0, false
				}
				if s.ADX < 25 {
					return 0, s.ADX, true
				}
				return sign(s.PlusDI - s.MinusDI), s.ADX, true
			},
			Bullish: "ADX %.4g trending with +DI leading",
			Bearish: "ADX %.4g trending with -DI leading",
		},
		{
			Name: "rsi", Family: FamilyMomentum, Group: GroupOscillators, Weight: 1.0,
			Vote: func(in inputs) (int, float64, bool) {
				v := in.snap.RSI
				if !has(v) {
					return 0, 0, false
				}
				switch {
				case v <= 30:
					return 1, v, true
				case v >= 70:
					return -1, v, true
				}
				return 0, v, true
			},
			Bullish: "RSI %.4g oversold",
			Bearish: "RSI %.4g overbought",
		},
		{
			Name: "stochastic", Family: FamilyMomentum, Group: GroupOscillators, Weight: 0.8,
			Vote: func(in inputs) (int, float64, bool) {
				k := in.snap.Stoch.K
				if !has(k) {
					return 0, 0, false
				}
				switch {
				case k <= 20:
					return 1, k, true
				case k >= 80:
					return -1, k, true
				}
				return 0, k, true
			},
			Bullish: "stochastic %%K %.4g oversold",
			Bearish: "stochastic %%K %.4g overbought",
		},
		{
			Name: "cci", Family: FamilyMomentum, Group: GroupOscillators, Weight: 0.7,
			Vote: func(in inputs) (int, float64, bool) {
				v := in.snap.CCI
				if !has(v) {
					return 0, 0, false
				}
				switch {
				case v <= -100:
					return 1, v, true
				case v >= 100:
					return -1, v, true
				}
				return 0, v, true
			},
			Bullish: "CCI %.4g oversold",
			Bearish: "CCI %.4g overbought",
		},
		{
			Name: "williams_r", Family: FamilyMomentum, Group: GroupOscillators, Weight: 0.6,
			Vote: func(in inputs) (int, float64, bool) {
				v := in.snap.WilliamsR
				if !has(v) {
					return 0, 0, false
				}
				switch {
				case v <= -80:
					return 1, v, true
				case v >= -20:
					return -1, v, true
				}
				return 0, v, true
			},
			Bullish: "Williams %%R %.4g oversold",
			Bearish: "Williams %%R %.4g overbought",
		},
		{
			Name: "mfi", Family: FamilyVolume, Group: GroupOscillators, Weight: 1.0,
			Vote: func(in inputs) (int, float64, bool) {
				v := in.snap.MFI
				if !has(v) {
					return 0, 0, false
				}
				switch {
				case v <= 20:
					return 1, v, true
				case v >= 80:
					return -1, v, true
				}
				return 0, v, true
			},
			Bullish: "MFI %.4g shows capitulation volume",
			Bearish: "MFI %.4g shows exhaustion volume",
		},
		{
			Name: "obv", Family: FamilyVolume, Weight: 1.2,
			Vote: func(in inputs) (int, float64, bool) {
				v := in.snap.OBVSlope
				if !has(v) {
					return 0, 0, false
				}
				return sign(v), v, true
			},
			Bullish: "OBV rising (%.4g)",
			Bearish: "OBV falling (%.4g)",
		},
		{
			// 只使用50%这一档阈值
			Name: "volume_confirmation", Family: FamilyVolume, Weight: 1.0,
			Vote: func(in inputs) (int, float64, bool) {
				s := in.snap
				if !has(s.VolumeChangePct, s.PriceChangePct) {
					return 0, 0, false
				}
				if s.VolumeChangePct < 50 {
					return 0, s.VolumeChangePct, true
				}
				return sign(s.PriceChangePct), s.VolumeChangePct, true
			},
			Bullish: "volume +%.4g%% confirms the up move",
			Bearish: "volume +%.4g%% confirms the down move",
		},
		{
			Name: "bollinger", Family: FamilyVolatility, Weight: 1.0,
			Vote: func(in inputs) (int, float64, bool) {
				s := in.snap
				b := s.Bollinger
				if !has(s.Price, b.Upper, b.Lower) {
					return 0, 0, false
				}
				switch {
				case s.Price <= b.Lower:
					return 1, b.Lower, true
				case s.Price >= b.Upper:
					return -1, b.Upper, true
				}
				return 0, s.Price, true
			},
			Bullish: "price at lower Bollinger band %.4g",
			Bearish: "price at upper Bollinger band %.4g",
		},
		{
			// 资金费率过高说明多头拥挤，反向看待
			Name: "funding_rate", Family: FamilySentiment, Weight: 1.0,
			Vote: func(in inputs) (int, float64, bool) {
				v := in.ext.FundingRate
				if !has(v) {
					return 0, 0, false
				}
				switch {
				case v >= fundingExtreme:
					return -1, v, true
				case v <= -fundingExtreme:
					return 1, v, true
				}
				return 0, v, true
			},
			Bullish: "negative funding %.4g, shorts crowded",
			Bearish: "elevated funding %.4g, longs crowded",
		},
		{
			Name: "open_interest", Family: FamilySentiment, Weight: 0.8,
			Vote: func(in inputs) (int, float64, bool) {
				oi := in.ext.OpenInterestChangePct
				if !has(oi, in.snap.PriceChangePct) {
					return 0, 0, false
				}
				if oi < 5 {
					return 0, oi, true
				}
				return sign(in.snap.PriceChangePct), oi, true
			},
			Bullish: "open interest +%.4g%% building behind the rally",
			Bearish: "open interest +%.4g%% building behind the sell-off",
		},
		{
			Name: "orderbook_imbalance", Family: FamilySentiment, Weight: 1.2,
			Vote: func(in inputs) (int, float64, bool) {
				v := in.ext.OrderBookImbalance
				if !has(v) {
					return 0, 0, false
				}
				switch {
				case v >= 0.2:
					return 1, v, true
				case v <= -0.2:
					return -1, v, true
				}
				return 0, v, true
			},
			Bullish: "order book bid-heavy (imbalance %.4g)",
			Bearish: "order book ask-heavy (imbalance %.4g)",
		},
		{
			Name: "whale_activity", Family: FamilySentiment, Group: GroupFlow, Weight: 1.5,
			Vote: func(in inputs) (int, float64, bool) {
				v := in.ext.WhaleActivity
				if !has(v) {
					return 0, 0, false
				}
				return sign(v), v, true
			},
			Bullish: "whales net buying (%.4g)",
			Bearish: "whales net selling (%.4g)",
		},
		{
			// 流入交易所意味着抛压
			Name: "exchange_flow", Family: FamilySentiment, Group: GroupFlow, Weight: 1.0,
			Vote: func(in inputs) (int, float64, bool) {
				v := in.ext.ExchangeNetFlow
				if !has(v) {
					return 0, 0, false
				}
				return -sign(v), v, true
			},
			Bullish: "coins leaving exchanges (net flow %.4g)",
			Bearish: "coins flowing into exchanges (net flow %.4g)",
		},
	}
}
