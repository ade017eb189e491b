package indicator

import (
	"math"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// 历史上积累下来的字段别名，只在这里解析一次
var (
	priceKeys       = []string{"price", "close", "lastPrice", "last_price", "currentPrice", "current_price"}
	priceChangeKeys = []string{"priceChangePct", "price_change_pct", "priceChange", "change"}
	rsiKeys         = []string{"rsi14", "rsi", "RSI", "rsi_14"}
	macdKeys        = []string{"macd", "MACD"}
	bollingerKeys   = []string{"bollingerBands", "bollinger", "bollinger_bands", "bb", "bbands"}
	stochKeys       = []string{"stochastic", "stoch", "kdj"}
	adxKeys         = []string{"adx", "adx14", "ADX"}
	atrKeys         = []string{"atr", "atr14", "ATR"}
	cciKeys         = []string{"cci", "cci20", "CCI"}
	williamsKeys    = []string{"williamsR", "williams_r", "willr", "wr"}
	mfiKeys         = []string{"mfi", "mfi14", "MFI"}
	obvKeys         = []string{"obvSlope", "obv_slope", "obvTrend", "obv_trend"}
	volumeKeys      = []string{"volumeChangePct", "volume_change_pct", "volumeChange", "volume_change"}
	structureKeys   = []string{"marketStructure", "market_structure", "structure"}
	timeframeKeys   = []string{"timeframes", "multiTimeframe", "multi_timeframe", "mtf"}
	externalKeys    = []string{"externalData", "external_data", "external"}

	ema20Keys  = []string{"ema20", "ema_20", "EMA20"}
	ema50Keys  = []string{"ema50", "ema_50", "EMA50"}
	ema200Keys = []string{"ema200", "ema_200", "EMA200"}

	plusDIKeys  = []string{"plusDI", "plus_di", "pdi", "+di", "diPlus"}
	minusDIKeys = []string{"minusDI", "minus_di", "mdi", "-di", "diMinus"}

	fundingKeys   = []string{"fundingRate", "funding_rate", "funding"}
	oiChangeKeys  = []string{"openInterestChangePct", "open_interest_change_pct", "oiChangePct", "openInterestChange"}
	imbalanceKeys = []string{"orderBookImbalance", "orderbookImbalance", "order_book_imbalance", "obImbalance", "bookImbalance"}
	whaleKeys     = []string{"whaleActivity", "whale_activity", "whaleFlow", "whale"}
	flowKeys      = []string{"exchangeNetFlow", "exchangeFlow", "exchange_flow", "netflow", "netFlow"}
)

// Normalize 把松散的指标字典转换成强类型快照
// raw 为nil表示快照缺失，返回nil
func Normalize(asset string, raw map[string]any) *Snapshot {
	if raw == nil {
		return nil
	}
	s := normalizeFlat(asset, raw)

	if tfs, ok := lookupMap(raw, timeframeKeys...); ok {
		s.Timeframes = make(map[string]*Snapshot, len(tfs))
		for tf, v := range tfs {
			m, ok := asMap(v)
			if !ok {
				continue
			}
			s.Timeframes[strings.ToLower(tf)] = normalizeFlat(asset, m)
		}
	}

	if ext, ok := lookupMap(raw, externalKeys...); ok {
		s.External = ExternalData{
			FundingRate:           number(ext, fundingKeys...),
			OpenInterestChangePct: number(ext, oiChangeKeys...),
			OrderBookImbalance:    number(ext, imbalanceKeys...),
			WhaleActivity:         number(ext, whaleKeys...),
			ExchangeNetFlow:       number(ext, flowKeys...),
		}
	}

	if v, ok := lookup(raw, "capturedAt", "timestamp", "time"); ok {
		if t, err := cast.ToTimeE(v); err == nil {
			s.CapturedAt = t
		}
	}
	return s
}

func normalizeFlat(asset string, raw map[string]any) *Snapshot {
	s := Empty(asset)
	s.Price = number(raw, priceKeys...)
	s.PriceChangePct = number(raw, priceChangeKeys...)
	s.RSI = number(raw, rsiKeys...)

	// macd 既可能是对象，也可能是单个数值
	if m, ok := lookupMap(raw, macdKeys...); ok {
		s.MACD.Line = number(m, "macd", "line", "value", "MACD")
		s.MACD.Signal = number(m, "signal", "signalLine", "signal_line")
		s.MACD.Histogram = number(m, "histogram", "hist", "macdHist")
	} else {
		s.MACD.Line = number(raw, "macd", "MACD", "macdLine", "macd_line")
	}
	if !Has(s.MACD.Signal) {
		s.MACD.Signal = number(raw, "macdSignal", "macd_signal")
	}
	if !Has(s.MACD.Histogram) {
		s.MACD.Histogram = number(raw, "macdHistogram", "macd_histogram", "macdHist", "macd_hist")
	}

	if m, ok := lookupMap(raw, bollingerKeys...); ok {
		s.Bollinger.Upper = number(m, "upper", "upperBand", "up")
		s.Bollinger.Middle = number(m, "middle", "mid", "basis", "middleBand")
		s.Bollinger.Lower = number(m, "lower", "lowerBand", "low", "dn")
	}

	s.EMA20 = number(raw, ema20Keys...)
	s.EMA50 = number(raw, ema50Keys...)
	s.EMA200 = number(raw, ema200Keys...)
	if m, ok := lookupMap(raw, "ema", "EMA"); ok {
		if !Has(s.EMA20) {
			s.EMA20 = number(m, "20", "ema20")
		}
		if !Has(s.EMA50) {
			s.EMA50 = number(m, "50", "ema50")
		}
		if !Has(s.EMA200) {
			s.EMA200 = number(m, "200", "ema200")
		}
	}

	if m, ok := lookupMap(raw, stochKeys...); ok {
		s.Stoch.K = number(m, "k", "stochK", "stoch_k", "%K", "K")
		s.Stoch.D = number(m, "d", "stochD", "stoch_d", "%D", "D")
	} else {
		s.Stoch.K = number(raw, "stochK", "stoch_k", "k")
		s.Stoch.D = number(raw, "stochD", "stoch_d", "d")
	}

	if m, ok := lookupMap(raw, adxKeys...); ok {
		s.ADX = number(m, "adx", "value", "ADX")
		s.PlusDI = number(m, plusDIKeys...)
		s.MinusDI = number(m, minusDIKeys...)
	} else {
		s.ADX = number(raw, adxKeys...)
	}
	if !Has(s.PlusDI) {
		s.PlusDI = number(raw, plusDIKeys...)
	}
	if !Has(s.MinusDI) {
		s.MinusDI = number(raw, minusDIKeys...)
	}

	s.ATR = number(raw, atrKeys...)
	s.CCI = number(raw, cciKeys...)
	s.WilliamsR = number(raw, williamsKeys...)
	s.MFI = number(raw, mfiKeys...)
	s.OBVSlope = trendNumber(raw, obvKeys...)
	s.VolumeChangePct = number(raw, volumeKeys...)
	if v, ok := lookup(raw, structureKeys...); ok {
		s.Structure = ParseStructure(cast.ToString(v))
	}
	return s
}

// ParseStructure 统一市场结构的各种写法
func ParseStructure(v string) Structure {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "bullish", "bull", "uptrend", "up", "higher_highs", "hh_hl":
		return StructureBullish
	case "bearish", "bear", "downtrend", "down", "lower_lows", "lh_ll":
		return StructureBearish
	case "neutral", "range", "ranging", "sideways":
		return StructureNeutral
	}
	return StructureUnknown
}

func lookup(raw map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := raw[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func lookupMap(raw map[string]any, keys ...string) (map[string]any, bool) {
	v, ok := lookup(raw, keys...)
	if !ok {
		return nil, false
	}
	return asMap(v)
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[string]float64:
		out := make(map[string]any, len(m))
		for k, x := range m {
			out[k] = x
		}
		return out, true
	case map[string]string:
		out := make(map[string]any, len(m))
		for k, x := range m {
			out[k] = x
		}
		return out, true
	}
	return nil, false
}

// number 按别名取第一个可解析的数值，NaN/Inf/无法解析均视为缺失
func number(raw map[string]any, keys ...string) float64 {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok || v == nil {
			continue
		}
		if _, isMap := asMap(v); isMap {
			continue
		}
		if _, isBool := v.(bool); isBool {
			continue
		}
		if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
			continue
		}
		f, err := cast.ToFloat64E(v)
		if err != nil || !Has(f) {
			continue
		}
		return f
	}
	return nan()
}

// trendNumber 兼容 "rising"/"falling" 之类的文字描述
func trendNumber(raw map[string]any, keys ...string) float64 {
	if v, ok := lookup(raw, keys...); ok {
		if s, isStr := v.(string); isStr {
			switch strings.ToLower(strings.TrimSpace(s)) {
			case "rising", "up", "bullish", "increasing":
				return 1
			case "falling", "down", "bearish", "decreasing":
				return -1
			case "flat", "neutral":
				return 0
			}
		}
	}
	return number(raw, keys...)
}

func nan() float64 {
	return math.NaN()
}

// Stamp 标记采集时间
func (s *Snapshot) Stamp(at time.Time) *Snapshot {
	if s != nil {
		s.CapturedAt = at
	}
	return s
}
