package indicator

import "sort"

// TrendAlignment 多周期趋势是否一致
type TrendAlignment struct {
	Direction  int      `json:"direction"` // 1 多头一致，-1 空头一致，0 无一致方向
	Aligned    bool     `json:"aligned"`
	Bullish    []string `json:"bullish"`
	Bearish    []string `json:"bearish"`
	Timeframes int      `json:"timeframes"`
}

// frameTrend 单周期的趋势方向，数据不足返回0
func frameTrend(s *Snapshot) int {
	if s == nil {
		return 0
	}
	switch {
	case Has(s.EMA20) && Has(s.EMA50):
		if s.EMA20 > s.EMA50 {
			return 1
		}
		if s.EMA20 < s.EMA50 {
			return -1
		}
	case Has(s.Price) && Has(s.EMA50):
		if s.Price > s.EMA50 {
			return 1
		}
		if s.Price < s.EMA50 {
			return -1
		}
	case Has(s.MACD.Histogram):
		if s.MACD.Histogram > 0 {
			return 1
		}
		if s.MACD.Histogram < 0 {
			return -1
		}
	}
	return 0
}

// Align 计算多周期一致性，至少两个周期同向且没有反向周期才算一致
func Align(s *Snapshot) TrendAlignment {
	var out TrendAlignment
	if s == nil {
		return out
	}
	tfs := make([]string, 0, len(s.Timeframes))
	for tf := range s.Timeframes {
		tfs = append(tfs, tf)
	}
	sort.Strings(tfs)

	for _, tf := range tfs {
		switch frameTrend(s.Timeframes[tf]) {
		case 1:
			out.Bullish = append(out.Bullish, tf)
			out.Timeframes++
		case -1:
			out.Bearish = append(out.Bearish, tf)
			out.Timeframes++
		}
	}
	switch {
	case len(out.Bullish) >= 2 && len(out.Bearish) == 0:
		out.Direction, out.Aligned = 1, true
	case len(out.Bearish) >= 2 && len(out.Bullish) == 0:
		out.Direction, out.Aligned = -1, true
	}
	return out
}
