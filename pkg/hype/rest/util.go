package rest

import (
	"strings"

	"github.com/spf13/cast"
)

// ParseFloat 交易所数值均为字符串，解析失败返回0
func ParseFloat(str string) float64 {
	value, err := cast.ToFloat64E(strings.TrimSpace(str))
	if err != nil {
		return 0
	}
	return value
}

// ParseMids 过滤现货编号（@开头）并解析价格
func ParseMids(raw map[string]string) map[string]float64 {
	prices := make(map[string]float64, len(raw))
	for k, v := range raw {
		if k == "" || k[0] == '@' {
			continue
		}
		if f := ParseFloat(v); f > 0 {
			prices[k] = f
		}
	}
	return prices
}
