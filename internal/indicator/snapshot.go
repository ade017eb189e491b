package indicator

import (
	"math"
	"time"
)

// 快照中缺失的数值一律为NaN，使用 Has 判断

type MACD struct {
	Line      float64 `json:"macd"`
	Signal    float64 `json:"signal"`
	Histogram float64 `json:"histogram"`
}

type Bands struct {
	Upper  float64 `json:"upper"`
	Middle float64 `json:"middle"`
	Lower  float64 `json:"lower"`
}

type Stoch struct {
	K float64 `json:"k"`
	D float64 `json:"d"`
}

// ExternalData 非K线类的市场数据
type ExternalData struct {
	FundingRate           float64 `json:"fundingRate"`
	OpenInterestChangePct float64 `json:"openInterestChangePct"`
	OrderBookImbalance    float64 `json:"orderBookImbalance"` // -1 ~ 1，正数买盘占优
	WhaleActivity         float64 `json:"whaleActivity"`      // 正数为净买入
	ExchangeNetFlow       float64 `json:"exchangeNetFlow"`    // 正数为流入交易所
}

// Structure 市场结构
type Structure string

const (
	StructureUnknown Structure = ""
	StructureBullish Structure = "bullish"
	StructureBearish Structure = "bearish"
	StructureNeutral Structure = "neutral"
)

// Snapshot 某一资产某一时刻的指标快照
type Snapshot struct {
	Asset           string               `json:"asset"`
	Price           float64              `json:"price"`
	PriceChangePct  float64              `json:"priceChangePct"`
	RSI             float64              `json:"rsi14"`
	MACD            MACD                 `json:"macd"`
	Bollinger       Bands                `json:"bollingerBands"`
	EMA20           float64              `json:"ema20"`
	EMA50           float64              `json:"ema50"`
	EMA200          float64              `json:"ema200"`
	Stoch           Stoch                `json:"stochastic"`
	ADX             float64              `json:"adx"`
	PlusDI          float64              `json:"plusDI"`
	MinusDI         float64              `json:"minusDI"`
	ATR             float64              `json:"atr"`
	CCI             float64              `json:"cci"`
	WilliamsR       float64              `json:"williamsR"`
	MFI             float64              `json:"mfi"`
	OBVSlope        float64              `json:"obvSlope"`
	VolumeChangePct float64              `json:"volumeChangePct"`
	Structure       Structure            `json:"marketStructure"`
	Timeframes      map[string]*Snapshot `json:"timeframes,omitempty"`
	External        ExternalData         `json:"externalData"`
	CapturedAt      time.Time            `json:"capturedAt"`
}

// Has 数值是否可用
func Has(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Empty 所有字段均缺失的快照
func Empty(asset string) *Snapshot {
	nan := math.NaN()
	return &Snapshot{
		Asset:           asset,
		Price:           nan,
		PriceChangePct:  nan,
		RSI:             nan,
		MACD:            MACD{Line: nan, Signal: nan, Histogram: nan},
		Bollinger:       Bands{Upper: nan, Middle: nan, Lower: nan},
		EMA20:           nan,
		EMA50:           nan,
		EMA200:          nan,
		Stoch:           Stoch{K: nan, D: nan},
		ADX:             nan,
		PlusDI:          nan,
		MinusDI:         nan,
		ATR:             nan,
		CCI:             nan,
		WilliamsR:       nan,
		MFI:             nan,
		OBVSlope:        nan,
		VolumeChangePct: nan,
		External: ExternalData{
			FundingRate:           nan,
			OpenInterestChangePct: nan,
			OrderBookImbalance:    nan,
			WhaleActivity:         nan,
			ExchangeNetFlow:       nan,
		},
	}
}

// indicatorValues 参与计数的指标字段（价格本身不算指标）
func (s *Snapshot) indicatorValues() []float64 {
	return []float64{
		s.RSI,
		s.MACD.Line, s.MACD.Signal, s.MACD.Histogram,
		s.Bollinger.Upper, s.Bollinger.Middle, s.Bollinger.Lower,
		s.EMA20, s.EMA50, s.EMA200,
		s.Stoch.K, s.Stoch.D,
		s.ADX, s.PlusDI, s.MinusDI,
		s.ATR, s.CCI, s.WilliamsR, s.MFI, s.OBVSlope, s.VolumeChangePct,
		s.External.FundingRate, s.External.OpenInterestChangePct, s.External.OrderBookImbalance,
		s.External.WhaleActivity, s.External.ExchangeNetFlow,
	}
}

// Available 可用指标数量
func (s *Snapshot) Available() int {
	if s == nil {
		return 0
	}
	n := 0
	for _, v := range s.indicatorValues() {
		if Has(v) {
			n++
		}
	}
	if s.Structure != StructureUnknown {
		n++
	}
	for _, tf := range s.Timeframes {
		n += tf.Available()
	}
	return n
}

// HasPrice 价格是否可用
func (s *Snapshot) HasPrice() bool {
	return s != nil && Has(s.Price) && s.Price > 0
}
