package model

import (
	"sort"
	"time"
)

type CycleStatus string

const (
	StatusRunning       CycleStatus = "RUNNING"
	StatusStopped       CycleStatus = "STOPPED"
	StatusCircuitBroken CycleStatus = "CIRCUIT_BROKEN"
)

type BreakerStatus string

const (
	BreakerClosed BreakerStatus = "CLOSED"
	BreakerOpen   BreakerStatus = "OPEN"
)

// BreakerState 熔断状态，随周期状态一起持久化
type BreakerState struct {
	Status            BreakerStatus `json:"status"`
	Reason            string        `json:"reason"`
	TrippedAt         time.Time     `json:"trippedAt"`
	ConsecutiveLosses int           `json:"consecutiveLosses"`
}

func (b BreakerState) Open() bool {
	return b.Status == BreakerOpen
}

// Trade 成交历史（只追加）
type Trade struct {
	ID         string     `json:"id"`
	Asset      string     `json:"asset"`
	Side       Side       `json:"side"`
	Quantity   float64    `json:"quantity"`
	EntryPrice float64    `json:"entryPrice"`
	ExitPrice  float64    `json:"exitPrice"`
	PnL        float64    `json:"pnl"`
	PnLPct     float64    `json:"pnlPct"`
	Reason     ExitReason `json:"reason"`
	Partial    bool       `json:"partial"`
	External   bool       `json:"external"`
	OrderID    string     `json:"orderId"`
	OpenedAt   time.Time  `json:"openedAt"`
	ClosedAt   time.Time  `json:"closedAt"`
}

type EquityPoint struct {
	Time   time.Time `json:"time"`
	Equity float64   `json:"equity"`
}

// Performance 绩效统计
type Performance struct {
	Trades             int           `json:"trades"`
	Wins               int           `json:"wins"`
	Losses             int           `json:"losses"`
	WinRate            float64       `json:"winRate"`
	RealizedPnL        float64       `json:"realizedPnl"`
	TotalReturnPct     float64       `json:"totalReturnPct"`
	Equity             float64       `json:"equity"`
	PeakEquity         float64       `json:"peakEquity"`
	MaxDrawdownPct     float64       `json:"maxDrawdownPct"`
	CurrentDrawdownPct float64       `json:"currentDrawdownPct"`
	EquityCurve        []EquityPoint `json:"equityCurve"`
	WinStreak          int           `json:"winStreak"`
	LossStreak         int           `json:"lossStreak"`
	MaxWinStreak       int           `json:"maxWinStreak"`
	MaxLossStreak      int           `json:"maxLossStreak"`
}

// CycleState 进程内唯一的交易状态
type CycleState struct {
	CycleID         string              `json:"cycleId"`
	StartTime       time.Time           `json:"startTime"`
	Status          CycleStatus         `json:"status"`
	Positions       map[string]Position `json:"positions"`
	TradeHistory    []Trade             `json:"tradeHistory"`
	Performance     Performance         `json:"performance"`
	Breaker         BreakerState        `json:"circuitBreaker"`
	LastRankingAt   time.Time           `json:"lastRankingAt"`
	TopN            []string            `json:"topN"`
	NeedsReconcile  bool                `json:"needsReconcile"`
	LastReconcileAt time.Time           `json:"lastReconcileAt"`
	InitialEquity   float64             `json:"initialEquity"`
	TickCount       int64               `json:"tickCount"`
	UpdatedAt       time.Time           `json:"updatedAt"`
}

// NewCycleState 全新的周期状态
func NewCycleState(id string, equity float64, now time.Time) CycleState {
	return CycleState{
		CycleID:   id,
		StartTime: now,
		Status:    StatusRunning,
		Positions: make(map[string]Position),
		Performance: Performance{
			Equity:      equity,
			PeakEquity:  equity,
			EquityCurve: []EquityPoint{{Time: now, Equity: equity}},
		},
		Breaker:       BreakerState{Status: BreakerClosed},
		InitialEquity: equity,
		UpdatedAt:     now,
	}
}

// Clone 深拷贝，调用方可以安全地读取
func (s CycleState) Clone() CycleState {
	out := s
	if s.Positions != nil {
		out.Positions = make(map[string]Position, len(s.Positions))
		for k, p := range s.Positions {
			out.Positions[k] = p.Clone()
		}
	}
	if s.TradeHistory != nil {
		out.TradeHistory = append([]Trade(nil), s.TradeHistory...)
	}
	if s.Performance.EquityCurve != nil {
		out.Performance.EquityCurve = append([]EquityPoint(nil), s.Performance.EquityCurve...)
	}
	if s.TopN != nil {
		out.TopN = append([]string(nil), s.TopN...)
	}
	return out
}

// Assets 按字母序返回持仓资产，保证处理顺序确定
func (s CycleState) Assets() []string {
	keys := make([]string, 0, len(s.Positions))
	for k := range s.Positions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// InTopN 资产是否在排名范围内，未排名时返回false,false
func (s CycleState) InTopN(asset string) (in bool, known bool) {
	if len(s.TopN) == 0 {
		return false, false
	}
	for _, a := range s.TopN {
		if a == asset {
			return true, true
		}
	}
	return false, true
}
