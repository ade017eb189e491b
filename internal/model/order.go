package model

import (
	"time"

	"gorm.io/datatypes"
)

type OrderSide string

const (
	Buy  OrderSide = "buy"
	Sell OrderSide = "sell"
)

// Opposite 反方向
func (s OrderSide) Opposite() OrderSide {
	if s == Buy {
		return Sell
	}
	return Buy
}

type OrderType string

const (
	// 市价（带滑点保护的IOC限价单）
	Market OrderType = "market"
	// 限价
	Limit OrderType = "limit"
)

type TimeInForce string

const (
	Ioc TimeInForce = "Ioc"
	Gtc TimeInForce = "Gtc"
)

// ExecutionStatus 一次执行的最终结果
type ExecutionStatus string

const (
	ExecFilled         ExecutionStatus = "FILLED"
	ExecFailed         ExecutionStatus = "FAILED"
	ExecUnknownOutcome ExecutionStatus = "UNKNOWN_OUTCOME"
	ExecSkipped        ExecutionStatus = "SKIPPED"
)

// OrderState 交易所侧订单状态
type OrderState string

const (
	OrderOpen     OrderState = "open"
	OrderFilled   OrderState = "filled"
	OrderCanceled OrderState = "canceled"
	OrderRejected OrderState = "rejected"
	OrderUnknown  OrderState = "unknown"
)

// OrderRequest 提交到交易所的订单
type OrderRequest struct {
	Asset      string
	AssetIndex int
	Side       OrderSide
	Size       float64
	Price      float64 // 限价，市价单为带滑点的保护价
	OrderType  OrderType
	Tif        TimeInForce
	ReduceOnly bool
	ClientID   string
}

// OrderAck 下单回执
type OrderAck struct {
	OrderID   string
	State     OrderState
	FilledSz  float64
	AvgPrice  float64
	RejectMsg string
}

// OrderStatus 轮询得到的订单状态
type OrderStatus struct {
	OrderID   string
	State     OrderState
	Filled    float64
	Remaining float64
	AvgPrice  float64
}

type Kline struct {
	Timestamp time.Time `json:"time"`
	Open      float64   `json:"open"`
	Close     float64   `json:"close"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Vol       float64   `json:"vol"` // 成交量 以币为单位
}

// TradeRecord 成交流水，写入mysql
type TradeRecord struct {
	ID         uint64         `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	CycleID    string         `gorm:"column:cycle_id;type:varchar(32);index" json:"cycle_id"`
	Asset      string         `gorm:"column:asset;type:varchar(32);index" json:"asset"`
	Side       string         `gorm:"column:side;type:varchar(8)" json:"side"`
	Action     string         `gorm:"column:action;type:varchar(16)" json:"action"` // open / add / close / trim
	Quantity   float64        `gorm:"column:quantity;type:decimal(24,8)" json:"quantity"`
	Price      float64        `gorm:"column:price;type:decimal(24,8)" json:"price"`
	PnL        float64        `gorm:"column:pnl;type:decimal(24,8)" json:"pnl"`
	Reason     string         `gorm:"column:reason;type:varchar(32)" json:"reason"`
	OrderID    string         `gorm:"column:order_id;type:varchar(64)" json:"order_id"`
	Mode       string         `gorm:"column:mode;type:varchar(8)" json:"mode"`
	Details    datatypes.JSON `gorm:"column:details;type:json" json:"details"`
	ExecutedAt time.Time      `gorm:"column:executed_at;index" json:"executed_at"`
	CreatedAt  time.Time      `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (TradeRecord) TableName() string {
	return "trade_records"
}

// TradeListReq 交易流水查询参数，cycle_id 与 asset 至少一个，都为空时取当前周期
type TradeListReq struct {
	CycleID string `form:"cycle_id"`
	Asset   string `form:"asset"`
	Limit   int    `form:"limit" binding:"omitempty,gte=1,lte=1000"`
}
