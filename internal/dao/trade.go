package dao

import (
	"context"

	"edgetrader/internal/model"
)

// TradeDao 成交流水
type TradeDao interface {
	// TradeInsert 写入一条成交
	TradeInsert(ctx context.Context, record *model.TradeRecord) error
	// TradeInsertBatch 同一轮的成交一次写入
	TradeInsertBatch(ctx context.Context, records []model.TradeRecord) error
	// TradeListByCycle 某个周期的成交，按时间倒序
	TradeListByCycle(ctx context.Context, cycleID string, limit int) ([]model.TradeRecord, error)
	// TradeListByAsset 某个资产最近的成交
	TradeListByAsset(ctx context.Context, asset string, limit int) ([]model.TradeRecord, error)
}
