package query

import (
	"context"
	"fmt"

	"edgetrader/internal/dao"
	"edgetrader/internal/model"

	"gorm.io/gorm"
)

const defaultTradeLimit = 100

// TradeDaoImpl Gorm 实现
type TradeDaoImpl struct {
	db *gorm.DB
}

func NewTradeDao(db *gorm.DB) dao.TradeDao {
	return &TradeDaoImpl{db: db}
}

func (d *TradeDaoImpl) TradeInsert(ctx context.Context, record *model.TradeRecord) error {
	if err := d.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("failed to insert trade %s %s: %w", record.Asset, record.Action, err)
	}
	return nil
}

func (d *TradeDaoImpl) TradeInsertBatch(ctx context.Context, records []model.TradeRecord) error {
	if len(records) == 0 {
		return nil
	}
	if err := d.db.WithContext(ctx).CreateInBatches(records, 50).Error; err != nil {
		return fmt.Errorf("failed to insert %d trades: %w", len(records), err)
	}
	return nil
}

func (d *TradeDaoImpl) TradeListByCycle(ctx context.Context, cycleID string, limit int) ([]model.TradeRecord, error) {
	var records []model.TradeRecord
	err := d.db.WithContext(ctx).Model(&model.TradeRecord{}).
		Where("cycle_id = ?", cycleID).
		Order("executed_at DESC").
		Limit(clampLimit(limit)).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list trades of cycle %s: %w", cycleID, err)
	}
	return records, nil
}

func (d *TradeDaoImpl) TradeListByAsset(ctx context.Context, asset string, limit int) ([]model.TradeRecord, error) {
	var records []model.TradeRecord
	err := d.db.WithContext(ctx).Model(&model.TradeRecord{}).
		Where("asset = ?", asset).
		Order("executed_at DESC").
		Limit(clampLimit(limit)).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list trades of %s: %w", asset, err)
	}
	return records, nil
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return defaultTradeLimit
	}
	return limit
}
