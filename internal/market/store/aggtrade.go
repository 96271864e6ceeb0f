package store

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm/clause"

	"github.com/khaitrandinh/binance-dashboard/internal/market/model"
	"github.com/khaitrandinh/binance-dashboard/pkg/xerr"
)

// AggregatedTradeRow 热力图聚合缓存表，(symbol, time_key, interval) 唯一
// 补算一次后永久复用，避免反复回源拉历史
type AggregatedTradeRow struct {
	ID         int64
	Symbol     string          `gorm:"uniqueIndex:idx_sym_key_iv;size:20"`
	TimeKey    int64           `gorm:"uniqueIndex:idx_sym_key_iv"`
	Interval   string          `gorm:"uniqueIndex:idx_sym_key_iv;size:8;column:time_interval"`
	StartTime  int64           ``
	EndTime    int64           ``
	AvgPrice   decimal.Decimal `gorm:"type:decimal(36,18)"`
	MinPrice   decimal.Decimal `gorm:"type:decimal(36,18)"`
	MaxPrice   decimal.Decimal `gorm:"type:decimal(36,18)"`
	BuyVolume  decimal.Decimal `gorm:"type:decimal(36,18);default:0"`
	SellVolume decimal.Decimal `gorm:"type:decimal(36,18);default:0"`
	TradeCount int64           `gorm:"default:0"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (AggregatedTradeRow) TableName() string { return "aggregated_trades" }

func rowFromAgg(a model.AggregatedTrade) AggregatedTradeRow {
	return AggregatedTradeRow{
		Symbol:     a.Symbol,
		TimeKey:    a.TimeKey,
		Interval:   a.Interval,
		StartTime:  a.StartTime,
		EndTime:    a.EndTime,
		AvgPrice:   a.AvgPrice,
		MinPrice:   a.MinPrice,
		MaxPrice:   a.MaxPrice,
		BuyVolume:  a.BuyVolume,
		SellVolume: a.SellVolume,
		TradeCount: a.TradeCount,
	}
}

func (row AggregatedTradeRow) toAgg() model.AggregatedTrade {
	return model.AggregatedTrade{
		Symbol:     row.Symbol,
		TimeKey:    row.TimeKey,
		Interval:   row.Interval,
		StartTime:  row.StartTime,
		EndTime:    row.EndTime,
		AvgPrice:   row.AvgPrice,
		MinPrice:   row.MinPrice,
		MaxPrice:   row.MaxPrice,
		BuyVolume:  row.BuyVolume,
		SellVolume: row.SellVolume,
		TradeCount: row.TradeCount,
	}
}

// SaveAggregated 写入/覆盖一条聚合记录
func (r *Repo) SaveAggregated(ctx context.Context, a model.AggregatedTrade) error {
	row := rowFromAgg(a)
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "symbol"}, {Name: "time_key"}, {Name: "time_interval"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"start_time", "end_time", "avg_price", "min_price", "max_price",
			"buy_volume", "sell_volume", "trade_count", "updated_at",
		}),
	}).Create(&row).Error

	if err != nil {
		return xerr.New(xerr.DbError, fmt.Sprintf("save aggregated trade failed: %v", err))
	}
	return nil
}

// GetAggregated 按 timeKey 批量取缓存，返回 map 方便调用方比对缺口
func (r *Repo) GetAggregated(ctx context.Context, symbol, interval string, timeKeys []int64) (map[int64]model.AggregatedTrade, error) {
	if len(timeKeys) == 0 {
		return map[int64]model.AggregatedTrade{}, nil
	}

	var rows []AggregatedTradeRow
	err := r.db.WithContext(ctx).
		Where("symbol = ? AND time_interval = ? AND time_key IN ?", symbol, interval, timeKeys).
		Find(&rows).Error
	if err != nil {
		return nil, xerr.New(xerr.DbError, fmt.Sprintf("query aggregated trades failed: %v", err))
	}

	out := make(map[int64]model.AggregatedTrade, len(rows))
	for _, row := range rows {
		out[row.TimeKey] = row.toAgg()
	}
	return out, nil
}
