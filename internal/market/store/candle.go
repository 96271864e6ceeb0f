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

// CandleRow K线表结构，(symbol, timeframe, bucket_start) 唯一
type CandleRow struct {
	ID          int64
	Symbol      string          `gorm:"uniqueIndex:idx_sym_tf_bucket;size:20"`
	Timeframe   string          `gorm:"uniqueIndex:idx_sym_tf_bucket;size:8"`
	BucketStart int64           `gorm:"uniqueIndex:idx_sym_tf_bucket"`
	Open        decimal.Decimal `gorm:"type:decimal(36,18)"`
	High        decimal.Decimal `gorm:"type:decimal(36,18)"`
	Low         decimal.Decimal `gorm:"type:decimal(36,18)"`
	Close       decimal.Decimal `gorm:"type:decimal(36,18)"`
	Volume      decimal.Decimal `gorm:"type:decimal(36,18);default:0"`
	TradeCount  int64           `gorm:"default:0"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (CandleRow) TableName() string { return "candles" }

func rowFromCandle(c model.Candle) CandleRow {
	return CandleRow{
		Symbol:      c.Symbol,
		Timeframe:   string(c.Timeframe),
		BucketStart: c.BucketStart,
		Open:        c.Open,
		High:        c.High,
		Low:         c.Low,
		Close:       c.Close,
		Volume:      c.Volume,
		TradeCount:  c.TradeCount,
	}
}

func (row CandleRow) toCandle() model.Candle {
	return model.Candle{
		Symbol:      row.Symbol,
		Timeframe:   model.Timeframe(row.Timeframe),
		BucketStart: row.BucketStart,
		Open:        row.Open,
		High:        row.High,
		Low:         row.Low,
		Close:       row.Close,
		Volume:      row.Volume,
		TradeCount:  row.TradeCount,
	}
}

// Upsert 写入/覆盖一根K线
// 内存聚合器是唯一写入方，数据库只是它的快照，所以直接整行覆盖 (last write wins)
func (r *Repo) Upsert(ctx context.Context, c model.Candle) error {
	row := rowFromCandle(c)
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "symbol"}, {Name: "timeframe"}, {Name: "bucket_start"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"open", "high", "low", "close", "volume", "trade_count", "updated_at",
		}),
	}).Create(&row).Error

	if err != nil {
		return xerr.New(xerr.DbError, fmt.Sprintf("upsert candle failed: %v", err))
	}
	return nil
}

// History 查询某周期最近 limit 根K线，时间升序返回
func (r *Repo) History(ctx context.Context, symbol string, tf model.Timeframe, limit int) ([]model.Candle, error) {
	if limit <= 0 || limit > 1000 {
		limit = 500
	}

	var rows []CandleRow
	err := r.db.WithContext(ctx).
		Where("symbol = ? AND timeframe = ?", symbol, string(tf)).
		Order("bucket_start DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, xerr.New(xerr.DbError, fmt.Sprintf("query candle history failed: %v", err))
	}

	// DESC 取最近 N 根，翻回升序给前端画图
	out := make([]model.Candle, len(rows))
	for i, row := range rows {
		out[len(rows)-1-i] = row.toCandle()
	}
	return out, nil
}

// Range 查询 [fromMs, toMs) 区间内的K线，时间升序
func (r *Repo) Range(ctx context.Context, symbol string, tf model.Timeframe, fromMs, toMs int64) ([]model.Candle, error) {
	var rows []CandleRow
	err := r.db.WithContext(ctx).
		Where("symbol = ? AND timeframe = ? AND bucket_start >= ? AND bucket_start < ?",
			symbol, string(tf), fromMs, toMs).
		Order("bucket_start ASC").
		Find(&rows).Error
	if err != nil {
		return nil, xerr.New(xerr.DbError, fmt.Sprintf("query candle range failed: %v", err))
	}

	out := make([]model.Candle, len(rows))
	for i, row := range rows {
		out[i] = row.toCandle()
	}
	return out, nil
}
