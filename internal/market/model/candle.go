package model

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Candle: 一个 (timeframe, bucketStart) 的 OHLCV
// 不变量：low <= open,close <= high；open 只在首笔成交时设置，之后不再变
type Candle struct {
	Symbol      string          `json:"symbol"`
	Timeframe   Timeframe       `json:"timeframe"`
	BucketStart int64           `json:"bucketStart"` // ms，对齐到周期边界
	Open        decimal.Decimal `json:"open"`
	High        decimal.Decimal `json:"high"`
	Low         decimal.Decimal `json:"low"`
	Close       decimal.Decimal `json:"close"`
	Volume      decimal.Decimal `json:"volume"`
	TradeCount  int64           `json:"tradeCount"`
}

// NewCandle 用首笔成交开一根K线
func NewCandle(tf Timeframe, bucketStart int64, t Trade) *Candle {
	return &Candle{
		Symbol:      t.Symbol,
		Timeframe:   tf,
		BucketStart: bucketStart,
		Open:        t.Price,
		High:        t.Price,
		Low:         t.Price,
		Close:       t.Price,
		Volume:      t.Quantity,
		TradeCount:  1,
	}
}

// Apply 折入同桶的一笔成交
func (c *Candle) Apply(t Trade) {
	if t.Price.GreaterThan(c.High) {
		c.High = t.Price
	}
	if t.Price.LessThan(c.Low) {
		c.Low = t.Price
	}
	c.Close = t.Price
	c.Volume = c.Volume.Add(t.Quantity)
	c.TradeCount++
}

// String 仅用于打印/调试
func (c Candle) String() string {
	return fmt.Sprintf("%s %s [%d) O=%s H=%s L=%s C=%s V=%s n=%d",
		c.Symbol, c.Timeframe, c.BucketStart,
		c.Open, c.High, c.Low, c.Close, c.Volume, c.TradeCount,
	)
}
