package model

import "github.com/shopspring/decimal"

type Side uint8

const (
	SideUnknown Side = iota
	SideBuy          // taker 买入
	SideSell         // taker 卖出
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "BUY"
	case SideSell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// Trade: 归一化后的“成交”模型
// price/quantity 用 decimal 保证精度（K线要大量 max/min/累加，float64 误差会累积）
type Trade struct {
	Symbol   string // 统一成大写，例如 BTCUSDT
	Price    decimal.Decimal
	Quantity decimal.Decimal
	Side     Side
	TsUnixMs int64  // 毫秒时间戳（Binance 原生就是 ms）
	TradeID  string // aggTrade id，feed 层用来去重
}
