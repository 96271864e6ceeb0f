package model

import "github.com/shopspring/decimal"

// AggregatedTrade 一个子周期内成交的聚合结果（热力图的缓存单元）
// timeKey + interval 唯一定位一个子周期：
//   interval=1h -> timeKey 为当天某小时的起点 ms
//   interval=1d -> timeKey 为某天 00:00 UTC 的 ms
//   interval=1M -> timeKey 为某月 1 号 00:00 UTC 的 ms
type AggregatedTrade struct {
	Symbol     string          `json:"symbol"`
	TimeKey    int64           `json:"timeKey"`
	Interval   string          `json:"interval"`
	StartTime  int64           `json:"startTime"`
	EndTime    int64           `json:"endTime"`
	AvgPrice   decimal.Decimal `json:"avgPrice"`
	MinPrice   decimal.Decimal `json:"minPrice"`
	MaxPrice   decimal.Decimal `json:"maxPrice"`
	BuyVolume  decimal.Decimal `json:"buyVolume"`
	SellVolume decimal.Decimal `json:"sellVolume"`
	TradeCount int64           `json:"tradeCount"`
}

// TotalVolume 买卖量之和
func (a AggregatedTrade) TotalVolume() decimal.Decimal {
	return a.BuyVolume.Add(a.SellVolume)
}
