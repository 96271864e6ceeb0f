package broadcast

import "github.com/khaitrandinh/binance-dashboard/internal/market/model"

type ClientMsg struct {
	Type   string   `json:"type"`   // "sub" | "unsub" | "ping"
	Topics []string `json:"topics"` // topic list
}

type CandleDTO struct {
	Symbol      string `json:"symbol"`
	Timeframe   string `json:"timeframe"` // "1m" "15m" "1h" "1d"
	BucketStart int64  `json:"bucketStart"`

	Open   string `json:"open"`
	High   string `json:"high"`
	Low    string `json:"low"`
	Close  string `json:"close"`
	Volume string `json:"volume"`
	Count  int64  `json:"count"`
	Final  bool   `json:"final"` // 本桶是否已关
}

type ServerMsg struct {
	Type   string    `json:"type"`  // "kline" | "pong"
	Topic  string    `json:"topic"` // e.g. kline:1m:BTCUSDT
	Candle CandleDTO `json:"candle,omitempty"`
}

func ToDTO(c model.Candle, final bool) CandleDTO {
	return CandleDTO{
		Symbol:      c.Symbol,
		Timeframe:   string(c.Timeframe),
		BucketStart: c.BucketStart,
		Open:        c.Open.String(),
		High:        c.High.String(),
		Low:         c.Low.String(),
		Close:       c.Close.String(),
		Volume:      c.Volume.String(),
		Count:       c.TradeCount,
		Final:       final,
	}
}
