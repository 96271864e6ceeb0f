package broadcast

import (
	"strings"

	"github.com/segmentio/encoding/json"

	"github.com/khaitrandinh/binance-dashboard/internal/market/model"
)

// TopicForCandle kline:<timeframe>:<symbol>
func TopicForCandle(c model.Candle) string {
	return "kline:" + string(c.Timeframe) + ":" + normalizeSymbol(c.Symbol)
}

func normalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// EncodeCandle 把一根K线编码成 ws 消息
func EncodeCandle(c model.Candle, final bool) (string, []byte, error) {
	topic := TopicForCandle(c)
	msg := ServerMsg{
		Type:   "kline",
		Topic:  topic,
		Candle: ToDTO(c, final),
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return "", nil, err
	}
	return topic, b, nil
}
