package feed

import (
	"errors"
	"strconv"
	"strings"

	"github.com/khaitrandinh/binance-dashboard/internal/market/model"
	"github.com/segmentio/encoding/json"
	"github.com/shopspring/decimal"
)

type bnCombined struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type bnAggTrade struct {
	EventType string `json:"e"`
	Symbol    string `json:"s"`
	AggID     int64  `json:"a"`
	Price     string `json:"p"`
	Qty       string `json:"q"`
	TradeTime int64  `json:"T"`
	M         bool   `json:"m"` // true = buyer is maker（即 taker 在卖）
}

func parseAggTradeCombined(b []byte) (model.Trade, int64, error) {
	var wrap bnCombined
	if err := json.Unmarshal(b, &wrap); err != nil {
		return model.Trade{}, 0, err
	}
	var a bnAggTrade
	if err := json.Unmarshal(wrap.Data, &a); err != nil {
		return model.Trade{}, 0, err
	}
	if a.EventType != "aggTrade" {
		return model.Trade{}, 0, errors.New("not aggTrade")
	}

	price, err := decimal.NewFromString(a.Price)
	if err != nil {
		return model.Trade{}, 0, err
	}
	qty, err := decimal.NewFromString(a.Qty)
	if err != nil {
		return model.Trade{}, 0, err
	}
	if qty.Sign() <= 0 {
		return model.Trade{}, 0, errors.New("non-positive quantity")
	}

	side := model.SideSell
	if !a.M {
		side = model.SideBuy
	}

	return model.Trade{
		Symbol:   strings.ToUpper(a.Symbol),
		Price:    price,
		Quantity: qty,
		Side:     side,
		TsUnixMs: a.TradeTime,
		TradeID:  strconv.FormatInt(a.AggID, 10),
	}, a.AggID, nil
}
