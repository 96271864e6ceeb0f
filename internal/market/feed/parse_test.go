package feed

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/khaitrandinh/binance-dashboard/internal/market/model"
)

func TestParseAggTradeCombined_Buy(t *testing.T) {
	raw := []byte(`{"stream":"btcusdt@aggTrade","data":{"e":"aggTrade","s":"btcusdt","a":12345,"p":"65000.50","q":"0.002","T":1710000000123,"m":false}}`)

	tr, aggID, err := parseAggTradeCombined(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if aggID != 12345 {
		t.Fatalf("aggID = %d", aggID)
	}
	if tr.Symbol != "BTCUSDT" {
		t.Fatalf("symbol should be uppercased, got %q", tr.Symbol)
	}
	if !tr.Price.Equal(decimal.RequireFromString("65000.50")) {
		t.Fatalf("price = %s", tr.Price)
	}
	if !tr.Quantity.Equal(decimal.RequireFromString("0.002")) {
		t.Fatalf("qty = %s", tr.Quantity)
	}
	// m=false 表示 taker 在买
	if tr.Side != model.SideBuy {
		t.Fatalf("side = %v", tr.Side)
	}
	if tr.TsUnixMs != 1710000000123 {
		t.Fatalf("ts = %d", tr.TsUnixMs)
	}
	if tr.TradeID != "12345" {
		t.Fatalf("tradeID = %q", tr.TradeID)
	}
}

func TestParseAggTradeCombined_SellWhenBuyerIsMaker(t *testing.T) {
	raw := []byte(`{"stream":"btcusdt@aggTrade","data":{"e":"aggTrade","s":"BTCUSDT","a":1,"p":"100","q":"1","T":1,"m":true}}`)

	tr, _, err := parseAggTradeCombined(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if tr.Side != model.SideSell {
		t.Fatalf("side = %v, want SELL", tr.Side)
	}
}

func TestParseAggTradeCombined_Rejects(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"not aggTrade", `{"stream":"x","data":{"e":"kline","s":"BTCUSDT","a":1,"p":"100","q":"1","T":1,"m":true}}`},
		{"bad price", `{"stream":"x","data":{"e":"aggTrade","s":"BTCUSDT","a":1,"p":"oops","q":"1","T":1,"m":true}}`},
		{"zero quantity", `{"stream":"x","data":{"e":"aggTrade","s":"BTCUSDT","a":1,"p":"100","q":"0","T":1,"m":true}}`},
		{"garbage", `not json`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, err := parseAggTradeCombined([]byte(tc.raw)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
