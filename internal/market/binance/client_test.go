package binance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khaitrandinh/binance-dashboard/pkg/logger"
	"github.com/khaitrandinh/binance-dashboard/pkg/xerr"
)

func init() {
	logger.Init("binance-test", "error")
}

const klinesBody = `[
  [3600000,"100.0","105.0","98.0","98.0","4.0",7199999,"400.0",3,"3.0","300.0","0"],
  [7200000,"98.0","99.5","97.0","99.0","2.5",10799999,"245.0",2,"1.5","147.0","0"]
]`

func TestKlines_Parse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/klines", r.URL.Path)
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		assert.Equal(t, "1h", r.URL.Query().Get("interval"))
		_, _ = w.Write([]byte(klinesBody))
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL))
	got, err := c.Klines(context.Background(), "BTCUSDT", "1h", 3_600_000, 10_800_000, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)

	k := got[0]
	assert.Equal(t, int64(3_600_000), k.OpenTime)
	assert.True(t, k.High.Equal(decimal.RequireFromString("105")))
	assert.True(t, k.Volume.Equal(decimal.NewFromInt(4)))
	assert.True(t, k.TakerBuyVolume.Equal(decimal.NewFromInt(3)))
	// 卖方量 = 总量 - 主动买量
	assert.True(t, k.SellVolume().Equal(decimal.NewFromInt(1)))
	assert.Equal(t, int64(3), k.TradeCount)
}

func TestKlines_BadRequestIsParamsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":-1121,"msg":"Invalid symbol."}`))
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL))
	_, err := c.Klines(context.Background(), "NOPE", "1h", 0, 1, 0)
	require.Error(t, err)
	assert.Equal(t, xerr.RequestParamsError, xerr.Code(err))
}

func TestKlines_ServerErrorIsUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL))
	_, err := c.Klines(context.Background(), "BTCUSDT", "1h", 0, 1, 0)
	require.Error(t, err)
	assert.Equal(t, xerr.UpstreamError, xerr.Code(err))
}

func TestTickerPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/ticker/price", r.URL.Path)
		_, _ = w.Write([]byte(`{"symbol":"BTCUSDT","price":"65432.10"}`))
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL))
	p, err := c.TickerPrice(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.True(t, p.Equal(decimal.RequireFromString("65432.10")))
}

func TestTicker24h(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"symbol":"BTCUSDT","lastPrice":"65000.00","priceChangePercent":"-1.25",
			"highPrice":"66000.00","lowPrice":"64000.00","volume":"1234.5","quoteVolume":"80000000"
		}`))
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL))
	tk, err := c.Ticker24h(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", tk.Symbol)
	assert.True(t, tk.LastPrice.Equal(decimal.NewFromInt(65000)))
	assert.True(t, tk.PriceChangePercent.Equal(decimal.RequireFromString("-1.25")))
}

func TestBreaker_OpensAfterConsecutiveUpstreamFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL))
	ctx := context.Background()

	// 连续 5 次上游失败之后熔断器打开
	for i := 0; i < 5; i++ {
		_, err := c.TickerPrice(ctx, "BTCUSDT")
		require.Error(t, err)
	}

	_, err := c.TickerPrice(ctx, "BTCUSDT")
	require.Error(t, err)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
}
