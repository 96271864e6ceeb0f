package binance

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/segmentio/encoding/json"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/khaitrandinh/binance-dashboard/pkg/logger"
	"github.com/khaitrandinh/binance-dashboard/pkg/ratelimit"
	"github.com/khaitrandinh/binance-dashboard/pkg/xerr"
)

const (
	defaultBaseURL = "https://api.binance.com"
	defaultTimeout = 10 * time.Second

	// Binance 现货接口约 1200 weight/min，这里留足余量
	defaultRateLimit = 10 // 每秒
	defaultBurst     = 20
)

// Client Binance 行情 REST 客户端 (补缺口拉历史K线用)
// 外层套了熔断 + 客户端限流：上游抖动时快速失败，不把坏状态放大
type Client struct {
	baseURL string
	hc      *http.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
	limiter *ratelimit.Store
}

type ClientOption func(*Client)

func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = u }
}

func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.hc.Timeout = d }
}

func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		baseURL: defaultBaseURL,
		hc:      &http.Client{Timeout: defaultTimeout},
		limiter: ratelimit.NewStore(rate.Limit(defaultRateLimit), defaultBurst, 10*time.Minute),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "binance-rest",
		MaxRequests: 3,                // Half-Open 放行的探测请求数
		Interval:    30 * time.Second, // Closed 状态计数窗口
		Timeout:     15 * time.Second, // Open 持续多久进入 Half-Open
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// 参数错误 (4xx) 是调用方的问题，不代表上游不健康，不计入熔断
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			return xerr.Code(err) == xerr.RequestParamsError
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn(context.Background(), "⚠️ 熔断器状态变化",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return c
}

// get 限流 -> 熔断 -> HTTP，返回响应体
func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx, "binance-rest"); err != nil {
		return nil, xerr.New(xerr.UpstreamError, fmt.Sprintf("rate limit wait aborted: %v", err))
	}

	return c.breaker.Execute(func() ([]byte, error) {
		u := c.baseURL + path
		if len(query) > 0 {
			u += "?" + query.Encode()
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, xerr.New(xerr.RequestParamsError, fmt.Sprintf("build request failed: %v", err))
		}

		resp, err := c.hc.Do(req)
		if err != nil {
			return nil, xerr.New(xerr.UpstreamError, fmt.Sprintf("binance request failed: %v", err))
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
		if err != nil {
			return nil, xerr.New(xerr.UpstreamError, fmt.Sprintf("read binance response failed: %v", err))
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return body, nil
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			return nil, xerr.New(xerr.RequestParamsError,
				fmt.Sprintf("binance rejected request: status=%d body=%s", resp.StatusCode, truncate(body, 256)))
		default:
			return nil, xerr.New(xerr.UpstreamError,
				fmt.Sprintf("binance unavailable: status=%d", resp.StatusCode))
		}
	})
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// Kline Binance K线条目 (数组格式已展开)
type Kline struct {
	OpenTime       int64
	CloseTime      int64
	Open           decimal.Decimal
	High           decimal.Decimal
	Low            decimal.Decimal
	Close          decimal.Decimal
	Volume         decimal.Decimal
	TradeCount     int64
	TakerBuyVolume decimal.Decimal
}

// SellVolume 卖方量 = 总量 - 主动买量
func (k Kline) SellVolume() decimal.Decimal {
	return k.Volume.Sub(k.TakerBuyVolume)
}

// Klines 拉取 [startMs, endMs] 区间的K线
// interval 用 Binance 的写法: "1m" "1h" "1d" "1M"
func (c *Client) Klines(ctx context.Context, symbol, interval string, startMs, endMs int64, limit int) ([]Kline, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("interval", interval)
	q.Set("startTime", strconv.FormatInt(startMs, 10))
	q.Set("endTime", strconv.FormatInt(endMs, 10))
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	body, err := c.get(ctx, "/api/v3/klines", q)
	if err != nil {
		return nil, err
	}

	// Binance 返回的是混排数组:
	// [openTime, open, high, low, close, volume, closeTime, quoteVol, count, takerBuyBase, takerBuyQuote, ignore]
	var raw [][]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, xerr.New(xerr.UpstreamError, fmt.Sprintf("decode klines failed: %v", err))
	}

	out := make([]Kline, 0, len(raw))
	for _, row := range raw {
		if len(row) < 10 {
			continue
		}
		k, err := parseKlineRow(row)
		if err != nil {
			logger.Warn(ctx, "⚠️ 跳过无法解析的K线", zap.Error(err))
			continue
		}
		out = append(out, k)
	}
	return out, nil
}

func parseKlineRow(row []json.RawMessage) (Kline, error) {
	var k Kline
	var err error
	if err = json.Unmarshal(row[0], &k.OpenTime); err != nil {
		return k, fmt.Errorf("openTime: %w", err)
	}
	if err = json.Unmarshal(row[6], &k.CloseTime); err != nil {
		return k, fmt.Errorf("closeTime: %w", err)
	}
	if err = json.Unmarshal(row[8], &k.TradeCount); err != nil {
		return k, fmt.Errorf("tradeCount: %w", err)
	}

	fields := []struct {
		idx int
		dst *decimal.Decimal
	}{
		{1, &k.Open}, {2, &k.High}, {3, &k.Low}, {4, &k.Close},
		{5, &k.Volume}, {9, &k.TakerBuyVolume},
	}
	for _, f := range fields {
		var s string
		if err = json.Unmarshal(row[f.idx], &s); err != nil {
			return k, fmt.Errorf("field %d: %w", f.idx, err)
		}
		if *f.dst, err = decimal.NewFromString(s); err != nil {
			return k, fmt.Errorf("field %d: %w", f.idx, err)
		}
	}
	return k, nil
}

// TickerPrice 最新成交价
func (c *Client) TickerPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	q := url.Values{}
	q.Set("symbol", symbol)

	body, err := c.get(ctx, "/api/v3/ticker/price", q)
	if err != nil {
		return decimal.Zero, err
	}

	var payload struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return decimal.Zero, xerr.New(xerr.UpstreamError, fmt.Sprintf("decode ticker failed: %v", err))
	}

	p, err := decimal.NewFromString(payload.Price)
	if err != nil {
		return decimal.Zero, xerr.New(xerr.UpstreamError, fmt.Sprintf("bad ticker price %q: %v", payload.Price, err))
	}
	return p, nil
}

// Ticker24h 24小时行情摘要
type Ticker24h struct {
	Symbol             string          `json:"symbol"`
	LastPrice          decimal.Decimal `json:"lastPrice"`
	PriceChangePercent decimal.Decimal `json:"priceChangePercent"`
	HighPrice          decimal.Decimal `json:"highPrice"`
	LowPrice           decimal.Decimal `json:"lowPrice"`
	Volume             decimal.Decimal `json:"volume"`
	QuoteVolume        decimal.Decimal `json:"quoteVolume"`
}

func (c *Client) Ticker24h(ctx context.Context, symbol string) (Ticker24h, error) {
	q := url.Values{}
	q.Set("symbol", symbol)

	body, err := c.get(ctx, "/api/v3/ticker/24hr", q)
	if err != nil {
		return Ticker24h{}, err
	}

	var t Ticker24h
	if err := json.Unmarshal(body, &t); err != nil {
		return Ticker24h{}, xerr.New(xerr.UpstreamError, fmt.Sprintf("decode 24hr ticker failed: %v", err))
	}
	return t, nil
}
