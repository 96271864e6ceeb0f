package heatmap

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/khaitrandinh/binance-dashboard/internal/market/binance"
	"github.com/khaitrandinh/binance-dashboard/internal/market/model"
	"github.com/khaitrandinh/binance-dashboard/pkg/logger"
	"github.com/khaitrandinh/binance-dashboard/pkg/metrics"
	"github.com/khaitrandinh/binance-dashboard/pkg/xerr"
)

// AggStore 热力图聚合缓存的读写契约
type AggStore interface {
	GetAggregated(ctx context.Context, symbol, interval string, timeKeys []int64) (map[int64]model.AggregatedTrade, error)
	SaveAggregated(ctx context.Context, a model.AggregatedTrade) error
}

// KlineFetcher 补缺口时回源拉K线的契约
type KlineFetcher interface {
	Klines(ctx context.Context, symbol, interval string, startMs, endMs int64, limit int) ([]binance.Kline, error)
}

// Attribution 量到价格桶的分摊方式
type Attribution uint8

const (
	// AttributePoint 按均价整份记入单桶
	AttributePoint Attribution = iota
	// AttributeRange 按 [min,max] 与各桶的重叠宽度比例分摊
	AttributeRange
)

type Service struct {
	store   AggStore
	fetcher KlineFetcher
	symbol  string

	maxGapFill   int           // 单次调用最多补多少个缺口，剩余留给下次
	fetchTimeout time.Duration // 单个子周期回源的超时
	attribution  Attribution
	now          func() time.Time
}

type ServiceOption func(*Service)

func WithMaxGapFill(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.maxGapFill = n
		}
	}
}

func WithFetchTimeout(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.fetchTimeout = d
		}
	}
}

func WithAttribution(a Attribution) ServiceOption {
	return func(s *Service) { s.attribution = a }
}

func withNow(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

func NewService(store AggStore, fetcher KlineFetcher, symbol string, opts ...ServiceOption) *Service {
	s := &Service{
		store:        store,
		fetcher:      fetcher,
		symbol:       symbol,
		maxGapFill:   10,
		fetchTimeout: 5 * time.Second,
		attribution:  AttributePoint,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Result 稠密热力图: 每个子桶 × 每个价格桶都有格子，没成交就是 0
type Result struct {
	Granularity string      `json:"granularity"`
	KeyName     string      `json:"keyName"`
	TimeLabels  []string    `json:"timeLabels"`
	PriceRanges []string    `json:"priceRanges"` // 升序，和 Buy/Sell 列下标对应
	Buy         [][]float64 `json:"buyData"`     // [子桶][价格桶]
	Sell        [][]float64 `json:"sellData"`
}

// Compute 计算一个时间窗口的热力图
// 缺失的子周期先回源补缓存 (限量、限时、单周期失败不影响其它周期)，
// 然后基于手头所有格子切价格桶、铺稠密矩阵
func (s *Service) Compute(ctx context.Context, gran Granularity, date time.Time) (*Result, error) {
	n := gran.BucketCount(date)
	interval := gran.Interval()

	timeKeys := make([]int64, n)
	for i := 0; i < n; i++ {
		timeKeys[i], _ = gran.SubPeriodRange(date, i)
	}

	cached, err := s.store.GetAggregated(ctx, s.symbol, interval, timeKeys)
	if err != nil {
		return nil, err
	}

	cells := make(map[int]model.AggregatedTrade, n)
	for i, key := range timeKeys {
		if c, ok := cached[key]; ok {
			cells[i] = c
		}
	}

	s.fillGaps(ctx, gran, date, timeKeys, cells)

	if len(cells) == 0 {
		return nil, xerr.New(xerr.NoDataAvailable, "no data available for requested window")
	}

	// 全局价格区间来自所有已知格子
	minPrice, maxPrice := priceBounds(cells)
	buckets := FibBuckets(minPrice, maxPrice)

	grid := NewGrid(n, buckets)
	for i, c := range cells {
		buy := c.BuyVolume.InexactFloat64()
		sell := c.SellVolume.InexactFloat64()
		if s.attribution == AttributeRange {
			grid.FoldRange(i, c.MinPrice.InexactFloat64(), c.MaxPrice.InexactFloat64(), buy, sell)
		} else {
			grid.FoldPoint(i, c.AvgPrice.InexactFloat64(), buy, sell)
		}
	}

	labels := make([]string, len(buckets))
	for i, b := range buckets {
		labels[i] = b.Label
	}

	return &Result{
		Granularity: gran.String(),
		KeyName:     gran.KeyName(),
		TimeLabels:  gran.Labels(date),
		PriceRanges: labels,
		Buy:         grid.Buy,
		Sell:        grid.Sell,
	}, nil
}

// fillGaps 为缺缓存的子周期回源补数
// 零成交的周期不落缓存：外部源临时抽风和真没行情分不开，宁可下次重试
func (s *Service) fillGaps(ctx context.Context, gran Granularity, date time.Time, timeKeys []int64, cells map[int]model.AggregatedTrade) {
	interval := gran.Interval()
	nowMs := s.now().UnixMilli()
	filled := 0

	for i, key := range timeKeys {
		if _, ok := cells[i]; ok {
			continue
		}
		if key >= nowMs {
			continue // 还没发生的子周期
		}
		if filled >= s.maxGapFill {
			break // 超出单次配额，剩余缺口下次调用再补
		}
		filled++

		start, end := gran.SubPeriodRange(date, i)
		fetchCtx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
		klines, err := s.fetcher.Klines(fetchCtx, s.symbol, interval, start, end-1, 0)
		cancel()

		if err != nil {
			metrics.HeatmapGapFillTotal.WithLabelValues(interval, "error").Inc()
			logger.Warn(ctx, "⚠️ 热力图补缺口失败，该周期下次重试",
				zap.String("interval", interval),
				zap.Int64("timeKey", key),
				zap.Error(err))
			continue
		}

		agg := reduceKlines(s.symbol, interval, start, end, klines)
		if agg.TradeCount == 0 {
			metrics.HeatmapGapFillTotal.WithLabelValues(interval, "empty").Inc()
			continue
		}

		if err := s.store.SaveAggregated(ctx, agg); err != nil {
			// 缓存写失败不影响本次响应，内存里的格子照用
			logger.Error(ctx, "❌ 热力图缓存写入失败",
				zap.Int64("timeKey", key), zap.Error(err))
		}
		metrics.HeatmapGapFillTotal.WithLabelValues(interval, "ok").Inc()
		cells[i] = agg
	}
}

// reduceKlines 把一个子周期内的K线压成一条聚合记录
func reduceKlines(symbol, interval string, startMs, endMs int64, klines []binance.Kline) model.AggregatedTrade {
	agg := model.AggregatedTrade{
		Symbol:    symbol,
		TimeKey:   startMs,
		Interval:  interval,
		StartTime: startMs,
		EndTime:   endMs,
	}

	seen := false
	for _, k := range klines {
		if k.TradeCount == 0 && k.Volume.IsZero() {
			continue
		}
		if !seen {
			seen = true
			agg.MinPrice = k.Low
			agg.MaxPrice = k.High
		} else {
			if k.Low.LessThan(agg.MinPrice) {
				agg.MinPrice = k.Low
			}
			if k.High.GreaterThan(agg.MaxPrice) {
				agg.MaxPrice = k.High
			}
		}
		agg.BuyVolume = agg.BuyVolume.Add(k.TakerBuyVolume)
		agg.SellVolume = agg.SellVolume.Add(k.SellVolume())
		agg.TradeCount += k.TradeCount
	}

	if agg.TradeCount > 0 {
		agg.AvgPrice = agg.MinPrice.Add(agg.MaxPrice).Div(decimal.NewFromInt(2))
	}
	return agg
}

func priceBounds(cells map[int]model.AggregatedTrade) (float64, float64) {
	first := true
	var lo, hi decimal.Decimal
	for _, c := range cells {
		if first {
			lo, hi = c.MinPrice, c.MaxPrice
			first = false
			continue
		}
		if c.MinPrice.LessThan(lo) {
			lo = c.MinPrice
		}
		if c.MaxPrice.GreaterThan(hi) {
			hi = c.MaxPrice
		}
	}
	return lo.InexactFloat64(), hi.InexactFloat64()
}
