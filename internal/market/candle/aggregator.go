package candle

import (
	"context"
	"sync"
	"time"

	"github.com/khaitrandinh/binance-dashboard/internal/market/model"
	"github.com/khaitrandinh/binance-dashboard/pkg/logger"
	"github.com/khaitrandinh/binance-dashboard/pkg/metrics"
	"go.uber.org/zap"
)

// Store 持久层契约：按 (bucketStart, timeframe) 幂等 upsert
type Store interface {
	Upsert(ctx context.Context, c model.Candle) error
}

// Publisher 把K线快照交给广播层；final=true 表示该桶已关闭
type Publisher func(tf model.Timeframe, c model.Candle, final bool)

// Aggregator 维护“每个 timeframe 当前正在构建的那一根K线”。
//
// 收到 trade 时，对每个 timeframe 独立处理：
//   - 新桶：先落库并发布旧K线，再用这笔成交开新K线
//   - 同桶：合并 OHLCV
//   - 旧桶（乱序/重复时间戳在当前桶起点之前）：丢弃并告警，
//     绝不允许回头改已关闭的K线
//
// 单写者：OnTrade 只由 feed 消费协程调用；并发读一律走快照拷贝，
// 避免读到 high 已更新而 volume 还是旧值的撕裂状态。
type Aggregator struct {
	mu sync.Mutex

	timeframes []model.Timeframe
	open       map[model.Timeframe]*model.Candle
	recent     map[model.Timeframe][]model.Candle // 已关K线的近期缓存，新的在后

	store   Store
	publish Publisher

	retention     time.Duration // recent 缓存窗口，默认 24h
	upsertTimeout time.Duration
}

type Option func(*Aggregator)

func WithRetention(d time.Duration) Option {
	return func(a *Aggregator) { a.retention = d }
}

func WithUpsertTimeout(d time.Duration) Option {
	return func(a *Aggregator) { a.upsertTimeout = d }
}

func NewAggregator(tfs []model.Timeframe, store Store, publish Publisher, opts ...Option) *Aggregator {
	a := &Aggregator{
		timeframes:    tfs,
		open:          make(map[model.Timeframe]*model.Candle, len(tfs)),
		recent:        make(map[model.Timeframe][]model.Candle, len(tfs)),
		store:         store,
		publish:       publish,
		retention:     24 * time.Hour,
		upsertTimeout: 3 * time.Second,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// OnTrade 把一笔成交折入所有 timeframe。
// 每个 timeframe 独立完成：某个周期落库失败不影响其它周期。
func (a *Aggregator) OnTrade(ctx context.Context, t model.Trade) {
	a.mu.Lock()
	defer a.mu.Unlock()

	metrics.TradesIngestedTotal.WithLabelValues(t.Symbol).Inc()

	for _, tf := range a.timeframes {
		a.applyTimeframe(ctx, tf, t)
	}
}

func (a *Aggregator) applyTimeframe(ctx context.Context, tf model.Timeframe, t model.Trade) {
	bs := tf.BucketStartMs(t.TsUnixMs)
	cur := a.open[tf]

	switch {
	case cur == nil:
		a.open[tf] = model.NewCandle(tf, bs, t)

	case bs > cur.BucketStart:
		// 桶关闭：先把旧K线定格
		a.finalize(ctx, tf, *cur)
		a.open[tf] = model.NewCandle(tf, bs, t)

	case bs < cur.BucketStart:
		// 乱序到已关闭的桶：丢弃，绝不回写
		metrics.TradesDroppedTotal.WithLabelValues("late").Inc()
		logger.Warn(ctx, "⚠️ late trade dropped",
			zap.String("timeframe", tf.String()),
			zap.Int64("trade_ts", t.TsUnixMs),
			zap.Int64("open_bucket", cur.BucketStart),
		)
		return

	default:
		cur.Apply(t)
	}

	// 每笔成交都把“进行中的K线”幂等落一次库（last write wins），
	// 内存状态始终是当前桶的权威，落库失败只影响持久化副本
	snap := *a.open[tf]
	a.upsertWithRetry(ctx, snap)
	if a.publish != nil {
		a.publish(tf, snap, false)
	}
}

// finalize 桶关闭：落库 + 进近期缓存 + 发布 final 快照
func (a *Aggregator) finalize(ctx context.Context, tf model.Timeframe, c model.Candle) {
	a.upsertWithRetry(ctx, c)

	a.recent[tf] = append(a.recent[tf], c)
	a.pruneRecent(tf, c.BucketStart)

	metrics.CandlesClosedTotal.WithLabelValues(tf.String()).Inc()
	if a.publish != nil {
		a.publish(tf, c, true)
	}
}

// upsertWithRetry 失败重试一次，再失败记日志跳过（内存仍是权威）
func (a *Aggregator) upsertWithRetry(ctx context.Context, c model.Candle) {
	uctx, cancel := context.WithTimeout(ctx, a.upsertTimeout)
	defer cancel()

	err := a.store.Upsert(uctx, c)
	if err == nil {
		return
	}
	if err = a.store.Upsert(uctx, c); err == nil {
		return
	}

	metrics.CandleUpsertFailTotal.WithLabelValues(c.Timeframe.String()).Inc()
	logger.Error(ctx, "❌ candle upsert failed, keeping in-memory state",
		zap.String("timeframe", c.Timeframe.String()),
		zap.Int64("bucket_start", c.BucketStart),
		zap.Error(err),
	)
}

func (a *Aggregator) pruneRecent(tf model.Timeframe, nowMs int64) {
	cut := nowMs - int64(a.retention/time.Millisecond)
	list := a.recent[tf]
	i := 0
	for i < len(list) && list[i].BucketStart < cut {
		i++
	}
	if i > 0 {
		a.recent[tf] = append([]model.Candle(nil), list[i:]...)
	}
}

// Snapshot 当前进行中的K线拷贝（copy-on-read）
func (a *Aggregator) Snapshot(tf model.Timeframe) (model.Candle, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	cur, ok := a.open[tf]
	if !ok {
		return model.Candle{}, false
	}
	return *cur, true
}

// Recent 近期已关K线拷贝（新在后），用于不打数据库的快速读
func (a *Aggregator) Recent(tf model.Timeframe) []model.Candle {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]model.Candle(nil), a.recent[tf]...)
}

// Flush 退出前把所有进行中的K线落库（不发布 final：桶并没有关闭）
func (a *Aggregator) Flush(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, cur := range a.open {
		a.upsertWithRetry(ctx, *cur)
	}
}
