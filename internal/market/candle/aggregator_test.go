package candle

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/khaitrandinh/binance-dashboard/internal/market/model"
	"github.com/khaitrandinh/binance-dashboard/pkg/logger"
	"github.com/shopspring/decimal"
)

func init() {
	// 测试里会走 logger.Warn/Error
	logger.Init("candle-test", "error")
}

type memStore struct {
	mu      sync.Mutex
	upserts []model.Candle
	failFor map[model.Timeframe]int // timeframe -> 还要失败几次
}

func newMemStore() *memStore {
	return &memStore{failFor: make(map[model.Timeframe]int)}
}

func (s *memStore) Upsert(_ context.Context, c model.Candle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := s.failFor[c.Timeframe]; n > 0 {
		s.failFor[c.Timeframe] = n - 1
		return errors.New("store unavailable")
	}
	s.upserts = append(s.upserts, c)
	return nil
}

// last 返回某 (timeframe, bucketStart) 最后一次 upsert（last write wins）
func (s *memStore) last(tf model.Timeframe, bucketStart int64) (model.Candle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.upserts) - 1; i >= 0; i-- {
		c := s.upserts[i]
		if c.Timeframe == tf && c.BucketStart == bucketStart {
			return c, true
		}
	}
	return model.Candle{}, false
}

func trade(price string, qty string, tsMs int64) model.Trade {
	return model.Trade{
		Symbol:   "BTCUSDT",
		Price:    decimal.RequireFromString(price),
		Quantity: decimal.RequireFromString(qty),
		Side:     model.SideBuy,
		TsUnixMs: tsMs,
	}
}

func TestAggregator_SameBucket_OHLCV(t *testing.T) {
	store := newMemStore()
	agg := NewAggregator([]model.Timeframe{model.TF1m}, store, nil)
	ctx := context.Background()

	// 三笔成交都在同一个 1m 桶内
	agg.OnTrade(ctx, trade("100", "1", 10_000))
	agg.OnTrade(ctx, trade("105", "2", 20_000))
	agg.OnTrade(ctx, trade("98", "1", 30_000))

	c, ok := agg.Snapshot(model.TF1m)
	if !ok {
		t.Fatalf("expected an open candle")
	}
	if c.BucketStart != 0 {
		t.Fatalf("bucket start want=0 got=%d", c.BucketStart)
	}
	if !c.Open.Equal(decimal.NewFromInt(100)) ||
		!c.High.Equal(decimal.NewFromInt(105)) ||
		!c.Low.Equal(decimal.NewFromInt(98)) ||
		!c.Close.Equal(decimal.NewFromInt(98)) {
		t.Fatalf("OHLC mismatch: O=%s H=%s L=%s C=%s", c.Open, c.High, c.Low, c.Close)
	}
	if !c.Volume.Equal(decimal.NewFromInt(4)) {
		t.Fatalf("volume want=4 got=%s", c.Volume)
	}
	if c.TradeCount != 3 {
		t.Fatalf("trade count want=3 got=%d", c.TradeCount)
	}
}

func TestAggregator_NewBucket_FinalizesPrevious(t *testing.T) {
	store := newMemStore()
	var finals []model.Candle
	publish := func(tf model.Timeframe, c model.Candle, final bool) {
		if final {
			finals = append(finals, c)
		}
	}
	agg := NewAggregator([]model.Timeframe{model.TF1m}, store, publish)
	ctx := context.Background()

	// t=0 落在桶A [0,60000)，t=61000 开桶B
	agg.OnTrade(ctx, trade("100", "1", 0))
	agg.OnTrade(ctx, trade("200", "3", 61_000))

	if len(finals) != 1 {
		t.Fatalf("expected exactly 1 finalized candle, got=%d", len(finals))
	}
	a := finals[0]
	if a.BucketStart != 0 {
		t.Fatalf("finalized bucket want=0 got=%d", a.BucketStart)
	}
	if !a.Open.Equal(decimal.NewFromInt(100)) || !a.Volume.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("finalized candle mismatch: O=%s V=%s", a.Open, a.Volume)
	}

	// 桶A 的最终状态已经落库
	persisted, ok := store.last(model.TF1m, 0)
	if !ok {
		t.Fatalf("bucket A was never persisted")
	}
	if !persisted.Close.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("persisted close want=100 got=%s", persisted.Close)
	}

	// 桶B 以新价开盘
	b, ok := agg.Snapshot(model.TF1m)
	if !ok || b.BucketStart != 60_000 {
		t.Fatalf("bucket B not open: ok=%v start=%d", ok, b.BucketStart)
	}
	if !b.Open.Equal(decimal.NewFromInt(200)) {
		t.Fatalf("bucket B open want=200 got=%s", b.Open)
	}

	// 已关K线进入近期缓存
	recent := agg.Recent(model.TF1m)
	if len(recent) != 1 || recent[0].BucketStart != 0 {
		t.Fatalf("recent cache mismatch: %+v", recent)
	}
}

func TestAggregator_LateTrade_Dropped(t *testing.T) {
	store := newMemStore()
	agg := NewAggregator([]model.Timeframe{model.TF1m}, store, nil)
	ctx := context.Background()

	agg.OnTrade(ctx, trade("100", "1", 61_000)) // 桶 [60000,120000)
	agg.OnTrade(ctx, trade("1", "5", 30_000))   // 更早的桶，必须丢弃

	c, _ := agg.Snapshot(model.TF1m)
	if !c.Low.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("late trade polluted low: got=%s", c.Low)
	}
	if !c.Volume.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("late trade polluted volume: got=%s", c.Volume)
	}
}

func TestAggregator_MultiTimeframe_Independent(t *testing.T) {
	store := newMemStore()
	tfs := []model.Timeframe{model.TF1m, model.TF1h}
	agg := NewAggregator(tfs, store, nil)
	ctx := context.Background()

	// 1m 翻桶了，1h 还在同一个桶
	agg.OnTrade(ctx, trade("100", "1", 0))
	agg.OnTrade(ctx, trade("110", "2", 61_000))

	m, _ := agg.Snapshot(model.TF1m)
	h, _ := agg.Snapshot(model.TF1h)

	if m.BucketStart != 60_000 {
		t.Fatalf("1m bucket want=60000 got=%d", m.BucketStart)
	}
	if h.BucketStart != 0 {
		t.Fatalf("1h bucket want=0 got=%d", h.BucketStart)
	}
	if !h.Volume.Equal(decimal.NewFromInt(3)) {
		t.Fatalf("1h volume want=3 got=%s", h.Volume)
	}
}

func TestAggregator_StoreFailure_DoesNotCorruptMemory(t *testing.T) {
	store := newMemStore()
	store.failFor[model.TF1m] = 100 // 1m 的落库一直失败
	tfs := []model.Timeframe{model.TF1m, model.TF1h}
	agg := NewAggregator(tfs, store, nil)
	ctx := context.Background()

	agg.OnTrade(ctx, trade("100", "1", 0))
	agg.OnTrade(ctx, trade("105", "2", 1_000))

	// 1m 落库失败但内存状态完好
	m, ok := agg.Snapshot(model.TF1m)
	if !ok || !m.Volume.Equal(decimal.NewFromInt(3)) {
		t.Fatalf("in-memory candle corrupted by store failure: %+v", m)
	}

	// 1h 不受 1m 失败影响，照常落库
	if _, ok := store.last(model.TF1h, 0); !ok {
		t.Fatalf("1h upsert should have succeeded")
	}
}

func TestAggregator_StoreFailure_RetriesOnce(t *testing.T) {
	store := newMemStore()
	store.failFor[model.TF1m] = 1 // 第一次失败，重试应成功
	agg := NewAggregator([]model.Timeframe{model.TF1m}, store, nil)

	agg.OnTrade(context.Background(), trade("100", "1", 0))

	if _, ok := store.last(model.TF1m, 0); !ok {
		t.Fatalf("retry should have persisted the candle")
	}
}
