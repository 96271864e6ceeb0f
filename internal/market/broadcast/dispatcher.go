package broadcast

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/khaitrandinh/binance-dashboard/internal/market/model"
	"github.com/khaitrandinh/binance-dashboard/pkg/logger"
	"github.com/khaitrandinh/binance-dashboard/pkg/metrics"
)

// Dispatcher 聚合器和 broker 之间的闸门
// 未收盘K线每个周期最多推送一次 (进行中的桶每秒变几十次，前端不需要全部)；
// 收盘那一帧必须推，不走限流
type Dispatcher struct {
	broker   Broker
	interval time.Duration

	mu       sync.Mutex
	lastSent map[model.Timeframe]time.Time // 单调推进，不因新订阅重置
	now      func() time.Time
}

func NewDispatcher(broker Broker, interval time.Duration) *Dispatcher {
	if interval <= 0 {
		interval = time.Second
	}
	return &Dispatcher{
		broker:   broker,
		interval: interval,
		lastSent: make(map[model.Timeframe]time.Time, 8),
		now:      time.Now,
	}
}

// Dispatch 满足聚合器的 Publisher 签名
func (d *Dispatcher) Dispatch(tf model.Timeframe, c model.Candle, final bool) {
	if !final && !d.allow(tf) {
		metrics.BroadcastThrottledTotal.WithLabelValues(string(tf)).Inc()
		return
	}

	topic, payload, err := EncodeCandle(c, final)
	if err != nil {
		logger.Error(context.Background(), "❌ K线编码失败", zap.Error(err))
		return
	}

	if err := d.broker.Publish(context.Background(), topic, payload); err != nil {
		logger.Error(context.Background(), "❌ 广播失败",
			zap.String("topic", topic), zap.Error(err))
		return
	}
	metrics.BroadcastTotal.WithLabelValues(string(tf)).Inc()
}

func (d *Dispatcher) allow(tf model.Timeframe) bool {
	now := d.now()
	d.mu.Lock()
	defer d.mu.Unlock()

	if last, ok := d.lastSent[tf]; ok && now.Sub(last) < d.interval {
		return false
	}
	d.lastSent[tf] = now
	return true
}
