package influxsink

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"go.uber.org/zap"

	"github.com/khaitrandinh/binance-dashboard/internal/market/model"
	"github.com/khaitrandinh/binance-dashboard/pkg/logger"
)

type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string

	// 写入优化项
	BatchSize     uint
	FlushInterval time.Duration
	UseGzip       bool
}

func (cfg Config) String() string {
	return fmt.Sprintf("url=%s org=%s bucket=%s batch=%d flush=%s gzip=%v",
		cfg.URL, cfg.Org, cfg.Bucket, cfg.BatchSize, cfg.FlushInterval, cfg.UseGzip)
}

// Sink 收盘K线异步写入 InfluxDB，供离线分析/看板用
// MySQL 是在线查询的事实来源，这边只是时序副本，写失败不影响主链路
type Sink struct {
	client influxdb2.Client
	write  api.WriteAPI
	in     chan model.Candle
}

func New(cfg Config) *Sink {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 2000
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = time.Second
	}

	opt := influxdb2.DefaultOptions().
		SetBatchSize(cfg.BatchSize).
		SetFlushInterval(uint(cfg.FlushInterval.Milliseconds())).
		SetUseGZip(cfg.UseGzip)

	c := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opt)
	w := c.WriteAPI(cfg.Org, cfg.Bucket)

	// 必须消费 Errors()，否则异步写入错误可能导致阻塞/泄露
	go func() {
		for err := range w.Errors() {
			logger.Warn(context.Background(), "⚠️ influx 写入失败", zap.Error(err))
		}
	}()

	return &Sink{
		client: c,
		write:  w,
		in:     make(chan model.Candle, 4096),
	}
}

func (s *Sink) Close() {
	// Close 会 flush buffer
	s.client.Close()
}

// Offer 非阻塞投递一根收盘K线，队列满了直接丢
func (s *Sink) Offer(c model.Candle) {
	select {
	case s.in <- c:
	default:
	}
}

func (s *Sink) writeCandle(c model.Candle) {
	tags := map[string]string{
		"symbol":    c.Symbol,
		"timeframe": string(c.Timeframe),
	}
	fields := map[string]interface{}{
		"o": c.Open.InexactFloat64(),
		"h": c.High.InexactFloat64(),
		"l": c.Low.InexactFloat64(),
		"c": c.Close.InexactFloat64(),
		"v": c.Volume.InexactFloat64(),
		"n": c.TradeCount,
	}

	p := write.NewPoint("kline", tags, fields, time.UnixMilli(c.BucketStart))
	s.write.WritePoint(p)
}

func (s *Sink) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c, ok := <-s.in:
			if !ok {
				return nil
			}
			s.writeCandle(c)
		}
	}
}
