package snapshot

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/encoding/json"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/khaitrandinh/binance-dashboard/internal/market/binance"
	"github.com/khaitrandinh/binance-dashboard/internal/market/model"
	"github.com/khaitrandinh/binance-dashboard/pkg/logger"
	"github.com/khaitrandinh/binance-dashboard/pkg/xerr"
)

// 快照超过这个时长视为过期，读取时回源刷新
const staleAfter = 2 * time.Minute

// 成交流每秒几十笔，写 redis 限到每秒一次就够行情页用
const writeGap = time.Second

// Snapshot 某交易对的实时行情摘要
type Snapshot struct {
	Symbol             string          `json:"symbol"`
	Price              decimal.Decimal `json:"price"`
	PriceChangePercent decimal.Decimal `json:"priceChangePercent"`
	High24h            decimal.Decimal `json:"high24h"`
	Low24h             decimal.Decimal `json:"low24h"`
	Volume24h          decimal.Decimal `json:"volume24h"`
	UpdatedAtMs        int64           `json:"updatedAtMs"`
}

// Ticker 回源契约 (REST /ticker/24hr)
type Ticker interface {
	Ticker24h(ctx context.Context, symbol string) (binance.Ticker24h, error)
}

// Service 实时行情快照：成交流喂最新价，读取时兜底回源
type Service struct {
	rdb    *redis.Client
	ticker Ticker

	lastWriteNs atomic.Int64
	now         func() time.Time
}

func NewService(rdb *redis.Client, ticker Ticker) *Service {
	return &Service{rdb: rdb, ticker: ticker, now: time.Now}
}

func key(symbol string) string {
	return "market:snapshot:" + symbol
}

// OnTrade 用成交更新最新价（节流写，丢帧无所谓，下一笔马上来）
func (s *Service) OnTrade(ctx context.Context, t model.Trade) {
	nowNs := s.now().UnixNano()
	last := s.lastWriteNs.Load()
	if nowNs-last < int64(writeGap) {
		return
	}
	if !s.lastWriteNs.CompareAndSwap(last, nowNs) {
		return // 别的 trade 抢先写了
	}

	cur, err := s.read(ctx, t.Symbol)
	if err != nil {
		cur = &Snapshot{Symbol: t.Symbol}
	}
	cur.Price = t.Price
	cur.UpdatedAtMs = s.now().UnixMilli()

	if err := s.write(ctx, cur); err != nil {
		logger.Warn(ctx, "⚠️ 快照写入失败", zap.String("symbol", t.Symbol), zap.Error(err))
	}
}

// Get 读取快照；缺失或超过 2 分钟没更新就回源刷新
func (s *Service) Get(ctx context.Context, symbol string) (*Snapshot, error) {
	snap, err := s.read(ctx, symbol)
	stale := err != nil ||
		s.now().UnixMilli()-snap.UpdatedAtMs > staleAfter.Milliseconds()

	if !stale {
		return snap, nil
	}

	fresh, rerr := s.refresh(ctx, symbol)
	if rerr != nil {
		if snap != nil {
			// 回源失败但手里还有旧数据，先用着
			logger.Warn(ctx, "⚠️ 快照回源失败，返回过期数据",
				zap.String("symbol", symbol), zap.Error(rerr))
			return snap, nil
		}
		return nil, rerr
	}
	return fresh, nil
}

func (s *Service) refresh(ctx context.Context, symbol string) (*Snapshot, error) {
	t, err := s.ticker.Ticker24h(ctx, symbol)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		Symbol:             symbol,
		Price:              t.LastPrice,
		PriceChangePercent: t.PriceChangePercent,
		High24h:            t.HighPrice,
		Low24h:             t.LowPrice,
		Volume24h:          t.Volume,
		UpdatedAtMs:        s.now().UnixMilli(),
	}
	if err := s.write(ctx, snap); err != nil {
		logger.Warn(ctx, "⚠️ 快照写入失败", zap.String("symbol", symbol), zap.Error(err))
	}
	return snap, nil
}

func (s *Service) read(ctx context.Context, symbol string) (*Snapshot, error) {
	b, err := s.rdb.Get(ctx, key(symbol)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, xerr.New(xerr.RecordNotFound, fmt.Sprintf("no snapshot for %s", symbol))
		}
		return nil, xerr.New(xerr.DbError, fmt.Sprintf("read snapshot failed: %v", err))
	}

	var snap Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return nil, xerr.New(xerr.DbError, fmt.Sprintf("decode snapshot failed: %v", err))
	}
	return &snap, nil
}

func (s *Service) write(ctx context.Context, snap *Snapshot) error {
	b, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	// TTL 给 10 分钟兜底，停止喂数后 redis 自己清掉
	return s.rdb.Set(ctx, key(snap.Symbol), b, 10*time.Minute).Err()
}
