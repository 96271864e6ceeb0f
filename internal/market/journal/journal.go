package journal

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/segmentio/encoding/json"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/khaitrandinh/binance-dashboard/internal/market/model"
	"github.com/khaitrandinh/binance-dashboard/pkg/logger"
	"github.com/khaitrandinh/binance-dashboard/pkg/wal"
)

// 成交日志：归一化后的成交顺序追加到本地 WAL，
// 进程重启时先回放，把“进行中的K线”从最近的成交里重建出来。
// 已关闭的K线本来就在库里，日志只兜当前桶这一段。

// record 落盘格式，短 tag 省空间（成交量大，一天几百万条）
type record struct {
	Symbol string `json:"s"`
	Price  string `json:"p"`
	Qty    string `json:"q"`
	Side   uint8  `json:"m"`
	TsMs   int64  `json:"t"`
	ID     string `json:"i"`
}

// Replay 回放日志里全部完整记录。尾部半写（上次崩溃留下的）当场截断修复，
// 单条解码失败告警跳过，不中断回放。文件不存在视为空日志。
func Replay(path string, fn func(model.Trade)) (int, error) {
	ctx := context.Background()
	st, err := wal.Replay(path, wal.ReplayOptions{AllowTruncatedTail: true}, func(payload []byte) error {
		var rec record
		if err := json.Unmarshal(payload, &rec); err != nil {
			logger.Warn(ctx, "⚠️ journal record decode failed, skipped", zap.Error(err))
			return nil
		}
		t, err := rec.toTrade()
		if err != nil {
			logger.Warn(ctx, "⚠️ journal record invalid, skipped", zap.Error(err))
			return nil
		}
		fn(t)
		return nil
	})
	if err != nil {
		return st.Records, err
	}
	if st.TruncatedTail {
		logger.Warn(ctx, "⚠️ journal has truncated tail, repairing",
			zap.String("path", path), zap.Int64("lastGoodOffset", st.LastGoodOffset))
		if err := wal.TruncateTo(path, st.LastGoodOffset); err != nil {
			return st.Records, err
		}
	}
	return st.Records, nil
}

type Journal struct {
	mu      sync.Mutex
	w       *wal.Writer
	pending int
	// 每 flushEvery 条 fsync 一次；崩溃最多丢这么多条，
	// 而这些成交已经通过 per-tick upsert 进了库，可接受
	flushEvery int
}

type Option func(*Journal)

// WithFlushEvery 调整 fsync 间隔（按条数）
func WithFlushEvery(n int) Option {
	return func(j *Journal) {
		if n > 0 {
			j.flushEvery = n
		}
	}
}

// New 打开追加写。startFresh=true 时先清空文件：
// 回放完成后聚合器状态已重建，旧日志不再需要，顺手防止无限增长。
func New(path string, startFresh bool, opts ...Option) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	if startFresh {
		if err := os.Truncate(path, 0); err != nil && !os.IsNotExist(err) {
			return nil, err
		}
	}
	w, err := wal.OpenWrite(path, 0)
	if err != nil {
		return nil, err
	}
	j := &Journal{w: w, flushEvery: 64}
	for _, opt := range opts {
		opt(j)
	}
	return j, nil
}

// Append 追加一笔成交。编码/写入失败只告警，绝不反压行情消费
func (j *Journal) Append(t model.Trade) {
	b, err := json.Marshal(record{
		Symbol: t.Symbol,
		Price:  t.Price.String(),
		Qty:    t.Quantity.String(),
		Side:   uint8(t.Side),
		TsMs:   t.TsUnixMs,
		ID:     t.TradeID,
	})
	if err != nil {
		logger.Warn(context.Background(), "⚠️ journal encode failed", zap.Error(err))
		return
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.w.Append(b); err != nil {
		logger.Warn(context.Background(), "⚠️ journal append failed", zap.Error(err))
		return
	}
	j.pending++
	if j.pending >= j.flushEvery {
		if err := j.w.Flush(); err != nil {
			logger.Warn(context.Background(), "⚠️ journal flush failed", zap.Error(err))
		}
		j.pending = 0
	}
}

// Sync 立即落盘（K线关桶时调用，保证桶边界前的成交可恢复）
func (j *Journal) Sync() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.w.Flush(); err != nil {
		logger.Warn(context.Background(), "⚠️ journal sync failed", zap.Error(err))
	}
	j.pending = 0
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.w.Close()
}

func (r record) toTrade() (model.Trade, error) {
	price, err := decimal.NewFromString(r.Price)
	if err != nil {
		return model.Trade{}, err
	}
	qty, err := decimal.NewFromString(r.Qty)
	if err != nil {
		return model.Trade{}, err
	}
	return model.Trade{
		Symbol:   r.Symbol,
		Price:    price,
		Quantity: qty,
		Side:     model.Side(r.Side),
		TsUnixMs: r.TsMs,
		TradeID:  r.ID,
	}, nil
}
