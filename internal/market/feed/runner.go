package feed

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/khaitrandinh/binance-dashboard/internal/market/model"
	"github.com/khaitrandinh/binance-dashboard/pkg/logger"
	"github.com/khaitrandinh/binance-dashboard/pkg/metrics"
	"go.uber.org/zap"
)

// 连接状态机：不要用“裸变量重新赋值”表达重连
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Runner 负责断线重连：指数退避（基数翻倍，封顶），K线内存状态不受影响
type Runner struct {
	sources []Source

	// Out 是统一 trade 流出口（上层只消费这个）
	Out chan model.Trade

	// Backoff 参数：5s 起步，翻倍到 30s 封顶
	BaseBackoff time.Duration
	MaxBackoff  time.Duration

	state atomic.Int32
}

func NewRunner(sources ...Source) *Runner {
	return &Runner{
		sources:     sources,
		Out:         make(chan model.Trade, 64_000),
		BaseBackoff: 5 * time.Second,
		MaxBackoff:  30 * time.Second,
	}
}

func (r *Runner) State() State { return State(r.state.Load()) }

func (r *Runner) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, s := range r.sources {
		src := s
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.runOne(ctx, src)
		}()
	}

	go func() {
		wg.Wait()
		close(r.Out)
	}()
}

func (r *Runner) runOne(ctx context.Context, src Source) {
	backoff := r.BaseBackoff
	for {
		if ctx.Err() != nil {
			r.state.Store(int32(StateDisconnected))
			return
		}

		r.state.Store(int32(StateConnecting))
		start := time.Now()
		r.state.Store(int32(StateConnected))

		err := src.Run(ctx, r.Out) // 阻塞直到断线/错误/ctx cancel
		r.state.Store(int32(StateDisconnected))

		if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return
		}

		// 连接稳定过才重置退避，避免“连上马上断”的重连风暴
		if time.Since(start) >= r.MaxBackoff {
			backoff = r.BaseBackoff
		}

		// 指数退避 + jitter（避免多个源同时重连造成尖峰）
		sleep := backoff + time.Duration(rand.Int63n(int64(backoff/2+1)))
		if sleep > r.MaxBackoff {
			sleep = r.MaxBackoff
		}

		metrics.FeedReconnectTotal.Inc()
		logger.Warn(ctx, "⚠️ feed disconnected, reconnecting",
			zap.String("source", src.Name()),
			zap.Error(err),
			zap.Duration("backoff", sleep),
		)

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		backoff *= 2
		if backoff > r.MaxBackoff {
			backoff = r.MaxBackoff
		}
	}
}
