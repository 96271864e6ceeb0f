package feed

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/khaitrandinh/binance-dashboard/internal/market/model"
	"github.com/khaitrandinh/binance-dashboard/pkg/logger"
)

func init() {
	logger.Init("feed-test", "error")
}

// flakySource 前 failures 次 Run 直接报错，之后吐 trades 然后等 ctx
type flakySource struct {
	failures int32
	trades   []model.Trade
}

func (s *flakySource) Name() string { return "flaky" }

func (s *flakySource) Run(ctx context.Context, out chan<- model.Trade) error {
	if atomic.AddInt32(&s.failures, -1) >= 0 {
		return errors.New("connection reset")
	}
	for _, tr := range s.trades {
		select {
		case out <- tr:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	<-ctx.Done()
	return ctx.Err()
}

func someTrade() model.Trade {
	return model.Trade{
		Symbol:   "BTCUSDT",
		Price:    decimal.RequireFromString("100"),
		Quantity: decimal.RequireFromString("1"),
		Side:     model.SideBuy,
		TsUnixMs: 1000,
		TradeID:  "1",
	}
}

func TestRunner_ReconnectsThenDelivers(t *testing.T) {
	src := &flakySource{failures: 2, trades: []model.Trade{someTrade()}}

	r := NewRunner(src)
	r.BaseBackoff = time.Millisecond
	r.MaxBackoff = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Run(ctx)

	select {
	case tr := <-r.Out:
		if tr.Symbol != "BTCUSDT" {
			t.Fatalf("unexpected trade %+v", tr)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("trade never arrived after reconnects")
	}
	if r.State() != StateConnected {
		t.Fatalf("state = %v, want connected", r.State())
	}
}

func TestRunner_ClosesOutOnCancel(t *testing.T) {
	src := &flakySource{trades: nil}

	r := NewRunner(src)
	r.BaseBackoff = time.Millisecond
	r.MaxBackoff = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	r.Run(ctx)
	cancel()

	select {
	case _, ok := <-r.Out:
		if ok {
			t.Fatal("expected closed channel, got trade")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Out never closed after cancel")
	}
	if r.State() != StateDisconnected {
		t.Fatalf("state = %v, want disconnected", r.State())
	}
}
