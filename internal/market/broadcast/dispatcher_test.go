package broadcast

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khaitrandinh/binance-dashboard/internal/market/model"
	"github.com/khaitrandinh/binance-dashboard/pkg/logger"
)

func init() {
	logger.Init("broadcast-test", "error")
}

type recordingBroker struct {
	mu   sync.Mutex
	msgs []Message
}

func (b *recordingBroker) Publish(_ context.Context, topic string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = append(b.msgs, Message{Topic: topic, Payload: payload})
	return nil
}

func (b *recordingBroker) Subscribe(context.Context, []string) (<-chan Message, error) {
	return nil, nil
}

func (b *recordingBroker) Close() error { return nil }

func (b *recordingBroker) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.msgs)
}

func testCandle(tf model.Timeframe) model.Candle {
	p := decimal.NewFromInt(100)
	return model.Candle{
		Symbol: "BTCUSDT", Timeframe: tf, BucketStart: 0,
		Open: p, High: p, Low: p, Close: p,
		Volume: decimal.NewFromInt(1), TradeCount: 1,
	}
}

func TestDispatcher_ThrottlesInProgressCandles(t *testing.T) {
	broker := &recordingBroker{}
	d := NewDispatcher(broker, time.Second)

	clock := time.Unix(1000, 0)
	d.now = func() time.Time { return clock }

	c := testCandle(model.TF1m)

	// 同一秒内的进行中更新只出一条
	d.Dispatch(model.TF1m, c, false)
	d.Dispatch(model.TF1m, c, false)
	d.Dispatch(model.TF1m, c, false)
	assert.Equal(t, 1, broker.count())

	// 时间推进后放行下一条
	clock = clock.Add(time.Second)
	d.Dispatch(model.TF1m, c, false)
	assert.Equal(t, 2, broker.count())
}

func TestDispatcher_FinalBypassesThrottle(t *testing.T) {
	broker := &recordingBroker{}
	d := NewDispatcher(broker, time.Second)

	clock := time.Unix(1000, 0)
	d.now = func() time.Time { return clock }

	c := testCandle(model.TF1m)

	d.Dispatch(model.TF1m, c, false)
	// 收盘帧不受限流影响，必须出去
	d.Dispatch(model.TF1m, c, true)
	d.Dispatch(model.TF1m, c, true)
	assert.Equal(t, 3, broker.count())
}

func TestDispatcher_TimeframesGatedIndependently(t *testing.T) {
	broker := &recordingBroker{}
	d := NewDispatcher(broker, time.Second)

	clock := time.Unix(1000, 0)
	d.now = func() time.Time { return clock }

	d.Dispatch(model.TF1m, testCandle(model.TF1m), false)
	d.Dispatch(model.TF1h, testCandle(model.TF1h), false)
	// 1m 被限流不影响 1h
	assert.Equal(t, 2, broker.count())
}

func TestMemBroker_PubSub(t *testing.T) {
	b := NewMemBroker()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := b.Subscribe(ctx, []string{"kline:1m:BTCUSDT"})
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, "kline:1m:BTCUSDT", []byte("hello")))
	require.NoError(t, b.Publish(ctx, "kline:1h:BTCUSDT", []byte("other topic")))

	select {
	case m := <-ch:
		assert.Equal(t, "kline:1m:BTCUSDT", m.Topic)
		assert.Equal(t, []byte("hello"), m.Payload)
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}

	// 没订阅的 topic 不会进来
	select {
	case m := <-ch:
		t.Fatalf("unexpected message: %+v", m)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemBroker_Wildcard(t *testing.T) {
	b := NewMemBroker()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := b.Subscribe(ctx, []string{"kline:*:*"})
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, "kline:1m:BTCUSDT", []byte("a")))
	require.NoError(t, b.Publish(ctx, "kline:1h:ETHUSDT", []byte("b")))
	require.NoError(t, b.Publish(ctx, "snapshot:BTCUSDT", []byte("no match")))

	var got []string
	for i := 0; i < 2; i++ {
		select {
		case m := <-ch:
			got = append(got, m.Topic)
		case <-time.After(time.Second):
			t.Fatal("wildcard message not delivered")
		}
	}
	assert.Equal(t, []string{"kline:1m:BTCUSDT", "kline:1h:ETHUSDT"}, got)

	select {
	case m := <-ch:
		t.Fatalf("segment count mismatch should not match: %+v", m)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTopicForCandle(t *testing.T) {
	c := testCandle(model.TF15m)
	assert.Equal(t, "kline:15m:BTCUSDT", TopicForCandle(c))
}
