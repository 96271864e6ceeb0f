package journal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khaitrandinh/binance-dashboard/internal/market/model"
	"github.com/khaitrandinh/binance-dashboard/pkg/logger"
)

func init() {
	logger.Init("journal-test", "error")
}

func tradeAt(ts int64, price string) model.Trade {
	return model.Trade{
		Symbol:   "BTCUSDT",
		Price:    decimal.RequireFromString(price),
		Quantity: decimal.RequireFromString("0.5"),
		Side:     model.SideBuy,
		TsUnixMs: ts,
		TradeID:  "t-1",
	}
}

func TestAppendReplay_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trades.wal")

	j, err := New(path, false)
	require.NoError(t, err)
	j.Append(tradeAt(1000, "100"))
	j.Append(tradeAt(2000, "105.5"))
	j.Append(tradeAt(3000, "98"))
	require.NoError(t, j.Close())

	var got []model.Trade
	n, err := Replay(path, func(tr model.Trade) { got = append(got, tr) })
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.Len(t, got, 3)
	assert.Equal(t, "BTCUSDT", got[0].Symbol)
	assert.True(t, got[1].Price.Equal(decimal.RequireFromString("105.5")))
	assert.Equal(t, model.SideBuy, got[2].Side)
	assert.Equal(t, int64(3000), got[2].TsUnixMs)
}

func TestReplay_MissingFileIsEmpty(t *testing.T) {
	n, err := Replay(filepath.Join(t.TempDir(), "nope.wal"), func(model.Trade) {
		t.Fatal("callback should not fire")
	})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

// 崩溃时写了半条：回放应只还原完整记录，并把尾巴截掉
func TestReplay_RepairsTruncatedTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trades.wal")

	j, err := New(path, false)
	require.NoError(t, err)
	j.Append(tradeAt(1000, "100"))
	j.Append(tradeAt(2000, "200"))
	require.NoError(t, j.Close())

	goodSize := fileSize(t, path)

	// 模拟半写：只追加 3 个字节（不够一个 header）
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.Write([]byte{0x01, 0x02, 0x03})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	var got []model.Trade
	n, err := Replay(path, func(tr model.Trade) { got = append(got, tr) })
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, got, 2)
	assert.Equal(t, goodSize, fileSize(t, path), "tail should be truncated back")

	// 修复后可以继续追加，再次回放完整
	j2, err := New(path, false)
	require.NoError(t, err)
	j2.Append(tradeAt(3000, "300"))
	require.NoError(t, j2.Close())

	got = nil
	n, err = Replay(path, func(tr model.Trade) { got = append(got, tr) })
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestNew_StartFreshTruncates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trades.wal")

	j, err := New(path, false)
	require.NoError(t, err)
	j.Append(tradeAt(1000, "100"))
	require.NoError(t, j.Close())
	require.Greater(t, fileSize(t, path), int64(0))

	j2, err := New(path, true)
	require.NoError(t, err)
	require.NoError(t, j2.Close())

	n, err := Replay(path, func(model.Trade) {})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestSync_FlushesPending(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trades.wal")

	j, err := New(path, false, WithFlushEvery(1000))
	require.NoError(t, err)
	j.Append(tradeAt(1000, "100"))
	j.Sync()

	// Writer 还开着，但数据已经 fsync，可以直接回放
	n, err := Replay(path, func(model.Trade) {})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NoError(t, j.Close())
}

func fileSize(t *testing.T, path string) int64 {
	t.Helper()
	st, err := os.Stat(path)
	require.NoError(t, err)
	return st.Size()
}
