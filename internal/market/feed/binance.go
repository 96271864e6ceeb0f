package feed

import (
	"strings"
	"sync"
	"time"

	"context"

	"github.com/gorilla/websocket"
	"github.com/khaitrandinh/binance-dashboard/internal/market/model"
)

// BinanceSource 订阅 Binance aggTrade 组合流
type BinanceSource struct {
	BaseURL string   // e.g. wss://stream.binance.com:9443
	Streams []string // e.g. []{"btcusdt@aggTrade"}

	ReadLimit int64
	PongWait  time.Duration
	WriteWait time.Duration
	Dialer    *websocket.Dialer

	// 同一条连接内按 aggTrade id 去重（断线重连后 Binance 可能重放最后一笔）
	lastAggID map[string]int64
}

func NewBinanceSource(streams []string) *BinanceSource {
	return &BinanceSource{
		BaseURL:   "wss://stream.binance.com:9443",
		Streams:   streams,
		ReadLimit: 1 << 20,
		PongWait:  60 * time.Second,
		WriteWait: 2 * time.Second,
		Dialer:    websocket.DefaultDialer,
		lastAggID: make(map[string]int64, 8),
	}
}

func (s *BinanceSource) Name() string { return "binance" }

func (s *BinanceSource) Run(ctx context.Context, out chan<- model.Trade) error {
	url := s.BaseURL + "/stream?streams=" + strings.Join(s.Streams, "/")

	c, _, err := s.Dialer.DialContext(ctx, url, nil)
	if err != nil {
		return err
	}
	defer c.Close()

	c.SetReadLimit(s.ReadLimit)
	_ = c.SetReadDeadline(time.Now().Add(s.PongWait))
	c.SetPongHandler(func(string) error {
		_ = c.SetReadDeadline(time.Now().Add(s.PongWait))
		return nil
	})

	// Binance 会主动发 ping，必须带原 payload 回 pong，否则 10 分钟被踢
	var writeMu sync.Mutex
	c.SetPingHandler(func(appData string) error {
		b := []byte(appData)
		cp := make([]byte, len(b))
		copy(cp, b)

		writeMu.Lock()
		defer writeMu.Unlock()
		_ = c.SetWriteDeadline(time.Now().Add(s.WriteWait))
		return c.WriteControl(websocket.PongMessage, cp, time.Now().Add(s.WriteWait))
	})

	for ctx.Err() == nil {
		_, msg, err := c.ReadMessage()
		if err != nil {
			return err
		}
		tr, aggID, err := parseAggTradeCombined(msg)
		if err != nil {
			continue
		}
		// 去重：单写者路径的幂等边界在这里，聚合器内部不再判重
		if last, ok := s.lastAggID[tr.Symbol]; ok && aggID <= last {
			continue
		}
		s.lastAggID[tr.Symbol] = aggID

		select {
		case out <- tr:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return ctx.Err()
}

var _ Source = (*BinanceSource)(nil)
