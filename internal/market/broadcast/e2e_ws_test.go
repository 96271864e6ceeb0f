package broadcast

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/segmentio/encoding/json"
	"github.com/shopspring/decimal"

	"github.com/khaitrandinh/binance-dashboard/internal/market/model"
)

func TestWS_E2E_DispatchToClient(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1) hub + ws server + broker + gateway
	hub := NewHub()
	srv := NewServer(ctx, hub)
	broker := NewMemBroker()
	gw := NewGateway(hub, broker)

	go func() { _ = gw.Run(ctx, []string{"kline:1m:BTCUSDT"}) }()

	mux := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ws" {
			srv.ServeWS(w, r)
			return
		}
		w.WriteHeader(404)
	}))
	defer mux.Close()

	wsURL := "ws" + strings.TrimPrefix(mux.URL, "http") + "/ws"
	c, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial err=%v", err)
	}
	defer c.Close()

	// 2) 订阅 1m K线
	bsub, _ := json.Marshal(ClientMsg{Type: "sub", Topics: []string{"kline:1m:BTCUSDT"}})
	if err := c.WriteMessage(websocket.TextMessage, bsub); err != nil {
		t.Fatalf("sub write err=%v", err)
	}
	time.Sleep(100 * time.Millisecond) // 等订阅登记完成

	// 3) 聚合器侧推一根收盘K线
	d := NewDispatcher(broker, time.Second)
	candle := model.Candle{
		Symbol: "BTCUSDT", Timeframe: model.TF1m, BucketStart: 60_000,
		Open:  decimal.NewFromInt(100), High: decimal.NewFromInt(105),
		Low:   decimal.NewFromInt(98), Close: decimal.NewFromInt(98),
		Volume: decimal.NewFromInt(4), TradeCount: 3,
	}
	d.Dispatch(model.TF1m, candle, true)

	// 4) 客户端应收到这根K线
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))

	found := false
	for i := 0; i < 10; i++ {
		_, msg, err := c.ReadMessage()
		if err != nil {
			break
		}
		// 批量帧按换行分隔
		for _, line := range strings.Split(string(msg), "\n") {
			var sm ServerMsg
			if json.Unmarshal([]byte(line), &sm) != nil {
				continue
			}
			if sm.Type != "kline" || sm.Topic != "kline:1m:BTCUSDT" {
				continue
			}
			if sm.Candle.BucketStart == 60_000 &&
				sm.Candle.Open == "100" && sm.Candle.High == "105" &&
				sm.Candle.Low == "98" && sm.Candle.Close == "98" &&
				sm.Candle.Volume == "4" && sm.Candle.Final {
				found = true
			}
		}
		if found {
			break
		}
	}

	if !found {
		t.Fatalf("did not receive final 1m candle over ws")
	}
}
