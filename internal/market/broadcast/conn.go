package broadcast

import (
	"context"
	"math/rand"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/segmentio/encoding/json"
	"go.uber.org/zap"

	"github.com/khaitrandinh/binance-dashboard/pkg/logger"
	"github.com/khaitrandinh/binance-dashboard/pkg/metrics"
)

type Conn struct {
	id string

	ws     *websocket.Conn
	hub    *Hub
	mu     sync.Mutex
	latest map[string][]byte // LatestOnly: topic -> 最新 payload
	notify chan struct{}     // 缓冲 1,合并唤醒
	closed atomic.Bool

	lastPongUnix atomic.Int64
}

func NewConn(h *Hub, ws *websocket.Conn) *Conn {
	return &Conn{
		id:     uuid.NewString(),
		ws:     ws,
		hub:    h,
		latest: make(map[string][]byte, 16),
		notify: make(chan struct{}, 1),
	}
}

// Offer 非阻塞投递：同一 topic 只保留最新一条，慢客户端丢中间帧
func (c *Conn) Offer(topic string, payload []byte) bool {
	if c.closed.Load() {
		return false
	}
	cp := make([]byte, len(payload))
	copy(cp, payload)

	c.mu.Lock()
	c.latest[topic] = cp
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
	return true
}

func (c *Conn) flushLatest(max int) [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.latest) == 0 {
		return nil
	}
	out := make([][]byte, 0, len(c.latest))
	for k, v := range c.latest {
		out = append(out, v)
		delete(c.latest, k)
		if len(out) >= max {
			break
		}
	}
	return out
}

type Server struct {
	Hub      *Hub
	Upgrader websocket.Upgrader
	ctx      context.Context

	PongWait   time.Duration
	PingPeriod time.Duration
	PingJitter time.Duration
	WriteWait  time.Duration
	ReadLimit  int64
}

func NewServer(ctx context.Context, h *Hub) *Server {
	return &Server{
		Hub: h,
		ctx: ctx,
		Upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // TODO: 上线前校验 Origin 白名单
		},
		PongWait:   60 * time.Second,
		PingPeriod: 30 * time.Second,
		PingJitter: 100 * time.Millisecond,
		WriteWait:  5 * time.Second,
		ReadLimit:  1 << 10,
	}
}

func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	wsConn, err := s.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := NewConn(s.Hub, wsConn)
	metrics.WsConnections.Inc()

	go s.writePump(c)
	go s.readPump(c)
}

func (s *Server) readPump(c *Conn) {
	ctx := context.Background()
	defer func() {
		c.closed.Store(true)
		c.hub.RemoveConn(c)
		_ = c.ws.Close()
		metrics.WsConnections.Dec()
	}()

	c.ws.SetReadLimit(s.ReadLimit)
	c.lastPongUnix.Store(time.Now().UnixNano())
	_ = c.ws.SetReadDeadline(time.Now().Add(s.PongWait))
	c.ws.SetPongHandler(func(string) error {
		c.lastPongUnix.Store(time.Now().UnixNano())
		_ = c.ws.SetReadDeadline(time.Now().Add(s.PongWait))
		return nil
	})
	c.ws.SetCloseHandler(func(code int, text string) error {
		_ = c.ws.SetReadDeadline(time.Now()) // 让 ReadMessage 立刻返回
		return nil
	})

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}
		_, b, err := c.ws.ReadMessage()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				logger.Debug(ctx, "ws read timeout", zap.String("conn", c.id))
			} else if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug(ctx, "ws read error", zap.String("conn", c.id), zap.Error(err))
			}
			return
		}

		var msg ClientMsg
		if json.Unmarshal(b, &msg) != nil {
			continue
		}
		switch msg.Type {
		case "sub":
			c.hub.Subscribe(c, msg.Topics)
		case "unsub":
			c.hub.Unsubscribe(c, msg.Topics)
		case "ping":
			// 应用层心跳，有些前端 ws 库发不了协议层 ping
			pong, _ := json.Marshal(ServerMsg{Type: "pong"})
			c.Offer("_pong", pong)
		}
	}
}

const maxFlush = 256 // 单次最多写多少条，订阅 topic 极多时也不会一次写爆

func (s *Server) writePump(c *Conn) {
	// 错开各连接的 ping 时间点
	if s.PingJitter > 0 {
		t := time.NewTimer(time.Duration(rand.Int63n(int64(s.PingJitter))))
		defer t.Stop()
		select {
		case <-t.C:
		case <-s.ctx.Done():
			return
		}
	}

	ticker := time.NewTicker(s.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case <-c.notify:
			batch := c.flushLatest(maxFlush)
			if len(batch) == 0 {
				continue
			}

			// 批量写：一次 NextWriter 写完本批，减少 syscall
			_ = c.ws.SetWriteDeadline(time.Now().Add(s.WriteWait))
			w, err := c.ws.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			for i, payload := range batch {
				if i > 0 {
					if _, err := w.Write([]byte("\n")); err != nil {
						_ = w.Close()
						return
					}
				}
				if _, err := w.Write(payload); err != nil {
					_ = w.Close()
					return
				}
			}
			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(s.WriteWait))
			if err := c.ws.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(s.WriteWait)); err != nil {
				return
			}

		case <-s.ctx.Done():
			return
		}
	}
}
