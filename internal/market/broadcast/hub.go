package broadcast

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/khaitrandinh/binance-dashboard/pkg/logger"
)

// Hub 订阅登记表: topic -> 连接集合
// 广播对每个连接都是非阻塞 Offer，慢客户端不会卡住别人
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[*Conn]struct{}
	last map[string][]byte // topic -> 最新 payload，新订阅者立即回放
}

func NewHub() *Hub {
	return &Hub{
		subs: make(map[string]map[*Conn]struct{}, 64),
		last: make(map[string][]byte, 64),
	}
}

func (h *Hub) Subscribe(c *Conn, topics []string) {
	logger.Debug(context.Background(), "ws subscribe",
		zap.String("conn", c.id), zap.Strings("topics", topics))

	// 登记和取快照在同一把锁里，避免订阅后立刻 publish 却取不到
	h.mu.Lock()
	snaps := make([][2][]byte, 0, len(topics))
	for _, t := range topics {
		set := h.subs[t]
		if set == nil {
			set = make(map[*Conn]struct{}, 16)
			h.subs[t] = set
		}
		set[c] = struct{}{}

		if b := h.last[t]; b != nil {
			cp := make([]byte, len(b))
			copy(cp, b)
			snaps = append(snaps, [2][]byte{[]byte(t), cp})
		}
	}
	h.mu.Unlock()

	// 立即回放最新快照，首包不用等下一次广播
	for _, s := range snaps {
		_ = c.Offer(string(s[0]), s[1])
	}
}

func (h *Hub) Unsubscribe(c *Conn, topics []string) {
	h.mu.Lock()
	for _, t := range topics {
		if set := h.subs[t]; set != nil {
			delete(set, c)
			if len(set) == 0 {
				delete(h.subs, t)
			}
		}
	}
	h.mu.Unlock()
}

func (h *Hub) RemoveConn(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for topic, set := range h.subs {
		delete(set, c)
		if len(set) == 0 {
			delete(h.subs, topic)
		}
	}
}

// SubscriberCount 某 topic 当前订阅数
func (h *Hub) SubscriberCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[topic])
}

// Publish 把 payload 广播给 topic 的所有订阅者
func (h *Hub) Publish(topic string, payload []byte) {
	cp := make([]byte, len(payload))
	copy(cp, payload)

	h.mu.Lock()
	h.last[topic] = cp
	set := h.subs[topic]
	conns := make([]*Conn, 0, len(set))
	for c := range set {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	// fanout: 每连接 LatestOnly
	for _, c := range conns {
		_ = c.Offer(topic, payload)
	}
}
