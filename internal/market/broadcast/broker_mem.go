package broadcast

import (
	"context"
	"strings"
	"sync"
)

// MemBroker 进程内 broker，单机部署用。
// 订阅语义对齐 NATS：topic 按 ":" 分段，"*" 通配单段。
type MemBroker struct {
	mu   sync.RWMutex
	subs []*memSub
}

type memSub struct {
	topics []string
	ch     chan Message
}

func NewMemBroker() *MemBroker {
	return &MemBroker{}
}

// topicMatch 分段匹配，"*" 通配任意一段
func topicMatch(pattern, topic string) bool {
	if pattern == topic {
		return true
	}
	if !strings.Contains(pattern, "*") {
		return false
	}
	ps := strings.Split(pattern, ":")
	ts := strings.Split(topic, ":")
	if len(ps) != len(ts) {
		return false
	}
	for i, p := range ps {
		if p != "*" && p != ts[i] {
			return false
		}
	}
	return true
}

func (b *MemBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	// fanout: at-most-once，慢订阅者直接丢
	msg := Message{Topic: topic, Payload: payload}
	for _, sub := range b.subs {
		for _, t := range sub.topics {
			if topicMatch(t, topic) {
				select {
				case sub.ch <- msg:
				default:
				}
				break
			}
		}
	}
	return nil
}

func (b *MemBroker) Subscribe(ctx context.Context, topics []string) (<-chan Message, error) {
	sub := &memSub{topics: topics, ch: make(chan Message, 4096)}
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		for i, s := range b.subs {
			if s == sub {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				break
			}
		}
		b.mu.Unlock()
		close(sub.ch)
	}()

	return sub.ch, nil
}

func (b *MemBroker) Close() error { return nil }
