package broadcast

import (
	"context"
)

// Gateway 订阅 broker 消息桥接到本地 hub
// 生产者 (Dispatcher) 只认识 broker，ws 这一侧只认识 hub
type Gateway struct {
	hub    *Hub
	broker Broker
}

func NewGateway(hub *Hub, broker Broker) *Gateway {
	return &Gateway{hub: hub, broker: broker}
}

func (g *Gateway) Run(ctx context.Context, topics []string) error {
	ch, err := g.broker.Subscribe(ctx, topics)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			g.hub.Publish(m.Topic, m.Payload)
		}
	}
}
