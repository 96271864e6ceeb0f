package broadcast

import "context"

type Message struct {
	Topic   string
	Payload []byte
}

// Broker 进程间消息通道
// 单机用内存实现，多实例部署换 NATS，ws 层不用改
type Broker interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(ctx context.Context, topics []string) (<-chan Message, error)
	Close() error
}
