// 文件: pkg/journal/publisher.go
// 结算流水 Kafka 发布器
//
// 挂在引擎的 OnEvent 回调上，把每条头寸事件转成流水发到 Kafka。
// 发布失败只记日志: 流水是旁路观察者，不能让 Kafka 故障打断模拟

package journal

import (
	"fmt"
	"log"

	"margin.com/pkg/engine"
	"margin.com/pkg/kafka"
)

// Publisher 流水发布器
type Publisher struct {
	producer *kafka.Producer
}

// NewPublisher 创建发布器
func NewPublisher(brokers []string) (*Publisher, error) {
	producer, err := kafka.NewProducer(kafka.DefaultProducerConfig(brokers))
	if err != nil {
		return nil, fmt.Errorf("journal producer: %w", err)
	}
	return &Publisher{producer: producer}, nil
}

// Handle 引擎事件回调
//
// 用法:
//
//	eng.OnEvent(publisher.Handle)
func (p *Publisher) Handle(ev engine.PositionEvent) {
	entry := FromEvent(ev)

	// 同一头寸的流水按 position_id 分区，保证 OPEN 在 CLOSE 之前
	key := fmt.Sprintf("%d", entry.PositionID)
	if err := p.producer.Publish(TopicPositionEvents, key, entry); err != nil {
		log.Printf("[Journal] Publish failed: %s: %v", entry.EventID, err)
	}
}

// Close 刷完缓冲并关闭
func (p *Publisher) Close() error {
	return p.producer.Close()
}
