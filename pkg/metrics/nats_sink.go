// 文件: pkg/metrics/nats_sink.go
// NATS 指标推送端
//
// 轻量级替代 Kafka，适合本地开发时实时观察模拟进度
// (结算流水走 Kafka 见 pkg/journal，指标快照走 NATS)

package metrics

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// DefaultSubject 默认推送主题
const DefaultSubject = "margin.sim.metrics"

var _ Sink = (*NATSSink)(nil)

// NATSSink 把快照 JSON 序列化后推到 NATS 主题
type NATSSink struct {
	conn    *nats.Conn
	subject string
}

// NewNATSSink 连接 NATS 并创建推送端
func NewNATSSink(url, subject string) (*NATSSink, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSSink{conn: conn, subject: subject}, nil
}

// Push 推送一份快照
func (s *NATSSink) Push(snapshot Snapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	return s.conn.Publish(s.subject, data)
}

// Close 关闭连接
func (s *NATSSink) Close() {
	s.conn.Close()
}
