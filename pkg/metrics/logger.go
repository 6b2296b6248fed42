// 文件: pkg/metrics/logger.go
// 模拟指标收集器
//
// 【职责】
// 每个 tick 收一份快照 (tick、未平头寸、三本账余额)，
// 留在内存里供模拟结束后分析，同时推给注册的外部 Sink。
// 纯旁路: 只写出，不读回，引擎行为与有没有指标无关

package metrics

import (
	"log"

	"margin.com/pkg/oracle"
)

// Snapshot 单个 tick 的指标快照
type Snapshot struct {
	Tick          int                         `json:"tick"`
	OpenPositions []int64                     `json:"open_positions"`
	Vaults        map[oracle.Currency]float64 `json:"vaults"`
	Insurance     map[oracle.Currency]float64 `json:"insurance"`
	Governance    map[oracle.Currency]float64 `json:"governance"`
}

// Sink 外部指标接收端 (NATS / 文件 / 测试 Mock)
type Sink interface {
	Push(s Snapshot) error
}

// Logger 指标收集器
type Logger struct {
	history []Snapshot
	sinks   []Sink
}

// NewLogger 创建收集器
func NewLogger(sinks ...Sink) *Logger {
	return &Logger{sinks: sinks}
}

// Record 记录一个 tick 的快照
//
// Sink 推送失败只记日志不中断模拟: 指标是旁路，不能反过来影响主流程
func (l *Logger) Record(s Snapshot) {
	l.history = append(l.history, s)

	for _, sink := range l.sinks {
		if err := sink.Push(s); err != nil {
			log.Printf("[Metrics] Sink push failed at tick %d: %v", s.Tick, err)
		}
	}
}

// History 全部快照 (按 tick 顺序)
func (l *Logger) History() []Snapshot {
	return l.history
}

// Last 最近一份快照，没有则返回零值和 false
func (l *Logger) Last() (Snapshot, bool) {
	if len(l.history) == 0 {
		return Snapshot{}, false
	}
	return l.history[len(l.history)-1], true
}
