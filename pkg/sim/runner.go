// 文件: pkg/sim/runner.go
// 多轮模拟编排
//
// 工厂函数每轮造一套全新的 clock/engine/agents (状态绝不跨轮共享)，
// Runner 顺序跑 N 轮，收集每轮的指标历史

package sim

import (
	"fmt"
	"log"

	"margin.com/pkg/metrics"
)

// Factory 构造一次全新的模拟
type Factory func() (*Simulation, error)

// Runner 多轮模拟执行器
type Runner struct {
	factory Factory
	runs    int
}

// NewRunner 创建执行器
func NewRunner(factory Factory, runs int) *Runner {
	if runs < 1 {
		runs = 1
	}
	return &Runner{factory: factory, runs: runs}
}

// Run 顺序执行全部轮次，返回每轮的指标历史
//
// 任何一轮失败立即终止，前面已完成轮次的结果不返回
func (r *Runner) Run() ([][]metrics.Snapshot, error) {
	results := make([][]metrics.Snapshot, 0, r.runs)

	for i := 0; i < r.runs; i++ {
		log.Printf("[Runner] Simulation run %d/%d", i+1, r.runs)

		simulation, err := r.factory()
		if err != nil {
			return nil, fmt.Errorf("run %d: build simulation: %w", i+1, err)
		}
		if err := simulation.Run(); err != nil {
			return nil, fmt.Errorf("run %d: %w", i+1, err)
		}

		results = append(results, simulation.Metrics().History())
	}

	return results, nil
}
