// 文件: pkg/clock/clock.go
// 模拟时钟 - 离散 tick 计数器
//
// 【设计】
// - 整个模拟系统共享一个 Clock 实例
// - 只有模拟驱动器 (sim.Simulation) 调用 Step() 推进时间
// - 其他组件 (Oracle / Engine) 只读当前 tick
//
// 【tick 语义】
// - tick 从 0 开始 (开仓可以发生在 tick 0)
// - Step() 推进一格，horizon 次内返回 true，之后永远 false
// - 报价序列长度必须 >= horizon+1，否则 Oracle 会越界

package clock

// Clock 离散模拟时钟
type Clock struct {
	horizon int // 总 tick 数
	tick    int // 当前 tick，从 0 开始
}

// New 创建时钟
// horizon: 模拟总时长 (tick 数)
func New(horizon int) *Clock {
	return &Clock{horizon: horizon}
}

// Step 推进一个 tick
//
// 返回 true 表示模拟尚未结束，作为驱动器主循环的继续信号:
//
//	for clk.Step() { ... }
//
// 恰好返回 horizon 次 true，之后永远返回 false
func (c *Clock) Step() bool {
	c.tick++
	return c.tick <= c.horizon
}

// CurrentTick 当前 tick
func (c *Clock) CurrentTick() int {
	return c.tick
}

// Horizon 配置的总 tick 数
func (c *Clock) Horizon() int {
	return c.horizon
}

// Exhausted 时间是否已走完
func (c *Clock) Exhausted() bool {
	return c.tick >= c.horizon
}
