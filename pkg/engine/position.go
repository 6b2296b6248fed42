// 文件: pkg/engine/position.go
// 杠杆头寸数据结构
//
// 【关键概念区分】
// - 未实现盈亏 (uPnL): 随 tick 实时变化，由 Engine 按估值公式计算，不存结构体
// - 结算盈亏: 只有 close / liquidate 时才产生，通过返回值和事件带出

package engine

import (
	"margin.com/pkg/oracle"
)

// =============================================================================
// 头寸状态
// =============================================================================

// PositionStatus 头寸生命周期状态
//
// Open → Closed (主动平仓) 或 Open → Liquidated (强平)
// 两者互斥，各自最多发生一次，id 永不复用
type PositionStatus int8

const (
	StatusOpen PositionStatus = iota
	StatusClosed
	StatusLiquidated
)

func (s PositionStatus) String() string {
	switch s {
	case StatusOpen:
		return "OPEN"
	case StatusClosed:
		return "CLOSED"
	case StatusLiquidated:
		return "LIQUIDATED"
	}
	return "UNKNOWN"
}

// =============================================================================
// Position - 杠杆头寸
// =============================================================================

// Position 一笔杠杆头寸
//
// 开仓时固定的字段开仓后不再变化，只有 Status 会变
type Position struct {
	ID    int64
	Owner oracle.Account

	// SrcToken: 借入的本金币种 (从 Vault 借出)
	// DstToken: 头寸做多的目标币种
	SrcToken        oracle.Currency
	DstToken        oracle.Currency
	CollateralToken oracle.Currency

	Collateral float64 // 交易者自有保证金
	Principal  float64 // 借入本金 (SrcToken 计价)

	// 开仓时捕获的入场价
	// DstEntryPrice 已经过滑点策略处理，SrcEntryPrice 是原始报价
	DstEntryPrice oracle.Price
	SrcEntryPrice oracle.Price

	OpenTick int
	Status   PositionStatus
}

// Leverage 杠杆倍数 = 本金 / 保证金
//
// 仅信息用途，Engine 默认不强制上限 (见 Config.MaxLeverage)
func (p *Position) Leverage() float64 {
	if p.Collateral == 0 {
		return 0
	}
	return p.Principal / p.Collateral
}

// IsOpen 是否仍然持有
func (p *Position) IsOpen() bool {
	return p.Status == StatusOpen
}

// IsTerminal 是否已进入终态
func (p *Position) IsTerminal() bool {
	return p.Status == StatusClosed || p.Status == StatusLiquidated
}

// =============================================================================
// 头寸变更事件
// =============================================================================

// EventType 头寸事件类型
type EventType int8

const (
	EventPositionOpened EventType = iota
	EventPositionClosed
	EventPositionLiquidated
)

func (t EventType) String() string {
	switch t {
	case EventPositionOpened:
		return "OPENED"
	case EventPositionClosed:
		return "CLOSED"
	case EventPositionLiquidated:
		return "LIQUIDATED"
	}
	return "UNKNOWN"
}

// PositionEvent 头寸变更事件
//
// 用于通知 journal / metrics 等旁路观察者，观察者只读不回写
type PositionEvent struct {
	Type EventType
	Tick int

	// 事件发生时刻的头寸快照 (值拷贝)
	Position Position

	// 结算结果，开仓事件中恒为 0
	TraderPL      float64
	LiquidationPL float64
}
