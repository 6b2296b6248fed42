// 文件: pkg/journal/model.go
// 结算流水 - 事件定义
//
// 引擎每次 open/close/liquidate 产生一条流水，
// 经 Kafka 传输，由 DBWriter 消费写入 MySQL 供离线分析

package journal

import (
	"fmt"

	"margin.com/pkg/engine"
)

// Kafka Topic
const TopicPositionEvents = "margin_position_events"

// EntryType 流水类型
type EntryType string

const (
	EntryOpen      EntryType = "OPEN"
	EntryClose     EntryType = "CLOSE"
	EntryLiquidate EntryType = "LIQUIDATE"
)

// Entry 一条结算流水
//
// 同时是 Kafka 消息体 (json) 和 MySQL 行 (gorm)
type Entry struct {
	ID uint `gorm:"primaryKey;autoIncrement" json:"-"`

	// EventID 幂等键 (格式: {type}_{position_id})
	// 每个头寸每种事件最多一条，消费端据此去重
	EventID string `gorm:"column:event_id;type:varchar(64);uniqueIndex" json:"event_id"`

	Type EntryType `gorm:"column:type;type:varchar(16);index" json:"type"`
	Tick int       `gorm:"column:tick;index" json:"tick"`

	// ===== 头寸快照 =====
	PositionID      int64   `gorm:"column:position_id;index" json:"position_id"`
	Owner           string  `gorm:"column:owner;type:varchar(64);index" json:"owner"`
	SrcToken        string  `gorm:"column:src_token;type:varchar(32)" json:"src_token"`
	DstToken        string  `gorm:"column:dst_token;type:varchar(32)" json:"dst_token"`
	CollateralToken string  `gorm:"column:collateral_token;type:varchar(32)" json:"collateral_token"`
	Collateral      float64 `gorm:"column:collateral" json:"collateral"`
	Principal       float64 `gorm:"column:principal" json:"principal"`
	OpenTick        int     `gorm:"column:open_tick" json:"open_tick"`

	// ===== 结算结果 (OPEN 事件恒为 0) =====
	TraderPL      float64 `gorm:"column:trader_pl" json:"trader_pl"`
	LiquidationPL float64 `gorm:"column:liquidation_pl" json:"liquidation_pl"`
}

func (Entry) TableName() string {
	return "position_journal"
}

// entryTypeOf 事件类型映射
func entryTypeOf(t engine.EventType) EntryType {
	switch t {
	case engine.EventPositionOpened:
		return EntryOpen
	case engine.EventPositionClosed:
		return EntryClose
	case engine.EventPositionLiquidated:
		return EntryLiquidate
	}
	return EntryType("UNKNOWN")
}

// FromEvent 从引擎事件构建流水
func FromEvent(ev engine.PositionEvent) *Entry {
	entryType := entryTypeOf(ev.Type)
	return &Entry{
		EventID:         fmt.Sprintf("%s_%d", entryType, ev.Position.ID),
		Type:            entryType,
		Tick:            ev.Tick,
		PositionID:      ev.Position.ID,
		Owner:           string(ev.Position.Owner),
		SrcToken:        string(ev.Position.SrcToken),
		DstToken:        string(ev.Position.DstToken),
		CollateralToken: string(ev.Position.CollateralToken),
		Collateral:      ev.Position.Collateral,
		Principal:       ev.Position.Principal,
		OpenTick:        ev.Position.OpenTick,
		TraderPL:        ev.TraderPL,
		LiquidationPL:   ev.LiquidationPL,
	}
}
