// 文件: pkg/oracle/model.go
// 基础类型与历史报价模型
//
// 【存储策略】
// - 主存储: MySQL (crawler 下载后持久化)
// - 缓存: Redis (整条序列缓存，模拟启动时加速)
// - 核心引擎只消费内存中的有序序列，从不触碰存储

package oracle

// Currency 代币标识 (大小写敏感，如 "bitcoin", "dai")
type Currency string

// Account 交易者/清算人身份标识
type Account string

// Price 以参考货币计价的单位价格
type Price = float64

// =============================================================================
// Quote - 历史报价
// =============================================================================

// Quote 一条历史报价观测
//
// 每个币种一条按时间严格递增的序列，入库后不可变
type Quote struct {
	ID         uint    `gorm:"primaryKey;autoIncrement" json:"id"`
	Coin       string  `gorm:"column:coin;type:varchar(32);index:idx_coin_ts,priority:1" json:"coin"`
	VsCurrency string  `gorm:"column:vs_currency;type:varchar(16)" json:"vs_currency"`
	Timestamp  int64   `gorm:"column:timestamp;index:idx_coin_ts,priority:2" json:"timestamp"`
	Price      float64 `gorm:"column:price" json:"price"`
}

func (Quote) TableName() string {
	return "quotes"
}
