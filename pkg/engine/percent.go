// 文件: pkg/engine/percent.go
// 百分比值对象
//
// 盈亏 / 费用 / 阈值运算统一走 Percent，避免到处出现 /100 的裸算式

package engine

import "fmt"

// Percent 百分比
type Percent struct {
	value float64
}

// NewPercent 创建百分比，如 NewPercent(10) 表示 10%
func NewPercent(value float64) Percent {
	return Percent{value: value}
}

// Of 取 amount 的百分比: amount * value / 100
func (p Percent) Of(amount float64) float64 {
	return amount * p.value / 100.0
}

// Value 原始数值
func (p Percent) Value() float64 {
	return p.value
}

func (p Percent) String() string {
	return fmt.Sprintf("%g%%", p.value)
}
