// 文件: pkg/engine/strategy.go
// 注入式策略函数
//
// 【设计】
// 费用 / 利率 / 滑点 / 强平费 / 费用分成 都是一元策略函数，
// 由构造方注入，Engine 本身不含任何费率常量。
// 随机性 (滑点抽样等) 必须封在策略闭包里的显式 rand.Rand，
// 固定种子即可完整复现一次模拟。

package engine

import (
	"math/rand"

	"margin.com/pkg/oracle"
)

// SlippageFunc 对预言机报价施加执行滑点，开仓时作用于 DstToken 入场价
type SlippageFunc func(price oracle.Price) oracle.Price

// FeesFunc 一次性手续费 (保证金币种计价)，按头寸评估
type FeesFunc func(p *Position) float64

// InterestRateFunc 年化利率，结算时按持仓时长折算成应付利息
type InterestRateFunc func(src, dst oracle.Currency, collateral, principal float64) float64

// LiquidationFeeFunc 强平费，付给触发强平的一方
type LiquidationFeeFunc func(p *Position) float64

// SplitFeesFunc 把收到的手续费拆成 (治理池份额, 保险池份额)
//
// 两份之和通常等于输入，策略也可以故意烧掉余数
type SplitFeesFunc func(fees float64) (governance, insurance float64)

// Strategies 构造 Engine 所需的全部策略
//
// 所有字段必填，缺一个在 NewEngine 就报 ErrMissingStrategy
type Strategies struct {
	ApplySlippage           SlippageFunc
	CalculateFees           FeesFunc
	CalculateInterestRate   InterestRateFunc
	CalculateLiquidationFee LiquidationFeeFunc
	SplitFees               SplitFeesFunc
}

// =============================================================================
// 常用策略实现
// =============================================================================

// NoSlippage 原价成交
func NoSlippage(price oracle.Price) oracle.Price { return price }

// NoFees 零手续费
func NoFees(_ *Position) float64 { return 0 }

// NoInterest 零利率
func NoInterest(_, _ oracle.Currency, _, _ float64) float64 { return 0 }

// NoLiquidationFee 零强平费
func NoLiquidationFee(_ *Position) float64 { return 0 }

// SplitFeesEvenly 50/50 分给治理池和保险池
func SplitFeesEvenly(fees float64) (float64, float64) {
	return fees / 2.0, fees / 2.0
}

// GaussianSlippage 高斯随机滑点
//
// 均值为报价本身，标准差为报价的 maxSlippagePercent%。
// rng 必须由调用方注入，保证可复现
func GaussianSlippage(rng *rand.Rand, maxSlippagePercent float64) SlippageFunc {
	return func(price oracle.Price) oracle.Price {
		sigma := NewPercent(maxSlippagePercent).Of(price)
		return price + rng.NormFloat64()*sigma
	}
}

// FlatLiquidationFee 固定强平费
func FlatLiquidationFee(fee float64) LiquidationFeeFunc {
	return func(_ *Position) float64 { return fee }
}

// CollateralPercentFee 按保证金百分比收手续费
func CollateralPercentFee(percent float64) FeesFunc {
	return func(p *Position) float64 {
		return NewPercent(percent).Of(p.Collateral)
	}
}

// FixedInterestRate 固定年化利率
func FixedInterestRate(rate float64) InterestRateFunc {
	return func(_, _ oracle.Currency, _, _ float64) float64 { return rate }
}
