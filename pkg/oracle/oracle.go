// 文件: pkg/oracle/oracle.go
// 价格预言机 - (币种, 当前 tick) → 价格
//
// 【设计】
// - 构造时注入每个币种的有序报价序列 (最老的在前)
// - GetPrice 按当前 tick 做 O(1) 下标查询，不扫描
// - 缺币种 / tick 越界是配置错误，直接报错，不做兜底

package oracle

import (
	"errors"
	"fmt"

	"margin.com/pkg/clock"
)

var (
	ErrUnknownCurrency = errors.New("no quotes configured for currency")
	ErrTickOutOfRange  = errors.New("tick beyond available quote series")
	ErrEmptySeries     = errors.New("empty quote series")
)

// PriceOracle 历史价格预言机
type PriceOracle struct {
	clock  *clock.Clock
	quotes map[Currency][]Quote
}

// NewPriceOracle 创建预言机
//
// 每个币种的序列必须非空，空序列在这里就报错，不等到第一次查询
func NewPriceOracle(clk *clock.Clock, quotes map[Currency][]Quote) (*PriceOracle, error) {
	for coin, series := range quotes {
		if len(series) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrEmptySeries, coin)
		}
	}
	return &PriceOracle{clock: clk, quotes: quotes}, nil
}

// GetPrice 获取币种在当前 tick 的价格
func (o *PriceOracle) GetPrice(coin Currency) (Price, error) {
	series, ok := o.quotes[coin]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownCurrency, coin)
	}

	tick := o.clock.CurrentTick()
	if tick >= len(series) {
		return 0, fmt.Errorf("%w: tick=%d, series=%d (%s)", ErrTickOutOfRange, tick, len(series), coin)
	}

	return series[tick].Price, nil
}

// HasCurrency 是否配置了该币种
func (o *PriceOracle) HasCurrency(coin Currency) bool {
	_, ok := o.quotes[coin]
	return ok
}

// SeriesLen 币种的报价序列长度，未配置返回 0
func (o *PriceOracle) SeriesLen(coin Currency) int {
	return len(o.quotes[coin])
}

// MinSeriesLen 最短序列长度
//
// 驱动器据此确定 Clock 的 horizon (horizon = MinSeriesLen()-1)，
// 保证模拟全程不会越界
func (o *PriceOracle) MinSeriesLen() int {
	min := 0
	first := true
	for _, series := range o.quotes {
		if first || len(series) < min {
			min = len(series)
			first = false
		}
	}
	return min
}
