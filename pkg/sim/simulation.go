// 文件: pkg/sim/simulation.go
// 模拟驱动器
//
// 【每个 tick 的固定顺序】
// 1. Clock 前进一格
// 2. 交易员按注册顺序行动
// 3. 清算人全局扫描，强平达标头寸，驱动器把 traderPL 回填给持有人
// 4. 记一份指标快照
//
// 单线程同步执行。引擎报出的任何错误都立即终止模拟:
// 宁可停在干净的账本上，也不带着坏账继续跑

package sim

import (
	"fmt"
	"log"
	"sort"

	"margin.com/pkg/clock"
	"margin.com/pkg/engine"
	"margin.com/pkg/metrics"
	"margin.com/pkg/oracle"
)

// Simulation 一次完整的模拟
type Simulation struct {
	clock      *clock.Clock
	eng        *engine.Engine
	traders    []*Trader
	byAccount  map[oracle.Account]*Trader
	liquidator *Liquidator
	logger     *metrics.Logger

	// currencies 快照要覆盖的币种，排序固定输出
	currencies []oracle.Currency
}

// New 创建模拟
func New(
	clk *clock.Clock,
	eng *engine.Engine,
	traders []*Trader,
	liquidator *Liquidator,
	logger *metrics.Logger,
	currencies []oracle.Currency,
) *Simulation {
	byAccount := make(map[oracle.Account]*Trader, len(traders))
	for _, t := range traders {
		byAccount[t.Account()] = t
	}

	sorted := make([]oracle.Currency, len(currencies))
	copy(sorted, currencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	return &Simulation{
		clock:      clk,
		eng:        eng,
		traders:    traders,
		byAccount:  byAccount,
		liquidator: liquidator,
		logger:     logger,
		currencies: sorted,
	}
}

// Metrics 指标收集器 (跑完后取 History 分析)
func (s *Simulation) Metrics() *metrics.Logger { return s.logger }

// Run 跑完整个时间范围
func (s *Simulation) Run() error {
	for s.clock.Step() {
		tick := s.clock.CurrentTick()
		log.Printf("[Sim] TICK %d, open positions: %d", tick, s.eng.OpenPositionCount())

		for _, trader := range s.traders {
			if err := trader.Act(tick); err != nil {
				return fmt.Errorf("tick %d: trader %s: %w", tick, trader.Account(), err)
			}
		}

		liquidations, err := s.liquidator.Scan(tick)
		if err != nil {
			return fmt.Errorf("tick %d: liquidator scan: %w", tick, err)
		}
		for _, lq := range liquidations {
			if owner, ok := s.byAccount[lq.Owner]; ok {
				owner.settleLiquidated(lq.PositionID, lq.CollateralToken, lq.TraderPL)
			}
		}

		s.record(tick)
	}
	return nil
}

func (s *Simulation) record(tick int) {
	vaults := make(map[oracle.Currency]float64, len(s.currencies))
	insurance := make(map[oracle.Currency]float64, len(s.currencies))
	governance := make(map[oracle.Currency]float64, len(s.currencies))
	for _, c := range s.currencies {
		vaults[c] = s.eng.VaultBalance(c)
		insurance[c] = s.eng.InsuranceBalance(c)
		governance[c] = s.eng.GovernanceBalance(c)
	}

	s.logger.Record(metrics.Snapshot{
		Tick:          tick,
		OpenPositions: s.eng.OpenPositionIDs(),
		Vaults:        vaults,
		Insurance:     insurance,
		Governance:    governance,
	})
}
