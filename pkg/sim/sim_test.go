// 文件: pkg/sim/sim_test.go
// 模拟驱动器与 Agent 测试
//
// 场景都用手工构造的短价格序列，强平/拒单路径可以精确触发

package sim

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"margin.com/pkg/clock"
	"margin.com/pkg/engine"
	"margin.com/pkg/metrics"
	"margin.com/pkg/oracle"
)

const floatTolerance = 1e-9

// =============================================================================
// 测试辅助
// =============================================================================

func quoteSeries(coin string, prices ...float64) []oracle.Quote {
	quotes := make([]oracle.Quote, len(prices))
	for i, p := range prices {
		quotes[i] = oracle.Quote{Coin: coin, VsCurrency: "usd", Timestamp: int64(i), Price: p}
	}
	return quotes
}

func flatSeries(coin string, price float64, n int) []oracle.Quote {
	prices := make([]float64, n)
	for i := range prices {
		prices[i] = price
	}
	return quoteSeries(coin, prices...)
}

type stack struct {
	clock  *clock.Clock
	oracle *oracle.PriceOracle
	eng    *engine.Engine
}

// newStack 搭一套 clock/oracle/engine，horizon 由最短序列决定
func newStack(t *testing.T, quotes map[oracle.Currency][]oracle.Quote, vault, insurance float64) *stack {
	t.Helper()

	minLen := -1
	for _, series := range quotes {
		if minLen < 0 || len(series) < minLen {
			minLen = len(series)
		}
	}
	clk := clock.New(minLen - 1)

	priceOracle, err := oracle.NewPriceOracle(clk, quotes)
	require.NoError(t, err)

	eng, err := engine.NewEngine(
		engine.DefaultConfig(),
		clk,
		priceOracle,
		engine.Strategies{
			ApplySlippage:           engine.NoSlippage,
			CalculateFees:           engine.NoFees,
			CalculateInterestRate:   engine.NoInterest,
			CalculateLiquidationFee: engine.NoLiquidationFee,
			SplitFees:               engine.SplitFeesEvenly,
		},
		map[oracle.Currency]float64{"dai": vault},
		map[oracle.Currency]float64{"dai": insurance},
	)
	require.NoError(t, err)

	return &stack{clock: clk, oracle: priceOracle, eng: eng}
}

func alwaysTrader(t *testing.T, s *stack, account oracle.Account, seed int64, wallet float64) *Trader {
	t.Helper()
	trader, err := NewTrader(TraderConfig{
		Account:                  account,
		OpenPositionProbability:  1.0,
		ClosePositionProbability: 0,
		MaxSlippagePercent:       1.0,
		BaseToken:                "dai",
		TradableTokens:           []oracle.Currency{"ethereum"},
		Liquidity:                map[oracle.Currency]float64{"dai": wallet},
		CalculateCollateral:      func(oracle.Currency) float64 { return 100 },
		CalculateLeverage:        func() float64 { return 10 },
	}, s.eng, rand.New(rand.NewSource(seed)))
	require.NoError(t, err)
	return trader
}

// =============================================================================
// Trader
// =============================================================================

func TestTrader_OpensAndClosesWithWalletAccounting(t *testing.T) {
	// 开在 tick 1 (4000)，tick 2 翻倍到 8000 后平仓
	s := newStack(t, map[oracle.Currency][]oracle.Quote{
		"dai":      flatSeries("dai", 1.0, 3),
		"ethereum": quoteSeries("ethereum", 4000, 4000, 8000),
	}, 750000, 0)

	trader, err := NewTrader(TraderConfig{
		Account:                  "alice",
		OpenPositionProbability:  1.0,
		ClosePositionProbability: 1.0,
		MaxSlippagePercent:       1.0,
		BaseToken:                "dai",
		TradableTokens:           []oracle.Currency{"ethereum"},
		Liquidity:                map[oracle.Currency]float64{"dai": 1000},
		CalculateCollateral:      func(oracle.Currency) float64 { return 100 },
		CalculateLeverage:        func() float64 { return 10 },
	}, s.eng, rand.New(rand.NewSource(1)))
	require.NoError(t, err)

	require.True(t, s.clock.Step())
	require.NoError(t, trader.Act(s.clock.CurrentTick()))
	require.Len(t, trader.OpenPositions(), 1)

	// tick 2: 先平掉盈利头寸 (+1000 进钱包)，再开一笔新的
	require.True(t, s.clock.Step())
	require.NoError(t, trader.Act(s.clock.CurrentTick()))

	assert.InDelta(t, 2000.0, trader.Liquidity("dai"), floatTolerance)
	assert.Len(t, trader.OpenPositions(), 1)

	t.Log("✅ 平仓盈亏记回交易员钱包")
}

func TestTrader_DeclinedTradeIsNotAnError(t *testing.T) {
	// Vault 只有 500，交易员想借 1000 => ErrInsufficientLiquidity
	s := newStack(t, map[oracle.Currency][]oracle.Quote{
		"dai":      flatSeries("dai", 1.0, 3),
		"ethereum": flatSeries("ethereum", 4000, 3),
	}, 500, 0)

	trader := alwaysTrader(t, s, "bob", 2, 1000)

	require.True(t, s.clock.Step())
	err := trader.Act(s.clock.CurrentTick())

	assert.NoError(t, err, "拒单要当没成交处理，不是模拟错误")
	assert.Empty(t, trader.OpenPositions())

	t.Log("✅ 流动性拒单不终止模拟")
}

func TestTrader_SkipsOpenWhenWalletTooSmall(t *testing.T) {
	s := newStack(t, map[oracle.Currency][]oracle.Quote{
		"dai":      flatSeries("dai", 1.0, 3),
		"ethereum": flatSeries("ethereum", 4000, 3),
	}, 750000, 0)

	// 钱包 50 < 保证金 100
	trader := alwaysTrader(t, s, "carol", 3, 50)

	require.True(t, s.clock.Step())
	require.NoError(t, trader.Act(s.clock.CurrentTick()))
	assert.Empty(t, trader.OpenPositions())

	t.Log("✅ 钱包不足直接跳过开仓")
}

// =============================================================================
// Liquidator
// =============================================================================

func TestLiquidator_ScanLiquidatesEligibleOnly(t *testing.T) {
	// 价格跌 8%: 10 倍杠杆头寸亏 80 = 保证金的 80%，达到强平线
	s := newStack(t, map[oracle.Currency][]oracle.Quote{
		"dai":      flatSeries("dai", 1.0, 3),
		"ethereum": quoteSeries("ethereum", 4000, 3680, 3680),
	}, 750000, 1000)

	// 在 tick 0 (价格 4000) 开两笔: 厚保证金的活，薄保证金的死
	healthyID, err := s.eng.OpenPosition("alice", "dai", "ethereum", "dai", 1000, 1000, 1.0)
	require.NoError(t, err)
	doomedID, err := s.eng.OpenPosition("bob", "dai", "ethereum", "dai", 100, 1000, 1.0)
	require.NoError(t, err)

	liquidator := NewLiquidator("liq", s.eng)

	require.True(t, s.clock.Step()) // 价格 3680，亏损 80

	results, err := liquidator.Scan(s.clock.CurrentTick())
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.Equal(t, doomedID, results[0].PositionID)
	assert.Equal(t, oracle.Account("bob"), results[0].Owner)
	assert.InDelta(t, -80.0, results[0].TraderPL, floatTolerance)

	// 健康头寸不动
	healthy, err := s.eng.Position(healthyID)
	require.NoError(t, err)
	assert.True(t, healthy.IsOpen())

	t.Log("✅ 全局扫描只强平达标头寸")
}

func TestLiquidator_CollectsFeeIncome(t *testing.T) {
	s := newStack(t, map[oracle.Currency][]oracle.Quote{
		"dai":      flatSeries("dai", 1.0, 3),
		"ethereum": quoteSeries("ethereum", 4000, 3680, 3680),
	}, 750000, 1000)

	// 换上固定强平费的引擎
	clk := s.clock
	eng, err := engine.NewEngine(
		engine.DefaultConfig(), clk, s.oracle,
		engine.Strategies{
			ApplySlippage:           engine.NoSlippage,
			CalculateFees:           engine.NoFees,
			CalculateInterestRate:   engine.NoInterest,
			CalculateLiquidationFee: engine.FlatLiquidationFee(1.0),
			SplitFees:               engine.SplitFeesEvenly,
		},
		map[oracle.Currency]float64{"dai": 750000},
		map[oracle.Currency]float64{"dai": 1000},
	)
	require.NoError(t, err)

	_, err = eng.OpenPosition("bob", "dai", "ethereum", "dai", 100, 1000, 1.0)
	require.NoError(t, err)

	liquidator := NewLiquidator("liq", eng)
	require.True(t, clk.Step())

	results, err := liquidator.Scan(clk.CurrentTick())
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.InDelta(t, 1.0, liquidator.Income("dai"), floatTolerance)
	assert.InDelta(t, -81.0, results[0].TraderPL, floatTolerance) // 亏损 80 + 强平费 1

	t.Log("✅ 强平费记入清算人收入")
}

// =============================================================================
// Simulation
// =============================================================================

func TestSimulation_RunRecordsSnapshotPerTick(t *testing.T) {
	s := newStack(t, map[oracle.Currency][]oracle.Quote{
		"dai":      flatSeries("dai", 1.0, 6),
		"ethereum": flatSeries("ethereum", 4000, 6),
	}, 750000, 1000)

	trader := alwaysTrader(t, s, "alice", 7, 1000)
	logger := metrics.NewLogger()

	simulation := New(s.clock, s.eng, []*Trader{trader}, NewLiquidator("liq", s.eng), logger,
		[]oracle.Currency{"dai"})

	require.NoError(t, simulation.Run())

	history := logger.History()
	require.Len(t, history, 5, "horizon=5 => 每个 tick 一份快照")
	assert.Equal(t, 1, history[0].Tick)
	assert.Equal(t, 5, history[4].Tick)
	assert.Equal(t, 750000.0, history[0].Vaults["dai"])

	t.Log("✅ 每个 tick 一份指标快照")
}

func TestSimulation_LiquidationFlowEndToEnd(t *testing.T) {
	// 开在 tick 1 (价格 4000)，tick 2 跌到 3680 触发强平
	s := newStack(t, map[oracle.Currency][]oracle.Quote{
		"dai":      flatSeries("dai", 1.0, 4),
		"ethereum": quoteSeries("ethereum", 4000, 4000, 3680, 3680),
	}, 750000, 1000)

	openOnce := false
	trader, err := NewTrader(TraderConfig{
		Account:                  "alice",
		OpenPositionProbability:  1.0,
		ClosePositionProbability: 0,
		MaxSlippagePercent:       1.0,
		BaseToken:                "dai",
		TradableTokens:           []oracle.Currency{"ethereum"},
		Liquidity:                map[oracle.Currency]float64{"dai": 1000},
		CalculateCollateral: func(oracle.Currency) float64 {
			if openOnce {
				return 1e12 // 钱包挡住后续开仓，只留第一笔
			}
			openOnce = true
			return 100
		},
		CalculateLeverage: func() float64 { return 10 },
	}, s.eng, rand.New(rand.NewSource(5)))
	require.NoError(t, err)

	logger := metrics.NewLogger()
	liquidator := NewLiquidator("liq", s.eng)
	simulation := New(s.clock, s.eng, []*Trader{trader}, liquidator, logger,
		[]oracle.Currency{"dai"})

	require.NoError(t, simulation.Run())

	// 亏损 80 = 保证金的 80%，tick 2 被强平
	assert.Equal(t, 0, s.eng.OpenPositionCount())
	assert.Empty(t, trader.OpenPositions())
	assert.InDelta(t, 1000.0-80.0, trader.Liquidity("dai"), floatTolerance)

	// 快照里能看到头寸消失
	history := logger.History()
	require.Len(t, history, 3)
	assert.Len(t, history[0].OpenPositions, 1)
	assert.Empty(t, history[1].OpenPositions)

	t.Log("✅ 强平后驱动器把 traderPL 回填给持有人")
}

func TestSimulation_DeterministicWithFixedSeed(t *testing.T) {
	build := func() (*Simulation, *engine.Engine) {
		s := newStack(t, map[oracle.Currency][]oracle.Quote{
			"dai":      flatSeries("dai", 1.0, 20),
			"ethereum": quoteSeries("ethereum", 4000, 4100, 3900, 4200, 3800, 4000, 4300, 3700, 4000, 4100, 3950, 4050, 4000, 3900, 4100, 4000, 4200, 3800, 4000, 4100),
		}, 750000, 1000)

		var traders []*Trader
		for i, name := range []oracle.Account{"alice", "bob", "carol"} {
			trader, err := NewTrader(TraderConfig{
				Account:                  name,
				OpenPositionProbability:  0.4,
				ClosePositionProbability: 0.3,
				MaxSlippagePercent:       1.0,
				BaseToken:                "dai",
				TradableTokens:           []oracle.Currency{"ethereum"},
				Liquidity:                map[oracle.Currency]float64{"dai": 1000},
				CalculateCollateral:      func(oracle.Currency) float64 { return 100 },
				CalculateLeverage:        func() float64 { return 5 },
			}, s.eng, rand.New(rand.NewSource(int64(100+i))))
			require.NoError(t, err)
			traders = append(traders, trader)
		}

		return New(s.clock, s.eng, traders, NewLiquidator("liq", s.eng), metrics.NewLogger(),
			[]oracle.Currency{"dai"}), s.eng
	}

	sim1, eng1 := build()
	sim2, eng2 := build()
	require.NoError(t, sim1.Run())
	require.NoError(t, sim2.Run())

	h1, h2 := sim1.Metrics().History(), sim2.Metrics().History()
	require.Equal(t, len(h1), len(h2))

	// 头寸 id 含时间成分，两轮不可比；账本轨迹必须完全一致
	for i := range h1 {
		assert.Equal(t, h1[i].Tick, h2[i].Tick)
		assert.Len(t, h2[i].OpenPositions, len(h1[i].OpenPositions))
		assert.InDelta(t, h1[i].Vaults["dai"], h2[i].Vaults["dai"], floatTolerance)
		assert.InDelta(t, h1[i].Insurance["dai"], h2[i].Insurance["dai"], floatTolerance)
		assert.InDelta(t, h1[i].Governance["dai"], h2[i].Governance["dai"], floatTolerance)
	}
	assert.Equal(t, eng1.OpenPositionCount(), eng2.OpenPositionCount())

	t.Log("✅ 固定种子下两轮模拟账本轨迹一致")
}

// =============================================================================
// NameGenerator / Runner
// =============================================================================

func TestNameGenerator_UniqueAndSeeded(t *testing.T) {
	names1 := NewNameGenerator(rand.New(rand.NewSource(42))).UniqueNames(10)
	names2 := NewNameGenerator(rand.New(rand.NewSource(42))).UniqueNames(10)

	assert.Equal(t, names1, names2, "同种子出同一批名字")

	seen := make(map[string]struct{})
	for _, name := range names1 {
		_, dup := seen[name]
		assert.False(t, dup, "名字不能重复: %s", name)
		seen[name] = struct{}{}
	}

	t.Log("✅ 名字生成可复现且不重复")
}

func TestRunner_RunsFactoryPerRound(t *testing.T) {
	builds := 0
	factory := func() (*Simulation, error) {
		builds++
		s := newStack(t, map[oracle.Currency][]oracle.Quote{
			"dai":      flatSeries("dai", 1.0, 4),
			"ethereum": flatSeries("ethereum", 4000, 4),
		}, 750000, 0)
		trader := alwaysTrader(t, s, "alice", int64(builds), 1000)
		return New(s.clock, s.eng, []*Trader{trader}, NewLiquidator("liq", s.eng),
			metrics.NewLogger(), []oracle.Currency{"dai"}), nil
	}

	results, err := NewRunner(factory, 3).Run()
	require.NoError(t, err)

	assert.Equal(t, 3, builds, "每轮一套全新状态")
	require.Len(t, results, 3)
	for _, history := range results {
		assert.Len(t, history, 3)
	}

	t.Log("✅ Runner 按轮次独立构造并执行")
}
