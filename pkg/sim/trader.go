// 文件: pkg/sim/trader.go
// 交易员 Agent
//
// 【策略】
// 简单概率策略: 每个 tick 以 closeProb 随机平掉一个自己的头寸，
// 以 openProb 随机开一个新头寸 (随机标的 + 注入的保证金/杠杆采样函数)。
// 随机性全部来自构造时注入的 *rand.Rand，固定种子可完整复现。
//
// 【账务】
// liquidity 是交易员自己的钱包 (按币种)。开仓要求保证金不超过钱包余额，
// 结算时把 traderPL 记回钱包。

package sim

import (
	"errors"
	"fmt"
	"log"
	"math/rand"

	"margin.com/pkg/engine"
	"margin.com/pkg/oracle"
)

// CollateralFunc 采样一笔开仓保证金 (币种计价)
type CollateralFunc func(token oracle.Currency) float64

// LeverageFunc 采样一笔开仓杠杆
type LeverageFunc func() float64

// Agent 模拟参与者
//
// 驱动器每个 tick 按注册顺序调用 Act 一次
type Agent interface {
	Act(tick int) error
	OpenPositions() []int64
}

// TraderConfig 交易员配置
type TraderConfig struct {
	Account oracle.Account

	// OpenPositionProbability 每个 tick 开仓的概率 [0,1]
	OpenPositionProbability float64
	// ClosePositionProbability 每个 tick 平掉一个已有头寸的概率 [0,1]
	ClosePositionProbability float64

	// MaxSlippagePercent 开仓时能容忍的最大滑点
	MaxSlippagePercent float64

	// BaseToken 借入币种，同时作为保证金币种
	BaseToken oracle.Currency
	// TradableTokens 开仓标的候选 (dst)
	TradableTokens []oracle.Currency

	// Liquidity 初始钱包余额 (按币种)
	Liquidity map[oracle.Currency]float64

	CalculateCollateral CollateralFunc
	CalculateLeverage   LeverageFunc
}

// Trader 概率交易员
type Trader struct {
	cfg TraderConfig
	eng *engine.Engine
	rng *rand.Rand

	liquidity map[oracle.Currency]float64
	positions []int64 // 自己的未平头寸，开仓顺序
}

// NewTrader 创建交易员
func NewTrader(cfg TraderConfig, eng *engine.Engine, rng *rand.Rand) (*Trader, error) {
	if cfg.CalculateCollateral == nil || cfg.CalculateLeverage == nil {
		return nil, errors.New("trader requires collateral and leverage functions")
	}
	if len(cfg.TradableTokens) == 0 {
		return nil, errors.New("trader requires at least one tradable token")
	}

	liquidity := make(map[oracle.Currency]float64, len(cfg.Liquidity))
	for c, v := range cfg.Liquidity {
		liquidity[c] = v
	}

	return &Trader{
		cfg:       cfg,
		eng:       eng,
		rng:       rng,
		liquidity: liquidity,
	}, nil
}

// Account 账户名
func (t *Trader) Account() oracle.Account { return t.cfg.Account }

// Liquidity 钱包余额
func (t *Trader) Liquidity(c oracle.Currency) float64 { return t.liquidity[c] }

// OpenPositions 自己的未平头寸 id (拷贝)
func (t *Trader) OpenPositions() []int64 {
	ids := make([]int64, len(t.positions))
	copy(ids, t.positions)
	return ids
}

// Act 执行一个 tick 的决策: 先考虑平仓，再考虑开仓
//
// 开仓被引擎以流动性/滑点理由拒绝算"这笔没做成"，不是错误；
// 其他引擎错误原样上抛，让驱动器终止这次模拟
func (t *Trader) Act(tick int) error {
	if err := t.maybeClose(); err != nil {
		return err
	}
	return t.maybeOpen(tick)
}

func (t *Trader) maybeClose() error {
	if len(t.positions) == 0 || t.rng.Float64() >= t.cfg.ClosePositionProbability {
		return nil
	}

	idx := t.rng.Intn(len(t.positions))
	id := t.positions[idx]

	pos, err := t.eng.Position(id)
	if err != nil {
		return err
	}

	traderPL, _, err := t.eng.ClosePosition(id)
	if err != nil {
		return err
	}

	t.liquidity[pos.CollateralToken] += traderPL
	t.removePosition(id)
	return nil
}

func (t *Trader) maybeOpen(tick int) error {
	if t.rng.Float64() >= t.cfg.OpenPositionProbability {
		return nil
	}

	dst := t.cfg.TradableTokens[t.rng.Intn(len(t.cfg.TradableTokens))]
	collateral := t.cfg.CalculateCollateral(t.cfg.BaseToken)

	if collateral > t.liquidity[t.cfg.BaseToken] {
		log.Printf("[Trader] %s skips open at tick %d: collateral %.4f exceeds wallet %.4f",
			t.cfg.Account, tick, collateral, t.liquidity[t.cfg.BaseToken])
		return nil
	}

	principal := collateral * t.cfg.CalculateLeverage()

	id, err := t.eng.OpenPosition(
		t.cfg.Account,
		t.cfg.BaseToken, dst, t.cfg.BaseToken,
		collateral, principal,
		t.cfg.MaxSlippagePercent,
	)
	if err != nil {
		// 流动性不足或滑点超限 = 这笔交易没成交，继续模拟
		if errors.Is(err, engine.ErrInsufficientLiquidity) || errors.Is(err, engine.ErrSlippageExceeded) {
			log.Printf("[Trader] %s trade declined at tick %d: %v", t.cfg.Account, tick, err)
			return nil
		}
		return fmt.Errorf("trader %s open: %w", t.cfg.Account, err)
	}

	t.positions = append(t.positions, id)
	return nil
}

// settleLiquidated 被强平后的账务回填，由驱动器调用
func (t *Trader) settleLiquidated(id int64, token oracle.Currency, traderPL float64) {
	t.liquidity[token] += traderPL
	t.removePosition(id)
}

func (t *Trader) removePosition(id int64) {
	for i, pid := range t.positions {
		if pid == id {
			t.positions = append(t.positions[:i], t.positions[i+1:]...)
			return
		}
	}
}
