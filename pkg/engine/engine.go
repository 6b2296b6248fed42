// 文件: pkg/engine/engine.go
// 杠杆借贷协议核心引擎
//
// 【职责】
// 1. 头寸生命周期: open / close / liquidate + 强平资格查询
// 2. 三本账: Vault (流动性池) / InsurancePool (保险池) / GovernancePool (治理池)
// 3. 结算算术: 盈亏、手续费、利息、强平费、保险兜底
//
// 【账务规则】
// - Vault 只在收利息时增加；开仓不预先扣本金，清偿在结算时轧差
// - 亏损先吃保证金，吃穿的部分由保险池兜底
// - 穿仓路径不收手续费和利息，治理池分文不得
//
// 【并发模型】
// 单线程确定性执行，引擎的四个公共操作是唯一写路径。
// 如果要把引擎包成服务对外暴露，必须在外层串行化调用，
// 否则价值守恒不变量无法保证。

package engine

import (
	"errors"
	"fmt"
	"log"
	"math"

	"github.com/bwmarrin/snowflake"

	"margin.com/pkg/clock"
	"margin.com/pkg/oracle"
)

// =============================================================================
// 错误定义
// =============================================================================

var (
	// ErrInsufficientLiquidity 开仓本金超过 Vault 可用流动性
	ErrInsufficientLiquidity = errors.New("insufficient vault liquidity")

	// ErrSlippageExceeded 滑点后的入场价偏离报价超过调用方容忍度
	ErrSlippageExceeded = errors.New("slippage exceeds max allowed percent")

	// ErrInvalidPositionState 未知 id 或头寸不在所需状态
	ErrInvalidPositionState = errors.New("invalid position state")

	// ErrMissingStrategy 构造时缺少策略函数
	ErrMissingStrategy = errors.New("missing strategy function")

	// ErrLeverageTooHigh 超过配置的最大杠杆 (仅当 MaxLeverage > 0 时检查)
	ErrLeverageTooHigh = errors.New("leverage exceeds configured maximum")
)

// =============================================================================
// 配置
// =============================================================================

const (
	// DefaultMaintenanceMarginPercent 默认维持保证金阈值:
	// 亏掉保证金的 80% 即可被强平
	DefaultMaintenanceMarginPercent = 80.0

	// HoursPerYear tick 按小时计，利息折年用
	HoursPerYear = 365 * 24
)

// Config 引擎配置
type Config struct {
	// MaintenanceMarginPercent 强平阈值 (占保证金的百分比)
	MaintenanceMarginPercent float64

	// MaxLeverage 最大杠杆，0 表示不限制
	// 协议本身不管杠杆，这是给谨慎部署方的可选硬化项
	MaxLeverage float64

	// TicksPerYear 一年折多少 tick，利息按 elapsed/TicksPerYear 折算
	TicksPerYear float64

	// SnowflakeNode 头寸 id 生成器节点号 (0-1023)
	SnowflakeNode int64
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		MaintenanceMarginPercent: DefaultMaintenanceMarginPercent,
		MaxLeverage:              0,
		TicksPerYear:             HoursPerYear,
	}
}

// =============================================================================
// Engine
// =============================================================================

// Engine 协议核心引擎
type Engine struct {
	cfg    Config
	clock  *clock.Clock
	oracle *oracle.PriceOracle

	// 注入策略
	applySlippage           SlippageFunc
	calculateFees           FeesFunc
	calculateInterestRate   InterestRateFunc
	calculateLiquidationFee LiquidationFeeFunc
	splitFees               SplitFeesFunc

	// 三本账 (按币种)
	vaults         map[oracle.Currency]float64
	insurancePool  map[oracle.Currency]float64
	governancePool map[oracle.Currency]float64

	// 头寸索引
	positions map[int64]*Position
	openIDs   []int64 // 开仓顺序，保证遍历确定性

	node    *snowflake.Node
	onEvent func(PositionEvent)
}

// NewEngine 创建引擎
//
// vaults / insurancePool 是各币种初始余额，治理池从零开始。
// 策略缺一不可，这里就报错，不拖到第一次结算
func NewEngine(
	cfg Config,
	clk *clock.Clock,
	priceOracle *oracle.PriceOracle,
	strategies Strategies,
	vaults map[oracle.Currency]float64,
	insurancePool map[oracle.Currency]float64,
) (*Engine, error) {
	if strategies.ApplySlippage == nil ||
		strategies.CalculateFees == nil ||
		strategies.CalculateInterestRate == nil ||
		strategies.CalculateLiquidationFee == nil ||
		strategies.SplitFees == nil {
		return nil, ErrMissingStrategy
	}
	if cfg.MaintenanceMarginPercent <= 0 {
		cfg.MaintenanceMarginPercent = DefaultMaintenanceMarginPercent
	}
	if cfg.TicksPerYear <= 0 {
		cfg.TicksPerYear = HoursPerYear
	}

	node, err := snowflake.NewNode(cfg.SnowflakeNode)
	if err != nil {
		return nil, fmt.Errorf("snowflake node: %w", err)
	}

	e := &Engine{
		cfg:                     cfg,
		clock:                   clk,
		oracle:                  priceOracle,
		applySlippage:           strategies.ApplySlippage,
		calculateFees:           strategies.CalculateFees,
		calculateInterestRate:   strategies.CalculateInterestRate,
		calculateLiquidationFee: strategies.CalculateLiquidationFee,
		splitFees:               strategies.SplitFees,
		vaults:                  make(map[oracle.Currency]float64, len(vaults)),
		insurancePool:           make(map[oracle.Currency]float64, len(insurancePool)),
		governancePool:          make(map[oracle.Currency]float64),
		positions:               make(map[int64]*Position),
		node:                    node,
	}
	for c, v := range vaults {
		e.vaults[c] = v
	}
	for c, v := range insurancePool {
		e.insurancePool[c] = v
	}
	return e, nil
}

// OnEvent 注册头寸事件回调 (journal / metrics 旁路)
func (e *Engine) OnEvent(fn func(PositionEvent)) {
	e.onEvent = fn
}

// =============================================================================
// 开仓
// =============================================================================

// OpenPosition 开杠杆头寸
//
// 前置条件:
//  1. principal 不超过 Vault[src] 可用流动性
//  2. 滑点后的 dst 入场价与报价的偏差不超过 maxSlippagePercent
//
// 成功时捕获 src/dst 入场价 (dst 经过滑点策略)，登记头寸并返回 id。
// 不立即扣减 Vault 余额，清偿在结算时轧差
func (e *Engine) OpenPosition(
	trader oracle.Account,
	src, dst, collateralToken oracle.Currency,
	collateral, principal float64,
	maxSlippagePercent float64,
) (int64, error) {
	if principal > e.vaults[src] {
		return 0, fmt.Errorf("%w: principal=%.4f, vault[%s]=%.4f",
			ErrInsufficientLiquidity, principal, src, e.vaults[src])
	}

	if e.cfg.MaxLeverage > 0 && collateral > 0 && principal/collateral > e.cfg.MaxLeverage {
		return 0, fmt.Errorf("%w: leverage=%.2f, max=%.2f",
			ErrLeverageTooHigh, principal/collateral, e.cfg.MaxLeverage)
	}

	dstQuote, err := e.oracle.GetPrice(dst)
	if err != nil {
		return 0, err
	}
	srcQuote, err := e.oracle.GetPrice(src)
	if err != nil {
		return 0, err
	}

	// 滑点只作用于 dst 入场价
	dstEntry := e.applySlippage(dstQuote)
	if math.Abs(dstEntry-dstQuote) > NewPercent(maxSlippagePercent).Of(dstQuote) {
		return 0, fmt.Errorf("%w: quote=%.6f, executed=%.6f, max=%.2f%%",
			ErrSlippageExceeded, dstQuote, dstEntry, maxSlippagePercent)
	}

	pos := &Position{
		ID:              e.node.Generate().Int64(),
		Owner:           trader,
		SrcToken:        src,
		DstToken:        dst,
		CollateralToken: collateralToken,
		Collateral:      collateral,
		Principal:       principal,
		DstEntryPrice:   dstEntry,
		SrcEntryPrice:   srcQuote,
		OpenTick:        e.clock.CurrentTick(),
		Status:          StatusOpen,
	}

	e.positions[pos.ID] = pos
	e.openIDs = append(e.openIDs, pos.ID)

	log.Printf("[Engine] Position opened: id=%d, trader=%s, %s->%s, collateral=%.4f, principal=%.4f, leverage=%.2fx",
		pos.ID, trader, src, dst, collateral, principal, pos.Leverage())

	e.emit(PositionEvent{
		Type:     EventPositionOpened,
		Tick:     pos.OpenTick,
		Position: *pos,
	})

	return pos.ID, nil
}

// =============================================================================
// 查询
// =============================================================================

// Position 按 id 查头寸，未知 id 返回 ErrInvalidPositionState
func (e *Engine) Position(id int64) (*Position, error) {
	pos, ok := e.positions[id]
	if !ok {
		return nil, fmt.Errorf("%w: unknown position %d", ErrInvalidPositionState, id)
	}
	return pos, nil
}

// OpenPositionIDs 全部未平头寸 id (开仓顺序，拷贝)
func (e *Engine) OpenPositionIDs() []int64 {
	ids := make([]int64, len(e.openIDs))
	copy(ids, e.openIDs)
	return ids
}

// OpenPositionCount 未平头寸数量
func (e *Engine) OpenPositionCount() int {
	return len(e.openIDs)
}

// VaultBalance Vault 余额
func (e *Engine) VaultBalance(c oracle.Currency) float64 { return e.vaults[c] }

// InsuranceBalance 保险池余额
func (e *Engine) InsuranceBalance(c oracle.Currency) float64 { return e.insurancePool[c] }

// GovernanceBalance 治理池余额
func (e *Engine) GovernanceBalance(c oracle.Currency) float64 { return e.governancePool[c] }

// UnrealizedPL 头寸在当前 tick 的未实现盈亏
//
// 估值公式: principal * ((dstNow/dstEntry) / (srcNow/srcEntry) - 1)
// 即按本金规模对 dst/src 汇率做多；src 为稳定币时退化为
// principal * (dstNow/dstEntry - 1)
func (e *Engine) UnrealizedPL(id int64) (float64, error) {
	pos, err := e.openPosition(id)
	if err != nil {
		return 0, err
	}
	return e.unrealizedPL(pos)
}

func (e *Engine) unrealizedPL(pos *Position) (float64, error) {
	dstNow, err := e.oracle.GetPrice(pos.DstToken)
	if err != nil {
		return 0, err
	}
	srcNow, err := e.oracle.GetPrice(pos.SrcToken)
	if err != nil {
		return 0, err
	}
	return pos.Principal * ((dstNow / pos.DstEntryPrice) / (srcNow / pos.SrcEntryPrice) - 1.0), nil
}

// AccruedInterest 头寸到当前 tick 应付的利息
//
// 利息 = 年化利率 × 本金 × 持仓 tick 数 / TicksPerYear
func (e *Engine) AccruedInterest(id int64) (float64, error) {
	pos, ok := e.positions[id]
	if !ok {
		return 0, fmt.Errorf("%w: unknown position %d", ErrInvalidPositionState, id)
	}
	return e.accruedInterest(pos), nil
}

func (e *Engine) accruedInterest(pos *Position) float64 {
	rate := e.calculateInterestRate(pos.SrcToken, pos.DstToken, pos.Collateral, pos.Principal)
	elapsed := float64(e.clock.CurrentTick() - pos.OpenTick)
	return rate * pos.Principal * elapsed / e.cfg.TicksPerYear
}

// CanLiquidatePosition 头寸是否达到强平线
//
// 纯谓词: 不改账本也不改头寸状态。
// 亏损达到保证金的 MaintenanceMarginPercent% 即可强平
func (e *Engine) CanLiquidatePosition(id int64) (bool, error) {
	pos, err := e.openPosition(id)
	if err != nil {
		return false, err
	}

	pl, err := e.unrealizedPL(pos)
	if err != nil {
		return false, err
	}

	loss := -pl
	threshold := NewPercent(e.cfg.MaintenanceMarginPercent).Of(pos.Collateral)
	return loss >= threshold, nil
}

// =============================================================================
// 结算
// =============================================================================

// ClosePosition 主动平仓
//
// 任何未平头寸都可以主动平，哪怕已经达到强平线。
// 返回 (交易者盈亏, 强平费)，主动平仓路径强平费恒为 0
func (e *Engine) ClosePosition(id int64) (traderPL, liquidationPL float64, err error) {
	return e.settle(id, false)
}

// LiquidatePosition 强制平仓
//
// 只应在 CanLiquidatePosition 为真时调用 (调用方负责把关)，
// 引擎按当下估值照常结算。
// 在正常结算之外额外收一笔强平费:
// 先从吸收亏损后的剩余保证金里扣，不够的部分由保险池出。
// 强平费作为 liquidationPL 返回给触发方，不经过 splitFees
func (e *Engine) LiquidatePosition(id int64) (traderPL, liquidationPL float64, err error) {
	return e.settle(id, true)
}

func (e *Engine) settle(id int64, liquidation bool) (float64, float64, error) {
	pos, err := e.openPosition(id)
	if err != nil {
		return 0, 0, err
	}

	pl, err := e.unrealizedPL(pos)
	if err != nil {
		// 估值失败不能留下半结算状态，直接原样报错
		return 0, 0, err
	}

	var traderPL float64
	loss := -pl

	if loss < pos.Collateral {
		// ===== 偿付能力充足 =====
		fee := e.calculateFees(pos)
		interest := e.accruedInterest(pos)

		traderPL = pl - fee - interest

		// 利息是 LP 的收入
		e.vaults[pos.CollateralToken] += interest

		// 手续费在治理池和保险池之间分成
		if fee > 0 {
			governanceShare, insuranceShare := e.splitFees(fee)
			e.governancePool[pos.CollateralToken] += governanceShare
			e.insurancePool[pos.CollateralToken] += insuranceShare
		}
	} else {
		// ===== 穿仓 =====
		// 保证金全灭，缺口由保险池兜底；不收手续费和利息
		traderPL = -pos.Collateral
		shortfall := loss - pos.Collateral
		e.insurancePool[pos.CollateralToken] -= shortfall

		if liquidation {
			log.Printf("[Engine] Position %d bankrupt at liquidation: loss=%.4f, collateral=%.4f, insurance covers %.4f",
				pos.ID, loss, pos.Collateral, shortfall)
		} else {
			log.Printf("[Engine] Position %d bankrupt at close: loss=%.4f, collateral=%.4f, insurance covers %.4f",
				pos.ID, loss, pos.Collateral, shortfall)
		}
	}

	// ===== 强平费 =====
	var liquidationFee float64
	if liquidation {
		liquidationFee = e.calculateLiquidationFee(pos)

		// 吸收亏损后剩下的保证金
		residual := pos.Collateral + math.Min(pl, 0)
		if residual < 0 {
			residual = 0
		}

		fromCollateral := math.Min(liquidationFee, residual)
		traderPL -= fromCollateral

		if remainder := liquidationFee - fromCollateral; remainder > 0 {
			e.insurancePool[pos.CollateralToken] -= remainder
		}
	}

	// ===== 终态迁移 =====
	if liquidation {
		pos.Status = StatusLiquidated
	} else {
		pos.Status = StatusClosed
	}
	e.removeFromOpenIndex(pos.ID)

	eventType := EventPositionClosed
	if liquidation {
		eventType = EventPositionLiquidated
	}

	log.Printf("[Engine] Position %s: id=%d, trader=%s, traderPL=%.4f, liquidationPL=%.4f",
		pos.Status, pos.ID, pos.Owner, traderPL, liquidationFee)

	e.emit(PositionEvent{
		Type:          eventType,
		Tick:          e.clock.CurrentTick(),
		Position:      *pos,
		TraderPL:      traderPL,
		LiquidationPL: liquidationFee,
	})

	return traderPL, liquidationFee, nil
}

// =============================================================================
// 内部辅助
// =============================================================================

// openPosition 取头寸并要求处于 Open 状态
func (e *Engine) openPosition(id int64) (*Position, error) {
	pos, ok := e.positions[id]
	if !ok {
		return nil, fmt.Errorf("%w: unknown position %d", ErrInvalidPositionState, id)
	}
	if !pos.IsOpen() {
		return nil, fmt.Errorf("%w: position %d is %s", ErrInvalidPositionState, id, pos.Status)
	}
	return pos, nil
}

func (e *Engine) removeFromOpenIndex(id int64) {
	for i, openID := range e.openIDs {
		if openID == id {
			e.openIDs = append(e.openIDs[:i], e.openIDs[i+1:]...)
			return
		}
	}
}

func (e *Engine) emit(ev PositionEvent) {
	if e.onEvent != nil {
		e.onEvent(ev)
	}
}
