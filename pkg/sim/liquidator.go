// 文件: pkg/sim/liquidator.go
// 清算人 Agent
//
// 每个 tick 对全部未平头寸做一轮扫描 (不分持有人)，
// 达到强平线的立即强平，强平费记入自己的收入账。
// 被强平头寸的 traderPL 回填由驱动器负责 (清算人不认识交易员)

package sim

import (
	"log"

	"margin.com/pkg/engine"
	"margin.com/pkg/oracle"
)

// Liquidation 一次强平的结果，驱动器据此回填交易员钱包
type Liquidation struct {
	PositionID      int64
	Owner           oracle.Account
	CollateralToken oracle.Currency
	TraderPL        float64
	LiquidationPL   float64
}

// Liquidator 清算人
type Liquidator struct {
	account oracle.Account
	eng     *engine.Engine

	income map[oracle.Currency]float64
}

// NewLiquidator 创建清算人
func NewLiquidator(account oracle.Account, eng *engine.Engine) *Liquidator {
	return &Liquidator{
		account: account,
		eng:     eng,
		income:  make(map[oracle.Currency]float64),
	}
}

// Account 账户名
func (l *Liquidator) Account() oracle.Account { return l.account }

// Income 累计强平费收入
func (l *Liquidator) Income(c oracle.Currency) float64 { return l.income[c] }

// Scan 扫描全部未平头寸并强平达标者
//
// 遍历顺序 = 引擎的开仓顺序，保证同一种子下复现同一批强平
func (l *Liquidator) Scan(tick int) ([]Liquidation, error) {
	var results []Liquidation

	for _, id := range l.eng.OpenPositionIDs() {
		eligible, err := l.eng.CanLiquidatePosition(id)
		if err != nil {
			return nil, err
		}
		if !eligible {
			continue
		}

		pos, err := l.eng.Position(id)
		if err != nil {
			return nil, err
		}
		owner := pos.Owner
		token := pos.CollateralToken

		traderPL, liquidationPL, err := l.eng.LiquidatePosition(id)
		if err != nil {
			return nil, err
		}

		l.income[token] += liquidationPL

		log.Printf("[Liquidator] %s liquidated position %d at tick %d: traderPL=%.4f, fee=%.4f",
			l.account, id, tick, traderPL, liquidationPL)

		results = append(results, Liquidation{
			PositionID:      id,
			Owner:           owner,
			CollateralToken: token,
			TraderPL:        traderPL,
			LiquidationPL:   liquidationPL,
		})
	}

	return results, nil
}
