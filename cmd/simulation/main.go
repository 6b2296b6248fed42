// 文件: cmd/simulation/main.go
// 杠杆借贷协议模拟入口
//
// 【流程】
// 1. 从 MySQL 读三个币种的小时级历史价格 (可选 Redis 缓存加速)，
//    数据不足时自动从 CoinGecko 下载补齐
// 2. 搭一套 clock / oracle / engine / agents
// 3. 跑 N 轮模拟，每轮独立状态，固定种子可复现
// 4. 指标可选推 NATS，头寸流水可选发 Kafka 并落库
//
// 用法:
//
//	simulation -hours 2000 -traders 10 -runs 1 -seed 42
//	simulation -hours 2000 -nats nats://127.0.0.1:4222 -kafka 127.0.0.1:9092

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"margin.com/pkg/clock"
	"margin.com/pkg/engine"
	"margin.com/pkg/journal"
	"margin.com/pkg/metrics"
	"margin.com/pkg/oracle"
	"margin.com/pkg/sim"
)

const (
	defaultDSN     = "root:123456@tcp(127.0.0.1:3307)/margin_sim?charset=utf8mb4&parseTime=True&loc=Local"
	vsCurrency     = oracle.Currency("usd")
	secondsPerHour = 3600

	baseToken = oracle.Currency("dai")

	desiredMaxSlippagePercent = 1.0
)

var simulatedTokens = []oracle.Currency{"bitcoin", "ethereum", "dai"}

// 初始账本，照搬协议部署参数
var (
	initialVaults = map[oracle.Currency]float64{
		"bitcoin":  7.0,
		"dai":      750000.0,
		"ethereum": 300.0,
	}
	initialInsurance = map[oracle.Currency]float64{
		"bitcoin":  0.0,
		"dai":      0.0,
		"ethereum": 0.0,
	}
	traderWallet = map[oracle.Currency]float64{
		"bitcoin":  0.0,
		"dai":      1000.0,
		"ethereum": 1.0,
	}
)

type options struct {
	dsn       string
	redisAddr string
	natsURL   string
	kafka     string
	hours     int
	traders   int
	runs      int
	seed      int64
	writeDB   bool
}

func main() {
	var opts options
	flag.StringVar(&opts.dsn, "dsn", defaultDSN, "mysql dsn")
	flag.StringVar(&opts.redisAddr, "redis", "", "redis addr for quote cache (empty = no cache)")
	flag.StringVar(&opts.natsURL, "nats", "", "nats url for metrics fan-out (empty = off)")
	flag.StringVar(&opts.kafka, "kafka", "", "kafka brokers for position journal, comma separated (empty = off)")
	flag.IntVar(&opts.hours, "hours", 2000, "simulation horizon in hourly ticks")
	flag.IntVar(&opts.traders, "traders", 10, "number of traders")
	flag.IntVar(&opts.runs, "runs", 1, "number of simulation runs")
	flag.Int64Var(&opts.seed, "seed", time.Now().UnixNano(), "base random seed")
	flag.BoolVar(&opts.writeDB, "journal-db", false, "consume the kafka journal back into mysql")
	flag.Parse()

	if err := run(opts); err != nil {
		log.Fatalf("[Simulation] %v", err)
	}
}

func run(opts options) error {
	ctx := context.Background()

	db, err := gorm.Open(mysql.Open(opts.dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return fmt.Errorf("connect mysql: %w", err)
	}

	repo, err := buildQuoteRepo(db, opts.redisAddr)
	if err != nil {
		return err
	}

	quotes, err := loadQuotes(ctx, repo, opts.hours)
	if err != nil {
		return err
	}

	// ===== 可选旁路: NATS 指标 / Kafka 流水 =====
	var sinks []metrics.Sink
	if opts.natsURL != "" {
		natsSink, err := metrics.NewNATSSink(opts.natsURL, metrics.DefaultSubject)
		if err != nil {
			return fmt.Errorf("nats sink: %w", err)
		}
		defer natsSink.Close()
		sinks = append(sinks, natsSink)
	}

	var publisher *journal.Publisher
	if opts.kafka != "" {
		brokers := strings.Split(opts.kafka, ",")

		publisher, err = journal.NewPublisher(brokers)
		if err != nil {
			return fmt.Errorf("journal publisher: %w", err)
		}
		defer publisher.Close()

		if opts.writeDB {
			entryRepo := journal.NewMySQLEntryRepo(db)
			if err := entryRepo.AutoMigrate(); err != nil {
				return fmt.Errorf("migrate journal: %w", err)
			}
			writer := journal.NewDBWriter(journal.DefaultDBWriterConfig(brokers), entryRepo)
			if err := writer.Start(); err != nil {
				return fmt.Errorf("journal writer: %w", err)
			}
			defer writer.Stop()
		}
	}

	// ===== 模拟工厂: 每轮独立状态，种子按轮次递推 =====
	runIndex := 0
	factory := func() (*sim.Simulation, error) {
		runSeed := opts.seed + int64(runIndex)
		runIndex++
		return buildSimulation(quotes, opts.traders, runSeed, sinks, publisher)
	}

	log.Printf("[Simulation] %d run(s), %d traders, seed=%d", opts.runs, opts.traders, opts.seed)

	results, err := sim.NewRunner(factory, opts.runs).Run()
	if err != nil {
		return err
	}

	for i, history := range results {
		if len(history) == 0 {
			continue
		}
		last := history[len(history)-1]
		log.Printf("[Simulation] Run %d finished at tick %d: open=%d, vault[dai]=%.2f, insurance[dai]=%.2f, governance[dai]=%.2f",
			i+1, last.Tick, len(last.OpenPositions),
			last.Vaults[baseToken], last.Insurance[baseToken], last.Governance[baseToken])
	}
	return nil
}

// buildQuoteRepo MySQL 主存储，可选 Redis 缓存层
func buildQuoteRepo(db *gorm.DB, redisAddr string) (oracle.QuoteRepository, error) {
	mysqlRepo := oracle.NewMySQLQuoteRepository(db)
	if err := mysqlRepo.AutoMigrate(); err != nil {
		return nil, fmt.Errorf("migrate quotes: %w", err)
	}

	if redisAddr == "" {
		return mysqlRepo, nil
	}

	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return oracle.NewCachedQuoteRepository(mysqlRepo, rdb), nil
}

// loadQuotes 读每个币种最近 hours 条报价，不够就现场下载
func loadQuotes(ctx context.Context, repo oracle.QuoteRepository, hours int) (map[oracle.Currency][]oracle.Quote, error) {
	client := oracle.NewCoinGeckoClient(vsCurrency)
	quotes := make(map[oracle.Currency][]oracle.Quote, len(simulatedTokens))

	for _, token := range simulatedTokens {
		count, err := repo.Count(ctx, token)
		if err != nil {
			return nil, fmt.Errorf("count %s: %w", token, err)
		}

		if count < int64(hours) {
			log.Printf("[Simulation] Only %d/%d quotes for %s, downloading", count, hours, token)
			now := time.Now().Unix()
			downloaded, err := client.MarketChartRange(ctx, token, now-int64(hours)*secondsPerHour, now)
			if err != nil {
				return nil, fmt.Errorf("download %s: %w", token, err)
			}
			if err := repo.SaveBatch(ctx, downloaded); err != nil {
				return nil, fmt.Errorf("save %s: %w", token, err)
			}
		}

		series, err := repo.Series(ctx, token, hours)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", token, err)
		}
		if len(series) == 0 {
			return nil, fmt.Errorf("no quotes for %s", token)
		}
		quotes[token] = series
	}
	return quotes, nil
}

// buildSimulation 搭一轮模拟的全部组件
func buildSimulation(
	quotes map[oracle.Currency][]oracle.Quote,
	traderCount int,
	seed int64,
	sinks []metrics.Sink,
	publisher *journal.Publisher,
) (*sim.Simulation, error) {
	// 各序列长度可能参差，horizon 取最短的
	minLen := -1
	for _, series := range quotes {
		if minLen < 0 || len(series) < minLen {
			minLen = len(series)
		}
	}
	clk := clock.New(minLen - 1)

	priceOracle, err := oracle.NewPriceOracle(clk, quotes)
	if err != nil {
		return nil, fmt.Errorf("price oracle: %w", err)
	}

	engineRng := rand.New(rand.NewSource(seed))
	eng, err := engine.NewEngine(
		engine.DefaultConfig(),
		clk,
		priceOracle,
		engine.Strategies{
			ApplySlippage:           engine.GaussianSlippage(engineRng, desiredMaxSlippagePercent),
			CalculateFees:           engine.NoFees,
			CalculateInterestRate:   engine.NoInterest,
			CalculateLiquidationFee: engine.NoLiquidationFee,
			SplitFees:               engine.SplitFeesEvenly,
		},
		initialVaults,
		initialInsurance,
	)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	if publisher != nil {
		eng.OnEvent(publisher.Handle)
	}

	nameRng := rand.New(rand.NewSource(seed + 1))
	traderNames := sim.NewNameGenerator(nameRng).UniqueNames(traderCount)

	traders := make([]*sim.Trader, 0, traderCount)
	for i, name := range traderNames {
		traderRng := rand.New(rand.NewSource(seed + 2 + int64(i)))

		// 保证金按 usd 采样再折算成币数，和杠杆一样是随机策略
		calcCollateral := func(token oracle.Currency) float64 {
			usd := math.Abs(traderRng.NormFloat64()*5000+3000) + 100.0
			price, err := priceOracle.GetPrice(token)
			if err != nil || price <= 0 {
				return usd
			}
			return usd / price
		}
		calcLeverage := func() float64 {
			return 1.0 + traderRng.Float64()*9.0
		}

		trader, err := sim.NewTrader(sim.TraderConfig{
			Account:                  oracle.Account(name),
			OpenPositionProbability:  0.1,
			ClosePositionProbability: 0.1,
			MaxSlippagePercent:       desiredMaxSlippagePercent,
			BaseToken:                baseToken,
			TradableTokens:           []oracle.Currency{"bitcoin", "ethereum"},
			Liquidity:                traderWallet,
			CalculateCollateral:      calcCollateral,
			CalculateLeverage:        calcLeverage,
		}, eng, traderRng)
		if err != nil {
			return nil, fmt.Errorf("trader %s: %w", name, err)
		}
		traders = append(traders, trader)
	}

	liquidator := sim.NewLiquidator("liquidation-bot", eng)
	logger := metrics.NewLogger(sinks...)

	return sim.New(clk, eng, traders, liquidator, logger, simulatedTokens), nil
}
