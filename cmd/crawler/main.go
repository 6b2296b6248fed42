// 文件: cmd/crawler/main.go
// 历史价格爬虫
//
// 从 CoinGecko 下载指定币种最近 N 天的小时级价格，落入 MySQL。
// 模拟入口 (cmd/simulation) 从同一张表读序列。
//
// 用法:
//
//	crawler -token ethereum -days 80
//	crawler -token bitcoin -days 80 -replace

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"margin.com/pkg/oracle"
)

const (
	defaultDSN      = "root:123456@tcp(127.0.0.1:3307)/margin_sim?charset=utf8mb4&parseTime=True&loc=Local"
	vsCurrency      = oracle.Currency("usd")
	secondsPerHour  = 3600
	downloadTimeout = 5 * time.Minute
)

func main() {
	token := flag.String("token", "", "coin id to download (e.g. ethereum)")
	days := flag.Int("days", 80, "days of hourly history")
	dsn := flag.String("dsn", defaultDSN, "mysql dsn")
	replace := flag.Bool("replace", false, "delete existing quotes for this coin first")
	flag.Parse()

	if *token == "" {
		flag.Usage()
		os.Exit(2)
	}

	if err := run(*token, *days, *dsn, *replace); err != nil {
		log.Fatalf("[Crawler] %v", err)
	}
}

func run(token string, days int, dsn string, replace bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), downloadTimeout)
	defer cancel()

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return fmt.Errorf("connect mysql: %w", err)
	}

	repo := oracle.NewMySQLQuoteRepository(db)
	if err := repo.AutoMigrate(); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	client := oracle.NewCoinGeckoClient(vsCurrency)

	// 先核对 coin id，拼错直接报出合法候选比静默下载空序列强
	coin := oracle.Currency(token)
	ids, err := client.CoinIDs(ctx)
	if err != nil {
		return fmt.Errorf("fetch coin ids: %w", err)
	}
	if !containsCoin(ids, coin) {
		return fmt.Errorf("unknown coin %q, check CoinGecko coin list", token)
	}

	hours := days * 24
	now := time.Now().Unix()
	from := now - int64(hours)*secondsPerHour

	log.Printf("[Crawler] Downloading %d hourly quotes for %s", hours, coin)
	quotes, err := client.MarketChartRange(ctx, coin, from, now)
	if err != nil {
		return fmt.Errorf("download %s: %w", coin, err)
	}
	if len(quotes) == 0 {
		return fmt.Errorf("coingecko returned no quotes for %s", coin)
	}

	if replace {
		if err := repo.DeleteByCoin(ctx, coin); err != nil {
			return fmt.Errorf("delete old quotes: %w", err)
		}
	}

	if err := repo.SaveBatch(ctx, quotes); err != nil {
		return fmt.Errorf("save quotes: %w", err)
	}

	log.Printf("[Crawler] Saved %d quotes for %s (%s .. %s)",
		len(quotes), coin,
		time.Unix(quotes[0].Timestamp, 0).Format(time.RFC3339),
		time.Unix(quotes[len(quotes)-1].Timestamp, 0).Format(time.RFC3339))
	return nil
}

func containsCoin(ids []oracle.Currency, coin oracle.Currency) bool {
	for _, id := range ids {
		if id == coin {
			return true
		}
	}
	return false
}
