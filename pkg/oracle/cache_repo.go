// 文件: pkg/oracle/cache_repo.go
// 报价序列 Redis 缓存层
//
// 【设计模式】装饰器模式
// - 包装底层 QuoteRepository，透明添加缓存能力
// - 调用方只看到 QuoteRepository 接口
//
// 【缓存策略】
// - 读: 先查 Redis，miss 则查 DB 并回填
// - 写/删: 先写 DB，成功后删缓存 (Cache Aside)
// - 缓存粒度是整条序列: 模拟启动一次性读整段历史，逐条缓存没有意义

package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var _ QuoteRepository = (*CachedQuoteRepository)(nil)

const (
	cacheKeyPrefix = "oracle:series:"

	// 序列缓存: oracle:series:{coin}:{limit}
	cacheKeySeries = cacheKeyPrefix + "%s:%d"

	// 历史数据不可变，但序列尾部会随新下载增长，用较短 TTL
	seriesCacheTTL = time.Hour
)

// CachedQuoteRepository Redis 缓存装饰器
type CachedQuoteRepository struct {
	repo  QuoteRepository
	redis *redis.Client
}

// NewCachedQuoteRepository 创建带缓存的报价仓库
//
// 用法:
//
//	mysqlRepo := NewMySQLQuoteRepository(db)
//	cachedRepo := NewCachedQuoteRepository(mysqlRepo, redisClient)
func NewCachedQuoteRepository(repo QuoteRepository, rds *redis.Client) *CachedQuoteRepository {
	return &CachedQuoteRepository{repo: repo, redis: rds}
}

// Series 取报价序列 (带缓存)
func (r *CachedQuoteRepository) Series(ctx context.Context, coin Currency, limit int) ([]Quote, error) {
	cacheKey := fmt.Sprintf(cacheKeySeries, coin, limit)

	// 1. 查缓存
	data, err := r.redis.Get(ctx, cacheKey).Bytes()
	if err == nil {
		var quotes []Quote
		if err := json.Unmarshal(data, &quotes); err == nil {
			return quotes, nil
		}
		// 缓存数据损坏，删掉走 DB
		r.redis.Del(ctx, cacheKey)
	}

	// 2. 查 DB
	quotes, err := r.repo.Series(ctx, coin, limit)
	if err != nil {
		return nil, err
	}

	// 3. 回填缓存 (失败不影响主流程)
	if data, err := json.Marshal(quotes); err == nil {
		r.redis.Set(ctx, cacheKey, data, seriesCacheTTL)
	}

	return quotes, nil
}

// SaveBatch 批量保存并失效缓存
func (r *CachedQuoteRepository) SaveBatch(ctx context.Context, quotes []Quote) error {
	if err := r.repo.SaveBatch(ctx, quotes); err != nil {
		return err
	}
	r.invalidate(ctx, coinsOf(quotes)...)
	return nil
}

// Count 条数查询不走缓存，直接透传
func (r *CachedQuoteRepository) Count(ctx context.Context, coin Currency) (int64, error) {
	return r.repo.Count(ctx, coin)
}

// DeleteByCoin 删除并失效缓存
func (r *CachedQuoteRepository) DeleteByCoin(ctx context.Context, coin Currency) error {
	if err := r.repo.DeleteByCoin(ctx, coin); err != nil {
		return err
	}
	r.invalidate(ctx, coin)
	return nil
}

// invalidate 删除币种的所有序列缓存 key
func (r *CachedQuoteRepository) invalidate(ctx context.Context, coins ...Currency) {
	for _, coin := range coins {
		pattern := cacheKeyPrefix + string(coin) + ":*"
		keys, err := r.redis.Keys(ctx, pattern).Result()
		if err != nil || len(keys) == 0 {
			continue
		}
		r.redis.Del(ctx, keys...)
	}
}

func coinsOf(quotes []Quote) []Currency {
	seen := make(map[Currency]struct{})
	var coins []Currency
	for _, q := range quotes {
		coin := Currency(q.Coin)
		if _, ok := seen[coin]; ok {
			continue
		}
		seen[coin] = struct{}{}
		coins = append(coins, coin)
	}
	return coins
}
