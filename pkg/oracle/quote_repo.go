// 文件: pkg/oracle/quote_repo.go
// 历史报价仓库 (GORM 实现)
//
// 【职责】
// 1. crawler 下载的报价入库
// 2. 模拟启动时按币种取最近 N 条 (最老的在前)
// 3. 不关心报价从哪来，也不关心谁消费

package oracle

import (
	"context"

	"gorm.io/gorm"
)

// QuoteRepository 报价仓库接口
//
// 【设计】只依赖接口，方便:
// - MySQLQuoteRepository (无缓存)
// - CachedQuoteRepository (Redis 缓存装饰器)
// - 单元测试用内存 Mock
type QuoteRepository interface {
	// SaveBatch 批量保存报价
	SaveBatch(ctx context.Context, quotes []Quote) error

	// Series 取某币种最近 limit 条报价，按时间升序返回
	Series(ctx context.Context, coin Currency, limit int) ([]Quote, error)

	// Count 某币种已有的报价条数
	Count(ctx context.Context, coin Currency) (int64, error)

	// DeleteByCoin 删除某币种全部报价 (重新下载前清理)
	DeleteByCoin(ctx context.Context, coin Currency) error
}

// =============================================================================
// MySQLQuoteRepository
// =============================================================================

var _ QuoteRepository = (*MySQLQuoteRepository)(nil)

// MySQLQuoteRepository MySQL 报价仓库
type MySQLQuoteRepository struct {
	db *gorm.DB
}

func NewMySQLQuoteRepository(db *gorm.DB) *MySQLQuoteRepository {
	return &MySQLQuoteRepository{db: db}
}

// AutoMigrate 建表
func (r *MySQLQuoteRepository) AutoMigrate() error {
	return r.db.AutoMigrate(&Quote{})
}

func (r *MySQLQuoteRepository) SaveBatch(ctx context.Context, quotes []Quote) error {
	if len(quotes) == 0 {
		return nil
	}
	// 分批插入，避免单条 SQL 过大
	return r.db.WithContext(ctx).CreateInBatches(quotes, 500).Error
}

func (r *MySQLQuoteRepository) Series(ctx context.Context, coin Currency, limit int) ([]Quote, error) {
	// 先按时间倒序取 limit 条，再反转成升序
	// (直接升序 + OFFSET 需要先 Count，多一次查询)
	var quotes []Quote
	err := r.db.WithContext(ctx).
		Where("coin = ?", string(coin)).
		Order("timestamp DESC").
		Limit(limit).
		Find(&quotes).Error
	if err != nil {
		return nil, err
	}

	for i, j := 0, len(quotes)-1; i < j; i, j = i+1, j-1 {
		quotes[i], quotes[j] = quotes[j], quotes[i]
	}
	return quotes, nil
}

func (r *MySQLQuoteRepository) Count(ctx context.Context, coin Currency) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&Quote{}).
		Where("coin = ?", string(coin)).
		Count(&count).Error
	return count, err
}

func (r *MySQLQuoteRepository) DeleteByCoin(ctx context.Context, coin Currency) error {
	return r.db.WithContext(ctx).
		Where("coin = ?", string(coin)).
		Delete(&Quote{}).Error
}
