// 文件: pkg/journal/db_writer.go
// 结算流水数据库写入器
//
// 消费 Kafka 流水事件，写入 MySQL:
// - 批量写入提高吞吐
// - event_id 唯一索引 + ON CONFLICT 跳过，天然幂等
// - 定时 flush 兜底低流量场景

package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"margin.com/pkg/kafka"
)

// =============================================================================
// EntryRepo
// =============================================================================

// EntryRepo 流水存储接口 (测试时可 Mock)
type EntryRepo interface {
	SaveBatch(ctx context.Context, entries []*Entry) error
}

var _ EntryRepo = (*MySQLEntryRepo)(nil)

// MySQLEntryRepo GORM 实现
type MySQLEntryRepo struct {
	db *gorm.DB
}

func NewMySQLEntryRepo(db *gorm.DB) *MySQLEntryRepo {
	return &MySQLEntryRepo{db: db}
}

// AutoMigrate 建表
func (r *MySQLEntryRepo) AutoMigrate() error {
	return r.db.AutoMigrate(&Entry{})
}

// SaveBatch 批量落库，event_id 冲突直接跳过 (重复消费幂等)
func (r *MySQLEntryRepo) SaveBatch(ctx context.Context, entries []*Entry) error {
	if len(entries) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(entries, 200).Error
}

// =============================================================================
// DBWriter
// =============================================================================

// DBWriterConfig 配置
type DBWriterConfig struct {
	Brokers       []string      // Kafka brokers
	GroupID       string        // 消费者组
	BatchSize     int           // 批量大小
	FlushInterval time.Duration // 定时刷新间隔
}

// DefaultDBWriterConfig 默认配置
func DefaultDBWriterConfig(brokers []string) DBWriterConfig {
	return DBWriterConfig{
		Brokers:       brokers,
		GroupID:       "journal_db_writer",
		BatchSize:     100,
		FlushInterval: 500 * time.Millisecond,
	}
}

// DBWriterStats 写入统计
type DBWriterStats struct {
	ReceivedCount int64
	WrittenCount  int64
	ErrorCount    int64
	BatchCount    int64
}

// DBWriter 数据库写入器
type DBWriter struct {
	repo     EntryRepo
	cfg      DBWriterConfig
	consumer *kafka.Consumer

	buffer    []*Entry
	bufferMu  sync.Mutex
	batchSize int

	stats   DBWriterStats
	statsMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	flushInterval time.Duration
}

// NewDBWriter 创建写入器
//
// Kafka 连接推迟到 Start()，缓冲/刷新逻辑可以脱离 broker 单测
func NewDBWriter(cfg DBWriterConfig, repo EntryRepo) *DBWriter {
	ctx, cancel := context.WithCancel(context.Background())

	return &DBWriter{
		repo:          repo,
		cfg:           cfg,
		buffer:        make([]*Entry, 0, cfg.BatchSize),
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Start 连接 Kafka，启动消费与定时刷新
func (w *DBWriter) Start() error {
	consumer, err := kafka.NewConsumer(
		kafka.DefaultConsumerConfig(w.cfg.Brokers, w.cfg.GroupID, []string{TopicPositionEvents}),
		w.HandleMessage,
	)
	if err != nil {
		return fmt.Errorf("journal consumer: %w", err)
	}
	w.consumer = consumer
	w.consumer.Start()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(w.flushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-w.ctx.Done():
				return
			case <-ticker.C:
				w.Flush()
			}
		}
	}()

	log.Println("[Journal] DBWriter started")
	return nil
}

// Stop 停止消费并把残留缓冲刷进 DB
func (w *DBWriter) Stop() {
	w.cancel()
	if w.consumer != nil {
		w.consumer.Close()
	}
	w.wg.Wait()
	w.Flush()
	log.Println("[Journal] DBWriter stopped")
}

// HandleMessage 处理单条 Kafka 消息
//
// 导出是为了单元测试能直接喂消息，不依赖真实 broker
func (w *DBWriter) HandleMessage(topic string, key, value []byte) error {
	var entry Entry
	if err := json.Unmarshal(value, &entry); err != nil {
		w.statsMu.Lock()
		w.stats.ErrorCount++
		w.statsMu.Unlock()
		return fmt.Errorf("unmarshal entry: %w", err)
	}

	w.statsMu.Lock()
	w.stats.ReceivedCount++
	w.statsMu.Unlock()

	w.bufferMu.Lock()
	w.buffer = append(w.buffer, &entry)
	shouldFlush := len(w.buffer) >= w.batchSize
	w.bufferMu.Unlock()

	if shouldFlush {
		w.Flush()
	}
	return nil
}

// Flush 把缓冲批量写入 DB
func (w *DBWriter) Flush() {
	w.bufferMu.Lock()
	if len(w.buffer) == 0 {
		w.bufferMu.Unlock()
		return
	}
	batch := w.buffer
	w.buffer = make([]*Entry, 0, w.batchSize)
	w.bufferMu.Unlock()

	if err := w.repo.SaveBatch(context.Background(), batch); err != nil {
		log.Printf("[Journal] Batch write failed (%d entries): %v", len(batch), err)
		w.statsMu.Lock()
		w.stats.ErrorCount++
		w.statsMu.Unlock()
		return
	}

	w.statsMu.Lock()
	w.stats.WrittenCount += int64(len(batch))
	w.stats.BatchCount++
	w.statsMu.Unlock()
}

// Stats 写入统计快照
func (w *DBWriter) Stats() DBWriterStats {
	w.statsMu.Lock()
	defer w.statsMu.Unlock()
	return w.stats
}
