// 文件: pkg/journal/journal_test.go
// 结算流水测试
//
// DBWriter 的缓冲/刷新逻辑直接喂 HandleMessage 测，不依赖真实 Kafka

package journal

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"margin.com/pkg/engine"
)

// =============================================================================
// Mock 存储
// =============================================================================

type mockEntryRepo struct {
	mu      sync.Mutex
	batches [][]*Entry
	failing bool
}

func (r *mockEntryRepo) SaveBatch(_ context.Context, entries []*Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failing {
		return assert.AnError
	}
	r.batches = append(r.batches, entries)
	return nil
}

func (r *mockEntryRepo) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, b := range r.batches {
		n += len(b)
	}
	return n
}

// =============================================================================
// 测试辅助
// =============================================================================

func testEvent(t engine.EventType, posID int64) engine.PositionEvent {
	return engine.PositionEvent{
		Type: t,
		Tick: 7,
		Position: engine.Position{
			ID:              posID,
			Owner:           "alice",
			SrcToken:        "dai",
			DstToken:        "ethereum",
			CollateralToken: "dai",
			Collateral:      100,
			Principal:       1000,
			OpenTick:        3,
		},
		TraderPL:      12.5,
		LiquidationPL: 0,
	}
}

// =============================================================================
// FromEvent
// =============================================================================

func TestFromEvent_MapsPositionSnapshot(t *testing.T) {
	entry := FromEvent(testEvent(engine.EventPositionClosed, 42))

	assert.Equal(t, EntryClose, entry.Type)
	assert.Equal(t, "CLOSE_42", entry.EventID) // 幂等键: {type}_{position_id}
	assert.Equal(t, 7, entry.Tick)
	assert.Equal(t, int64(42), entry.PositionID)
	assert.Equal(t, "alice", entry.Owner)
	assert.Equal(t, "ethereum", entry.DstToken)
	assert.Equal(t, 100.0, entry.Collateral)
	assert.Equal(t, 1000.0, entry.Principal)
	assert.Equal(t, 3, entry.OpenTick)
	assert.Equal(t, 12.5, entry.TraderPL)

	t.Log("✅ 事件 -> 流水字段映射正确")
}

func TestFromEvent_EntryTypes(t *testing.T) {
	cases := []struct {
		eventType engine.EventType
		want      EntryType
	}{
		{engine.EventPositionOpened, EntryOpen},
		{engine.EventPositionClosed, EntryClose},
		{engine.EventPositionLiquidated, EntryLiquidate},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, FromEvent(testEvent(c.eventType, 1)).Type)
	}

	t.Log("✅ 三种事件类型映射正确")
}

// =============================================================================
// DBWriter
// =============================================================================

func feedEntry(t *testing.T, w *DBWriter, entry *Entry) {
	t.Helper()
	data, err := json.Marshal(entry)
	require.NoError(t, err)
	require.NoError(t, w.HandleMessage(TopicPositionEvents, []byte(entry.EventID), data))
}

func TestDBWriter_FlushesWhenBatchFull(t *testing.T) {
	repo := &mockEntryRepo{}
	cfg := DefaultDBWriterConfig(nil)
	cfg.BatchSize = 3
	w := NewDBWriter(cfg, repo)

	for i := int64(1); i <= 3; i++ {
		feedEntry(t, w, FromEvent(testEvent(engine.EventPositionClosed, i)))
	}

	// 第 3 条触发批量写入
	assert.Equal(t, 3, repo.total())
	assert.Equal(t, int64(3), w.Stats().ReceivedCount)
	assert.Equal(t, int64(3), w.Stats().WrittenCount)
	assert.Equal(t, int64(1), w.Stats().BatchCount)

	t.Log("✅ 缓冲满自动刷库")
}

func TestDBWriter_ManualFlushDrainsBuffer(t *testing.T) {
	repo := &mockEntryRepo{}
	cfg := DefaultDBWriterConfig(nil)
	cfg.BatchSize = 100
	cfg.FlushInterval = time.Hour // 不让定时器干扰
	w := NewDBWriter(cfg, repo)

	feedEntry(t, w, FromEvent(testEvent(engine.EventPositionOpened, 1)))
	assert.Equal(t, 0, repo.total(), "不满批不落库")

	w.Flush()
	assert.Equal(t, 1, repo.total())

	w.Flush() // 空缓冲 flush 不产生空批
	assert.Equal(t, int64(1), w.Stats().BatchCount)

	t.Log("✅ 手动 Flush 清空缓冲")
}

func TestDBWriter_BadMessageCountedNotFatal(t *testing.T) {
	repo := &mockEntryRepo{}
	w := NewDBWriter(DefaultDBWriterConfig(nil), repo)

	err := w.HandleMessage(TopicPositionEvents, nil, []byte("not json"))
	assert.Error(t, err)
	assert.Equal(t, int64(1), w.Stats().ErrorCount)

	// 坏消息之后正常消息仍然可以处理
	feedEntry(t, w, FromEvent(testEvent(engine.EventPositionClosed, 9)))
	w.Flush()
	assert.Equal(t, 1, repo.total())

	t.Log("✅ 坏消息跳过，不中断消费")
}

func TestDBWriter_SaveFailureKeepsCounting(t *testing.T) {
	repo := &mockEntryRepo{failing: true}
	w := NewDBWriter(DefaultDBWriterConfig(nil), repo)

	feedEntry(t, w, FromEvent(testEvent(engine.EventPositionClosed, 1)))
	w.Flush()

	assert.Equal(t, int64(1), w.Stats().ErrorCount)
	assert.Equal(t, int64(0), w.Stats().WrittenCount)

	t.Log("✅ 落库失败计入错误统计")
}
