package usecase

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ai_memory/internal/feature/monitoring/domain/entity"
)

var testNow = time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)

type recordingMirror struct {
	mu         sync.Mutex
	promotions []bool
	forgotten  int
	lookups    []bool
	queue      []int
}

func (m *recordingMirror) Promotion(ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.promotions = append(m.promotions, ok)
}

func (m *recordingMirror) Forgotten(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.forgotten += n
}

func (m *recordingMirror) CacheLookup(hit bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups = append(m.lookups, hit)
}

func (m *recordingMirror) QueueLength(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, n)
}

func newTestCollector(mirror Mirror) (*Collector, *time.Time) {
	clock := testNow
	c := NewCollector(24*time.Hour, mirror)
	c.now = func() time.Time { return clock }
	return c, &clock
}

func TestCollector_Records(t *testing.T) {
	mirror := &recordingMirror{}
	c, _ := newTestCollector(mirror)

	c.RecordPromotion("fact", true)
	c.RecordPromotion("goal", true)
	c.RecordPromotion("noise", false)
	c.RecordForgotten(4)
	c.RecordForgotten(0)
	c.RecordCacheLookup(true)
	c.RecordCacheLookup(false)
	c.RecordCacheLookup(false)
	c.RecordQueueLength(7)

	tot := c.Totals()
	assert.Equal(t, entity.Totals{Promotions: 2, Rejections: 1, Forgotten: 4, CacheHits: 1, CacheMisses: 2}, tot)
	assert.Equal(t, 7, c.LastQueueLength())

	promotions, queue := c.Points()
	require.Len(t, promotions, 2, "rejections do not add points")
	assert.Equal(t, "fact", promotions[0].Label)
	assert.Equal(t, entity.KindPromotion, promotions[0].Kind)
	require.Len(t, queue, 1)
	assert.Equal(t, float64(7), queue[0].Value)

	assert.Equal(t, []bool{true, true, false}, mirror.promotions)
	assert.Equal(t, 4, mirror.forgotten)
	assert.Equal(t, []bool{true, false, false}, mirror.lookups)
	assert.Equal(t, []int{7}, mirror.queue)
}

func TestCollector_RetentionTrim(t *testing.T) {
	c, clock := newTestCollector(nil)

	c.RecordQueueLength(1)
	*clock = clock.Add(23 * time.Hour)
	c.RecordQueueLength(2)
	*clock = clock.Add(2 * time.Hour)
	c.RecordQueueLength(3)

	_, queue := c.Points()
	require.Len(t, queue, 2)
	assert.Equal(t, float64(2), queue[0].Value)

	*clock = clock.Add(48 * time.Hour)
	c.Trim()
	_, queue = c.Points()
	assert.Empty(t, queue)
}

func TestCollector_Restore(t *testing.T) {
	c, _ := newTestCollector(nil)
	c.RecordPromotion("fact", true)

	c.Restore(entity.Totals{Promotions: 10, Rejections: 2}, []entity.Point{
		{Kind: entity.KindPromotion, Timestamp: testNow.Add(-time.Hour), Value: 1, Label: "goal"},
		{Kind: entity.KindQueueLength, Timestamp: testNow.Add(-time.Hour), Value: 5},
	})

	assert.Equal(t, int64(10), c.Totals().Promotions)
	assert.Equal(t, 5, c.LastQueueLength())
	promotions, queue := c.Points()
	require.Len(t, promotions, 1)
	assert.Equal(t, "goal", promotions[0].Label)
	assert.Len(t, queue, 1)
}

func TestCollector_Concurrent(t *testing.T) {
	c := NewCollector(time.Hour, nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c.RecordPromotion("fact", i%2 == 0)
			c.RecordCacheLookup(i%3 == 0)
			c.RecordQueueLength(i)
			_ = c.Totals()
		}(i)
	}
	wg.Wait()

	tot := c.Totals()
	assert.Equal(t, int64(50), tot.Attempts())
	assert.Equal(t, int64(50), tot.CacheLookups())
}
