package entity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseRange(t *testing.T) {
	tests := []struct {
		in     string
		want   Range
		hours  int
		bucket time.Duration
		slots  int
	}{
		{"1h", Range1h, 1, time.Minute, 60},
		{"24h", Range24h, 24, time.Hour, 24},
		{"7d", Range7d, 168, 24 * time.Hour, 7},
		{"30d", Range30d, 720, 24 * time.Hour, 30},
		{"", Range24h, 24, time.Hour, 24},
		{"90d", Range24h, 24, time.Hour, 24},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			r := ParseRange(tt.in)
			assert.Equal(t, tt.want, r)
			assert.Equal(t, tt.hours, r.Hours())
			assert.Equal(t, tt.bucket, r.Bucket())
			assert.Equal(t, tt.slots, r.Slots())
		})
	}
}

func TestTotals_Rates(t *testing.T) {
	assert.Zero(t, Totals{}.SuccessRate())
	assert.Zero(t, Totals{}.CacheHitRate())

	tot := Totals{Promotions: 3, Rejections: 1, CacheHits: 1, CacheMisses: 3}
	assert.InDelta(t, 75.0, tot.SuccessRate(), 1e-9)
	assert.InDelta(t, 25.0, tot.CacheHitRate(), 1e-9)
	assert.Equal(t, int64(4), tot.Attempts())
	assert.Equal(t, int64(4), tot.CacheLookups())
}
