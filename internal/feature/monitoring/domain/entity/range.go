package entity

import "time"

// Range はダッシュボードの表示期間です。
type Range string

const (
	Range1h  Range = "1h"
	Range24h Range = "24h"
	Range7d  Range = "7d"
	Range30d Range = "30d"
)

// ParseRange は未知の値を24hとして扱います。
func ParseRange(s string) Range {
	switch r := Range(s); r {
	case Range1h, Range24h, Range7d, Range30d:
		return r
	}
	return Range24h
}

// Hours は期間の時間数です。
func (r Range) Hours() int {
	switch r {
	case Range1h:
		return 1
	case Range7d:
		return 24 * 7
	case Range30d:
		return 24 * 30
	default:
		return 24
	}
}

// Bucket は集計の粒度です。1h以下は分、24h以下は時、それ以上は日です。
func (r Range) Bucket() time.Duration {
	switch h := r.Hours(); {
	case h <= 1:
		return time.Minute
	case h <= 24:
		return time.Hour
	default:
		return 24 * time.Hour
	}
}

// Slots はバケット数です。
func (r Range) Slots() int {
	return int(time.Duration(r.Hours()) * time.Hour / r.Bucket())
}
