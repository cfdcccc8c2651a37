package cache

import "time"

// TimeUntilNextBoundary は now から次の step 境界（UTC基準で切り捨て）までの期間を返します。
// 境界ちょうどの場合は step を返します。
func TimeUntilNextBoundary(now time.Time, step time.Duration) time.Duration {
	if step <= 0 {
		return 0
	}
	next := now.Truncate(step).Add(step)
	return next.Sub(now)
}

// BoundedTTL は集計バケットの切り替わりを越えないようにTTLを切り詰めます。
func BoundedTTL(now time.Time, step, max time.Duration) time.Duration {
	ttl := TimeUntilNextBoundary(now, step)
	if ttl <= 0 || (max > 0 && ttl > max) {
		return max
	}
	return ttl
}
