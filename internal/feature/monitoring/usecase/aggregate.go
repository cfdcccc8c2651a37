package usecase

import (
	"cmp"
	"slices"
	"time"

	"ai_memory/internal/feature/monitoring/domain/entity"
)

// aggregate は points を r の粒度でバケットに集計します。
// 値は合計し、average が true の場合は点数で割ります。
// バケットはUTC基準で切り捨て、最新のバケットは now を含みます。空のバケットは0です。
func aggregate(points []entity.Point, r entity.Range, now time.Time, average bool) []entity.Point {
	step := r.Bucket()
	slots := r.Slots()
	start := now.UTC().Truncate(step).Add(-time.Duration(slots-1) * step)

	sums := make([]float64, slots)
	counts := make([]int, slots)
	for _, p := range points {
		if p.Timestamp.Before(start) {
			continue
		}
		i := int(p.Timestamp.Sub(start) / step)
		if i >= slots {
			continue
		}
		sums[i] += p.Value
		counts[i]++
	}

	out := make([]entity.Point, slots)
	for i := range out {
		v := sums[i]
		if average && counts[i] > 0 {
			v /= float64(counts[i])
		}
		out[i] = entity.Point{Timestamp: start.Add(time.Duration(i) * step), Value: v}
	}
	return out
}

// distribution はカテゴリ別件数を割合付きの一覧にします。件数の多い順です。
func distribution(counts map[string]int) []entity.CategoryCount {
	total := 0
	for _, n := range counts {
		total += n
	}
	out := make([]entity.CategoryCount, 0, len(counts))
	for cat, n := range counts {
		cc := entity.CategoryCount{Category: cat, Count: n}
		if total > 0 {
			cc.Percent = float64(n) / float64(total) * 100
		}
		out = append(out, cc)
	}
	slices.SortFunc(out, func(a, b entity.CategoryCount) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Category, b.Category)
	})
	return out
}
