package cache

import (
	"testing"
	"time"
)

func TestTimeUntilNextBoundary(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 10, 15, 30, 0, time.UTC)

	tests := []struct {
		name string
		now  time.Time
		step time.Duration
		want time.Duration
	}{
		{"minute bucket", base, time.Minute, 30 * time.Second},
		{"hour bucket", base, time.Hour, 44*time.Minute + 30*time.Second},
		{"exact boundary", time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC), time.Hour, time.Hour},
		{"zero step", base, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := TimeUntilNextBoundary(tt.now, tt.step); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestBoundedTTL(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 10, 15, 50, 0, time.UTC)

	if got := BoundedTTL(now, time.Minute, 30*time.Second); got != 10*time.Second {
		t.Errorf("expected boundary to win, got %v", got)
	}
	if got := BoundedTTL(now, time.Hour, 30*time.Second); got != 30*time.Second {
		t.Errorf("expected max to win, got %v", got)
	}
	if got := BoundedTTL(now, 0, 30*time.Second); got != 30*time.Second {
		t.Errorf("expected max for zero step, got %v", got)
	}
}
