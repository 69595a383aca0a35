package matchmaker

import (
	"testing"
	"time"
)

func TestSweepIntervalLowerBound(t *testing.T) {
	got := sweepInterval(10) // 10/4 = 2.5s, below the 5s floor
	if got != 5*time.Second {
		t.Errorf("expected floor of 5s, got %v", got)
	}
}

func TestSweepIntervalQuarterOfTimeout(t *testing.T) {
	got := sweepInterval(60) // 60/4 = 15s
	if got != 15*time.Second {
		t.Errorf("expected 15s, got %v", got)
	}
}

func TestBackoffForGrowsLinearlyThenCaps(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1 * time.Second},
		{5, 5 * time.Second},
		{10, 10 * time.Second},
		{50, 10 * time.Second},
	}
	for _, c := range cases {
		if got := backoffFor(c.attempt); got != c.want {
			t.Errorf("backoffFor(%d) = %v, want %v", c.attempt, got, c.want)
		}
	}
}
