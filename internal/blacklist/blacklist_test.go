package blacklist

import (
	"context"
	"testing"
	"time"

	"github.com/playmatatu/matchcore/internal/models"
)

func TestInMemoryOracleBlocksAfterThreshold(t *testing.T) {
	o := NewInMemoryOracle(3, time.Minute, time.Hour)
	ctx := context.Background()
	player := models.PlayerID("p1")

	for i := 0; i < 2; i++ {
		o.RecordViolation(ctx, player, models.ViolationMissingField, "1.2.3.4")
	}
	v, err := o.CheckPlayerBlock(ctx, player, "1.2.3.4")
	if err != nil || v.Blocked {
		t.Fatalf("expected not blocked after 2 violations, got %+v err=%v", v, err)
	}

	o.RecordViolation(ctx, player, models.ViolationMissingField, "1.2.3.4")
	v, err = o.CheckPlayerBlock(ctx, player, "1.2.3.4")
	if err != nil || !v.Blocked {
		t.Fatalf("expected blocked after 3rd violation, got %+v err=%v", v, err)
	}
}

func TestInMemoryOracleViolationsOutsideWindowDoNotCount(t *testing.T) {
	o := NewInMemoryOracle(2, 10*time.Millisecond, time.Hour)
	ctx := context.Background()
	player := models.PlayerID("p2")

	o.RecordViolation(ctx, player, models.ViolationDuplicated, "")
	time.Sleep(20 * time.Millisecond)
	o.RecordViolation(ctx, player, models.ViolationDuplicated, "")

	v, _ := o.CheckPlayerBlock(ctx, player, "")
	if v.Blocked {
		t.Error("expected not blocked, stale violation should have been pruned")
	}
}

type failingOracle struct{}

func (failingOracle) CheckPlayerBlock(context.Context, models.PlayerID, string) (Verdict, error) {
	return Verdict{}, context.DeadlineExceeded
}
func (failingOracle) RecordViolation(context.Context, models.PlayerID, models.ViolationKind, string) {
}

func TestCheckPlayerBlockFailOpen(t *testing.T) {
	v := CheckPlayerBlockFailOpen(context.Background(), failingOracle{}, "p3", "")
	if v.Blocked {
		t.Error("expected fail-open verdict to be unblocked")
	}
}
