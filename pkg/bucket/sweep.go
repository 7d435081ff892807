package bucket

import (
	"context"
	"log/slog"
)

// Sweeper periodically re-evaluates every ACCUMULATING bucket's thresholds,
// covering TIME and HYBRID thresholds that would otherwise only fire on the
// next add-claim (§4.6: "triggered on every add-claim and on a periodic
// sweep").
type Sweeper struct {
	store   Store
	machine *StateMachine
	logger  *slog.Logger
}

// NewSweeper builds a Sweeper. Register its Run method with
// pkg/scheduler.Scheduler at the BucketSweepIntervalMs cadence.
func NewSweeper(store Store, machine *StateMachine, logger *slog.Logger) *Sweeper {
	return &Sweeper{store: store, machine: machine, logger: logger}
}

// Run is the scheduler.Task entry point.
func (s *Sweeper) Run(ctx context.Context) {
	buckets, err := s.store.ListAccumulating(ctx)
	if err != nil {
		s.logger.Error("listing accumulating buckets for sweep failed", "error", err)
		return
	}

	for _, b := range buckets {
		if err := s.machine.EvaluateThresholds(ctx, b, b.BucketingRuleID); err != nil {
			s.logger.Error("threshold sweep failed for bucket", "bucket_id", b.BucketID, "error", err)
		}
	}
}
