package worker

import (
	"context"
	"time"

	"kudi/internal/logger"
	"kudi/internal/services/withdrawal"
)

type WithdrawalReconciler interface {
	Reconcile(ctx context.Context) (*withdrawal.ReconcileReport, error)
}

type FundingExpirer interface {
	ExpireStale(ctx context.Context) (int, error)
}

type SweepRecorder interface {
	RecordSweep(at time.Time)
}

// Sweeper periodically resolves stuck withdrawals and stale funding intents.
type Sweeper struct {
	withdrawals WithdrawalReconciler
	funding     FundingExpirer
	interval    time.Duration
	recorder    SweepRecorder
}

func NewSweeper(withdrawals WithdrawalReconciler, funding FundingExpirer, interval time.Duration, recorder SweepRecorder) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{withdrawals: withdrawals, funding: funding, interval: interval, recorder: recorder}
}

// Run sweeps once immediately, then on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.RunOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Sweeper) RunOnce(ctx context.Context) {
	report, err := s.withdrawals.Reconcile(ctx)
	if err != nil {
		logger.Errorf("withdrawal sweep failed: %v", err)
	}
	if report != nil && (report.Compensated+report.Completed+report.Failed+report.Redispatched) > 0 {
		logger.WithFields(map[string]interface{}{
			"compensated":  report.Compensated,
			"completed":    report.Completed,
			"failed":       report.Failed,
			"redispatched": report.Redispatched,
		}).Info("withdrawal sweep")
	}

	expired, err := s.funding.ExpireStale(ctx)
	if err != nil {
		logger.Errorf("funding sweep failed: %v", err)
	}
	if expired > 0 {
		logger.Infof("funding sweep resolved %d stale intents", expired)
	}

	if s.recorder != nil {
		s.recorder.RecordSweep(time.Now())
	}
}
