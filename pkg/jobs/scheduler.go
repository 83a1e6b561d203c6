package jobs

import (
	"context"

	"github.com/robfig/cron/v3"

	"github.com/nauu/lightingbi/pkg/observability"
)

// Scheduler runs the cycle audit on a cron schedule
type Scheduler struct {
	cron     *cron.Cron
	audit    *CycleAudit
	logger   *observability.Logger
	schedule string
}

// NewScheduler schedules audit. schedule is a standard five-field cron
// expression or a descriptor such as "@every 10m". Overlapping runs are skipped.
func NewScheduler(audit *CycleAudit, schedule string, logger *observability.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = observability.NewNopLogger()
	}

	s := &Scheduler{
		cron:     cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		audit:    audit,
		logger:   logger,
		schedule: schedule,
	}
	if _, err := s.cron.AddFunc(schedule, s.runAudit); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Scheduler) runAudit() {
	defer observability.RecoverPanic(s.logger, "cycle audit")

	if _, err := s.audit.Run(context.Background()); err != nil {
		s.logger.WithError(err).Error("cycle audit failed")
	}
}

// Start starts the cron scheduler in its own goroutine
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.WithField("schedule", s.schedule).Info("cycle audit scheduled")
}

// Stop stops scheduling and waits for a running audit to finish or ctx to end
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
