package mirror

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler drains the outbox on a cron schedule.
type Scheduler struct {
	cron   *cron.Cron
	outbox *Outbox
	spec   string
	logger *zap.Logger
}

// NewScheduler accepts any robfig/cron spec, including "@every 1m".
func NewScheduler(outbox *Outbox, spec string, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if spec == "" {
		spec = "@every 1m"
	}
	return &Scheduler{
		cron:   cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		outbox: outbox,
		spec:   spec,
		logger: logger,
	}
}

func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.spec, s.drain); err != nil {
		return err
	}
	s.logger.Info("starting mirror scheduler", zap.String("schedule", s.spec))
	s.cron.Start()
	return nil
}

// Stop waits for a running drain to finish.
func (s *Scheduler) Stop() {
	s.logger.Info("stopping mirror scheduler")
	<-s.cron.Stop().Done()
}

func (s *Scheduler) drain() {
	if s.outbox.Pending() == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	s.outbox.Drain(ctx)
}
