package heartbeat

import (
	"context"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler triggers beats on a cron schedule. The HTTP keep-alive route
// triggers them on demand; both paths go through the same Locker.
type Scheduler struct {
	cron    *cron.Cron
	hb      *Heartbeat
	logger  *zap.Logger
	baseCtx context.Context
}

// NewScheduler creates a scheduler. Specs use the six-field form with seconds.
func NewScheduler(ctx context.Context, hb *Heartbeat, logger *zap.Logger) *Scheduler {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cron:    cron.New(cron.WithSeconds()),
		hb:      hb,
		logger:  logger,
		baseCtx: ctx,
	}
}

// Add registers a beat on spec.
func (s *Scheduler) Add(spec string) (cron.EntryID, error) {
	return s.cron.AddFunc(spec, func() {
		if s.baseCtx.Err() != nil {
			return
		}
		// Errors are reported through the heartbeat's OnError callback.
		_, _ = s.hb.Beat(s.baseCtx)
	})
}

// Start runs the schedule in the background.
func (s *Scheduler) Start() {
	s.logger.Info("heartbeat scheduler started")
	s.cron.Start()
}

// Stop stops the schedule and waits for a running beat to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("heartbeat scheduler stopped")
}
