package worker

import (
	"context"
	"errors"
	"fmt"

	"circulation-service/internal/service"
	"circulation-service/internal/util"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// SweepWorker triggers the notification dispatcher on a cron schedule
// (daily at 08:00 by default). A tick never retries a failed sweep; it
// logs and waits for the next one. Overlap is prevented inside the
// dispatcher, so a tick that fires mid-sweep is simply skipped.
type SweepWorker struct {
	dispatcher *service.Dispatcher
	schedule   string
	cron       *cron.Cron
	logger     *zap.Logger
}

// NewSweepWorker creates a sweep worker with a standard 5-field cron
// schedule string.
func NewSweepWorker(dispatcher *service.Dispatcher, schedule string) *SweepWorker {
	return &SweepWorker{
		dispatcher: dispatcher,
		schedule:   schedule,
		cron:       cron.New(),
		logger:     util.GetLogger(),
	}
}

// Start registers the sweep job and starts the scheduler
func (w *SweepWorker) Start(ctx context.Context) error {
	_, err := w.cron.AddFunc(w.schedule, func() {
		w.RunOnce(ctx)
	})
	if err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", w.schedule, err)
	}

	w.cron.Start()
	w.logger.Info("Sweep worker started", zap.String("schedule", w.schedule))
	return nil
}

// RunOnce executes one sweep and logs the counts. Also used by the
// manual trigger endpoint.
func (w *SweepWorker) RunOnce(ctx context.Context) (service.SweepResult, error) {
	result, err := w.dispatcher.Run(ctx)
	if errors.Is(err, service.ErrSweepInProgress) {
		w.logger.Warn("Skipping sweep: previous run still in flight")
		return result, err
	}
	if err != nil {
		w.logger.Error("Notification sweep failed", zap.Error(err))
		return result, err
	}

	w.logger.Info("Notification sweep run finished",
		zap.Int("due_soon_sent", result.DueSoonSent),
		zap.Int("overdue_sent", result.OverdueSent),
		zap.Int("errors", result.Errors))
	return result, nil
}

// Stop stops the scheduler and waits for a running job to finish
func (w *SweepWorker) Stop() {
	stopCtx := w.cron.Stop()
	<-stopCtx.Done()
	w.logger.Info("Sweep worker stopped")
}
