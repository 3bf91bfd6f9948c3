package worker

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"
)

// Housekeeper is the campaign-renewal side of the drip scheduler.
type Housekeeper interface {
	ExpireStale(ctx context.Context) error
}

// DripWorker drives drip delivery and campaign housekeeping on a slower
// interval than the automation worker.
type DripWorker struct {
	Scheduler   Runner
	Housekeeper Housekeeper
	Logger      *logrus.Logger
	Interval    time.Duration

	Ticks <-chan time.Time

	running int32
}

func NewDripWorker(scheduler Runner, housekeeper Housekeeper, logger *logrus.Logger, interval time.Duration) *DripWorker {
	return &DripWorker{
		Scheduler:   scheduler,
		Housekeeper: housekeeper,
		Logger:      logger,
		Interval:    interval,
	}
}

func (w *DripWorker) Start(ctx context.Context) {
	w.Logger.WithField("interval", w.Interval).Info("drip worker started")

	ticks := w.Ticks
	if ticks == nil {
		ticker := time.NewTicker(w.Interval)
		defer ticker.Stop()
		ticks = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			w.Logger.Info("drip worker shutting down")
			return
		case <-ticks:
			w.Tick(ctx)
		}
	}
}

func (w *DripWorker) Tick(ctx context.Context) {
	if !atomic.CompareAndSwapInt32(&w.running, 0, 1) {
		w.Logger.Warn("previous drip pass still running, skipping tick")
		return
	}
	defer atomic.StoreInt32(&w.running, 0)

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("drip pass panicked: %v", r)
			w.Logger.WithError(err).Error("recovered from panic")
			sentry.CaptureException(err)
		}
	}()

	if err := w.Scheduler.RunOnce(ctx); err != nil {
		w.Logger.WithError(err).Error("drip pass failed")
		sentry.CaptureException(err)
	}

	if w.Housekeeper != nil {
		if err := w.Housekeeper.ExpireStale(ctx); err != nil {
			w.Logger.WithError(err).Error("subscription expiry pass failed")
			sentry.CaptureException(err)
		}
	}
}
