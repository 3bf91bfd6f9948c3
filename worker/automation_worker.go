package worker

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// Runner is one logical engine pass. Both the trigger evaluator and the
// drip scheduler satisfy it.
type Runner interface {
	RunOnce(ctx context.Context) error
}

// AutomationWorker drives the trigger evaluator on a fixed interval.
// Ticks never overlap: an in-process flag skips a tick while the previous
// pass is still running, and an optional Redis lock extends the same
// guarantee across processes.
type AutomationWorker struct {
	Evaluator Runner
	Logger    *logrus.Logger
	Interval  time.Duration

	// Redis is optional; when set, each tick takes a short-lived lock so
	// two replicas never evaluate the same automation set concurrently.
	Redis   *redis.Client
	LockKey string

	// Ticks overrides the wall-clock ticker, used to drive the worker
	// deterministically in tests.
	Ticks <-chan time.Time

	running int32
}

func NewAutomationWorker(evaluator Runner, logger *logrus.Logger, interval time.Duration) *AutomationWorker {
	return &AutomationWorker{
		Evaluator: evaluator,
		Logger:    logger,
		Interval:  interval,
		LockKey:   "focalcrm:automation_tick",
	}
}

func (w *AutomationWorker) Start(ctx context.Context) {
	w.Logger.WithField("interval", w.Interval).Info("automation worker started")

	ticks := w.Ticks
	if ticks == nil {
		ticker := time.NewTicker(w.Interval)
		defer ticker.Stop()
		ticks = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			w.Logger.Info("automation worker shutting down")
			return
		case <-ticks:
			w.Tick(ctx)
		}
	}
}

// Tick runs one pass. A tick that errors or panics is logged and dropped;
// the next tick retries from scratch.
func (w *AutomationWorker) Tick(ctx context.Context) {
	if !atomic.CompareAndSwapInt32(&w.running, 0, 1) {
		w.Logger.Warn("previous automation pass still running, skipping tick")
		return
	}
	defer atomic.StoreInt32(&w.running, 0)

	if w.Redis != nil {
		ok, err := w.Redis.SetNX(ctx, w.LockKey, 1, w.Interval).Result()
		if err != nil {
			w.Logger.WithError(err).Error("failed to acquire tick lock")
			return
		}
		if !ok {
			w.Logger.Debug("tick lock held elsewhere, skipping")
			return
		}
		defer w.Redis.Del(context.Background(), w.LockKey)
	}

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("automation pass panicked: %v", r)
			w.Logger.WithError(err).Error("recovered from panic")
			sentry.CaptureException(err)
		}
	}()

	if err := w.Evaluator.RunOnce(ctx); err != nil {
		w.Logger.WithError(err).Error("automation pass failed")
		sentry.CaptureException(err)
	}
}
