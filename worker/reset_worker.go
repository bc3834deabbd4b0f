package worker

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"mailforge/store"
)

// ResetWorker zeroes every sender account's sent_today counter once per day
// so quotas open up again at midnight.
type ResetWorker struct {
	Store  *store.Store
	Logger *logrus.Logger
}

func NewResetWorker(st *store.Store, logger *logrus.Logger) *ResetWorker {
	return &ResetWorker{Store: st, Logger: logger}
}

func (rw *ResetWorker) Start(ctx context.Context) {
	rw.Logger.Info("daily counter reset worker started")

	for {
		next := nextMidnight(time.Now())
		timer := time.NewTimer(time.Until(next))

		select {
		case <-ctx.Done():
			timer.Stop()
			rw.Logger.Info("reset worker shutting down")
			return
		case <-timer.C:
			rw.reset(ctx)
		}
	}
}

func (rw *ResetWorker) reset(ctx context.Context) {
	opCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	affected, err := rw.Store.ResetDailyCounters(opCtx)
	if err != nil {
		rw.Logger.WithError(err).Error("failed to reset daily send counters")
		return
	}
	rw.Logger.WithField("accounts", affected).Info("daily send counters reset")
}

func nextMidnight(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, now.Location()).Add(24 * time.Hour)
}
