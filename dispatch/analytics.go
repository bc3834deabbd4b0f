package dispatch

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"mailforge/models"
)

// AnalyticsStore upserts the per-campaign per-day counters record.
type AnalyticsStore interface {
	IncrementSendCounters(ctx context.Context, campaignID uint, date string, sent, delivered int) error
}

// Analytics records aggregate counters for confirmed successful sends. Like
// the ledger, writes are detached and best-effort.
type Analytics struct {
	store  AnalyticsStore
	logger *logrus.Entry
	tasks  taskGroup
}

func NewAnalytics(store AnalyticsStore, logger *logrus.Entry) *Analytics {
	return &Analytics{store: store, logger: logger}
}

// RecordSend bumps emails_sent and emails_delivered for today's record,
// creating it if absent. Called only on a confirmed SUCCESS send.
func (a *Analytics) RecordSend(campaignID uint) {
	if a.store == nil {
		return
	}
	date := models.AnalyticsDate(time.Now().UTC())
	a.tasks.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), sinkWriteTimeout)
		defer cancel()
		if err := a.store.IncrementSendCounters(ctx, campaignID, date, 1, 1); err != nil {
			a.logger.WithField("campaign_id", campaignID).
				WithError(err).Warn("analytics upsert failed")
		}
	})
}

// Wait joins outstanding background upserts, bounded by timeout.
func (a *Analytics) Wait(timeout time.Duration) bool {
	return a.tasks.Wait(timeout)
}
