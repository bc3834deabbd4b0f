package store

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"mailforge/models"
)

// Store is the GORM-backed persistence layer consumed by the dispatch engine
// and the HTTP surface. It implements dispatch.LedgerStore and
// dispatch.AnalyticsStore.
type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// AppendLogEntry inserts one execution log entry. Entries are append-only.
func (s *Store) AppendLogEntry(ctx context.Context, entry *models.ExecutionLogEntry) error {
	return s.db.WithContext(ctx).Create(entry).Error
}

// IncrementSendCounters upserts the (campaign, date) analytics row and bumps
// the sent/delivered counters.
func (s *Store) IncrementSendCounters(ctx context.Context, campaignID uint, date string, sent, delivered int) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "campaign_id"}, {Name: "date"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"emails_sent":      gorm.Expr("campaign_analytics.emails_sent + ?", sent),
			"emails_delivered": gorm.Expr("campaign_analytics.emails_delivered + ?", delivered),
			"updated_at":       time.Now(),
		}),
	}).Create(&models.CampaignAnalytics{
		CampaignID:      campaignID,
		Date:            date,
		EmailsSent:      sent,
		EmailsDelivered: delivered,
	}).Error
}

// IncrementOpenCounter bumps emails_opened for the (campaign, date) row,
// creating it if absent. Fed by the tracking pixel endpoint.
func (s *Store) IncrementOpenCounter(ctx context.Context, campaignID uint, date string) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "campaign_id"}, {Name: "date"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"emails_opened": gorm.Expr("campaign_analytics.emails_opened + 1"),
			"updated_at":    time.Now(),
		}),
	}).Create(&models.CampaignAnalytics{
		CampaignID:   campaignID,
		Date:         date,
		EmailsOpened: 1,
	}).Error
}

// MarkLeadUnsubscribed stamps unsubscribed_at on the lead if it is not
// already set.
func (s *Store) MarkLeadUnsubscribed(ctx context.Context, leadID, campaignID uint) error {
	return s.db.WithContext(ctx).Model(&models.Lead{}).
		Where("id = ? AND campaign_id = ? AND unsubscribed_at IS NULL", leadID, campaignID).
		Update("unsubscribed_at", time.Now()).Error
}

// SaveLeadDispatchState persists the fields the engine mutates in memory
// during a run: delivery status and the sticky account assignment.
func (s *Store) SaveLeadDispatchState(ctx context.Context, lead *models.Lead) error {
	return s.db.WithContext(ctx).Model(&models.Lead{}).
		Where("id = ?", lead.ID).
		Updates(map[string]interface{}{
			"status":              lead.Status,
			"assigned_account_id": lead.AssignedAccountID,
		}).Error
}

// SaveAccountUsage persists an account's post-run send counters.
func (s *Store) SaveAccountUsage(ctx context.Context, account *models.SenderAccount) error {
	return s.db.WithContext(ctx).Model(&models.SenderAccount{}).
		Where("id = ?", account.ID).
		Updates(map[string]interface{}{
			"sent_today": account.SentToday,
			"total_sent": account.TotalSent,
		}).Error
}

// ResetDailyCounters zeroes sent_today on every account that sent anything,
// recording the reset time. Run by the reset worker at midnight.
func (s *Store) ResetDailyCounters(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.SenderAccount{}).
		Where("sent_today > 0").
		Updates(map[string]interface{}{
			"sent_today":      0,
			"last_reset_date": time.Now(),
		})
	return res.RowsAffected, res.Error
}
