package models

import (
	"time"

	"gorm.io/gorm"
)

// Execution log entry statuses and types
const (
	LogStatusSuccess = "success"
	LogStatusError   = "error"

	LogTypeWebhook = "webhook"
	LogTypeSend    = "send"
)

// ExecutionLogEntry is one immutable record per dispatch attempt, success or
// failure. Entries are append-only; persistence is best-effort and the
// in-memory copy held by the run is authoritative for that run.
type ExecutionLogEntry struct {
	gorm.Model
	CampaignID uint  `gorm:"not null;index" json:"campaign_id"`
	LeadID     uint  `gorm:"not null;index" json:"lead_id"`
	StepID     uint  `gorm:"not null" json:"step_id"`
	AccountID  *uint `json:"account_id,omitempty"`

	AttemptedAt time.Time `gorm:"not null" json:"attempted_at"`
	Subject     string    `json:"subject"`
	Body        string    `gorm:"type:text" json:"body"`
	Status      string    `gorm:"not null" json:"status"`     // success, error
	EntryType   string    `gorm:"not null" json:"entry_type"` // webhook, send
	ErrorDetail string    `gorm:"type:text" json:"error_detail,omitempty"`
	MessageID   string    `json:"message_id,omitempty"`
}

// CampaignAnalytics holds per-campaign per-day counters, upserted keyed by
// (campaign_id, date).
type CampaignAnalytics struct {
	gorm.Model
	CampaignID uint   `gorm:"not null;uniqueIndex:idx_campaign_date" json:"campaign_id"`
	Date       string `gorm:"not null;uniqueIndex:idx_campaign_date" json:"date"` // YYYY-MM-DD

	EmailsSent      int `gorm:"default:0" json:"emails_sent"`
	EmailsDelivered int `gorm:"default:0" json:"emails_delivered"`
	EmailsOpened    int `gorm:"default:0" json:"emails_opened"`
	EmailsClicked   int `gorm:"default:0" json:"emails_clicked"`
	EmailsReplied   int `gorm:"default:0" json:"emails_replied"`
	EmailsBounced   int `gorm:"default:0" json:"emails_bounced"`
}

// AnalyticsDate formats t the way analytics rows are keyed.
func AnalyticsDate(t time.Time) string {
	return t.Format("2006-01-02")
}
