package models

import (
	"time"

	"gorm.io/gorm"
)

// Campaign statuses
const (
	CampaignStatusDraft     = "draft"
	CampaignStatusActive    = "active"
	CampaignStatusPaused    = "paused"
	CampaignStatusCompleted = "completed"
)

// Campaign represents an outreach campaign
type Campaign struct {
	gorm.Model
	UserID uint `gorm:"not null;index" json:"user_id"`

	Name        string `gorm:"not null" json:"name"`
	Description string `json:"description"`
	Status      string `gorm:"default:'draft'" json:"status"` // draft, active, paused, completed

	// Scheduling state for the dispatch worker. CurrentStep is the 1-based
	// step number the next invocation will dispatch.
	CurrentStep int        `gorm:"default:1" json:"current_step"`
	NextRunAt   *time.Time `json:"next_run_at"`
	StartedAt   *time.Time `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`

	// Seconds to wait between consecutive lead attempts
	PacingSeconds int `gorm:"default:5" json:"pacing_seconds"`

	// Relations
	Steps    []SequenceStep    `gorm:"foreignKey:CampaignID" json:"steps,omitempty"`
	Leads    []Lead            `gorm:"foreignKey:CampaignID" json:"leads,omitempty"`
	Accounts []CampaignAccount `gorm:"foreignKey:CampaignID" json:"accounts,omitempty"`
}

// SequenceStep is one email in a campaign's cadence. Delay fields describe
// how long after the previous step this one fires; the dispatch worker
// consumes them, the dispatch loop itself does not.
type SequenceStep struct {
	gorm.Model
	CampaignID uint `gorm:"not null;index" json:"campaign_id"`

	StepNumber   int    `gorm:"not null" json:"step_number"` // 1-based
	DelayDays    int    `gorm:"default:0" json:"delay_days"`
	DelayHours   int    `gorm:"default:0" json:"delay_hours"`
	DelayMinutes int    `gorm:"default:0" json:"delay_minutes"`
	WebhookURL   string `gorm:"not null" json:"webhook_url"`
	PromptHint   string `gorm:"type:text" json:"prompt_hint"`

	// Denormalized counters
	SentCount int `gorm:"default:0" json:"sent_count"`
}

// Delay returns the configured wait before this step fires.
func (s *SequenceStep) Delay() time.Duration {
	return time.Duration(s.DelayDays)*24*time.Hour +
		time.Duration(s.DelayHours)*time.Hour +
		time.Duration(s.DelayMinutes)*time.Minute
}

// CampaignAccount joins campaigns to the sender accounts selected for them
type CampaignAccount struct {
	gorm.Model
	CampaignID uint `gorm:"not null;index" json:"campaign_id"`
	AccountID  uint `gorm:"not null;index" json:"account_id"`
}
