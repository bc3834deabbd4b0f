package models

import (
	"time"

	"gorm.io/gorm"
)

// SenderAccount represents an outbound sending identity. The SMTP credential
// block is opaque to the dispatch engine: it is either passed through to the
// HTTP mail relay or consumed by the direct SMTP transport.
type SenderAccount struct {
	gorm.Model
	UserID uint `gorm:"not null;index" json:"user_id"`

	Name      string `gorm:"not null" json:"name"`
	FromEmail string `gorm:"not null" json:"from_email"`
	FromName  string `json:"from_name"`

	SMTPHost     string `json:"smtp_host"`
	SMTPPort     int    `gorm:"default:587" json:"smtp_port"`
	SMTPUsername string `json:"smtp_username"`
	SMTPPassword string `json:"-"` // encrypted in the application layer
	Encryption   string `gorm:"default:'STARTTLS'" json:"encryption"`

	IsActive bool `gorm:"default:true" json:"is_active"`

	// Usage metrics. SentToday is incremented only after a confirmed
	// successful send and reset daily by the reset worker.
	DailyLimit    int        `gorm:"default:50" json:"daily_limit"`
	SentToday     int        `gorm:"default:0" json:"sent_today"`
	TotalSent     int        `gorm:"default:0" json:"total_sent"`
	LastResetDate *time.Time `json:"last_reset_date"`
}

// HasQuota reports whether the account can take another send today.
func (a *SenderAccount) HasQuota() bool {
	return a.SentToday < a.DailyLimit
}

// Remaining returns how many sends the account has left today.
func (a *SenderAccount) Remaining() int {
	if r := a.DailyLimit - a.SentToday; r > 0 {
		return r
	}
	return 0
}

// Sanitize clears credentials before the account is serialized to a client.
func (a *SenderAccount) Sanitize() {
	a.SMTPPassword = ""
}
