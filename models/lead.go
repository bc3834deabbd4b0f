package models

import (
	"time"

	"gorm.io/gorm"
)

// Lead statuses. The dispatch engine only ever performs the
// pending → contacted transition; replied, bounced and interested are set by
// external collaborators (reply detection, bounce webhooks, manual edit).
const (
	LeadStatusPending    = "pending"
	LeadStatusContacted  = "contacted"
	LeadStatusReplied    = "replied"
	LeadStatusBounced    = "bounced"
	LeadStatusInterested = "interested"
)

// Lead represents a single contact in a campaign
type Lead struct {
	gorm.Model
	CampaignID uint `gorm:"not null;index" json:"campaign_id"`

	Email     string `gorm:"not null;index" json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Company   string `json:"company"`
	Position  string `json:"position"`
	Website   string `json:"website"`

	IsVerified bool   `gorm:"default:false" json:"is_verified"`
	Status     string `gorm:"default:'pending'" json:"status"`

	UnsubscribedAt *time.Time `json:"unsubscribed_at"`

	// Sticky sender assignment: once a lead has been contacted from an
	// account, later steps reuse it while it has quota.
	AssignedAccountID *uint `gorm:"index" json:"assigned_account_id"`

	// Relations
	CustomFields []LeadCustomField `gorm:"foreignKey:LeadID" json:"custom_fields,omitempty"`
}

// LeadCustomField holds free-form per-lead fields used for personalization
type LeadCustomField struct {
	gorm.Model
	LeadID uint   `gorm:"not null;index" json:"lead_id"`
	Name   string `gorm:"not null;index" json:"name"`
	Value  string `gorm:"type:text" json:"value"`
}

// CustomFieldMap flattens the custom fields into a map for webhook payloads.
func (l *Lead) CustomFieldMap() map[string]string {
	if len(l.CustomFields) == 0 {
		return nil
	}
	m := make(map[string]string, len(l.CustomFields))
	for _, f := range l.CustomFields {
		m[f.Name] = f.Value
	}
	return m
}
