package controller

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"mailforge/models"
)

type DashboardController struct {
	DB     *gorm.DB
	Logger *logrus.Logger
}

func NewDashboardController(db *gorm.DB, logger *logrus.Logger) *DashboardController {
	return &DashboardController{DB: db, Logger: logger}
}

type DashboardStats struct {
	ActiveCampaigns    int64 `json:"active_campaigns"`
	CompletedCampaigns int64 `json:"completed_campaigns"`
	TotalLeads         int64 `json:"total_leads"`
	ContactedLeads     int64 `json:"contacted_leads"`
	RepliedLeads       int64 `json:"replied_leads"`
	EmailsSentToday    int64 `json:"emails_sent_today"`
	EmailsOpenedToday  int64 `json:"emails_opened_today"`
	QuotaRemaining     int64 `json:"quota_remaining"`
}

// GetDashboardStats returns the summary counters for the caller's account
// pool and campaigns.
func (dc *DashboardController) GetDashboardStats(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)
	var stats DashboardStats

	dc.DB.Model(&models.Campaign{}).
		Where("user_id = ? AND status = ?", userID, models.CampaignStatusActive).
		Count(&stats.ActiveCampaigns)
	dc.DB.Model(&models.Campaign{}).
		Where("user_id = ? AND status = ?", userID, models.CampaignStatusCompleted).
		Count(&stats.CompletedCampaigns)

	campaignIDs := dc.DB.Model(&models.Campaign{}).Select("id").Where("user_id = ?", userID)
	dc.DB.Model(&models.Lead{}).
		Where("campaign_id IN (?)", campaignIDs).
		Count(&stats.TotalLeads)
	dc.DB.Model(&models.Lead{}).
		Where("campaign_id IN (?) AND status = ?", campaignIDs, models.LeadStatusContacted).
		Count(&stats.ContactedLeads)
	dc.DB.Model(&models.Lead{}).
		Where("campaign_id IN (?) AND status = ?", campaignIDs, models.LeadStatusReplied).
		Count(&stats.RepliedLeads)

	today := models.AnalyticsDate(time.Now().UTC())
	var daily struct {
		Sent   int64
		Opened int64
	}
	if err := dc.DB.Model(&models.CampaignAnalytics{}).
		Select("COALESCE(SUM(emails_sent),0) AS sent, COALESCE(SUM(emails_opened),0) AS opened").
		Where("campaign_id IN (?) AND date = ?", campaignIDs, today).
		Scan(&daily).Error; err != nil {
		dc.Logger.WithError(err).Error("failed to aggregate daily analytics")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to load dashboard stats"})
	}
	stats.EmailsSentToday = daily.Sent
	stats.EmailsOpenedToday = daily.Opened

	var quota struct{ Remaining int64 }
	dc.DB.Model(&models.SenderAccount{}).
		Select("COALESCE(SUM(GREATEST(daily_limit - sent_today, 0)),0) AS remaining").
		Where("user_id = ? AND is_active = ?", userID, true).
		Scan(&quota)
	stats.QuotaRemaining = quota.Remaining

	return c.JSON(stats)
}
