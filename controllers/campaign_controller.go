package controller

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"mailforge/models"
	"mailforge/runner"
	"mailforge/store"
	"mailforge/utils"
)

// CampaignController owns the campaign HTTP surface and the registry of
// in-flight dispatch runs.
type CampaignController struct {
	DB     *gorm.DB
	Store  *store.Store
	Runner *runner.Runner
	Logger *logrus.Logger

	mu   sync.Mutex
	runs map[uint]*activeRun
}

func NewCampaignController(db *gorm.DB, st *store.Store, r *runner.Runner, logger *logrus.Logger) *CampaignController {
	return &CampaignController{
		DB:     db,
		Store:  st,
		Runner: r,
		Logger: logger,
		runs:   make(map[uint]*activeRun),
	}
}

type CreateCampaignInput struct {
	Name          string            `json:"name" validate:"required,min=1,max=200"`
	Description   string            `json:"description" validate:"max=2000"`
	PacingSeconds int               `json:"pacing_seconds" validate:"gte=0,lte=3600"`
	Steps         []CreateStepInput `json:"steps" validate:"required,min=1,dive"`
	AccountIDs    []uint            `json:"account_ids" validate:"required,min=1"`
}

type CreateStepInput struct {
	StepNumber   int    `json:"step_number" validate:"required,gte=1"`
	DelayDays    int    `json:"delay_days" validate:"gte=0"`
	DelayHours   int    `json:"delay_hours" validate:"gte=0,lte=23"`
	DelayMinutes int    `json:"delay_minutes" validate:"gte=0,lte=59"`
	WebhookURL   string `json:"webhook_url" validate:"required,url"`
	PromptHint   string `json:"prompt_hint" validate:"max=5000"`
}

// CreateCampaign creates a draft campaign with its step cadence and the
// sender accounts it will rotate over.
func (cc *CampaignController) CreateCampaign(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)

	var input CreateCampaignInput
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := utils.ValidateStruct(input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	campaign := models.Campaign{
		UserID:        userID,
		Name:          input.Name,
		Description:   input.Description,
		Status:        models.CampaignStatusDraft,
		CurrentStep:   1,
		PacingSeconds: input.PacingSeconds,
	}
	for _, s := range input.Steps {
		campaign.Steps = append(campaign.Steps, models.SequenceStep{
			StepNumber:   s.StepNumber,
			DelayDays:    s.DelayDays,
			DelayHours:   s.DelayHours,
			DelayMinutes: s.DelayMinutes,
			WebhookURL:   s.WebhookURL,
			PromptHint:   s.PromptHint,
		})
	}
	for _, id := range input.AccountIDs {
		campaign.Accounts = append(campaign.Accounts, models.CampaignAccount{AccountID: id})
	}

	if err := cc.DB.Create(&campaign).Error; err != nil {
		cc.Logger.WithError(err).Error("failed to create campaign")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to create campaign"})
	}

	return c.Status(fiber.StatusCreated).JSON(campaign)
}

// ListCampaigns returns the caller's campaigns with their steps.
func (cc *CampaignController) ListCampaigns(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)

	var campaigns []models.Campaign
	if err := cc.DB.Preload("Steps").
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&campaigns).Error; err != nil {
		cc.Logger.WithError(err).Error("failed to list campaigns")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to list campaigns"})
	}

	return c.JSON(campaigns)
}

// GetCampaign returns one campaign with steps and lead counts.
func (cc *CampaignController) GetCampaign(c *fiber.Ctx) error {
	campaign := cc.ownedCampaign(c)
	if campaign == nil {
		return nil
	}

	var leadCount int64
	cc.DB.Model(&models.Lead{}).Where("campaign_id = ?", campaign.ID).Count(&leadCount)

	return c.JSON(fiber.Map{
		"campaign":   campaign,
		"lead_count": leadCount,
	})
}

// DeleteCampaign removes a campaign that is not currently dispatching.
func (cc *CampaignController) DeleteCampaign(c *fiber.Ctx) error {
	campaign := cc.ownedCampaign(c)
	if campaign == nil {
		return nil
	}
	if cc.running(campaign.ID) {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "campaign has a dispatch run in progress"})
	}

	if err := cc.DB.Delete(campaign).Error; err != nil {
		cc.Logger.WithError(err).Error("failed to delete campaign")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to delete campaign"})
	}
	return c.JSON(fiber.Map{"message": "campaign deleted"})
}

// GetCampaignLogs returns the campaign's execution ledger, newest first.
func (cc *CampaignController) GetCampaignLogs(c *fiber.Ctx) error {
	campaign := cc.ownedCampaign(c)
	if campaign == nil {
		return nil
	}

	limit := c.QueryInt("limit", 100)
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var entries []models.ExecutionLogEntry
	if err := cc.DB.Where("campaign_id = ?", campaign.ID).
		Order("attempted_at DESC").
		Limit(limit).
		Find(&entries).Error; err != nil {
		cc.Logger.WithError(err).Error("failed to load execution log")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to load execution log"})
	}

	return c.JSON(entries)
}

// GetCampaignAnalytics returns the per-day counter rows for a campaign.
func (cc *CampaignController) GetCampaignAnalytics(c *fiber.Ctx) error {
	campaign := cc.ownedCampaign(c)
	if campaign == nil {
		return nil
	}

	query := cc.DB.Where("campaign_id = ?", campaign.ID)
	if from := c.Query("from"); from != "" {
		query = query.Where("date >= ?", from)
	}
	if to := c.Query("to"); to != "" {
		query = query.Where("date <= ?", to)
	}

	var rows []models.CampaignAnalytics
	if err := query.Order("date ASC").Find(&rows).Error; err != nil {
		cc.Logger.WithError(err).Error("failed to load analytics")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to load analytics"})
	}

	return c.JSON(rows)
}

// ownedCampaign loads the :id campaign and checks it belongs to the caller.
// On failure it writes the error response and returns nil.
func (cc *CampaignController) ownedCampaign(c *fiber.Ctx) *models.Campaign {
	userID := c.Locals("userID").(uint)
	campaignID, err := utils.ParseUint(c.Params("id"))
	if err != nil {
		c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid campaign id"})
		return nil
	}

	var campaign models.Campaign
	if err := cc.DB.Preload("Steps").First(&campaign, campaignID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "campaign not found"})
		} else {
			cc.Logger.WithError(err).Error("failed to load campaign")
			c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to load campaign"})
		}
		return nil
	}
	if campaign.UserID != userID {
		c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "not your campaign"})
		return nil
	}
	return &campaign
}
