package controller

import (
	"strings"

	"github.com/badoux/checkmail"
	"github.com/gofiber/fiber/v2"

	"mailforge/models"
	"mailforge/utils"
)

type AddLeadsInput struct {
	Leads []LeadInput `json:"leads" validate:"required,min=1,dive"`
}

type LeadInput struct {
	Email        string            `json:"email" validate:"required"`
	FirstName    string            `json:"first_name" validate:"max=100"`
	LastName     string            `json:"last_name" validate:"max=100"`
	Company      string            `json:"company" validate:"max=200"`
	Position     string            `json:"position" validate:"max=200"`
	Website      string            `json:"website" validate:"max=500"`
	CustomFields map[string]string `json:"custom_fields"`
}

// AddLeads bulk-imports leads into a campaign. Rows with malformed addresses
// are rejected up front rather than failing later inside a dispatch run.
func (cc *CampaignController) AddLeads(c *fiber.Ctx) error {
	campaign := cc.ownedCampaign(c)
	if campaign == nil {
		return nil
	}

	var input AddLeadsInput
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := utils.ValidateStruct(input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	var invalid []string
	leads := make([]models.Lead, 0, len(input.Leads))
	for _, in := range input.Leads {
		email := strings.ToLower(strings.TrimSpace(in.Email))
		if err := checkmail.ValidateFormat(email); err != nil {
			invalid = append(invalid, in.Email)
			continue
		}
		lead := models.Lead{
			CampaignID: campaign.ID,
			Email:      email,
			FirstName:  in.FirstName,
			LastName:   in.LastName,
			Company:    in.Company,
			Position:   in.Position,
			Website:    in.Website,
			Status:     models.LeadStatusPending,
		}
		for name, value := range in.CustomFields {
			lead.CustomFields = append(lead.CustomFields, models.LeadCustomField{Name: name, Value: value})
		}
		leads = append(leads, lead)
	}

	if len(leads) > 0 {
		if err := cc.DB.Create(&leads).Error; err != nil {
			cc.Logger.WithError(err).Error("failed to import leads")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to import leads"})
		}
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"imported": len(leads),
		"rejected": invalid,
	})
}

// ListLeads returns a campaign's leads, optionally filtered by status.
func (cc *CampaignController) ListLeads(c *fiber.Ctx) error {
	campaign := cc.ownedCampaign(c)
	if campaign == nil {
		return nil
	}

	query := cc.DB.Preload("CustomFields").Where("campaign_id = ?", campaign.ID)
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	var leads []models.Lead
	if err := query.Order("id ASC").Find(&leads).Error; err != nil {
		cc.Logger.WithError(err).Error("failed to list leads")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to list leads"})
	}

	return c.JSON(leads)
}

type UpdateLeadStatusInput struct {
	Status string `json:"status" validate:"required,oneof=pending contacted replied bounced interested"`
}

// UpdateLeadStatus lets reply detection or a manual edit move a lead to a
// terminal state. Replied and unsubscribed leads are skipped by later runs.
func (cc *CampaignController) UpdateLeadStatus(c *fiber.Ctx) error {
	campaign := cc.ownedCampaign(c)
	if campaign == nil {
		return nil
	}

	leadID, err := utils.ParseUint(c.Params("leadID"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid lead id"})
	}

	var input UpdateLeadStatusInput
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := utils.ValidateStruct(input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	res := cc.DB.Model(&models.Lead{}).
		Where("id = ? AND campaign_id = ?", leadID, campaign.ID).
		Update("status", input.Status)
	if res.Error != nil {
		cc.Logger.WithError(res.Error).Error("failed to update lead status")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to update lead status"})
	}
	if res.RowsAffected == 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "lead not found"})
	}

	return c.JSON(fiber.Map{"message": "lead updated"})
}
