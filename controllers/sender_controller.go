package controller

import (
	"github.com/badoux/checkmail"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"mailforge/models"
	"mailforge/utils"
)

// SenderController manages the pool of sending identities campaigns rotate
// over. Credentials are encrypted at rest and never serialized back out.
type SenderController struct {
	DB     *gorm.DB
	Logger *logrus.Logger
}

func NewSenderController(db *gorm.DB, logger *logrus.Logger) *SenderController {
	return &SenderController{DB: db, Logger: logger}
}

type CreateAccountInput struct {
	Name         string `json:"name" validate:"required,max=200"`
	FromEmail    string `json:"from_email" validate:"required"`
	FromName     string `json:"from_name" validate:"max=200"`
	SMTPHost     string `json:"smtp_host" validate:"required"`
	SMTPPort     int    `json:"smtp_port" validate:"gte=1,lte=65535"`
	SMTPUsername string `json:"smtp_username" validate:"required"`
	SMTPPassword string `json:"smtp_password" validate:"required"`
	Encryption   string `json:"encryption" validate:"omitempty,oneof=NONE SSL STARTTLS"`
	DailyLimit   int    `json:"daily_limit" validate:"gte=1,lte=2000"`
}

// CreateAccount registers a sender account with its SMTP credentials.
func (sc *SenderController) CreateAccount(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)

	var input CreateAccountInput
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := utils.ValidateStruct(input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	if err := checkmail.ValidateFormat(input.FromEmail); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid from_email address"})
	}

	encrypted, err := utils.Encrypt(input.SMTPPassword)
	if err != nil {
		sc.Logger.WithError(err).Error("failed to encrypt credentials")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to store credentials"})
	}

	account := models.SenderAccount{
		UserID:       userID,
		Name:         input.Name,
		FromEmail:    input.FromEmail,
		FromName:     input.FromName,
		SMTPHost:     input.SMTPHost,
		SMTPPort:     input.SMTPPort,
		SMTPUsername: input.SMTPUsername,
		SMTPPassword: encrypted,
		DailyLimit:   input.DailyLimit,
	}
	if input.Encryption != "" {
		account.Encryption = input.Encryption
	}
	if account.SMTPPort == 0 {
		account.SMTPPort = 587
	}
	if account.DailyLimit == 0 {
		account.DailyLimit = 50
	}

	if err := sc.DB.Create(&account).Error; err != nil {
		sc.Logger.WithError(err).Error("failed to create sender account")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to create sender account"})
	}

	account.Sanitize()
	return c.Status(fiber.StatusCreated).JSON(account)
}

// ListAccounts returns the caller's sender accounts with usage counters.
func (sc *SenderController) ListAccounts(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)

	var accounts []models.SenderAccount
	if err := sc.DB.Where("user_id = ?", userID).Order("id ASC").Find(&accounts).Error; err != nil {
		sc.Logger.WithError(err).Error("failed to list sender accounts")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to list sender accounts"})
	}
	for i := range accounts {
		accounts[i].Sanitize()
	}

	return c.JSON(accounts)
}

// DeleteAccount deactivates a sender account so rotation stops picking it.
func (sc *SenderController) DeleteAccount(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)
	accountID, err := utils.ParseUint(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid account id"})
	}

	res := sc.DB.Model(&models.SenderAccount{}).
		Where("id = ? AND user_id = ?", accountID, userID).
		Update("is_active", false)
	if res.Error != nil {
		sc.Logger.WithError(res.Error).Error("failed to deactivate sender account")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to deactivate sender account"})
	}
	if res.RowsAffected == 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "sender account not found"})
	}

	return c.JSON(fiber.Map{"message": "sender account deactivated"})
}
