package routes

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	controller "mailforge/controllers"
	"mailforge/middleware"
	"mailforge/runner"
	"mailforge/store"
)

// SetupRoutes wires the whole HTTP surface: the authenticated campaign API,
// the public tracking endpoints and the dispatch progress websocket.
func SetupRoutes(app *fiber.App, db *gorm.DB, log *logrus.Logger) {
	st := store.New(db)
	run := runner.New(db, st, log)

	campaignController := controller.NewCampaignController(db, st, run, log)
	senderController := controller.NewSenderController(db, log)
	trackingController := controller.NewTrackingController(st, log)
	dashboardController := controller.NewDashboardController(db, log)

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// Public endpoints referenced from email bodies. No auth: they are hit
	// by mail clients, not API consumers.
	app.Get("/track/open", trackingController.TrackOpen)
	app.Get("/unsubscribe", trackingController.Unsubscribe)

	api := app.Group("/api/v1", middleware.Protected(), logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	api.Get("/dashboard/stats", dashboardController.GetDashboardStats)

	// Sender account routes
	sender := api.Group("/senders")
	sender.Post("/", senderController.CreateAccount)
	sender.Get("/", senderController.ListAccounts)
	sender.Delete("/:id", senderController.DeleteAccount)

	// Campaign routes
	campaign := api.Group("/campaigns")
	campaign.Post("/", campaignController.CreateCampaign)
	campaign.Get("/", campaignController.ListCampaigns)
	campaign.Get("/:id", campaignController.GetCampaign)
	campaign.Delete("/:id", campaignController.DeleteCampaign)
	campaign.Get("/:id/logs", campaignController.GetCampaignLogs)
	campaign.Get("/:id/analytics", campaignController.GetCampaignAnalytics)

	// Lead routes
	campaign.Post("/:id/leads", campaignController.AddLeads)
	campaign.Get("/:id/leads", campaignController.ListLeads)
	campaign.Put("/:id/leads/:leadID/status", campaignController.UpdateLeadStatus)

	// Dispatch routes. The trigger is rate limited per user and campaign.
	campaign.Post("/:id/dispatch", middleware.DispatchRateLimiter(), campaignController.StartDispatch)
	campaign.Post("/:id/dispatch/stop", campaignController.StopDispatch)
	campaign.Get("/:id/dispatch/status", campaignController.GetDispatchStatus)

	// WebSocket route for live dispatch progress
	api.Get("/campaigns/:id/dispatch/ws", websocket.New(func(c *websocket.Conn) {
		campaignController.DispatchProgressWS(c)
	}))

	// 404 handler
	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "the requested resource was not found",
		})
	})
}
