package controller

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"mailforge/dispatch"
	"mailforge/models"
	"mailforge/store"
	"mailforge/utils"
)

// TrackingController serves the unauthenticated endpoints embedded in
// outbound mail: the open pixel and the unsubscribe link.
type TrackingController struct {
	Store  *store.Store
	Logger *logrus.Logger
}

func NewTrackingController(st *store.Store, logger *logrus.Logger) *TrackingController {
	return &TrackingController{Store: st, Logger: logger}
}

// 1x1 transparent GIF
var trackingPixel = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00,
	0x00, 0x00, 0x00, 0x00, 0xff, 0xff, 0xff, 0x21, 0xf9, 0x04, 0x01, 0x00,
	0x00, 0x00, 0x00, 0x2c, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00,
	0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3b,
}

// TrackOpen records an email open and always serves the pixel, even when the
// counter update fails. Mail clients should never see an error page.
func (tc *TrackingController) TrackOpen(c *fiber.Ctx) error {
	campaignID, err := utils.ParseUint(c.Query("c"))
	if err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tc.Store.IncrementOpenCounter(ctx, campaignID, models.AnalyticsDate(time.Now())); err != nil {
			tc.Logger.WithFields(logrus.Fields{
				"campaign_id": campaignID,
				"lead":        c.Query("l"),
			}).WithError(err).Warn("failed to record email open")
		}
	}

	c.Set(fiber.HeaderContentType, "image/gif")
	c.Set(fiber.HeaderCacheControl, "no-store, no-cache, must-revalidate")
	return c.Send(trackingPixel)
}

// Unsubscribe opts a lead out of further sends. The token must match the
// lead and campaign named in the query string.
func (tc *TrackingController) Unsubscribe(c *fiber.Ctx) error {
	token := c.Query("token")
	leadID, leadErr := utils.ParseUint(c.Query("lead"))
	campaignID, campErr := utils.ParseUint(c.Query("campaign"))

	if token == "" || leadErr != nil || campErr != nil ||
		token != dispatch.UnsubscribeToken(leadID, campaignID) {
		return c.Status(fiber.StatusBadRequest).SendString("Invalid unsubscribe link.")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tc.Store.MarkLeadUnsubscribed(ctx, leadID, campaignID); err != nil {
		tc.Logger.WithFields(logrus.Fields{
			"lead_id":     leadID,
			"campaign_id": campaignID,
		}).WithError(err).Error("failed to unsubscribe lead")
		return c.Status(fiber.StatusInternalServerError).SendString("Something went wrong. Please try again.")
	}

	c.Set(fiber.HeaderContentType, fiber.MIMETextHTMLCharsetUTF8)
	return c.SendString("<html><body><h2>You have been unsubscribed.</h2><p>You will not receive further emails from this campaign.</p></body></html>")
}
