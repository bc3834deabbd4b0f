package dispatch

import (
	"encoding/base64"
	"fmt"
	"html"
	"strings"

	"mailforge/models"
)

// Follow-up step whose messages carry the invisible open-tracking pixel.
const pixelStepNumber = 2

// UnsubscribeToken encodes (leadID, campaignID) so the unsubscribe endpoint
// can locate and mark the lead.
func UnsubscribeToken(leadID, campaignID uint) string {
	return base64.URLEncoding.EncodeToString([]byte(fmt.Sprintf("%d-%d", leadID, campaignID)))
}

// UnsubscribeURL builds the unsubscribe link embedded in every outgoing
// message.
func UnsubscribeURL(baseURL string, leadID, campaignID uint) string {
	return fmt.Sprintf("%s/unsubscribe?token=%s&lead=%d&campaign=%d",
		strings.TrimRight(baseURL, "/"), UnsubscribeToken(leadID, campaignID), leadID, campaignID)
}

// TrackingPixelURL builds the open-tracking pixel URL for a message.
func TrackingPixelURL(baseURL string, campaignID, leadID, stepID uint) string {
	return fmt.Sprintf("%s/track/open?c=%d&l=%d&s=%d",
		strings.TrimRight(baseURL, "/"), campaignID, leadID, stepID)
}

// Compose turns generated content into a deliverable message: the plain-text
// part always ends with the unsubscribe link, the HTML part carries the same
// link plus, on the second sequence step only, an invisible 1x1 tracking
// pixel.
func Compose(baseURL string, campaignID uint, lead *models.Lead, step *models.SequenceStep, content *Content) *Message {
	unsubURL := UnsubscribeURL(baseURL, lead.ID, campaignID)

	text := content.Body + "\n\n--\nUnsubscribe: " + unsubURL

	var b strings.Builder
	b.WriteString(strings.ReplaceAll(html.EscapeString(content.Body), "\n", "<br>\n"))
	b.WriteString(fmt.Sprintf(
		`<br><br><p style="font-size:12px;color:#999"><a href="%s">Unsubscribe</a></p>`, unsubURL))
	if step.StepNumber == pixelStepNumber {
		pixelURL := TrackingPixelURL(baseURL, campaignID, lead.ID, step.ID)
		b.WriteString(fmt.Sprintf(
			`<img src="%s" alt="" width="1" height="1" style="display:none">`, pixelURL))
	}

	return &Message{
		To:       lead.Email,
		Subject:  content.Subject,
		TextBody: text,
		HTMLBody: b.String(),
	}
}
