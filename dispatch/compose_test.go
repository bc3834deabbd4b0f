package dispatch

import (
	"encoding/base64"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailforge/models"
)

func TestUnsubscribeTokenRoundTrip(t *testing.T) {
	token := UnsubscribeToken(42, 7)
	decoded, err := base64.URLEncoding.DecodeString(token)
	require.NoError(t, err)
	assert.Equal(t, "42-7", string(decoded))
}

func TestComposeTextBodyEndsWithUnsubscribe(t *testing.T) {
	lead := makeLead(42, "jane@acme.com")
	step := &models.SequenceStep{StepNumber: 1}
	msg := Compose("https://app.example.com", 7, lead, step, &Content{Subject: "Hi", Body: "Hello there"})

	assert.Equal(t, "jane@acme.com", msg.To)
	assert.Equal(t, "Hi", msg.Subject)
	assert.True(t, strings.HasPrefix(msg.TextBody, "Hello there"))
	assert.Contains(t, msg.TextBody, "Unsubscribe: https://app.example.com/unsubscribe?token=")
	assert.Contains(t, msg.TextBody, "&lead=42&campaign=7")
}

func TestComposeEscapesHTMLBody(t *testing.T) {
	lead := makeLead(42, "jane@acme.com")
	step := &models.SequenceStep{StepNumber: 1}
	msg := Compose("https://app.example.com", 7, lead, step, &Content{
		Subject: "Hi",
		Body:    "1 < 2 && <script>alert(1)</script>\nsecond line",
	})

	assert.NotContains(t, msg.HTMLBody, "<script>")
	assert.Contains(t, msg.HTMLBody, "&lt;script&gt;")
	assert.Contains(t, msg.HTMLBody, "<br>")
	assert.Contains(t, msg.HTMLBody, `<a href="https://app.example.com/unsubscribe?token=`)
}

func TestComposePixelOnlyOnSecondStep(t *testing.T) {
	lead := makeLead(42, "jane@acme.com")
	content := &Content{Subject: "Hi", Body: "Hello"}

	for step := 1; step <= 3; step++ {
		msg := Compose("https://app.example.com", 7, lead,
			&models.SequenceStep{StepNumber: step}, content)
		if step == pixelStepNumber {
			assert.Contains(t, msg.HTMLBody, "/track/open?c=7&l=42&s=", "step %d carries the pixel", step)
			assert.NotContains(t, msg.TextBody, "/track/open", "the text part never carries the pixel")
		} else {
			assert.NotContains(t, msg.HTMLBody, "/track/open", "step %d must not carry the pixel", step)
		}
	}
}

func TestTrackingPixelURL(t *testing.T) {
	url := TrackingPixelURL("https://app.example.com/", 7, 42, 9)
	assert.Equal(t, "https://app.example.com/track/open?c=7&l=42&s=9", url, "trailing slash on the base URL is trimmed")
}

func TestUnsubscribeURLMatchesToken(t *testing.T) {
	url := UnsubscribeURL("https://app.example.com", 42, 7)
	expected := fmt.Sprintf("https://app.example.com/unsubscribe?token=%s&lead=42&campaign=7", UnsubscribeToken(42, 7))
	assert.Equal(t, expected, url)
}
