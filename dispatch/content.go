package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"mailforge/models"
)

// Generation can legitimately take a while on the webhook side, so the
// direct and proxied calls share a generous deadline.
const defaultContentTimeout = 2 * time.Minute

// Content is the personalized email returned by the generation webhook.
type Content struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// ContentClient calls the content-generation webhook. A connectivity-class
// failure on the direct call is retried exactly once through the configured
// proxy relay, which forwards the same payload server-side. HTTP status and
// content-shape failures are never retried.
type ContentClient struct {
	client   *http.Client
	proxyURL string
	timeout  time.Duration
	logger   *logrus.Entry
}

func NewContentClient(proxyURL string, logger *logrus.Entry) *ContentClient {
	return &ContentClient{
		client:   &http.Client{},
		proxyURL: proxyURL,
		timeout:  defaultContentTimeout,
		logger:   logger,
	}
}

// Generate requests personalized content for a lead. The returned error is
// one of the typed classes in errors.go.
func (c *ContentClient) Generate(ctx context.Context, webhookURL string, lead *models.Lead, step *models.SequenceStep) (*Content, error) {
	payload := buildWebhookPayload(lead, step)

	raw, err := c.post(ctx, webhookURL, payload)
	if err != nil && isNetworkClass(err) && c.proxyURL != "" && ctx.Err() == nil {
		c.logger.WithFields(logrus.Fields{
			"lead_id":     lead.ID,
			"webhook_url": webhookURL,
			"cause":       err.Error(),
		}).Warn("direct webhook call failed, retrying through proxy relay")

		raw, err = c.post(ctx, c.proxyURL, map[string]interface{}{
			"webhookUrl": webhookURL,
			"payload":    payload,
		})
	}
	if err != nil {
		return nil, err
	}
	return parseContent(raw)
}

func (c *ContentClient) post(ctx context.Context, targetURL string, payload interface{}) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding webhook payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, targetURL, bytes.NewReader(body))
	if err != nil {
		return nil, &NetworkError{URL: targetURL, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classifyTransportError(err, targetURL, c.timeout)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{URL: targetURL, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPStatusError{URL: targetURL, StatusCode: resp.StatusCode, Body: truncate(string(data), 512)}
	}
	return data, nil
}

// buildWebhookPayload assembles the request body the webhook expects: the
// lead's core fields plus flattened custom fields, step context and a
// timestamp.
func buildWebhookPayload(lead *models.Lead, step *models.SequenceStep) map[string]interface{} {
	leadData := map[string]interface{}{
		"id":        lead.ID,
		"email":     lead.Email,
		"firstName": lead.FirstName,
		"lastName":  lead.LastName,
		"company":   lead.Company,
	}
	for name, value := range lead.CustomFieldMap() {
		if _, taken := leadData[name]; !taken {
			leadData[name] = value
		}
	}
	return map[string]interface{}{
		"lead_data": leadData,
		"step": map[string]interface{}{
			"id":         step.ID,
			"promptHint": step.PromptHint,
		},
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
}

func parseContent(raw []byte) (*Content, error) {
	var body struct {
		Subject *string `json:"subject"`
		Body    *string `json:"body"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, &ContentShapeError{Reason: "response is not a JSON object"}
	}
	if body.Subject == nil || strings.TrimSpace(*body.Subject) == "" {
		return nil, &ContentShapeError{Reason: "missing subject field"}
	}
	if body.Body == nil || strings.TrimSpace(*body.Body) == "" {
		return nil, &ContentShapeError{Reason: "missing body field"}
	}
	return &Content{Subject: *body.Subject, Body: *body.Body}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
