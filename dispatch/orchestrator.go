package dispatch

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"mailforge/models"
)

// How long the run waits for outstanding ledger/analytics writes at its
// single join point.
const sinkJoinTimeout = 15 * time.Second

// ContentGenerator produces personalized content for a lead. Satisfied by
// *ContentClient.
type ContentGenerator interface {
	Generate(ctx context.Context, webhookURL string, lead *models.Lead, step *models.SequenceStep) (*Content, error)
}

// RunConfig is the immutable input of one dispatch run: one campaign, one
// sequence step, the leads to work through and the sender account pool. The
// orchestrator reads nothing outside of it.
type RunConfig struct {
	Campaign *models.Campaign
	Step     *models.SequenceStep
	Leads    []*models.Lead
	Accounts []*models.SenderAccount

	// Pacing is the mandatory wait between consecutive lead attempts. No
	// trailing wait after the last lead.
	Pacing time.Duration

	// BaseURL is the public origin for unsubscribe and tracking links.
	BaseURL string
}

// RunResult reports one run's terminal outcome. Attempted counts every lead
// the loop reached, including skips; Skipped is broken out separately and is
// not part of Failed.
type RunResult struct {
	RunID       string
	Attempted   int
	Succeeded   int
	Failed      int
	Skipped     int
	Entries     []models.ExecutionLogEntry
	Aborted     bool
	AbortReason string
	StartedAt   time.Time
	FinishedAt  time.Time
}

// RunEvent is a progress notification emitted while a run is underway.
type RunEvent struct {
	Type      string `json:"type"` // attempt, success, failure, skip, done
	LeadID    uint   `json:"lead_id,omitempty"`
	LeadEmail string `json:"lead_email,omitempty"`
	Index     int    `json:"index"`
	Total     int    `json:"total"`
	Message   string `json:"message,omitempty"`
}

// Orchestrator drives one campaign run: it validates preconditions, walks
// the leads strictly one at a time, and wires the rotation, content, mail,
// ledger and analytics components together. Sequential processing is part of
// the external contract: provider-side pacing depends on it.
type Orchestrator struct {
	content   ContentGenerator
	mail      MailClient
	ledger    *Ledger
	analytics *Analytics
	logger    *logrus.Entry

	events chan<- RunEvent

	// sleep is swappable so tests can observe pacing without waiting.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewOrchestrator(content ContentGenerator, mail MailClient, ledger *Ledger, analytics *Analytics, logger *logrus.Entry) *Orchestrator {
	return &Orchestrator{
		content:   content,
		mail:      mail,
		ledger:    ledger,
		analytics: analytics,
		logger:    logger,
		sleep:     sleepContext,
	}
}

// SetEvents attaches a progress channel. Emission never blocks: if the
// consumer lags, events are dropped rather than stalling the loop.
func (o *Orchestrator) SetEvents(ch chan<- RunEvent) {
	o.events = ch
}

// Run executes one dispatch pass over the configured leads. Per-lead
// failures are isolated; only precondition violations and recovered panics
// end the run early, in which case the partial result is returned alongside
// the error.
func (o *Orchestrator) Run(ctx context.Context, cfg RunConfig) (*RunResult, error) {
	rotator := NewAccountRotator(cfg.Accounts)
	if err := o.validate(cfg, rotator); err != nil {
		return nil, err
	}

	result := &RunResult{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
	}
	total := len(cfg.Leads)

	log := o.logger.WithFields(logrus.Fields{
		"run_id":      result.RunID,
		"campaign_id": cfg.Campaign.ID,
		"step":        cfg.Step.StepNumber,
		"leads":       total,
	})
	log.Info("dispatch run started")

	var abortErr error
	for i, lead := range cfg.Leads {
		if ctx.Err() != nil {
			result.Aborted = true
			result.AbortReason = "run cancelled"
			break
		}

		result.Attempted++
		o.emit(RunEvent{Type: "attempt", LeadID: lead.ID, LeadEmail: lead.Email, Index: i + 1, Total: total})

		if err := o.processLead(ctx, cfg, rotator, lead, i, total, result); err != nil {
			result.Aborted = true
			result.AbortReason = err.Error()
			abortErr = err
			break
		}

		if i < total-1 {
			if err := o.sleep(ctx, cfg.Pacing); err != nil {
				result.Aborted = true
				result.AbortReason = "run cancelled"
				break
			}
		}
	}

	// Single join point for the detached ledger/analytics writes.
	if !o.ledger.Wait(sinkJoinTimeout) {
		log.Warn("timed out waiting for ledger writes")
	}
	if !o.analytics.Wait(sinkJoinTimeout) {
		log.Warn("timed out waiting for analytics writes")
	}

	result.Entries = o.ledger.Entries()
	result.FinishedAt = time.Now().UTC()

	o.emit(RunEvent{Type: "done", Index: result.Attempted, Total: total,
		Message: fmt.Sprintf("%d sent, %d failed, %d skipped", result.Succeeded, result.Failed, result.Skipped)})
	log.WithFields(logrus.Fields{
		"succeeded": result.Succeeded,
		"failed":    result.Failed,
		"skipped":   result.Skipped,
		"aborted":   result.Aborted,
	}).Info("dispatch run finished")

	return result, abortErr
}

// validate fails fast before any network call. A violation leaves no partial
// side effects.
func (o *Orchestrator) validate(cfg RunConfig, rotator *AccountRotator) error {
	if cfg.Campaign == nil || cfg.Step == nil {
		return &ValidationError{Message: "campaign and step are required"}
	}
	if len(cfg.Leads) == 0 {
		return &ValidationError{Message: "campaign has no leads"}
	}
	if len(cfg.Accounts) == 0 {
		return &ValidationError{Message: "no sender accounts selected"}
	}
	if !rotator.HasAvailable() {
		return &ValidationError{Message: "every selected sender account has reached its daily limit"}
	}
	u, err := url.ParseRequestURI(cfg.Step.WebhookURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &ValidationError{Message: fmt.Sprintf("step webhook URL %q is not a valid URL", cfg.Step.WebhookURL)}
	}
	return nil
}

// processLead runs the full pipeline for one lead. Every classified failure
// is absorbed here; the returned error is non-nil only for a recovered panic,
// which aborts the run.
func (o *Orchestrator) processLead(ctx context.Context, cfg RunConfig, rotator *AccountRotator, lead *models.Lead, idx, total int, result *RunResult) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("unexpected failure dispatching lead %d: %v", lead.ID, r)
		}
	}()

	if reason, skip := skipReason(lead); skip {
		o.recordSkip(cfg, lead, nil, reason, idx, total, result)
		return nil
	}

	account, pickErr := rotator.Pick(lead)
	if pickErr != nil {
		o.recordSkip(cfg, lead, nil, ErrQuotaExhausted.Error(), idx, total, result)
		return nil
	}

	content, genErr := o.content.Generate(ctx, cfg.Step.WebhookURL, lead, cfg.Step)
	if genErr != nil {
		o.recordFailure(cfg, lead, account, models.LogTypeWebhook, genErr, idx, total, result)
		return nil
	}

	msg := Compose(cfg.BaseURL, cfg.Campaign.ID, lead, cfg.Step, content)

	messageID, sendErr := o.mail.Send(ctx, account, msg)
	if sendErr != nil {
		entry := o.baseEntry(cfg, lead, account)
		entry.Subject = msg.Subject
		entry.Body = msg.TextBody
		entry.Status = models.LogStatusError
		entry.EntryType = models.LogTypeSend
		entry.ErrorDetail = sendErr.Error()
		o.ledger.Record(entry)
		result.Failed++
		o.emit(RunEvent{Type: "failure", LeadID: lead.ID, LeadEmail: lead.Email, Index: idx + 1, Total: total, Message: sendErr.Error()})
		return nil
	}

	rotator.ConfirmSend(account)
	markContacted(lead)

	entry := o.baseEntry(cfg, lead, account)
	entry.Subject = msg.Subject
	entry.Body = msg.TextBody
	entry.Status = models.LogStatusSuccess
	entry.EntryType = models.LogTypeSend
	entry.MessageID = messageID
	o.ledger.Record(entry)
	o.analytics.RecordSend(cfg.Campaign.ID)

	result.Succeeded++
	o.emit(RunEvent{Type: "success", LeadID: lead.ID, LeadEmail: lead.Email, Index: idx + 1, Total: total})
	return nil
}

func (o *Orchestrator) recordSkip(cfg RunConfig, lead *models.Lead, account *models.SenderAccount, reason string, idx, total int, result *RunResult) {
	entry := o.baseEntry(cfg, lead, account)
	entry.Status = models.LogStatusError
	entry.EntryType = models.LogTypeSend
	entry.ErrorDetail = "skipped: " + reason
	o.ledger.Record(entry)
	result.Skipped++
	o.emit(RunEvent{Type: "skip", LeadID: lead.ID, LeadEmail: lead.Email, Index: idx + 1, Total: total, Message: reason})
}

func (o *Orchestrator) recordFailure(cfg RunConfig, lead *models.Lead, account *models.SenderAccount, entryType string, cause error, idx, total int, result *RunResult) {
	entry := o.baseEntry(cfg, lead, account)
	entry.Status = models.LogStatusError
	entry.EntryType = entryType
	entry.ErrorDetail = cause.Error()
	o.ledger.Record(entry)
	result.Failed++
	o.emit(RunEvent{Type: "failure", LeadID: lead.ID, LeadEmail: lead.Email, Index: idx + 1, Total: total, Message: cause.Error()})
}

func (o *Orchestrator) baseEntry(cfg RunConfig, lead *models.Lead, account *models.SenderAccount) models.ExecutionLogEntry {
	entry := models.ExecutionLogEntry{
		CampaignID:  cfg.Campaign.ID,
		LeadID:      lead.ID,
		StepID:      cfg.Step.ID,
		AttemptedAt: time.Now().UTC(),
	}
	if account != nil {
		id := account.ID
		entry.AccountID = &id
	}
	return entry
}

func (o *Orchestrator) emit(ev RunEvent) {
	if o.events == nil {
		return
	}
	select {
	case o.events <- ev:
	default:
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
