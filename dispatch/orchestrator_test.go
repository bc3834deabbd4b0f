package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"mailforge/models"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

type stubContent struct {
	calls    int
	seen     []uint
	generate func(lead *models.Lead) (*Content, error)
}

func (s *stubContent) Generate(_ context.Context, _ string, lead *models.Lead, _ *models.SequenceStep) (*Content, error) {
	s.calls++
	s.seen = append(s.seen, lead.ID)
	if s.generate != nil {
		return s.generate(lead)
	}
	return &Content{Subject: "Hello " + lead.FirstName, Body: "Body for " + lead.Email}, nil
}

type sentMail struct {
	to   string
	from string
}

type stubMailer struct {
	calls []sentMail
	send  func(account *models.SenderAccount, msg *Message) (string, error)
}

func (s *stubMailer) Send(_ context.Context, account *models.SenderAccount, msg *Message) (string, error) {
	s.calls = append(s.calls, sentMail{to: msg.To, from: account.FromEmail})
	if s.send != nil {
		return s.send(account, msg)
	}
	return fmt.Sprintf("msg-%d", len(s.calls)), nil
}

func makeLead(id uint, email string) *models.Lead {
	return &models.Lead{
		Model:     gorm.Model{ID: id},
		Email:     email,
		FirstName: "Lead",
		Status:    models.LeadStatusPending,
	}
}

func makeAccount(id uint, limit int) *models.SenderAccount {
	return &models.SenderAccount{
		Model:      gorm.Model{ID: id},
		Name:       fmt.Sprintf("account-%d", id),
		FromEmail:  fmt.Sprintf("sender%d@example.com", id),
		DailyLimit: limit,
	}
}

func makeConfig(leads []*models.Lead, accounts []*models.SenderAccount) RunConfig {
	return RunConfig{
		Campaign: &models.Campaign{Model: gorm.Model{ID: 7}, Name: "launch"},
		Step: &models.SequenceStep{
			Model:      gorm.Model{ID: 31},
			StepNumber: 1,
			WebhookURL: "https://hooks.example.com/generate",
		},
		Leads:    leads,
		Accounts: accounts,
		BaseURL:  "https://app.example.com",
	}
}

func newTestOrchestrator(content ContentGenerator, mail MailClient) *Orchestrator {
	log := testLogger()
	o := NewOrchestrator(content, mail, NewLedger(nil, log), NewAnalytics(nil, log), log)
	o.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return o
}

func TestRunHappyPath(t *testing.T) {
	content := &stubContent{}
	mail := &stubMailer{}
	o := newTestOrchestrator(content, mail)

	leads := []*models.Lead{makeLead(1, "a@example.com"), makeLead(2, "b@example.com")}
	account := makeAccount(10, 50)
	cfg := makeConfig(leads, []*models.SenderAccount{account})

	result, err := o.Run(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, 2, result.Attempted)
	assert.Equal(t, 2, result.Succeeded)
	assert.Zero(t, result.Failed)
	assert.Zero(t, result.Skipped)
	assert.False(t, result.Aborted)
	assert.NotEmpty(t, result.RunID)

	require.Len(t, result.Entries, 2)
	for _, entry := range result.Entries {
		assert.Equal(t, models.LogStatusSuccess, entry.Status)
		assert.Equal(t, models.LogTypeSend, entry.EntryType)
		assert.NotEmpty(t, entry.MessageID)
		assert.NotEmpty(t, entry.Subject)
		assert.Equal(t, uint(7), entry.CampaignID)
	}

	assert.Equal(t, 2, account.SentToday)
	assert.Equal(t, 2, account.TotalSent)
	for _, lead := range leads {
		assert.Equal(t, models.LeadStatusContacted, lead.Status)
		require.NotNil(t, lead.AssignedAccountID)
		assert.Equal(t, uint(10), *lead.AssignedAccountID)
	}
}

func TestRunSkipsUnsubscribedAndRepliedLeads(t *testing.T) {
	unsubscribed := makeLead(1, "gone@example.com")
	now := time.Now()
	unsubscribed.UnsubscribedAt = &now
	replied := makeLead(2, "replied@example.com")
	replied.Status = models.LeadStatusReplied
	active := makeLead(3, "active@example.com")

	content := &stubContent{}
	mail := &stubMailer{}
	o := newTestOrchestrator(content, mail)
	cfg := makeConfig([]*models.Lead{unsubscribed, replied, active}, []*models.SenderAccount{makeAccount(10, 50)})

	result, err := o.Run(context.Background(), cfg)
	require.NoError(t, err)

	assert.Equal(t, 3, result.Attempted)
	assert.Equal(t, 2, result.Skipped)
	assert.Equal(t, 1, result.Succeeded)
	assert.Zero(t, result.Failed)

	// Skipped leads never reach the webhook or the mailer.
	assert.Equal(t, 1, content.calls)
	assert.Equal(t, []uint{3}, content.seen)
	require.Len(t, mail.calls, 1)
	assert.Equal(t, "active@example.com", mail.calls[0].to)

	var skipDetails []string
	for _, entry := range result.Entries {
		if strings.HasPrefix(entry.ErrorDetail, "skipped: ") {
			skipDetails = append(skipDetails, entry.ErrorDetail)
		}
	}
	assert.Len(t, skipDetails, 2)
}

func TestRunQuotaExhaustedMidRun(t *testing.T) {
	leads := []*models.Lead{
		makeLead(1, "a@example.com"),
		makeLead(2, "b@example.com"),
		makeLead(3, "c@example.com"),
	}
	account := makeAccount(10, 2)

	content := &stubContent{}
	mail := &stubMailer{}
	o := newTestOrchestrator(content, mail)
	cfg := makeConfig(leads, []*models.SenderAccount{account})

	result, err := o.Run(context.Background(), cfg)
	require.NoError(t, err)

	assert.Equal(t, 3, result.Attempted)
	assert.Equal(t, 2, result.Succeeded)
	assert.Equal(t, 1, result.Skipped)
	assert.False(t, result.Aborted, "quota exhaustion skips the lead but does not end the run")
	assert.Equal(t, 2, account.SentToday)

	// The third lead is skipped before any webhook call is made for it.
	assert.Equal(t, 2, content.calls)

	last := result.Entries[len(result.Entries)-1]
	assert.Contains(t, last.ErrorDetail, "skipped: "+ErrQuotaExhausted.Error())

	assert.Equal(t, models.LeadStatusContacted, leads[0].Status)
	assert.Equal(t, models.LeadStatusContacted, leads[1].Status)
	assert.Equal(t, models.LeadStatusPending, leads[2].Status, "a skipped lead keeps its status")
}

func TestQuotaConsumedOnlyOnConfirmedSend(t *testing.T) {
	account := makeAccount(10, 5)
	mail := &stubMailer{
		send: func(*models.SenderAccount, *Message) (string, error) {
			return "", &HTTPStatusError{URL: "https://relay.example.com", StatusCode: 502}
		},
	}
	o := newTestOrchestrator(&stubContent{}, mail)
	lead := makeLead(1, "a@example.com")
	cfg := makeConfig([]*models.Lead{lead}, []*models.SenderAccount{account})

	result, err := o.Run(context.Background(), cfg)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Failed)
	assert.Zero(t, result.Succeeded)
	assert.Zero(t, account.SentToday, "a failed send must not consume quota")
	assert.Equal(t, models.LeadStatusPending, lead.Status, "a failed send must not advance the lead")

	require.Len(t, result.Entries, 1)
	entry := result.Entries[0]
	assert.Equal(t, models.LogStatusError, entry.Status)
	assert.Equal(t, models.LogTypeSend, entry.EntryType)
	assert.NotEmpty(t, entry.Subject, "failed send entries keep the composed content")
}

func TestContentFailureRecordsWebhookEntry(t *testing.T) {
	content := &stubContent{
		generate: func(*models.Lead) (*Content, error) {
			return nil, &ContentShapeError{Reason: "missing body field"}
		},
	}
	mail := &stubMailer{}
	o := newTestOrchestrator(content, mail)
	cfg := makeConfig([]*models.Lead{makeLead(1, "a@example.com")}, []*models.SenderAccount{makeAccount(10, 5)})

	result, err := o.Run(context.Background(), cfg)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Failed)
	assert.Empty(t, mail.calls, "no send is attempted when generation fails")

	require.Len(t, result.Entries, 1)
	assert.Equal(t, models.LogTypeWebhook, result.Entries[0].EntryType)
	assert.Contains(t, result.Entries[0].ErrorDetail, "missing body field")
}

func TestPacingAppliedBetweenLeadsOnly(t *testing.T) {
	var sleeps []time.Duration
	o := newTestOrchestrator(&stubContent{}, &stubMailer{})
	o.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}

	cfg := makeConfig([]*models.Lead{
		makeLead(1, "a@example.com"),
		makeLead(2, "b@example.com"),
		makeLead(3, "c@example.com"),
	}, []*models.SenderAccount{makeAccount(10, 50)})
	cfg.Pacing = 5 * time.Second

	_, err := o.Run(context.Background(), cfg)
	require.NoError(t, err)

	// Two gaps for three leads, no trailing wait.
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second}, sleeps)
}

func TestCancellationStopsRunBetweenLeads(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	mail := &stubMailer{
		send: func(*models.SenderAccount, *Message) (string, error) {
			cancel() // cancel while the first lead is in flight
			return "msg-1", nil
		},
	}
	o := newTestOrchestrator(&stubContent{}, mail)
	cfg := makeConfig([]*models.Lead{
		makeLead(1, "a@example.com"),
		makeLead(2, "b@example.com"),
	}, []*models.SenderAccount{makeAccount(10, 50)})

	result, err := o.Run(ctx, cfg)
	require.NoError(t, err, "cancellation is not an abort error")

	assert.True(t, result.Aborted)
	assert.Equal(t, "run cancelled", result.AbortReason)
	assert.Equal(t, 1, result.Attempted)
	assert.Equal(t, 1, result.Succeeded)
	require.Len(t, mail.calls, 1)
}

func TestValidationFailures(t *testing.T) {
	lead := makeLead(1, "a@example.com")
	account := makeAccount(10, 50)
	exhausted := makeAccount(11, 5)
	exhausted.SentToday = 5

	tests := []struct {
		name   string
		mutate func(cfg *RunConfig)
	}{
		{"nil campaign", func(cfg *RunConfig) { cfg.Campaign = nil }},
		{"nil step", func(cfg *RunConfig) { cfg.Step = nil }},
		{"no leads", func(cfg *RunConfig) { cfg.Leads = nil }},
		{"no accounts", func(cfg *RunConfig) { cfg.Accounts = nil }},
		{"all accounts exhausted", func(cfg *RunConfig) { cfg.Accounts = []*models.SenderAccount{exhausted} }},
		{"missing webhook url", func(cfg *RunConfig) { cfg.Step.WebhookURL = "" }},
		{"relative webhook url", func(cfg *RunConfig) { cfg.Step.WebhookURL = "/generate" }},
		{"non-http scheme", func(cfg *RunConfig) { cfg.Step.WebhookURL = "ftp://hooks.example.com/x" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			content := &stubContent{}
			o := newTestOrchestrator(content, &stubMailer{})
			cfg := makeConfig([]*models.Lead{lead}, []*models.SenderAccount{account})
			step := *cfg.Step
			cfg.Step = &step
			tt.mutate(&cfg)

			result, err := o.Run(context.Background(), cfg)
			assert.Nil(t, result, "validation failures leave no partial result")
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Zero(t, content.calls, "validation fails before any network call")
		})
	}
}

func TestStickyAssignmentReusesAccount(t *testing.T) {
	first := makeAccount(10, 50)
	second := makeAccount(11, 50)

	lead := makeLead(1, "a@example.com")
	assigned := second.ID
	lead.AssignedAccountID = &assigned

	mail := &stubMailer{}
	o := newTestOrchestrator(&stubContent{}, mail)
	cfg := makeConfig([]*models.Lead{lead}, []*models.SenderAccount{first, second})

	_, err := o.Run(context.Background(), cfg)
	require.NoError(t, err)

	require.Len(t, mail.calls, 1)
	assert.Equal(t, second.FromEmail, mail.calls[0].from)
	assert.Equal(t, 1, second.SentToday)
	assert.Zero(t, first.SentToday)
}

func TestRoundRobinAcrossFreshLeads(t *testing.T) {
	first := makeAccount(10, 50)
	second := makeAccount(11, 50)

	mail := &stubMailer{}
	o := newTestOrchestrator(&stubContent{}, mail)
	cfg := makeConfig([]*models.Lead{
		makeLead(1, "a@example.com"),
		makeLead(2, "b@example.com"),
	}, []*models.SenderAccount{first, second})

	_, err := o.Run(context.Background(), cfg)
	require.NoError(t, err)

	require.Len(t, mail.calls, 2)
	assert.Equal(t, first.FromEmail, mail.calls[0].from)
	assert.Equal(t, second.FromEmail, mail.calls[1].from)
}

func TestRepeatedRunsSendAgain(t *testing.T) {
	account := makeAccount(10, 50)
	lead := makeLead(1, "a@example.com")

	mail := &stubMailer{}
	for i := 0; i < 2; i++ {
		o := newTestOrchestrator(&stubContent{}, mail)
		cfg := makeConfig([]*models.Lead{lead}, []*models.SenderAccount{account})
		_, err := o.Run(context.Background(), cfg)
		require.NoError(t, err)
	}

	// Nothing deduplicates across invocations; each run sends anew.
	assert.Len(t, mail.calls, 2)
	assert.Equal(t, 2, account.SentToday)
}

func TestPanicAbortsRunWithPartialResult(t *testing.T) {
	mail := &stubMailer{
		send: func(_ *models.SenderAccount, msg *Message) (string, error) {
			if msg.To == "b@example.com" {
				panic("relay client state corrupted")
			}
			return "msg-1", nil
		},
	}
	o := newTestOrchestrator(&stubContent{}, mail)
	cfg := makeConfig([]*models.Lead{
		makeLead(1, "a@example.com"),
		makeLead(2, "b@example.com"),
		makeLead(3, "c@example.com"),
	}, []*models.SenderAccount{makeAccount(10, 50)})

	result, err := o.Run(context.Background(), cfg)
	require.Error(t, err)
	require.NotNil(t, result, "an aborted run still reports partial results")

	assert.True(t, result.Aborted)
	assert.Contains(t, result.AbortReason, "unexpected failure")
	assert.Equal(t, 2, result.Attempted)
	assert.Equal(t, 1, result.Succeeded)
}

func TestRunEmitsProgressEvents(t *testing.T) {
	events := make(chan RunEvent, 32)
	o := newTestOrchestrator(&stubContent{}, &stubMailer{})
	o.SetEvents(events)

	cfg := makeConfig([]*models.Lead{makeLead(1, "a@example.com")}, []*models.SenderAccount{makeAccount(10, 50)})
	_, err := o.Run(context.Background(), cfg)
	require.NoError(t, err)
	close(events)

	var types []string
	for ev := range events {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []string{"attempt", "success", "done"}, types)
}

func TestLedgerStoreFailureDoesNotAffectRun(t *testing.T) {
	log := testLogger()
	failing := failingLedgerStore{err: errors.New("connection refused")}
	o := NewOrchestrator(&stubContent{}, &stubMailer{}, NewLedger(failing, log), NewAnalytics(nil, log), log)
	o.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }

	cfg := makeConfig([]*models.Lead{makeLead(1, "a@example.com")}, []*models.SenderAccount{makeAccount(10, 50)})
	result, err := o.Run(context.Background(), cfg)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Succeeded)
	assert.Len(t, result.Entries, 1, "the in-memory ledger is authoritative for the run")
}

type failingLedgerStore struct{ err error }

func (f failingLedgerStore) AppendLogEntry(context.Context, *models.ExecutionLogEntry) error {
	return f.err
}
