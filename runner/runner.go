package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"mailforge/config"
	"mailforge/dispatch"
	"mailforge/models"
	"mailforge/store"
	"mailforge/utils"
)

// Runner loads a campaign's dispatch inputs from the database, executes one
// run through the dispatch engine and persists the outcome. Both the HTTP
// trigger and the scheduled worker go through it.
type Runner struct {
	DB     *gorm.DB
	Store  *store.Store
	Logger *logrus.Logger
}

func New(db *gorm.DB, st *store.Store, logger *logrus.Logger) *Runner {
	return &Runner{DB: db, Store: st, Logger: logger}
}

var ErrNoSuchStep = errors.New("campaign has no step with that number")

// LoadRunConfig assembles the immutable input of one run: the campaign, the
// step to dispatch, its leads with custom fields, and the selected sender
// accounts with decrypted credentials.
func (r *Runner) LoadRunConfig(campaignID uint, stepNumber int) (*dispatch.RunConfig, error) {
	var campaign models.Campaign
	if err := r.DB.Preload("Steps", func(db *gorm.DB) *gorm.DB {
		return db.Order("step_number ASC")
	}).First(&campaign, campaignID).Error; err != nil {
		return nil, fmt.Errorf("loading campaign %d: %w", campaignID, err)
	}

	if stepNumber <= 0 {
		stepNumber = campaign.CurrentStep
	}
	var step *models.SequenceStep
	for i := range campaign.Steps {
		if campaign.Steps[i].StepNumber == stepNumber {
			step = &campaign.Steps[i]
			break
		}
	}
	if step == nil {
		return nil, ErrNoSuchStep
	}

	var leadRows []models.Lead
	if err := r.DB.Preload("CustomFields").
		Where("campaign_id = ?", campaign.ID).
		Order("id ASC").
		Find(&leadRows).Error; err != nil {
		return nil, fmt.Errorf("loading leads: %w", err)
	}
	leads := make([]*models.Lead, len(leadRows))
	for i := range leadRows {
		leads[i] = &leadRows[i]
	}

	var accountRows []models.SenderAccount
	if err := r.DB.
		Joins("JOIN campaign_accounts ON campaign_accounts.account_id = sender_accounts.id").
		Where("campaign_accounts.campaign_id = ? AND sender_accounts.is_active = ?", campaign.ID, true).
		Order("sender_accounts.id ASC").
		Find(&accountRows).Error; err != nil {
		return nil, fmt.Errorf("loading sender accounts: %w", err)
	}
	accounts := make([]*models.SenderAccount, len(accountRows))
	for i := range accountRows {
		plaintext, err := utils.Decrypt(accountRows[i].SMTPPassword)
		if err != nil {
			return nil, fmt.Errorf("decrypting credentials for account %d: %w", accountRows[i].ID, err)
		}
		accountRows[i].SMTPPassword = plaintext
		accounts[i] = &accountRows[i]
	}

	return &dispatch.RunConfig{
		Campaign: &campaign,
		Step:     step,
		Leads:    leads,
		Accounts: accounts,
		Pacing:   time.Duration(campaign.PacingSeconds) * time.Second,
		BaseURL:  config.AppConfig.AppURL,
	}, nil
}

// NewOrchestrator wires the engine components from the app configuration.
func (r *Runner) NewOrchestrator() *dispatch.Orchestrator {
	entry := r.Logger.WithField("component", "dispatch")
	content := dispatch.NewContentClient(config.AppConfig.ProxyRelayURL, entry)
	var mail dispatch.MailClient
	if config.AppConfig.MailRelayURL != "" {
		mail = dispatch.NewRelayMailClient(config.AppConfig.MailRelayURL)
	} else {
		mail = dispatch.NewSMTPMailClient()
	}
	ledger := dispatch.NewLedger(r.Store, entry)
	analytics := dispatch.NewAnalytics(r.Store, entry)
	return dispatch.NewOrchestrator(content, mail, ledger, analytics, entry)
}

// Execute runs one dispatch pass and persists everything the engine mutated
// in memory: lead statuses and sticky assignments, account usage counters,
// and the step's sent count.
func (r *Runner) Execute(ctx context.Context, orch *dispatch.Orchestrator, cfg *dispatch.RunConfig) (*dispatch.RunResult, error) {
	result, runErr := orch.Run(ctx, *cfg)
	if result == nil {
		return nil, runErr
	}

	persistCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, lead := range cfg.Leads {
		if err := r.Store.SaveLeadDispatchState(persistCtx, lead); err != nil {
			r.Logger.WithField("lead_id", lead.ID).WithError(err).Warn("failed to persist lead state")
		}
	}
	for _, account := range cfg.Accounts {
		if err := r.Store.SaveAccountUsage(persistCtx, account); err != nil {
			r.Logger.WithField("account_id", account.ID).WithError(err).Warn("failed to persist account usage")
		}
	}
	if result.Succeeded > 0 {
		if err := r.DB.WithContext(persistCtx).Model(&models.SequenceStep{}).
			Where("id = ?", cfg.Step.ID).
			Update("sent_count", gorm.Expr("sent_count + ?", result.Succeeded)).Error; err != nil {
			r.Logger.WithField("step_id", cfg.Step.ID).WithError(err).Warn("failed to update step counters")
		}
	}

	return result, runErr
}

// AdvanceSchedule moves the campaign to its next step after a completed
// invocation: the following step becomes current with next_run_at computed
// from its delay, or the campaign completes when this was the last step.
func (r *Runner) AdvanceSchedule(campaign *models.Campaign, dispatchedStep *models.SequenceStep) error {
	var next *models.SequenceStep
	for i := range campaign.Steps {
		if campaign.Steps[i].StepNumber == dispatchedStep.StepNumber+1 {
			next = &campaign.Steps[i]
			break
		}
	}

	updates := map[string]interface{}{}
	if next != nil {
		runAt := time.Now().Add(next.Delay())
		updates["current_step"] = next.StepNumber
		updates["next_run_at"] = runAt
	} else {
		now := time.Now()
		updates["status"] = models.CampaignStatusCompleted
		updates["completed_at"] = now
		updates["next_run_at"] = nil
	}

	return r.DB.Model(&models.Campaign{}).
		Where("id = ?", campaign.ID).
		Updates(updates).Error
}
