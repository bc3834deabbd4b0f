package worker

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"mailforge/models"
	"mailforge/runner"
)

const dispatchPollInterval = 30 * time.Second

// DispatchWorker drives scheduled campaign steps: it polls for active
// campaigns whose next_run_at has passed, dispatches their current step, and
// advances the schedule to the following step.
type DispatchWorker struct {
	DB     *gorm.DB
	Runner *runner.Runner
	Logger *logrus.Logger
}

func NewDispatchWorker(db *gorm.DB, r *runner.Runner, logger *logrus.Logger) *DispatchWorker {
	return &DispatchWorker{DB: db, Runner: r, Logger: logger}
}

func (dw *DispatchWorker) Start(ctx context.Context) {
	dw.Logger.Info("dispatch worker started")

	ticker := time.NewTicker(dispatchPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			dw.Logger.Info("dispatch worker shutting down")
			return
		case <-ticker.C:
			dw.processDueCampaigns(ctx)
		}
	}
}

func (dw *DispatchWorker) processDueCampaigns(ctx context.Context) {
	var due []models.Campaign
	if err := dw.DB.Preload("Steps").
		Where("status = ? AND next_run_at IS NOT NULL AND next_run_at <= ?",
			models.CampaignStatusActive, time.Now()).
		Find(&due).Error; err != nil {
		dw.Logger.WithError(err).Error("failed to fetch due campaigns")
		return
	}

	for i := range due {
		if ctx.Err() != nil {
			return
		}
		if err := dw.runCampaignStep(ctx, &due[i]); err != nil {
			dw.Logger.WithField("campaign_id", due[i].ID).WithError(err).Error("scheduled dispatch failed")
		}
	}
}

func (dw *DispatchWorker) runCampaignStep(ctx context.Context, campaign *models.Campaign) error {
	log := dw.Logger.WithFields(logrus.Fields{
		"campaign_id": campaign.ID,
		"step_number": campaign.CurrentStep,
	})

	cfg, err := dw.Runner.LoadRunConfig(campaign.ID, campaign.CurrentStep)
	if err != nil {
		return err
	}

	// Clear the schedule first so a slow run is not picked up again by the
	// next tick. AdvanceSchedule sets the real next_run_at afterwards.
	if err := dw.DB.Model(campaign).Update("next_run_at", nil).Error; err != nil {
		return err
	}

	orch := dw.Runner.NewOrchestrator()
	result, runErr := dw.Runner.Execute(ctx, orch, cfg)
	if runErr != nil {
		if result != nil && result.Aborted {
			log.WithError(runErr).Error("scheduled run aborted, pausing campaign")
			dw.DB.Model(campaign).Update("status", models.CampaignStatusPaused)
		}
		return runErr
	}

	if result.Aborted {
		// Cancelled mid-step, typically at shutdown. The step was not fully
		// dispatched, so pause instead of advancing; a new trigger resumes it.
		log.WithField("abort_reason", result.AbortReason).Warn("scheduled run cancelled, pausing campaign")
		dw.DB.Model(campaign).Update("status", models.CampaignStatusPaused)
		return nil
	}

	log.WithFields(logrus.Fields{
		"run_id":    result.RunID,
		"succeeded": result.Succeeded,
		"failed":    result.Failed,
		"skipped":   result.Skipped,
	}).Info("scheduled dispatch run finished")

	return dw.Runner.AdvanceSchedule(campaign, cfg.Step)
}
