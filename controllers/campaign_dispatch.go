package controller

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"mailforge/dispatch"
	"mailforge/models"
	"mailforge/runner"
)

// activeRun tracks one in-flight dispatch run for a campaign.
type activeRun struct {
	runID      string
	stepNumber int
	startedAt  time.Time
	cancel     context.CancelFunc
	events     chan dispatch.RunEvent
	done       chan struct{}
	result     *dispatch.RunResult
	err        error
}

type StartDispatchInput struct {
	// StepNumber overrides the campaign's current step when set.
	StepNumber int `json:"step_number" validate:"gte=0"`
}

// StartDispatch kicks off one dispatch invocation for the campaign's current
// step (or an explicit step) in the background and returns immediately.
func (cc *CampaignController) StartDispatch(c *fiber.Ctx) error {
	campaign := cc.ownedCampaign(c)
	if campaign == nil {
		return nil
	}

	var input StartDispatchInput
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&input); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
		}
	}

	if campaign.Status == models.CampaignStatusCompleted {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "campaign is completed"})
	}

	cfg, err := cc.Runner.LoadRunConfig(campaign.ID, input.StepNumber)
	if err != nil {
		if errors.Is(err, runner.ErrNoSuchStep) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "campaign has no step with that number"})
		}
		cc.Logger.WithError(err).Error("failed to assemble dispatch run")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to assemble dispatch run"})
	}

	ctx, cancel := context.WithCancel(context.Background())
	run := &activeRun{
		stepNumber: cfg.Step.StepNumber,
		startedAt:  time.Now(),
		cancel:     cancel,
		events:     make(chan dispatch.RunEvent, 64),
		done:       make(chan struct{}),
	}

	// The run must be fully initialized before it is published: StopDispatch
	// may fetch it and call cancel the moment it appears in the map.
	cc.mu.Lock()
	if _, busy := cc.runs[campaign.ID]; busy {
		cc.mu.Unlock()
		cancel()
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "campaign has a dispatch run in progress"})
	}
	cc.runs[campaign.ID] = run
	cc.mu.Unlock()

	if campaign.Status != models.CampaignStatusActive {
		now := time.Now()
		cc.DB.Model(campaign).Updates(map[string]interface{}{
			"status":     models.CampaignStatusActive,
			"started_at": now,
		})
	}

	go cc.execute(ctx, campaign, run, cfg)

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"message":     "dispatch started",
		"campaign_id": campaign.ID,
		"step_number": run.stepNumber,
		"lead_count":  len(cfg.Leads),
	})
}

// execute drives one run to completion on a background goroutine, then
// persists the outcome and advances the campaign schedule.
func (cc *CampaignController) execute(ctx context.Context, campaign *models.Campaign, run *activeRun, cfg *dispatch.RunConfig) {
	defer run.cancel()

	orch := cc.Runner.NewOrchestrator()
	orch.SetEvents(run.events)

	result, err := cc.Runner.Execute(ctx, orch, cfg)
	run.result = result
	run.err = err

	log := cc.Logger.WithFields(logrus.Fields{
		"campaign_id": campaign.ID,
		"step_number": run.stepNumber,
	})

	switch {
	case err != nil && result != nil && result.Aborted:
		log.WithError(err).Error("dispatch run aborted")
		sentry.WithScope(func(scope *sentry.Scope) {
			scope.SetTag("campaign_id", utoa(campaign.ID))
			scope.SetExtra("run_id", result.RunID)
			scope.SetExtra("abort_reason", result.AbortReason)
			sentry.CaptureException(err)
		})
	case err != nil:
		log.WithError(err).Error("dispatch run failed")
	case result.Aborted:
		// A stopped run is not a completed step: the schedule stays where it
		// is so the next trigger redispatches the same step.
		log.WithFields(logrus.Fields{
			"run_id":       result.RunID,
			"abort_reason": result.AbortReason,
			"succeeded":    result.Succeeded,
		}).Info("dispatch run cancelled")
	default:
		log.WithFields(logrus.Fields{
			"run_id":    result.RunID,
			"succeeded": result.Succeeded,
			"failed":    result.Failed,
			"skipped":   result.Skipped,
		}).Info("dispatch run finished")
		if advErr := cc.Runner.AdvanceSchedule(campaign, cfg.Step); advErr != nil {
			log.WithError(advErr).Error("failed to advance campaign schedule")
		}
	}

	cc.mu.Lock()
	delete(cc.runs, campaign.ID)
	cc.mu.Unlock()
	close(run.done)
}

// StopDispatch cancels an in-flight run. The run stops at its next
// suspension point and reports partial results.
func (cc *CampaignController) StopDispatch(c *fiber.Ctx) error {
	campaign := cc.ownedCampaign(c)
	if campaign == nil {
		return nil
	}

	cc.mu.Lock()
	run, ok := cc.runs[campaign.ID]
	cc.mu.Unlock()
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "no dispatch run in progress"})
	}

	run.cancel()

	// Pause the campaign so the scheduled worker does not pick it up again;
	// a new trigger reactivates it.
	if err := cc.DB.Model(campaign).Update("status", models.CampaignStatusPaused).Error; err != nil {
		cc.Logger.WithField("campaign_id", campaign.ID).WithError(err).Error("failed to pause campaign")
	}

	return c.JSON(fiber.Map{"message": "dispatch stop requested"})
}

// GetDispatchStatus reports whether a run is in flight for the campaign.
func (cc *CampaignController) GetDispatchStatus(c *fiber.Ctx) error {
	campaign := cc.ownedCampaign(c)
	if campaign == nil {
		return nil
	}

	cc.mu.Lock()
	run, ok := cc.runs[campaign.ID]
	cc.mu.Unlock()

	if !ok {
		return c.JSON(fiber.Map{
			"running":      false,
			"status":       campaign.Status,
			"current_step": campaign.CurrentStep,
			"next_run_at":  campaign.NextRunAt,
		})
	}

	return c.JSON(fiber.Map{
		"running":     true,
		"status":      campaign.Status,
		"step_number": run.stepNumber,
		"started_at":  run.startedAt,
	})
}

func utoa(v uint) string {
	return strconv.FormatUint(uint64(v), 10)
}

func (cc *CampaignController) running(campaignID uint) bool {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	_, ok := cc.runs[campaignID]
	return ok
}
