package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/samuelwildary2025/disparo/internal/antiban"
	"github.com/samuelwildary2025/disparo/internal/gateway"
	"github.com/samuelwildary2025/disparo/internal/metrics"
	"github.com/samuelwildary2025/disparo/internal/model"
	"github.com/samuelwildary2025/disparo/internal/repository"
)

// MaxAttempts bounds retries per recipient run. A send failing on the third
// attempt fails the run permanently.
const MaxAttempts = 3

// Policy hold delays. Holds reschedule the job without consuming an attempt.
const (
	pausedHold     = 5 * time.Minute
	dailyCapFloor  = time.Hour
	pacingFloor    = 5 * time.Second
	windowFloor    = 10 * time.Second
	maxTypingDelay = 5 * time.Second
	typingPerChar  = 120 * time.Millisecond
)

// GatewayFactory builds a sender for the instance a campaign dispatches
// through.
type GatewayFactory func(instance model.Instance) gateway.Sender

// Personalizer renders the outbound message for one contact.
type Personalizer interface {
	Generate(ctx context.Context, template string, contact model.Contact, useAI bool) string
}

// DispatchWorker consumes dispatch jobs. Each job is one attempt at one step
// of one recipient run; the worker gates it through campaign status, pacing
// state, time windows and the blacklist before sending.
type DispatchWorker struct {
	Campaigns    repository.CampaignRepositoryInterface
	Runs         repository.RunRepositoryInterface
	Contacts     repository.ContactRepositoryInterface
	Scheduler    *DispatchScheduler
	Progress     *ProgressService
	Personalizer Personalizer
	NewSender    GatewayFactory

	now func() time.Time
}

func NewDispatchWorker(
	campaigns repository.CampaignRepositoryInterface,
	runs repository.RunRepositoryInterface,
	contacts repository.ContactRepositoryInterface,
	scheduler *DispatchScheduler,
	progress *ProgressService,
	personalizer Personalizer,
	newSender GatewayFactory,
) *DispatchWorker {
	return &DispatchWorker{
		Campaigns:    campaigns,
		Runs:         runs,
		Contacts:     contacts,
		Scheduler:    scheduler,
		Progress:     progress,
		Personalizer: personalizer,
		NewSender:    newSender,
		now:          time.Now,
	}
}

// ProcessJob handles one dispatch job end to end. A nil return acknowledges
// the job; only infrastructure failures (context load, blacklist query)
// return an error and leave the job for recovery.
func (w *DispatchWorker) ProcessJob(ctx context.Context, job model.DispatchJob) error {
	metrics.JobsProcessed.Inc()

	dc, err := w.Runs.GetStepContext(job.StepRunID)
	if err != nil {
		return fmt.Errorf("load dispatch context: %w", err)
	}
	if dc == nil {
		log.Printf("[Worker] step run %s no longer exists, dropping job", job.StepRunID)
		return nil
	}

	if dc.Run.Status == model.RunFailed || dc.Run.Status == model.RunCancelled {
		log.Printf("[Worker] run %s is %s, dropping job", dc.Run.ID, dc.Run.Status)
		return nil
	}

	// Duplicate delivery of a finished step: the first job already sent it.
	// A failed step with a live run is a crashed retry and gets reprocessed.
	if dc.StepRun.Status == model.RunSuccess || dc.StepRun.Status == model.RunCancelled {
		log.Printf("[Worker] step run %s already %s, dropping job", job.StepRunID, dc.StepRun.Status)
		return nil
	}

	campaign := dc.Campaign
	if campaign.Status != model.CampaignRunning {
		w.hold(ctx, job, pausedHold, "campaign_not_running")
		return nil
	}

	now := w.now()
	state := campaign.AntiBanState
	dailyCount := state.DailyCount
	if state.LastSentAt == nil || !sameDay(*state.LastSentAt, now) {
		dailyCount = 0
	}

	if campaign.AntiBan.DailyLimit > 0 && dailyCount >= campaign.AntiBan.DailyLimit {
		midnight := startOfDay(now).AddDate(0, 0, 1)
		resumeAt := antiban.NextAllowedAt(campaign.AntiBan, midnight)
		w.hold(ctx, job, maxDuration(resumeAt.Sub(now), dailyCapFloor), "daily_limit")
		return nil
	}

	if state.NextAvailableAt != nil && state.NextAvailableAt.After(now) {
		w.hold(ctx, job, maxDuration(state.NextAvailableAt.Sub(now), pacingFloor), "pacing_gate")
		return nil
	}

	gate := state
	gate.DailyCount = dailyCount
	if !antiban.CanSendNow(campaign.AntiBan, now, gate) {
		resumeAt := antiban.NextAllowedAt(campaign.AntiBan, now)
		w.hold(ctx, job, maxDuration(resumeAt.Sub(now), windowFloor), "time_window")
		return nil
	}

	blacklisted, err := w.Contacts.IsBlacklisted(campaign.UserID, dc.Contact.PhoneNumber)
	if err != nil {
		return fmt.Errorf("blacklist check: %w", err)
	}
	if blacklisted {
		w.cancelRun(dc, "phone number blacklisted")
		return nil
	}

	if dc.Run.Status == model.RunPending {
		w.mustSetRunStatus(dc.Run.ID, model.RunProcessing, "", "")
	}
	if err := w.Runs.IncrementAttempt(dc.Run.ID); err != nil {
		log.Printf("[Worker] increment attempt for run %s: %v", dc.Run.ID, err)
	}
	if err := w.Runs.SetStepStatus(job.StepRunID, model.RunProcessing, "", ""); err != nil {
		log.Printf("[Worker] mark step %s processing: %v", job.StepRunID, err)
	}
	w.addLog(dc.Run.ID, model.RunProcessing, fmt.Sprintf("sending step %d (attempt %d)", job.StepOrder, job.Attempt))

	message := w.Personalizer.Generate(ctx, dc.TemplateContent, dc.Contact, dc.Step.AIVariation)

	typing := typingDelay(message)
	if dc.Step.TypingMsOverride != nil {
		typing = time.Duration(*dc.Step.TypingMsOverride) * time.Millisecond
	}

	sender := w.NewSender(dc.Instance)
	if err := sender.SendMessage(ctx, dc.Contact.PhoneNumber, message, typing); err != nil {
		w.handleFailure(ctx, job, dc, err)
	} else {
		w.handleSuccess(ctx, job, dc, message)
	}
	return nil
}

// hold defers the job without consuming an attempt. The step run keeps its
// claim; only its visibility time moves.
func (w *DispatchWorker) hold(ctx context.Context, job model.DispatchJob, delay time.Duration, reason string) {
	metrics.StepsRescheduled.WithLabelValues(reason).Inc()
	log.Printf("[Worker] step %s held %s (%s)", job.StepRunID, delay.Round(time.Second), reason)
	if err := w.Scheduler.RescheduleStep(ctx, job, delay); err != nil {
		log.Printf("[Worker] reschedule step %s: %v", job.StepRunID, err)
	}
}

// cancelRun terminates the recipient run and its current step without a send
// attempt. Cancellation counts toward completion, not failure.
func (w *DispatchWorker) cancelRun(dc *repository.DispatchContext, reason string) {
	if err := w.Runs.SetStepStatus(dc.StepRun.ID, model.RunCancelled, "", reason); err != nil {
		log.Printf("[Worker] cancel step %s: %v", dc.StepRun.ID, err)
	}
	w.mustSetRunStatus(dc.Run.ID, model.RunCancelled, "", reason)
	w.addLog(dc.Run.ID, model.RunCancelled, reason)
	metrics.RunsCancelled.Inc()
	log.Printf("[Worker] run %s cancelled: %s", dc.Run.ID, reason)

	w.Progress.MaybeCompleteCampaign(dc.Run.CampaignID)
	w.Progress.EmitDispatchEvent(dc.Run.ID)
	w.Progress.EmitProgress(dc.Run.CampaignID)
}

func (w *DispatchWorker) handleSuccess(ctx context.Context, job model.DispatchJob, dc *repository.DispatchContext, message string) {
	if err := w.Runs.SetStepStatus(job.StepRunID, model.RunSuccess, message, ""); err != nil {
		log.Printf("[Worker] mark step %s success: %v", job.StepRunID, err)
	}
	metrics.MessagesSent.Inc()

	w.advancePacingState(dc.Campaign)

	if job.StepOrder >= dc.TotalSteps {
		w.mustSetRunStatus(dc.Run.ID, model.RunSuccess, message, "")
		w.addLog(dc.Run.ID, model.RunSuccess, "sequence completed")
		w.Progress.MaybeCompleteCampaign(dc.Run.CampaignID)
	} else {
		w.addLog(dc.Run.ID, model.RunProcessing, fmt.Sprintf("step %d sent", job.StepOrder))
		chained, err := w.Scheduler.ScheduleNextStep(ctx, dc.Run.ID, job.StepOrder)
		if err != nil {
			log.Printf("[Worker] chain next step for run %s: %v", dc.Run.ID, err)
		} else if !chained {
			log.Printf("[Worker] run %s: no step after %d to chain", dc.Run.ID, job.StepOrder)
		}
	}

	w.Progress.EmitDispatchEvent(dc.Run.ID)
	w.Progress.EmitProgress(dc.Run.CampaignID)
}

func (w *DispatchWorker) handleFailure(ctx context.Context, job model.DispatchJob, dc *repository.DispatchContext, sendErr error) {
	errMsg := sendErr.Error()
	metrics.MessagesFailed.Inc()
	log.Printf("[Worker] send for run %s attempt %d failed: %v", dc.Run.ID, job.Attempt, sendErr)

	if err := w.Runs.SetStepStatus(job.StepRunID, model.RunFailed, "", errMsg); err != nil {
		log.Printf("[Worker] mark step %s failed: %v", job.StepRunID, err)
	}
	w.addLog(dc.Run.ID, model.RunFailed, errMsg)

	if job.Attempt < MaxAttempts {
		// 2^attempt seconds: 2s after the first failure, 4s after the second.
		backoff := time.Duration(1<<uint(job.Attempt)) * time.Second

		w.mustSetRunStatus(dc.Run.ID, model.RunPending, "", errMsg)

		retry := job
		retry.Attempt = job.Attempt + 1
		if err := w.Scheduler.RescheduleStep(ctx, retry, backoff); err != nil {
			log.Printf("[Worker] enqueue retry for step %s: %v", job.StepRunID, err)
		}

		// The step returns to pending but keeps its claim: the queued retry
		// job owns it, and scheduling passes must not see it.
		if err := w.Runs.SetStepStatus(job.StepRunID, model.RunPending, "", ""); err != nil {
			log.Printf("[Worker] re-arm step %s: %v", job.StepRunID, err)
		}
	} else {
		w.mustSetRunStatus(dc.Run.ID, model.RunFailed, "", errMsg)
		w.Progress.MaybeFailCampaign(dc.Run.CampaignID)
	}

	w.Progress.EmitDispatchEvent(dc.Run.ID)
	w.Progress.EmitProgress(dc.Run.CampaignID)
}

// advancePacingState records the send in the campaign's pacing state and
// computes when the next send may go out.
func (w *DispatchWorker) advancePacingState(campaign model.Campaign) {
	now := w.now()
	state := campaign.AntiBanState

	if state.LastSentAt == nil || !sameDay(*state.LastSentAt, now) {
		state.DailyCount = 0
	}
	state.MessagesSent++
	state.DailyCount++
	sentAt := now
	state.LastSentAt = &sentAt

	result := antiban.ComputeNextDelay(campaign.AntiBan, state)
	next := now.Add(result.Total)
	state.NextAvailableAt = &next
	if result.LongPause > 0 {
		// Records when the pause ends, not when it began.
		state.LastLongPauseAt = &next
		log.Printf("[Worker] campaign %s long pause: next send in %s", campaign.ID, result.Total.Round(time.Second))
	}
	state.Version = model.AntiBanStateVersion

	if err := w.Campaigns.UpdateAntiBanState(campaign.ID, state); err != nil {
		log.Printf("[Worker] persist pacing state for campaign %s: %v", campaign.ID, err)
	}
}

func (w *DispatchWorker) mustSetRunStatus(runID string, status model.RunStatus, message, errMsg string) {
	if err := w.Runs.SetRunStatus(runID, status, message, errMsg); err != nil {
		log.Printf("[Worker] set run %s to %s: %v", runID, status, err)
	}
}

func (w *DispatchWorker) addLog(runID string, status model.RunStatus, detail string) {
	if err := w.Runs.AddLog(runID, status, detail); err != nil {
		log.Printf("[Worker] append log for run %s: %v", runID, err)
	}
}

// typingDelay simulates human typing speed, capped so long messages do not
// stall the pipeline.
func typingDelay(message string) time.Duration {
	d := time.Duration(len(message)) * typingPerChar
	if d > maxTypingDelay {
		return maxTypingDelay
	}
	return d
}

func sameDay(a, b time.Time) bool {
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
