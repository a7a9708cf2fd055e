package service

import (
	"context"
	"log"
	"math/rand"
	"time"

	"github.com/samuelwildary2025/disparo/internal/model"
	"github.com/samuelwildary2025/disparo/internal/queue"
	"github.com/samuelwildary2025/disparo/internal/repository"
)

// stepStagger spaces the initial jobs of a scheduling pass so a large
// campaign does not land on the queue as one burst.
const stepStagger = 250 * time.Millisecond

// DispatchScheduler turns schedulable step runs into queue jobs. Every
// enqueue is preceded by a claim on the step run's scheduled_at, so two
// concurrent passes (cron resweep, resume, manual start) cannot double-book
// the same step.
type DispatchScheduler struct {
	Campaigns repository.CampaignRepositoryInterface
	Runs      repository.RunRepositoryInterface
	Queue     queue.Queue

	now func() time.Time
}

func NewDispatchScheduler(campaigns repository.CampaignRepositoryInterface, runs repository.RunRepositoryInterface, q queue.Queue) *DispatchScheduler {
	return &DispatchScheduler{
		Campaigns: campaigns,
		Runs:      runs,
		Queue:     q,
		now:       time.Now,
	}
}

// ScheduleCampaign enqueues at most one job per recipient run: its next
// actionable step, the lowest-order pending one whose predecessors all
// succeeded. It returns the number of jobs placed. Safe to call repeatedly;
// claimed steps and steps behind unfinished ones never come back from
// ListSchedulable.
func (s *DispatchScheduler) ScheduleCampaign(ctx context.Context, campaignID string) (int, error) {
	steps, err := s.Campaigns.GetSteps(campaignID)
	if err != nil {
		return 0, err
	}
	if len(steps) == 0 {
		log.Printf("[Scheduler] campaign %s has no steps, nothing to schedule", campaignID)
		return 0, nil
	}

	// Recipient runs created before a step was added get their missing step
	// runs here.
	if err := s.Runs.BackfillStepRuns(campaignID); err != nil {
		return 0, err
	}

	candidates, err := s.Runs.ListSchedulable(campaignID)
	if err != nil {
		return 0, err
	}

	scheduled := 0
	seen := map[string]bool{}
	for _, candidate := range candidates {
		// One in-flight step per recipient: the candidate list is ordered by
		// step_order, so the first hit per recipient is its earliest step.
		if seen[candidate.RecipientRunID] {
			continue
		}
		seen[candidate.RecipientRunID] = true

		delay := s.stepDelay(candidate.DelayMinSeconds, candidate.DelayMaxSeconds) +
			time.Duration(scheduled)*stepStagger

		claimed, err := s.Runs.ClaimStep(candidate.StepRunID, s.now().Add(delay))
		if err != nil {
			return scheduled, err
		}
		if !claimed {
			// A concurrent pass won the claim.
			continue
		}

		job := model.DispatchJob{
			CampaignID:     candidate.CampaignID,
			RecipientRunID: candidate.RecipientRunID,
			CampaignStepID: candidate.CampaignStepID,
			StepRunID:      candidate.StepRunID,
			StepOrder:      candidate.StepOrder,
			Attempt:        candidate.AttemptCount + 1,
		}
		if err := s.Queue.Enqueue(ctx, job, delay); err != nil {
			return scheduled, err
		}
		scheduled++
	}

	if scheduled > 0 {
		log.Printf("[Scheduler] campaign %s: %d job(s) enqueued", campaignID, scheduled)
	}
	return scheduled, nil
}

// ScheduleNextStep chains the recipient's step after currentOrder. It
// returns false when the sequence is exhausted or another pass already
// claimed the step.
func (s *DispatchScheduler) ScheduleNextStep(ctx context.Context, recipientRunID string, currentOrder int) (bool, error) {
	next, err := s.Runs.FindNextStep(recipientRunID, currentOrder+1)
	if err != nil {
		return false, err
	}
	if next == nil {
		return false, nil
	}

	delay := s.stepDelay(next.DelayMinSeconds, next.DelayMaxSeconds)

	claimed, err := s.Runs.ClaimStep(next.StepRunID, s.now().Add(delay))
	if err != nil {
		return false, err
	}
	if !claimed {
		return false, nil
	}

	job := model.DispatchJob{
		CampaignID:     next.CampaignID,
		RecipientRunID: recipientRunID,
		CampaignStepID: next.CampaignStepID,
		StepRunID:      next.StepRunID,
		StepOrder:      next.StepOrder,
		Attempt:        next.AttemptCount + 1,
	}
	if err := s.Queue.Enqueue(ctx, job, delay); err != nil {
		return false, err
	}
	return true, nil
}

// RescheduleStep defers an already-claimed job without touching its attempt
// count, used by the worker's policy holds.
func (s *DispatchScheduler) RescheduleStep(ctx context.Context, job model.DispatchJob, delay time.Duration) error {
	if err := s.Runs.Reschedule(job.StepRunID, s.now().Add(delay)); err != nil {
		return err
	}
	return s.Queue.Enqueue(ctx, job, delay)
}

// stepDelay draws the per-step jitter from [min, max] seconds.
func (s *DispatchScheduler) stepDelay(minSeconds, maxSeconds int) time.Duration {
	if minSeconds < 0 {
		minSeconds = 0
	}
	if maxSeconds < minSeconds {
		maxSeconds = minSeconds
	}
	if maxSeconds == minSeconds {
		return time.Duration(minSeconds) * time.Second
	}
	return time.Duration(rand.Intn(maxSeconds-minSeconds+1)+minSeconds) * time.Second
}
