package service

import (
	"errors"
	"log"
	"time"

	"github.com/samuelwildary2025/disparo/internal/model"
	"github.com/samuelwildary2025/disparo/internal/realtime"
	"github.com/samuelwildary2025/disparo/internal/repository"
)

// ProgressService recomputes campaign counters and pushes snapshots and
// per-recipient events to the realtime transport. Publishing is best-effort:
// a broken notifier never fails a dispatch.
type ProgressService struct {
	Campaigns repository.CampaignRepositoryInterface
	Runs      repository.RunRepositoryInterface
	Notifier  realtime.Notifier
}

// Snapshot aggregates recipient run counts for one campaign.
func (s *ProgressService) Snapshot(campaignID string) (*model.CampaignProgress, error) {
	progress, _, err := s.snapshot(campaignID)
	return progress, err
}

func (s *ProgressService) snapshot(campaignID string) (*model.CampaignProgress, *model.Campaign, error) {
	counts, err := s.Runs.CountByStatus(campaignID)
	if err != nil {
		return nil, nil, err
	}

	campaign, err := s.Campaigns.GetByID(campaignID)
	if err != nil {
		return nil, nil, err
	}

	total := 0
	for _, n := range counts {
		total += n
	}

	return &model.CampaignProgress{
		CampaignID: campaignID,
		Total:      total,
		Completed:  counts[model.RunSuccess],
		Failed:     counts[model.RunFailed],
		InFlight:   counts[model.RunProcessing],
		Status:     campaign.Status,
	}, campaign, nil
}

// EmitProgress publishes the current snapshot to the campaign topic and to
// the owning user's topic.
func (s *ProgressService) EmitProgress(campaignID string) {
	progress, campaign, err := s.snapshot(campaignID)
	if err != nil {
		log.Printf("[Progress] snapshot for campaign %s failed: %v", campaignID, err)
		return
	}

	if err := s.Notifier.Publish(realtime.CampaignTopic(campaignID), realtime.EventProgress, progress); err != nil {
		log.Printf("[Progress] publish progress for campaign %s failed: %v", campaignID, err)
	}
	if campaign.UserID != "" {
		if err := s.Notifier.Publish(realtime.UserTopic(campaign.UserID), realtime.EventProgress, progress); err != nil {
			log.Printf("[Progress] publish progress to user %s failed: %v", campaign.UserID, err)
		}
	}
}

// EmitDispatchEvent publishes the recipient run's latest state.
func (s *ProgressService) EmitDispatchEvent(recipientRunID string) {
	run, err := s.Runs.GetRun(recipientRunID)
	if err != nil || run == nil {
		log.Printf("[Progress] load run %s failed: %v", recipientRunID, err)
		return
	}

	event := model.DispatchEvent{
		RecipientRunID: run.ID,
		CampaignID:     run.CampaignID,
		ContactID:      run.ContactID,
		Status:         run.Status,
		Message:        run.MessageBody,
		Error:          run.ErrorMessage,
		Attempt:        run.AttemptCount,
		Timestamp:      run.UpdatedAt,
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if err := s.Notifier.Publish(realtime.CampaignTopic(run.CampaignID), realtime.EventDispatch, event); err != nil {
		log.Printf("[Progress] publish event for run %s failed: %v", recipientRunID, err)
	}
}

// MaybeCompleteCampaign marks the campaign completed when every recipient
// run is terminal and none failed.
func (s *ProgressService) MaybeCompleteCampaign(campaignID string) {
	counts, err := s.Runs.CountByStatus(campaignID)
	if err != nil {
		log.Printf("[Progress] count runs for campaign %s failed: %v", campaignID, err)
		return
	}

	total := 0
	for _, n := range counts {
		total += n
	}
	done := counts[model.RunSuccess] + counts[model.RunFailed] + counts[model.RunCancelled]

	if total > 0 && done == total && counts[model.RunFailed] == 0 {
		s.setCampaignStatus(campaignID, model.CampaignCompleted)
	}
}

// MaybeFailCampaign marks the campaign failed as soon as any recipient run is
// permanently failed, even with others still in flight.
func (s *ProgressService) MaybeFailCampaign(campaignID string) {
	counts, err := s.Runs.CountByStatus(campaignID)
	if err != nil {
		log.Printf("[Progress] count runs for campaign %s failed: %v", campaignID, err)
		return
	}

	if counts[model.RunFailed] > 0 {
		s.setCampaignStatus(campaignID, model.CampaignFailed)
	}
}

func (s *ProgressService) setCampaignStatus(campaignID string, to model.CampaignStatus) {
	err := s.Campaigns.UpdateStatus(campaignID, to)
	if err == nil {
		log.Printf("[Progress] campaign %s -> %s", campaignID, to)
		return
	}
	// Already terminal or otherwise not eligible: nothing to do.
	if !errors.Is(err, repository.ErrInvalidTransition) {
		log.Printf("[Progress] update campaign %s to %s failed: %v", campaignID, to, err)
	}
}
