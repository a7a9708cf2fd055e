package service

import (
	"context"
	"errors"
	"log"
	"time"

	appErrors "github.com/samuelwildary2025/disparo/internal/errors"
	"github.com/samuelwildary2025/disparo/internal/model"
	"github.com/samuelwildary2025/disparo/internal/personalizer"
	"github.com/samuelwildary2025/disparo/internal/repository"
)

// StepInput is one step of a campaign creation request.
type StepInput struct {
	TemplateID          string `json:"template_id"`
	DelayMinSeconds     int    `json:"delay_min_seconds"`
	DelayMaxSeconds     int    `json:"delay_max_seconds"`
	WaitForReplySeconds *int   `json:"wait_for_reply_seconds,omitempty"`
	CancelIfReply       bool   `json:"cancel_if_reply"`
	SkipIfAutoReply     bool   `json:"skip_if_auto_reply"`
	TypingMsOverride    *int   `json:"typing_ms_override,omitempty"`
	AIVariation         *bool  `json:"ai_variation,omitempty"`
}

// CreateCampaignInput is the campaign creation request.
type CreateCampaignInput struct {
	UserID         string              `json:"user_id"`
	Name           string              `json:"name"`
	TemplateID     string              `json:"template_id"`
	ContactListID  string              `json:"contact_list_id"`
	InstanceID     string              `json:"instance_id"`
	Mode           model.CampaignMode  `json:"mode"`
	TestSampleSize *int                `json:"test_sample_size,omitempty"`
	ScheduleAt     *time.Time          `json:"schedule_at,omitempty"`
	AntiBan        model.AntiBanConfig `json:"anti_ban"`
	Steps          []StepInput         `json:"steps"`
}

// CampaignReport is the per-campaign report view: aggregate progress plus
// every recipient run.
type CampaignReport struct {
	Campaign *model.Campaign         `json:"campaign"`
	Progress *model.CampaignProgress `json:"progress"`
	Runs     []model.RecipientRun    `json:"runs"`
}

// InstanceProber checks that a messaging instance can accept sends, used as
// a guard before a campaign starts. A nil prober skips the check.
type InstanceProber func(ctx context.Context, instance model.Instance) error

// CampaignService owns the campaign lifecycle: creation with recipient
// fan-out, start/pause/resume, the scheduled-start tick and reporting.
type CampaignService struct {
	Campaigns repository.CampaignRepositoryInterface
	Runs      repository.RunRepositoryInterface
	Contacts  repository.ContactRepositoryInterface
	Scheduler *DispatchScheduler
	Progress  *ProgressService
	Prober    InstanceProber
}

func NewCampaignService(
	campaigns repository.CampaignRepositoryInterface,
	runs repository.RunRepositoryInterface,
	contacts repository.ContactRepositoryInterface,
	scheduler *DispatchScheduler,
	progress *ProgressService,
) *CampaignService {
	return &CampaignService{
		Campaigns: campaigns,
		Runs:      runs,
		Contacts:  contacts,
		Scheduler: scheduler,
		Progress:  progress,
	}
}

// Create validates the request, persists the campaign with its steps and fans
// out one recipient run per contact, each with a step run per step. Test mode
// limits the fan-out to the sample size.
func (s *CampaignService) Create(in CreateCampaignInput) (*model.Campaign, error) {
	if in.Name == "" {
		return nil, appErrors.Invalid("campaign name is required")
	}
	if in.UserID == "" {
		return nil, appErrors.Invalid("user_id is required")
	}
	if in.ContactListID == "" {
		return nil, appErrors.Invalid("contact_list_id is required")
	}
	if in.InstanceID == "" {
		return nil, appErrors.Invalid("instance_id is required")
	}
	if in.Mode == "" {
		in.Mode = model.ModeLive
	}
	if in.Mode != model.ModeLive && in.Mode != model.ModeTest {
		return nil, appErrors.Invalid("mode must be live or test")
	}

	steps, err := s.normalizeSteps(in)
	if err != nil {
		return nil, err
	}

	for _, step := range steps {
		if _, err := s.Campaigns.GetTemplate(step.TemplateID); err != nil {
			return nil, err
		}
	}
	if _, err := s.Campaigns.GetInstance(in.InstanceID); err != nil {
		return nil, err
	}

	limit := 0
	if in.Mode == model.ModeTest {
		limit = 1
		if in.TestSampleSize != nil && *in.TestSampleSize > 0 {
			limit = *in.TestSampleSize
		}
	}
	contacts, err := s.Contacts.ListByList(in.ContactListID, limit)
	if err != nil {
		return nil, err
	}
	if len(contacts) == 0 {
		return nil, appErrors.Invalid("contact list has no contacts")
	}

	status := model.CampaignDraft
	if in.ScheduleAt != nil {
		status = model.CampaignScheduled
	}

	campaign := &model.Campaign{
		UserID:         in.UserID,
		Name:           in.Name,
		TemplateID:     steps[0].TemplateID,
		ContactListID:  in.ContactListID,
		InstanceID:     in.InstanceID,
		Status:         status,
		Mode:           in.Mode,
		TestSampleSize: in.TestSampleSize,
		ScheduleAt:     in.ScheduleAt,
		AntiBan:        normalizeAntiBan(in.AntiBan),
		AntiBanState:   model.NewAntiBanState(),
		Steps:          steps,
	}

	if err := s.Campaigns.Create(campaign); err != nil {
		return nil, err
	}

	contactIDs := make([]string, len(contacts))
	for i, c := range contacts {
		contactIDs[i] = c.ID
	}
	if err := s.Runs.CreateRuns(campaign.ID, contactIDs, campaign.Steps); err != nil {
		return nil, err
	}

	log.Printf("[Campaign] %s created: %d recipient(s), %d step(s)", campaign.ID, len(contactIDs), len(steps))
	s.Progress.EmitProgress(campaign.ID)
	return campaign, nil
}

// normalizeSteps applies defaults and ordering. A request without explicit
// steps becomes a single-step campaign from the top-level template.
func (s *CampaignService) normalizeSteps(in CreateCampaignInput) ([]model.CampaignStep, error) {
	inputs := in.Steps
	if len(inputs) == 0 {
		if in.TemplateID == "" {
			return nil, appErrors.Invalid("template_id or steps are required")
		}
		inputs = []StepInput{{TemplateID: in.TemplateID}}
	}

	steps := make([]model.CampaignStep, len(inputs))
	for i, input := range inputs {
		if input.TemplateID == "" {
			return nil, appErrors.Invalid("every step needs a template_id")
		}
		if input.DelayMinSeconds < 0 || input.DelayMaxSeconds < 0 {
			return nil, appErrors.Invalid("step delays must not be negative")
		}
		if input.DelayMaxSeconds < input.DelayMinSeconds {
			return nil, appErrors.Invalid("step delay_max_seconds must be >= delay_min_seconds")
		}

		aiVariation := true
		if input.AIVariation != nil {
			aiVariation = *input.AIVariation
		}

		steps[i] = model.CampaignStep{
			Order:               i + 1,
			TemplateID:          input.TemplateID,
			DelayMinSeconds:     input.DelayMinSeconds,
			DelayMaxSeconds:     input.DelayMaxSeconds,
			WaitForReplySeconds: input.WaitForReplySeconds,
			CancelIfReply:       input.CancelIfReply,
			SkipIfAutoReply:     input.SkipIfAutoReply,
			TypingMsOverride:    input.TypingMsOverride,
			AIVariation:         aiVariation,
		}
	}
	return steps, nil
}

func normalizeAntiBan(cfg model.AntiBanConfig) model.AntiBanConfig {
	if cfg.MinIntervalSeconds < 0 {
		cfg.MinIntervalSeconds = 0
	}
	if cfg.MaxIntervalSeconds < cfg.MinIntervalSeconds {
		cfg.MaxIntervalSeconds = cfg.MinIntervalSeconds
	}
	if cfg.LongPauseMinSeconds < 0 {
		cfg.LongPauseMinSeconds = 0
	}
	if cfg.LongPauseMaxSeconds < cfg.LongPauseMinSeconds {
		cfg.LongPauseMaxSeconds = cfg.LongPauseMinSeconds
	}
	// Zero means uncapped, matching the send-time checks.
	if cfg.DailyLimit < 0 {
		cfg.DailyLimit = 0
	}
	return cfg
}

// Start moves the campaign to running and schedules the first wave of jobs.
// Idempotent for an already-running campaign.
func (s *CampaignService) Start(ctx context.Context, campaignID string) (*model.Campaign, error) {
	campaign, err := s.Campaigns.GetByID(campaignID)
	if err != nil {
		return nil, err
	}
	if campaign.Status == model.CampaignRunning {
		return campaign, nil
	}

	if s.Prober != nil {
		instance, err := s.Campaigns.GetInstance(campaign.InstanceID)
		if err != nil {
			return nil, err
		}
		if err := s.Prober(ctx, *instance); err != nil {
			return nil, err
		}
	}

	if err := s.Campaigns.UpdateStatus(campaignID, model.CampaignRunning); err != nil {
		if errors.Is(err, repository.ErrInvalidTransition) {
			return nil, appErrors.Conflict("campaign cannot start from status " + string(campaign.Status))
		}
		return nil, err
	}

	if _, err := s.Scheduler.ScheduleCampaign(ctx, campaignID); err != nil {
		return nil, err
	}

	s.Progress.EmitProgress(campaignID)
	return s.Campaigns.GetByID(campaignID)
}

// Pause stops new sends. In-flight jobs observe the paused status and defer
// themselves; none are lost.
func (s *CampaignService) Pause(campaignID string) (*model.Campaign, error) {
	campaign, err := s.Campaigns.GetByID(campaignID)
	if err != nil {
		return nil, err
	}
	if campaign.Status != model.CampaignRunning {
		return nil, appErrors.Conflict("only a running campaign can be paused")
	}

	if err := s.Campaigns.UpdateStatus(campaignID, model.CampaignPaused); err != nil {
		if errors.Is(err, repository.ErrInvalidTransition) {
			return nil, appErrors.Conflict("only a running campaign can be paused")
		}
		return nil, err
	}

	s.Progress.EmitProgress(campaignID)
	return s.Campaigns.GetByID(campaignID)
}

// Resume returns a paused campaign to running and re-schedules anything that
// lost its queue job while paused.
func (s *CampaignService) Resume(ctx context.Context, campaignID string) (*model.Campaign, error) {
	campaign, err := s.Campaigns.GetByID(campaignID)
	if err != nil {
		return nil, err
	}
	if campaign.Status != model.CampaignPaused {
		return nil, appErrors.Conflict("only a paused campaign can be resumed")
	}

	if err := s.Campaigns.UpdateStatus(campaignID, model.CampaignRunning); err != nil {
		if errors.Is(err, repository.ErrInvalidTransition) {
			return nil, appErrors.Conflict("only a paused campaign can be resumed")
		}
		return nil, err
	}

	if _, err := s.Scheduler.ScheduleCampaign(ctx, campaignID); err != nil {
		return nil, err
	}

	s.Progress.EmitProgress(campaignID)
	return s.Campaigns.GetByID(campaignID)
}

// Get returns one campaign with its steps.
func (s *CampaignService) Get(campaignID string) (*model.Campaign, error) {
	return s.Campaigns.GetByID(campaignID)
}

// List pages through campaigns, optionally filtered by status.
func (s *CampaignService) List(offset, limit int, status string) ([]*model.Campaign, int, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.Campaigns.List(offset, limit, status)
}

// GetProgress returns the campaign's aggregate counters.
func (s *CampaignService) GetProgress(campaignID string) (*model.CampaignProgress, error) {
	return s.Progress.Snapshot(campaignID)
}

// Report returns the campaign, its progress and every recipient run.
func (s *CampaignService) Report(campaignID string) (*CampaignReport, error) {
	campaign, err := s.Campaigns.GetByID(campaignID)
	if err != nil {
		return nil, err
	}
	progress, err := s.Progress.Snapshot(campaignID)
	if err != nil {
		return nil, err
	}
	runs, err := s.Runs.ListRuns(campaignID)
	if err != nil {
		return nil, err
	}
	return &CampaignReport{Campaign: campaign, Progress: progress, Runs: runs}, nil
}

// RunLogs returns the dispatch trail of one recipient run.
func (s *CampaignService) RunLogs(recipientRunID string) ([]model.DispatchLog, error) {
	run, err := s.Runs.GetRun(recipientRunID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, appErrors.NotFound("recipient run", recipientRunID)
	}
	return s.Runs.ListLogs(recipientRunID)
}

// RenderPreview renders the campaign's first-step template (or an override)
// for a single contact without AI variation and without sending anything.
func (s *CampaignService) RenderPreview(campaignID, contactID string, templateOverride string) (string, error) {
	campaign, err := s.Campaigns.GetByID(campaignID)
	if err != nil {
		return "", err
	}

	contact, err := s.Contacts.GetByID(contactID)
	if err != nil {
		return "", err
	}
	if contact == nil {
		return "", appErrors.NotFound("contact", contactID)
	}

	content := templateOverride
	if content == "" {
		if len(campaign.Steps) == 0 {
			return "", appErrors.Invalid("campaign has no steps")
		}
		template, err := s.Campaigns.GetTemplate(campaign.Steps[0].TemplateID)
		if err != nil {
			return "", err
		}
		content = template.Content
	}

	return personalizer.Render(content, *contact, nil), nil
}

// StartDue is the periodic tick: scheduled campaigns whose start time has
// arrived are started, and running campaigns get a scheduling re-sweep so
// step runs that lost their queue job are picked back up.
func (s *CampaignService) StartDue(ctx context.Context, now time.Time) {
	due, err := s.Campaigns.ListDueScheduled(now)
	if err != nil {
		log.Printf("[Campaign] list due campaigns: %v", err)
	} else {
		for _, campaign := range due {
			if _, err := s.Start(ctx, campaign.ID); err != nil {
				log.Printf("[Campaign] auto-start %s: %v", campaign.ID, err)
			} else {
				log.Printf("[Campaign] auto-started %s", campaign.ID)
			}
		}
	}

	running, err := s.Campaigns.ListRunningIDs()
	if err != nil {
		log.Printf("[Campaign] list running campaigns: %v", err)
		return
	}
	for _, id := range running {
		if _, err := s.Scheduler.ScheduleCampaign(ctx, id); err != nil {
			log.Printf("[Campaign] re-sweep %s: %v", id, err)
		}
	}
}
