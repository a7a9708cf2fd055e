package model

import "time"

// DispatchJob is the queue-carried unit of work: one attempt at one step of
// one recipient run. The queue itself does not deduplicate; the scheduler and
// worker prevent duplicate in-flight jobs per step run via StepRun.ScheduledAt.
type DispatchJob struct {
	CampaignID     string `json:"campaign_id"`
	RecipientRunID string `json:"recipient_run_id"`
	CampaignStepID string `json:"campaign_step_id"`
	StepRunID      string `json:"step_run_id"`
	StepOrder      int    `json:"step_order"`
	Attempt        int    `json:"attempt"`
}

// DispatchEvent is the per-recipient realtime payload published after every
// state-changing worker step.
type DispatchEvent struct {
	RecipientRunID string    `json:"recipient_run_id"`
	CampaignID     string    `json:"campaign_id"`
	ContactID      string    `json:"contact_id"`
	Status         RunStatus `json:"status"`
	Message        string    `json:"message,omitempty"`
	Error          string    `json:"error,omitempty"`
	Attempt        int       `json:"attempt"`
	Timestamp      time.Time `json:"timestamp"`
}

// CampaignProgress is the aggregate snapshot published to a campaign topic.
type CampaignProgress struct {
	CampaignID string         `json:"campaign_id"`
	Total      int            `json:"total"`
	Completed  int            `json:"completed"`
	Failed     int            `json:"failed"`
	InFlight   int            `json:"in_flight"`
	Status     CampaignStatus `json:"status"`
}
