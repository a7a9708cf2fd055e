package model

import "time"

// RunStatus is shared by recipient runs and step runs.
type RunStatus string

const (
	RunPending    RunStatus = "pending"
	RunProcessing RunStatus = "processing"
	RunSuccess    RunStatus = "success"
	RunFailed     RunStatus = "failed"
	RunCancelled  RunStatus = "cancelled"
)

// runTransitions encodes the per-run state machine. failed -> pending is the
// retry re-arm edge; success and cancelled are terminal.
var runTransitions = map[RunStatus][]RunStatus{
	RunPending:    {RunProcessing, RunCancelled},
	RunProcessing: {RunPending, RunSuccess, RunFailed, RunCancelled},
	RunFailed:     {RunPending},
}

// Valid reports whether s is a known run status.
func (s RunStatus) Valid() bool {
	switch s {
	case RunPending, RunProcessing, RunSuccess, RunFailed, RunCancelled:
		return true
	}
	return false
}

// CanTransition reports whether the status may move from s to next.
func (s RunStatus) CanTransition(next RunStatus) bool {
	for _, allowed := range runTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether the run can make no further progress. failed is
// terminal for a recipient run once retries are exhausted.
func (s RunStatus) Terminal() bool {
	return s == RunSuccess || s == RunFailed || s == RunCancelled
}

// RecipientRun is the per-contact execution record of a campaign.
type RecipientRun struct {
	ID            string     `db:"id" json:"id"`
	CampaignID    string     `db:"campaign_id" json:"campaign_id"`
	ContactID     string     `db:"contact_id" json:"contact_id"`
	Status        RunStatus  `db:"status" json:"status"`
	AttemptCount  int        `db:"attempt_count" json:"attempt_count"`
	LastAttemptAt *time.Time `db:"last_attempt_at" json:"last_attempt_at,omitempty"`
	MessageBody   string     `db:"message_body" json:"message_body,omitempty"`
	ErrorMessage  string     `db:"error_message" json:"error_message,omitempty"`
	CompletedAt   *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

// StepRun is the per-contact, per-campaign-step execution record.
// ScheduledAt is null until a queue job has been placed for it; that marker
// is the sole guard against duplicate enqueue.
type StepRun struct {
	ID             string     `db:"id" json:"id"`
	RecipientRunID string     `db:"recipient_run_id" json:"recipient_run_id"`
	CampaignStepID string     `db:"campaign_step_id" json:"campaign_step_id"`
	Status         RunStatus  `db:"status" json:"status"`
	ScheduledAt    *time.Time `db:"scheduled_at" json:"scheduled_at,omitempty"`
	SentAt         *time.Time `db:"sent_at" json:"sent_at,omitempty"`
	CompletedAt    *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	Payload        string     `db:"payload" json:"payload,omitempty"`
	ErrorMessage   string     `db:"error_message" json:"error_message,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// DispatchLog is an append-only trail of run transitions, surfaced in the
// campaign report view.
type DispatchLog struct {
	ID             string    `db:"id" json:"id"`
	RecipientRunID string    `db:"recipient_run_id" json:"recipient_run_id"`
	Status         RunStatus `db:"status" json:"status"`
	Detail         string    `db:"detail" json:"detail,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}
