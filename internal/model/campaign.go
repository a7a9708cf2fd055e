package model

import "time"

// CampaignStatus is the lifecycle state of a campaign.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignScheduled CampaignStatus = "scheduled"
	CampaignRunning   CampaignStatus = "running"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCompleted CampaignStatus = "completed"
	CampaignFailed    CampaignStatus = "failed"
)

// campaignTransitions is the allowed transition table. Terminal statuses
// (completed, failed) have no outgoing edges.
var campaignTransitions = map[CampaignStatus][]CampaignStatus{
	CampaignDraft:     {CampaignScheduled, CampaignRunning},
	CampaignScheduled: {CampaignDraft, CampaignRunning},
	CampaignRunning:   {CampaignPaused, CampaignCompleted, CampaignFailed},
	CampaignPaused:    {CampaignRunning},
}

// Valid reports whether s is a known campaign status.
func (s CampaignStatus) Valid() bool {
	switch s {
	case CampaignDraft, CampaignScheduled, CampaignRunning, CampaignPaused, CampaignCompleted, CampaignFailed:
		return true
	}
	return false
}

// CanTransition reports whether the status may move from s to next.
func (s CampaignStatus) CanTransition(next CampaignStatus) bool {
	for _, allowed := range campaignTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether the campaign can make no further progress.
func (s CampaignStatus) Terminal() bool {
	return s == CampaignCompleted || s == CampaignFailed
}

// CampaignMode selects between a limited test run and a full send.
type CampaignMode string

const (
	ModeTest CampaignMode = "test"
	ModeLive CampaignMode = "live"
)

// TimeWindow is a time-of-day interval in which sends are permitted.
// Start and End are "HH:mm"; Start > End means the window wraps midnight.
type TimeWindow struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// AntiBanConfig holds the pacing constraints of one campaign.
type AntiBanConfig struct {
	MinIntervalSeconds  int          `json:"minIntervalSeconds"`
	MaxIntervalSeconds  int          `json:"maxIntervalSeconds"`
	LongPauseEvery      int          `json:"longPauseEvery"`
	LongPauseMinSeconds int          `json:"longPauseMinSeconds"`
	LongPauseMaxSeconds int          `json:"longPauseMaxSeconds"`
	DailyLimit          int          `json:"dailyLimit"`
	AllowedWindows      []TimeWindow `json:"allowedWindows"`
}

// AntiBanStateVersion tags the serialized pacing state so the stored shape
// can evolve without guessing what an old JSONB blob means.
const AntiBanStateVersion = 1

// AntiBanState is the mutable pacing state of one campaign. The dispatch
// worker is its sole mutator after campaign creation.
type AntiBanState struct {
	Version         int        `json:"version"`
	MessagesSent    int        `json:"messagesSent"`
	DailyCount      int        `json:"dailyCount"`
	LastSentAt      *time.Time `json:"lastSentAt,omitempty"`
	LastLongPauseAt *time.Time `json:"lastLongPauseAt,omitempty"`
	NextAvailableAt *time.Time `json:"nextAvailableAt,omitempty"`
}

// NewAntiBanState returns a zeroed pacing state at the current version.
func NewAntiBanState() AntiBanState {
	return AntiBanState{Version: AntiBanStateVersion}
}

type Campaign struct {
	ID             string         `db:"id" json:"id"`
	UserID         string         `db:"user_id" json:"user_id"`
	Name           string         `db:"name" json:"name"`
	TemplateID     string         `db:"template_id" json:"template_id"`
	ContactListID  string         `db:"contact_list_id" json:"contact_list_id"`
	InstanceID     string         `db:"instance_id" json:"instance_id"`
	Status         CampaignStatus `db:"status" json:"status"`
	Mode           CampaignMode   `db:"mode" json:"mode"`
	TestSampleSize *int           `db:"test_sample_size" json:"test_sample_size,omitempty"`
	ScheduleAt     *time.Time     `db:"schedule_at" json:"schedule_at,omitempty"`
	AntiBan        AntiBanConfig  `db:"anti_ban_config" json:"anti_ban"`
	AntiBanState   AntiBanState   `db:"anti_ban_state" json:"anti_ban_state"`
	Steps          []CampaignStep `json:"steps,omitempty"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at" json:"updated_at"`
}
