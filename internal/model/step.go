package model

import "time"

// CampaignStep is one ordered message in a campaign's sequence. Order is
// 1-based and unique within the campaign.
type CampaignStep struct {
	ID                  string    `db:"id" json:"id"`
	CampaignID          string    `db:"campaign_id" json:"campaign_id"`
	Order               int       `db:"step_order" json:"order"`
	TemplateID          string    `db:"template_id" json:"template_id"`
	DelayMinSeconds     int       `db:"delay_min_seconds" json:"delay_min_seconds"`
	DelayMaxSeconds     int       `db:"delay_max_seconds" json:"delay_max_seconds"`
	WaitForReplySeconds *int      `db:"wait_for_reply_seconds" json:"wait_for_reply_seconds,omitempty"`
	CancelIfReply       bool      `db:"cancel_if_reply" json:"cancel_if_reply"`
	SkipIfAutoReply     bool      `db:"skip_if_auto_reply" json:"skip_if_auto_reply"`
	TypingMsOverride    *int      `db:"typing_ms_override" json:"typing_ms_override,omitempty"`
	AIVariation         bool      `db:"ai_variation" json:"ai_variation"`
	CreatedAt           time.Time `db:"created_at" json:"created_at"`
}
