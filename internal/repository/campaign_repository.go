package repository

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	appErrors "github.com/samuelwildary2025/disparo/internal/errors"
	"github.com/samuelwildary2025/disparo/internal/model"
)

// ErrInvalidTransition is returned when a guarded status update matched no
// row, i.e. the campaign was not in a status that allows the move.
var ErrInvalidTransition = errors.New("invalid campaign status transition")

type CampaignRepositoryInterface interface {
	Create(c *model.Campaign) error
	GetByID(id string) (*model.Campaign, error)
	List(offset, limit int, status string) ([]*model.Campaign, int, error)
	UpdateStatus(id string, to model.CampaignStatus) error
	UpdateAntiBanState(id string, state model.AntiBanState) error
	ListDueScheduled(now time.Time) ([]*model.Campaign, error)
	ListRunningIDs() ([]string, error)
	GetSteps(campaignID string) ([]model.CampaignStep, error)
	GetTemplate(id string) (*model.MessageTemplate, error)
	GetInstance(id string) (*model.Instance, error)
}

type CampaignRepository struct {
	DB *sql.DB
}

const campaignColumns = `id, user_id, name, template_id, contact_list_id, instance_id,
	status, mode, test_sample_size, schedule_at, anti_ban_config, anti_ban_state,
	created_at, updated_at`

// Create inserts the campaign and its steps in one transaction.
func (r *CampaignRepository) Create(c *model.Campaign) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if !c.Status.Valid() {
		return fmt.Errorf("invalid campaign status %q", c.Status)
	}
	c.CreatedAt = time.Now()
	c.UpdatedAt = c.CreatedAt

	configJSON, err := json.Marshal(c.AntiBan)
	if err != nil {
		return fmt.Errorf("marshal anti-ban config: %w", err)
	}
	stateJSON, err := json.Marshal(c.AntiBanState)
	if err != nil {
		return fmt.Errorf("marshal anti-ban state: %w", err)
	}

	tx, err := r.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO campaigns (id, user_id, name, template_id, contact_list_id, instance_id,
			status, mode, test_sample_size, schedule_at, anti_ban_config, anti_ban_state, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		c.ID, c.UserID, c.Name, c.TemplateID, c.ContactListID, c.InstanceID,
		c.Status, c.Mode, c.TestSampleSize, c.ScheduleAt, configJSON, stateJSON, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert campaign: %w", err)
	}

	for i := range c.Steps {
		step := &c.Steps[i]
		if step.ID == "" {
			step.ID = uuid.NewString()
		}
		step.CampaignID = c.ID
		step.CreatedAt = c.CreatedAt

		_, err = tx.Exec(`
			INSERT INTO campaign_steps (id, campaign_id, step_order, template_id,
				delay_min_seconds, delay_max_seconds, wait_for_reply_seconds,
				cancel_if_reply, skip_if_auto_reply, typing_ms_override, ai_variation, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
			step.ID, step.CampaignID, step.Order, step.TemplateID,
			step.DelayMinSeconds, step.DelayMaxSeconds, step.WaitForReplySeconds,
			step.CancelIfReply, step.SkipIfAutoReply, step.TypingMsOverride, step.AIVariation, step.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert campaign step %d: %w", step.Order, err)
		}
	}

	return tx.Commit()
}

func scanCampaign(row interface{ Scan(...any) error }) (*model.Campaign, error) {
	var c model.Campaign
	var configJSON, stateJSON []byte

	err := row.Scan(&c.ID, &c.UserID, &c.Name, &c.TemplateID, &c.ContactListID, &c.InstanceID,
		&c.Status, &c.Mode, &c.TestSampleSize, &c.ScheduleAt, &configJSON, &stateJSON,
		&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(configJSON, &c.AntiBan); err != nil {
		return nil, fmt.Errorf("decode anti-ban config: %w", err)
	}
	if err := json.Unmarshal(stateJSON, &c.AntiBanState); err != nil {
		return nil, fmt.Errorf("decode anti-ban state: %w", err)
	}
	return &c, nil
}

// GetByID fetches one campaign with its ordered steps.
func (r *CampaignRepository) GetByID(id string) (*model.Campaign, error) {
	row := r.DB.QueryRow(`SELECT `+campaignColumns+` FROM campaigns WHERE id=$1`, id)

	c, err := scanCampaign(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.NotFound("campaign", id)
		}
		return nil, err
	}

	steps, err := r.GetSteps(c.ID)
	if err != nil {
		return nil, err
	}
	c.Steps = steps
	return c, nil
}

func (r *CampaignRepository) List(offset, limit int, status string) ([]*model.Campaign, int, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns`
	countQuery := `SELECT COUNT(*) FROM campaigns`
	args := []any{}

	if status != "" {
		query += ` WHERE status=$1`
		countQuery += ` WHERE status=$1`
		args = append(args, status)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)

	rows, err := r.DB.Query(query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	campaigns := []*model.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, err
		}
		campaigns = append(campaigns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	var total int
	if err := r.DB.QueryRow(countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	return campaigns, total, nil
}

// UpdateStatus moves the campaign to a new status, enforcing the transition
// table atomically: the UPDATE is guarded by the set of statuses allowed to
// transition into the target, so a concurrent writer cannot slip an illegal
// move through.
func (r *CampaignRepository) UpdateStatus(id string, to model.CampaignStatus) error {
	if !to.Valid() {
		return fmt.Errorf("invalid campaign status %q", to)
	}

	var sources []string
	for _, status := range []model.CampaignStatus{
		model.CampaignDraft, model.CampaignScheduled, model.CampaignRunning,
		model.CampaignPaused, model.CampaignCompleted, model.CampaignFailed,
	} {
		if status.CanTransition(to) {
			sources = append(sources, string(status))
		}
	}

	res, err := r.DB.Exec(`
		UPDATE campaigns SET status=$2, updated_at=NOW()
		WHERE id=$1 AND status = ANY($3)`,
		id, to, pq.Array(sources))
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// UpdateAntiBanState persists the pacing counters. Only the dispatch worker
// calls this, and only under concurrency 1.
func (r *CampaignRepository) UpdateAntiBanState(id string, state model.AntiBanState) error {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal anti-ban state: %w", err)
	}

	_, err = r.DB.Exec(`UPDATE campaigns SET anti_ban_state=$2, updated_at=NOW() WHERE id=$1`,
		id, stateJSON)
	return err
}

// ListDueScheduled returns scheduled campaigns whose start time has arrived.
func (r *CampaignRepository) ListDueScheduled(now time.Time) ([]*model.Campaign, error) {
	rows, err := r.DB.Query(`SELECT `+campaignColumns+` FROM campaigns
		WHERE status=$1 AND schedule_at IS NOT NULL AND schedule_at <= $2`,
		model.CampaignScheduled, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	campaigns := []*model.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}

// ListRunningIDs returns the ids of running campaigns, for the periodic
// scheduling re-sweep.
func (r *CampaignRepository) ListRunningIDs() ([]string, error) {
	rows, err := r.DB.Query(`SELECT id FROM campaigns WHERE status=$1`, model.CampaignRunning)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetSteps returns the campaign's steps ordered by step_order.
func (r *CampaignRepository) GetSteps(campaignID string) ([]model.CampaignStep, error) {
	rows, err := r.DB.Query(`
		SELECT id, campaign_id, step_order, template_id, delay_min_seconds, delay_max_seconds,
			wait_for_reply_seconds, cancel_if_reply, skip_if_auto_reply, typing_ms_override,
			ai_variation, created_at
		FROM campaign_steps WHERE campaign_id=$1 ORDER BY step_order ASC`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	steps := []model.CampaignStep{}
	for rows.Next() {
		var s model.CampaignStep
		err := rows.Scan(&s.ID, &s.CampaignID, &s.Order, &s.TemplateID,
			&s.DelayMinSeconds, &s.DelayMaxSeconds, &s.WaitForReplySeconds,
			&s.CancelIfReply, &s.SkipIfAutoReply, &s.TypingMsOverride,
			&s.AIVariation, &s.CreatedAt)
		if err != nil {
			return nil, err
		}
		steps = append(steps, s)
	}
	return steps, rows.Err()
}

func (r *CampaignRepository) GetTemplate(id string) (*model.MessageTemplate, error) {
	var t model.MessageTemplate
	err := r.DB.QueryRow(`SELECT id, user_id, name, content FROM message_templates WHERE id=$1`, id).
		Scan(&t.ID, &t.UserID, &t.Name, &t.Content)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.NotFound("template", id)
		}
		return nil, err
	}
	return &t, nil
}

func (r *CampaignRepository) GetInstance(id string) (*model.Instance, error) {
	var inst model.Instance
	err := r.DB.QueryRow(`SELECT id, user_id, name, base_url, api_key FROM instances WHERE id=$1`, id).
		Scan(&inst.ID, &inst.UserID, &inst.Name, &inst.BaseURL, &inst.APIKey)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.NotFound("instance", id)
		}
		return nil, err
	}
	return &inst, nil
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)
