package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/samuelwildary2025/disparo/internal/model"
)

// SchedulableStep is a pending, unclaimed step run joined with the scheduling
// attributes the dispatcher needs.
type SchedulableStep struct {
	StepRunID       string
	RecipientRunID  string
	CampaignID      string
	CampaignStepID  string
	StepOrder       int
	DelayMinSeconds int
	DelayMaxSeconds int
	AttemptCount    int
}

// DispatchContext is everything the worker loads to process one job.
type DispatchContext struct {
	StepRun         model.StepRun
	Run             model.RecipientRun
	Contact         model.Contact
	Step            model.CampaignStep
	TemplateContent string
	Campaign        model.Campaign
	Instance        model.Instance
	TotalSteps      int
}

type RunRepositoryInterface interface {
	CreateRuns(campaignID string, contactIDs []string, steps []model.CampaignStep) error
	BackfillStepRuns(campaignID string) error
	ListSchedulable(campaignID string) ([]SchedulableStep, error)
	FindNextStep(recipientRunID string, order int) (*SchedulableStep, error)
	ClaimStep(stepRunID string, at time.Time) (bool, error)
	Reschedule(stepRunID string, at time.Time) error
	SetStepStatus(stepRunID string, status model.RunStatus, payload, errMsg string) error
	SetRunStatus(runID string, status model.RunStatus, message, errMsg string) error
	IncrementAttempt(runID string) error
	GetRun(runID string) (*model.RecipientRun, error)
	ListRuns(campaignID string) ([]model.RecipientRun, error)
	ListLogs(recipientRunID string) ([]model.DispatchLog, error)
	CountByStatus(campaignID string) (map[model.RunStatus]int, error)
	GetStepContext(stepRunID string) (*DispatchContext, error)
	AddLog(runID string, status model.RunStatus, detail string) error
}

type RunRepository struct {
	DB *sql.DB
}

// CreateRuns fans out recipient runs and their step runs atomically:
// contacts x steps, all pending. Nothing in the engine deletes these rows.
func (r *RunRepository) CreateRuns(campaignID string, contactIDs []string, steps []model.CampaignStep) error {
	tx, err := r.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now()
	for _, contactID := range contactIDs {
		runID := uuid.NewString()
		_, err = tx.Exec(`
			INSERT INTO recipient_runs (id, campaign_id, contact_id, status, attempt_count, created_at, updated_at)
			VALUES ($1,$2,$3,$4,0,$5,$5)`,
			runID, campaignID, contactID, model.RunPending, now)
		if err != nil {
			return fmt.Errorf("insert recipient run: %w", err)
		}

		for _, step := range steps {
			_, err = tx.Exec(`
				INSERT INTO step_runs (id, recipient_run_id, campaign_step_id, status, created_at, updated_at)
				VALUES ($1,$2,$3,$4,$5,$5)`,
				uuid.NewString(), runID, step.ID, model.RunPending, now)
			if err != nil {
				return fmt.Errorf("insert step run: %w", err)
			}
		}
	}

	return tx.Commit()
}

// BackfillStepRuns creates any missing step runs for recipient runs of the
// campaign. Idempotent: the (recipient_run_id, campaign_step_id) uniqueness
// constraint absorbs re-runs.
func (r *RunRepository) BackfillStepRuns(campaignID string) error {
	_, err := r.DB.Exec(`
		INSERT INTO step_runs (id, recipient_run_id, campaign_step_id, status, created_at, updated_at)
		SELECT gen_random_uuid(), rr.id, cs.id, 'pending', NOW(), NOW()
		FROM recipient_runs rr
		CROSS JOIN campaign_steps cs
		WHERE rr.campaign_id = $1 AND cs.campaign_id = $1
		ON CONFLICT (recipient_run_id, campaign_step_id) DO NOTHING`,
		campaignID)
	return err
}

// ListSchedulable selects pending, unclaimed step runs of non-terminal
// recipient runs, ordered by step order then creation time. Only a
// recipient's next actionable step qualifies: every earlier-order sibling
// must already be success, so repeated passes over a running campaign never
// pull a later step ahead of an unfinished one.
func (r *RunRepository) ListSchedulable(campaignID string) ([]SchedulableStep, error) {
	rows, err := r.DB.Query(`
		SELECT sr.id, sr.recipient_run_id, rr.campaign_id, sr.campaign_step_id,
			cs.step_order, cs.delay_min_seconds, cs.delay_max_seconds, rr.attempt_count
		FROM step_runs sr
		JOIN recipient_runs rr ON rr.id = sr.recipient_run_id
		JOIN campaign_steps cs ON cs.id = sr.campaign_step_id
		WHERE rr.campaign_id = $1
			AND rr.status IN ('pending', 'processing')
			AND sr.status = 'pending'
			AND sr.scheduled_at IS NULL
			AND NOT EXISTS (
				SELECT 1
				FROM step_runs prev
				JOIN campaign_steps pcs ON pcs.id = prev.campaign_step_id
				WHERE prev.recipient_run_id = sr.recipient_run_id
					AND pcs.step_order < cs.step_order
					AND prev.status <> 'success'
			)
		ORDER BY cs.step_order ASC, sr.created_at ASC`,
		campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	steps := []SchedulableStep{}
	for rows.Next() {
		var s SchedulableStep
		err := rows.Scan(&s.StepRunID, &s.RecipientRunID, &s.CampaignID, &s.CampaignStepID,
			&s.StepOrder, &s.DelayMinSeconds, &s.DelayMaxSeconds, &s.AttemptCount)
		if err != nil {
			return nil, err
		}
		steps = append(steps, s)
	}
	return steps, rows.Err()
}

// FindNextStep returns the recipient's pending, unclaimed step run at the
// given order, or nil when the sequence is exhausted.
func (r *RunRepository) FindNextStep(recipientRunID string, order int) (*SchedulableStep, error) {
	var s SchedulableStep
	err := r.DB.QueryRow(`
		SELECT sr.id, sr.recipient_run_id, rr.campaign_id, sr.campaign_step_id,
			cs.step_order, cs.delay_min_seconds, cs.delay_max_seconds, rr.attempt_count
		FROM step_runs sr
		JOIN recipient_runs rr ON rr.id = sr.recipient_run_id
		JOIN campaign_steps cs ON cs.id = sr.campaign_step_id
		WHERE sr.recipient_run_id = $1
			AND cs.step_order = $2
			AND sr.status = 'pending'
			AND sr.scheduled_at IS NULL
		ORDER BY sr.created_at ASC
		LIMIT 1`,
		recipientRunID, order).
		Scan(&s.StepRunID, &s.RecipientRunID, &s.CampaignID, &s.CampaignStepID,
			&s.StepOrder, &s.DelayMinSeconds, &s.DelayMaxSeconds, &s.AttemptCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ClaimStep stamps scheduled_at if and only if it is still null. The guarded
// UPDATE is the compare-and-set that keeps two concurrent scheduling passes
// from enqueueing the same step run twice.
func (r *RunRepository) ClaimStep(stepRunID string, at time.Time) (bool, error) {
	res, err := r.DB.Exec(`
		UPDATE step_runs SET scheduled_at=$2, updated_at=NOW()
		WHERE id=$1 AND scheduled_at IS NULL`,
		stepRunID, at)
	if err != nil {
		return false, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// Reschedule moves an already-claimed step run's visibility time, used for
// policy holds and retries where the claim must be kept.
func (r *RunRepository) Reschedule(stepRunID string, at time.Time) error {
	_, err := r.DB.Exec(`UPDATE step_runs SET scheduled_at=$2, updated_at=NOW() WHERE id=$1`,
		stepRunID, at)
	return err
}

// SetStepStatus writes a step run transition. Returning a step run to
// pending resets timestamps, payload and error but keeps scheduled_at: a
// retried step stays claimed by its queued retry job, invisible to
// scheduling passes.
func (r *RunRepository) SetStepStatus(stepRunID string, status model.RunStatus, payload, errMsg string) error {
	if !status.Valid() {
		return fmt.Errorf("invalid run status %q", status)
	}

	var err error
	switch status {
	case model.RunPending:
		_, err = r.DB.Exec(`
			UPDATE step_runs
			SET status=$2, sent_at=NULL, completed_at=NULL,
				payload='', error_message='', updated_at=NOW()
			WHERE id=$1`, stepRunID, status)
	case model.RunSuccess:
		_, err = r.DB.Exec(`
			UPDATE step_runs
			SET status=$2, sent_at=NOW(), completed_at=NOW(), payload=$3, error_message='', updated_at=NOW()
			WHERE id=$1`, stepRunID, status, payload)
	case model.RunFailed, model.RunCancelled:
		_, err = r.DB.Exec(`
			UPDATE step_runs
			SET status=$2, completed_at=NOW(), error_message=$3, updated_at=NOW()
			WHERE id=$1`, stepRunID, status, errMsg)
	default:
		_, err = r.DB.Exec(`UPDATE step_runs SET status=$2, updated_at=NOW() WHERE id=$1`,
			stepRunID, status)
	}
	return err
}

// SetRunStatus writes a recipient run transition. success and the terminal
// failure/cancellation stamp completed_at.
func (r *RunRepository) SetRunStatus(runID string, status model.RunStatus, message, errMsg string) error {
	if !status.Valid() {
		return fmt.Errorf("invalid run status %q", status)
	}

	if status.Terminal() {
		_, err := r.DB.Exec(`
			UPDATE recipient_runs
			SET status=$2, message_body=$3, error_message=$4, completed_at=NOW(), updated_at=NOW()
			WHERE id=$1`, runID, status, message, errMsg)
		return err
	}

	_, err := r.DB.Exec(`
		UPDATE recipient_runs
		SET status=$2, message_body=$3, error_message=$4, updated_at=NOW()
		WHERE id=$1`, runID, status, message, errMsg)
	return err
}

func (r *RunRepository) IncrementAttempt(runID string) error {
	_, err := r.DB.Exec(`
		UPDATE recipient_runs
		SET attempt_count = attempt_count + 1, last_attempt_at=NOW(), updated_at=NOW()
		WHERE id=$1`, runID)
	return err
}

func (r *RunRepository) GetRun(runID string) (*model.RecipientRun, error) {
	var run model.RecipientRun
	err := r.DB.QueryRow(`
		SELECT id, campaign_id, contact_id, status, attempt_count, last_attempt_at,
			message_body, error_message, completed_at, created_at, updated_at
		FROM recipient_runs WHERE id=$1`, runID).
		Scan(&run.ID, &run.CampaignID, &run.ContactID, &run.Status, &run.AttemptCount,
			&run.LastAttemptAt, &run.MessageBody, &run.ErrorMessage, &run.CompletedAt,
			&run.CreatedAt, &run.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// ListRuns returns the campaign's recipient runs in creation order, for the
// report view.
func (r *RunRepository) ListRuns(campaignID string) ([]model.RecipientRun, error) {
	rows, err := r.DB.Query(`
		SELECT id, campaign_id, contact_id, status, attempt_count, last_attempt_at,
			message_body, error_message, completed_at, created_at, updated_at
		FROM recipient_runs WHERE campaign_id=$1 ORDER BY created_at ASC`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []model.RecipientRun{}
	for rows.Next() {
		var run model.RecipientRun
		err := rows.Scan(&run.ID, &run.CampaignID, &run.ContactID, &run.Status, &run.AttemptCount,
			&run.LastAttemptAt, &run.MessageBody, &run.ErrorMessage, &run.CompletedAt,
			&run.CreatedAt, &run.UpdatedAt)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// ListLogs returns the dispatch trail of one recipient run, oldest first.
func (r *RunRepository) ListLogs(recipientRunID string) ([]model.DispatchLog, error) {
	rows, err := r.DB.Query(`
		SELECT id, recipient_run_id, status, detail, created_at
		FROM dispatch_logs WHERE recipient_run_id=$1 ORDER BY created_at ASC`, recipientRunID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := []model.DispatchLog{}
	for rows.Next() {
		var l model.DispatchLog
		if err := rows.Scan(&l.ID, &l.RecipientRunID, &l.Status, &l.Detail, &l.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// CountByStatus tallies the campaign's recipient runs per status. Absent
// statuses count zero.
func (r *RunRepository) CountByStatus(campaignID string) (map[model.RunStatus]int, error) {
	rows, err := r.DB.Query(`
		SELECT status, COUNT(*) FROM recipient_runs WHERE campaign_id=$1 GROUP BY status`,
		campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[model.RunStatus]int{
		model.RunPending:    0,
		model.RunProcessing: 0,
		model.RunSuccess:    0,
		model.RunFailed:     0,
		model.RunCancelled:  0,
	}
	for rows.Next() {
		var status model.RunStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

// GetStepContext loads the full dispatch context for one job. A nil result
// means the step run vanished; the worker drops such jobs.
func (r *RunRepository) GetStepContext(stepRunID string) (*DispatchContext, error) {
	var dc DispatchContext

	err := r.DB.QueryRow(`
		SELECT sr.id, sr.recipient_run_id, sr.campaign_step_id, sr.status, sr.scheduled_at,
			sr.sent_at, sr.completed_at, sr.payload, sr.error_message, sr.created_at, sr.updated_at
		FROM step_runs sr WHERE sr.id=$1`, stepRunID).
		Scan(&dc.StepRun.ID, &dc.StepRun.RecipientRunID, &dc.StepRun.CampaignStepID,
			&dc.StepRun.Status, &dc.StepRun.ScheduledAt, &dc.StepRun.SentAt,
			&dc.StepRun.CompletedAt, &dc.StepRun.Payload, &dc.StepRun.ErrorMessage,
			&dc.StepRun.CreatedAt, &dc.StepRun.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	run, err := r.GetRun(dc.StepRun.RecipientRunID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, nil
	}
	dc.Run = *run

	var customFields []byte
	err = r.DB.QueryRow(`
		SELECT id, contact_list_id, name, phone_number, custom_fields, created_at
		FROM contacts WHERE id=$1`, run.ContactID).
		Scan(&dc.Contact.ID, &dc.Contact.ContactListID, &dc.Contact.Name,
			&dc.Contact.PhoneNumber, &customFields, &dc.Contact.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(customFields) > 0 {
		if err := json.Unmarshal(customFields, &dc.Contact.CustomFields); err != nil {
			return nil, fmt.Errorf("decode contact custom fields: %w", err)
		}
	}
	if dc.Contact.CustomFields == nil {
		dc.Contact.CustomFields = map[string]string{}
	}

	err = r.DB.QueryRow(`
		SELECT id, campaign_id, step_order, template_id, delay_min_seconds, delay_max_seconds,
			wait_for_reply_seconds, cancel_if_reply, skip_if_auto_reply, typing_ms_override,
			ai_variation, created_at
		FROM campaign_steps WHERE id=$1`, dc.StepRun.CampaignStepID).
		Scan(&dc.Step.ID, &dc.Step.CampaignID, &dc.Step.Order, &dc.Step.TemplateID,
			&dc.Step.DelayMinSeconds, &dc.Step.DelayMaxSeconds, &dc.Step.WaitForReplySeconds,
			&dc.Step.CancelIfReply, &dc.Step.SkipIfAutoReply, &dc.Step.TypingMsOverride,
			&dc.Step.AIVariation, &dc.Step.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	campaignRepo := &CampaignRepository{DB: r.DB}
	campaign, err := campaignRepo.GetByID(dc.Step.CampaignID)
	if err != nil {
		return nil, err
	}
	dc.Campaign = *campaign
	dc.TotalSteps = len(campaign.Steps)

	template, err := campaignRepo.GetTemplate(dc.Step.TemplateID)
	if err != nil {
		return nil, err
	}
	dc.TemplateContent = template.Content

	instance, err := campaignRepo.GetInstance(campaign.InstanceID)
	if err != nil {
		return nil, err
	}
	dc.Instance = *instance

	return &dc, nil
}

// AddLog appends a dispatch trail row. Log failures are not fatal to
// dispatching and are swallowed by callers.
func (r *RunRepository) AddLog(runID string, status model.RunStatus, detail string) error {
	_, err := r.DB.Exec(`
		INSERT INTO dispatch_logs (id, recipient_run_id, status, detail, created_at)
		VALUES ($1,$2,$3,$4,NOW())`,
		uuid.NewString(), runID, status, detail)
	return err
}

var _ RunRepositoryInterface = (*RunRepository)(nil)
