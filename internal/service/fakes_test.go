package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	appErrors "github.com/samuelwildary2025/disparo/internal/errors"
	"github.com/samuelwildary2025/disparo/internal/gateway"
	"github.com/samuelwildary2025/disparo/internal/model"
	"github.com/samuelwildary2025/disparo/internal/repository"
)

// memStore is the shared backing state of the fake repositories, so the
// campaign, run and contact fakes observe each other's writes the way the
// real repositories do through postgres.
type memStore struct {
	mu        sync.Mutex
	campaigns map[string]*model.Campaign
	runs      map[string]*model.RecipientRun
	stepRuns  map[string]*model.StepRun
	contacts  map[string]model.Contact
	templates map[string]model.MessageTemplate
	instances map[string]model.Instance
	blacklist map[string]bool
	logs      []model.DispatchLog
	seq       int
}

func newMemStore() *memStore {
	return &memStore{
		campaigns: map[string]*model.Campaign{},
		runs:      map[string]*model.RecipientRun{},
		stepRuns:  map[string]*model.StepRun{},
		contacts:  map[string]model.Contact{},
		templates: map[string]model.MessageTemplate{},
		instances: map[string]model.Instance{},
		blacklist: map[string]bool{},
	}
}

// tick returns monotonically increasing timestamps so creation-order sorts
// are stable.
func (s *memStore) tick() time.Time {
	s.seq++
	return time.Unix(1700000000, int64(s.seq)*int64(time.Millisecond))
}

func blacklistKey(userID, phone string) string { return userID + "|" + phone }

type fakeCampaignRepo struct{ s *memStore }

func (r *fakeCampaignRepo) Create(c *model.Campaign) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	for i := range c.Steps {
		if c.Steps[i].ID == "" {
			c.Steps[i].ID = uuid.NewString()
		}
		c.Steps[i].CampaignID = c.ID
	}
	stored := *c
	r.s.campaigns[c.ID] = &stored
	return nil
}

func (r *fakeCampaignRepo) GetByID(id string) (*model.Campaign, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.campaigns[id]
	if !ok {
		return nil, appErrors.NotFound("campaign", id)
	}
	copied := *c
	return &copied, nil
}

func (r *fakeCampaignRepo) List(offset, limit int, status string) ([]*model.Campaign, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []*model.Campaign{}
	for _, c := range r.s.campaigns {
		if status != "" && string(c.Status) != status {
			continue
		}
		copied := *c
		out = append(out, &copied)
	}
	return out, len(out), nil
}

func (r *fakeCampaignRepo) UpdateStatus(id string, to model.CampaignStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.campaigns[id]
	if !ok {
		return appErrors.NotFound("campaign", id)
	}
	if !c.Status.CanTransition(to) {
		return repository.ErrInvalidTransition
	}
	c.Status = to
	return nil
}

func (r *fakeCampaignRepo) UpdateAntiBanState(id string, state model.AntiBanState) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.campaigns[id]
	if !ok {
		return appErrors.NotFound("campaign", id)
	}
	c.AntiBanState = state
	return nil
}

func (r *fakeCampaignRepo) ListDueScheduled(now time.Time) ([]*model.Campaign, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []*model.Campaign{}
	for _, c := range r.s.campaigns {
		if c.Status == model.CampaignScheduled && c.ScheduleAt != nil && !c.ScheduleAt.After(now) {
			copied := *c
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *fakeCampaignRepo) ListRunningIDs() ([]string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	ids := []string{}
	for _, c := range r.s.campaigns {
		if c.Status == model.CampaignRunning {
			ids = append(ids, c.ID)
		}
	}
	return ids, nil
}

func (r *fakeCampaignRepo) GetSteps(campaignID string) ([]model.CampaignStep, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.campaigns[campaignID]
	if !ok {
		return nil, appErrors.NotFound("campaign", campaignID)
	}
	steps := make([]model.CampaignStep, len(c.Steps))
	copy(steps, c.Steps)
	sort.Slice(steps, func(i, j int) bool { return steps[i].Order < steps[j].Order })
	return steps, nil
}

func (r *fakeCampaignRepo) GetTemplate(id string) (*model.MessageTemplate, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.templates[id]
	if !ok {
		return nil, appErrors.NotFound("template", id)
	}
	return &t, nil
}

func (r *fakeCampaignRepo) GetInstance(id string) (*model.Instance, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	inst, ok := r.s.instances[id]
	if !ok {
		return nil, appErrors.NotFound("instance", id)
	}
	return &inst, nil
}

var _ repository.CampaignRepositoryInterface = (*fakeCampaignRepo)(nil)

type fakeRunRepo struct{ s *memStore }

func (r *fakeRunRepo) CreateRuns(campaignID string, contactIDs []string, steps []model.CampaignStep) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, contactID := range contactIDs {
		run := &model.RecipientRun{
			ID:         uuid.NewString(),
			CampaignID: campaignID,
			ContactID:  contactID,
			Status:     model.RunPending,
			CreatedAt:  r.s.tick(),
		}
		r.s.runs[run.ID] = run
		for _, step := range steps {
			sr := &model.StepRun{
				ID:             uuid.NewString(),
				RecipientRunID: run.ID,
				CampaignStepID: step.ID,
				Status:         model.RunPending,
				CreatedAt:      r.s.tick(),
			}
			r.s.stepRuns[sr.ID] = sr
		}
	}
	return nil
}

func (r *fakeRunRepo) BackfillStepRuns(campaignID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.campaigns[campaignID]
	if !ok {
		return nil
	}
	for _, run := range r.s.runs {
		if run.CampaignID != campaignID {
			continue
		}
		for _, step := range c.Steps {
			if r.findStepRunLocked(run.ID, step.ID) == nil {
				sr := &model.StepRun{
					ID:             uuid.NewString(),
					RecipientRunID: run.ID,
					CampaignStepID: step.ID,
					Status:         model.RunPending,
					CreatedAt:      r.s.tick(),
				}
				r.s.stepRuns[sr.ID] = sr
			}
		}
	}
	return nil
}

func (r *fakeRunRepo) findStepRunLocked(runID, campaignStepID string) *model.StepRun {
	for _, sr := range r.s.stepRuns {
		if sr.RecipientRunID == runID && sr.CampaignStepID == campaignStepID {
			return sr
		}
	}
	return nil
}

func (r *fakeRunRepo) stepOfLocked(campaignStepID string) (model.CampaignStep, bool) {
	for _, c := range r.s.campaigns {
		for _, step := range c.Steps {
			if step.ID == campaignStepID {
				return step, true
			}
		}
	}
	return model.CampaignStep{}, false
}

func (r *fakeRunRepo) candidateLocked(sr *model.StepRun) (repository.SchedulableStep, bool) {
	run, ok := r.s.runs[sr.RecipientRunID]
	if !ok {
		return repository.SchedulableStep{}, false
	}
	step, ok := r.stepOfLocked(sr.CampaignStepID)
	if !ok {
		return repository.SchedulableStep{}, false
	}
	return repository.SchedulableStep{
		StepRunID:       sr.ID,
		RecipientRunID:  run.ID,
		CampaignID:      run.CampaignID,
		CampaignStepID:  step.ID,
		StepOrder:       step.Order,
		DelayMinSeconds: step.DelayMinSeconds,
		DelayMaxSeconds: step.DelayMaxSeconds,
		AttemptCount:    run.AttemptCount,
	}, true
}

// earlierStepsDoneLocked reports whether every lower-order sibling of the
// step run already succeeded.
func (r *fakeRunRepo) earlierStepsDoneLocked(sr *model.StepRun, order int) bool {
	for _, sib := range r.s.stepRuns {
		if sib.RecipientRunID != sr.RecipientRunID || sib.ID == sr.ID {
			continue
		}
		step, ok := r.stepOfLocked(sib.CampaignStepID)
		if !ok {
			continue
		}
		if step.Order < order && sib.Status != model.RunSuccess {
			return false
		}
	}
	return true
}

func (r *fakeRunRepo) ListSchedulable(campaignID string) ([]repository.SchedulableStep, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	type entry struct {
		cand    repository.SchedulableStep
		created time.Time
	}
	entries := []entry{}
	for _, sr := range r.s.stepRuns {
		if sr.Status != model.RunPending || sr.ScheduledAt != nil {
			continue
		}
		run, ok := r.s.runs[sr.RecipientRunID]
		if !ok || run.CampaignID != campaignID {
			continue
		}
		if run.Status != model.RunPending && run.Status != model.RunProcessing {
			continue
		}
		cand, ok := r.candidateLocked(sr)
		if !ok {
			continue
		}
		if !r.earlierStepsDoneLocked(sr, cand.StepOrder) {
			continue
		}
		entries = append(entries, entry{cand: cand, created: sr.CreatedAt})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].cand.StepOrder != entries[j].cand.StepOrder {
			return entries[i].cand.StepOrder < entries[j].cand.StepOrder
		}
		return entries[i].created.Before(entries[j].created)
	})
	out := make([]repository.SchedulableStep, len(entries))
	for i, e := range entries {
		out[i] = e.cand
	}
	return out, nil
}

func (r *fakeRunRepo) FindNextStep(recipientRunID string, order int) (*repository.SchedulableStep, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, sr := range r.s.stepRuns {
		if sr.RecipientRunID != recipientRunID || sr.Status != model.RunPending || sr.ScheduledAt != nil {
			continue
		}
		step, ok := r.stepOfLocked(sr.CampaignStepID)
		if !ok || step.Order != order {
			continue
		}
		cand, ok := r.candidateLocked(sr)
		if !ok {
			continue
		}
		return &cand, nil
	}
	return nil, nil
}

func (r *fakeRunRepo) ClaimStep(stepRunID string, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sr, ok := r.s.stepRuns[stepRunID]
	if !ok || sr.ScheduledAt != nil {
		return false, nil
	}
	sr.ScheduledAt = &at
	return true, nil
}

func (r *fakeRunRepo) Reschedule(stepRunID string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sr, ok := r.s.stepRuns[stepRunID]
	if !ok {
		return fmt.Errorf("step run %s not found", stepRunID)
	}
	sr.ScheduledAt = &at
	return nil
}

func (r *fakeRunRepo) SetStepStatus(stepRunID string, status model.RunStatus, payload, errMsg string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sr, ok := r.s.stepRuns[stepRunID]
	if !ok {
		return fmt.Errorf("step run %s not found", stepRunID)
	}
	sr.Status = status
	switch status {
	case model.RunPending:
		sr.SentAt = nil
		sr.CompletedAt = nil
		sr.Payload = ""
		sr.ErrorMessage = ""
	case model.RunSuccess:
		now := r.s.tick()
		sr.SentAt = &now
		sr.CompletedAt = &now
		sr.Payload = payload
		sr.ErrorMessage = ""
	case model.RunFailed, model.RunCancelled:
		now := r.s.tick()
		sr.CompletedAt = &now
		sr.ErrorMessage = errMsg
	}
	return nil
}

func (r *fakeRunRepo) SetRunStatus(runID string, status model.RunStatus, message, errMsg string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	run, ok := r.s.runs[runID]
	if !ok {
		return fmt.Errorf("run %s not found", runID)
	}
	run.Status = status
	run.MessageBody = message
	run.ErrorMessage = errMsg
	if status.Terminal() {
		now := r.s.tick()
		run.CompletedAt = &now
	}
	return nil
}

func (r *fakeRunRepo) IncrementAttempt(runID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	run, ok := r.s.runs[runID]
	if !ok {
		return fmt.Errorf("run %s not found", runID)
	}
	run.AttemptCount++
	now := r.s.tick()
	run.LastAttemptAt = &now
	return nil
}

func (r *fakeRunRepo) GetRun(runID string) (*model.RecipientRun, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	run, ok := r.s.runs[runID]
	if !ok {
		return nil, nil
	}
	copied := *run
	return &copied, nil
}

func (r *fakeRunRepo) ListRuns(campaignID string) ([]model.RecipientRun, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []model.RecipientRun{}
	for _, run := range r.s.runs {
		if run.CampaignID == campaignID {
			out = append(out, *run)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *fakeRunRepo) ListLogs(recipientRunID string) ([]model.DispatchLog, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []model.DispatchLog{}
	for _, l := range r.s.logs {
		if l.RecipientRunID == recipientRunID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (r *fakeRunRepo) CountByStatus(campaignID string) (map[model.RunStatus]int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	counts := map[model.RunStatus]int{
		model.RunPending:    0,
		model.RunProcessing: 0,
		model.RunSuccess:    0,
		model.RunFailed:     0,
		model.RunCancelled:  0,
	}
	for _, run := range r.s.runs {
		if run.CampaignID == campaignID {
			counts[run.Status]++
		}
	}
	return counts, nil
}

func (r *fakeRunRepo) GetStepContext(stepRunID string) (*repository.DispatchContext, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sr, ok := r.s.stepRuns[stepRunID]
	if !ok {
		return nil, nil
	}
	run, ok := r.s.runs[sr.RecipientRunID]
	if !ok {
		return nil, nil
	}
	campaign, ok := r.s.campaigns[run.CampaignID]
	if !ok {
		return nil, nil
	}
	step, ok := r.stepOfLocked(sr.CampaignStepID)
	if !ok {
		return nil, nil
	}
	contact, ok := r.s.contacts[run.ContactID]
	if !ok {
		return nil, nil
	}
	template, ok := r.s.templates[step.TemplateID]
	if !ok {
		return nil, nil
	}
	instance := r.s.instances[campaign.InstanceID]
	return &repository.DispatchContext{
		StepRun:         *sr,
		Run:             *run,
		Contact:         contact,
		Step:            step,
		TemplateContent: template.Content,
		Campaign:        *campaign,
		Instance:        instance,
		TotalSteps:      len(campaign.Steps),
	}, nil
}

func (r *fakeRunRepo) AddLog(runID string, status model.RunStatus, detail string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.logs = append(r.s.logs, model.DispatchLog{
		ID:             uuid.NewString(),
		RecipientRunID: runID,
		Status:         status,
		Detail:         detail,
		CreatedAt:      r.s.tick(),
	})
	return nil
}

var _ repository.RunRepositoryInterface = (*fakeRunRepo)(nil)

type fakeContactRepo struct{ s *memStore }

func (r *fakeContactRepo) GetByID(id string) (*model.Contact, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.contacts[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (r *fakeContactRepo) ListByList(contactListID string, limit int) ([]model.Contact, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []model.Contact{}
	for _, c := range r.s.contacts {
		if c.ContactListID == contactListID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeContactRepo) IsBlacklisted(userID, phoneNumber string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.blacklist[blacklistKey(userID, phoneNumber)], nil
}

func (r *fakeContactRepo) AddToBlacklist(userID, phoneNumber, reason string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.blacklist[blacklistKey(userID, phoneNumber)] = true
	return nil
}

func (r *fakeContactRepo) RemoveFromBlacklist(userID, phoneNumber string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.blacklist, blacklistKey(userID, phoneNumber))
	return nil
}

func (r *fakeContactRepo) ListBlacklist(userID string) ([]model.BlacklistEntry, error) {
	return nil, nil
}

var _ repository.ContactRepositoryInterface = (*fakeContactRepo)(nil)

type queuedJob struct {
	Job   model.DispatchJob
	Delay time.Duration
}

type fakeQueue struct {
	mu      sync.Mutex
	entries []queuedJob
}

func (q *fakeQueue) Enqueue(ctx context.Context, job model.DispatchJob, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append(q.entries, queuedJob{Job: job, Delay: delay})
	return nil
}

// drain returns and clears the queued entries.
func (q *fakeQueue) drain() []queuedJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.entries
	q.entries = nil
	return out
}

type published struct {
	Topic   string
	Event   string
	Payload any
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []published
}

func (n *fakeNotifier) Publish(topic, event string, payload any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, published{Topic: topic, Event: event, Payload: payload})
	return nil
}

func (n *fakeNotifier) byEvent(event string) []published {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := []published{}
	for _, e := range n.events {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

type sendCall struct {
	To      string
	Message string
	Typing  time.Duration
}

// fakeSender scripts send outcomes: results are consumed in order, then every
// further send succeeds.
type fakeSender struct {
	mu      sync.Mutex
	results []error
	calls   []sendCall
}

func (s *fakeSender) SendMessage(ctx context.Context, to, message string, typing time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, sendCall{To: to, Message: message, Typing: typing})
	if len(s.results) == 0 {
		return nil
	}
	err := s.results[0]
	s.results = s.results[1:]
	return err
}

func (s *fakeSender) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type renderOnly struct{}

func (renderOnly) Generate(ctx context.Context, template string, contact model.Contact, useAI bool) string {
	return template + " -> " + contact.Name
}

// fixture wires a full service stack over the in-memory store with a
// controllable clock.
type fixture struct {
	store     *memStore
	campaigns *fakeCampaignRepo
	runs      *fakeRunRepo
	contacts  *fakeContactRepo
	queue     *fakeQueue
	notifier  *fakeNotifier
	sender    *fakeSender

	scheduler *DispatchScheduler
	progress  *ProgressService
	worker    *DispatchWorker
	svc       *CampaignService

	now time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := newMemStore()
	f := &fixture{
		store:     store,
		campaigns: &fakeCampaignRepo{s: store},
		runs:      &fakeRunRepo{s: store},
		contacts:  &fakeContactRepo{s: store},
		queue:     &fakeQueue{},
		notifier:  &fakeNotifier{},
		sender:    &fakeSender{},
		now:       time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }

	f.scheduler = NewDispatchScheduler(f.campaigns, f.runs, f.queue)
	f.scheduler.now = clock
	f.progress = &ProgressService{Campaigns: f.campaigns, Runs: f.runs, Notifier: f.notifier}
	f.worker = NewDispatchWorker(f.campaigns, f.runs, f.contacts, f.scheduler, f.progress, renderOnly{},
		func(instance model.Instance) gateway.Sender { return f.sender })
	f.worker.now = clock
	f.svc = NewCampaignService(f.campaigns, f.runs, f.contacts, f.scheduler, f.progress)
	return f
}

// seedCampaign stores a running campaign with its steps, contacts, template
// and instance, and fans out the recipient runs.
func (f *fixture) seedCampaign(t *testing.T, numContacts, numSteps int, cfg model.AntiBanConfig) *model.Campaign {
	t.Helper()

	template := model.MessageTemplate{ID: uuid.NewString(), UserID: "user-1", Name: "t", Content: "Olá {name}"}
	instance := model.Instance{ID: uuid.NewString(), UserID: "user-1", Name: "main", BaseURL: "http://gw", APIKey: "k"}
	listID := uuid.NewString()

	f.store.mu.Lock()
	f.store.templates[template.ID] = template
	f.store.instances[instance.ID] = instance
	contactIDs := make([]string, numContacts)
	for i := 0; i < numContacts; i++ {
		c := model.Contact{
			ID:            uuid.NewString(),
			ContactListID: listID,
			Name:          fmt.Sprintf("Contact %d", i+1),
			PhoneNumber:   fmt.Sprintf("+55119999900%02d", i),
			CustomFields:  map[string]string{},
			CreatedAt:     f.store.tick(),
		}
		f.store.contacts[c.ID] = c
		contactIDs[i] = c.ID
	}
	f.store.mu.Unlock()

	steps := make([]model.CampaignStep, numSteps)
	for i := 0; i < numSteps; i++ {
		steps[i] = model.CampaignStep{
			ID:         uuid.NewString(),
			Order:      i + 1,
			TemplateID: template.ID,
		}
	}

	campaign := &model.Campaign{
		UserID:        "user-1",
		Name:          "test campaign",
		TemplateID:    template.ID,
		ContactListID: listID,
		InstanceID:    instance.ID,
		Status:        model.CampaignRunning,
		Mode:          model.ModeLive,
		AntiBan:       cfg,
		AntiBanState:  model.NewAntiBanState(),
		Steps:         steps,
	}
	if err := f.campaigns.Create(campaign); err != nil {
		t.Fatalf("create campaign: %v", err)
	}
	if err := f.runs.CreateRuns(campaign.ID, contactIDs, campaign.Steps); err != nil {
		t.Fatalf("create runs: %v", err)
	}
	return campaign
}

func (f *fixture) stepRun(t *testing.T, id string) model.StepRun {
	t.Helper()
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	sr, ok := f.store.stepRuns[id]
	if !ok {
		t.Fatalf("step run %s not found", id)
	}
	return *sr
}

func (f *fixture) run(t *testing.T, id string) model.RecipientRun {
	t.Helper()
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	run, ok := f.store.runs[id]
	if !ok {
		t.Fatalf("run %s not found", id)
	}
	return *run
}

func (f *fixture) campaign(t *testing.T, id string) model.Campaign {
	t.Helper()
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	c, ok := f.store.campaigns[id]
	if !ok {
		t.Fatalf("campaign %s not found", id)
	}
	return *c
}

// openConfig allows sends at any time with wide limits so pacing never blocks
// unless a test wants it to.
func openConfig() model.AntiBanConfig {
	return model.AntiBanConfig{
		MinIntervalSeconds: 0,
		MaxIntervalSeconds: 0,
		DailyLimit:         1000,
	}
}
