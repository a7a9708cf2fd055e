package controller_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samuelwildary2025/disparo/internal/controller"
	appErrors "github.com/samuelwildary2025/disparo/internal/errors"
	"github.com/samuelwildary2025/disparo/internal/model"
	"github.com/samuelwildary2025/disparo/internal/repository"
	"github.com/samuelwildary2025/disparo/internal/service"
)

// Stubs embed the interface so only the methods a route exercises need an
// implementation; anything else panics loudly.

type stubCampaignRepo struct {
	repository.CampaignRepositoryInterface
	campaign  *model.Campaign
	template  *model.MessageTemplate
	campaigns []*model.Campaign
}

func (s *stubCampaignRepo) GetByID(id string) (*model.Campaign, error) {
	if s.campaign == nil || s.campaign.ID != id {
		return nil, appErrors.NotFound("campaign", id)
	}
	return s.campaign, nil
}

func (s *stubCampaignRepo) GetTemplate(id string) (*model.MessageTemplate, error) {
	if s.template == nil || s.template.ID != id {
		return nil, appErrors.NotFound("template", id)
	}
	return s.template, nil
}

func (s *stubCampaignRepo) List(offset, limit int, status string) ([]*model.Campaign, int, error) {
	total := len(s.campaigns)
	if offset >= total {
		return []*model.Campaign{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return s.campaigns[offset:end], total, nil
}

type stubRunRepo struct {
	repository.RunRepositoryInterface
	counts map[model.RunStatus]int
}

func (s *stubRunRepo) CountByStatus(campaignID string) (map[model.RunStatus]int, error) {
	return s.counts, nil
}

type stubContactRepo struct {
	repository.ContactRepositoryInterface
	contact *model.Contact
}

func (s *stubContactRepo) GetByID(id string) (*model.Contact, error) {
	if s.contact == nil || s.contact.ID != id {
		return nil, nil
	}
	return s.contact, nil
}

type noopNotifier struct{}

func (noopNotifier) Publish(topic, event string, payload any) error { return nil }

func newController(campaigns *stubCampaignRepo, runs *stubRunRepo, contacts *stubContactRepo) *controller.CampaignController {
	progress := &service.ProgressService{Campaigns: campaigns, Runs: runs, Notifier: noopNotifier{}}
	svc := service.NewCampaignService(campaigns, runs, contacts, nil, progress)
	return &controller.CampaignController{Service: svc, Contacts: contacts}
}

func TestPersonalizedPreview(t *testing.T) {
	template := &model.MessageTemplate{ID: "t-1", Content: "Olá {name}, oferta em {cidade}"}
	campaign := &model.Campaign{
		ID:    "c-1",
		Steps: []model.CampaignStep{{Order: 1, TemplateID: "t-1"}},
	}
	contact := &model.Contact{
		ID:           "ct-1",
		Name:         "Alice",
		PhoneNumber:  "+5511999990000",
		CustomFields: map[string]string{"cidade": "Recife"},
	}

	ctrl := newController(
		&stubCampaignRepo{campaign: campaign, template: template},
		&stubRunRepo{},
		&stubContactRepo{contact: contact},
	)

	body, _ := json.Marshal(map[string]string{"contact_id": "ct-1"})
	req := httptest.NewRequest(http.MethodPost, "/campaigns/c-1/personalized-preview", bytes.NewReader(body))
	w := httptest.NewRecorder()
	ctrl.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var res map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&res))
	assert.Equal(t, "Olá Alice, oferta em Recife", res["rendered_message"])
}

func TestPersonalizedPreview_UnknownContact(t *testing.T) {
	campaign := &model.Campaign{ID: "c-1", Steps: []model.CampaignStep{{Order: 1, TemplateID: "t-1"}}}
	ctrl := newController(&stubCampaignRepo{campaign: campaign}, &stubRunRepo{}, &stubContactRepo{})

	body, _ := json.Marshal(map[string]string{"contact_id": "nope"})
	req := httptest.NewRequest(http.MethodPost, "/campaigns/c-1/personalized-preview", bytes.NewReader(body))
	w := httptest.NewRecorder()
	ctrl.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetCampaign_NotFoundMapsTo404(t *testing.T) {
	ctrl := newController(&stubCampaignRepo{}, &stubRunRepo{}, &stubContactRepo{})

	req := httptest.NewRequest(http.MethodGet, "/campaigns/missing", nil)
	w := httptest.NewRecorder()
	ctrl.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)

	var res map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&res))
	assert.Contains(t, res["error"], "missing")
}

func TestGetProgress(t *testing.T) {
	campaign := &model.Campaign{ID: "c-1", Status: model.CampaignRunning}
	runs := &stubRunRepo{counts: map[model.RunStatus]int{
		model.RunPending:    2,
		model.RunProcessing: 1,
		model.RunSuccess:    5,
		model.RunFailed:     1,
		model.RunCancelled:  1,
	}}
	ctrl := newController(&stubCampaignRepo{campaign: campaign}, runs, &stubContactRepo{})

	req := httptest.NewRequest(http.MethodGet, "/campaigns/c-1/progress", nil)
	w := httptest.NewRecorder()
	ctrl.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var progress model.CampaignProgress
	require.NoError(t, json.NewDecoder(w.Body).Decode(&progress))
	assert.Equal(t, 10, progress.Total)
	assert.Equal(t, 5, progress.Completed)
	assert.Equal(t, 1, progress.Failed)
	assert.Equal(t, 1, progress.InFlight)
	assert.Equal(t, model.CampaignRunning, progress.Status)
}

func TestCreateCampaign_ValidationMapsTo422(t *testing.T) {
	ctrl := newController(&stubCampaignRepo{}, &stubRunRepo{}, &stubContactRepo{})

	body, _ := json.Marshal(map[string]any{"name": ""})
	req := httptest.NewRequest(http.MethodPost, "/campaigns", bytes.NewReader(body))
	w := httptest.NewRecorder()
	ctrl.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestCreateCampaign_InvalidBody(t *testing.T) {
	ctrl := newController(&stubCampaignRepo{}, &stubRunRepo{}, &stubContactRepo{})

	req := httptest.NewRequest(http.MethodPost, "/campaigns", bytes.NewReader([]byte("{not json")))
	w := httptest.NewRecorder()
	ctrl.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListCampaigns_Pagination(t *testing.T) {
	campaigns := make([]*model.Campaign, 25)
	for i := range campaigns {
		campaigns[i] = &model.Campaign{ID: string(rune('a' + i)), Status: model.CampaignDraft}
	}
	ctrl := newController(&stubCampaignRepo{campaigns: campaigns}, &stubRunRepo{}, &stubContactRepo{})

	req := httptest.NewRequest(http.MethodGet, "/campaigns?page=3&page_size=10", nil)
	w := httptest.NewRecorder()
	ctrl.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var res struct {
		Data       []model.Campaign `json:"data"`
		Pagination struct {
			Page       int `json:"page"`
			PageSize   int `json:"page_size"`
			TotalCount int `json:"total_count"`
			TotalPages int `json:"total_pages"`
		} `json:"pagination"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&res))
	assert.Len(t, res.Data, 5, "last page holds the remainder")
	assert.Equal(t, 3, res.Pagination.Page)
	assert.Equal(t, 25, res.Pagination.TotalCount)
	assert.Equal(t, 3, res.Pagination.TotalPages)
}

func TestBlacklistValidation(t *testing.T) {
	ctrl := newController(&stubCampaignRepo{}, &stubRunRepo{}, &stubContactRepo{})

	body, _ := json.Marshal(map[string]string{"user_id": "u-1"})
	req := httptest.NewRequest(http.MethodPost, "/blacklist", bytes.NewReader(body))
	w := httptest.NewRecorder()
	ctrl.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}
