// Package controller exposes the dispatch engine over HTTP.
package controller

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	appErrors "github.com/samuelwildary2025/disparo/internal/errors"
	"github.com/samuelwildary2025/disparo/internal/repository"
	"github.com/samuelwildary2025/disparo/internal/service"
)

type CampaignController struct {
	Service  *service.CampaignService
	Contacts repository.ContactRepositoryInterface
}

// Router mounts every campaign and blacklist route.
func (c *CampaignController) Router() chi.Router {
	r := chi.NewRouter()

	r.Post("/campaigns", c.CreateCampaign)
	r.Get("/campaigns", c.ListCampaigns)
	r.Get("/campaigns/{id}", c.GetCampaign)
	r.Post("/campaigns/{id}/start", c.StartCampaign)
	r.Post("/campaigns/{id}/pause", c.PauseCampaign)
	r.Post("/campaigns/{id}/resume", c.ResumeCampaign)
	r.Get("/campaigns/{id}/progress", c.GetProgress)
	r.Get("/campaigns/{id}/report", c.GetReport)
	r.Post("/campaigns/{id}/personalized-preview", c.PersonalizedPreview)
	r.Get("/runs/{id}/logs", c.GetRunLogs)

	r.Post("/blacklist", c.AddToBlacklist)
	r.Delete("/blacklist", c.RemoveFromBlacklist)
	r.Get("/blacklist", c.ListBlacklist)

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, appErrors.StatusOf(err), map[string]string{"error": err.Error()})
}

func (c *CampaignController) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var in service.CreateCampaignInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}

	campaign, err := c.Service.Create(in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, campaign)
}

func (c *CampaignController) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	status := r.URL.Query().Get("status")

	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}

	campaigns, total, err := c.Service.List((page-1)*pageSize, pageSize, status)
	if err != nil {
		writeError(w, err)
		return
	}

	totalPages := (total + pageSize - 1) / pageSize
	writeJSON(w, http.StatusOK, map[string]any{
		"data": campaigns,
		"pagination": map[string]int{
			"page":        page,
			"page_size":   pageSize,
			"total_count": total,
			"total_pages": totalPages,
		},
	})
}

func (c *CampaignController) GetCampaign(w http.ResponseWriter, r *http.Request) {
	campaign, err := c.Service.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, campaign)
}

func (c *CampaignController) StartCampaign(w http.ResponseWriter, r *http.Request) {
	campaign, err := c.Service.Start(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, campaign)
}

func (c *CampaignController) PauseCampaign(w http.ResponseWriter, r *http.Request) {
	campaign, err := c.Service.Pause(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, campaign)
}

func (c *CampaignController) ResumeCampaign(w http.ResponseWriter, r *http.Request) {
	campaign, err := c.Service.Resume(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, campaign)
}

func (c *CampaignController) GetProgress(w http.ResponseWriter, r *http.Request) {
	progress, err := c.Service.GetProgress(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

func (c *CampaignController) GetReport(w http.ResponseWriter, r *http.Request) {
	report, err := c.Service.Report(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (c *CampaignController) GetRunLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := c.Service.RunLogs(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

func (c *CampaignController) PersonalizedPreview(w http.ResponseWriter, r *http.Request) {
	campaignID := chi.URLParam(r, "id")

	var body struct {
		ContactID        string `json:"contact_id"`
		OverrideTemplate string `json:"override_template"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}

	rendered, err := c.Service.RenderPreview(campaignID, body.ContactID, body.OverrideTemplate)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"rendered_message": rendered,
		"contact_id":       body.ContactID,
	})
}

type blacklistRequest struct {
	UserID      string `json:"user_id"`
	PhoneNumber string `json:"phone_number"`
	Reason      string `json:"reason,omitempty"`
}

func (c *CampaignController) AddToBlacklist(w http.ResponseWriter, r *http.Request) {
	var body blacklistRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	if body.UserID == "" || body.PhoneNumber == "" {
		writeError(w, appErrors.Invalid("user_id and phone_number are required"))
		return
	}

	if err := c.Contacts.AddToBlacklist(body.UserID, body.PhoneNumber, body.Reason); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "blacklisted"})
}

func (c *CampaignController) RemoveFromBlacklist(w http.ResponseWriter, r *http.Request) {
	var body blacklistRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}

	if err := c.Contacts.RemoveFromBlacklist(body.UserID, body.PhoneNumber); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

func (c *CampaignController) ListBlacklist(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, appErrors.Invalid("user_id is required"))
		return
	}

	entries, err := c.Contacts.ListBlacklist(userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
