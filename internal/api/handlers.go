package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pacerhq/pacer/internal/models"
	"github.com/pacerhq/pacer/internal/repository"
)

// ErrorResponse is the error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
}

// CampaignRequest is the create/update request body for a campaign.
type CampaignRequest struct {
	Name            string `json:"name"`
	Channel         string `json:"channel"`
	MessageTemplate string `json:"message_template"`
	MediaURL        string `json:"media_url,omitempty"`
	MediaMime       string `json:"media_mime,omitempty"`
	CaptionTemplate string `json:"caption_template,omitempty"`
	AudienceFilter  string `json:"audience_filter,omitempty"`
	MinDelaySeconds int    `json:"min_delay_seconds,omitempty"`
	MaxDelaySeconds int    `json:"max_delay_seconds,omitempty"`
	HourlyCap       int    `json:"hourly_cap,omitempty"`
	DailyCap        int    `json:"daily_cap,omitempty"`
	WarmupEnabled   bool   `json:"warmup_enabled"`
}

// CampaignListResponse is the response for GET /campaigns.
type CampaignListResponse struct {
	Campaigns []models.Campaign `json:"campaigns"`
	Total     int               `json:"total"`
}

// CampaignDetailResponse includes live recipient status counts.
type CampaignDetailResponse struct {
	Campaign        *models.Campaign     `json:"campaign"`
	RecipientCounts *models.StatusCounts `json:"recipient_counts"`
}

// ScheduleRequest is the body for POST /campaigns/{id}/schedule.
type ScheduleRequest struct {
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
}

// RecipientInput is one recipient in a bulk-add request.
type RecipientInput struct {
	Phone      string            `json:"phone"`
	Name       string            `json:"name,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// RecipientAddRequest is the body for POST /campaigns/{id}/recipients.
type RecipientAddRequest struct {
	Recipients []RecipientInput `json:"recipients"`
}

// RecipientListResponse is the response for GET /campaigns/{id}/recipients.
type RecipientListResponse struct {
	Recipients []models.Recipient `json:"recipients"`
	Total      int                `json:"total"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Uptime: time.Since(s.startTime).Round(time.Second).String(),
	})
}

func (s *Server) handleCampaignList(w http.ResponseWriter, r *http.Request) {
	filter := models.CampaignFilter{
		Status: models.CampaignStatus(r.URL.Query().Get("status")),
		Search: r.URL.Query().Get("search"),
		Limit:  queryInt(r, "limit", 50),
		Offset: queryInt(r, "offset", 0),
	}

	campaigns, total, err := s.campaigns.List(filter)
	if err != nil {
		s.logger.Error("failed to list campaigns", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to list campaigns")
		return
	}
	s.sendJSON(w, http.StatusOK, CampaignListResponse{Campaigns: campaigns, Total: total})
}

func (s *Server) handleCampaignCreate(w http.ResponseWriter, r *http.Request) {
	var req CampaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Name == "" {
		s.sendError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.Channel == "" {
		s.sendError(w, http.StatusBadRequest, "channel is required")
		return
	}
	if req.MessageTemplate == "" {
		s.sendError(w, http.StatusBadRequest, "message_template is required")
		return
	}

	c := &models.Campaign{
		Name:            req.Name,
		Channel:         req.Channel,
		Status:          models.CampaignDraft,
		MessageTemplate: req.MessageTemplate,
		MediaURL:        req.MediaURL,
		MediaMime:       req.MediaMime,
		CaptionTemplate: req.CaptionTemplate,
		AudienceFilter:  req.AudienceFilter,
		MinDelaySeconds: req.MinDelaySeconds,
		MaxDelaySeconds: req.MaxDelaySeconds,
		HourlyCap:       req.HourlyCap,
		DailyCap:        req.DailyCap,
		WarmupEnabled:   req.WarmupEnabled,
	}
	if err := s.campaigns.Create(c); err != nil {
		s.logger.Error("failed to create campaign", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to create campaign")
		return
	}

	s.logger.Info("campaign created", "campaign_id", c.ID, "name", c.Name)
	s.sendJSON(w, http.StatusCreated, c)
}

func (s *Server) handleCampaignGet(w http.ResponseWriter, r *http.Request) {
	c := s.loadCampaign(w, r)
	if c == nil {
		return
	}

	counts, err := s.recipients.CountByStatus(c.ID)
	if err != nil {
		s.logger.Error("failed to count recipients", "campaign_id", c.ID, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to load campaign")
		return
	}
	s.sendJSON(w, http.StatusOK, CampaignDetailResponse{Campaign: c, RecipientCounts: counts})
}

func (s *Server) handleCampaignUpdate(w http.ResponseWriter, r *http.Request) {
	c := s.loadCampaign(w, r)
	if c == nil {
		return
	}
	if c.Status != models.CampaignDraft && c.Status != models.CampaignScheduled {
		s.sendError(w, http.StatusConflict, "Only draft or scheduled campaigns can be edited")
		return
	}

	var req CampaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Name != "" {
		c.Name = req.Name
	}
	if req.Channel != "" {
		c.Channel = req.Channel
	}
	if req.MessageTemplate != "" {
		c.MessageTemplate = req.MessageTemplate
	}
	c.MediaURL = req.MediaURL
	c.MediaMime = req.MediaMime
	c.CaptionTemplate = req.CaptionTemplate
	c.AudienceFilter = req.AudienceFilter
	c.MinDelaySeconds = req.MinDelaySeconds
	c.MaxDelaySeconds = req.MaxDelaySeconds
	c.HourlyCap = req.HourlyCap
	c.DailyCap = req.DailyCap
	c.WarmupEnabled = req.WarmupEnabled

	if err := s.campaigns.Update(c); err != nil {
		s.logger.Error("failed to update campaign", "campaign_id", c.ID, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to update campaign")
		return
	}
	s.sendJSON(w, http.StatusOK, c)
}

func (s *Server) handleCampaignDelete(w http.ResponseWriter, r *http.Request) {
	c := s.loadCampaign(w, r)
	if c == nil {
		return
	}
	if c.Status == models.CampaignRunning {
		s.sendError(w, http.StatusConflict, "Cannot delete a running campaign; cancel it first")
		return
	}

	if err := s.campaigns.Delete(c.ID); err != nil {
		s.logger.Error("failed to delete campaign", "campaign_id", c.ID, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to delete campaign")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCampaignSchedule(w http.ResponseWriter, r *http.Request) {
	c := s.loadCampaign(w, r)
	if c == nil {
		return
	}
	if !c.CanTransition(models.CampaignScheduled) {
		s.sendError(w, http.StatusConflict,
			fmt.Sprintf("Cannot schedule a %s campaign", c.Status))
		return
	}

	var req ScheduleRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.sendError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}
	at := time.Now()
	if req.ScheduledAt != nil {
		at = *req.ScheduledAt
	}

	c.ScheduledAt = &at
	if err := s.campaigns.Update(c); err != nil {
		s.logger.Error("failed to set schedule", "campaign_id", c.ID, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to schedule campaign")
		return
	}
	if err := s.campaigns.SetStatus(c.ID, models.CampaignScheduled, ""); err != nil {
		s.logger.Error("failed to schedule campaign", "campaign_id", c.ID, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to schedule campaign")
		return
	}

	s.logger.Info("campaign scheduled", "campaign_id", c.ID, "scheduled_at", at)
	c.Status = models.CampaignScheduled
	s.sendJSON(w, http.StatusOK, c)
}

func (s *Server) handleCampaignPause(w http.ResponseWriter, r *http.Request) {
	s.transitionCampaign(w, r, models.CampaignPaused, "paused by operator")
}

func (s *Server) handleCampaignResume(w http.ResponseWriter, r *http.Request) {
	c := s.loadCampaign(w, r)
	if c == nil {
		return
	}
	if c.Status != models.CampaignPaused {
		s.sendError(w, http.StatusConflict,
			fmt.Sprintf("Cannot resume a %s campaign", c.Status))
		return
	}

	// MarkRunning keeps the original started_at so warm-up accounting
	// is unaffected by pauses.
	if err := s.campaigns.MarkRunning(c.ID, time.Now()); err != nil {
		s.logger.Error("failed to resume campaign", "campaign_id", c.ID, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to resume campaign")
		return
	}
	s.logger.Info("campaign resumed", "campaign_id", c.ID)
	c.Status = models.CampaignRunning
	c.StatusReason = ""
	s.sendJSON(w, http.StatusOK, c)
}

func (s *Server) handleCampaignCancel(w http.ResponseWriter, r *http.Request) {
	s.transitionCampaign(w, r, models.CampaignCancelled, "cancelled by operator")
}

// handleCampaignFail marks a campaign failed. The engine never sets this
// status itself; it is an operator verdict after manual inspection.
func (s *Server) handleCampaignFail(w http.ResponseWriter, r *http.Request) {
	s.transitionCampaign(w, r, models.CampaignFailed, "marked failed by operator")
}

func (s *Server) transitionCampaign(w http.ResponseWriter, r *http.Request, to models.CampaignStatus, reason string) {
	c := s.loadCampaign(w, r)
	if c == nil {
		return
	}
	if !c.CanTransition(to) {
		s.sendError(w, http.StatusConflict,
			fmt.Sprintf("Cannot move a %s campaign to %s", c.Status, to))
		return
	}

	if err := s.campaigns.SetStatus(c.ID, to, reason); err != nil {
		s.logger.Error("failed to transition campaign", "campaign_id", c.ID, "to", to, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to update campaign")
		return
	}
	s.logger.Info("campaign transitioned", "campaign_id", c.ID, "to", to)
	c.Status = to
	c.StatusReason = reason
	s.sendJSON(w, http.StatusOK, c)
}

func (s *Server) handleRecipientAdd(w http.ResponseWriter, r *http.Request) {
	c := s.loadCampaign(w, r)
	if c == nil {
		return
	}
	if c.Status.IsTerminal() {
		s.sendError(w, http.StatusConflict, "Campaign is finished")
		return
	}

	var req RecipientAddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(req.Recipients) == 0 {
		s.sendError(w, http.StatusBadRequest, "recipients is required")
		return
	}

	recipients := make([]models.Recipient, 0, len(req.Recipients))
	for _, in := range req.Recipients {
		if in.Phone == "" {
			s.sendError(w, http.StatusBadRequest, "recipient phone is required")
			return
		}
		attrs := ""
		if len(in.Attributes) > 0 {
			data, err := json.Marshal(in.Attributes)
			if err != nil {
				s.sendError(w, http.StatusBadRequest, "invalid attributes")
				return
			}
			attrs = string(data)
		}
		recipients = append(recipients, models.Recipient{
			Phone:      in.Phone,
			Name:       in.Name,
			Attributes: attrs,
		})
	}

	added, err := s.recipients.BulkCreate(c.ID, recipients)
	if err != nil {
		s.logger.Error("failed to add recipients", "campaign_id", c.ID, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to add recipients")
		return
	}

	s.logger.Info("recipients added", "campaign_id", c.ID, "count", added)
	s.sendJSON(w, http.StatusCreated, map[string]int{"added": added})
}

func (s *Server) handleRecipientList(w http.ResponseWriter, r *http.Request) {
	filter := models.RecipientFilter{
		CampaignID: chi.URLParam(r, "id"),
		Status:     models.RecipientStatus(r.URL.Query().Get("status")),
		Limit:      queryInt(r, "limit", 100),
		Offset:     queryInt(r, "offset", 0),
	}

	recipients, total, err := s.recipients.List(filter)
	if err != nil {
		s.logger.Error("failed to list recipients", "campaign_id", filter.CampaignID, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to list recipients")
		return
	}
	s.sendJSON(w, http.StatusOK, RecipientListResponse{Recipients: recipients, Total: total})
}

func (s *Server) handleRecipientSkip(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.recipients.Skip(id); err != nil {
		if errors.Is(err, repository.ErrStatusConflict) {
			s.sendError(w, http.StatusConflict, err.Error())
			return
		}
		s.logger.Error("failed to skip recipient", "recipient_id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to skip recipient")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRecipientRetry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.recipients.Retry(id); err != nil {
		if errors.Is(err, repository.ErrStatusConflict) {
			s.sendError(w, http.StatusConflict, err.Error())
			return
		}
		s.logger.Error("failed to retry recipient", "recipient_id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to retry recipient")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSettingsList(w http.ResponseWriter, r *http.Request) {
	all, err := s.settings.All()
	if err != nil {
		s.logger.Error("failed to list settings", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to list settings")
		return
	}
	s.sendJSON(w, http.StatusOK, all)
}

func (s *Server) handleSettingSet(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	var req struct {
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := s.settings.Set(key, req.Value); err != nil {
		s.logger.Error("failed to set setting", "key", key, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to update setting")
		return
	}
	s.logger.Info("setting updated", "key", key)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSettingDelete(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if err := s.settings.Delete(key); err != nil {
		s.logger.Error("failed to delete setting", "key", key, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to delete setting")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) loadCampaign(w http.ResponseWriter, r *http.Request) *models.Campaign {
	id := chi.URLParam(r, "id")
	c, err := s.campaigns.GetByID(id)
	if err != nil {
		s.logger.Error("failed to get campaign", "campaign_id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to load campaign")
		return nil
	}
	if c == nil {
		s.sendError(w, http.StatusNotFound, "Campaign not found")
		return nil
	}
	return c
}

func (s *Server) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) sendError(w http.ResponseWriter, status int, msg string) {
	s.sendJSON(w, status, ErrorResponse{Error: msg})
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}
