package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pacerhq/pacer/internal/db"
	"github.com/pacerhq/pacer/internal/events"
	"github.com/pacerhq/pacer/internal/metrics"
	"github.com/pacerhq/pacer/internal/models"
	"github.com/pacerhq/pacer/internal/repository"
)

const testAPIKey = "test-key"

func newTestServer(t *testing.T) *Server {
	s, _ := newTestServerDB(t)
	return s
}

func newTestServerDB(t *testing.T) (*Server, *db.DB) {
	t.Helper()
	database, err := db.NewMemory()
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := database.Migrate(); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	return NewServer(Config{
		ListenAddr: ":0",
		APIKey:     testAPIKey,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		Campaigns:  repository.NewCampaignRepository(database.DB),
		Recipients: repository.NewRecipientRepository(database.DB),
		Settings:   repository.NewSettingsRepository(database.DB),
		Bus:        events.NewBus(),
		Metrics:    metrics.New(),
	}), database
}

func doRequest(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("failed to decode response: %v (body: %s)", err, rec.Body.String())
	}
	return v
}

func createTestCampaign(t *testing.T, s *Server) models.Campaign {
	t.Helper()
	rec := doRequest(t, s, http.MethodPost, "/api/v1/campaigns", CampaignRequest{
		Name:            "spring promo",
		Channel:         "ch1",
		MessageTemplate: "[Hi|Hello] {name}",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create campaign: status %d, body %s", rec.Code, rec.Body.String())
	}
	return decodeBody[models.Campaign](t, rec)
}

func TestAuthRequired(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/campaigns", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no key: status %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/campaigns", nil)
	req.Header.Set("X-API-Key", "wrong")
	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad key: status %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/campaigns", nil)
	req.Header.Set("X-API-Key", testAPIKey)
	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("good key: status %d, want 200", rec.Code)
	}

	// Health stays open.
	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("health: status %d, want 200", rec.Code)
	}
}

func TestCampaignCreateValidation(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name string
		req  CampaignRequest
	}{
		{"missing name", CampaignRequest{Channel: "ch1", MessageTemplate: "hi"}},
		{"missing channel", CampaignRequest{Name: "x", MessageTemplate: "hi"}},
		{"missing template", CampaignRequest{Name: "x", Channel: "ch1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, s, http.MethodPost, "/api/v1/campaigns", tt.req)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status %d, want 400", rec.Code)
			}
		})
	}
}

func TestCampaignLifecycle(t *testing.T) {
	s := newTestServer(t)
	c := createTestCampaign(t, s)
	if c.Status != models.CampaignDraft {
		t.Fatalf("new campaign status = %s, want draft", c.Status)
	}

	// Pause is not reachable from draft.
	rec := doRequest(t, s, http.MethodPost, "/api/v1/campaigns/"+c.ID+"/pause", nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("pause draft: status %d, want 409", rec.Code)
	}

	rec = doRequest(t, s, http.MethodPost, "/api/v1/campaigns/"+c.ID+"/schedule", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("schedule: status %d, body %s", rec.Code, rec.Body.String())
	}
	got := decodeBody[models.Campaign](t, rec)
	if got.Status != models.CampaignScheduled || got.ScheduledAt == nil {
		t.Errorf("scheduled campaign = %s/%v", got.Status, got.ScheduledAt)
	}

	// Scheduling twice conflicts.
	rec = doRequest(t, s, http.MethodPost, "/api/v1/campaigns/"+c.ID+"/schedule", nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("double schedule: status %d, want 409", rec.Code)
	}

	rec = doRequest(t, s, http.MethodPost, "/api/v1/campaigns/"+c.ID+"/cancel", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel: status %d", rec.Code)
	}

	// Terminal states accept no further transitions.
	rec = doRequest(t, s, http.MethodPost, "/api/v1/campaigns/"+c.ID+"/schedule", nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("schedule cancelled: status %d, want 409", rec.Code)
	}
}

func TestCampaignResume(t *testing.T) {
	s := newTestServer(t)
	c := createTestCampaign(t, s)

	// Resume applies only to paused campaigns.
	rec := doRequest(t, s, http.MethodPost, "/api/v1/campaigns/"+c.ID+"/resume", nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("resume draft: status %d, want 409", rec.Code)
	}

	if err := s.campaigns.SetStatus(c.ID, models.CampaignPaused, "channel not connected"); err != nil {
		t.Fatal(err)
	}
	rec = doRequest(t, s, http.MethodPost, "/api/v1/campaigns/"+c.ID+"/resume", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("resume: status %d, body %s", rec.Code, rec.Body.String())
	}
	got := decodeBody[models.Campaign](t, rec)
	if got.Status != models.CampaignRunning || got.StatusReason != "" {
		t.Errorf("resumed campaign = %s/%q", got.Status, got.StatusReason)
	}
}

func TestCampaignFail(t *testing.T) {
	s := newTestServer(t)
	c := createTestCampaign(t, s)

	// Failed is not reachable from draft.
	rec := doRequest(t, s, http.MethodPost, "/api/v1/campaigns/"+c.ID+"/fail", nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("fail draft: status %d, want 409", rec.Code)
	}

	if err := s.campaigns.SetStatus(c.ID, models.CampaignRunning, ""); err != nil {
		t.Fatal(err)
	}
	rec = doRequest(t, s, http.MethodPost, "/api/v1/campaigns/"+c.ID+"/fail", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("fail running: status %d, body %s", rec.Code, rec.Body.String())
	}
	got := decodeBody[models.Campaign](t, rec)
	if got.Status != models.CampaignFailed || got.StatusReason == "" {
		t.Errorf("failed campaign = %s/%q", got.Status, got.StatusReason)
	}

	rec = doRequest(t, s, http.MethodPost, "/api/v1/campaigns/"+c.ID+"/resume", nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("resume failed: status %d, want 409", rec.Code)
	}
}

func TestCampaignUpdateGuards(t *testing.T) {
	s := newTestServer(t)
	c := createTestCampaign(t, s)

	rec := doRequest(t, s, http.MethodPut, "/api/v1/campaigns/"+c.ID, CampaignRequest{
		Name: "renamed", HourlyCap: 10,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("update: status %d", rec.Code)
	}
	got := decodeBody[models.Campaign](t, rec)
	if got.Name != "renamed" || got.HourlyCap != 10 {
		t.Errorf("update not applied: %q/%d", got.Name, got.HourlyCap)
	}
	// Unset fields in the request keep their values.
	if got.MessageTemplate != "[Hi|Hello] {name}" {
		t.Errorf("template clobbered: %q", got.MessageTemplate)
	}

	if err := s.campaigns.SetStatus(c.ID, models.CampaignRunning, ""); err != nil {
		t.Fatal(err)
	}
	rec = doRequest(t, s, http.MethodPut, "/api/v1/campaigns/"+c.ID, CampaignRequest{Name: "again"})
	if rec.Code != http.StatusConflict {
		t.Errorf("update running: status %d, want 409", rec.Code)
	}

	rec = doRequest(t, s, http.MethodDelete, "/api/v1/campaigns/"+c.ID, nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("delete running: status %d, want 409", rec.Code)
	}
}

func TestRecipientEndpoints(t *testing.T) {
	s := newTestServer(t)
	c := createTestCampaign(t, s)

	rec := doRequest(t, s, http.MethodPost, "/api/v1/campaigns/"+c.ID+"/recipients", RecipientAddRequest{
		Recipients: []RecipientInput{
			{Phone: "+10001", Name: "Ravi", Attributes: map[string]string{"city": "Pune"}},
			{Phone: "+10002"},
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("add recipients: status %d, body %s", rec.Code, rec.Body.String())
	}
	added := decodeBody[map[string]int](t, rec)
	if added["added"] != 2 {
		t.Errorf("added = %d, want 2", added["added"])
	}

	rec = doRequest(t, s, http.MethodPost, "/api/v1/campaigns/"+c.ID+"/recipients", RecipientAddRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty add: status %d, want 400", rec.Code)
	}
	rec = doRequest(t, s, http.MethodPost, "/api/v1/campaigns/"+c.ID+"/recipients", RecipientAddRequest{
		Recipients: []RecipientInput{{Name: "no phone"}},
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing phone: status %d, want 400", rec.Code)
	}

	rec = doRequest(t, s, http.MethodGet, "/api/v1/campaigns/"+c.ID+"/recipients", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list recipients: status %d", rec.Code)
	}
	list := decodeBody[RecipientListResponse](t, rec)
	if list.Total != 2 || len(list.Recipients) != 2 {
		t.Fatalf("list = %d/%d, want 2/2", list.Total, len(list.Recipients))
	}
	first := list.Recipients[0]

	// Skip a pending recipient, then verify retry rejects it.
	rec = doRequest(t, s, http.MethodPost, "/api/v1/recipients/"+first.ID+"/skip", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("skip: status %d", rec.Code)
	}
	rec = doRequest(t, s, http.MethodPost, "/api/v1/recipients/"+first.ID+"/skip", nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("double skip: status %d, want 409", rec.Code)
	}
	rec = doRequest(t, s, http.MethodPost, "/api/v1/recipients/"+first.ID+"/retry", nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("retry skipped: status %d, want 409", rec.Code)
	}

	// The campaign detail view reflects the counts.
	rec = doRequest(t, s, http.MethodGet, "/api/v1/campaigns/"+c.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get campaign: status %d", rec.Code)
	}
	detail := decodeBody[CampaignDetailResponse](t, rec)
	if detail.RecipientCounts.Pending != 1 || detail.RecipientCounts.Skipped != 1 {
		t.Errorf("counts = %+v", detail.RecipientCounts)
	}
	if detail.Campaign.TotalCount != 2 {
		t.Errorf("total_count = %d, want 2", detail.Campaign.TotalCount)
	}
}

func TestRecipientActionErrorCodes(t *testing.T) {
	s, database := newTestServerDB(t)
	c := createTestCampaign(t, s)

	rec := doRequest(t, s, http.MethodPost, "/api/v1/campaigns/"+c.ID+"/recipients", RecipientAddRequest{
		Recipients: []RecipientInput{{Phone: "+10001"}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("add recipients: status %d", rec.Code)
	}
	list := decodeBody[RecipientListResponse](t,
		doRequest(t, s, http.MethodGet, "/api/v1/campaigns/"+c.ID+"/recipients", nil))
	id := list.Recipients[0].ID

	// A disallowed transition is the caller's conflict.
	rec = doRequest(t, s, http.MethodPost, "/api/v1/recipients/"+id+"/retry", nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("retry pending: status %d, want 409", rec.Code)
	}

	// A storage failure is not; it surfaces as an internal error.
	database.Close()
	rec = doRequest(t, s, http.MethodPost, "/api/v1/recipients/"+id+"/skip", nil)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("skip with closed db: status %d, want 500", rec.Code)
	}
	rec = doRequest(t, s, http.MethodPost, "/api/v1/recipients/"+id+"/retry", nil)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("retry with closed db: status %d, want 500", rec.Code)
	}
}

func TestSettingsEndpoints(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodPut, "/api/v1/settings/hourly_limit",
		map[string]string{"value": "25"})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("set setting: status %d", rec.Code)
	}

	rec = doRequest(t, s, http.MethodGet, "/api/v1/settings", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list settings: status %d", rec.Code)
	}
	all := decodeBody[map[string]string](t, rec)
	if all["hourly_limit"] != "25" {
		t.Errorf("settings = %v", all)
	}

	rec = doRequest(t, s, http.MethodDelete, "/api/v1/settings/hourly_limit", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete setting: status %d", rec.Code)
	}
}

func TestCampaignNotFound(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/api/v1/campaigns/does-not-exist", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status %d, want 404", rec.Code)
	}
}
