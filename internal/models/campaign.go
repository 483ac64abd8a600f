package models

import "time"

// CampaignStatus is the lifecycle state of a campaign.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignScheduled CampaignStatus = "scheduled"
	CampaignRunning   CampaignStatus = "running"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCompleted CampaignStatus = "completed"
	CampaignCancelled CampaignStatus = "cancelled"
	CampaignFailed    CampaignStatus = "failed"
)

// Campaign represents a bulk-send job over an ordered recipient list.
type Campaign struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	Channel         string         `json:"channel"`
	Status          CampaignStatus `json:"status"`
	StatusReason    string         `json:"status_reason,omitempty"`
	MessageTemplate string         `json:"message_template"`
	MediaURL        string         `json:"media_url,omitempty"`
	MediaMime       string         `json:"media_mime,omitempty"`
	CaptionTemplate string         `json:"caption_template,omitempty"`
	AudienceFilter  string         `json:"audience_filter,omitempty"` // JSON

	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	TotalCount     int `json:"total_count"`
	SentCount      int `json:"sent_count"`
	DeliveredCount int `json:"delivered_count"`
	ReadCount      int `json:"read_count"`
	FailedCount    int `json:"failed_count"`

	// Rate-limit overrides; zero means "use global settings".
	MinDelaySeconds int  `json:"min_delay_seconds,omitempty"`
	MaxDelaySeconds int  `json:"max_delay_seconds,omitempty"`
	HourlyCap       int  `json:"hourly_cap,omitempty"`
	DailyCap        int  `json:"daily_cap,omitempty"`
	WarmupEnabled   bool `json:"warmup_enabled"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// campaignTransitions lists the allowed status transitions. The engine only
// ever moves campaigns through scheduled→running, running→paused and
// running→completed; the rest are operator actions.
var campaignTransitions = map[CampaignStatus][]CampaignStatus{
	CampaignDraft:     {CampaignScheduled, CampaignCancelled},
	CampaignScheduled: {CampaignRunning, CampaignCancelled},
	CampaignRunning:   {CampaignPaused, CampaignCompleted, CampaignCancelled, CampaignFailed},
	CampaignPaused:    {CampaignRunning, CampaignCancelled, CampaignFailed},
}

// CanTransition reports whether a campaign may move from its current status
// to the target status. Completed, cancelled and failed are terminal.
func (c *Campaign) CanTransition(to CampaignStatus) bool {
	for _, t := range campaignTransitions[c.Status] {
		if t == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are possible.
func (s CampaignStatus) IsTerminal() bool {
	return s == CampaignCompleted || s == CampaignCancelled || s == CampaignFailed
}

// CampaignFilter for listing campaigns.
type CampaignFilter struct {
	Status CampaignStatus
	Search string
	Limit  int
	Offset int
}
