package models

import (
	"encoding/json"
	"time"
)

// RecipientStatus is the per-recipient send state.
type RecipientStatus string

const (
	RecipientPending RecipientStatus = "pending"
	RecipientSending RecipientStatus = "sending"
	RecipientSent    RecipientStatus = "sent"
	RecipientFailed  RecipientStatus = "failed"
	RecipientSkipped RecipientStatus = "skipped"
)

// Recipient is one destination address plus per-send state within a campaign.
// SendOrder is assigned at creation and defines FIFO processing.
type Recipient struct {
	ID         string          `json:"id"`
	CampaignID string          `json:"campaign_id"`
	Phone      string          `json:"phone"`
	Name       string          `json:"name,omitempty"`
	Attributes string          `json:"attributes,omitempty"` // JSON
	Status     RecipientStatus `json:"status"`
	SendOrder  int             `json:"send_order"`

	ResolvedMessage string `json:"resolved_message,omitempty"`
	Error           string `json:"error,omitempty"`
	RetryCount      int    `json:"retry_count"`

	SentAt      *time.Time `json:"sent_at,omitempty"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	ReadAt      *time.Time `json:"read_at,omitempty"`
	FailedAt    *time.Time `json:"failed_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// IsTerminal reports whether the engine may no longer mutate the recipient.
func (s RecipientStatus) IsTerminal() bool {
	return s == RecipientSent || s == RecipientFailed || s == RecipientSkipped
}

// AttributeMap decodes the recipient's substitution attributes. The display
// name and phone are always available as {name} and {phone}.
func (r *Recipient) AttributeMap() map[string]string {
	attrs := make(map[string]string)
	if r.Attributes != "" {
		// Invalid JSON leaves only the built-in attributes.
		_ = json.Unmarshal([]byte(r.Attributes), &attrs)
	}
	if r.Name != "" {
		attrs["name"] = r.Name
	}
	attrs["phone"] = r.Phone
	return attrs
}

// RecipientFilter for listing recipients within a campaign.
type RecipientFilter struct {
	CampaignID string
	Status     RecipientStatus
	Limit      int
	Offset     int
}

// StatusCounts holds per-status recipient counts for a campaign.
type StatusCounts struct {
	Pending int `json:"pending"`
	Sending int `json:"sending"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}
