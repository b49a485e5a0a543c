package model

import (
	"encoding/json"
	"time"
)

// CampaignStatus represents the lifecycle state of a campaign.
type CampaignStatus string

const (
	CampaignStatusDraft     CampaignStatus = "draft"
	CampaignStatusActive    CampaignStatus = "active"
	CampaignStatusCompleted CampaignStatus = "completed"
	CampaignStatusFailed    CampaignStatus = "failed"
)

// Terminal reports whether no further transition is possible.
func (s CampaignStatus) Terminal() bool {
	return s == CampaignStatusCompleted || s == CampaignStatusFailed
}

// CanTransition reports whether a campaign may move from one status to another.
// Transitions only go forward: draft -> active -> completed|failed.
func CanTransition(from, to CampaignStatus) bool {
	switch from {
	case CampaignStatusDraft:
		return to == CampaignStatusActive
	case CampaignStatusActive:
		return to == CampaignStatusCompleted || to == CampaignStatusFailed
	}
	return false
}

// Template is a reusable email with {{placeholder}} tokens.
type Template struct {
	ID        string    `json:"id"`
	Name      string    `json:"name" yaml:"name"`
	Subject   string    `json:"subject" yaml:"subject"`
	Body      string    `json:"body" yaml:"body"`
	Category  string    `json:"category,omitempty" yaml:"category"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Campaign is a bulk send of one template to a filtered set of leads.
type Campaign struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	TemplateID      *string         `json:"template_id,omitempty"`
	Status          CampaignStatus  `json:"status"`
	RecipientFilter json.RawMessage `json:"recipient_filter,omitempty"`
	TotalRecipients int             `json:"total_recipients"`
	SentCount       int             `json:"sent_count"`
	FailedCount     int             `json:"failed_count"`
	OpenedCount     int             `json:"opened_count"`
	ClickedCount    int             `json:"clicked_count"`
	ScheduledAt     *time.Time      `json:"scheduled_at,omitempty"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	Error           string          `json:"error,omitempty"`
}

// Filter decodes the recipient filter. An empty filter selects every lead.
func (c Campaign) Filter() (LeadFilter, error) {
	var f LeadFilter
	if len(c.RecipientFilter) == 0 || string(c.RecipientFilter) == "null" {
		return f, nil
	}
	err := json.Unmarshal(c.RecipientFilter, &f)
	return f.Normalize(), err
}

// SendStatus is the delivery outcome of a single email.
type SendStatus string

const (
	SendStatusPending SendStatus = "pending"
	SendStatusSent    SendStatus = "sent"
	SendStatusFailed  SendStatus = "failed"
)

// EmailSend records one delivery attempt to one lead.
type EmailSend struct {
	ID         string     `json:"id"`
	CampaignID string     `json:"campaign_id"`
	LeadID     string     `json:"lead_id"`
	Subject    string     `json:"subject"`
	Body       string     `json:"body"`
	Status     SendStatus `json:"status"`
	ProviderID string     `json:"provider_id,omitempty"`
	SentAt     *time.Time `json:"sent_at,omitempty"`
	OpenedAt   *time.Time `json:"opened_at,omitempty"`
	ClickedAt  *time.Time `json:"clicked_at,omitempty"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Stats are the dashboard headline numbers.
type Stats struct {
	TotalProspects  int `json:"totalProspects"`
	TotalEmailsSent int `json:"totalEmailsSent"`
	OpenRate        int `json:"openRate"`
	ConversionRate  int `json:"conversionRate"`
}

// Rate returns part/total as a rounded integer percentage, 0 when total is 0.
func Rate(part, total int) int {
	if total <= 0 {
		return 0
	}
	return int(float64(part)*100/float64(total) + 0.5)
}
