package model

import (
	"strings"
	"time"
)

// LeadStatus represents where a lead sits in the prospecting funnel.
type LeadStatus string

const (
	LeadStatusNew       LeadStatus = "new"
	LeadStatusContacted LeadStatus = "contacted"
	LeadStatusQualified LeadStatus = "qualified"
)

// Valid reports whether s is a known lead status.
func (s LeadStatus) Valid() bool {
	switch s {
	case LeadStatusNew, LeadStatusContacted, LeadStatusQualified:
		return true
	}
	return false
}

// Lead sources.
const (
	SourcePagesJaunes = "pagesjaunes"
	SourceCCI         = "cci"
	SourceLinkedIn    = "linkedin"
	SourceGoogle      = "google"
	SourceCustom      = "custom"
	SourceManual      = "manual"
	SourceNotion      = "notion"
)

// Lead is a prospective company contact.
type Lead struct {
	ID              string     `json:"id"`
	CompanyName     string     `json:"company_name"`
	Domain          string     `json:"domain,omitempty"`
	Email           string     `json:"email,omitempty"`
	Phone           string     `json:"phone,omitempty"`
	Address         string     `json:"address,omitempty"`
	City            string     `json:"city,omitempty"`
	Region          string     `json:"region,omitempty"`
	ActivityType    string     `json:"activity_type,omitempty"`
	Source          string     `json:"source,omitempty"`
	Status          LeadStatus `json:"status"`
	ScrapedAt       time.Time  `json:"scraped_at"`
	LastContactedAt *time.Time `json:"last_contacted_at,omitempty"`
	Notes           string     `json:"notes,omitempty"`
}

// HasValidEmail reports whether the lead carries a usable address.
// Anything containing "@" counts; deliverability is checked elsewhere.
func (l Lead) HasValidEmail() bool {
	return strings.Contains(l.Email, "@")
}

// LeadFilter selects leads for listing, export and campaign recipients.
// It is persisted verbatim as a campaign's recipient filter.
type LeadFilter struct {
	Search       string     `json:"search,omitempty"`
	Region       string     `json:"region,omitempty"`
	Status       LeadStatus `json:"status,omitempty"`
	ActivityType string     `json:"activity_type,omitempty"`
	Source       string     `json:"source,omitempty"`
	MissingEmail bool       `json:"missing_email,omitempty"`
	HasEmail     bool       `json:"has_email,omitempty"`
	Limit        int        `json:"limit,omitempty"`
	Offset       int        `json:"offset,omitempty"`
}

// Normalize maps the UI's "all" sentinel to an empty filter value.
func (f LeadFilter) Normalize() LeadFilter {
	if f.Region == "all" {
		f.Region = ""
	}
	if f.Status == "all" {
		f.Status = ""
	}
	if f.ActivityType == "all" {
		f.ActivityType = ""
	}
	f.Search = strings.TrimSpace(f.Search)
	return f
}
