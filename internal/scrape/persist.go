package scrape

import (
	"context"
	"errors"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/prospect-cli/internal/extract"
	"github.com/sells-group/prospect-cli/internal/model"
	"github.com/sells-group/prospect-cli/internal/store"
)

// SaveOutcome is what happened to one candidate.
type SaveOutcome int

const (
	// Saved means a new lead was inserted.
	Saved SaveOutcome = iota
	// Duplicate means a lead with the same email already exists.
	Duplicate
)

// SaveLead inserts lead unless another lead already has its email. Leads
// without an email are never duplicates.
func SaveLead(ctx context.Context, st store.Store, lead *model.Lead) (SaveOutcome, error) {
	lead.Email = strings.ToLower(strings.TrimSpace(lead.Email))
	if lead.Email != "" {
		existing, err := st.GetLeadByEmail(ctx, lead.Email)
		if err != nil {
			return Saved, eris.Wrap(err, "scrape: check duplicate")
		}
		if existing != nil {
			return Duplicate, nil
		}
	}
	if lead.Domain == "" {
		lead.Domain = extract.DomainOf("", "", lead.Email)
	}
	if lead.Status == "" {
		lead.Status = model.LeadStatusNew
	}

	if err := st.CreateLead(ctx, lead); err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			return Duplicate, nil
		}
		return Saved, eris.Wrap(err, "scrape: save lead")
	}
	return Saved, nil
}

// LeadFromCandidate maps an extracted candidate to a new lead.
func LeadFromCandidate(c extract.Candidate, source, region, activity string) *model.Lead {
	email := strings.ToLower(strings.TrimSpace(c.Email))
	return &model.Lead{
		CompanyName:  c.CompanyName,
		Domain:       extract.DomainOf(c.Domain, c.Website, email),
		Email:        email,
		Phone:        c.Phone,
		Address:      c.Address,
		City:         c.City,
		Region:       region,
		ActivityType: activity,
		Source:       source,
		Status:       model.LeadStatusNew,
	}
}
