package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sells-group/prospect-cli/internal/export"
	"github.com/sells-group/prospect-cli/internal/extract"
	"github.com/sells-group/prospect-cli/internal/model"
)

type prospectRequest struct {
	CompanyName  string `json:"company_name" validate:"required,max=255"`
	Domain       string `json:"domain"`
	Email        string `json:"email" validate:"omitempty,email"`
	Phone        string `json:"phone"`
	Address      string `json:"address"`
	City         string `json:"city"`
	Region       string `json:"region"`
	ActivityType string `json:"activity_type"`
	Source       string `json:"source"`
	Notes        string `json:"notes"`
}

type prospectPatch struct {
	CompanyName  *string           `json:"company_name" validate:"omitempty,min=1,max=255"`
	Domain       *string           `json:"domain"`
	Email        *string           `json:"email"`
	Phone        *string           `json:"phone"`
	City         *string           `json:"city"`
	Region       *string           `json:"region"`
	ActivityType *string           `json:"activity_type"`
	Status       *model.LeadStatus `json:"status"`
	Notes        *string           `json:"notes"`
}

func leadFilter(r *http.Request) model.LeadFilter {
	q := r.URL.Query()
	return model.LeadFilter{
		Search:       q.Get("search"),
		Region:       q.Get("region"),
		Status:       model.LeadStatus(q.Get("status")),
		ActivityType: q.Get("activity_type"),
		Source:       q.Get("source"),
		MissingEmail: q.Get("missing_email") == "true",
		HasEmail:     q.Get("has_email") == "true",
		Limit:        queryInt(r, "limit", 0),
		Offset:       queryInt(r, "offset", 0),
	}.Normalize()
}

func (s *Server) listProspects(w http.ResponseWriter, r *http.Request) {
	leads, err := s.Store.ListLeads(r.Context(), leadFilter(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if leads == nil {
		leads = []model.Lead{}
	}
	writeJSON(w, http.StatusOK, leads)
}

func (s *Server) getProspect(w http.ResponseWriter, r *http.Request) {
	lead, err := s.Store.GetLead(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lead)
}

func (s *Server) createProspect(w http.ResponseWriter, r *http.Request) {
	var req prospectRequest
	if !s.decode(w, r, &req) {
		return
	}

	lead := &model.Lead{
		CompanyName:  strings.TrimSpace(req.CompanyName),
		Email:        strings.ToLower(strings.TrimSpace(req.Email)),
		Phone:        req.Phone,
		Address:      req.Address,
		City:         req.City,
		Region:       req.Region,
		ActivityType: req.ActivityType,
		Source:       req.Source,
		Notes:        req.Notes,
	}
	if lead.Source == "" {
		lead.Source = model.SourceManual
	}
	lead.Domain = extract.DomainOf(req.Domain, "", lead.Email)

	if err := s.Store.CreateLead(r.Context(), lead); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, lead)
}

func (s *Server) updateProspect(w http.ResponseWriter, r *http.Request) {
	var patch prospectPatch
	if !s.decode(w, r, &patch) {
		return
	}
	if patch.Status != nil && !patch.Status.Valid() {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid field Status: oneof"})
		return
	}
	if patch.Email != nil && *patch.Email != "" && !strings.Contains(*patch.Email, "@") {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid field Email: email"})
		return
	}

	lead, err := s.Store.GetLead(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	applyPatch(lead, patch)

	if err := s.Store.UpdateLead(r.Context(), lead); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lead)
}

func applyPatch(lead *model.Lead, p prospectPatch) {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = strings.TrimSpace(*src)
		}
	}
	set(&lead.CompanyName, p.CompanyName)
	set(&lead.Phone, p.Phone)
	set(&lead.City, p.City)
	set(&lead.Region, p.Region)
	set(&lead.ActivityType, p.ActivityType)
	set(&lead.Notes, p.Notes)
	if p.Domain != nil {
		lead.Domain = extract.DomainOf(*p.Domain, "", "")
	}
	if p.Email != nil {
		lead.Email = strings.ToLower(strings.TrimSpace(*p.Email))
	}
	if p.Status != nil {
		lead.Status = *p.Status
	}
}

func (s *Server) deleteProspect(w http.ResponseWriter, r *http.Request) {
	if err := s.Store.DeleteLead(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) exportProspects(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	contentType, ext, err := export.ContentType(format)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	leads, err := s.Store.ListLeads(r.Context(), leadFilter(r))
	if err != nil {
		writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", "attachment; filename=prospects."+ext)
	if err := export.Write(w, format, leads); err != nil {
		writeError(w, r, err)
	}
}
