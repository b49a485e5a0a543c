package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sells-group/prospect-cli/internal/model"
)

type campaignRequest struct {
	Name            string            `json:"name" validate:"required,max=255"`
	TemplateID      string            `json:"template_id" validate:"omitempty,uuid"`
	RecipientFilter *model.LeadFilter `json:"recipient_filter"`
	ScheduledAt     *time.Time        `json:"scheduled_at"`
}

func (s *Server) listCampaigns(w http.ResponseWriter, r *http.Request) {
	cs, err := s.Store.ListCampaigns(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if cs == nil {
		cs = []model.Campaign{}
	}
	writeJSON(w, http.StatusOK, cs)
}

func (s *Server) getCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := s.Store.GetCampaign(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) createCampaign(w http.ResponseWriter, r *http.Request) {
	var req campaignRequest
	if !s.decode(w, r, &req) {
		return
	}

	c := &model.Campaign{Name: strings.TrimSpace(req.Name)}
	if req.TemplateID != "" {
		if _, err := s.Store.GetTemplate(r.Context(), req.TemplateID); err != nil {
			if statusOf(err) == http.StatusNotFound {
				writeJSON(w, http.StatusBadRequest, errorBody{Error: "template " + req.TemplateID + " not found"})
				return
			}
			writeError(w, r, err)
			return
		}
		c.TemplateID = &req.TemplateID
	}
	if req.RecipientFilter != nil {
		raw, err := json.Marshal(req.RecipientFilter.Normalize())
		if err != nil {
			writeError(w, r, err)
			return
		}
		c.RecipientFilter = raw
	}
	if req.ScheduledAt != nil {
		at := req.ScheduledAt.UTC()
		c.ScheduledAt = &at
	}

	if err := s.Store.CreateCampaign(r.Context(), c); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) launchCampaign(w http.ResponseWriter, r *http.Request) {
	if s.Campaigns == nil {
		unavailable(w, "campaign dispatcher")
		return
	}
	res, err := s.Campaigns.Launch(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

func (s *Server) listSends(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.Store.GetCampaign(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	sends, err := s.Store.ListSends(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if sends == nil {
		sends = []model.EmailSend{}
	}
	writeJSON(w, http.StatusOK, sends)
}
