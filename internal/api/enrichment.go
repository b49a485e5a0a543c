package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sells-group/prospect-cli/internal/model"
	"github.com/sells-group/prospect-cli/internal/queue"
)

type enrichStartRequest struct {
	OnlyWithoutEmail *bool `json:"onlyWithoutEmail"`
	Limit            int   `json:"limit" validate:"omitempty,min=1,max=1000"`
}

type enrichStartResponse struct {
	TaskID string `json:"task_id"`
	Limit  int    `json:"limit"`
}

type enrichOneResponse struct {
	Outcome any    `json:"outcome"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) startEnrichment(w http.ResponseWriter, r *http.Request) {
	if s.Enricher == nil || s.Queue == nil {
		unavailable(w, "enrichment")
		return
	}
	var req enrichStartRequest
	if r.ContentLength != 0 && !s.decode(w, r, &req) {
		return
	}

	payload := queue.EnrichPayload{OnlyMissingEmail: true, Limit: req.Limit}
	if req.OnlyWithoutEmail != nil {
		payload.OnlyMissingEmail = *req.OnlyWithoutEmail
	}
	if payload.Limit == 0 {
		payload.Limit = s.EnrichLimit
	}

	task, err := s.Queue.Enqueue(r.Context(), model.TaskEnrichBatch, payload, queue.EnqueueOptions{MaxAttempts: 1})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, enrichStartResponse{TaskID: task.ID, Limit: payload.Limit})
}

// enrichProspect runs enrichment synchronously. Directory failures are
// reported in the body with 502 since the lead itself was found.
func (s *Server) enrichProspect(w http.ResponseWriter, r *http.Request) {
	if s.Enricher == nil {
		unavailable(w, "enrichment")
		return
	}
	out, err := s.Enricher.EnrichOne(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if out.Err != nil {
		writeJSON(w, http.StatusBadGateway, enrichOneResponse{Outcome: out, Error: out.Err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, enrichOneResponse{Outcome: out})
}

type verifyEmailRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type searchDomainRequest struct {
	Domain string `json:"domain" validate:"required,fqdn"`
	Limit  int    `json:"limit" validate:"omitempty,min=1,max=100"`
}

// connectionResponse reports a capability probe. Failures still answer
// 200 so the settings page can show the error.
type connectionResponse struct {
	Success bool   `json:"success"`
	Detail  any    `json:"detail,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) verifyEmail(w http.ResponseWriter, r *http.Request) {
	if s.Enricher == nil {
		unavailable(w, "enrichment")
		return
	}
	var req verifyEmailRequest
	if !s.decode(w, r, &req) {
		return
	}
	v, err := s.Enricher.VerifyEmail(r.Context(), req.Email)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, errorBody{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) searchDomain(w http.ResponseWriter, r *http.Request) {
	if s.Enricher == nil {
		unavailable(w, "enrichment")
		return
	}
	var req searchDomainRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.Enricher.SearchDomain(r.Context(), req.Domain, req.Limit)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, errorBody{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) enrichmentStatus(w http.ResponseWriter, r *http.Request) {
	if s.Enricher == nil {
		writeJSON(w, http.StatusOK, connectionResponse{Error: "directory not configured"})
		return
	}
	acct, err := s.Enricher.CheckConnection(r.Context())
	if err != nil {
		writeJSON(w, http.StatusOK, connectionResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, connectionResponse{Success: true, Detail: acct})
}
