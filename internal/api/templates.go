package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sells-group/prospect-cli/internal/model"
	"github.com/sells-group/prospect-cli/internal/render"
)

type templateRequest struct {
	Name     string `json:"name" validate:"required,max=255"`
	Subject  string `json:"subject" validate:"required,max=998"`
	Body     string `json:"body" validate:"required"`
	Category string `json:"category"`
}

type generateRequest struct {
	render.GenerateRequest
	Save bool `json:"save"`
}

type generateResponse struct {
	Template model.Template `json:"template"`
	Fallback bool           `json:"fallback"`
	Saved    bool           `json:"saved"`
}

func (s *Server) listTemplates(w http.ResponseWriter, r *http.Request) {
	tpls, err := s.Store.ListTemplates(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if tpls == nil {
		tpls = []model.Template{}
	}
	writeJSON(w, http.StatusOK, tpls)
}

func (s *Server) getTemplate(w http.ResponseWriter, r *http.Request) {
	tpl, err := s.Store.GetTemplate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tpl)
}

func (s *Server) createTemplate(w http.ResponseWriter, r *http.Request) {
	var req templateRequest
	if !s.decode(w, r, &req) {
		return
	}
	tpl := &model.Template{Name: req.Name, Subject: req.Subject, Body: req.Body, Category: req.Category}
	if err := s.Store.CreateTemplate(r.Context(), tpl); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tpl)
}

func (s *Server) updateTemplate(w http.ResponseWriter, r *http.Request) {
	var req templateRequest
	if !s.decode(w, r, &req) {
		return
	}
	tpl, err := s.Store.GetTemplate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	tpl.Name, tpl.Subject, tpl.Body, tpl.Category = req.Name, req.Subject, req.Body, req.Category
	if err := s.Store.UpdateTemplate(r.Context(), tpl); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tpl)
}

func (s *Server) deleteTemplate(w http.ResponseWriter, r *http.Request) {
	if err := s.Store.DeleteTemplate(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) generateTemplate(w http.ResponseWriter, r *http.Request) {
	if s.Generator == nil {
		unavailable(w, "template generator")
		return
	}
	var req generateRequest
	if !s.decode(w, r, &req) {
		return
	}

	tpl, fallback, err := s.Generator.Generate(r.Context(), req.GenerateRequest)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := generateResponse{Template: tpl, Fallback: fallback}
	if req.Save {
		if err := s.Store.CreateTemplate(r.Context(), &resp.Template); err != nil {
			writeError(w, r, err)
			return
		}
		resp.Saved = true
	}
	writeJSON(w, http.StatusOK, resp)
}
