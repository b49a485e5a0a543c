package api

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sells-group/prospect-cli/internal/mailer"
	"github.com/sells-group/prospect-cli/internal/render"
)

const serviceCheckTimeout = 5 * time.Second

// Service statuses.
const (
	StatusConnected     = "connected"
	StatusNotConfigured = "not_configured"
	StatusError         = "error"
)

// Service describes an external capability for the settings page. Check is
// optional; a configured service without one reports connected.
type Service struct {
	ID         string
	Name       string
	Configured bool
	Note       string
	Check      func(ctx context.Context) (any, error)
}

// ServiceStatus is the reported state of one Service.
type ServiceStatus struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Status     string `json:"status"`
	Configured bool   `json:"configured"`
	Detail     any    `json:"detail,omitempty"`
	Note       string `json:"note,omitempty"`
	Error      string `json:"error,omitempty"`
}

// CheckServices probes every service concurrently.
func CheckServices(ctx context.Context, services []Service) []ServiceStatus {
	out := make([]ServiceStatus, len(services))
	g, gctx := errgroup.WithContext(ctx)
	for i, svc := range services {
		out[i] = ServiceStatus{ID: svc.ID, Name: svc.Name, Configured: svc.Configured, Note: svc.Note}
		if !svc.Configured {
			out[i].Status = StatusNotConfigured
			continue
		}
		if svc.Check == nil {
			out[i].Status = StatusConnected
			continue
		}
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(gctx, serviceCheckTimeout)
			defer cancel()
			detail, err := svc.Check(cctx)
			if err != nil {
				out[i].Status = StatusError
				out[i].Error = err.Error()
				return nil
			}
			out[i].Status = StatusConnected
			out[i].Detail = detail
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (s *Server) services(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"services": CheckServices(r.Context(), s.Services)})
}

type testEmailRequest struct {
	To      string `json:"to" validate:"required,email"`
	Subject string `json:"subject" validate:"required"`
	Body    string `json:"body" validate:"required"`
}

func (s *Server) sendTestEmail(w http.ResponseWriter, r *http.Request) {
	if s.Mailer == nil {
		writeError(w, r, mailer.ErrNotConfigured)
		return
	}
	var req testEmailRequest
	if !s.decode(w, r, &req) {
		return
	}
	id, err := s.Mailer.Send(r.Context(), mailer.Message{
		To:      req.To,
		Subject: req.Subject,
		HTML:    render.TextToHTML(req.Body),
		Text:    req.Body,
	})
	if err != nil {
		writeJSON(w, http.StatusBadGateway, errorBody{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id})
}

func (s *Server) testMailConnection(w http.ResponseWriter, r *http.Request) {
	if s.Mailer == nil {
		writeJSON(w, http.StatusOK, connectionResponse{Error: mailer.ErrNotConfigured.Error()})
		return
	}
	c, ok := s.Mailer.(mailer.Checker)
	if !ok {
		writeJSON(w, http.StatusOK, connectionResponse{Success: true})
		return
	}
	if err := c.CheckConnection(r.Context()); err != nil {
		writeJSON(w, http.StatusOK, connectionResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, connectionResponse{Success: true})
}
