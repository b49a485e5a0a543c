package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-cli/internal/model"
	"github.com/sells-group/prospect-cli/internal/queue"
	"github.com/sells-group/prospect-cli/internal/scrape"
)

const defaultJobListLimit = 50

type jobRequest struct {
	scrape.Request
	Options struct {
		Keywords   string `json:"keywords"`
		City       string `json:"city"`
		MaxResults int    `json:"max_results" validate:"omitempty,min=1,max=100"`
		CustomURL  string `json:"custom_url" validate:"omitempty,url"`
	} `json:"options"`
}

func (req jobRequest) toScrape() scrape.Request {
	out := req.Request
	out.Options = model.JobOptions{
		Keywords:   req.Options.Keywords,
		City:       req.Options.City,
		MaxResults: req.Options.MaxResults,
		CustomURL:  req.Options.CustomURL,
	}
	return out
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.Store.ListJobs(r.Context(), queryInt(r, "limit", defaultJobListLimit))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []model.ScrapingJob{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.Store.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// createJob persists a pending job and hands it to the worker.
func (s *Server) createJob(w http.ResponseWriter, r *http.Request) {
	if s.Jobs == nil || s.Queue == nil {
		unavailable(w, "scrape runner")
		return
	}
	var req jobRequest
	if !s.decode(w, r, &req) {
		return
	}
	sreq := req.toScrape()
	if err := sreq.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	job, err := s.Jobs.Create(r.Context(), sreq)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if _, err := s.Queue.Enqueue(r.Context(), model.TaskScrapeRun,
		queue.ScrapePayload{JobID: job.ID},
		queue.EnqueueOptions{MaxAttempts: 1},
	); err != nil {
		if ferr := s.Store.FailJob(context.WithoutCancel(r.Context()), job.ID, err.Error(), time.Now().UTC()); ferr != nil {
			zap.L().Warn("api: mark job failed", zap.String("job_id", job.ID), zap.Error(ferr))
		}
		writeError(w, r, err)
		return
	}

	zap.L().Info("api: scraping job queued",
		zap.String("job_id", job.ID),
		zap.String("source", job.Source),
		zap.String("region", job.Region),
	)
	writeJSON(w, http.StatusAccepted, job)
}
