// Package api exposes the prospecting operations over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-cli/internal/campaign"
	"github.com/sells-group/prospect-cli/internal/enrich"
	"github.com/sells-group/prospect-cli/internal/llm"
	"github.com/sells-group/prospect-cli/internal/mailer"
	"github.com/sells-group/prospect-cli/internal/metrics"
	"github.com/sells-group/prospect-cli/internal/model"
	"github.com/sells-group/prospect-cli/internal/queue"
	"github.com/sells-group/prospect-cli/internal/render"
	"github.com/sells-group/prospect-cli/internal/scrape"
	"github.com/sells-group/prospect-cli/internal/store"
	"github.com/sells-group/prospect-cli/pkg/hunter"
)

// JobCreator persists pending scraping jobs.
type JobCreator interface {
	Create(ctx context.Context, req scrape.Request) (*model.ScrapingJob, error)
}

// Launcher launches campaigns.
type Launcher interface {
	Launch(ctx context.Context, campaignID string) (*campaign.LaunchResult, error)
}

// Enricher enriches a single lead and exposes the directory lookups.
type Enricher interface {
	EnrichOne(ctx context.Context, leadID string) (enrich.Outcome, error)
	VerifyEmail(ctx context.Context, email string) (*hunter.Verification, error)
	SearchDomain(ctx context.Context, domain string, limit int) (*hunter.DomainSearchResult, error)
	CheckConnection(ctx context.Context) (*hunter.Account, error)
}

// TemplateGenerator writes templates with an LLM.
type TemplateGenerator interface {
	Generate(ctx context.Context, req render.GenerateRequest) (model.Template, bool, error)
}

// Deps are the capabilities behind the routes. Nil capabilities answer 503
// on the routes that need them.
type Deps struct {
	Store          store.Store
	Jobs           JobCreator
	Campaigns      Launcher
	Enricher       Enricher
	Generator      TemplateGenerator
	Mailer         mailer.Mailer
	Queue          queue.Enqueuer
	Services       []Service
	AllowedOrigins []string
	EnrichLimit    int
}

// Server holds the handlers.
type Server struct {
	Deps
	validate *validator.Validate
}

// NewRouter builds the chi router with every route mounted.
func NewRouter(d Deps) http.Handler {
	if len(d.AllowedOrigins) == 0 {
		d.AllowedOrigins = []string{"*"}
	}
	if d.EnrichLimit <= 0 {
		d.EnrichLimit = enrich.DefaultLimit
	}
	s := &Server{Deps: d, validate: validator.New()}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: d.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/stats", s.stats)

		r.Route("/prospects", func(r chi.Router) {
			r.Get("/", s.listProspects)
			r.Post("/", s.createProspect)
			r.Get("/export", s.exportProspects)
			r.Get("/{id}", s.getProspect)
			r.Patch("/{id}", s.updateProspect)
			r.Delete("/{id}", s.deleteProspect)
		})

		r.Route("/templates", func(r chi.Router) {
			r.Get("/", s.listTemplates)
			r.Post("/", s.createTemplate)
			r.Post("/generate", s.generateTemplate)
			r.Get("/{id}", s.getTemplate)
			r.Put("/{id}", s.updateTemplate)
			r.Delete("/{id}", s.deleteTemplate)
		})

		r.Route("/campaigns", func(r chi.Router) {
			r.Get("/", s.listCampaigns)
			r.Post("/", s.createCampaign)
			r.Get("/{id}", s.getCampaign)
			r.Post("/{id}/launch", s.launchCampaign)
			r.Get("/{id}/sends", s.listSends)
		})

		r.Route("/scraping-jobs", func(r chi.Router) {
			r.Get("/", s.listJobs)
			r.Post("/", s.createJob)
			r.Get("/{id}", s.getJob)
		})

		r.Route("/enrichment", func(r chi.Router) {
			r.Post("/start", s.startEnrichment)
			r.Post("/prospects/{id}", s.enrichProspect)
			r.Post("/verify-email", s.verifyEmail)
			r.Post("/search-domain", s.searchDomain)
			r.Get("/status", s.enrichmentStatus)
		})

		r.Post("/email/send-test", s.sendTestEmail)
		r.Get("/email/test-connection", s.testMailConnection)
		r.Get("/settings/services", s.services)
	})

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if err := s.Store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	st, err := s.Store.Stats(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// decode reads a JSON body into v and validates it.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: validationMessage(err)})
		return false
	}
	return true
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("api: encode response", zap.Error(err))
	}
}

// statusOf maps domain errors to HTTP statuses.
func statusOf(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, campaign.ErrCampaignNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrDuplicateEmail), errors.Is(err, store.ErrConflict),
		errors.Is(err, campaign.ErrNotDraft):
		return http.StatusConflict
	case errors.Is(err, campaign.ErrNoTemplate), errors.Is(err, campaign.ErrTemplateNotFound),
		errors.Is(err, campaign.ErrNoRecipients):
		return http.StatusBadRequest
	case errors.Is(err, mailer.ErrNotConfigured), errors.Is(err, llm.ErrNotConfigured),
		errors.Is(err, scrape.ErrNotConfigured):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		zap.L().Error("api: request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func unavailable(w http.ResponseWriter, what string) {
	writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: what + " not configured"})
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return "invalid field " + fe.Field() + ": " + fe.Tag()
	}
	return err.Error()
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
