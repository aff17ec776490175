// Package httpapi is the daemon's HTTP surface (§6): data proxies, pattern
// and suggestion CRUD, analysis triggers, deploy, and synergy reads, built
// on chi the way the teacher's gateway/datastorage test suites show —
// *server.Handler with injected collaborators, chi.URLParam for path
// params, RFC7807 problem+json error bodies. Every handler method is a
// thin adapter: validation and response shaping live here, the actual work
// happens in the packages it wires.
package httpapi

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"

	"github.com/homelab-ai/smarthome-analyzer/internal/metrics"
	"github.com/homelab-ai/smarthome-analyzer/pkg/automationapi"
	"github.com/homelab-ai/smarthome-analyzer/pkg/eventstore"
	"github.com/homelab-ai/smarthome-analyzer/pkg/model"
	"github.com/homelab-ai/smarthome-analyzer/pkg/notify"
	"github.com/homelab-ai/smarthome-analyzer/pkg/orchestrator"
	"github.com/homelab-ai/smarthome-analyzer/pkg/patterns"
	"github.com/homelab-ai/smarthome-analyzer/pkg/registry"
	"github.com/homelab-ai/smarthome-analyzer/pkg/scheduler"
	"github.com/homelab-ai/smarthome-analyzer/pkg/suggest"
)

// Config bundles the handful of env-driven knobs the HTTP layer itself
// needs, distinct from internal/config.Config so this package doesn't
// import the whole daemon configuration surface.
type Config struct {
	AllowSafetyOverride  bool
	ManualTriggerTimeout time.Duration
	EventFetchWindow     time.Duration
	CORSAllowedOrigins   []string
}

// PatternReader is the read/maintenance subset of
// internal/store.PatternRepository the pattern routes need.
type PatternReader interface {
	List(ctx context.Context, limit int) ([]model.Pattern, error)
	Stats(ctx context.Context) (map[string]int, error)
	Cleanup(ctx context.Context, cutoff time.Time) (int64, error)
}

// SuggestionStore is the subset of internal/store.SuggestionRepository the
// suggestion routes need.
type SuggestionStore interface {
	List(ctx context.Context, status model.SuggestionStatus) ([]model.Suggestion, error)
	Get(ctx context.Context, id string) (model.Suggestion, error)
	SetStatus(ctx context.Context, id string, status model.SuggestionStatus) error
	Edit(ctx context.Context, id, title, description string, spec *model.AutomationSpec) error
	Delete(ctx context.Context, id string) error
	BatchSetStatus(ctx context.Context, ids []string, status model.SuggestionStatus) (int64, error)
}

// SynergyReader is the subset of internal/store.SynergyRepository the
// synergy routes need.
type SynergyReader interface {
	List(ctx context.Context) ([]model.SynergyOpportunity, error)
	Get(ctx context.Context, id string) (model.SynergyOpportunity, error)
	Stats(ctx context.Context) (map[string]int, error)
}

// FeedbackWriter is the subset of internal/store.FeedbackRepository the
// suggestion-status routes need.
type FeedbackWriter interface {
	Create(ctx context.Context, feedback model.Feedback) error
}

// CapabilitySizer reports how many device models the capability cache
// currently holds, for the health route's listener stats.
type CapabilitySizer interface {
	Count() int
}

// Handler bundles every collaborator the HTTP surface dispatches to,
// following the rest of this module's convention of depending on narrow
// injected interfaces rather than concrete store types, so every route can
// be exercised against fakes instead of a live database. All fields are
// exported so cmd/smarthome-analyzer can assemble it as a plain struct
// literal.
type Handler struct {
	Patterns    PatternReader
	Suggestions SuggestionStore
	Synergies   SynergyReader
	Feedback    FeedbackWriter
	Persistence orchestrator.PersistenceStore
	CapCache    CapabilitySizer

	Events       *eventstore.Client
	Registry     *registry.Client
	Automation   *automationapi.Client
	Generator    *suggest.Generator
	Orchestrator *orchestrator.Orchestrator
	Scheduler    *scheduler.Scheduler
	Metrics      *metrics.Registry
	Notifier     *notify.Publisher
	TimeOfDay    *patterns.TimeOfDayDetector
	CoOccurrence *patterns.CoOccurrenceDetector

	Config Config
	Log    *logrus.Entry

	override *overrideGate

	scheduleMu   sync.Mutex
	scheduleCron string
}

// New builds a Handler and its deploy-time OPA override gate. initialCron
// seeds the value /api/analysis/schedule reports before any POST updates it
// (the ScheduleCron config value the scheduler was already started with).
func New(h Handler, initialCron string) *Handler {
	h.override = newOverrideGate(h.Log)
	h.scheduleCron = initialCron
	return &h
}

func (h *Handler) currentSchedule() string {
	h.scheduleMu.Lock()
	defer h.scheduleMu.Unlock()
	return h.scheduleCron
}

func (h *Handler) setSchedule(cron string) {
	h.scheduleMu.Lock()
	h.scheduleCron = cron
	h.scheduleMu.Unlock()
}

// Routes assembles the chi router for the full §6 surface.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(h.logRequest)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   h.corsOrigins(),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", h.handleHealth)
	r.Handle("/metrics", h.Metrics.Handler())

	r.Route("/api/data", func(r chi.Router) {
		r.Get("/events", h.handleDataEvents)
		r.Get("/entities", h.handleDataEntities)
		r.Get("/devices", h.handleDataDevices)
	})
	r.Get("/api/registry/devices/{deviceID}", h.handleRegistryDevice)

	r.Route("/api/patterns", func(r chi.Router) {
		r.Post("/detect/time-of-day", h.handleDetectTimeOfDay)
		r.Get("/list", h.handlePatternsList)
		r.Get("/stats", h.handlePatternsStats)
		r.Delete("/cleanup", h.handlePatternsCleanup)
	})

	r.Route("/api/suggestions", func(r chi.Router) {
		r.Post("/generate", h.handleSuggestionsGenerate)
		r.Get("/list", h.handleSuggestionsList)
		r.Patch("/{id}/approve", h.handleSuggestionApprove)
		r.Patch("/{id}/reject", h.handleSuggestionReject)
		r.Patch("/{id}", h.handleSuggestionEdit)
		r.Delete("/{id}", h.handleSuggestionDelete)
		r.Post("/batch/approve", h.handleSuggestionsBatchApprove)
		r.Post("/batch/reject", h.handleSuggestionsBatchReject)
	})

	r.Route("/api/analysis", func(r chi.Router) {
		r.Post("/analyze-and-suggest", h.handleAnalyzeAndSuggest)
		r.Post("/trigger", h.handleAnalysisTrigger)
		r.Get("/schedule", h.handleScheduleGet)
		r.Post("/schedule", h.handleSchedulePost)
		r.Get("/status", h.handleAnalysisStatus)
	})

	r.Post("/api/deploy/{id}", h.handleDeploy)

	r.Route("/api/synergies", func(r chi.Router) {
		r.Get("/", h.handleSynergiesList)
		r.Get("/stats", h.handleSynergiesStats)
		r.Get("/{id}", h.handleSynergyGet)
	})

	return r
}

func (h *Handler) corsOrigins() []string {
	if len(h.Config.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return h.Config.CORSAllowedOrigins
}

// logRequest logs one line per request at info level, the way the teacher's
// gateway middleware tests expect a request-scoped logger to behave,
// rebuilt here on logrus (this module's ambient logger) instead of the
// teacher's go-logr, which isn't part of this module's dependency stack.
func (h *Handler) logRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.Log.WithFields(logrus.Fields{
			"request_id": chimiddleware.GetReqID(r.Context()),
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"duration":   time.Since(start),
		}).Info("http_request")
	})
}
