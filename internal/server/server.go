package server

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"log"
	"net/http"
	"time"

	"github.com/TobiSchelling/annotrack/internal/aggregate"
	"github.com/TobiSchelling/annotrack/internal/config"
	"github.com/TobiSchelling/annotrack/internal/database"
	"github.com/TobiSchelling/annotrack/internal/metrics"
	"github.com/TobiSchelling/annotrack/internal/sheets"
	"github.com/TobiSchelling/annotrack/internal/source"
	"github.com/TobiSchelling/annotrack/internal/webhook"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

// Deps are the collaborators the server routes to. Remote, Publisher, Feed
// and Gate may be nil; their routes then answer 503.
type Deps struct {
	DB        *database.DB
	Gate      *webhook.Gate
	Remote    *aggregate.Remote
	Publisher *sheets.Publisher
	Feed      *source.Feed
	Metrics   *metrics.Metrics
	Config    *config.Config
	// Client posts the self-triggered webhook. Defaults to a 5 minute timeout.
	Client *http.Client
}

// Server is the HTTP server for the dashboard, the webhook and the data API.
type Server struct {
	Deps
	pages map[string]*template.Template
	mux   *http.ServeMux
	now   func() time.Time
}

// New creates a new Server.
func New(d Deps) (*Server, error) {
	if d.DB == nil || d.Config == nil {
		return nil, errors.New("server needs a database and a config")
	}
	if d.Client == nil {
		d.Client = &http.Client{Timeout: 5 * time.Minute}
	}

	funcMap := template.FuncMap{
		"formatDate": database.FormatDateDisplay,
		"deref": func(s *string) string {
			if s == nil {
				return ""
			}
			return *s
		},
	}

	base, err := template.New("base.html").Funcs(funcMap).ParseFS(templateFS, "templates/base.html")
	if err != nil {
		return nil, fmt.Errorf("parsing base template: %w", err)
	}

	// Each page gets its own clone of base so that {{define "content"}} does
	// not collide across pages.
	pageNames := []string{"index.html"}
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		clone, err := base.Clone()
		if err != nil {
			return nil, fmt.Errorf("cloning base for %s: %w", name, err)
		}
		if _, err := clone.ParseFS(templateFS, "templates/"+name); err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", name, err)
		}
		pages[name] = clone
	}

	s := &Server{Deps: d, pages: pages, mux: http.NewServeMux(), now: time.Now}
	s.routes()
	return s, nil
}

// Handler returns the HTTP handler for the server, instrumented per route.
func (s *Server) Handler() http.Handler {
	return s.instrument(s.mux)
}

func (s *Server) routes() {
	staticSub, _ := fs.Sub(staticFS, "static")
	s.mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticSub))))

	s.mux.HandleFunc("GET /{$}", s.handleIndex)
	s.mux.HandleFunc("GET /api/v1/health", s.handleHealth)
	s.mux.Handle("GET /metrics", s.Metrics.Handler())

	s.mux.HandleFunc("POST /github-webhook", s.handleWebhook)
	s.mux.HandleFunc("POST /api/v1/data/github-webhook", s.handleWebhook)
	s.mux.HandleFunc("GET /api/v1/data/trigger-webhook-to-pull", s.handleTriggerWebhook)

	s.mux.HandleFunc("GET /api/v1/data/annotators", s.handleAnnotators)
	s.mux.HandleFunc("GET /api/v1/data/annotators/summary", s.handleAnnotatorSummary)
	s.mux.HandleFunc("GET /api/v1/data/language-totals", s.handleLanguageTotals)
	s.mux.HandleFunc("GET /api/v1/data/sync-runs", s.handleSyncRuns)

	s.mux.HandleFunc("GET /api/v1/data/stats-json", s.handleTodayStats)
	s.mux.HandleFunc("GET /api/v1/data/stats-json/{language}", s.handleLanguageStats)
	s.mux.HandleFunc("GET /api/v1/data/stats-summary", s.handleStatsSummary)
	s.mux.HandleFunc("GET /api/v1/data/annotator-status", s.handleRemoteCSV(func(c *config.Config) string {
		return c.GitHub.AnnotatorStatusPath
	}))
	s.mux.HandleFunc("GET /api/v1/data/registered-annotators", s.handleRemoteCSV(func(c *config.Config) string {
		return c.GitHub.RegisteredAnnotatorsPath
	}))

	s.mux.HandleFunc("GET /api/v1/data/assigned_data-recording_stats-to-json", s.handleAnnotatorTablesJSON)
	s.mux.HandleFunc("GET /api/v1/data/assigned_data-recording_stats-to-sheet", s.handleAnnotatorTablesSheet)
	s.mux.HandleFunc("GET /api/v1/data/google_sheet_count_summary", s.handleCountSummary)
	s.mux.HandleFunc("GET /api/v1/data/stats-to-sheet", s.handleStatsToSheet)
	s.mux.HandleFunc("POST /api/v1/data/audio_data_summary_to_sheets", s.handleAudioSummary)

	s.mux.HandleFunc("GET /api/v1/data/hourly-summary", s.handleHourly)
	s.mux.HandleFunc("GET /api/v1/data/hourly-summary/latest", s.handleHourlyLatest)
	s.mux.HandleFunc("GET /api/v1/data/completion-times", s.handleCompletionTimes)
	s.mux.HandleFunc("GET /api/v1/data/repo-activity", s.handleRepoActivity)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	stats, err := s.DB.GetStats(ctx)
	if err != nil {
		log.Printf("Error loading stats: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	totals, err := s.DB.LanguageTotals(ctx)
	if err != nil {
		log.Printf("Error loading language totals: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	runs, err := s.DB.ListSyncRuns(ctx, 10)
	if err != nil {
		log.Printf("Error loading sync runs: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	digest, err := aggregate.RenderMarkdown(aggregate.Digest(totals, runs))
	if err != nil {
		log.Printf("Error rendering digest: %v", err)
	}

	var commits []source.Commit
	if s.Feed != nil {
		// The dashboard still renders when GitHub is slow or down.
		fctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		commits, err = s.Feed.Recent(fctx, 5)
		cancel()
		if err != nil {
			log.Printf("Error reading commits feed: %v", err)
		}
	}

	s.render(w, "index.html", map[string]any{
		"Digest":  template.HTML(digest), //nolint: gosec
		"Totals":  totals,
		"Runs":    runs,
		"Stats":   stats,
		"Commits": commits,
		"Repo":    s.Config.GitHub.Owner + "/" + s.Config.GitHub.Repo,
	})
}

func (s *Server) render(w http.ResponseWriter, name string, data any) {
	tmpl, ok := s.pages[name]
	if !ok {
		log.Printf("Template %s not found", name)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.ExecuteTemplate(w, "base.html", data); err != nil {
		log.Printf("Error rendering template %s: %v", name, err)
	}
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// instrument records request counts and latency by matched route pattern.
func (s *Server) instrument(next http.Handler) http.Handler {
	if s.Metrics == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		s.Metrics.ObserveHTTP(route, rec.code, time.Since(start))
	})
}

// Serve runs the server on addr until ctx is cancelled, then drains
// in-flight requests.
func Serve(ctx context.Context, srv *Server, addr string) error {
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Webhook syncs and sheet pushes run inside the request.
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Server listening on http://%s", addr)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Printf("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}
