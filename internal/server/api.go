package server

import (
	"bytes"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/TobiSchelling/annotrack/internal/aggregate"
	"github.com/TobiSchelling/annotrack/internal/apperr"
	"github.com/TobiSchelling/annotrack/internal/config"
	"github.com/TobiSchelling/annotrack/internal/database"
	"github.com/TobiSchelling/annotrack/internal/report"
	"github.com/TobiSchelling/annotrack/internal/webhook"
)

// errorBody is the JSON shape of every API error.
type errorBody struct {
	Detail    string `json:"detail"`
	ErrorCode string `json:"error_code"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := apperr.StatusOf(err)
	code := string(apperr.KindOf(err))
	if code == "" {
		code = "internal_error"
	}
	if status >= http.StatusInternalServerError {
		log.Printf("Request failed: %v", err)
	}
	writeJSON(w, status, errorBody{Detail: err.Error(), ErrorCode: code})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "pong"})
}

// remote returns the remote aggregator, or writes 503 and returns nil.
func (s *Server) remote(w http.ResponseWriter) *aggregate.Remote {
	if s.Remote == nil {
		writeError(w, apperr.Unavailable("remote repository reader is not configured"))
	}
	return s.Remote
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if s.Gate == nil {
		writeError(w, apperr.Unavailable("webhook is not configured"))
		return
	}
	// One byte over the limit is enough for the gate to reject the body.
	body, err := io.ReadAll(io.LimitReader(r.Body, s.Gate.MaxBody()+1))
	if err != nil {
		writeError(w, apperr.Invalid("reading body", err))
		return
	}
	resp, err := s.Gate.Handle(r.Context(), r.Header.Get(webhook.SignatureHeader), body)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleTriggerWebhook signs a sample push and delivers it to this
// server's own public webhook URL, so a sync runs exactly as GitHub would
// trigger it.
func (s *Server) handleTriggerWebhook(w http.ResponseWriter, r *http.Request) {
	if s.Gate == nil || s.Gate.Secret() == "" {
		writeError(w, apperr.Unavailable("webhook secret is not configured"))
		return
	}
	gh := s.Config.GitHub
	body := webhook.SamplePush("refs/heads/"+gh.Branch, gh.Owner+"/"+gh.Repo)
	target := strings.TrimRight(s.Config.Server.PublicURL, "/") + "/github-webhook"

	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		writeError(w, apperr.Invalid("building webhook request", err))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GitHub-Event", "push")
	req.Header.Set(webhook.SignatureHeader, webhook.Sign(s.Gate.Secret(), body))

	resp, err := s.Client.Do(req)
	if err != nil {
		writeError(w, apperr.Fetch("posting to "+target, err))
		return
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		writeError(w, apperr.Fetch("reading webhook response", err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	w.Write(data)
}

func (s *Server) handleAnnotators(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	latest, _ := strconv.ParseBool(q.Get("latest"))
	stats, err := s.DB.ListAnnotatorStats(r.Context(), database.StatFilter{
		Language:   q.Get("language"),
		ReportDate: q.Get("date"),
		Latest:     latest,
	})
	if err != nil {
		writeError(w, apperr.Persistence("listing annotators", err))
		return
	}
	if stats == nil {
		stats = []database.AnnotatorStat{}
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleAnnotatorSummary(w http.ResponseWriter, r *http.Request) {
	counts, err := s.DB.AnnotatorCounts(r.Context())
	if err != nil {
		writeError(w, apperr.Persistence("summarizing annotators", err))
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func (s *Server) handleLanguageTotals(w http.ResponseWriter, r *http.Request) {
	totals, err := s.DB.LanguageTotals(r.Context())
	if err != nil {
		writeError(w, apperr.Persistence("loading language totals", err))
		return
	}
	if totals == nil {
		totals = []database.LanguageTotal{}
	}
	writeJSON(w, http.StatusOK, totals)
}

func (s *Server) handleSyncRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, apperr.Invalid("limit must be a positive integer", err))
			return
		}
		limit = min(n, 200)
	}
	runs, err := s.DB.ListSyncRuns(r.Context(), limit)
	if err != nil {
		writeError(w, apperr.Persistence("listing sync runs", err))
		return
	}
	if runs == nil {
		runs = []database.SyncRun{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// handleTodayStats reads every language's summary for today, or for the
// YYYYMMDD folder named by ?date=.
func (s *Server) handleTodayStats(w http.ResponseWriter, r *http.Request) {
	rm := s.remote(w)
	if rm == nil {
		return
	}
	day := r.URL.Query().Get("date")
	if day == "" {
		day = s.now().Format("20060102")
	} else if _, err := report.ParseFolderDate(day); err != nil {
		writeError(w, apperr.Invalid("date must be YYYYMMDD", err))
		return
	}
	summaries, err := rm.TodayStats(r.Context(), day)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (s *Server) handleLanguageStats(w http.ResponseWriter, r *http.Request) {
	rm := s.remote(w)
	if rm == nil {
		return
	}
	t, err := rm.LanguageStats(r.Context(), r.PathValue("language"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t.Records())
}

func (s *Server) handleStatsSummary(w http.ResponseWriter, r *http.Request) {
	rm := s.remote(w)
	if rm == nil {
		return
	}
	summaries, err := rm.LatestSummaries(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summaries)
}

// handleRemoteCSV serves a repository CSV file as JSON records.
func (s *Server) handleRemoteCSV(path func(*config.Config) string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rm := s.remote(w)
		if rm == nil {
			return
		}
		p := path(s.Config)
		if p == "" {
			writeError(w, apperr.Unavailable("no repository path configured for "+r.URL.Path))
			return
		}
		t, err := rm.CSV(r.Context(), p)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, t.Records())
	}
}

func (s *Server) handleAnnotatorTablesJSON(w http.ResponseWriter, r *http.Request) {
	rm := s.remote(w)
	if rm == nil {
		return
	}
	tables, err := rm.AnnotatorTables(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tables.Records())
}

func (s *Server) handleAnnotatorTablesSheet(w http.ResponseWriter, r *http.Request) {
	rm := s.remote(w)
	if rm == nil {
		return
	}
	tables, err := rm.AnnotatorTables(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	pubs, err := s.Publisher.AnnotatorTables(r.Context(), tables)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Sheets updated successfully", "published": pubs})
}

func (s *Server) handleCountSummary(w http.ResponseWriter, r *http.Request) {
	rm := s.remote(w)
	if rm == nil {
		return
	}
	counts, err := rm.AssignmentCounts(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	pubs, err := s.Publisher.Counts(r.Context(), counts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "data": counts, "published": pubs})
}

func (s *Server) handleStatsToSheet(w http.ResponseWriter, r *http.Request) {
	rm := s.remote(w)
	if rm == nil {
		return
	}
	tables, order, err := rm.AllLanguageStats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	pubs, err := s.Publisher.LanguageStats(r.Context(), tables, order)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Stats written to sheets", "languages": order, "published": pubs})
}

func (s *Server) handleAudioSummary(w http.ResponseWriter, r *http.Request) {
	rm := s.remote(w)
	if rm == nil {
		return
	}
	sheets, err := rm.AudioSummary(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	pubs, err := s.Publisher.Workbook(r.Context(), sheets)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Google Sheets updated for all languages", "published": pubs})
}

// handleHourly returns the long-form hourly rows and, when a spreadsheet
// is configured, replaces the hourly_summary tab with them.
func (s *Server) handleHourly(w http.ResponseWriter, r *http.Request) {
	rm := s.remote(w)
	if rm == nil {
		return
	}
	rows, err := rm.Hourly(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if _, err := s.Publisher.Hourly(r.Context(), rows); err != nil {
		if !apperr.Is(err, apperr.KindUnavailable) {
			writeError(w, err)
			return
		}
		log.Printf("Hourly summary not pushed: %v", err)
	}
	if rows == nil {
		rows = []report.HourlyRow{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleHourlyLatest(w http.ResponseWriter, r *http.Request) {
	rm := s.remote(w)
	if rm == nil {
		return
	}
	rows, err := rm.Hourly(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, aggregate.LatestHour(rows))
}

func (s *Server) handleCompletionTimes(w http.ResponseWriter, r *http.Request) {
	stats, err := s.DB.ListAnnotatorStats(r.Context(), database.StatFilter{
		Language: r.URL.Query().Get("language"),
		Latest:   true,
	})
	if err != nil {
		writeError(w, apperr.Persistence("listing annotators", err))
		return
	}
	writeJSON(w, http.StatusOK, aggregate.CompletionTimes(stats, s.Config.Sync.CompletionTarget))
}

func (s *Server) handleRepoActivity(w http.ResponseWriter, r *http.Request) {
	if s.Feed == nil {
		writeError(w, apperr.Unavailable("commits feed is not configured"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	commits, err := s.Feed.Recent(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if commits == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	writeJSON(w, http.StatusOK, commits)
}
