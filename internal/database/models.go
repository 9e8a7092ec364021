package database

// StatKey identifies one annotator's stats for one language on one report day.
type StatKey struct {
	AnnotatorID string
	Language    string
	ReportDate  string
}

// AnnotatorStat is one persisted row of annotator progress.
type AnnotatorStat struct {
	ID              int64   `json:"id"`
	AnnotatorID     string  `json:"annotator_id"`
	Name            string  `json:"name"`
	Language        string  `json:"language"`
	ReportDate      string  `json:"report_date"`
	FilesRead       int     `json:"files_read"`
	RemainingTexts  int     `json:"remaining_texts"`
	MinutesRecorded float64 `json:"minutes_recorded"`
	HasStarted      bool    `json:"has_started"`
	CreatedAt       string  `json:"created_at"`
}

// Key returns the natural key of s.
func (s AnnotatorStat) Key() StatKey {
	return StatKey{AnnotatorID: s.AnnotatorID, Language: s.Language, ReportDate: s.ReportDate}
}

// StatFilter narrows ListAnnotatorStats. Empty fields match everything.
type StatFilter struct {
	Language   string
	ReportDate string
	// Latest restricts results to each language's most recent report date.
	Latest bool
}

// LanguageTotal aggregates the stored rows of one language.
type LanguageTotal struct {
	Language        string  `json:"language"`
	Annotators      int     `json:"annotators"`
	Started         int     `json:"started"`
	FilesRead       int     `json:"files_read"`
	RemainingTexts  int     `json:"remaining_texts"`
	MinutesRecorded float64 `json:"minutes_recorded"`
	LatestReport    string  `json:"latest_report_date"`
}

// AnnotatorCount sums every stored row of one language, across all report dates.
type AnnotatorCount struct {
	Language       string  `json:"language"`
	AnnotatorCount int     `json:"annotator_count"`
	TotalMinutes   float64 `json:"total_minutes"`
	TotalFilesRead int     `json:"total_files_read"`
}

// SyncRun records one execution of the sync pipeline.
type SyncRun struct {
	ID          string   `json:"id"`
	Trigger     string   `json:"trigger"`
	Status      string   `json:"status"`
	StartedAt   string   `json:"started_at"`
	FinishedAt  *string  `json:"finished_at,omitempty"`
	RecordCount int      `json:"record_count"`
	Inserted    int      `json:"inserted"`
	Updated     int      `json:"updated"`
	Languages   []string `json:"languages"`
	Error       *string  `json:"error,omitempty"`
}

// Sync run statuses.
const (
	SyncRunning = "running"
	SyncOK      = "ok"
	SyncFailed  = "failed"
)

// Stats holds aggregate counts for the status command and dashboard.
type Stats struct {
	TotalRows   int
	Annotators  int
	Languages   int
	ReportDates int
	SyncRuns    int
	LastSync    *SyncRun
}
