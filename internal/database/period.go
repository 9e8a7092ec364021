package database

import "time"

// ReportDateLayout is how report dates and created_at are stored.
const ReportDateLayout = "2006-01-02"

// GetToday returns today's date as YYYY-MM-DD.
func GetToday() string {
	return time.Now().Format(ReportDateLayout)
}

// Timestamp formats t for sync run columns.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// FormatDateDisplay formats a report date for human-readable display,
// e.g. "Feb 06, 2026". Unparseable input is returned unchanged.
func FormatDateDisplay(date string) string {
	d, err := time.Parse(ReportDateLayout, date)
	if err != nil {
		return date
	}
	return d.Format("Jan 02, 2006")
}
