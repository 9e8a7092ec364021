// Package report parses the report artifacts committed to the annotation
// repository: per-day report.txt and stats.csv files, language summaries,
// annotator tables, and the hourly and audio workbooks.
package report

// Field is a bit set naming which Record fields a source supplied.
type Field uint8

const (
	FieldName Field = 1 << iota
	FieldFilesRead
	FieldRemainingTexts
	FieldMinutesRecorded
	FieldHasStarted
)

// Source names where a Record's values came from.
type Source uint8

const (
	SourceReport Source = iota + 1
	SourceStats
	SourceMerged
)

func (s Source) String() string {
	switch s {
	case SourceReport:
		return "report"
	case SourceStats:
		return "stats"
	case SourceMerged:
		return "merged"
	}
	return "unknown"
}

// Record is one normalized annotator observation for a language and report
// date. Fields records which values are present; absent values must not
// overwrite stored ones.
type Record struct {
	AnnotatorID     string
	Name            string
	Language        string
	ReportDate      string
	FilesRead       int
	RemainingTexts  int
	MinutesRecorded float64
	HasStarted      bool

	Fields Field
	Source Source
}

// Has reports whether f was supplied.
func (r Record) Has(f Field) bool { return r.Fields&f != 0 }

func (r *Record) set(from Record, f Field) {
	switch f {
	case FieldName:
		r.Name = from.Name
	case FieldFilesRead:
		r.FilesRead = from.FilesRead
	case FieldRemainingTexts:
		r.RemainingTexts = from.RemainingTexts
	case FieldMinutesRecorded:
		r.MinutesRecorded = from.MinutesRecorded
	case FieldHasStarted:
		r.HasStarted = from.HasStarted
	}
	r.Fields |= f
}

// ReportBlock is one annotator entry of a report.txt file.
type ReportBlock struct {
	ID         string
	Name       string
	NotStarted bool
}

// Record normalizes b. Only blocks marked "has not started" carry stats:
// they yield zero counts and HasStarted=false. Started blocks contribute
// just the name, so ok is false for them.
func (b ReportBlock) Record(language, date string) (Record, bool) {
	if b.ID == "" || !b.NotStarted || b.Name == "" {
		return Record{}, false
	}
	return Record{
		AnnotatorID: b.ID,
		Name:        b.Name,
		Language:    language,
		ReportDate:  date,
		Fields:      FieldName | FieldFilesRead | FieldRemainingTexts | FieldMinutesRecorded | FieldHasStarted,
		Source:      SourceReport,
	}, true
}

// StatsRow is one data row of a stats.csv file.
type StatsRow struct {
	ID              string
	Name            string
	FilesRead       int
	RemainingTexts  int
	MinutesRecorded float64
}

// Record normalizes s. A stats row always implies the annotator started.
func (s StatsRow) Record(language, date string) Record {
	r := Record{
		AnnotatorID:     s.ID,
		Name:            s.Name,
		Language:        language,
		ReportDate:      date,
		FilesRead:       s.FilesRead,
		RemainingTexts:  s.RemainingTexts,
		MinutesRecorded: s.MinutesRecorded,
		HasStarted:      true,
		Fields:          FieldFilesRead | FieldRemainingTexts | FieldMinutesRecorded | FieldHasStarted,
		Source:          SourceStats,
	}
	if s.Name != "" {
		r.Fields |= FieldName
	}
	return r
}
