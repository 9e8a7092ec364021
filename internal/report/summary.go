package report

import (
	"fmt"
	"strings"

	"github.com/TobiSchelling/annotrack/internal/apperr"
)

// LanguageSummary is the four-line totals block of a language summary file.
type LanguageSummary struct {
	Language        string  `json:"language"`
	Annotators      int     `json:"annotators"`
	FilesRead       int     `json:"files_read"`
	RemainingTexts  int     `json:"remaining_texts"`
	MinutesRecorded float64 `json:"minutes_recorded"`
}

const summaryHeader = "annotation info"

// ParseLanguageSummary reads a summary text file. When an "Annotation Info"
// header is present the four values follow it and the header may name the
// language; otherwise the values are lines 2 to 5. fallback names the
// language when the text does not.
func ParseLanguageSummary(text, fallback string) (LanguageSummary, error) {
	var lines []string
	for _, l := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}

	s := LanguageSummary{Language: fallback}
	start := 1
	for i, l := range lines {
		if strings.HasPrefix(strings.ToLower(l), summaryHeader) {
			start = i + 1
			if j := strings.Index(l, ":"); j >= 0 {
				if lang := strings.TrimSpace(l[j+1:]); lang != "" {
					s.Language = strings.ToLower(lang)
				}
			}
			break
		}
	}
	if len(lines) < start+4 {
		return s, apperr.Parse(fmt.Sprintf("summary for %s has %d lines, need %d", fallback, len(lines), start+4), nil)
	}

	values := lines[start : start+4]
	var err error
	if s.Annotators, err = ParseInt(values[0]); err != nil {
		return s, apperr.Parse("summary annotators", err)
	}
	if s.FilesRead, err = ParseInt(values[1]); err != nil {
		return s, apperr.Parse("summary files read", err)
	}
	if s.RemainingTexts, err = ParseInt(values[2]); err != nil {
		return s, apperr.Parse("summary remaining texts", err)
	}
	if s.MinutesRecorded, err = ParseFloat(values[3]); err != nil {
		return s, apperr.Parse("summary minutes recorded", err)
	}
	return s, nil
}
