package report

import "strings"

// AssignmentSummary totals one annotator's assigned_data.tsv.
type AssignmentSummary struct {
	Total     int `json:"total_assigned"`
	Presented int `json:"presented"`
	Recorded  int `json:"recorded"`
	Invalid   int `json:"invalid"`
}

// SummarizeAssignments counts rows and sums the presented, recorded and
// invalid columns. Boolean cells count as 0 or 1; missing columns sum to 0.
func SummarizeAssignments(t *Table) AssignmentSummary {
	s := AssignmentSummary{Total: len(t.Rows)}
	s.Presented = sumColumn(t, "presented")
	s.Recorded = sumColumn(t, "recorded")
	s.Invalid = sumColumn(t, "invalid")
	return s
}

func sumColumn(t *Table, name string) int {
	i := t.Column(name)
	if i < 0 {
		return 0
	}
	total := 0
	for _, row := range t.Rows {
		switch v := strings.ToLower(strings.TrimSpace(row[i])); v {
		case "true", "yes":
			total++
		case "false", "no", "":
		default:
			if n, err := ParseInt(v); err == nil {
				total += n
			}
		}
	}
	return total
}
