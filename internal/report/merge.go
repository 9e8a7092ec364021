package report

import "log"

// fieldPrecedence decides, per field, which source wins when report.txt and
// stats.csv both describe the same annotator. The loser only fills fields
// the winner lacks.
var fieldPrecedence = []struct {
	Field  Field
	Winner Source
}{
	{FieldName, SourceReport},
	{FieldFilesRead, SourceStats},
	{FieldRemainingTexts, SourceStats},
	{FieldMinutesRecorded, SourceStats},
	{FieldHasStarted, SourceReport},
}

// unknownName is used when no source names an annotator.
const unknownName = "Unknown"

// startedEvidence reports whether a stats row shows activity. Activity
// overrides a "has not started" line for HasStarted.
func startedEvidence(r Record) bool {
	return r.Source == SourceStats && (r.FilesRead > 0 || r.MinutesRecorded > 0)
}

// mergePair combines the report and stats records of one annotator.
func mergePair(fromReport, fromStats Record) Record {
	out := Record{
		AnnotatorID: fromReport.AnnotatorID,
		Language:    fromReport.Language,
		ReportDate:  fromReport.ReportDate,
		Source:      SourceMerged,
	}
	for _, p := range fieldPrecedence {
		first, second := fromReport, fromStats
		if p.Winner == SourceStats {
			first, second = fromStats, fromReport
		}
		switch {
		case first.Has(p.Field):
			out.set(first, p.Field)
		case second.Has(p.Field):
			out.set(second, p.Field)
		}
	}
	if startedEvidence(fromStats) {
		out.HasStarted = true
		out.Fields |= FieldHasStarted
	}
	return out
}

// Merge combines one folder's report blocks and stats rows into records,
// one per annotator ID, in first-seen order (report blocks, then stats rows).
func Merge(blocks []ReportBlock, rows []StatsRow, language, date string) []Record {
	names := make(map[string]string, len(blocks))
	index := make(map[string]int)
	var out []Record

	for _, b := range blocks {
		if b.Name != "" {
			if _, seen := names[b.ID]; !seen {
				names[b.ID] = b.Name
			}
		}
		rec, ok := b.Record(language, date)
		if !ok {
			continue
		}
		if _, dup := index[b.ID]; dup {
			log.Printf("%s/%s: duplicate report block for %s, keeping first", language, date, b.ID)
			continue
		}
		index[b.ID] = len(out)
		out = append(out, rec)
	}

	for _, row := range rows {
		rec := row.Record(language, date)
		if i, ok := index[row.ID]; ok {
			if out[i].Source == SourceReport {
				out[i] = mergePair(out[i], rec)
				continue
			}
			log.Printf("%s/%s: duplicate stats row for %s, keeping first", language, date, row.ID)
			continue
		}

		// A started report block only contributes the name.
		if name, ok := names[row.ID]; ok {
			rec = mergePair(Record{
				AnnotatorID: row.ID,
				Language:    language,
				ReportDate:  date,
				Name:        name,
				Fields:      FieldName,
				Source:      SourceReport,
			}, rec)
		}
		if !rec.Has(FieldName) {
			rec.Name = unknownName
			rec.Fields |= FieldName
		}
		index[row.ID] = len(out)
		out = append(out, rec)
	}
	return out
}
