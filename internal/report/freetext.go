package report

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

const notStartedMarker = "has not started"

// ParseReport reads the free-text report.txt format. Each block starts at an
// "ID:" line and may carry a "Name:" line and a "has not started" line.
// Lines outside a block and unknown lines are ignored.
func ParseReport(r io.Reader) ([]ReportBlock, error) {
	var blocks []ReportBlock
	var cur *ReportBlock

	flush := func() {
		if cur != nil && cur.ID != "" {
			blocks = append(blocks, *cur)
		}
		cur = nil
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "":
		case hasLabel(line, "ID:"):
			flush()
			cur = &ReportBlock{ID: strings.TrimSpace(line[len("ID:"):])}
		case cur == nil:
		case hasLabel(line, "Name:"):
			cur.Name = strings.TrimSpace(line[len("Name:"):])
		case strings.HasPrefix(strings.ToLower(line), notStartedMarker):
			cur.NotStarted = true
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading report: %w", err)
	}
	flush()
	return blocks, nil
}

func hasLabel(line, label string) bool {
	return len(line) >= len(label) && strings.EqualFold(line[:len(label)], label)
}
