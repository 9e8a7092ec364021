package sheets

import (
	"context"
	"log"
	"time"

	"github.com/TobiSchelling/annotrack/internal/metrics"
	"github.com/TobiSchelling/annotrack/internal/retry"
)

// Writer replaces a tab's contents, appending rows in paced chunks to stay
// under the API's write quota.
type Writer struct {
	svc       Service
	chunkSize int
	pause     time.Duration
	policy    retry.Policy
	metrics   *metrics.Metrics
}

// NewWriter creates a Writer. chunkSize below 1 writes everything at once.
func NewWriter(svc Service, chunkSize int, pause time.Duration, m *metrics.Metrics) *Writer {
	p := retry.Default()
	p.Retryable = retryable
	return &Writer{svc: svc, chunkSize: chunkSize, pause: pause, policy: p, metrics: m}
}

// WithRetryPolicy replaces the retry policy, keeping the error predicate.
func (w *Writer) WithRetryPolicy(p retry.Policy) *Writer {
	p.Retryable = w.policy.Retryable
	w.policy = p
	return w
}

// WriteTable ensures tab exists, clears it, writes header and then rows.
// Each API call is retried on its own.
func (w *Writer) WriteTable(ctx context.Context, spreadsheetID, tab string, header []string, rows [][]any) error {
	steps := []func(ctx context.Context) error{
		func(ctx context.Context) error { return w.svc.EnsureTab(ctx, spreadsheetID, tab) },
		func(ctx context.Context) error { return w.svc.ClearTab(ctx, spreadsheetID, tab) },
		func(ctx context.Context) error {
			return w.svc.AppendRows(ctx, spreadsheetID, tab, [][]any{toRow(header)})
		},
	}
	for _, step := range steps {
		if err := retry.Do(ctx, w.policy, step); err != nil {
			return err
		}
	}

	size := w.chunkSize
	if size < 1 {
		size = len(rows)
	}
	for start := 0; start < len(rows); start += size {
		end := min(start+size, len(rows))
		chunk := rows[start:end]
		if err := retry.Do(ctx, w.policy, func(ctx context.Context) error {
			return w.svc.AppendRows(ctx, spreadsheetID, tab, chunk)
		}); err != nil {
			return err
		}
		w.metrics.SheetRowsWritten(tab, len(chunk))
		if end < len(rows) && w.pause > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.pause):
			}
		}
	}
	log.Printf("wrote %d rows to %s/%s", len(rows), spreadsheetID, tab)
	return nil
}

func toRow(cells []string) []any {
	row := make([]any, len(cells))
	for i, c := range cells {
		row[i] = c
	}
	return row
}
