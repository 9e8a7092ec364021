// Package sheets publishes tables to Google Sheets tabs.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"
)

// Service is the subset of the Sheets API the publisher needs.
type Service interface {
	// EnsureTab creates tab in the spreadsheet unless it already exists.
	EnsureTab(ctx context.Context, spreadsheetID, tab string) error
	ClearTab(ctx context.Context, spreadsheetID, tab string) error
	AppendRows(ctx context.Context, spreadsheetID, tab string, rows [][]any) error
}

// GoogleService talks to the Sheets v4 API.
type GoogleService struct {
	api *gsheets.Service
}

// NewGoogleService builds a client from service-account JSON.
func NewGoogleService(ctx context.Context, credentialsJSON []byte, opts ...option.ClientOption) (*GoogleService, error) {
	if len(credentialsJSON) > 0 {
		opts = append([]option.ClientOption{
			option.WithCredentialsJSON(credentialsJSON),
			option.WithScopes(gsheets.SpreadsheetsScope),
		}, opts...)
	}
	api, err := gsheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating sheets client: %w", err)
	}
	return &GoogleService{api: api}, nil
}

func (g *GoogleService) EnsureTab(ctx context.Context, spreadsheetID, tab string) error {
	ss, err := g.api.Spreadsheets.Get(spreadsheetID).Fields("sheets.properties.title").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("reading spreadsheet %s: %w", spreadsheetID, err)
	}
	for _, s := range ss.Sheets {
		if s.Properties != nil && s.Properties.Title == tab {
			return nil
		}
	}
	req := &gsheets.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheets.Request{{
			AddSheet: &gsheets.AddSheetRequest{
				Properties: &gsheets.SheetProperties{
					Title:          tab,
					GridProperties: &gsheets.GridProperties{RowCount: 1000, ColumnCount: 20},
				},
			},
		}},
	}
	if _, err := g.api.Spreadsheets.BatchUpdate(spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("adding tab %s: %w", tab, err)
	}
	return nil
}

func (g *GoogleService) ClearTab(ctx context.Context, spreadsheetID, tab string) error {
	_, err := g.api.Spreadsheets.Values.Clear(spreadsheetID, tabRange(tab), &gsheets.ClearValuesRequest{}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("clearing tab %s: %w", tab, err)
	}
	return nil
}

func (g *GoogleService) AppendRows(ctx context.Context, spreadsheetID, tab string, rows [][]any) error {
	vr := &gsheets.ValueRange{Values: rows}
	_, err := g.api.Spreadsheets.Values.Append(spreadsheetID, tabRange(tab)+"!A1", vr).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("appending to tab %s: %w", tab, err)
	}
	return nil
}

// tabRange quotes a tab title for A1 notation.
func tabRange(tab string) string {
	return "'" + strings.ReplaceAll(tab, "'", "''") + "'"
}

// retryable retries rate limiting and server errors from the API, and
// transport failures. Other API errors are final.
func retryable(err error) bool {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == http.StatusTooManyRequests || gerr.Code >= 500
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
