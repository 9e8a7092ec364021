package report

import (
	"bytes"
	"log"

	"github.com/xuri/excelize/v2"

	"github.com/TobiSchelling/annotrack/internal/apperr"
)

// Sheet is one worksheet read as a table.
type Sheet struct {
	Name string
	Table
}

func openWorkbook(data []byte) (*excelize.File, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, apperr.Parse("opening workbook", err)
	}
	return f, nil
}

// ParseWorkbook reads every sheet of an xlsx file. The first non-empty row
// is the header. Empty rows are dropped and a sheet with no header is
// logged and left out.
func ParseWorkbook(data []byte) ([]Sheet, error) {
	f, err := openWorkbook(data)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var sheets []Sheet
	for _, name := range f.GetSheetList() {
		rows, err := f.GetRows(name)
		if err != nil {
			return nil, apperr.Parse("reading sheet "+name, err)
		}
		t := rowsToTable(rows)
		if t == nil {
			log.Printf("sheet %s is empty, skipping", name)
			continue
		}
		sheets = append(sheets, Sheet{Name: name, Table: *t})
	}
	return sheets, nil
}

func rowsToTable(rows [][]string) *Table {
	var t *Table
	for _, row := range rows {
		if isBlank(row) {
			continue
		}
		if t == nil {
			t = &Table{Header: row}
			continue
		}
		t.Rows = append(t.Rows, pad(row, len(t.Header)))
	}
	return t
}
