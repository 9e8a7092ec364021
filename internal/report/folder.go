package report

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"time"

	"github.com/TobiSchelling/annotrack/internal/apperr"
)

// File names inside a dated report folder.
const (
	ReportFile = "report.txt"
	StatsFile  = "stats.csv"
)

const folderDateLayout = "20060102"

// ParseFolderDate converts a YYYYMMDD folder name to a YYYY-MM-DD date.
func ParseFolderDate(name string) (string, error) {
	if len(name) != len(folderDateLayout) {
		return "", apperr.Parse(fmt.Sprintf("folder %q is not YYYYMMDD", name), nil)
	}
	d, err := time.Parse(folderDateLayout, name)
	if err != nil {
		return "", apperr.Parse(fmt.Sprintf("folder %q is not YYYYMMDD", name), err)
	}
	return d.Format("2006-01-02"), nil
}

// ParseFolder reads report.txt and stats.csv from dir and merges them. dir
// is <language>/<YYYYMMDD> relative to fsys. Either file may be missing,
// but not both.
func ParseFolder(fsys fs.FS, dir, language string) ([]Record, error) {
	date, err := ParseFolderDate(path.Base(dir))
	if err != nil {
		return nil, err
	}

	var blocks []ReportBlock
	var rows []StatsRow
	found := 0

	if f, err := fsys.Open(path.Join(dir, ReportFile)); err == nil {
		blocks, err = ParseReport(f)
		f.Close()
		if err != nil {
			return nil, apperr.Parse(path.Join(dir, ReportFile), err)
		}
		found++
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, apperr.Parse(path.Join(dir, ReportFile), err)
	}

	if f, err := fsys.Open(path.Join(dir, StatsFile)); err == nil {
		rows, err = ParseStatsCSV(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path.Join(dir, StatsFile), err)
		}
		found++
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, apperr.Parse(path.Join(dir, StatsFile), err)
	}

	if found == 0 {
		return nil, apperr.Parse(fmt.Sprintf("%s has neither %s nor %s", dir, ReportFile, StatsFile), nil)
	}
	return Merge(blocks, rows, language, date), nil
}
