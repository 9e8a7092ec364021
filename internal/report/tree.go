package report

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/TobiSchelling/annotrack/internal/apperr"
)

// Skipped names a folder left out of a tree parse and why.
type Skipped struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// TreeResult is the outcome of parsing a whole reports tree.
type TreeResult struct {
	Records   []Record
	Skipped   []Skipped
	Languages []string
	Folders   int
}

type folderJob struct {
	index    int
	dir      string
	language string
}

type folderResult struct {
	records []Record
	err     error
}

// ParseTree parses every <language>/<YYYYMMDD> folder under root using up to
// workers goroutines. A folder that fails to parse is recorded in Skipped and
// does not affect the others. Records come back in language, then folder
// name order regardless of scheduling.
func ParseTree(ctx context.Context, fsys fs.FS, root string, workers int) (*TreeResult, error) {
	if workers < 1 {
		workers = 1
	}
	if root == "" {
		root = "."
	}

	langDirs, err := fs.ReadDir(fsys, root)
	if err != nil {
		return nil, apperr.Sync(fmt.Sprintf("reading reports root %s", root), err)
	}

	res := &TreeResult{}
	var jobs []folderJob
	for _, ld := range sortedDirs(langDirs) {
		language := ld.Name()
		langPath := path.Join(root, language)
		dateDirs, err := fs.ReadDir(fsys, langPath)
		if err != nil {
			res.Skipped = append(res.Skipped, Skipped{Path: langPath, Reason: err.Error()})
			continue
		}
		for _, dd := range sortedDirs(dateDirs) {
			jobs = append(jobs, folderJob{index: len(jobs), dir: path.Join(langPath, dd.Name()), language: language})
		}
	}
	res.Folders = len(jobs)

	results := make([]folderResult, len(jobs))
	queue := make(chan folderJob)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range queue {
				records, err := ParseFolder(fsys, job.dir, job.language)
				results[job.index] = folderResult{records: records, err: err}
			}
		}()
	}

	var cancelled error
	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			cancelled = err
			break
		}
		queue <- job
	}
	close(queue)
	wg.Wait()
	if cancelled != nil {
		return nil, cancelled
	}

	langs := make(map[string]struct{})
	for i, r := range results {
		if r.err != nil {
			log.Printf("skipping %s: %v", jobs[i].dir, r.err)
			res.Skipped = append(res.Skipped, Skipped{Path: jobs[i].dir, Reason: r.err.Error()})
			continue
		}
		for _, rec := range r.records {
			langs[rec.Language] = struct{}{}
		}
		res.Records = append(res.Records, r.records...)
	}
	for l := range langs {
		res.Languages = append(res.Languages, l)
	}
	sort.Strings(res.Languages)
	return res, nil
}

// sortedDirs keeps visible directories in name order.
func sortedDirs(entries []fs.DirEntry) []fs.DirEntry {
	var dirs []fs.DirEntry
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			dirs = append(dirs, e)
		}
	}
	sort.Slice(dirs, func(i, j int) bool { return dirs[i].Name() < dirs[j].Name() })
	return dirs
}
