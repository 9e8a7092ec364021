package source

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/TobiSchelling/annotrack/internal/apperr"
	"github.com/TobiSchelling/annotrack/internal/config"
)

const maxCommits = 20

// Commit is one entry of the branch commits feed.
type Commit struct {
	Title   string `json:"title"`
	Author  string `json:"author"`
	Link    string `json:"link"`
	Updated string `json:"updated"`
}

// Feed reads the Atom feed GitHub publishes for a branch's commits.
type Feed struct {
	url    string
	parser *gofeed.Parser
}

// NewFeed builds the commits feed URL from the GitHub config section.
func NewFeed(cfg config.GitHub) *Feed {
	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 20 * time.Second
	}
	parser := gofeed.NewParser()
	parser.Client = &http.Client{Timeout: timeout}
	return &Feed{
		url:    fmt.Sprintf("%s/%s/%s/commits/%s.atom", strings.TrimRight(cfg.WebBase, "/"), cfg.Owner, cfg.Repo, cfg.Branch),
		parser: parser,
	}
}

// URL returns the feed address.
func (f *Feed) URL() string { return f.url }

// Recent returns up to limit commits, newest first as published.
func (f *Feed) Recent(ctx context.Context, limit int) ([]Commit, error) {
	if limit <= 0 || limit > maxCommits {
		limit = maxCommits
	}
	feed, err := f.parser.ParseURLWithContext(f.url, ctx)
	if err != nil {
		return nil, apperr.Fetch("reading commits feed", err)
	}

	var commits []Commit
	for _, item := range feed.Items {
		if len(commits) == limit {
			break
		}
		c := Commit{Title: strings.TrimSpace(item.Title), Link: item.Link}
		if len(item.Authors) > 0 && item.Authors[0] != nil {
			c.Author = item.Authors[0].Name
		}
		switch {
		case item.UpdatedParsed != nil:
			c.Updated = item.UpdatedParsed.UTC().Format(time.RFC3339)
		case item.PublishedParsed != nil:
			c.Updated = item.PublishedParsed.UTC().Format(time.RFC3339)
		default:
			c.Updated = item.Updated
		}
		commits = append(commits, c)
	}
	return commits, nil
}
