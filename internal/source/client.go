// Package source reads the annotation repository over the GitHub contents
// and raw-file HTTP APIs.
package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/TobiSchelling/annotrack/internal/apperr"
	"github.com/TobiSchelling/annotrack/internal/config"
	"github.com/TobiSchelling/annotrack/internal/metrics"
	"github.com/TobiSchelling/annotrack/internal/retry"
)

const maxBodyBytes = 64 << 20

// Entry is one item of a contents listing.
type Entry struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	Type        string `json:"type"`
	DownloadURL string `json:"download_url"`
}

// StatusError is a non-2xx response.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: status %d", e.URL, e.Code)
}

// IsNotFound reports whether err is a 404 from the remote.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == http.StatusNotFound
}

// retryable retries network failures, 429 and 5xx. Other statuses are final.
func retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == http.StatusTooManyRequests || se.Code >= 500
	}
	return !errors.Is(err, context.Canceled)
}

// Client reads files and listings from one repository branch.
type Client struct {
	apiBase string
	rawBase string
	owner   string
	repo    string
	branch  string
	token   string
	client  *http.Client
	policy  retry.Policy
	metrics *metrics.Metrics
}

// New creates a Client from the GitHub config section.
func New(cfg config.GitHub, token string, m *metrics.Metrics) *Client {
	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 20 * time.Second
	}
	c := &Client{
		apiBase: strings.TrimRight(cfg.APIBase, "/"),
		rawBase: strings.TrimRight(cfg.RawBase, "/"),
		owner:   cfg.Owner,
		repo:    cfg.Repo,
		branch:  cfg.Branch,
		token:   token,
		client:  &http.Client{Timeout: timeout},
		policy:  retry.Default(),
		metrics: m,
	}
	c.policy.Retryable = retryable
	c.policy.OnRetry = func(err error, wait time.Duration) {
		c.metrics.FetchRetried()
	}
	return c
}

// WithRetryPolicy replaces the retry policy, keeping the status predicate.
func (c *Client) WithRetryPolicy(p retry.Policy) *Client {
	p.Retryable = c.policy.Retryable
	p.OnRetry = c.policy.OnRetry
	c.policy = p
	return c
}

// ListDir lists the entries of a repository directory.
func (c *Client) ListDir(ctx context.Context, dir string) ([]Entry, error) {
	u := fmt.Sprintf("%s/repos/%s/%s/contents/%s?ref=%s",
		c.apiBase, c.owner, c.repo, escapePath(dir), url.QueryEscape(c.branch))
	body, err := c.get(ctx, u, "application/vnd.github+json")
	if err != nil {
		return nil, err
	}
	var entries []Entry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, apperr.Fetch("decoding listing of "+dir, err)
	}
	return entries, nil
}

// ListSubdirs returns the names of dir's subdirectories in sorted order.
func (c *Client) ListSubdirs(ctx context.Context, dir string) ([]string, error) {
	entries, err := c.ListDir(ctx, dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.Type == "dir" {
			names = append(names, e.Name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// ListFiles returns the names of dir's files in sorted order.
func (c *Client) ListFiles(ctx context.Context, dir string) ([]string, error) {
	entries, err := c.ListDir(ctx, dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.Type == "file" {
			names = append(names, e.Name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// LatestSubdir returns the lexicographically greatest subdirectory of dir.
// Date-named folders (YYYYMMDD) sort chronologically this way.
func (c *Client) LatestSubdir(ctx context.Context, dir string) (string, error) {
	names, err := c.ListSubdirs(ctx, dir)
	if err != nil {
		return "", err
	}
	if len(names) == 0 {
		return "", apperr.NotFound("no folders under " + dir)
	}
	return names[len(names)-1], nil
}

// Raw downloads a file by repository path.
func (c *Client) Raw(ctx context.Context, p string) ([]byte, error) {
	u := fmt.Sprintf("%s/%s/%s/%s/%s", c.rawBase, c.owner, c.repo, c.branch, escapePath(p))
	return c.get(ctx, u, "")
}

func (c *Client) get(ctx context.Context, u, accept string) ([]byte, error) {
	var body []byte
	err := retry.Do(ctx, c.policy, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return err
		}
		if accept != "" {
			req.Header.Set("Accept", accept)
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			return &StatusError{URL: u, Code: resp.StatusCode}
		}
		body, err = io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		return err
	})

	switch {
	case err == nil:
		c.metrics.FetchDone("ok")
		return body, nil
	case IsNotFound(err):
		c.metrics.FetchDone("not_found")
		return nil, &apperr.Error{Kind: apperr.KindNotFound, Status: http.StatusNotFound, Msg: "not found: " + u, Err: err}
	default:
		c.metrics.FetchDone("error")
		return nil, apperr.Fetch("fetching "+u, err)
	}
}

func escapePath(p string) string {
	p = strings.Trim(path.Clean("/"+p), "/")
	parts := strings.Split(p, "/")
	for i, s := range parts {
		parts[i] = url.PathEscape(s)
	}
	return strings.Join(parts, "/")
}
