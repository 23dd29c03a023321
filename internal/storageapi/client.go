// Package storageapi is a client for the Storage API endpoints the connector
// replays changes against: buckets, tables, columns, primary keys, column
// metadata, async jobs, file staging and component configuration rows.
package storageapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
	"golang.org/x/time/rate"
)

// RequestObserver is notified after every HTTP round trip. status is 0 when
// the request failed before a response was received.
type RequestObserver interface {
	ObserveRequest(method string, status int, elapsed time.Duration)
}

// Options tunes a Client. Zero durations fall back to DefaultOptions values.
type Options struct {
	BranchID  string
	RunID     string
	UserAgent string

	Timeout           time.Duration
	RequestsPerSecond float64 // <= 0 disables throttling
	Burst             int
	MaxRetries        uint64 // retries of idempotent GETs on 429/5xx
	RetryBase         time.Duration
	JobPollInterval   time.Duration
	JobTimeout        time.Duration

	Observer RequestObserver
	Logger   *zerolog.Logger
}

// DefaultOptions returns the settings used by the CLI.
func DefaultOptions() Options {
	return Options{
		UserAgent:         "merge-branch-storage",
		Timeout:           60 * time.Second,
		RequestsPerSecond: 10,
		Burst:             10,
		MaxRetries:        3,
		RetryBase:         500 * time.Millisecond,
		JobPollInterval:   500 * time.Millisecond,
		JobTimeout:        10 * time.Minute,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.UserAgent == "" {
		o.UserAgent = d.UserAgent
	}
	if o.Timeout == 0 {
		o.Timeout = d.Timeout
	}
	if o.RetryBase == 0 {
		o.RetryBase = d.RetryBase
	}
	if o.JobPollInterval == 0 {
		o.JobPollInterval = d.JobPollInterval
	}
	if o.JobTimeout == 0 {
		o.JobTimeout = d.JobTimeout
	}
	if o.Logger == nil {
		nop := zerolog.Nop()
		o.Logger = &nop
	}
	return o
}

// Client talks to one Storage API stack with one token. When a branch id is
// set every request is scoped to that development branch.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client

	opts      Options
	limiter   *rate.Limiter
	uploaders map[string]Uploader
}

// NewClient creates a client for baseURL (for example https://connection.keboola.com).
func NewClient(baseURL, token string, opts Options) *Client {
	opts = opts.withDefaults()

	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}

	c := &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Token:      token,
		HTTPClient: &http.Client{Timeout: opts.Timeout},
		opts:       opts,
		limiter:    rate.NewLimiter(limit, burst),
	}
	c.uploaders = defaultUploaders()
	return c
}

// BranchID returns the development branch the client is scoped to, if any.
func (c *Client) BranchID() string { return c.opts.BranchID }

// SetUploader replaces the staging uploader for a file provider ("aws", "gcp", "azure").
func (c *Client) SetUploader(provider string, u Uploader) {
	c.uploaders[provider] = u
}

// endpoint builds the absolute URL of a storage resource path such as "/buckets".
func (c *Client) endpoint(path string, query url.Values) string {
	prefix := "/v2/storage"
	if c.opts.BranchID != "" {
		prefix += "/branch/" + url.PathEscape(c.opts.BranchID)
	}
	u := c.BaseURL + prefix + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// Do sends a request to the Storage API. A url.Values body is sent form
// encoded, any other non-nil body as JSON. The caller owns the response body.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body interface{}) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	var (
		reader      io.Reader
		contentType string
	)
	switch b := body.(type) {
	case nil:
	case url.Values:
		reader = strings.NewReader(b.Encode())
		contentType = "application/x-www-form-urlencoded"
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query), reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.opts.UserAgent)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.Token != "" {
		req.Header.Set("X-StorageApi-Token", c.Token)
	}
	if c.opts.RunID != "" {
		req.Header.Set("X-KBC-RunId", c.opts.RunID)
	}

	start := time.Now()
	resp, err := c.HTTPClient.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		c.observe(method, 0, elapsed)
		return nil, fmt.Errorf("execute request: %w", err)
	}
	c.observe(method, resp.StatusCode, elapsed)
	c.opts.Logger.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("elapsed", elapsed).
		Msg("storage api request")
	return resp, nil
}

func (c *Client) observe(method string, status int, elapsed time.Duration) {
	if c.opts.Observer != nil {
		c.opts.Observer.ObserveRequest(method, status, elapsed)
	}
}

// ReadBody reads and closes the response body.
func ReadBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close() //nolint:errcheck
	return io.ReadAll(resp.Body)
}

// retryableStatus lists responses worth retrying for idempotent requests.
func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// get performs a GET and returns the raw body, retrying throttled and
// unavailable responses.
func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	backoff := retry.WithMaxRetries(c.opts.MaxRetries, retry.NewExponential(c.opts.RetryBase))

	var body []byte
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		resp, err := c.Do(ctx, http.MethodGet, path, query, nil)
		if err != nil {
			return err
		}
		if retryableStatus(resp.StatusCode) {
			return retry.RetryableError(CheckError(resp))
		}
		if err := CheckError(resp); err != nil {
			return err
		}
		body, err = ReadBody(resp)
		if err != nil {
			return fmt.Errorf("read GET %s: %w", path, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// send performs a mutating request. An async job response (202) is awaited
// and its results are decoded into out; otherwise the response body is.
func (c *Client) send(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	resp, err := c.Do(ctx, method, path, query, body)
	if err != nil {
		return err
	}
	if err := CheckError(resp); err != nil {
		return err
	}
	data, err := ReadBody(resp)
	if err != nil {
		return fmt.Errorf("read %s %s: %w", method, path, err)
	}

	if resp.StatusCode == http.StatusAccepted {
		var job Job
		if err := json.Unmarshal(data, &job); err != nil {
			return fmt.Errorf("parse job of %s %s: %w", method, path, err)
		}
		done, err := c.WaitForJob(ctx, job.ID)
		if err != nil {
			return err
		}
		data = done.Results
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 || string(data) == "null" {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse %s %s: %w", method, path, err)
	}
	return nil
}

// decodeList splits a JSON array into its raw elements.
func decodeList(data []byte) ([]json.RawMessage, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// errJobPending keeps job polling going until the job settles or times out.
var errJobPending = errors.New("job still running")
