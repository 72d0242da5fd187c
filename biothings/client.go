// Package biothings queries BioThings annotation APIs (MyGene.info,
// MyChem.info, MyDisease.info) with their batch "querymany" endpoint.
package biothings

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/zero-day-ai/annotator/record"
)

// DefaultBatchSize is the largest number of terms a BioThings API accepts per query.
const DefaultBatchSize = 1000

// Querier is the batch lookup capability behind an annotation source.
// Each returned record carries the "query" term it matched; a term may match
// several records or none.
type Querier interface {
	QueryMany(ctx context.Context, ids, scopes, fields []string) ([]record.Record, error)
}

// QuerierFunc adapts a function to the Querier interface.
type QuerierFunc func(ctx context.Context, ids, scopes, fields []string) ([]record.Record, error)

// QueryMany calls f.
func (f QuerierFunc) QueryMany(ctx context.Context, ids, scopes, fields []string) ([]record.Record, error) {
	return f(ctx, ids, scopes, fields)
}

// StatusError is returned when the API answers with a non-2xx status.
type StatusError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("biothings: %s returned status %d", e.Endpoint, e.StatusCode)
	}
	return fmt.Sprintf("biothings: %s returned status %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

// Options configures a Client.
type Options struct {
	// Endpoint is the API base URL, e.g. "https://mygene.info/v3".
	Endpoint string

	// Timeout bounds each HTTP request. Default: 30s.
	Timeout time.Duration

	// BatchSize caps the number of terms per request. Default: DefaultBatchSize.
	BatchSize int

	// HTTPClient overrides the HTTP client. Timeout is ignored when set.
	HTTPClient *http.Client

	// Logger receives debug output. Default: slog.Default().
	Logger *slog.Logger
}

// Client is a Querier backed by a BioThings REST API.
type Client struct {
	endpoint  string
	batchSize int
	client    *http.Client
	logger    *slog.Logger
}

// NewClient creates a client for the API at opts.Endpoint.
func NewClient(opts Options) (*Client, error) {
	if opts.Endpoint == "" {
		return nil, fmt.Errorf("biothings: endpoint is required")
	}
	if _, err := url.Parse(opts.Endpoint); err != nil {
		return nil, fmt.Errorf("biothings: invalid endpoint %q: %w", opts.Endpoint, err)
	}

	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}

	return &Client{
		endpoint:  strings.TrimRight(opts.Endpoint, "/"),
		batchSize: opts.BatchSize,
		client:    httpClient,
		logger:    opts.Logger,
	}, nil
}

// Endpoint returns the API base URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// QueryMany looks up ids against scopes, requesting fields. Terms are sent in
// batches of at most BatchSize and results are concatenated in request order.
func (c *Client) QueryMany(ctx context.Context, ids, scopes, fields []string) ([]record.Record, error) {
	var out []record.Record

	for start := 0; start < len(ids); start += c.batchSize {
		end := start + c.batchSize
		if end > len(ids) {
			end = len(ids)
		}

		batch, err := c.query(ctx, ids[start:end], scopes, fields)
		if err != nil {
			return nil, err
		}

		c.logger.Debug("biothings batch done",
			"endpoint", c.endpoint,
			"from", start,
			"to", end,
			"records", len(batch),
		)
		out = append(out, batch...)
	}

	return out, nil
}

func (c *Client) query(ctx context.Context, ids, scopes, fields []string) ([]record.Record, error) {
	form := url.Values{}
	form.Set("q", strings.Join(ids, ","))
	if len(scopes) > 0 {
		form.Set("scopes", strings.Join(scopes, ","))
	}
	if len(fields) > 0 {
		form.Set("fields", strings.Join(fields, ","))
	}

	queryURL := c.endpoint + "/query"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, queryURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to %s: %w", queryURL, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.Warn("failed to close resource", "resource", "BioThings HTTP response", "error", err)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{
			Endpoint:   queryURL,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	var records []record.Record
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, fmt.Errorf("failed to decode response from %s: %w", queryURL, err)
	}

	return records, nil
}
