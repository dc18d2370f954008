// Package cds is a client for the Copernicus Climate Data Store retrieval API.
package cds

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"go.ngs.io/climate-compiler/internal/observability"
)

// ErrMissingKey is returned by NewClient when no API key is configured.
var ErrMissingKey = errors.New("CDS API key is not configured")

// Task states reported by the retrieval API.
const (
	stateQueued    = "queued"
	stateRunning   = "running"
	stateCompleted = "completed"
	stateFailed    = "failed"
)

const (
	initialPoll = time.Second
	maxPoll     = 120 * time.Second
)

// Client issues retrieval requests and downloads their results.
type Client struct {
	endpoint   string
	uid        string
	apiKey     string
	httpClient *http.Client
	clock      clockwork.Clock
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// NewClient creates a CDS client. The key has the form "UID:APIKEY".
func NewClient(endpoint, key string, httpClient *http.Client, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) (*Client, error) {
	if strings.TrimSpace(key) == "" {
		return nil, ErrMissingKey
	}
	uid, apiKey, ok := strings.Cut(key, ":")
	if !ok {
		return nil, fmt.Errorf("CDS key must be UID:APIKEY")
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Client{
		endpoint:   strings.TrimRight(endpoint, "/"),
		uid:        uid,
		apiKey:     apiKey,
		httpClient: httpClient,
		clock:      clock,
		logger:     logger,
		metrics:    metrics,
	}, nil
}

// Clock returns the time source used for polling.
func (c *Client) Clock() clockwork.Clock { return c.clock }

// task is the retrieval API's reply for submit and status calls.
type task struct {
	State         string     `json:"state"`
	RequestID     string     `json:"request_id"`
	Location      string     `json:"location"`
	ContentLength int64      `json:"content_length"`
	Error         *taskError `json:"error,omitempty"`
}

type taskError struct {
	Message string `json:"message"`
	Reason  string `json:"reason"`
}

func (e *taskError) String() string {
	if e == nil {
		return "unknown error"
	}
	if e.Reason != "" {
		return e.Message + ": " + e.Reason
	}
	return e.Message
}

// Retrieve submits one request for dataset, waits for it to complete and
// writes the result to target. It makes a single attempt.
func (c *Client) Retrieve(ctx context.Context, dataset string, request map[string]any, target string) error {
	start := c.clock.Now()
	n, err := c.retrieve(ctx, dataset, request, target)
	if c.metrics != nil {
		outcome := "success"
		if err != nil {
			outcome = "error"
		}
		c.metrics.DownloadsTotal.WithLabelValues(dataset, outcome).Inc()
		c.metrics.DownloadDuration.WithLabelValues(dataset).Observe(c.clock.Since(start).Seconds())
		c.metrics.DownloadBytes.WithLabelValues(dataset).Add(float64(n))
	}
	return err
}

func (c *Client) retrieve(ctx context.Context, dataset string, request map[string]any, target string) (int64, error) {
	body, err := json.Marshal(request)
	if err != nil {
		return 0, fmt.Errorf("encode request: %w", err)
	}

	t, err := c.call(ctx, http.MethodPost, c.endpoint+"/resources/"+url.PathEscape(dataset), body)
	if err != nil {
		return 0, fmt.Errorf("submit %s: %w", dataset, err)
	}
	c.logger.Info("cds request submitted", "dataset", dataset, "request_id", t.RequestID, "state", t.State)

	delay := initialPoll
	for t.State != stateCompleted {
		switch t.State {
		case stateFailed:
			return 0, fmt.Errorf("cds request %s failed: %s", t.RequestID, t.Error)
		case stateQueued, stateRunning:
		default:
			return 0, fmt.Errorf("cds request %s in unexpected state %q", t.RequestID, t.State)
		}
		if t.RequestID == "" {
			return 0, fmt.Errorf("cds returned state %q without request id", t.State)
		}

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-c.clock.After(delay):
		}
		delay = nextPoll(delay)

		id := t.RequestID
		if t, err = c.call(ctx, http.MethodGet, c.endpoint+"/tasks/"+url.PathEscape(id), nil); err != nil {
			return 0, fmt.Errorf("poll %s: %w", id, err)
		}
		if t.RequestID == "" {
			t.RequestID = id
		}
		c.logger.Debug("cds request polled", "request_id", id, "state", t.State)
	}

	n, err := c.download(ctx, t.Location, target)
	if err != nil {
		return n, fmt.Errorf("download %s: %w", t.RequestID, err)
	}
	c.logger.Info("cds result downloaded", "dataset", dataset, "request_id", t.RequestID, "target", target, "bytes", n)
	return n, nil
}

// nextPoll grows the poll interval by half, capped at maxPoll.
func nextPoll(d time.Duration) time.Duration {
	return min(d*3/2, maxPoll)
}

func (c *Client) call(ctx context.Context, method, fullURL string, body []byte) (*task, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.SetBasicAuth(c.uid, c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("cds API error: status %d: %s", resp.StatusCode, raw)
	}

	var t task
	if err := json.NewDecoder(resp.Body).Decode(&t); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &t, nil
}

func (c *Client) download(ctx context.Context, location, target string) (int64, error) {
	if location == "" {
		return 0, errors.New("completed task has no location")
	}
	base, err := url.Parse(c.endpoint + "/")
	if err != nil {
		return 0, fmt.Errorf("parse endpoint: %w", err)
	}
	ref, err := url.Parse(location)
	if err != nil {
		return 0, fmt.Errorf("parse location: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base.ResolveReference(ref).String(), nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("status %d", resp.StatusCode)
	}

	f, err := os.Create(target)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", target, err)
	}
	n, err := io.Copy(f, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, fmt.Errorf("write %s: %w", target, err)
	}
	return n, nil
}
