package nzbdav

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"usenetstreamer/pkg/logger"
	"usenetstreamer/pkg/metrics"
)

const maxResponseBytes = 8 << 20

// Options configures a Client.
type Options struct {
	BaseURL        string
	APIKey         string
	APITimeout     time.Duration
	HistoryTimeout time.Duration
	// SubmitRate caps addurl calls per second; <= 0 disables the limit.
	SubmitRate float64
	// HistoryLimit is the slot count requested per history call.
	HistoryLimit int
	// Transport overrides the outbound round tripper (tests).
	Transport http.RoundTripper
}

// Client talks to the NZBDav SABnzbd-compatible API.
type Client struct {
	baseURL      string
	apiKey       string
	historyLimit int

	client        *http.Client
	historyClient *http.Client
	limiter       *rate.Limiter
}

// NewClient creates a queue API client.
func NewClient(opts Options) *Client {
	transport := opts.Transport
	if transport == nil {
		transport = otelhttp.NewTransport(http.DefaultTransport)
	}
	limit := opts.HistoryLimit
	if limit <= 0 {
		limit = 400
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.SubmitRate > 0 {
		burst := int(opts.SubmitRate)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.SubmitRate), burst)
	}

	return &Client{
		baseURL:       strings.TrimRight(opts.BaseURL, "/"),
		apiKey:        opts.APIKey,
		historyLimit:  limit,
		client:        &http.Client{Timeout: opts.APITimeout, Transport: transport},
		historyClient: &http.Client{Timeout: opts.HistoryTimeout, Transport: transport},
		limiter:       limiter,
	}
}

// HistoryLimit returns the configured slot count per history request.
func (c *Client) HistoryLimit() int {
	return c.historyLimit
}

func (c *Client) apiURL(params url.Values) string {
	params.Set("output", "json")
	if c.apiKey != "" {
		params.Set("apikey", c.apiKey)
	}
	return c.baseURL + "/api?" + params.Encode()
}

// do performs a GET against the API and decodes the envelope. The HTTP
// status code is returned alongside so callers can classify failures.
func (c *Client) do(ctx context.Context, hc *http.Client, params url.Values) (*apiResponse, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL(params), nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 500 {
		return nil, resp.StatusCode, fmt.Errorf("server error: %s", strings.TrimSpace(truncate(string(body), 200)))
	}

	var out apiResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("decode response: %w", err)
	}
	return &out, resp.StatusCode, nil
}

// Submit hands a download reference to the queue under category and returns
// the job id the queue assigned. jobName is passed as the nzbname hint.
func (c *Client) Submit(ctx context.Context, reference, category, jobName string) (string, error) {
	reference = strings.TrimSpace(reference)
	category = strings.TrimSpace(category)
	if reference == "" {
		return "", &SubmissionError{Category: category, Reason: "missing download reference"}
	}
	if category == "" {
		return "", &SubmissionError{Reference: reference, Reason: "missing category"}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return "", &SubmissionError{Reference: reference, Category: category, Reason: "rate limit wait aborted", Err: err}
	}

	params := url.Values{}
	params.Set("mode", "addurl")
	params.Set("name", reference)
	params.Set("cat", category)
	if name := strings.TrimSpace(jobName); name != "" {
		params.Set("nzbname", name)
	}

	logger.Debug("Submitting NZB to NZBDav", "category", category, "name", jobName)
	start := time.Now()
	out, status, err := c.do(ctx, c.client, params)
	metrics.ObserveUpstream("addurl", start, err)
	if err != nil {
		metrics.SubmissionsTotal.WithLabelValues("error").Inc()
		return "", &SubmissionError{Reference: reference, Category: category, StatusCode: status, Err: err}
	}
	if !out.OK {
		metrics.SubmissionsTotal.WithLabelValues("rejected").Inc()
		reason := out.Error
		if reason == "" {
			reason = fmt.Sprintf("addurl returned status %d", status)
		}
		return "", &SubmissionError{Reference: reference, Category: category, StatusCode: status, Reason: reason}
	}
	if out.JobID == "" {
		metrics.SubmissionsTotal.WithLabelValues("rejected").Inc()
		return "", &SubmissionError{Reference: reference, Category: category, StatusCode: status, Reason: "response did not include a job id"}
	}

	metrics.SubmissionsTotal.WithLabelValues("accepted").Inc()
	logger.Info("NZB queued in NZBDav", "job_id", out.JobID, "category", category)
	return out.JobID, nil
}

// History returns up to limit history slots for category, newest first.
func (c *Client) History(ctx context.Context, category string, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = c.historyLimit
	}
	params := url.Values{}
	params.Set("mode", "history")
	params.Set("start", "0")
	params.Set("limit", strconv.Itoa(limit))
	if category != "" {
		params.Set("category", category)
	}

	start := time.Now()
	out, status, err := c.do(ctx, c.historyClient, params)
	metrics.ObserveUpstream("history", start, err)
	if err != nil {
		return nil, &HistoryError{Category: category, StatusCode: status, Err: err}
	}
	if !out.OK {
		reason := out.Error
		if reason == "" {
			reason = fmt.Sprintf("history returned status %d", status)
		}
		return nil, &HistoryError{Category: category, StatusCode: status, Reason: reason}
	}
	return out.Slots, nil
}

// CompletedHistory builds a title -> job hint index over the completed jobs
// in every category. The first slot seen for a title wins, so with the
// queue's newest-first ordering the freshest job is kept.
func (c *Client) CompletedHistory(ctx context.Context, categories []string) (map[string]JobHint, error) {
	hints := make(map[string]JobHint)
	seen := make(map[string]bool)
	var firstErr error
	for _, category := range categories {
		if category == "" || seen[category] {
			continue
		}
		seen[category] = true

		jobs, err := c.History(ctx, category, c.historyLimit)
		if err != nil {
			logger.Warn("Failed to fetch NZBDav history", "category", category, "err", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		for _, job := range jobs {
			if job.Status != StatusCompleted || job.ID == "" {
				continue
			}
			key := NormalizeTitle(job.Name)
			if key == "" {
				continue
			}
			if _, exists := hints[key]; exists {
				continue
			}
			cat := job.Category
			if cat == "" {
				cat = category
			}
			hints[key] = JobHint{JobID: job.ID, JobName: job.Name, Category: cat}
		}
	}
	if len(hints) == 0 && firstErr != nil {
		return nil, firstErr
	}
	return hints, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
