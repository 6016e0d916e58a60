// Package brightdata provides a client for the BrightData dataset API.
package brightdata

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/providers"
)

const (
	// DefaultBaseURL is the base URL for the BrightData API.
	DefaultBaseURL = "https://api.brightdata.com"

	// DefaultTimeout is the default HTTP timeout for a single request.
	DefaultTimeout = 60 * time.Second

	// DefaultRateLimit is the default rate limit (requests per second).
	DefaultRateLimit = 5

	// triggerRetries is the number of extra trigger attempts after a
	// network-layer failure. Backoff between attempts is linear.
	triggerRetries = 2

	// triggerBackoffStep is the linear backoff unit between trigger retries.
	triggerBackoffStep = 5 * time.Second
)

// PollPlan is the cadence and total budget for polling one snapshot.
type PollPlan struct {
	InitialWait time.Duration
	Interval    time.Duration
	Budget      time.Duration
}

// Profile snapshots are small and finish within a minute or two; bulk
// post/reel snapshots need a longer warm-up and a much larger budget.
var defaultPlans = map[interfaces.SnapshotSize]PollPlan{
	interfaces.SnapshotSmall: {InitialWait: 30 * time.Second, Interval: 15 * time.Second, Budget: 10 * time.Minute},
	interfaces.SnapshotLarge: {InitialWait: 120 * time.Second, Interval: 30 * time.Second, Budget: 30 * time.Minute},
}

// Client is a BrightData dataset API client.
type Client struct {
	baseURL     string
	apiToken    string
	httpClient  *http.Client
	logger      arbor.ILogger
	limiter     *rate.Limiter
	plans       map[interfaces.SnapshotSize]PollPlan
	backoffStep time.Duration
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithBaseURL sets a custom base URL.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithLogger sets a logger.
func WithLogger(logger arbor.ILogger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRateLimit sets a custom rate limit. Non-positive values keep the
// default.
func WithRateLimit(requestsPerSecond int) ClientOption {
	return func(c *Client) {
		if requestsPerSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
		}
	}
}

// WithPollPlan overrides the poll cadence for one snapshot size.
func WithPollPlan(size interfaces.SnapshotSize, plan PollPlan) ClientOption {
	return func(c *Client) {
		c.plans[size] = plan
	}
}

// WithTriggerBackoff overrides the linear backoff unit between trigger
// retries.
func WithTriggerBackoff(step time.Duration) ClientOption {
	return func(c *Client) {
		c.backoffStep = step
	}
}

// NewClient creates a new BrightData API client.
func NewClient(apiToken string, opts ...ClientOption) *Client {
	plans := make(map[interfaces.SnapshotSize]PollPlan, len(defaultPlans))
	for size, plan := range defaultPlans {
		plans[size] = plan
	}

	c := &Client{
		baseURL:  DefaultBaseURL,
		apiToken: apiToken,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter:     rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		plans:       plans,
		backoffStep: triggerBackoffStep,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Ensure Client satisfies the acquisition contract
var _ interfaces.AcquisitionProvider = (*Client)(nil)

// Trigger submits an acquisition run and returns its snapshot ID. Network
// failures and provider 5xx responses are retried with linear backoff;
// 4xx responses mean the target itself is bad and are not retried.
func (c *Client) Trigger(ctx context.Context, datasetID string, input []map[string]interface{}) (string, error) {
	body, err := json.Marshal(input)
	if err != nil {
		return "", fmt.Errorf("failed to encode trigger input: %w", err)
	}

	params := url.Values{}
	params.Set("dataset_id", datasetID)
	params.Set("include_errors", "true")
	triggerURL := fmt.Sprintf("%s/datasets/v3/trigger?%s", c.baseURL, params.Encode())

	var lastErr error
	for attempt := 0; attempt <= triggerRetries; attempt++ {
		if attempt > 0 {
			// Linear backoff between attempts, interruptible by ctx
			delay := time.Duration(attempt) * c.backoffStep
			if c.logger != nil {
				c.logger.Warn().
					Err(lastErr).
					Str("dataset_id", datasetID).
					Int("attempt", attempt).
					Str("delay", delay.String()).
					Msg("Retrying snapshot trigger")
			}
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
		}

		snapshotID, retryable, err := c.triggerOnce(ctx, triggerURL, body)
		if err == nil {
			if c.logger != nil {
				c.logger.Debug().
					Str("dataset_id", datasetID).
					Str("snapshot_id", snapshotID).
					Msg("Snapshot triggered")
			}
			return snapshotID, nil
		}
		if !retryable {
			return "", err
		}
		lastErr = err
	}

	return "", fmt.Errorf("%w: trigger failed after %d attempts: %v", providers.ErrProviderUnavailable, triggerRetries+1, lastErr)
}

func (c *Client) triggerOnce(ctx context.Context, triggerURL string, body []byte) (string, bool, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, triggerURL, bytes.NewReader(body))
	if err != nil {
		return "", false, fmt.Errorf("failed to create trigger request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", true, fmt.Errorf("trigger request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		respBody, _ := io.ReadAll(resp.Body)
		return "", true, fmt.Errorf("trigger returned status %d: %s", resp.StatusCode, string(respBody))
	}
	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		return "", false, fmt.Errorf("%w: trigger returned status %d: %s", providers.ErrInvalidTarget, resp.StatusCode, string(respBody))
	}

	var result struct {
		SnapshotID string `json:"snapshot_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", true, fmt.Errorf("failed to decode trigger response: %w", err)
	}
	if result.SnapshotID == "" {
		return "", false, fmt.Errorf("%w: trigger response missing snapshot_id", providers.ErrParsePayload)
	}

	return result.SnapshotID, false, nil
}

// Poll reports snapshot progress. A ready snapshot is fetched immediately
// and comes back with records inline, or with file URLs when the provider
// delivered the result as downloadable parts.
func (c *Client) Poll(ctx context.Context, snapshotID string) (*interfaces.PollOutcome, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	progressURL := fmt.Sprintf("%s/datasets/v3/progress/%s", c.baseURL, snapshotID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, progressURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create progress request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("progress request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return &interfaces.PollOutcome{State: interfaces.PollNotFound}, nil
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: progress returned status %d: %s", providers.ErrProviderUnavailable, resp.StatusCode, string(respBody))
	}

	var progress struct {
		Status string `json:"status"`
		Error  string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&progress); err != nil {
		return nil, fmt.Errorf("failed to decode progress response: %w", err)
	}

	switch progress.Status {
	case "ready":
		return c.fetchSnapshot(ctx, snapshotID)
	case "failed":
		reason := progress.Error
		if reason == "" {
			reason = "snapshot failed"
		}
		return &interfaces.PollOutcome{State: interfaces.PollFailed, Reason: reason}, nil
	default:
		// "running", "building", "collecting" and anything unrecognized
		return &interfaces.PollOutcome{State: interfaces.PollPending}, nil
	}
}

// fetchSnapshot downloads a ready snapshot. The provider returns either a
// JSON array of records or an object carrying file URLs for large results.
func (c *Client) fetchSnapshot(ctx context.Context, snapshotID string) (*interfaces.PollOutcome, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	snapshotURL := fmt.Sprintf("%s/datasets/v3/snapshot/%s?format=json", c.baseURL, snapshotID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, snapshotURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create snapshot request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("snapshot request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return &interfaces.PollOutcome{State: interfaces.PollNotFound}, nil
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: snapshot returned status %d: %s", providers.ErrProviderUnavailable, resp.StatusCode, string(respBody))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot body: %w", err)
	}

	records, err := decodeRecords(body)
	if err == nil {
		return &interfaces.PollOutcome{State: interfaces.PollReadyInline, Records: records}, nil
	}

	var manifest struct {
		FileURLs []string `json:"file_urls"`
	}
	if err := json.Unmarshal(body, &manifest); err == nil && len(manifest.FileURLs) > 0 {
		return &interfaces.PollOutcome{State: interfaces.PollReadyRemote, FileURLs: manifest.FileURLs}, nil
	}

	return nil, fmt.Errorf("%w: unrecognized snapshot payload", providers.ErrParsePayload)
}

// FetchRemote downloads and concatenates records from snapshot file URLs.
func (c *Client) FetchRemote(ctx context.Context, urls []string) ([]json.RawMessage, error) {
	var all []json.RawMessage
	for _, fileURL := range urls {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create file request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.apiToken)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("file download failed: %w", err)
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read file body: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("%w: file download returned status %d", providers.ErrProviderUnavailable, resp.StatusCode)
		}

		records, err := decodeRecords(body)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", providers.ErrParsePayload, err)
		}
		all = append(all, records...)
	}

	return all, nil
}

// Collect drives the full trigger/poll/fetch cycle for one snapshot.
func (c *Client) Collect(ctx context.Context, datasetID string, input []map[string]interface{}, size interfaces.SnapshotSize) ([]json.RawMessage, error) {
	plan, ok := c.plans[size]
	if !ok {
		plan = c.plans[interfaces.SnapshotSmall]
	}

	snapshotID, err := c.Trigger(ctx, datasetID, input)
	if err != nil {
		return nil, err
	}

	deadline := time.Now().Add(plan.Budget)

	// Small snapshots are sometimes ready immediately; check once before
	// settling into the planned cadence.
	records, done, err := c.pollOnce(ctx, snapshotID)
	if done || err != nil {
		return records, err
	}

	wait := plan.InitialWait
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
		wait = plan.Interval

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: snapshot %s not ready within %s", providers.ErrProviderTimeout, snapshotID, plan.Budget)
		}

		records, done, err = c.pollOnce(ctx, snapshotID)
		if done || err != nil {
			return records, err
		}

		if c.logger != nil {
			c.logger.Debug().
				Str("snapshot_id", snapshotID).
				Str("dataset_id", datasetID).
				Msg("Snapshot still pending")
		}
	}
}

// pollOnce polls once and resolves ready snapshots to records. done is true
// when the cycle is finished, successfully or not.
func (c *Client) pollOnce(ctx context.Context, snapshotID string) ([]json.RawMessage, bool, error) {
	outcome, err := c.Poll(ctx, snapshotID)
	if err != nil {
		// Transient poll errors do not burn the snapshot; keep waiting
		if errors.Is(err, providers.ErrProviderUnavailable) {
			if c.logger != nil {
				c.logger.Warn().Err(err).Str("snapshot_id", snapshotID).Msg("Snapshot poll failed, will retry")
			}
			return nil, false, nil
		}
		return nil, true, err
	}

	switch outcome.State {
	case interfaces.PollReadyInline:
		return outcome.Records, true, nil
	case interfaces.PollReadyRemote:
		records, err := c.FetchRemote(ctx, outcome.FileURLs)
		return records, true, err
	case interfaces.PollFailed:
		return nil, true, fmt.Errorf("snapshot %s failed: %s", snapshotID, outcome.Reason)
	case interfaces.PollNotFound:
		return nil, true, fmt.Errorf("%w: snapshot %s", providers.ErrNotFound, snapshotID)
	default:
		return nil, false, nil
	}
}

// decodeRecords parses a JSON array body into individual raw records.
func decodeRecords(body []byte) ([]json.RawMessage, error) {
	var records []json.RawMessage
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, fmt.Errorf("payload is not a record array: %w", err)
	}
	return records, nil
}
