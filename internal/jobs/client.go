package jobs

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
	"strings"
	"time"

	"demoreel/internal/hmacauth"
	"demoreel/internal/logger"
	"demoreel/internal/metrics"
)

type ClientConfig struct {
	BaseURL    string
	HMACSecret string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
	Metrics    *metrics.Registry
}

// Client talks to the job API. It never retries a submission.
type Client struct {
	baseURL    string
	hmacSecret string
	http       *http.Client
	log        *slog.Logger
	metrics    *metrics.Registry
}

func NewClient(cfg ClientConfig) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		hmacSecret: cfg.HMACSecret,
		http:       hc,
		log:        logger.Component(cfg.Logger, "jobs"),
		metrics:    cfg.Metrics,
	}
}

type generateResponse struct {
	Success       *bool           `json:"success"`
	JobID         string          `json:"jobId"`
	Status        string          `json:"status"`
	EstimatedTime json.RawMessage `json:"estimatedTime"`
	StatusURL     string          `json:"statusUrl"`
	Error         string          `json:"error"`
	Message       string          `json:"message"`
}

type statusResponse struct {
	JobID    string  `json:"jobId"`
	Status   string  `json:"status"`
	Progress float64 `json:"progress"`
	Error    string  `json:"error"`
	Data     *struct {
		DownloadURL string  `json:"downloadUrl"`
		Duration    float64 `json:"duration"`
		Size        int64   `json:"size"`
	} `json:"data"`
}

// Submit sends exactly one POST /generate for req.
func (c *Client) Submit(ctx context.Context, req GenerationRequest) (Handle, error) {
	if err := ValidateRepositoryURL(req.Repository()); err != nil {
		c.metrics.IncSubmission(req.variant(), "invalid")
		return Handle{}, err
	}
	if paid, ok := req.(PaidGeneration); ok && (paid.PaymentSignature == "" || paid.PayerAddress == "") {
		c.metrics.IncSubmission(req.variant(), "invalid")
		return Handle{}, fmt.Errorf("%w: paid request needs payment signature and payer address", ErrSubmissionRejected)
	}

	payload, err := json.Marshal(req.body())
	if err != nil {
		return Handle{}, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generate", bytes.NewReader(payload))
	if err != nil {
		return Handle{}, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if err := hmacauth.Sign(httpReq, c.hmacSecret, time.Now()); err != nil {
		return Handle{}, fmt.Errorf("sign request: %w", err)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.metrics.IncSubmission(req.variant(), "unreachable")
		return Handle{}, fmt.Errorf("%w: %w", ErrBackendUnreachable, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	switch {
	case resp.StatusCode >= 500:
		c.metrics.IncSubmission(req.variant(), "unreachable")
		return Handle{}, fmt.Errorf("%w: backend returned %d", ErrBackendUnreachable, resp.StatusCode)
	case resp.StatusCode >= 400:
		c.metrics.IncSubmission(req.variant(), "rejected")
		return Handle{}, fmt.Errorf("%w: %s", ErrSubmissionRejected, reason(resp.StatusCode, raw))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		c.metrics.IncSubmission(req.variant(), "unreachable")
		return Handle{}, fmt.Errorf("%w: unexpected status %d", ErrBackendUnreachable, resp.StatusCode)
	}

	var body generateResponse
	if err := json.Unmarshal(raw, &body); err != nil {
		c.metrics.IncSubmission(req.variant(), "malformed")
		return Handle{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if body.Success != nil && !*body.Success {
		c.metrics.IncSubmission(req.variant(), "rejected")
		return Handle{}, fmt.Errorf("%w: %s", ErrSubmissionRejected, firstNonEmpty(body.Error, body.Message, "backend reported failure"))
	}
	if body.JobID == "" {
		c.metrics.IncSubmission(req.variant(), "malformed")
		return Handle{}, fmt.Errorf("%w: missing jobId", ErrMalformedResponse)
	}

	c.metrics.IncSubmission(req.variant(), "accepted")
	c.log.Info("job submitted", "job_id", body.JobID, "variant", req.variant())
	return Handle{
		ID:            body.JobID,
		Status:        body.Status,
		EstimatedTime: strings.Trim(string(body.EstimatedTime), `"`),
		StatusURL:     body.StatusURL,
	}, nil
}

// Status fetches one snapshot of jobID.
func (c *Client) Status(ctx context.Context, jobID string) (Snapshot, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status/"+url.PathEscape(jobID), nil)
	if err != nil {
		return Snapshot{}, fmt.Errorf("build request: %w", err)
	}
	if err := hmacauth.Sign(httpReq, c.hmacSecret, time.Now()); err != nil {
		return Snapshot{}, fmt.Errorf("sign request: %w", err)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: %w", ErrBackendUnreachable, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode == http.StatusNotFound {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Snapshot{}, fmt.Errorf("%w: status query returned %d", ErrBackendUnreachable, resp.StatusCode)
	}

	var body statusResponse
	if err := json.Unmarshal(raw, &body); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	state, err := parseState(body.Status)
	if err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{
		JobID:      firstNonEmpty(body.JobID, jobID),
		State:      state,
		Progress:   clampProgress(body.Progress),
		Error:      body.Error,
		ObservedAt: time.Now(),
	}
	if state == StateCompleted && body.Data != nil {
		snap.Result = &Result{
			DownloadURL: body.Data.DownloadURL,
			Duration:    body.Data.Duration,
			Size:        body.Data.Size,
		}
	}
	return snap, nil
}

// Ping checks that the backend answers HTTP at all.
func (c *Client) Ping(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBackendUnreachable, err)
	}
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: backend returned %d", ErrBackendUnreachable, resp.StatusCode)
	}
	return nil
}

func reason(status int, raw []byte) string {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		if r := firstNonEmpty(body.Error, body.Message); r != "" {
			return r
		}
	}
	text := strings.TrimSpace(string(raw))
	if len(text) > 200 {
		text = text[:200]
	}
	if text == "" {
		return fmt.Sprintf("backend returned %d", status)
	}
	return text
}

func clampProgress(p float64) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return int(p)
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// IsTransient reports whether a status query failure should be retried on the next tick.
func IsTransient(err error) bool {
	return err != nil && !errors.Is(err, ErrJobNotFound)
}
