package jobs

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

var (
	ErrSubmissionRejected = errors.New("job submission rejected")
	ErrBackendUnreachable = errors.New("job backend unreachable")
	ErrJobNotFound        = errors.New("job not found")
	ErrPollTimeout        = errors.New("job did not finish before the polling deadline")
	ErrMalformedResponse  = errors.New("malformed backend response")
)

// GenerationRequest is either FreeSample or PaidGeneration.
type GenerationRequest interface {
	Repository() string
	variant() string
	body() generateRequest
}

// FreeSample asks for the free tier. It carries no payment proof.
type FreeSample struct {
	GithubURL string
}

func (f FreeSample) Repository() string { return f.GithubURL }
func (FreeSample) variant() string      { return "free" }
func (f FreeSample) body() generateRequest {
	return generateRequest{GithubURL: f.GithubURL, IsFree: true}
}

// PaidGeneration carries the confirmed payment's transaction hash and the payer.
type PaidGeneration struct {
	GithubURL        string
	PaymentSignature string
	PayerAddress     string
}

func (p PaidGeneration) Repository() string { return p.GithubURL }
func (PaidGeneration) variant() string      { return "paid" }
func (p PaidGeneration) body() generateRequest {
	return generateRequest{
		GithubURL:        p.GithubURL,
		PaymentSignature: p.PaymentSignature,
		WalletAddress:    p.PayerAddress,
	}
}

type generateRequest struct {
	GithubURL        string `json:"githubUrl"`
	PaymentSignature string `json:"paymentSignature,omitempty"`
	WalletAddress    string `json:"walletAddress,omitempty"`
	IsFree           bool   `json:"isFree,omitempty"`
}

// Handle is what the backend returns for an accepted submission.
type Handle struct {
	ID            string
	Status        string
	EstimatedTime string
	StatusURL     string
}

// State is a backend job state.
type State string

const (
	StateQueued    State = "queued"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

func parseState(raw string) (State, error) {
	switch s := State(strings.ToLower(strings.TrimSpace(raw))); s {
	case StateQueued, StateActive, StateCompleted, StateFailed:
		return s, nil
	default:
		return "", fmt.Errorf("%w: unknown job status %q", ErrMalformedResponse, raw)
	}
}

// Result is the finished artifact. Present only on completed jobs.
type Result struct {
	DownloadURL string
	Duration    float64
	Size        int64
}

// Snapshot is one observation of a job.
type Snapshot struct {
	JobID      string
	State      State
	Progress   int
	Result     *Result
	Error      string
	ObservedAt time.Time
}

// ValidateRepositoryURL checks only that raw is an absolute http(s) URL with a host.
func ValidateRepositoryURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("%w: malformed repository url: %v", ErrSubmissionRejected, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: malformed repository url %q", ErrSubmissionRejected, raw)
	}
	return nil
}
