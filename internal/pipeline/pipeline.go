// Package pipeline runs one user request end to end: connect, pay, submit
// the job and follow it until it finishes.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"demoreel/internal/apperr"
	"demoreel/internal/jobs"
	"demoreel/internal/ledger"
	"demoreel/internal/logger"
	"demoreel/internal/metrics"
	"demoreel/internal/payment"
	"demoreel/internal/wallet"
)

const ledgerWriteTimeout = 5 * time.Second

// JobSubmitter sends generation requests. *jobs.Client implements it.
type JobSubmitter interface {
	Submit(ctx context.Context, req jobs.GenerationRequest) (jobs.Handle, error)
}

type Config struct {
	Recipient        common.Address
	Price            *big.Int
	MaxBlockAge      time.Duration
	ConfirmTimeout   time.Duration
	ConfirmPoll      time.Duration
	MinConfirmations uint64
	PollInterval     time.Duration
	PollTimeout      time.Duration
}

type Deps struct {
	Network   payment.Network
	Signer    wallet.Signer
	Jobs      JobSubmitter
	Status    jobs.StatusSource
	Ledger    ledger.Store
	Projector *Projector
	Metrics   *metrics.Registry
	Logger    *slog.Logger
}

// Request is one button press.
type Request struct {
	GithubURL string
	Free      bool
}

// Outcome is what a successful run produced.
type Outcome struct {
	JobID       string
	State       jobs.State
	DownloadURL string
	Signature   string
}

type Pipeline struct {
	cfg         Config
	signer      wallet.Signer
	constructor *payment.Constructor
	submitter   *payment.Submitter
	jobs        JobSubmitter
	poller      *jobs.Poller
	ledger      ledger.Store
	proj        *Projector
	metrics     *metrics.Registry
	log         *slog.Logger
}

func New(cfg Config, d Deps) *Pipeline {
	if d.Projector == nil {
		d.Projector = NewProjector(d.Metrics)
	}
	if d.Ledger == nil {
		d.Ledger = ledger.NewMemoryStore()
	}
	log := logger.Component(d.Logger, "pipeline")
	p := &Pipeline{
		cfg:         cfg,
		signer:      d.Signer,
		constructor: &payment.Constructor{Network: d.Network, MaxAge: cfg.MaxBlockAge},
		jobs:        d.Jobs,
		poller:      jobs.NewPoller(d.Status, d.Logger, d.Metrics),
		ledger:      d.Ledger,
		proj:        d.Projector,
		metrics:     d.Metrics,
		log:         log,
	}
	p.submitter = payment.NewSubmitter(d.Network, d.Signer, payment.SubmitterConfig{
		ConfirmTimeout:   cfg.ConfirmTimeout,
		PollInterval:     cfg.ConfirmPoll,
		MinConfirmations: cfg.MinConfirmations,
		Observer:         p.onPaymentState,
		Logger:           d.Logger,
	})
	return p
}

func (p *Pipeline) Projector() *Projector { return p.proj }

// Connect asks the wallet for an address. The returned session is the only
// place the address lives; callers pass it back into Generate.
func (p *Pipeline) Connect(ctx context.Context) (wallet.Session, error) {
	if p.signer == nil {
		return wallet.Session{}, wallet.ErrWalletUnavailable
	}
	session, err := p.signer.Connect(ctx)
	if err != nil {
		p.proj.Update(func(v *View) {
			v.Wallet = ""
			v.Status = "Wallet connection failed: " + apperr.Describe(err)
			v.ErrorKind = apperr.Kind(err)
		})
		return wallet.Session{}, err
	}
	p.proj.Update(func(v *View) {
		v.Wallet = session.Address.Hex()
		v.Status = "Wallet connected: " + session.Short()
		v.ErrorKind = ""
	})
	return session, nil
}

// Generate runs one request. It returns apperr.ErrBusy without side effects
// while another run is in flight.
func (p *Pipeline) Generate(ctx context.Context, session wallet.Session, req Request) (Outcome, error) {
	if !p.proj.TryBegin() {
		return Outcome{}, apperr.ErrBusy
	}
	return p.execute(ctx, session, req)
}

// Start claims the busy flag and runs req in the background. done, if not
// nil, receives the result.
func (p *Pipeline) Start(ctx context.Context, session wallet.Session, req Request, done func(Outcome, error)) error {
	if !p.proj.TryBegin() {
		return apperr.ErrBusy
	}
	go func() {
		out, err := p.execute(ctx, session, req)
		if done != nil {
			done(out, err)
		}
	}()
	return nil
}

func (p *Pipeline) execute(ctx context.Context, session wallet.Session, req Request) (Outcome, error) {
	defer p.proj.End()

	out, err := p.run(ctx, session, req)
	p.metrics.IncPipeline(apperr.Kind(err))
	if err != nil {
		p.log.Warn("pipeline failed", "kind", apperr.Kind(err), "money_may_have_moved", apperr.MoneyMayHaveMoved(err), "error", err)
		p.proj.Update(func(v *View) {
			v.Status = apperr.Describe(err)
			v.ErrorKind = apperr.Kind(err)
			if sig := apperr.Signature(err); sig != "" {
				v.PaymentSignature = sig
			}
		})
	}
	return out, err
}

func (p *Pipeline) run(ctx context.Context, session wallet.Session, req Request) (Outcome, error) {
	if err := jobs.ValidateRepositoryURL(req.GithubURL); err != nil {
		return Outcome{}, err
	}

	if req.Free {
		p.proj.SetStatus("Submitting free sample request...")
		handle, err := p.jobs.Submit(ctx, jobs.FreeSample{GithubURL: req.GithubURL})
		if err != nil {
			return Outcome{}, err
		}
		return p.follow(ctx, handle, "")
	}

	if !session.Connected() {
		return Outcome{}, apperr.ErrNoWalletSession
	}

	result, err := p.pay(ctx, session, req)
	if err != nil {
		return Outcome{}, err
	}

	handle, err := p.submitPaid(ctx, session, req, result)
	if err != nil {
		return Outcome{Signature: result.Signature}, &apperr.PaidError{Signature: result.Signature, Err: err}
	}

	out, err := p.follow(ctx, handle, result.Signature)
	if err != nil {
		return out, &apperr.PaidError{Signature: result.Signature, Err: err}
	}
	return out, nil
}

func (p *Pipeline) pay(ctx context.Context, session wallet.Session, req Request) (payment.Result, error) {
	p.proj.SetStatus("Processing payment...")
	preq, err := p.constructor.Build(ctx, session.Address, p.cfg.Recipient, p.cfg.Price)
	if err != nil {
		p.metrics.IncPayment("build_failed")
		return payment.Result{}, err
	}

	result, err := p.submitter.Submit(ctx, session, preq)
	if err != nil {
		var perr *payment.Error
		if errors.As(err, &perr) {
			p.metrics.IncPayment(perr.State.String())
			if perr.MayHaveMoved() {
				p.record(ctx, ledger.Record{
					Signature: perr.Signature,
					Payer:     session.Address.Hex(),
					GithubURL: req.GithubURL,
					Outcome:   ledger.OutcomeUnknown,
					Reason:    perr.Err.Error(),
				})
				p.proj.Update(func(v *View) {
					v.PaymentSignature = perr.Signature
					v.PaymentOutcome = string(ledger.OutcomeUnknown)
				})
			}
		}
		return payment.Result{}, err
	}

	p.metrics.IncPayment(payment.Confirmed.String())
	p.record(ctx, ledger.Record{
		Signature: result.Signature,
		Payer:     session.Address.Hex(),
		GithubURL: req.GithubURL,
		Outcome:   ledger.OutcomeConfirmed,
	})
	p.proj.Update(func(v *View) {
		v.Status = "Payment confirmed! Generating video..."
		v.PaymentSignature = result.Signature
		v.PaymentOutcome = string(ledger.OutcomeConfirmed)
	})
	return result, nil
}

func (p *Pipeline) submitPaid(ctx context.Context, session wallet.Session, req Request, result payment.Result) (jobs.Handle, error) {
	if err := ledger.CheckUnused(ctx, p.ledger, result.Signature); err != nil {
		if errors.Is(err, ledger.ErrSignatureConsumed) {
			return jobs.Handle{}, err
		}
		p.log.Warn("ledger check failed", "tx", result.Signature, "error", err)
	}

	handle, err := p.jobs.Submit(ctx, jobs.PaidGeneration{
		GithubURL:        req.GithubURL,
		PaymentSignature: result.Signature,
		PayerAddress:     session.Address.Hex(),
	})
	if err != nil {
		if errors.Is(err, jobs.ErrSubmissionRejected) {
			p.record(ctx, ledger.Record{
				Signature: result.Signature,
				Payer:     session.Address.Hex(),
				GithubURL: req.GithubURL,
				Outcome:   ledger.OutcomeRejected,
				Reason:    err.Error(),
			})
		}
		return jobs.Handle{}, err
	}

	bctx, cancel := ledgerContext(ctx)
	defer cancel()
	if err := ledger.Bind(bctx, p.ledger, result.Signature, handle.ID, time.Now().UTC()); err != nil {
		p.log.Warn("ledger bind failed", "tx", result.Signature, "job_id", handle.ID, "error", err)
	}
	p.proj.Update(func(v *View) { v.PaymentOutcome = string(ledger.OutcomeConsumed) })
	return handle, nil
}

// follow polls the job until it finishes and projects every snapshot.
func (p *Pipeline) follow(ctx context.Context, handle jobs.Handle, signature string) (Outcome, error) {
	out := Outcome{JobID: handle.ID, Signature: signature}
	p.proj.Update(func(v *View) {
		v.JobID = handle.ID
		v.State = jobs.StateQueued
		v.Status = "Video generation started! Job ID: " + handle.ID
	})

	deadline := time.Now().Add(p.cfg.PollTimeout)
	for snap, err := range p.poller.Poll(ctx, handle.ID, p.cfg.PollInterval, deadline) {
		if err != nil {
			return out, err
		}
		out.State = snap.State
		p.proj.Update(func(v *View) {
			v.State = snap.State
			v.Progress = snap.Progress
			v.Status = fmt.Sprintf("Rendering %s: %s (%d%%)", handle.ID, snap.State, snap.Progress)
		})

		switch snap.State {
		case jobs.StateCompleted:
			if snap.Result != nil {
				out.DownloadURL = snap.Result.DownloadURL
			}
			p.proj.Update(func(v *View) {
				v.DownloadURL = out.DownloadURL
				v.Status = "Video ready: " + out.DownloadURL
			})
			return out, nil
		case jobs.StateFailed:
			reason := snap.Error
			if reason == "" {
				reason = "rendering pipeline reported failure"
			}
			return out, fmt.Errorf("%w: job %s: %s", apperr.ErrJobFailed, handle.ID, reason)
		}
	}
	return out, fmt.Errorf("%w: job %s", jobs.ErrPollTimeout, handle.ID)
}

func (p *Pipeline) onPaymentState(_, to payment.State) {
	var status string
	switch to {
	case payment.AwaitingSignature:
		status = "Please approve the transaction in your wallet..."
	case payment.AwaitingBroadcastAck:
		status = "Sending payment to the network..."
	case payment.AwaitingConfirmation:
		status = "Confirming payment..."
	default:
		return
	}
	p.proj.SetStatus(status)
}

// ledgerContext outlives cancellation of ctx. Payment evidence is written
// most often right when the run is being cancelled.
func ledgerContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), ledgerWriteTimeout)
}

func (p *Pipeline) record(ctx context.Context, rec ledger.Record) {
	ctx, cancel := ledgerContext(ctx)
	defer cancel()

	now := time.Now().UTC()
	if existing, err := p.ledger.Get(ctx, rec.Signature); err == nil && existing != nil {
		rec.CreatedAt = existing.CreatedAt
		if rec.JobID == "" {
			rec.JobID = existing.JobID
		}
	} else {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	if err := p.ledger.Save(ctx, rec); err != nil {
		p.log.Warn("ledger write failed", "tx", rec.Signature, "outcome", rec.Outcome, "error", err)
	}
}
