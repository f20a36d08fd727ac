// Package app wires configuration into a ready pipeline. Both binaries use it.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"demoreel/internal/config"
	"demoreel/internal/jobs"
	"demoreel/internal/ledger"
	"demoreel/internal/metrics"
	"demoreel/internal/payment"
	"demoreel/internal/pipeline"
	"demoreel/internal/wallet"
)

// simulatedChainID is the chain id reported by the in-memory network.
const simulatedChainID = 1337

type App struct {
	Pipeline *pipeline.Pipeline
	Network  payment.Network
	Jobs     *jobs.Client
	Ledger   ledger.Store
	Metrics  *metrics.Registry

	closers []func()
}

// New opens the ledger, dials the network and picks a signer. An empty
// network endpoint selects the simulated network; with neither a signer
// endpoint nor a private key the deterministic demo signer is used.
func New(ctx context.Context, cfg *config.AppConfig, log *slog.Logger) (*App, error) {
	a := &App{Metrics: metrics.New()}

	store, closeStore, err := ledger.Open(ctx, cfg.Ledger)
	if err != nil {
		return nil, err
	}
	a.Ledger = store
	a.closers = append(a.closers, closeStore)

	if cfg.Payment.NetworkEndpoint == "" {
		log.Warn("no network endpoint configured, using simulated network", "chain_id", simulatedChainID)
		a.Network = payment.NewFakeNetwork(simulatedChainID)
	} else {
		client, err := payment.Dial(ctx, cfg.Payment.NetworkEndpoint)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Network = client
		a.closers = append(a.closers, client.Close)
	}

	signer, err := newSigner(cfg.Payment, log)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Jobs = jobs.NewClient(jobs.ClientConfig{
		BaseURL:    cfg.Backend.URL,
		HMACSecret: cfg.Backend.HMACSecret,
		Timeout:    cfg.Backend.RequestTimeout,
		Logger:     log,
		Metrics:    a.Metrics,
	})

	a.Pipeline = pipeline.New(pipeline.Config{
		Recipient:        cfg.Payment.Recipient,
		Price:            cfg.Payment.PriceWei,
		MaxBlockAge:      cfg.Payment.MaxBlockAge,
		ConfirmTimeout:   cfg.Payment.ConfirmTimeout,
		ConfirmPoll:      cfg.Payment.ConfirmPollInterval,
		MinConfirmations: cfg.Payment.MinConfirmations,
		PollInterval:     cfg.Polling.Interval,
		PollTimeout:      cfg.Polling.Timeout,
	}, pipeline.Deps{
		Network: a.Network,
		Signer:  signer,
		Jobs:    a.Jobs,
		Status:  a.Jobs,
		Ledger:  a.Ledger,
		Metrics: a.Metrics,
		Logger:  log,
	})
	return a, nil
}

func newSigner(cfg config.PaymentConfig, log *slog.Logger) (wallet.Signer, error) {
	switch {
	case cfg.SignerEndpoint != "":
		log.Info("using external signer", "endpoint", cfg.SignerEndpoint)
		return wallet.NewExternalSigner(cfg.SignerEndpoint), nil
	case cfg.PrivateKey != "":
		signer, err := wallet.NewKeySigner(cfg.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("key signer: %w", err)
		}
		return signer, nil
	default:
		log.Warn("no signer configured, using demo signer")
		return wallet.NewFakeSigner("demoreel"), nil
	}
}

// Close releases everything New opened, in reverse order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
