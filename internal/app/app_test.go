package app

import (
	"context"
	"math/big"
	"testing"

	"demoreel/internal/config"
	"demoreel/internal/logger"
	"demoreel/internal/payment"
	"demoreel/internal/wallet"
)

func TestNewFallsBackToSimulatedNetwork(t *testing.T) {
	cfg := &config.AppConfig{
		Payment: config.PaymentConfig{PriceWei: big.NewInt(1)},
		Ledger:  config.LedgerConfig{Driver: "memory"},
	}
	a, err := New(context.Background(), cfg, logger.Discard())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer a.Close()

	if _, ok := a.Network.(*payment.FakeNetwork); !ok {
		t.Fatalf("expected simulated network, got %T", a.Network)
	}
	session, err := a.Pipeline.Connect(context.Background())
	if err != nil || !session.Connected() {
		t.Fatalf("demo signer should connect: %v", err)
	}
}

func TestNewSignerSelection(t *testing.T) {
	s, err := newSigner(config.PaymentConfig{SignerEndpoint: "http://127.0.0.1:8550"}, logger.Discard())
	if err != nil {
		t.Fatalf("external: %v", err)
	}
	if _, ok := s.(*wallet.ExternalSigner); !ok {
		t.Fatalf("expected external signer, got %T", s)
	}

	if _, err := newSigner(config.PaymentConfig{PrivateKey: "zz"}, logger.Discard()); err == nil {
		t.Fatalf("expected invalid private key error")
	}
}

func TestNewRejectsUnknownLedger(t *testing.T) {
	cfg := &config.AppConfig{Ledger: config.LedgerConfig{Driver: "sqlite"}}
	if _, err := New(context.Background(), cfg, logger.Discard()); err == nil {
		t.Fatalf("expected error for unknown ledger driver")
	}
}
