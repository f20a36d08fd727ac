package wallet

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

func TestFakeSignerIsDeterministic(t *testing.T) {
	a := NewFakeSigner("alice")
	b := NewFakeSigner("alice")
	if a.Address() != b.Address() {
		t.Fatalf("expected same address for same seed")
	}
	if a.Address() == NewFakeSigner("bob").Address() {
		t.Fatalf("expected different address for different seed")
	}
}

func TestFakeSignerConnectFailures(t *testing.T) {
	ctx := context.Background()

	f := NewFakeSigner("x")
	f.SetUnavailable(true)
	if _, err := f.Connect(ctx); !errors.Is(err, ErrWalletUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}

	f = NewFakeSigner("x")
	f.SetRejectConnect(true)
	if _, err := f.Connect(ctx); !errors.Is(err, ErrWalletRejected) {
		t.Fatalf("expected rejected, got %v", err)
	}
}

func TestKeySignerSignsForOwnAddressOnly(t *testing.T) {
	ctx := context.Background()
	f := NewFakeSigner("signer")
	session, err := f.Connect(ctx)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if !session.Connected() {
		t.Fatalf("expected connected session")
	}

	chainID := big.NewInt(1337)
	to := common.HexToAddress("0x2222222222222222222222222222222222222222")
	tx := types.NewTx(&types.LegacyTx{Nonce: 1, GasPrice: big.NewInt(1), Gas: 21000, To: &to, Value: big.NewInt(10)})

	signed, err := f.SignTransaction(ctx, session, tx, chainID)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	sender, err := types.Sender(types.LatestSignerForChainID(chainID), signed)
	if err != nil {
		t.Fatalf("recover sender: %v", err)
	}
	if sender != session.Address {
		t.Fatalf("expected sender %s got %s", session.Address.Hex(), sender.Hex())
	}

	other := Session{Address: to}
	if _, err := f.SignTransaction(ctx, other, tx, chainID); !errors.Is(err, ErrSignatureRejected) {
		t.Fatalf("expected rejection for foreign session, got %v", err)
	}
}

func TestFakeSignerRejectSign(t *testing.T) {
	f := NewFakeSigner("r")
	f.SetRejectSign(true)
	_, err := f.SignTransaction(context.Background(), f.Address(), types.NewTx(&types.LegacyTx{}), big.NewInt(1))
	if !errors.Is(err, ErrSignatureRejected) {
		t.Fatalf("expected signature rejected, got %v", err)
	}
	if f.SignCalls() != 1 {
		t.Fatalf("expected exactly one sign call, got %d", f.SignCalls())
	}
}

func TestFakeSignerTogglesDuringConcurrentUse(t *testing.T) {
	ctx := context.Background()
	f := NewFakeSigner("toggle")
	tx := types.NewTx(&types.LegacyTx{Gas: 21000, GasPrice: big.NewInt(1)})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.Connect(ctx)
			_, _ = f.SignTransaction(ctx, f.Address(), tx, big.NewInt(1))
		}()
	}
	f.SetUnavailable(true)
	f.SetRejectSign(true)
	wg.Wait()

	if _, err := f.Connect(ctx); !errors.Is(err, ErrWalletUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
	if _, err := f.SignTransaction(ctx, f.Address(), tx, big.NewInt(1)); !errors.Is(err, ErrSignatureRejected) {
		t.Fatalf("expected signature rejected, got %v", err)
	}

	f.SetUnavailable(false)
	f.SetRejectSign(false)
	if _, err := f.SignTransaction(ctx, f.Address(), tx, big.NewInt(1)); err != nil {
		t.Fatalf("sign after clearing toggle: %v", err)
	}
	if f.SignCalls() != 10 {
		t.Fatalf("expected 10 sign calls, got %d", f.SignCalls())
	}
}

func TestSessionShort(t *testing.T) {
	s := Session{Address: common.HexToAddress("0xAbCdEf0000000000000000000000000000001234")}
	hex := s.Address.Hex()
	if got := s.Short(); got != hex[:6]+"..."+"1234" || len(got) != 13 {
		t.Fatalf("unexpected short form %q", got)
	}
	if (Session{}).Short() != "" {
		t.Fatalf("expected empty short form for absent session")
	}
}

func TestExternalSignerWithoutEndpointIsUnavailable(t *testing.T) {
	_, err := NewExternalSigner("").Connect(context.Background())
	if !errors.Is(err, ErrWalletUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}
