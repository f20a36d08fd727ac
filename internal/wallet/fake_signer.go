package wallet

import (
	"context"
	"crypto/sha256"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// FakeSigner derives its key from a seed so tests get a stable address.
// The Set* toggles emulate a missing wallet or a user declining and are
// safe to flip while a pipeline run is using the signer.
type FakeSigner struct {
	mu            sync.Mutex
	signer        *KeySigner
	signCalls     int
	unavailable   bool
	rejectConnect bool
	rejectSign    bool
}

func NewFakeSigner(seed string) *FakeSigner {
	sum := sha256.Sum256([]byte(seed))
	key, err := crypto.ToECDSA(sum[:])
	if err != nil {
		panic("fake signer: " + err.Error())
	}
	return &FakeSigner{signer: NewKeySignerFromKey(key)}
}

func (f *FakeSigner) Address() Session {
	return f.signer.session
}

func (f *FakeSigner) SetUnavailable(v bool) {
	f.mu.Lock()
	f.unavailable = v
	f.mu.Unlock()
}

func (f *FakeSigner) SetRejectConnect(v bool) {
	f.mu.Lock()
	f.rejectConnect = v
	f.mu.Unlock()
}

func (f *FakeSigner) SetRejectSign(v bool) {
	f.mu.Lock()
	f.rejectSign = v
	f.mu.Unlock()
}

func (f *FakeSigner) SignCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signCalls
}

func (f *FakeSigner) Connect(ctx context.Context) (Session, error) {
	f.mu.Lock()
	unavailable, reject := f.unavailable, f.rejectConnect
	f.mu.Unlock()
	switch {
	case unavailable:
		return Session{}, ErrWalletUnavailable
	case reject:
		return Session{}, ErrWalletRejected
	}
	return f.signer.Connect(ctx)
}

func (f *FakeSigner) SignTransaction(ctx context.Context, session Session, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	f.mu.Lock()
	f.signCalls++
	reject := f.rejectSign
	f.mu.Unlock()
	if reject {
		return nil, ErrSignatureRejected
	}
	return f.signer.SignTransaction(ctx, session, tx, chainID)
}
