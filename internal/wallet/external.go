package wallet

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/external"
	"github.com/ethereum/go-ethereum/core/types"
)

// ExternalSigner talks to a Clef-compatible signer over JSON-RPC. The user
// approves account listing and every signature in the signer's own UI.
type ExternalSigner struct {
	endpoint string

	mu     sync.Mutex
	signer *external.ExternalSigner
}

func NewExternalSigner(endpoint string) *ExternalSigner {
	return &ExternalSigner{endpoint: endpoint}
}

func (e *ExternalSigner) Connect(ctx context.Context) (Session, error) {
	if e.endpoint == "" {
		return Session{}, ErrWalletUnavailable
	}
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}
	e.mu.Lock()
	if e.signer == nil {
		s, err := external.NewExternalSigner(e.endpoint)
		if err != nil {
			e.mu.Unlock()
			return Session{}, fmt.Errorf("%w: %v", ErrWalletUnavailable, err)
		}
		e.signer = s
	}
	signer := e.signer
	e.mu.Unlock()

	accts := signer.Accounts()
	if len(accts) == 0 {
		return Session{}, ErrWalletRejected
	}
	return Session{Address: accts[0].Address}, nil
}

func (e *ExternalSigner) SignTransaction(ctx context.Context, session Session, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	e.mu.Lock()
	signer := e.signer
	e.mu.Unlock()
	if signer == nil {
		return nil, ErrWalletUnavailable
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	signed, err := signer.SignTx(accounts.Account{Address: session.Address}, tx, chainID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignatureRejected, err)
	}
	return signed, nil
}
