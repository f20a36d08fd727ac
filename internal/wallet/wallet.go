// Package wallet wraps an external transaction signer behind a small
// capability interface: connect to get an address, sign a transaction.
package wallet

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var (
	ErrWalletUnavailable = errors.New("no compatible wallet signer available; install or start a Clef-compatible signer")
	ErrWalletRejected    = errors.New("wallet connection rejected")
	ErrSignatureRejected = errors.New("transaction signature rejected")
)

// Session is the connected wallet. The zero value means no wallet is connected.
type Session struct {
	Address common.Address
}

func (s Session) Connected() bool {
	return s.Address != (common.Address{})
}

// Short renders the address as 0xAb...wxyz for status lines.
func (s Session) Short() string {
	if !s.Connected() {
		return ""
	}
	hex := s.Address.Hex()
	return hex[:6] + "..." + hex[len(hex)-4:]
}

// Signer is the wallet capability. Implementations must not retry signing.
type Signer interface {
	Connect(ctx context.Context) (Session, error)
	SignTransaction(ctx context.Context, session Session, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}
