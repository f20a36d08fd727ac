package payment

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/params"
)

var (
	ErrNetworkUnavailable = errors.New("payment network unavailable")
	ErrNoPayer            = errors.New("no connected wallet to pay from")
	ErrInvalidAmount      = errors.New("payment amount must be positive")
)

// BlockReference pins a request to a recent chain head.
type BlockReference struct {
	Number    uint64
	Hash      common.Hash
	FetchedAt time.Time
}

// Request is an unsigned fixed-price transfer. Build a new one per attempt.
type Request struct {
	Payer     common.Address
	Recipient common.Address
	Amount    *big.Int
	ChainID   *big.Int
	Nonce     uint64
	GasPrice  *big.Int
	GasLimit  uint64
	BlockRef  BlockReference
	MaxAge    time.Duration
}

// Transaction returns the unsigned legacy transfer for r.
func (r Request) Transaction() *types.Transaction {
	to := r.Recipient
	return types.NewTx(&types.LegacyTx{
		Nonce:    r.Nonce,
		GasPrice: new(big.Int).Set(r.GasPrice),
		Gas:      r.GasLimit,
		To:       &to,
		Value:    new(big.Int).Set(r.Amount),
	})
}

// Expired reports whether the block reference is older than the staleness window.
func (r Request) Expired(now time.Time) bool {
	return now.Sub(r.BlockRef.FetchedAt) > r.MaxAge
}

// Constructor builds payment requests against a Network.
type Constructor struct {
	Network Network
	MaxAge  time.Duration
	Now     func() time.Time
}

func (c *Constructor) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// Build prepares a transfer of amount from payer to recipient. The block
// reference is the last thing fetched so the request is as fresh as possible.
func (c *Constructor) Build(ctx context.Context, payer, recipient common.Address, amount *big.Int) (Request, error) {
	if payer == (common.Address{}) {
		return Request{}, ErrNoPayer
	}
	if amount == nil || amount.Sign() <= 0 {
		return Request{}, ErrInvalidAmount
	}

	chainID, err := c.Network.ChainID(ctx)
	if err != nil {
		return Request{}, fmt.Errorf("%w: chain id: %v", ErrNetworkUnavailable, err)
	}
	nonce, err := c.Network.PendingNonceAt(ctx, payer)
	if err != nil {
		return Request{}, fmt.Errorf("%w: nonce: %v", ErrNetworkUnavailable, err)
	}
	gasPrice, err := c.Network.SuggestGasPrice(ctx)
	if err != nil {
		return Request{}, fmt.Errorf("%w: gas price: %v", ErrNetworkUnavailable, err)
	}

	header, err := c.Network.HeaderByNumber(ctx, nil)
	if err != nil {
		return Request{}, fmt.Errorf("%w: latest block: %v", ErrNetworkUnavailable, err)
	}
	if header == nil || header.Number == nil {
		return Request{}, fmt.Errorf("%w: empty block header", ErrNetworkUnavailable)
	}

	return Request{
		Payer:     payer,
		Recipient: recipient,
		Amount:    new(big.Int).Set(amount),
		ChainID:   chainID,
		Nonce:     nonce,
		GasPrice:  gasPrice,
		GasLimit:  params.TxGas,
		BlockRef: BlockReference{
			Number:    header.Number.Uint64(),
			Hash:      header.Hash(),
			FetchedAt: c.now(),
		},
		MaxAge: c.MaxAge,
	}, nil
}
