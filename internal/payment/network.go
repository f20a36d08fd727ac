package payment

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// Network is the slice of the chain RPC the payment flow needs.
// *ethclient.Client satisfies it.
type Network interface {
	ChainID(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

var _ Network = (*ethclient.Client)(nil)

// Dial connects to the chain RPC endpoint.
func Dial(ctx context.Context, endpoint string) (*ethclient.Client, error) {
	if endpoint == "" {
		return nil, errors.New("network endpoint is required")
	}
	cli, err := ethclient.DialContext(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	return cli, nil
}

// Ping reports whether the network answers a cheap query.
func Ping(ctx context.Context, n Network) error {
	if n == nil {
		return errors.New("network not configured")
	}
	_, err := n.BlockNumber(ctx)
	return err
}

// isNodeRejection reports whether err is the node answering that it refused
// the transaction. Anything else from SendTransaction (deadline, reset
// connection, EOF, HTTP gateway error) leaves open whether the node took it.
func isNodeRejection(err error) bool {
	var rpcErr rpc.Error
	return errors.As(err, &rpcErr)
}
