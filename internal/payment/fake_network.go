package payment

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// FakeNetwork is an in-memory chain that accepts transfers and mines them
// after a configurable number of receipt lookups. Used by tests and by
// deployments without a network endpoint.
type FakeNetwork struct {
	// ConfirmAfter is how many receipt lookups return NotFound first.
	// Negative means the transaction is never mined.
	ConfirmAfter int
	Revert       bool
	HeaderErr    error
	// SendErr is returned by SendTransaction as-is. Use a *NodeError for a
	// refusal, any other error for a lost acknowledgement.
	SendErr      error

	mu       sync.Mutex
	chainID  *big.Int
	head     uint64
	gasPrice *big.Int
	nonces   map[common.Address]uint64
	sent     map[common.Hash]*types.Transaction
	order    []common.Hash
	lookups  map[common.Hash]int
	mined    map[common.Hash]uint64
	headers  int
}

// NodeError is a JSON-RPC error answer, the way a node refuses a transaction.
type NodeError struct {
	Message string
}

func (e *NodeError) Error() string  { return e.Message }
func (e *NodeError) ErrorCode() int { return -32000 }

func NewFakeNetwork(chainID int64) *FakeNetwork {
	return &FakeNetwork{
		chainID:  big.NewInt(chainID),
		head:     100,
		gasPrice: big.NewInt(1_000_000_000),
		nonces:   make(map[common.Address]uint64),
		sent:     make(map[common.Hash]*types.Transaction),
		lookups:  make(map[common.Hash]int),
		mined:    make(map[common.Hash]uint64),
	}
}

// Sent returns broadcast transactions in order.
func (f *FakeNetwork) Sent() []*types.Transaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*types.Transaction, 0, len(f.order))
	for _, h := range f.order {
		out = append(out, f.sent[h])
	}
	return out
}

// HeaderCalls counts block reference fetches.
func (f *FakeNetwork) HeaderCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.headers
}

func (f *FakeNetwork) ChainID(context.Context) (*big.Int, error) {
	return new(big.Int).Set(f.chainID), nil
}

func (f *FakeNetwork) HeaderByNumber(_ context.Context, _ *big.Int) (*types.Header, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.headers++
	if f.HeaderErr != nil {
		return nil, f.HeaderErr
	}
	return &types.Header{
		Number:     new(big.Int).SetUint64(f.head),
		Time:       uint64(time.Now().Unix()),
		Difficulty: big.NewInt(0),
	}, nil
}

func (f *FakeNetwork) PendingNonceAt(_ context.Context, account common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nonces[account], nil
}

func (f *FakeNetwork) SuggestGasPrice(context.Context) (*big.Int, error) {
	return new(big.Int).Set(f.gasPrice), nil
}

func (f *FakeNetwork) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SendErr != nil {
		return f.SendErr
	}
	sender, err := types.Sender(types.LatestSignerForChainID(f.chainID), tx)
	if err != nil {
		return &NodeError{Message: "invalid sender: " + err.Error()}
	}
	if _, dup := f.sent[tx.Hash()]; dup {
		return &NodeError{Message: "already known"}
	}
	if tx.Nonce() != f.nonces[sender] {
		return &NodeError{Message: fmt.Sprintf("nonce too low: have %d want %d", tx.Nonce(), f.nonces[sender])}
	}
	f.nonces[sender]++
	f.sent[tx.Hash()] = tx
	f.order = append(f.order, tx.Hash())
	return nil
}

func (f *FakeNetwork) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sent[hash]; !ok {
		return nil, ethereum.NotFound
	}
	f.lookups[hash]++
	if f.ConfirmAfter < 0 || f.lookups[hash] <= f.ConfirmAfter {
		return nil, ethereum.NotFound
	}
	block, ok := f.mined[hash]
	if !ok {
		f.head++
		block = f.head
		f.mined[hash] = block
	}
	status := types.ReceiptStatusSuccessful
	if f.Revert {
		status = types.ReceiptStatusFailed
	}
	return &types.Receipt{
		Status:      status,
		TxHash:      hash,
		BlockNumber: new(big.Int).SetUint64(block),
	}, nil
}

// BlockNumber advances the simulated head by one block per call.
func (f *FakeNetwork) BlockNumber(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.head++
	return f.head, nil
}
