package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"demoreel/internal/logger"
	"demoreel/internal/wallet"
)

var (
	ErrBroadcastFailed     = errors.New("payment broadcast failed")
	ErrConfirmationTimeout = errors.New("payment confirmation not observed; outcome unknown, funds may have moved")
	ErrStaleReference      = errors.New("block reference expired before broadcast")
	ErrSignedTxMismatch    = errors.New("signed transaction does not match the payment request")
)

// State is a step of a single payment attempt.
type State int

const (
	Built State = iota
	AwaitingSignature
	Signed
	AwaitingBroadcastAck
	Broadcast
	AwaitingConfirmation
	Confirmed
)

var stateNames = [...]string{
	Built:                "built",
	AwaitingSignature:    "awaiting_signature",
	Signed:               "signed",
	AwaitingBroadcastAck: "awaiting_broadcast_ack",
	Broadcast:            "broadcast",
	AwaitingConfirmation: "awaiting_confirmation",
	Confirmed:            "confirmed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// transitions is the only legal path. There are no edges backwards.
var transitions = map[State]State{
	Built:                AwaitingSignature,
	AwaitingSignature:    Signed,
	Signed:               AwaitingBroadcastAck,
	AwaitingBroadcastAck: Broadcast,
	Broadcast:            AwaitingConfirmation,
	AwaitingConfirmation: Confirmed,
}

// Next returns the state that follows s, or false if s is terminal.
func Next(s State) (State, bool) {
	next, ok := transitions[s]
	return next, ok
}

// Error is a failed attempt. State is where it stopped.
type Error struct {
	State     State
	Signature string
	Err       error
}

func (e *Error) Error() string {
	if e.Signature != "" {
		return fmt.Sprintf("payment failed at %s (tx %s): %v", e.State, e.Signature, e.Err)
	}
	return fmt.Sprintf("payment failed at %s: %v", e.State, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// MayHaveMoved reports whether the transaction left this process.
func (e *Error) MayHaveMoved() bool { return e.State >= Broadcast }

// Result is the confirmed payment evidence passed to job submission.
type Result struct {
	Signature   string
	Payer       common.Address
	BlockNumber uint64
	ConfirmedAt time.Time
}

// Observer is told about every state change of an attempt.
type Observer func(from, to State)

type SubmitterConfig struct {
	ConfirmTimeout   time.Duration
	PollInterval     time.Duration
	MinConfirmations uint64
	Observer         Observer
	Logger           *slog.Logger
	Now              func() time.Time
}

// Submitter drives one request through signing, broadcast and confirmation.
type Submitter struct {
	network Network
	signer  wallet.Signer
	cfg     SubmitterConfig
	log     *slog.Logger
}

func NewSubmitter(network Network, signer wallet.Signer, cfg SubmitterConfig) *Submitter {
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 2 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.MinConfirmations == 0 {
		cfg.MinConfirmations = 1
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Submitter{
		network: network,
		signer:  signer,
		cfg:     cfg,
		log:     logger.Component(cfg.Logger, "payment"),
	}
}

type attempt struct {
	state     State
	signature string
	observer  Observer
}

func (a *attempt) advance(to State) {
	next, ok := transitions[a.state]
	if !ok || next != to {
		panic(fmt.Sprintf("payment: illegal transition %s -> %s", a.state, to))
	}
	from := a.state
	a.state = to
	if a.observer != nil {
		a.observer(from, to)
	}
}

func (a *attempt) fail(err error) error {
	return &Error{State: a.state, Signature: a.signature, Err: err}
}

// Submit signs, broadcasts and waits for confirmation of req. Every failure is
// final for req; build a new request to try again.
func (s *Submitter) Submit(ctx context.Context, session wallet.Session, req Request) (Result, error) {
	a := &attempt{state: Built, observer: s.cfg.Observer}

	a.advance(AwaitingSignature)
	signed, err := s.signer.SignTransaction(ctx, session, req.Transaction(), req.ChainID)
	if err != nil {
		if !errors.Is(err, wallet.ErrSignatureRejected) {
			err = fmt.Errorf("%w: %v", wallet.ErrSignatureRejected, err)
		}
		return Result{}, a.fail(err)
	}
	if err := matchesRequest(req, signed); err != nil {
		return Result{}, a.fail(fmt.Errorf("%w: %v", wallet.ErrSignatureRejected, err))
	}

	a.advance(Signed)
	a.signature = signed.Hash().Hex()
	if req.Expired(s.cfg.Now()) {
		return Result{}, a.fail(fmt.Errorf("%w: %w", ErrBroadcastFailed, ErrStaleReference))
	}

	a.advance(AwaitingBroadcastAck)
	if err := s.network.SendTransaction(ctx, signed); err != nil {
		if isNodeRejection(err) {
			return Result{}, a.fail(fmt.Errorf("%w: %v", ErrBroadcastFailed, err))
		}
		s.log.Warn("broadcast acknowledgement lost, treating transaction as sent", "tx", a.signature, "error", err)
	}

	a.advance(Broadcast)
	s.log.Info("payment broadcast", "tx", a.signature, "payer", req.Payer.Hex(), "amount_wei", req.Amount.String())

	a.advance(AwaitingConfirmation)
	receipt, err := s.waitForConfirmation(ctx, signed.Hash())
	if err != nil {
		s.log.Warn("payment outcome unknown", "tx", a.signature, "error", err)
		return Result{}, a.fail(fmt.Errorf("%w: %v", ErrConfirmationTimeout, err))
	}

	a.advance(Confirmed)
	return Result{
		Signature:   a.signature,
		Payer:       req.Payer,
		BlockNumber: receipt.BlockNumber.Uint64(),
		ConfirmedAt: s.cfg.Now(),
	}, nil
}

func matchesRequest(req Request, signed *types.Transaction) error {
	if signed == nil {
		return ErrSignedTxMismatch
	}
	sender, err := types.Sender(types.LatestSignerForChainID(req.ChainID), signed)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignedTxMismatch, err)
	}
	switch {
	case sender != req.Payer:
		return fmt.Errorf("%w: signed by %s", ErrSignedTxMismatch, sender.Hex())
	case signed.To() == nil || *signed.To() != req.Recipient:
		return fmt.Errorf("%w: recipient changed", ErrSignedTxMismatch)
	case signed.Value().Cmp(req.Amount) != 0:
		return fmt.Errorf("%w: amount changed", ErrSignedTxMismatch)
	case signed.Nonce() != req.Nonce:
		return fmt.Errorf("%w: nonce changed", ErrSignedTxMismatch)
	}
	return nil
}

// waitForConfirmation polls for a successful receipt that is deep enough.
func (s *Submitter) waitForConfirmation(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ConfirmTimeout)
	defer cancel()

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		receipt, err := s.network.TransactionReceipt(ctx, hash)
		switch {
		case receipt != nil:
			if receipt.Status != types.ReceiptStatusSuccessful {
				return nil, fmt.Errorf("transaction reverted in block %v", receipt.BlockNumber)
			}
			if s.deepEnough(ctx, receipt) {
				return receipt, nil
			}
		case err != nil && !errors.Is(err, ethereum.NotFound):
			s.log.Warn("receipt lookup failed", "tx", hash.Hex(), "error", err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Submitter) deepEnough(ctx context.Context, receipt *types.Receipt) bool {
	if s.cfg.MinConfirmations <= 1 {
		return true
	}
	head, err := s.network.BlockNumber(ctx)
	if err != nil {
		s.log.Warn("block number lookup failed", "error", err)
		return false
	}
	return head+1 >= receipt.BlockNumber.Uint64()+s.cfg.MinConfirmations
}
