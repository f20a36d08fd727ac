package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"demoreel/internal/jobs"
	"demoreel/internal/ledger"
	"demoreel/internal/payment"
	"demoreel/internal/wallet"
)

var (
	ErrBusy            = errors.New("a video request is already in progress")
	ErrNoWalletSession = errors.New("connect a wallet before paying")
	ErrJobFailed       = errors.New("video generation failed")
)

// PaidError marks a failure that happened after a payment was confirmed.
type PaidError struct {
	Signature string
	Err       error
}

func (e *PaidError) Error() string {
	return fmt.Sprintf("paid with tx %s: %v", e.Signature, e.Err)
}

func (e *PaidError) Unwrap() error { return e.Err }

func (e *PaidError) MayHaveMoved() bool { return true }

// MoneyMayHaveMoved reports whether err happened at or after broadcasting a payment.
func MoneyMayHaveMoved(err error) bool {
	var m interface{ MayHaveMoved() bool }
	if errors.As(err, &m) {
		return m.MayHaveMoved()
	}
	return false
}

// Signature returns the payment transaction attached to err, if any.
func Signature(err error) string {
	var paid *PaidError
	if errors.As(err, &paid) {
		return paid.Signature
	}
	var perr *payment.Error
	if errors.As(err, &perr) {
		return perr.Signature
	}
	return ""
}

func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrBusy):
		return "busy"
	case errors.Is(err, ErrNoWalletSession):
		return "no_wallet_session"
	case errors.Is(err, wallet.ErrWalletUnavailable):
		return "wallet_unavailable"
	case errors.Is(err, wallet.ErrWalletRejected):
		return "wallet_rejected"
	case errors.Is(err, wallet.ErrSignatureRejected):
		return "signature_rejected"
	case errors.Is(err, payment.ErrNetworkUnavailable):
		return "network_unavailable"
	case errors.Is(err, payment.ErrBroadcastFailed):
		return "broadcast_failed"
	case errors.Is(err, payment.ErrConfirmationTimeout):
		return "confirmation_timeout"
	case errors.Is(err, ledger.ErrSignatureConsumed):
		return "signature_consumed"
	case errors.Is(err, jobs.ErrSubmissionRejected):
		return "submission_rejected"
	case errors.Is(err, jobs.ErrBackendUnreachable):
		return "backend_unreachable"
	case errors.Is(err, jobs.ErrJobNotFound):
		return "job_not_found"
	case errors.Is(err, jobs.ErrPollTimeout):
		return "poll_timeout"
	case errors.Is(err, ErrJobFailed):
		return "job_failed"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "internal"
	}
}

func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrBusy), errors.Is(err, ledger.ErrSignatureConsumed):
		return http.StatusConflict
	case errors.Is(err, ErrNoWalletSession),
		errors.Is(err, wallet.ErrWalletRejected),
		errors.Is(err, wallet.ErrSignatureRejected),
		errors.Is(err, jobs.ErrSubmissionRejected):
		return http.StatusBadRequest
	case errors.Is(err, wallet.ErrWalletUnavailable),
		errors.Is(err, payment.ErrNetworkUnavailable),
		errors.Is(err, jobs.ErrBackendUnreachable):
		return http.StatusServiceUnavailable
	case errors.Is(err, payment.ErrBroadcastFailed):
		return http.StatusBadGateway
	case errors.Is(err, payment.ErrConfirmationTimeout),
		errors.Is(err, jobs.ErrPollTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, jobs.ErrJobNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Describe renders err as a status line that says whether money may have moved.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	sig := Signature(err)
	switch {
	case errors.Is(err, payment.ErrConfirmationTimeout):
		return fmt.Sprintf("Payment outcome unknown (tx %s). Funds may have moved; check the transaction before paying again.", sig)
	case errors.Is(err, wallet.ErrWalletUnavailable):
		return "No wallet found. Install or start a compatible wallet signer, then connect."
	case MoneyMayHaveMoved(err):
		return fmt.Sprintf("Error after payment (tx %s): %v. Do not pay again; keep the transaction hash for support.", sig, err)
	default:
		return fmt.Sprintf("Error: %v. No payment was made.", err)
	}
}
