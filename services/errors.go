package services

import (
	"errors"
	"fmt"
)

// ErrorKind discriminates every failure the distribution core reports.
type ErrorKind string

const (
	KindInvalidAmount               ErrorKind = "InvalidAmount"
	KindInvalidRecipient            ErrorKind = "InvalidRecipient"
	KindEmptySelection              ErrorKind = "EmptySelection"
	KindWalletNotConnected          ErrorKind = "WalletNotConnected"
	KindContractPaused              ErrorKind = "ContractPaused"
	KindInsufficientBalance         ErrorKind = "InsufficientBalance"
	KindAllowanceReadFailure        ErrorKind = "AllowanceReadFailure"
	KindApprovalRejected            ErrorKind = "ApprovalRejected"
	KindApprovalReverted            ErrorKind = "ApprovalReverted"
	KindDistributionRejected        ErrorKind = "DistributionRejected"
	KindDistributionReverted        ErrorKind = "DistributionReverted"
	KindTimeoutAwaitingConfirmation ErrorKind = "TimeoutAwaitingConfirmation"
	KindLedgerWriteError            ErrorKind = "LedgerWriteError"
	KindAttemptInProgress           ErrorKind = "AttemptInProgress"
	KindAttemptNotFound             ErrorKind = "AttemptNotFound"
	KindInvalidTransition           ErrorKind = "InvalidTransition"
)

// ErrorClass groups kinds by what a caller may safely do next.
type ErrorClass string

const (
	// ClassValidation errors abort before any external call.
	ClassValidation ErrorClass = "validation"
	// ClassChain errors leave the batch retained; the whole flow may be retried.
	ClassChain ErrorClass = "chain"
	// ClassLedger errors happen after funds moved; only persistence may be retried.
	ClassLedger ErrorClass = "ledger"
	// ClassConcurrency errors reject a request without touching any attempt.
	ClassConcurrency ErrorClass = "concurrency"
)

func (k ErrorKind) Class() ErrorClass {
	switch k {
	case KindInvalidAmount, KindInvalidRecipient, KindEmptySelection,
		KindWalletNotConnected, KindContractPaused, KindInsufficientBalance:
		return ClassValidation
	case KindLedgerWriteError:
		return ClassLedger
	case KindAttemptInProgress, KindAttemptNotFound, KindInvalidTransition:
		return ClassConcurrency
	default:
		return ClassChain
	}
}

// Soft reports whether the failure happened after the chain transfer landed.
func (k ErrorKind) Soft() bool {
	return k.Class() == ClassLedger
}

type DistributionError struct {
	Kind ErrorKind
	Err  error
	// AttemptID names the attempt that blocked the request, for AttemptInProgress.
	AttemptID string
}

func (e *DistributionError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *DistributionError) Unwrap() error {
	return e.Err
}

// Is matches any DistributionError of the same kind when target is a sentinel.
func (e *DistributionError) Is(target error) bool {
	t, ok := target.(*DistributionError)
	if !ok {
		return false
	}
	return t.Err == nil && t.Kind == e.Kind
}

var (
	ErrInvalidAmount               = &DistributionError{Kind: KindInvalidAmount}
	ErrInvalidRecipient            = &DistributionError{Kind: KindInvalidRecipient}
	ErrEmptySelection              = &DistributionError{Kind: KindEmptySelection}
	ErrWalletNotConnected          = &DistributionError{Kind: KindWalletNotConnected}
	ErrContractPaused              = &DistributionError{Kind: KindContractPaused}
	ErrInsufficientBalance         = &DistributionError{Kind: KindInsufficientBalance}
	ErrAllowanceReadFailure        = &DistributionError{Kind: KindAllowanceReadFailure}
	ErrApprovalRejected            = &DistributionError{Kind: KindApprovalRejected}
	ErrApprovalReverted            = &DistributionError{Kind: KindApprovalReverted}
	ErrDistributionRejected        = &DistributionError{Kind: KindDistributionRejected}
	ErrDistributionReverted        = &DistributionError{Kind: KindDistributionReverted}
	ErrTimeoutAwaitingConfirmation = &DistributionError{Kind: KindTimeoutAwaitingConfirmation}
	ErrLedgerWriteError            = &DistributionError{Kind: KindLedgerWriteError}
	ErrAttemptInProgress           = &DistributionError{Kind: KindAttemptInProgress}
	ErrAttemptNotFound             = &DistributionError{Kind: KindAttemptNotFound}
	ErrInvalidTransition           = &DistributionError{Kind: KindInvalidTransition}
)

func newError(kind ErrorKind, format string, args ...interface{}) *DistributionError {
	return &DistributionError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

func wrapError(kind ErrorKind, err error) *DistributionError {
	if err == nil {
		err = errors.New(string(kind))
	}
	return &DistributionError{Kind: kind, Err: err}
}

// BlockingAttemptID returns the id of the attempt an AttemptInProgress error
// points at, or "".
func BlockingAttemptID(err error) string {
	var de *DistributionError
	if errors.As(err, &de) {
		return de.AttemptID
	}
	return ""
}

// KindOf extracts the kind of err, or "" when err is not a DistributionError.
func KindOf(err error) ErrorKind {
	var de *DistributionError
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}
