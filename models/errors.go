package models

import (
	"errors"
	"fmt"
)

var (
	ErrNoSignerAvailable  = errors.New("no wallet signer available")
	ErrUserRejected       = errors.New("user rejected the wallet request")
	ErrWalletNotConnected = errors.New("please connect your wallet before proceeding")

	ErrWalletAlreadyBound = errors.New("this wallet address is already associated with an account")
	ErrDuplicateAccount   = errors.New("account already has an identity")
	ErrIdentityNotFound   = errors.New("identity not found")
	ErrBackendUnavailable = errors.New("account backend unavailable")

	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrNotSignedIn        = errors.New("not signed in")
	ErrWalletMismatch     = errors.New("the connected wallet doesn't match the one associated with this account")

	ErrLedgerUnavailable = errors.New("ledger unavailable")
	ErrWritePending      = errors.New("another ledger write is already pending")
)

// RejectedError is returned when the ledger reverted a write.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	if e.Reason == "" {
		return "ledger rejected the transaction"
	}
	return fmt.Sprintf("ledger rejected the transaction: %s", e.Reason)
}

// ValidationError reports invalid user input before any backend is touched.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func IsRejected(err error) (*RejectedError, bool) {
	var rej *RejectedError
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}
