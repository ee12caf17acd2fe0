package ethrdid

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by Identity wraps exactly one of these.
var (
	ErrFormat                      = errors.New("invalid DID format")
	ErrKeyGeneration               = errors.New("key generation failed")
	ErrKeyMismatch                 = errors.New("private key does not control DID")
	ErrWrongNetwork                = errors.New("wrong network")
	ErrInsufficientFunds           = errors.New("insufficient funds")
	ErrNonceConflict               = errors.New("nonce conflict")
	ErrTransactionFailed           = errors.New("transaction failed")
	ErrResolution                  = errors.New("DID resolution failed")
	ErrNotFound                    = errors.New("DID not found")
	ErrSignatureVerificationFailed = errors.New("signature verification failed")
)

var kinds = []error{
	ErrFormat,
	ErrKeyGeneration,
	ErrKeyMismatch,
	ErrWrongNetwork,
	ErrInsufficientFunds,
	ErrNonceConflict,
	ErrTransactionFailed,
	ErrResolution,
	ErrNotFound,
	ErrSignatureVerificationFailed,
}

// Error is the error type returned by Identity operations. errors.Is matches
// both Kind and the underlying cause.
type Error struct {
	Op   string
	Kind error
	Err  error
}

func newError(op string, kind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// KindOf returns the error kind wrapped by err, or nil.
func KindOf(err error) error {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	for _, kind := range kinds {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// UserMessage maps err to a short human-readable category.
func UserMessage(err error) string {
	switch KindOf(err) {
	case nil:
		if err == nil {
			return ""
		}
		return "Unexpected error."
	case ErrFormat:
		return "Invalid input: check the DID format and the attribute name."
	case ErrKeyGeneration:
		return "Could not generate a key pair."
	case ErrKeyMismatch:
		return "The private key does not control this DID."
	case ErrWrongNetwork:
		return "The DID or the connected node is on a different network."
	case ErrInsufficientFunds:
		return "Insufficient funds to pay for the transaction."
	case ErrNonceConflict:
		return "Another transaction from this account is pending. Try again."
	case ErrTransactionFailed:
		return "The network rejected the transaction."
	case ErrResolution:
		return "Could not reach the DID resolver or the network."
	case ErrNotFound:
		return "DID not found or deactivated."
	case ErrSignatureVerificationFailed:
		return "The signature does not belong to this DID."
	default:
		return err.Error()
	}
}
