package blockchain

import (
	"errors"
	"strings"
)

var (
	// ErrChainMismatch is returned when the connected node reports a chain id
	// other than the configured one.
	ErrChainMismatch = errors.New("connected chain does not match configured chain")
	// ErrInsufficientFunds is returned when the sender cannot cover gas * price + value.
	ErrInsufficientFunds = errors.New("insufficient funds for gas * price + value")
	// ErrReverted is returned when a mined transaction has a failed receipt status.
	ErrReverted = errors.New("transaction reverted")
)

var nonceConflictMarkers = []string{
	"nonce too low",
	"replacement transaction underpriced",
	"already known",
}

// IsInsufficientFunds reports whether err is a balance failure, either ours
// or the node's.
func IsInsufficientFunds(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrInsufficientFunds) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "insufficient funds")
}

// IsNonceConflict reports whether the node rejected a transaction because its
// nonce was already used or is still pending.
func IsNonceConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range nonceConflictMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
