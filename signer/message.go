package signer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrInvalidSignature is returned when a message signature cannot be decoded
// or does not recover to a public key.
var ErrInvalidSignature = errors.New("invalid message signature")

// SignMessage produces an EIP-191 personal_sign signature over message.
//
// The recovery byte is normalized to 27 or 28 so the result matches what
// browser wallets emit.
func SignMessage(s SignerProvider, message []byte) ([]byte, error) {
	sig, err := s.Sign(accounts.TextHash(message))
	if err != nil {
		return nil, err
	}

	if sig[64] < 27 {
		sig[64] += 27
	}

	return sig, nil
}

// SignMessageHex is SignMessage with a 0x-hex encoded result.
func SignMessageHex(s SignerProvider, message string) (string, error) {
	sig, err := SignMessage(s, []byte(message))
	if err != nil {
		return "", err
	}

	return hexutil.Encode(sig), nil
}

// RecoverAddress returns the lowercase address that produced an EIP-191
// personal_sign signature over message. V may be 0/1 or 27/28.
func RecoverAddress(message, signature []byte) (string, error) {
	if len(signature) != 65 {
		return "", fmt.Errorf("%w: expected 65 bytes, got %d", ErrInvalidSignature, len(signature))
	}

	sig := make([]byte, 65)
	copy(sig, signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	pub, err := crypto.SigToPub(accounts.TextHash(message), sig)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	return strings.ToLower(crypto.PubkeyToAddress(*pub).Hex()), nil
}

// RecoverAddressHex is RecoverAddress for a 0x-hex encoded signature.
func RecoverAddressHex(message, signatureHex string) (string, error) {
	sig, err := hexutil.Decode(signatureHex)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	return RecoverAddress([]byte(message), sig)
}
