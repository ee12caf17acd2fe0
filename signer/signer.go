package signer

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/pilacorp/go-ethr-did/did"
)

// SignerProvider is the interface for the signer provider.
type SignerProvider interface {
	Sign(payload []byte) ([]byte, error)
	GetAddress() string
}

// DefaultProvider is the default signer provider backed by an in-memory key.
type DefaultProvider struct {
	priv *ecdsa.PrivateKey
}

// NewDefaultProvider creates a signer provider from a hex private key, with
// or without "0x". Keys are parsed by did.KeyPairFromHex.
func NewDefaultProvider(privHex string) (SignerProvider, error) {
	keyPair, err := did.KeyPairFromHex(privHex)
	if err != nil {
		return nil, err
	}
	return &DefaultProvider{priv: keyPair.PrivateKey}, nil
}

// NewProviderFromKey wraps an already parsed private key.
func NewProviderFromKey(priv *ecdsa.PrivateKey) SignerProvider {
	return &DefaultProvider{priv: priv}
}

// Sign signs a 32-byte hash and returns the 65-byte [R || S || V] signature
// with V in {0, 1}.
func (s *DefaultProvider) Sign(hashPayload []byte) ([]byte, error) {
	signature, err := crypto.Sign(hashPayload, s.priv)
	if err != nil {
		return nil, fmt.Errorf("failed to sign payload: %w", err)
	}

	if len(signature) != 65 {
		return nil, fmt.Errorf("invalid signature length: expected 65 bytes, got %d", len(signature))
	}

	return signature, nil
}

// GetAddress returns the lowercase address of the signer.
func (s *DefaultProvider) GetAddress() string {
	return strings.ToLower(crypto.PubkeyToAddress(s.priv.PublicKey).Hex())
}

// TxSignerFn creates a bind.SignerFn-compatible function using a generic SignerProvider.
// It hashes the transaction with EIP-155 and signs it via the provided signer.
func TxSignerFn(chainID *big.Int, s SignerProvider) func(address common.Address, tx *types.Transaction) (*types.Transaction, error) {
	return func(address common.Address, tx *types.Transaction) (*types.Transaction, error) {
		eip155Signer := types.NewEIP155Signer(chainID)
		h := eip155Signer.Hash(tx)
		sig, err := s.Sign(h.Bytes())
		if err != nil {
			return nil, err
		}

		return tx.WithSignature(eip155Signer, sig)
	}
}
