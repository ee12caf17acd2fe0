package did

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

// KeyPair holds the secp256k1 keys a DID is derived from.
//
// The private key never leaves the process; callers hand it to collaborators
// per call and must not persist it.
type KeyPair struct {
	PublicKey  *ecdsa.PublicKey
	PrivateKey *ecdsa.PrivateKey
}

// GenerateECDSAKeyPair generates a new key pair from the go-ethereum CSPRNG.
func GenerateECDSAKeyPair() (*KeyPair, error) {
	privateKey, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate private key: %w", err)
	}

	return &KeyPair{
		PublicKey:  &privateKey.PublicKey,
		PrivateKey: privateKey,
	}, nil
}

// KeyPairFromHex parses a 32-byte hex private key, with or without "0x".
func KeyPairFromHex(privateKeyHex string) (*KeyPair, error) {
	key := strings.TrimPrefix(privateKeyHex, "0x")
	if len(key) == 0 || len(key)%2 != 0 {
		return nil, fmt.Errorf("invalid private key: empty or odd length")
	}

	privateKey, err := crypto.HexToECDSA(key)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	return &KeyPair{
		PublicKey:  &privateKey.PublicKey,
		PrivateKey: privateKey,
	}, nil
}

// GetAddress returns the lowercase 0x address of the key pair.
func (k *KeyPair) GetAddress() string {
	if k.PublicKey == nil {
		return ""
	}

	return addressOf(k.PublicKey)
}

// GetDID returns the DID of the key pair on the given network.
func (k *KeyPair) GetDID(network string) string {
	if k.PublicKey == nil {
		return ""
	}

	return ToDID(network, k.GetAddress())
}

// GetPublicKeyHex returns the compressed public key in hex format.
func (k *KeyPair) GetPublicKeyHex() string {
	if k.PublicKey == nil {
		return ""
	}

	return "0x" + fmt.Sprintf("%x", crypto.CompressPubkey(k.PublicKey))
}

// GetPrivateKeyHex returns the private key in hex format.
func (k *KeyPair) GetPrivateKeyHex() string {
	if k.PrivateKey == nil {
		return ""
	}

	return "0x" + fmt.Sprintf("%x", crypto.FromECDSA(k.PrivateKey))
}
