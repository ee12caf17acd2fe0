// Package did provides the did:ethr identifier contract: format validation,
// parsing, construction and the key pairs a DID is derived from.
//
// It performs no network I/O. Everything here is safe to call before any
// blockchain provider has been configured.
package did

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/ethereum/go-ethereum/crypto"
)

// Method is the DID method prefix handled by this package.
const Method = "did:ethr"

// ErrInvalidDID is returned by Parse for any string outside the did:ethr grammar.
var ErrInvalidDID = errors.New("invalid did:ethr identifier")

var (
	// did:ethr:[<chainRef>:]0x<40 hex>
	addressDIDPattern = regexp.MustCompile(`^did:ethr:(?:([A-Za-z0-9]+):)?(0x[0-9A-Fa-f]{40})$`)
	// did:ethr:[<chainRef>:]0x<66 or 130 hex>
	publicKeyDIDPattern = regexp.MustCompile(`^did:ethr:(?:([A-Za-z0-9]+):)?(0x(?:[0-9A-Fa-f]{66}|[0-9A-Fa-f]{130}))$`)
)

// Identifier is a parsed did:ethr string.
type Identifier struct {
	// DID is the original string, unmodified.
	DID string
	// Network is the explicit chain reference, empty when implicit.
	Network string
	// Address is the identity address. For address DIDs the case is preserved
	// exactly as given; for public key DIDs it is the derived lowercase address.
	Address string
	// PublicKeyHex is set when the DID embeds a public key instead of an address.
	PublicKeyHex string
}

// IsValidDID reports whether s is did:ethr followed by a 0x-prefixed
// 40-hex-character address, optionally preceded by a chain reference.
func IsValidDID(s string) bool {
	return addressDIDPattern.MatchString(s)
}

// ExtractAddress returns the trailing address segment of an address DID with
// its case preserved. The boolean is false when IsValidDID fails.
func ExtractAddress(s string) (string, bool) {
	m := addressDIDPattern.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}

	return m[2], true
}

// Parse parses an address or public key did:ethr string.
//
// A public key segment must be a compressed (33 bytes) or uncompressed
// (65 bytes) secp256k1 key and is mapped to exactly one address.
func Parse(s string) (*Identifier, error) {
	if m := addressDIDPattern.FindStringSubmatch(s); m != nil {
		return &Identifier{DID: s, Network: m[1], Address: m[2]}, nil
	}

	m := publicKeyDIDPattern.FindStringSubmatch(s)
	if m == nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDID, s)
	}

	address, err := AddressFromPublicKeyHex(m[2])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDID, err)
	}

	return &Identifier{DID: s, Network: m[1], Address: address, PublicKeyHex: m[2]}, nil
}

// ToDID builds did:ethr:<network>:<address>, or did:ethr:<address> when
// network is empty.
func ToDID(network, address string) string {
	if network == "" {
		return fmt.Sprintf("%s:%s", Method, address)
	}

	return fmt.Sprintf("%s:%s:%s", Method, network, address)
}

// AddressFromPublicKeyHex converts a hex-encoded secp256k1 public key to an
// Ethereum address.
//
// Both compressed (33 bytes) and uncompressed (65 bytes) encodings are
// accepted, with or without the "0x" prefix. The address is returned in
// lowercase hex with the "0x" prefix.
func AddressFromPublicKeyHex(publicKeyHex string) (string, error) {
	publicKeyBytes, err := hex.DecodeString(strings.TrimPrefix(publicKeyHex, "0x"))
	if err != nil {
		return "", fmt.Errorf("failed to decode public key hex: %w", err)
	}

	return AddressFromPublicKeyBytes(publicKeyBytes)
}

// AddressFromPublicKeyBytes is AddressFromPublicKeyHex for raw key bytes.
func AddressFromPublicKeyBytes(publicKeyBytes []byte) (string, error) {
	if len(publicKeyBytes) != secp256k1.PubKeyBytesLenCompressed && len(publicKeyBytes) != secp256k1.PubKeyBytesLenUncompressed {
		return "", fmt.Errorf("unsupported public key format: expected 33 bytes (compressed) or 65 bytes (uncompressed), got %d bytes", len(publicKeyBytes))
	}

	publicKey, err := secp256k1.ParsePubKey(publicKeyBytes)
	if err != nil {
		return "", fmt.Errorf("failed to parse public key: %w", err)
	}

	return addressOf(publicKey.ToECDSA()), nil
}

// SameAddress compares two hex addresses case-insensitively.
func SameAddress(a, b string) bool {
	return a != "" && strings.EqualFold(a, b)
}

func addressOf(pub *ecdsa.PublicKey) string {
	return strings.ToLower(crypto.PubkeyToAddress(*pub).Hex())
}
