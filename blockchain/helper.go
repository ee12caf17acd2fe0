package blockchain

import (
	"bytes"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

const (
	// MaxAttributeNameLength defines the maximum length for attribute names (32 bytes).
	MaxAttributeNameLength = 32
	// AttributeValiditySeconds is the default attribute validity (1 day).
	AttributeValiditySeconds = 86400
)

// PrepareAttributeInputs validates and converts inputs for the setAttribute call.
// A zero validity falls back to AttributeValiditySeconds.
func PrepareAttributeInputs(address, name, value string, validity time.Duration) (common.Address, [32]byte, []byte, *big.Int, error) {
	if address == "" {
		return common.Address{}, [32]byte{}, nil, nil, fmt.Errorf("identity is empty")
	}
	if !common.IsHexAddress(address) {
		return common.Address{}, [32]byte{}, nil, nil, fmt.Errorf("identity %q is not an address", address)
	}

	nameBytes, err := NameToBytes32(name)
	if err != nil {
		return common.Address{}, [32]byte{}, nil, nil, err
	}

	seconds := int64(validity / time.Second)
	if seconds <= 0 {
		seconds = AttributeValiditySeconds
	}

	return common.HexToAddress(address), nameBytes, EncodeAttributeValue(value), big.NewInt(seconds), nil
}

// NameToBytes32 right-pads an attribute or delegate type name into bytes32.
func NameToBytes32(name string) ([32]byte, error) {
	var out [32]byte
	if name == "" {
		return out, fmt.Errorf("name is empty")
	}
	if len(name) > MaxAttributeNameLength {
		return out, fmt.Errorf("name exceeds %d bytes", MaxAttributeNameLength)
	}
	copy(out[:], name)
	return out, nil
}

// Bytes32ToName is the inverse of NameToBytes32.
func Bytes32ToName(b [32]byte) string {
	return string(bytes.TrimRight(b[:], "\x00"))
}

// EncodeAttributeValue decodes 0x-prefixed hex into raw bytes and sends
// anything else as UTF-8.
func EncodeAttributeValue(value string) []byte {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		if b, err := hexutil.Decode("0x" + value[2:]); err == nil {
			return b
		}
	}
	return []byte(value)
}
