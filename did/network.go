package did

import (
	"strconv"
	"strings"
)

// knownNetworks maps the chain names used in did:ethr identifiers to chain ids.
var knownNetworks = map[string]int64{
	"mainnet":  1,
	"goerli":   5,
	"sepolia":  11155111,
	"holesky":  17000,
	"polygon":  137,
	"matic":    137,
	"amoy":     80002,
	"linea":    59144,
	"rsk":      30,
	"aurora":   1313161554,
	"dev":      1337,
	"ganache":  1337,
	"hardhat":  31337,
	"localnet": 31337,
}

// ChainIDForNetwork resolves a did:ethr chain reference to a chain id.
//
// The reference may be a well-known network name, a 0x-prefixed hex chain id
// or a decimal chain id.
func ChainIDForNetwork(ref string) (int64, bool) {
	if id, ok := knownNetworks[strings.ToLower(ref)]; ok {
		return id, true
	}

	if strings.HasPrefix(ref, "0x") || strings.HasPrefix(ref, "0X") {
		id, err := strconv.ParseInt(ref[2:], 16, 64)
		if err != nil || id <= 0 {
			return 0, false
		}
		return id, true
	}

	id, err := strconv.ParseInt(ref, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}

	return id, true
}
