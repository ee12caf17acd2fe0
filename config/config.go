// Package config loads the application configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pilacorp/go-ethr-did/did"
	"github.com/pilacorp/go-ethr-did/ethrdid"
)

// Environment variables read by Load.
const (
	EnvRPCURL            = "ETHRDID_RPC_URL"
	EnvInfuraAPIKey      = "ETHRDID_INFURA_API_KEY"
	EnvChainID           = "ETHRDID_CHAIN_ID"
	EnvNetwork           = "ETHRDID_NETWORK"
	EnvRegistryAddress   = "ETHRDID_REGISTRY_ADDRESS"
	EnvResolverURL       = "ETHRDID_RESOLVER_URL"
	EnvAddr              = "ETHRDID_ADDR"
	EnvAttributeValidity = "ETHRDID_ATTRIBUTE_VALIDITY"
)

const (
	defaultAddr      = ":8080"
	infuraSepoliaURL = "https://sepolia.infura.io/v3/"
)

// Config captures environment-driven settings.
type Config struct {
	RPCURL          string        // JSON-RPC endpoint
	ChainID         int64         // chain the registry lives on
	Network         string        // chain reference written into new DIDs
	RegistryAddress string        // ERC-1056 registry contract
	ResolverURL     string        // universal resolver; empty resolves from the registry
	Addr            string        // HTTP listen address
	Validity        time.Duration // default attribute validity
}

// Load reads the environment and fills in defaults for anything unset.
func Load() (Config, error) {
	return load(os.LookupEnv)
}

func load(lookup func(string) (string, bool)) (Config, error) {
	cfg := Config{
		RPCURL:          ethrdid.DefaultRPC,
		ChainID:         ethrdid.DefaultChainID,
		Network:         ethrdid.DefaultNetwork,
		RegistryAddress: ethrdid.DefaultRegistryAddress,
		Addr:            defaultAddr,
		Validity:        ethrdid.DefaultValidity,
	}

	if v, ok := nonEmpty(lookup, EnvRPCURL); ok {
		cfg.RPCURL = v
	} else if key, ok := nonEmpty(lookup, EnvInfuraAPIKey); ok {
		cfg.RPCURL = infuraSepoliaURL + key
	}

	if v, ok := nonEmpty(lookup, EnvChainID); ok {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			return Config{}, fmt.Errorf("%s must be a positive integer, got %q", EnvChainID, v)
		}
		cfg.ChainID = id
	}

	if v, ok := lookup(EnvNetwork); ok {
		cfg.Network = strings.TrimSpace(v)
	}

	if v, ok := nonEmpty(lookup, EnvRegistryAddress); ok {
		cfg.RegistryAddress = v
	}

	if v, ok := nonEmpty(lookup, EnvResolverURL); ok {
		cfg.ResolverURL = v
	}

	if v, ok := nonEmpty(lookup, EnvAddr); ok {
		cfg.Addr = v
	}

	if v, ok := nonEmpty(lookup, EnvAttributeValidity); ok {
		validity, err := parseValidity(v)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", EnvAttributeValidity, err)
		}
		cfg.Validity = validity
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks that the configuration is consistent.
func (c Config) Validate() error {
	if c.RPCURL == "" {
		return errors.New("RPC URL is required")
	}
	if !common.IsHexAddress(c.RegistryAddress) {
		return fmt.Errorf("registry address %q is not an address", c.RegistryAddress)
	}
	if c.Network != "" {
		id, ok := did.ChainIDForNetwork(c.Network)
		if !ok {
			return fmt.Errorf("unknown network %q", c.Network)
		}
		if id != c.ChainID {
			return fmt.Errorf("network %q is chain %d, configured chain is %d", c.Network, id, c.ChainID)
		}
	}
	return nil
}

// Options converts the configuration into ethrdid options.
func (c Config) Options() []ethrdid.Option {
	return []ethrdid.Option{
		ethrdid.WithRPC(c.RPCURL),
		ethrdid.WithChainID(c.ChainID),
		ethrdid.WithNetwork(c.Network),
		ethrdid.WithRegistryAddress(c.RegistryAddress),
		ethrdid.WithValidity(c.Validity),
	}
}

// parseValidity accepts a Go duration ("12h") or a number of seconds.
func parseValidity(v string) (time.Duration, error) {
	if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
		if secs <= 0 {
			return 0, fmt.Errorf("must be positive, got %d", secs)
		}
		if secs > math.MaxInt64/int64(time.Second) {
			return 0, fmt.Errorf("%d seconds is out of range", secs)
		}
		return time.Duration(secs) * time.Second, nil
	}

	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", v)
	}
	if d <= 0 {
		return 0, fmt.Errorf("must be positive, got %s", d)
	}
	return d, nil
}

func nonEmpty(lookup func(string) (string, bool), key string) (string, bool) {
	v, ok := lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}
