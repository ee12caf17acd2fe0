package ethrdid

import (
	"log/slog"
	"strings"
	"time"

	"github.com/pilacorp/go-ethr-did/blockchain"
	"github.com/pilacorp/go-ethr-did/did"
	"github.com/pilacorp/go-ethr-did/resolver"
)

// Default configuration constants.
//
// These values can be overridden using configuration options when creating
// an Identity.
const (
	// DefaultRPC is a public Sepolia JSON-RPC endpoint.
	DefaultRPC = "https://ethereum-sepolia-rpc.publicnode.com"
	// DefaultChainID is the Sepolia chain id.
	DefaultChainID = int64(11155111)
	// DefaultNetwork is the chain reference written into new DIDs.
	DefaultNetwork = "sepolia"
	// DefaultRegistryAddress is the ERC-1056 EthereumDIDRegistry deployment on Sepolia.
	DefaultRegistryAddress = "0x03d5003bf0e79c5f5223588f347eba39afbc3818"
	// DefaultValidity is how long a published attribute stays valid.
	DefaultValidity = blockchain.AttributeValiditySeconds * time.Second
)

// Config holds configuration for an Identity.
type Config struct {
	// RPC is the JSON-RPC endpoint. Ignored when Backend is set.
	RPC string
	// ChainID is the chain the registry lives on.
	ChainID int64
	// Network is the chain reference used when building DIDs. Empty means the
	// implicit did:ethr:<address> form.
	Network string
	// RegistryAddress is the ERC-1056 registry contract address.
	RegistryAddress string
	// Validity is the default attribute validity.
	Validity time.Duration
	// GasLimit fixes the setAttribute gas limit. Zero means estimate.
	GasLimit uint64
	Logger   *slog.Logger
	// Backend replaces the lazily dialed JSON-RPC provider.
	Backend blockchain.Backend
	// Resolver replaces the on-chain registry resolver.
	Resolver resolver.Resolver

	keyGenerator func() (*did.KeyPair, error)
}

// Option is a functional option type for configuring an Identity.
type Option func(*Config)

// WithRPC sets the JSON-RPC endpoint URL.
func WithRPC(rpc string) Option {
	return func(c *Config) { c.RPC = rpc }
}

// WithChainID sets the chain id.
func WithChainID(chainID int64) Option {
	return func(c *Config) { c.ChainID = chainID }
}

// WithNetwork sets the chain reference written into new DIDs.
func WithNetwork(network string) Option {
	return func(c *Config) { c.Network = network }
}

// WithRegistryAddress sets the ERC-1056 registry contract address.
func WithRegistryAddress(addr string) Option {
	return func(c *Config) { c.RegistryAddress = strings.ToLower(addr) }
}

// WithValidity sets the default attribute validity.
func WithValidity(validity time.Duration) Option {
	return func(c *Config) { c.Validity = validity }
}

// WithGasLimit fixes the gas limit of registry transactions.
func WithGasLimit(gasLimit uint64) Option {
	return func(c *Config) { c.GasLimit = gasLimit }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) { c.Logger = logger }
}

// WithBackend injects the chain backend, typically a shared
// *blockchain.Provider.
func WithBackend(backend blockchain.Backend) Option {
	return func(c *Config) { c.Backend = backend }
}

// WithResolver injects the DID resolver, e.g. a universal resolver client.
func WithResolver(r resolver.Resolver) Option {
	return func(c *Config) { c.Resolver = r }
}

// WithKeyGenerator overrides the key pair source used by CreateDID.
func WithKeyGenerator(gen func() (*did.KeyPair, error)) Option {
	return func(c *Config) { c.keyGenerator = gen }
}

// AttributeOption configures a single AddDIDAttribute call.
type AttributeOption func(*attributeConfig)

type attributeConfig struct {
	validity time.Duration
}

// WithAttributeValidity overrides the configured validity for one attribute.
func WithAttributeValidity(validity time.Duration) AttributeOption {
	return func(c *attributeConfig) { c.validity = validity }
}
