// Package ethrdid is the did:ethr identity core: it creates DIDs, publishes
// attributes to the ERC-1056 registry, resolves and normalizes DID Documents,
// and verifies ownership and message signatures.
package ethrdid

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pilacorp/go-ethr-did/blockchain"
	"github.com/pilacorp/go-ethr-did/did"
	"github.com/pilacorp/go-ethr-did/document"
	"github.com/pilacorp/go-ethr-did/resolver"
	"github.com/pilacorp/go-ethr-did/signer"
)

// PublicKeyAttribute is the attribute RegisterDID publishes.
const PublicKeyAttribute = "did/pub/Secp256k1/veriKey/hex"

// Identity runs DID operations against one registry on one chain.
// It is safe for concurrent use.
type Identity struct {
	cfg      Config
	provider *blockchain.Provider
	registry *blockchain.Registry
	resolver resolver.Resolver
	logger   *slog.Logger
}

// New creates an Identity.
//
// Unless WithBackend is given, the JSON-RPC connection is dialed on first use
// and owned by the Identity; release it with Close.
func New(options ...Option) (*Identity, error) {
	cfg := Config{
		RPC:             DefaultRPC,
		ChainID:         DefaultChainID,
		Network:         DefaultNetwork,
		RegistryAddress: DefaultRegistryAddress,
		Validity:        DefaultValidity,
	}

	for _, opt := range options {
		opt(&cfg)
	}

	if cfg.ChainID <= 0 {
		return nil, fmt.Errorf("chain id must be positive")
	}
	if cfg.Network != "" {
		chainID, ok := did.ChainIDForNetwork(cfg.Network)
		if !ok {
			return nil, fmt.Errorf("unknown network %q", cfg.Network)
		}
		if chainID != cfg.ChainID {
			return nil, fmt.Errorf("network %q is chain %d, configured chain is %d", cfg.Network, chainID, cfg.ChainID)
		}
	}
	if cfg.Validity <= 0 {
		cfg.Validity = DefaultValidity
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.keyGenerator == nil {
		cfg.keyGenerator = did.GenerateECDSAKeyPair
	}

	id := &Identity{cfg: cfg, logger: cfg.Logger}

	backend := cfg.Backend
	if backend == nil {
		id.provider = blockchain.NewProvider(cfg.RPC)
		backend = id.provider
	}

	registry, err := blockchain.NewRegistry(blockchain.RegistryConfig{
		ContractAddress: cfg.RegistryAddress,
		ChainID:         cfg.ChainID,
		GasLimit:        cfg.GasLimit,
	}, backend)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize registry client: %w", err)
	}
	id.registry = registry

	id.resolver = cfg.Resolver
	if id.resolver == nil {
		id.resolver = resolver.NewChain(registry, cfg.ChainID)
	}

	return id, nil
}

// Close releases the JSON-RPC connection if the Identity owns it.
func (i *Identity) Close() {
	if i.provider != nil {
		i.provider.Close()
	}
}

// ChainID returns the configured chain id.
func (i *Identity) ChainID() int64 {
	return i.cfg.ChainID
}

// Network returns the chain reference written into new DIDs.
func (i *Identity) Network() string {
	return i.cfg.Network
}

// CreateDID generates a key pair and derives its DID. It performs no network
// I/O and does not register anything on chain.
func (i *Identity) CreateDID() (*DIDResult, error) {
	const op = "CreateDID"

	keyPair, err := i.cfg.keyGenerator()
	if err != nil {
		return nil, newError(op, ErrKeyGeneration, err)
	}
	if keyPair == nil || keyPair.PrivateKey == nil || keyPair.PublicKey == nil {
		return nil, newError(op, ErrKeyGeneration, errors.New("generator returned no key"))
	}

	return &DIDResult{
		DID:          keyPair.GetDID(i.cfg.Network),
		Address:      keyPair.GetAddress(),
		PublicKeyHex: keyPair.GetPublicKeyHex(),
		Secret:       Secret{PrivateKeyHex: keyPair.GetPrivateKeyHex()},
	}, nil
}

// RegisterDID publishes the compressed public key of privateKeyHex as the
// PublicKeyAttribute of didStr and returns the transaction hash.
func (i *Identity) RegisterDID(ctx context.Context, didStr, privateKeyHex string) (string, error) {
	const op = "RegisterDID"

	id, keyPair, err := i.authorize(op, didStr, privateKeyHex)
	if err != nil {
		return "", err
	}

	txSigner := signer.NewProviderFromKey(keyPair.PrivateKey)
	res, err := i.setAttribute(ctx, op, id, txSigner, PublicKeyAttribute, keyPair.GetPublicKeyHex(), i.cfg.Validity)
	if err != nil {
		return "", err
	}

	return res.TxHash, nil
}

// AddDIDAttribute sets attribute key to value on didStr and waits for the
// transaction to be mined.
//
// All input checks run before any network call. A 0x-prefixed hex value is
// published as raw bytes, anything else as UTF-8. The call is not
// idempotent: every call emits a new attribute change.
func (i *Identity) AddDIDAttribute(ctx context.Context, didStr, privateKeyHex, key, value string, options ...AttributeOption) (*AttributeResult, error) {
	const op = "AddDIDAttribute"

	id, keyPair, err := i.authorize(op, didStr, privateKeyHex)
	if err != nil {
		return nil, err
	}

	txSigner := signer.NewProviderFromKey(keyPair.PrivateKey)
	return i.setAttribute(ctx, op, id, txSigner, key, value, attributeValidity(i.cfg.Validity, options))
}

// AddDIDAttributeWithSigner is AddDIDAttribute with the transaction signed by
// txSigner, typically a signer.RemoteProvider holding the key off-process.
func (i *Identity) AddDIDAttributeWithSigner(ctx context.Context, didStr string, txSigner signer.SignerProvider, key, value string, options ...AttributeOption) (*AttributeResult, error) {
	const op = "AddDIDAttribute"

	id, err := did.Parse(didStr)
	if err != nil {
		return nil, newError(op, ErrFormat, err)
	}
	if txSigner == nil {
		return nil, newError(op, ErrKeyMismatch, errors.New("no signer"))
	}
	if err := i.checkController(op, id, txSigner.GetAddress()); err != nil {
		return nil, err
	}

	return i.setAttribute(ctx, op, id, txSigner, key, value, attributeValidity(i.cfg.Validity, options))
}

func attributeValidity(def time.Duration, options []AttributeOption) time.Duration {
	attrCfg := attributeConfig{validity: def}
	for _, opt := range options {
		opt(&attrCfg)
	}
	return attrCfg.validity
}

// authorize checks that didStr is well formed, that privateKeyHex controls it
// and that it names the configured chain.
func (i *Identity) authorize(op, didStr, privateKeyHex string) (*did.Identifier, *did.KeyPair, error) {
	id, err := did.Parse(didStr)
	if err != nil {
		return nil, nil, newError(op, ErrFormat, err)
	}

	keyPair, err := did.KeyPairFromHex(privateKeyHex)
	if err != nil {
		return nil, nil, newError(op, ErrKeyMismatch, err)
	}
	if err := i.checkController(op, id, keyPair.GetAddress()); err != nil {
		return nil, nil, err
	}

	return id, keyPair, nil
}

func (i *Identity) checkController(op string, id *did.Identifier, address string) error {
	if !did.SameAddress(address, id.Address) {
		return newError(op, ErrKeyMismatch, fmt.Errorf("key address %s, DID address %s", address, id.Address))
	}
	if err := i.checkNetwork(id); err != nil {
		return newError(op, ErrWrongNetwork, err)
	}
	return nil
}

func (i *Identity) checkNetwork(id *did.Identifier) error {
	if id.Network == "" {
		return nil
	}
	chainID, ok := did.ChainIDForNetwork(id.Network)
	if !ok {
		return fmt.Errorf("unknown network %q", id.Network)
	}
	if chainID != i.cfg.ChainID {
		return fmt.Errorf("DID network %q is chain %d, configured chain is %d", id.Network, chainID, i.cfg.ChainID)
	}
	return nil
}

func (i *Identity) setAttribute(ctx context.Context, op string, id *did.Identifier, txSigner signer.SignerProvider, key, value string, validity time.Duration) (*AttributeResult, error) {
	identity, name, encoded, validitySeconds, err := blockchain.PrepareAttributeInputs(id.Address, key, value, validity)
	if err != nil {
		return nil, newError(op, ErrFormat, err)
	}

	if err := i.registry.CheckChain(ctx); err != nil {
		return nil, newError(op, classifyChainError(err), err)
	}

	tx, err := i.registry.SetAttributeTx(ctx, blockchain.SetAttributeRequest{
		Identity: identity,
		Name:     name,
		Value:    encoded,
		Validity: validitySeconds,
	}, txSigner)
	if err != nil {
		return nil, newError(op, classifyChainError(err), err)
	}

	if err := i.registry.EnsureFunds(ctx, common.HexToAddress(txSigner.GetAddress()), tx); err != nil {
		return nil, newError(op, classifyChainError(err), err)
	}

	i.logger.InfoContext(ctx, "submitting setAttribute", "did", id.DID, "attribute", key, "tx", tx.Hash().Hex())

	receipt, err := i.registry.Submit(ctx, tx)
	if err != nil {
		i.logger.WarnContext(ctx, "setAttribute failed", "did", id.DID, "tx", tx.Hash().Hex(), "error", err)
		return nil, newError(op, classifyChainError(err), err)
	}

	return &AttributeResult{
		TxHash:      receipt.TxHash.Hex(),
		BlockNumber: receipt.BlockNumber.Uint64(),
		Key:         key,
		Value:       value,
	}, nil
}

func classifyChainError(err error) error {
	switch {
	case errors.Is(err, blockchain.ErrChainMismatch):
		return ErrWrongNetwork
	case blockchain.IsInsufficientFunds(err):
		return ErrInsufficientFunds
	case blockchain.IsNonceConflict(err):
		return ErrNonceConflict
	default:
		return ErrTransactionFailed
	}
}

// Resolve resolves didStr and returns the normalized resolution result.
//
// Malformed DIDs fail with ErrFormat before any network call. Deactivated
// DIDs fail with ErrNotFound; resolver transport failures with ErrResolution.
func (i *Identity) Resolve(ctx context.Context, didStr string) (*document.Resolution, error) {
	const op = "Resolve"

	id, err := did.Parse(didStr)
	if err != nil {
		return nil, newError(op, ErrFormat, err)
	}

	res, err := i.resolver.Resolve(ctx, didStr)
	if err != nil {
		return nil, newError(op, classifyResolveError(err), err)
	}
	if res == nil || res.DIDDocument == nil {
		return nil, newError(op, ErrNotFound, nil)
	}
	if res.DIDDocumentMetadata.Deactivated {
		return nil, newError(op, ErrNotFound, errors.New("DID is deactivated"))
	}

	controller, ok := res.DIDDocument.ControllerAddress()
	if !ok {
		controller = strings.ToLower(id.Address)
	}

	return &document.Resolution{
		DIDDocument:           document.Normalize(res.DIDDocument, didStr, controller, i.cfg.ChainID),
		DIDResolutionMetadata: res.DIDResolutionMetadata,
		DIDDocumentMetadata:   res.DIDDocumentMetadata,
	}, nil
}

func classifyResolveError(err error) error {
	switch {
	case errors.Is(err, resolver.ErrInvalidDID):
		return ErrFormat
	case errors.Is(err, resolver.ErrUnknownNetwork):
		return ErrWrongNetwork
	case errors.Is(err, resolver.ErrNotFound):
		return ErrNotFound
	default:
		return ErrResolution
	}
}

// ResolveDID is Resolve with every failure collapsed to nil. Failures other
// than a malformed DID are logged.
func (i *Identity) ResolveDID(ctx context.Context, didStr string) *document.DIDDocument {
	res, err := i.Resolve(ctx, didStr)
	if err != nil {
		if !errors.Is(err, ErrFormat) {
			i.logger.WarnContext(ctx, "failed to resolve DID", "did", didStr, "error", err)
		}
		return nil
	}

	return res.DIDDocument
}

// VerifyDIDOwnership reports whether claimedAddress controls didStr: the
// document's controller when it names one, otherwise the DID's own address.
// Any resolution failure yields false.
func (i *Identity) VerifyDIDOwnership(ctx context.Context, didStr, claimedAddress string) bool {
	res, err := i.Resolve(ctx, didStr)
	if err != nil {
		return false
	}

	controller, ok := res.DIDDocument.ControllerAddress()
	if !ok {
		id, err := did.Parse(didStr)
		if err != nil {
			return false
		}
		controller = id.Address
	}

	return did.SameAddress(controller, claimedAddress)
}
