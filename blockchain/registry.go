package blockchain

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pilacorp/go-ethr-did/signer"
)

//go:embed did-contract/ethr_did_registry_abi.json
var registryABIJSON []byte

var (
	parsedABI    abi.ABI
	parseABIOnce sync.Once
	errParseABI  error
)

// loadABI parses the embedded EthereumDIDRegistry ABI exactly once.
func loadABI() (abi.ABI, error) {
	parseABIOnce.Do(func() {
		type hardhatArtifact struct {
			ABI json.RawMessage `json:"abi"`
		}
		var artifact hardhatArtifact
		if err := json.Unmarshal(registryABIJSON, &artifact); err != nil {
			errParseABI = fmt.Errorf("failed to unmarshal artifact JSON: %w", err)
			return
		}
		parsedABI, errParseABI = abi.JSON(strings.NewReader(string(artifact.ABI)))
	})

	return parsedABI, errParseABI
}

// RegistryABI returns the parsed EthereumDIDRegistry ABI.
func RegistryABI() (abi.ABI, error) {
	return loadABI()
}

// RegistryConfig holds configuration for the registry client.
type RegistryConfig struct {
	ContractAddress string
	ChainID         int64
	// Optional: when zero the gas limit is estimated by the node.
	GasLimit uint64
}

// Validate checks the configuration.
func (c RegistryConfig) Validate() error {
	if c.ContractAddress == "" {
		return errors.New("contract address is required")
	}
	if !common.IsHexAddress(c.ContractAddress) {
		return fmt.Errorf("contract address %q is not an address", c.ContractAddress)
	}
	if c.ChainID <= 0 {
		return errors.New("chain id must be positive")
	}
	return nil
}

// Registry is a client for the ERC-1056 EthereumDIDRegistry contract.
type Registry struct {
	contract     *bind.BoundContract
	abi          abi.ABI
	backend      Backend
	chainID      *big.Int
	contractAddr common.Address
	gasLimit     uint64
}

// NewRegistry creates a registry client bound to backend.
func NewRegistry(cfg RegistryConfig, backend Backend) (*Registry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if backend == nil {
		return nil, errors.New("backend is required")
	}

	contractABI, err := loadABI()
	if err != nil {
		return nil, err
	}

	addr := common.HexToAddress(cfg.ContractAddress)

	return &Registry{
		contract:     bind.NewBoundContract(addr, contractABI, backend, nil, nil),
		abi:          contractABI,
		backend:      backend,
		chainID:      big.NewInt(cfg.ChainID),
		contractAddr: addr,
		gasLimit:     cfg.GasLimit,
	}, nil
}

// Address returns the registry contract address.
func (r *Registry) Address() common.Address {
	return r.contractAddr
}

// ChainID returns the configured chain id.
func (r *Registry) ChainID() *big.Int {
	return new(big.Int).Set(r.chainID)
}

// CheckChain verifies the connected node serves the configured chain.
func (r *Registry) CheckChain(ctx context.Context) error {
	id, err := r.backend.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("failed to get chain id: %w", err)
	}
	if id.Cmp(r.chainID) != 0 {
		return fmt.Errorf("%w: node reports %s, configured %s", ErrChainMismatch, id, r.chainID)
	}
	return nil
}

// IdentityOwner returns the current owner of identity. An identity that was
// never transferred owns itself.
func (r *Registry) IdentityOwner(ctx context.Context, identity common.Address) (common.Address, error) {
	var out []interface{}
	err := r.contract.Call(&bind.CallOpts{Context: ctx}, &out, "identityOwner", identity)
	if err != nil {
		return common.Address{}, fmt.Errorf("contract call failed: %w", err)
	}
	if len(out) == 0 {
		return common.Address{}, errors.New("contract returned no data")
	}

	owner, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("unexpected output type: %T", out[0])
	}

	return owner, nil
}

// Changed returns the block number of the last change to identity, or zero.
func (r *Registry) Changed(ctx context.Context, identity common.Address) (uint64, error) {
	var out []interface{}
	err := r.contract.Call(&bind.CallOpts{Context: ctx}, &out, "changed", identity)
	if err != nil {
		return 0, fmt.Errorf("contract call failed: %w", err)
	}
	if len(out) == 0 {
		return 0, errors.New("contract returned no data")
	}

	block, ok := out[0].(*big.Int)
	if !ok {
		return 0, fmt.Errorf("unexpected output type: %T", out[0])
	}

	return block.Uint64(), nil
}

// SetAttributeRequest carries the setAttribute call arguments.
type SetAttributeRequest struct {
	Identity common.Address
	Name     [32]byte
	Value    []byte
	Validity *big.Int
}

// SetAttributeTx builds and signs a legacy EIP-155 setAttribute transaction.
//
// Nonce, gas price and (unless configured) gas limit come from the backend.
// The transaction is not broadcast.
func (r *Registry) SetAttributeTx(ctx context.Context, req SetAttributeRequest, txSigner signer.SignerProvider) (*types.Transaction, error) {
	if txSigner == nil {
		return nil, errors.New("tx signer is required")
	}

	from := common.HexToAddress(txSigner.GetAddress())

	input, err := r.abi.Pack("setAttribute", req.Identity, req.Name, req.Value, req.Validity)
	if err != nil {
		return nil, fmt.Errorf("failed to pack setAttribute: %w", err)
	}

	nonce, err := r.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("failed to get nonce: %w", err)
	}

	gasPrice, err := r.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas price: %w", err)
	}

	gasLimit := r.gasLimit
	if gasLimit == 0 {
		gasLimit, err = r.backend.EstimateGas(ctx, ethereum.CallMsg{
			From:     from,
			To:       &r.contractAddr,
			GasPrice: gasPrice,
			Data:     input,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to estimate gas: %w", err)
		}
	}

	auth := &bind.TransactOpts{
		From:     from,
		Nonce:    new(big.Int).SetUint64(nonce),
		Value:    big.NewInt(0),
		GasLimit: gasLimit,
		GasPrice: gasPrice,
		Context:  ctx,
		Signer:   signer.TxSignerFn(r.chainID, txSigner),
		NoSend:   true,
	}

	tx, err := r.contract.Transact(auth, "setAttribute", req.Identity, req.Name, req.Value, req.Validity)
	if err != nil {
		return nil, fmt.Errorf("failed to generate setAttribute Tx: %w", err)
	}

	return tx, nil
}

// Balance returns the latest balance of account in wei.
func (r *Registry) Balance(ctx context.Context, account common.Address) (*big.Int, error) {
	balance, err := r.backend.BalanceAt(ctx, account, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	return balance, nil
}

// EnsureFunds checks that from can pay for tx.
func (r *Registry) EnsureFunds(ctx context.Context, from common.Address, tx *types.Transaction) error {
	balance, err := r.Balance(ctx, from)
	if err != nil {
		return err
	}
	if balance.Cmp(tx.Cost()) < 0 {
		return fmt.Errorf("%w: balance %s, required %s", ErrInsufficientFunds, balance, tx.Cost())
	}
	return nil
}

// Submit broadcasts tx and blocks until it is mined or ctx is done.
func (r *Registry) Submit(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	if err := r.backend.SendTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("failed to send transaction: %w", err)
	}

	receipt, err := bind.WaitMined(ctx, r.backend, tx)
	if err != nil {
		return nil, fmt.Errorf("failed to wait for transaction %s: %w", tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("%w: %s", ErrReverted, tx.Hash().Hex())
	}

	return receipt, nil
}
