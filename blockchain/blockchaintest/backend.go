// Package blockchaintest provides an in-memory EthereumDIDRegistry chain for tests.
package blockchaintest

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"slices"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/pilacorp/go-ethr-did/blockchain"
)

// Backend is a single-node chain that only knows the DID registry. Every
// accepted transaction is mined immediately in its own block.
//
// Exported fields may be changed between calls to inject failures.
type Backend struct {
	// ChainIDValue is what ChainID reports.
	ChainIDValue *big.Int
	GasPrice     *big.Int
	Gas          uint64

	// ChainIDErr, BalanceErr and SendErr are returned from the matching
	// calls when set.
	ChainIDErr error
	BalanceErr error
	SendErr    error

	mu       sync.Mutex
	abi      abi.ABI
	registry common.Address
	signer   types.Signer
	now      func() time.Time

	block    uint64
	balances map[common.Address]*big.Int
	nonces   map[common.Address]uint64
	owners   map[common.Address]common.Address
	changed  map[common.Address]uint64
	logs     []types.Log
	receipts map[common.Hash]*types.Receipt
	sent     []*types.Transaction
	calls    int
}

// New creates a chain with the registry deployed at registry.
func New(chainID int64, registry common.Address) *Backend {
	contractABI, err := blockchain.RegistryABI()
	if err != nil {
		panic(err)
	}

	return &Backend{
		ChainIDValue: big.NewInt(chainID),
		GasPrice:     big.NewInt(1_000_000_000),
		Gas:          60_000,
		abi:          contractABI,
		registry:     registry,
		signer:       types.NewEIP155Signer(big.NewInt(chainID)),
		now:          time.Now,
		block:        100,
		balances:     map[common.Address]*big.Int{},
		nonces:       map[common.Address]uint64{},
		owners:       map[common.Address]common.Address{},
		changed:      map[common.Address]uint64{},
		receipts:     map[common.Hash]*types.Receipt{},
	}
}

// Fund sets the balance of account.
func (b *Backend) Fund(account common.Address, wei *big.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.balances[account] = new(big.Int).Set(wei)
}

// SetNow overrides the clock used for attribute and delegate expiry.
func (b *Backend) SetNow(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

// Sent returns the transactions accepted so far.
func (b *Backend) Sent() []*types.Transaction {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*types.Transaction(nil), b.sent...)
}

// Calls returns how many RPC calls were served.
func (b *Backend) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

// SetAttribute records an attribute change for identity without a transaction.
func (b *Backend) SetAttribute(identity common.Address, name string, value []byte, validity time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	nameBytes, _ := blockchain.NameToBytes32(name)
	b.setAttribute(identity, nameBytes, value, big.NewInt(int64(validity/time.Second)), common.Hash{})
}

// RevokeAttribute records an attribute revocation (validTo = 0).
func (b *Backend) RevokeAttribute(identity common.Address, name string, value []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	nameBytes, _ := blockchain.NameToBytes32(name)
	b.emit(identity, "DIDAttributeChanged", common.Hash{}, nameBytes, value, new(big.Int), b.previous(identity))
}

// AddDelegate records a delegate for identity without a transaction.
func (b *Backend) AddDelegate(identity common.Address, delegateType string, delegate common.Address, validity time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	typeBytes, _ := blockchain.NameToBytes32(delegateType)
	validTo := big.NewInt(b.now().Unix() + int64(validity/time.Second))
	b.emit(identity, "DIDDelegateChanged", common.Hash{}, typeBytes, delegate, validTo, b.previous(identity))
}

// ChangeOwner transfers identity to owner without a transaction.
func (b *Backend) ChangeOwner(identity, owner common.Address) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.changeOwner(identity, owner, common.Hash{})
}

func (b *Backend) ownerOf(identity common.Address) common.Address {
	if owner, ok := b.owners[identity]; ok {
		return owner
	}
	return identity
}

func (b *Backend) previous(identity common.Address) *big.Int {
	return new(big.Int).SetUint64(b.changed[identity])
}

func (b *Backend) setAttribute(identity common.Address, name [32]byte, value []byte, validity *big.Int, txHash common.Hash) {
	validTo := new(big.Int).Add(big.NewInt(b.now().Unix()), validity)
	b.emit(identity, "DIDAttributeChanged", txHash, name, value, validTo, b.previous(identity))
}

func (b *Backend) changeOwner(identity, owner common.Address, txHash common.Hash) {
	b.owners[identity] = owner
	b.emit(identity, "DIDOwnerChanged", txHash, owner, b.previous(identity))
}

// emit mines a new block holding one event for identity.
func (b *Backend) emit(identity common.Address, event string, txHash common.Hash, args ...interface{}) {
	ev := b.abi.Events[event]
	data, err := ev.Inputs.NonIndexed().Pack(args...)
	if err != nil {
		panic(fmt.Sprintf("pack %s: %v", event, err))
	}

	b.block++
	b.logs = append(b.logs, types.Log{
		Address:     b.registry,
		Topics:      []common.Hash{ev.ID, common.BytesToHash(identity.Bytes())},
		Data:        data,
		BlockNumber: b.block,
		TxHash:      txHash,
	})
	b.changed[identity] = b.block
}

func (b *Backend) ChainID(ctx context.Context) (*big.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if b.ChainIDErr != nil {
		return nil, b.ChainIDErr
	}
	return new(big.Int).Set(b.ChainIDValue), nil
}

func (b *Backend) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if b.BalanceErr != nil {
		return nil, b.BalanceErr
	}
	if bal, ok := b.balances[account]; ok {
		return new(big.Int).Set(bal), nil
	}
	return new(big.Int), nil
}

func (b *Backend) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if account == b.registry {
		return []byte{0x60, 0x80}, nil
	}
	return nil, nil
}

func (b *Backend) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++

	if call.To == nil || *call.To != b.registry {
		return nil, nil
	}
	if len(call.Data) < 4 {
		return nil, errors.New("execution reverted")
	}

	method, err := b.abi.MethodById(call.Data[:4])
	if err != nil {
		return nil, err
	}
	args, err := method.Inputs.Unpack(call.Data[4:])
	if err != nil {
		return nil, err
	}

	switch method.Name {
	case "identityOwner", "owners":
		return method.Outputs.Pack(b.ownerOf(args[0].(common.Address)))
	case "changed":
		return method.Outputs.Pack(new(big.Int).SetUint64(b.changed[args[0].(common.Address)]))
	case "nonce":
		return method.Outputs.Pack(new(big.Int))
	default:
		return nil, fmt.Errorf("execution reverted: %s not supported", method.Name)
	}
}

func (b *Backend) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++

	var out []types.Log
	for _, lg := range b.logs {
		if q.FromBlock != nil && lg.BlockNumber < q.FromBlock.Uint64() {
			continue
		}
		if q.ToBlock != nil && lg.BlockNumber > q.ToBlock.Uint64() {
			continue
		}
		if len(q.Addresses) > 0 && !slices.Contains(q.Addresses, lg.Address) {
			continue
		}
		if !matchTopics(q.Topics, lg.Topics) {
			continue
		}
		out = append(out, lg)
	}

	return out, nil
}

func (b *Backend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	return b.nonces[account], nil
}

func (b *Backend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	return new(big.Int).Set(b.GasPrice), nil
}

func (b *Backend) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	return b.Gas, nil
}

// SendTransaction validates and mines tx. Calls from an account that does not
// own the target identity are mined with a failed receipt, like a revert.
func (b *Backend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++

	if b.SendErr != nil {
		return b.SendErr
	}

	from, err := types.Sender(b.signer, tx)
	if err != nil {
		return fmt.Errorf("invalid sender: %w", err)
	}
	if tx.Nonce() < b.nonces[from] {
		return errors.New("nonce too low")
	}
	if tx.Nonce() > b.nonces[from] {
		return errors.New("nonce too high")
	}

	balance := b.balances[from]
	if balance == nil || balance.Cmp(tx.Cost()) < 0 {
		return errors.New("insufficient funds for gas * price + value")
	}

	b.nonces[from]++
	b.balances[from] = new(big.Int).Sub(balance, tx.Cost())
	b.sent = append(b.sent, tx)

	status := types.ReceiptStatusSuccessful
	if !b.apply(from, tx) {
		status = types.ReceiptStatusFailed
		b.block++
	}

	b.receipts[tx.Hash()] = &types.Receipt{
		Status:      status,
		TxHash:      tx.Hash(),
		BlockNumber: new(big.Int).SetUint64(b.block),
		GasUsed:     tx.Gas(),
	}

	return nil
}

// apply executes a registry call and reports whether it succeeded.
func (b *Backend) apply(from common.Address, tx *types.Transaction) bool {
	if tx.To() == nil || *tx.To() != b.registry || len(tx.Data()) < 4 {
		return false
	}

	method, err := b.abi.MethodById(tx.Data()[:4])
	if err != nil {
		return false
	}
	args, err := method.Inputs.Unpack(tx.Data()[4:])
	if err != nil {
		return false
	}

	identity := args[0].(common.Address)
	if b.ownerOf(identity) != from {
		return false
	}

	switch method.Name {
	case "setAttribute":
		b.setAttribute(identity, args[1].([32]byte), args[2].([]byte), args[3].(*big.Int), tx.Hash())
	case "revokeAttribute":
		b.emit(identity, "DIDAttributeChanged", tx.Hash(), args[1].([32]byte), args[2].([]byte), new(big.Int), b.previous(identity))
	case "changeOwner":
		b.changeOwner(identity, args[1].(common.Address), tx.Hash())
	default:
		return false
	}

	return true
}

func (b *Backend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++

	receipt, ok := b.receipts[txHash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return receipt, nil
}

func matchTopics(query [][]common.Hash, topics []common.Hash) bool {
	if len(query) > len(topics) {
		return false
	}
	for i, alternatives := range query {
		if len(alternatives) == 0 {
			continue
		}
		match := false
		for _, t := range alternatives {
			if t == topics[i] {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}
	return true
}
