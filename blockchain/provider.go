// Package blockchain talks to an EVM JSON-RPC endpoint and to the ERC-1056
// EthereumDIDRegistry contract deployed on it.
package blockchain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Backend is the subset of the JSON-RPC client used by the registry client.
// *ethclient.Client satisfies it, and so does *Provider.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// ErrNoRPCURL is returned when a Provider is used without an endpoint.
var ErrNoRPCURL = errors.New("RPC URL is not configured")

type dialFunc func(ctx context.Context, rawURL string) (Backend, error)

// Provider is a process-lifetime JSON-RPC handle.
//
// The connection is opened on first use. Concurrent first uses share a single
// dial; a failed dial is retried on the next call.
type Provider struct {
	rpcURL string
	dial   dialFunc

	mu     sync.Mutex
	client Backend
}

// NewProvider creates a Provider for rpcURL. No connection is made until the
// first call.
func NewProvider(rpcURL string) *Provider {
	return &Provider{
		rpcURL: rpcURL,
		dial: func(ctx context.Context, rawURL string) (Backend, error) {
			return ethclient.DialContext(ctx, rawURL)
		},
	}
}

func (p *Provider) backend(ctx context.Context) (Backend, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client != nil {
		return p.client, nil
	}

	if p.rpcURL == "" {
		return nil, ErrNoRPCURL
	}

	client, err := p.dial(ctx, p.rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC endpoint: %w", err)
	}
	p.client = client

	return client, nil
}

// Close releases the underlying connection, if one was opened.
func (p *Provider) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.client.(interface{ Close() }); ok {
		c.Close()
	}
	p.client = nil
}

func (p *Provider) ChainID(ctx context.Context) (*big.Int, error) {
	b, err := p.backend(ctx)
	if err != nil {
		return nil, err
	}
	return b.ChainID(ctx)
}

func (p *Provider) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	b, err := p.backend(ctx)
	if err != nil {
		return nil, err
	}
	return b.BalanceAt(ctx, account, blockNumber)
}

func (p *Provider) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	b, err := p.backend(ctx)
	if err != nil {
		return nil, err
	}
	return b.CodeAt(ctx, account, blockNumber)
}

func (p *Provider) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	b, err := p.backend(ctx)
	if err != nil {
		return nil, err
	}
	return b.CallContract(ctx, call, blockNumber)
}

func (p *Provider) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	b, err := p.backend(ctx)
	if err != nil {
		return nil, err
	}
	return b.FilterLogs(ctx, q)
}

func (p *Provider) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	b, err := p.backend(ctx)
	if err != nil {
		return 0, err
	}
	return b.PendingNonceAt(ctx, account)
}

func (p *Provider) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	b, err := p.backend(ctx)
	if err != nil {
		return nil, err
	}
	return b.SuggestGasPrice(ctx)
}

func (p *Provider) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	b, err := p.backend(ctx)
	if err != nil {
		return 0, err
	}
	return b.EstimateGas(ctx, call)
}

func (p *Provider) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	b, err := p.backend(ctx)
	if err != nil {
		return err
	}
	return b.SendTransaction(ctx, tx)
}

func (p *Provider) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	b, err := p.backend(ctx)
	if err != nil {
		return nil, err
	}
	return b.TransactionReceipt(ctx, txHash)
}
