package blockchain_test

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pilacorp/go-ethr-did/blockchain"
	"github.com/pilacorp/go-ethr-did/blockchain/blockchaintest"
	"github.com/pilacorp/go-ethr-did/signer"
)

const (
	registryAddress = "0x03d5003bf0e79c5f5223588f347eba39afbc3818"
	chainID         = 11155111

	ownerPrv  = "0x8f49e4492f97ca6334e15117fc6c4c06f4652cac7fb27ed4ecc5ef9ea6ad5820"
	ownerAddr = "0x36e4418dafb9d1e5fff7408f5a57981e240c8f8e"
)

func newRegistry(t *testing.T) (*blockchain.Registry, *blockchaintest.Backend, signer.SignerProvider) {
	t.Helper()

	backend := blockchaintest.New(chainID, common.HexToAddress(registryAddress))
	registry, err := blockchain.NewRegistry(blockchain.RegistryConfig{
		ContractAddress: registryAddress,
		ChainID:         chainID,
	}, backend)
	require.NoError(t, err)

	provider, err := signer.NewDefaultProvider(ownerPrv)
	require.NoError(t, err)

	return registry, backend, provider
}

func setAttributeRequest(t *testing.T, name, value string) blockchain.SetAttributeRequest {
	t.Helper()

	identity, nameBytes, valueBytes, validity, err := blockchain.PrepareAttributeInputs(ownerAddr, name, value, 0)
	require.NoError(t, err)

	return blockchain.SetAttributeRequest{Identity: identity, Name: nameBytes, Value: valueBytes, Validity: validity}
}

func TestNewRegistryConfig(t *testing.T) {
	backend := blockchaintest.New(chainID, common.HexToAddress(registryAddress))

	tests := []struct {
		name string
		cfg  blockchain.RegistryConfig
	}{
		{name: "missing address", cfg: blockchain.RegistryConfig{ChainID: chainID}},
		{name: "bad address", cfg: blockchain.RegistryConfig{ContractAddress: "0x1234", ChainID: chainID}},
		{name: "zero chain", cfg: blockchain.RegistryConfig{ContractAddress: registryAddress}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := blockchain.NewRegistry(tt.cfg, backend)
			assert.Error(t, err)
		})
	}

	_, err := blockchain.NewRegistry(blockchain.RegistryConfig{ContractAddress: registryAddress, ChainID: chainID}, nil)
	assert.Error(t, err)
}

func TestPrepareAttributeInputs(t *testing.T) {
	t.Run("pads name and defaults validity", func(t *testing.T) {
		identity, name, value, validity, err := blockchain.PrepareAttributeInputs(ownerAddr, "did/svc/MessagingService", "https://example.com", 0)
		require.NoError(t, err)
		assert.Equal(t, common.HexToAddress(ownerAddr), identity)
		assert.Equal(t, "did/svc/MessagingService", blockchain.Bytes32ToName(name))
		assert.Equal(t, byte(0), name[31])
		assert.Equal(t, []byte("https://example.com"), value)
		assert.Equal(t, int64(blockchain.AttributeValiditySeconds), validity.Int64())
	})

	t.Run("hex value decoded", func(t *testing.T) {
		_, _, value, validity, err := blockchain.PrepareAttributeInputs(ownerAddr, "did/pub/Secp256k1/veriKey/hex", "0x02ab", time.Hour)
		require.NoError(t, err)
		assert.Equal(t, []byte{0x02, 0xab}, value)
		assert.Equal(t, int64(3600), validity.Int64())
	})

	t.Run("invalid hex kept as text", func(t *testing.T) {
		assert.Equal(t, []byte("0xzz"), blockchain.EncodeAttributeValue("0xzz"))
		assert.Equal(t, []byte("0xabc"), blockchain.EncodeAttributeValue("0xabc"))
	})

	t.Run("name at 32 bytes accepted", func(t *testing.T) {
		_, _, _, _, err := blockchain.PrepareAttributeInputs(ownerAddr, strings.Repeat("n", 32), "v", 0)
		assert.NoError(t, err)
	})

	t.Run("errors", func(t *testing.T) {
		_, _, _, _, err := blockchain.PrepareAttributeInputs("", "name", "v", 0)
		assert.Error(t, err)
		_, _, _, _, err = blockchain.PrepareAttributeInputs(ownerAddr, "", "v", 0)
		assert.Error(t, err)
		_, _, _, _, err = blockchain.PrepareAttributeInputs(ownerAddr, strings.Repeat("n", 33), "v", 0)
		assert.Error(t, err)
	})
}

func TestSetAttributeTx(t *testing.T) {
	registry, backend, provider := newRegistry(t)
	ctx := context.Background()

	tx, err := registry.SetAttributeTx(ctx, setAttributeRequest(t, "did/svc/MessagingService", "https://example.com"), provider)
	require.NoError(t, err)

	assert.Equal(t, common.HexToAddress(registryAddress), *tx.To())
	assert.Equal(t, uint64(0), tx.Nonce())
	assert.Equal(t, backend.Gas, tx.Gas())
	assert.Equal(t, backend.GasPrice.Int64(), tx.GasPrice().Int64())
	assert.Equal(t, uint8(types.LegacyTxType), tx.Type())

	sender, err := types.Sender(types.NewEIP155Signer(big.NewInt(chainID)), tx)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(ownerAddr), sender)

	contractABI, err := blockchain.RegistryABI()
	require.NoError(t, err)
	method, err := contractABI.MethodById(tx.Data()[:4])
	require.NoError(t, err)
	assert.Equal(t, "setAttribute", method.Name)

	// Nothing is broadcast while building.
	assert.Empty(t, backend.Sent())
}

func TestSubmitAndHistory(t *testing.T) {
	registry, backend, provider := newRegistry(t)
	ctx := context.Background()
	backend.Fund(common.HexToAddress(ownerAddr), big.NewInt(1e18))

	tx, err := registry.SetAttributeTx(ctx, setAttributeRequest(t, "did/svc/MessagingService", "https://example.com"), provider)
	require.NoError(t, err)
	require.NoError(t, registry.CheckChain(ctx))
	require.NoError(t, registry.EnsureFunds(ctx, common.HexToAddress(ownerAddr), tx))

	receipt, err := registry.Submit(ctx, tx)
	require.NoError(t, err)
	assert.Equal(t, types.ReceiptStatusSuccessful, receipt.Status)

	owner, err := registry.IdentityOwner(ctx, common.HexToAddress(ownerAddr))
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(ownerAddr), owner)

	changed, err := registry.Changed(ctx, common.HexToAddress(ownerAddr))
	require.NoError(t, err)
	assert.Equal(t, receipt.BlockNumber.Uint64(), changed)

	history, err := registry.History(ctx, common.HexToAddress(ownerAddr))
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, blockchain.EventAttributeChanged, history[0].Kind)
	assert.Equal(t, "did/svc/MessagingService", history[0].Name)
	assert.Equal(t, []byte("https://example.com"), history[0].Value)
	assert.Equal(t, tx.Hash(), history[0].TxHash)
	assert.Zero(t, history[0].PreviousChange.Sign())
}

func TestHistoryOrder(t *testing.T) {
	registry, backend, _ := newRegistry(t)
	ctx := context.Background()

	identity := common.HexToAddress(ownerAddr)
	delegate := common.HexToAddress("0x00000000000000000000000000000000000000d1")
	newOwner := common.HexToAddress("0x00000000000000000000000000000000000000e1")
	other := common.HexToAddress("0x00000000000000000000000000000000000000f1")

	backend.SetAttribute(identity, "did/svc/HubService", []byte("https://hub"), time.Hour)
	backend.SetAttribute(other, "did/svc/Other", []byte("x"), time.Hour)
	backend.AddDelegate(identity, "veriKey", delegate, time.Hour)
	backend.ChangeOwner(identity, newOwner)

	history, err := registry.History(ctx, identity)
	require.NoError(t, err)
	require.Len(t, history, 3)

	assert.Equal(t, blockchain.EventAttributeChanged, history[0].Kind)
	assert.Equal(t, blockchain.EventDelegateChanged, history[1].Kind)
	assert.Equal(t, "veriKey", history[1].DelegateType)
	assert.Equal(t, delegate, history[1].Delegate)
	assert.Equal(t, blockchain.EventOwnerChanged, history[2].Kind)
	assert.Equal(t, newOwner, history[2].Owner)

	owner, err := registry.IdentityOwner(ctx, identity)
	require.NoError(t, err)
	assert.Equal(t, newOwner, owner)

	empty, err := registry.History(ctx, common.HexToAddress("0x00000000000000000000000000000000000000aa"))
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestSubmitFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("insufficient balance", func(t *testing.T) {
		registry, _, provider := newRegistry(t)
		tx, err := registry.SetAttributeTx(ctx, setAttributeRequest(t, "name", "v"), provider)
		require.NoError(t, err)

		err = registry.EnsureFunds(ctx, common.HexToAddress(ownerAddr), tx)
		assert.ErrorIs(t, err, blockchain.ErrInsufficientFunds)
		assert.True(t, blockchain.IsInsufficientFunds(err))
	})

	t.Run("not the owner reverts", func(t *testing.T) {
		registry, backend, provider := newRegistry(t)
		backend.Fund(common.HexToAddress(ownerAddr), big.NewInt(1e18))
		backend.ChangeOwner(common.HexToAddress(ownerAddr), common.HexToAddress("0x00000000000000000000000000000000000000e1"))

		tx, err := registry.SetAttributeTx(ctx, setAttributeRequest(t, "name", "v"), provider)
		require.NoError(t, err)

		receipt, err := registry.Submit(ctx, tx)
		assert.ErrorIs(t, err, blockchain.ErrReverted)
		require.NotNil(t, receipt)
		assert.Equal(t, types.ReceiptStatusFailed, receipt.Status)
	})

	t.Run("node rejects nonce", func(t *testing.T) {
		registry, backend, provider := newRegistry(t)
		backend.SendErr = errors.New("nonce too low: next nonce 5, tx nonce 4")

		tx, err := registry.SetAttributeTx(ctx, setAttributeRequest(t, "name", "v"), provider)
		require.NoError(t, err)

		_, err = registry.Submit(ctx, tx)
		require.Error(t, err)
		assert.True(t, blockchain.IsNonceConflict(err))
		assert.Contains(t, err.Error(), "nonce too low")
	})

	t.Run("wrong chain", func(t *testing.T) {
		registry, backend, _ := newRegistry(t)
		backend.ChainIDValue = big.NewInt(1)

		err := registry.CheckChain(ctx)
		assert.ErrorIs(t, err, blockchain.ErrChainMismatch)
	})
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		err           error
		insufficient  bool
		nonceConflict bool
	}{
		{err: errors.New("insufficient funds for gas * price + value"), insufficient: true},
		{err: errors.New("INSUFFICIENT FUNDS"), insufficient: true},
		{err: errors.New("replacement transaction underpriced"), nonceConflict: true},
		{err: errors.New("already known"), nonceConflict: true},
		{err: errors.New("execution reverted")},
		{err: nil},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.insufficient, blockchain.IsInsufficientFunds(tt.err), "%v", tt.err)
		assert.Equal(t, tt.nonceConflict, blockchain.IsNonceConflict(tt.err), "%v", tt.err)
	}
}
