package ethrdid_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pilacorp/go-ethr-did/blockchain/blockchaintest"
	"github.com/pilacorp/go-ethr-did/did"
	"github.com/pilacorp/go-ethr-did/document"
	"github.com/pilacorp/go-ethr-did/ethrdid"
	"github.com/pilacorp/go-ethr-did/resolver"
	"github.com/pilacorp/go-ethr-did/signer"
)

const (
	ownerPrv  = "0x8f49e4492f97ca6334e15117fc6c4c06f4652cac7fb27ed4ecc5ef9ea6ad5820"
	ownerAddr = "0x36e4418dafb9d1e5fff7408f5a57981e240c8f8e"
	ownerDID  = "did:ethr:sepolia:" + ownerAddr

	otherPrv = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newIdentity(t *testing.T, opts ...ethrdid.Option) (*ethrdid.Identity, *blockchaintest.Backend) {
	t.Helper()

	backend := blockchaintest.New(ethrdid.DefaultChainID, common.HexToAddress(ethrdid.DefaultRegistryAddress))
	backend.Fund(common.HexToAddress(ownerAddr), big.NewInt(1_000_000_000_000_000_000))

	base := []ethrdid.Option{ethrdid.WithBackend(backend), ethrdid.WithLogger(discardLogger())}
	id, err := ethrdid.New(append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(id.Close)

	return id, backend
}

func TestNew(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		id, err := ethrdid.New(ethrdid.WithLogger(discardLogger()))
		require.NoError(t, err)
		defer id.Close()

		assert.Equal(t, ethrdid.DefaultChainID, id.ChainID())
		assert.Equal(t, ethrdid.DefaultNetwork, id.Network())
	})

	t.Run("network must match chain", func(t *testing.T) {
		_, err := ethrdid.New(ethrdid.WithNetwork("mainnet"))
		assert.Error(t, err)
	})

	t.Run("unknown network", func(t *testing.T) {
		_, err := ethrdid.New(ethrdid.WithNetwork("nowhere"))
		assert.Error(t, err)
	})

	t.Run("chain id required", func(t *testing.T) {
		_, err := ethrdid.New(ethrdid.WithChainID(0))
		assert.Error(t, err)
	})

	t.Run("bad registry address", func(t *testing.T) {
		_, err := ethrdid.New(ethrdid.WithRegistryAddress("0x1234"))
		assert.Error(t, err)
	})

	t.Run("implicit network", func(t *testing.T) {
		id, err := ethrdid.New(ethrdid.WithNetwork(""), ethrdid.WithChainID(31337))
		require.NoError(t, err)
		defer id.Close()
		assert.Equal(t, int64(31337), id.ChainID())
	})
}

func TestCreateDID(t *testing.T) {
	id, backend := newIdentity(t)

	res, err := id.CreateDID()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(res.DID, "did:ethr:sepolia:0x"))
	assert.True(t, did.IsValidDID(res.DID))

	addr, ok := did.ExtractAddress(res.DID)
	require.True(t, ok)
	assert.Equal(t, res.Address, addr)

	keyPair, err := did.KeyPairFromHex(res.Secret.PrivateKeyHex)
	require.NoError(t, err)
	assert.Equal(t, res.Address, keyPair.GetAddress())
	assert.Equal(t, res.PublicKeyHex, keyPair.GetPublicKeyHex())

	again, err := id.CreateDID()
	require.NoError(t, err)
	assert.NotEqual(t, res.DID, again.DID)

	assert.Zero(t, backend.Calls())
}

func TestCreateDIDImplicitNetwork(t *testing.T) {
	id, _ := newIdentity(t, ethrdid.WithNetwork(""))

	res, err := id.CreateDID()
	require.NoError(t, err)
	assert.Equal(t, "did:ethr:"+res.Address, res.DID)
}

func TestCreateDIDKeyGenerationFailure(t *testing.T) {
	cause := errors.New("entropy source unavailable")
	id, _ := newIdentity(t, ethrdid.WithKeyGenerator(func() (*did.KeyPair, error) {
		return nil, cause
	}))

	res, err := id.CreateDID()
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ethrdid.ErrKeyGeneration)
	assert.ErrorIs(t, err, cause)

	id, _ = newIdentity(t, ethrdid.WithKeyGenerator(func() (*did.KeyPair, error) {
		return &did.KeyPair{}, nil
	}))
	_, err = id.CreateDID()
	assert.ErrorIs(t, err, ethrdid.ErrKeyGeneration)
}

func TestAddDIDAttributeInputChecks(t *testing.T) {
	tests := []struct {
		name string
		did  string
		key  string
		attr string
		want error
	}{
		{name: "malformed DID", did: "did:example:123", key: ownerPrv, attr: "did/svc/Hub", want: ethrdid.ErrFormat},
		{name: "short address", did: "did:ethr:0x1234", key: ownerPrv, attr: "did/svc/Hub", want: ethrdid.ErrFormat},
		{name: "unparsable key", did: ownerDID, key: "0xnothex", attr: "did/svc/Hub", want: ethrdid.ErrKeyMismatch},
		{name: "key for another DID", did: ownerDID, key: otherPrv, attr: "did/svc/Hub", want: ethrdid.ErrKeyMismatch},
		{name: "other network", did: "did:ethr:mainnet:" + ownerAddr, key: ownerPrv, attr: "did/svc/Hub", want: ethrdid.ErrWrongNetwork},
		{name: "name too long", did: ownerDID, key: ownerPrv, attr: strings.Repeat("n", 33), want: ethrdid.ErrFormat},
		{name: "empty name", did: ownerDID, key: ownerPrv, attr: "", want: ethrdid.ErrFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, backend := newIdentity(t)

			res, err := id.AddDIDAttribute(context.Background(), tt.did, tt.key, tt.attr, "https://hub.example")
			assert.Nil(t, res)
			assert.ErrorIs(t, err, tt.want)
			assert.Zero(t, backend.Calls(), "no network call expected")
		})
	}
}

func TestRegisterDIDKeyMismatch(t *testing.T) {
	id, backend := newIdentity(t)

	txHash, err := id.RegisterDID(context.Background(), ownerDID, otherPrv)
	assert.Empty(t, txHash)
	assert.ErrorIs(t, err, ethrdid.ErrKeyMismatch)
	assert.Equal(t, "The private key does not control this DID.", ethrdid.UserMessage(err))
	assert.Zero(t, backend.Calls())
}

func TestRegisterDID(t *testing.T) {
	id, backend := newIdentity(t)
	ctx := context.Background()

	txHash, err := id.RegisterDID(ctx, ownerDID, ownerPrv)
	require.NoError(t, err)
	require.Len(t, backend.Sent(), 1)
	assert.Equal(t, backend.Sent()[0].Hash().Hex(), txHash)

	doc := id.ResolveDID(ctx, ownerDID)
	require.NotNil(t, doc)
	require.Len(t, doc.VerificationMethod, 2)

	key := doc.VerificationMethod[1]
	assert.Equal(t, document.TypeEcdsaSecp256k1VerificationKey2019, key.Type)
	addr, ok := key.AccountAddress()
	require.True(t, ok)
	assert.Equal(t, ownerAddr, addr)
}

func TestAddDIDAttribute(t *testing.T) {
	id, backend := newIdentity(t)
	ctx := context.Background()

	// Upper-case hex in the DID is accepted as is.
	mixedDID := "did:ethr:sepolia:" + common.HexToAddress(ownerAddr).Hex()

	res, err := id.AddDIDAttribute(ctx, mixedDID, ownerPrv, "did/svc/MessagingService", "https://msg.example", ethrdid.WithAttributeValidity(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "did/svc/MessagingService", res.Key)
	assert.Equal(t, "https://msg.example", res.Value)
	assert.NotZero(t, res.BlockNumber)

	again, err := id.AddDIDAttribute(ctx, ownerDID, ownerPrv, "did/svc/MessagingService", "https://msg.example")
	require.NoError(t, err)
	assert.NotEqual(t, res.TxHash, again.TxHash)
	assert.Len(t, backend.Sent(), 2)

	doc := id.ResolveDID(ctx, ownerDID)
	require.NotNil(t, doc)
	require.Len(t, doc.Service, 1)
	assert.Equal(t, "MessagingService", doc.Service[0].Type)
	assert.Equal(t, "https://msg.example", doc.Service[0].ServiceEndpoint)
}

func TestAddDIDAttributeWithSigner(t *testing.T) {
	id, backend := newIdentity(t)
	ctx := context.Background()

	owner, err := signer.NewDefaultProvider(ownerPrv)
	require.NoError(t, err)
	other, err := signer.NewDefaultProvider(otherPrv)
	require.NoError(t, err)

	_, err = id.AddDIDAttributeWithSigner(ctx, ownerDID, other, "did/svc/Inbox", "https://inbox.example")
	assert.ErrorIs(t, err, ethrdid.ErrKeyMismatch)

	_, err = id.AddDIDAttributeWithSigner(ctx, ownerDID, nil, "did/svc/Inbox", "https://inbox.example")
	assert.ErrorIs(t, err, ethrdid.ErrKeyMismatch)

	_, err = id.AddDIDAttributeWithSigner(ctx, "did:ethr:mainnet:"+ownerAddr, owner, "did/svc/Inbox", "https://inbox.example")
	assert.ErrorIs(t, err, ethrdid.ErrWrongNetwork)
	assert.Zero(t, backend.Calls())

	res, err := id.AddDIDAttributeWithSigner(ctx, ownerDID, owner, "did/svc/Inbox", "https://inbox.example")
	require.NoError(t, err)
	assert.NotEmpty(t, res.TxHash)

	doc := id.ResolveDID(ctx, ownerDID)
	require.NotNil(t, doc)
	require.Len(t, doc.Service, 1)
	assert.Equal(t, "Inbox", doc.Service[0].Type)
}

func TestAddDIDAttributeChainFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("connected to another chain", func(t *testing.T) {
		id, backend := newIdentity(t)
		backend.ChainIDValue = big.NewInt(1)

		_, err := id.AddDIDAttribute(ctx, ownerDID, ownerPrv, "did/svc/Hub", "x")
		assert.ErrorIs(t, err, ethrdid.ErrWrongNetwork)
		assert.Empty(t, backend.Sent())
	})

	t.Run("insufficient funds", func(t *testing.T) {
		id, backend := newIdentity(t)
		backend.Fund(common.HexToAddress(ownerAddr), big.NewInt(1))

		_, err := id.AddDIDAttribute(ctx, ownerDID, ownerPrv, "did/svc/Hub", "x")
		assert.ErrorIs(t, err, ethrdid.ErrInsufficientFunds)
		assert.Empty(t, backend.Sent())
	})

	t.Run("node reports insufficient funds", func(t *testing.T) {
		id, backend := newIdentity(t)
		backend.SendErr = errors.New("insufficient funds for gas * price + value: have 0 want 1")

		_, err := id.AddDIDAttribute(ctx, ownerDID, ownerPrv, "did/svc/Hub", "x")
		assert.ErrorIs(t, err, ethrdid.ErrInsufficientFunds)
		assert.Contains(t, err.Error(), "have 0 want 1")
	})

	t.Run("nonce conflict", func(t *testing.T) {
		id, backend := newIdentity(t)
		backend.SendErr = errors.New("replacement transaction underpriced")

		_, err := id.AddDIDAttribute(ctx, ownerDID, ownerPrv, "did/svc/Hub", "x")
		assert.ErrorIs(t, err, ethrdid.ErrNonceConflict)
		assert.Contains(t, err.Error(), "replacement transaction underpriced")
	})

	t.Run("reverted", func(t *testing.T) {
		id, backend := newIdentity(t)
		backend.ChangeOwner(common.HexToAddress(ownerAddr), common.HexToAddress("0x00000000000000000000000000000000000000e1"))

		_, err := id.AddDIDAttribute(ctx, ownerDID, ownerPrv, "did/svc/Hub", "x")
		assert.ErrorIs(t, err, ethrdid.ErrTransactionFailed)
		assert.Len(t, backend.Sent(), 1)
	})

	t.Run("node unreachable", func(t *testing.T) {
		id, backend := newIdentity(t)
		backend.ChainIDErr = errors.New("dial tcp: connection refused")

		_, err := id.AddDIDAttribute(ctx, ownerDID, ownerPrv, "did/svc/Hub", "x")
		assert.ErrorIs(t, err, ethrdid.ErrTransactionFailed)
		assert.Contains(t, err.Error(), "connection refused")
	})
}

func TestResolveInvalidDID(t *testing.T) {
	id, backend := newIdentity(t)
	ctx := context.Background()

	assert.Nil(t, id.ResolveDID(ctx, "did:example:123"))

	_, err := id.Resolve(ctx, "did:example:123")
	assert.ErrorIs(t, err, ethrdid.ErrFormat)
	assert.Zero(t, backend.Calls())
}

func TestResolveDID(t *testing.T) {
	id, _ := newIdentity(t)
	ctx := context.Background()

	first := id.ResolveDID(ctx, ownerDID)
	require.NotNil(t, first)
	assert.Equal(t, ownerDID, first.ID)
	assert.Equal(t, document.DefaultContext, first.Context)
	require.Len(t, first.VerificationMethod, 1)
	assert.Equal(t, ownerDID+"#controller", first.VerificationMethod[0].ID)
	assert.Equal(t, "eip155:11155111:"+ownerAddr, first.VerificationMethod[0].BlockchainAccountID)

	second := id.ResolveDID(ctx, ownerDID)
	assert.Equal(t, first, second)
}

func TestResolveDeactivated(t *testing.T) {
	id, backend := newIdentity(t)
	ctx := context.Background()
	backend.ChangeOwner(common.HexToAddress(ownerAddr), common.Address{})

	_, err := id.Resolve(ctx, ownerDID)
	assert.ErrorIs(t, err, ethrdid.ErrNotFound)
	assert.Nil(t, id.ResolveDID(ctx, ownerDID))
}

func TestResolveWithCustomResolver(t *testing.T) {
	ctx := context.Background()

	t.Run("sparse document is normalized", func(t *testing.T) {
		id, _ := newIdentity(t, ethrdid.WithResolver(resolver.Func(func(ctx context.Context, did string) (*document.Resolution, error) {
			return &document.Resolution{DIDDocument: &document.DIDDocument{
				Extensions: map[string]any{"x-vendor": "kept"},
			}}, nil
		})))

		doc := id.ResolveDID(ctx, ownerDID)
		require.NotNil(t, doc)
		assert.Equal(t, ownerDID, doc.ID)
		assert.Equal(t, document.DefaultContext, doc.Context)
		assert.Equal(t, []document.Reference{document.Ref(ownerDID + "#controller")}, doc.Authentication)
		assert.Equal(t, []document.Reference{document.Ref(ownerDID + "#controller")}, doc.AssertionMethod)
		assert.Equal(t, "kept", doc.Extensions["x-vendor"])
	})

	t.Run("upstream failure", func(t *testing.T) {
		id, _ := newIdentity(t, ethrdid.WithResolver(resolver.Func(func(ctx context.Context, did string) (*document.Resolution, error) {
			return nil, resolver.ErrUpstream
		})))

		_, err := id.Resolve(ctx, ownerDID)
		assert.ErrorIs(t, err, ethrdid.ErrResolution)
		assert.ErrorIs(t, err, resolver.ErrUpstream)
		assert.Nil(t, id.ResolveDID(ctx, ownerDID))
	})

	t.Run("not found", func(t *testing.T) {
		id, _ := newIdentity(t, ethrdid.WithResolver(resolver.Func(func(ctx context.Context, did string) (*document.Resolution, error) {
			return nil, resolver.ErrNotFound
		})))

		_, err := id.Resolve(ctx, ownerDID)
		assert.ErrorIs(t, err, ethrdid.ErrNotFound)
	})
}

func TestVerifyDIDOwnership(t *testing.T) {
	id, backend := newIdentity(t)
	ctx := context.Background()

	assert.True(t, id.VerifyDIDOwnership(ctx, ownerDID, ownerAddr))
	assert.True(t, id.VerifyDIDOwnership(ctx, ownerDID, common.HexToAddress(ownerAddr).Hex()))
	assert.False(t, id.VerifyDIDOwnership(ctx, ownerDID, "0x00000000000000000000000000000000000000e1"))
	assert.False(t, id.VerifyDIDOwnership(ctx, "did:example:123", ownerAddr))
	assert.False(t, id.VerifyDIDOwnership(ctx, ownerDID, ""))

	newOwner := "0x00000000000000000000000000000000000000e1"
	backend.ChangeOwner(common.HexToAddress(ownerAddr), common.HexToAddress(newOwner))

	assert.True(t, id.VerifyDIDOwnership(ctx, ownerDID, newOwner))
	assert.False(t, id.VerifyDIDOwnership(ctx, ownerDID, ownerAddr))
}

func TestErrorMessages(t *testing.T) {
	cause := errors.New("boom")
	err := &ethrdid.Error{Op: "AddDIDAttribute", Kind: ethrdid.ErrNonceConflict, Err: cause}

	assert.Equal(t, "AddDIDAttribute: nonce conflict: boom", err.Error())
	assert.ErrorIs(t, err, ethrdid.ErrNonceConflict)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, ethrdid.ErrNonceConflict, ethrdid.KindOf(err))

	assert.Equal(t, "", ethrdid.UserMessage(nil))
	assert.Equal(t, "Unexpected error.", ethrdid.UserMessage(cause))
	assert.Equal(t, "Insufficient funds to pay for the transaction.", ethrdid.UserMessage(&ethrdid.Error{Op: "x", Kind: ethrdid.ErrInsufficientFunds}))
	assert.Equal(t, "x: insufficient funds", (&ethrdid.Error{Op: "x", Kind: ethrdid.ErrInsufficientFunds}).Error())
}
