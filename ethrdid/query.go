package ethrdid

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pilacorp/go-ethr-did/did"
)

// CheckBalance returns the wei balance of the account behind didStr on the
// configured chain.
func (i *Identity) CheckBalance(ctx context.Context, didStr string) (*big.Int, error) {
	const op = "CheckBalance"

	id, err := did.Parse(didStr)
	if err != nil {
		return nil, newError(op, ErrFormat, err)
	}
	if err := i.checkNetwork(id); err != nil {
		return nil, newError(op, ErrWrongNetwork, err)
	}

	balance, err := i.registry.Balance(ctx, common.HexToAddress(id.Address))
	if err != nil {
		return nil, newError(op, ErrResolution, err)
	}

	return balance, nil
}

// DIDAttributes returns the service endpoints of didStr keyed by service
// type. Later services of the same type win. Resolution failures yield an
// empty map.
func (i *Identity) DIDAttributes(ctx context.Context, didStr string) map[string]any {
	attributes := map[string]any{}

	doc := i.ResolveDID(ctx, didStr)
	if doc == nil {
		return attributes
	}

	for _, svc := range doc.Service {
		attributes[svc.Type] = svc.ServiceEndpoint
	}

	return attributes
}
