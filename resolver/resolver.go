// Package resolver turns did:ethr identifiers into DID Documents, either by
// reading the ERC-1056 registry directly or through a universal resolver.
package resolver

import (
	"context"
	"errors"

	"github.com/pilacorp/go-ethr-did/document"
)

var (
	ErrInvalidDID     = errors.New("invalid DID")
	ErrUnknownNetwork = errors.New("DID network is not served by this resolver")
	ErrNotFound       = errors.New("DID not found")
	ErrUpstream       = errors.New("DID resolver upstream error")
	ErrDecode         = errors.New("failed to decode DID resolver response")
)

// Resolver resolves a DID to a resolution result.
//
// A deactivated DID is not an error: it resolves with
// DIDDocumentMetadata.Deactivated set.
type Resolver interface {
	Resolve(ctx context.Context, did string) (*document.Resolution, error)
}

// Func adapts a function to the Resolver interface.
type Func func(ctx context.Context, did string) (*document.Resolution, error)

func (f Func) Resolve(ctx context.Context, did string) (*document.Resolution, error) {
	return f(ctx, did)
}
