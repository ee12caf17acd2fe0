package ethrdid

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pilacorp/go-ethr-did/did"
	"github.com/pilacorp/go-ethr-did/document"
	"github.com/pilacorp/go-ethr-did/signer"
)

// SignMessage signs message with privateKeyHex on behalf of didStr using
// EIP-191 personal_sign. Whether the key is authorized for the DID is only
// decided by VerifyMessage.
func (i *Identity) SignMessage(didStr, privateKeyHex, message string) (*SignedMessage, error) {
	const op = "SignMessage"

	if _, err := did.Parse(didStr); err != nil {
		return nil, newError(op, ErrFormat, err)
	}

	provider, err := signer.NewDefaultProvider(privateKeyHex)
	if err != nil {
		return nil, newError(op, ErrKeyMismatch, err)
	}

	signature, err := signer.SignMessageHex(provider, message)
	if err != nil {
		return nil, newError(op, ErrSignatureVerificationFailed, fmt.Errorf("failed to sign message: %w", err))
	}

	return &SignedMessage{
		ID:        uuid.NewString(),
		DID:       didStr,
		Message:   message,
		Signature: signature,
		Signer:    provider.GetAddress(),
		Timestamp: time.Now().UTC(),
	}, nil
}

// VerifyMessage checks that signature over message was produced by a key
// listed in didStr's DID Document and returns the recovered address.
func (i *Identity) VerifyMessage(ctx context.Context, didStr, message, signature string) (string, error) {
	const op = "VerifyMessage"

	if _, err := did.Parse(didStr); err != nil {
		return "", newError(op, ErrFormat, err)
	}

	recovered, err := signer.RecoverAddressHex(message, signature)
	if err != nil {
		return "", newError(op, ErrSignatureVerificationFailed, err)
	}

	res, err := i.Resolve(ctx, didStr)
	if err != nil {
		return "", rewrap(op, err)
	}

	if err := authorizedSigner(res.DIDDocument, recovered); err != nil {
		return "", newError(op, ErrSignatureVerificationFailed, err)
	}

	return recovered, nil
}

// authorizedSigner succeeds when some verification method of doc is bound to
// address.
func authorizedSigner(doc *document.DIDDocument, address string) error {
	for _, vm := range doc.VerificationMethod {
		if addr, ok := vm.AccountAddress(); ok && did.SameAddress(addr, address) {
			return nil
		}
	}
	return fmt.Errorf("%s is not a verification method of %s", strings.ToLower(address), doc.ID)
}

// rewrap moves an *Error produced by a nested operation under op.
func rewrap(op string, err error) error {
	var e *Error
	if errors.As(err, &e) {
		return newError(op, e.Kind, e.Err)
	}
	return newError(op, ErrResolution, err)
}
