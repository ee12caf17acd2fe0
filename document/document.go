// Package document holds the DID Document model returned by resolution, its
// normalization and validation.
package document

import (
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mr-tron/base58"

	"github.com/pilacorp/go-ethr-did/did"
)

const (
	ContextDIDv1             = "https://www.w3.org/ns/did/v1"
	ContextSecp256k1Recovery = "https://w3id.org/security/suites/secp256k1recovery-2020/v2"

	TypeEcdsaSecp256k1RecoveryMethod2020  = "EcdsaSecp256k1RecoveryMethod2020"
	TypeEcdsaSecp256k1VerificationKey2019 = "EcdsaSecp256k1VerificationKey2019"
	TypeEd25519VerificationKey2018        = "Ed25519VerificationKey2018"
	TypeX25519KeyAgreementKey2019         = "X25519KeyAgreementKey2019"
	TypeRsaVerificationKey2018            = "RsaVerificationKey2018"

	// ControllerFragment names the verification method derived from the
	// identity's controlling address.
	ControllerFragment = "controller"
)

// DefaultContext is used when a resolved document carries no @context.
var DefaultContext = StringOrList{ContextDIDv1, ContextSecp256k1Recovery}

// DIDDocument represents a resolved DID Document.
//
// Members outside the typed fields are kept in Extensions and written back
// on marshal.
type DIDDocument struct {
	Context              StringOrList         `json:"@context,omitempty"`
	ID                   string               `json:"id"`
	Controller           StringOrList         `json:"controller,omitempty"`
	AlsoKnownAs          []string             `json:"alsoKnownAs,omitempty"`
	VerificationMethod   []VerificationMethod `json:"verificationMethod,omitempty"`
	Authentication       []Reference          `json:"authentication,omitempty"`
	AssertionMethod      []Reference          `json:"assertionMethod,omitempty"`
	KeyAgreement         []Reference          `json:"keyAgreement,omitempty"`
	CapabilityInvocation []Reference          `json:"capabilityInvocation,omitempty"`
	CapabilityDelegation []Reference          `json:"capabilityDelegation,omitempty"`
	Service              []Service            `json:"service,omitempty"`

	Extensions map[string]any `json:"-"`
}

// VerificationMethod represents a single verification method in a DID Document.
type VerificationMethod struct {
	ID                  string `json:"id"`
	Type                string `json:"type"`
	Controller          string `json:"controller"`
	BlockchainAccountID string `json:"blockchainAccountId,omitempty"`
	EthereumAddress     string `json:"ethereumAddress,omitempty"`
	PublicKeyHex        string `json:"publicKeyHex,omitempty"`
	PublicKeyBase58     string `json:"publicKeyBase58,omitempty"`
	PublicKeyBase64     string `json:"publicKeyBase64,omitempty"`
	PublicKeyMultibase  string `json:"publicKeyMultibase,omitempty"`
	PublicKeyJwk        *JWK   `json:"publicKeyJwk,omitempty"`
}

// JWK represents a JSON Web Key structure
type JWK struct {
	Kty string `json:"kty"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y,omitempty"`
}

// Service is a service endpoint entry. ServiceEndpoint is a string, an
// object or an array of either.
type Service struct {
	ID              string `json:"id"`
	Type            string `json:"type"`
	ServiceEndpoint any    `json:"serviceEndpoint"`
}

// Reference is a verification relationship entry: either the id of a method
// listed in verificationMethod or an embedded method.
type Reference struct {
	ID       string
	Embedded *VerificationMethod
}

// Ref returns a by-id reference.
func Ref(id string) Reference {
	return Reference{ID: id}
}

// Resolution is a DID resolution result.
type Resolution struct {
	DIDDocument           *DIDDocument       `json:"didDocument"`
	DIDResolutionMetadata ResolutionMetadata `json:"didResolutionMetadata"`
	DIDDocumentMetadata   DocumentMetadata   `json:"didDocumentMetadata"`
}

type ResolutionMetadata struct {
	ContentType string `json:"contentType,omitempty"`
	Error       string `json:"error,omitempty"`
	Message     string `json:"message,omitempty"`
}

type DocumentMetadata struct {
	Created     string `json:"created,omitempty"`
	Updated     string `json:"updated,omitempty"`
	Deactivated bool   `json:"deactivated,omitempty"`
	VersionID   string `json:"versionId,omitempty"`
}

// FindVerificationMethod returns the method with the given id, matching a
// bare "#fragment" against the document id as well.
func (d *DIDDocument) FindVerificationMethod(id string) (*VerificationMethod, bool) {
	if strings.HasPrefix(id, "#") {
		id = d.ID + id
	}
	for i := range d.VerificationMethod {
		vmID := d.VerificationMethod[i].ID
		if strings.HasPrefix(vmID, "#") {
			vmID = d.ID + vmID
		}
		if vmID == id {
			return &d.VerificationMethod[i], true
		}
	}
	return nil, false
}

// VerifyKey reports whether keyID names a verification method whose key
// material decodes to a valid secp256k1 key or Ethereum account.
func (d *DIDDocument) VerifyKey(keyID string) bool {
	vm, ok := d.FindVerificationMethod(keyID)
	if !ok {
		return false
	}
	_, ok = vm.AccountAddress()
	return ok
}

// ControllerAddress returns the address named by the first controller entry,
// which is either a did:ethr DID or a bare address.
func (d *DIDDocument) ControllerAddress() (string, bool) {
	if len(d.Controller) == 0 {
		return "", false
	}
	return addressFromReference(d.Controller[0])
}

// AccountAddress returns the Ethereum address a verification method is bound
// to, from blockchainAccountId, ethereumAddress, publicKeyHex or
// publicKeyBase58 in that order.
func (vm VerificationMethod) AccountAddress() (string, bool) {
	if addr, ok := accountIDAddress(vm.BlockchainAccountID); ok {
		return addr, true
	}
	if common.IsHexAddress(vm.EthereumAddress) {
		return strings.ToLower(vm.EthereumAddress), true
	}
	if vm.PublicKeyHex != "" {
		if addr, err := did.AddressFromPublicKeyHex(vm.PublicKeyHex); err == nil {
			return addr, true
		}
	}
	if vm.PublicKeyBase58 != "" {
		if raw, err := base58.Decode(vm.PublicKeyBase58); err == nil {
			if addr, err := did.AddressFromPublicKeyBytes(raw); err == nil {
				return addr, true
			}
		}
	}
	return "", false
}

// BlockchainAccountID formats a CAIP-10 account id.
func BlockchainAccountID(chainID int64, address string) string {
	return "eip155:" + strconv.FormatInt(chainID, 10) + ":" + address
}

// accountIDAddress extracts the address from a CAIP-10 id
// ("eip155:<chain>:<address>") or the legacy "<address>@eip155:<chain>" form.
func accountIDAddress(accountID string) (string, bool) {
	if accountID == "" {
		return "", false
	}
	candidate := accountID
	if at := strings.IndexByte(candidate, '@'); at >= 0 {
		candidate = candidate[:at]
	}
	if colon := strings.LastIndexByte(candidate, ':'); colon >= 0 {
		candidate = candidate[colon+1:]
	}
	if !common.IsHexAddress(candidate) || !strings.HasPrefix(candidate, "0x") {
		return "", false
	}
	return strings.ToLower(candidate), true
}

func addressFromReference(ref string) (string, bool) {
	if common.IsHexAddress(ref) && strings.HasPrefix(ref, "0x") {
		return strings.ToLower(ref), true
	}
	didPart, _, _ := strings.Cut(ref, "#")
	id, err := did.Parse(didPart)
	if err != nil {
		return "", false
	}
	return strings.ToLower(id.Address), true
}
