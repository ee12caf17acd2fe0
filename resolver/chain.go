package resolver

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mr-tron/base58"
	"golang.org/x/sync/singleflight"

	"github.com/pilacorp/go-ethr-did/blockchain"
	"github.com/pilacorp/go-ethr-did/did"
	"github.com/pilacorp/go-ethr-did/document"
)

// Registry is the part of the registry client the chain resolver reads.
type Registry interface {
	IdentityOwner(ctx context.Context, identity common.Address) (common.Address, error)
	History(ctx context.Context, identity common.Address) ([]blockchain.Event, error)
}

// ChainOption configures a Chain resolver.
type ChainOption func(*Chain)

// WithClock overrides the clock used to expire delegates and attributes.
func WithClock(now func() time.Time) ChainOption {
	return func(c *Chain) {
		if now != nil {
			c.now = now
		}
	}
}

// Chain resolves did:ethr identifiers from the registry's event history.
//
// Concurrent resolutions of the same DID share one registry read. Results
// are not cached, and a shared result must not be modified by callers.
type Chain struct {
	registry Registry
	chainID  int64
	now      func() time.Time
	group    singleflight.Group
}

// NewChain creates a resolver for DIDs anchored on chainID.
func NewChain(registry Registry, chainID int64, opts ...ChainOption) *Chain {
	c := &Chain{
		registry: registry,
		chainID:  chainID,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Resolve implements Resolver.
func (c *Chain) Resolve(ctx context.Context, didStr string) (*document.Resolution, error) {
	id, err := did.Parse(didStr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDID, err)
	}

	if id.Network != "" {
		chainID, ok := did.ChainIDForNetwork(id.Network)
		if !ok || chainID != c.chainID {
			return nil, fmt.Errorf("%w: %q", ErrUnknownNetwork, id.Network)
		}
	}

	// The shared read outlives any single caller; each caller still stops
	// waiting when its own ctx is done.
	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(didStr, func() (interface{}, error) {
		return c.resolve(shared, id)
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrUpstream, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*document.Resolution), nil
	}
}

type delegateEntry struct {
	delegateType string
	delegate     common.Address
}

type attributeEntry struct {
	name  string
	value []byte
}

func (c *Chain) resolve(ctx context.Context, id *did.Identifier) (*document.Resolution, error) {
	identity := common.HexToAddress(id.Address)

	owner, err := c.registry.IdentityOwner(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	history, err := c.registry.History(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	meta := document.DocumentMetadata{}
	if n := len(history); n > 0 {
		meta.VersionID = strconv.FormatUint(history[n-1].BlockNumber, 10)
	}

	if owner == (common.Address{}) {
		meta.Deactivated = true
		return &document.Resolution{
			DIDDocument: &document.DIDDocument{
				Context: document.StringOrList{document.ContextDIDv1},
				ID:      id.DID,
			},
			DIDResolutionMetadata: document.ResolutionMetadata{ContentType: "application/did+ld+json"},
			DIDDocumentMetadata:   meta,
		}, nil
	}

	delegates, attributes := c.activeEntries(history)

	return &document.Resolution{
		DIDDocument:           c.buildDocument(id, identity, owner, delegates, attributes),
		DIDResolutionMetadata: document.ResolutionMetadata{ContentType: "application/did+ld+json"},
		DIDDocumentMetadata:   meta,
	}, nil
}

// activeEntries replays history and keeps delegates and attributes whose
// last change is still valid, in first-seen order.
func (c *Chain) activeEntries(history []blockchain.Event) ([]delegateEntry, []attributeEntry) {
	now := c.now().Unix()

	var delegateOrder []string
	delegates := map[string]delegateEntry{}
	var attributeOrder []string
	attributes := map[string]attributeEntry{}

	for _, ev := range history {
		valid := ev.ValidTo != nil && ev.ValidTo.IsInt64() && ev.ValidTo.Int64() > now

		switch ev.Kind {
		case blockchain.EventDelegateChanged:
			key := ev.DelegateType + "-" + strings.ToLower(ev.Delegate.Hex())
			if _, seen := delegates[key]; !seen && valid {
				delegateOrder = append(delegateOrder, key)
			}
			if valid {
				delegates[key] = delegateEntry{delegateType: ev.DelegateType, delegate: ev.Delegate}
			} else {
				delete(delegates, key)
			}
		case blockchain.EventAttributeChanged:
			key := ev.Name + "-" + hex.EncodeToString(ev.Value)
			if _, seen := attributes[key]; !seen && valid {
				attributeOrder = append(attributeOrder, key)
			}
			if valid {
				attributes[key] = attributeEntry{name: ev.Name, value: ev.Value}
			} else {
				delete(attributes, key)
			}
		}
	}

	var activeDelegates []delegateEntry
	for _, key := range uniqueKeys(delegateOrder) {
		if d, ok := delegates[key]; ok {
			activeDelegates = append(activeDelegates, d)
		}
	}
	var activeAttributes []attributeEntry
	for _, key := range uniqueKeys(attributeOrder) {
		if a, ok := attributes[key]; ok {
			activeAttributes = append(activeAttributes, a)
		}
	}

	return activeDelegates, activeAttributes
}

func uniqueKeys(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := keys[:0:0]
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

func (c *Chain) buildDocument(id *did.Identifier, identity, owner common.Address, delegates []delegateEntry, attributes []attributeEntry) *document.DIDDocument {
	didStr := id.DID
	ownerHex := strings.ToLower(owner.Hex())

	controller := document.ControllerMethod(didStr, ownerHex, c.chainID)
	doc := &document.DIDDocument{
		Context:            document.StringOrList{document.ContextDIDv1, document.ContextSecp256k1Recovery},
		ID:                 didStr,
		VerificationMethod: []document.VerificationMethod{controller},
		Authentication:     []document.Reference{document.Ref(controller.ID)},
		AssertionMethod:    []document.Reference{document.Ref(controller.ID)},
	}

	if owner != identity {
		doc.Controller = document.StringOrList{did.ToDID(id.Network, ownerHex)}
	} else if id.PublicKeyHex != "" {
		key := document.VerificationMethod{
			ID:           didStr + "#controllerKey",
			Type:         document.TypeEcdsaSecp256k1VerificationKey2019,
			Controller:   didStr,
			PublicKeyHex: strings.TrimPrefix(strings.ToLower(id.PublicKeyHex), "0x"),
		}
		doc.VerificationMethod = append(doc.VerificationMethod, key)
		doc.Authentication = append(doc.Authentication, document.Ref(key.ID))
		doc.AssertionMethod = append(doc.AssertionMethod, document.Ref(key.ID))
	}

	delegateCount := 0
	for _, d := range delegates {
		delegateCount++
		vm := document.VerificationMethod{
			ID:                  fmt.Sprintf("%s#delegate-%d", didStr, delegateCount),
			Type:                document.TypeEcdsaSecp256k1RecoveryMethod2020,
			Controller:          didStr,
			BlockchainAccountID: document.BlockchainAccountID(c.chainID, strings.ToLower(d.delegate.Hex())),
		}
		switch d.delegateType {
		case "sigAuth":
			doc.VerificationMethod = append(doc.VerificationMethod, vm)
			doc.Authentication = append(doc.Authentication, document.Ref(vm.ID))
			doc.AssertionMethod = append(doc.AssertionMethod, document.Ref(vm.ID))
		case "veriKey":
			doc.VerificationMethod = append(doc.VerificationMethod, vm)
			doc.AssertionMethod = append(doc.AssertionMethod, document.Ref(vm.ID))
		default:
			delegateCount--
		}
	}

	serviceCount := 0
	for _, a := range attributes {
		if vm, purpose, ok := publicKeyMethod(didStr, a); ok {
			delegateCount++
			vm.ID = fmt.Sprintf("%s#delegate-%d", didStr, delegateCount)
			doc.VerificationMethod = append(doc.VerificationMethod, vm)
			switch purpose {
			case "sigAuth":
				doc.Authentication = append(doc.Authentication, document.Ref(vm.ID))
				doc.AssertionMethod = append(doc.AssertionMethod, document.Ref(vm.ID))
			case "veriKey":
				doc.AssertionMethod = append(doc.AssertionMethod, document.Ref(vm.ID))
			case "enc":
				doc.KeyAgreement = append(doc.KeyAgreement, document.Ref(vm.ID))
			}
			continue
		}

		svcType, ok := serviceType(a.name)
		if !ok {
			continue
		}
		serviceCount++
		doc.Service = append(doc.Service, document.Service{
			ID:              fmt.Sprintf("%s#service-%d", didStr, serviceCount),
			Type:            svcType,
			ServiceEndpoint: document.ParseValue(a.value).Interface(),
		})
	}

	return doc
}

var keyAlgorithms = map[string]string{
	"Secp256k1": document.TypeEcdsaSecp256k1VerificationKey2019,
	"Ed25519":   document.TypeEd25519VerificationKey2018,
	"X25519":    document.TypeX25519KeyAgreementKey2019,
	"Rsa":       document.TypeRsaVerificationKey2018,
	"RSA":       document.TypeRsaVerificationKey2018,
}

// publicKeyMethod maps a did/pub/<algorithm>/<purpose>[/<encoding>]
// attribute to a verification method.
func publicKeyMethod(didStr string, a attributeEntry) (document.VerificationMethod, string, bool) {
	parts := strings.Split(a.name, "/")
	if len(parts) < 4 || parts[0] != "did" || parts[1] != "pub" {
		return document.VerificationMethod{}, "", false
	}

	vmType, ok := keyAlgorithms[parts[2]]
	if !ok {
		return document.VerificationMethod{}, "", false
	}

	purpose := parts[3]
	switch purpose {
	case "veriKey", "sigAuth", "enc":
	default:
		return document.VerificationMethod{}, "", false
	}

	encoding := "hex"
	if len(parts) > 4 && parts[4] != "" {
		encoding = parts[4]
	}

	vm := document.VerificationMethod{Type: vmType, Controller: didStr}
	switch encoding {
	case "hex":
		vm.PublicKeyHex = hex.EncodeToString(a.value)
	case "base64":
		vm.PublicKeyBase64 = base64.StdEncoding.EncodeToString(a.value)
	case "base58":
		vm.PublicKeyBase58 = base58.Encode(a.value)
	default:
		return document.VerificationMethod{}, "", false
	}

	return vm, purpose, true
}

// serviceType maps did/svc/<Type> to <Type>. Names outside the did/
// namespace are published as services typed by their name.
func serviceType(name string) (string, bool) {
	if rest, ok := strings.CutPrefix(name, "did/svc/"); ok {
		return rest, rest != ""
	}
	if strings.HasPrefix(name, "did/") {
		return "", false
	}
	return name, name != ""
}
