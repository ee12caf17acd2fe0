package document

import "slices"

// Normalize returns a copy of doc completed for did:
//
//   - id is set to did;
//   - @context defaults to DefaultContext;
//   - authentication and assertionMethod are never empty. When either is, or
//     when the document lists no verification method at all, a
//     "#controller" EcdsaSecp256k1RecoveryMethod2020 bound to
//     eip155:<chainID>:<controllerAddress> is added and referenced.
//
// A nil doc yields a document built from the controller method alone.
func Normalize(doc *DIDDocument, did, controllerAddress string, chainID int64) *DIDDocument {
	out := doc.clone()
	out.ID = did

	if len(out.Context) == 0 {
		out.Context = slices.Clone(DefaultContext)
	}

	needsController := len(out.VerificationMethod) == 0 ||
		len(out.Authentication) == 0 ||
		len(out.AssertionMethod) == 0
	if !needsController {
		return out
	}

	controllerID := did + "#" + ControllerFragment
	if _, ok := out.FindVerificationMethod(controllerID); !ok {
		out.VerificationMethod = append(out.VerificationMethod, ControllerMethod(did, controllerAddress, chainID))
	}
	if len(out.Authentication) == 0 {
		out.Authentication = []Reference{Ref(controllerID)}
	}
	if len(out.AssertionMethod) == 0 {
		out.AssertionMethod = []Reference{Ref(controllerID)}
	}

	return out
}

// ControllerMethod builds the recovery method for the identity's controlling
// address.
func ControllerMethod(did, address string, chainID int64) VerificationMethod {
	return VerificationMethod{
		ID:                  did + "#" + ControllerFragment,
		Type:                TypeEcdsaSecp256k1RecoveryMethod2020,
		Controller:          did,
		BlockchainAccountID: BlockchainAccountID(chainID, address),
	}
}

func (d *DIDDocument) clone() *DIDDocument {
	if d == nil {
		return &DIDDocument{}
	}

	out := *d
	out.Context = slices.Clone(d.Context)
	out.Controller = slices.Clone(d.Controller)
	out.AlsoKnownAs = slices.Clone(d.AlsoKnownAs)
	out.VerificationMethod = slices.Clone(d.VerificationMethod)
	out.Authentication = cloneRefs(d.Authentication)
	out.AssertionMethod = cloneRefs(d.AssertionMethod)
	out.KeyAgreement = cloneRefs(d.KeyAgreement)
	out.CapabilityInvocation = cloneRefs(d.CapabilityInvocation)
	out.CapabilityDelegation = cloneRefs(d.CapabilityDelegation)
	out.Service = slices.Clone(d.Service)
	if d.Extensions != nil {
		out.Extensions = make(map[string]any, len(d.Extensions))
		for k, v := range d.Extensions {
			out.Extensions[k] = v
		}
	}

	return &out
}

func cloneRefs(refs []Reference) []Reference {
	if refs == nil {
		return nil
	}
	out := make([]Reference, len(refs))
	for i, r := range refs {
		out[i] = r
		if r.Embedded != nil {
			vm := *r.Embedded
			out[i].Embedded = &vm
		}
	}
	return out
}
