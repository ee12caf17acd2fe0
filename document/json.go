package document

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// StringOrList is a JSON member that may be a single string or an array of
// strings. Non-string array entries are dropped.
type StringOrList []string

func (s StringOrList) MarshalJSON() ([]byte, error) {
	if len(s) == 1 {
		return json.Marshal(s[0])
	}
	return json.Marshal([]string(s))
}

func (s *StringOrList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*s = nil
		return nil
	}

	if len(data) > 0 && data[0] == '"' {
		var single string
		if err := json.Unmarshal(data, &single); err != nil {
			return err
		}
		*s = StringOrList{single}
		return nil
	}

	var items []any
	if err := json.Unmarshal(data, &items); err != nil {
		return fmt.Errorf("expected string or array: %w", err)
	}

	out := make(StringOrList, 0, len(items))
	for _, item := range items {
		if str, ok := item.(string); ok {
			out = append(out, str)
		}
	}
	*s = out

	return nil
}

func (r Reference) MarshalJSON() ([]byte, error) {
	if r.Embedded != nil {
		return json.Marshal(r.Embedded)
	}
	return json.Marshal(r.ID)
}

func (r *Reference) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &r.ID)
	}

	var vm VerificationMethod
	if err := json.Unmarshal(data, &vm); err != nil {
		return fmt.Errorf("expected reference string or verification method: %w", err)
	}
	r.ID = vm.ID
	r.Embedded = &vm

	return nil
}

var knownMembers = map[string]struct{}{
	"@context":             {},
	"id":                   {},
	"controller":           {},
	"alsoKnownAs":          {},
	"verificationMethod":   {},
	"authentication":       {},
	"assertionMethod":      {},
	"keyAgreement":         {},
	"capabilityInvocation": {},
	"capabilityDelegation": {},
	"service":              {},
}

// documentFields breaks the MarshalJSON recursion.
type documentFields DIDDocument

func (d DIDDocument) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(documentFields(d))
	if err != nil {
		return nil, err
	}
	if len(d.Extensions) == 0 {
		return base, nil
	}

	merged := make(map[string]json.RawMessage, len(d.Extensions)+len(knownMembers))
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range d.Extensions {
		if _, known := knownMembers[k]; known {
			continue
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal extension %q: %w", k, err)
		}
		merged[k] = raw
	}

	return json.Marshal(merged)
}

func (d *DIDDocument) UnmarshalJSON(data []byte) error {
	var fields documentFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	var all map[string]any
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for k := range knownMembers {
		delete(all, k)
	}
	if len(all) > 0 {
		fields.Extensions = all
	}

	*d = DIDDocument(fields)

	return nil
}
