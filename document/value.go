package document

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ValueKind tags a decoded attribute value node.
type ValueKind int

const (
	// ValueDecoded holds readable text.
	ValueDecoded ValueKind = iota + 1
	// ValueRaw holds bytes that are not readable text.
	ValueRaw
	ValueList
	ValueObject
	// ValueNull is a JSON null inside a list or object.
	ValueNull
)

// Value is the result of decoding a registry attribute value. Exactly one
// payload field is set, according to Kind; a ValueNull node has none.
type Value struct {
	Kind   ValueKind
	Text   string
	Bytes  []byte
	Items  []Value
	Fields map[string]Value
}

// Decoded returns a text node.
func Decoded(text string) Value {
	return Value{Kind: ValueDecoded, Text: text}
}

// Raw returns a bytes node.
func Raw(b []byte) Value {
	return Value{Kind: ValueRaw, Bytes: bytes.Clone(b)}
}

// ParseValue decodes an attribute value best-effort. JSON objects and arrays
// are walked recursively and every string in them gets the same treatment
// as a top-level value: 0x-hex that decodes to readable text becomes that
// text, hex that does not stays raw bytes, anything else is kept as is.
//
// ParseValue never fails; input it cannot interpret comes back as Raw.
func ParseValue(raw []byte) Value {
	if !utf8.Valid(raw) {
		return Raw(raw)
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		var v any
		if err := json.Unmarshal(trimmed, &v); err == nil {
			return parseNode(v)
		}
	}

	return decodeText(string(raw))
}

func parseNode(v any) Value {
	switch t := v.(type) {
	case string:
		return decodeText(t)
	case []any:
		items := make([]Value, len(t))
		for i, item := range t {
			items[i] = parseNode(item)
		}
		return Value{Kind: ValueList, Items: items}
	case map[string]any:
		fields := make(map[string]Value, len(t))
		for k, item := range t {
			fields[k] = parseNode(item)
		}
		return Value{Kind: ValueObject, Fields: fields}
	case float64:
		return Decoded(strconv.FormatFloat(t, 'f', -1, 64))
	case bool:
		return Decoded(strconv.FormatBool(t))
	case nil:
		return Value{Kind: ValueNull}
	default:
		return Decoded("")
	}
}

func decodeText(s string) Value {
	if !strings.HasPrefix(s, "0x") {
		return Decoded(s)
	}

	b, err := hexutil.Decode(s)
	if err != nil {
		return Decoded(s)
	}
	if isReadable(b) {
		return Decoded(string(b))
	}

	return Raw(b)
}

func isReadable(b []byte) bool {
	if len(b) == 0 || !utf8.Valid(b) {
		return false
	}
	for _, r := range string(b) {
		if !unicode.IsPrint(r) && !unicode.IsSpace(r) {
			return false
		}
	}
	return true
}

// Interface renders v as plain JSON-compatible Go values. Raw bytes become
// 0x-hex strings.
func (v Value) Interface() any {
	switch v.Kind {
	case ValueDecoded:
		return v.Text
	case ValueRaw:
		return hexutil.Encode(v.Bytes)
	case ValueList:
		out := make([]any, len(v.Items))
		for i, item := range v.Items {
			out[i] = item.Interface()
		}
		return out
	case ValueObject:
		out := make(map[string]any, len(v.Fields))
		for k, item := range v.Fields {
			out[k] = item.Interface()
		}
		return out
	default:
		return nil
	}
}

// String returns the text of a Decoded node and 0x-hex for a Raw one.
// Lists and objects are rendered as JSON.
func (v Value) String() string {
	switch v.Kind {
	case ValueDecoded:
		return v.Text
	case ValueRaw:
		return hexutil.Encode(v.Bytes)
	default:
		b, err := json.Marshal(v.Interface())
		if err != nil {
			return ""
		}
		return string(b)
	}
}
