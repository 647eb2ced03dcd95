// Package pbicrypto implements the deterministic serialization and
// signature primitives shared by the export pack and receipt store:
// canonical JSON, SHA-256/HMAC-SHA-256, ES256 verification, Ed25519
// sign/verify, and AES-GCM at-rest secret encryption.
package pbicrypto

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Canonicalize renders v as canonical JSON: object keys sorted in
// ascending codepoint order, no insignificant whitespace, arrays keep
// their order, numbers use the shortest round-trip form, and
// null-valued (Go-nil) map entries are omitted.
//
// v must already be built from generic Go values (map[string]interface{},
// []interface{}, string, float64/json.Number, bool, nil) — typically the
// result of json.Unmarshal into interface{}, or a hand-built map.
func Canonicalize(v interface{}) ([]byte, error) {
	var buf []byte
	b, err := canonicalizeValue(v)
	if err != nil {
		return nil, err
	}
	buf = append(buf, b...)
	return buf, nil
}

func canonicalizeValue(v interface{}) ([]byte, error) {
	switch val := v.(type) {
	case nil:
		return []byte("null"), nil
	case bool:
		if val {
			return []byte("true"), nil
		}
		return []byte("false"), nil
	case string:
		return json.Marshal(val)
	case json.Number:
		return []byte(canonicalizeNumber(string(val))), nil
	case float64:
		return []byte(canonicalizeNumber(strconv.FormatFloat(val, 'g', -1, 64))), nil
	case int:
		return []byte(strconv.Itoa(val)), nil
	case int64:
		return []byte(strconv.FormatInt(val, 10)), nil
	case map[string]interface{}:
		return canonicalizeObject(val)
	case []interface{}:
		return canonicalizeArray(val)
	default:
		return nil, fmt.Errorf("pbicrypto: unsupported type %T for canonical JSON", v)
	}
}

func canonicalizeNumber(s string) string {
	return s
}

func canonicalizeObject(m map[string]interface{}) ([]byte, error) {
	keys := make([]string, 0, len(m))
	for k, v := range m {
		if v == nil {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := []byte("{")
	for i, k := range keys {
		if i > 0 {
			out = append(out, ',')
		}
		keyBytes, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		out = append(out, keyBytes...)
		out = append(out, ':')
		valBytes, err := canonicalizeValue(m[k])
		if err != nil {
			return nil, err
		}
		out = append(out, valBytes...)
	}
	out = append(out, '}')
	return out, nil
}

func canonicalizeArray(arr []interface{}) ([]byte, error) {
	out := []byte("[")
	for i, v := range arr {
		if i > 0 {
			out = append(out, ',')
		}
		b, err := canonicalizeValue(v)
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	}
	out = append(out, ']')
	return out, nil
}

// CanonicalizeStruct marshals v with encoding/json, round-trips it
// through interface{} (using json.Number for numbers, to avoid float64
// precision loss) and canonicalizes the result. This is the entry
// point used by the export pack and manifest signer: callers pass a Go
// struct and get back deterministic bytes.
func CanonicalizeStruct(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("pbicrypto: marshal: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic interface{}
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("pbicrypto: decode: %w", err)
	}
	return Canonicalize(generic)
}
