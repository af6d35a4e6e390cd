// Package canonjson provides the canonical JSON serializer the design
// notes call for explicitly: sorted keys, no whitespace, no undefined
// fields. Identity certificates, policy-change hashing, and commitment
// hashing all sign or hash over this encoding instead of the language's
// default marshaler, because field-order drift breaks signature
// verification.
package canonjson

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Marshal renders v as canonical JSON: object keys sorted
// lexicographically at every nesting level, no insignificant
// whitespace, and fields holding Go's zero value for `omitempty`-tagged
// members dropped exactly as encoding/json would drop them. v is first
// round-tripped through encoding/json so struct tags are honored, then
// the resulting generic value is re-emitted in canonical form.
func Marshal(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonjson: marshal: %w", err)
	}
	var generic interface{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("canonjson: decode intermediate: %w", err)
	}
	var buf bytes.Buffer
	if err := encode(&buf, generic); err != nil {
		return nil, fmt.Errorf("canonjson: encode: %w", err)
	}
	return buf.Bytes(), nil
}

// MarshalOrdered renders a flat field set in the exact key order given,
// regardless of alphabetical order. Certificate signing payloads use
// this: spec.md §6 pins the signed field order to
// {agentId, capabilities, chains, createdAt, expiresAt,
// maxAutonomousAmount, ownerXidentity, policyHash, pubkey, version}.
// Fields not present in order are appended afterward in sorted order, so
// callers never silently lose data by omitting a field from the list.
func MarshalOrdered(fields map[string]interface{}, order []string) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	seen := make(map[string]bool, len(order))
	first := true
	for _, key := range order {
		val, ok := fields[key]
		if !ok {
			continue
		}
		seen[key] = true
		if !first {
			buf.WriteByte(',')
		}
		first = false
		if err := writeKeyValue(&buf, key, normalize(val)); err != nil {
			return nil, err
		}
	}
	remaining := make([]string, 0, len(fields)-len(seen))
	for k := range fields {
		if !seen[k] {
			remaining = append(remaining, k)
		}
	}
	sort.Strings(remaining)
	for _, key := range remaining {
		if !first {
			buf.WriteByte(',')
		}
		first = false
		if err := writeKeyValue(&buf, key, normalize(fields[key])); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// writeKeyValue writes "key":value where val is assumed to already be a
// decoded generic value (nil/bool/json.Number/string/[]interface{}/
// map[string]interface{}), as produced by normalize or by the decoder in
// Marshal. Top-level entry points normalize raw Go values before the
// first call into this function.
func writeKeyValue(buf *bytes.Buffer, key string, val interface{}) error {
	kb, err := json.Marshal(key)
	if err != nil {
		return err
	}
	buf.Write(kb)
	buf.WriteByte(':')
	return encode(buf, val)
}

// normalize round-trips val through encoding/json so nested structs,
// times, etc. become plain map/slice/number/string/bool/nil values that
// encode() can walk and re-sort.
func normalize(val interface{}) interface{} {
	raw, err := json.Marshal(val)
	if err != nil {
		return val
	}
	var generic interface{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return val
	}
	return generic
}

func encode(buf *bytes.Buffer, v interface{}) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
		return nil
	case bool, json.Number, string:
		b, err := json.Marshal(val)
		if err != nil {
			return err
		}
		buf.Write(b)
		return nil
	case []interface{}:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encode(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeKeyValue(buf, k, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	default:
		return fmt.Errorf("canonjson: unsupported type %T", v)
	}
}
