package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Canonicalize renders v as deterministic JSON: map keys sorted
// lexicographically at every nesting depth, arrays left in order,
// primitives rendered by the standard encoder. Two semantically equal
// mappings canonicalize byte-identically regardless of key insertion
// order.
func Canonicalize(v interface{}) (string, error) {
	normalized, err := normalize(v)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(normalized); err != nil {
		return "", err
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

// normalize converts v into a tree of map[string]interface{}, []interface{}
// and primitives with deterministic key order, by round-tripping through
// encoding/json and replacing maps with sortedMap wrappers that marshal
// their keys in sorted order.
func normalize(v interface{}) (interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: marshal: %w", err)
	}
	var decoded interface{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&decoded); err != nil {
		return nil, fmt.Errorf("canonicalize: decode: %w", err)
	}
	return toSorted(decoded), nil
}

func toSorted(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return sortedMap(val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = toSorted(item)
		}
		return out
	default:
		return val
	}
}

// sortedMap marshals a map[string]interface{} with keys in sorted order,
// recursively sorting nested maps and arrays.
type sortedMap map[string]interface{}

func (m sortedMap) MarshalJSON() ([]byte, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyBytes, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(keyBytes)
		buf.WriteByte(':')
		valBytes, err := json.Marshal(toSorted(m[k]))
		if err != nil {
			return nil, err
		}
		buf.Write(valBytes)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
