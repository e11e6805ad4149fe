// SPDX-License-Identifier: AGPL-3.0-or-later

// Package plist bridges the proxy's recursive Value representation to
// Apple's binary property-list wire format via howett.net/plist, treating
// the wire format itself as opaque.
package plist

import (
	"bytes"
	"fmt"

	applist "howett.net/plist"
)

// Value is a recursive tagged union over the subset of plist types the
// proxy core needs to address: strings, integers, booleans, byte strings,
// ordered associative maps, and ordered sequences.
type Value interface{}

// Map is an ordered-enough associative Value. howett.net/plist round-trips
// map[string]any as a plist dict; key order is not significant to the wire
// format and the core never relies on it.
type Map map[string]Value

// Array is a sequence Value.
type Array []Value

// DecodeError wraps a failure to parse a plist payload.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("plist: decode failed: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Decode parses a binary plist payload into a Value tree.
func Decode(body []byte) (Value, error) {
	var v any
	_, err := applist.Unmarshal(body, &v)
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	return normalize(v), nil
}

// Encode serializes a Value tree back into a binary plist payload.
func Encode(v Value) ([]byte, error) {
	var buf bytes.Buffer
	enc := applist.NewBinaryEncoder(&buf)
	if err := enc.Encode(denormalize(v)); err != nil {
		return nil, fmt.Errorf("plist: encode failed: %w", err)
	}
	return buf.Bytes(), nil
}

// normalize converts the generic any-trees howett.net/plist produces
// (map[string]any, []any) into the proxy's Map/Array aliases so callers get
// stable, named types.
func normalize(v any) Value {
	switch t := v.(type) {
	case map[string]any:
		m := make(Map, len(t))
		for k, val := range t {
			m[k] = normalize(val)
		}
		return m
	case []any:
		a := make(Array, len(t))
		for i, val := range t {
			a[i] = normalize(val)
		}
		return a
	default:
		return t
	}
}

// denormalize reverses normalize so the howett.net/plist encoder sees plain
// map[string]any/[]any trees.
func denormalize(v Value) any {
	switch t := v.(type) {
	case Map:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[k] = denormalize(val)
		}
		return m
	case Array:
		a := make([]any, len(t))
		for i, val := range t {
			a[i] = denormalize(val)
		}
		return a
	default:
		return t
	}
}

// Get walks a dotted path of map keys, returning the value and whether
// every segment was present and the intermediate values were Maps.
func Get(v Value, path ...string) (Value, bool) {
	cur := v
	for _, seg := range path {
		m, ok := cur.(Map)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// GetString is Get specialized to a string leaf.
func GetString(v Value, path ...string) (string, bool) {
	val, ok := Get(v, path...)
	if !ok {
		return "", false
	}
	s, ok := val.(string)
	return s, ok
}

// GetArray is Get specialized to an Array leaf.
func GetArray(v Value, path ...string) (Array, bool) {
	val, ok := Get(v, path...)
	if !ok {
		return nil, false
	}
	a, ok := val.(Array)
	return a, ok
}

// GetBool is Get specialized to a bool leaf, defaulting to false when
// absent or of the wrong type.
func GetBool(v Value, path ...string) bool {
	val, ok := Get(v, path...)
	if !ok {
		return false
	}
	b, _ := val.(bool)
	return b
}

// Index returns a[i], reporting false when i is out of range.
func Index(a Array, i int) (Value, bool) {
	if i < 0 || i >= len(a) {
		return nil, false
	}
	return a[i], true
}
