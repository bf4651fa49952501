// Package request turns an inbound HTTP request into an immutable Record:
// the single, normalised view of client input that resource logic reads.
package request

import (
	"bytes"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/Skryldev/socialhub/apierr"
	"github.com/Skryldev/socialhub/sanitize"
)

// Record maps field names to scalar or nested values. Every string leaf has
// been HTML-encoded. A Record is never mutated after construction; With
// returns a modified copy.
type Record struct {
	values map[string]any
}

// NewRecord copies values into a Record as-is. Callers must only pass values
// that are already sanitised.
func NewRecord(values map[string]any) Record {
	m := make(map[string]any, len(values))
	for k, v := range values {
		m[k] = v
	}
	return Record{values: m}
}

// Parse builds a Record from a raw JSON body, or from query parameters when
// the body is empty. A non-empty body is authoritative: query parameters are
// ignored entirely in that case.
func Parse(rawBody []byte, query url.Values) (Record, error) {
	if len(bytes.TrimSpace(rawBody)) > 0 {
		if !gjson.ValidBytes(rawBody) {
			return Record{}, apierr.New(apierr.ErrMalformedRequest, "request body is not valid JSON")
		}
		root := gjson.ParseBytes(rawBody)
		if !root.IsObject() {
			return Record{}, apierr.New(apierr.ErrMalformedRequest, "request body must be a JSON object")
		}
		return Record{values: fromJSON(root).(map[string]any)}, nil
	}

	m := make(map[string]any, len(query))
	for k, vs := range query {
		if len(vs) == 0 {
			continue
		}
		m[k] = sanitize.String(vs[0])
	}
	return Record{values: m}, nil
}

func fromJSON(r gjson.Result) any {
	switch {
	case r.IsObject():
		m := make(map[string]any)
		r.ForEach(func(k, v gjson.Result) bool {
			m[k.String()] = fromJSON(v)
			return true
		})
		return m
	case r.IsArray():
		items := r.Array()
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = fromJSON(item)
		}
		return out
	}

	switch r.Type {
	case gjson.String:
		return sanitize.String(r.String())
	case gjson.Number:
		if i, err := strconv.ParseInt(r.Raw, 10, 64); err == nil {
			return i
		}
		return r.Float()
	case gjson.True, gjson.False:
		return r.Bool()
	default:
		return nil
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Accessors
// ─────────────────────────────────────────────────────────────────────────────

// Get returns the value stored under key.
func (r Record) Get(key string) (any, bool) {
	v, ok := r.values[key]
	return v, ok
}

// Has reports whether key is present with a non-nil value.
func (r Record) Has(key string) bool {
	v, ok := r.values[key]
	return ok && v != nil
}

// String returns the value under key formatted as a string, or "" when the
// key is absent.
func (r Record) String(key string) string {
	v, ok := r.values[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Keys returns the field names in sorted order.
func (r Record) Keys() []string {
	keys := make([]string, 0, len(r.values))
	for k := range r.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of fields.
func (r Record) Len() int { return len(r.values) }

// With returns a copy of r with key set to value.
func (r Record) With(key string, value any) Record {
	out := NewRecord(r.values)
	out.values[key] = value
	return out
}

// Map returns a shallow copy of the underlying values.
func (r Record) Map() map[string]any {
	return NewRecord(r.values).values
}

// Lookup walks a dotted path through nested objects and arrays, for example
// "data.email_addresses.0.email_address".
func (r Record) Lookup(path string) (any, bool) {
	var cur any = r.values
	for _, part := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[part]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			i, err := strconv.Atoi(part)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	return cur, cur != nil
}
