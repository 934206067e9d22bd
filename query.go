// Licensed under the Apache License, Version 2.0 (the "License"); you may not
// use this file except in compliance with the License. You may obtain a copy of
// the License at
//
//  http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
// WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the
// License for the specific language governing permissions and limitations under
// the License.

package couch

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Query is a key→value(s) query parameter mapping, per §4.B. Values are
// JSON-encoded before percent-encoding (so a string value becomes
// `key=%22value%22`, never the bare `key=value`), preserving insertion
// order, which is why this is a slice of pairs rather than a map.
type Query struct {
	pairs []queryPair
}

type queryPair struct {
	key string
	val any
}

// NewQuery returns an empty Query ready for Set calls, preserving the
// order in which keys are added.
func NewQuery() *Query { return &Query{} }

// Set appends key→val, where val is a scalar (string, number, bool) or a
// []any / []string-like slice for a repeated parameter. A nil val is
// skipped entirely per §4.B ("skip values that are undefined").
func (q *Query) Set(key string, val any) *Query {
	if val == nil {
		return q
	}
	q.pairs = append(q.pairs, queryPair{key: key, val: val})
	return q
}

// encodeQuery renders q as a URL suffix, applied to base which may or may
// not already contain a "?". Implements §4.B exactly: each scalar becomes
// one `key=percent(json(value))` pair, each list value becomes one pair
// per element, and undefined (nil) values are skipped.
func encodeQuery(base string, query any) (string, error) {
	if query == nil {
		return base, nil
	}
	switch q := query.(type) {
	case string:
		if q == "" {
			return base, nil
		}
		return base + sep(base) + strings.TrimPrefix(q, "?"), nil
	case *Query:
		return encodePairs(base, q.pairs)
	case map[string]any:
		return encodePairs(base, mapToPairs(q))
	default:
		return "", fmt.Errorf("couch: unsupported query type %T", query)
	}
}

// mapToPairs gives plain map[string]any callers a deterministic,
// insertion-order-free fallback: Go map iteration order is randomised, so
// pairs are emitted in sorted key order; callers that care about insertion
// order (scenario 3 in §8) should use *Query instead. Kept for callers who
// don't.
func mapToPairs(m map[string]any) []queryPair {
	keys := make([]string, 0, len(m))
	for k, v := range m {
		if v == nil {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]queryPair, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, queryPair{key: k, val: m[k]})
	}
	return pairs
}

func encodePairs(base string, pairs []queryPair) (string, error) {
	var b strings.Builder
	b.WriteString(base)
	first := !strings.Contains(base, "?")
	for _, p := range pairs {
		values, err := scalarOrList(p.val)
		if err != nil {
			return "", err
		}
		for _, v := range values {
			enc, err := jsonPercent(v)
			if err != nil {
				return "", err
			}
			if first {
				b.WriteByte('?')
				first = false
			} else {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(p.key))
			b.WriteByte('=')
			b.WriteString(enc)
		}
	}
	return b.String(), nil
}

// scalarOrList normalises v into the list of values to emit one pair per,
// per §4.B's "For each list value, emit one key=… pair per item" rule.
func scalarOrList(v any) ([]any, error) {
	switch t := v.(type) {
	case []any:
		return t, nil
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out, nil
	default:
		return []any{v}, nil
	}
}

func jsonPercent(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("couch: encode query value: %w", err)
	}
	return url.QueryEscape(string(b)), nil
}

func sep(url string) string {
	if strings.Contains(url, "?") {
		return "&"
	}
	return "?"
}
