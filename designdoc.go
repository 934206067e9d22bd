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
	"crypto/md5" // nolint:gosec // fingerprint, not a security boundary — matches the reference implementation's choice
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// View is one entry of a DesignDocument's Views map: map and (optionally)
// reduce function source, per §3.
type View struct {
	Map    Code  `json:"map"`
	Reduce *Code `json:"reduce,omitempty"`
}

// DesignDocument is the structured value described in §3: a set of named
// views, each carrying map/reduce source text. Its Fingerprint is the
// lowercase hex MD5 of its canonical JSON encoding, computed once at
// client construction and used verbatim as the server-side document ID
// suffix ("_design/<fingerprint>").
type DesignDocument struct {
	Language string          `json:"language,omitempty"`
	Views    map[string]View `json:"views"`
}

// Fingerprint computes the lowercase hex MD5 of d's canonical JSON
// encoding (§3). Canonical here means: all object keys sorted, and rendered
// through the same Code.MarshalJSON path every other JSON encoding of d
// uses — so a fingerprint computed here and a document PUT to the server
// always agree.
func (d *DesignDocument) Fingerprint() (string, error) {
	canonical, err := canonicalize(d)
	if err != nil {
		return "", fmt.Errorf("couch: fingerprint design document: %w", err)
	}
	sum := md5.Sum(canonical) // nolint:gosec
	return hex.EncodeToString(sum[:]), nil
}

// canonicalize marshals v, decodes the result into generic maps and
// slices, and re-encodes it with marshalSorted so that every object's keys
// come out sorted. The output therefore does not depend on struct field
// order or map iteration order, only on the document's content.
func canonicalize(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return marshalSorted(generic)
}

func marshalSorted(v any) ([]byte, error) {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf := []byte{'{'}
		for i, k := range keys {
			if i > 0 {
				buf = append(buf, ',')
			}
			kb, _ := json.Marshal(k)
			buf = append(buf, kb...)
			buf = append(buf, ':')
			vb, err := marshalSorted(t[k])
			if err != nil {
				return nil, err
			}
			buf = append(buf, vb...)
		}
		buf = append(buf, '}')
		return buf, nil
	case []any:
		buf := []byte{'['}
		for i, e := range t {
			if i > 0 {
				buf = append(buf, ',')
			}
			eb, err := marshalSorted(e)
			if err != nil {
				return nil, err
			}
			buf = append(buf, eb...)
		}
		buf = append(buf, ']')
		return buf, nil
	default:
		return json.Marshal(t)
	}
}
