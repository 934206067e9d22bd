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
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// Code is a string that marshals to JSON as itself rather than being
// interpreted: the "callables become their source text" rule of §4.C and
// §4.H. A View's Map/Reduce functions are Code; so is any other body
// field that needs to carry source text verbatim through JSON encoding.
type Code string

// MarshalJSON renders c as a JSON string containing its source text
// verbatim — the same transformation the reference implementation's
// JSON.stringify replacer performs on a function value.
func (c Code) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(c))
}

// serializedBody is what the body serialiser (§4.C) hands back to the
// pipeline: the bytes to send, the Content-Type to set (empty if none),
// and whether the body is a non-replayable stream (which the pipeline
// must use to clamp the retry budget to zero before the first byte goes
// out).
type serializedBody struct {
	reader      io.Reader
	length      int64 // -1 if unknown (a stream)
	contentType string
	isStream    bool
}

// serializeBody classifies body per the table in §4.C and produces the
// bytes (or stream) to send.
func serializeBody(body any) (serializedBody, error) {
	switch b := body.(type) {
	case nil:
		return serializedBody{}, nil
	case []byte:
		return serializedBody{reader: bytes.NewReader(b), length: int64(len(b))}, nil
	case string:
		return serializedBody{reader: bytes.NewReader([]byte(b)), length: int64(len(b))}, nil
	case io.Reader:
		return serializedBody{reader: b, length: -1, isStream: true}, nil
	default:
		encoded, err := json.Marshal(b)
		if err != nil {
			return serializedBody{}, fmt.Errorf("couch: serialise request body: %w", err)
		}
		return serializedBody{
			reader:      bytes.NewReader(encoded),
			length:      int64(len(encoded)),
			contentType: typeJSON,
		}, nil
	}
}
