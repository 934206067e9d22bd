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
	"io"
	"net/http"
)

// RequestOptions is the per-call value described in spec §3 "Request
// Options". Zero value is a GET to the client's base URL with no query,
// headers or body.
type RequestOptions struct {
	Method string
	// Path is either absolute-from-base (leading "/" or ".") or relative
	// to the client's current base URL (§4.F step 3). Unlike the base
	// URL itself, Path is not passed through the placeholder engine.
	Path    string
	Headers http.Header
	// Query is either a literal string (appended verbatim) or a Query
	// value (see query.go) encoded per §4.B.
	Query any
	// Body is one of: nil, []byte, string, io.Reader (a byte stream —
	// disables retries per §3's invariant), or any other value, which is
	// JSON-serialised per §4.C.
	Body any
	// NumRetries overrides the client's retry budget for this call only.
	// nil means "use the client's default".
	NumRetries *int
	// Stream requests row-by-row delivery (§4.G) instead of buffering the
	// whole response body. Forces the effective retry budget to zero.
	Stream bool
	// Extra holds arbitrary per-call placeholder-scope overrides (§3),
	// consulted before the client's own bindings during template
	// expansion.
	Extra map[string]any
	// PreprocessRequestOptions, if set, can mutate the low-level request
	// descriptor before dispatch (§4.F step 7).
	PreprocessRequestOptions func(*http.Request) error
}

func (ro *RequestOptions) method() string {
	if ro == nil || ro.Method == "" {
		return http.MethodGet
	}
	return ro.Method
}

func (ro *RequestOptions) extra() map[string]any {
	if ro == nil {
		return nil
	}
	return ro.Extra
}

// isByteStream reports whether body is a streamed (non-replayable) body,
// as opposed to bytes, a string, or a value to be JSON-serialised.
func isByteStream(body any) bool {
	if body == nil {
		return false
	}
	switch body.(type) {
	case []byte, string:
		return false
	case io.Reader:
		return true
	default:
		return false
	}
}
