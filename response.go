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
	"mime"
	"net/http"
)

// CacheHeaders holds the cache validator headers extracted verbatim from
// a response, per §3 "Response Envelope".
type CacheHeaders struct {
	LastModified string
	ETag         string
	Expires      string
	CacheControl string
	ContentType  string
}

// CacheInfo augments a Response with the cache-relevant subset of its
// headers, per §3.
type CacheInfo struct {
	NotModified bool
	Headers     CacheHeaders
}

// Response is the HTTP response envelope returned by Client.Do, augmented
// with CacheInfo per §3. Body is the parsed JSON value when the response's
// Content-Type is JSON-shaped (application/json or any "+json" suffix);
// otherwise it is nil and callers should read Raw themselves.
type Response struct {
	*http.Response
	CacheInfo CacheInfo
	// Body holds the JSON-decoded value for a JSON-shaped, non-streaming
	// response. Raw holds the response bytes that were read to produce
	// it (or, for a non-JSON response, the entirety of the body).
	Body any
	Raw  []byte
}

func extractCacheInfo(h http.Header, notModified bool) CacheInfo {
	return CacheInfo{
		NotModified: notModified,
		Headers: CacheHeaders{
			LastModified: h.Get("Last-Modified"),
			ETag:         h.Get("ETag"),
			Expires:      h.Get("Expires"),
			CacheControl: h.Get("Cache-Control"),
			ContentType:  h.Get("Content-Type"),
		},
	}
}

// ETag returns resp's unquoted ETag header, and whether it had one.
// Mirrors couchdb/chttp.ETag: CouchDB always quotes the header value, and
// callers normally want the bare revision/fingerprint string.
func ETag(resp *http.Response) (string, bool) {
	if resp == nil {
		return "", false
	}
	etag := unquoteETag(resp.Header.Get("ETag"))
	return etag, etag != ""
}

func unquoteETag(etag string) string {
	if len(etag) > 1 && etag[0] == '"' && etag[len(etag)-1] == '"' {
		return etag[1 : len(etag)-1]
	}
	return etag
}

// isJSONContentType reports whether the response's Content-Type header
// names the canonical JSON media type or any "+json" suffix family
// member, per §3.
func isJSONContentType(header string) bool {
	if header == "" {
		return false
	}
	ct, _, err := mime.ParseMediaType(header)
	if err != nil {
		return false
	}
	if ct == typeJSON {
		return true
	}
	return len(ct) > 5 && ct[len(ct)-5:] == "+json"
}
