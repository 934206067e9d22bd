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

package transport

import (
	"net/url"
	"strings"
)

const (
	prefixDesign = "_design/"
	prefixLocal  = "_local/"
)

// EncodePathSegment percent-encodes a document or design-document ID
// according to CouchDB's path encoding rules: the "_design/" and "_local/"
// prefixes are left unaltered, and the remainder is query-escaped except
// that spaces become %20 rather than "+".
func EncodePathSegment(id string) string {
	for _, prefix := range []string{prefixDesign, prefixLocal} {
		if strings.HasPrefix(id, prefix) {
			return prefix + encodeSegment(strings.TrimPrefix(id, prefix))
		}
	}
	return encodeSegment(id)
}

func encodeSegment(id string) string {
	id = url.QueryEscape(id)
	return strings.ReplaceAll(id, "+", "%20")
}
