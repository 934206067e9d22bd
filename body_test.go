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
	"io"
	"testing"
)

func TestSerializeBodyNil(t *testing.T) {
	sb, err := serializeBody(nil)
	if err != nil {
		t.Fatal(err)
	}
	if sb.reader != nil || sb.contentType != "" || sb.isStream {
		t.Errorf("expected empty serializedBody, got %+v", sb)
	}
}

func TestSerializeBodyBytesAndString(t *testing.T) {
	sb, err := serializeBody([]byte("raw"))
	if err != nil {
		t.Fatal(err)
	}
	if sb.contentType != "" {
		t.Errorf("byte body must not set Content-Type, got %q", sb.contentType)
	}
	assertReads(t, sb.reader, "raw")

	sb, err = serializeBody("text")
	if err != nil {
		t.Fatal(err)
	}
	if sb.contentType != "" {
		t.Errorf("text body must not set Content-Type, got %q", sb.contentType)
	}
	assertReads(t, sb.reader, "text")
}

func TestSerializeBodyStreamDisablesContentType(t *testing.T) {
	sb, err := serializeBody(bytes.NewReader([]byte("stream")))
	if err != nil {
		t.Fatal(err)
	}
	if !sb.isStream {
		t.Error("expected isStream true for an io.Reader body")
	}
	if sb.length != -1 {
		t.Errorf("expected unknown length for a stream, got %d", sb.length)
	}
	if sb.contentType != "" {
		t.Errorf("stream body must not set Content-Type, got %q", sb.contentType)
	}
}

func TestSerializeBodyStructuredValue(t *testing.T) {
	sb, err := serializeBody(map[string]any{"a": 1})
	if err != nil {
		t.Fatal(err)
	}
	if sb.contentType != typeJSON {
		t.Errorf("expected Content-Type %q, got %q", typeJSON, sb.contentType)
	}
	assertReads(t, sb.reader, `{"a":1}`)
}

func TestCodeMarshalsAsSourceText(t *testing.T) {
	v := View{Map: Code("function(doc) { emit(doc._id, 1); }")}
	b, err := serializeBody(v)
	if err != nil {
		t.Fatal(err)
	}
	assertReads(t, b.reader, `{"map":"function(doc) { emit(doc._id, 1); }"}`)
}

func assertReads(t *testing.T, r io.Reader, want string) {
	t.Helper()
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
