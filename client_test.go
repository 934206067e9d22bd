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
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewRequiresURL(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected an error when URL is empty")
	}
}

func TestNewRejectsReservedPlaceholderName(t *testing.T) {
	_, err := New(Config{
		URL:          []string{"http://example.com"},
		Placeholders: map[string]Resolver{"numRetries": 3},
	})
	if err == nil {
		t.Fatal("expected construction to fail on a reserved placeholder name")
	}
}

func TestNewStripsTrailingSlash(t *testing.T) {
	c, err := New(Config{URL: []string{"http://example.com/db/"}})
	if err != nil {
		t.Fatal(err)
	}
	if got := c.nextBaseURL(); got != "http://example.com/db" {
		t.Errorf("got %q, want trailing slash stripped", got)
	}
}

func TestInitIgnoresPreconditionFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPreconditionFailed)
	}))
	defer srv.Close()

	c, err := New(Config{URL: []string{srv.URL}})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Quit()

	if err := c.Init(context.Background()); err != nil {
		t.Errorf("expected 412 to be treated as success, got %v", err)
	}
}

func TestInitSurfacesOtherErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, err := New(Config{URL: []string{srv.URL}})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Quit()

	if err := c.Init(context.Background()); err == nil {
		t.Error("expected a 500 to surface as an error")
	}
}

func TestPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Errorf("expected HEAD, got %s", r.Method)
		}
	}))
	defer srv.Close()

	c, err := New(Config{URL: []string{srv.URL}})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Quit()

	if err := c.Ping(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestETagUnquotes(t *testing.T) {
	resp := &http.Response{Header: http.Header{"Etag": []string{`"abc123"`}}}
	got, ok := ETag(resp)
	if !ok || got != "abc123" {
		t.Errorf("got (%q, %v), want (\"abc123\", true)", got, ok)
	}
}

func TestQueryTemporaryView(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		decodeJSONBody(t, r, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"rows":[]}`))
	}))
	defer srv.Close()

	c, err := New(Config{URL: []string{srv.URL}})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Quit()

	_, err = c.QueryTemporaryView(context.Background(), View{Map: Code("function(doc){emit(doc._id,1)}")}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if gotPath != "/_temp_view" {
		t.Errorf("got path %q, want /_temp_view", gotPath)
	}
	if gotBody["language"] != "javascript" {
		t.Errorf("expected language javascript, got %v", gotBody["language"])
	}
}

func decodeJSONBody(t *testing.T, r *http.Request, v any) {
	t.Helper()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		t.Fatal(err)
	}
}
