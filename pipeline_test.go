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
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

func newTestClient(t *testing.T, srv *httptest.Server, numRetries int) *Client {
	t.Helper()
	c, err := New(Config{URL: []string{srv.URL}, NumRetries: numRetries})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(c.Quit)
	return c
}

func TestDoSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, 0)
	resp, err := c.Do(context.Background(), &RequestOptions{Path: "db"})
	if err != nil {
		t.Fatal(err)
	}
	body, ok := resp.Body.(map[string]any)
	if !ok || body["ok"] != true {
		t.Errorf("unexpected body: %#v", resp.Body)
	}
}

func TestDoHTTPErrorMapsToHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, 0)
	_, err := c.Do(context.Background(), &RequestOptions{Path: "missing"})
	if err == nil {
		t.Fatal("expected an error")
	}
	herr, ok := err.(*HTTPError)
	if !ok {
		t.Fatalf("expected *HTTPError, got %T: %v", err, err)
	}
	if !herr.NotFound() {
		t.Errorf("expected NotFound, got status %d", herr.Status)
	}
}

func TestDoBadGatewayOnUnparseableJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, 0)
	_, err := c.Do(context.Background(), &RequestOptions{})
	if err == nil {
		t.Fatal("expected an error")
	}
	if _, ok := err.(*BadGateway); !ok {
		t.Fatalf("expected *BadGateway, got %T: %v", err, err)
	}
}

// TestRoundRobin reproduces §5's "sequential round robin" guarantee: a
// request against a two-URL client always sees the next base in turn.
func TestRoundRobin(t *testing.T) {
	var hits [2]int32
	srv0 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits[0], 1)
	}))
	defer srv0.Close()
	srv1 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits[1], 1)
	}))
	defer srv1.Close()

	c, err := New(Config{URL: []string{srv0.URL, srv1.URL}})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Quit()

	for i := 0; i < 4; i++ {
		if _, err := c.Do(context.Background(), &RequestOptions{}); err != nil {
			t.Fatal(err)
		}
	}
	if hits[0] != 2 || hits[1] != 2 {
		t.Errorf("expected 2/2 round-robin split, got %d/%d", hits[0], hits[1])
	}
}

// TestTransportRetryExhaustion reproduces §8 scenario 4: three
// successive transport failures with numRetries=2 surfaces a final
// error.
func TestTransportRetryExhaustion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := srv.URL
	srv.Close() // nothing is listening: every attempt is a transport-level connection refusal

	c := newTestClient(t, &httptest.Server{URL: addr}, 2)
	_, err := c.Do(context.Background(), &RequestOptions{})
	if err == nil {
		t.Fatal("expected a transport error")
	}
	if _, ok := err.(*TransportError); !ok {
		t.Fatalf("expected *TransportError, got %T: %v", err, err)
	}
}

// TestTransportRetryThenSuccess reproduces §8 scenario 4's second half:
// two transport failures then a 200 succeeds once the retry budget
// covers them.
func TestTransportRetryThenSuccess(t *testing.T) {
	var attempt int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&attempt, 1)
		if n <= 2 {
			// Hijack and close without responding to simulate a reset.
			hj, ok := w.(http.Hijacker)
			if !ok {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			conn, _, _ := hj.Hijack()
			_ = conn.Close()
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, 2)
	_, err := c.Do(context.Background(), &RequestOptions{})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if attempt != 3 {
		t.Errorf("expected 3 attempts, got %d", attempt)
	}
}

// TestByteStreamBodyDisablesRetries reproduces §8 invariant 5: a
// non-replayable (io.Reader) request body forces the retry budget to
// zero, so the transport is invoked at most once even with a positive
// client-level retry budget.
func TestByteStreamBodyDisablesRetries(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		hj, _ := w.(http.Hijacker)
		conn, _, _ := hj.Hijack()
		_ = conn.Close()
	}))
	defer srv.Close()

	c := newTestClient(t, srv, 5)
	_, err := c.Do(context.Background(), &RequestOptions{Body: strings.NewReader("payload")})
	if err == nil {
		t.Fatal("expected an error")
	}
	if attempts != 1 {
		t.Errorf("byte-stream body must disable retries: expected 1 attempt, got %d", attempts)
	}
}
