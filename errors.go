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
	"io"
	"mime"
	"net/http"

	"github.com/pkg/errors"
)

// StatusCoder is satisfied by every error this package returns from the
// request pipeline, so callers can branch on the HTTP-ish status without a
// type switch over every concrete error type.
type StatusCoder interface {
	StatusCode() int
}

// StatusCode extracts an embedded HTTP status code from err, or 0 if err
// (or anything it wraps) doesn't carry one.
func StatusCode(err error) int {
	var sc StatusCoder
	if errors.As(err, &sc) {
		return sc.StatusCode()
	}
	return 0
}

// HTTPError represents a response whose status code was >= 400. Status
// carries the code; Reason, when the server sent a JSON error body, carries
// its "reason" field.
type HTTPError struct {
	Status int
	Reason string
	// Response is retained for callers that need headers or other
	// metadata; its Body has already been drained and closed.
	Response *http.Response
}

func (e *HTTPError) Error() string {
	text := http.StatusText(e.Status)
	switch {
	case e.Reason == "" && text == "":
		return fmt.Sprintf("http error %d", e.Status)
	case e.Reason == "":
		return text
	case text == "":
		return e.Reason
	default:
		return fmt.Sprintf("%s: %s", text, e.Reason)
	}
}

// StatusCode implements StatusCoder.
func (e *HTTPError) StatusCode() int { return e.Status }

// NotFound reports whether e represents an HTTP 404.
func (e *HTTPError) NotFound() bool { return e.Status == http.StatusNotFound }

// Conflict reports whether e represents an HTTP 409.
func (e *HTTPError) Conflict() bool { return e.Status == http.StatusConflict }

// PreconditionFailed reports whether e represents an HTTP 412.
func (e *HTTPError) PreconditionFailed() bool { return e.Status == http.StatusPreconditionFailed }

// httpErrorFromResponse builds an *HTTPError from a >=400 response,
// draining and closing the body as it goes. It is the pipeline's sole
// point of contact between raw *http.Response and the typed error
// taxonomy described in §7.
func httpErrorFromResponse(resp *http.Response) error {
	herr := &HTTPError{Status: resp.StatusCode, Response: resp}
	if resp.Body == nil {
		return herr
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
	}()
	if resp.Request != nil && resp.Request.Method != http.MethodHead {
		if ct, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type")); ct == typeJSON {
			var body struct {
				Reason string `json:"reason"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&body); err == nil {
				herr.Reason = body.Reason
			}
		}
	}
	return herr
}

// TransportError wraps a non-HTTP failure from the underlying transport:
// connection refused, timeout, reset, dns failure, and similar. It is what
// the pipeline surfaces once the retry budget for a request is exhausted.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("transport error: %s", e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// StatusCode always returns 0 for a TransportError: by definition it never
// reached the point of receiving an HTTP status line.
func (e *TransportError) StatusCode() int { return 0 }

// BadGateway is synthesised by the pipeline — never sent by CouchDB itself
// — when a response announced as JSON could not be parsed as JSON.
type BadGateway struct {
	Err error
}

func (e *BadGateway) Error() string {
	return fmt.Sprintf("%s: %s", http.StatusText(http.StatusBadGateway), e.Err)
}
func (e *BadGateway) Unwrap() error   { return e.Err }
func (e *BadGateway) StatusCode() int { return http.StatusBadGateway }

// InternalServerError is synthesised locally by the streaming row parser:
// on an unparseable row or metadata line (§4.G), or on a read error while
// scanning the view response. Transport failures are never wrapped in it;
// the pipeline surfaces every one of them as a *TransportError.
type InternalServerError struct {
	Message string
	Err     error
}

func (e *InternalServerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Err)
	}
	return e.Message
}
func (e *InternalServerError) Unwrap() error   { return e.Err }
func (e *InternalServerError) StatusCode() int { return http.StatusInternalServerError }
