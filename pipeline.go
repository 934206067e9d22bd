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
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/cenkalti/backoff/v4"
	"github.com/golang/glog"

	"github.com/kivahq/couchclient/transport"
)

// EventKind distinguishes the events delivered on a Handle, per §3
// "Streaming Emitter": request → response → metadata? → row* → (end |
// error).
type EventKind int

const (
	EventRequest EventKind = iota
	EventResponse
	EventMetadata
	EventRow
	EventEnd
	EventError
)

// HandleEvent is one event delivered on a Handle's channel.
type HandleEvent struct {
	Kind     EventKind
	Request  *http.Request
	Response *Response
	Metadata ViewMetadata
	Row      RowEvent
	Err      error
}

// Handle is the streaming handle returned by every Stream call, per §3.
// At most one terminal event (EventEnd or EventError) is ever delivered;
// after it, the channel is closed. Abort is idempotent.
type Handle struct {
	events    chan HandleEvent
	cancel    context.CancelFunc
	abortOnce sync.Once
	aborted   bool
	abortMu   sync.Mutex
}

func newHandle(cancel context.CancelFunc) *Handle {
	return &Handle{events: make(chan HandleEvent, 8), cancel: cancel}
}

// Events returns the channel events are delivered on. It is closed after
// the terminal event.
func (h *Handle) Events() <-chan HandleEvent { return h.events }

// Abort cancels the in-flight request and suppresses further events.
// Idempotent.
func (h *Handle) Abort() {
	h.abortOnce.Do(func() {
		h.abortMu.Lock()
		h.aborted = true
		h.abortMu.Unlock()
		if h.cancel != nil {
			h.cancel()
		}
	})
}

func (h *Handle) isAborted() bool {
	h.abortMu.Lock()
	defer h.abortMu.Unlock()
	return h.aborted
}

func (h *Handle) emit(ev HandleEvent) {
	if h.isAborted() {
		return
	}
	h.events <- ev
}

func (h *Handle) finish(ev HandleEvent) {
	h.emit(ev)
	close(h.events)
}

// effectiveRetries computes the retry budget for a call, per §3's
// invariants: a byte-stream body or a streaming request forces it to
// zero, overriding both the per-call and the client default.
func (c *Client) effectiveRetries(ro *RequestOptions) int {
	budget := c.numRetries
	if ro.NumRetries != nil {
		budget = *ro.NumRetries
	}
	if ro.Stream || isByteStream(ro.Body) {
		return 0
	}
	return budget
}

// buildTarget expands the chosen base URL's template, appends Path and
// Query, per §4.F steps 1-4.
func (c *Client) buildTarget(ro *RequestOptions) (string, error) {
	base := c.nextBaseURL()
	expanded, err := c.expandTemplate(base, ro, ro.extra())
	if err != nil {
		return "", err
	}
	target := joinPath(expanded, ro.Path)
	return encodeQuery(target, ro.Query)
}

// joinPath implements §4.F step 3: a path beginning with "/" or "."
// resolves against base+"/"; otherwise it's concatenated with a "/"
// separator.
func joinPath(base, path string) string {
	if path == "" {
		return base
	}
	if strings.HasPrefix(path, "/") || strings.HasPrefix(path, ".") {
		baseURL, err := url.Parse(strings.TrimRight(base, "/") + "/")
		if err == nil {
			if ref, err := url.Parse(path); err == nil {
				return baseURL.ResolveReference(ref).String()
			}
		}
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimPrefix(path, "/")
}

// buildRequest constructs the *http.Request for one dispatch attempt:
// headers, body, and the PreprocessRequestOptions hook (§4.F steps 5-7).
func (c *Client) buildRequest(ctx context.Context, target string, ro *RequestOptions) (*http.Request, error) {
	sb, err := serializeBody(ro.Body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, ro.method(), target, sb.reader)
	if err != nil {
		return nil, fmt.Errorf("couch: build request: %w", err)
	}
	if sb.length >= 0 {
		req.ContentLength = sb.length
	}
	for k, vs := range ro.Headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if sb.contentType != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", sb.contentType)
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", typeJSON)
	}
	if ro.PreprocessRequestOptions != nil {
		if err := ro.PreprocessRequestOptions(req); err != nil {
			return nil, fmt.Errorf("couch: preprocess request: %w", err)
		}
	}
	return req, nil
}

// Do issues a non-streaming request: the body is collected to a buffer
// and JSON-decoded if the response's Content-Type is JSON-shaped, per
// §4.F step 10.
func (c *Client) Do(ctx context.Context, ro *RequestOptions) (*Response, error) {
	if ro == nil {
		ro = &RequestOptions{}
	}
	ro.Stream = false
	h := newHandle(nil)
	go c.run(ctx, ro, h)
	var resp *Response
	var err error
loop:
	for ev := range h.events {
		switch ev.Kind {
		case EventResponse:
			resp = ev.Response
		case EventEnd:
			break loop
		case EventError:
			err = ev.Err
			break loop
		}
	}
	return resp, err
}

// Stream issues a request in streaming mode: rows are delivered
// incrementally on the returned Handle rather than buffered, per §4.G.
// The retry budget is forced to zero (§3).
func (c *Client) Stream(ctx context.Context, ro *RequestOptions) *Handle {
	if ro == nil {
		ro = &RequestOptions{}
	}
	ro.Stream = true
	ctx, cancel := context.WithCancel(ctx)
	h := newHandle(cancel)
	go c.run(ctx, ro, h)
	return h
}

// run drives the request pipeline described in §4.F to completion,
// delivering events on h. It owns h's terminal event: exactly one of
// EventEnd/EventError fires before the channel is closed.
func (c *Client) run(ctx context.Context, ro *RequestOptions, h *Handle) {
	target, err := c.buildTarget(ro)
	if err != nil {
		c.failTerminal(h, "", ro, nil, err, 0)
		return
	}

	retries := c.effectiveRetries(ro)
	policy := backoff.WithMaxRetries(&backoff.ZeroBackOff{}, uint64(retries))
	budget := retries

	var resp *http.Response
	var configErr error
	op := func() error {
		req, err := c.buildRequest(ctx, target, ro)
		if err != nil {
			configErr = err
			return backoff.Permanent(err)
		}
		c.emitRequest(req)
		h.emit(HandleEvent{Kind: EventRequest, Request: req})

		agent, err := c.agentFor()
		if err != nil {
			configErr = err
			return backoff.Permanent(err)
		}

		r, err := agent.Do(req)
		if err != nil {
			if budget <= 0 || transport.IsContextErr(err) {
				return backoff.Permanent(err)
			}
			budget--
			glog.V(2).Infof("couch: transport error, %d retries left: %v", budget, err)
			return err // retryable: redispatch the exact same logical request
		}
		resp = r
		return nil
	}

	if err := backoff.Retry(op, policy); err != nil {
		var final error
		if configErr != nil {
			final = configErr
		} else {
			final = classifyTransportError(err)
		}
		c.emitFailure(FailureInfo{URL: target, RequestOptions: ro, Err: final, NumRetriesLeft: budget})
		h.finish(HandleEvent{Kind: EventError, Err: final})
		return
	}

	c.handleResponse(target, ro, resp, h)
}

// classifyTransportError wraps a raw transport failure in a
// *TransportError, returning an existing *TransportError unchanged. It
// does not tell refused, timeout, reset and DNS failures apart, and it
// never produces an *InternalServerError.
func classifyTransportError(err error) error {
	if err == nil {
		return nil
	}
	if te, ok := err.(*TransportError); ok {
		return te
	}
	return &TransportError{Err: err}
}

// handleResponse implements §4.F step 10: classify status, extract cache
// headers, and either buffer+decode the body or hand it to the streaming
// row parser.
func (c *Client) handleResponse(target string, ro *RequestOptions, resp *http.Response, h *Handle) {
	notModified := resp.StatusCode == http.StatusNotModified
	cacheInfo := extractCacheInfo(resp.Header, notModified)

	if resp.StatusCode >= 400 {
		herr := httpErrorFromResponse(resp)
		c.emitFailure(FailureInfo{URL: target, RequestOptions: ro, Err: herr, NumRetriesLeft: 0})
		h.finish(HandleEvent{Kind: EventError, Err: herr})
		return
	}

	if notModified || resp.Request == nil || resp.Request.Method == http.MethodHead {
		discard(resp.Body)
		envelope := &Response{Response: resp, CacheInfo: cacheInfo}
		h.emit(HandleEvent{Kind: EventResponse, Response: envelope})
		c.emitSuccess(SuccessInfo{URL: target, RequestOptions: ro, Response: envelope})
		h.finish(HandleEvent{Kind: EventEnd})
		return
	}

	if ro.Stream {
		c.streamBody(target, ro, resp, cacheInfo, h)
		return
	}

	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		bgErr := &BadGateway{Err: err}
		c.emitFailure(FailureInfo{URL: target, RequestOptions: ro, Err: bgErr, NumRetriesLeft: 0})
		h.finish(HandleEvent{Kind: EventError, Err: bgErr})
		return
	}

	envelope := &Response{Response: resp, CacheInfo: cacheInfo, Raw: body}
	if isJSONContentType(resp.Header.Get("Content-Type")) && len(body) > 0 {
		var decoded any
		if err := json.Unmarshal(body, &decoded); err != nil {
			bgErr := &BadGateway{Err: err}
			c.emitFailure(FailureInfo{URL: target, RequestOptions: ro, Response: envelope, Err: bgErr, NumRetriesLeft: 0})
			h.finish(HandleEvent{Kind: EventError, Err: bgErr})
			return
		}
		envelope.Body = decoded
	}
	h.emit(HandleEvent{Kind: EventResponse, Response: envelope})
	c.emitSuccess(SuccessInfo{URL: target, RequestOptions: ro, Response: envelope})
	h.finish(HandleEvent{Kind: EventEnd})
}

// streamBody hands resp's body to the row parser (§4.G), translating its
// callbacks into Handle events, and delivers the terminal event.
func (c *Client) streamBody(target string, ro *RequestOptions, resp *http.Response, cacheInfo CacheInfo, h *Handle) {
	envelope := &Response{Response: resp, CacheInfo: cacheInfo}
	h.emit(HandleEvent{Kind: EventResponse, Response: envelope})

	parser := newRowParser(resp.Body)
	parseErr := parser.run(
		func(meta ViewMetadata) { h.emit(HandleEvent{Kind: EventMetadata, Metadata: meta}) },
		func(row RowEvent) { h.emit(HandleEvent{Kind: EventRow, Row: row}) },
	)
	_ = resp.Body.Close()

	if parseErr != nil {
		c.emitFailure(FailureInfo{URL: target, RequestOptions: ro, Response: envelope, Err: parseErr, NumRetriesLeft: 0})
		h.finish(HandleEvent{Kind: EventError, Err: parseErr})
		return
	}
	c.emitSuccess(SuccessInfo{URL: target, RequestOptions: ro, Response: envelope})
	h.finish(HandleEvent{Kind: EventEnd})
}

func (c *Client) failTerminal(h *Handle, target string, ro *RequestOptions, resp *Response, err error, retriesLeft int) {
	c.emitFailure(FailureInfo{URL: target, RequestOptions: ro, Response: resp, Err: err, NumRetriesLeft: retriesLeft})
	h.finish(HandleEvent{Kind: EventError, Err: err})
}

func discard(body io.ReadCloser) {
	if body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 4096))
	_ = body.Close()
}
