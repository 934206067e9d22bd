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

	"github.com/pkg/errors"
)

// recoveryState is the FSM described in §9 "Event sequencing around
// design-document recovery": the streaming handle returned to the caller
// is created up front, and an adapter decides — based on the first
// non-request event it observes on the real query — whether to splice in
// an install-and-retry, or simply pass every event through unchanged.
type recoveryState int

const (
	waitingFirst recoveryState = iota
	passThrough
	recovered
)

// QueryDesignDocumentStream is the streaming counterpart to
// QueryDesignDocument: the handle returned to the caller is stable and
// created before any dispatch, per §4.H's streaming-interaction
// paragraph. If the underlying view GET's first event is a NotFound
// error, the adapter consumes it, installs the design document, and
// transparently re-issues the query — the caller only ever sees the
// final, successful (or finally-failed) event sequence. At most one
// reinstall happens per call, matching QueryDesignDocument.
func (c *Client) QueryDesignDocumentStream(ctx context.Context, vq ViewQuery, ro *RequestOptions) *Handle {
	if ro == nil {
		ro = &RequestOptions{}
	}
	ctx, cancel := context.WithCancel(ctx)
	out := newHandle(cancel)

	if err := c.validateView(vq); err != nil {
		go out.finish(HandleEvent{Kind: EventError, Err: err})
		return out
	}

	call := *ro
	call.Path = c.viewPath(vq)
	if !c.trustViewETags {
		stripETagHeader(call.Headers)
	}

	go c.runDesignStream(ctx, vq, &call, out)
	return out
}

func (c *Client) runDesignStream(ctx context.Context, vq ViewQuery, call *RequestOptions, out *Handle) {
	state := waitingFirst
	inner := c.Stream(ctx, call)

	for ev := range inner.Events() {
		switch state {
		case waitingFirst:
			if ev.Kind == EventRequest {
				// Always passes straight through: it carries no status
				// to make a recovery decision on.
				out.emit(ev)
				continue
			}
			var httpErr *HTTPError
			if ev.Kind == EventError && errors.As(ev.Err, &httpErr) && httpErr.NotFound() {
				state = recovered
				c.recoverDesignStream(ctx, call, out)
				return
			}
			state = passThrough
			out.emit(ev)
		case passThrough:
			out.emit(ev)
		}
	}
	if state != recovered {
		close(out.events)
	}
}

// recoverDesignStream installs the design document and re-issues the
// original view query exactly once; whatever that retry produces
// (success or a fresh error) is surfaced to the caller as-is — "no
// second install" (§4.H step 3).
func (c *Client) recoverDesignStream(ctx context.Context, call *RequestOptions, out *Handle) {
	if err := c.installDesignDocument(ctx); err != nil {
		out.finish(HandleEvent{Kind: EventError, Err: err})
		return
	}
	retry := c.Stream(ctx, call)
	for ev := range retry.Events() {
		out.emit(ev)
	}
	close(out.events)
}
