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
	"fmt"
	"net/http"

	"github.com/golang/glog"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/kivahq/couchclient/transport"
)

// gcConcurrency bounds how many stale design-document DELETEs run at
// once during garbage collection (§4.H Install step 3), so a database
// carrying many obsolete fingerprints doesn't serialise N round trips.
const gcConcurrency = 4

// ViewQuery selects the view (or list+view) a QueryDesignDocument call
// targets, per §4.H.
type ViewQuery struct {
	View string
	// List, if non-empty, requests "_design/<fp>/_list/<list>/<view>"
	// instead of "_design/<fp>/_view/<view>". A List combined with a
	// streaming query (QueryDesignDocumentStream) is not rejected; the
	// list function's output is handed to the streaming row parser as is.
	List string
}

func (c *Client) viewPath(vq ViewQuery) string {
	if vq.List != "" {
		return fmt.Sprintf("_design/%s/_list/%s/%s", c.fingerprint, vq.List, vq.View)
	}
	return fmt.Sprintf("_design/%s/_view/%s", c.fingerprint, vq.View)
}

// QueryDesignDocument implements §4.H's query sequence in non-streaming
// mode: validate the view exists, issue the GET, and on a 404 install the
// design document and retry exactly once.
func (c *Client) QueryDesignDocument(ctx context.Context, vq ViewQuery, ro *RequestOptions) (*Response, error) {
	if err := c.validateView(vq); err != nil {
		return nil, err
	}
	if ro == nil {
		ro = &RequestOptions{}
	}
	call := *ro
	call.Path = c.viewPath(vq)
	if !c.trustViewETags {
		stripETagHeader(call.Headers)
	}

	resp, err := c.Do(ctx, &call)
	if err == nil {
		if !c.trustViewETags && resp != nil {
			resp.CacheInfo.Headers.ETag = ""
		}
		return resp, nil
	}

	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || !httpErr.NotFound() {
		return nil, err
	}

	if installErr := c.installDesignDocument(ctx); installErr != nil {
		return nil, installErr
	}

	resp, err = c.Do(ctx, &call)
	if err != nil {
		return nil, err
	}
	if !c.trustViewETags && resp != nil {
		resp.CacheInfo.Headers.ETag = ""
	}
	return resp, nil
}

func (c *Client) validateView(vq ViewQuery) error {
	if c.designDocument == nil {
		return errors.New("couch: client has no design document configured")
	}
	if _, ok := c.designDocument.Views[vq.View]; !ok {
		return fmt.Errorf("couch: view %q is not defined in the design document", vq.View)
	}
	return nil
}

func stripETagHeader(h http.Header) {
	if h == nil {
		return
	}
	h.Del("If-None-Match")
}

// installDesignDocument implements §4.H's Install sequence: PUT the
// document (treating 409 Conflict as success — a concurrent installer
// won), then kick off best-effort asynchronous garbage collection of
// stale fingerprints. It returns as soon as the PUT settles, mirroring
// "immediately invoke the caller's continuation with success" — GC runs
// in the background and never blocks the caller's retry.
func (c *Client) installDesignDocument(ctx context.Context) error {
	putErr := c.putDesignDocument(ctx)
	if putErr != nil {
		var httpErr *HTTPError
		if !errors.As(putErr, &httpErr) || !httpErr.Conflict() {
			return putErr
		}
	}
	go c.gcStaleDesignDocuments(context.Background())
	return nil
}

func (c *Client) putDesignDocument(ctx context.Context) error {
	_, err := c.Do(ctx, &RequestOptions{
		Method: http.MethodPut,
		Path:   "_design/" + c.fingerprint,
		Body:   c.designDocument,
	})
	return err
}

// gcStaleDesignDocuments lists every "_design/*" document and deletes any
// whose id isn't this client's current fingerprint, bounded by
// gcConcurrency concurrent DELETEs. Errors are swallowed (logged), per
// §4.H step 3.
func (c *Client) gcStaleDesignDocuments(ctx context.Context) {
	resp, err := c.Do(ctx, &RequestOptions{
		Path:  "_all_docs",
		Query: `?startkey="_design/"&endkey="_design/~"`,
	})
	if err != nil {
		glog.Warningf("couch: list design documents for gc: %v", err)
		return
	}
	rows, ok := extractAllDocsRows(resp)
	if !ok {
		return
	}

	current := "_design/" + c.fingerprint
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(gcConcurrency)
	for _, row := range rows {
		row := row
		if row.id == current {
			continue
		}
		g.Go(func() error {
			path := transport.EncodePathSegment(row.id) + "?rev=" + row.rev
			if _, err := c.Do(gctx, &RequestOptions{Method: http.MethodDelete, Path: path}); err != nil {
				glog.Warningf("couch: gc delete %s: %v", row.id, err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

type designRow struct {
	id  string
	rev string
}

func extractAllDocsRows(resp *Response) ([]designRow, bool) {
	if resp == nil {
		return nil, false
	}
	top, ok := resp.Body.(map[string]any)
	if !ok {
		return nil, false
	}
	rawRows, ok := top["rows"].([]any)
	if !ok {
		return nil, false
	}
	rows := make([]designRow, 0, len(rawRows))
	for _, r := range rawRows {
		m, ok := r.(map[string]any)
		if !ok {
			continue
		}
		id, _ := m["id"].(string)
		var rev string
		if value, ok := m["value"].(map[string]any); ok {
			rev, _ = value["rev"].(string)
		}
		if id == "" || rev == "" {
			continue
		}
		rows = append(rows, designRow{id: id, rev: rev})
	}
	return rows, true
}
